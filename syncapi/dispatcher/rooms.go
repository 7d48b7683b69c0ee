// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/Arceliar/phony"
	"github.com/matrix-org/util"
	"github.com/sirupsen/logrus"

	internalutil "github.com/element-hq/roomsync/internal/util"
	"github.com/element-hq/roomsync/syncapi/api"
	"github.com/element-hq/roomsync/syncapi/synctypes"
)

// ErrUnknownRoom is returned for operations on a room which isn't in the
// Store.
var ErrUnknownRoom = errors.New("unknown room")

// resolveRoomIdentifier turns a room ID or alias into a room ID.
func (d *Dispatcher) resolveRoomIdentifier(ctx context.Context, roomIDOrAlias string) (string, error) {
	switch {
	case internalutil.IsRoomAlias(roomIDOrAlias):
		roomID, err := d.transport.ResolveAlias(ctx, roomIDOrAlias)
		if err != nil {
			return "", fmt.Errorf("d.transport.ResolveAlias: %w", err)
		}
		return roomID, nil
	case internalutil.IsRoomID(roomIDOrAlias):
		return roomIDOrAlias, nil
	default:
		return "", fmt.Errorf("%w: %q", api.ErrBadRoomIdentifier, roomIDOrAlias)
	}
}

// JoinRoom joins a room by ID or alias once the initial sync is done, and
// loads it into the Store. Joining a room the user is already in returns
// straight away.
func (d *Dispatcher) JoinRoom(ctx context.Context, roomIDOrAlias string) (string, error) {
	logger := util.GetLogger(ctx).WithField("room", roomIDOrAlias)
	roomID, err := d.resolveRoomIdentifier(ctx, roomIDOrAlias)
	if err != nil {
		return "", err
	}
	if err = d.ready.AwaitWithTimeout(ctx, d.joinWait); err != nil {
		return "", fmt.Errorf("waiting for initial sync: %w", err)
	}
	var joined bool
	phony.Block(d, func() {
		joined = d.store.IsJoined(roomID)
	})
	if joined {
		logger.Debug("Already joined to room")
		return roomID, nil
	}
	if _, err = d.transport.JoinRoom(ctx, roomID); err != nil {
		return "", fmt.Errorf("d.transport.JoinRoom: %w", err)
	}
	snapshot, err := d.transport.RoomInitialSync(ctx, roomID, d.cfg.InitialSyncLimit)
	if err != nil {
		return "", fmt.Errorf("d.transport.RoomInitialSync: %w", err)
	}
	if snapshot.RoomID == "" {
		snapshot.RoomID = roomID
	}
	phony.Block(d, func() {
		d.loadRoom(snapshot)
	})
	logger.WithField("room_id", roomID).Info("Joined room")
	return roomID, nil
}

// LeaveRoom leaves a room. The Store is updated when the membership event
// comes down the sync stream.
func (d *Dispatcher) LeaveRoom(ctx context.Context, roomID string) error {
	if err := d.transport.LeaveRoom(ctx, roomID); err != nil {
		return fmt.Errorf("d.transport.LeaveRoom: %w", err)
	}
	return nil
}

// PaginateBack loads up to limit older messages into a room's timeline and
// returns how many were received. Concurrent calls for the same room share
// a single request. Once the server has nothing older the room is marked
// fully paginated and further calls return 0.
func (d *Dispatcher) PaginateBack(ctx context.Context, roomID string, limit int) (int, error) {
	if limit <= 0 {
		limit = d.cfg.PaginationLimit
	}
	v, err, _ := d.paginations.Do(roomID, func() (interface{}, error) {
		var from string
		var known, done bool
		phony.Block(d, func() {
			room, ok := d.store.Room(roomID)
			if ok {
				known, from, done = true, room.BackwardToken, room.FullyPaginated
			}
		})
		if !known {
			return 0, fmt.Errorf("%w: %s", ErrUnknownRoom, roomID)
		}
		if done {
			return 0, nil
		}
		page, err := d.transport.Paginate(ctx, roomID, from, limit, synctypes.Backward)
		if err != nil {
			return 0, fmt.Errorf("d.transport.Paginate: %w", err)
		}
		phony.Block(d, func() {
			d.handleRoomMessages(roomID, page, false, synctypes.Backward)
			if room, ok := d.store.Room(roomID); ok && (len(page.Chunk) == 0 || page.End == from) {
				room.FullyPaginated = true
			}
		})
		return len(page.Chunk), nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// ReapRoom throws away everything known about a room and loads it again
// with at most limit messages.
func (d *Dispatcher) ReapRoom(ctx context.Context, roomID string, limit int) error {
	snapshot, err := d.transport.RoomInitialSync(ctx, roomID, limit)
	if err != nil {
		return fmt.Errorf("d.transport.RoomInitialSync: %w", err)
	}
	if snapshot.RoomID == "" {
		snapshot.RoomID = roomID
	}
	phony.Block(d, func() {
		d.store.RemoveRoom(roomID)
		d.dedup.WipeRoom(roomID)
		d.loadRoom(snapshot)
	})
	logrus.WithField("room_id", roomID).Debug("Reloaded room")
	return nil
}
