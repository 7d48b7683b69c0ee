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
	"github.com/google/uuid"
	"github.com/matrix-org/gomatrixserverlib/spec"
	"github.com/matrix-org/util"

	"github.com/element-hq/roomsync/syncapi/model"
	"github.com/element-hq/roomsync/syncapi/notifier"
	"github.com/element-hq/roomsync/syncapi/synctypes"
)

// ErrNoSuchEcho is returned when retrying a transaction which has no unsent
// local echo.
var ErrNoSuchEcho = errors.New("no unsent local echo for transaction")

// SendMessage shows a message in the room straight away and sends it. The
// returned transaction ID identifies the local echo. If sending fails the
// echo is marked unsent and stays until RetrySend succeeds.
func (d *Dispatcher) SendMessage(ctx context.Context, roomID string, content spec.RawJSON) (string, error) {
	txnID := uuid.NewString()
	echo := &synctypes.Event{
		Type:           synctypes.MRoomMessage,
		Sender:         d.store.LocalUserID,
		RoomID:         roomID,
		OriginServerTS: spec.AsTimestamp(d.now()),
		Content:        content,
	}
	phony.Block(d, func() {
		d.store.GetRoom(roomID).AddLocalEcho(echo, txnID)
		d.broadcast(notifier.Notification{Kind: notifier.Message, Event: echo.Clone(), IsLive: true})
	})
	return txnID, d.send(ctx, roomID, txnID, content)
}

// RetrySend sends an unsent local echo again with its original transaction
// ID.
func (d *Dispatcher) RetrySend(ctx context.Context, roomID, txnID string) error {
	var content spec.RawJSON
	phony.Block(d, func() {
		room, ok := d.store.Room(roomID)
		if !ok {
			return
		}
		if ae := room.LocalEcho(txnID); ae != nil && room.MarkPending(txnID) {
			content = ae.Event.Content
		}
	})
	if content == nil {
		return fmt.Errorf("%w: %s", ErrNoSuchEcho, txnID)
	}
	return d.send(ctx, roomID, txnID, content)
}

func (d *Dispatcher) send(ctx context.Context, roomID, txnID string, content spec.RawJSON) error {
	eventID, err := d.transport.SendEvent(ctx, roomID, synctypes.MRoomMessage, txnID, content)
	phony.Block(d, func() {
		room, ok := d.store.Room(roomID)
		if !ok {
			return
		}
		if err != nil {
			room.MarkUnsent(txnID)
			return
		}
		room.MarkSent(txnID, eventID)
	})
	if err != nil {
		util.GetLogger(ctx).WithError(err).WithField("txn_id", txnID).Warn("Failed to send message")
		return fmt.Errorf("d.transport.SendEvent: %w", err)
	}
	return nil
}

// LocalEcho returns a copy of the send state of a local echo.
func (d *Dispatcher) LocalEcho(roomID, txnID string) (state model.SendState, eventID string, ok bool) {
	phony.Block(d, func() {
		room, found := d.store.Room(roomID)
		if !found {
			return
		}
		if ae := room.LocalEcho(txnID); ae != nil {
			state, eventID, ok = ae.SendState, ae.Event.EventID, true
		}
	})
	return
}
