// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package api

import (
	"context"
	"time"

	"github.com/element-hq/roomsync/syncapi/synctypes"
	"github.com/matrix-org/gomatrixserverlib/spec"
)

// Transport is the client-server API as seen by the sync core. Requests
// must honour context cancellation: pausing or stopping the sync loop
// cancels the context of the in-flight long-poll.
type Transport interface {
	// InitialSync fetches every room the user is in, with up to limit
	// messages per room.
	InitialSync(ctx context.Context, limit int) (*synctypes.InitialSyncResponse, error)
	// Sync long-polls for events after the since token, waiting at most
	// timeout on the server.
	Sync(ctx context.Context, since string, timeout time.Duration) (*synctypes.SyncResponse, error)
	// Paginate fetches a page of room messages starting at from.
	Paginate(ctx context.Context, roomID, from string, limit int, dir synctypes.Direction) (*synctypes.MessagesPage, error)
	// RoomInitialSync fetches the state and latest messages of one room.
	RoomInitialSync(ctx context.Context, roomID string, limit int) (*synctypes.InitialSyncRoom, error)
	// JoinRoom joins a room by ID or alias and returns the room ID.
	JoinRoom(ctx context.Context, roomIDOrAlias string) (string, error)
	// ResolveAlias returns the room ID an alias points to.
	ResolveAlias(ctx context.Context, alias string) (string, error)
	LeaveRoom(ctx context.Context, roomID string) error
	// SendEvent sends a timeline event and returns its event ID.
	SendEvent(ctx context.Context, roomID, eventType, txnID string, content spec.RawJSON) (string, error)
	// SendStateEvent sends a state event and returns its event ID.
	SendStateEvent(ctx context.Context, roomID, eventType, stateKey string, content spec.RawJSON) (string, error)
	SetTyping(ctx context.Context, roomID string, typing bool, timeout time.Duration) error
	// PushRules returns the raw global push ruleset.
	PushRules(ctx context.Context) (spec.RawJSON, error)
}
