// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package test

import (
	"testing"
	"time"

	"github.com/element-hq/roomsync/syncapi/synctypes"
	"github.com/matrix-org/gomatrixserverlib/spec"
)

type EventModifier func(t *testing.T, ev *synctypes.Event)

func WithStateKey(skey string) EventModifier {
	return func(t *testing.T, ev *synctypes.Event) {
		ev.StateKey = &skey
	}
}

func WithTimestamp(ts time.Time) EventModifier {
	return func(t *testing.T, ev *synctypes.Event) {
		ev.OriginServerTS = spec.AsTimestamp(ts)
	}
}

func WithEventID(eventID string) EventModifier {
	return func(t *testing.T, ev *synctypes.Event) {
		ev.EventID = eventID
	}
}

func WithPrevContent(content interface{}) EventModifier {
	return func(t *testing.T, ev *synctypes.Event) {
		ev.PrevContent = MustJSON(t, content)
	}
}

func WithRedacts(eventID string) EventModifier {
	return func(t *testing.T, ev *synctypes.Event) {
		ev.Redacts = eventID
	}
}

func WithUnsigned(unsigned interface{}) EventModifier {
	return func(t *testing.T, ev *synctypes.Event) {
		ev.Unsigned = MustJSON(t, unsigned)
	}
}

// WithoutRoomID strips the room ID, as the server does for events nested
// under a room in a sync response.
func WithoutRoomID() EventModifier {
	return func(t *testing.T, ev *synctypes.Event) {
		ev.RoomID = ""
	}
}
