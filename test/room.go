// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package test

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/element-hq/roomsync/syncapi/synctypes"
	"github.com/matrix-org/gomatrixserverlib/spec"
)

var (
	roomIDCounter  int64
	eventIDCounter int64
)

// Room builds a sequence of events for one room, each with a later
// timestamp than the last.
type Room struct {
	ID      string
	creator *User
	events  []*synctypes.Event
	now     time.Time
}

// NewRoom creates a room whose first events are the m.room.create event
// and the creator's join.
func NewRoom(t *testing.T, creator *User) *Room {
	t.Helper()
	counter := atomic.AddInt64(&roomIDCounter, 1)
	r := &Room{
		ID:      fmt.Sprintf("!%d:%s", counter, TestServerName),
		creator: creator,
		now:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	r.CreateAndInsert(t, creator, spec.MRoomCreate, map[string]interface{}{
		"creator": creator.ID,
	}, WithStateKey(""))
	member := map[string]interface{}{"membership": spec.Join}
	if creator.DisplayName != "" {
		member["displayname"] = creator.DisplayName
	}
	r.CreateAndInsert(t, creator, spec.MRoomMember, member, WithStateKey(creator.ID))
	return r
}

// Events returns every inserted event in order.
func (r *Room) Events() []*synctypes.Event {
	return r.events
}

// CurrentState returns the latest inserted event for each (type, state key).
func (r *Room) CurrentState() []*synctypes.Event {
	type key struct{ t, sk string }
	latest := map[key]int{}
	var order []key
	for i, ev := range r.events {
		if ev.StateKey == nil {
			continue
		}
		k := key{ev.Type, *ev.StateKey}
		if _, ok := latest[k]; !ok {
			order = append(order, k)
		}
		latest[k] = i
	}
	state := make([]*synctypes.Event, 0, len(order))
	for _, k := range order {
		state = append(state, r.events[latest[k]])
	}
	return state
}

// CreateAndInsert creates an event and appends it to the room's events.
func (r *Room) CreateAndInsert(t *testing.T, creator *User, eventType string, content interface{}, mods ...EventModifier) *synctypes.Event {
	t.Helper()
	ev := r.CreateEvent(t, creator, eventType, content, mods...)
	r.events = append(r.events, ev)
	return ev
}

// CreateEvent creates an event without inserting it.
func (r *Room) CreateEvent(t *testing.T, creator *User, eventType string, content interface{}, mods ...EventModifier) *synctypes.Event {
	t.Helper()
	r.now = r.now.Add(time.Second)
	return NewEvent(t, r.ID, creator.ID, eventType, content, append([]EventModifier{WithTimestamp(r.now)}, mods...)...)
}

// NewEvent creates an event with a unique event ID.
func NewEvent(t *testing.T, roomID, sender, eventType string, content interface{}, mods ...EventModifier) *synctypes.Event {
	t.Helper()
	counter := atomic.AddInt64(&eventIDCounter, 1)
	ev := &synctypes.Event{
		EventID:        fmt.Sprintf("$%d:%s", counter, TestServerName),
		Type:           eventType,
		Sender:         sender,
		RoomID:         roomID,
		OriginServerTS: spec.AsTimestamp(time.Now()),
		Content:        MustJSON(t, content),
	}
	for _, mod := range mods {
		mod(t, ev)
	}
	return ev
}

// MustJSON marshals v, failing the test on error. Raw JSON is passed through.
func MustJSON(t *testing.T, v interface{}) spec.RawJSON {
	t.Helper()
	switch raw := v.(type) {
	case nil:
		return spec.RawJSON(`{}`)
	case spec.RawJSON:
		return raw
	case string:
		return spec.RawJSON(raw)
	}
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal %v: %s", v, err)
	}
	return b
}
