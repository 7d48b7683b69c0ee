// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package model

import (
	"bytes"

	"github.com/element-hq/roomsync/syncapi/synctypes"
	"github.com/matrix-org/gomatrixserverlib"
	"github.com/matrix-org/gomatrixserverlib/spec"
	"github.com/tidwall/gjson"
)

// Room holds the two state snapshots of a room and its loaded timeline.
type Room struct {
	ID   string
	Name string
	// CurrentState is the latest known state.
	CurrentState *RoomState
	// OldState is the state as of the oldest loaded timeline event, used to
	// caption historical events. It is only ever less live than CurrentState.
	OldState *RoomState
	Timeline []*AnnotatedEvent

	// BackwardToken is where to paginate back from, ForwardToken where the
	// room was last synced to.
	BackwardToken  string
	ForwardToken   string
	FullyPaginated bool
}

func newRoom(roomID string, userLookup func(string) *User) *Room {
	return &Room{
		ID:           roomID,
		CurrentState: NewRoomState(roomID, userLookup),
		OldState:     NewRoomState(roomID, userLookup),
	}
}

func (r *Room) stateFor(toFront bool) *RoomState {
	if toFront {
		return r.OldState
	}
	return r.CurrentState
}

// AddMessageEvent adds the event to the timeline, at the front when it is
// historical and at the end otherwise. The sender is resolved against the
// matching state snapshot.
func (r *Room) AddMessageEvent(ev *synctypes.Event, toFront bool) *AnnotatedEvent {
	ae := annotate(ev, r.stateFor(toFront))
	if toFront {
		r.Timeline = append([]*AnnotatedEvent{ae}, r.Timeline...)
	} else {
		r.Timeline = append(r.Timeline, ae)
	}
	return ae
}

// AddOrReplaceMessageEvent reconciles a server event with a local echo. The
// echo is found by event ID, by the transaction ID the server echoes back
// in unsigned, or, for live events only, as the oldest pending echo of the
// same type and content. When found it is replaced in its slot; otherwise
// the event is added.
func (r *Room) AddOrReplaceMessageEvent(ev *synctypes.Event, toFront bool) *AnnotatedEvent {
	if i := r.findEcho(ev, toFront); i >= 0 {
		ae := r.Timeline[i]
		ae.Event = ev
		ae.SendState = SendStateNone
		annotateMembers(ae, r.stateFor(toFront))
		return ae
	}
	return r.AddMessageEvent(ev, toFront)
}

func (r *Room) findEcho(ev *synctypes.Event, historical bool) int {
	if ev.EventID != "" {
		for i := len(r.Timeline) - 1; i >= 0; i-- {
			if r.Timeline[i].Event.EventID == ev.EventID {
				return i
			}
		}
	}
	if txnID := gjson.GetBytes(ev.Unsigned, "transaction_id").Str; txnID != "" {
		if i := r.indexOfTxn(txnID); i >= 0 {
			return i
		}
	}
	// A historical event can't be the server copy of something still being
	// sent.
	if historical {
		return -1
	}
	for i, ae := range r.Timeline {
		if ae.SendState == SendStatePending && ae.Event.EventID == "" &&
			ae.Event.Type == ev.Type && sameContent(ae.Event.Content, ev.Content) {
			return i
		}
	}
	return -1
}

func sameContent(a, b spec.RawJSON) bool {
	if bytes.Equal(a, b) {
		return true
	}
	ca, err := gomatrixserverlib.CanonicalJSON(a)
	if err != nil {
		return false
	}
	cb, err := gomatrixserverlib.CanonicalJSON(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ca, cb)
}

func (r *Room) indexOfTxn(txnID string) int {
	for i := len(r.Timeline) - 1; i >= 0; i-- {
		if r.Timeline[i].TxnID == txnID {
			return i
		}
	}
	return -1
}

// AddLocalEcho appends a pending entry for an event the local user is
// about to send.
func (r *Room) AddLocalEcho(ev *synctypes.Event, txnID string) *AnnotatedEvent {
	ae := r.AddMessageEvent(ev, false)
	ae.SendState = SendStatePending
	ae.TxnID = txnID
	return ae
}

// LocalEcho returns the timeline entry created for txnID.
func (r *Room) LocalEcho(txnID string) *AnnotatedEvent {
	if i := r.indexOfTxn(txnID); i >= 0 {
		return r.Timeline[i]
	}
	return nil
}

// MarkSent records the event ID the server assigned to a local echo and
// clears its pending tag.
func (r *Room) MarkSent(txnID, eventID string) bool {
	ae := r.LocalEcho(txnID)
	if ae == nil {
		return false
	}
	ae.Event.EventID = eventID
	ae.SendState = SendStateNone
	return true
}

// MarkUnsent tags a local echo which failed to send. It stays in the
// timeline until the user retries it.
func (r *Room) MarkUnsent(txnID string) bool {
	ae := r.LocalEcho(txnID)
	if ae == nil || ae.SendState != SendStatePending {
		return false
	}
	ae.SendState = SendStateUnsent
	return true
}

// MarkPending puts an unsent echo back into the pending state for a retry.
func (r *Room) MarkPending(txnID string) bool {
	ae := r.LocalEcho(txnID)
	if ae == nil || ae.SendState != SendStateUnsent {
		return false
	}
	ae.SendState = SendStatePending
	return true
}

// RemoveEventByID removes the timeline entry with the given event ID.
func (r *Room) RemoveEventByID(eventID string) bool {
	if eventID == "" {
		return false
	}
	for i, ae := range r.Timeline {
		if ae.Event.EventID == eventID {
			r.Timeline = append(r.Timeline[:i], r.Timeline[i+1:]...)
			return true
		}
	}
	return false
}

// Member returns the member from the current state.
func (r *Room) Member(userID string) *RoomMember {
	return r.CurrentState.Members[userID]
}
