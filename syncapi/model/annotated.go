// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package model

import (
	"github.com/element-hq/roomsync/syncapi/synctypes"
	"github.com/matrix-org/gomatrixserverlib/spec"
)

// SendState tags locally originated timeline entries.
type SendState string

const (
	SendStateNone    SendState = ""
	SendStatePending SendState = "pending"
	SendStateUnsent  SendState = "unsent"
)

// Keys of a membership event which may have changed.
const (
	ChangedMembership  = "membership"
	ChangedDisplayName = "displayname"
)

// AnnotatedEvent is a timeline entry: the event plus what is needed to
// render it without looking anything else up.
type AnnotatedEvent struct {
	Event *synctypes.Event
	// Sender is the sending member as of when the event was added.
	Sender *RoomMember
	// Target is the member an invite, kick or ban was aimed at.
	Target     *RoomMember
	SendState  SendState
	TxnID      string
	ChangedKey string
}

// IsLocalEcho returns true if the entry was created locally and has not
// been confirmed by the server.
func (a *AnnotatedEvent) IsLocalEcho() bool {
	return a.SendState != SendStateNone
}

func annotate(ev *synctypes.Event, state *RoomState) *AnnotatedEvent {
	ae := &AnnotatedEvent{Event: ev}
	annotateMembers(ae, state)
	return ae
}

func annotateMembers(ae *AnnotatedEvent, state *RoomState) {
	ev := ae.Event
	if member, ok := state.Members[ev.Sender]; ok {
		ae.Sender = member.Snapshot()
	}
	if ev.Type == spec.MRoomMember && ev.StateKey != nil && *ev.StateKey != ev.Sender {
		if member, ok := state.Members[*ev.StateKey]; ok {
			ae.Target = member.Snapshot()
		}
	}
}
