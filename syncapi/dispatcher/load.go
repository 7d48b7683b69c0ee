// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package dispatcher

import (
	"github.com/matrix-org/gomatrixserverlib/spec"
	"github.com/sirupsen/logrus"

	"github.com/element-hq/roomsync/syncapi/synctypes"
)

// fakeEventIDPrefix marks membership events synthesized for invites the
// server reported without the invite event itself.
const fakeEventIDPrefix = "__FAKE__"

func (d *Dispatcher) handleRoomMessages(roomID string, page *synctypes.MessagesPage, isLive bool, dir synctypes.Direction) {
	if page == nil {
		return
	}
	for _, ev := range page.Chunk {
		if ev.RoomID == "" {
			ev.RoomID = roomID
		}
	}
	room := d.store.GetRoom(roomID)
	if dir == synctypes.Backward {
		for _, ev := range page.Chunk {
			d.handleEvent(ev, isLive)
		}
		room.BackwardToken = page.End
		return
	}
	for i := len(page.Chunk) - 1; i >= 0; i-- {
		d.handleEvent(page.Chunk[i], isLive)
	}
	room.BackwardToken = page.Start
}

// loadRoom applies a room snapshot: the state goes into both snapshots, the
// messages are applied as history, then the cursors and the name are set.
func (d *Dispatcher) loadRoom(snapshot *synctypes.InitialSyncRoom) {
	room := d.store.GetRoom(snapshot.RoomID)
	for _, ev := range snapshot.State {
		if ev.RoomID == "" {
			ev.RoomID = snapshot.RoomID
		}
	}
	room.CurrentState.StoreStateEvents(snapshot.State)
	room.OldState.StoreStateEvents(snapshot.State)
	for _, ev := range snapshot.State {
		if ev.Type == synctypes.MRoomAliases {
			var content synctypes.AliasesContent
			if err := synctypes.DecodeContent(ev.Content, &content); err == nil && len(content.Aliases) > 0 {
				d.store.SetRoomAlias(snapshot.RoomID, content.Aliases[0])
			}
		}
	}

	if snapshot.Messages != nil {
		d.handleRoomMessages(snapshot.RoomID, snapshot.Messages, false, synctypes.Forward)
		room.ForwardToken = snapshot.Messages.End
		room.BackwardToken = snapshot.Messages.Start
	}
	d.handleEvents(snapshot.Presence, false)
	d.store.RecomputeRoomName(snapshot.RoomID)
}

// inviteEvent returns a membership event for an invite the server reported
// without the invite event itself, or nil if the state already has one.
func (d *Dispatcher) inviteEvent(snapshot *synctypes.InitialSyncRoom) *synctypes.Event {
	if snapshot.Membership != spec.Invite || snapshot.Inviter == "" {
		return nil
	}
	me := d.store.LocalUserID
	for _, ev := range snapshot.State {
		if ev.Type == spec.MRoomMember && ev.StateKeyEquals(me) {
			return nil
		}
	}
	return &synctypes.Event{
		EventID:        fakeEventIDPrefix + snapshot.RoomID,
		Type:           spec.MRoomMember,
		Sender:         snapshot.Inviter,
		RoomID:         snapshot.RoomID,
		StateKey:       &me,
		OriginServerTS: 0,
		Content:        spec.RawJSON(`{"membership":"invite"}`),
	}
}

func (d *Dispatcher) handleInitialSync(resp *synctypes.InitialSyncResponse) {
	for i := range resp.Rooms {
		snapshot := &resp.Rooms[i]
		if invite := d.inviteEvent(snapshot); invite != nil {
			snapshot.State = append(snapshot.State, invite)
		}
		d.loadRoom(snapshot)
	}
	d.handleEvents(resp.Presence, false)
	// Presence can name users the room names were computed without.
	for i := range resp.Rooms {
		d.store.RecomputeRoomName(resp.Rooms[i].RoomID)
	}
	logrus.WithFields(logrus.Fields{
		"rooms":    len(resp.Rooms),
		"presence": len(resp.Presence),
	}).Info("Initial sync applied")
	d.ready.Resolve()
}
