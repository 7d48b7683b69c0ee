// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package synctypes

// Direction of a pagination request.
type Direction string

const (
	Backward Direction = "b"
	Forward  Direction = "f"
)

// MessagesPage is a page of timeline events together with the tokens
// bounding it.
type MessagesPage struct {
	Chunk []*Event `json:"chunk"`
	Start string   `json:"start"`
	End   string   `json:"end"`
}

// InitialSyncRoom is the snapshot of a single room returned by an initial
// sync or a room initial sync.
type InitialSyncRoom struct {
	RoomID     string `json:"room_id"`
	Membership string `json:"membership,omitempty"`
	// Inviter is set for invites whose membership event may be missing
	// from State.
	Inviter  string        `json:"inviter,omitempty"`
	State    []*Event      `json:"state"`
	Messages *MessagesPage `json:"messages,omitempty"`
	Presence []*Event      `json:"presence,omitempty"`
}

// InitialSyncResponse is the result of a full initial sync.
type InitialSyncResponse struct {
	End      string            `json:"end"`
	Rooms    []InitialSyncRoom `json:"rooms"`
	Presence []*Event          `json:"presence"`
}

// SyncRoom holds the new events for one room in an incremental sync.
type SyncRoom struct {
	RoomID    string   `json:"room_id"`
	Events    []*Event `json:"events"`
	Ephemeral []*Event `json:"ephemeral,omitempty"`
}

// SyncResponse is the result of one incremental long-poll.
type SyncResponse struct {
	NextBatch       string     `json:"next_batch"`
	Rooms           []SyncRoom `json:"rooms"`
	PrivateUserData []*Event   `json:"private_user_data,omitempty"`
	PublicUserData  []*Event   `json:"public_user_data,omitempty"`
}

// Events flattens the response into the order it is dispatched in: each
// room's timeline then its ephemeral events, followed by private and then
// public user data. Room events without a room ID inherit the room's.
func (r *SyncResponse) Events() []*Event {
	var events []*Event
	for _, room := range r.Rooms {
		for _, list := range [][]*Event{room.Events, room.Ephemeral} {
			for _, ev := range list {
				if ev.RoomID == "" {
					ev.RoomID = room.RoomID
				}
				events = append(events, ev)
			}
		}
	}
	events = append(events, r.PrivateUserData...)
	events = append(events, r.PublicUserData...)
	return events
}
