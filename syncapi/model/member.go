// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package model

import (
	"github.com/element-hq/roomsync/syncapi/synctypes"
)

// RoomMember is the view of one m.room.member event within a RoomState.
type RoomMember struct {
	UserID  string
	Event   *synctypes.Event
	Content synctypes.MemberContent
	// Name is the display name, or the user ID if none is set.
	Name           string
	PowerLevel     int64
	PowerLevelNorm int64
	Typing         bool
	// User points at the global presence record for this user. It is
	// never owned by the member.
	User *User
}

// Membership returns the membership of the member, e.g. "join".
func (m *RoomMember) Membership() string {
	return m.Content.Membership
}

// Snapshot returns a copy of the member as it is now.
func (m *RoomMember) Snapshot() *RoomMember {
	if m == nil {
		return nil
	}
	snap := *m
	return &snap
}
