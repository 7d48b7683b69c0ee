// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package model

import (
	"fmt"
	"sort"
	"strings"

	"github.com/matrix-org/gomatrixserverlib/spec"
)

// UserDisplayName returns the name to show for a user in a room: their
// member display name, then their presence display name, then their user
// ID. A member name shared with another member is disambiguated with the
// user ID.
func (s *Store) UserDisplayName(roomID, userID string) string {
	if room, ok := s.rooms[roomID]; ok {
		if member, ok := room.CurrentState.Members[userID]; ok && member.Content.DisplayName != nil && *member.Content.DisplayName != "" {
			name := *member.Content.DisplayName
			for otherID, other := range room.CurrentState.Members {
				if otherID != userID && other.Name == name {
					return fmt.Sprintf("%s (%s)", name, userID)
				}
			}
			return name
		}
	}
	if user, ok := s.users[userID]; ok && user.DisplayName() != "" {
		return user.DisplayName()
	}
	return userID
}

// ComputeRoomName works out the display name of a room from, in order:
// the room name, its alias, whoever invited us, the other members, and
// finally ourselves.
func (s *Store) ComputeRoomName(roomID string) string {
	room, ok := s.rooms[roomID]
	if !ok {
		return roomID
	}
	state := room.CurrentState

	if ev := state.State(spec.MRoomName); ev != nil {
		if name := ev.Get("name").Str; name != "" {
			return name
		}
	}
	if alias := s.roomToAlias[roomID]; alias != "" {
		return alias
	}
	if ev := state.State(spec.MRoomCanonicalAlias); ev != nil {
		if alias := ev.Get("alias").Str; alias != "" {
			return alias
		}
	}

	me, joined := state.Members[s.LocalUserID]
	if joined && me.Membership() == spec.Invite && me.Event != nil {
		if inviter := me.Event.Sender; inviter != "" && inviter != s.LocalUserID {
			return s.UserDisplayName(roomID, inviter)
		}
	}

	var others []string
	for userID, member := range state.Members {
		if userID == s.LocalUserID {
			continue
		}
		if m := member.Membership(); m == spec.Join || m == spec.Invite {
			others = append(others, userID)
		}
	}
	sort.Strings(others)

	switch len(others) {
	case 0:
		if joined {
			return s.UserDisplayName(roomID, s.LocalUserID)
		}
		return roomID
	case 1:
		return s.UserDisplayName(roomID, others[0])
	default:
		names := make([]string, 0, len(others))
		for _, userID := range others {
			names = append(names, s.UserDisplayName(roomID, userID))
		}
		return fmt.Sprintf("(%d) %s", len(others), strings.Join(names, ", "))
	}
}

// RecomputeRoomName refreshes the cached display name of a room.
func (s *Store) RecomputeRoomName(roomID string) string {
	room, ok := s.rooms[roomID]
	if !ok {
		return ""
	}
	room.Name = s.ComputeRoomName(roomID)
	return room.Name
}
