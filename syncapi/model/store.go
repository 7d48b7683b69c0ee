// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package model

import (
	"sort"
	"time"

	"github.com/element-hq/roomsync/internal/util"
	"github.com/element-hq/roomsync/syncapi/synctypes"
	"github.com/matrix-org/gomatrixserverlib/spec"
	"github.com/sirupsen/logrus"
)

// Store is the registry of rooms and users. It is not safe for concurrent
// use: the dispatcher owns it and serialises all access.
type Store struct {
	// LocalUserID is the user this store is synced for.
	LocalUserID string

	rooms       map[string]*Room
	users       map[string]*User
	aliasToRoom map[string]string
	roomToAlias map[string]string
	now         func() time.Time
}

func NewStore(localUserID string) *Store {
	s := &Store{
		LocalUserID: localUserID,
		now:         time.Now,
	}
	s.Clear()
	return s
}

// Clear forgets every room, user and alias.
func (s *Store) Clear() {
	s.rooms = make(map[string]*Room)
	s.users = make(map[string]*User)
	s.aliasToRoom = make(map[string]string)
	s.roomToAlias = make(map[string]string)
}

// GetRoom returns the room, creating an empty one if it isn't known yet.
func (s *Store) GetRoom(roomID string) *Room {
	room, ok := s.rooms[roomID]
	if !ok {
		room = newRoom(roomID, s.lookupUser)
		s.rooms[roomID] = room
	}
	return room
}

// Room returns the room if it is known.
func (s *Store) Room(roomID string) (*Room, bool) {
	room, ok := s.rooms[roomID]
	return room, ok
}

// KnownRoom looks a room up by room ID or by alias. Unlike GetRoom it never
// creates a room.
func (s *Store) KnownRoom(roomIDOrAlias string) *Room {
	if util.IsRoomAlias(roomIDOrAlias) {
		roomID, ok := s.aliasToRoom[util.NormalizeRoomAlias(roomIDOrAlias)]
		if !ok {
			return nil
		}
		roomIDOrAlias = roomID
	}
	return s.rooms[roomIDOrAlias]
}

func (s *Store) RemoveRoom(roomID string) {
	delete(s.rooms, roomID)
}

// Rooms returns every known room ordered by room ID.
func (s *Store) Rooms() []*Room {
	rooms := make([]*Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		rooms = append(rooms, room)
	}
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].ID < rooms[j].ID
	})
	return rooms
}

// Member returns the member of a room from its current state.
func (s *Store) Member(roomID, userID string) *RoomMember {
	room, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	return room.Member(userID)
}

// User returns the presence record of a user.
func (s *Store) User(userID string) *User {
	return s.users[userID]
}

func (s *Store) lookupUser(userID string) *User {
	return s.users[userID]
}

// SetUser merges a presence event into the user's record, creating it if
// needed, and points every member of that user at it.
func (s *Store) SetUser(ev *synctypes.Event) *User {
	userID := synctypes.PresenceUserID(ev)
	if userID == "" {
		return nil
	}
	user, ok := s.users[userID]
	if !ok {
		user = &User{UserID: userID}
		s.users[userID] = user
	}
	if err := user.merge(ev, s.now()); err != nil {
		logrus.WithError(err).WithField("user_id", userID).Warn("Failed to merge presence")
	}
	for _, room := range s.rooms {
		for _, state := range []*RoomState{room.CurrentState, room.OldState} {
			if member, ok := state.Members[userID]; ok {
				member.User = user
			}
		}
	}
	return user
}

// SetRoomAlias records the alias of a room in both directions.
func (s *Store) SetRoomAlias(roomID, alias string) {
	alias = util.NormalizeRoomAlias(alias)
	if old, ok := s.roomToAlias[roomID]; ok && old != alias {
		delete(s.aliasToRoom, old)
	}
	s.roomToAlias[roomID] = alias
	s.aliasToRoom[alias] = roomID
}

func (s *Store) AliasForRoom(roomID string) string {
	return s.roomToAlias[roomID]
}

func (s *Store) RoomForAlias(alias string) string {
	return s.aliasToRoom[util.NormalizeRoomAlias(alias)]
}

// UserCountInRoom returns the number of joined members of a room.
func (s *Store) UserCountInRoom(roomID string) int {
	room, ok := s.rooms[roomID]
	if !ok {
		return 0
	}
	return room.CurrentState.JoinedMemberCount()
}

// UserPowerLevel returns the power level of a user in a room. Users who
// are not members get users_default.
func (s *Store) UserPowerLevel(roomID, userID string) int64 {
	room, ok := s.rooms[roomID]
	if !ok {
		return 0
	}
	if member, ok := room.CurrentState.Members[userID]; ok {
		return member.PowerLevel
	}
	return room.CurrentState.PowerLevels().UserLevel(userID)
}

// IsJoined returns true if the local user is joined to the room.
func (s *Store) IsJoined(roomID string) bool {
	member := s.Member(roomID, s.LocalUserID)
	return member != nil && member.Membership() == spec.Join
}
