// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package model

import (
	"sort"

	"github.com/element-hq/roomsync/syncapi/synctypes"
	"github.com/matrix-org/gomatrixserverlib/spec"
	"github.com/sirupsen/logrus"
)

type stateKeyTuple struct {
	EventType string
	StateKey  string
}

// RoomState is a snapshot of the state of a room, keyed by (type, state key),
// together with the members derived from the m.room.member events in it.
type RoomState struct {
	RoomID string
	// Members is keyed by user ID and kept in sync with the stored
	// m.room.member events.
	Members map[string]*RoomMember

	events      map[stateKeyTuple]*synctypes.Event
	powerLevels synctypes.PowerLevels
	// userLookup resolves the global User record for a member, if any.
	userLookup func(userID string) *User
}

func NewRoomState(roomID string, userLookup func(userID string) *User) *RoomState {
	return &RoomState{
		RoomID:      roomID,
		Members:     make(map[string]*RoomMember),
		events:      make(map[stateKeyTuple]*synctypes.Event),
		powerLevels: synctypes.PowerLevels{Users: map[string]int64{}},
		userLookup:  userLookup,
	}
}

// StoreStateEvent stores the event, replacing whatever was stored for the
// same (type, state key). Membership events update the derived member;
// power levels events recompute the level of every member.
func (s *RoomState) StoreStateEvent(ev *synctypes.Event) {
	s.events[stateKeyTuple{ev.Type, ev.StateKeyValue()}] = ev

	switch ev.Type {
	case spec.MRoomMember:
		s.storeMember(ev)
	case spec.MRoomPowerLevels:
		s.powerLevels = synctypes.ParsePowerLevels(ev.Content)
		for _, member := range s.Members {
			s.applyPowerLevel(member)
		}
	}
}

// StoreStateEvents stores each event in order.
func (s *RoomState) StoreStateEvents(events []*synctypes.Event) {
	for _, ev := range events {
		s.StoreStateEvent(ev)
	}
}

// StoreStateEventIfNewer stores the event only if nothing is stored for its
// (type, state key) or the stored event is strictly older. It is used for
// events which arrive out of order, such as from backward pagination.
func (s *RoomState) StoreStateEventIfNewer(ev *synctypes.Event) bool {
	existing := s.events[stateKeyTuple{ev.Type, ev.StateKeyValue()}]
	if existing != nil && ev.OriginServerTS <= existing.OriginServerTS {
		logrus.WithFields(logrus.Fields{
			"room_id":    s.RoomID,
			"event_type": ev.Type,
			"event_id":   ev.EventID,
		}).Debug("Not replacing newer state event")
		return false
	}
	s.StoreStateEvent(ev)
	return true
}

// GetStateEvent returns the event stored for (eventType, stateKey), or nil.
func (s *RoomState) GetStateEvent(eventType, stateKey string) *synctypes.Event {
	return s.events[stateKeyTuple{eventType, stateKey}]
}

// State returns the event stored for eventType. An absent state key is
// treated as the empty state key.
func (s *RoomState) State(eventType string, stateKey ...string) *synctypes.Event {
	key := ""
	if len(stateKey) > 0 {
		key = stateKey[0]
	}
	return s.GetStateEvent(eventType, key)
}

// Events returns every stored state event, ordered by type then state key.
func (s *RoomState) Events() []*synctypes.Event {
	keys := make([]stateKeyTuple, 0, len(s.events))
	for k := range s.events {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].EventType != keys[j].EventType {
			return keys[i].EventType < keys[j].EventType
		}
		return keys[i].StateKey < keys[j].StateKey
	})
	events := make([]*synctypes.Event, 0, len(keys))
	for _, k := range keys {
		events = append(events, s.events[k])
	}
	return events
}

// PowerLevels returns the parsed power levels of the room.
func (s *RoomState) PowerLevels() synctypes.PowerLevels {
	return s.powerLevels
}

// MaxPowerLevel returns the highest power level granted to any user.
func (s *RoomState) MaxPowerLevel() int64 {
	return s.powerLevels.Max
}

// JoinedMemberCount returns the number of members whose membership is join.
func (s *RoomState) JoinedMemberCount() int {
	count := 0
	for _, member := range s.Members {
		if member.Membership() == spec.Join {
			count++
		}
	}
	return count
}

func (s *RoomState) storeMember(ev *synctypes.Event) {
	userID := ev.StateKeyValue()
	member, ok := s.Members[userID]
	if !ok {
		member = &RoomMember{UserID: userID}
		s.Members[userID] = member
	}
	member.Event = ev
	member.Content = synctypes.MemberContent{}
	if err := synctypes.DecodeContent(ev.Content, &member.Content); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"room_id":  s.RoomID,
			"event_id": ev.EventID,
		}).Warn("Failed to decode membership content")
	}
	member.Name = userID
	if member.Content.DisplayName != nil && *member.Content.DisplayName != "" {
		member.Name = *member.Content.DisplayName
	}
	if s.userLookup != nil {
		if user := s.userLookup(userID); user != nil {
			member.User = user
		}
	}
	s.applyPowerLevel(member)
}

func (s *RoomState) applyPowerLevel(member *RoomMember) {
	member.PowerLevel = s.powerLevels.UserLevel(member.UserID)
	member.PowerLevelNorm = s.powerLevels.Norm(member.PowerLevel)
}
