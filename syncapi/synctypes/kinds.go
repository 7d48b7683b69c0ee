// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package synctypes

import (
	"strings"

	"github.com/matrix-org/gomatrixserverlib/spec"
)

// Event types which gomatrixserverlib doesn't name, or names only on the server side.
const (
	MRoomAliases    = "m.room.aliases"
	MRoomMessage    = "m.room.message"
	MRoomTopic      = "m.room.topic"
	MRoomRedaction  = "m.room.redaction"
	MPresence       = "m.presence"
	MTyping         = "m.typing"
	MCallInvite     = "m.call.invite"
	mCallTypePrefix = "m.call."
)

// Kind is the classification of an event used to route it to a handler.
type Kind int

const (
	KindUnknown Kind = iota
	KindCall
	KindCreate
	KindAliases
	KindMessage
	KindMember
	KindPresence
	KindJoinRules
	KindPowerLevels
	KindName
	KindTopic
	KindRedaction
	KindTyping
)

var kindNames = map[Kind]string{
	KindUnknown:     "unknown",
	KindCall:        "call",
	KindCreate:      "create",
	KindAliases:     "aliases",
	KindMessage:     "message",
	KindMember:      "member",
	KindPresence:    "presence",
	KindJoinRules:   "join_rules",
	KindPowerLevels: "power_levels",
	KindName:        "name",
	KindTopic:       "topic",
	KindRedaction:   "redaction",
	KindTyping:      "typing",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Classify maps an event type to its Kind. Matching is case-sensitive.
// Every type starting with "m.call." is a call event.
func Classify(ev *Event) Kind {
	if strings.HasPrefix(ev.Type, mCallTypePrefix) {
		return KindCall
	}
	switch ev.Type {
	case spec.MRoomCreate:
		return KindCreate
	case MRoomAliases:
		return KindAliases
	case MRoomMessage:
		return KindMessage
	case spec.MRoomMember:
		return KindMember
	case MPresence:
		return KindPresence
	case spec.MRoomJoinRules:
		return KindJoinRules
	case spec.MRoomPowerLevels:
		return KindPowerLevels
	case spec.MRoomName:
		return KindName
	case MRoomTopic:
		return KindTopic
	case MRoomRedaction:
		return KindRedaction
	case MTyping:
		return KindTyping
	}
	return KindUnknown
}

// IsStateLike is the secondary classification for unknown events: an
// event with a state key (even an empty one) and a room ID is treated as
// room state.
func IsStateLike(ev *Event) bool {
	return ev.StateKey != nil && ev.RoomID != ""
}
