// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package synctypes

import (
	"encoding/json"

	"github.com/matrix-org/gomatrixserverlib/spec"
	"github.com/tidwall/gjson"
)

// MemberContent is the content of an m.room.member event.
type MemberContent struct {
	Membership  string  `json:"membership"`
	DisplayName *string `json:"displayname,omitempty"`
	AvatarURL   string  `json:"avatar_url,omitempty"`
}

// AliasesContent is the content of an m.room.aliases event.
type AliasesContent struct {
	Aliases []string `json:"aliases"`
}

// TypingContent is the content of an m.typing event.
type TypingContent struct {
	UserIDs []string `json:"user_ids"`
}

// Presence states.
const (
	PresenceOnline      = "online"
	PresenceUnavailable = "unavailable"
	PresenceOffline     = "offline"
)

// PresenceContent is the content of an m.presence event.
type PresenceContent struct {
	UserID        string `json:"user_id,omitempty"`
	Presence      string `json:"presence,omitempty"`
	LastActiveAgo int64  `json:"last_active_ago,omitempty"`
	DisplayName   string `json:"displayname,omitempty"`
	AvatarURL     string `json:"avatar_url,omitempty"`
}

// PresenceUserID returns the user a presence event is about: the sender,
// falling back to content.user_id.
func PresenceUserID(ev *Event) string {
	if ev.Sender != "" {
		return ev.Sender
	}
	return ev.Get("user_id").Str
}

// DecodeContent unmarshals raw content into v. Missing content decodes
// into the zero value.
func DecodeContent(raw spec.RawJSON, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// PowerLevels is the subset of m.room.power_levels used for display.
type PowerLevels struct {
	Users        map[string]int64
	UsersDefault int64
	// Max is the highest level granted to any user, or 0 if none is.
	Max int64
}

// ParsePowerLevels reads users and users_default from power levels content.
// Entries which are not numbers are ignored, as is the legacy "hsob_ts" key.
func ParsePowerLevels(content spec.RawJSON) PowerLevels {
	pl := PowerLevels{Users: map[string]int64{}}
	parsed := gjson.ParseBytes(content)
	if d := parsed.Get("users_default"); d.Type == gjson.Number {
		pl.UsersDefault = d.Int()
	}
	parsed.Get("users").ForEach(func(key, value gjson.Result) bool {
		if key.Str == "hsob_ts" || value.Type != gjson.Number {
			return true
		}
		level := value.Int()
		pl.Users[key.Str] = level
		if level > pl.Max {
			pl.Max = level
		}
		return true
	})
	return pl
}

// UserLevel returns the power level of a user, falling back to users_default.
func (pl PowerLevels) UserLevel(userID string) int64 {
	if level, ok := pl.Users[userID]; ok {
		return level
	}
	return pl.UsersDefault
}

// Norm returns level scaled against the room maximum, floor(level*25/max).
// A room with no elevated users yields 0.
func (pl PowerLevels) Norm(level int64) int64 {
	if pl.Max <= 0 {
		return 0
	}
	n := level * 25
	q := n / pl.Max
	if n%pl.Max < 0 {
		q--
	}
	return q
}
