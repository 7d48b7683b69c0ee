// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package model

import (
	"strings"
	"time"

	"github.com/element-hq/roomsync/syncapi/synctypes"
	"github.com/matrix-org/gomatrixserverlib/spec"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// User is the process-wide presence and profile record of a user. It is
// only ever mutated in place so that members pointing at it stay valid.
type User struct {
	UserID string
	// Event is the last presence event seen for the user.
	Event *synctypes.Event
	// Content is the presence content merged across every event seen.
	Content     spec.RawJSON
	LastUpdated time.Time
}

var sjsonPathEscaper = strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`)

// merge copies every top-level key of content into the user's content,
// keeping keys which the new content doesn't mention.
func (u *User) merge(ev *synctypes.Event, now time.Time) error {
	if len(u.Content) == 0 {
		u.Content = spec.RawJSON(`{}`)
	}
	var err error
	merged := u.Content
	gjson.ParseBytes(ev.Content).ForEach(func(key, value gjson.Result) bool {
		merged, err = sjson.SetRawBytes(merged, sjsonPathEscaper.Replace(key.Str), []byte(value.Raw))
		return err == nil
	})
	if err != nil {
		return err
	}
	u.Content = merged
	u.Event = ev
	u.LastUpdated = now
	if ago := gjson.GetBytes(ev.Content, "last_active_ago"); ago.Type == gjson.Number {
		u.LastUpdated = now.Add(-time.Duration(ago.Int()) * time.Millisecond)
	}
	return nil
}

// Presence returns the presence state, e.g. "online".
func (u *User) Presence() string {
	return gjson.GetBytes(u.Content, "presence").Str
}

// DisplayName returns the display name from presence, if any.
func (u *User) DisplayName() string {
	return gjson.GetBytes(u.Content, "displayname").Str
}

// AvatarURL returns the avatar from presence, if any.
func (u *User) AvatarURL() string {
	return gjson.GetBytes(u.Content, "avatar_url").Str
}
