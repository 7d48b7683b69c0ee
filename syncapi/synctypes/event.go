// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package synctypes

import (
	"github.com/matrix-org/gomatrixserverlib/spec"
	"github.com/tidwall/gjson"
)

// Event is a client-format protocol event as delivered by the transport,
// already decoded from the wire.
type Event struct {
	EventID        string         `json:"event_id,omitempty"`
	Type           string         `json:"type"`
	Sender         string         `json:"sender,omitempty"`
	RoomID         string         `json:"room_id,omitempty"`
	StateKey       *string        `json:"state_key,omitempty"`
	OriginServerTS spec.Timestamp `json:"origin_server_ts,omitempty"`
	Content        spec.RawJSON   `json:"content,omitempty"`
	PrevContent    spec.RawJSON   `json:"prev_content,omitempty"`
	Redacts        string         `json:"redacts,omitempty"`
	Unsigned       spec.RawJSON   `json:"unsigned,omitempty"`
}

// StateKeyValue returns the state key, or the empty string if the event has none.
func (e *Event) StateKeyValue() string {
	if e.StateKey == nil {
		return ""
	}
	return *e.StateKey
}

// StateKeyEquals returns true if the event has a state key equal to s.
func (e *Event) StateKeyEquals(s string) bool {
	return e.StateKey != nil && *e.StateKey == s
}

// Get looks up a dotted path in the event content, e.g. "info.mimetype".
func (e *Event) Get(path string) gjson.Result {
	return gjson.GetBytes(e.Content, path)
}

// GetPrev looks up a dotted path in the previous content.
func (e *Event) GetPrev(path string) gjson.Result {
	return gjson.GetBytes(e.PrevContent, path)
}

// HasPrevContent is true when the event carries a prev_content object.
func (e *Event) HasPrevContent() bool {
	return len(e.PrevContent) > 0 && gjson.ParseBytes(e.PrevContent).IsObject()
}

// IsContentEmpty is true if the content is missing or an object with no
// keys. Redacted events look like this.
func IsContentEmpty(content spec.RawJSON) bool {
	if len(content) == 0 {
		return true
	}
	parsed := gjson.ParseBytes(content)
	if !parsed.IsObject() {
		return true
	}
	empty := true
	parsed.ForEach(func(_, _ gjson.Result) bool {
		empty = false
		return false
	})
	return empty
}

// Clone returns a deep copy of the event so that the copy's content can be
// rewritten without affecting the original.
func (e *Event) Clone() *Event {
	c := *e
	if e.StateKey != nil {
		sk := *e.StateKey
		c.StateKey = &sk
	}
	c.Content = cloneRaw(e.Content)
	c.PrevContent = cloneRaw(e.PrevContent)
	c.Unsigned = cloneRaw(e.Unsigned)
	return &c
}

func cloneRaw(b spec.RawJSON) spec.RawJSON {
	if b == nil {
		return nil
	}
	return append(spec.RawJSON(nil), b...)
}
