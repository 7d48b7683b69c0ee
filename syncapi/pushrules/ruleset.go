// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package pushrules

import (
	"encoding/json"
	"fmt"

	"github.com/matrix-org/gomatrixserverlib/spec"
	"github.com/tidwall/gjson"
)

// A Kind is the type of a push rule. Kinds are evaluated in the order
// of KindOrder.
type Kind string

const (
	OverrideKind  Kind = "override"
	ContentKind   Kind = "content"
	RoomKind      Kind = "room"
	SenderKind    Kind = "sender"
	UnderrideKind Kind = "underride"
)

// KindOrder is the precedence in which rule kinds are evaluated.
var KindOrder = []Kind{OverrideKind, ContentKind, RoomKind, SenderKind, UnderrideKind}

// A Ruleset contains all the rules of one scope, in server order.
type Ruleset struct {
	Override  []*Rule `json:"override,omitempty"`
	Content   []*Rule `json:"content,omitempty"`
	Room      []*Rule `json:"room,omitempty"`
	Sender    []*Rule `json:"sender,omitempty"`
	Underride []*Rule `json:"underride,omitempty"`
}

// Rules returns the rules of the given kind.
func (rs *Ruleset) Rules(kind Kind) []*Rule {
	switch kind {
	case OverrideKind:
		return rs.Override
	case ContentKind:
		return rs.Content
	case RoomKind:
		return rs.Room
	case SenderKind:
		return rs.Sender
	case UnderrideKind:
		return rs.Underride
	}
	return nil
}

// A Rule is a single push rule.
type Rule struct {
	RuleID  string `json:"rule_id"`
	Default bool   `json:"default"`
	Enabled bool   `json:"enabled"`
	// Pattern is only used by content rules, and is matched against
	// content.body.
	Pattern    string      `json:"pattern,omitempty"`
	Conditions []Condition `json:"conditions,omitempty"`
	Actions    []Action    `json:"actions"`
}

// ConditionKind is the type of a rule condition.
type ConditionKind string

const (
	EventMatchCondition          ConditionKind = "event_match"
	ContainsDisplayNameCondition ConditionKind = "contains_display_name"
	RoomMemberCountCondition     ConditionKind = "room_member_count"
	DeviceCondition              ConditionKind = "device"
)

// A Condition must hold for its rule to match.
type Condition struct {
	Kind ConditionKind `json:"kind"`
	// Key is the dotted path of the event field for event_match.
	Key string `json:"key,omitempty"`
	// Pattern is the glob for event_match.
	Pattern string `json:"pattern,omitempty"`
	// Is is the comparison for room_member_count, e.g. "2" or ">=10".
	Is string `json:"is,omitempty"`
}

// ActionKind is the type of an action.
type ActionKind string

const (
	NotifyAction     ActionKind = "notify"
	DontNotifyAction ActionKind = "dont_notify"
	CoalesceAction   ActionKind = "coalesce"
	SetTweakAction   ActionKind = "set_tweak"
)

// An Action is either a bare string ("notify") or a tweak object
// ({"set_tweak": "sound", "value": "default"}).
type Action struct {
	Kind  ActionKind
	Tweak string
	// Value is the tweak value. A tweak without a value means true.
	Value interface{}
}

func (a *Action) UnmarshalJSON(data []byte) error {
	parsed := gjson.ParseBytes(data)
	switch {
	case parsed.Type == gjson.String:
		switch parsed.Str {
		case "dont-notify":
			// legacy spelling
			a.Kind = DontNotifyAction
		default:
			a.Kind = ActionKind(parsed.Str)
		}
		return nil
	case parsed.IsObject():
		tweak := parsed.Get("set_tweak")
		if tweak.Type != gjson.String {
			return fmt.Errorf("push rule action has no set_tweak: %s", data)
		}
		a.Kind = SetTweakAction
		a.Tweak = tweak.Str
		if value := parsed.Get("value"); value.Exists() {
			a.Value = value.Value()
		} else {
			a.Value = true
		}
		return nil
	}
	return fmt.Errorf("invalid push rule action: %s", data)
}

func (a Action) MarshalJSON() ([]byte, error) {
	if a.Kind != SetTweakAction {
		return json.Marshal(string(a.Kind))
	}
	return json.Marshal(map[string]interface{}{
		"set_tweak": a.Tweak,
		"value":     a.Value,
	})
}

// ParseRuleset decodes the global ruleset from a push rules response. The
// response may either be the full {"global": ...} document or the global
// ruleset itself.
func ParseRuleset(raw spec.RawJSON) (*Ruleset, error) {
	if global := gjson.GetBytes(raw, "global"); global.IsObject() {
		raw = spec.RawJSON(global.Raw)
	}
	var rs Ruleset
	if err := json.Unmarshal(raw, &rs); err != nil {
		return nil, fmt.Errorf("failed to parse push rules: %w", err)
	}
	return &rs, nil
}
