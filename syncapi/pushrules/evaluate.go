// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package pushrules

import (
	"encoding/json"
	"regexp"
	"strconv"

	"github.com/element-hq/roomsync/syncapi/synctypes"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// EvalContext is what the evaluator needs to know about the local user and
// the room the event is in.
type EvalContext struct {
	UserID      string
	DisplayName string
	// MemberCount returns the number of joined members of a room.
	MemberCount func(roomID string) int
}

// Result is the outcome of the first rule which matched an event.
type Result struct {
	RuleID string
	Kind   Kind
	Notify bool
	Tweaks map[string]interface{}
}

// Highlight is true if the matching rule set the highlight tweak.
func (r *Result) Highlight() bool {
	if r == nil {
		return false
	}
	v, ok := r.Tweaks["highlight"].(bool)
	return ok && v
}

// Sound returns the sound tweak, if any.
func (r *Result) Sound() string {
	if r == nil {
		return ""
	}
	s, _ := r.Tweaks["sound"].(string)
	return s
}

// Evaluate finds the first enabled rule in rs, in kind precedence then
// server order, whose conditions all hold for the event. It returns nil if
// no rule matches.
func Evaluate(ev *synctypes.Event, rs *Ruleset, ec EvalContext) *Result {
	if rs == nil {
		return nil
	}
	m := &matcher{ev: ev, ec: ec}
	for _, kind := range KindOrder {
		for _, rule := range rs.Rules(kind) {
			if rule == nil || !rule.Enabled {
				continue
			}
			if m.ruleMatches(kind, rule) {
				return reduceActions(kind, rule)
			}
		}
	}
	return nil
}

func reduceActions(kind Kind, rule *Rule) *Result {
	res := &Result{
		RuleID: rule.RuleID,
		Kind:   kind,
		Tweaks: map[string]interface{}{},
	}
	for _, action := range rule.Actions {
		switch action.Kind {
		case NotifyAction:
			res.Notify = true
		case SetTweakAction:
			if action.Value == nil {
				res.Tweaks[action.Tweak] = true
			} else {
				res.Tweaks[action.Tweak] = action.Value
			}
		}
	}
	return res
}

type matcher struct {
	ev  *synctypes.Event
	ec  EvalContext
	raw []byte
}

// field looks up a dotted path in the JSON form of the event.
func (m *matcher) field(path string) gjson.Result {
	if m.raw == nil {
		raw, err := json.Marshal(m.ev)
		if err != nil {
			logrus.WithError(err).WithField("event_id", m.ev.EventID).Warn("Failed to marshal event for push rules")
			raw = []byte(`{}`)
		}
		m.raw = raw
	}
	return gjson.GetBytes(m.raw, path)
}

func (m *matcher) ruleMatches(kind Kind, rule *Rule) bool {
	switch kind {
	case ContentKind:
		if rule.Pattern == "" {
			return false
		}
		return m.eventMatch("content.body", rule.Pattern)
	case RoomKind:
		return m.ev.RoomID == rule.RuleID
	case SenderKind:
		return m.ev.Sender == rule.RuleID
	}
	for _, cond := range rule.Conditions {
		if !m.conditionMatches(cond) {
			return false
		}
	}
	return true
}

func (m *matcher) conditionMatches(cond Condition) bool {
	switch cond.Kind {
	case EventMatchCondition:
		return m.eventMatch(cond.Key, cond.Pattern)
	case ContainsDisplayNameCondition:
		return m.containsDisplayName()
	case RoomMemberCountCondition:
		if m.ec.MemberCount == nil {
			return false
		}
		return memberCountMatches(cond.Is, m.ec.MemberCount(m.ev.RoomID))
	case DeviceCondition:
		return false
	}
	logrus.WithField("kind", cond.Kind).Debug("Unknown push rule condition")
	return false
}

func (m *matcher) eventMatch(key, pattern string) bool {
	if key == "" {
		return false
	}
	value := m.field(key)
	if value.Type != gjson.String {
		return false
	}
	re, err := patternRegexp(pattern, key == "content.body")
	if err != nil {
		logrus.WithError(err).WithField("pattern", pattern).Warn("Invalid push rule pattern")
		return false
	}
	return re.MatchString(value.Str)
}

func (m *matcher) containsDisplayName() bool {
	if m.ec.DisplayName == "" {
		return false
	}
	body := m.field("content.body")
	if body.Type != gjson.String {
		return false
	}
	re, err := compile(`(?i)(^|\W)` + regexp.QuoteMeta(m.ec.DisplayName) + `(\W|$)`)
	if err != nil {
		return false
	}
	return re.MatchString(body.Str)
}

var memberCountRegexp = regexp.MustCompile(`^([=<>]*)([0-9]+)$`)

func memberCountMatches(is string, count int) bool {
	parts := memberCountRegexp.FindStringSubmatch(is)
	if parts == nil {
		return false
	}
	n, err := strconv.Atoi(parts[2])
	if err != nil {
		return false
	}
	switch parts[1] {
	case "", "=", "==":
		return count == n
	case "<":
		return count < n
	case ">":
		return count > n
	case "<=":
		return count <= n
	case ">=":
		return count >= n
	}
	return false
}
