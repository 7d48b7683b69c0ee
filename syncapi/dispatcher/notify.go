// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package dispatcher

import (
	"context"

	"github.com/Arceliar/phony"
	"github.com/matrix-org/gomatrixserverlib/spec"
	"github.com/sirupsen/logrus"

	"github.com/element-hq/roomsync/syncapi/notifier"
	"github.com/element-hq/roomsync/syncapi/pushrules"
	"github.com/element-hq/roomsync/syncapi/synctypes"
)

// RefreshPushRules fetches the push ruleset of the local user. Until it has
// been fetched once, message notifications fall back to bing words.
// Concurrent calls share a single request.
func (d *Dispatcher) RefreshPushRules(ctx context.Context) (*pushrules.Ruleset, error) {
	v, err, _ := d.ruleFetch.Do("push_rules", func() (interface{}, error) {
		raw, err := d.transport.PushRules(ctx)
		if err != nil {
			return nil, err
		}
		rs, err := pushrules.ParseRuleset(raw)
		if err != nil {
			return nil, err
		}
		phony.Block(d, func() {
			d.rules = rs
		})
		return rs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*pushrules.Ruleset), nil
}

// PushRules returns the ruleset in use, or nil if none has been fetched.
func (d *Dispatcher) PushRules() (rs *pushrules.Ruleset) {
	phony.Block(d, func() {
		rs = d.rules
	})
	return
}

func (d *Dispatcher) isIdle() bool {
	if d.idle == nil || d.idle() {
		return true
	}
	if me := d.store.User(d.store.LocalUserID); me != nil {
		return me.Presence() == synctypes.PresenceUnavailable
	}
	return false
}

func (d *Dispatcher) localDisplayName() string {
	if d.cfg.DisplayName != "" {
		return d.cfg.DisplayName
	}
	if me := d.store.User(d.store.LocalUserID); me != nil {
		return me.DisplayName()
	}
	return ""
}

// maybeNotify raises a Notify notification for a live event from someone
// else if the user should hear about it.
func (d *Dispatcher) maybeNotify(ev *synctypes.Event) {
	me := d.store.LocalUserID
	if ev.Sender == me {
		return
	}
	note := notifier.Notification{Kind: notifier.Notify, Event: ev, IsLive: true}
	switch ev.Type {
	case synctypes.MRoomMessage:
		if d.rules != nil {
			note.Result = pushrules.Evaluate(ev, d.rules, pushrules.EvalContext{
				UserID:      me,
				DisplayName: d.localDisplayName(),
				MemberCount: d.store.UserCountInRoom,
			})
			if note.Result == nil || !note.Result.Notify {
				return
			}
			note.Highlight = note.Result.Highlight()
		} else {
			note.Highlight = pushrules.ContainsBingWord(me, d.localDisplayName(), d.cfg.BingWords, ev.Get("body").Str)
			if !note.Highlight && len(d.cfg.BingWords) > 0 {
				return
			}
		}
	case spec.MRoomMember:
		if ev.StateKeyEquals(me) || ev.Get("membership").Str != spec.Join {
			return
		}
	default:
		return
	}
	if !d.isIdle() {
		logrus.WithField("event_id", ev.EventID).Debug("Not notifying while the user is active")
		return
	}
	notificationsRaised.Inc()
	d.broadcast(note)
}
