// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package dispatcher

import (
	"github.com/matrix-org/gomatrixserverlib/spec"
	"github.com/sirupsen/logrus"

	"github.com/element-hq/roomsync/syncapi/model"
	"github.com/element-hq/roomsync/syncapi/notifier"
	"github.com/element-hq/roomsync/syncapi/synctypes"
)

func (d *Dispatcher) route(kind synctypes.Kind, ev *synctypes.Event, isLive bool) {
	switch kind {
	case synctypes.KindCall:
		d.handleCall(ev, isLive)
	case synctypes.KindCreate:
		d.broadcast(notifier.Notification{Kind: notifier.RoomCreated, Event: ev, IsLive: isLive})
	case synctypes.KindAliases:
		d.handleAliases(ev, isLive)
	case synctypes.KindMessage:
		d.handleMessage(ev, isLive)
	case synctypes.KindMember:
		d.handleMember(ev, isLive)
	case synctypes.KindPresence:
		d.handlePresence(ev, isLive)
	case synctypes.KindJoinRules:
		d.handleStateEvent(ev, isLive, false)
		d.broadcast(notifier.Notification{Kind: notifier.StateEvent, Event: ev, IsLive: isLive})
	case synctypes.KindPowerLevels:
		d.handleStateEvent(ev, isLive, false)
		d.broadcast(notifier.Notification{Kind: notifier.PowerLevel, Event: ev, IsLive: isLive})
	case synctypes.KindName:
		d.handleStateEvent(ev, isLive, true)
		d.store.RecomputeRoomName(ev.RoomID)
		d.broadcast(notifier.Notification{Kind: notifier.Name, Event: ev, IsLive: isLive})
	case synctypes.KindTopic:
		d.handleStateEvent(ev, isLive, true)
		d.broadcast(notifier.Notification{Kind: notifier.Topic, Event: ev, IsLive: isLive})
	case synctypes.KindRedaction:
		d.handleRedaction(ev, isLive)
	case synctypes.KindTyping:
		d.handleTyping(ev, isLive)
	default:
		if synctypes.IsStateLike(ev) {
			d.handleStateEvent(ev, isLive, false)
			d.broadcast(notifier.Notification{Kind: notifier.StateEvent, Event: ev, IsLive: isLive})
			return
		}
		logrus.WithFields(logrus.Fields{
			"event_id": ev.EventID,
			"type":     ev.Type,
		}).Debug("Ignoring event of unknown type")
	}
}

// handleStateEvent stores a state event without special semantics. Live
// events always replace the current state. Historical events only replace
// what is stored when it is older, in either snapshot.
func (d *Dispatcher) handleStateEvent(ev *synctypes.Event, isLive, addToTimeline bool) {
	room := d.store.GetRoom(ev.RoomID)
	if addToTimeline {
		room.AddMessageEvent(ev, !isLive)
	}
	if isLive {
		room.CurrentState.StoreStateEvent(ev)
		return
	}
	room.OldState.StoreStateEventIfNewer(ev)
	room.CurrentState.StoreStateEventIfNewer(ev)
}

func (d *Dispatcher) handleCall(ev *synctypes.Event, isLive bool) {
	if ev.Type == synctypes.MCallInvite && ev.RoomID != "" {
		d.store.GetRoom(ev.RoomID).AddMessageEvent(ev, !isLive)
	}
	d.broadcast(notifier.Notification{Kind: notifier.Call, Event: ev, IsLive: isLive})
}

// handleAliases records the first alias of the event against the room.
func (d *Dispatcher) handleAliases(ev *synctypes.Event, isLive bool) {
	var content synctypes.AliasesContent
	if err := synctypes.DecodeContent(ev.Content, &content); err != nil {
		logrus.WithError(err).WithField("event_id", ev.EventID).Warn("Malformed m.room.aliases event")
		return
	}
	if len(content.Aliases) > 0 {
		d.store.SetRoomAlias(ev.RoomID, content.Aliases[0])
		d.store.RecomputeRoomName(ev.RoomID)
	}
	d.broadcast(notifier.Notification{Kind: notifier.Aliases, Event: ev, IsLive: isLive})
}

func (d *Dispatcher) handleMessage(ev *synctypes.Event, isLive bool) {
	if synctypes.IsContentEmpty(ev.Content) {
		logrus.WithField("event_id", ev.EventID).Debug("Ignoring message with empty content")
		return
	}
	ev = withThumbnail(ev)
	room := d.store.GetRoom(ev.RoomID)
	if ev.Sender == d.store.LocalUserID {
		room.AddOrReplaceMessageEvent(ev, !isLive)
	} else {
		room.AddMessageEvent(ev, !isLive)
		if isLive {
			d.maybeNotify(ev)
		}
	}
	d.broadcast(notifier.Notification{Kind: notifier.Message, Event: ev, IsLive: isLive})
}

// memberChange returns which key of a membership event changed compared to
// its prev_content, or "" if nothing worth showing did.
func memberChange(ev *synctypes.Event) string {
	membership := ev.Get("membership")
	if !ev.HasPrevContent() {
		if membership.Exists() {
			return model.ChangedMembership
		}
		return ""
	}
	if ev.GetPrev("membership").Str != membership.Str {
		return model.ChangedMembership
	}
	if ev.GetPrev("displayname").Raw != ev.Get("displayname").Raw {
		return model.ChangedDisplayName
	}
	return ""
}

func (d *Dispatcher) handleMember(ev *synctypes.Event, isLive bool) {
	room := d.store.GetRoom(ev.RoomID)
	changed := memberChange(ev)

	// State is updated before the timeline so the entry captures the
	// member as it was at this point.
	if isLive {
		room.CurrentState.StoreStateEvent(ev)
	} else {
		old := ev.Clone()
		if ev.HasPrevContent() {
			old.Content = ev.PrevContent
		}
		if changed == model.ChangedMembership && ev.Get("membership").Str == spec.Join {
			old.Content = ev.Content
		}
		room.OldState.StoreStateEvent(old)
	}

	if changed != "" {
		ae := room.AddMessageEvent(ev, !isLive)
		ae.ChangedKey = changed
		if changed == model.ChangedMembership && isLive {
			d.store.RecomputeRoomName(ev.RoomID)
			d.maybeNotify(ev)
		}
	}
	d.broadcast(notifier.Notification{Kind: notifier.Membership, Event: ev, IsLive: isLive})
}

func (d *Dispatcher) handlePresence(ev *synctypes.Event, isLive bool) {
	if d.store.SetUser(ev) == nil {
		logrus.WithField("event_id", ev.EventID).Debug("Ignoring presence event without a user")
		return
	}
	d.broadcast(notifier.Notification{Kind: notifier.Presence, Event: ev, IsLive: isLive})
}

// handleRedaction removes the redacted event from the timeline. Redactions
// in historical pages are ignored: the server has already applied them.
func (d *Dispatcher) handleRedaction(ev *synctypes.Event, isLive bool) {
	if !isLive {
		return
	}
	redacts := ev.Redacts
	if redacts == "" {
		redacts = ev.Get("redacts").Str
	}
	room, ok := d.store.Room(ev.RoomID)
	if !ok || !room.RemoveEventByID(redacts) {
		logrus.WithFields(logrus.Fields{
			"room_id": ev.RoomID,
			"redacts": redacts,
		}).Debug("Redacted event is not in the timeline")
	}
	d.broadcast(notifier.Notification{Kind: notifier.Redaction, Event: ev, IsLive: isLive})
}

// handleTyping replaces the set of typing members of a room.
func (d *Dispatcher) handleTyping(ev *synctypes.Event, isLive bool) {
	if !isLive {
		return
	}
	room, ok := d.store.Room(ev.RoomID)
	if !ok {
		return
	}
	var content synctypes.TypingContent
	if err := synctypes.DecodeContent(ev.Content, &content); err != nil {
		logrus.WithError(err).WithField("room_id", ev.RoomID).Warn("Malformed m.typing event")
		return
	}
	for _, member := range room.CurrentState.Members {
		member.Typing = false
	}
	for _, userID := range content.UserIDs {
		if member, ok := room.CurrentState.Members[userID]; ok {
			member.Typing = true
		}
	}
	d.broadcast(notifier.Notification{Kind: notifier.Typing, Event: ev, IsLive: isLive})
}
