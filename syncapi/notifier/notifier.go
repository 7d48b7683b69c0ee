// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package notifier

import (
	"fmt"

	"github.com/Arceliar/phony"
	"github.com/element-hq/roomsync/syncapi/pushrules"
	"github.com/element-hq/roomsync/syncapi/synctypes"
	"github.com/sirupsen/logrus"
)

// Kind is the category of a notification. Listeners subscribe per kind.
type Kind int

const (
	RoomCreated Kind = iota
	Message
	Membership
	Presence
	PowerLevel
	Name
	Topic
	Call
	Reset
	// StateEvent is broadcast for state events without a more specific
	// category, such as join rules.
	StateEvent
	Aliases
	Redaction
	Typing
	// Notify is broadcast when an event should be surfaced to the user.
	Notify
	// BadConnection is broadcast when the bad connection advisory is
	// raised or cleared.
	BadConnection
)

var kindNames = [...]string{
	RoomCreated:   "room_created",
	Message:       "message",
	Membership:    "membership",
	Presence:      "presence",
	PowerLevel:    "power_level",
	Name:          "name",
	Topic:         "topic",
	Call:          "call",
	Reset:         "reset",
	StateEvent:    "state",
	Aliases:       "aliases",
	Redaction:     "redaction",
	Typing:        "typing",
	Notify:        "notify",
	BadConnection: "bad_connection",
}

func (k Kind) String() string {
	if int(k) >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Notification is what listeners receive.
type Notification struct {
	Kind   Kind
	Event  *synctypes.Event
	IsLive bool
	RoomID string
	// Result is the matching push rule for Notify, if rules were used.
	Result *pushrules.Result
	// Highlight is set on Notify when the event should be highlighted.
	Highlight bool
	// BadConnection is the new state of the advisory for BadConnection.
	BadConnection bool
}

// Listener receives notifications on the notifier's own goroutine, in the
// order they were broadcast. Listeners may call back into the dispatcher
// but must not call Subscribe.
type Listener func(Notification)

type subscription struct {
	id int
	fn Listener
}

// Notifier fans notifications out to listeners. It is an actor: broadcasts
// are queued and delivered in order without blocking the broadcaster.
type Notifier struct {
	phony.Inbox
	listeners map[Kind][]subscription
	nextID    int
}

func NewNotifier() *Notifier {
	return &Notifier{
		listeners: make(map[Kind][]subscription),
	}
}

// Subscribe registers fn for notifications of the given kinds. The
// returned function removes the subscription again.
func (n *Notifier) Subscribe(fn Listener, kinds ...Kind) (unsubscribe func()) {
	var id int
	phony.Block(n, func() {
		n.nextID++
		id = n.nextID
		for _, kind := range kinds {
			n.listeners[kind] = append(n.listeners[kind], subscription{id: id, fn: fn})
		}
	})
	return func() {
		n.Act(nil, func() {
			for _, kind := range kinds {
				subs := n.listeners[kind]
				for i, sub := range subs {
					if sub.id == id {
						n.listeners[kind] = append(subs[:i:i], subs[i+1:]...)
						break
					}
				}
			}
		})
	}
}

// Broadcast queues the notification for delivery to every listener of its
// kind.
func (n *Notifier) Broadcast(from phony.Actor, note Notification) {
	n.Act(from, func() {
		for _, sub := range n.listeners[note.Kind] {
			n.deliver(sub, note)
		}
	})
}

func (n *Notifier) deliver(sub subscription, note Notification) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"kind":  note.Kind.String(),
				"panic": r,
			}).Error("Notification listener panicked")
		}
	}()
	sub.fn(note)
}

// Flush blocks until every notification broadcast so far has been delivered.
func (n *Notifier) Flush() {
	phony.Block(n, func() {})
}
