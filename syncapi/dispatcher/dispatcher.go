// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package dispatcher

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/Arceliar/phony"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/element-hq/roomsync/internal"
	"github.com/element-hq/roomsync/internal/caching"
	"github.com/element-hq/roomsync/setup/config"
	"github.com/element-hq/roomsync/syncapi/api"
	"github.com/element-hq/roomsync/syncapi/model"
	"github.com/element-hq/roomsync/syncapi/notifier"
	"github.com/element-hq/roomsync/syncapi/pushrules"
	"github.com/element-hq/roomsync/syncapi/synctypes"
)

// Dispatcher folds events into the Store. It is an actor: every mutation of
// the Store happens on its inbox, so batches from the sync loop, pages from
// back-pagination and local sends never interleave inside a handler.
type Dispatcher struct {
	phony.Inbox
	cfg       *config.SyncAPI
	store     *model.Store
	dedup     caching.EventDedupCache
	notifier  *notifier.Notifier
	transport api.Transport
	ready     *internal.ReadyTracker
	joinWait  time.Duration
	idle      func() bool
	now       func() time.Time

	rules       *pushrules.Ruleset
	ruleFetch   singleflight.Group
	paginations singleflight.Group
}

// Option configures optional behaviour of a Dispatcher.
type Option func(d *Dispatcher)

// WithIdle sets the function telling the dispatcher whether the user is
// away from the client. Notifications are only raised while it returns
// true, or while the local user's presence is unavailable. Without it the
// user is always considered idle.
func WithIdle(idle func() bool) Option {
	return func(d *Dispatcher) {
		d.idle = idle
	}
}

// WithJoinTimeout bounds how long JoinRoom waits for the initial sync
// before giving up.
func WithJoinTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		d.joinWait = timeout
	}
}

// WithDedup replaces the duplicate detection cache.
func WithDedup(dedup caching.EventDedupCache) Option {
	return func(d *Dispatcher) {
		d.dedup = dedup
	}
}

func NewDispatcher(
	cfg *config.SyncAPI,
	store *model.Store,
	n *notifier.Notifier,
	transport api.Transport,
	opts ...Option,
) *Dispatcher {
	d := &Dispatcher{
		cfg:       cfg,
		store:     store,
		notifier:  n,
		transport: transport,
		ready:     internal.NewReadyTracker("initial sync"),
		joinWait:  internal.DefaultAwaitTimeout,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.dedup == nil {
		d.dedup = caching.NewEventDedup(cfg.DedupLifetime(), cfg.DedupSweep())
	}
	return d
}

// View runs f with exclusive access to the Store. f must not retain the
// Store or anything reachable from it after returning.
func (d *Dispatcher) View(f func(store *model.Store)) {
	phony.Block(d, func() {
		f(d.store)
	})
}

// WaitForInitialSync blocks until the initial sync has been applied or the
// context is done.
func (d *Dispatcher) WaitForInitialSync(ctx context.Context) error {
	return d.ready.Await(ctx)
}

// InitialSyncDone returns true if the initial sync has been applied since
// the last reset.
func (d *Dispatcher) InitialSyncDone() bool {
	return d.ready.Resolved()
}

// HandleEvent applies a single event.
func (d *Dispatcher) HandleEvent(ev *synctypes.Event, isLive bool) {
	phony.Block(d, func() {
		d.handleEvent(ev, isLive)
	})
}

// HandleEvents applies a list of events in order.
func (d *Dispatcher) HandleEvents(events []*synctypes.Event, isLive bool) {
	phony.Block(d, func() {
		d.handleEvents(events, isLive)
	})
}

// HandleRoomMessages applies a page of room messages. Backward pages, as
// returned by back-pagination, are newest first and are applied in order.
// Any other page is chronological and is applied in reverse so that each
// historical event is prepended before the one preceding it.
func (d *Dispatcher) HandleRoomMessages(roomID string, page *synctypes.MessagesPage, isLive bool, dir synctypes.Direction) {
	phony.Block(d, func() {
		d.handleRoomMessages(roomID, page, isLive, dir)
	})
}

// HandleRoomInitialSync loads a room snapshot.
func (d *Dispatcher) HandleRoomInitialSync(room *synctypes.InitialSyncRoom) {
	phony.Block(d, func() {
		d.loadRoom(room)
	})
}

// HandleInitialSync loads the response to an initial sync and releases
// everything waiting on WaitForInitialSync. A non-nil current is checked on
// the dispatcher before anything is applied, and the response is dropped
// if it returns false. It returns whether the response was applied.
func (d *Dispatcher) HandleInitialSync(resp *synctypes.InitialSyncResponse, current func() bool) (applied bool) {
	phony.Block(d, func() {
		if current != nil && !current() {
			logrus.Debug("Dropping stale initial sync")
			return
		}
		d.handleInitialSync(resp)
		applied = true
	})
	return
}

// HandleSync applies an incremental sync batch. The events are live.
// current is handled as for HandleInitialSync.
func (d *Dispatcher) HandleSync(resp *synctypes.SyncResponse, current func() bool) (applied bool) {
	phony.Block(d, func() {
		if current != nil && !current() {
			logrus.WithField("next_batch", resp.NextBatch).Debug("Dropping stale sync batch")
			return
		}
		d.handleEvents(resp.Events(), true)
		applied = true
	})
	return
}

// Reset forgets everything. Duplicate detection is flushed, the initial
// sync has to happen again and the Store is cleared.
func (d *Dispatcher) Reset() {
	phony.Block(d, func() {
		d.dedup.Reset()
		d.ready.Reset()
		d.store.Clear()
		d.rules = nil
		d.broadcast(notifier.Notification{Kind: notifier.Reset})
	})
}

// WipeDuplicateDetection forgets which events of a room have been seen, so
// that reloading the room applies them again.
func (d *Dispatcher) WipeDuplicateDetection(roomID string) {
	phony.Block(d, func() {
		d.dedup.WipeRoom(roomID)
	})
}

func (d *Dispatcher) broadcast(note notifier.Notification) {
	if note.Event != nil && note.RoomID == "" {
		note.RoomID = note.Event.RoomID
	}
	d.notifier.Broadcast(d, note)
}

func (d *Dispatcher) handleEvents(events []*synctypes.Event, isLive bool) {
	for _, ev := range events {
		d.handleEvent(ev, isLive)
	}
}

func (d *Dispatcher) handleEvent(ev *synctypes.Event, isLive bool) {
	if ev == nil {
		return
	}
	if ev.EventID != "" && d.dedup.SeenEvent(ev.RoomID, ev.EventID) {
		duplicateEvents.Inc()
		logrus.WithFields(logrus.Fields{
			"event_id": ev.EventID,
			"room_id":  ev.RoomID,
		}).Debug("Dropping duplicate event")
		return
	}
	kind := synctypes.Classify(ev)
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"event_id": ev.EventID,
				"room_id":  ev.RoomID,
				"type":     ev.Type,
				"panic":    fmt.Sprint(r),
			}).Error("Recovered from panic while handling event\n" + string(debug.Stack()))
		}
	}()
	eventsHandled.WithLabelValues(kind.String()).Inc()
	d.route(kind, ev, isLive)
}
