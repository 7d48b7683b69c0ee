// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package caching

import (
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

const (
	DefaultDedupLifetime = 10 * time.Second
	DefaultDedupSweep    = 11 * time.Second
)

// EventDedupCache suppresses events which have already been processed
// recently. Entries expire after the configured lifetime and are swept
// on a fixed cadence.
type EventDedupCache interface {
	// SeenEvent records the event and returns true if it had already
	// been recorded and has not yet expired.
	SeenEvent(roomID, eventID string) bool
	// WipeRoom forgets every event recorded for the room.
	WipeRoom(roomID string)
	// Reset forgets everything.
	Reset()
}

type EventDedup struct {
	seen *cache.Cache
}

func NewEventDedup(lifetime, sweep time.Duration) *EventDedup {
	if lifetime <= 0 {
		lifetime = DefaultDedupLifetime
	}
	if sweep <= 0 {
		sweep = DefaultDedupSweep
	}
	return &EventDedup{
		seen: cache.New(lifetime, sweep),
	}
}

func dedupKey(roomID, eventID string) string {
	return roomID + "\x00" + eventID
}

// SeenEvent is a check-and-set: the first call for a given room and event
// returns false, subsequent calls within the lifetime return true. Events
// without an ID are never considered duplicates.
func (d *EventDedup) SeenEvent(roomID, eventID string) bool {
	if eventID == "" {
		return false
	}
	return d.seen.Add(dedupKey(roomID, eventID), time.Now(), cache.DefaultExpiration) != nil
}

func (d *EventDedup) WipeRoom(roomID string) {
	prefix := roomID + "\x00"
	for key := range d.seen.Items() {
		if strings.HasPrefix(key, prefix) {
			d.seen.Delete(key)
		}
	}
}

func (d *EventDedup) Reset() {
	d.seen.Flush()
}

// Len returns the number of recorded events, including expired ones which
// have not been swept yet.
func (d *EventDedup) Len() int {
	return d.seen.ItemCount()
}
