// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package internal

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultAwaitTimeout is the default timeout for awaiting readiness
const DefaultAwaitTimeout = 5 * time.Minute

// ReadyTracker is a one-shot latch which callers can wait on until some
// piece of work (the initial sync) has completed. Once resolved it stays
// resolved until Reset is called, after which it can be resolved again.
type ReadyTracker struct {
	name      string
	resolved  bool
	observers []chan struct{}
	mu        sync.Mutex
}

// NewReadyTracker creates a new, unresolved ReadyTracker
func NewReadyTracker(name string) *ReadyTracker {
	return &ReadyTracker{name: name}
}

// Await blocks until the tracker is resolved or the context is cancelled.
// If the tracker is already resolved, this returns immediately.
func (t *ReadyTracker) Await(ctx context.Context) error {
	t.mu.Lock()
	if t.resolved {
		t.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	t.observers = append(t.observers, ch)
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, observer := range t.observers {
			if observer == ch {
				t.observers = append(t.observers[:i], t.observers[i+1:]...)
				break
			}
		}
	}()

	logrus.WithField("latch", t.name).Debug("Awaiting readiness")

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}

// AwaitWithTimeout is a convenience wrapper that adds a timeout to the context
func (t *ReadyTracker) AwaitWithTimeout(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return t.Await(ctx)
}

// Resolve wakes up every caller waiting in Await. Resolving an already
// resolved tracker does nothing.
func (t *ReadyTracker) Resolve() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.resolved {
		return
	}
	t.resolved = true

	logrus.WithFields(logrus.Fields{
		"latch":          t.name,
		"observer_count": len(t.observers),
	}).Debug("Resolving readiness")

	for _, ch := range t.observers {
		close(ch)
	}
	t.observers = nil
}

// Reset re-arms the tracker. Callers already waiting stay waiting until
// the next Resolve.
func (t *ReadyTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resolved = false
}

// Resolved returns true if the tracker has been resolved since the last Reset
func (t *ReadyTracker) Resolved() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resolved
}
