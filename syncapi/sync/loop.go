// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package sync

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/element-hq/roomsync/setup/config"
	"github.com/element-hq/roomsync/syncapi/api"
	"github.com/element-hq/roomsync/syncapi/notifier"
	"github.com/element-hq/roomsync/syncapi/synctypes"
)

// Handler receives sync results in order. A call returns once the batch
// has been applied or dropped. current reports whether the run the result
// belongs to is still active; the handler checks it at the point where it
// applies the result, so nothing lands after a Pause or Stop.
type Handler interface {
	HandleInitialSync(resp *synctypes.InitialSyncResponse, current func() bool) bool
	HandleSync(resp *synctypes.SyncResponse, current func() bool) bool
}

// Loop drives the long-poll cycle: an initial sync, then incremental syncs
// for as long as it is resumed.
type Loop struct {
	cfg       *config.SyncAPI
	transport api.Transport
	handler   Handler
	notifier  *notifier.Notifier
	policy    Policy

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	result chan error

	badConnection *atomic.Bool
}

func NewLoop(cfg *config.SyncAPI, transport api.Transport, handler Handler, n *notifier.Notifier) *Loop {
	return &Loop{
		cfg:       cfg,
		transport: transport,
		handler:   handler,
		notifier:  n,
		policy: Policy{
			MaxFailedAttempts: cfg.MaxFailedAttempts,
			Backoff: Backoff{
				Base:      cfg.BackoffBase(),
				Max:       cfg.BackoffMax(),
				MaxJitter: cfg.MaxJitter(),
			},
		},
		badConnection: atomic.NewBool(false),
	}
}

// State returns a copy of the current retry state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// BadConnection returns true while the bad connection advisory is raised.
func (l *Loop) BadConnection() bool {
	return l.badConnection.Load()
}

// Resume starts syncing if the loop isn't already. The returned channel
// receives nil once the loop is paused or stopped, or the error that made
// it give up, and is then closed. Resuming a running loop returns the
// channel of the current run.
func (l *Loop) Resume(ctx context.Context) <-chan error {
	l.mu.Lock()
	defer l.mu.Unlock()
	next, out := l.state.Resume()
	if out.Action == ActionNone {
		return l.result
	}
	l.state = next
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.result = make(chan error, 1)
	go l.run(runCtx, next.Generation, l.result)
	return l.result
}

// Pause stops syncing, abandoning any request in flight. The cursor is
// kept for the next Resume.
func (l *Loop) Pause() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state, _ = l.state.Pause()
	l.abort()
}

// Stop stops syncing and forgets the cursor, so the next Resume starts
// with an initial sync.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out Outcome
	l.state, out = l.state.Stop()
	l.abort()
	l.applyOutcome(out, l.state)
}

func (l *Loop) abort() {
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
}

// transition applies f to the state under the lock.
func (l *Loop) transition(f func(State) (State, Outcome)) Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out Outcome
	l.state, out = f(l.state)
	l.applyOutcome(out, l.state)
	return out
}

func (l *Loop) applyOutcome(out Outcome, state State) {
	if !out.BadConnectionChanged {
		return
	}
	bad := state.BadConnection
	l.badConnection.Store(bad)
	if bad {
		badConnectionGauge.Set(1)
		logrus.WithField("failures", state.Failures+state.InitialFailures).Warn("[SYNC] Connection looks bad")
	} else {
		badConnectionGauge.Set(0)
		logrus.Info("[SYNC] Connection recovered")
	}
	if l.notifier != nil {
		l.notifier.Broadcast(nil, notifier.Notification{
			Kind:          notifier.BadConnection,
			BadConnection: bad,
		})
	}
}

func (l *Loop) run(ctx context.Context, gen uint64, result chan<- error) {
	defer close(result)
	for {
		state := l.State()
		if !state.current(gen) {
			result <- nil
			return
		}
		var out Outcome
		var err error
		if state.Cursor == "" {
			out, err = l.initialSync(ctx, gen)
		} else {
			out, err = l.incrementalSync(ctx, gen, state.Cursor)
		}
		switch out.Action {
		case ActionNone:
			result <- nil
			return
		case ActionStop:
			logrus.WithError(err).Error("[SYNC] Credentials were rejected, no longer syncing")
			result <- err
			return
		case ActionRetry:
			sleep(ctx, out.Delay)
		}
	}
}

// isCurrent returns a check for whether the run gen is still active.
func (l *Loop) isCurrent(gen uint64) func() bool {
	return func() bool {
		return l.State().current(gen)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (l *Loop) initialSync(ctx context.Context, gen uint64) (Outcome, error) {
	resp, err := l.transport.InitialSync(ctx, l.cfg.InitialSyncLimit)
	if err == nil && resp == nil {
		resp = &synctypes.InitialSyncResponse{}
	}
	if err != nil {
		out := l.transition(func(s State) (State, Outcome) {
			return s.InitialFailed(gen, err, l.policy)
		})
		if out.Action == ActionRetry {
			syncFailures.WithLabelValues("initial").Inc()
			logrus.WithError(err).WithField("retry_in", out.Delay).Warn("[SYNC] Initial sync failed, retrying")
		}
		return out, err
	}
	// The cursor only moves once the response has been applied, so a
	// response dropped as stale is fetched again on resume.
	if !l.handler.HandleInitialSync(resp, l.isCurrent(gen)) {
		logrus.Debug("[SYNC] Dropping initial sync received while inactive")
		return Outcome{}, nil
	}
	out := l.transition(func(s State) (State, Outcome) {
		return s.InitialSucceeded(gen, resp.End)
	})
	if out.Action == ActionNone {
		logrus.Debug("[SYNC] Sync went inactive after the initial sync was applied")
		return out, nil
	}
	logrus.WithField("cursor", resp.End).Info("[SYNC] Initial sync complete")
	return out, nil
}

func (l *Loop) incrementalSync(ctx context.Context, gen uint64, cursor string) (Outcome, error) {
	// The server can't be trusted to return within the timeout it was
	// given, so the request is abandoned once the buffer has passed too.
	pollCtx, cancel := context.WithTimeout(ctx, l.cfg.ServerTimeout()+l.cfg.WatchdogBuffer())
	defer cancel()
	start := time.Now()
	resp, err := l.transport.Sync(pollCtx, cursor, l.cfg.ServerTimeout())
	if err == nil && resp == nil {
		resp = &synctypes.SyncResponse{}
	}
	if err != nil {
		if ctx.Err() == nil && pollCtx.Err() == context.DeadlineExceeded {
			logrus.WithField("cursor", cursor).Warn("[SYNC] Sync request timed out client-side")
		}
		out := l.transition(func(s State) (State, Outcome) {
			return s.Failed(gen, err, l.policy)
		})
		if out.Action == ActionRetry {
			syncFailures.WithLabelValues("incremental").Inc()
			logrus.WithError(err).WithField("retry_in", out.Delay).Warn("[SYNC] Sync failed, retrying")
		}
		return out, err
	}
	next := resp.NextBatch
	if next == "" {
		next = cursor
	}
	if !l.handler.HandleSync(resp, l.isCurrent(gen)) {
		logrus.Debug("[SYNC] Dropping sync response received while inactive")
		return Outcome{}, nil
	}
	observeSyncMetrics(time.Since(start), len(resp.Events()))
	out := l.transition(func(s State) (State, Outcome) {
		return s.Succeeded(gen, next)
	})
	if out.Action == ActionNone {
		logrus.WithField("next_batch", next).Debug("[SYNC] Sync went inactive after the batch was applied")
	}
	return out, nil
}
