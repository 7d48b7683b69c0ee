// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package sync

import (
	"time"

	"github.com/element-hq/roomsync/syncapi/api"
)

// Phase is where the loop is in its lifecycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSyncing
	PhasePaused
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSyncing:
		return "syncing"
	case PhasePaused:
		return "paused"
	case PhaseStopped:
		return "stopped"
	}
	return "unknown"
}

// Action is what the driver has to do after a transition.
type Action int

const (
	// ActionNone means there is nothing to do. Results of a cycle started
	// before a pause, stop or resume are dropped this way.
	ActionNone Action = iota
	ActionInitialSync
	ActionSync
	// ActionRetry means waiting Outcome.Delay before the next attempt.
	ActionRetry
	// ActionStop means the loop gave up because of an auth failure.
	ActionStop
)

// Outcome describes the side effects of a transition.
type Outcome struct {
	Action Action
	Delay  time.Duration
	// BadConnectionChanged is set when the transition raised or cleared
	// the bad connection advisory.
	BadConnectionChanged bool
}

// Policy holds the retry parameters used by the failure transitions.
type Policy struct {
	MaxFailedAttempts int
	Backoff           Backoff
}

// State is the retry state of the sync loop. Transitions never modify the
// receiver. Every transition which starts or abandons cycles bumps the
// generation, and the results of a cycle are only accepted if they carry
// the generation it was started with.
type State struct {
	Phase           Phase
	Cursor          string
	Failures        int
	InitialFailures int
	BadConnection   bool
	Generation      uint64
	// LastDelay is the previous retry delay. Delays never shrink while
	// failures continue.
	LastDelay time.Duration
}

func (s State) next() Action {
	if s.Cursor == "" {
		return ActionInitialSync
	}
	return ActionSync
}

// Resume starts syncing. An initial sync is needed if there is no cursor.
// Resuming while already syncing does nothing.
func (s State) Resume() (State, Outcome) {
	if s.Phase == PhaseSyncing {
		return s, Outcome{}
	}
	s.Phase = PhaseSyncing
	s.Generation++
	s.LastDelay = 0
	return s, Outcome{Action: s.next()}
}

// Pause stops syncing but keeps the cursor, so that resuming carries on
// where the loop left off.
func (s State) Pause() (State, Outcome) {
	if s.Phase != PhaseSyncing {
		return s, Outcome{}
	}
	s.Phase = PhasePaused
	s.Generation++
	return s, Outcome{}
}

// Stop stops syncing and forgets the cursor and the failure counters.
func (s State) Stop() (State, Outcome) {
	out := Outcome{BadConnectionChanged: s.BadConnection}
	return State{
		Phase:      PhaseStopped,
		Generation: s.Generation + 1,
	}, out
}

func (s State) current(gen uint64) bool {
	return s.Phase == PhaseSyncing && s.Generation == gen
}

func (s State) succeeded(cursor string) (State, Outcome) {
	out := Outcome{BadConnectionChanged: s.BadConnection}
	s.Cursor = cursor
	s.Failures = 0
	s.InitialFailures = 0
	s.BadConnection = false
	s.LastDelay = 0
	out.Action = s.next()
	return s, out
}

func (s State) failed(failures int, err error, p Policy) (State, Outcome) {
	var out Outcome
	if failures >= p.MaxFailedAttempts && !s.BadConnection {
		s.BadConnection = true
		out.BadConnectionChanged = true
	}
	if api.IsAuthError(err) {
		s.Phase = PhaseStopped
		s.Generation++
		out.Action = ActionStop
		return s, out
	}
	out.Action = ActionRetry
	out.Delay = p.Backoff.Delay(failures, s.LastDelay)
	s.LastDelay = out.Delay
	return s, out
}

// InitialSucceeded records the end token of an initial sync.
func (s State) InitialSucceeded(gen uint64, cursor string) (State, Outcome) {
	if !s.current(gen) {
		return s, Outcome{}
	}
	return s.succeeded(cursor)
}

// InitialFailed counts a failed initial sync.
func (s State) InitialFailed(gen uint64, err error, p Policy) (State, Outcome) {
	if !s.current(gen) {
		return s, Outcome{}
	}
	s.InitialFailures++
	return s.failed(s.InitialFailures, err, p)
}

// Succeeded advances the cursor after an incremental sync.
func (s State) Succeeded(gen uint64, cursor string) (State, Outcome) {
	if !s.current(gen) {
		return s, Outcome{}
	}
	return s.succeeded(cursor)
}

// Failed counts a failed incremental sync. Once MaxFailedAttempts
// consecutive syncs have failed the bad connection advisory is raised.
// Auth failures stop the loop instead of retrying.
func (s State) Failed(gen uint64, err error, p Policy) (State, Outcome) {
	if !s.current(gen) {
		return s, Outcome{}
	}
	s.Failures++
	return s.failed(s.Failures, err, p)
}
