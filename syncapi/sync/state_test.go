// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package sync

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/matrix-org/gomatrix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("connection reset")

func testPolicy() Policy {
	return Policy{
		MaxFailedAttempts: 4,
		Backoff: Backoff{
			Base:      time.Second,
			Max:       time.Minute,
			MaxJitter: 3 * time.Second,
			Jitter:    func(max time.Duration) time.Duration { return max / 2 },
		},
	}
}

func TestStateResume(t *testing.T) {
	var s State
	s, out := s.Resume()
	assert.Equal(t, PhaseSyncing, s.Phase)
	assert.Equal(t, ActionInitialSync, out.Action)
	assert.Equal(t, uint64(1), s.Generation)

	again, out := s.Resume()
	assert.Equal(t, ActionNone, out.Action, "resuming a running loop does nothing")
	assert.Equal(t, s, again)

	s, out = s.InitialSucceeded(s.Generation, "s1")
	assert.Equal(t, ActionSync, out.Action)
	assert.Equal(t, "s1", s.Cursor)

	s, _ = s.Pause()
	assert.Equal(t, PhasePaused, s.Phase)
	s, out = s.Resume()
	assert.Equal(t, ActionSync, out.Action, "a paused loop keeps its cursor")
	assert.Equal(t, "s1", s.Cursor)
}

func TestStateBadConnection(t *testing.T) {
	p := testPolicy()
	s, _ := State{}.Resume()
	s, _ = s.InitialSucceeded(s.Generation, "s1")

	var raised int
	for i := 1; i <= 6; i++ {
		var out Outcome
		s, out = s.Failed(s.Generation, errTransient, p)
		require.Equal(t, ActionRetry, out.Action)
		assert.Equal(t, i, s.Failures)
		if out.BadConnectionChanged {
			raised++
			assert.Equal(t, 4, i, "the advisory is raised on the fourth failure")
		}
		assert.Equal(t, i >= 4, s.BadConnection)
	}
	assert.Equal(t, 1, raised)

	s, out := s.Succeeded(s.Generation, "s2")
	assert.True(t, out.BadConnectionChanged)
	assert.False(t, s.BadConnection)
	assert.Zero(t, s.Failures)
	assert.Equal(t, "s2", s.Cursor)
	assert.Equal(t, ActionSync, out.Action)

	_, out = s.Succeeded(s.Generation, "s3")
	assert.False(t, out.BadConnectionChanged)
}

func TestStateDelays(t *testing.T) {
	p := testPolicy()
	s, _ := State{}.Resume()
	s, _ = s.InitialSucceeded(s.Generation, "s1")

	var prev time.Duration
	for i := 0; i < 20; i++ {
		var out Outcome
		s, out = s.Failed(s.Generation, errTransient, p)
		assert.GreaterOrEqual(t, out.Delay, prev)
		assert.LessOrEqual(t, out.Delay, p.Backoff.Max)
		prev = out.Delay
	}
	assert.Equal(t, p.Backoff.Max, prev)

	s, _ = s.Succeeded(s.Generation, "s2")
	_, out := s.Failed(s.Generation, errTransient, p)
	assert.Equal(t, 2*time.Second+1500*time.Millisecond, out.Delay, "delays start over after a success")
}

func TestStateInitialFailures(t *testing.T) {
	p := testPolicy()
	s, _ := State{}.Resume()
	s, out := s.InitialFailed(s.Generation, errTransient, p)
	assert.Equal(t, ActionRetry, out.Action)
	assert.Equal(t, 1, s.InitialFailures)
	assert.Zero(t, s.Failures)

	s, out = s.InitialSucceeded(s.Generation, "s1")
	assert.Equal(t, ActionSync, out.Action)
	assert.Zero(t, s.InitialFailures)
}

func TestStateAuthFailureStops(t *testing.T) {
	for _, err := range []error{
		gomatrix.HTTPError{Code: http.StatusForbidden},
		&gomatrix.HTTPError{Code: http.StatusUnauthorized},
	} {
		s, _ := State{}.Resume()
		gen := s.Generation
		s, out := s.InitialFailed(gen, err, testPolicy())
		assert.Equal(t, ActionStop, out.Action)
		assert.Equal(t, PhaseStopped, s.Phase)

		_, out = s.InitialSucceeded(gen, "s1")
		assert.Equal(t, ActionNone, out.Action)
	}
}

func TestStateStaleResultsAreDropped(t *testing.T) {
	s, _ := State{}.Resume()
	s, _ = s.InitialSucceeded(s.Generation, "s1")
	gen := s.Generation

	s, _ = s.Pause()
	paused := s
	s, out := s.Succeeded(gen, "s2")
	assert.Equal(t, ActionNone, out.Action)
	assert.Equal(t, paused, s)

	s, _ = s.Resume()
	s, out = s.Failed(gen, errTransient, testPolicy())
	assert.Equal(t, ActionNone, out.Action, "a cycle from before the pause must not come back to life")
	assert.Zero(t, s.Failures)
}

func TestStateStop(t *testing.T) {
	p := testPolicy()
	s, _ := State{}.Resume()
	s, _ = s.InitialSucceeded(s.Generation, "s1")
	for i := 0; i < 4; i++ {
		s, _ = s.Failed(s.Generation, errTransient, p)
	}
	require.True(t, s.BadConnection)

	s, out := s.Stop()
	assert.Equal(t, PhaseStopped, s.Phase)
	assert.Empty(t, s.Cursor)
	assert.False(t, s.BadConnection)
	assert.True(t, out.BadConnectionChanged)

	_, out = s.Resume()
	assert.Equal(t, ActionInitialSync, out.Action)
}
