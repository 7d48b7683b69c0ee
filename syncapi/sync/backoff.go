// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package sync

import (
	"math/rand"
	"time"
)

// maxBackoffShift bounds the exponent so the doubling cannot overflow.
const maxBackoffShift = 30

// Backoff computes retry delays: Base doubled per consecutive failure plus
// up to MaxJitter of jitter, capped at Max.
type Backoff struct {
	Base      time.Duration
	Max       time.Duration
	MaxJitter time.Duration
	// Jitter returns a value in [0, max). Defaults to a uniform random
	// duration.
	Jitter func(max time.Duration) time.Duration
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}

// Delay returns the delay before retrying after the given number of
// consecutive failures. It is never less than prev, so delays don't shrink
// while failures continue, and never more than Max.
func (b Backoff) Delay(failures int, prev time.Duration) time.Duration {
	shift := failures
	if shift < 0 {
		shift = 0
	}
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	delay := b.Base << uint(shift)
	if delay <= 0 || delay > b.Max {
		delay = b.Max
	}
	jitter := b.Jitter
	if jitter == nil {
		jitter = randomJitter
	}
	delay += jitter(b.MaxJitter)
	if delay > b.Max {
		delay = b.Max
	}
	if delay < prev {
		delay = prev
	}
	return delay
}
