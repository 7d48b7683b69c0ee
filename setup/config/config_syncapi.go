// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package config

import (
	"fmt"
	"time"

	"github.com/matrix-org/gomatrixserverlib/spec"
)

type SyncAPI struct {
	// The fully qualified ID of the local user, e.g. @alice:example.com
	UserID string `yaml:"user_id"`

	// The display name of the local user, used by contains_display_name
	// push rule conditions.
	DisplayName string `yaml:"display_name"`

	// Words which trigger a notification when no push ruleset has been
	// fetched from the server. An empty list means notify on everything.
	BingWords []string `yaml:"bing_words"`

	// The server-side long-poll timeout requested on every incremental sync.
	ServerTimeoutMS int64 `yaml:"server_timeout_ms"`

	// Extra time allowed on top of the server timeout before a sync request
	// is abandoned client-side.
	WatchdogBufferMS int64 `yaml:"watchdog_buffer_ms"`

	BackoffBaseMS int64 `yaml:"backoff_base_ms"`
	BackoffMaxMS  int64 `yaml:"backoff_max_ms"`
	MaxJitterMS   int64 `yaml:"max_jitter_ms"`

	// The number of consecutive failures after which the bad connection
	// advisory is raised.
	MaxFailedAttempts int `yaml:"max_failed_attempts"`

	// The number of messages per room to request in the initial sync.
	InitialSyncLimit int `yaml:"initial_sync_limit"`

	// The number of messages to request per back-pagination.
	PaginationLimit int `yaml:"pagination_limit"`

	// How long a seen event ID suppresses duplicates, and how often
	// expired entries are swept.
	DedupLifetimeMS int64 `yaml:"dedup_lifetime_ms"`
	DedupSweepMS    int64 `yaml:"dedup_sweep_ms"`

	Reaper Reaper `yaml:"reaper"`
	Typing Typing `yaml:"typing"`
}

// Reaper controls trimming of rooms whose timelines have grown too large.
type Reaper struct {
	Enabled    bool  `yaml:"enabled"`
	MaxEvents  int   `yaml:"max_events"`
	SyncLimit  int   `yaml:"sync_limit"`
	IntervalMS int64 `yaml:"interval_ms"`
}

// Typing controls outbound typing notifications.
type Typing struct {
	// How long after the last keystroke the user stops being typing.
	UserTimeoutMS int64 `yaml:"user_timeout_ms"`
	// How often typing=true is re-sent while the user keeps typing.
	ServerTimeoutMS int64 `yaml:"server_timeout_ms"`
	// The timeout sent to the server alongside typing=true.
	ServerSpecifiedTimeoutMS int64 `yaml:"server_specified_timeout_ms"`
}

func (c *SyncAPI) Defaults() {
	c.ServerTimeoutMS = 30000
	c.WatchdogBufferMS = 10000
	c.BackoffBaseMS = 1000
	c.BackoffMaxMS = 60000
	c.MaxJitterMS = 3000
	c.MaxFailedAttempts = 4
	c.InitialSyncLimit = 8
	c.PaginationLimit = 20
	c.DedupLifetimeMS = 10000
	c.DedupSweepMS = 11000
	c.Reaper.Defaults()
	c.Typing.Defaults()
}

func (c *SyncAPI) Verify(configErrs *ConfigErrors) {
	checkNotEmpty(configErrs, "sync_api.user_id", c.UserID)
	if c.UserID != "" {
		if _, err := spec.NewUserID(c.UserID, true); err != nil {
			configErrs.Add(fmt.Sprintf("invalid value for config key \"sync_api.user_id\": %s", err))
		}
	}
	checkPositive(configErrs, "sync_api.server_timeout_ms", c.ServerTimeoutMS)
	checkPositive(configErrs, "sync_api.watchdog_buffer_ms", c.WatchdogBufferMS)
	checkPositive(configErrs, "sync_api.backoff_base_ms", c.BackoffBaseMS)
	checkPositive(configErrs, "sync_api.backoff_max_ms", c.BackoffMaxMS)
	if c.MaxJitterMS < 0 {
		configErrs.Add(fmt.Sprintf("invalid value for config key %q: %d", "sync_api.max_jitter_ms", c.MaxJitterMS))
	}
	if c.BackoffMaxMS < c.BackoffBaseMS {
		configErrs.Add("sync_api.backoff_max_ms must not be less than sync_api.backoff_base_ms")
	}
	checkPositive(configErrs, "sync_api.max_failed_attempts", int64(c.MaxFailedAttempts))
	checkPositive(configErrs, "sync_api.initial_sync_limit", int64(c.InitialSyncLimit))
	checkPositive(configErrs, "sync_api.pagination_limit", int64(c.PaginationLimit))
	checkPositive(configErrs, "sync_api.dedup_lifetime_ms", c.DedupLifetimeMS)
	checkPositive(configErrs, "sync_api.dedup_sweep_ms", c.DedupSweepMS)
	c.Reaper.Verify(configErrs)
	c.Typing.Verify(configErrs)
}

func (c *SyncAPI) ServerTimeout() time.Duration {
	return time.Duration(c.ServerTimeoutMS) * time.Millisecond
}

func (c *SyncAPI) WatchdogBuffer() time.Duration {
	return time.Duration(c.WatchdogBufferMS) * time.Millisecond
}

func (c *SyncAPI) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMS) * time.Millisecond
}

func (c *SyncAPI) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMS) * time.Millisecond
}

func (c *SyncAPI) MaxJitter() time.Duration {
	return time.Duration(c.MaxJitterMS) * time.Millisecond
}

func (c *SyncAPI) DedupLifetime() time.Duration {
	return time.Duration(c.DedupLifetimeMS) * time.Millisecond
}

func (c *SyncAPI) DedupSweep() time.Duration {
	return time.Duration(c.DedupSweepMS) * time.Millisecond
}

func (r *Reaper) Defaults() {
	r.Enabled = true
	r.MaxEvents = 50
	r.SyncLimit = 30
	r.IntervalMS = 60000
}

func (r *Reaper) Verify(configErrs *ConfigErrors) {
	if !r.Enabled {
		return
	}
	checkPositive(configErrs, "sync_api.reaper.max_events", int64(r.MaxEvents))
	checkPositive(configErrs, "sync_api.reaper.sync_limit", int64(r.SyncLimit))
	checkPositive(configErrs, "sync_api.reaper.interval_ms", r.IntervalMS)
}

func (r *Reaper) Interval() time.Duration {
	return time.Duration(r.IntervalMS) * time.Millisecond
}

func (t *Typing) Defaults() {
	t.UserTimeoutMS = 5000
	t.ServerTimeoutMS = 25000
	t.ServerSpecifiedTimeoutMS = 30000
}

func (t *Typing) Verify(configErrs *ConfigErrors) {
	checkPositive(configErrs, "sync_api.typing.user_timeout_ms", t.UserTimeoutMS)
	checkPositive(configErrs, "sync_api.typing.server_timeout_ms", t.ServerTimeoutMS)
	checkPositive(configErrs, "sync_api.typing.server_specified_timeout_ms", t.ServerSpecifiedTimeoutMS)
	if t.ServerTimeoutMS >= t.ServerSpecifiedTimeoutMS {
		configErrs.Add("sync_api.typing.server_timeout_ms must be less than sync_api.typing.server_specified_timeout_ms")
	}
}

func (t *Typing) UserTimeout() time.Duration {
	return time.Duration(t.UserTimeoutMS) * time.Millisecond
}

func (t *Typing) ServerTimeout() time.Duration {
	return time.Duration(t.ServerTimeoutMS) * time.Millisecond
}

func (t *Typing) ServerSpecifiedTimeout() time.Duration {
	return time.Duration(t.ServerSpecifiedTimeoutMS) * time.Millisecond
}
