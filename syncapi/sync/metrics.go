// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package sync

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	syncDurationHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "roomsync",
			Subsystem: "syncapi",
			Name:      "sync_duration_seconds",
			Help:      "Time taken by successful sync requests",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 10, 20, 30, 40, 60},
		},
	)

	syncBatchEvents = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "roomsync",
			Subsystem: "syncapi",
			Name:      "sync_batch_events",
			Help:      "Number of events in each incremental sync batch",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	syncFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roomsync",
			Subsystem: "syncapi",
			Name:      "sync_failures_total",
			Help:      "Total number of failed sync requests",
		},
		[]string{"phase"},
	)

	badConnectionGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "roomsync",
			Subsystem: "syncapi",
			Name:      "bad_connection",
			Help:      "Whether the bad connection advisory is raised",
		},
	)
)

var registerSyncMetrics sync.Once

func init() {
	registerSyncMetrics.Do(func() {
		prometheus.MustRegister(syncDurationHistogram, syncBatchEvents, syncFailures, badConnectionGauge)
	})
}

func observeSyncMetrics(duration time.Duration, events int) {
	syncDurationHistogram.Observe(duration.Seconds())
	syncBatchEvents.Observe(float64(events))
}
