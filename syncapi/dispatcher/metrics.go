// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package dispatcher

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	eventsHandled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roomsync",
			Subsystem: "syncapi",
			Name:      "events_handled_total",
			Help:      "Total number of events applied to the model, by kind",
		},
		[]string{"kind"},
	)

	duplicateEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "roomsync",
			Subsystem: "syncapi",
			Name:      "duplicate_events_total",
			Help:      "Total number of events dropped because they had already been seen",
		},
	)

	notificationsRaised = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "roomsync",
			Subsystem: "syncapi",
			Name:      "notifications_total",
			Help:      "Total number of notifications raised for the user",
		},
	)
)

var registerDispatcherMetrics sync.Once

func init() {
	registerDispatcherMetrics.Do(func() {
		prometheus.MustRegister(eventsHandled, duplicateEvents, notificationsRaised)
	})
}
