// Copyright 2025 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package internal

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/element-hq/roomsync/setup/config"
	"github.com/element-hq/roomsync/syncapi/model"
)

// RoomReloader is implemented by the dispatcher.
type RoomReloader interface {
	View(f func(store *model.Store))
	ReapRoom(ctx context.Context, roomID string, limit int) error
}

const (
	// Number of concurrent workers reloading rooms
	reaperWorkerCount = 1
	// How long to wait before retrying a room which failed to reload
	reaperRetryDelay = time.Minute * 5
	reaperQueueSize  = 100
)

var (
	reapedRooms = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "roomsync",
			Subsystem: "syncapi",
			Name:      "reaped_rooms_total",
			Help:      "Total number of rooms reloaded to trim their timelines",
		},
	)
	registerReaperMetrics sync.Once
)

func init() {
	registerReaperMetrics.Do(func() {
		prometheus.MustRegister(reapedRooms)
	})
}

// Reaper keeps memory use bounded by periodically reloading rooms whose
// timelines have grown past a limit, which throws away all but their most
// recent messages. The room the user is looking at is left alone.
type Reaper struct {
	cfg      *config.Reaper
	rooms    RoomReloader
	viewing  func() string
	workerCh chan string
	retryMu  sync.Mutex
	retryMap map[string]time.Time
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewReaper creates a reaper. viewing returns the room the user is looking
// at, if any, and may be nil.
func NewReaper(cfg *config.Reaper, rooms RoomReloader, viewing func() string) *Reaper {
	return &Reaper{
		cfg:      cfg,
		rooms:    rooms,
		viewing:  viewing,
		workerCh: make(chan string, reaperQueueSize),
		retryMap: make(map[string]time.Time),
	}
}

// Start begins reaping in the background until ctx is done or Stop is
// called. It does nothing if the reaper is disabled or already running.
func (r *Reaper) Start(ctx context.Context) {
	if !r.cfg.Enabled {
		logrus.Debug("[REAPER] Disabled")
		return
	}
	if r.cancel != nil {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	for i := 0; i < reaperWorkerCount; i++ {
		r.wg.Add(1)
		go r.worker(ctx, i)
	}
	r.wg.Add(1)
	go r.tickerLoop(ctx)
	logrus.WithField("interval", r.cfg.Interval()).Info("[REAPER] Started")
}

// Stop stops the background goroutines and waits for them to exit.
func (r *Reaper) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	r.wg.Wait()
	r.cancel = nil
}

func (r *Reaper) viewed() string {
	if r.viewing == nil {
		return ""
	}
	return r.viewing()
}

// Candidates returns the rooms which need reaping.
func (r *Reaper) Candidates() []string {
	viewed := r.viewed()
	var roomIDs []string
	r.rooms.View(func(store *model.Store) {
		for _, room := range store.Rooms() {
			if room.ID != viewed && len(room.Timeline) > r.cfg.MaxEvents {
				roomIDs = append(roomIDs, room.ID)
			}
		}
	})
	return roomIDs
}

// ReapOnce reaps every candidate room now and returns how many were
// reloaded.
func (r *Reaper) ReapOnce(ctx context.Context) int {
	reaped := 0
	for _, roomID := range r.Candidates() {
		if err := r.processRoom(ctx, roomID); err != nil {
			logrus.WithError(err).WithField("room_id", roomID).Warn("[REAPER] Failed to reload room")
			continue
		}
		reaped++
	}
	return reaped
}

// QueueRoom adds a room to the processing queue
func (r *Reaper) QueueRoom(roomID string) {
	select {
	case r.workerCh <- roomID:
	default:
		// Channel full, add to retry map
		r.retryMu.Lock()
		if _, exists := r.retryMap[roomID]; !exists {
			r.retryMap[roomID] = time.Now().Add(r.cfg.Interval())
		}
		r.retryMu.Unlock()
	}
}

func (r *Reaper) worker(ctx context.Context, workerID int) {
	defer r.wg.Done()
	for {
		var roomID string
		select {
		case <-ctx.Done():
			return
		case roomID = <-r.workerCh:
		}
		if err := r.processRoom(ctx, roomID); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"room_id":   roomID,
				"worker_id": workerID,
			}).Warn("[REAPER] Failed to reload room, will retry")

			r.retryMu.Lock()
			r.retryMap[roomID] = time.Now().Add(reaperRetryDelay)
			r.retryMu.Unlock()
		}
	}
}

// tickerLoop periodically queues rooms needing reaping and retries failed rooms
func (r *Reaper) tickerLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.processRetries()
			for _, roomID := range r.Candidates() {
				r.QueueRoom(roomID)
			}
		}
	}
}

// processRetries moves due items from retryMap back to workerCh
func (r *Reaper) processRetries() {
	r.retryMu.Lock()
	now := time.Now()
	var toRetry []string
	for roomID, retryAt := range r.retryMap {
		if now.After(retryAt) {
			toRetry = append(toRetry, roomID)
		}
	}
	for _, roomID := range toRetry {
		delete(r.retryMap, roomID)
	}
	r.retryMu.Unlock()

	for _, roomID := range toRetry {
		r.QueueRoom(roomID)
	}
}

// processRoom reloads a single room if it still needs it. The room may
// have been reaped already or be in view by the time it is processed.
func (r *Reaper) processRoom(ctx context.Context, roomID string) error {
	if roomID == r.viewed() {
		return nil
	}
	var size int
	r.rooms.View(func(store *model.Store) {
		if room, ok := store.Room(roomID); ok {
			size = len(room.Timeline)
		}
	})
	if size <= r.cfg.MaxEvents {
		return nil
	}
	if err := r.rooms.ReapRoom(ctx, roomID, r.cfg.SyncLimit); err != nil {
		return err
	}
	reapedRooms.Inc()
	logrus.WithFields(logrus.Fields{
		"room_id": roomID,
		"events":  size,
	}).Info("[REAPER] Reloaded room")
	return nil
}
