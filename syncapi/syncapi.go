// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package syncapi

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/element-hq/roomsync/setup/config"
	"github.com/element-hq/roomsync/syncapi/api"
	"github.com/element-hq/roomsync/syncapi/dispatcher"
	syncinternal "github.com/element-hq/roomsync/syncapi/internal"
	"github.com/element-hq/roomsync/syncapi/model"
	"github.com/element-hq/roomsync/syncapi/notifier"
	syncloop "github.com/element-hq/roomsync/syncapi/sync"
	"github.com/element-hq/roomsync/syncapi/typing"
)

// SyncAPI is a client sync core: it keeps a model of the rooms the local
// user is in up to date from the server and raises notifications about it.
type SyncAPI struct {
	Config     *config.SyncAPI
	Store      *model.Store
	Notifier   *notifier.Notifier
	Dispatcher *dispatcher.Dispatcher
	Loop       *syncloop.Loop
	Typing     *typing.Sender
	Reaper     *syncinternal.Reaper

	ctx     context.Context
	cancel  context.CancelFunc
	viewing *atomic.String

	mu      sync.Mutex
	running bool
}

// New wires up the sync core for the given transport. Nothing talks to
// the server until Start is called.
func New(cfg *config.SyncAPI, transport api.Transport, opts ...dispatcher.Option) *SyncAPI {
	ctx, cancel := context.WithCancel(context.Background())
	s := &SyncAPI{
		Config:   cfg,
		Store:    model.NewStore(cfg.UserID),
		Notifier: notifier.NewNotifier(),
		ctx:      ctx,
		cancel:   cancel,
		viewing:  atomic.NewString(""),
	}
	s.Dispatcher = dispatcher.NewDispatcher(cfg, s.Store, s.Notifier, transport, opts...)
	s.Loop = syncloop.NewLoop(cfg, transport, s.Dispatcher, s.Notifier)
	s.Typing = typing.NewSender(ctx, &cfg.Typing, transport)
	s.Reaper = syncinternal.NewReaper(&cfg.Reaper, s.Dispatcher, s.viewing.Load)
	return s
}

// Start begins syncing and reaping. The returned channel behaves as the
// one returned by Loop.Resume.
func (s *SyncAPI) Start() <-chan error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		logrus.WithField("user_id", s.Config.UserID).Info("Starting sync")
		s.Reaper.Start(s.ctx)
		s.running = true
	}
	return s.Loop.Resume(s.ctx)
}

// Pause stops syncing but keeps the model and the cursor.
func (s *SyncAPI) Pause() {
	s.Loop.Pause()
}

// Stop stops syncing and reaping and throws the model away. A later Start
// begins again with an initial sync.
func (s *SyncAPI) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Loop.Stop()
	s.Reaper.Stop()
	s.Dispatcher.Reset()
	s.running = false
	logrus.WithField("user_id", s.Config.UserID).Info("Stopped sync")
}

// Close stops everything, including any typing notifications in flight.
// The SyncAPI can't be used afterwards.
func (s *SyncAPI) Close() {
	s.Stop()
	s.cancel()
	s.Notifier.Flush()
}

// SetViewingRoom records the room the user is looking at, which the
// reaper leaves alone. An empty room ID means none.
func (s *SyncAPI) SetViewingRoom(roomID string) {
	s.viewing.Store(roomID)
}

func (s *SyncAPI) ViewingRoom() string {
	return s.viewing.Load()
}

// Subscribe registers fn for notifications of the given kinds.
func (s *SyncAPI) Subscribe(fn notifier.Listener, kinds ...notifier.Kind) (unsubscribe func()) {
	return s.Notifier.Subscribe(fn, kinds...)
}
