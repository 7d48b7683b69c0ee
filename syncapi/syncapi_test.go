// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package syncapi

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/element-hq/roomsync/setup/config"
	"github.com/element-hq/roomsync/syncapi/model"
	"github.com/element-hq/roomsync/syncapi/notifier"
	"github.com/element-hq/roomsync/syncapi/synctypes"
	"github.com/element-hq/roomsync/test"
)

func TestStartSyncStop(t *testing.T) {
	alice := test.NewUser(t)
	bob := test.NewUser(t)
	room := test.NewRoom(t, alice)
	live := room.CreateEvent(t, bob, synctypes.MRoomMessage, map[string]string{"body": "hello"})

	var mu sync.Mutex
	var syncs []string
	transport := &test.FakeTransport{
		InitialSyncFunc: func(ctx context.Context, limit int) (*synctypes.InitialSyncResponse, error) {
			return &synctypes.InitialSyncResponse{
				End: "s1",
				Rooms: []synctypes.InitialSyncRoom{{
					RoomID:     room.ID,
					Membership: "join",
					State:      room.CurrentState(),
				}},
			}, nil
		},
		SyncFunc: func(ctx context.Context, since string, timeout time.Duration) (*synctypes.SyncResponse, error) {
			mu.Lock()
			syncs = append(syncs, since)
			first := len(syncs) == 1
			mu.Unlock()
			if first {
				return &synctypes.SyncResponse{
					NextBatch: "s2",
					Rooms:     []synctypes.SyncRoom{{RoomID: room.ID, Events: []*synctypes.Event{live}}},
				}, nil
			}
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	cfg := &config.SyncAPI{}
	cfg.Defaults()
	cfg.UserID = alice.ID
	cfg.Reaper.Enabled = false
	s := New(cfg, transport)
	defer s.Close()

	var notesMu sync.Mutex
	var kinds []notifier.Kind
	s.Subscribe(func(n notifier.Notification) {
		notesMu.Lock()
		defer notesMu.Unlock()
		kinds = append(kinds, n.Kind)
	}, notifier.Message, notifier.Reset)

	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Dispatcher.WaitForInitialSync(ctx))

	require.Eventually(t, func() bool {
		var n int
		s.Dispatcher.View(func(store *model.Store) {
			if r, ok := store.Room(room.ID); ok {
				n = len(r.Timeline)
			}
		})
		return n == 1
	}, 5*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(syncs) == 2
	}, 5*time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"s1", "s2"}, syncs)
	mu.Unlock()

	s.Stop()
	s.Notifier.Flush()
	s.Dispatcher.View(func(store *model.Store) {
		assert.Empty(t, store.Rooms())
	})
	notesMu.Lock()
	assert.Equal(t, []notifier.Kind{notifier.Message, notifier.Reset}, kinds)
	notesMu.Unlock()
	assert.Equal(t, "", s.Loop.State().Cursor)
}

func TestViewingRoom(t *testing.T) {
	cfg := &config.SyncAPI{}
	cfg.Defaults()
	cfg.UserID = "@alice:test"
	s := New(cfg, &test.FakeTransport{})
	defer s.Close()

	assert.Equal(t, "", s.ViewingRoom())
	s.SetViewingRoom("!room:test")
	assert.Equal(t, "!room:test", s.ViewingRoom())
}
