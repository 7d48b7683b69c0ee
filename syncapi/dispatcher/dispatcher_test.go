// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/matrix-org/gomatrixserverlib/spec"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/element-hq/roomsync/setup/config"
	"github.com/element-hq/roomsync/syncapi/api"
	"github.com/element-hq/roomsync/syncapi/model"
	"github.com/element-hq/roomsync/syncapi/notifier"
	"github.com/element-hq/roomsync/syncapi/synctypes"
	"github.com/element-hq/roomsync/test"
)

type collector struct {
	n     *notifier.Notifier
	mu    sync.Mutex
	notes []notifier.Notification
}

func collect(t *testing.T, n *notifier.Notifier, kinds ...notifier.Kind) *collector {
	t.Helper()
	c := &collector{n: n}
	unsubscribe := n.Subscribe(func(note notifier.Notification) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.notes = append(c.notes, note)
	}, kinds...)
	t.Cleanup(unsubscribe)
	return c
}

func (c *collector) get() []notifier.Notification {
	c.n.Flush()
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]notifier.Notification(nil), c.notes...)
}

func (c *collector) count(kind notifier.Kind) int {
	total := 0
	for _, note := range c.get() {
		if note.Kind == kind {
			total++
		}
	}
	return total
}

func mustCreateDispatcher(t *testing.T, me *test.User, transport *test.FakeTransport, opts ...Option) (*Dispatcher, *notifier.Notifier) {
	t.Helper()
	cfg := &config.SyncAPI{}
	cfg.Defaults()
	cfg.UserID = me.ID
	if transport == nil {
		transport = &test.FakeTransport{}
	}
	n := notifier.NewNotifier()
	return NewDispatcher(cfg, model.NewStore(me.ID), n, transport, opts...), n
}

func timeline(d *Dispatcher, roomID string) []string {
	var ids []string
	d.View(func(store *model.Store) {
		if room, ok := store.Room(roomID); ok {
			for _, ae := range room.Timeline {
				ids = append(ids, ae.Event.EventID)
			}
		}
	})
	return ids
}

func TestDuplicateEventsAreDropped(t *testing.T) {
	alice := test.NewUser(t)
	bob := test.NewUser(t)
	d, n := mustCreateDispatcher(t, alice, nil)
	messages := collect(t, n, notifier.Message)
	room := test.NewRoom(t, bob)
	msg := room.CreateAndInsert(t, bob, synctypes.MRoomMessage, map[string]interface{}{"body": "hi"})

	before := testutil.ToFloat64(duplicateEvents)
	d.HandleEvents([]*synctypes.Event{msg, msg}, true)
	d.HandleEvent(msg, false)

	assert.Equal(t, []string{msg.EventID}, timeline(d, room.ID))
	assert.Equal(t, 1, messages.count(notifier.Message))
	assert.Equal(t, before+2, testutil.ToFloat64(duplicateEvents))

	d.WipeDuplicateDetection(room.ID)
	d.HandleEvent(msg, true)
	assert.Len(t, timeline(d, room.ID), 2)
}

func TestMessagesLiveAndHistorical(t *testing.T) {
	alice := test.NewUser(t)
	bob := test.NewUser(t)
	d, _ := mustCreateDispatcher(t, alice, nil)
	room := test.NewRoom(t, bob)
	first := room.CreateAndInsert(t, bob, synctypes.MRoomMessage, map[string]interface{}{"body": "one"})
	second := room.CreateAndInsert(t, bob, synctypes.MRoomMessage, map[string]interface{}{"body": "two"})
	empty := room.CreateAndInsert(t, bob, synctypes.MRoomMessage, map[string]interface{}{})

	d.HandleEvent(second, true)
	d.HandleEvent(first, false)
	d.HandleEvent(empty, true)

	assert.Equal(t, []string{first.EventID, second.EventID}, timeline(d, room.ID))
}

func TestRoomMessagesOrdering(t *testing.T) {
	alice := test.NewUser(t)
	d, _ := mustCreateDispatcher(t, alice, nil)
	room := test.NewRoom(t, alice)
	var events []*synctypes.Event
	for i := 0; i < 3; i++ {
		events = append(events, room.CreateAndInsert(t, alice, synctypes.MRoomMessage, map[string]interface{}{"body": "m"}))
	}

	t.Run("chronological page", func(t *testing.T) {
		page := &synctypes.MessagesPage{Chunk: events[1:], Start: "t1", End: "t3"}
		d.HandleRoomMessages(room.ID, page, false, synctypes.Forward)
		assert.Equal(t, []string{events[1].EventID, events[2].EventID}, timeline(d, room.ID))
	})

	t.Run("backward page", func(t *testing.T) {
		page := &synctypes.MessagesPage{Chunk: []*synctypes.Event{events[0]}, Start: "t1", End: "t0"}
		d.HandleRoomMessages(room.ID, page, false, synctypes.Backward)
		assert.Equal(t, []string{events[0].EventID, events[1].EventID, events[2].EventID}, timeline(d, room.ID))
		d.View(func(store *model.Store) {
			r, _ := store.Room(room.ID)
			assert.Equal(t, "t0", r.BackwardToken)
		})
	})
}

func TestLocalEchoReconciliation(t *testing.T) {
	alice := test.NewUser(t)
	transport := &test.FakeTransport{}
	d, _ := mustCreateDispatcher(t, alice, transport)
	room := test.NewRoom(t, alice)
	ctx := context.Background()

	txnID, err := d.SendMessage(ctx, room.ID, test.MustJSON(t, map[string]string{"body": "hello", "msgtype": "m.text"}))
	require.NoError(t, err)
	state, eventID, ok := d.LocalEcho(room.ID, txnID)
	require.True(t, ok)
	assert.Equal(t, model.SendStateNone, state)
	require.NotEmpty(t, eventID)

	remote := room.CreateAndInsert(t, alice, synctypes.MRoomMessage, map[string]string{"body": "hello", "msgtype": "m.text"}, test.WithEventID(eventID))
	d.HandleSync(&synctypes.SyncResponse{Rooms: []synctypes.SyncRoom{{RoomID: room.ID, Events: []*synctypes.Event{remote}}}}, nil)

	assert.Equal(t, []string{eventID}, timeline(d, room.ID))
	d.View(func(store *model.Store) {
		r, _ := store.Room(room.ID)
		assert.Same(t, remote, r.Timeline[0].Event)
	})
}

func TestFailedSendIsMarkedUnsentAndRetried(t *testing.T) {
	alice := test.NewUser(t)
	fail := true
	transport := &test.FakeTransport{
		SendEventFunc: func(ctx context.Context, roomID, eventType, txnID string, content spec.RawJSON) (string, error) {
			if fail {
				return "", context.DeadlineExceeded
			}
			return "$sent:test", nil
		},
	}
	d, _ := mustCreateDispatcher(t, alice, transport)
	ctx := context.Background()

	txnID, err := d.SendMessage(ctx, "!r:test", spec.RawJSON(`{"body":"hi"}`))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	state, _, ok := d.LocalEcho("!r:test", txnID)
	require.True(t, ok)
	assert.Equal(t, model.SendStateUnsent, state)
	assert.Len(t, timeline(d, "!r:test"), 1)

	fail = false
	require.NoError(t, d.RetrySend(ctx, "!r:test", txnID))
	state, eventID, _ := d.LocalEcho("!r:test", txnID)
	assert.Equal(t, model.SendStateNone, state)
	assert.Equal(t, "$sent:test", eventID)

	sends := transport.Calls("SendEvent")
	require.Len(t, sends, 2)
	assert.Equal(t, sends[0].Args[1], sends[1].Args[1], "retry must reuse the transaction ID")

	assert.ErrorIs(t, d.RetrySend(ctx, "!r:test", txnID), ErrNoSuchEcho)
}

func TestRedaction(t *testing.T) {
	alice := test.NewUser(t)
	bob := test.NewUser(t)
	d, n := mustCreateDispatcher(t, alice, nil)
	redactions := collect(t, n, notifier.Redaction)
	room := test.NewRoom(t, bob)
	msg := room.CreateAndInsert(t, bob, synctypes.MRoomMessage, map[string]interface{}{"body": "oops"})
	d.HandleEvent(msg, true)

	backfilled := room.CreateAndInsert(t, bob, synctypes.MRoomRedaction, map[string]interface{}{}, test.WithRedacts(msg.EventID))
	d.HandleEvent(backfilled, false)
	assert.Equal(t, []string{msg.EventID}, timeline(d, room.ID))
	assert.Equal(t, 0, redactions.count(notifier.Redaction))

	live := room.CreateAndInsert(t, bob, synctypes.MRoomRedaction, map[string]interface{}{}, test.WithRedacts(msg.EventID))
	d.HandleEvent(live, true)
	assert.Empty(t, timeline(d, room.ID))
	assert.Equal(t, 1, redactions.count(notifier.Redaction))
}

func TestTyping(t *testing.T) {
	alice := test.NewUser(t)
	bob := test.NewUser(t)
	d, _ := mustCreateDispatcher(t, alice, nil)
	room := test.NewRoom(t, alice)
	room.CreateAndInsert(t, bob, spec.MRoomMember, map[string]string{"membership": spec.Join}, test.WithStateKey(bob.ID))
	d.HandleRoomInitialSync(&synctypes.InitialSyncRoom{RoomID: room.ID, State: room.CurrentState()})

	typing := func(users ...string) *synctypes.Event {
		return test.NewEvent(t, room.ID, "", synctypes.MTyping, map[string]interface{}{"user_ids": users}, test.WithEventID(""))
	}
	isTyping := func() map[string]bool {
		out := map[string]bool{}
		d.View(func(store *model.Store) {
			r, _ := store.Room(room.ID)
			for id, m := range r.CurrentState.Members {
				out[id] = m.Typing
			}
		})
		return out
	}

	d.HandleEvent(typing(bob.ID), true)
	assert.Equal(t, map[string]bool{alice.ID: false, bob.ID: true}, isTyping())

	d.HandleEvent(typing(alice.ID), false)
	assert.Equal(t, map[string]bool{alice.ID: false, bob.ID: true}, isTyping(), "historical typing is ignored")

	d.HandleEvent(typing(alice.ID), true)
	assert.Equal(t, map[string]bool{alice.ID: true, bob.ID: false}, isTyping())
}

func TestMembership(t *testing.T) {
	alice := test.NewUser(t)
	bob := test.NewUser(t, test.WithDisplayName("Bob"))
	d, n := mustCreateDispatcher(t, alice, nil)
	notes := collect(t, n, notifier.Membership, notifier.Notify)
	room := test.NewRoom(t, alice)
	d.HandleRoomInitialSync(&synctypes.InitialSyncRoom{RoomID: room.ID, State: room.CurrentState()})

	join := room.CreateAndInsert(t, bob, spec.MRoomMember, map[string]string{"membership": spec.Join, "displayname": "Bob"}, test.WithStateKey(bob.ID))
	d.HandleEvent(join, true)

	d.View(func(store *model.Store) {
		r, _ := store.Room(room.ID)
		require.Len(t, r.Timeline, 1)
		assert.Equal(t, model.ChangedMembership, r.Timeline[0].ChangedKey)
		assert.Equal(t, "Bob", r.Member(bob.ID).Name)
		assert.Equal(t, "Bob", r.Name)
	})
	assert.Equal(t, 1, notes.count(notifier.Membership))
	assert.Equal(t, 1, notes.count(notifier.Notify))

	rename := room.CreateAndInsert(t, bob, spec.MRoomMember, map[string]string{"membership": spec.Join, "displayname": "Robert"},
		test.WithStateKey(bob.ID), test.WithPrevContent(map[string]string{"membership": spec.Join, "displayname": "Bob"}))
	d.HandleEvent(rename, true)
	noop := room.CreateAndInsert(t, bob, spec.MRoomMember, map[string]string{"membership": spec.Join, "displayname": "Robert"},
		test.WithStateKey(bob.ID), test.WithPrevContent(map[string]string{"membership": spec.Join, "displayname": "Robert"}))
	d.HandleEvent(noop, true)

	d.View(func(store *model.Store) {
		r, _ := store.Room(room.ID)
		require.Len(t, r.Timeline, 2)
		assert.Equal(t, model.ChangedDisplayName, r.Timeline[1].ChangedKey)
	})
	assert.Equal(t, 1, notes.count(notifier.Notify), "only joins notify")
}

func TestHistoricalMembershipUsesPrevContent(t *testing.T) {
	alice := test.NewUser(t)
	bob := test.NewUser(t)
	d, _ := mustCreateDispatcher(t, alice, nil)
	room := test.NewRoom(t, alice)

	rename := room.CreateAndInsert(t, bob, spec.MRoomMember, map[string]string{"membership": spec.Join, "displayname": "New"},
		test.WithStateKey(bob.ID), test.WithPrevContent(map[string]string{"membership": spec.Join, "displayname": "Old"}))
	d.HandleEvent(rename, false)

	d.View(func(store *model.Store) {
		r, _ := store.Room(room.ID)
		assert.Equal(t, "Old", r.OldState.Members[bob.ID].Name)
		assert.Nil(t, r.CurrentState.Members[bob.ID])
	})

	carol := test.NewUser(t)
	join := room.CreateAndInsert(t, carol, spec.MRoomMember, map[string]string{"membership": spec.Join, "displayname": "Carol"},
		test.WithStateKey(carol.ID), test.WithPrevContent(map[string]string{"membership": spec.Invite}))
	d.HandleEvent(join, false)
	d.View(func(store *model.Store) {
		r, _ := store.Room(room.ID)
		assert.Equal(t, spec.Join, r.OldState.Members[carol.ID].Membership())
	})
}

func TestHistoricalStateOnlyReplacesOlder(t *testing.T) {
	alice := test.NewUser(t)
	d, _ := mustCreateDispatcher(t, alice, nil)
	room := test.NewRoom(t, alice)
	older := room.CreateEvent(t, alice, spec.MRoomJoinRules, map[string]string{"join_rule": "invite"}, test.WithStateKey(""))
	newer := room.CreateEvent(t, alice, spec.MRoomJoinRules, map[string]string{"join_rule": "public"}, test.WithStateKey(""))

	d.HandleEvent(newer, true)
	d.HandleEvent(older, false)
	d.View(func(store *model.Store) {
		r, _ := store.Room(room.ID)
		assert.Equal(t, newer.EventID, r.CurrentState.State(spec.MRoomJoinRules).EventID)
		assert.Equal(t, older.EventID, r.OldState.State(spec.MRoomJoinRules).EventID)
	})

	unknown := room.CreateEvent(t, alice, "com.example.state", map[string]string{"a": "b"}, test.WithStateKey("k"))
	d.HandleEvent(unknown, true)
	d.View(func(store *model.Store) {
		r, _ := store.Room(room.ID)
		assert.NotNil(t, r.CurrentState.GetStateEvent("com.example.state", "k"))
	})
}

func TestRouteByKind(t *testing.T) {
	alice := test.NewUser(t)
	tests := []struct {
		name       string
		event      func(t *testing.T, room *test.Room) *synctypes.Event
		kind       notifier.Kind
		broadcasts int
		check      func(t *testing.T, store *model.Store, room *model.Room, ev *synctypes.Event)
	}{
		{
			name: "call invite joins the timeline",
			event: func(t *testing.T, room *test.Room) *synctypes.Event {
				return room.CreateEvent(t, alice, synctypes.MCallInvite, map[string]interface{}{"call_id": "c1", "version": 0})
			},
			kind:       notifier.Call,
			broadcasts: 1,
			check: func(t *testing.T, store *model.Store, room *model.Room, ev *synctypes.Event) {
				require.Len(t, room.Timeline, 1)
				assert.Equal(t, ev.EventID, room.Timeline[0].Event.EventID)
			},
		},
		{
			name: "other call events are only broadcast",
			event: func(t *testing.T, room *test.Room) *synctypes.Event {
				return room.CreateEvent(t, alice, "m.call.hangup", map[string]interface{}{"call_id": "c1", "version": 0})
			},
			kind:       notifier.Call,
			broadcasts: 1,
			check: func(t *testing.T, store *model.Store, room *model.Room, ev *synctypes.Event) {
				assert.Empty(t, room.Timeline)
			},
		},
		{
			name: "aliases name the room after the first alias",
			event: func(t *testing.T, room *test.Room) *synctypes.Event {
				return room.CreateEvent(t, alice, synctypes.MRoomAliases,
					map[string]interface{}{"aliases": []string{"#coffee:test", "#tea:test"}}, test.WithStateKey(test.TestServerName))
			},
			kind:       notifier.Aliases,
			broadcasts: 1,
			check: func(t *testing.T, store *model.Store, room *model.Room, ev *synctypes.Event) {
				assert.Equal(t, "#coffee:test", store.AliasForRoom(room.ID))
				assert.Equal(t, room.ID, store.RoomForAlias("#coffee:test"))
				assert.Equal(t, "#coffee:test", room.Name)
			},
		},
		{
			name: "unknown state events are stored as state",
			event: func(t *testing.T, room *test.Room) *synctypes.Event {
				return room.CreateEvent(t, alice, "com.example.widget", map[string]string{"url": "https://example.com"}, test.WithStateKey("w1"))
			},
			kind:       notifier.StateEvent,
			broadcasts: 1,
			check: func(t *testing.T, store *model.Store, room *model.Room, ev *synctypes.Event) {
				stored := room.CurrentState.GetStateEvent("com.example.widget", "w1")
				require.NotNil(t, stored)
				assert.Equal(t, ev.EventID, stored.EventID)
				assert.Empty(t, room.Timeline)
			},
		},
		{
			name: "unknown events without a state key are ignored",
			event: func(t *testing.T, room *test.Room) *synctypes.Event {
				return room.CreateEvent(t, alice, "com.example.ping", map[string]string{"a": "b"})
			},
			kind:       notifier.StateEvent,
			broadcasts: 0,
			check: func(t *testing.T, store *model.Store, room *model.Room, ev *synctypes.Event) {
				assert.Nil(t, room.CurrentState.GetStateEvent("com.example.ping", ""))
				assert.Empty(t, room.Timeline)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, n := mustCreateDispatcher(t, alice, nil)
			notes := collect(t, n, tt.kind)
			room := test.NewRoom(t, alice)
			d.HandleRoomInitialSync(&synctypes.InitialSyncRoom{RoomID: room.ID, State: room.CurrentState()})

			ev := tt.event(t, room)
			d.HandleEvent(ev, true)

			assert.Equal(t, tt.broadcasts, notes.count(tt.kind))
			d.View(func(store *model.Store) {
				r, ok := store.Room(room.ID)
				require.True(t, ok)
				tt.check(t, store, r, ev)
			})
		})
	}
}

func TestStaleSyncResultsAreDropped(t *testing.T) {
	alice := test.NewUser(t)
	d, _ := mustCreateDispatcher(t, alice, nil)
	room := test.NewRoom(t, alice)
	msg := room.CreateAndInsert(t, alice, synctypes.MRoomMessage, map[string]string{"body": "hi"})
	stale := func() bool { return false }

	d.Reset()
	assert.False(t, d.HandleInitialSync(&synctypes.InitialSyncResponse{
		End:   "s1",
		Rooms: []synctypes.InitialSyncRoom{{RoomID: room.ID, Membership: spec.Join, State: room.CurrentState()}},
	}, stale))
	assert.False(t, d.InitialSyncDone(), "a stale initial sync must not release waiters")

	assert.False(t, d.HandleSync(&synctypes.SyncResponse{
		NextBatch: "s2",
		Rooms:     []synctypes.SyncRoom{{RoomID: room.ID, Events: []*synctypes.Event{msg}}},
	}, stale))
	d.View(func(store *model.Store) {
		assert.Empty(t, store.Rooms())
	})

	// The event was never seen, so a current batch still applies it.
	assert.True(t, d.HandleSync(&synctypes.SyncResponse{
		Rooms: []synctypes.SyncRoom{{RoomID: room.ID, Events: []*synctypes.Event{msg}}},
	}, func() bool { return true }))
	assert.Equal(t, []string{msg.EventID}, timeline(d, room.ID))
}

func TestInitialSync(t *testing.T) {
	alice := test.NewUser(t)
	bob := test.NewUser(t, test.WithDisplayName("Bob"))
	d, n := mustCreateDispatcher(t, alice, nil)
	notes := collect(t, n, notifier.Presence, notifier.Reset)
	joined := test.NewRoom(t, alice)
	msg := joined.CreateAndInsert(t, alice, synctypes.MRoomMessage, map[string]string{"body": "hi"})
	presence := test.NewEvent(t, "", bob.ID, synctypes.MPresence, map[string]interface{}{"presence": "online", "displayname": "Bob"}, test.WithoutRoomID())

	resp := &synctypes.InitialSyncResponse{
		End: "s1",
		Rooms: []synctypes.InitialSyncRoom{
			{
				RoomID:     joined.ID,
				Membership: spec.Join,
				State:      joined.CurrentState(),
				Messages:   &synctypes.MessagesPage{Chunk: []*synctypes.Event{msg}, Start: "p0", End: "p1"},
			},
			{RoomID: "!invited:test", Membership: spec.Invite, Inviter: bob.ID},
		},
		Presence: []*synctypes.Event{presence},
	}

	waited := make(chan error, 1)
	go func() {
		waited <- d.WaitForInitialSync(context.Background())
	}()
	d.HandleInitialSync(resp, nil)
	select {
	case err := <-waited:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitForInitialSync did not return")
	}
	assert.True(t, d.InitialSyncDone())

	d.View(func(store *model.Store) {
		r, ok := store.Room(joined.ID)
		require.True(t, ok)
		assert.Equal(t, "p1", r.ForwardToken)
		assert.Equal(t, "p0", r.BackwardToken)
		assert.Len(t, r.Timeline, 1)

		invite, ok := store.Room("!invited:test")
		require.True(t, ok)
		member := invite.CurrentState.Members[alice.ID]
		require.NotNil(t, member)
		assert.Equal(t, spec.Invite, member.Membership())
		assert.Equal(t, "__FAKE__!invited:test", member.Event.EventID)
		assert.Equal(t, spec.Timestamp(0), member.Event.OriginServerTS)
		assert.Equal(t, "Bob", invite.Name)

		assert.Equal(t, "online", store.User(bob.ID).Presence())
	})
	assert.Equal(t, 1, notes.count(notifier.Presence))

	d.Reset()
	d.Reset()
	assert.False(t, d.InitialSyncDone())
	d.View(func(store *model.Store) {
		assert.Empty(t, store.Rooms())
	})
	assert.Equal(t, 2, notes.count(notifier.Reset))
}

func TestThumbnailSynthesis(t *testing.T) {
	alice := test.NewUser(t)
	bob := test.NewUser(t)
	d, _ := mustCreateDispatcher(t, alice, nil)
	room := test.NewRoom(t, bob)
	for _, tc := range []struct {
		name    string
		content map[string]interface{}
		want    string
	}{
		{"video", map[string]interface{}{"body": "f", "url": "http://x/f", "info": map[string]string{"mimetype": "video/mp4"}}, "img/icons/filetype-video.png"},
		{"unknown major", map[string]interface{}{"body": "f", "url": "http://x/f", "info": map[string]string{"mimetype": "application/pdf"}}, "img/icons/filetype-attachment.png"},
		{"content repository", map[string]interface{}{"body": "f", "url": "mxc://x/f", "info": map[string]string{"mimetype": "image/png"}}, ""},
		{"no mimetype", map[string]interface{}{"body": "f", "url": "http://x/f"}, ""},
		{"has thumbnail", map[string]interface{}{"body": "f", "url": "http://x/f", "thumbnail_url": "http://x/t", "info": map[string]string{"mimetype": "image/png"}}, "http://x/t"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ev := room.CreateAndInsert(t, bob, synctypes.MRoomMessage, tc.content)
			d.HandleEvent(ev, true)
			d.View(func(store *model.Store) {
				r, _ := store.Room(room.ID)
				got := r.Timeline[len(r.Timeline)-1].Event
				assert.Equal(t, tc.want, got.Get("thumbnail_url").Str)
				if tc.want != "" && tc.want != "http://x/t" {
					assert.Equal(t, int64(33), got.Get("thumbnail_info.w").Int())
					assert.Equal(t, int64(40), got.Get("thumbnail_info.h").Int())
				}
			})
			assert.False(t, ev.Get("thumbnail_info").Exists(), "original event must not be modified")
		})
	}
}

const coffeeRules = `{"global": {
  "content": [{"rule_id": "coffee", "enabled": true, "pattern": "coffee", "actions": ["notify", {"set_tweak": "highlight"}]}],
  "override": [{"rule_id": ".m.rule.room_one_to_one", "enabled": true, "conditions": [{"kind": "room_member_count", "is": "2"}], "actions": ["notify"]}],
  "underride": [{"rule_id": ".m.rule.fallback", "enabled": true, "actions": ["dont_notify"]}]
}}`

func TestNotificationsFollowPushRules(t *testing.T) {
	alice := test.NewUser(t)
	bob := test.NewUser(t)
	carol := test.NewUser(t)
	transport := &test.FakeTransport{
		PushRulesFunc: func(ctx context.Context) (spec.RawJSON, error) {
			return spec.RawJSON(coffeeRules), nil
		},
	}
	d, n := mustCreateDispatcher(t, alice, transport)
	notes := collect(t, n, notifier.Notify)
	room := test.NewRoom(t, alice)
	room.CreateAndInsert(t, bob, spec.MRoomMember, map[string]string{"membership": spec.Join}, test.WithStateKey(bob.ID))
	room.CreateAndInsert(t, carol, spec.MRoomMember, map[string]string{"membership": spec.Join}, test.WithStateKey(carol.ID))
	d.HandleRoomInitialSync(&synctypes.InitialSyncRoom{RoomID: room.ID, State: room.CurrentState()})

	rs, err := d.RefreshPushRules(context.Background())
	require.NoError(t, err)
	assert.Same(t, rs, d.PushRules())

	d.HandleEvent(room.CreateAndInsert(t, bob, synctypes.MRoomMessage, map[string]string{"body": "tea?"}), true)
	assert.Empty(t, notes.get())

	d.HandleEvent(room.CreateAndInsert(t, bob, synctypes.MRoomMessage, map[string]string{"body": "Coffee?"}), true)
	got := notes.get()
	require.Len(t, got, 1)
	assert.Equal(t, "coffee", got[0].Result.RuleID)
	assert.True(t, got[0].Highlight)

	d.HandleEvent(room.CreateAndInsert(t, bob, synctypes.MRoomMessage, map[string]string{"body": "coffee"}), false)
	d.HandleEvent(room.CreateAndInsert(t, alice, synctypes.MRoomMessage, map[string]string{"body": "coffee"}), true)
	assert.Len(t, notes.get(), 1, "historical and own messages never notify")
}

func TestNotificationsWithoutPushRules(t *testing.T) {
	alice := test.NewUser(t, test.WithLocalpart("alice"))
	bob := test.NewUser(t)
	idle := false
	d, n := mustCreateDispatcher(t, alice, nil, WithIdle(func() bool { return idle }))
	d.cfg.BingWords = []string{"lunch"}
	notes := collect(t, n, notifier.Notify)
	room := test.NewRoom(t, bob)

	d.HandleEvent(room.CreateAndInsert(t, bob, synctypes.MRoomMessage, map[string]string{"body": "lunch, alice?"}), true)
	assert.Empty(t, notes.get(), "an active user is not notified")

	idle = true
	d.HandleEvent(room.CreateAndInsert(t, bob, synctypes.MRoomMessage, map[string]string{"body": "lunch?"}), true)
	d.HandleEvent(room.CreateAndInsert(t, bob, synctypes.MRoomMessage, map[string]string{"body": "hey alice"}), true)
	d.HandleEvent(room.CreateAndInsert(t, bob, synctypes.MRoomMessage, map[string]string{"body": "nothing here"}), true)
	got := notes.get()
	require.Len(t, got, 2)
	assert.True(t, got[0].Highlight)
	assert.Nil(t, got[0].Result)

	idle = false
	away := test.NewEvent(t, "", alice.ID, synctypes.MPresence, map[string]string{"presence": synctypes.PresenceUnavailable}, test.WithoutRoomID())
	d.HandleEvent(away, true)
	d.HandleEvent(room.CreateAndInsert(t, bob, synctypes.MRoomMessage, map[string]string{"body": "lunch!"}), true)
	assert.Len(t, notes.get(), 3, "an unavailable user is idle")
}

func TestJoinRoom(t *testing.T) {
	alice := test.NewUser(t)
	ctx := context.Background()
	joinedRoom := test.NewRoom(t, alice)
	transport := &test.FakeTransport{
		ResolveAliasFunc: func(ctx context.Context, alias string) (string, error) {
			return "!resolved:test", nil
		},
		RoomInitialSyncFunc: func(ctx context.Context, roomID string, limit int) (*synctypes.InitialSyncRoom, error) {
			r := test.NewRoom(t, alice)
			return &synctypes.InitialSyncRoom{RoomID: roomID, State: r.CurrentState()}, nil
		},
	}
	d, _ := mustCreateDispatcher(t, alice, transport)

	_, err := d.JoinRoom(ctx, "room")
	assert.ErrorIs(t, err, api.ErrBadRoomIdentifier)

	timeout, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = d.JoinRoom(timeout, "!a:test")
	assert.ErrorIs(t, err, context.DeadlineExceeded, "joins wait for the initial sync")

	d.HandleInitialSync(&synctypes.InitialSyncResponse{Rooms: []synctypes.InitialSyncRoom{
		{RoomID: joinedRoom.ID, Membership: spec.Join, State: joinedRoom.CurrentState()},
	}}, nil)

	roomID, err := d.JoinRoom(ctx, joinedRoom.ID)
	require.NoError(t, err)
	assert.Equal(t, joinedRoom.ID, roomID)
	assert.Empty(t, transport.Calls("JoinRoom"))

	roomID, err = d.JoinRoom(ctx, "#somewhere:test")
	require.NoError(t, err)
	assert.Equal(t, "!resolved:test", roomID)
	require.Len(t, transport.Calls("JoinRoom"), 1)
	assert.Equal(t, "!resolved:test", transport.Calls("JoinRoom")[0].RoomID)
	d.View(func(store *model.Store) {
		assert.True(t, store.IsJoined("!resolved:test"))
	})

	require.NoError(t, d.LeaveRoom(ctx, roomID))
	assert.Len(t, transport.Calls("LeaveRoom"), 1)
}

func TestJoinRoomGivesUpWaitingForInitialSync(t *testing.T) {
	alice := test.NewUser(t)
	transport := &test.FakeTransport{}
	d, _ := mustCreateDispatcher(t, alice, transport, WithJoinTimeout(10*time.Millisecond))

	_, err := d.JoinRoom(context.Background(), "!a:test")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, transport.Calls("JoinRoom"))

	d.HandleInitialSync(&synctypes.InitialSyncResponse{}, nil)
	_, err = d.JoinRoom(context.Background(), "!a:test")
	require.NoError(t, err)
	assert.Len(t, transport.Calls("JoinRoom"), 1)
}

func TestPaginateBack(t *testing.T) {
	alice := test.NewUser(t)
	room := test.NewRoom(t, alice)
	old := room.CreateAndInsert(t, alice, synctypes.MRoomMessage, map[string]string{"body": "old"})
	transport := &test.FakeTransport{
		PaginateFunc: func(ctx context.Context, roomID, from string, limit int, dir synctypes.Direction) (*synctypes.MessagesPage, error) {
			if from == "p0" {
				return &synctypes.MessagesPage{Chunk: []*synctypes.Event{old}, Start: "p0", End: "p-1"}, nil
			}
			return &synctypes.MessagesPage{Start: from, End: from}, nil
		},
	}
	d, _ := mustCreateDispatcher(t, alice, transport)
	ctx := context.Background()

	_, err := d.PaginateBack(ctx, "!nowhere:test", 0)
	assert.ErrorIs(t, err, ErrUnknownRoom)

	d.HandleRoomInitialSync(&synctypes.InitialSyncRoom{
		RoomID:   room.ID,
		State:    room.CurrentState(),
		Messages: &synctypes.MessagesPage{Start: "p0", End: "p1"},
	})

	got, err := d.PaginateBack(ctx, room.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, got)
	assert.Equal(t, []string{old.EventID}, timeline(d, room.ID))

	got, err = d.PaginateBack(ctx, room.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, got)
	got, err = d.PaginateBack(ctx, room.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, got)
	assert.Len(t, transport.Calls("Paginate"), 2, "a fully paginated room is not requested again")
	assert.Equal(t, 20, transport.Calls("Paginate")[0].Args[1])
}

func TestReapRoom(t *testing.T) {
	alice := test.NewUser(t)
	room := test.NewRoom(t, alice)
	var events []*synctypes.Event
	for i := 0; i < 5; i++ {
		events = append(events, room.CreateAndInsert(t, alice, synctypes.MRoomMessage, map[string]string{"body": "m"}))
	}
	transport := &test.FakeTransport{
		RoomInitialSyncFunc: func(ctx context.Context, roomID string, limit int) (*synctypes.InitialSyncRoom, error) {
			return &synctypes.InitialSyncRoom{
				RoomID:   roomID,
				State:    room.CurrentState(),
				Messages: &synctypes.MessagesPage{Chunk: events[len(events)-limit:], Start: "r0", End: "r1"},
			}, nil
		},
	}
	d, _ := mustCreateDispatcher(t, alice, transport)
	d.HandleEvents(events, true)
	d.View(func(store *model.Store) {
		store.SetRoomAlias(room.ID, "#kept:test")
	})

	require.NoError(t, d.ReapRoom(context.Background(), room.ID, 2))
	assert.Equal(t, []string{events[3].EventID, events[4].EventID}, timeline(d, room.ID))
	d.View(func(store *model.Store) {
		assert.Equal(t, room.ID, store.RoomForAlias("#kept:test"))
	})
}
