// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package test

import (
	"context"
	"sync"
	"time"

	"github.com/matrix-org/gomatrixserverlib/spec"

	"github.com/element-hq/roomsync/syncapi/synctypes"
)

// Call is a request made against a FakeTransport.
type Call struct {
	Method string
	RoomID string
	Args   []interface{}
}

// FakeTransport implements api.Transport with overridable behaviour per
// method. Every request is recorded. Without an override, Sync blocks
// until its context is done and the other methods succeed with an empty
// result.
type FakeTransport struct {
	InitialSyncFunc     func(ctx context.Context, limit int) (*synctypes.InitialSyncResponse, error)
	SyncFunc            func(ctx context.Context, since string, timeout time.Duration) (*synctypes.SyncResponse, error)
	PaginateFunc        func(ctx context.Context, roomID, from string, limit int, dir synctypes.Direction) (*synctypes.MessagesPage, error)
	RoomInitialSyncFunc func(ctx context.Context, roomID string, limit int) (*synctypes.InitialSyncRoom, error)
	JoinRoomFunc        func(ctx context.Context, roomIDOrAlias string) (string, error)
	ResolveAliasFunc    func(ctx context.Context, alias string) (string, error)
	LeaveRoomFunc       func(ctx context.Context, roomID string) error
	SendEventFunc       func(ctx context.Context, roomID, eventType, txnID string, content spec.RawJSON) (string, error)
	SendStateEventFunc  func(ctx context.Context, roomID, eventType, stateKey string, content spec.RawJSON) (string, error)
	SetTypingFunc       func(ctx context.Context, roomID string, typing bool, timeout time.Duration) error
	PushRulesFunc       func(ctx context.Context) (spec.RawJSON, error)

	mu    sync.Mutex
	calls []Call
}

func (f *FakeTransport) record(method, roomID string, args ...interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Method: method, RoomID: roomID, Args: args})
}

// Calls returns every recorded request, optionally only those of the
// named methods.
func (f *FakeTransport) Calls(methods ...string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.calls {
		if len(methods) == 0 {
			out = append(out, c)
			continue
		}
		for _, m := range methods {
			if c.Method == m {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

func (f *FakeTransport) InitialSync(ctx context.Context, limit int) (*synctypes.InitialSyncResponse, error) {
	f.record("InitialSync", "", limit)
	if f.InitialSyncFunc != nil {
		return f.InitialSyncFunc(ctx, limit)
	}
	return &synctypes.InitialSyncResponse{End: "s0"}, nil
}

func (f *FakeTransport) Sync(ctx context.Context, since string, timeout time.Duration) (*synctypes.SyncResponse, error) {
	f.record("Sync", "", since, timeout)
	if f.SyncFunc != nil {
		return f.SyncFunc(ctx, since, timeout)
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *FakeTransport) Paginate(ctx context.Context, roomID, from string, limit int, dir synctypes.Direction) (*synctypes.MessagesPage, error) {
	f.record("Paginate", roomID, from, limit, dir)
	if f.PaginateFunc != nil {
		return f.PaginateFunc(ctx, roomID, from, limit, dir)
	}
	return &synctypes.MessagesPage{Start: from, End: from}, nil
}

func (f *FakeTransport) RoomInitialSync(ctx context.Context, roomID string, limit int) (*synctypes.InitialSyncRoom, error) {
	f.record("RoomInitialSync", roomID, limit)
	if f.RoomInitialSyncFunc != nil {
		return f.RoomInitialSyncFunc(ctx, roomID, limit)
	}
	return &synctypes.InitialSyncRoom{RoomID: roomID}, nil
}

func (f *FakeTransport) JoinRoom(ctx context.Context, roomIDOrAlias string) (string, error) {
	f.record("JoinRoom", roomIDOrAlias)
	if f.JoinRoomFunc != nil {
		return f.JoinRoomFunc(ctx, roomIDOrAlias)
	}
	return roomIDOrAlias, nil
}

func (f *FakeTransport) ResolveAlias(ctx context.Context, alias string) (string, error) {
	f.record("ResolveAlias", "", alias)
	if f.ResolveAliasFunc != nil {
		return f.ResolveAliasFunc(ctx, alias)
	}
	return "", nil
}

func (f *FakeTransport) LeaveRoom(ctx context.Context, roomID string) error {
	f.record("LeaveRoom", roomID)
	if f.LeaveRoomFunc != nil {
		return f.LeaveRoomFunc(ctx, roomID)
	}
	return nil
}

func (f *FakeTransport) SendEvent(ctx context.Context, roomID, eventType, txnID string, content spec.RawJSON) (string, error) {
	f.record("SendEvent", roomID, eventType, txnID, content)
	if f.SendEventFunc != nil {
		return f.SendEventFunc(ctx, roomID, eventType, txnID, content)
	}
	return "$" + txnID + ":" + TestServerName, nil
}

func (f *FakeTransport) SendStateEvent(ctx context.Context, roomID, eventType, stateKey string, content spec.RawJSON) (string, error) {
	f.record("SendStateEvent", roomID, eventType, stateKey, content)
	if f.SendStateEventFunc != nil {
		return f.SendStateEventFunc(ctx, roomID, eventType, stateKey, content)
	}
	return "$state:" + TestServerName, nil
}

func (f *FakeTransport) SetTyping(ctx context.Context, roomID string, typing bool, timeout time.Duration) error {
	f.record("SetTyping", roomID, typing, timeout)
	if f.SetTypingFunc != nil {
		return f.SetTypingFunc(ctx, roomID, typing, timeout)
	}
	return nil
}

func (f *FakeTransport) PushRules(ctx context.Context) (spec.RawJSON, error) {
	f.record("PushRules", "")
	if f.PushRulesFunc != nil {
		return f.PushRulesFunc(ctx)
	}
	return spec.RawJSON(`{}`), nil
}
