// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package test

import (
	"fmt"
	"sync/atomic"
	"testing"
)

const TestServerName = "test"

var userIDCounter int64

type User struct {
	ID          string
	DisplayName string
}

type UserOpt func(*User)

func WithDisplayName(name string) UserOpt {
	return func(u *User) {
		u.DisplayName = name
	}
}

func WithLocalpart(localpart string) UserOpt {
	return func(u *User) {
		u.ID = fmt.Sprintf("@%s:%s", localpart, TestServerName)
	}
}

// NewUser returns a user with a unique ID on the test server.
func NewUser(t *testing.T, opts ...UserOpt) *User {
	t.Helper()
	counter := atomic.AddInt64(&userIDCounter, 1)
	u := &User{
		ID: fmt.Sprintf("@%d:%s", counter, TestServerName),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}
