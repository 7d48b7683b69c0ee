// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeRoomAlias(t *testing.T) {
	assert.Equal(t, "#room:example.com", NormalizeRoomAlias("  #Room:Example.COM "))
}

func TestRoomIdentifierKinds(t *testing.T) {
	tests := []struct {
		id      string
		isAlias bool
		isID    bool
	}{
		{"#room:example.com", true, false},
		{"!abc:example.com", false, true},
		{"@alice:example.com", false, false},
		{"", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.Equal(t, tt.isAlias, IsRoomAlias(tt.id))
			assert.Equal(t, tt.isID, IsRoomID(tt.id))
		})
	}
}

func TestLocalpartFromUserID(t *testing.T) {
	assert.Equal(t, "alice", LocalpartFromUserID("@alice:example.com"))
	assert.Equal(t, "bob", LocalpartFromUserID("@bob:localhost:8448"))
	assert.Equal(t, "carol", LocalpartFromUserID("carol"))
	assert.Equal(t, "alice", NormalizeLocalpart(" Alice "))
}
