// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package util

import "strings"

// NormalizeRoomAlias trims surrounding whitespace and lowercases the alias so it can be
// compared and stored consistently. Room aliases are treated case-insensitively.
func NormalizeRoomAlias(alias string) string {
	return strings.ToLower(strings.TrimSpace(alias))
}

// IsRoomAlias reports whether the identifier looks like a room alias (#room:server).
func IsRoomAlias(id string) bool {
	return strings.HasPrefix(id, "#")
}

// IsRoomID reports whether the identifier looks like a room ID (!opaque:server).
func IsRoomID(id string) bool {
	return strings.HasPrefix(id, "!")
}
