// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package util

import (
	"strings"

	"github.com/matrix-org/gomatrixserverlib/spec"
)

// NormalizeLocalpart trims whitespace and lowercases a user localpart for consistent storage and lookup.
func NormalizeLocalpart(localpart string) string {
	return strings.ToLower(strings.TrimSpace(localpart))
}

// LocalpartFromUserID returns the localpart of a fully qualified user ID.
// Historical user IDs are accepted. If the ID cannot be parsed, everything
// between the leading sigil and the first colon is returned instead.
func LocalpartFromUserID(userID string) string {
	if parsed, err := spec.NewUserID(userID, true); err == nil {
		return parsed.Local()
	}
	local := strings.TrimPrefix(userID, "@")
	if i := strings.IndexByte(local, ':'); i >= 0 {
		local = local[:i]
	}
	return local
}
