// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package api

import (
	"errors"
	"net/http"

	"github.com/matrix-org/gomatrix"
)

// ErrBadRoomIdentifier is returned when a room identifier is neither a
// room ID nor an alias.
var ErrBadRoomIdentifier = errors.New("bad room identifier")

// IsAuthError returns true if err is an HTTP error telling us that our
// credentials are no longer valid. Such errors are not retried.
func IsAuthError(err error) bool {
	var httpErr gomatrix.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code == http.StatusUnauthorized || httpErr.Code == http.StatusForbidden
	}
	var httpErrPtr *gomatrix.HTTPError
	if errors.As(err, &httpErrPtr) && httpErrPtr != nil {
		return httpErrPtr.Code == http.StatusUnauthorized || httpErrPtr.Code == http.StatusForbidden
	}
	return false
}
