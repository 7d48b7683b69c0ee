// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package pushrules

import (
	"regexp"

	"github.com/element-hq/roomsync/internal/util"
	"github.com/sirupsen/logrus"
)

// ContainsBingWord is the fallback used when the server hasn't given us a
// push ruleset. It matches the local user's localpart or display name as a
// whole word, or any of the configured bing words as a regular expression,
// case-insensitively.
func ContainsBingWord(userID, displayName string, bingWords []string, body string) bool {
	if body == "" {
		return false
	}
	var names []string
	if userID != "" {
		if localpart := util.LocalpartFromUserID(userID); localpart != "" {
			names = append(names, localpart)
		}
	}
	if displayName != "" {
		names = append(names, displayName)
	}
	for _, name := range names {
		re, err := compile(`(?i)\b` + regexp.QuoteMeta(name) + `\b`)
		if err == nil && re.MatchString(body) {
			return true
		}
	}
	for _, word := range bingWords {
		re, err := compile(`(?i)` + word)
		if err != nil {
			logrus.WithError(err).WithField("bing_word", word).Warn("Invalid bing word")
			continue
		}
		if re.MatchString(body) {
			return true
		}
	}
	return false
}
