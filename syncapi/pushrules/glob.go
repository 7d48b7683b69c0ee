// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package pushrules

import (
	"regexp"
	"strings"
	"time"

	"github.com/element-hq/roomsync/internal/caching"
)

var compiledPatterns caching.PatternCache = caching.NewCompiledPatterns(time.Hour)

// globToRegexp translates a push rule glob into a regular expression
// fragment. "*" matches any run of characters, "?" any single character,
// "[...]" a character class and "[!...]" a negated one. Everything else is
// matched literally.
func globToRegexp(glob string) string {
	var b strings.Builder
	runes := []rune(glob)
	for i := 0; i < len(runes); i++ {
		switch r := runes[i]; r {
		case '*':
			b.WriteString(".*?")
		case '?':
			b.WriteString(".")
		case '[':
			end := indexRune(runes[i+1:], ']')
			if end < 0 {
				b.WriteString(regexp.QuoteMeta("["))
				continue
			}
			class := string(runes[i+1 : i+1+end])
			b.WriteByte('[')
			if strings.HasPrefix(class, "!") {
				b.WriteByte('^')
				class = class[1:]
			}
			b.WriteString(strings.ReplaceAll(class, `\`, `\\`))
			b.WriteByte(']')
			i += end + 1
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	return b.String()
}

func indexRune(runes []rune, want rune) int {
	for i, r := range runes {
		if r == want {
			return i
		}
	}
	return -1
}

// patternRegexp compiles a glob. Globs matched against a message body only
// need to match a whole word somewhere in it; everything else must match
// the whole value. Matching is case-insensitive.
func patternRegexp(glob string, wordBoundary bool) (*regexp.Regexp, error) {
	var expr string
	if wordBoundary {
		expr = `(?i)(^|\W)` + globToRegexp(glob) + `(\W|$)`
	} else {
		expr = `(?i)^` + globToRegexp(glob) + `$`
	}
	return compile(expr)
}

func compile(expr string) (*regexp.Regexp, error) {
	if re, ok := compiledPatterns.GetPattern(expr); ok {
		return re, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	compiledPatterns.StorePattern(expr, re)
	return re, nil
}
