// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package caching

import (
	"regexp"
	"time"

	"github.com/patrickmn/go-cache"
)

// PatternCache holds compiled push rule patterns so that the same glob is
// not translated and compiled on every evaluated event.
type PatternCache interface {
	GetPattern(key string) (*regexp.Regexp, bool)
	StorePattern(key string, re *regexp.Regexp)
}

type CompiledPatterns struct {
	patterns *cache.Cache
}

func NewCompiledPatterns(maxAge time.Duration) *CompiledPatterns {
	return &CompiledPatterns{
		patterns: cache.New(maxAge, maxAge),
	}
}

func (c *CompiledPatterns) GetPattern(key string) (*regexp.Regexp, bool) {
	v, ok := c.patterns.Get(key)
	if !ok {
		return nil, false
	}
	re, ok := v.(*regexp.Regexp)
	return re, ok
}

func (c *CompiledPatterns) StorePattern(key string, re *regexp.Regexp) {
	c.patterns.SetDefault(key, re)
}
