/*
SPDX-FileCopyrightText: Copyright (c) 2026 Jamsocket, Inc. All rights reserved.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.

SPDX-License-Identifier: Apache-2.0
*/

package cache

import (
	"flag"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/jamsocket/plane/utils"
)

const (
	defaultCacheMaxSize = 10000
	defaultCacheTTLSec  = 5
)

// CacheConfig holds cache configuration
type CacheConfig struct {
	MaxSize int
	TTL     time.Duration
}

// CacheFlagPointers holds pointers to flag values for cache configuration
type CacheFlagPointers struct {
	maxSize *int
	ttlSec  *int
}

// RegisterCacheFlags registers cache-related command-line flags.
// Returns a CacheFlagPointers that should be converted to CacheConfig
// after flag.Parse() is called.
//
// The default TTL is short: route lookups tolerate a few seconds of
// staleness but must converge quickly once a backend reaches Terminated.
func RegisterCacheFlags() *CacheFlagPointers {
	return &CacheFlagPointers{
		ttlSec: flag.Int("cache-ttl",
			utils.GetEnvInt("PLANE_CACHE_TTL", defaultCacheTTLSec),
			"Cache TTL in seconds"),
		maxSize: flag.Int("cache-max-size",
			utils.GetEnvInt("PLANE_CACHE_MAX_SIZE", defaultCacheMaxSize),
			"Cache max number of entries"),
	}
}

// ToCacheConfig converts flag pointers to CacheConfig.
// This should be called after flag.Parse().
func (p *CacheFlagPointers) ToCacheConfig() CacheConfig {
	return CacheConfig{
		MaxSize: *p.maxSize,
		TTL:     time.Duration(*p.ttlSec) * time.Second,
	}
}

// KeyedCache is a generic thread-safe LRU cache with per-entry TTL expiration.
// It serves as the base caching primitive for all domain-specific caches.
type KeyedCache[V any] struct {
	cache  *expirable.LRU[string, V]
	logger *slog.Logger
}

// NewKeyedCache creates a new keyed cache with the specified max size and TTL.
func NewKeyedCache[V any](maxSize int, ttl time.Duration, logger *slog.Logger) *KeyedCache[V] {
	return &KeyedCache[V]{
		cache:  expirable.NewLRU[string, V](maxSize, nil, ttl),
		logger: logger,
	}
}

// Get retrieves a single value by key. Returns the value and true on hit.
func (c *KeyedCache[V]) Get(key string) (V, bool) {
	return c.cache.Get(key)
}

// Set stores a value under the given key.
func (c *KeyedCache[V]) Set(key string, value V) {
	c.cache.Add(key, value)
}

// Remove evicts the entry for the given key, if present.
func (c *KeyedCache[V]) Remove(key string) {
	c.cache.Remove(key)
}

// Size returns the number of entries in the cache.
func (c *KeyedCache[V]) Size() int {
	return c.cache.Len()
}
