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
	"log/slog"
	"os"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestKeyedCache_SetAndGet(t *testing.T) {
	cache := NewKeyedCache[string](100, time.Minute, testLogger())

	cache.Set("tok-1", "10.0.0.1:8080")
	cache.Set("tok-2", "10.0.0.2:8080")

	if cache.Size() != 2 {
		t.Errorf("expected size 2, got %d", cache.Size())
	}

	value, ok := cache.Get("tok-1")
	if !ok {
		t.Fatal("expected hit for tok-1")
	}
	if value != "10.0.0.1:8080" {
		t.Errorf("expected 10.0.0.1:8080, got %s", value)
	}

	if _, ok := cache.Get("tok-missing"); ok {
		t.Error("expected miss for tok-missing")
	}
}

func TestKeyedCache_Remove(t *testing.T) {
	cache := NewKeyedCache[int](100, time.Minute, testLogger())

	cache.Set("a", 1)
	cache.Remove("a")

	if _, ok := cache.Get("a"); ok {
		t.Error("expected miss after Remove")
	}
}

func TestKeyedCache_TTLExpiry(t *testing.T) {
	cache := NewKeyedCache[int](100, 20*time.Millisecond, testLogger())

	cache.Set("a", 1)
	if _, ok := cache.Get("a"); !ok {
		t.Fatal("expected hit before TTL")
	}

	time.Sleep(50 * time.Millisecond)

	if _, ok := cache.Get("a"); ok {
		t.Error("expected miss after TTL expiry")
	}
}

func TestKeyedCache_MaxSizeEviction(t *testing.T) {
	cache := NewKeyedCache[int](2, time.Minute, testLogger())

	cache.Set("a", 1)
	cache.Set("b", 2)
	cache.Set("c", 3)

	if cache.Size() != 2 {
		t.Errorf("expected size capped at 2, got %d", cache.Size())
	}

	// Oldest entry should have been evicted
	if _, ok := cache.Get("a"); ok {
		t.Error("expected oldest entry to be evicted")
	}
	if _, ok := cache.Get("c"); !ok {
		t.Error("expected newest entry to be retained")
	}
}

func TestCacheFlagPointersToCacheConfig(t *testing.T) {
	maxSize := 500
	ttlSec := 10

	flagPtrs := &CacheFlagPointers{
		maxSize: &maxSize,
		ttlSec:  &ttlSec,
	}

	config := flagPtrs.ToCacheConfig()

	if config.MaxSize != maxSize {
		t.Errorf("expected max size %d, got %d", maxSize, config.MaxSize)
	}
	if config.TTL != 10*time.Second {
		t.Errorf("expected TTL 10s, got %v", config.TTL)
	}
}
