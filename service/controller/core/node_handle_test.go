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

package core

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/jamsocket/plane/internal/names"
	"github.com/jamsocket/plane/service/controller/telemetry"
)

func TestNodeHandleCloseEnqueuesOnce(t *testing.T) {
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { client.Close() })
	store := &fakeOfflineStore{err: errors.New("must go through the queue")}
	queue := NewOfflineQueue(client, store, names.NewControllerName(), testLogger(), nil)

	h := &NodeHandle{
		id:          7,
		name:        names.NewNodeName(names.NodeKindDrone),
		kind:        names.NodeKindDrone,
		queue:       queue,
		store:       store,
		logger:      testLogger(),
		instruments: telemetry.NewNoopInstruments(),
	}
	h.Close()
	h.Close()

	n, err := client.XLen(context.Background(), offlineStream).Result()
	if err != nil {
		t.Fatalf("XLEN: %v", err)
	}
	if n != 1 {
		t.Fatalf("stream has %d entries after double Close, want 1", n)
	}
	if got := store.markedIDs(); len(got) != 0 {
		t.Fatalf("store marked directly: %v", got)
	}
}

func TestNodeHandleFallsBackWhenQueueDown(t *testing.T) {
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { client.Close() })
	store := &fakeOfflineStore{}
	queue := NewOfflineQueue(client, store, names.NewControllerName(), testLogger(), nil)
	m.Close()

	h := &NodeHandle{
		id:          12,
		name:        names.NewNodeName(names.NodeKindProxy),
		kind:        names.NodeKindProxy,
		queue:       queue,
		store:       store,
		logger:      testLogger(),
		instruments: telemetry.NewNoopInstruments(),
	}
	h.Close()

	if got := store.markedIDs(); len(got) != 1 || got[0] != 12 {
		t.Fatalf("marked = %v, want [12]", got)
	}
}

func TestNodeHandleDirectWithoutQueue(t *testing.T) {
	store := &fakeOfflineStore{}
	h := &NodeHandle{
		id:          3,
		name:        names.NewNodeName(names.NodeKindDrone),
		kind:        names.NodeKindDrone,
		store:       store,
		logger:      testLogger(),
		instruments: telemetry.NewNoopInstruments(),
	}
	h.Close()
	h.Close()

	if got := store.markedIDs(); len(got) != 1 || got[0] != 3 {
		t.Fatalf("marked = %v, want [3]", got)
	}
}
