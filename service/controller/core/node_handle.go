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
	"log/slog"
	"sync"
	"time"

	"github.com/jamsocket/plane/internal/names"
	"github.com/jamsocket/plane/internal/types"
	"github.com/jamsocket/plane/service/controller/telemetry"
)

// offlineTimeout bounds the release work in Close. Close runs in deferred
// paths whose request context is usually already cancelled, so it uses a
// fresh one.
const offlineTimeout = 5 * time.Second

// NodeHandle owns one connected node's online state. The socket handler that
// registered the node must Close the handle on every exit path; until then
// the node stays schedulable (for drones) and routable (for proxies).
type NodeHandle struct {
	id   types.NodeID
	name names.NodeName
	kind names.NodeKind

	queue       *OfflineQueue // nil falls through to store
	store       OfflineStore
	logger      *slog.Logger
	instruments *telemetry.Instruments

	once sync.Once
}

// ID returns the node's registry id.
func (h *NodeHandle) ID() types.NodeID {
	return h.id
}

// Name returns the node's name.
func (h *NodeHandle) Name() names.NodeName {
	return h.name
}

// Close releases the node: it enqueues a durable mark-offline command, or
// marks the store directly when the queue is unavailable, so a node is never
// wedged online by a Redis outage. Safe to call more than once.
func (h *NodeHandle) Close() {
	h.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), offlineTimeout)
		defer cancel()

		h.instruments.NodesConnected.Add(ctx, -1, telemetry.NodeKindAttrs.Get(h.kind.String()))

		if h.queue != nil {
			err := h.queue.Enqueue(ctx, h.id, h.name)
			if err == nil {
				h.logger.Info("Node release enqueued",
					slog.String("node", h.name.String()),
					slog.Int64("node_id", int64(h.id)))
				return
			}
			h.logger.Warn("Offline enqueue failed, marking directly",
				slog.String("node", h.name.String()),
				slog.String("error", err.Error()))
		}

		if err := h.store.MarkOffline(ctx, h.id); err != nil {
			h.logger.Error("Failed to mark node offline",
				slog.String("node", h.name.String()),
				slog.Int64("node_id", int64(h.id)),
				slog.String("error", err.Error()))
			return
		}
		h.instruments.OfflineMarksTotal.Add(ctx, 1)
		h.logger.Info("Node marked offline",
			slog.String("node", h.name.String()),
			slog.Int64("node_id", int64(h.id)))
	})
}
