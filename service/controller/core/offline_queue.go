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
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jamsocket/plane/internal/database"
	"github.com/jamsocket/plane/internal/names"
	"github.com/jamsocket/plane/internal/types"
	"github.com/jamsocket/plane/service/controller/telemetry"
)

const (
	// offlineStream is the Redis Stream node releases are enqueued onto.
	offlineStream = "plane:node-offline"
	// offlineGroup is the consumer group all controllers drain through, so
	// each entry is handled once even with several controllers running.
	offlineGroup = "plane:controllers"

	drainBlock = 5 * time.Second
	drainCount = 16

	// claimMinIdle is how long an entry must sit in a dead controller's
	// pending list before another controller claims it at startup.
	claimMinIdle = time.Minute
)

// OfflineStore is the piece of the node registry the queue needs.
type OfflineStore interface {
	MarkOffline(ctx context.Context, id types.NodeID) error
}

// OfflineQueue makes node release durable: Close enqueues, any controller's
// drainer marks the store and acks. An entry a controller dies holding is
// claimed by the next controller to start.
type OfflineQueue struct {
	client      *redis.Client
	store       OfflineStore
	consumer    string
	logger      *slog.Logger
	instruments *telemetry.Instruments
}

// NewOfflineQueue builds a queue draining as the given controller.
func NewOfflineQueue(client *redis.Client, store OfflineStore, consumer names.ControllerName, logger *slog.Logger, instruments *telemetry.Instruments) *OfflineQueue {
	if logger == nil {
		logger = slog.Default()
	}
	if instruments == nil {
		instruments = telemetry.NewNoopInstruments()
	}
	return &OfflineQueue{
		client:      client,
		store:       store,
		consumer:    consumer.String(),
		logger:      logger.With(slog.String("component", "offline_queue")),
		instruments: instruments,
	}
}

// Enqueue records that the node must be marked offline. The name rides along
// for operators inspecting the stream.
func (q *OfflineQueue) Enqueue(ctx context.Context, id types.NodeID, name names.NodeName) error {
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: offlineStream,
		Values: map[string]any{"node_id": int64(id), "name": name.String()},
	}).Err()
}

// Run drains the queue until ctx ends. It first claims entries abandoned by
// dead controllers, then blocks on new deliveries.
func (q *OfflineQueue) Run(ctx context.Context) error {
	if err := q.ensureGroup(ctx); err != nil {
		return fmt.Errorf("creating offline consumer group: %w", err)
	}
	q.claimAbandoned(ctx)
	q.logger.Info("Draining offline queue", slog.String("consumer", q.consumer))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := q.drainOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			q.logger.Warn("Offline queue read failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
		}
	}
}

func (q *OfflineQueue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, offlineStream, offlineGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// claimAbandoned takes over entries a previous controller read but never
// acked. Claim failures only delay those entries, so they are logged and
// startup continues.
func (q *OfflineQueue) claimAbandoned(ctx context.Context) {
	start := "0-0"
	for {
		msgs, next, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   offlineStream,
			Group:    offlineGroup,
			Consumer: q.consumer,
			MinIdle:  claimMinIdle,
			Start:    start,
			Count:    drainCount,
		}).Result()
		if err != nil {
			q.logger.Warn("Claiming abandoned offline entries failed", slog.String("error", err.Error()))
			return
		}
		if len(msgs) > 0 {
			q.logger.Info("Claimed abandoned offline entries", slog.Int("count", len(msgs)))
			q.process(ctx, msgs)
		}
		if next == "0-0" || len(msgs) == 0 {
			return
		}
		start = next
	}
}

func (q *OfflineQueue) drainOnce(ctx context.Context) error {
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    offlineGroup,
		Consumer: q.consumer,
		Streams:  []string{offlineStream, ">"},
		Count:    drainCount,
		Block:    drainBlock,
	}).Result()
	if errors.Is(err, redis.Nil) {
		// Poll timeout with nothing queued.
		return nil
	}
	if err != nil {
		return err
	}
	for _, stream := range streams {
		q.process(ctx, stream.Messages)
	}
	return nil
}

// process marks each entry's node offline, acking on success. A failed mark
// leaves the entry pending so it is retried here or claimed elsewhere.
func (q *OfflineQueue) process(ctx context.Context, msgs []redis.XMessage) {
	for _, msg := range msgs {
		id, err := parseNodeID(msg.Values)
		if err != nil {
			// A malformed entry can never succeed; ack it away so it
			// cannot wedge the group.
			q.logger.Error("Dropping malformed offline entry",
				slog.String("entry", msg.ID),
				slog.String("error", err.Error()))
			q.ack(ctx, msg.ID)
			continue
		}
		err = q.store.MarkOffline(ctx, id)
		if err != nil && !errors.Is(err, database.ErrNotFound) {
			q.logger.Warn("Marking node offline failed",
				slog.Int64("node_id", int64(id)),
				slog.String("error", err.Error()))
			continue
		}
		if err == nil {
			q.instruments.OfflineMarksTotal.Add(ctx, 1)
			q.logger.Info("Node marked offline", slog.Int64("node_id", int64(id)))
		}
		q.ack(ctx, msg.ID)
	}
}

func (q *OfflineQueue) ack(ctx context.Context, entryID string) {
	if err := q.client.XAck(ctx, offlineStream, offlineGroup, entryID).Err(); err != nil {
		q.logger.Warn("Acking offline entry failed",
			slog.String("entry", entryID),
			slog.String("error", err.Error()))
	}
}

func parseNodeID(values map[string]any) (types.NodeID, error) {
	raw, ok := values["node_id"]
	if !ok {
		return 0, fmt.Errorf("entry has no node_id field")
	}
	s, ok := raw.(string)
	if !ok {
		return 0, fmt.Errorf("node_id is %T, want string", raw)
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("node_id %q: %w", s, err)
	}
	return types.NodeID(id), nil
}
