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

package database

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jamsocket/plane/internal/names"
	"github.com/jamsocket/plane/internal/types"
)

// StatusStream yields every status a backend goes through, in order, without
// gaps or duplicates: first the log so far, then live events, ending after
// the terminal status. A consumer that sees the feed close should check Err;
// ErrSubscriptionLagged means it must reopen the stream to resynchronize.
type StatusStream struct {
	ch     chan types.TimestampedBackendStatus
	cancel context.CancelFunc

	mu  sync.Mutex
	err error
}

// StatusStream opens a status stream for the backend, or ErrNotFound if it
// does not exist. The subscription is taken out before the log is read, so
// transitions committed in between are never missed; duplicates from that
// overlap are suppressed by rank.
func (b *BackendDB) StatusStream(ctx context.Context, backend names.BackendName) (*StatusStream, error) {
	sub := SubscribeTo[types.BackendStatus](b.db.listener, backend.String())

	rows, err := b.db.Pool().Query(ctx, `
		select status, created_at
		from backend_status
		where backend_id = $1
		order by id asc`,
		backend.String())
	if err != nil {
		sub.Close()
		return nil, err
	}
	defer rows.Close()

	var history []types.TimestampedBackendStatus
	for rows.Next() {
		var (
			status string
			at     time.Time
		)
		if err := rows.Scan(&status, &at); err != nil {
			sub.Close()
			return nil, err
		}
		parsed, err := types.ParseBackendStatus(status)
		if err != nil {
			b.db.logger.Warn("Skipping unknown status in log", "backend", backend.String(), "status", status)
			continue
		}
		history = append(history, types.TimestampedBackendStatus{Status: parsed, Time: at})
	}
	if err := rows.Err(); err != nil {
		sub.Close()
		return nil, err
	}
	// Every backend gets a scheduled row at creation, so an empty log
	// means the backend does not exist.
	if len(history) == 0 {
		sub.Close()
		return nil, ErrNotFound
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream := &StatusStream{
		ch:     make(chan types.TimestampedBackendStatus),
		cancel: cancel,
	}
	go stream.run(streamCtx, b.db.logger, backend, history, sub)
	return stream, nil
}

// Events returns the ordered status feed. The channel closes when the
// terminal status has been delivered, the stream is closed, or it lagged.
func (s *StatusStream) Events() <-chan types.TimestampedBackendStatus {
	return s.ch
}

// Err reports why Events closed: nil after the terminal status or a local
// Close, ErrSubscriptionLagged when the stream fell behind the bus.
func (s *StatusStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close releases the stream. Safe to call at any time.
func (s *StatusStream) Close() {
	s.cancel()
}

func (s *StatusStream) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *StatusStream) run(ctx context.Context, logger *slog.Logger, backend names.BackendName, history []types.TimestampedBackendStatus, sub *Subscription) {
	defer close(s.ch)
	defer sub.Close()

	lastRank := -1
	for _, item := range history {
		// Re-reported statuses sit in the log as duplicate rows; the
		// stream delivers each status once.
		if item.Status.Rank() <= lastRank {
			continue
		}
		if !s.send(ctx, item) {
			return
		}
		lastRank = item.Status.Rank()
		if item.Status.Terminal() {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-sub.Notifications():
			if !ok {
				s.setErr(sub.Err())
				return
			}
			var status types.BackendStatus
			if err := json.Unmarshal(n.Payload, &status); err != nil || !status.Valid() {
				logger.Warn("Skipping undecodable status event",
					"backend", backend.String(), "payload", string(n.Payload))
				continue
			}
			// The subscription predates the log read, so events for
			// statuses already replayed can arrive here; rank order
			// makes them (and drone re-reports) safe to drop.
			if status.Rank() <= lastRank {
				continue
			}
			if !s.send(ctx, types.TimestampedBackendStatus{Status: status, Time: n.Timestamp}) {
				return
			}
			lastRank = status.Rank()
			if status.Terminal() {
				return
			}
		}
	}
}

func (s *StatusStream) send(ctx context.Context, item types.TimestampedBackendStatus) bool {
	select {
	case <-ctx.Done():
		return false
	case s.ch <- item:
		return true
	}
}
