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

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jamsocket/plane/utils"
)

const (
	// notificationChannel is the single pg_notify channel everything rides
	// on; the kind and key inside the envelope do the routing.
	notificationChannel = "plane"

	// subscriptionBuffer bounds each subscription's channel. A subscriber
	// that falls this far behind is closed with ErrSubscriptionLagged
	// rather than blocking the dispatcher.
	subscriptionBuffer = 64

	listenerMaxBackoff = 30 * time.Second
)

// emitSQL routes every event through one pg_notify envelope. The timestamp is
// taken from the database clock so ordering agrees with commit order. Note
// pg_notify payloads are capped at roughly 8000 bytes; payloads here are
// status strings and action messages, which stay well under it.
var emitSQL = `select pg_notify('` + notificationChannel + `', json_build_object(
	'kind', $1::text,
	'key', $2::text,
	'timestamp', now(),
	'payload', $3::jsonb
)::text)`

// NotificationPayload is implemented by every type that travels over the
// event bus. The kind string partitions the bus; subscribers name the kind
// and key they want.
type NotificationPayload interface {
	NotificationKind() string
}

// Notification is the envelope delivered to subscribers.
type Notification struct {
	Kind      string          `json:"kind"`
	Key       string          `json:"key"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Emit publishes payload under key as part of tx. The notification is
// delivered only if the transaction commits, in commit order, which is what
// lets subscribers treat the bus as a change feed over committed state.
func Emit(ctx context.Context, tx pgx.Tx, key string, payload NotificationPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, emitSQL, payload.NotificationKind(), key, body)
	return err
}

type subKey struct {
	kind string
	key  string
}

// Listener owns the dedicated LISTEN connection and fans notifications out to
// subscriptions. One Listener per process; Run must be kept running for any
// subscription to deliver.
type Listener struct {
	pool   *pgxpool.Pool
	logger *slog.Logger

	ready     chan struct{}
	readyOnce sync.Once

	mu   sync.Mutex
	subs map[subKey]map[*Subscription]struct{}
}

// NewListener builds a listener over the shared pool. It does nothing until
// Run is called.
func NewListener(pool *pgxpool.Pool, logger *slog.Logger) *Listener {
	return &Listener{
		pool:   pool,
		logger: logger.With("component", "listener"),
		ready:  make(chan struct{}),
		subs:   make(map[subKey]map[*Subscription]struct{}),
	}
}

// Ready is closed once the listener is attached and dispatching for the first
// time. Subscriptions opened before that are closed as lagged when it
// attaches, so callers that need a deterministic start wait on this.
func (l *Listener) Ready() <-chan struct{} {
	return l.ready
}

// Notify publishes payload outside any transaction. It is used for events
// that have no stored row behind them, such as backend metrics samples.
func (l *Listener) Notify(ctx context.Context, key string, payload NotificationPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = l.pool.Exec(ctx, emitSQL, payload.NotificationKind(), key, body)
	return err
}

// Subscribe opens a subscription for (kind, key). The returned subscription
// receives every matching notification dispatched after this call returns,
// until it lags or is closed. Subscribe before reading current state from the
// store and events cannot be missed in between.
func (l *Listener) Subscribe(kind, key string) *Subscription {
	sub := &Subscription{
		listener: l,
		kind:     kind,
		key:      key,
		ch:       make(chan Notification, subscriptionBuffer),
	}
	k := subKey{kind, key}
	l.mu.Lock()
	if l.subs[k] == nil {
		l.subs[k] = make(map[*Subscription]struct{})
	}
	l.subs[k][sub] = struct{}{}
	l.mu.Unlock()
	return sub
}

// SubscribeTo opens a subscription for payload type P under key, taking the
// kind from the payload type so subscribers and emitters cannot drift apart.
func SubscribeTo[P NotificationPayload](l *Listener, key string) *Subscription {
	var p P
	return l.Subscribe(p.NotificationKind(), key)
}

// Run connects, listens, and dispatches until ctx is cancelled, reconnecting
// with backoff on connection loss. Every reconnect fails all live
// subscriptions with ErrSubscriptionLagged: events may have committed while
// no connection was listening, so subscribers must re-read their state.
func (l *Listener) Run(ctx context.Context) error {
	retryCount := 0
	for {
		err := l.listenOnce(ctx)
		if ctx.Err() != nil {
			l.closeAll(nil)
			return ctx.Err()
		}
		retryCount++
		l.closeAll(ErrSubscriptionLagged)
		backoff := utils.CalculateBackoff(retryCount, listenerMaxBackoff)
		l.logger.Warn("Notification connection lost, reconnecting",
			"error", err, "retry", retryCount, "backoff", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

func (l *Listener) listenOnce(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "listen "+notificationChannel); err != nil {
		return err
	}
	// Subscriptions opened before this point span a window with no LISTEN
	// active, so they may already have missed events.
	l.closeAll(ErrSubscriptionLagged)
	l.readyOnce.Do(func() { close(l.ready) })
	l.logger.Info("Listening for notifications", "channel", notificationChannel)

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		l.dispatch(notification.Payload)
	}
}

func (l *Listener) dispatch(raw string) {
	var n Notification
	if err := json.Unmarshal([]byte(raw), &n); err != nil {
		l.logger.Warn("Dropping undecodable notification", "error", err)
		return
	}
	k := subKey{n.Kind, n.Key}

	var lagged []*Subscription
	l.mu.Lock()
	for sub := range l.subs[k] {
		select {
		case sub.ch <- n:
		default:
			lagged = append(lagged, sub)
		}
	}
	for _, sub := range lagged {
		delete(l.subs[k], sub)
	}
	if len(l.subs[k]) == 0 {
		delete(l.subs, k)
	}
	l.mu.Unlock()

	for _, sub := range lagged {
		sub.fail(ErrSubscriptionLagged)
		l.logger.Warn("Subscription lagged, closing", "kind", n.Kind, "key", n.Key)
	}
}

// closeAll fails every subscription with err (nil for a clean shutdown).
func (l *Listener) closeAll(err error) {
	l.mu.Lock()
	var all []*Subscription
	for _, set := range l.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	l.subs = make(map[subKey]map[*Subscription]struct{})
	l.mu.Unlock()

	for _, sub := range all {
		sub.fail(err)
	}
}

func (l *Listener) remove(sub *Subscription) {
	k := subKey{sub.kind, sub.key}
	l.mu.Lock()
	if set, ok := l.subs[k]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(l.subs, k)
		}
	}
	l.mu.Unlock()
}

// Subscription is one subscriber's bounded feed of notifications for a single
// (kind, key).
type Subscription struct {
	listener *Listener
	kind     string
	key      string
	ch       chan Notification

	once sync.Once
	mu   sync.Mutex
	err  error
}

// Notifications returns the feed. It is closed when the subscription ends;
// check Err afterwards to distinguish a lag from a clean close.
func (s *Subscription) Notifications() <-chan Notification {
	return s.ch
}

// Err reports why the feed closed. It returns ErrSubscriptionLagged when the
// subscriber fell behind or the LISTEN connection dropped, and nil after a
// clean Close.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close detaches the subscription. Safe to call more than once and
// concurrently with dispatch.
func (s *Subscription) Close() {
	s.listener.remove(s)
	s.fail(nil)
}

func (s *Subscription) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.once.Do(func() { close(s.ch) })
}
