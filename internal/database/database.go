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

// Package database holds the controller's entire persistent state: backends
// and their append-only status logs, nodes, connect keys, tokens, and durable
// backend actions. Postgres is the single source of truth; the LISTEN/NOTIFY
// event bus in this package only tells subscribers that the truth changed.
package database

import (
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jamsocket/plane/utils/postgres"
)

// Sentinel errors returned by store operations. Callers match them with
// errors.Is; the HTTP layer maps each one to a response status.
var (
	// ErrNotFound means the named backend, node, or row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNoDroneAvailable means no live drone in the cluster has capacity.
	ErrNoDroneAvailable = errors.New("no drone available")
	// ErrKeyConflict means a keyed connect lost its spawn race too many
	// times in a row.
	ErrKeyConflict = errors.New("connect key conflict")
	// ErrInvalidTransition means a status update tried to move a backend
	// backwards in its lifecycle.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrSubscriptionLagged means an event bus subscriber fell behind and
	// may have missed events; it must re-read its state from the store.
	ErrSubscriptionLagged = errors.New("subscription lagged")
)

// PlaneDB is the root handle on the controller's store. It owns the
// connection pool (via the shared postgres client) and the notification
// listener, and hands out scoped views over each table family.
type PlaneDB struct {
	client   *postgres.PostgresClient
	listener *Listener
	logger   *slog.Logger

	// Scheduler picks the drone for each spawned backend. It runs inside
	// the connect transaction. Replace it before serving traffic to change
	// placement policy; the default is LeastLoadedDrone.
	Scheduler SchedulerFunc
}

// New wraps an established postgres client. Call Migrate before first use
// and run Listener().Run in a background goroutine for subscriptions and
// status streams to deliver anything.
func New(client *postgres.PostgresClient, logger *slog.Logger) *PlaneDB {
	return &PlaneDB{
		client:    client,
		listener:  NewListener(client.Pool(), logger),
		logger:    logger.With("component", "database"),
		Scheduler: LeastLoadedDrone,
	}
}

// Pool exposes the underlying connection pool for tests and migrations.
func (db *PlaneDB) Pool() *pgxpool.Pool {
	return db.client.Pool()
}

// Listener returns the shared notification listener.
func (db *PlaneDB) Listener() *Listener {
	return db.listener
}

// Backends returns the view over backends, their status log, tokens, and
// durable actions.
func (db *PlaneDB) Backends() *BackendDB {
	return &BackendDB{db: db}
}

// Nodes returns the view over registered nodes.
func (db *PlaneDB) Nodes() *NodeDB {
	return &NodeDB{db: db}
}

// Controllers returns the view over the controller registry.
func (db *PlaneDB) Controllers() *ControllerDB {
	return &ControllerDB{db: db}
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505), which is how keyed connect races surface.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
