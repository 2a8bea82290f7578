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
	"fmt"
)

// migrationLockKey serializes Migrate across controllers sharing a database.
const migrationLockKey = int64(0x706c616e65) // "plane"

type migration struct {
	version    int
	name       string
	statements []string
}

var migrations = []migration{
	{
		version: 1,
		name:    "base tables",
		statements: []string{
			`create table controller (
				id text primary key,
				is_online boolean not null default true,
				plane_version text not null,
				plane_hash text not null,
				first_seen timestamptz not null default now(),
				last_heartbeat timestamptz not null default now()
			)`,
			`create table node (
				id bigint generated always as identity primary key,
				name text not null unique,
				kind text not null,
				cluster text,
				controller text,
				plane_version text not null,
				plane_hash text not null,
				ip text not null,
				max_backends integer,
				last_heartbeat timestamptz not null default now(),
				offline_at timestamptz
			)`,
			`create index node_cluster_kind_idx on node (cluster, kind)`,
			`create table backend (
				id text primary key,
				cluster text not null,
				last_status text not null,
				last_status_time timestamptz not null default now(),
				last_keepalive timestamptz not null default now(),
				drone_id bigint not null references node (id),
				expiration_time timestamptz,
				allowed_idle_seconds bigint,
				cluster_address text,
				exit_code integer
			)`,
			`create index backend_drone_idx on backend (drone_id)`,
			`create table backend_status (
				id bigint generated always as identity primary key,
				backend_id text not null references backend (id),
				status text not null,
				created_at timestamptz not null default now()
			)`,
			`create index backend_status_backend_idx on backend_status (backend_id, id)`,
			`create table backend_key (
				id text primary key references backend (id),
				cluster text not null,
				namespace text not null,
				name text not null,
				tag text not null,
				created_at timestamptz not null default now(),
				unique (cluster, namespace, name, tag)
			)`,
			`create table token (
				token text primary key,
				backend_id text not null references backend (id),
				username text,
				auth jsonb not null default '{}',
				secret_token text not null,
				created_at timestamptz not null default now()
			)`,
			`create table backend_action (
				id text primary key,
				backend_id text not null references backend (id),
				drone_id bigint not null references node (id),
				action jsonb not null,
				created_at timestamptz not null default now(),
				acked_at timestamptz
			)`,
			`create index backend_action_pending_idx on backend_action (drone_id) where acked_at is null`,
		},
	},
}

// Migrate brings the schema up to date. It is safe to run from every
// controller on startup; an advisory lock serializes concurrent runs and
// already-applied versions are skipped.
func (db *PlaneDB) Migrate(ctx context.Context) error {
	pool := db.Pool()
	_, err := pool.Exec(ctx, `create table if not exists schema_version (
		version integer primary key,
		name text not null,
		applied_at timestamptz not null default now()
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "select pg_advisory_xact_lock($1)", migrationLockKey); err != nil {
		return fmt.Errorf("taking migration lock: %w", err)
	}

	var current int
	if err := tx.QueryRow(ctx, "select coalesce(max(version), 0) from schema_version").Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		for _, stmt := range m.statements {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
			}
		}
		if _, err := tx.Exec(ctx,
			"insert into schema_version (version, name) values ($1, $2)", m.version, m.name); err != nil {
			return fmt.Errorf("recording migration %d: %w", m.version, err)
		}
		db.logger.Info("Applied schema migration", "version", m.version, "name", m.name)
	}

	return tx.Commit(ctx)
}
