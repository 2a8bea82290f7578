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
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jamsocket/plane/internal/names"
	"github.com/jamsocket/plane/internal/protocol"
)

// ControllerDB is the view over the controller registry. Every controller
// process registers itself on startup so operators can see the fleet and its
// version skew in one query.
type ControllerDB struct {
	db *PlaneDB
}

// ControllerRow is one controller's registration state.
type ControllerRow struct {
	ID            names.ControllerName
	IsOnline      bool
	PlaneVersion  string
	PlaneHash     string
	FirstSeen     time.Time
	LastHeartbeat time.Time
}

// Register records this controller as online. Controller names are minted
// fresh per process, so conflicts only happen if a controller re-registers
// itself.
func (c *ControllerDB) Register(ctx context.Context, id names.ControllerName, version protocol.PlaneVersionInfo) error {
	_, err := c.db.Pool().Exec(ctx, `
		insert into controller (id, is_online, plane_version, plane_hash)
		values ($1, true, $2, $3)
		on conflict (id) do update set
			is_online = true,
			plane_version = excluded.plane_version,
			plane_hash = excluded.plane_hash,
			last_heartbeat = now()`,
		id.String(), version.Version, version.GitHash)
	return err
}

// Heartbeat refreshes the controller's liveness timestamp.
func (c *ControllerDB) Heartbeat(ctx context.Context, id names.ControllerName) error {
	tag, err := c.db.Pool().Exec(ctx,
		"update controller set last_heartbeat = now() where id = $1", id.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkOffline records a clean shutdown. Controllers that die abruptly are
// instead recognized by their stale heartbeat.
func (c *ControllerDB) MarkOffline(ctx context.Context, id names.ControllerName) error {
	tag, err := c.db.Pool().Exec(ctx,
		"update controller set is_online = false, last_heartbeat = now() where id = $1", id.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Controller returns one controller's registration state, or ErrNotFound.
func (c *ControllerDB) Controller(ctx context.Context, id names.ControllerName) (*ControllerRow, error) {
	var (
		r   ControllerRow
		cid string
	)
	err := c.db.Pool().QueryRow(ctx, `
		select id, is_online, plane_version, plane_hash, first_seen, last_heartbeat
		from controller
		where id = $1`,
		id.String()).
		Scan(&cid, &r.IsOnline, &r.PlaneVersion, &r.PlaneHash, &r.FirstSeen, &r.LastHeartbeat)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r.ID = names.ControllerName(cid)
	return &r, nil
}
