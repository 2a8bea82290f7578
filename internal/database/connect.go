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
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jamsocket/plane/internal/names"
	"github.com/jamsocket/plane/internal/protocol"
	"github.com/jamsocket/plane/internal/types"
)

// connectAttempts bounds how often a keyed connect retries after losing an
// insert race on its key. Races need two requests inside the same few
// milliseconds, so a loss twice in a row already means pathological traffic
// on one key.
const connectAttempts = 3

// Connect resolves a connect request against the cluster: reuse the live
// backend holding the request's key, or spawn a fresh one, and in either case
// mint a new token routing to it. Each attempt runs as a single transaction,
// so a crash can never leak half a backend.
//
// Concurrent connects on the same new key serialize on the key's unique
// index: losers retry and find the winner's backend. ErrKeyConflict is
// returned only when the retries run out.
func (db *PlaneDB) Connect(ctx context.Context, cluster types.ClusterName, req *types.ConnectRequest) (*types.ConnectResponse, error) {
	for attempt := 1; ; attempt++ {
		resp, err := db.connectOnce(ctx, cluster, req)
		if err == nil {
			return resp, nil
		}
		if !isUniqueViolation(err) {
			return nil, err
		}
		if attempt >= connectAttempts {
			return nil, fmt.Errorf("%w: lost the spawn race %d times", ErrKeyConflict, attempt)
		}
		db.logger.Info("Keyed connect raced, retrying",
			"cluster", cluster.String(), "attempt", attempt)
	}
}

func (db *PlaneDB) connectOnce(ctx context.Context, cluster types.ClusterName, req *types.ConnectRequest) (*types.ConnectResponse, error) {
	tx, err := db.Pool().Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var (
		backendID names.BackendName
		status    types.BackendStatus
		spawned   bool
	)

	if req.Key != nil {
		backendID, status, err = resolveKey(ctx, tx, cluster, req.Key)
		if err != nil {
			return nil, err
		}
	}

	if backendID == "" {
		if req.SpawnConfig == nil {
			return nil, fmt.Errorf("%w: no live backend holds the key and the request cannot spawn", ErrNotFound)
		}
		backendID, err = spawn(ctx, tx, db.Scheduler, cluster, req)
		if err != nil {
			return nil, err
		}
		status = types.BackendStatusScheduled
		spawned = true
	}

	token := types.NewBearerToken()
	secret := types.NewSecretToken()
	auth := req.Auth
	if len(auth) == 0 {
		auth = json.RawMessage("{}")
	}
	_, err = tx.Exec(ctx, `
		insert into token (token, backend_id, username, auth, secret_token)
		values ($1, $2, $3, $4, $5)`,
		token.String(), backendID.String(), nullIfEmpty(req.User), auth, secret.String())
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return &types.ConnectResponse{
		BackendID: backendID,
		Spawned:   spawned,
		Token:     token,
		Secret:    secret,
		Status:    status,
	}, nil
}

// resolveKey looks up the request's key under a row lock. The tag is part of
// the key identity, so requests carrying a different tag resolve to a
// different key entirely. It returns the holding backend when one is alive,
// clears the key and returns empty when the holder already terminated, and
// returns empty when no holder exists.
func resolveKey(ctx context.Context, tx pgx.Tx, cluster types.ClusterName, key *types.KeyConfig) (names.BackendName, types.BackendStatus, error) {
	var (
		holder     string
		holderLast string
	)
	err := tx.QueryRow(ctx, `
		select backend_key.id, backend.last_status
		from backend_key
		join backend on backend.id = backend_key.id
		where
			backend_key.cluster = $1
			and backend_key.namespace = $2
			and backend_key.name = $3
			and backend_key.tag = $4
		for update of backend_key`,
		cluster.String(), key.Namespace, key.Name, key.Tag).
		Scan(&holder, &holderLast)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", "", nil
		}
		return "", "", err
	}

	holderStatus, err := types.ParseBackendStatus(holderLast)
	if err != nil {
		return "", "", err
	}
	if holderStatus.Terminal() {
		// The key normally dies with its backend; this clears the rare
		// leftover from a crash between those writes.
		if _, err := tx.Exec(ctx, "delete from backend_key where id = $1", holder); err != nil {
			return "", "", err
		}
		return "", "", nil
	}
	return names.BackendName(holder), holderStatus, nil
}

// spawn creates the backend row, its first status log entry, its key (when
// the request has one), and the durable spawn action for the chosen drone.
func spawn(ctx context.Context, tx pgx.Tx, scheduler SchedulerFunc, cluster types.ClusterName, req *types.ConnectRequest) (names.BackendName, error) {
	droneID, err := scheduler(ctx, tx, cluster, &req.SpawnConfig.Executable)
	if err != nil {
		return "", err
	}

	backendID := names.NewBackendName()

	// The expiration deadline is computed on the database clock, the same
	// clock termination candidacy is judged against.
	var lifetimeSecs *float64
	if req.SpawnConfig.LifetimeLimitSeconds != nil {
		f := float64(*req.SpawnConfig.LifetimeLimitSeconds)
		lifetimeSecs = &f
	}
	var expiration *time.Time
	err = tx.QueryRow(ctx, `
		insert into backend (id, cluster, last_status, drone_id, expiration_time, allowed_idle_seconds)
		values ($1, $2, $3, $4,
			case when $5::double precision is null then null else now() + make_interval(secs => $5) end,
			$6)
		returning expiration_time`,
		backendID.String(), cluster.String(), types.BackendStatusScheduled.String(),
		int64(droneID), lifetimeSecs, req.SpawnConfig.MaxIdleSeconds).
		Scan(&expiration)
	if err != nil {
		return "", err
	}

	if err := Emit(ctx, tx, backendID.String(), types.BackendStatusScheduled); err != nil {
		return "", err
	}
	_, err = tx.Exec(ctx,
		"insert into backend_status (backend_id, status) values ($1, $2)",
		backendID.String(), types.BackendStatusScheduled.String())
	if err != nil {
		return "", err
	}

	if req.Key != nil {
		_, err = tx.Exec(ctx, `
			insert into backend_key (id, cluster, namespace, name, tag)
			values ($1, $2, $3, $4, $5)`,
			backendID.String(), cluster.String(), req.Key.Namespace, req.Key.Name, req.Key.Tag)
		if err != nil {
			// A unique violation here is the keyed connect race; the
			// caller retries and finds the winner.
			return "", err
		}
	}

	msg := protocol.BackendActionMessage{
		ActionID:  names.NewActionName(),
		BackendID: backendID,
		DroneID:   droneID,
		Action: protocol.SpawnAction(
			&req.SpawnConfig.Executable,
			req.Key,
			expiration,
			req.SpawnConfig.MaxIdleSeconds,
		),
	}
	if err := insertAction(ctx, tx, msg); err != nil {
		return "", err
	}

	return backendID, nil
}
