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
	"net/netip"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jamsocket/plane/internal/names"
	"github.com/jamsocket/plane/internal/protocol"
	"github.com/jamsocket/plane/internal/types"
)

// BackendDB is the view over backends, their status log, connection tokens,
// and durable actions.
type BackendDB struct {
	db *PlaneDB
}

// BackendRow is one backend's current state.
type BackendRow struct {
	ID                 names.BackendName
	Cluster            types.ClusterName
	LastStatus         types.BackendStatus
	LastStatusTime     time.Time
	LastKeepalive      time.Time
	DroneID            types.NodeID
	ExpirationTime     *time.Time
	AllowedIdleSeconds *int64
	ClusterAddress     *string
	ExitCode           *int32
	// AsOf is the database clock at query time, so ages computed from the
	// row don't mix clocks.
	AsOf time.Time
}

// StatusAge is how long the backend has been in its current status, as of
// the query.
func (r *BackendRow) StatusAge() time.Duration {
	return r.AsOf.Sub(r.LastStatusTime)
}

const backendColumns = `
	id,
	cluster,
	last_status,
	last_status_time,
	last_keepalive,
	drone_id,
	expiration_time,
	allowed_idle_seconds,
	cluster_address,
	exit_code,
	now() as as_of`

func scanBackendRow(row pgx.Row) (*BackendRow, error) {
	var (
		r       BackendRow
		id      string
		cluster string
		status  string
	)
	err := row.Scan(&id, &cluster, &status, &r.LastStatusTime, &r.LastKeepalive,
		&r.DroneID, &r.ExpirationTime, &r.AllowedIdleSeconds, &r.ClusterAddress,
		&r.ExitCode, &r.AsOf)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r.ID = names.BackendName(id)
	r.Cluster = types.ClusterName(cluster)
	r.LastStatus, err = types.ParseBackendStatus(status)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Backend returns one backend's current state, or ErrNotFound.
func (b *BackendDB) Backend(ctx context.Context, backend names.BackendName) (*BackendRow, error) {
	row := b.db.Pool().QueryRow(ctx,
		"select"+backendColumns+" from backend where id = $1", backend.String())
	return scanBackendRow(row)
}

// ListBackends returns every backend, including terminated ones.
func (b *BackendDB) ListBackends(ctx context.Context) ([]BackendRow, error) {
	rows, err := b.db.Pool().Query(ctx, "select"+backendColumns+" from backend order by id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []BackendRow
	for rows.Next() {
		r, err := scanBackendRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *r)
	}
	return result, rows.Err()
}

// LatestStatus returns the backend's current status with the time it was
// recorded; this always equals the newest row of the status log.
func (b *BackendDB) LatestStatus(ctx context.Context, backend names.BackendName) (types.TimestampedBackendStatus, error) {
	var (
		status string
		at     time.Time
	)
	err := b.db.Pool().QueryRow(ctx,
		"select last_status, last_status_time from backend where id = $1", backend.String()).
		Scan(&status, &at)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.TimestampedBackendStatus{}, ErrNotFound
		}
		return types.TimestampedBackendStatus{}, err
	}
	parsed, err := types.ParseBackendStatus(status)
	if err != nil {
		return types.TimestampedBackendStatus{}, err
	}
	return types.TimestampedBackendStatus{Status: parsed, Time: at}, nil
}

// StatusUpdate is one lifecycle transition reported for a backend.
type StatusUpdate struct {
	Status types.BackendStatus
	// Address is the host:port the backend listens on. Empty leaves the
	// recorded address unchanged; once set it is kept for route lookups
	// even if later updates omit it.
	Address string
	// ExitCode, when non-nil, records the process exit code.
	ExitCode *int32
}

// UpdateStatus appends a status to the backend's log and updates its current
// state, all in one transaction with the event bus emit. Moving backwards in
// the lifecycle returns ErrInvalidTransition and changes nothing; reporting
// the current status again is allowed, since drones resend on reconnect.
// When the new status is terminated, the backend's connect key is released.
func (b *BackendDB) UpdateStatus(ctx context.Context, backend names.BackendName, update StatusUpdate) error {
	if !update.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, update.Status.String())
	}

	tx, err := b.db.Pool().Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var current string
	err = tx.QueryRow(ctx, "select last_status from backend where id = $1 for update", backend.String()).
		Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if update.Status.Before(types.BackendStatus(current)) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, update.Status.String())
	}

	if err := Emit(ctx, tx, backend.String(), update.Status); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		update backend
		set
			last_status = $2,
			last_status_time = now(),
			cluster_address = coalesce($3, cluster_address),
			exit_code = coalesce($4, exit_code)
		where id = $1`,
		backend.String(), update.Status.String(), nullIfEmpty(update.Address), update.ExitCode)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		"insert into backend_status (backend_id, status) values ($1, $2)",
		backend.String(), update.Status.String())
	if err != nil {
		return err
	}

	if update.Status.Terminal() {
		if _, err := tx.Exec(ctx, "delete from backend_key where id = $1", backend.String()); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// UpdateKeepalive resets the backend's idle clock, or returns ErrNotFound.
func (b *BackendDB) UpdateKeepalive(ctx context.Context, backend names.BackendName) error {
	tag, err := b.db.Pool().Exec(ctx,
		"update backend set last_keepalive = now() where id = $1", backend.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TerminationCandidate is a backend that has outlived its idle or lifetime
// limit and should be terminated.
type TerminationCandidate struct {
	BackendID names.BackendName
	// AsOf is the database clock time the candidacy was evaluated at.
	AsOf               time.Time
	ExpirationTime     *time.Time
	LastKeepalive      time.Time
	AllowedIdleSeconds *int64
}

// TerminationCandidates returns the drone's backends whose idle time exceeds
// allowed_idle_seconds or whose expiration time has passed. Backends already
// terminating still show up (they leave only at terminated), which is what
// lets the sweeper escalate a stuck soft termination to a hard one.
func (b *BackendDB) TerminationCandidates(ctx context.Context, droneID types.NodeID) ([]TerminationCandidate, error) {
	rows, err := b.db.Pool().Query(ctx, `
		select
			id,
			now() as as_of,
			expiration_time,
			last_keepalive,
			allowed_idle_seconds
		from backend
		where
			drone_id = $1
			and last_status != $2
			and (
				now() - last_keepalive > make_interval(secs => allowed_idle_seconds)
				or now() > expiration_time
			)`,
		int64(droneID), types.BackendStatusTerminated.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []TerminationCandidate
	for rows.Next() {
		var (
			c  TerminationCandidate
			id string
		)
		if err := rows.Scan(&id, &c.AsOf, &c.ExpirationTime, &c.LastKeepalive, &c.AllowedIdleSeconds); err != nil {
			return nil, err
		}
		c.BackendID = names.BackendName(id)
		result = append(result, c)
	}
	return result, rows.Err()
}

// RouteInfoForToken resolves a bearer token to the route a proxy should
// forward it to. It returns (nil, nil) when the token is unknown, the backend
// is terminated, or no usable address has been reported yet; proxies treat
// all of those as a 404 and must not cache them.
func (b *BackendDB) RouteInfoForToken(ctx context.Context, token types.BearerToken) (*protocol.RouteInfo, error) {
	var (
		backendID   string
		username    *string
		auth        json.RawMessage
		lastStatus  string
		address     *string
		secretToken string
	)
	err := b.db.Pool().QueryRow(ctx, `
		select
			token.backend_id,
			token.username,
			token.auth,
			backend.last_status,
			backend.cluster_address,
			token.secret_token
		from token
		join backend on backend.id = token.backend_id
		where token.token = $1`,
		token.String()).
		Scan(&backendID, &username, &auth, &lastStatus, &address, &secretToken)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if types.BackendStatus(lastStatus).Terminal() {
		return nil, nil
	}
	if address == nil {
		return nil, nil
	}
	if _, err := netip.ParseAddrPort(*address); err != nil {
		b.db.logger.Warn("Backend has unparseable cluster address",
			"backend", backendID, "address", *address)
		return nil, nil
	}

	var user string
	if username != nil {
		user = *username
	}
	return &protocol.RouteInfo{
		BackendID:   names.BackendName(backendID),
		Address:     *address,
		SecretToken: types.SecretToken(secretToken),
		User:        user,
		UserData:    auth,
	}, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
