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
	"github.com/jamsocket/plane/internal/types"
)

// NodeDB is the view over registered nodes.
type NodeDB struct {
	db *PlaneDB
}

// NodeRow is one node's registration state.
type NodeRow struct {
	ID            types.NodeID
	Name          names.NodeName
	Kind          names.NodeKind
	Cluster       *types.ClusterName
	Controller    *names.ControllerName
	PlaneVersion  string
	PlaneHash     string
	IP            string
	MaxBackends   *int32
	LastHeartbeat time.Time
	OfflineAt     *time.Time
}

// RegisterNode is the identity a node presents when its socket connects.
type RegisterNode struct {
	Name       names.NodeName
	Kind       names.NodeKind
	Cluster    *types.ClusterName
	Controller names.ControllerName
	Version    protocol.PlaneVersionInfo
	IP         string
	// MaxBackends is the drone's capacity cap; nil means unbounded.
	MaxBackends *int32
}

// Register upserts the node by name and returns its stable numeric id. The
// same name always maps to the same id across reconnects; everything else
// (controller, version, address, capacity) is refreshed, the heartbeat is
// reset, and the node comes back online.
func (n *NodeDB) Register(ctx context.Context, node RegisterNode) (types.NodeID, error) {
	tx, err := n.db.Pool().Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var cluster *string
	if node.Cluster != nil {
		c := node.Cluster.String()
		cluster = &c
	}

	// Insert-or-select: the CTE inserts when the name is new and returns
	// the existing row's id otherwise, without an extra round trip.
	var id int64
	err = tx.QueryRow(ctx, `
		with new_node as (
			insert into node (name, kind, cluster, controller, plane_version, plane_hash, ip, max_backends)
			values ($1, $2, $3, $4, $5, $6, $7, $8)
			on conflict (name) do nothing
			returning id
		)
		select id from new_node
		union all
		select id from node where name = $1 and not exists (select 1 from new_node)`,
		node.Name.String(), node.Kind.String(), cluster, node.Controller.String(),
		node.Version.Version, node.Version.GitHash, node.IP, node.MaxBackends).
		Scan(&id)
	if err != nil {
		return 0, err
	}

	_, err = tx.Exec(ctx, `
		update node
		set
			kind = $2,
			cluster = $3,
			controller = $4,
			plane_version = $5,
			plane_hash = $6,
			ip = $7,
			max_backends = $8,
			last_heartbeat = now(),
			offline_at = null
		where id = $1`,
		id, node.Kind.String(), cluster, node.Controller.String(),
		node.Version.Version, node.Version.GitHash, node.IP, node.MaxBackends)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return types.NodeID(id), nil
}

// Heartbeat refreshes the node's liveness timestamp.
func (n *NodeDB) Heartbeat(ctx context.Context, id types.NodeID) error {
	tag, err := n.db.Pool().Exec(ctx,
		"update node set last_heartbeat = now() where id = $1", int64(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkOffline records that the node's socket is gone, removing it from
// scheduling. The earliest mark wins, so redelivered offline events are
// harmless.
func (n *NodeDB) MarkOffline(ctx context.Context, id types.NodeID) error {
	tag, err := n.db.Pool().Exec(ctx,
		"update node set offline_at = coalesce(offline_at, now()) where id = $1", int64(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Node returns one node's registration state, or ErrNotFound.
func (n *NodeDB) Node(ctx context.Context, id types.NodeID) (*NodeRow, error) {
	var (
		r          NodeRow
		nodeID     int64
		name       string
		kind       string
		cluster    *string
		controller *string
	)
	err := n.db.Pool().QueryRow(ctx, `
		select id, name, kind, cluster, controller, plane_version, plane_hash, ip, max_backends, last_heartbeat, offline_at
		from node
		where id = $1`,
		int64(id)).
		Scan(&nodeID, &name, &kind, &cluster, &controller, &r.PlaneVersion, &r.PlaneHash,
			&r.IP, &r.MaxBackends, &r.LastHeartbeat, &r.OfflineAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r.ID = types.NodeID(nodeID)
	r.Name = names.NodeName(name)
	r.Kind = names.NodeKind(kind)
	if cluster != nil {
		c := types.ClusterName(*cluster)
		r.Cluster = &c
	}
	if controller != nil {
		c := names.ControllerName(*controller)
		r.Controller = &c
	}
	return &r, nil
}
