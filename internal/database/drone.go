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
	"github.com/jamsocket/plane/internal/types"
)

// droneHeartbeatStaleness is how old a drone's heartbeat may be before the
// scheduler stops placing backends on it, even if it was never marked
// offline. It covers controllers that died without closing their sockets.
const droneHeartbeatStaleness = 30 * time.Second

// SchedulerFunc picks the drone that will host a newly spawned backend. It
// runs inside the connect transaction; returning ErrNoDroneAvailable fails
// the connect with no backend created. The executable config is available
// for policies that weigh resource requests, though the default ignores it.
type SchedulerFunc func(ctx context.Context, tx pgx.Tx, cluster types.ClusterName, executable *types.ExecutorConfig) (types.NodeID, error)

// LeastLoadedDrone is the default scheduler: among the cluster's online,
// recently heartbeating drones with spare capacity, pick the one hosting the
// fewest non-terminated backends, breaking ties by lowest node id. The
// capacity check is point-in-time; a burst of concurrent connects can
// momentarily overshoot max_backends.
func LeastLoadedDrone(ctx context.Context, tx pgx.Tx, cluster types.ClusterName, _ *types.ExecutorConfig) (types.NodeID, error) {
	var id int64
	err := tx.QueryRow(ctx, `
		select node.id
		from node
		left join backend
			on backend.drone_id = node.id
			and backend.last_status != $4
		where
			node.cluster = $1
			and node.kind = $2
			and node.offline_at is null
			and node.last_heartbeat > now() - make_interval(secs => $3)
		group by node.id
		having node.max_backends is null or count(backend.id) < node.max_backends
		order by count(backend.id) asc, node.id asc
		limit 1`,
		cluster.String(), names.NodeKindDrone.String(),
		droneHeartbeatStaleness.Seconds(), types.BackendStatusTerminated.String()).
		Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNoDroneAvailable
		}
		return 0, err
	}
	return types.NodeID(id), nil
}
