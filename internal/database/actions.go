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

	"github.com/jackc/pgx/v5"

	"github.com/jamsocket/plane/internal/names"
	"github.com/jamsocket/plane/internal/protocol"
	"github.com/jamsocket/plane/internal/types"
)

// insertAction stores a durable action and emits it to the drone's action
// feed within the same transaction.
func insertAction(ctx context.Context, tx pgx.Tx, msg protocol.BackendActionMessage) error {
	body, err := json.Marshal(msg.Action)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		insert into backend_action (id, backend_id, drone_id, action)
		values ($1, $2, $3, $4)`,
		msg.ActionID.String(), msg.BackendID.String(), int64(msg.DroneID), body)
	if err != nil {
		return err
	}
	return Emit(ctx, tx, msg.DroneID.String(), msg)
}

// CreateTerminationAction issues a terminate action for the backend unless an
// unacked terminate of the same kind is already pending, so a sweeper running
// every second does not pile up duplicates. It reports whether a new action
// was created.
func (b *BackendDB) CreateTerminationAction(ctx context.Context, backend names.BackendName, droneID types.NodeID, kind protocol.TerminationKind) (bool, error) {
	tx, err := b.db.Pool().Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	var pending int
	err = tx.QueryRow(ctx, `
		select count(*)
		from backend_action
		where
			backend_id = $1
			and acked_at is null
			and action->>'type' = $2
			and action->>'kind' = $3`,
		backend.String(), string(protocol.ActionTypeTerminate), string(kind)).
		Scan(&pending)
	if err != nil {
		return false, err
	}
	if pending > 0 {
		return false, nil
	}

	msg := protocol.BackendActionMessage{
		ActionID:  names.NewActionName(),
		BackendID: backend,
		DroneID:   droneID,
		Action:    protocol.TerminateAction(kind),
	}
	if err := insertAction(ctx, tx, msg); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

// UnackedActions returns the drone's undelivered actions in creation order.
// The drone socket replays these on every (re)connect.
func (b *BackendDB) UnackedActions(ctx context.Context, droneID types.NodeID) ([]protocol.BackendActionMessage, error) {
	rows, err := b.db.Pool().Query(ctx, `
		select id, backend_id, drone_id, action
		from backend_action
		where drone_id = $1 and acked_at is null
		order by created_at, id`,
		int64(droneID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []protocol.BackendActionMessage
	for rows.Next() {
		var (
			msg       protocol.BackendActionMessage
			actionID  string
			backendID string
			drone     int64
			body      json.RawMessage
		)
		if err := rows.Scan(&actionID, &backendID, &drone, &body); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(body, &msg.Action); err != nil {
			return nil, err
		}
		msg.ActionID = names.ActionName(actionID)
		msg.BackendID = names.BackendName(backendID)
		msg.DroneID = types.NodeID(drone)
		result = append(result, msg)
	}
	return result, rows.Err()
}

// AckAction marks an action as durably accepted by its drone, stopping
// redelivery. Acking twice is a no-op; drones resend acks after reconnects.
func (b *BackendDB) AckAction(ctx context.Context, actionID names.ActionName) error {
	_, err := b.db.Pool().Exec(ctx,
		"update backend_action set acked_at = now() where id = $1 and acked_at is null",
		actionID.String())
	return err
}
