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

package protocol

import (
	"encoding/json"
	"time"

	"github.com/jamsocket/plane/internal/names"
	"github.com/jamsocket/plane/internal/types"
)

// BackendActionType discriminates the BackendAction union.
type BackendActionType string

const (
	ActionTypeSpawn     BackendActionType = "spawn"
	ActionTypeTerminate BackendActionType = "terminate"
)

// TerminationKind selects how a backend is asked to stop: soft sends the
// process a graceful shutdown signal, hard kills it.
type TerminationKind string

const (
	TerminationSoft TerminationKind = "soft"
	TerminationHard TerminationKind = "hard"
)

// BackendAction is an instruction to a drone about one backend. It is stored
// durably and redelivered until the drone acknowledges it, so drones must
// treat actions as idempotent.
type BackendAction struct {
	Type BackendActionType `json:"type"`

	// Spawn fields.
	Executable *types.ExecutorConfig `json:"executable,omitempty"`
	Key        *types.KeyConfig      `json:"key,omitempty"`
	// ExpirationTime is the wall-clock deadline derived from the spawn
	// config's lifetime limit, if any.
	ExpirationTime     *time.Time `json:"expiration_time,omitempty"`
	AllowedIdleSeconds *int64     `json:"allowed_idle_seconds,omitempty"`

	// Terminate fields.
	Kind TerminationKind `json:"kind,omitempty"`
}

// SpawnAction builds the action that tells a drone to start a backend.
func SpawnAction(executable *types.ExecutorConfig, key *types.KeyConfig, expiration *time.Time, allowedIdleSeconds *int64) BackendAction {
	return BackendAction{
		Type:               ActionTypeSpawn,
		Executable:         executable,
		Key:                key,
		ExpirationTime:     expiration,
		AllowedIdleSeconds: allowedIdleSeconds,
	}
}

// TerminateAction builds the action that tells a drone to stop a backend.
func TerminateAction(kind TerminationKind) BackendAction {
	return BackendAction{Type: ActionTypeTerminate, Kind: kind}
}

// BackendActionMessage is a durable action addressed to one drone. It is
// both the action envelope pushed over the drone socket and the event bus
// payload that wakes the drone's action pump.
type BackendActionMessage struct {
	ActionID  names.ActionName  `json:"action_id"`
	BackendID names.BackendName `json:"backend_id"`
	DroneID   types.NodeID      `json:"drone_id"`
	Action    BackendAction     `json:"action"`
}

// NotificationKind routes action payloads on the event bus, keyed by drone id.
func (BackendActionMessage) NotificationKind() string {
	return "backend_action"
}

// BackendStatusMessage reports a lifecycle transition observed by a drone.
type BackendStatusMessage struct {
	BackendID names.BackendName   `json:"backend_id"`
	Status    types.BackendStatus `json:"status"`
	// Address is the host:port the backend listens on. Drones send it with
	// the first status at which the port is bound.
	Address string `json:"address,omitempty"`
	// ExitCode accompanies terminal statuses of backends whose process
	// exited on its own.
	ExitCode *int32 `json:"exit_code,omitempty"`
}

// KeepaliveMessage resets a backend's idle clock.
type KeepaliveMessage struct {
	BackendID names.BackendName `json:"backend_id"`
}

// BackendMetricsMessage carries a resource usage sample for one backend. The
// controller does not store these; they are fanned out to live subscribers
// over the event bus.
type BackendMetricsMessage struct {
	BackendID    names.BackendName `json:"backend_id"`
	MemUsed      uint64            `json:"mem_used"`
	MemAvailable uint64            `json:"mem_available"`
	CPUUsed      uint64            `json:"cpu_used"`
	SysCPU       uint64            `json:"sys_cpu"`
}

// NotificationKind routes metrics payloads on the event bus, keyed by
// backend id.
func (BackendMetricsMessage) NotificationKind() string {
	return "backend_metrics"
}

// AckActionMessage confirms a drone has durably accepted an action, stopping
// redelivery.
type AckActionMessage struct {
	ActionID names.ActionName `json:"action_id"`
}

// HeartbeatMessage is the bodyless frame nodes send every HeartbeatInterval.
type HeartbeatMessage struct{}

// RouteInfoRequest asks the controller to resolve a bearer token.
type RouteInfoRequest struct {
	Token types.BearerToken `json:"token"`
}

// RouteInfoResponse answers a RouteInfoRequest. RouteInfo is nil when the
// token does not resolve to a running backend; proxies turn that into a 404
// and must not cache it.
type RouteInfoResponse struct {
	Token     types.BearerToken `json:"token"`
	RouteInfo *RouteInfo        `json:"route_info,omitempty"`
}

// RouteInfo is everything a proxy needs to forward one token's traffic.
type RouteInfo struct {
	BackendID names.BackendName `json:"backend_id"`
	// Address is the backend's host:port as reported by its drone.
	Address     string            `json:"address"`
	SecretToken types.SecretToken `json:"secret_token"`
	User        string            `json:"user,omitempty"`
	// UserData is the opaque auth blob attached at connect time.
	UserData json.RawMessage `json:"user_data,omitempty"`
}
