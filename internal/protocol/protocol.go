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

// Package protocol defines the JSON messages exchanged over the websocket
// between the controller and its nodes (drones and proxies). Every frame is
// an Envelope carrying a type tag and a payload; the first frame in each
// direction is always a Handshake.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// HeartbeatInterval is how often a connected node sends a heartbeat frame.
// The controller refreshes the node's last_heartbeat row on each one.
const HeartbeatInterval = 5 * time.Second

// MessageType tags each envelope with the payload shape it carries.
type MessageType string

const (
	// Both directions.
	MessageTypeHandshake MessageType = "handshake"

	// Node to controller.
	MessageTypeHeartbeat        MessageType = "heartbeat"
	MessageTypeBackendStatus    MessageType = "backend_status"
	MessageTypeKeepalive        MessageType = "keepalive"
	MessageTypeBackendMetrics   MessageType = "backend_metrics"
	MessageTypeAckAction        MessageType = "ack_action"
	MessageTypeRouteInfoRequest MessageType = "route_info_request"

	// Controller to node.
	MessageTypeAction            MessageType = "action"
	MessageTypeRouteInfoResponse MessageType = "route_info_response"
)

// Envelope is the frame format of the node socket.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode wraps payload in an envelope and marshals the whole frame.
func Encode(t MessageType, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", t, err)
	}
	return json.Marshal(Envelope{Type: t, Payload: body})
}

// DecodeEnvelope parses a raw frame into an envelope without touching the
// payload.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}
	if e.Type == "" {
		return nil, fmt.Errorf("envelope has no type tag")
	}
	return &e, nil
}

// Decode unmarshals the envelope payload into v. A missing payload leaves v
// at its zero value, which is how bodyless frames like heartbeats decode.
func (e *Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", e.Type, err)
	}
	return nil
}

// PlaneVersionInfo is the build identity a node or controller reports in its
// handshake.
type PlaneVersionInfo struct {
	Version string `json:"version"`
	GitHash string `json:"git_hash"`
}

// Handshake is the first frame on a node socket, sent by the node and
// answered by the controller with its own.
type Handshake struct {
	// Name is the sender's identity: a node name on the way in, the
	// controller name on the way back.
	Name    string           `json:"name"`
	Version PlaneVersionInfo `json:"version"`
	// MaxBackends caps how many live backends the scheduler may place on
	// this node. Only drones send it; nil means unbounded.
	MaxBackends *int32 `json:"max_backends,omitempty"`
}
