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
	"testing"
	"time"

	"github.com/jamsocket/plane/internal/types"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	frame, err := Encode(MessageTypeBackendStatus, BackendStatusMessage{
		BackendID: "ba-abcde12345",
		Status:    types.BackendStatusReady,
		Address:   "10.1.2.3:8080",
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	env, err := DecodeEnvelope(frame)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if env.Type != MessageTypeBackendStatus {
		t.Fatalf("envelope type = %q, want %q", env.Type, MessageTypeBackendStatus)
	}
	var msg BackendStatusMessage
	if err := env.Decode(&msg); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.BackendID != "ba-abcde12345" || msg.Status != types.BackendStatusReady || msg.Address != "10.1.2.3:8080" {
		t.Errorf("decoded message = %+v", msg)
	}
	if msg.ExitCode != nil {
		t.Errorf("exit_code = %v, want nil", msg.ExitCode)
	}
}

func TestDecodeEnvelopeErrors(t *testing.T) {
	if _, err := DecodeEnvelope([]byte(`not json`)); err == nil {
		t.Error("DecodeEnvelope accepted malformed JSON")
	}
	if _, err := DecodeEnvelope([]byte(`{"payload": {}}`)); err == nil {
		t.Error("DecodeEnvelope accepted envelope without type tag")
	}
}

func TestEnvelopeDecodeEmptyPayload(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"type": "heartbeat"}`))
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	var msg HeartbeatMessage
	if err := env.Decode(&msg); err != nil {
		t.Errorf("Decode of bodyless frame: %v", err)
	}
}

func TestBackendActionUnion(t *testing.T) {
	expiration := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	idle := int64(300)
	spawn := SpawnAction(
		&types.ExecutorConfig{Image: "nginx"},
		&types.KeyConfig{Name: "room-1", Namespace: "game", Tag: "v1"},
		&expiration,
		&idle,
	)
	raw, err := json.Marshal(spawn)
	if err != nil {
		t.Fatalf("marshal spawn: %v", err)
	}
	var decoded BackendAction
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal spawn: %v", err)
	}
	if decoded.Type != ActionTypeSpawn {
		t.Errorf("type = %q, want spawn", decoded.Type)
	}
	if decoded.Executable == nil || decoded.Executable.Image != "nginx" {
		t.Errorf("executable = %+v", decoded.Executable)
	}
	if decoded.ExpirationTime == nil || !decoded.ExpirationTime.Equal(expiration) {
		t.Errorf("expiration_time = %v, want %v", decoded.ExpirationTime, expiration)
	}
	if decoded.Kind != "" {
		t.Errorf("spawn action carries termination kind %q", decoded.Kind)
	}

	terminate := TerminateAction(TerminationHard)
	raw, err = json.Marshal(terminate)
	if err != nil {
		t.Fatalf("marshal terminate: %v", err)
	}
	decoded = BackendAction{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal terminate: %v", err)
	}
	if decoded.Type != ActionTypeTerminate || decoded.Kind != TerminationHard {
		t.Errorf("terminate decoded to %+v", decoded)
	}
	if decoded.Executable != nil {
		t.Errorf("terminate action carries executable %+v", decoded.Executable)
	}
}

func TestNotificationKinds(t *testing.T) {
	if kind := (BackendActionMessage{}).NotificationKind(); kind != "backend_action" {
		t.Errorf("action kind = %q", kind)
	}
	if kind := (BackendMetricsMessage{}).NotificationKind(); kind != "backend_metrics" {
		t.Errorf("metrics kind = %q", kind)
	}
	if kind := (types.BackendStatus("")).NotificationKind(); kind != "backend_state" {
		t.Errorf("status kind = %q", kind)
	}
}
