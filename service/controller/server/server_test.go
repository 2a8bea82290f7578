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

package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jamsocket/plane/internal/names"
	"github.com/jamsocket/plane/internal/protocol"
	"github.com/jamsocket/plane/service/controller/core"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newBareServer builds a server over a controller with no store behind it.
// Only paths that fail before touching the store can be exercised through it.
func newBareServer(t *testing.T) (*Server, names.ControllerName) {
	t.Helper()
	id := names.NewControllerName()
	controller := core.New(nil, nil, core.Config{
		ID:      id,
		Version: protocol.PlaneVersionInfo{Version: "0.5.0", GitHash: "abc123"},
	}, testLogger(), nil)
	return New(controller, nil, testLogger(), nil), id
}

func TestHealthEndpoint(t *testing.T) {
	s, id := newBareServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Request-Id"); got == "" {
		t.Error("response missing X-Request-Id header")
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want ok", body["status"])
	}
	if body["version"] != "0.5.0" || body["hash"] != "abc123" {
		t.Errorf("version fields = %q/%q", body["version"], body["hash"])
	}
	if body["controller"] != id.String() {
		t.Errorf("controller field = %q, want %q", body["controller"], id)
	}
}

func TestConnectRejectsBadJSON(t *testing.T) {
	s, _ := newBareServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/c/test/connect", "application/json", strings.NewReader("{nope"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var body errorBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Error != "bad-request" {
		t.Errorf("error kind = %q, want bad-request", body.Error)
	}
}

// TestDroneSocketRejectsBadHandshake covers the socket paths that never reach
// the store: a handshake with a malformed or wrong-kind name is refused with
// a policy violation close, and a first frame that is not a handshake drops
// the connection. Upgrading through Handler also proves the request-log
// middleware stays hijackable.
func TestDroneSocketRejectsBadHandshake(t *testing.T) {
	s, _ := newBareServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/c/test/drone/socket"

	t.Run("wrong kind name", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		defer conn.Close()

		proxyName := names.NewNodeName(names.NodeKindProxy)
		frame, err := protocol.Encode(protocol.MessageTypeHandshake, protocol.Handshake{Name: proxyName.String()})
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			t.Fatalf("write: %v", err)
		}

		_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
		_, _, err = conn.ReadMessage()
		var closeErr *websocket.CloseError
		if !errors.As(err, &closeErr) {
			t.Fatalf("read err = %v, want close error", err)
		}
		if closeErr.Code != websocket.ClosePolicyViolation {
			t.Errorf("close code = %d, want %d", closeErr.Code, websocket.ClosePolicyViolation)
		}
	})

	t.Run("first frame not a handshake", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		defer conn.Close()

		frame, err := protocol.Encode(protocol.MessageTypeHeartbeat, protocol.HeartbeatMessage{})
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			t.Fatalf("write: %v", err)
		}

		_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
		if _, _, err := conn.ReadMessage(); err == nil {
			t.Fatal("expected the connection to drop")
		}
	})
}

func TestSentActions(t *testing.T) {
	t.Parallel()
	sent := newSentActions()
	a, b := names.NewActionName(), names.NewActionName()

	if !sent.add(a) {
		t.Error("first add of a = false, want true")
	}
	if sent.add(a) {
		t.Error("second add of a = true, want false")
	}
	if !sent.add(b) {
		t.Error("first add of b = false, want true")
	}

	sent.remove(a)
	if !sent.add(a) {
		t.Error("add after remove = false, want true")
	}

	sent.reset()
	if !sent.add(a) || !sent.add(b) {
		t.Error("adds after reset should all be new")
	}
}
