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
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jamsocket/plane/internal/protocol"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = 54 * time.Second
	handshakeWait = 10 * time.Second
	maxFrameSize  = 1 << 20

	// sendBuffer is the per-socket outbound queue. A node that cannot
	// drain this many frames is torn down rather than backpressuring the
	// rest of the controller.
	sendBuffer = 256
)

var errSendQueueFull = errors.New("socket send queue full")

// Node sockets are reached through private ingress and authenticate by
// handshake, not origin.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// socket wraps one websocket connection with a single-writer send queue.
// Reads stay on the caller's goroutine; all writes go through writePump.
type socket struct {
	conn *websocket.Conn
	send chan []byte

	done     chan struct{}
	doneOnce sync.Once
}

func newSocket(conn *websocket.Conn) *socket {
	return &socket{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// sendEnvelope encodes and queues one frame for writePump.
func (s *socket) sendEnvelope(t protocol.MessageType, payload any) error {
	frame, err := protocol.Encode(t, payload)
	if err != nil {
		return err
	}
	select {
	case <-s.done:
		return net.ErrClosed
	case s.send <- frame:
		return nil
	default:
		return errSendQueueFull
	}
}

// writePump is the only goroutine that writes to the connection. It drains
// the send queue, keeps the peer alive with pings, and closes the connection
// on exit so blocked readers unstick.
func (s *socket) writePump(ctx context.Context) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer s.conn.Close()
	defer s.doneOnce.Do(func() { close(s.done) })

	for {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(writeWait)
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
			_ = s.conn.WriteControl(websocket.CloseMessage, msg, deadline)
			return ctx.Err()
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return err
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

// readHandshake reads the socket's first frame, which must arrive within
// handshakeWait and be a handshake.
func readHandshake(conn *websocket.Conn) (*protocol.Handshake, error) {
	if err := conn.SetReadDeadline(time.Now().Add(handshakeWait)); err != nil {
		return nil, err
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	env, err := protocol.DecodeEnvelope(data)
	if err != nil {
		return nil, err
	}
	if env.Type != protocol.MessageTypeHandshake {
		return nil, fmt.Errorf("first frame is %s, want %s", env.Type, protocol.MessageTypeHandshake)
	}
	var hs protocol.Handshake
	if err := env.Decode(&hs); err != nil {
		return nil, err
	}
	return &hs, nil
}

// configureRead arms the liveness deadline. The deadline is pushed forward on
// every inbound frame (nodes heartbeat far more often than we ping) and on
// ping responses.
func configureRead(conn *websocket.Conn) {
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// rejectHandshake refuses the node before any state was created for it.
func (s *Server) rejectHandshake(conn *websocket.Conn, err error) {
	s.logger.Warn("Rejecting node handshake", "error", err)
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "invalid handshake")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// isExpectedClose reports whether the error is an ordinary disconnect rather
// than something worth a warning.
func isExpectedClose(err error) bool {
	if err == nil {
		return true
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		return true
	}
	return errors.Is(err, net.ErrClosed) || errors.Is(err, context.Canceled)
}

// remoteIP extracts the peer address without the port.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
