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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jamsocket/plane/internal/database"
	"github.com/jamsocket/plane/internal/names"
	"github.com/jamsocket/plane/internal/protocol"
	"github.com/jamsocket/plane/internal/types"
	"github.com/jamsocket/plane/service/controller/core"
	"github.com/jamsocket/plane/service/controller/sweeper"
)

// handleDroneSocket owns one drone's connection for its whole life: the
// handshake registers the drone, then a read loop, the action pump, and the
// drone's sweeper run until any of them fails or the drone disconnects. The
// deferred handle close takes the drone out of scheduling.
func (s *Server) handleDroneSocket(w http.ResponseWriter, r *http.Request) {
	cluster := types.ClusterName(r.PathValue("cluster"))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		s.logger.Warn("Drone socket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	hs, err := readHandshake(conn)
	if err != nil {
		s.logger.Warn("Drone handshake failed", "error", err)
		return
	}
	handle, err := s.controller.RegisterNode(r.Context(), hs, names.NodeKindDrone, &cluster, remoteIP(r))
	if err != nil {
		s.rejectHandshake(conn, err)
		return
	}
	defer handle.Close()

	logger := s.logger.With(
		slog.String("drone", handle.Name().String()),
		slog.String("cluster", cluster.String()))
	logger.Info("Drone connected", slog.String("version", hs.Version.Version))

	sock := newSocket(conn)
	reply := s.controller.Handshake()
	if err := sock.sendEnvelope(protocol.MessageTypeHandshake, &reply); err != nil {
		logger.Warn("Queueing handshake reply failed", "error", err)
		return
	}

	sent := newSentActions()
	sweep := sweeper.New(s.controller.DB().Backends(), handle.ID(), logger, s.instruments)

	group, ctx := errgroup.WithContext(r.Context())
	group.Go(func() error { return sock.writePump(ctx) })
	group.Go(func() error { return s.droneReadLoop(ctx, sock, handle, sent, logger) })
	group.Go(func() error { return s.actionPump(ctx, sock, handle, sent, logger) })
	group.Go(func() error { return sweep.Run(ctx) })

	err = group.Wait()
	if isExpectedClose(err) {
		logger.Info("Drone disconnected")
	} else {
		logger.Warn("Drone socket failed", "error", err)
	}
}

// droneReadLoop dispatches inbound drone frames. Store errors never tear the
// socket down: a stale status report or an ack for a pruned action is the
// drone's view lagging ours, not a broken connection.
func (s *Server) droneReadLoop(ctx context.Context, sock *socket, handle *core.NodeHandle, sent *sentActions, logger *slog.Logger) error {
	configureRead(sock.conn)
	for {
		_, data, err := sock.conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = sock.conn.SetReadDeadline(time.Now().Add(pongWait))

		env, err := protocol.DecodeEnvelope(data)
		if err != nil {
			logger.Warn("Dropping undecodable frame", "error", err)
			continue
		}
		s.handleDroneFrame(ctx, env, handle, sent, logger)
	}
}

func (s *Server) handleDroneFrame(ctx context.Context, env *protocol.Envelope, handle *core.NodeHandle, sent *sentActions, logger *slog.Logger) {
	db := s.controller.DB()
	switch env.Type {
	case protocol.MessageTypeHeartbeat:
		if err := db.Nodes().Heartbeat(ctx, handle.ID()); err != nil {
			logger.Warn("Heartbeat update failed", "error", err)
		}

	case protocol.MessageTypeBackendStatus:
		var msg protocol.BackendStatusMessage
		if err := env.Decode(&msg); err != nil {
			logger.Warn("Dropping undecodable status report", "error", err)
			return
		}
		err := db.Backends().UpdateStatus(ctx, msg.BackendID, database.StatusUpdate{
			Status:   msg.Status,
			Address:  msg.Address,
			ExitCode: msg.ExitCode,
		})
		switch {
		case err == nil:
			s.instruments.StatusUpdatesTotal.Add(ctx, 1)
		case errors.Is(err, database.ErrInvalidTransition), errors.Is(err, database.ErrNotFound):
			// Drones resend after reconnects; the status log's order
			// wins over late reports.
			logger.Warn("Ignoring stale status report",
				slog.String("backend", msg.BackendID.String()),
				slog.String("status", msg.Status.String()),
				slog.String("error", err.Error()))
		default:
			logger.Error("Status update failed",
				slog.String("backend", msg.BackendID.String()),
				slog.String("error", err.Error()))
		}

	case protocol.MessageTypeKeepalive:
		var msg protocol.KeepaliveMessage
		if err := env.Decode(&msg); err != nil {
			logger.Warn("Dropping undecodable keepalive", "error", err)
			return
		}
		if err := db.Backends().UpdateKeepalive(ctx, msg.BackendID); err != nil {
			logger.Warn("Keepalive update failed",
				slog.String("backend", msg.BackendID.String()),
				slog.String("error", err.Error()))
		}

	case protocol.MessageTypeBackendMetrics:
		var msg protocol.BackendMetricsMessage
		if err := env.Decode(&msg); err != nil {
			logger.Warn("Dropping undecodable metrics sample", "error", err)
			return
		}
		// Metrics are not stored; they fan out to whoever is subscribed.
		if err := db.Listener().Notify(ctx, msg.BackendID.String(), msg); err != nil {
			logger.Warn("Publishing metrics sample failed", "error", err)
		}

	case protocol.MessageTypeAckAction:
		var msg protocol.AckActionMessage
		if err := env.Decode(&msg); err != nil {
			logger.Warn("Dropping undecodable ack", "error", err)
			return
		}
		if err := db.Backends().AckAction(ctx, msg.ActionID); err != nil {
			logger.Warn("Recording ack failed",
				slog.String("action", msg.ActionID.String()),
				slog.String("error", err.Error()))
			return
		}
		sent.remove(msg.ActionID)

	default:
		logger.Warn("Unexpected frame on drone socket", slog.String("type", string(env.Type)))
	}
}

// actionPump delivers every durable action addressed to the drone: first the
// unacked backlog, then live events from the bus. The subscription is opened
// before the backlog is read, so actions created in between are never missed;
// the sent set keeps that overlap from double-sending. When the subscription
// lags, the pump resynchronizes from the store, which may re-send actions the
// drone has already seen. Drones treat actions as idempotent for exactly this
// reason.
func (s *Server) actionPump(ctx context.Context, sock *socket, handle *core.NodeHandle, sent *sentActions, logger *slog.Logger) error {
	db := s.controller.DB()
	for {
		sub := database.SubscribeTo[protocol.BackendActionMessage](db.Listener(), handle.ID().String())
		sent.reset()

		pending, err := db.Backends().UnackedActions(ctx, handle.ID())
		if err != nil {
			sub.Close()
			return fmt.Errorf("loading pending actions: %w", err)
		}
		for i := range pending {
			if !sent.add(pending[i].ActionID) {
				continue
			}
			if err := sock.sendEnvelope(protocol.MessageTypeAction, &pending[i]); err != nil {
				sub.Close()
				return err
			}
		}
		if len(pending) > 0 {
			logger.Info("Redelivered pending actions", slog.Int("count", len(pending)))
		}

		err = s.pumpLive(ctx, sock, sub, sent, logger)
		sub.Close()
		if errors.Is(err, database.ErrSubscriptionLagged) {
			s.instruments.ActionResyncsTotal.Add(ctx, 1)
			logger.Warn("Action feed lagged, resynchronizing")
			continue
		}
		return err
	}
}

func (s *Server) pumpLive(ctx context.Context, sock *socket, sub *database.Subscription, sent *sentActions, logger *slog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-sub.Notifications():
			if !ok {
				if err := sub.Err(); err != nil {
					return err
				}
				return database.ErrSubscriptionLagged
			}
			var msg protocol.BackendActionMessage
			if err := json.Unmarshal(n.Payload, &msg); err != nil {
				logger.Warn("Dropping undecodable action event", "error", err)
				continue
			}
			if !sent.add(msg.ActionID) {
				continue
			}
			if err := sock.sendEnvelope(protocol.MessageTypeAction, &msg); err != nil {
				return err
			}
		}
	}
}

// sentActions tracks which actions have been pushed down the socket since the
// pump's last resync, so the backlog/live overlap sends each one once. Acks
// prune it; a resync resets it.
type sentActions struct {
	mu   sync.Mutex
	seen map[names.ActionName]struct{}
}

func newSentActions() *sentActions {
	return &sentActions{seen: make(map[names.ActionName]struct{})}
}

// add records the action and reports whether it was new.
func (p *sentActions) add(id names.ActionName) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.seen[id]; ok {
		return false
	}
	p.seen[id] = struct{}{}
	return true
}

func (p *sentActions) remove(id names.ActionName) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.seen, id)
}

func (p *sentActions) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = make(map[names.ActionName]struct{})
}
