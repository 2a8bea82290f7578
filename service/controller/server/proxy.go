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
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jamsocket/plane/internal/names"
	"github.com/jamsocket/plane/internal/protocol"
	"github.com/jamsocket/plane/internal/types"
	"github.com/jamsocket/plane/service/controller/core"
	"github.com/jamsocket/plane/service/controller/telemetry"
)

// handleProxySocket serves one proxy's connection: after the handshake the
// proxy heartbeats and asks for token routes, and the controller answers
// from its cache or the store.
func (s *Server) handleProxySocket(w http.ResponseWriter, r *http.Request) {
	cluster := types.ClusterName(r.PathValue("cluster"))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Proxy socket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	hs, err := readHandshake(conn)
	if err != nil {
		s.logger.Warn("Proxy handshake failed", "error", err)
		return
	}
	handle, err := s.controller.RegisterNode(r.Context(), hs, names.NodeKindProxy, &cluster, remoteIP(r))
	if err != nil {
		s.rejectHandshake(conn, err)
		return
	}
	defer handle.Close()

	logger := s.logger.With(
		slog.String("proxy", handle.Name().String()),
		slog.String("cluster", cluster.String()))
	logger.Info("Proxy connected", slog.String("version", hs.Version.Version))

	sock := newSocket(conn)
	reply := s.controller.Handshake()
	if err := sock.sendEnvelope(protocol.MessageTypeHandshake, &reply); err != nil {
		logger.Warn("Queueing handshake reply failed", "error", err)
		return
	}

	group, ctx := errgroup.WithContext(r.Context())
	group.Go(func() error { return sock.writePump(ctx) })
	group.Go(func() error { return s.proxyReadLoop(ctx, sock, handle, logger) })

	err = group.Wait()
	if isExpectedClose(err) {
		logger.Info("Proxy disconnected")
	} else {
		logger.Warn("Proxy socket failed", "error", err)
	}
}

func (s *Server) proxyReadLoop(ctx context.Context, sock *socket, handle *core.NodeHandle, logger *slog.Logger) error {
	configureRead(sock.conn)
	db := s.controller.DB()
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
		switch env.Type {
		case protocol.MessageTypeHeartbeat:
			if err := db.Nodes().Heartbeat(ctx, handle.ID()); err != nil {
				logger.Warn("Heartbeat update failed", "error", err)
			}

		case protocol.MessageTypeRouteInfoRequest:
			var req protocol.RouteInfoRequest
			if err := env.Decode(&req); err != nil {
				logger.Warn("Dropping undecodable route request", "error", err)
				continue
			}
			resp := protocol.RouteInfoResponse{
				Token:     req.Token,
				RouteInfo: s.lookupRoute(ctx, req.Token, logger),
			}
			if err := sock.sendEnvelope(protocol.MessageTypeRouteInfoResponse, &resp); err != nil {
				return err
			}

		default:
			logger.Warn("Unexpected frame on proxy socket", slog.String("type", string(env.Type)))
		}
	}
}

// lookupRoute resolves a token through the in-process cache, then the store.
// Only successful resolutions are cached: a token that is not routable yet
// must stay uncached so the proxy's retry sees the backend come up.
func (s *Server) lookupRoute(ctx context.Context, token types.BearerToken, logger *slog.Logger) *protocol.RouteInfo {
	if route, ok := s.routes.Get(string(token)); ok {
		s.instruments.RouteLookupsTotal.Add(ctx, 1, telemetry.RouteOutcomeAttrs.Get("cached"))
		return &route
	}

	route, err := s.controller.DB().Backends().RouteInfoForToken(ctx, token)
	if err != nil {
		logger.Warn("Route lookup failed", "error", err)
		s.instruments.RouteLookupsTotal.Add(ctx, 1, telemetry.RouteOutcomeAttrs.Get("not_found"))
		return nil
	}
	if route == nil {
		s.instruments.RouteLookupsTotal.Add(ctx, 1, telemetry.RouteOutcomeAttrs.Get("not_found"))
		return nil
	}

	s.routes.Set(string(token), *route)
	s.instruments.RouteLookupsTotal.Add(ctx, 1, telemetry.RouteOutcomeAttrs.Get("resolved"))
	return route
}
