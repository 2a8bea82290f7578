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

// Package server exposes the controller over HTTP: the connect API, the
// public backend status endpoints, and the websocket sockets drones and
// proxies hold open.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jamsocket/plane/internal/protocol"
	"github.com/jamsocket/plane/service/controller/core"
	"github.com/jamsocket/plane/service/controller/telemetry"
	"github.com/jamsocket/plane/utils/cache"
)

const (
	routeCacheSize = 1024
	routeCacheTTL  = 5 * time.Second
)

type Server struct {
	controller  *core.Controller
	routes      *cache.KeyedCache[protocol.RouteInfo]
	logger      *slog.Logger
	instruments *telemetry.Instruments
	mux         *http.ServeMux
}

// New builds the HTTP surface over the controller. A nil routes cache gets a
// small default; proxies re-request on expiry so sizing is not critical.
func New(controller *core.Controller, routes *cache.KeyedCache[protocol.RouteInfo], logger *slog.Logger, instruments *telemetry.Instruments) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "server"))
	if instruments == nil {
		instruments = telemetry.NewNoopInstruments()
	}
	if routes == nil {
		routes = cache.NewKeyedCache[protocol.RouteInfo](routeCacheSize, routeCacheTTL, logger)
	}

	s := &Server{
		controller:  controller,
		routes:      routes,
		logger:      logger,
		instruments: instruments,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /b", s.handleListBackends)
	mux.HandleFunc("POST /c/{cluster}/connect", s.handleConnect)
	mux.HandleFunc("GET /pub/b/{backend}/status", s.handleBackendStatus)
	mux.HandleFunc("GET /pub/b/{backend}/status-stream", s.handleStatusStream)
	mux.HandleFunc("GET /pub/b/{backend}/ready", s.handleReady)
	mux.HandleFunc("GET /c/{cluster}/drone/socket", s.handleDroneSocket)
	mux.HandleFunc("GET /c/{cluster}/proxy/socket", s.handleProxySocket)
	s.mux = mux
	return s
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.withRequestLog(s.mux)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	version := s.controller.Version()
	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "ok",
		"version":    version.Version,
		"hash":       version.GitHash,
		"controller": s.controller.ID().String(),
	})
}

// statusRecorder captures the response code for the request log. Unwrap lets
// http.NewResponseController reach through it, which websocket upgrades
// (Hijack) and event streams (Flush) depend on.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		w.Header().Set("X-Request-Id", requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		s.logger.Info("Request handled",
			slog.String("request_id", requestID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)))
	})
}
