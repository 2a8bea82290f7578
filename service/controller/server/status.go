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
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jamsocket/plane/internal/database"
	"github.com/jamsocket/plane/internal/names"
	"github.com/jamsocket/plane/internal/types"
)

func (s *Server) handleBackendStatus(w http.ResponseWriter, r *http.Request) {
	backend := names.BackendName(r.PathValue("backend"))
	status, err := s.controller.DB().Backends().LatestStatus(r.Context(), backend)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// backendSummary is the list-endpoint projection of a backend row.
type backendSummary struct {
	ID         string    `json:"id"`
	Cluster    string    `json:"cluster"`
	Status     string    `json:"status"`
	StatusTime time.Time `json:"status_time"`
	DroneID    int64     `json:"drone_id"`
	ExitCode   *int32    `json:"exit_code,omitempty"`
}

func (s *Server) handleListBackends(w http.ResponseWriter, r *http.Request) {
	rows, err := s.controller.DB().Backends().ListBackends(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]backendSummary, 0, len(rows))
	for _, row := range rows {
		out = append(out, backendSummary{
			ID:         row.ID.String(),
			Cluster:    row.Cluster.String(),
			Status:     row.LastStatus.String(),
			StatusTime: row.LastStatusTime,
			DroneID:    int64(row.DroneID),
			ExitCode:   row.ExitCode,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleStatusStream feeds the backend's status log and live transitions to
// the client, one event per status, in order. Clients that send an Accept
// header containing text/event-stream get SSE framing; everyone else gets
// newline-delimited JSON. The feed ends after the terminal status, or with a
// stream-lag error event when the client must reconnect to resynchronize.
func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	backend := names.BackendName(r.PathValue("backend"))
	stream, err := s.controller.DB().Backends().StatusStream(r.Context(), backend)
	if err != nil {
		writeError(w, err)
		return
	}
	defer stream.Close()

	sse := strings.Contains(r.Header.Get("Accept"), "text/event-stream")
	if sse {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
	} else {
		w.Header().Set("Content-Type", "application/x-ndjson")
	}
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	_ = rc.Flush()

	for item := range stream.Events() {
		body, err := json.Marshal(item)
		if err != nil {
			s.logger.Error("Encoding status event failed", "error", err)
			return
		}
		if sse {
			fmt.Fprintf(w, "data: %s\n\n", body)
		} else {
			fmt.Fprintf(w, "%s\n", body)
		}
		if err := rc.Flush(); err != nil {
			// Client went away.
			return
		}
	}

	if errors.Is(stream.Err(), database.ErrSubscriptionLagged) {
		if sse {
			fmt.Fprint(w, "event: error\ndata: stream-lag\n\n")
		} else {
			fmt.Fprint(w, "{\"error\":\"stream-lag\"}\n")
		}
		_ = rc.Flush()
	}
}

// handleReady long-polls until the backend is ready. It answers 200 with the
// ready status, 410 once the backend can no longer become ready, and 500 if
// the feed lags before either happens.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	backend := names.BackendName(r.PathValue("backend"))
	stream, err := s.controller.DB().Backends().StatusStream(r.Context(), backend)
	if err != nil {
		writeError(w, err)
		return
	}
	defer stream.Close()

	for item := range stream.Events() {
		switch {
		case item.Status == types.BackendStatusReady:
			writeJSON(w, http.StatusOK, item)
			return
		case item.Status.Terminal():
			writeJSON(w, http.StatusGone, errorBody{
				Error:   "backend-gone",
				Message: fmt.Sprintf("backend reached %s without becoming ready", item.Status),
			})
			return
		}
	}
	if err := stream.Err(); err != nil {
		writeError(w, err)
	}
}
