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
	"net/http"

	"github.com/jamsocket/plane/internal/database"
	"github.com/jamsocket/plane/service/controller/core"
)

// errorBody is the JSON shape of every error response. The error field is a
// stable machine-readable kind; the message is for humans and may change.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// classify maps an error to its response kind and HTTP status.
func classify(err error) (string, int) {
	switch {
	case errors.Is(err, core.ErrNoCluster):
		return "no-cluster", http.StatusBadRequest
	case errors.Is(err, core.ErrInvalidHandshake):
		return "invalid-handshake", http.StatusBadRequest
	case errors.Is(err, database.ErrNotFound):
		return "not-found", http.StatusNotFound
	case errors.Is(err, database.ErrNoDroneAvailable):
		return "no-drone-available", http.StatusServiceUnavailable
	case errors.Is(err, database.ErrKeyConflict):
		return "conflict", http.StatusConflict
	case errors.Is(err, database.ErrInvalidTransition):
		return "invalid-transition", http.StatusConflict
	default:
		return "db-error", http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind, status := classify(err)
	writeJSON(w, status, errorBody{Error: kind, Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
