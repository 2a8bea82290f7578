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
	"fmt"
	"net/http"

	"github.com/jamsocket/plane/internal/types"
)

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	cluster := types.ClusterName(r.PathValue("cluster"))

	var req types.ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error:   "bad-request",
			Message: fmt.Sprintf("decoding connect request: %v", err),
		})
		return
	}

	resp, err := s.controller.Connect(r.Context(), cluster, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
