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

package core

import (
	"fmt"

	"github.com/jamsocket/plane/internal/names"
	"github.com/jamsocket/plane/internal/types"
)

// ConnectURL is the address a client sends backend traffic to: the cluster's
// proxy fleet, with the bearer token as the first path segment. Clusters on
// port 443 are reached over https; an explicit other port means a cluster
// fronted without TLS, typically in development.
func ConnectURL(cluster types.ClusterName, token types.BearerToken) string {
	scheme := "https"
	if !cluster.IsHTTPS() {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s/%s/", scheme, cluster, token)
}

// backendURL mints a public controller endpoint for one backend, such as its
// status or ready URL.
func (c *Controller) backendURL(backend names.BackendName, leaf string) string {
	return c.config.PublicURL.JoinPath("pub", "b", backend.String(), leaf).String()
}
