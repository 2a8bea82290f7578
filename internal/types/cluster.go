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

package types

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ClusterName identifies a scheduling domain: a hostname with an optional
// port (for example "plane.example.com" or "localhost:9090"). Without an
// explicit port, the cluster is assumed to serve HTTPS on 443.
type ClusterName string

// ParseClusterName validates a cluster name from a URL path or request body.
func ParseClusterName(s string) (ClusterName, error) {
	if s == "" {
		return "", fmt.Errorf("cluster name is empty")
	}
	if strings.ContainsAny(s, "/ \t") {
		return "", fmt.Errorf("invalid cluster name %q", s)
	}
	if strings.Contains(s, ":") {
		_, port, err := net.SplitHostPort(s)
		if err != nil {
			return "", fmt.Errorf("invalid cluster name %q: %w", s, err)
		}
		n, err := strconv.Atoi(port)
		if err != nil || n < 1 || n > 65535 {
			return "", fmt.Errorf("invalid cluster name %q: bad port %q", s, port)
		}
	}
	return ClusterName(s), nil
}

func (c ClusterName) String() string {
	return string(c)
}

// Port returns the cluster's explicit port, or 443 when none is given.
func (c ClusterName) Port() int {
	if !strings.Contains(string(c), ":") {
		return 443
	}
	_, port, err := net.SplitHostPort(string(c))
	if err != nil {
		return 443
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return 443
	}
	return n
}

// IsHTTPS reports whether backend URLs on this cluster use the https scheme.
// Clusters on a non-443 port are assumed to be local or test setups without
// TLS in front of them.
func (c ClusterName) IsHTTPS() bool {
	return c.Port() == 443
}
