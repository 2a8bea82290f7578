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

import "testing"

func TestParseClusterName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"bare host", "plane.example.com", false},
		{"host with port", "localhost:9090", false},
		{"ipv4 with port", "127.0.0.1:8080", false},
		{"ipv6 with port", "[::1]:8080", false},
		{"empty", "", true},
		{"with path", "plane.example.com/api", true},
		{"with space", "plane example.com", true},
		{"bad port", "localhost:http", true},
		{"port out of range", "localhost:70000", true},
		{"trailing colon", "localhost:", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseClusterName(tc.input)
			if (err != nil) != tc.wantErr {
				t.Errorf("ParseClusterName(%q) error = %v, wantErr = %v", tc.input, err, tc.wantErr)
			}
		})
	}
}

func TestClusterNamePort(t *testing.T) {
	tests := []struct {
		cluster   ClusterName
		wantPort  int
		wantHTTPS bool
	}{
		{"plane.example.com", 443, true},
		{"plane.example.com:443", 443, true},
		{"localhost:9090", 9090, false},
		{"[::1]:8080", 8080, false},
	}
	for _, tc := range tests {
		if got := tc.cluster.Port(); got != tc.wantPort {
			t.Errorf("Port(%q) = %d, want %d", tc.cluster, got, tc.wantPort)
		}
		if got := tc.cluster.IsHTTPS(); got != tc.wantHTTPS {
			t.Errorf("IsHTTPS(%q) = %v, want %v", tc.cluster, got, tc.wantHTTPS)
		}
	}
}
