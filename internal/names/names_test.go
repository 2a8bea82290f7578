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

package names

import (
	"strings"
	"testing"
)

func TestNewBackendName(t *testing.T) {
	name := NewBackendName()
	if !strings.HasPrefix(name.String(), "ba-") {
		t.Errorf("NewBackendName() = %q, want \"ba-\" prefix", name)
	}
	if len(name) != len("ba-")+suffixLength {
		t.Errorf("NewBackendName() = %q, want suffix length %d", name, suffixLength)
	}
	if _, err := ParseBackendName(name.String()); err != nil {
		t.Errorf("ParseBackendName(%q) error: %v", name, err)
	}
}

func TestNamesAreUnique(t *testing.T) {
	seen := make(map[BackendName]bool)
	for i := 0; i < 1000; i++ {
		name := NewBackendName()
		if seen[name] {
			t.Fatalf("NewBackendName() produced duplicate %q", name)
		}
		seen[name] = true
	}
}

func TestSuffixAlphabet(t *testing.T) {
	for i := 0; i < 100; i++ {
		name := NewControllerName()
		suffix := strings.TrimPrefix(name.String(), "co-")
		for _, c := range suffix {
			if !strings.ContainsRune(suffixAlphabet, c) {
				t.Fatalf("name %q contains %q outside the suffix alphabet", name, c)
			}
		}
	}
}

func TestParseBackendName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", "ba-x7k2m9qp31", false},
		{"empty", "", true},
		{"no separator", "bax7k2m9qp31", true},
		{"wrong prefix", "dr-x7k2m9qp31", true},
		{"empty suffix", "ba-", true},
		{"uppercase suffix", "ba-X7K2M9QP31", true},
		{"punctuation suffix", "ba-x7k2_9qp31", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseBackendName(tc.input)
			if (err != nil) != tc.wantErr {
				t.Errorf("ParseBackendName(%q) error = %v, wantErr = %v", tc.input, err, tc.wantErr)
			}
		})
	}
}

func TestNodeNameKind(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    NodeKind
		wantErr bool
	}{
		{"drone", "dr-abcde12345", NodeKindDrone, false},
		{"proxy", "px-abcde12345", NodeKindProxy, false},
		{"acme dns server", "ns-abcde12345", NodeKindAcmeDNSServer, false},
		{"backend prefix is not a node", "ba-abcde12345", "", true},
		{"unknown prefix", "zz-abcde12345", "", true},
		{"no suffix", "dr-", "", true},
		{"empty", "", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			kind, err := NodeName(tc.input).Kind()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Kind(%q) error = %v, wantErr = %v", tc.input, err, tc.wantErr)
			}
			if kind != tc.want {
				t.Errorf("Kind(%q) = %q, want %q", tc.input, kind, tc.want)
			}
		})
	}
}

func TestNewNodeNameRoundTrip(t *testing.T) {
	for _, kind := range []NodeKind{NodeKindDrone, NodeKindProxy, NodeKindAcmeDNSServer} {
		name := NewNodeName(kind)
		got, err := name.Kind()
		if err != nil {
			t.Fatalf("Kind(%q) error: %v", name, err)
		}
		if got != kind {
			t.Errorf("Kind(%q) = %q, want %q", name, got, kind)
		}
		if _, err := ParseNodeName(name.String()); err != nil {
			t.Errorf("ParseNodeName(%q) error: %v", name, err)
		}
	}
}
