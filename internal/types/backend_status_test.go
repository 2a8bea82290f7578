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

func TestBackendStatusOrder(t *testing.T) {
	order := []BackendStatus{
		BackendStatusScheduled,
		BackendStatusLoading,
		BackendStatusStarting,
		BackendStatusWaiting,
		BackendStatusReady,
		BackendStatusTerminating,
		BackendStatusHardTerminating,
		BackendStatusTerminated,
	}
	for i := 1; i < len(order); i++ {
		if !order[i-1].Before(order[i]) {
			t.Errorf("%s should come before %s", order[i-1], order[i])
		}
		if order[i].Before(order[i-1]) {
			t.Errorf("%s should not come before %s", order[i], order[i-1])
		}
	}
	for _, s := range order {
		if s.Before(s) {
			t.Errorf("%s should not come before itself", s)
		}
	}
}

func TestBackendStatusTerminal(t *testing.T) {
	if !BackendStatusTerminated.Terminal() {
		t.Error("terminated should be terminal")
	}
	for _, s := range []BackendStatus{
		BackendStatusScheduled, BackendStatusReady,
		BackendStatusTerminating, BackendStatusHardTerminating,
	} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestParseBackendStatus(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"scheduled", false},
		{"ready", false},
		{"hard-terminating", false},
		{"terminated", false},
		{"Ready", true},
		{"hard_terminating", true},
		{"running", true},
		{"", true},
	}
	for _, tc := range tests {
		_, err := ParseBackendStatus(tc.input)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseBackendStatus(%q) error = %v, wantErr = %v", tc.input, err, tc.wantErr)
		}
	}
}

func TestBackendStatusRankUnknown(t *testing.T) {
	if rank := BackendStatus("bogus").Rank(); rank != -1 {
		t.Errorf("Rank() of unknown status = %d, want -1", rank)
	}
	if BackendStatus("bogus").Valid() {
		t.Error("unknown status should not be valid")
	}
}
