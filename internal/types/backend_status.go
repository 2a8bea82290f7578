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
	"time"
)

// BackendStatus is one stage of a backend's lifecycle. Statuses form a total
// order and a backend only ever moves forward through it; the string values
// below are the wire and database representation.
type BackendStatus string

const (
	// BackendStatusScheduled means the controller has assigned the backend
	// to a drone but the drone has not picked it up yet.
	BackendStatusScheduled BackendStatus = "scheduled"
	// BackendStatusLoading means the drone is fetching the backend's image.
	BackendStatusLoading BackendStatus = "loading"
	// BackendStatusStarting means the drone is starting the process.
	BackendStatusStarting BackendStatus = "starting"
	// BackendStatusWaiting means the process is running but not yet
	// listening on its port.
	BackendStatusWaiting BackendStatus = "waiting"
	// BackendStatusReady means the backend is accepting connections.
	BackendStatusReady BackendStatus = "ready"
	// BackendStatusTerminating means a soft termination is in progress.
	BackendStatusTerminating BackendStatus = "terminating"
	// BackendStatusHardTerminating means a hard termination is in progress.
	BackendStatusHardTerminating BackendStatus = "hard-terminating"
	// BackendStatusTerminated is the terminal status.
	BackendStatusTerminated BackendStatus = "terminated"
)

var backendStatusRank = map[BackendStatus]int{
	BackendStatusScheduled:       0,
	BackendStatusLoading:         1,
	BackendStatusStarting:        2,
	BackendStatusWaiting:         3,
	BackendStatusReady:           4,
	BackendStatusTerminating:     5,
	BackendStatusHardTerminating: 6,
	BackendStatusTerminated:      7,
}

// ParseBackendStatus validates a status string received off the wire.
func ParseBackendStatus(s string) (BackendStatus, error) {
	status := BackendStatus(s)
	if !status.Valid() {
		return "", fmt.Errorf("unknown backend status %q", s)
	}
	return status, nil
}

func (s BackendStatus) String() string {
	return string(s)
}

// Valid reports whether s is a known status value.
func (s BackendStatus) Valid() bool {
	_, ok := backendStatusRank[s]
	return ok
}

// Rank returns the position of s in the lifecycle order. Unknown statuses
// rank below every valid one.
func (s BackendStatus) Rank() int {
	if rank, ok := backendStatusRank[s]; ok {
		return rank
	}
	return -1
}

// Before reports whether s comes strictly earlier than other in the
// lifecycle order.
func (s BackendStatus) Before(other BackendStatus) bool {
	return s.Rank() < other.Rank()
}

// Terminal reports whether s is the final status a backend can reach.
func (s BackendStatus) Terminal() bool {
	return s == BackendStatusTerminated
}

// NotificationKind routes status payloads on the event bus.
func (BackendStatus) NotificationKind() string {
	return "backend_state"
}

// TimestampedBackendStatus pairs a status with the controller-clock time it
// was recorded. It is the item type of status streams and the /status
// endpoint body.
type TimestampedBackendStatus struct {
	Status BackendStatus `json:"status"`
	Time   time.Time     `json:"time"`
}
