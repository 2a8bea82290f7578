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
	"encoding/json"
	"time"

	"github.com/jamsocket/plane/internal/names"
)

// PullPolicy controls when a drone re-fetches a backend's image.
type PullPolicy string

const (
	PullPolicyAlways       PullPolicy = "always"
	PullPolicyIfNotPresent PullPolicy = "if_not_present"
	PullPolicyNever        PullPolicy = "never"
)

// ResourceLimits bounds a backend's resource usage on its drone. All fields
// are optional; nil means unlimited.
type ResourceLimits struct {
	// CPUPeriodPercent is the percentage (1-100) of each CPU period the
	// backend may use.
	CPUPeriodPercent *int32 `json:"cpu_period_percent,omitempty"`
	// CPUPeriod is the scheduling period the percentage applies to.
	CPUPeriod *time.Duration `json:"cpu_period,omitempty"`
	// CPUTimeLimit caps total CPU time over the backend's lifetime.
	CPUTimeLimit *time.Duration `json:"cpu_time_limit,omitempty"`
	// MemoryLimitBytes caps resident memory.
	MemoryLimitBytes *int64 `json:"memory_limit_bytes,omitempty"`
	// DiskLimitBytes caps scratch disk usage.
	DiskLimitBytes *int64 `json:"disk_limit_bytes,omitempty"`
}

// ExecutorConfig tells a drone how to run a backend process.
type ExecutorConfig struct {
	Image          string            `json:"image"`
	PullPolicy     PullPolicy        `json:"pull_policy,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	ResourceLimits *ResourceLimits   `json:"resource_limits,omitempty"`
	// Credentials authenticates the image pull. It is passed through to
	// the drone verbatim and never stored.
	Credentials json.RawMessage `json:"credentials,omitempty"`
}

// SpawnConfig describes the backend to create when a connect request does not
// resolve to an existing one.
type SpawnConfig struct {
	// Cluster overrides the cluster the backend is scheduled on. When
	// empty, the cluster from the request path (or the controller default)
	// applies.
	Cluster ClusterName `json:"cluster,omitempty"`
	// Executable is the process to run.
	Executable ExecutorConfig `json:"executable"`
	// LifetimeLimitSeconds caps the backend's total lifetime. Nil means no
	// limit.
	LifetimeLimitSeconds *int64 `json:"lifetime_limit_seconds,omitempty"`
	// MaxIdleSeconds is how long the backend may go without a keepalive
	// before it is terminated. Nil means no idle limit.
	MaxIdleSeconds *int64 `json:"max_idle_seconds,omitempty"`
}

// KeyConfig names the singleton slot a connect request attaches to. Requests
// with the same (namespace, name, tag) in one cluster resolve to the same
// live backend.
type KeyConfig struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
	Tag       string `json:"tag"`
}

// ConnectRequest is the body of POST /c/{cluster}/connect.
type ConnectRequest struct {
	// SpawnConfig enables spawning. Nil means the request only attaches to
	// a backend that already holds the key.
	SpawnConfig *SpawnConfig `json:"spawn_config,omitempty"`
	// Key is the singleton slot to connect through. Nil requests always
	// spawn a fresh anonymous backend.
	Key *KeyConfig `json:"key,omitempty"`
	// User is an opaque identity attached to the minted token.
	User string `json:"user,omitempty"`
	// Auth is opaque per-token data the proxy hands to the backend.
	Auth json.RawMessage `json:"auth,omitempty"`
}

// ConnectResponse is the body returned by a successful connect.
type ConnectResponse struct {
	BackendID names.BackendName `json:"backend_id"`
	// Spawned is true when this request created the backend rather than
	// reusing a live keyed one.
	Spawned bool          `json:"spawned"`
	Token   BearerToken   `json:"token"`
	URL     string        `json:"url"`
	Secret  SecretToken   `json:"secret_token"`
	Status  BackendStatus `json:"status"`
	// StatusURL and ReadyURL point back at this controller's public API
	// for the backend's status endpoints.
	StatusURL string `json:"status_url"`
	ReadyURL  string `json:"ready_url"`
}
