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

package database

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/jamsocket/plane/internal/names"
	"github.com/jamsocket/plane/internal/protocol"
	"github.com/jamsocket/plane/internal/types"
	"github.com/jamsocket/plane/utils/postgres"
)

// startPlaneDB runs a disposable Postgres container, migrates it, and starts
// the notification listener. Tests are skipped when no container runtime is
// available.
func startPlaneDB(t *testing.T) *PlaneDB {
	t.Helper()
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("plane"),
		tcpostgres.WithUsername("plane"),
		tcpostgres.WithPassword("plane"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Skipf("skipping: could not start postgres container: %v", err)
	}

	host, err := ctr.Host(ctx)
	if err != nil {
		t.Fatalf("failed to resolve container host: %v", err)
	}
	port, err := ctr.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("failed to resolve container port: %v", err)
	}

	config := postgres.PostgresConfig{
		Host:            host,
		Port:            port.Int(),
		Database:        "plane",
		User:            "plane",
		Password:        "plane",
		MaxConns:        10,
		MinConns:        1,
		MaxConnLifetime: 30 * time.Minute,
		SSLMode:         "disable",
	}
	client, err := postgres.NewPostgresClient(ctx, config, testLogger())
	if err != nil {
		t.Fatalf("failed to create postgres client: %v", err)
	}
	t.Cleanup(client.Close)

	db := New(client, testLogger())
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	listenerCtx, cancel := context.WithCancel(ctx)
	t.Cleanup(cancel)
	go func() {
		_ = db.Listener().Run(listenerCtx)
	}()
	select {
	case <-db.Listener().Ready():
	case <-time.After(10 * time.Second):
		t.Fatal("listener did not become ready")
	}

	return db
}

// registerTestDrone registers a drone with a fresh heartbeat and returns its
// id.
func registerTestDrone(t *testing.T, db *PlaneDB, cluster types.ClusterName, maxBackends *int32) types.NodeID {
	t.Helper()
	id, err := db.Nodes().Register(context.Background(), RegisterNode{
		Name:        names.NewNodeName(names.NodeKindDrone),
		Kind:        names.NodeKindDrone,
		Cluster:     &cluster,
		Controller:  names.NewControllerName(),
		Version:     protocol.PlaneVersionInfo{Version: "0.5.0", GitHash: "test"},
		IP:          "10.0.0.1",
		MaxBackends: maxBackends,
	})
	if err != nil {
		t.Fatalf("failed to register drone: %v", err)
	}
	return id
}

// spawnTestBackend runs an anonymous connect and returns the response.
func spawnTestBackend(t *testing.T, db *PlaneDB, cluster types.ClusterName) *types.ConnectResponse {
	t.Helper()
	resp, err := db.Connect(context.Background(), cluster, &types.ConnectRequest{
		SpawnConfig: &types.SpawnConfig{
			Executable: types.ExecutorConfig{Image: "test-image"},
		},
	})
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	return resp
}

// advanceStatus walks a backend through each given status.
func advanceStatus(t *testing.T, db *PlaneDB, backend names.BackendName, statuses ...types.BackendStatus) {
	t.Helper()
	for _, status := range statuses {
		if err := db.Backends().UpdateStatus(context.Background(), backend, StatusUpdate{Status: status}); err != nil {
			t.Fatalf("failed to update status to %s: %v", status, err)
		}
	}
}

// waitEvent reads the next item off a status stream, failing after a timeout.
func waitEvent(t *testing.T, stream *StatusStream) (types.TimestampedBackendStatus, bool) {
	t.Helper()
	select {
	case item, ok := <-stream.Events():
		return item, ok
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for status event")
		return types.TimestampedBackendStatus{}, false
	}
}
