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

// Package core holds the controller's domain logic above the store: connect
// resolution with cluster defaulting and URL minting, node registration and
// release, and the controller's own registry heartbeat.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/jamsocket/plane/internal/database"
	"github.com/jamsocket/plane/internal/names"
	"github.com/jamsocket/plane/internal/protocol"
	"github.com/jamsocket/plane/internal/types"
	"github.com/jamsocket/plane/service/controller/telemetry"
)

const (
	// connectTimeout bounds the store work for one connect request,
	// including all spawn-race retries.
	connectTimeout = 5 * time.Second

	// heartbeatInterval is how often the controller refreshes its own
	// registry row.
	heartbeatInterval = 10 * time.Second
)

var (
	// ErrNoCluster means a connect request named no cluster and the
	// controller has no default to fall back on.
	ErrNoCluster = errors.New("no cluster to connect to")

	// ErrInvalidHandshake means a node socket opened with a handshake the
	// controller cannot accept, such as a malformed name or a name whose
	// prefix does not match the socket's kind.
	ErrInvalidHandshake = errors.New("invalid handshake")
)

// Config carries the identity and defaults a Controller is constructed with.
type Config struct {
	ID      names.ControllerName
	Version protocol.PlaneVersionInfo

	// DefaultCluster is used when a connect request names no cluster.
	// Empty means requests must name one.
	DefaultCluster types.ClusterName

	// PublicURL is the base the controller's own endpoints are reachable
	// at; status_url and ready_url are minted under it.
	PublicURL *url.URL
}

// Controller is the domain layer every server handler talks to.
type Controller struct {
	db          *database.PlaneDB
	queue       *OfflineQueue // nil when Redis is unavailable
	config      Config
	logger      *slog.Logger
	instruments *telemetry.Instruments
}

// New assembles a Controller. queue may be nil; node release then marks
// offline directly against the store.
func New(db *database.PlaneDB, queue *OfflineQueue, config Config, logger *slog.Logger, instruments *telemetry.Instruments) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if instruments == nil {
		instruments = telemetry.NewNoopInstruments()
	}
	return &Controller{
		db:          db,
		queue:       queue,
		config:      config,
		logger:      logger.With(slog.String("component", "core")),
		instruments: instruments,
	}
}

// ID returns the controller's registry identity.
func (c *Controller) ID() names.ControllerName {
	return c.config.ID
}

// Version returns the controller's build identity.
func (c *Controller) Version() protocol.PlaneVersionInfo {
	return c.config.Version
}

// DB exposes the store for the server's read paths.
func (c *Controller) DB() *database.PlaneDB {
	return c.db
}

// Handshake is the frame the controller answers node handshakes with.
func (c *Controller) Handshake() protocol.Handshake {
	return protocol.Handshake{Name: c.config.ID.String(), Version: c.config.Version}
}

// Connect resolves one connect request: picks the cluster, runs the store
// resolver under a timeout, and fills in the URLs clients use from there on.
// requestCluster comes from the request path and may be empty.
func (c *Controller) Connect(ctx context.Context, requestCluster types.ClusterName, req *types.ConnectRequest) (*types.ConnectResponse, error) {
	cluster := requestCluster
	if req.SpawnConfig != nil && req.SpawnConfig.Cluster != "" {
		cluster = req.SpawnConfig.Cluster
	}
	if cluster == "" {
		cluster = c.config.DefaultCluster
	}
	if cluster == "" {
		return nil, ErrNoCluster
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	start := time.Now()
	resp, err := c.db.Connect(ctx, cluster, req)
	c.instruments.ConnectDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		c.instruments.ConnectsTotal.Add(ctx, 1, telemetry.ConnectOutcomeAttrs.Get("error"))
		return nil, err
	}

	outcome := "reused"
	if resp.Spawned {
		outcome = "spawned"
	}
	c.instruments.ConnectsTotal.Add(ctx, 1, telemetry.ConnectOutcomeAttrs.Get(outcome))

	resp.URL = ConnectURL(cluster, resp.Token)
	resp.StatusURL = c.backendURL(resp.BackendID, "status")
	resp.ReadyURL = c.backendURL(resp.BackendID, "ready")

	c.logger.InfoContext(ctx, "Connect resolved",
		slog.String("backend", resp.BackendID.String()),
		slog.String("cluster", cluster.String()),
		slog.Bool("spawned", resp.Spawned),
		slog.String("status", resp.Status.String()))
	return resp, nil
}

// RegisterNode validates a node handshake against the kind the socket route
// expects, registers the node, and returns the handle that owns its release.
func (c *Controller) RegisterNode(ctx context.Context, handshake *protocol.Handshake, kind names.NodeKind, cluster *types.ClusterName, ip string) (*NodeHandle, error) {
	name, err := names.ParseNodeName(handshake.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHandshake, err)
	}
	got, err := name.Kind()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHandshake, err)
	}
	if got != kind {
		return nil, fmt.Errorf("%w: %s is a %s name, this socket is for %ss", ErrInvalidHandshake, name, got, kind)
	}

	id, err := c.db.Nodes().Register(ctx, database.RegisterNode{
		Name:        name,
		Kind:        kind,
		Cluster:     cluster,
		Controller:  c.config.ID,
		Version:     handshake.Version,
		IP:          ip,
		MaxBackends: handshake.MaxBackends,
	})
	if err != nil {
		return nil, err
	}

	c.instruments.NodesConnected.Add(ctx, 1, telemetry.NodeKindAttrs.Get(kind.String()))
	c.logger.InfoContext(ctx, "Node registered",
		slog.String("node", name.String()),
		slog.Int64("node_id", int64(id)),
		slog.String("kind", kind.String()),
		slog.String("ip", ip))

	return &NodeHandle{
		id:          id,
		name:        name,
		kind:        kind,
		queue:       c.queue,
		store:       c.db.Nodes(),
		logger:      c.logger,
		instruments: c.instruments,
	}, nil
}

// RunHeartbeat refreshes the controller's registry row until ctx ends.
// Failures are logged; the next tick retries.
func (c *Controller) RunHeartbeat(ctx context.Context) error {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.db.Controllers().Heartbeat(ctx, c.config.ID); err != nil {
				c.logger.Warn("Controller heartbeat failed", slog.String("error", err.Error()))
			}
		}
	}
}
