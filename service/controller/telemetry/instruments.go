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

package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Instruments holds pre-created, typed OTEL metric instrument handles for the
// controller. A single *Instruments is shared across the HTTP handlers and
// every node socket goroutine; SDK instruments are safe for concurrent use.
type Instruments struct {
	// Connect path
	ConnectsTotal   metric.Int64Counter
	ConnectDuration metric.Float64Histogram

	// Backend lifecycle
	StatusUpdatesTotal    metric.Int64Counter
	TerminateActionsTotal metric.Int64Counter

	// Node sockets
	NodesConnected     metric.Int64UpDownCounter
	ActionResyncsTotal metric.Int64Counter
	RouteLookupsTotal  metric.Int64Counter

	// Offline queue
	OfflineMarksTotal metric.Int64Counter
}

// NewInstruments creates all instrument handles from the given meter.
// Must be called after otel.SetMeterProvider so instruments are backed by a
// real exporter rather than the default no-op provider.
//
// Returns an error if any instrument fails to create, which typically
// indicates a programming error such as duplicate instrument names with
// different types/units.
func NewInstruments(meter metric.Meter) (*Instruments, error) {
	inst := &Instruments{}
	var err error

	inst.ConnectsTotal, err = meter.Int64Counter(
		"connects_total",
		metric.WithDescription("Connect requests by outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create instrument connects_total: %w", err)
	}

	inst.ConnectDuration, err = meter.Float64Histogram(
		"connect_duration_seconds",
		metric.WithDescription("Time spent resolving a connect request"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create instrument connect_duration_seconds: %w", err)
	}

	inst.StatusUpdatesTotal, err = meter.Int64Counter(
		"backend_status_updates_total",
		metric.WithDescription("Backend status updates accepted from drones"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create instrument backend_status_updates_total: %w", err)
	}

	inst.TerminateActionsTotal, err = meter.Int64Counter(
		"terminate_actions_total",
		metric.WithDescription("Termination actions issued, by kind"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create instrument terminate_actions_total: %w", err)
	}

	inst.NodesConnected, err = meter.Int64UpDownCounter(
		"nodes_connected",
		metric.WithDescription("Node sockets currently connected, by kind"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create instrument nodes_connected: %w", err)
	}

	inst.ActionResyncsTotal, err = meter.Int64Counter(
		"action_resyncs_total",
		metric.WithDescription("Action feed resyncs after a lagged subscription"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create instrument action_resyncs_total: %w", err)
	}

	inst.RouteLookupsTotal, err = meter.Int64Counter(
		"route_lookups_total",
		metric.WithDescription("Proxy route lookups by outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create instrument route_lookups_total: %w", err)
	}

	inst.OfflineMarksTotal, err = meter.Int64Counter(
		"node_offline_marks_total",
		metric.WithDescription("Nodes marked offline through the queue or directly"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create instrument node_offline_marks_total: %w", err)
	}

	return inst, nil
}

// NewNoopInstruments returns an Instruments backed by OTEL's built-in no-op
// provider. Use when metrics are disabled or InitOTEL fails. All
// Add()/Record() calls are zero-cost no-ops; no nil checks are needed at call
// sites.
//
// The noop provider never returns errors, so this function ignores the error
// return.
func NewNoopInstruments() *Instruments {
	inst, _ := NewInstruments(noop.NewMeterProvider().Meter("noop"))
	return inst
}
