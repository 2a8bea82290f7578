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

// Package sweeper terminates backends whose lifetime or idle allowance ran out.
// One sweeper runs per connected drone, alongside the drone's socket: it
// first asks the backend to stop gracefully, then escalates to a hard kill
// if the backend is still around after a grace period.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/jamsocket/plane/internal/database"
	"github.com/jamsocket/plane/internal/names"
	"github.com/jamsocket/plane/internal/protocol"
	"github.com/jamsocket/plane/internal/types"
	"github.com/jamsocket/plane/service/controller/telemetry"
)

const (
	sweepInterval = time.Second
	// hardGrace is how long a backend gets to wind down after the soft
	// termination before the sweeper escalates to a hard one.
	hardGrace = 10 * time.Second
)

// Store is the slice of the backend store the sweeper needs.
type Store interface {
	TerminationCandidates(ctx context.Context, droneID types.NodeID) ([]database.TerminationCandidate, error)
	CreateTerminationAction(ctx context.Context, backend names.BackendName, droneID types.NodeID, kind protocol.TerminationKind) (bool, error)
}

// sweepState tracks the escalation of one backend across sweeps.
type sweepState struct {
	softAt time.Time
	hard   bool
}

// Sweeper issues termination actions for one drone's expired backends. It is
// driven from the drone's socket handler and stops with it; actions it has
// persisted survive the disconnect and are redelivered on reconnect.
type Sweeper struct {
	store       Store
	droneID     types.NodeID
	logger      *slog.Logger
	instruments *telemetry.Instruments

	// issued is only touched from Run's goroutine.
	issued map[names.BackendName]*sweepState
}

func New(store Store, droneID types.NodeID, logger *slog.Logger, instruments *telemetry.Instruments) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if instruments == nil {
		instruments = telemetry.NewNoopInstruments()
	}
	return &Sweeper{
		store:       store,
		droneID:     droneID,
		logger:      logger.With(slog.String("component", "sweeper"), slog.Int64("drone_id", int64(droneID))),
		instruments: instruments,
		issued:      make(map[names.BackendName]*sweepState),
	}
}

// Run sweeps until ctx ends.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx, time.Now())
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context, now time.Time) {
	candidates, err := s.store.TerminationCandidates(ctx, s.droneID)
	if err != nil {
		s.logger.Warn("Listing termination candidates failed", slog.String("error", err.Error()))
		return
	}

	seen := make(map[names.BackendName]bool, len(candidates))
	for _, candidate := range candidates {
		backend := candidate.BackendID
		seen[backend] = true

		state, ok := s.issued[backend]
		switch {
		case !ok:
			if err := s.issue(ctx, backend, protocol.TerminationSoft); err == nil {
				s.issued[backend] = &sweepState{softAt: now}
			}
		case state.hard:
			// Hard action is persisted; redelivery is the action
			// pump's job, not ours.
		case now.Sub(state.softAt) >= hardGrace:
			if err := s.issue(ctx, backend, protocol.TerminationHard); err == nil {
				state.hard = true
			}
		}
	}

	// Backends that stopped being candidates either terminated or got a
	// fresh keepalive. Either way the escalation restarts from soft if
	// they ever expire again.
	for backend := range s.issued {
		if !seen[backend] {
			delete(s.issued, backend)
		}
	}
}

func (s *Sweeper) issue(ctx context.Context, backend names.BackendName, kind protocol.TerminationKind) error {
	created, err := s.store.CreateTerminationAction(ctx, backend, s.droneID, kind)
	if err != nil {
		s.logger.Warn("Creating termination action failed",
			slog.String("backend", backend.String()),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()))
		return err
	}
	if created {
		s.instruments.TerminateActionsTotal.Add(ctx, 1, telemetry.TerminationAttrs.Get(string(kind)))
		s.logger.Info("Issued termination",
			slog.String("backend", backend.String()),
			slog.String("kind", string(kind)))
	}
	return nil
}
