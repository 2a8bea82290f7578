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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jamsocket/plane/internal/database"
	"github.com/jamsocket/plane/internal/names"
	"github.com/jamsocket/plane/internal/protocol"
	"github.com/jamsocket/plane/internal/types"
	libutils "github.com/jamsocket/plane/lib/utils"
	"github.com/jamsocket/plane/service/controller/core"
	"github.com/jamsocket/plane/service/controller/server"
	"github.com/jamsocket/plane/service/controller/telemetry"
	"github.com/jamsocket/plane/utils"
	"github.com/jamsocket/plane/utils/cache"
	"github.com/jamsocket/plane/utils/logging"
	"github.com/jamsocket/plane/utils/postgres"
	planeredis "github.com/jamsocket/plane/utils/redis"
)

const shutdownTimeout = 10 * time.Second

func main() {
	host := flag.String("host",
		utils.GetEnv("PLANE_HOST", "0.0.0.0"),
		"Address to bind the API server to")
	port := flag.Int("port",
		utils.GetEnvInt("PLANE_PORT", 8080),
		"Port to bind the API server to")
	controllerURL := flag.String("controller-url",
		utils.GetEnv("PLANE_CONTROLLER_URL", "http://127.0.0.1:8080"),
		"Public base URL minted into connect responses")
	defaultCluster := flag.String("default-cluster",
		utils.GetEnv("PLANE_DEFAULT_CLUSTER", ""),
		"Cluster used when a connect request does not name one")
	redisEnabled := flag.Bool("redis-enable",
		utils.GetEnvBool("PLANE_REDIS_ENABLE", true),
		"Use Redis for the durable node offline queue")

	logFlags := logging.RegisterFlags()
	pgFlags := postgres.RegisterPostgresFlags()
	redisFlags := planeredis.RegisterRedisFlags()
	cacheFlags := cache.RegisterCacheFlags()
	otelFlags := telemetry.RegisterOTELFlags("controller")
	flag.Parse()

	logger := logging.InitLogger("controller", logFlags.ToConfig())
	slog.SetDefault(logger)

	versionInfo := protocol.PlaneVersionInfo{Version: "dev"}
	if v, err := libutils.LoadVersionInfo(); err == nil {
		versionInfo = protocol.PlaneVersionInfo{Version: v.String(), GitHash: v.Hash}
	} else {
		logger.Warn("Version file unavailable, reporting dev", slog.String("error", err.Error()))
	}

	publicURL, err := url.Parse(*controllerURL)
	if err != nil {
		logger.Error("Invalid controller URL",
			slog.String("url", *controllerURL),
			slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pgConfig := pgFlags.ToPostgresConfig()
	pgClient, err := pgConfig.CreateClient(ctx, logger)
	if err != nil {
		logger.Error("Failed to create PostgreSQL client", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pgClient.Close()

	db := database.New(pgClient, logger)
	if err := db.Migrate(ctx); err != nil {
		logger.Error("Schema migration failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	otelConfig := otelFlags()
	instruments := telemetry.NewNoopInstruments()
	if otelConfig.Enabled {
		otelInstruments, otelShutdown, err := telemetry.InitOTEL(ctx, otelConfig)
		if err != nil {
			logger.Warn("OTEL setup failed, metrics disabled", slog.String("error", err.Error()))
		} else {
			instruments = otelInstruments
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := otelShutdown(flushCtx); err != nil {
					logger.Warn("OTEL shutdown failed", slog.String("error", err.Error()))
				}
			}()
		}
	}

	controllerID := names.NewControllerName()
	if err := db.Controllers().Register(ctx, controllerID, versionInfo); err != nil {
		logger.Error("Controller registration failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// The offline queue is optional: without Redis, node releases mark the
	// registry directly and lose the cross-controller retry guarantee.
	var queue *core.OfflineQueue
	if *redisEnabled {
		redisConfig := redisFlags.ToRedisConfig()
		redisClient, err := redisConfig.CreateClient(ctx, logger)
		if err != nil {
			logger.Warn("Redis unavailable, nodes will be marked offline directly",
				slog.String("error", err.Error()))
		} else {
			defer redisClient.Close()
			queue = core.NewOfflineQueue(redisClient.Client(), db.Nodes(), controllerID, logger, instruments)
		}
	}

	controller := core.New(db, queue, core.Config{
		ID:             controllerID,
		Version:        versionInfo,
		DefaultCluster: types.ClusterName(*defaultCluster),
		PublicURL:      publicURL,
	}, logger, instruments)

	cacheConfig := cacheFlags.ToCacheConfig()
	routes := cache.NewKeyedCache[protocol.RouteInfo](cacheConfig.MaxSize, cacheConfig.TTL, logger)

	srv := server.New(controller, routes, logger, instruments)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", *host, *port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Deriving every request context from the signal context is what
		// lets the node sockets (hijacked, so invisible to Shutdown) wind
		// down and release their handles on SIGTERM.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return ignoreCanceled(db.Listener().Run(groupCtx))
	})
	if queue != nil {
		group.Go(func() error {
			return ignoreCanceled(queue.Run(groupCtx))
		})
	}
	group.Go(func() error {
		return ignoreCanceled(controller.RunHeartbeat(groupCtx))
	})
	group.Go(func() error {
		logger.Info("Controller listening",
			slog.String("address", httpServer.Addr),
			slog.String("controller", controllerID.String()),
			slog.String("version", versionInfo.Version))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("Shutting down")
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(drainCtx); err != nil {
			logger.Warn("Graceful shutdown timed out, forcing close", slog.String("error", err.Error()))
			return httpServer.Close()
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		logger.Error("Controller failed", slog.String("error", err.Error()))
	}

	// Last write: take this controller out of the registry.
	offCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.Controllers().MarkOffline(offCtx, controllerID); err != nil {
		logger.Warn("Controller offline mark failed", slog.String("error", err.Error()))
	}
	logger.Info("Controller stopped")
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
