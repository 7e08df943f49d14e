// attackmap - Real-Time Attack Telemetry Map
// Copyright 2026 O. Weller
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oweller/attackmap

// Package main is the entry point for the attackmap server.
//
// attackmap ingests security attack telemetry over REST, normalizes and
// geo-enriches it, and streams it to WebSocket clients for live map
// rendering. Startup order:
//
//  1. Configuration: Koanf v2 layered sources (defaults, YAML, env)
//  2. Geo enricher: MaxMind database plus deterministic fallback coords
//  3. Pipeline: dedup, in-process event bus with replay, aggregator
//  4. Supervisor tree: retention janitor plus the HTTP server
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (THREATMAP_* and friends, see internal/config)
//   - Config file (config.yaml)
//   - Built-in defaults
//
// # Signal Handling
//
// The server shuts down gracefully on SIGINT and SIGTERM: the listener
// stops accepting connections, in-flight requests get a 10s drain window,
// and WebSocket sessions are closed by their canceled contexts.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oweller/attackmap/internal/aggregate"
	"github.com/oweller/attackmap/internal/api"
	"github.com/oweller/attackmap/internal/bus"
	"github.com/oweller/attackmap/internal/config"
	"github.com/oweller/attackmap/internal/geo"
	"github.com/oweller/attackmap/internal/ingest"
	"github.com/oweller/attackmap/internal/logging"
	"github.com/oweller/attackmap/internal/supervisor"
	"github.com/oweller/attackmap/internal/supervisor/services"
)

// pruneInterval is how often the retention janitor trims the bus replay
// buffer, dedup table, and aggregator history during idle periods.
const pruneInterval = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Config is not available yet; the default logger will do.
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("mode", cfg.Telemetry.Mode).
		Str("geo_db", cfg.Telemetry.GeoDBPath).
		Bool("fallback_coords", cfg.Telemetry.FallbackCoords).
		Int("replay_seconds", cfg.Telemetry.ReplaySeconds).
		Msg("Configuration loaded")

	if cfg.Telemetry.Mode == config.TelemetryModeMock {
		logging.Info().Msg("Mock mode: pipeline runs normally, no events are fabricated")
	}
	if cfg.Security.RateLimitDisabled {
		logging.Warn().Msg("Rate limiting is DISABLED; use only for local development")
	}

	// Pipeline components. Order matters only in that the pipeline takes
	// everything else as dependencies.
	enricher := geo.NewEnricher(cfg.Telemetry)
	eventBus := bus.New(cfg.Telemetry.ReplayWindow(), cfg.Telemetry.SubscriberQueue)
	agg := aggregate.New(cfg.Telemetry.HistoryWindow())
	deduper := ingest.NewDeduper(cfg.Telemetry.DedupWindow())
	pipeline := ingest.NewPipeline(cfg.Telemetry, enricher, deduper, eventBus, agg)

	handler := api.NewHandler(cfg.Telemetry, pipeline, eventBus, agg)
	router := api.NewRouter(cfg.Security, handler)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bridge zerolog to slog for sutureslog.
	tree, err := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	tree.AddPipelineService(services.NewPruneService(pruneInterval, eventBus, deduper, agg))
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Drain the channel until the supervisor is fully stopped.
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Server stopped gracefully")
}
