// attackmap - Real-Time Attack Telemetry Map
// Copyright 2026 O. Weller
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oweller/attackmap

// Package config loads and validates attackmap configuration using Koanf v2
// with layered sources: built-in defaults, an optional YAML file, then
// environment variables (highest priority).
package config

import (
	"fmt"
	"time"
)

// TelemetryMode selects where events come from.
const (
	// TelemetryModeLive carries only ingested events; the server emits
	// nothing unless callers submit telemetry.
	TelemetryModeLive = "live"

	// TelemetryModeMock runs the same pipeline against an empty map for
	// frontend development. Pipeline semantics are identical to live;
	// events are never fabricated.
	TelemetryModeMock = "mock"
)

// Config is the root configuration for the attackmap server.
type Config struct {
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Server    ServerConfig    `koanf:"server"`
	Security  SecurityConfig  `koanf:"security"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// TelemetryConfig controls the event pipeline.
type TelemetryConfig struct {
	// Mode is live or mock.
	Mode string `koanf:"mode"`

	// GeoDBPath points at a MaxMind-format database. Empty disables geo
	// enrichment unless FallbackCoords is set.
	GeoDBPath string `koanf:"geo_db_path"`

	// FallbackCoords derives stable pseudo-coordinates by hashing the IP
	// when no database lookup is possible. Never random.
	FallbackCoords bool `koanf:"fallback_coords"`

	// ReplaySeconds bounds the bus replay buffer by wall-clock age.
	// Clamped to [5, 600].
	ReplaySeconds int `koanf:"replay_seconds"`

	// TTLmsDefault is the TTL stamped on normalized events, in
	// milliseconds. Clamped to [5000, 300000].
	TTLmsDefault int `koanf:"ttl_ms"`

	// AggTickMS is the per-connection aggregate push interval. Clamped to
	// [200, 5000].
	AggTickMS int `koanf:"agg_tick_ms"`

	// HbTickMS is the per-connection heartbeat interval. Clamped to
	// [500, 10000].
	HbTickMS int `koanf:"hb_tick_ms"`

	// DedupSeconds is the window within which repeated reports of the
	// same (src, dst, type, tags) coalesce into one stable event identity.
	DedupSeconds int `koanf:"dedup_seconds"`

	// HistorySeconds bounds the aggregator's in-memory event history.
	HistorySeconds int `koanf:"history_seconds"`

	// SubscriberQueue is the per-connection bus mailbox depth. Deliveries
	// to a full mailbox are dropped for that subscriber only.
	SubscriberQueue int `koanf:"subscriber_queue"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// SecurityConfig holds the transport-level knobs the pipeline carries;
// there is no caller authentication in this service.
type SecurityConfig struct {
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// AggTick returns the aggregate push interval as a duration.
func (t TelemetryConfig) AggTick() time.Duration {
	return time.Duration(t.AggTickMS) * time.Millisecond
}

// HbTick returns the heartbeat interval as a duration.
func (t TelemetryConfig) HbTick() time.Duration {
	return time.Duration(t.HbTickMS) * time.Millisecond
}

// ReplayWindow returns the replay retention as a duration.
func (t TelemetryConfig) ReplayWindow() time.Duration {
	return time.Duration(t.ReplaySeconds) * time.Second
}

// DedupWindow returns the dedup window as a duration.
func (t TelemetryConfig) DedupWindow() time.Duration {
	return time.Duration(t.DedupSeconds) * time.Second
}

// HistoryWindow returns the aggregator retention as a duration.
func (t TelemetryConfig) HistoryWindow() time.Duration {
	return time.Duration(t.HistorySeconds) * time.Second
}

// clampInt bounds v to [lo, hi].
func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Validate normalizes and clamps configuration values in place. Out-of-range
// telemetry values are clamped rather than rejected so a misconfigured
// deployment degrades instead of refusing to start.
func (c *Config) Validate() error {
	if c.Telemetry.Mode != TelemetryModeLive && c.Telemetry.Mode != TelemetryModeMock {
		c.Telemetry.Mode = TelemetryModeLive
	}

	c.Telemetry.ReplaySeconds = clampInt(c.Telemetry.ReplaySeconds, 5, 600)
	c.Telemetry.TTLmsDefault = clampInt(c.Telemetry.TTLmsDefault, 5000, 300000)
	c.Telemetry.AggTickMS = clampInt(c.Telemetry.AggTickMS, 200, 5000)
	c.Telemetry.HbTickMS = clampInt(c.Telemetry.HbTickMS, 500, 10000)
	c.Telemetry.DedupSeconds = clampInt(c.Telemetry.DedupSeconds, 1, 600)
	c.Telemetry.HistorySeconds = clampInt(c.Telemetry.HistorySeconds, 60, 86400)
	c.Telemetry.SubscriberQueue = clampInt(c.Telemetry.SubscriberQueue, 16, 100000)

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		c.Server.Timeout = 30 * time.Second
	}

	if c.Security.RateLimitReqs <= 0 {
		c.Security.RateLimitReqs = 100
	}
	if c.Security.RateLimitWindow <= 0 {
		c.Security.RateLimitWindow = time.Minute
	}

	return nil
}
