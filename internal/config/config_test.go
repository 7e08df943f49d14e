// attackmap - Real-Time Attack Telemetry Map
// Copyright 2026 O. Weller
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oweller/attackmap

package config

import (
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	if cfg.Telemetry.Mode != TelemetryModeLive {
		t.Errorf("default mode = %q, want live", cfg.Telemetry.Mode)
	}
	if cfg.Telemetry.ReplaySeconds != 60 {
		t.Errorf("default replay_seconds = %d, want 60", cfg.Telemetry.ReplaySeconds)
	}
	if cfg.Telemetry.TTLmsDefault != 45000 {
		t.Errorf("default ttl_ms = %d, want 45000", cfg.Telemetry.TTLmsDefault)
	}
	if cfg.Telemetry.AggTickMS != 1000 {
		t.Errorf("default agg_tick_ms = %d, want 1000", cfg.Telemetry.AggTickMS)
	}
	if cfg.Telemetry.HbTickMS != 2000 {
		t.Errorf("default hb_tick_ms = %d, want 2000", cfg.Telemetry.HbTickMS)
	}
}

func TestValidateClampsTelemetryRanges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		check  func(*Config) (got, want int)
	}{
		{
			name:   "replay too low",
			mutate: func(c *Config) { c.Telemetry.ReplaySeconds = 1 },
			check:  func(c *Config) (int, int) { return c.Telemetry.ReplaySeconds, 5 },
		},
		{
			name:   "replay too high",
			mutate: func(c *Config) { c.Telemetry.ReplaySeconds = 10000 },
			check:  func(c *Config) (int, int) { return c.Telemetry.ReplaySeconds, 600 },
		},
		{
			name:   "ttl too low",
			mutate: func(c *Config) { c.Telemetry.TTLmsDefault = 10 },
			check:  func(c *Config) (int, int) { return c.Telemetry.TTLmsDefault, 5000 },
		},
		{
			name:   "ttl too high",
			mutate: func(c *Config) { c.Telemetry.TTLmsDefault = 900000 },
			check:  func(c *Config) (int, int) { return c.Telemetry.TTLmsDefault, 300000 },
		},
		{
			name:   "agg tick too low",
			mutate: func(c *Config) { c.Telemetry.AggTickMS = 50 },
			check:  func(c *Config) (int, int) { return c.Telemetry.AggTickMS, 200 },
		},
		{
			name:   "agg tick too high",
			mutate: func(c *Config) { c.Telemetry.AggTickMS = 60000 },
			check:  func(c *Config) (int, int) { return c.Telemetry.AggTickMS, 5000 },
		},
		{
			name:   "hb tick too low",
			mutate: func(c *Config) { c.Telemetry.HbTickMS = 100 },
			check:  func(c *Config) (int, int) { return c.Telemetry.HbTickMS, 500 },
		},
		{
			name:   "hb tick too high",
			mutate: func(c *Config) { c.Telemetry.HbTickMS = 99999 },
			check:  func(c *Config) (int, int) { return c.Telemetry.HbTickMS, 10000 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if got, want := tt.check(cfg); got != want {
				t.Errorf("clamped value = %d, want %d", got, want)
			}
		})
	}
}

func TestValidateNormalizesMode(t *testing.T) {
	cfg := defaultConfig()
	cfg.Telemetry.Mode = "chaos"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Telemetry.Mode != TelemetryModeLive {
		t.Errorf("unknown mode normalized to %q, want live", cfg.Telemetry.Mode)
	}

	cfg.Telemetry.Mode = TelemetryModeMock
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Telemetry.Mode != TelemetryModeMock {
		t.Errorf("mock mode should be preserved, got %q", cfg.Telemetry.Mode)
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := defaultConfig()
	cfg.Server.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for port 0")
	}
	cfg.Server.Port = 70000
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for port 70000")
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		env  string
		want string
	}{
		{"THREATMAP_TELEMETRY_MODE", "telemetry.mode"},
		{"MAXMIND_DB_PATH", "telemetry.geo_db_path"},
		{"THREATMAP_FALLBACK_COORDS", "telemetry.fallback_coords"},
		{"THREATMAP_REPLAY_SECONDS", "telemetry.replay_seconds"},
		{"THREATMAP_TTL_MS", "telemetry.ttl_ms"},
		{"HTTP_PORT", "server.port"},
		{"LOG_LEVEL", "logging.level"},
		{"SOME_RANDOM_VAR", ""},
		{"PATH", ""},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			if got := envTransformFunc(tt.env); got != tt.want {
				t.Errorf("envTransformFunc(%q) = %q, want %q", tt.env, got, tt.want)
			}
		})
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("THREATMAP_REPLAY_SECONDS", "120")
	t.Setenv("THREATMAP_TELEMETRY_MODE", "mock")
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("CORS_ORIGINS", "https://map.example.com, https://ops.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Telemetry.ReplaySeconds != 120 {
		t.Errorf("replay_seconds = %d, want 120", cfg.Telemetry.ReplaySeconds)
	}
	if cfg.Telemetry.Mode != TelemetryModeMock {
		t.Errorf("mode = %q, want mock", cfg.Telemetry.Mode)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Server.Port)
	}
	if len(cfg.Security.CORSOrigins) != 2 || cfg.Security.CORSOrigins[0] != "https://map.example.com" {
		t.Errorf("cors_origins = %v", cfg.Security.CORSOrigins)
	}
}

func TestDurationHelpers(t *testing.T) {
	tc := TelemetryConfig{
		ReplaySeconds:  60,
		AggTickMS:      1000,
		HbTickMS:       2000,
		DedupSeconds:   30,
		HistorySeconds: 3600,
	}
	if tc.ReplayWindow() != time.Minute {
		t.Errorf("ReplayWindow = %v", tc.ReplayWindow())
	}
	if tc.AggTick() != time.Second {
		t.Errorf("AggTick = %v", tc.AggTick())
	}
	if tc.HbTick() != 2*time.Second {
		t.Errorf("HbTick = %v", tc.HbTick())
	}
	if tc.DedupWindow() != 30*time.Second {
		t.Errorf("DedupWindow = %v", tc.DedupWindow())
	}
	if tc.HistoryWindow() != time.Hour {
		t.Errorf("HistoryWindow = %v", tc.HistoryWindow())
	}
}
