// attackmap - Real-Time Attack Telemetry Map
// Copyright 2026 O. Weller
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oweller/attackmap

package models

import (
	"strings"
	"time"
)

// Window identifiers clients may request. Anything else falls back to the
// default 5-minute window.
const (
	Window5m      = "5m"
	Window15m     = "15m"
	Window1h      = "1h"
	DefaultWindow = Window5m
)

// WindowDuration resolves a window identifier to its duration. Aliases from
// older dashboard builds ("5min", "300s", ...) are accepted.
func WindowDuration(window string) time.Duration {
	switch strings.ToLower(strings.TrimSpace(window)) {
	case "15m", "15min", "900s":
		return 15 * time.Minute
	case "1h", "60m", "3600s":
		return time.Hour
	default:
		return 5 * time.Minute
	}
}

// KeyCount is one entry of a top-N frequency breakdown.
type KeyCount struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// SeverityCount is one level of the severity histogram.
type SeverityCount struct {
	Severity int `json:"severity"`
	Count    int `json:"count"`
}

// HeatBucket is one cell of the fixed lat/lon grid heatmap, keyed by
// destination geo.
type HeatBucket struct {
	LatBin      int `json:"lat_bin"`
	LonBin      int `json:"lon_bin"`
	Count       int `json:"count"`
	SeveritySum int `json:"severity_sum"`
}

// Aggregates is a rollup over a sliding time window, subject to a
// connection's filters.
type Aggregates struct {
	Window   string    `json:"window"`
	ServerTS time.Time `json:"server_ts"`
	Seq      uint64    `json:"seq"`

	Count      int             `json:"count"`
	EPS        float64         `json:"eps"`
	TopSources []KeyCount      `json:"top_sources"`
	TopTargets []KeyCount      `json:"top_targets"`
	TopTypes   []KeyCount      `json:"top_types"`
	BySeverity []SeverityCount `json:"by_severity"`
	Heat       []HeatBucket    `json:"heat"`
}

// FilterState is a connection's mutable view parameters. It is owned
// exclusively by the connection's session controller and never shared.
type FilterState struct {
	Window      string
	Types       map[AttackType]struct{} // nil means all types
	MinSeverity int
	MajorOnly   bool
	Country     string // destination-country substring, case-insensitive
}

// DefaultFilterState returns the state a connection starts with.
func DefaultFilterState() FilterState {
	return FilterState{
		Window:      DefaultWindow,
		MinSeverity: 1,
	}
}

// Match reports whether an event passes the type, severity and country
// filters. The window is applied separately by the aggregator.
func (f *FilterState) Match(e *AttackEvent) bool {
	if f.Types != nil {
		if _, ok := f.Types[e.AttackType]; !ok {
			return false
		}
	}
	if f.MajorOnly && !e.IsMajor {
		return false
	}
	if f.MinSeverity > 1 && e.Severity < f.MinSeverity {
		return false
	}
	if f.Country != "" {
		if e.Dst.Geo == nil || e.Dst.Geo.Country == "" {
			return false
		}
		if !strings.Contains(strings.ToLower(e.Dst.Geo.Country), strings.ToLower(f.Country)) {
			return false
		}
	}
	return true
}
