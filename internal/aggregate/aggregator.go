// attackmap - Real-Time Attack Telemetry Map
// Copyright 2026 O. Weller
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oweller/attackmap

// Package aggregate maintains the server-authoritative sliding-window rollups
// derived from canonical events. Snapshots are pure reads over shared history:
// per-connection filters are applied at snapshot time, never stored.
package aggregate

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/oweller/attackmap/internal/metrics"
	"github.com/oweller/attackmap/internal/models"
)

// topN bounds the top_sources/top_targets/top_types lists.
const topN = 10

// heatStep is the heatmap grid cell size in degrees.
const heatStep = 5.0

// Aggregator retains events up to a history horizon and computes windowed
// rollups on demand.
type Aggregator struct {
	mu      sync.Mutex
	events  []models.AttackEvent
	horizon time.Duration
}

// New creates an aggregator retaining at most horizon of event history.
func New(horizon time.Duration) *Aggregator {
	return &Aggregator{horizon: horizon}
}

// Add appends an event and drops history past the horizon. Ordering by
// event timestamp is assumed from the pipeline; trim is by the head only.
func (a *Aggregator) Add(e models.AttackEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
	a.trimLocked(time.Now().UTC())
	metrics.AggregatorHistorySize.Set(float64(len(a.events)))
}

// Prune drops aged history outside the event path.
func (a *Aggregator) Prune() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.trimLocked(time.Now().UTC())
	metrics.AggregatorHistorySize.Set(float64(len(a.events)))
}

func (a *Aggregator) trimLocked(now time.Time) {
	cutoff := now.Add(-a.horizon)
	idx := 0
	for idx < len(a.events) && a.events[idx].TS.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		a.events = append(a.events[:0], a.events[idx:]...)
	}
}

// Snapshot computes the rollup for one connection. The filter's window takes
// precedence; seq stamps the stream position the snapshot is consistent with.
// Identical history, filters and clock always produce identical snapshots.
func (a *Aggregator) Snapshot(seq uint64, filters models.FilterState) models.Aggregates {
	start := time.Now()
	defer func() {
		metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
	}()

	now := time.Now().UTC()
	window := filters.Window
	dur := models.WindowDuration(window)
	cutoff := now.Add(-dur)

	a.mu.Lock()
	a.trimLocked(now)
	events := make([]models.AttackEvent, 0, len(a.events))
	for i := range a.events {
		e := &a.events[i]
		if e.TS.Before(cutoff) {
			continue
		}
		if !filters.Match(e) {
			continue
		}
		events = append(events, *e)
	}
	a.mu.Unlock()

	agg := models.Aggregates{
		Window:   window,
		ServerTS: now,
		Seq:      seq,
		Count:    len(events),
		EPS:      float64(len(events)) / math.Max(1e-6, dur.Seconds()),
	}

	srcCounts := make(map[string]int)
	dstCounts := make(map[string]int)
	typeCounts := make(map[string]int)
	sevCounts := make(map[int]int)
	heat := make(map[[2]int]*models.HeatBucket)

	for i := range events {
		e := &events[i]
		srcCounts[endpointKey(&e.Src)]++
		dstCounts[endpointKey(&e.Dst)]++
		typeCounts[string(e.AttackType)]++
		sevCounts[e.Severity]++

		if e.Dst.Geo != nil && e.Dst.Geo.HasCoords() {
			bin := [2]int{gridBin(*e.Dst.Geo.Lat), gridBin(*e.Dst.Geo.Lon)}
			b, ok := heat[bin]
			if !ok {
				b = &models.HeatBucket{LatBin: bin[0], LonBin: bin[1]}
				heat[bin] = b
			}
			b.Count++
			b.SeveritySum += e.Severity
		}
	}

	agg.TopSources = topCounts(srcCounts)
	agg.TopTargets = topCounts(dstCounts)
	agg.TopTypes = topCounts(typeCounts)

	agg.BySeverity = make([]models.SeverityCount, 0, 10)
	for sev := 1; sev <= 10; sev++ {
		agg.BySeverity = append(agg.BySeverity, models.SeverityCount{
			Severity: sev,
			Count:    sevCounts[sev],
		})
	}

	agg.Heat = make([]models.HeatBucket, 0, len(heat))
	for _, b := range heat {
		agg.Heat = append(agg.Heat, *b)
	}
	sort.Slice(agg.Heat, func(i, j int) bool {
		if agg.Heat[i].LatBin != agg.Heat[j].LatBin {
			return agg.Heat[i].LatBin < agg.Heat[j].LatBin
		}
		return agg.Heat[i].LonBin < agg.Heat[j].LonBin
	})

	return agg
}

// endpointKey labels an endpoint by country when known, otherwise by IP.
func endpointKey(ep *models.Endpoint) string {
	if ep.Geo != nil && ep.Geo.Country != "" {
		return ep.Geo.Country
	}
	if ep.IP != "" {
		return ep.IP
	}
	return "unknown"
}

// gridBin floors a coordinate onto the heatmap grid. Floor, not truncation,
// so negative coordinates bin consistently.
func gridBin(coord float64) int {
	return int(math.Floor(coord / heatStep))
}

// topCounts returns the topN entries by count, ties broken by key for
// stable output.
func topCounts(counts map[string]int) []models.KeyCount {
	out := make([]models.KeyCount, 0, len(counts))
	for k, c := range counts {
		out = append(out, models.KeyCount{Key: k, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if len(out) > topN {
		out = out[:topN]
	}
	return out
}
