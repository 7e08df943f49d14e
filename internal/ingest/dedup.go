// attackmap - Real-Time Attack Telemetry Map
// Copyright 2026 O. Weller
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oweller/attackmap

package ingest

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oweller/attackmap/internal/metrics"
	"github.com/oweller/attackmap/internal/models"
)

// tagsKeyMax caps the tag component of a dedup key.
const tagsKeyMax = 200

type dedupEntry struct {
	lastSeen time.Time
	stableID uuid.UUID
}

// Deduper coalesces repeat events within a short window onto a stable event
// id. Duplicates are never discarded, only merged: the event keeps flowing
// with the first occurrence's id and a refreshed timestamp, so clients see
// one marker updating instead of a pile of clones.
type Deduper struct {
	mu      sync.Mutex
	entries map[string]dedupEntry
	window  time.Duration
}

// NewDeduper creates a deduper with the given merge window.
func NewDeduper(window time.Duration) *Deduper {
	return &Deduper{
		entries: make(map[string]dedupEntry),
		window:  window,
	}
}

// Merge rewrites e in place when a live entry matches its key: the stable id
// replaces e's, ts moves to now, and expiry is recomputed. It reports whether
// a merge happened. Aged entries are pruned on the way through.
func (d *Deduper) Merge(e *models.AttackEvent) bool {
	now := time.Now().UTC()
	key := dedupKey(e)

	d.mu.Lock()
	defer d.mu.Unlock()

	d.pruneLocked(now)

	entry, ok := d.entries[key]
	merged := ok && now.Sub(entry.lastSeen) <= d.window
	if merged {
		e.ID = entry.stableID
		e.TS = now
		e.Finalize()
		d.entries[key] = dedupEntry{lastSeen: now, stableID: entry.stableID}
		metrics.DedupMerges.Inc()
	} else {
		d.entries[key] = dedupEntry{lastSeen: now, stableID: e.ID}
	}
	return merged
}

// Prune drops aged entries outside the ingest path.
func (d *Deduper) Prune() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pruneLocked(time.Now().UTC())
}

func (d *Deduper) pruneLocked(now time.Time) {
	cutoff := now.Add(-d.window)
	for k, entry := range d.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(d.entries, k)
		}
	}
}

// Len reports the live entry count.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// dedupKey identifies an event by src, dst, type and its sorted unique tags.
func dedupKey(e *models.AttackEvent) string {
	src := e.Src.IP
	if src == "" {
		src = "unknown"
	}
	dst := e.Dst.IP
	if dst == "" {
		dst = "unknown"
	}

	seen := make(map[string]struct{}, len(e.Tags))
	tags := make([]string, 0, len(e.Tags))
	for _, tag := range e.Tags {
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	tagsKey := strings.Join(tags, ",")
	if len(tagsKey) > tagsKeyMax {
		tagsKey = tagsKey[:tagsKeyMax]
	}

	return src + "|" + dst + "|" + string(e.AttackType) + "|" + tagsKey
}
