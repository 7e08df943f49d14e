// attackmap - Real-Time Attack Telemetry Map
// Copyright 2026 O. Weller
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oweller/attackmap

package services

import (
	"context"
	"time"
)

// Pruner is anything holding time-bounded in-memory state that must be
// trimmed periodically. Satisfied by the event bus, the deduper, and the
// aggregator.
type Pruner interface {
	Prune()
}

// PruneService ticks over a set of pruners so retention windows are
// enforced even when no publish or snapshot touches them. Each component
// also prunes opportunistically on its own writes; this service is the
// backstop for idle periods.
type PruneService struct {
	pruners  []Pruner
	interval time.Duration
	name     string
}

// NewPruneService creates the retention janitor. A non-positive interval
// falls back to 30 seconds.
func NewPruneService(interval time.Duration, pruners ...Pruner) *PruneService {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &PruneService{
		pruners:  pruners,
		interval: interval,
		name:     "retention-janitor",
	}
}

// Serve implements suture.Service. Prunes once per tick until the context
// is canceled.
func (p *PruneService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, pruner := range p.pruners {
				pruner.Prune()
			}
		}
	}
}

// String implements fmt.Stringer for suture's lifecycle events.
func (p *PruneService) String() string {
	return p.name
}
