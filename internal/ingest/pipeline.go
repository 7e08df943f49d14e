// attackmap - Real-Time Attack Telemetry Map
// Copyright 2026 O. Weller
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oweller/attackmap

// Package ingest normalizes caller-supplied telemetry into canonical attack
// events and feeds them through enrichment, dedup, the bus and the
// aggregator. Ingest is the only event source: the pipeline never fabricates
// traffic.
package ingest

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/oweller/attackmap/internal/aggregate"
	"github.com/oweller/attackmap/internal/bus"
	"github.com/oweller/attackmap/internal/config"
	"github.com/oweller/attackmap/internal/geo"
	"github.com/oweller/attackmap/internal/logging"
	"github.com/oweller/attackmap/internal/metrics"
	"github.com/oweller/attackmap/internal/models"
	"github.com/oweller/attackmap/internal/validation"
)

// Result summarizes one ingest batch. Errors holds one message per rejected
// item, indexed in submission order.
type Result struct {
	Accepted int      `json:"accepted"`
	Rejected int      `json:"rejected,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

// Item is one batch position: a decoded event, or the decode error the
// transport hit for it. Carrying decode failures as items keeps the rest of
// the batch flowing and the error indices aligned with submission order.
type Item struct {
	Event models.IngestEvent
	Err   error
}

// Pipeline wires the normalizer to its downstream stages.
type Pipeline struct {
	cfg   config.TelemetryConfig
	geo   *geo.Enricher
	dedup *Deduper
	bus   *bus.Bus
	agg   *aggregate.Aggregator
}

// NewPipeline assembles the ingest path. All stages are shared process-wide.
func NewPipeline(cfg config.TelemetryConfig, enricher *geo.Enricher, deduper *Deduper, b *bus.Bus, agg *aggregate.Aggregator) *Pipeline {
	return &Pipeline{
		cfg:   cfg,
		geo:   enricher,
		dedup: deduper,
		bus:   b,
		agg:   agg,
	}
}

// Process validates and publishes a batch of decoded events. Items are
// independent: a bad item is counted and reported without affecting the rest
// of the batch.
func (p *Pipeline) Process(events []models.IngestEvent) Result {
	items := make([]Item, len(events))
	for i := range events {
		items[i].Event = events[i]
	}
	return p.ProcessItems(items)
}

// ProcessItems is Process for transport batches where individual items may
// already have failed to decode; those count as rejections at their original
// position.
func (p *Pipeline) ProcessItems(items []Item) Result {
	var res Result
	for i := range items {
		if items[i].Err != nil {
			res.Rejected++
			res.Errors = append(res.Errors, fmt.Sprintf("item %d: %v", i, items[i].Err))
			metrics.IngestRejected.WithLabelValues("malformed").Inc()
			continue
		}
		if err := p.processOne(&items[i].Event); err != nil {
			res.Rejected++
			res.Errors = append(res.Errors, fmt.Sprintf("item %d: %v", i, err))
			metrics.IngestRejected.WithLabelValues("validation").Inc()
			continue
		}
		res.Accepted++
		metrics.IngestAccepted.WithLabelValues(string(items[i].Event.AttackType)).Inc()
	}
	if res.Rejected > 0 {
		logging.Debug().
			Int("accepted", res.Accepted).
			Int("rejected", res.Rejected).
			Msg("ingest batch partially rejected")
	}
	return res
}

func (p *Pipeline) processOne(in *models.IngestEvent) error {
	if err := validation.ValidateStruct(in); err != nil {
		return err
	}
	// EventTime.UnmarshalJSON never runs for an absent ts key, so the zero
	// value must be rejected here.
	if in.TS.IsZero() {
		return fmt.Errorf("timestamp is required")
	}

	evt := p.normalize(in)
	p.dedup.Merge(&evt)

	published := p.bus.Publish(evt)
	p.agg.Add(published)
	return nil
}

// normalize builds the canonical event: server-assigned id when the caller
// gave none, UTC timestamp, deterministic geo/ASN enrichment, configured TTL,
// and the derived fields via Finalize. Ingested events are always real.
func (p *Pipeline) normalize(in *models.IngestEvent) models.AttackEvent {
	id := uuid.New()
	if in.ID != nil {
		id = *in.ID
	}

	source := in.Source
	if source == "" {
		source = "ingest"
	}

	evt := models.AttackEvent{
		ID:         id,
		TS:         in.TS.UTC(),
		Src:        models.Endpoint{IP: in.SrcIP},
		Dst:        models.Endpoint{IP: in.DstIP},
		AttackType: in.AttackType,
		Severity:   in.Severity,
		Volume:     in.Volume,
		Tags:       in.Tags,
		Confidence: in.Confidence,
		Source:     source,
		Real:       true,
		TTLms:      p.cfg.TTLmsDefault,
	}

	if in.SrcIP != "" {
		r := p.geo.Lookup(in.SrcIP)
		evt.Src.Geo = r.Geo
		evt.Src.Asn = r.Asn
	}
	if in.DstIP != "" {
		r := p.geo.Lookup(in.DstIP)
		evt.Dst.Geo = r.Geo
		evt.Dst.Asn = r.Asn
	}

	evt.Finalize()
	return evt
}
