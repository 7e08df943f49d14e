// attackmap - Real-Time Attack Telemetry Map
// Copyright 2026 O. Weller
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oweller/attackmap

package ingest

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/oweller/attackmap/internal/aggregate"
	"github.com/oweller/attackmap/internal/bus"
	"github.com/oweller/attackmap/internal/config"
	"github.com/oweller/attackmap/internal/geo"
	"github.com/oweller/attackmap/internal/models"
)

func testPipeline(t *testing.T) (*Pipeline, *bus.Bus, *aggregate.Aggregator) {
	t.Helper()
	cfg := config.TelemetryConfig{
		TTLmsDefault:   45000,
		FallbackCoords: true,
	}
	enricher := geo.NewEnricher(cfg)
	t.Cleanup(func() { _ = enricher.Close() })

	b := bus.New(time.Minute, 64)
	agg := aggregate.New(time.Hour)
	p := NewPipeline(cfg, enricher, NewDeduper(30*time.Second), b, agg)
	return p, b, agg
}

func validIngest() models.IngestEvent {
	return models.IngestEvent{
		TS:         models.EventTime{Time: time.Now().UTC()},
		SrcIP:      "203.0.113.1",
		DstIP:      "198.51.100.1",
		AttackType: models.AttackDDoS,
		Severity:   6,
		Confidence: 0.8,
		Source:     "honeypot-a",
	}
}

func TestProcessAcceptsAndPublishes(t *testing.T) {
	p, b, agg := testPipeline(t)
	sub := b.Subscribe(0)
	defer b.Unsubscribe(sub)

	res := p.Process([]models.IngestEvent{validIngest()})
	if res.Accepted != 1 || res.Rejected != 0 {
		t.Fatalf("result = %+v, want 1 accepted", res)
	}

	select {
	case e := <-sub.C:
		if e.Seq != 1 {
			t.Errorf("seq = %d, want 1", e.Seq)
		}
		if !e.Real {
			t.Error("ingested event must be real")
		}
		if e.ID == (uuid.UUID{}) {
			t.Error("event must carry a generated id")
		}
		if e.TTLms != 45000 {
			t.Errorf("ttl = %d, want configured default", e.TTLms)
		}
		if e.Src.Geo == nil || !e.Src.Geo.Approx {
			t.Error("src must carry fallback geo when enabled")
		}
	default:
		t.Fatal("event not delivered to subscriber")
	}

	if snap := agg.Snapshot(1, models.DefaultFilterState()); snap.Count != 1 {
		t.Errorf("aggregator count = %d, want 1", snap.Count)
	}
}

func TestProcessKeepsCallerID(t *testing.T) {
	p, b, _ := testPipeline(t)
	sub := b.Subscribe(0)
	defer b.Unsubscribe(sub)

	id := uuid.New()
	in := validIngest()
	in.ID = &id
	p.Process([]models.IngestEvent{in})

	if e := <-sub.C; e.ID != id {
		t.Errorf("id = %v, want caller-supplied %v", e.ID, id)
	}
}

func TestProcessPartialFailure(t *testing.T) {
	p, _, _ := testPipeline(t)

	bad := validIngest()
	bad.Severity = 0

	worse := validIngest()
	worse.AttackType = "ddos" // wrong case

	res := p.Process([]models.IngestEvent{validIngest(), bad, worse, validIngest()})
	if res.Accepted != 2 {
		t.Errorf("accepted = %d, want 2", res.Accepted)
	}
	if res.Rejected != 2 {
		t.Errorf("rejected = %d, want 2", res.Rejected)
	}
	if len(res.Errors) != 2 {
		t.Fatalf("errors = %v, want 2 entries", res.Errors)
	}
}

func TestProcessRejectsMissingTimestamp(t *testing.T) {
	p, b, _ := testPipeline(t)
	sub := b.Subscribe(0)
	defer b.Unsubscribe(sub)

	// An absent ts key leaves the zero value behind; it must never publish.
	in := validIngest()
	in.TS = models.EventTime{}

	res := p.Process([]models.IngestEvent{in})
	if res.Accepted != 0 || res.Rejected != 1 {
		t.Fatalf("result = %+v, want 1 rejected", res)
	}

	select {
	case e := <-sub.C:
		t.Fatalf("event published without a timestamp: %+v", e)
	default:
	}
}

func TestProcessDefaultsSource(t *testing.T) {
	p, b, _ := testPipeline(t)
	sub := b.Subscribe(0)
	defer b.Unsubscribe(sub)

	in := validIngest()
	in.Source = ""
	p.Process([]models.IngestEvent{in})

	if e := <-sub.C; e.Source != "ingest" {
		t.Errorf("source = %q, want default ingest", e.Source)
	}

	p.Process([]models.IngestEvent{validIngest()})
	if e := <-sub.C; e.Source != "honeypot-a" {
		t.Errorf("source = %q, want caller-supplied value kept", e.Source)
	}
}

func TestProcessItemsCarriesDecodeFailures(t *testing.T) {
	p, _, _ := testPipeline(t)

	res := p.ProcessItems([]Item{
		{Event: validIngest()},
		{Err: errors.New(`unparseable timestamp "not-a-time"`)},
		{Event: validIngest()},
	})
	if res.Accepted != 2 || res.Rejected != 1 {
		t.Fatalf("result = %+v, want 2 accepted 1 rejected", res)
	}
	if len(res.Errors) != 1 || !strings.HasPrefix(res.Errors[0], "item 1:") {
		t.Errorf("errors = %v, want the failure reported at item 1", res.Errors)
	}
}

func TestProcessDuplicateCoalesces(t *testing.T) {
	p, b, _ := testPipeline(t)
	sub := b.Subscribe(0)
	defer b.Unsubscribe(sub)

	p.Process([]models.IngestEvent{validIngest(), validIngest()})

	first := <-sub.C
	second := <-sub.C
	if first.ID != second.ID {
		t.Error("duplicate within the dedup window must reuse the stable id")
	}
	if second.Seq != first.Seq+1 {
		t.Error("merged duplicate is still published with its own seq")
	}
}

func TestProcessEmptyBatch(t *testing.T) {
	p, _, _ := testPipeline(t)
	res := p.Process(nil)
	if res.Accepted != 0 || res.Rejected != 0 {
		t.Errorf("result = %+v, want empty", res)
	}
}
