// attackmap - Real-Time Attack Telemetry Map
// Copyright 2026 O. Weller
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oweller/attackmap

// Package models defines the canonical event schema flowing through the
// attackmap pipeline: attack events, endpoints, enrichment fields, rollup
// aggregates, and the WebSocket wire envelopes.
package models

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// AttackType classifies an attack event. The set is fixed and case-sensitive.
type AttackType string

// The ten recognized attack types.
const (
	AttackWeb        AttackType = "Web"
	AttackDDoS       AttackType = "DDoS"
	AttackIntrusion  AttackType = "Intrusion"
	AttackScanner    AttackType = "Scanner"
	AttackAnonymizer AttackType = "Anonymizer"
	AttackBot        AttackType = "Bot"
	AttackMalware    AttackType = "Malware"
	AttackPhishing   AttackType = "Phishing"
	AttackDNS        AttackType = "DNS"
	AttackEmail      AttackType = "Email"
)

// AttackTypes lists every recognized attack type in declaration order.
var AttackTypes = []AttackType{
	AttackWeb, AttackDDoS, AttackIntrusion, AttackScanner, AttackAnonymizer,
	AttackBot, AttackMalware, AttackPhishing, AttackDNS, AttackEmail,
}

// Valid reports whether t is one of the recognized attack types.
func (t AttackType) Valid() bool {
	for _, known := range AttackTypes {
		if t == known {
			return true
		}
	}
	return false
}

// TTL bounds for events, in milliseconds. Values outside this range are
// clamped, never rejected.
const (
	TTLMinMS = 1000
	TTLMaxMS = 600000
)

// MajorSeverity is the severity at and above which an event is major.
const MajorSeverity = 7

// Geo is an optional geographic location. Lat and Lon are both present or
// both absent; NormalizeLatLon enforces the invariant.
type Geo struct {
	Lat     *float64 `json:"lat,omitempty"`
	Lon     *float64 `json:"lon,omitempty"`
	Country string   `json:"country,omitempty"`
	City    string   `json:"city,omitempty"`
	Approx  bool     `json:"approx,omitempty"`
}

// NormalizeLatLon nulls out both coordinates when only one resolved. A
// half-known position is treated as unknown.
func (g *Geo) NormalizeLatLon() {
	if g == nil {
		return
	}
	if (g.Lat == nil) != (g.Lon == nil) {
		g.Lat = nil
		g.Lon = nil
	}
}

// HasCoords reports whether both coordinates are present.
func (g *Geo) HasCoords() bool {
	return g != nil && g.Lat != nil && g.Lon != nil
}

// Asn is an optional autonomous-system attribution, formatted "AS<number>".
type Asn struct {
	ASN string `json:"asn,omitempty"`
	Org string `json:"org,omitempty"`
}

// Endpoint is one side (source or destination) of an attack event.
type Endpoint struct {
	IP  string `json:"ip,omitempty"`
	Geo *Geo   `json:"geo,omitempty"`
	Asn *Asn   `json:"asn,omitempty"`
}

// Volume is an optional traffic-rate pair.
type Volume struct {
	PPS *int64 `json:"pps,omitempty"`
	BPS *int64 `json:"bps,omitempty"`
}

// AttackEvent is the canonical, enriched, deduplicated unit of telemetry.
// Seq and ServerTS are assigned by the bus at publish time and are absent
// before publication.
type AttackEvent struct {
	ID         uuid.UUID  `json:"id"`
	TS         time.Time  `json:"ts"`
	Src        Endpoint   `json:"src"`
	Dst        Endpoint   `json:"dst"`
	AttackType AttackType `json:"attack_type"`
	Severity   int        `json:"severity"`
	Volume     *Volume    `json:"volume,omitempty"`
	Tags       []string   `json:"tags"`
	Confidence float64    `json:"confidence"`
	Source     string     `json:"source"`
	Real       bool       `json:"real"`

	// Server-derived stability fields, authoritative for clients.
	TTLms     int       `json:"ttl_ms"`
	ExpiresAt time.Time `json:"expires_at"`
	IsMajor   bool      `json:"is_major"`

	// Stream envelope, assigned on publish.
	Seq      uint64     `json:"seq,omitempty"`
	ServerTS *time.Time `json:"server_ts,omitempty"`
}

// Finalize recomputes the server-derived fields from TS, Severity and TTLms:
// clamps the TTL, derives ExpiresAt and IsMajor, and normalizes TS to UTC.
// It is the single place derivation happens, so the fields can never be set
// independently of their inputs.
func (e *AttackEvent) Finalize() {
	if e.TTLms < TTLMinMS {
		e.TTLms = TTLMinMS
	}
	if e.TTLms > TTLMaxMS {
		e.TTLms = TTLMaxMS
	}
	e.TS = e.TS.UTC()
	e.ExpiresAt = e.TS.Add(time.Duration(e.TTLms) * time.Millisecond)
	e.IsMajor = e.Severity >= MajorSeverity
	e.Src.Geo.NormalizeLatLon()
	e.Dst.Geo.NormalizeLatLon()
}

// EventTime accepts the timestamp shapes callers submit: RFC3339 strings,
// epoch seconds, and epoch milliseconds (numbers or numeric strings).
// Everything is normalized to UTC.
type EventTime struct {
	time.Time
}

// epochMillisThreshold separates epoch seconds from epoch milliseconds.
// Values at or above this are treated as milliseconds (~Sep 2001 in ms,
// year 33658 in seconds).
const epochMillisThreshold = 1e12

// UnmarshalJSON implements json.Unmarshaler.
func (t *EventTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return fmt.Errorf("timestamp is required")
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := parseTimeString(s)
		if err != nil {
			return err
		}
		t.Time = parsed
		return nil
	}

	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("unparseable timestamp %q", string(data))
	}
	t.Time = epochToTime(f)
	return nil
}

// MarshalJSON implements json.Marshaler, emitting RFC3339 UTC.
func (t EventTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time.UTC().Format(time.RFC3339Nano))
}

func parseTimeString(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			return parsed.UTC(), nil
		}
	}
	// Numeric strings are accepted the same way bare numbers are.
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return epochToTime(f), nil
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

func epochToTime(f float64) time.Time {
	if f >= epochMillisThreshold {
		f /= 1000
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}

// IngestEvent is the caller-supplied subset an attack event is normalized
// from. ID is optional; the server generates one when absent.
type IngestEvent struct {
	ID         *uuid.UUID `json:"id,omitempty"`
	TS         EventTime  `json:"ts"`
	SrcIP      string     `json:"src_ip,omitempty"`
	DstIP      string     `json:"dst_ip,omitempty"`
	AttackType AttackType `json:"attack_type" validate:"required,attack_type"`
	Severity   int        `json:"severity" validate:"min=1,max=10"`
	Volume     *Volume    `json:"volume,omitempty"`
	Tags       []string   `json:"tags,omitempty"`
	Confidence float64    `json:"confidence" validate:"gte=0,lte=1"`
	Source     string     `json:"source,omitempty"`
}
