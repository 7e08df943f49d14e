// attackmap - Real-Time Attack Telemetry Map
// Copyright 2026 O. Weller
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oweller/attackmap

package models

import "time"

// Server-to-client message types.
const (
	MsgTypeHeartbeat = "hb"
	MsgTypeMode      = "mode"
	MsgTypeEvent     = "event"
	MsgTypeAgg       = "agg"
)

// Client-to-server message types.
const (
	MsgTypeClientTelemetry = "client_telemetry"
	MsgTypeSetFilters      = "set_filters"
)

// HeartbeatMsg is the periodic liveness envelope. Seq is allocated from the
// bus so heartbeats share the global ordering domain with events.
type HeartbeatMsg struct {
	Type     string    `json:"type"`
	ServerTS time.Time `json:"server_ts"`
	Seq      uint64    `json:"seq"`
}

// ModeMsg announces a backpressure-mode transition before the new send
// policy takes effect.
type ModeMsg struct {
	Type     string    `json:"type"`
	ServerTS time.Time `json:"server_ts"`
	Mode     string    `json:"mode"`
	Reason   string    `json:"reason"`
}

// EventMsg carries one published attack event.
type EventMsg struct {
	Type     string       `json:"type"`
	ServerTS time.Time    `json:"server_ts"`
	Seq      uint64       `json:"seq"`
	Payload  *AttackEvent `json:"payload"`
}

// AggMsg carries one aggregate snapshot.
type AggMsg struct {
	Type     string      `json:"type"`
	ServerTS time.Time   `json:"server_ts"`
	Seq      uint64      `json:"seq"`
	Payload  *Aggregates `json:"payload"`
}

// ClientMessage is the decoded union of everything a client may send.
// Pointer fields distinguish "absent" from zero values so partial filter
// updates only touch what was supplied.
type ClientMessage struct {
	Type string `json:"type"`

	// client_telemetry fields. Input signals only; never trusted for
	// correctness.
	RenderFPS     *float64 `json:"render_fps,omitempty"`
	QueueLen      *int     `json:"queue_len,omitempty"`
	DroppedEvents *int     `json:"dropped_events,omitempty"`

	// set_filters fields.
	Window      *string      `json:"window,omitempty"`
	Types       []AttackType `json:"types,omitempty"`
	MinSeverity *int         `json:"min_severity,omitempty" validate:"omitempty,min=1,max=10"`
	MajorOnly   *bool        `json:"major_only,omitempty"`
	Country     *string      `json:"country,omitempty"`
}

// ApplyFilters folds a set_filters message into the state, mutating only the
// fields the message carries.
func (f *FilterState) ApplyFilters(msg *ClientMessage) {
	if msg.Window != nil && *msg.Window != "" {
		f.Window = *msg.Window
	}
	if msg.Types != nil {
		if len(msg.Types) == 0 {
			f.Types = nil
		} else {
			types := make(map[AttackType]struct{}, len(msg.Types))
			for _, t := range msg.Types {
				types[t] = struct{}{}
			}
			f.Types = types
		}
	}
	if msg.MinSeverity != nil {
		f.MinSeverity = *msg.MinSeverity
	}
	if msg.MajorOnly != nil {
		f.MajorOnly = *msg.MajorOnly
	}
	if msg.Country != nil {
		f.Country = *msg.Country
	}
}
