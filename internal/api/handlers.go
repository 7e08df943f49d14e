// attackmap - Real-Time Attack Telemetry Map
// Copyright 2026 O. Weller
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oweller/attackmap

package api

import (
	"bytes"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/oweller/attackmap/internal/aggregate"
	"github.com/oweller/attackmap/internal/bus"
	"github.com/oweller/attackmap/internal/config"
	"github.com/oweller/attackmap/internal/ingest"
	"github.com/oweller/attackmap/internal/logging"
	"github.com/oweller/attackmap/internal/stream"
)

// maxIngestBody caps a single ingest request.
const maxIngestBody = 4 << 20 // 4 MB

// Handler carries the pipeline components HTTP handlers need.
type Handler struct {
	cfg      config.TelemetryConfig
	pipeline *ingest.Pipeline
	bus      *bus.Bus
	agg      *aggregate.Aggregator
	upgrader websocket.Upgrader
}

// NewHandler creates the handler set.
func NewHandler(cfg config.TelemetryConfig, pipeline *ingest.Pipeline, b *bus.Bus, agg *aggregate.Aggregator) *Handler {
	return &Handler{
		cfg:      cfg,
		pipeline: pipeline,
		bus:      b,
		agg:      agg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser origins are enforced by CORS on the rest of the API;
			// the stream carries no credentials and ingest is the only write
			// path.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Ingest is the telemetry on-ramp. The body may be a single event object, an
// array of events, or a JSON string containing either. Items are validated
// independently; the response reports accepted and rejected counts.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBody))
	if err != nil {
		rw.BadRequest("failed to read request body")
		return
	}

	items, err := decodeIngestBody(body)
	if err != nil {
		rw.ValidationFailed("malformed ingest payload", err.Error())
		return
	}

	res := h.pipeline.ProcessItems(items)
	if res.Accepted == 0 && res.Rejected > 0 {
		rw.ValidationFailed("all items rejected", res.Errors)
		return
	}
	rw.Success(res)
}

// decodeIngestBody accepts the payload shapes callers submit: an object, an
// array, or a JSON-encoded string wrapping either. Array elements decode
// independently so one bad item never discards the rest of the batch; only a
// payload that is not well-formed JSON at the top level errors outright.
func decodeIngestBody(body []byte) ([]ingest.Item, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}

	if body[0] == '"' {
		var inner string
		if err := json.Unmarshal(body, &inner); err != nil {
			return nil, err
		}
		return decodeIngestBody([]byte(inner))
	}

	if body[0] == '[' {
		var raws []json.RawMessage
		if err := json.Unmarshal(body, &raws); err != nil {
			return nil, err
		}
		items := make([]ingest.Item, len(raws))
		for i := range raws {
			items[i].Err = json.Unmarshal(raws[i], &items[i].Event)
		}
		return items, nil
	}

	var item ingest.Item
	if err := json.Unmarshal(body, &item.Event); err != nil {
		return nil, err
	}
	return []ingest.Item{item}, nil
}

// WebSocket upgrades the connection and runs its session controller until
// disconnect.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	session := stream.NewSession(conn, h.cfg, h.bus, h.agg)
	session.Run(r.Context())
}

// HealthLive reports process liveness.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]string{"status": "alive"})
}

// HealthReady reports readiness. The pipeline has no external dependencies
// to wait for, so ready equals alive; the split keeps probe wiring standard.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]interface{}{
		"status":      "ready",
		"mode":        h.cfg.Mode,
		"subscribers": h.bus.SubscriberCount(),
	})
}
