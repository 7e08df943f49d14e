// attackmap - Real-Time Attack Telemetry Map
// Copyright 2026 O. Weller
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oweller/attackmap

package api

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

// hijackableRecorder makes httptest's recorder look like a writer backing a
// real TCP connection.
type hijackableRecorder struct {
	*httptest.ResponseRecorder
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return nil, nil, errors.New("hijack not backed by a real connection")
}

func TestPrometheusMetricsPreservesHijacker(t *testing.T) {
	var sawHijacker bool
	handler := PrometheusMetrics()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawHijacker = w.(http.Hijacker)
		w.WriteHeader(http.StatusSwitchingProtocols)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ws", nil)
	handler.ServeHTTP(&hijackableRecorder{httptest.NewRecorder()}, req)

	if !sawHijacker {
		t.Fatal("wrapped writer lost http.Hijacker; websocket upgrades would fail")
	}
}

func TestPrometheusMetricsRecordsWithoutWriteHeader(t *testing.T) {
	var ranInner bool
	handler := PrometheusMetrics()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ranInner = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ingest", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !ranInner {
		t.Fatal("inner handler did not run")
	}
}
