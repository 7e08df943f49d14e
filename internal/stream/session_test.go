// attackmap - Real-Time Attack Telemetry Map
// Copyright 2026 O. Weller
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oweller/attackmap

package stream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/oweller/attackmap/internal/aggregate"
	"github.com/oweller/attackmap/internal/bus"
	"github.com/oweller/attackmap/internal/config"
	"github.com/oweller/attackmap/internal/logging"
	"github.com/oweller/attackmap/internal/models"
)

func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

func testCfg() config.TelemetryConfig {
	return config.TelemetryConfig{
		ReplaySeconds:   60,
		TTLmsDefault:    45000,
		AggTickMS:       200,
		HbTickMS:        500,
		DedupSeconds:    30,
		HistorySeconds:  3600,
		SubscriberQueue: 64,
	}
}

func publishEvent(b *bus.Bus, severity int) models.AttackEvent {
	e := models.AttackEvent{
		ID:         uuid.New(),
		TS:         time.Now().UTC(),
		Src:        models.Endpoint{IP: "203.0.113.1"},
		Dst:        models.Endpoint{IP: "198.51.100.1"},
		AttackType: models.AttackDDoS,
		Severity:   severity,
		Confidence: 0.9,
		TTLms:      45000,
	}
	e.Finalize()
	return b.Publish(e)
}

// envelope is the minimal shape needed to route test assertions by type.
type envelope struct {
	Type    string          `json:"type"`
	Seq     uint64          `json:"seq"`
	Mode    string          `json:"mode"`
	Reason  string          `json:"reason"`
	Payload json.RawMessage `json:"payload"`
}

// setupSession serves one Session over a test server and dials it.
func setupSession(t *testing.T, cfg config.TelemetryConfig, b *bus.Bus, agg *aggregate.Aggregator) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		NewSession(conn, cfg, b, agg).Run(ctx)
	}))
	t.Cleanup(func() {
		cancel()
		server.Close()
	})

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(3 * time.Second)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return env
}

// readUntil skips envelopes until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) envelope {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		env := readEnvelope(t, conn)
		if env.Type == msgType {
			return env
		}
	}
	t.Fatalf("no %q message within deadline", msgType)
	return envelope{}
}

func TestClassifyMode(t *testing.T) {
	tests := []struct {
		name        string
		queueLen    int
		clientQueue int
		fps         float64
		wantMode    string
		wantReason  string
	}{
		{"healthy defaults", 0, 0, 60, ModeRaw, "healthy"},
		{"queue past hybrid", 601, 0, 60, ModeHybrid, "degraded"},
		{"queue past agg_only", 1501, 0, 60, ModeAggOnly, "backpressure"},
		{"client queue past hybrid", 0, 251, 60, ModeHybrid, "degraded"},
		{"client queue past agg_only", 0, 801, 60, ModeAggOnly, "backpressure"},
		{"fps below hybrid", 0, 0, 54.9, ModeHybrid, "degraded"},
		{"fps below agg_only", 0, 0, 41.9, ModeAggOnly, "backpressure"},
		{"boundary stays raw", 600, 250, 55, ModeRaw, "healthy"},
		{"boundary stays hybrid", 1500, 800, 42, ModeHybrid, "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mode, reason := classifyMode(tt.queueLen, tt.clientQueue, tt.fps)
			if mode != tt.wantMode || reason != tt.wantReason {
				t.Errorf("classifyMode(%d, %d, %v) = (%s, %s), want (%s, %s)",
					tt.queueLen, tt.clientQueue, tt.fps, mode, reason, tt.wantMode, tt.wantReason)
			}
		})
	}
}

func TestInitialSyncReplayThenSnapshot(t *testing.T) {
	b := bus.New(time.Minute, 64)
	agg := aggregate.New(time.Hour)

	first := publishEvent(b, 5)
	agg.Add(first)
	second := publishEvent(b, 8)
	agg.Add(second)

	conn := setupSession(t, testCfg(), b, agg)

	env := readEnvelope(t, conn)
	if env.Type != models.MsgTypeEvent || env.Seq != first.Seq {
		t.Fatalf("first message = %s/%d, want event/%d", env.Type, env.Seq, first.Seq)
	}
	env = readEnvelope(t, conn)
	if env.Type != models.MsgTypeEvent || env.Seq != second.Seq {
		t.Fatalf("second message = %s/%d, want event/%d", env.Type, env.Seq, second.Seq)
	}

	env = readEnvelope(t, conn)
	if env.Type != models.MsgTypeAgg {
		t.Fatalf("third message = %s, want agg", env.Type)
	}
	if env.Seq != second.Seq {
		t.Errorf("initial snapshot seq = %d, want last replayed %d", env.Seq, second.Seq)
	}

	var snap models.Aggregates
	if err := json.Unmarshal(env.Payload, &snap); err != nil {
		t.Fatalf("snapshot payload: %v", err)
	}
	if snap.Count != 2 {
		t.Errorf("snapshot count = %d, want 2", snap.Count)
	}
}

func TestInitialSnapshotSeqZeroWhenEmpty(t *testing.T) {
	b := bus.New(time.Minute, 64)
	agg := aggregate.New(time.Hour)

	conn := setupSession(t, testCfg(), b, agg)

	env := readEnvelope(t, conn)
	if env.Type != models.MsgTypeAgg {
		t.Fatalf("first message = %s, want agg", env.Type)
	}
	if env.Seq != 0 {
		t.Errorf("snapshot seq = %d, want 0 with empty replay", env.Seq)
	}
}

func TestRawModeForwardsLiveEvents(t *testing.T) {
	b := bus.New(time.Minute, 64)
	agg := aggregate.New(time.Hour)

	conn := setupSession(t, testCfg(), b, agg)
	readEnvelope(t, conn) // initial snapshot

	pub := publishEvent(b, 3)
	env := readUntil(t, conn, models.MsgTypeEvent)
	if env.Seq != pub.Seq {
		t.Errorf("forwarded seq = %d, want %d", env.Seq, pub.Seq)
	}

	var evt models.AttackEvent
	if err := json.Unmarshal(env.Payload, &evt); err != nil {
		t.Fatalf("event payload: %v", err)
	}
	if evt.ID != pub.ID {
		t.Errorf("forwarded id = %v, want %v", evt.ID, pub.ID)
	}
}

func TestHeartbeatsCarryAllocatedSeq(t *testing.T) {
	b := bus.New(time.Minute, 64)
	agg := aggregate.New(time.Hour)

	conn := setupSession(t, testCfg(), b, agg)
	readEnvelope(t, conn) // initial snapshot

	hb1 := readUntil(t, conn, models.MsgTypeHeartbeat)
	hb2 := readUntil(t, conn, models.MsgTypeHeartbeat)
	if hb2.Seq <= hb1.Seq {
		t.Errorf("heartbeat seqs %d then %d, want strictly increasing", hb1.Seq, hb2.Seq)
	}
}

func TestClientTelemetryDegradesMode(t *testing.T) {
	b := bus.New(time.Minute, 64)
	agg := aggregate.New(time.Hour)

	conn := setupSession(t, testCfg(), b, agg)
	readEnvelope(t, conn) // initial snapshot

	fps := 30.0
	telem, _ := json.Marshal(map[string]any{"type": "client_telemetry", "render_fps": fps})
	if err := conn.WriteMessage(websocket.TextMessage, telem); err != nil {
		t.Fatalf("send telemetry: %v", err)
	}
	// Telemetry is applied by the inbound duty; give it a moment before the
	// next delivery evaluates the mode.
	time.Sleep(100 * time.Millisecond)

	publishEvent(b, 9)

	env := readUntil(t, conn, models.MsgTypeMode)
	if env.Mode != ModeAggOnly || env.Reason != "backpressure" {
		t.Fatalf("mode = %s/%s, want agg_only/backpressure", env.Mode, env.Reason)
	}

	// In agg_only no raw events flow, but aggregates still do.
	publishEvent(b, 9)
	deadline := time.Now().Add(700 * time.Millisecond)
	sawAgg := false
	for time.Now().Before(deadline) {
		if err := conn.SetReadDeadline(deadline); err != nil {
			t.Fatal(err)
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatal(err)
		}
		if env.Type == models.MsgTypeEvent {
			t.Fatal("raw event forwarded in agg_only mode")
		}
		if env.Type == models.MsgTypeAgg {
			sawAgg = true
		}
	}
	if !sawAgg {
		t.Error("no aggregate flowed in agg_only mode")
	}
}

func TestHybridModeForwardsOnlyMajor(t *testing.T) {
	b := bus.New(time.Minute, 64)
	agg := aggregate.New(time.Hour)

	conn := setupSession(t, testCfg(), b, agg)
	readEnvelope(t, conn) // initial snapshot

	fps := 50.0
	telem, _ := json.Marshal(map[string]any{"type": "client_telemetry", "render_fps": fps})
	if err := conn.WriteMessage(websocket.TextMessage, telem); err != nil {
		t.Fatalf("send telemetry: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	minor := publishEvent(b, 3)
	major := publishEvent(b, 9)

	env := readUntil(t, conn, models.MsgTypeMode)
	if env.Mode != ModeHybrid || env.Reason != "degraded" {
		t.Fatalf("mode = %s/%s, want hybrid/degraded", env.Mode, env.Reason)
	}

	env = readUntil(t, conn, models.MsgTypeEvent)
	if env.Seq == minor.Seq {
		t.Fatal("minor event forwarded in hybrid mode")
	}
	if env.Seq != major.Seq {
		t.Errorf("forwarded seq = %d, want major %d", env.Seq, major.Seq)
	}
}

func TestSetFiltersChangesSnapshots(t *testing.T) {
	b := bus.New(time.Minute, 64)
	agg := aggregate.New(time.Hour)
	agg.Add(publishEvent(b, 3))
	agg.Add(publishEvent(b, 9))

	conn := setupSession(t, testCfg(), b, agg)

	env := readUntil(t, conn, models.MsgTypeAgg)
	var snap models.Aggregates
	if err := json.Unmarshal(env.Payload, &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Count != 2 {
		t.Fatalf("unfiltered count = %d, want 2", snap.Count)
	}

	setFilters, _ := json.Marshal(map[string]any{
		"type": "set_filters", "major_only": true, "window": "15m",
	})
	if err := conn.WriteMessage(websocket.TextMessage, setFilters); err != nil {
		t.Fatalf("send set_filters: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatal("snapshot never reflected new filters")
		}
		env = readUntil(t, conn, models.MsgTypeAgg)
		if err := json.Unmarshal(env.Payload, &snap); err != nil {
			t.Fatal(err)
		}
		if snap.Window == "15m" && snap.Count == 1 {
			return
		}
	}
}

func TestInvalidClientMessagesIgnored(t *testing.T) {
	b := bus.New(time.Minute, 64)
	agg := aggregate.New(time.Hour)

	conn := setupSession(t, testCfg(), b, agg)
	readEnvelope(t, conn) // initial snapshot

	for _, raw := range []string{"not json", `{"type":"unknown"}`, `{"type":"set_filters","min_severity":99}`} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
			t.Fatalf("send %q: %v", raw, err)
		}
	}

	// The session must survive and keep serving.
	pub := publishEvent(b, 5)
	env := readUntil(t, conn, models.MsgTypeEvent)
	if env.Seq != pub.Seq {
		t.Errorf("forwarded seq = %d, want %d", env.Seq, pub.Seq)
	}
}

func TestDisconnectUnsubscribes(t *testing.T) {
	b := bus.New(time.Minute, 64)
	agg := aggregate.New(time.Hour)

	conn := setupSession(t, testCfg(), b, agg)
	readEnvelope(t, conn) // initial snapshot

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for b.SubscriberCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("session did not unsubscribe after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
