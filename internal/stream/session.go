// attackmap - Real-Time Attack Telemetry Map
// Copyright 2026 O. Weller
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oweller/attackmap

// Package stream runs one controller per websocket connection: heartbeat,
// aggregate, inbound and drain duties over a shared connection-local state,
// with a backpressure ladder that degrades from raw events to aggregates
// only. All duties die together with the connection.
package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/oweller/attackmap/internal/aggregate"
	"github.com/oweller/attackmap/internal/bus"
	"github.com/oweller/attackmap/internal/config"
	"github.com/oweller/attackmap/internal/logging"
	"github.com/oweller/attackmap/internal/metrics"
	"github.com/oweller/attackmap/internal/models"
	"github.com/oweller/attackmap/internal/validation"
)

// Stream modes, in escalation order.
const (
	ModeRaw     = "raw"
	ModeHybrid  = "hybrid"
	ModeAggOnly = "agg_only"
)

// Backpressure thresholds. Inputs are the subscriber queue occupancy, the
// client-reported queue length and the client-reported frame rate.
const (
	queueAggOnly       = 1500
	clientQueueAggOnly = 800
	fpsAggOnly         = 42.0

	queueHybrid       = 600
	clientQueueHybrid = 250
	fpsHybrid         = 55.0
)

// Defaults assumed when the client has not reported telemetry.
const (
	defaultClientFPS      = 60.0
	defaultClientQueueLen = 0
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// sessionIDCounter hands out session ids for log correlation.
var sessionIDCounter atomic.Uint64

// Session is one connection's controller. It owns the connection's
// FilterState and mode; nothing here is shared across connections.
type Session struct {
	id   uint64
	conn *websocket.Conn
	cfg  config.TelemetryConfig
	bus  *bus.Bus
	agg  *aggregate.Aggregator
	sub  *bus.Subscription
	send chan []byte

	mu             sync.Mutex
	filters        models.FilterState
	clientFPS      *float64
	clientQueueLen *int

	// mode state, touched only by the drain duty.
	mode   string
	reason string
}

// NewSession wraps an upgraded connection. Run drives it.
func NewSession(conn *websocket.Conn, cfg config.TelemetryConfig, b *bus.Bus, agg *aggregate.Aggregator) *Session {
	return &Session{
		id:      sessionIDCounter.Add(1),
		conn:    conn,
		cfg:     cfg,
		bus:     b,
		agg:     agg,
		send:    make(chan []byte, 256),
		filters: models.DefaultFilterState(),
		mode:    ModeRaw,
		reason:  "init",
	}
}

// Run serves the connection until the client disconnects or ctx is
// cancelled. It blocks; the caller dedicates a goroutine per connection.
func (s *Session) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	metrics.ActiveSessions.Inc()
	defer metrics.ActiveSessions.Dec()

	s.sub = s.bus.Subscribe(s.cfg.SubscriberQueue)
	defer s.bus.Unsubscribe(s.sub)

	logging.Debug().Uint64("session", s.id).Msg("stream session started")

	// The replay and first snapshot go out before any concurrent writer
	// exists, so the client sees history strictly before live traffic.
	s.initialSync()

	var writer sync.WaitGroup
	writer.Add(1)
	go func() {
		defer writer.Done()
		defer cancel()
		s.writePump(ctx)
	}()

	var duties sync.WaitGroup
	duties.Add(2)
	go func() {
		defer duties.Done()
		s.heartbeatLoop(ctx)
	}()
	go func() {
		defer duties.Done()
		s.aggLoop(ctx)
	}()

	// The drain duty needs its own goroutine; inbound runs here so Run's
	// lifetime is the connection's.
	duties.Add(1)
	go func() {
		defer duties.Done()
		s.drainLoop(ctx)
	}()

	s.readLoop(ctx)
	cancel()

	duties.Wait()
	close(s.send)
	writer.Wait()

	logging.Debug().Uint64("session", s.id).Msg("stream session closed")
}

// initialSync replays buffered events oldest first, then one snapshot seeded
// with the last replayed seq (0 when the buffer is empty). Failures here are
// not fatal; the live loops still run.
func (s *Session) initialSync() {
	replay := s.bus.Replay(s.cfg.ReplayWindow())

	var lastSeq uint64
	for i := range replay {
		e := &replay[i]
		lastSeq = e.Seq
		if err := s.writeDirect(models.EventMsg{
			Type:     models.MsgTypeEvent,
			ServerTS: *e.ServerTS,
			Seq:      e.Seq,
			Payload:  e,
		}); err != nil {
			logging.Warn().Err(err).Uint64("session", s.id).Msg("initial replay failed")
			return
		}
	}

	snap := s.agg.Snapshot(lastSeq, s.currentFilters())
	if err := s.writeDirect(models.AggMsg{
		Type:     models.MsgTypeAgg,
		ServerTS: snap.ServerTS,
		Seq:      snap.Seq,
		Payload:  &snap,
	}); err != nil {
		logging.Warn().Err(err).Uint64("session", s.id).Msg("initial snapshot failed")
	}
}

func (s *Session) writeDirect(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// enqueue hands a message to the write pump without blocking. A full queue
// drops the message; heartbeats and snapshots recur, so nothing is lost for
// long.
func (s *Session) enqueue(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		logging.Error().Err(err).Uint64("session", s.id).Msg("message marshal failed")
		return
	}
	select {
	case s.send <- data:
	default:
		metrics.SessionSendDrops.Inc()
	}
}

// writePump is the sole writer on the connection after initial sync. It
// also drives protocol-level pings so dead peers are reaped by deadline.
func (s *Session) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case data, ok := <-s.send:
			if !ok {
				_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// heartbeatLoop emits liveness envelopes with bus-allocated seq numbers.
func (s *Session) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HbTick())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.enqueue(models.HeartbeatMsg{
				Type:     models.MsgTypeHeartbeat,
				ServerTS: time.Now().UTC(),
				Seq:      s.bus.NextSeq(),
			})
		}
	}
}

// aggLoop emits a fresh snapshot for the connection's current filters.
func (s *Session) aggLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.AggTick())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := s.agg.Snapshot(s.bus.NextSeq(), s.currentFilters())
			s.enqueue(models.AggMsg{
				Type:     models.MsgTypeAgg,
				ServerTS: snap.ServerTS,
				Seq:      snap.Seq,
				Payload:  &snap,
			})
		}
	}
}

// readLoop consumes client messages and folds them into connection-local
// state. Malformed or unknown messages are ignored, never fatal.
func (s *Session) readLoop(ctx context.Context) {
	s.conn.SetReadLimit(maxMessageSize)
	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logging.Debug().Err(err).Uint64("session", s.id).Msg("websocket read failed")
			}
			return
		}

		var msg models.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		s.handleClientMessage(&msg)
	}
}

func (s *Session) handleClientMessage(msg *models.ClientMessage) {
	switch msg.Type {
	case models.MsgTypeClientTelemetry:
		s.mu.Lock()
		if msg.RenderFPS != nil {
			s.clientFPS = msg.RenderFPS
		}
		if msg.QueueLen != nil {
			s.clientQueueLen = msg.QueueLen
		}
		s.mu.Unlock()
	case models.MsgTypeSetFilters:
		if err := validation.ValidateStruct(msg); err != nil {
			logging.Debug().Err(err).Uint64("session", s.id).Msg("set_filters rejected")
			return
		}
		s.mu.Lock()
		s.filters.ApplyFilters(msg)
		s.mu.Unlock()
	}
}

// drainLoop forwards bus deliveries under the current mode's send policy,
// re-evaluating the mode on every delivered item.
func (s *Session) drainLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-s.sub.C:
			if !ok {
				return
			}

			mode := s.evaluateMode()

			switch mode {
			case ModeAggOnly:
				continue
			case ModeHybrid:
				if !e.IsMajor {
					continue
				}
			}

			s.enqueue(models.EventMsg{
				Type:     models.MsgTypeEvent,
				ServerTS: *e.ServerTS,
				Seq:      e.Seq,
				Payload:  &e,
			})
		}
	}
}

// evaluateMode recomputes the backpressure mode, announcing a transition
// before the new send policy applies.
func (s *Session) evaluateMode() string {
	queueLen := s.sub.Len()

	s.mu.Lock()
	fps := defaultClientFPS
	if s.clientFPS != nil {
		fps = *s.clientFPS
	}
	clientQueue := defaultClientQueueLen
	if s.clientQueueLen != nil {
		clientQueue = *s.clientQueueLen
	}
	s.mu.Unlock()

	mode, reason := classifyMode(queueLen, clientQueue, fps)
	if mode != s.mode {
		s.mode = mode
		s.reason = reason
		metrics.ModeTransitions.WithLabelValues(mode).Inc()
		logging.Info().
			Uint64("session", s.id).
			Str("mode", mode).
			Str("reason", reason).
			Int("queue_len", queueLen).
			Msg("stream mode transition")
		s.enqueue(models.ModeMsg{
			Type:     models.MsgTypeMode,
			ServerTS: time.Now().UTC(),
			Mode:     mode,
			Reason:   reason,
		})
	}
	return s.mode
}

// classifyMode is the escalation ladder. Thresholds are consistent in both
// directions; hysteresis comes from the queue itself draining.
func classifyMode(queueLen, clientQueue int, fps float64) (mode, reason string) {
	switch {
	case queueLen > queueAggOnly || clientQueue > clientQueueAggOnly || fps < fpsAggOnly:
		return ModeAggOnly, "backpressure"
	case queueLen > queueHybrid || clientQueue > clientQueueHybrid || fps < fpsHybrid:
		return ModeHybrid, "degraded"
	default:
		return ModeRaw, "healthy"
	}
}

// currentFilters copies the filter state so snapshots never race a
// set_filters update.
func (s *Session) currentFilters() models.FilterState {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.filters
	if f.Types != nil {
		types := make(map[models.AttackType]struct{}, len(f.Types))
		for t := range f.Types {
			types[t] = struct{}{}
		}
		f.Types = types
	}
	return f
}
