// attackmap - Real-Time Attack Telemetry Map
// Copyright 2026 O. Weller
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oweller/attackmap

// Package bus implements the in-process event fan-out with a bounded replay
// buffer. Publishing assigns the global sequence number and never blocks:
// a subscriber whose queue is full loses that event and the drop is counted.
package bus

import (
	"sync"
	"time"

	"github.com/oweller/attackmap/internal/logging"
	"github.com/oweller/attackmap/internal/metrics"
	"github.com/oweller/attackmap/internal/models"
)

// Bus fans published events out to subscribers and retains a replay window.
type Bus struct {
	mu          sync.Mutex
	seq         uint64
	nextSubID   uint64
	subscribers map[uint64]*Subscription
	replay      []models.AttackEvent

	replayWindow time.Duration
	queueSize    int
}

// Subscription is one subscriber's bounded event queue. Events arrive on C;
// the channel is closed on Unsubscribe.
type Subscription struct {
	C  chan models.AttackEvent
	id uint64
}

// Len reports the subscriber's current queue depth.
func (s *Subscription) Len() int {
	return len(s.C)
}

// New creates a bus retaining replayWindow of history and giving each
// subscriber a queue of queueSize events.
func New(replayWindow time.Duration, queueSize int) *Bus {
	return &Bus{
		subscribers:  make(map[uint64]*Subscription),
		replayWindow: replayWindow,
		queueSize:    queueSize,
	}
}

// Subscribe registers a new subscriber with the given queue depth. A depth
// of zero or below uses the configured default.
func (b *Bus) Subscribe(depth int) *Subscription {
	if depth <= 0 {
		depth = b.queueSize
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSubID++
	sub := &Subscription{
		C:  make(chan models.AttackEvent, depth),
		id: b.nextSubID,
	}
	b.subscribers[sub.id] = sub
	metrics.BusSubscribers.Set(float64(len(b.subscribers)))
	return sub
}

// Unsubscribe removes the subscriber and closes its channel. Safe to call
// once per subscription.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub.id]; !ok {
		return
	}
	delete(b.subscribers, sub.id)
	close(sub.C)
	metrics.BusSubscribers.Set(float64(len(b.subscribers)))
}

// Publish assigns the event's sequence number and server timestamp, appends
// it to the replay buffer, and delivers it to every subscriber without
// blocking. It returns the event as published.
func (b *Bus) Publish(e models.AttackEvent) models.AttackEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	e.Seq = b.seq
	now := time.Now().UTC()
	e.ServerTS = &now

	b.replay = append(b.replay, e)
	b.trimLocked(now)

	for _, sub := range b.subscribers {
		select {
		case sub.C <- e:
		default:
			metrics.SubscriberDrops.Inc()
		}
	}

	metrics.EventsPublished.Inc()
	metrics.ReplayBufferSize.Set(float64(len(b.replay)))
	return e
}

// Replay returns a copy of the retained events no older than window, in
// publication order. A window longer than the retention horizon is capped
// to it.
func (b *Bus) Replay(window time.Duration) []models.AttackEvent {
	if window > b.replayWindow {
		window = b.replayWindow
	}
	cutoff := time.Now().UTC().Add(-window)

	b.mu.Lock()
	defer b.mu.Unlock()

	idx := 0
	for idx < len(b.replay) && b.replay[idx].ServerTS.Before(cutoff) {
		idx++
	}
	out := make([]models.AttackEvent, len(b.replay)-idx)
	copy(out, b.replay[idx:])
	return out
}

// NextSeq allocates a sequence number out of band. Heartbeats draw from the
// same counter events do, so seq stays globally monotonic across both.
func (b *Bus) NextSeq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	return b.seq
}

// Prune drops replay entries older than the retention horizon. The publish
// path trims too; this exists for quiet periods with no traffic.
func (b *Bus) Prune() {
	b.mu.Lock()
	defer b.mu.Unlock()

	before := len(b.replay)
	b.trimLocked(time.Now().UTC())
	if dropped := before - len(b.replay); dropped > 0 {
		logging.Debug().Int("dropped", dropped).Msg("replay buffer pruned")
	}
	metrics.ReplayBufferSize.Set(float64(len(b.replay)))
}

func (b *Bus) trimLocked(now time.Time) {
	cutoff := now.Add(-b.replayWindow)
	idx := 0
	for idx < len(b.replay) && b.replay[idx].ServerTS.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		b.replay = append(b.replay[:0], b.replay[idx:]...)
	}
}

// SubscriberCount reports the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
