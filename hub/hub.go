// Package hub fans monitoring state deltas out to connected live
// viewers. Slow or broken consumers are evicted, never waited on.
package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/yairfalse/vahti/telemetry"
)

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Envelope is the wire frame for every broadcast event.
type Envelope struct {
	Type      string    `json:"type"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// StateFn supplies the full current state for replay on register.
type StateFn func() any

// Hub manages the subscriber set.
type Hub struct {
	mu          sync.Mutex
	subscribers map[Subscriber]struct{}
	stateFn     StateFn
	logger      *telemetry.Logger
}

// New creates a hub. stateFn may be nil; registering then skips replay.
func New(stateFn StateFn) *Hub {
	return &Hub{
		subscribers: make(map[Subscriber]struct{}),
		stateFn:     stateFn,
		logger:      telemetry.NewLogger("hub"),
	}
}

// Register adds a connection and immediately replays the full current
// state to it. A failed replay evicts the connection again.
func (h *Hub) Register(sub Subscriber) {
	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	count := len(h.subscribers)
	h.mu.Unlock()

	telemetry.RecordBroadcastClients(context.Background(), count)

	if h.stateFn == nil {
		return
	}
	frame, err := marshalEnvelope("state", h.stateFn())
	if err != nil {
		h.logger.Error().Err(err).Msg("state replay marshal failed")
		return
	}
	if err := sub.Send(frame); err != nil {
		h.logger.Warn().Err(err).Msg("state replay send failed, evicting")
		h.Unregister(sub)
	}
}

// Unregister removes a connection and closes it. Safe to call for a
// connection that was already evicted.
func (h *Hub) Unregister(sub Subscriber) {
	h.mu.Lock()
	_, present := h.subscribers[sub]
	delete(h.subscribers, sub)
	count := len(h.subscribers)
	h.mu.Unlock()

	if present {
		sub.Close()
		telemetry.RecordBroadcastClients(context.Background(), count)
	}
}

// Publish serializes the event once and sends it to every registered
// connection, evicting any whose send fails. Returns the number of
// successful deliveries.
func (h *Hub) Publish(eventType string, payload any) int {
	frame, err := marshalEnvelope(eventType, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event", eventType).Msg("publish marshal failed")
		return 0
	}

	h.mu.Lock()
	targets := make([]Subscriber, 0, len(h.subscribers))
	for sub := range h.subscribers {
		targets = append(targets, sub)
	}
	h.mu.Unlock()

	delivered := 0
	for _, sub := range targets {
		if err := sub.Send(frame); err != nil {
			h.logger.Debug().Err(err).Str("event", eventType).Msg("send failed, evicting subscriber")
			h.Unregister(sub)
			continue
		}
		delivered++
	}
	return delivered
}

// Count returns the current subscriber count.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

func marshalEnvelope(eventType string, payload any) ([]byte, error) {
	return json.Marshal(Envelope{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now(),
	})
}
