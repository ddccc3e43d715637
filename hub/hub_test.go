package hub

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubscriber struct {
	mu      sync.Mutex
	frames  [][]byte
	sendErr error
	closed  bool
}

func (f *fakeSubscriber) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.frames = append(f.frames, payload)
	return nil
}

func (f *fakeSubscriber) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeSubscriber) received() []Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var envelopes []Envelope
	for _, frame := range f.frames {
		var e Envelope
		if err := json.Unmarshal(frame, &e); err == nil {
			envelopes = append(envelopes, e)
		}
	}
	return envelopes
}

func TestRegisterReplaysFullState(t *testing.T) {
	h := New(func() any { return map[string]int{"running": 3} })

	sub := &fakeSubscriber{}
	h.Register(sub)

	envelopes := sub.received()
	require.Len(t, envelopes, 1)
	assert.Equal(t, "state", envelopes[0].Type)
	assert.False(t, envelopes[0].Timestamp.IsZero())
	assert.Equal(t, 1, h.Count())
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	h := New(nil)

	a, b := &fakeSubscriber{}, &fakeSubscriber{}
	h.Register(a)
	h.Register(b)

	delivered := h.Publish("liveness", map[string]bool{"i-1": true})
	assert.Equal(t, 2, delivered)

	for _, sub := range []*fakeSubscriber{a, b} {
		envelopes := sub.received()
		require.Len(t, envelopes, 1)
		assert.Equal(t, "liveness", envelopes[0].Type)
	}
}

func TestFailedSendEvictsSubscriber(t *testing.T) {
	h := New(nil)

	healthy := &fakeSubscriber{}
	broken := &fakeSubscriber{sendErr: errors.New("connection reset")}
	h.Register(healthy)
	h.Register(broken)

	delivered := h.Publish("metrics", nil)
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 1, h.Count())
	assert.True(t, broken.closed)

	// Healthy subscriber keeps receiving.
	h.Publish("metrics", nil)
	assert.Len(t, healthy.received(), 2)
}

func TestFailedReplayEvictsSubscriber(t *testing.T) {
	h := New(func() any { return "state" })

	broken := &fakeSubscriber{sendErr: errors.New("gone")}
	h.Register(broken)

	assert.Zero(t, h.Count())
	assert.True(t, broken.closed)
}

func TestUnregisterIdempotent(t *testing.T) {
	h := New(nil)
	sub := &fakeSubscriber{}
	h.Register(sub)

	h.Unregister(sub)
	h.Unregister(sub)
	assert.Zero(t, h.Count())
}
