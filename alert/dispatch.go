package alert

import (
	"context"
	"sync"
	"time"

	"github.com/yairfalse/vahti/telemetry"
	"github.com/yairfalse/vahti/types"
)

// Channel is one outbound notification destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, alert types.Alert) error
}

// Dispatcher sends alerts to every channel concurrently. Each channel
// retries independently with increasing backoff; one channel's
// exhaustion never blocks or fails the others.
type Dispatcher struct {
	channels []Channel
	retries  int
	backoff  time.Duration
	logger   *telemetry.Logger
}

// NewDispatcher builds a dispatcher.
func NewDispatcher(channels []Channel, retries int, backoff time.Duration) *Dispatcher {
	if retries <= 0 {
		retries = 3
	}
	return &Dispatcher{
		channels: channels,
		retries:  retries,
		backoff:  backoff,
		logger:   telemetry.NewLogger("alert-dispatch"),
	}
}

// Dispatch fans the alert out and returns the per-channel outcome.
// A nil map value means the channel delivered.
func (d *Dispatcher) Dispatch(ctx context.Context, alert types.Alert) map[string]error {
	results := make(map[string]error, len(d.channels))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, ch := range d.channels {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := d.sendWithRetry(ctx, ch, alert)
			mu.Lock()
			results[ch.Name()] = err
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, ch Channel, alert types.Alert) error {
	var lastErr error
	for attempt := 1; attempt <= d.retries; attempt++ {
		lastErr = ch.Send(ctx, alert)
		if lastErr == nil {
			return nil
		}
		d.logger.WithContext(ctx).Warn().
			Err(lastErr).
			Str("channel", ch.Name()).
			Int("attempt", attempt).
			Msg("notification send failed")

		if attempt == d.retries {
			break
		}
		// Backoff grows with each attempt.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.backoff * time.Duration(attempt)):
		}
	}
	d.logger.WithContext(ctx).Error().
		Err(lastErr).
		Str("channel", ch.Name()).
		Str("key", string(alert.Key)).
		Msg("notification channel exhausted retries")
	return lastErr
}
