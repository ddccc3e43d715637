package alert

import (
	"sync"
	"time"

	"github.com/yairfalse/vahti/types"
)

// Suppressor deduplicates alerts: one AlertKey fires at most once per
// suppression window. Check-and-record is a single atomic step so
// concurrent evaluations of the same key cannot both fire.
type Suppressor struct {
	mu    sync.Mutex
	fired map[types.AlertKey]time.Time

	// now is swappable for tests.
	now func() time.Time
}

// NewSuppressor creates an empty suppression cache.
func NewSuppressor() *Suppressor {
	return &Suppressor{
		fired: make(map[types.AlertKey]time.Time),
		now:   time.Now,
	}
}

// ShouldFire reports whether the key is outside its window and, if so,
// records it at the current time in the same critical section.
func (s *Suppressor) ShouldFire(key types.AlertKey, window time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if firedAt, ok := s.fired[key]; ok && now.Sub(firedAt) < window {
		return false
	}
	s.fired[key] = now
	return true
}

// Prune drops entries older than maxAge to keep the cache bounded.
func (s *Suppressor) Prune(maxAge time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-maxAge)
	for key, firedAt := range s.fired {
		if firedAt.Before(cutoff) {
			delete(s.fired, key)
		}
	}
}

// Len returns the number of tracked keys.
func (s *Suppressor) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fired)
}
