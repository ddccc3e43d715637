package state

import "github.com/yairfalse/vahti/types"

// ring is a bounded history of collection results, most recent last.
// Once full, the oldest entry is overwritten.
type ring struct {
	entries []types.CollectionResult
	head    int
	filled  bool
}

func newRing(size int) *ring {
	if size <= 0 {
		size = 1
	}
	return &ring{entries: make([]types.CollectionResult, size)}
}

func (r *ring) push(result types.CollectionResult) {
	r.entries[r.head] = result
	r.head = (r.head + 1) % len(r.entries)
	if r.head == 0 {
		r.filled = true
	}
}

// items returns results oldest first.
func (r *ring) items() []types.CollectionResult {
	if !r.filled {
		out := make([]types.CollectionResult, r.head)
		copy(out, r.entries[:r.head])
		return out
	}
	out := make([]types.CollectionResult, 0, len(r.entries))
	out = append(out, r.entries[r.head:]...)
	out = append(out, r.entries[:r.head]...)
	return out
}
