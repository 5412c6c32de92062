package service

import (
	"sync"
	"time"
)

// LatencyWindow is the number of recent operation latencies retained per
// instance for percentile computation.
const LatencyWindow = 1000

// latencyRing is a bounded ring buffer of operation latencies. Once full,
// new samples overwrite the oldest.
type latencyRing struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	full    bool
}

func newLatencyRing(capacity int) *latencyRing {
	if capacity <= 0 {
		capacity = LatencyWindow
	}
	return &latencyRing{samples: make([]time.Duration, capacity)}
}

// Add records a sample, evicting the oldest when the window is full.
func (r *latencyRing) Add(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.samples[r.next] = d
	r.next++
	if r.next == len(r.samples) {
		r.next = 0
		r.full = true
	}
}

// Samples returns a copy of the recorded samples, oldest first.
func (r *latencyRing) Samples() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		out := make([]time.Duration, r.next)
		copy(out, r.samples[:r.next])
		return out
	}

	out := make([]time.Duration, 0, len(r.samples))
	out = append(out, r.samples[r.next:]...)
	out = append(out, r.samples[:r.next]...)
	return out
}

// Len returns the number of recorded samples.
func (r *latencyRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.full {
		return len(r.samples)
	}
	return r.next
}

// Reset discards all samples.
func (r *latencyRing) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next = 0
	r.full = false
}
