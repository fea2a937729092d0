package emitter

import (
	"context"
	"sync"
)

// History keeps the most recent results in memory, newest first. Nothing is
// persisted.
type History struct {
	mu      sync.RWMutex
	size    int
	results []ResultRecord // ring, oldest overwritten first
	next    int
	last    *StatusRecord
}

// NewHistory returns a History holding at most size results.
func NewHistory(size int) *History {
	if size <= 0 {
		size = 50
	}
	return &History{size: size, results: make([]ResultRecord, 0, size)}
}

func (h *History) Result(_ context.Context, rec ResultRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.results) < h.size {
		h.results = append(h.results, rec)
		return
	}
	h.results[h.next] = rec
	h.next = (h.next + 1) % h.size
}

func (h *History) Status(_ context.Context, rec StatusRecord) {
	h.mu.Lock()
	h.last = &rec
	h.mu.Unlock()
}

// Results returns up to limit results, newest first. limit <= 0 returns all.
func (h *History) Results(limit int) []ResultRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := len(h.results)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]ResultRecord, 0, limit)
	// newest element sits just before next once the ring is full
	newest := n - 1
	if n == h.size {
		newest = (h.next - 1 + h.size) % h.size
	}
	for i := 0; i < limit; i++ {
		out = append(out, h.results[(newest-i+n)%n])
	}
	return out
}

// LastStatus returns the latest status, if any.
func (h *History) LastStatus() (StatusRecord, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.last == nil {
		return StatusRecord{}, false
	}
	return *h.last, true
}
