package queue

import (
	"sync"
	"time"
)

// rateLimiter enforces a per-queue cap on admissions within a rolling window.
// It keeps the raw admission timestamps and prunes expired ones on every
// check, which is exact for the small windows used here (one second).
type rateLimiter struct {
	mu     sync.Mutex
	limits map[string]int
	window time.Duration
	stamps map[string][]time.Time
}

func newRateLimiter(window time.Duration) *rateLimiter {
	return &rateLimiter{
		limits: make(map[string]int),
		window: window,
		stamps: make(map[string][]time.Time),
	}
}

// setLimit configures the maximum admissions per window for a queue.
// A limit of zero or less removes the cap.
func (rl *rateLimiter) setLimit(queue string, limit int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limit <= 0 {
		delete(rl.limits, queue)
		delete(rl.stamps, queue)
		return
	}
	rl.limits[queue] = limit
}

// allow records an admission if the queue's window has room, pruning expired
// timestamps first. Queues without a configured limit always pass.
func (rl *rateLimiter) allow(queue string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limit, ok := rl.limits[queue]
	if !ok {
		return true
	}

	cutoff := now.Add(-rl.window)
	stamps := rl.stamps[queue]
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= limit {
		rl.stamps[queue] = kept
		return false
	}

	rl.stamps[queue] = append(kept, now)
	return true
}

// limit reports the configured cap for a queue, zero meaning unlimited.
func (rl *rateLimiter) limit(queue string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.limits[queue]
}
