package gateway

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// RateLimiter is a sliding-window limiter keyed by connection id.
type RateLimiter struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	history  map[string][]time.Time
	limit    int
	interval time.Duration
}

// NewRateLimiter allows limit actions per interval. A limit of zero or less
// disables limiting.
func NewRateLimiter(clock clockwork.Clock, limit int, interval time.Duration) *RateLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RateLimiter{
		clock:    clock,
		history:  make(map[string][]time.Time),
		limit:    limit,
		interval: interval,
	}
}

func (rl *RateLimiter) Allow(id string) bool {
	if rl == nil || rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[id]
	fresh := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) >= rl.limit {
		rl.history[id] = fresh
		return false
	}
	rl.history[id] = append(fresh, now)
	return true
}

// Forget drops the history of a closed connection.
func (rl *RateLimiter) Forget(id string) {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.history, id)
}
