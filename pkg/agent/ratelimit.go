package agent

import (
	"sync"
	"time"
)

// rateLimiter is a sliding-window call limiter keyed by agent id. When the
// window is full the caller falls back to a non-generative decision rather
// than waiting.
type rateLimiter struct {
	mu       sync.Mutex
	calls    map[string][]time.Time
	maxCalls int
	window   time.Duration

	now func() time.Time
}

func newRateLimiter(maxCalls int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		calls:    make(map[string][]time.Time),
		maxCalls: maxCalls,
		window:   window,
		now:      time.Now,
	}
}

// Allow records one call attempt and reports whether it fits the window.
func (r *rateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	history := r.calls[key][:0:0]
	for _, t := range r.calls[key] {
		if now.Sub(t) < r.window {
			history = append(history, t)
		}
	}

	if len(history) >= r.maxCalls {
		r.calls[key] = history
		return false
	}

	r.calls[key] = append(history, now)
	return true
}
