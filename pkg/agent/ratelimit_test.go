package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterSlidingWindow(t *testing.T) {
	limiter := newRateLimiter(3, time.Minute)
	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Allow("a1"), "call %d within the window", i+1)
	}
	assert.False(t, limiter.Allow("a1"))

	// Another key has its own window.
	assert.True(t, limiter.Allow("a2"))

	// Old calls fall out as the window slides.
	clock = clock.Add(61 * time.Second)
	assert.True(t, limiter.Allow("a1"))
}
