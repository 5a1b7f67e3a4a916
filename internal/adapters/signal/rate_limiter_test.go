package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterSlidingWindow(t *testing.T) {
	now := time.Unix(0, 0)
	rl := NewRateLimiter(2, time.Second)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("c1"))
	assert.True(t, rl.Allow("c1"))
	assert.False(t, rl.Allow("c1"))
	assert.True(t, rl.Allow("c2"))

	now = now.Add(1100 * time.Millisecond)
	assert.True(t, rl.Allow("c1"))
}

func TestRateLimiterForgetAndDisabled(t *testing.T) {
	rl := NewRateLimiter(1, time.Hour)
	assert.True(t, rl.Allow("c1"))
	assert.False(t, rl.Allow("c1"))
	rl.Forget("c1")
	assert.True(t, rl.Allow("c1"))

	off := NewRateLimiter(0, time.Second)
	for range 100 {
		assert.True(t, off.Allow("c1"))
	}
}
