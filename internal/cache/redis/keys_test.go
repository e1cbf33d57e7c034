package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasPattern(t *testing.T) {
	assert.True(t, hasPattern("markets*"))
	assert.True(t, hasPattern("m?rkets"))
	assert.False(t, hasPattern("markets"))
}

func TestKeysAreNamespaced(t *testing.T) {
	lm := &LockManager{prefix: "kiniela:"}
	assert.Equal(t, "kiniela:lock:purchase:0xabc", lm.lockKey("purchase:0xabc"))

	rl := &RateLimiter{prefix: "kiniela:"}
	assert.Equal(t, "kiniela:ratelimit:10.0.0.1", rl.key("10.0.0.1"))

	sb := &SignalBus{prefix: "kiniela:"}
	assert.Equal(t, "kiniela:impact", sb.name("impact"))
}

func TestSlidingWindowScriptEmbedded(t *testing.T) {
	assert.Contains(t, slidingWindowLua, "ZREMRANGEBYSCORE")
}

func TestLockBackoffIsCapped(t *testing.T) {
	d := lockRetryMin
	for range 10 {
		d = nextBackoff(d)
	}
	assert.Equal(t, lockRetryMax, d)
	assert.Equal(t, 2*lockRetryMin, nextBackoff(lockRetryMin))
}
