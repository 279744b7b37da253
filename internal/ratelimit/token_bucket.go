package ratelimit

import (
	"sync"
	"time"
)

const nanoTokensPerToken int64 = int64(time.Second)

const maxInt64 = int64(^uint64(0) >> 1)

// TokenBucket refills at an integer rate (tokens/sec) measured against Clock.
//
// Tokens are tracked as nano-tokens so that a rate of X tokens/sec adds exactly
// X nano-tokens per elapsed nanosecond.
type TokenBucket struct {
	mu    sync.Mutex
	clock Clock

	capacity int64
	rate     int64

	available int64
	last      time.Time
}

// NewTokenBucket returns a full bucket. A nil clock uses wall time.
func NewTokenBucket(clock Clock, capacity, rate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	if capacity < 0 {
		capacity = 0
	}
	if rate < 0 {
		rate = 0
	}
	return &TokenBucket{
		clock:     clock,
		capacity:  capacity,
		rate:      rate,
		available: toNano(capacity),
		last:      clock.Now(),
	}
}

// Allow consumes n tokens when available. n <= 0 always succeeds.
func (b *TokenBucket) Allow(n int64) bool {
	if n <= 0 {
		return true
	}
	cost := toNano(n)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.available < cost {
		return false
	}
	b.available -= cost
	return true
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	elapsed := now.Sub(b.last).Nanoseconds()
	b.last = now
	if elapsed <= 0 || b.rate <= 0 {
		return
	}

	full := toNano(b.capacity)
	missing := full - b.available
	if missing <= 0 {
		b.available = full
		return
	}
	// elapsed*rate may overflow; compare against the time needed to fill first.
	if elapsed >= missing/b.rate {
		b.available = full
		return
	}
	b.available += elapsed * b.rate
	if b.available > full {
		b.available = full
	}
}

func toNano(tokens int64) int64 {
	if tokens <= 0 {
		return 0
	}
	if tokens > maxInt64/nanoTokensPerToken {
		return maxInt64
	}
	return tokens * nanoTokensPerToken
}
