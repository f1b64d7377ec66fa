package bot

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultGenerateRequestsPerMinute limits generate commands per user.
	DefaultGenerateRequestsPerMinute = 3

	// cleanupInterval is how often to check for idle users
	cleanupInterval = 5 * time.Minute

	// maxIdleAge is the maximum idle time before a user's bucket is dropped
	maxIdleAge = 30 * time.Minute
)

// tokenBucket holds up to capacity tokens and regains one every interval.
// Refill time that does not add up to a whole token is carried over.
type tokenBucket struct {
	mu         sync.Mutex
	capacity   int
	tokens     int
	interval   time.Duration
	lastRefill time.Time
	lastAccess time.Time
}

// newTokenBucket creates a full bucket that refills capacity tokens per minute.
func newTokenBucket(capacity int, now time.Time) *tokenBucket {
	interval := time.Minute / time.Duration(capacity)
	if interval <= 0 {
		interval = time.Nanosecond
	}
	return &tokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		interval:   interval,
		lastRefill: now,
		lastAccess: now,
	}
}

// allow consumes a token if one is available.
func (tb *tokenBucket) allow(now time.Time) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if earned := int(now.Sub(tb.lastRefill) / tb.interval); earned > 0 {
		tb.tokens += earned
		tb.lastRefill = tb.lastRefill.Add(time.Duration(earned) * tb.interval)
		if tb.tokens >= tb.capacity {
			tb.tokens = tb.capacity
			tb.lastRefill = now
		}
	}
	tb.lastAccess = now

	if tb.tokens == 0 {
		return false
	}
	tb.tokens--
	return true
}

// rateLimiter tracks generate-command budgets per user.
// A capacity of zero or less disables limiting.
type rateLimiter struct {
	mu       sync.Mutex
	capacity int
	buckets  map[string]*tokenBucket
	now      func() time.Time
}

func newRateLimiter(perMinute int) *rateLimiter {
	return &rateLimiter{
		capacity: perMinute,
		buckets:  make(map[string]*tokenBucket),
		now:      time.Now,
	}
}

// allow reports whether userID may start another generation.
func (rl *rateLimiter) allow(userID string) bool {
	if rl.capacity <= 0 {
		return true
	}

	now := rl.now()

	rl.mu.Lock()
	bucket, ok := rl.buckets[userID]
	if !ok {
		bucket = newTokenBucket(rl.capacity, now)
		rl.buckets[userID] = bucket
	}
	rl.mu.Unlock()

	return bucket.allow(now)
}

// cleanupStale drops buckets idle for longer than maxAge.
func (rl *rateLimiter) cleanupStale(maxAge time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for userID, bucket := range rl.buckets {
		bucket.mu.Lock()
		stale := now.Sub(bucket.lastAccess) > maxAge
		bucket.mu.Unlock()
		if stale {
			delete(rl.buckets, userID)
		}
	}
}

// startCleanup periodically drops idle buckets until ctx is cancelled.
func (rl *rateLimiter) startCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.cleanupStale(maxIdleAge)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (rl *rateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}
