package api

import (
	"hash/fnv"
	"sync"
	"time"
)

const rateShardCount = 16

// LimitInfo accompanies every admission decision.
type LimitInfo struct {
	Remaining int `json:"remaining"`
	ResetIn   int `json:"reset_in"` // seconds until the window frees up
}

// RateLimiter admits at most maxRequests per client key within a sliding
// window. Timestamps older than the window are purged lazily on each check;
// there is no background sweep. Keys are sharded so distinct clients do not
// contend on one lock.
type RateLimiter struct {
	maxRequests int
	window      time.Duration
	shards      [rateShardCount]*rateShard
	now         func() time.Time
}

type rateShard struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

// NewRateLimiter creates a limiter allowing maxRequests per window per key.
func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	l := &RateLimiter{
		maxRequests: maxRequests,
		window:      window,
		now:         time.Now,
	}
	for i := range l.shards {
		l.shards[i] = &rateShard{windows: make(map[string][]time.Time)}
	}
	return l
}

func (l *RateLimiter) shardFor(key string) *rateShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return l.shards[h.Sum32()%rateShardCount]
}

// IsAllowed checks and records one request for the key. The purge, count,
// and append happen in a single critical section on the key's shard.
func (l *RateLimiter) IsAllowed(key string) (bool, LimitInfo) {
	shard := l.shardFor(key)
	now := l.now()
	windowStart := now.Add(-l.window)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	timestamps := shard.windows[key]
	kept := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(windowStart) {
			kept = append(kept, ts)
		}
	}

	count := len(kept)
	remaining := l.maxRequests - count - 1
	if remaining < 0 {
		remaining = 0
	}

	resetIn := 0
	if count > 0 {
		oldest := kept[0]
		resetIn = int(oldest.Add(l.window).Sub(now).Seconds())
		if resetIn < 1 {
			resetIn = 1
		}
	}

	if count < l.maxRequests {
		kept = append(kept, now)
		shard.windows[key] = kept
		return true, LimitInfo{Remaining: remaining, ResetIn: resetIn}
	}

	shard.windows[key] = kept
	return false, LimitInfo{Remaining: 0, ResetIn: resetIn}
}

// Reset clears the window for one key.
func (l *RateLimiter) Reset(key string) {
	shard := l.shardFor(key)
	shard.mu.Lock()
	delete(shard.windows, key)
	shard.mu.Unlock()
}

// ResetAll clears every tracked key.
func (l *RateLimiter) ResetAll() {
	for _, shard := range l.shards {
		shard.mu.Lock()
		shard.windows = make(map[string][]time.Time)
		shard.mu.Unlock()
	}
}

// State is the rate-limiter section of the admin snapshot.
type State struct {
	MaxRequests   int `json:"max_requests"`
	WindowSeconds int `json:"window_seconds"`
	TrackedKeys   int `json:"tracked_keys"`
}

func (l *RateLimiter) State() State {
	tracked := 0
	for _, shard := range l.shards {
		shard.mu.Lock()
		tracked += len(shard.windows)
		shard.mu.Unlock()
	}
	return State{
		MaxRequests:   l.maxRequests,
		WindowSeconds: int(l.window.Seconds()),
		TrackedKeys:   tracked,
	}
}
