package metrics

import (
	"sync"
	"time"
)

const (
	DefaultWindowSeconds = 900
	// SnapshotTTL bounds recomputation cost under frequent dashboard
	// polling; a snapshot up to this old may be served again.
	SnapshotTTL = 2 * time.Second
)

// AllowedWindows are the window sizes the admin surface accepts.
var AllowedWindows = map[int]bool{300: true, 900: true, 3600: true}

// WorkerStats is a placeholder section: background workers live outside
// this core but the admin contract includes the field.
type WorkerStats struct {
	Workers    []string `json:"workers"`
	QueueDepth int      `json:"queue_depth"`
}

// Snapshot is the point-in-time admin summary.
type Snapshot struct {
	GeneratedAt   time.Time    `json:"generated_at"`
	WindowSeconds int          `json:"window_seconds"`
	UptimeSeconds float64      `json:"uptime_seconds"`
	Requests      RequestStats `json:"requests"`
	CacheHits     uint64       `json:"cache_hits"`
	CacheMisses   uint64       `json:"cache_misses"`
	CacheHitRate  float64      `json:"cache_hit_rate"`
	Routes        []RouteStats `json:"routes,omitempty"`
	Cache         any          `json:"cache,omitempty"`
	RateLimiter   any          `json:"rate_limiter,omitempty"`
	Workers       *WorkerStats `json:"workers,omitempty"`
}

type snapshotKey struct {
	windowSeconds  int
	includeRoutes  bool
	includeWorkers bool
}

type memoEntry struct {
	at   time.Time
	snap *Snapshot
}

// Aggregator composes recorder output, cache diagnostics, and rate-limiter
// state into memoized snapshots. The provider funcs return
// JSON-marshalable sections and may be nil.
type Aggregator struct {
	recorder    *Recorder
	cacheInfo   func() any
	limiterInfo func() any

	mu   sync.Mutex
	memo map[snapshotKey]memoEntry
	now  func() time.Time
}

func NewAggregator(recorder *Recorder, cacheInfo, limiterInfo func() any) *Aggregator {
	return &Aggregator{
		recorder:    recorder,
		cacheInfo:   cacheInfo,
		limiterInfo: limiterInfo,
		memo:        make(map[snapshotKey]memoEntry),
		now:         time.Now,
	}
}

// Snapshot returns the summary for the given window, serving a memoized
// copy when one newer than SnapshotTTL exists for the same parameter tuple.
func (a *Aggregator) Snapshot(windowSeconds int, includeRoutes, includeWorkers bool) *Snapshot {
	key := snapshotKey{windowSeconds, includeRoutes, includeWorkers}

	a.mu.Lock()
	if entry, ok := a.memo[key]; ok && a.now().Sub(entry.at) < SnapshotTTL {
		a.mu.Unlock()
		return entry.snap
	}
	a.mu.Unlock()

	window := time.Duration(windowSeconds) * time.Second
	hits, misses := a.recorder.CacheCounters()
	snap := &Snapshot{
		GeneratedAt:   a.now(),
		WindowSeconds: windowSeconds,
		UptimeSeconds: a.recorder.Uptime().Seconds(),
		Requests:      a.recorder.GlobalStats(window),
		CacheHits:     hits,
		CacheMisses:   misses,
		CacheHitRate:  a.recorder.HitRate(),
	}
	if includeRoutes {
		snap.Routes = a.recorder.RouteStatsAll(window)
	}
	if a.cacheInfo != nil {
		snap.Cache = a.cacheInfo()
	}
	if a.limiterInfo != nil {
		snap.RateLimiter = a.limiterInfo()
	}
	if includeWorkers {
		snap.Workers = &WorkerStats{Workers: []string{}}
	}

	a.mu.Lock()
	a.memo[key] = memoEntry{at: a.now(), snap: snap}
	a.mu.Unlock()
	return snap
}
