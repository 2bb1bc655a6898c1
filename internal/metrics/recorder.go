// Package metrics collects per-request latency samples in bounded rolling
// windows and aggregates them for the admin surface.
package metrics

import (
	"sort"
	"sync"
	"time"
)

const (
	// MaxSampleAge and MaxSamplesPerKey bound every rolling window. Both
	// limits are enforced on every append, oldest samples discarded first.
	MaxSampleAge     = time.Hour
	MaxSamplesPerKey = 500
)

// Sample is one completed request observation.
type Sample struct {
	RouteKey   string    `json:"route_key"`
	DurationMS float64   `json:"duration_ms"`
	Status     int       `json:"status_code"`
	Timestamp  time.Time `json:"timestamp"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
}

// Recorder keeps one rolling sample window per route key plus a global one,
// and monotonic cache hit/miss counters.
type Recorder struct {
	mu     sync.Mutex
	routes map[string][]Sample
	global []Sample
	hits   uint64
	misses uint64

	startTime time.Time
	now       func() time.Time
}

func NewRecorder() *Recorder {
	return &Recorder{
		routes:    make(map[string][]Sample),
		startTime: time.Now(),
		now:       time.Now,
	}
}

// RecordLatency appends the sample to the route window and the global
// window, pruning both by age and count.
func (r *Recorder) RecordLatency(routeKey string, d time.Duration, status int, remoteAddr string) {
	sample := Sample{
		RouteKey:   routeKey,
		DurationMS: float64(d.Microseconds()) / 1000.0,
		Status:     status,
		Timestamp:  r.now(),
		RemoteAddr: remoteAddr,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[routeKey] = r.prune(append(r.routes[routeKey], sample))
	r.global = r.prune(append(r.global, sample))
}

// prune enforces the age ceiling and then the count ceiling, oldest first.
func (r *Recorder) prune(samples []Sample) []Sample {
	cutoff := r.now().Add(-MaxSampleAge)
	start := 0
	for start < len(samples) && samples[start].Timestamp.Before(cutoff) {
		start++
	}
	samples = samples[start:]
	if len(samples) > MaxSamplesPerKey {
		samples = samples[len(samples)-MaxSamplesPerKey:]
	}
	return samples
}

// CacheHit and CacheMiss satisfy the cache's Observer interface.
func (r *Recorder) CacheHit() {
	r.mu.Lock()
	r.hits++
	r.mu.Unlock()
}

func (r *Recorder) CacheMiss() {
	r.mu.Lock()
	r.misses++
	r.mu.Unlock()
}

// HitRate returns the cache hit rate as a percentage, 0 with no
// observations.
func (r *Recorder) HitRate() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := r.hits + r.misses
	if total == 0 {
		return 0
	}
	return float64(r.hits) / float64(total) * 100
}

// CacheCounters returns the raw monotonic hit/miss counters.
func (r *Recorder) CacheCounters() (hits, misses uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hits, r.misses
}

func (r *Recorder) Uptime() time.Duration {
	return r.now().Sub(r.startTime)
}

// Percentiles returns (p50, p95, p99) using linear interpolation across
// order statistics: percentile p sits at rank p/100 x (n-1) of the sorted
// values, interpolating between the two neighboring samples when the rank
// is fractional. Zero samples yield zeros; a single sample is all three.
func Percentiles(values []float64) (p50, p95, p99 float64) {
	switch len(values) {
	case 0:
		return 0, 0, 0
	case 1:
		return values[0], values[0], values[0]
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return percentileAt(sorted, 50), percentileAt(sorted, 95), percentileAt(sorted, 99)
}

func percentileAt(sorted []float64, p float64) float64 {
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(rank)
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// RequestStats aggregates one window of samples.
type RequestStats struct {
	RequestCount int     `json:"request_count"`
	ErrorCount   int     `json:"error_count"`
	ErrorRate    float64 `json:"error_rate"`
	P50LatencyMS float64 `json:"p50_latency_ms"`
	P95LatencyMS float64 `json:"p95_latency_ms"`
	P99LatencyMS float64 `json:"p99_latency_ms"`
}

// RouteStats is RequestStats for a single "METHOD PATH" key plus a coarse
// health classification.
type RouteStats struct {
	RouteKey string `json:"route_key"`
	RequestStats
	Status string `json:"status"`
}

func aggregate(samples []Sample, cutoff time.Time) RequestStats {
	var stats RequestStats
	var durations []float64
	for _, s := range samples {
		if s.Timestamp.Before(cutoff) {
			continue
		}
		stats.RequestCount++
		if s.Status >= 500 {
			stats.ErrorCount++
		}
		durations = append(durations, s.DurationMS)
	}
	if stats.RequestCount > 0 {
		stats.ErrorRate = float64(stats.ErrorCount) / float64(stats.RequestCount)
	}
	stats.P50LatencyMS, stats.P95LatencyMS, stats.P99LatencyMS = Percentiles(durations)
	return stats
}

// classify maps error rate and tail latency to a route health status.
func classify(stats RequestStats) string {
	switch {
	case stats.ErrorRate >= 0.05 || stats.P95LatencyMS > 500:
		return "poor"
	case stats.ErrorRate >= 0.02 || stats.P95LatencyMS > 250:
		return "warning"
	case stats.P95LatencyMS == 0:
		return "unknown"
	default:
		return "good"
	}
}

// GlobalStats aggregates all samples within the trailing window.
func (r *Recorder) GlobalStats(window time.Duration) RequestStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return aggregate(r.global, r.now().Add(-window))
}

// RouteStatsAll aggregates each route key within the trailing window.
// Routes with no surviving samples are omitted.
func (r *Recorder) RouteStatsAll(window time.Duration) []RouteStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-window)
	var out []RouteStats
	for key, samples := range r.routes {
		stats := aggregate(samples, cutoff)
		if stats.RequestCount == 0 {
			continue
		}
		out = append(out, RouteStats{RouteKey: key, RequestStats: stats, Status: classify(stats)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RouteKey < out[j].RouteKey })
	return out
}

// SampleCount reports the current global window length.
func (r *Recorder) SampleCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.global)
}
