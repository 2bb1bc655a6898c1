package metrics

import (
	"fmt"
	"math"
	"testing"
	"time"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestPercentiles(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		p50, p95, p99 := Percentiles(nil)
		if p50 != 0 || p95 != 0 || p99 != 0 {
			t.Errorf("got %v/%v/%v, want zeros", p50, p95, p99)
		}
	})

	t.Run("SingleSample", func(t *testing.T) {
		p50, p95, p99 := Percentiles([]float64{42})
		if p50 != 42 || p95 != 42 || p99 != 42 {
			t.Errorf("got %v/%v/%v, want all 42", p50, p95, p99)
		}
	})

	t.Run("Interpolated", func(t *testing.T) {
		p50, p95, p99 := Percentiles([]float64{10, 20, 30, 40, 100})
		if !almostEqual(p50, 30) {
			t.Errorf("got p50=%v, want 30", p50)
		}
		if !almostEqual(p95, 88) {
			t.Errorf("got p95=%v, want 88", p95)
		}
		if !almostEqual(p99, 97.6) {
			t.Errorf("got p99=%v, want 97.6", p99)
		}
	})

	t.Run("InputNotMutated", func(t *testing.T) {
		values := []float64{30, 10, 20}
		Percentiles(values)
		if values[0] != 30 || values[1] != 10 || values[2] != 20 {
			t.Errorf("input reordered: %v", values)
		}
	})
}

func TestRecorderCountCap(t *testing.T) {
	r := NewRecorder()
	for i := 0; i < 10000; i++ {
		r.RecordLatency("GET /api/videos", time.Duration(i)*time.Millisecond, 200, "")
	}
	if got := r.SampleCount(); got != MaxSamplesPerKey {
		t.Errorf("got %d samples, want %d", got, MaxSamplesPerKey)
	}

	// The survivors must be the most recent ones.
	stats := r.GlobalStats(MaxSampleAge)
	if stats.RequestCount != MaxSamplesPerKey {
		t.Errorf("got %d in window, want %d", stats.RequestCount, MaxSamplesPerKey)
	}
	// Oldest survivor is sample 9500 -> 9500ms.
	if stats.P50LatencyMS < 9500 {
		t.Errorf("got p50=%v, expected only the newest samples to survive", stats.P50LatencyMS)
	}
}

func TestRecorderAgeCap(t *testing.T) {
	r := NewRecorder()
	current := time.Unix(1700000000, 0)
	r.now = func() time.Time { return current }

	r.RecordLatency("GET /api/videos", 10*time.Millisecond, 200, "")
	current = current.Add(MaxSampleAge + time.Minute)
	r.RecordLatency("GET /api/videos", 10*time.Millisecond, 200, "")

	if got := r.SampleCount(); got != 1 {
		t.Errorf("got %d samples, want 1 after age pruning", got)
	}
}

func TestGlobalStatsWindow(t *testing.T) {
	r := NewRecorder()
	current := time.Unix(1700000000, 0)
	r.now = func() time.Time { return current }

	r.RecordLatency("GET /api/videos", 100*time.Millisecond, 200, "")
	current = current.Add(10 * time.Minute)
	r.RecordLatency("GET /api/videos", 200*time.Millisecond, 500, "")

	t.Run("ShortWindowExcludesOld", func(t *testing.T) {
		stats := r.GlobalStats(5 * time.Minute)
		if stats.RequestCount != 1 {
			t.Errorf("got %d requests, want 1", stats.RequestCount)
		}
		if stats.ErrorCount != 1 {
			t.Errorf("got %d errors, want 1", stats.ErrorCount)
		}
		if stats.ErrorRate != 1 {
			t.Errorf("got error rate %v, want 1", stats.ErrorRate)
		}
	})

	t.Run("LongWindowIncludesBoth", func(t *testing.T) {
		stats := r.GlobalStats(time.Hour)
		if stats.RequestCount != 2 {
			t.Errorf("got %d requests, want 2", stats.RequestCount)
		}
		if stats.ErrorRate != 0.5 {
			t.Errorf("got error rate %v, want 0.5", stats.ErrorRate)
		}
	})
}

func TestRouteStats(t *testing.T) {
	r := NewRecorder()
	r.RecordLatency("GET /api/videos", 10*time.Millisecond, 200, "")
	r.RecordLatency("GET /api/tags", 20*time.Millisecond, 200, "")
	r.RecordLatency("GET /api/tags", 30*time.Millisecond, 200, "")

	routes := r.RouteStatsAll(time.Hour)
	if len(routes) != 2 {
		t.Fatalf("got %d routes, want 2", len(routes))
	}
	// Sorted by route key
	if routes[0].RouteKey != "GET /api/tags" || routes[1].RouteKey != "GET /api/videos" {
		t.Errorf("got order %s, %s", routes[0].RouteKey, routes[1].RouteKey)
	}
	if routes[0].RequestCount != 2 {
		t.Errorf("got %d requests for tags, want 2", routes[0].RequestCount)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		stats RequestStats
		want  string
	}{
		{RequestStats{ErrorRate: 0.10, P95LatencyMS: 10}, "poor"},
		{RequestStats{ErrorRate: 0, P95LatencyMS: 600}, "poor"},
		{RequestStats{ErrorRate: 0.03, P95LatencyMS: 10}, "warning"},
		{RequestStats{ErrorRate: 0, P95LatencyMS: 300}, "warning"},
		{RequestStats{ErrorRate: 0, P95LatencyMS: 0}, "unknown"},
		{RequestStats{ErrorRate: 0, P95LatencyMS: 50}, "good"},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("er=%v_p95=%v", tc.stats.ErrorRate, tc.stats.P95LatencyMS), func(t *testing.T) {
			if got := classify(tc.stats); got != tc.want {
				t.Errorf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestCacheCounters(t *testing.T) {
	r := NewRecorder()
	if r.HitRate() != 0 {
		t.Errorf("got %v with no observations, want 0", r.HitRate())
	}

	r.CacheHit()
	r.CacheHit()
	r.CacheHit()
	r.CacheMiss()

	if got := r.HitRate(); got != 75 {
		t.Errorf("got hit rate %v, want 75", got)
	}
	hits, misses := r.CacheCounters()
	if hits != 3 || misses != 1 {
		t.Errorf("got %d/%d, want 3/1", hits, misses)
	}
}
