package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vidvault/internal/cache"
	"vidvault/internal/metrics"
	"vidvault/internal/store"
)

func newTestHandler(t *testing.T, writeLimit int) *Handler {
	t.Helper()
	st, err := store.NewFlatFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	mediaDir := t.TempDir()
	for _, name := range []string{"alpha.mp4", "beta.mp4"} {
		if err := os.WriteFile(filepath.Join(mediaDir, name), []byte("x"), 0644); err != nil {
			t.Fatalf("failed to write media file: %v", err)
		}
	}

	recorder := metrics.NewRecorder()
	c := cache.New(st, cache.Config{MediaDir: mediaDir, Backend: "flatfile", Observer: recorder})
	limiter := NewRateLimiter(writeLimit, time.Minute)
	aggregator := metrics.NewAggregator(recorder,
		func() any { return c.Diagnostics() },
		func() any { return limiter.State() },
	)
	return NewHandler(c, recorder, aggregator, limiter)
}

func doRequest(t *testing.T, h *Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	decoded := map[string]any{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("%s %s: invalid JSON response: %v\n%s", method, path, err, rec.Body.String())
		}
	}
	return rec, decoded
}

func assertErrorCode(t *testing.T, rec *httptest.ResponseRecorder, body map[string]any, status int, code string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("got status %d, want %d: %v", rec.Code, status, body)
	}
	if success, ok := body["success"].(bool); !ok || success {
		t.Errorf("got success %v, want false", body["success"])
	}
	errBody, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("missing error envelope: %v", body)
	}
	if errBody["code"] != code {
		t.Errorf("got code %v, want %s", errBody["code"], code)
	}
	if errBody["message"] == "" {
		t.Error("error envelope has no message")
	}
}

func TestListVideos(t *testing.T) {
	h := newTestHandler(t, 30)

	t.Run("ReturnsLibrary", func(t *testing.T) {
		rec, body := doRequest(t, h, "GET", "/api/videos", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("got status %d: %v", rec.Code, body)
		}
		videos, ok := body["videos"].([]any)
		if !ok || len(videos) != 2 {
			t.Errorf("got videos %v, want 2 entries", body["videos"])
		}
	})

	t.Run("SortAndLimit", func(t *testing.T) {
		rec, body := doRequest(t, h, "GET", "/api/videos?sort=title&order=asc&limit=1", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("got status %d: %v", rec.Code, body)
		}
		videos := body["videos"].([]any)
		if len(videos) != 1 {
			t.Fatalf("got %d videos, want 1", len(videos))
		}
		first := videos[0].(map[string]any)
		if first["filename"] != "alpha.mp4" {
			t.Errorf("got %v, want alpha.mp4", first["filename"])
		}
	})

	t.Run("RejectsBadSortKey", func(t *testing.T) {
		rec, body := doRequest(t, h, "GET", "/api/videos?sort=sneaky", "")
		assertErrorCode(t, rec, body, http.StatusBadRequest, "INVALID_PARAMETER")
	})

	t.Run("RejectsBadLimit", func(t *testing.T) {
		rec, body := doRequest(t, h, "GET", "/api/videos?limit=banana", "")
		assertErrorCode(t, rec, body, http.StatusBadRequest, "INVALID_PARAMETER")
	})
}

func TestGetVideo(t *testing.T) {
	h := newTestHandler(t, 30)

	t.Run("Found", func(t *testing.T) {
		rec, body := doRequest(t, h, "GET", "/api/videos/alpha.mp4", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("got status %d: %v", rec.Code, body)
		}
		video := body["video"].(map[string]any)
		if video["filename"] != "alpha.mp4" {
			t.Errorf("got %v, want alpha.mp4", video["filename"])
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		rec, body := doRequest(t, h, "GET", "/api/videos/ghost.mp4", "")
		assertErrorCode(t, rec, body, http.StatusNotFound, "NOT_FOUND")
	})
}

func TestWriteEndpoints(t *testing.T) {
	h := newTestHandler(t, 30)

	t.Run("Rate", func(t *testing.T) {
		rec, body := doRequest(t, h, "POST", "/api/rate", `{"filename":"alpha.mp4","rating":4}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("got status %d: %v", rec.Code, body)
		}
		rating := body["rating"].(map[string]any)
		if rating["value"].(float64) != 4 || rating["average"].(float64) != 4 {
			t.Errorf("got rating %v, want value=4 average=4", rating)
		}
	})

	t.Run("RateOutOfRange", func(t *testing.T) {
		rec, body := doRequest(t, h, "POST", "/api/rate", `{"filename":"alpha.mp4","rating":9}`)
		assertErrorCode(t, rec, body, http.StatusBadRequest, "INVALID_PARAMETER")
	})

	t.Run("RateMissingMedia", func(t *testing.T) {
		rec, body := doRequest(t, h, "POST", "/api/rate", `{"filename":"ghost.mp4","rating":3}`)
		assertErrorCode(t, rec, body, http.StatusNotFound, "NOT_FOUND")
	})

	t.Run("RateBadBody", func(t *testing.T) {
		rec, body := doRequest(t, h, "POST", "/api/rate", `{not json`)
		assertErrorCode(t, rec, body, http.StatusBadRequest, "INVALID_BODY")
	})

	t.Run("View", func(t *testing.T) {
		rec, body := doRequest(t, h, "POST", "/api/view", `{"filename":"alpha.mp4"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("got status %d: %v", rec.Code, body)
		}
		if body["views"].(float64) != 1 {
			t.Errorf("got views %v, want 1", body["views"])
		}
	})

	t.Run("TagRoundTrip", func(t *testing.T) {
		rec, body := doRequest(t, h, "POST", "/api/tag", `{"filename":"alpha.mp4","tag":"sunset"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("got status %d: %v", rec.Code, body)
		}
		tags := body["tags"].([]any)
		if len(tags) != 1 || tags[0] != "#sunset" {
			t.Errorf("got tags %v, want [#sunset]", tags)
		}

		rec, body = doRequest(t, h, "POST", "/api/tag/delete", `{"filename":"alpha.mp4","tag":"#sunset"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("got status %d: %v", rec.Code, body)
		}
		if tags := body["tags"].([]any); len(tags) != 0 {
			t.Errorf("got tags %v, want empty", tags)
		}
	})

	t.Run("Favorite", func(t *testing.T) {
		rec, body := doRequest(t, h, "POST", "/api/favorite", `{"filename":"beta.mp4"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("got status %d: %v", rec.Code, body)
		}
		if body["favorite"] != true {
			t.Errorf("got favorite %v, want true", body["favorite"])
		}
		favorites := body["favorites"].([]any)
		if len(favorites) != 1 || favorites[0] != "beta.mp4" {
			t.Errorf("got favorites %v, want [beta.mp4]", favorites)
		}
	})
}

func TestWriteRateLimiting(t *testing.T) {
	h := newTestHandler(t, 2)

	for i := 0; i < 2; i++ {
		rec, body := doRequest(t, h, "POST", "/api/view", `{"filename":"alpha.mp4"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: got status %d: %v", i+1, rec.Code, body)
		}
	}

	rec, body := doRequest(t, h, "POST", "/api/view", `{"filename":"alpha.mp4"}`)
	assertErrorCode(t, rec, body, http.StatusTooManyRequests, "RATE_LIMITED")
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header on denial")
	}

	t.Run("ReadsNotGated", func(t *testing.T) {
		rec, body := doRequest(t, h, "GET", "/api/videos", "")
		if rec.Code != http.StatusOK {
			t.Errorf("got status %d: %v", rec.Code, body)
		}
	})

	t.Run("ResetRejectsMalformedBody", func(t *testing.T) {
		rec, body := doRequest(t, h, "POST", "/api/admin/ratelimit/reset", `{not json`)
		assertErrorCode(t, rec, body, http.StatusBadRequest, "INVALID_BODY")

		rec, body = doRequest(t, h, "POST", "/api/view", `{"filename":"alpha.mp4"}`)
		assertErrorCode(t, rec, body, http.StatusTooManyRequests, "RATE_LIMITED")
	})

	t.Run("ResetSingleKey", func(t *testing.T) {
		// httptest requests all come from the same client address.
		rec, body := doRequest(t, h, "POST", "/api/admin/ratelimit/reset", `{"key":"192.0.2.1"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("got status %d: %v", rec.Code, body)
		}
		rec, body = doRequest(t, h, "POST", "/api/view", `{"filename":"alpha.mp4"}`)
		if rec.Code != http.StatusOK {
			t.Errorf("got status %d after key reset: %v", rec.Code, body)
		}
	})

	t.Run("AdminResetClearsWindow", func(t *testing.T) {
		rec, body := doRequest(t, h, "POST", "/api/admin/ratelimit/reset", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("got status %d: %v", rec.Code, body)
		}
		rec, body = doRequest(t, h, "POST", "/api/view", `{"filename":"alpha.mp4"}`)
		if rec.Code != http.StatusOK {
			t.Errorf("got status %d after reset: %v", rec.Code, body)
		}
	})
}

func TestReadEndpoints(t *testing.T) {
	h := newTestHandler(t, 30)
	doRequest(t, h, "POST", "/api/rate", `{"filename":"alpha.mp4","rating":5}`)
	doRequest(t, h, "POST", "/api/tag", `{"filename":"alpha.mp4","tag":"nature"}`)
	doRequest(t, h, "POST", "/api/tag", `{"filename":"beta.mp4","tag":"nature"}`)

	t.Run("RatingSummary", func(t *testing.T) {
		rec, body := doRequest(t, h, "GET", "/api/videos/alpha.mp4/rating", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("got status %d: %v", rec.Code, body)
		}
		rating := body["rating"].(map[string]any)
		if rating["value"].(float64) != 5 || rating["count"].(float64) != 1 {
			t.Errorf("got %v, want value=5 count=1", rating)
		}
	})

	t.Run("Tags", func(t *testing.T) {
		rec, body := doRequest(t, h, "GET", "/api/tags", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("got status %d: %v", rec.Code, body)
		}
		tags := body["tags"].([]any)
		if len(tags) != 1 || tags[0] != "#nature" {
			t.Errorf("got %v, want [#nature]", tags)
		}
	})

	t.Run("PopularTags", func(t *testing.T) {
		rec, body := doRequest(t, h, "GET", "/api/tags/popular?limit=5", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("got status %d: %v", rec.Code, body)
		}
		tags := body["tags"].([]any)
		if len(tags) != 1 {
			t.Fatalf("got %v, want one ranking entry", tags)
		}
		entry := tags[0].(map[string]any)
		if entry["tag"] != "#nature" || entry["count"].(float64) != 2 {
			t.Errorf("got %v, want #nature x2", entry)
		}
	})

	t.Run("VideosByTag", func(t *testing.T) {
		rec, body := doRequest(t, h, "GET", "/api/tags/nature/videos", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("got status %d: %v", rec.Code, body)
		}
		if videos := body["videos"].([]any); len(videos) != 2 {
			t.Errorf("got %d videos, want 2", len(videos))
		}
	})

	t.Run("Related", func(t *testing.T) {
		rec, body := doRequest(t, h, "GET", "/api/videos/alpha.mp4/related", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("got status %d: %v", rec.Code, body)
		}
		videos := body["videos"].([]any)
		if len(videos) != 1 {
			t.Fatalf("got %d related, want 1", len(videos))
		}
		if videos[0].(map[string]any)["filename"] != "beta.mp4" {
			t.Errorf("got %v, want beta.mp4", videos[0])
		}
	})

	t.Run("BestOf", func(t *testing.T) {
		rec, body := doRequest(t, h, "GET", "/api/best-of", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("got status %d: %v", rec.Code, body)
		}
		videos := body["videos"].([]any)
		if len(videos) != 1 || videos[0].(map[string]any)["filename"] != "alpha.mp4" {
			t.Errorf("got %v, want [alpha.mp4]", videos)
		}
	})

	t.Run("Random", func(t *testing.T) {
		rec, body := doRequest(t, h, "GET", "/api/random", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("got status %d: %v", rec.Code, body)
		}
		filename, _ := body["filename"].(string)
		if filename != "alpha.mp4" && filename != "beta.mp4" {
			t.Errorf("got %v, want a library member", body["filename"])
		}
	})
}

func TestAdminEndpoints(t *testing.T) {
	h := newTestHandler(t, 30)
	doRequest(t, h, "GET", "/api/videos", "")

	t.Run("Performance", func(t *testing.T) {
		rec, body := doRequest(t, h, "GET", "/api/admin/performance", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("got status %d: %v", rec.Code, body)
		}
		if body["window_seconds"].(float64) != 900 {
			t.Errorf("got window %v, want default 900", body["window_seconds"])
		}
		if _, ok := body["routes"]; ok {
			t.Error("routes included without include_routes")
		}
		if _, ok := body["workers"]; !ok {
			t.Error("workers missing with default include_workers")
		}
		if _, ok := body["cache"]; !ok {
			t.Error("cache section missing")
		}
		if _, ok := body["rate_limiter"]; !ok {
			t.Error("rate_limiter section missing")
		}
	})

	t.Run("PerformanceWithRoutes", func(t *testing.T) {
		rec, body := doRequest(t, h, "GET", "/api/admin/performance?window_seconds=300&include_routes=true", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("got status %d: %v", rec.Code, body)
		}
		if body["window_seconds"].(float64) != 300 {
			t.Errorf("got window %v, want 300", body["window_seconds"])
		}
	})

	t.Run("RejectsBadWindow", func(t *testing.T) {
		rec, body := doRequest(t, h, "GET", "/api/admin/performance?window_seconds=600", "")
		assertErrorCode(t, rec, body, http.StatusBadRequest, "INVALID_PARAMETER")
	})

	t.Run("RejectsBadBool", func(t *testing.T) {
		rec, body := doRequest(t, h, "GET", "/api/admin/performance?include_routes=maybe", "")
		assertErrorCode(t, rec, body, http.StatusBadRequest, "INVALID_PARAMETER")
	})

	t.Run("RoutesSortValidation", func(t *testing.T) {
		rec, body := doRequest(t, h, "GET", "/api/admin/performance/routes?sort_by=latency", "")
		assertErrorCode(t, rec, body, http.StatusBadRequest, "INVALID_PARAMETER")
	})

	t.Run("RoutesListing", func(t *testing.T) {
		rec, body := doRequest(t, h, "GET", "/api/admin/performance/routes?sort_by=path&order=asc", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("got status %d: %v", rec.Code, body)
		}
		if _, ok := body["routes"]; !ok {
			t.Error("missing routes list")
		}
	})

	t.Run("CacheStatus", func(t *testing.T) {
		rec, body := doRequest(t, h, "GET", "/api/admin/cache/status", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("got status %d: %v", rec.Code, body)
		}
		cacheInfo := body["cache"].(map[string]any)
		if cacheInfo["backend"] != "flatfile" {
			t.Errorf("got backend %v, want flatfile", cacheInfo["backend"])
		}
		categories := cacheInfo["categories"].(map[string]any)
		if len(categories) != 6 {
			t.Errorf("got %d categories, want 6", len(categories))
		}
	})

	t.Run("CacheRefresh", func(t *testing.T) {
		rec, body := doRequest(t, h, "POST", "/api/admin/cache/refresh", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("got status %d: %v", rec.Code, body)
		}
		if body["success"] != true {
			t.Errorf("got %v, want success", body)
		}
	})
}

func TestExtractIP(t *testing.T) {
	cases := []struct {
		name string
		mod  func(*http.Request)
		want string
	}{
		{"RemoteAddr", func(r *http.Request) { r.RemoteAddr = "10.1.2.3:9999" }, "10.1.2.3"},
		{"XForwardedFor", func(r *http.Request) { r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1") }, "203.0.113.7"},
		{"XRealIP", func(r *http.Request) { r.Header.Set("X-Real-IP", "198.51.100.2") }, "198.51.100.2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			tc.mod(req)
			if got := extractIP(req); got != tc.want {
				t.Errorf("got %s, want %s", got, tc.want)
			}
		})
	}
}
