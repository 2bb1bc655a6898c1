package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"vidvault/internal/cache"
	"vidvault/internal/logging"
	"vidvault/internal/metrics"
	"vidvault/internal/store"
)

// Handler handles HTTP requests.
type Handler struct {
	cache      *cache.VideoCache
	recorder   *metrics.Recorder
	aggregator *metrics.Aggregator
	limiter    *RateLimiter
	mux        *http.ServeMux
}

// NewHandler creates a new HTTP handler. If limiter is nil, write endpoints
// are not admission-controlled.
func NewHandler(c *cache.VideoCache, recorder *metrics.Recorder, aggregator *metrics.Aggregator, limiter *RateLimiter) *Handler {
	h := &Handler{
		cache:      c,
		recorder:   recorder,
		aggregator: aggregator,
		limiter:    limiter,
		mux:        http.NewServeMux(),
	}
	h.registerRoutes()
	return h
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /api/videos", h.handleListVideos)
	h.mux.HandleFunc("GET /api/videos/{filename}", h.handleGetVideo)
	h.mux.HandleFunc("GET /api/videos/{filename}/related", h.handleRelated)
	h.mux.HandleFunc("GET /api/videos/{filename}/rating", h.handleRatingSummary)
	h.mux.HandleFunc("GET /api/views", h.handleViews)
	h.mux.HandleFunc("GET /api/tags", h.handleTags)
	h.mux.HandleFunc("GET /api/tags/popular", h.handlePopularTags)
	h.mux.HandleFunc("GET /api/tags/{tag}/videos", h.handleVideosByTag)
	h.mux.HandleFunc("GET /api/favorites", h.handleFavorites)
	h.mux.HandleFunc("GET /api/random", h.handleRandom)
	h.mux.HandleFunc("GET /api/best-of", h.handleBestOf)

	h.mux.HandleFunc("POST /api/rate", h.handleRate)
	h.mux.HandleFunc("POST /api/view", h.handleView)
	h.mux.HandleFunc("POST /api/tag", h.handleAddTag)
	h.mux.HandleFunc("POST /api/tag/delete", h.handleDeleteTag)
	h.mux.HandleFunc("POST /api/favorite", h.handleToggleFavorite)

	h.mux.HandleFunc("GET /api/admin/performance", h.handlePerformance)
	h.mux.HandleFunc("GET /api/admin/performance/routes", h.handlePerformanceRoutes)
	h.mux.HandleFunc("GET /api/admin/cache/status", h.handleCacheStatus)
	h.mux.HandleFunc("POST /api/admin/cache/refresh", h.handleCacheRefresh)
	h.mux.HandleFunc("POST /api/admin/ratelimit/reset", h.handleRateLimitReset)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- response helpers -------------------------------------------------------

type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

type errorResponse struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.HTTP.Printf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	writeJSON(w, status, errorResponse{Error: errorBody{Code: code, Message: message, Details: details}})
}

// writeDomainError maps core errors onto the fixed HTTP contract.
func writeDomainError(w http.ResponseWriter, err error) {
	var ve *store.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, "INVALID_PARAMETER", ve.Error(), map[string]any{"parameter": ve.Field})
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "resource not found", nil)
	default:
		logging.HTTP.Printf("internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}

func isValidFilename(name string) bool {
	return name != "" && len(name) <= 255 &&
		!strings.ContainsAny(name, "/\\") && name != "." && name != ".."
}

// allowWrite runs the sliding-window admission check for write endpoints.
// Denials carry a Retry-After header with the window's reset time.
func (h *Handler) allowWrite(w http.ResponseWriter, r *http.Request) bool {
	if h.limiter == nil {
		return true
	}
	key := extractIP(r)
	allowed, info := h.limiter.IsAllowed(key)
	if !allowed {
		w.Header().Set("Retry-After", strconv.Itoa(info.ResetIn))
		writeError(w, http.StatusTooManyRequests, "RATE_LIMITED",
			"too many requests", map[string]any{"reset_in": info.ResetIn})
		return false
	}
	return true
}

// --- query parsing ----------------------------------------------------------

func parseBoolParam(raw string, def bool) (bool, error) {
	if raw == "" {
		return def, nil
	}
	switch strings.ToLower(raw) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	}
	return false, fmt.Errorf("must be a boolean")
}

func parseIntParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	return v, nil
}

func invalidParam(w http.ResponseWriter, name string, err error) {
	writeError(w, http.StatusBadRequest, "INVALID_PARAMETER",
		fmt.Sprintf("%s %v", name, err), map[string]any{"parameter": name})
}

// --- read endpoints -----------------------------------------------------------

var validSortKeys = map[string]bool{
	"date": true, "added_date": true, "title": true,
	"filename": true, "rating": true, "views": true,
}

func (h *Handler) handleListVideos(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sortBy := q.Get("sort")
	if sortBy == "" {
		sortBy = "date"
	}
	if !validSortKeys[sortBy] {
		invalidParam(w, "sort", fmt.Errorf("must be one of date, title, rating, views"))
		return
	}
	order := q.Get("order")
	if order == "" {
		order = "desc"
	}
	if order != "asc" && order != "desc" {
		invalidParam(w, "order", fmt.Errorf("must be asc or desc"))
		return
	}
	limit, err := parseIntParam(q.Get("limit"), 0)
	if err != nil || limit < 0 {
		invalidParam(w, "limit", fmt.Errorf("must be a non-negative integer"))
		return
	}
	offset, err := parseIntParam(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		invalidParam(w, "offset", fmt.Errorf("must be a non-negative integer"))
		return
	}

	videos, err := h.cache.GetAllRecords(r.Context(), sortBy, order, limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "videos": videos})
}

func (h *Handler) handleGetVideo(w http.ResponseWriter, r *http.Request) {
	filename := r.PathValue("filename")
	if !isValidFilename(filename) {
		invalidParam(w, "filename", fmt.Errorf("is not a valid filename"))
		return
	}
	video, err := h.cache.GetVideo(r.Context(), filename)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "video": video})
}

func (h *Handler) handleRelated(w http.ResponseWriter, r *http.Request) {
	filename := r.PathValue("filename")
	if !isValidFilename(filename) {
		invalidParam(w, "filename", fmt.Errorf("is not a valid filename"))
		return
	}
	limit, err := parseIntParam(r.URL.Query().Get("limit"), 20)
	if err != nil || limit < 1 {
		invalidParam(w, "limit", fmt.Errorf("must be >= 1"))
		return
	}
	related, err := h.cache.GetRelatedVideos(r.Context(), filename, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "videos": related})
}

func (h *Handler) handleRatingSummary(w http.ResponseWriter, r *http.Request) {
	filename := r.PathValue("filename")
	if !isValidFilename(filename) {
		invalidParam(w, "filename", fmt.Errorf("is not a valid filename"))
		return
	}
	summary, err := h.cache.GetRatingSummary(r.Context(), filename)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "rating": summary})
}

func (h *Handler) handleViews(w http.ResponseWriter, r *http.Request) {
	views, err := h.cache.GetViews(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "views": views})
}

func (h *Handler) handleTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.cache.AllUniqueTags(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "tags": tags})
}

func (h *Handler) handlePopularTags(w http.ResponseWriter, r *http.Request) {
	limit, err := parseIntParam(r.URL.Query().Get("limit"), 10)
	if err != nil || limit < 1 {
		invalidParam(w, "limit", fmt.Errorf("must be >= 1"))
		return
	}
	popular, err := h.cache.GetPopularTags(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "tags": popular})
}

func (h *Handler) handleVideosByTag(w http.ResponseWriter, r *http.Request) {
	tag := r.PathValue("tag")
	if strings.TrimSpace(tag) == "" {
		invalidParam(w, "tag", fmt.Errorf("must not be empty"))
		return
	}
	videos, err := h.cache.GetVideosByTag(r.Context(), tag)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "videos": videos})
}

func (h *Handler) handleFavorites(w http.ResponseWriter, r *http.Request) {
	favorites, err := h.cache.GetFavorites(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	all, err := h.cache.GetAllRecords(r.Context(), "date", "desc", 0, 0)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	byName := make(map[string]*store.Video, len(all))
	for _, v := range all {
		byName[v.Filename] = v
	}
	videos := make([]*store.Video, 0, len(favorites))
	for _, filename := range favorites {
		if v, ok := byName[filename]; ok {
			videos = append(videos, v)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "videos": videos})
}

func (h *Handler) handleRandom(w http.ResponseWriter, r *http.Request) {
	filename, err := h.cache.RandomVideo(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "filename": filename})
}

func (h *Handler) handleBestOf(w http.ResponseWriter, r *http.Request) {
	videos, err := h.cache.BestOf(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if videos == nil {
		videos = []*store.Video{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "videos": videos})
}

// --- write endpoints ----------------------------------------------------------

// RateRequest is the body of POST /api/rate.
type RateRequest struct {
	Filename string `json:"filename"`
	Rating   int    `json:"rating"`
}

func (h *Handler) handleRate(w http.ResponseWriter, r *http.Request) {
	if !h.allowWrite(w, r) {
		return
	}
	var req RateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body", nil)
		return
	}
	if !isValidFilename(req.Filename) {
		invalidParam(w, "filename", fmt.Errorf("is not a valid filename"))
		return
	}
	summary, err := h.cache.UpdateRating(r.Context(), req.Filename, req.Rating)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "rating": summary})
}

// ViewRequest is the body of POST /api/view.
type ViewRequest struct {
	Filename string `json:"filename"`
}

func (h *Handler) handleView(w http.ResponseWriter, r *http.Request) {
	if !h.allowWrite(w, r) {
		return
	}
	var req ViewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body", nil)
		return
	}
	if !isValidFilename(req.Filename) {
		invalidParam(w, "filename", fmt.Errorf("is not a valid filename"))
		return
	}
	views, err := h.cache.IncrementView(r.Context(), req.Filename)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "views": views})
}

// TagRequest is the body of POST /api/tag and POST /api/tag/delete.
type TagRequest struct {
	Filename string `json:"filename"`
	Tag      string `json:"tag"`
}

func (h *Handler) handleAddTag(w http.ResponseWriter, r *http.Request) {
	if !h.allowWrite(w, r) {
		return
	}
	var req TagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body", nil)
		return
	}
	if !isValidFilename(req.Filename) {
		invalidParam(w, "filename", fmt.Errorf("is not a valid filename"))
		return
	}
	tags, err := h.cache.AddTag(r.Context(), req.Filename, req.Tag)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "tags": tags})
}

func (h *Handler) handleDeleteTag(w http.ResponseWriter, r *http.Request) {
	if !h.allowWrite(w, r) {
		return
	}
	var req TagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body", nil)
		return
	}
	if !isValidFilename(req.Filename) {
		invalidParam(w, "filename", fmt.Errorf("is not a valid filename"))
		return
	}
	tags, err := h.cache.RemoveTag(r.Context(), req.Filename, req.Tag)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "tags": tags})
}

// FavoriteRequest is the body of POST /api/favorite.
type FavoriteRequest struct {
	Filename string `json:"filename"`
}

func (h *Handler) handleToggleFavorite(w http.ResponseWriter, r *http.Request) {
	if !h.allowWrite(w, r) {
		return
	}
	var req FavoriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body", nil)
		return
	}
	if !isValidFilename(req.Filename) {
		invalidParam(w, "filename", fmt.Errorf("is not a valid filename"))
		return
	}
	nowFavorite, err := h.cache.ToggleFavorite(r.Context(), req.Filename)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	favorites, err := h.cache.GetFavorites(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true, "favorite": nowFavorite, "favorites": favorites,
	})
}

// --- admin endpoints ------------------------------------------------------------

func (h *Handler) handlePerformance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	windowSeconds, err := parseIntParam(q.Get("window_seconds"), metrics.DefaultWindowSeconds)
	if err != nil || !metrics.AllowedWindows[windowSeconds] {
		invalidParam(w, "window_seconds", fmt.Errorf("must be one of 300, 900, 3600"))
		return
	}
	includeRoutes, err := parseBoolParam(q.Get("include_routes"), false)
	if err != nil {
		invalidParam(w, "include_routes", err)
		return
	}
	includeWorkers, err := parseBoolParam(q.Get("include_workers"), true)
	if err != nil {
		invalidParam(w, "include_workers", err)
		return
	}

	writeJSON(w, http.StatusOK, h.aggregator.Snapshot(windowSeconds, includeRoutes, includeWorkers))
}

var routeSortKeys = map[string]bool{
	"p95_latency_ms": true, "error_rate": true, "request_count": true, "path": true,
}

func (h *Handler) handlePerformanceRoutes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	windowSeconds, err := parseIntParam(q.Get("window_seconds"), metrics.DefaultWindowSeconds)
	if err != nil || !metrics.AllowedWindows[windowSeconds] {
		invalidParam(w, "window_seconds", fmt.Errorf("must be one of 300, 900, 3600"))
		return
	}
	sortBy := q.Get("sort_by")
	if sortBy == "" {
		sortBy = "p95_latency_ms"
	}
	if !routeSortKeys[sortBy] {
		invalidParam(w, "sort_by", fmt.Errorf("must be one of p95_latency_ms, error_rate, request_count, path"))
		return
	}
	order := strings.ToLower(q.Get("order"))
	if order == "" {
		order = "desc"
	}
	if order != "asc" && order != "desc" {
		invalidParam(w, "order", fmt.Errorf("must be asc or desc"))
		return
	}
	limit, err := parseIntParam(q.Get("limit"), 100)
	if err != nil || limit < 1 {
		invalidParam(w, "limit", fmt.Errorf("must be >= 1"))
		return
	}

	routes := h.recorder.RouteStatsAll(time.Duration(windowSeconds) * time.Second)
	sortRouteStats(routes, sortBy, order)
	if len(routes) > limit {
		routes = routes[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true, "window_seconds": windowSeconds, "routes": routes,
	})
}

func sortRouteStats(routes []metrics.RouteStats, sortBy, order string) {
	less := func(a, b metrics.RouteStats) bool {
		switch sortBy {
		case "error_rate":
			return a.ErrorRate < b.ErrorRate
		case "request_count":
			return a.RequestCount < b.RequestCount
		case "path":
			return a.RouteKey < b.RouteKey
		default: // p95_latency_ms
			return a.P95LatencyMS < b.P95LatencyMS
		}
	}
	sort.SliceStable(routes, func(i, j int) bool {
		if order == "desc" {
			return less(routes[j], routes[i])
		}
		return less(routes[i], routes[j])
	})
}

func (h *Handler) handleCacheStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"cache":          h.cache.Diagnostics(),
		"cache_hit_rate": h.recorder.HitRate(),
	})
}

func (h *Handler) handleCacheRefresh(w http.ResponseWriter, r *http.Request) {
	if err := h.cache.RefreshAll(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// RateLimitResetRequest optionally names one key; an empty body clears all.
type RateLimitResetRequest struct {
	Key string `json:"key"`
}

func (h *Handler) handleRateLimitReset(w http.ResponseWriter, r *http.Request) {
	if h.limiter == nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}
	// An empty body clears every key; anything else must parse.
	var req RateLimitResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body", nil)
		return
	}
	if req.Key != "" {
		h.limiter.Reset(req.Key)
	} else {
		h.limiter.ResetAll()
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
