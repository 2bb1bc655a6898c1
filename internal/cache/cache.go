// Package cache holds the read-optimized in-memory layer between the HTTP
// handlers and the persistence backend. Reads are served from per-category
// TTL-bounded copies; writes go to the backend first and invalidate the
// cached category, so the cache never holds uncommitted data.
package cache

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"vidvault/internal/logging"
	"vidvault/internal/store"
)

type category string

const (
	categoryRatings     category = "ratings"
	categoryViews       category = "views"
	categoryTags        category = "tags"
	categoryFavorites   category = "favorites"
	categoryVideoList   category = "video_list"
	categoryPopularTags category = "popular_tags"
)

var allCategories = []category{
	categoryRatings, categoryViews, categoryTags,
	categoryFavorites, categoryVideoList, categoryPopularTags,
}

// DefaultTTL is the general category TTL. The video list uses a tighter
// bound (MaxVideoListTTL) so new files are detected faster.
const (
	DefaultTTL        = 5 * time.Minute
	MaxVideoListTTL   = time.Minute
	popularTagsLimit  = 50
	defaultBestRating = 4
)

// Observer receives cache hit/miss events. The metrics recorder satisfies
// this; a nil observer disables reporting.
type Observer interface {
	CacheHit()
	CacheMiss()
}

// Config controls cache construction.
type Config struct {
	TTL      time.Duration // zero means DefaultTTL
	MediaDir string
	Backend  string // backend name, reported in diagnostics
	Observer Observer
}

type fileMeta struct {
	addedDate float64
	size      int64
}

// RatingSummary reports the single-rating model: the one stored value is
// both the only rating and its own average.
type RatingSummary struct {
	Average float64 `json:"average"`
	Count   int     `json:"count"`
	Value   int     `json:"value"`
}

// VideoCache is the TTL cache / write-through coordinator.
type VideoCache struct {
	st       store.Store
	related  store.RelatedQuerier   // nil when the backend has no native query
	popular  store.PopularTagQuerier
	native   bool                   // backend sorts GetAllVideos itself
	mediaDir string
	backend  string
	observer Observer

	ttl          time.Duration
	videoListTTL time.Duration

	mu          sync.Mutex
	ratings     map[string]int
	views       map[string]int
	tags        map[string][]string
	favorites   []string
	videoList   []string
	popularTags []store.TagCount
	meta        map[string]fileMeta
	lastRefresh map[category]time.Time

	sf  singleflight.Group
	now func() time.Time
}

// New builds a cache over the given backend. Native related/popular/sort
// capabilities are detected once here; call sites never branch on the
// concrete store type.
func New(st store.Store, cfg Config) *VideoCache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	videoListTTL := ttl
	if videoListTTL > MaxVideoListTTL {
		videoListTTL = MaxVideoListTTL
	}

	c := &VideoCache{
		st:           st,
		mediaDir:     cfg.MediaDir,
		backend:      cfg.Backend,
		observer:     cfg.Observer,
		ttl:          ttl,
		videoListTTL: videoListTTL,
		ratings:      map[string]int{},
		views:        map[string]int{},
		tags:         map[string][]string{},
		meta:         map[string]fileMeta{},
		lastRefresh:  map[category]time.Time{},
		now:          time.Now,
	}
	if rq, ok := st.(store.RelatedQuerier); ok {
		c.related = rq
	}
	if pq, ok := st.(store.PopularTagQuerier); ok {
		c.popular = pq
	}
	if ns, ok := st.(store.NativeSorter); ok {
		c.native = ns.SortsNatively()
	}
	return c
}

func (c *VideoCache) ttlFor(cat category) time.Duration {
	if cat == categoryVideoList {
		return c.videoListTTL
	}
	return c.ttl
}

// validLocked reports whether the category is within its TTL. Callers hold mu.
func (c *VideoCache) validLocked(cat category) bool {
	last, ok := c.lastRefresh[cat]
	if !ok || last.IsZero() {
		return false
	}
	return c.now().Sub(last) < c.ttlFor(cat)
}

func (c *VideoCache) recordHit() {
	if c.observer != nil {
		c.observer.CacheHit()
	}
}

func (c *VideoCache) recordMiss() {
	if c.observer != nil {
		c.observer.CacheMiss()
	}
}

// ensureFresh reloads a stale category from the backend. Concurrent callers
// for the same category collapse into a single backend load; the validity
// double-check inside the flight keeps a freshly completed reload from
// running again.
func (c *VideoCache) ensureFresh(ctx context.Context, cat category) error {
	c.mu.Lock()
	valid := c.validLocked(cat)
	c.mu.Unlock()
	if valid {
		c.recordHit()
		return nil
	}
	c.recordMiss()

	_, err, _ := c.sf.Do(string(cat), func() (any, error) {
		c.mu.Lock()
		stillValid := c.validLocked(cat)
		c.mu.Unlock()
		if stillValid {
			return nil, nil
		}
		return nil, c.load(ctx, cat)
	})
	return err
}

func (c *VideoCache) load(ctx context.Context, cat category) error {
	switch cat {
	case categoryRatings:
		ratings, err := c.st.GetRatings(ctx)
		if err != nil {
			return err
		}
		c.storeValue(cat, func() { c.ratings = ratings })
	case categoryViews:
		views, err := c.st.GetViews(ctx)
		if err != nil {
			return err
		}
		c.storeValue(cat, func() { c.views = views })
	case categoryTags:
		tags, err := c.st.GetTags(ctx)
		if err != nil {
			return err
		}
		c.storeValue(cat, func() { c.tags = tags })
	case categoryFavorites:
		favorites, err := c.st.GetFavorites(ctx)
		if err != nil {
			return err
		}
		c.storeValue(cat, func() { c.favorites = favorites })
	case categoryVideoList:
		return c.loadVideoList(ctx)
	case categoryPopularTags:
		return c.loadPopularTags(ctx)
	}
	return nil
}

func (c *VideoCache) storeValue(cat category, assign func()) {
	c.mu.Lock()
	assign()
	c.lastRefresh[cat] = c.now()
	c.mu.Unlock()
}

func isVideoFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp4", ".webm", ".ogg":
		return true
	}
	return false
}

// loadVideoList scans the media directory and reconciles the backend with
// it: rows without a file on disk are pruned, files without a row are
// inserted with their captured timestamps. Filesystem and backend work all
// happens before the cache lock is taken.
func (c *VideoCache) loadVideoList(ctx context.Context) error {
	entries, err := os.ReadDir(c.mediaDir)
	if err != nil {
		// A missing media directory means an empty listing, never a
		// reconciliation: pruning backend rows because a volume is
		// unmounted would cascade away ratings, tags and favorites.
		if os.IsNotExist(err) {
			logging.Cache.Printf("warning: media directory %s does not exist", c.mediaDir)
			c.storeValue(categoryVideoList, func() {
				c.videoList = nil
				c.meta = map[string]fileMeta{}
			})
			return nil
		}
		return err
	}

	onDisk := map[string]fileMeta{}
	for _, entry := range entries {
		if entry.IsDir() || !isVideoFile(entry.Name()) {
			continue
		}
		meta := fileMeta{}
		if info, err := entry.Info(); err == nil {
			meta.addedDate = float64(info.ModTime().Unix())
			meta.size = info.Size()
		}
		onDisk[entry.Name()] = meta
	}

	known, err := c.st.GetAllFilenames(ctx)
	if err != nil {
		return err
	}
	pruned, inserted := 0, 0
	knownSet := make(map[string]bool, len(known))
	for _, filename := range known {
		knownSet[filename] = true
		if _, exists := onDisk[filename]; !exists {
			if err := c.st.RemoveVideo(ctx, filename); err != nil && err != store.ErrNotFound {
				return err
			}
			pruned++
		}
	}
	for filename, meta := range onDisk {
		if !knownSet[filename] {
			if err := c.st.UpsertVideo(ctx, filename, meta.addedDate, meta.size); err != nil {
				return err
			}
			inserted++
		}
	}
	if pruned > 0 || inserted > 0 {
		logging.Cache.Printf("reconciled media directory: %d inserted, %d pruned", inserted, pruned)
	}

	names := make([]string, 0, len(onDisk))
	for filename := range onDisk {
		names = append(names, filename)
	}
	sort.Strings(names)

	c.storeValue(categoryVideoList, func() {
		c.videoList = names
		c.meta = onDisk
	})
	return nil
}

func (c *VideoCache) loadPopularTags(ctx context.Context) error {
	if c.popular != nil {
		popular, err := c.popular.GetPopularTags(ctx, popularTagsLimit)
		if err != nil {
			return err
		}
		c.storeValue(categoryPopularTags, func() { c.popularTags = popular })
		return nil
	}

	tags, err := c.GetTags(ctx)
	if err != nil {
		return err
	}
	counts := map[string]int{}
	for _, list := range tags {
		for _, tag := range list {
			counts[tag]++
		}
	}
	popular := make([]store.TagCount, 0, len(counts))
	for tag, count := range counts {
		popular = append(popular, store.TagCount{Tag: tag, Count: count})
	}
	sort.Slice(popular, func(i, j int) bool {
		if popular[i].Count != popular[j].Count {
			return popular[i].Count > popular[j].Count
		}
		return strings.ToLower(popular[i].Tag) < strings.ToLower(popular[j].Tag)
	})
	if len(popular) > popularTagsLimit {
		popular = popular[:popularTagsLimit]
	}
	c.storeValue(categoryPopularTags, func() { c.popularTags = popular })
	return nil
}

// --- category reads (defensive copies) ------------------------------------

func (c *VideoCache) GetRatings(ctx context.Context) (map[string]int, error) {
	if err := c.ensureFresh(ctx, categoryRatings); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyIntMap(c.ratings), nil
}

func (c *VideoCache) GetViews(ctx context.Context) (map[string]int, error) {
	if err := c.ensureFresh(ctx, categoryViews); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyIntMap(c.views), nil
}

func (c *VideoCache) GetTags(ctx context.Context) (map[string][]string, error) {
	if err := c.ensureFresh(ctx, categoryTags); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][]string, len(c.tags))
	for filename, tags := range c.tags {
		out[filename] = append([]string(nil), tags...)
	}
	return out, nil
}

func (c *VideoCache) GetFavorites(ctx context.Context) ([]string, error) {
	if err := c.ensureFresh(ctx, categoryFavorites); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.favorites...), nil
}

func (c *VideoCache) GetVideoList(ctx context.Context) ([]string, error) {
	if err := c.ensureFresh(ctx, categoryVideoList); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.videoList...), nil
}

func (c *VideoCache) GetPopularTags(ctx context.Context, limit int) ([]store.TagCount, error) {
	if err := c.ensureFresh(ctx, categoryPopularTags); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	popular := append([]store.TagCount(nil), c.popularTags...)
	if limit > 0 && len(popular) > limit {
		popular = popular[:limit]
	}
	return popular, nil
}

func copyIntMap(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// --- invalidation ----------------------------------------------------------

func (c *VideoCache) invalidate(cats ...category) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cat := range cats {
		c.lastRefresh[cat] = time.Time{}
		switch cat {
		case categoryRatings:
			c.ratings = map[string]int{}
		case categoryViews:
			c.views = map[string]int{}
		case categoryTags:
			c.tags = map[string][]string{}
		case categoryFavorites:
			c.favorites = nil
		case categoryVideoList:
			c.videoList = nil
		case categoryPopularTags:
			c.popularTags = nil
		}
	}
}

// InvalidateAll resets every category; the next read of each reloads from
// the backend.
func (c *VideoCache) InvalidateAll() {
	c.invalidate(allCategories...)
}

// RefreshAll invalidates everything and warms each category back up.
func (c *VideoCache) RefreshAll(ctx context.Context) error {
	c.InvalidateAll()
	for _, cat := range allCategories {
		if err := c.ensureFresh(ctx, cat); err != nil {
			return err
		}
	}
	return nil
}

// --- write-through operations ----------------------------------------------

// mediaExists checks the file on disk; write paths refuse identifiers that
// do not correspond to a real file.
func (c *VideoCache) mediaExists(filename string) bool {
	if filename == "" || strings.ContainsAny(filename, "/\\") {
		return false
	}
	_, err := os.Stat(filepath.Join(c.mediaDir, filename))
	return err == nil
}

// UpdateRating validates, writes through to the backend, then invalidates
// the cached ratings so the next read reflects backend truth.
func (c *VideoCache) UpdateRating(ctx context.Context, filename string, rating int) (RatingSummary, error) {
	if rating < 1 || rating > 5 {
		return RatingSummary{}, &store.ValidationError{Field: "rating", Reason: "must be between 1 and 5"}
	}
	if !c.mediaExists(filename) {
		return RatingSummary{}, store.ErrNotFound
	}
	if err := c.st.UpdateRating(ctx, filename, rating); err != nil {
		return RatingSummary{}, err
	}
	c.invalidate(categoryRatings)
	return c.GetRatingSummary(ctx, filename)
}

// GetRatingSummary reports the single-rating model: average equals the
// stored value with count 1, or zeros when unrated.
func (c *VideoCache) GetRatingSummary(ctx context.Context, filename string) (RatingSummary, error) {
	ratings, err := c.GetRatings(ctx)
	if err != nil {
		return RatingSummary{}, err
	}
	if value, ok := ratings[filename]; ok && value > 0 {
		return RatingSummary{Average: float64(value), Count: 1, Value: value}, nil
	}
	return RatingSummary{}, nil
}

// IncrementView bumps the view counter durably and returns the new count.
func (c *VideoCache) IncrementView(ctx context.Context, filename string) (int, error) {
	if !c.mediaExists(filename) {
		return 0, store.ErrNotFound
	}
	count, err := c.st.IncrementView(ctx, filename)
	if err != nil {
		return 0, err
	}
	c.invalidate(categoryViews)
	return count, nil
}

// NormalizeTag trims whitespace and guarantees the "#" prefix.
func NormalizeTag(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return ""
	}
	if !strings.HasPrefix(tag, "#") {
		tag = "#" + tag
	}
	return tag
}

// AddTag appends a tag unless an equal tag (compared case-insensitively)
// already exists. Tag mutations also invalidate the popular-tag ranking,
// which is derived from tag frequency.
func (c *VideoCache) AddTag(ctx context.Context, filename, tag string) ([]string, error) {
	tag = NormalizeTag(tag)
	if tag == "" || tag == "#" {
		return nil, &store.ValidationError{Field: "tag", Reason: "must not be empty"}
	}
	if !c.mediaExists(filename) {
		return nil, store.ErrNotFound
	}

	tags, err := c.GetTags(ctx)
	if err != nil {
		return nil, err
	}
	current := tags[filename]
	for _, existing := range current {
		if strings.EqualFold(existing, tag) {
			return current, nil
		}
	}

	if err := c.st.AddTag(ctx, filename, tag); err != nil {
		return nil, err
	}
	c.invalidate(categoryTags, categoryPopularTags)
	return append(append([]string(nil), current...), tag), nil
}

// RemoveTag deletes every stored tag equal (case-insensitively) to the
// given one.
func (c *VideoCache) RemoveTag(ctx context.Context, filename, tag string) ([]string, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return nil, &store.ValidationError{Field: "tag", Reason: "must not be empty"}
	}

	tags, err := c.GetTags(ctx)
	if err != nil {
		return nil, err
	}
	current, ok := tags[filename]
	if !ok || len(current) == 0 {
		return nil, store.ErrNotFound
	}

	var kept []string
	for _, existing := range current {
		if strings.EqualFold(existing, tag) || strings.EqualFold(existing, NormalizeTag(tag)) {
			if err := c.st.RemoveTag(ctx, filename, existing); err != nil {
				return nil, err
			}
			continue
		}
		kept = append(kept, existing)
	}
	c.invalidate(categoryTags, categoryPopularTags)
	if kept == nil {
		kept = []string{}
	}
	return kept, nil
}

// ToggleFavorite adds the video when absent, removes it when present, and
// returns the new state.
func (c *VideoCache) ToggleFavorite(ctx context.Context, filename string) (bool, error) {
	if !c.mediaExists(filename) {
		return false, store.ErrNotFound
	}
	nowFavorite, err := c.st.ToggleFavorite(ctx, filename)
	if err != nil {
		return false, err
	}
	c.invalidate(categoryFavorites)
	return nowFavorite, nil
}

// --- bulk reads --------------------------------------------------------------

// GetVideo assembles a single record from the cached categories.
func (c *VideoCache) GetVideo(ctx context.Context, filename string) (*store.Video, error) {
	videos, err := c.mergeRecords(ctx)
	if err != nil {
		return nil, err
	}
	for _, v := range videos {
		if v.Filename == filename {
			return v, nil
		}
	}
	return nil, store.ErrNotFound
}

// mergeRecords builds full records from the cached category maps, in
// video-list order.
func (c *VideoCache) mergeRecords(ctx context.Context) ([]*store.Video, error) {
	list, err := c.GetVideoList(ctx)
	if err != nil {
		return nil, err
	}
	ratings, err := c.GetRatings(ctx)
	if err != nil {
		return nil, err
	}
	views, err := c.GetViews(ctx)
	if err != nil {
		return nil, err
	}
	tags, err := c.GetTags(ctx)
	if err != nil {
		return nil, err
	}
	favorites, err := c.GetFavorites(ctx)
	if err != nil {
		return nil, err
	}
	favoriteSet := make(map[string]bool, len(favorites))
	for _, f := range favorites {
		favoriteSet[f] = true
	}

	c.mu.Lock()
	meta := make(map[string]fileMeta, len(c.meta))
	for k, v := range c.meta {
		meta[k] = v
	}
	c.mu.Unlock()

	videos := make([]*store.Video, 0, len(list))
	for _, filename := range list {
		t := tags[filename]
		if t == nil {
			t = []string{}
		}
		m := meta[filename]
		videos = append(videos, &store.Video{
			Filename:   filename,
			AddedDate:  m.addedDate,
			FileSize:   m.size,
			Rating:     ratings[filename],
			Views:      views[filename],
			Tags:       t,
			IsFavorite: favoriteSet[filename],
		})
	}
	return videos, nil
}

// GetAllRecords returns the full sorted listing. Backends that sort natively
// are delegated to; otherwise records are merged from the cached categories
// and sorted in memory with a stable sort. limit <= 0 means no limit.
func (c *VideoCache) GetAllRecords(ctx context.Context, sortBy, order string, limit, offset int) ([]*store.Video, error) {
	var videos []*store.Video
	if c.native {
		// The video-list refresh keeps backend rows reconciled with disk.
		list, err := c.GetVideoList(ctx)
		if err != nil {
			return nil, err
		}
		onDisk := make(map[string]bool, len(list))
		for _, filename := range list {
			onDisk[filename] = true
		}
		all, err := c.st.GetAllVideos(ctx, sortBy, order)
		if err != nil {
			return nil, err
		}
		for _, v := range all {
			if onDisk[v.Filename] {
				videos = append(videos, v)
			}
		}
	} else {
		merged, err := c.mergeRecords(ctx)
		if err != nil {
			return nil, err
		}
		store.SortVideos(merged, sortBy, order)
		videos = merged
	}

	if offset > 0 {
		if offset >= len(videos) {
			return []*store.Video{}, nil
		}
		videos = videos[offset:]
	}
	if limit > 0 && len(videos) > limit {
		videos = videos[:limit]
	}
	return videos, nil
}

// GetRelatedVideos delegates to the backend's native shared-tag query when
// available and otherwise falls back to the in-memory scorer.
func (c *VideoCache) GetRelatedVideos(ctx context.Context, filename string, limit int) ([]*store.Video, error) {
	if limit <= 0 {
		limit = 20
	}
	if c.related != nil {
		list, err := c.GetVideoList(ctx)
		if err != nil {
			return nil, err
		}
		onDisk := make(map[string]bool, len(list))
		for _, f := range list {
			onDisk[f] = true
		}
		related, err := c.related.GetRelatedVideos(ctx, filename, limit)
		if err != nil {
			return nil, err
		}
		kept := related[:0]
		for _, v := range related {
			if onDisk[v.Filename] {
				kept = append(kept, v)
			}
		}
		return kept, nil
	}

	tags, err := c.GetTags(ctx)
	if err != nil {
		return nil, err
	}
	ratings, err := c.GetRatings(ctx)
	if err != nil {
		return nil, err
	}
	views, err := c.GetViews(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := c.GetVideoList(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	added := make(map[string]float64, len(c.meta))
	for f, m := range c.meta {
		added[f] = m.addedDate
	}
	c.mu.Unlock()

	return ScoreRelated(filename, tags, ratings, views, added, limit), nil
}

// GetVideosByTag returns every on-disk video carrying the tag.
func (c *VideoCache) GetVideosByTag(ctx context.Context, tag string) ([]*store.Video, error) {
	list, err := c.GetVideoList(ctx)
	if err != nil {
		return nil, err
	}
	onDisk := make(map[string]bool, len(list))
	for _, f := range list {
		onDisk[f] = true
	}
	videos, err := c.st.GetVideosByTag(ctx, strings.TrimPrefix(tag, "#"))
	if err != nil {
		return nil, err
	}
	kept := videos[:0]
	for _, v := range videos {
		if onDisk[v.Filename] {
			kept = append(kept, v)
		}
	}
	return kept, nil
}

// AllUniqueTags returns every distinct tag, sorted case-insensitively.
func (c *VideoCache) AllUniqueTags(ctx context.Context) ([]string, error) {
	tags, err := c.GetTags(ctx)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var unique []string
	for _, list := range tags {
		for _, tag := range list {
			if !seen[tag] {
				seen[tag] = true
				unique = append(unique, tag)
			}
		}
	}
	sort.Slice(unique, func(i, j int) bool {
		return strings.ToLower(unique[i]) < strings.ToLower(unique[j])
	})
	return unique, nil
}

// RandomVideo picks one filename from the current listing.
func (c *VideoCache) RandomVideo(ctx context.Context) (string, error) {
	list, err := c.GetVideoList(ctx)
	if err != nil {
		return "", err
	}
	if len(list) == 0 {
		return "", store.ErrNotFound
	}
	return list[rand.Intn(len(list))], nil
}

// BestOf returns videos rated defaultBestRating or higher, best first.
func (c *VideoCache) BestOf(ctx context.Context) ([]*store.Video, error) {
	videos, err := c.GetAllRecords(ctx, "rating", "desc", 0, 0)
	if err != nil {
		return nil, err
	}
	var best []*store.Video
	for _, v := range videos {
		if v.Rating >= defaultBestRating {
			best = append(best, v)
		}
	}
	return best, nil
}

// --- diagnostics -------------------------------------------------------------

// CategoryStatus describes one cached category for the admin surface.
type CategoryStatus struct {
	LastRefresh time.Time `json:"last_refresh"`
	AgeSeconds  float64   `json:"age_seconds"`
	Valid       bool      `json:"valid"`
	Entries     int       `json:"entries"`
}

// Diagnostics is the point-in-time cache section of the admin snapshot.
type Diagnostics struct {
	Backend    string                    `json:"backend"`
	Categories map[string]CategoryStatus `json:"categories"`
}

func (c *VideoCache) Diagnostics() Diagnostics {
	c.mu.Lock()
	defer c.mu.Unlock()

	sizes := map[category]int{
		categoryRatings:     len(c.ratings),
		categoryViews:       len(c.views),
		categoryTags:        len(c.tags),
		categoryFavorites:   len(c.favorites),
		categoryVideoList:   len(c.videoList),
		categoryPopularTags: len(c.popularTags),
	}

	now := c.now()
	categories := make(map[string]CategoryStatus, len(allCategories))
	for _, cat := range allCategories {
		last := c.lastRefresh[cat]
		status := CategoryStatus{
			LastRefresh: last,
			Valid:       c.validLocked(cat),
			Entries:     sizes[cat],
		}
		if !last.IsZero() {
			status.AgeSeconds = now.Sub(last).Seconds()
		}
		categories[string(cat)] = status
	}
	return Diagnostics{Backend: c.backend, Categories: categories}
}
