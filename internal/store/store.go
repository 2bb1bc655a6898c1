package store

import (
	"context"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("not found")

// ValidationError indicates a caller-supplied value was rejected before any
// durable write happened. It maps to a 4xx at the HTTP layer.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Video is the denormalized per-file record both backends produce.
type Video struct {
	Filename   string   `json:"filename"`
	AddedDate  float64  `json:"added_date"` // unix seconds
	FileSize   int64    `json:"file_size"`
	Rating     int      `json:"rating"`
	Views      int      `json:"views"`
	Tags       []string `json:"tags"`
	IsFavorite bool     `json:"is_favorite"`
	TagOverlap int      `json:"tag_overlap,omitempty"`
}

// TagCount is one entry of the popular-tag ranking.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// Store defines the interface for video metadata persistence. Two
// implementations exist: SQLiteStore and FlatFileStore. The backend is
// chosen once at startup; callers never branch on the concrete type.
type Store interface {
	GetRatings(ctx context.Context) (map[string]int, error)
	GetViews(ctx context.Context) (map[string]int, error)
	GetTags(ctx context.Context) (map[string][]string, error)
	GetFavorites(ctx context.Context) ([]string, error)
	GetAllFilenames(ctx context.Context) ([]string, error)
	GetAllVideos(ctx context.Context, sortBy, order string) ([]*Video, error)
	GetVideo(ctx context.Context, filename string) (*Video, error)
	GetVideosByTag(ctx context.Context, tag string) ([]*Video, error)

	UpsertVideo(ctx context.Context, filename string, addedDate float64, size int64) error
	RemoveVideo(ctx context.Context, filename string) error
	UpdateRating(ctx context.Context, filename string, rating int) error
	IncrementView(ctx context.Context, filename string) (int, error)
	AddTag(ctx context.Context, filename, tag string) error
	RemoveTag(ctx context.Context, filename, tag string) error
	ToggleFavorite(ctx context.Context, filename string) (bool, error)

	Close() error
}

// RelatedQuerier is an optional interface for backends that can answer
// "related by shared tag" natively. Callers fall back to in-memory scoring
// when the active backend does not implement it.
type RelatedQuerier interface {
	GetRelatedVideos(ctx context.Context, filename string, limit int) ([]*Video, error)
}

// PopularTagQuerier is an optional interface for backends with a native
// tag-frequency ranking.
type PopularTagQuerier interface {
	GetPopularTags(ctx context.Context, limit int) ([]TagCount, error)
}

// NativeSorter marks backends whose GetAllVideos honors sortBy/order
// natively. Without it the cache layer sorts merged category maps itself.
type NativeSorter interface {
	SortsNatively() bool
}
