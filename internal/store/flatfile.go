package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FlatFileStore implements Store using JSON snapshot files. Every read loads
// the whole file, every write rewrites it atomically via a temp file and
// rename. A single mutex serializes read-modify-write sequences, which is
// what makes view increments safe on this backend.
type FlatFileStore struct {
	mu      sync.Mutex
	dataDir string
}

type videoMeta struct {
	AddedDate float64 `json:"added_date"`
	FileSize  int64   `json:"file_size"`
}

type favoritesFile struct {
	Favorites []string `json:"favorites"`
}

// NewFlatFileStore creates a snapshot store rooted at dataDir.
func NewFlatFileStore(dataDir string) (*FlatFileStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}
	return &FlatFileStore{dataDir: dataDir}, nil
}

func (s *FlatFileStore) path(name string) string {
	return filepath.Join(s.dataDir, name)
}

// loadJSON fills out from the named snapshot; a missing file leaves out at
// its zero value.
func (s *FlatFileStore) loadJSON(name string, out any) error {
	data, err := os.ReadFile(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (s *FlatFileStore) saveJSON(name string, in any) error {
	data, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path(name) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path(name)); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func (s *FlatFileStore) loadRatings() (map[string]int, error) {
	ratings := make(map[string]int)
	return ratings, s.loadJSON("ratings.json", &ratings)
}

func (s *FlatFileStore) loadViews() (map[string]int, error) {
	views := make(map[string]int)
	return views, s.loadJSON("views.json", &views)
}

func (s *FlatFileStore) loadTags() (map[string][]string, error) {
	tags := make(map[string][]string)
	return tags, s.loadJSON("tags.json", &tags)
}

func (s *FlatFileStore) loadFavorites() ([]string, error) {
	var f favoritesFile
	if err := s.loadJSON("favorites.json", &f); err != nil {
		return nil, err
	}
	if f.Favorites == nil {
		f.Favorites = []string{}
	}
	return f.Favorites, nil
}

func (s *FlatFileStore) loadVideos() (map[string]videoMeta, error) {
	videos := make(map[string]videoMeta)
	return videos, s.loadJSON("videos.json", &videos)
}

func (s *FlatFileStore) GetRatings(ctx context.Context) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadRatings()
}

func (s *FlatFileStore) GetViews(ctx context.Context) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadViews()
}

func (s *FlatFileStore) GetTags(ctx context.Context) (map[string][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadTags()
}

func (s *FlatFileStore) GetFavorites(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadFavorites()
}

func (s *FlatFileStore) GetAllFilenames(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	videos, err := s.loadVideos()
	if err != nil {
		return nil, err
	}
	filenames := make([]string, 0, len(videos))
	for filename := range videos {
		filenames = append(filenames, filename)
	}
	sort.Strings(filenames)
	return filenames, nil
}

// assemble joins all snapshot files into full Video records.
func (s *FlatFileStore) assemble() (map[string]*Video, error) {
	videos, err := s.loadVideos()
	if err != nil {
		return nil, err
	}
	ratings, err := s.loadRatings()
	if err != nil {
		return nil, err
	}
	views, err := s.loadViews()
	if err != nil {
		return nil, err
	}
	tags, err := s.loadTags()
	if err != nil {
		return nil, err
	}
	favorites, err := s.loadFavorites()
	if err != nil {
		return nil, err
	}
	favoriteSet := make(map[string]bool, len(favorites))
	for _, f := range favorites {
		favoriteSet[f] = true
	}

	out := make(map[string]*Video, len(videos))
	for filename, meta := range videos {
		t := tags[filename]
		if t == nil {
			t = []string{}
		}
		out[filename] = &Video{
			Filename:   filename,
			AddedDate:  meta.AddedDate,
			FileSize:   meta.FileSize,
			Rating:     ratings[filename],
			Views:      views[filename],
			Tags:       t,
			IsFavorite: favoriteSet[filename],
		}
	}
	return out, nil
}

func (s *FlatFileStore) GetAllVideos(ctx context.Context, sortBy, order string) ([]*Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byName, err := s.assemble()
	if err != nil {
		return nil, err
	}
	videos := make([]*Video, 0, len(byName))
	for _, v := range byName {
		videos = append(videos, v)
	}
	SortVideos(videos, sortBy, order)
	return videos, nil
}

func (s *FlatFileStore) GetVideo(ctx context.Context, filename string) (*Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byName, err := s.assemble()
	if err != nil {
		return nil, err
	}
	v, ok := byName[filename]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (s *FlatFileStore) GetVideosByTag(ctx context.Context, tag string) ([]*Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byName, err := s.assemble()
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(tag)
	var matched []*Video
	for _, v := range byName {
		for _, t := range v.Tags {
			if strings.Contains(strings.ToLower(t), needle) {
				matched = append(matched, v)
				break
			}
		}
	}
	SortVideos(matched, "date", "desc")
	return matched, nil
}

func (s *FlatFileStore) UpsertVideo(ctx context.Context, filename string, addedDate float64, size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	videos, err := s.loadVideos()
	if err != nil {
		return err
	}
	videos[filename] = videoMeta{AddedDate: addedDate, FileSize: size}
	return s.saveJSON("videos.json", videos)
}

func (s *FlatFileStore) RemoveVideo(ctx context.Context, filename string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	videos, err := s.loadVideos()
	if err != nil {
		return err
	}
	if _, ok := videos[filename]; !ok {
		return ErrNotFound
	}
	delete(videos, filename)
	if err := s.saveJSON("videos.json", videos); err != nil {
		return err
	}

	// Drop dependent records the way the relational backend cascades.
	if ratings, err := s.loadRatings(); err == nil {
		if _, ok := ratings[filename]; ok {
			delete(ratings, filename)
			if err := s.saveJSON("ratings.json", ratings); err != nil {
				return err
			}
		}
	}
	if views, err := s.loadViews(); err == nil {
		if _, ok := views[filename]; ok {
			delete(views, filename)
			if err := s.saveJSON("views.json", views); err != nil {
				return err
			}
		}
	}
	if tags, err := s.loadTags(); err == nil {
		if _, ok := tags[filename]; ok {
			delete(tags, filename)
			if err := s.saveJSON("tags.json", tags); err != nil {
				return err
			}
		}
	}
	favorites, err := s.loadFavorites()
	if err != nil {
		return err
	}
	kept := favorites[:0]
	for _, f := range favorites {
		if f != filename {
			kept = append(kept, f)
		}
	}
	if len(kept) != len(favorites) {
		return s.saveJSON("favorites.json", favoritesFile{Favorites: kept})
	}
	return nil
}

func (s *FlatFileStore) UpdateRating(ctx context.Context, filename string, rating int) error {
	if rating < 1 || rating > 5 {
		return &ValidationError{Field: "rating", Reason: "must be between 1 and 5"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ratings, err := s.loadRatings()
	if err != nil {
		return err
	}
	ratings[filename] = rating
	return s.saveJSON("ratings.json", ratings)
}

func (s *FlatFileStore) IncrementView(ctx context.Context, filename string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	views, err := s.loadViews()
	if err != nil {
		return 0, err
	}
	views[filename]++
	if err := s.saveJSON("views.json", views); err != nil {
		return 0, err
	}
	return views[filename], nil
}

func (s *FlatFileStore) AddTag(ctx context.Context, filename, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tags, err := s.loadTags()
	if err != nil {
		return err
	}
	for _, existing := range tags[filename] {
		if existing == tag {
			return nil
		}
	}
	tags[filename] = append(tags[filename], tag)
	return s.saveJSON("tags.json", tags)
}

func (s *FlatFileStore) RemoveTag(ctx context.Context, filename, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tags, err := s.loadTags()
	if err != nil {
		return err
	}
	current, ok := tags[filename]
	if !ok {
		return nil
	}
	kept := current[:0]
	for _, t := range current {
		if t != tag {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(tags, filename)
	} else {
		tags[filename] = kept
	}
	return s.saveJSON("tags.json", tags)
}

func (s *FlatFileStore) ToggleFavorite(ctx context.Context, filename string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	favorites, err := s.loadFavorites()
	if err != nil {
		return false, err
	}
	kept := make([]string, 0, len(favorites)+1)
	removed := false
	for _, f := range favorites {
		if f == filename {
			removed = true
			continue
		}
		kept = append(kept, f)
	}
	nowFavorite := !removed
	if nowFavorite {
		// Newest first, matching the relational backend's ordering.
		kept = append([]string{filename}, kept...)
	}
	if err := s.saveJSON("favorites.json", favoritesFile{Favorites: kept}); err != nil {
		return false, err
	}
	return nowFavorite, nil
}

func (s *FlatFileStore) Close() error { return nil }

// SortVideos orders videos in place by the given key. The sort is stable so
// equal keys keep their prior relative order.
func SortVideos(videos []*Video, sortBy, order string) {
	desc := !strings.EqualFold(order, "asc")
	less := func(a, b *Video) bool {
		switch sortBy {
		case "title", "filename":
			return a.Filename < b.Filename
		case "rating":
			return a.Rating < b.Rating
		case "views":
			return a.Views < b.Views
		default: // date
			return a.AddedDate < b.AddedDate
		}
	}
	sort.SliceStable(videos, func(i, j int) bool {
		if desc {
			return less(videos[j], videos[i])
		}
		return less(videos[i], videos[j])
	})
}
