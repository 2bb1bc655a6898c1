package cache

import (
	"sort"
	"strings"

	"vidvault/internal/store"
)

// Weights for the fallback related-video ranking. Tag overlap dominates;
// rating, views (capped so a runaway counter cannot drown the rest), and
// recency act as tie-breaking signals.
const (
	overlapWeight = 3.0
	ratingWeight  = 0.6
	viewsCap      = 5000
	viewsDivisor  = 500.0
	recencyScale  = 1e9
	recencyWeight = 0.1
)

type scoredVideo struct {
	video *store.Video
	score float64
}

// ScoreRelated ranks every video sharing at least one tag with target.
// Used only when the active backend has no native shared-tag query.
// Ordering is fully deterministic: score, overlap, rating, views descending,
// then filename.
func ScoreRelated(target string, tags map[string][]string, ratings, views map[string]int, added map[string]float64, limit int) []*store.Video {
	targetTags := lowerSet(tags[target])
	if len(targetTags) == 0 {
		return []*store.Video{}
	}

	var candidates []scoredVideo
	for filename, candidateTags := range tags {
		if filename == target {
			continue
		}
		overlap := 0
		for _, tag := range candidateTags {
			if targetTags[strings.ToLower(tag)] {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}

		rating := ratings[filename]
		viewCount := views[filename]
		cappedViews := viewCount
		if cappedViews > viewsCap {
			cappedViews = viewsCap
		}
		score := overlapWeight*float64(overlap) +
			ratingWeight*float64(rating) +
			float64(cappedViews)/viewsDivisor +
			(added[filename]/recencyScale)*recencyWeight

		t := tags[filename]
		if t == nil {
			t = []string{}
		}
		candidates = append(candidates, scoredVideo{
			video: &store.Video{
				Filename:   filename,
				AddedDate:  added[filename],
				Rating:     rating,
				Views:      viewCount,
				Tags:       append([]string(nil), t...),
				TagOverlap: overlap,
			},
			score: score,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.video.TagOverlap != b.video.TagOverlap {
			return a.video.TagOverlap > b.video.TagOverlap
		}
		if a.video.Rating != b.video.Rating {
			return a.video.Rating > b.video.Rating
		}
		if a.video.Views != b.video.Views {
			return a.video.Views > b.video.Views
		}
		return a.video.Filename < b.video.Filename
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]*store.Video, len(candidates))
	for i, c := range candidates {
		out[i] = c.video
	}
	return out
}

func lowerSet(tags []string) map[string]bool {
	set := make(map[string]bool, len(tags))
	for _, tag := range tags {
		set[strings.ToLower(tag)] = true
	}
	return set
}
