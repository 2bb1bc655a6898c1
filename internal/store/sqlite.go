package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

const (
	lockedRetryAttempts = 5
	lockedRetryBase     = 100 * time.Millisecond
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-backed store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS videos (
			filename TEXT PRIMARY KEY,
			added_date REAL NOT NULL DEFAULT 0,
			file_size INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS ratings (
			filename TEXT PRIMARY KEY REFERENCES videos(filename) ON DELETE CASCADE,
			rating INTEGER CHECK (rating >= 1 AND rating <= 5),
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS views (
			filename TEXT PRIMARY KEY REFERENCES videos(filename) ON DELETE CASCADE,
			view_count INTEGER NOT NULL DEFAULT 0,
			last_viewed TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS video_tags (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			filename TEXT REFERENCES videos(filename) ON DELETE CASCADE,
			tag TEXT NOT NULL,
			UNIQUE(filename, tag)
		);

		CREATE TABLE IF NOT EXISTS favorites (
			filename TEXT PRIMARY KEY REFERENCES videos(filename) ON DELETE CASCADE,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_videos_added_date ON videos(added_date);
		CREATE INDEX IF NOT EXISTS idx_ratings_rating ON ratings(rating);
		CREATE INDEX IF NOT EXISTS idx_views_count ON views(view_count);
		CREATE INDEX IF NOT EXISTS idx_tags_tag ON video_tags(tag);
		CREATE INDEX IF NOT EXISTS idx_tags_filename ON video_tags(filename)
	`)
	return err
}

func isLocked(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

// withRetry runs fn, retrying with exponential backoff while SQLite reports
// the database as locked. The last error is returned once attempts are
// exhausted.
func (s *SQLiteStore) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < lockedRetryAttempts; attempt++ {
		err = fn()
		if err == nil || !isLocked(err) {
			return err
		}
		wait := lockedRetryBase * (1 << attempt)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (s *SQLiteStore) GetRatings(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT filename, rating FROM ratings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ratings := make(map[string]int)
	for rows.Next() {
		var filename string
		var rating int
		if err := rows.Scan(&filename, &rating); err != nil {
			return nil, err
		}
		ratings[filename] = rating
	}
	return ratings, rows.Err()
}

func (s *SQLiteStore) GetViews(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT filename, view_count FROM views`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	views := make(map[string]int)
	for rows.Next() {
		var filename string
		var count int
		if err := rows.Scan(&filename, &count); err != nil {
			return nil, err
		}
		views[filename] = count
	}
	return views, rows.Err()
}

func (s *SQLiteStore) GetTags(ctx context.Context) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT filename, tag FROM video_tags ORDER BY filename, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tags := make(map[string][]string)
	for rows.Next() {
		var filename, tag string
		if err := rows.Scan(&filename, &tag); err != nil {
			return nil, err
		}
		tags[filename] = append(tags[filename], tag)
	}
	return tags, rows.Err()
}

func (s *SQLiteStore) GetFavorites(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT filename FROM favorites ORDER BY created_at DESC, filename
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var favorites []string
	for rows.Next() {
		var filename string
		if err := rows.Scan(&filename); err != nil {
			return nil, err
		}
		favorites = append(favorites, filename)
	}
	return favorites, rows.Err()
}

func (s *SQLiteStore) GetAllFilenames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT filename FROM videos`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var filenames []string
	for rows.Next() {
		var filename string
		if err := rows.Scan(&filename); err != nil {
			return nil, err
		}
		filenames = append(filenames, filename)
	}
	return filenames, rows.Err()
}

// videoColumns is the join shared by every query that produces full Video
// rows. Tags come back comma-joined via GROUP_CONCAT.
const videoColumns = `
	SELECT
		v.filename,
		v.added_date,
		v.file_size,
		COALESCE(r.rating, 0) AS rating,
		COALESCE(w.view_count, 0) AS views,
		GROUP_CONCAT(vt.tag) AS tags,
		CASE WHEN f.filename IS NOT NULL THEN 1 ELSE 0 END AS is_favorite
	FROM videos v
	LEFT JOIN ratings r ON v.filename = r.filename
	LEFT JOIN views w ON v.filename = w.filename
	LEFT JOIN video_tags vt ON v.filename = vt.filename
	LEFT JOIN favorites f ON v.filename = f.filename
`

const videoGroupBy = `
	GROUP BY v.filename, v.added_date, v.file_size, r.rating, w.view_count, f.filename
`

func scanVideo(rows *sql.Rows) (*Video, error) {
	var v Video
	var tags sql.NullString
	var fav int
	if err := rows.Scan(&v.Filename, &v.AddedDate, &v.FileSize, &v.Rating, &v.Views, &tags, &fav); err != nil {
		return nil, err
	}
	if tags.Valid && tags.String != "" {
		v.Tags = strings.Split(tags.String, ",")
	} else {
		v.Tags = []string{}
	}
	v.IsFavorite = fav == 1
	return &v, nil
}

var sortColumns = map[string]string{
	"title":      "v.filename",
	"filename":   "v.filename",
	"date":       "v.added_date",
	"added_date": "v.added_date",
	"rating":     "COALESCE(r.rating, 0)",
	"views":      "COALESCE(w.view_count, 0)",
}

func (s *SQLiteStore) GetAllVideos(ctx context.Context, sortBy, order string) ([]*Video, error) {
	column, ok := sortColumns[sortBy]
	if !ok {
		column = "v.added_date"
	}
	direction := "DESC"
	if strings.EqualFold(order, "asc") {
		direction = "ASC"
	}

	query := fmt.Sprintf("%s %s ORDER BY %s %s, v.filename", videoColumns, videoGroupBy, column, direction)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var videos []*Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		videos = append(videos, v)
	}
	return videos, rows.Err()
}

func (s *SQLiteStore) GetVideo(ctx context.Context, filename string) (*Video, error) {
	query := videoColumns + " WHERE v.filename = ? " + videoGroupBy
	rows, err := s.db.QueryContext(ctx, query, filename)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return scanVideo(rows)
}

func (s *SQLiteStore) GetVideosByTag(ctx context.Context, tag string) ([]*Video, error) {
	query := videoColumns + `
		WHERE v.filename IN (SELECT filename FROM video_tags WHERE tag LIKE ?)
	` + videoGroupBy + " ORDER BY v.added_date DESC, v.filename"
	rows, err := s.db.QueryContext(ctx, query, "%"+tag+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var videos []*Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		videos = append(videos, v)
	}
	return videos, rows.Err()
}

func (s *SQLiteStore) UpsertVideo(ctx context.Context, filename string, addedDate float64, size int64) error {
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO videos (filename, added_date, file_size)
			VALUES (?, ?, ?)
			ON CONFLICT(filename) DO UPDATE SET
				added_date = excluded.added_date,
				file_size = excluded.file_size
		`, filename, addedDate, size)
		return err
	})
}

func (s *SQLiteStore) RemoveVideo(ctx context.Context, filename string) error {
	return s.withRetry(ctx, func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM videos WHERE filename = ?`, filename)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *SQLiteStore) UpdateRating(ctx context.Context, filename string, rating int) error {
	if rating < 1 || rating > 5 {
		return &ValidationError{Field: "rating", Reason: "must be between 1 and 5"}
	}
	return s.withRetry(ctx, func() error {
		if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO videos (filename) VALUES (?)`, filename); err != nil {
			return err
		}
		_, err := s.db.ExecContext(ctx, `
			INSERT OR REPLACE INTO ratings (filename, rating) VALUES (?, ?)
		`, filename, rating)
		return err
	})
}

func (s *SQLiteStore) IncrementView(ctx context.Context, filename string) (int, error) {
	var newCount int
	err := s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO videos (filename) VALUES (?)`, filename); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO views (filename, view_count, last_viewed)
			VALUES (?, 1, CURRENT_TIMESTAMP)
			ON CONFLICT(filename) DO UPDATE SET
				view_count = view_count + 1,
				last_viewed = CURRENT_TIMESTAMP
		`, filename); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, `
			SELECT view_count FROM views WHERE filename = ?
		`, filename).Scan(&newCount); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, err
	}
	return newCount, nil
}

func (s *SQLiteStore) AddTag(ctx context.Context, filename, tag string) error {
	return s.withRetry(ctx, func() error {
		if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO videos (filename) VALUES (?)`, filename); err != nil {
			return err
		}
		_, err := s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO video_tags (filename, tag) VALUES (?, ?)
		`, filename, tag)
		return err
	})
}

func (s *SQLiteStore) RemoveTag(ctx context.Context, filename, tag string) error {
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			DELETE FROM video_tags WHERE filename = ? AND tag = ?
		`, filename, tag)
		return err
	})
}

func (s *SQLiteStore) ToggleFavorite(ctx context.Context, filename string) (bool, error) {
	var nowFavorite bool
	err := s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO videos (filename) VALUES (?)`, filename); err != nil {
			return err
		}

		var existing string
		err = tx.QueryRowContext(ctx, `
			SELECT filename FROM favorites WHERE filename = ?
		`, filename).Scan(&existing)
		switch {
		case err == nil:
			if _, err := tx.ExecContext(ctx, `DELETE FROM favorites WHERE filename = ?`, filename); err != nil {
				return err
			}
			nowFavorite = false
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx, `INSERT INTO favorites (filename) VALUES (?)`, filename); err != nil {
				return err
			}
			nowFavorite = true
		default:
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return false, err
	}
	return nowFavorite, nil
}

// GetRelatedVideos returns videos sharing at least one tag with filename,
// ordered by shared-tag count then rating.
func (s *SQLiteStore) GetRelatedVideos(ctx context.Context, filename string, limit int) ([]*Video, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			v.filename,
			v.added_date,
			COALESCE(r.rating, 0) AS rating,
			COALESCE(w.view_count, 0) AS views,
			COUNT(shared.tag) AS tag_overlap
		FROM videos v
		JOIN video_tags vt ON v.filename = vt.filename
		JOIN video_tags shared ON vt.tag = shared.tag
		LEFT JOIN ratings r ON v.filename = r.filename
		LEFT JOIN views w ON v.filename = w.filename
		WHERE shared.filename = ? AND v.filename != ?
		GROUP BY v.filename, v.added_date, r.rating, w.view_count
		ORDER BY tag_overlap DESC, rating DESC, views DESC, v.filename
		LIMIT ?
	`, filename, filename, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var videos []*Video
	for rows.Next() {
		var v Video
		if err := rows.Scan(&v.Filename, &v.AddedDate, &v.Rating, &v.Views, &v.TagOverlap); err != nil {
			return nil, err
		}
		videos = append(videos, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, v := range videos {
		tags, err := s.tagsFor(ctx, v.Filename)
		if err != nil {
			return nil, err
		}
		v.Tags = tags
	}
	return videos, nil
}

// GetPopularTags returns the most frequently used tags.
func (s *SQLiteStore) GetPopularTags(ctx context.Context, limit int) ([]TagCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tag, COUNT(*) AS uses
		FROM video_tags
		GROUP BY tag
		ORDER BY uses DESC, tag COLLATE NOCASE
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var popular []TagCount
	for rows.Next() {
		var tc TagCount
		if err := rows.Scan(&tc.Tag, &tc.Count); err != nil {
			return nil, err
		}
		popular = append(popular, tc)
	}
	return popular, rows.Err()
}

func (s *SQLiteStore) tagsFor(ctx context.Context, filename string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tag FROM video_tags WHERE filename = ? ORDER BY id
	`, filename)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tags := []string{}
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// SortsNatively reports that GetAllVideos sorts in SQL.
func (s *SQLiteStore) SortsNatively() bool { return true }

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
