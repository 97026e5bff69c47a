package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"news_bot/internal/model"
	"news_bot/migrations"
)

// timeLayout is fixed-width UTC so that stored timestamps order lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

var _ Storage = (*SQLite)(nil)

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serialises writers and keeps ":memory:" databases
	// shared between goroutines.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// ListFeeds returns all registered feeds in insertion order.
func (s *SQLite) ListFeeds(ctx context.Context) ([]model.FeedSource, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT url, name FROM feeds ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("%w: query feeds: %w", model.ErrStorage, err)
	}
	defer func() { _ = rows.Close() }()

	var feeds []model.FeedSource
	for rows.Next() {
		var f model.FeedSource
		if err := rows.Scan(&f.URL, &f.Name); err != nil {
			return nil, fmt.Errorf("%w: scan feed: %w", model.ErrStorage, err)
		}
		feeds = append(feeds, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate feeds: %w", model.ErrStorage, err)
	}
	return feeds, nil
}

// AddFeed registers a new feed source.
func (s *SQLite) AddFeed(ctx context.Context, src model.FeedSource) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feeds (url, name, created_at) VALUES (?, ?, ?)`,
		src.URL, src.Name, now,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrFeedExists
		}
		return fmt.Errorf("%w: insert feed: %w", model.ErrStorage, err)
	}
	return nil
}

// RemoveFeed deletes a feed source. Its watermark is left alone.
func (s *SQLite) RemoveFeed(ctx context.Context, url string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM feeds WHERE url = ?`, url)
	if err != nil {
		return false, fmt.Errorf("%w: delete feed: %w", model.ErrStorage, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: rows affected: %w", model.ErrStorage, err)
	}
	return n > 0, nil
}

// LoadWatermarks returns every stored watermark keyed by source URL.
func (s *SQLite) LoadWatermarks(ctx context.Context) (map[string]model.Watermark, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source_id, pub_date, title FROM watermarks`)
	if err != nil {
		return nil, fmt.Errorf("%w: query watermarks: %w", model.ErrStorage, err)
	}
	defer func() { _ = rows.Close() }()

	marks := make(map[string]model.Watermark)
	for rows.Next() {
		var (
			w       model.Watermark
			pubDate string
		)
		if err := rows.Scan(&w.SourceURL, &pubDate, &w.Title); err != nil {
			return nil, fmt.Errorf("%w: scan watermark: %w", model.ErrStorage, err)
		}
		w.PublishedAt, err = time.Parse(timeLayout, pubDate)
		if err != nil {
			return nil, fmt.Errorf("%w: parse pub_date of %s: %w", model.ErrStorage, w.SourceURL, err)
		}
		marks[w.SourceURL] = w
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate watermarks: %w", model.ErrStorage, err)
	}
	return marks, nil
}

// UpsertWatermark inserts or advances the watermark for w.SourceURL.
// An older timestamp than the stored one is ignored.
func (s *SQLite) UpsertWatermark(ctx context.Context, w model.Watermark) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO watermarks (source_id, pub_date, title, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (source_id) DO UPDATE
		 SET pub_date = excluded.pub_date, title = excluded.title, updated_at = excluded.updated_at
		 WHERE excluded.pub_date >= watermarks.pub_date`,
		w.SourceURL, w.PublishedAt.UTC().Format(timeLayout), w.Title, now,
	)
	if err != nil {
		return fmt.Errorf("%w: upsert watermark: %w", model.ErrStorage, err)
	}
	return nil
}

// DeleteWatermark removes the watermark of a source, if any.
func (s *SQLite) DeleteWatermark(ctx context.Context, sourceURL string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM watermarks WHERE source_id = ?`, sourceURL); err != nil {
		return fmt.Errorf("%w: delete watermark: %w", model.ErrStorage, err)
	}
	return nil
}
