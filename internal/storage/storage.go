// Package storage defines the persistence interfaces and their SQLite implementation.
package storage

import (
	"context"
	"errors"

	"news_bot/internal/model"
)

// ErrFeedExists is returned by AddFeed when the URL is already registered.
var ErrFeedExists = errors.New("feed already exists")

// WatermarkStore persists the latest seen publication time per feed source.
type WatermarkStore interface {
	// LoadWatermarks returns every known watermark keyed by source URL.
	// An empty map means nothing has ever been recorded.
	LoadWatermarks(ctx context.Context) (map[string]model.Watermark, error)
	// UpsertWatermark inserts or advances the watermark of w.SourceURL.
	// It never moves an existing watermark backwards.
	UpsertWatermark(ctx context.Context, w model.Watermark) error
	// DeleteWatermark forgets the watermark of a removed source.
	DeleteWatermark(ctx context.Context, sourceURL string) error
}

// FeedRegistry is the authoritative list of monitored feed sources.
type FeedRegistry interface {
	ListFeeds(ctx context.Context) ([]model.FeedSource, error)
	AddFeed(ctx context.Context, src model.FeedSource) error
	// RemoveFeed reports whether the feed existed.
	RemoveFeed(ctx context.Context, url string) (bool, error)
}

// Storage is the full persistence surface of the SQLite backend.
type Storage interface {
	WatermarkStore
	FeedRegistry
	Close() error
}
