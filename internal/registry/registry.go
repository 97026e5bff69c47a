// Package registry implements a feed registry stored as a JSON object
// mapping feed URL to display name, e.g. {"https://example.com/rss": "Example"}.
//
// The file may be edited by hand while the bot runs. Every read-modify-write
// holds an exclusive lock on a sibling ".lock" file, so concurrent bot
// commands and external tools that honour the lock never lose updates.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/gofrs/flock"

	"news_bot/internal/model"
	"news_bot/internal/storage"
)

// File is a storage.FeedRegistry backed by a JSON file.
type File struct {
	path string
	mu   sync.Mutex
	lock *flock.Flock
}

var _ storage.FeedRegistry = (*File)(nil)

// NewFile returns a registry for the JSON file at path.
// A missing file is treated as an empty registry.
func NewFile(path string) *File {
	return &File{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// ListFeeds returns the registered feeds sorted by URL.
func (f *File) ListFeeds(_ context.Context) ([]model.FeedSource, error) {
	var feeds map[string]string
	err := f.withLock(false, func() error {
		var err error
		feeds, err = f.read()
		return err
	})
	if err != nil {
		return nil, err
	}
	return toSources(feeds), nil
}

// AddFeed registers src, failing with storage.ErrFeedExists on duplicates.
func (f *File) AddFeed(_ context.Context, src model.FeedSource) error {
	return f.withLock(true, func() error {
		feeds, err := f.read()
		if err != nil {
			return err
		}
		if _, ok := feeds[src.URL]; ok {
			return storage.ErrFeedExists
		}
		feeds[src.URL] = src.Name
		return f.write(feeds)
	})
}

// RemoveFeed deletes url from the registry.
func (f *File) RemoveFeed(_ context.Context, url string) (bool, error) {
	var removed bool
	err := f.withLock(true, func() error {
		feeds, err := f.read()
		if err != nil {
			return err
		}
		if _, ok := feeds[url]; !ok {
			return nil
		}
		delete(feeds, url)
		removed = true
		return f.write(feeds)
	})
	return removed, err
}

func (f *File) withLock(exclusive bool, fn func() error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("%w: create registry directory: %w", model.ErrStorage, err)
		}
	}

	var err error
	if exclusive {
		err = f.lock.Lock()
	} else {
		err = f.lock.RLock()
	}
	if err != nil {
		return fmt.Errorf("%w: lock registry: %w", model.ErrStorage, err)
	}
	defer func() { _ = f.lock.Unlock() }()

	return fn()
}

func (f *File) read() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read registry: %w", model.ErrStorage, err)
	}

	feeds := make(map[string]string)
	if len(data) == 0 {
		return feeds, nil
	}
	if err := json.Unmarshal(data, &feeds); err != nil {
		return nil, fmt.Errorf("%w: parse registry %s: %w", model.ErrStorage, f.path, err)
	}
	return feeds, nil
}

func (f *File) write(feeds map[string]string) error {
	data, err := json.MarshalIndent(feeds, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode registry: %w", model.ErrStorage, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %w", model.ErrStorage, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: write registry: %w", model.ErrStorage, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close registry: %w", model.ErrStorage, err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("%w: replace registry: %w", model.ErrStorage, err)
	}
	return nil
}

func toSources(feeds map[string]string) []model.FeedSource {
	out := make([]model.FeedSource, 0, len(feeds))
	for url, name := range feeds {
		out = append(out, model.FeedSource{URL: url, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}
