// Package fetcher handles RSS feed downloading, entry selection and article page retrieval.
package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"news_bot/internal/extract"
	"news_bot/internal/model"
)

const (
	userAgent   = "NewsBot/1.0"
	maxBodySize = 5 * 1024 * 1024
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ContentExtractor pulls article text and an image out of an HTML page.
type ContentExtractor interface {
	Extract(r io.Reader, pageURL string) (extract.Result, error)
}

// Fetcher downloads and parses RSS feeds and the article pages they link to.
type Fetcher struct {
	client        HTTPClient
	extractor     ContentExtractor
	redirectHosts map[string]struct{}
	log           *slog.Logger
	timeout       time.Duration
}

// New creates a Fetcher. Links whose host is one of redirectHosts are
// replaced by the URL their redirects end at.
func New(client HTTPClient, extractor ContentExtractor, redirectHosts []string, log *slog.Logger) *Fetcher {
	hosts := make(map[string]struct{}, len(redirectHosts))
	for _, h := range redirectHosts {
		hosts[strings.ToLower(h)] = struct{}{}
	}
	return &Fetcher{
		client:        client,
		extractor:     extractor,
		redirectHosts: hosts,
		log:           log,
		timeout:       30 * time.Second,
	}
}

// Fetch downloads and parses an RSS feed from the given URL.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	body, _, err := f.get(ctx, feedURL)
	if err != nil {
		return nil, err
	}

	parser := gofeed.NewParser()
	feed, err := parser.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}

// FetchLatest returns the first entry, in feed order, published after since.
// A nil since accepts every entry. It returns nil when nothing is new.
//
// Feed order is kept on purpose: when several entries are new, the one the
// publisher lists first wins, not the most recent one.
func (f *Fetcher) FetchLatest(ctx context.Context, src model.FeedSource, since *time.Time) (*model.Candidate, error) {
	feed, err := f.Fetch(ctx, src.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", model.ErrFetch, src.URL, err)
	}

	for _, item := range feed.Items {
		published, ok := f.usable(src, item)
		if !ok {
			continue
		}
		if since != nil && !published.After(*since) {
			continue
		}
		c := f.candidate(ctx, item, published)
		return &c, nil
	}
	return nil, nil
}

// Newest returns the watermark of the most recently published entry, or nil
// when the feed has no usable entries. No article pages are fetched.
func (f *Fetcher) Newest(ctx context.Context, src model.FeedSource) (*model.Watermark, error) {
	feed, err := f.Fetch(ctx, src.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", model.ErrFetch, src.URL, err)
	}

	var newest *model.Watermark
	for _, item := range feed.Items {
		published, ok := f.usable(src, item)
		if !ok {
			continue
		}
		if newest == nil || published.After(newest.PublishedAt) {
			newest = &model.Watermark{SourceURL: src.URL, PublishedAt: published, Title: strings.TrimSpace(item.Title)}
		}
	}
	return newest, nil
}

// usable reports whether an entry can be considered at all and returns its
// publication time in UTC.
func (f *Fetcher) usable(src model.FeedSource, item *gofeed.Item) (time.Time, bool) {
	if strings.TrimSpace(item.Title) == "" {
		f.log.Debug("skip entry without title", "source", src.URL, "link", item.Link)
		return time.Time{}, false
	}
	published, ok := ItemTime(item)
	if !ok {
		f.log.Debug("skip entry without timestamp", "source", src.URL, "title", item.Title)
		return time.Time{}, false
	}
	return published, true
}

// ItemTime returns the publication time of an entry, falling back to its
// update time. Timestamps without a zone are parsed as UTC by gofeed.
func ItemTime(item *gofeed.Item) (time.Time, bool) {
	switch {
	case item.PublishedParsed != nil:
		return item.PublishedParsed.UTC(), true
	case item.UpdatedParsed != nil:
		return item.UpdatedParsed.UTC(), true
	}
	return time.Time{}, false
}

// candidate builds a Candidate from an entry. A page that cannot be fetched
// or parsed falls back to the entry's own content.
func (f *Fetcher) candidate(ctx context.Context, item *gofeed.Item, published time.Time) model.Candidate {
	c := model.Candidate{
		Title:       strings.TrimSpace(item.Title),
		Link:        item.Link,
		PublishedAt: published,
	}

	if item.Link != "" {
		text, image, finalURL, err := f.page(ctx, item.Link)
		if err != nil {
			f.log.Warn("fetch article page", "link", item.Link, "error", err)
		}
		if f.isRedirectHost(item.Link) && finalURL != "" {
			c.Link = finalURL
		}
		c.Content = text
		c.ImageURL = image
	}
	c.Link = StripTracking(c.Link)

	if c.Content == "" {
		body := item.Content
		if body == "" {
			body = item.Description
		}
		c.Content = extract.StripTags(body)
	}
	if c.ImageURL == "" {
		c.ImageURL = itemImage(item)
	}
	return c
}

// page downloads an article and extracts its content. finalURL is the URL
// after redirects and is set whenever the server answered.
func (f *Fetcher) page(ctx context.Context, link string) (text, image, finalURL string, err error) {
	body, finalURL, err := f.get(ctx, link)
	if err != nil {
		return "", "", finalURL, err
	}
	res, err := f.extractor.Extract(bytes.NewReader(body), finalURL)
	if err != nil {
		return "", "", finalURL, fmt.Errorf("extract content: %w", err)
	}
	return res.Text, res.ImageURL, finalURL, nil
}

func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	if resp.StatusCode != http.StatusOK {
		return nil, finalURL, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, finalURL, fmt.Errorf("read body: %w", err)
	}
	return body, finalURL, nil
}

func (f *Fetcher) isRedirectHost(link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	_, ok := f.redirectHosts[strings.ToLower(u.Hostname())]
	return ok
}

// StripTracking removes utm_* query parameters from link.
func StripTracking(link string) string {
	u, err := url.Parse(link)
	if err != nil || u.RawQuery == "" {
		return link
	}
	q := u.Query()
	changed := false
	for k := range q {
		if strings.HasPrefix(strings.ToLower(k), "utm_") {
			q.Del(k)
			changed = true
		}
	}
	if !changed {
		return link
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func itemImage(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}
	return ""
}
