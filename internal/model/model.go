// Package model defines the domain types used across the application.
package model

import "time"

// FeedSource is one monitored RSS feed. The URL is its identity.
type FeedSource struct {
	URL  string
	Name string
}

// Watermark records the most recent publication time seen for a feed source.
// Entries published at or before PublishedAt are considered already seen.
type Watermark struct {
	SourceURL   string
	PublishedAt time.Time
	Title       string
}

// Candidate is a fetched article that has not yet been filtered.
type Candidate struct {
	Title       string
	Link        string
	Content     string
	PublishedAt time.Time
	ImageURL    string
}

// Post is a finished channel post ready to be delivered.
type Post struct {
	Title    string
	Link     string
	ImageURL string
	// Summary may contain <b> and <i> markup.
	Summary string
}

// FilterKind defines the type of filter rule.
type FilterKind string

// Supported filter kinds.
const (
	FilterInclude   FilterKind = "include"
	FilterExclude   FilterKind = "exclude"
	FilterIncludeRe FilterKind = "include_re"
	FilterExcludeRe FilterKind = "exclude_re"
)

// FilterScope defines which part of a candidate a filter matches against.
type FilterScope string

// Supported filter scopes.
const (
	ScopeTitle   FilterScope = "title"
	ScopeContent FilterScope = "content"
	ScopeAll     FilterScope = "all"
)

// Filter is a single keyword rule applied before relevance classification.
type Filter struct {
	Kind  FilterKind
	Scope FilterScope
	Value string
}
