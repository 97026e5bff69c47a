// Package monitor runs the polling loop: it keeps the set of watched feeds in
// sync with the registry, runs one pipeline per feed each cycle and records
// how far each feed has been read.
package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"news_bot/internal/model"
	"news_bot/internal/storage"
	"news_bot/internal/telemetry"
)

// Fetcher retrieves entries from a feed.
type Fetcher interface {
	// FetchLatest returns the first entry in feed order published after
	// since, or nil when there is none. A nil since accepts any entry.
	FetchLatest(ctx context.Context, src model.FeedSource, since *time.Time) (*model.Candidate, error)
	// Newest returns the watermark of the most recent entry, or nil for an empty feed.
	Newest(ctx context.Context, src model.FeedSource) (*model.Watermark, error)
}

// Classifier decides whether a candidate is in scope.
type Classifier interface {
	IsRelevant(ctx context.Context, title, content string) (bool, error)
}

// Summarizer writes the body of a post.
type Summarizer interface {
	Summarize(ctx context.Context, title, content string) (string, error)
}

// Publisher delivers a finished post.
type Publisher interface {
	Publish(ctx context.Context, post model.Post) error
}

// Config holds the timing and retry settings of the monitor.
type Config struct {
	PollInterval   time.Duration
	RetryAttempts  int
	RetryBackoff   time.Duration
	MaxConcurrency int
	// BaselineNewFeeds makes sources added at runtime without a stored
	// watermark start from their newest entry instead of publishing.
	BaselineNewFeeds bool
}

// Deps are the collaborators of a Monitor.
type Deps struct {
	Registry   storage.FeedRegistry
	Store      storage.WatermarkStore
	Fetcher    Fetcher
	Classifier Classifier
	Summarizer Summarizer
	Publisher  Publisher
}

// Monitor polls feeds and drives each new entry through the publishing
// pipeline. Its working state is only touched by the goroutine in Run;
// pipelines report back through their results.
type Monitor struct {
	deps Deps
	cfg  Config
	log  *slog.Logger

	loaded    bool
	bootstrap bool
	sources   []model.FeedSource
	marks     map[string]model.Watermark
	baseline  map[string]bool

	runs     metric.Int64Counter
	attempts metric.Int64Counter
	duration metric.Float64Histogram
}

// New creates a Monitor.
func New(deps Deps, cfg Config, log *slog.Logger) *Monitor {
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 1
	}

	m := telemetry.Meter("news_bot/internal/monitor")
	runs, _ := m.Int64Counter("newsbot.pipeline.runs",
		metric.WithDescription("Pipeline runs by outcome"),
	)
	attempts, _ := m.Int64Counter("newsbot.pipeline.attempts",
		metric.WithDescription("Pipeline attempts including retries"),
	)
	duration, _ := m.Float64Histogram("newsbot.cycle.duration",
		metric.WithDescription("Polling cycle duration in milliseconds"),
		metric.WithUnit("ms"),
	)

	return &Monitor{
		deps:     deps,
		cfg:      cfg,
		log:      log,
		marks:    make(map[string]model.Watermark),
		baseline: make(map[string]bool),
		runs:     runs,
		attempts: attempts,
		duration: duration,
	}
}

// Run loads the stored watermarks and polls until ctx is cancelled.
// A failing store at startup is retried every poll interval.
func (m *Monitor) Run(ctx context.Context) {
	for !m.loaded {
		if err := m.load(ctx); err != nil {
			m.log.Error("load watermarks", "error", err)
			if !sleep(ctx, m.cfg.PollInterval) {
				return
			}
		}
	}

	for {
		m.cycle(ctx)
		if !sleep(ctx, m.cfg.PollInterval) {
			return
		}
	}
}

// load reads every stored watermark. An empty store means first run: the
// next reconciled sources are baselined instead of published.
func (m *Monitor) load(ctx context.Context) error {
	marks, err := m.deps.Store.LoadWatermarks(ctx)
	if err != nil {
		return err
	}
	m.marks = marks
	m.bootstrap = len(marks) == 0
	m.loaded = true
	if m.bootstrap {
		m.log.Info("no watermarks stored, first cycle only records a baseline")
	}
	return nil
}

// cycle runs reconcile, dispatch and await once.
func (m *Monitor) cycle(ctx context.Context) {
	start := time.Now()
	log := m.log.With("cycle", uuid.NewString())

	m.reconcile(ctx, log)
	results := m.dispatch(ctx, log)
	m.apply(results)

	elapsed := time.Since(start)
	m.duration.Record(ctx, float64(elapsed.Milliseconds()))
	log.Debug("cycle done", "sources", len(m.sources), "elapsed", elapsed)
}

// reconcile brings the working set in line with the registry. On a registry
// error the previous working set is kept.
func (m *Monitor) reconcile(ctx context.Context, log *slog.Logger) {
	feeds, err := m.deps.Registry.ListFeeds(ctx)
	if err != nil {
		log.Error("list feeds, keeping previous sources", "error", err, "sources", len(m.sources))
		return
	}

	tracked := make(map[string]bool, len(m.sources))
	for _, src := range m.sources {
		tracked[src.URL] = true
	}

	var added []model.FeedSource
	for _, src := range feeds {
		if !tracked[src.URL] {
			added = append(added, src)
		}
	}

	if len(added) > 0 && !m.bootstrap {
		// Sources seen before may have been removed and re-added; the store
		// still holds how far they were read.
		stored, err := m.deps.Store.LoadWatermarks(ctx)
		if err != nil {
			log.Error("load watermarks for new sources, deferring them", "error", err, "count", len(added))
			feeds = withoutSources(feeds, added)
			added = nil
		}
		for _, src := range added {
			if w, ok := stored[src.URL]; ok {
				m.marks[src.URL] = w
			} else if m.cfg.BaselineNewFeeds {
				m.baseline[src.URL] = true
			}
		}
	}
	for _, src := range added {
		log.Info("source added", "source", src.URL, "name", src.Name)
	}

	current := make(map[string]bool, len(feeds))
	for _, src := range feeds {
		current[src.URL] = true
	}
	for _, src := range m.sources {
		if current[src.URL] {
			continue
		}
		delete(m.marks, src.URL)
		delete(m.baseline, src.URL)
		log.Info("source removed", "source", src.URL)
	}

	m.sources = feeds

	if m.bootstrap {
		for _, src := range m.sources {
			m.baseline[src.URL] = true
		}
		m.bootstrap = false
	}
}

// dispatch runs one pipeline per source and waits for all of them.
func (m *Monitor) dispatch(ctx context.Context, log *slog.Logger) []result {
	results := make([]result, len(m.sources))

	var g errgroup.Group
	g.SetLimit(m.cfg.MaxConcurrency)
	for i, src := range m.sources {
		var last *model.Watermark
		if w, ok := m.marks[src.URL]; ok {
			last = &w
		}
		baseline := m.baseline[src.URL]

		g.Go(func() error {
			results[i] = m.runSource(ctx, log.With("source", src.URL), src, last, baseline)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// apply folds pipeline results into the working state. Watermarks only move forward.
func (m *Monitor) apply(results []result) {
	for _, r := range results {
		if r.mark != nil {
			if cur, ok := m.marks[r.url]; !ok || !r.mark.PublishedAt.Before(cur.PublishedAt) {
				m.marks[r.url] = *r.mark
			}
		}
		if r.baselined {
			delete(m.baseline, r.url)
		}
	}
}

func (m *Monitor) countRun(ctx context.Context, o outcome) {
	m.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(o))))
}

func withoutSources(feeds, drop []model.FeedSource) []model.FeedSource {
	skip := make(map[string]bool, len(drop))
	for _, src := range drop {
		skip[src.URL] = true
	}
	out := make([]model.FeedSource, 0, len(feeds))
	for _, src := range feeds {
		if !skip[src.URL] {
			out = append(out, src)
		}
	}
	return out
}

// sleep waits for d and reports false if ctx was cancelled first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
