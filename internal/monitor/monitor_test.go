package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"news_bot/internal/model"
	"news_bot/internal/storage"
)

var (
	t0 = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	t1 = t0.Add(1 * time.Hour)
	t2 = t0.Add(2 * time.Hour)
	t3 = t0.Add(3 * time.Hour)
	t4 = t0.Add(4 * time.Hour)
)

type entry struct {
	title string
	at    time.Time
}

type fetchCall struct {
	url   string
	since *time.Time
}

// fakeFetcher serves entries per feed URL in feed order.
type fakeFetcher struct {
	mu      sync.Mutex
	feeds   map[string][]entry
	errs    map[string]error
	calls   []fetchCall
	newests []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{feeds: make(map[string][]entry), errs: make(map[string]error)}
}

func (f *fakeFetcher) set(url string, entries ...entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feeds[url] = entries
}

func (f *fakeFetcher) FetchLatest(_ context.Context, src model.FeedSource, since *time.Time) (*model.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var s *time.Time
	if since != nil {
		v := *since
		s = &v
	}
	f.calls = append(f.calls, fetchCall{url: src.URL, since: s})

	if err := f.errs[src.URL]; err != nil {
		return nil, err
	}
	for _, e := range f.feeds[src.URL] {
		if since != nil && !e.at.After(*since) {
			continue
		}
		return &model.Candidate{Title: e.title, Link: src.URL + "/" + e.title, Content: "content of " + e.title, PublishedAt: e.at}, nil
	}
	return nil, nil
}

func (f *fakeFetcher) Newest(_ context.Context, src model.FeedSource) (*model.Watermark, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.newests = append(f.newests, src.URL)

	if err := f.errs[src.URL]; err != nil {
		return nil, err
	}
	var newest *model.Watermark
	for _, e := range f.feeds[src.URL] {
		if newest == nil || e.at.After(newest.PublishedAt) {
			newest = &model.Watermark{SourceURL: src.URL, PublishedAt: e.at, Title: e.title}
		}
	}
	return newest, nil
}

func (f *fakeFetcher) callsFor(url string) []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fetchCall
	for _, c := range f.calls {
		if c.url == url {
			out = append(out, c)
		}
	}
	return out
}

type fakeClassifier struct {
	mu       sync.Mutex
	relevant bool
	err      error
	titles   []string
}

func (c *fakeClassifier) IsRelevant(_ context.Context, title, _ string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.titles = append(c.titles, title)
	return c.relevant, c.err
}

type fakeSummarizer struct {
	mu     sync.Mutex
	err    error
	titles []string
}

func (s *fakeSummarizer) Summarize(_ context.Context, title, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles = append(s.titles, title)
	if s.err != nil {
		return "", s.err
	}
	return "summary of " + title, nil
}

type fakePublisher struct {
	mu    sync.Mutex
	err   error
	posts []model.Post
}

func (p *fakePublisher) Publish(_ context.Context, post model.Post) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.posts = append(p.posts, post)
	return nil
}

func (p *fakePublisher) titles() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, post := range p.posts {
		out = append(out, post.Title)
	}
	return out
}

type fakeRegistry struct {
	mu    sync.Mutex
	feeds []model.FeedSource
	err   error
}

func (r *fakeRegistry) ListFeeds(_ context.Context) ([]model.FeedSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return append([]model.FeedSource(nil), r.feeds...), nil
}

func (r *fakeRegistry) AddFeed(_ context.Context, src model.FeedSource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.feeds = append(r.feeds, src)
	return nil
}

func (r *fakeRegistry) RemoveFeed(_ context.Context, url string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, f := range r.feeds {
		if f.URL == url {
			r.feeds = append(r.feeds[:i], r.feeds[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// flakyStore fails upserts while failUpserts is set.
type flakyStore struct {
	storage.WatermarkStore
	mu          sync.Mutex
	failUpserts bool
	failLoads   int
	upserts     int
}

func (s *flakyStore) UpsertWatermark(ctx context.Context, w model.Watermark) error {
	s.mu.Lock()
	s.upserts++
	fail := s.failUpserts
	s.mu.Unlock()
	if fail {
		return model.ErrStorage
	}
	return s.WatermarkStore.UpsertWatermark(ctx, w)
}

func (s *flakyStore) LoadWatermarks(ctx context.Context) (map[string]model.Watermark, error) {
	s.mu.Lock()
	if s.failLoads > 0 {
		s.failLoads--
		s.mu.Unlock()
		return nil, model.ErrStorage
	}
	s.mu.Unlock()
	return s.WatermarkStore.LoadWatermarks(ctx)
}

type harness struct {
	registry   *fakeRegistry
	store      *flakyStore
	fetcher    *fakeFetcher
	classifier *fakeClassifier
	summarizer *fakeSummarizer
	publisher  *fakePublisher
	monitor    *Monitor
}

func newHarness(t *testing.T, cfg Config, seed ...model.Watermark) *harness {
	t.Helper()
	db, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	for _, w := range seed {
		if err := db.UpsertWatermark(context.Background(), w); err != nil {
			t.Fatalf("seed watermark: %v", err)
		}
	}

	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.MaxConcurrency == 0 {
		cfg.MaxConcurrency = 4
	}

	h := &harness{
		registry:   &fakeRegistry{},
		store:      &flakyStore{WatermarkStore: db},
		fetcher:    newFakeFetcher(),
		classifier: &fakeClassifier{relevant: true},
		summarizer: &fakeSummarizer{},
		publisher:  &fakePublisher{},
	}
	h.monitor = New(Deps{
		Registry:   h.registry,
		Store:      h.store,
		Fetcher:    h.fetcher,
		Classifier: h.classifier,
		Summarizer: h.summarizer,
		Publisher:  h.publisher,
	}, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.monitor.load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
}

func (h *harness) cycle() {
	h.monitor.cycle(context.Background())
}

func (h *harness) stored(t *testing.T, url string) (model.Watermark, bool) {
	t.Helper()
	marks, err := h.store.WatermarkStore.LoadWatermarks(context.Background())
	if err != nil {
		t.Fatalf("load watermarks: %v", err)
	}
	w, ok := marks[url]
	return w, ok
}

const (
	feedA = "https://a.example.com/rss"
	feedB = "https://b.example.com/rss"
)

func TestBootstrapSuppression(t *testing.T) {
	h := newHarness(t, Config{})
	h.registry.feeds = []model.FeedSource{{URL: feedA}, {URL: feedB}}
	h.fetcher.set(feedA, entry{"a2", t2}, entry{"a3", t3}, entry{"a1", t1})
	h.fetcher.set(feedB, entry{"b1", t1})

	h.start(t)
	h.cycle()

	if got := h.publisher.titles(); len(got) != 0 {
		t.Fatalf("bootstrap cycle published %v", got)
	}
	if len(h.classifier.titles) != 0 {
		t.Errorf("bootstrap cycle classified %v", h.classifier.titles)
	}
	gotA, _ := h.stored(t, feedA)
	if diff := cmp.Diff(model.Watermark{SourceURL: feedA, PublishedAt: t3, Title: "a3"}, gotA); diff != "" {
		t.Errorf("watermark A mismatch (-want +got):\n%s", diff)
	}
	gotB, _ := h.stored(t, feedB)
	if diff := cmp.Diff(model.Watermark{SourceURL: feedB, PublishedAt: t1, Title: "b1"}, gotB); diff != "" {
		t.Errorf("watermark B mismatch (-want +got):\n%s", diff)
	}

	// The next cycle is normal: only what appeared after the baseline goes out.
	h.fetcher.set(feedA, entry{"a4", t4}, entry{"a2", t2}, entry{"a3", t3}, entry{"a1", t1})
	h.cycle()

	if diff := cmp.Diff([]string{"a4"}, h.publisher.titles()); diff != "" {
		t.Errorf("published mismatch (-want +got):\n%s", diff)
	}
}

func TestBootstrapRetriedWhenBaselineFails(t *testing.T) {
	h := newHarness(t, Config{RetryAttempts: 2})
	h.registry.feeds = []model.FeedSource{{URL: feedA}}
	h.fetcher.set(feedA, entry{"a1", t1})
	h.fetcher.errs[feedA] = model.ErrFetch

	h.start(t)
	h.cycle()
	if diff := cmp.Diff(2, len(h.fetcher.newests)); diff != "" {
		t.Errorf("baseline attempts mismatch (-want +got):\n%s", diff)
	}

	// Still in baseline mode: the backlog is not published once the feed recovers.
	delete(h.fetcher.errs, feedA)
	h.cycle()
	if got := h.publisher.titles(); len(got) != 0 {
		t.Fatalf("published %v after failed baseline", got)
	}
	if w, _ := h.stored(t, feedA); !w.PublishedAt.Equal(t1) {
		t.Errorf("watermark = %v, want %v", w.PublishedAt, t1)
	}
}

func TestPublishesFirstNewEntryInFeedOrder(t *testing.T) {
	h := newHarness(t, Config{}, model.Watermark{SourceURL: feedA, PublishedAt: t1, Title: "a1"})
	h.registry.feeds = []model.FeedSource{{URL: feedA}}
	// Feed order is [T3, T2, T1]: T3 is picked first, and T2 is then
	// behind the watermark for good.
	h.fetcher.set(feedA, entry{"a3", t3}, entry{"a2", t2}, entry{"a1", t1})

	h.start(t)
	h.cycle()
	h.cycle()

	if diff := cmp.Diff([]string{"a3"}, h.publisher.titles()); diff != "" {
		t.Errorf("published mismatch (-want +got):\n%s", diff)
	}
	post := h.publisher.posts[0]
	want := model.Post{Title: "a3", Link: feedA + "/a3", Summary: "summary of a3"}
	if diff := cmp.Diff(want, post); diff != "" {
		t.Errorf("post mismatch (-want +got):\n%s", diff)
	}
}

func TestWatermarkMonotonicity(t *testing.T) {
	h := newHarness(t, Config{}, model.Watermark{SourceURL: feedA, PublishedAt: t0, Title: "a0"})
	h.registry.feeds = []model.FeedSource{{URL: feedA}}
	h.start(t)

	// Feed content changes between cycles, including entries going back in time.
	steps := [][]entry{
		{{"a2", t2}},
		{{"a1", t1}},
		{{"a4", t4}, {"a3", t3}},
		{{"a3", t3}},
		{},
	}

	var prev time.Time
	for i, entries := range steps {
		h.fetcher.set(feedA, entries...)
		h.cycle()
		w, ok := h.stored(t, feedA)
		if !ok {
			t.Fatalf("step %d: watermark missing", i)
		}
		if w.PublishedAt.Before(prev) {
			t.Fatalf("step %d: watermark moved back from %v to %v", i, prev, w.PublishedAt)
		}
		prev = w.PublishedAt
	}
	if !prev.Equal(t4) {
		t.Errorf("final watermark = %v, want %v", prev, t4)
	}
	if diff := cmp.Diff([]string{"a2", "a4"}, h.publisher.titles()); diff != "" {
		t.Errorf("published mismatch (-want +got):\n%s", diff)
	}
}

func TestDownstreamFailureIsAttemptedOnce(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name   string
		setup  func(h *harness)
		checks func(t *testing.T, h *harness)
	}{
		{
			name:  "generation error",
			setup: func(h *harness) { h.summarizer.err = errors.Join(model.ErrGenerate, boom) },
			checks: func(t *testing.T, h *harness) {
				if diff := cmp.Diff([]string{"a1"}, h.summarizer.titles); diff != "" {
					t.Errorf("summarize calls mismatch (-want +got):\n%s", diff)
				}
			},
		},
		{
			name:  "classification error",
			setup: func(h *harness) { h.classifier.err = errors.Join(model.ErrClassify, boom) },
			checks: func(t *testing.T, h *harness) {
				if diff := cmp.Diff([]string{"a1"}, h.classifier.titles); diff != "" {
					t.Errorf("classify calls mismatch (-want +got):\n%s", diff)
				}
				if len(h.summarizer.titles) != 0 {
					t.Errorf("summarizer must not run after a classifier error")
				}
			},
		},
		{
			name:   "publish error",
			setup:  func(h *harness) { h.publisher.err = errors.Join(model.ErrPublish, boom) },
			checks: func(t *testing.T, h *harness) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{}, model.Watermark{SourceURL: feedA, PublishedAt: t0, Title: "a0"})
			h.registry.feeds = []model.FeedSource{{URL: feedA}}
			h.fetcher.set(feedA, entry{"a1", t1})
			tt.setup(h)

			h.start(t)
			h.cycle()
			h.cycle()

			tt.checks(t, h)
			if got := h.publisher.titles(); len(got) != 0 {
				t.Errorf("published %v", got)
			}
			w, _ := h.stored(t, feedA)
			if !w.PublishedAt.Equal(t1) {
				t.Errorf("watermark = %v, want %v", w.PublishedAt, t1)
			}

			// The retry and the next cycle both ask for entries after a1.
			calls := h.fetcher.callsFor(feedA)
			if len(calls) != 3 {
				t.Fatalf("expected 3 fetches, got %d", len(calls))
			}
			for _, c := range calls[1:] {
				if c.since == nil || !c.since.Equal(t1) {
					t.Errorf("fetch since = %v, want %v", c.since, t1)
				}
			}
		})
	}
}

func TestIrrelevantEntryAdvancesWatermark(t *testing.T) {
	h := newHarness(t, Config{}, model.Watermark{SourceURL: feedA, PublishedAt: t0, Title: "a0"})
	h.registry.feeds = []model.FeedSource{{URL: feedA}}
	h.fetcher.set(feedA, entry{"a1", t1})
	h.classifier.relevant = false

	h.start(t)
	h.cycle()

	if got := h.publisher.titles(); len(got) != 0 {
		t.Errorf("published %v", got)
	}
	if w, _ := h.stored(t, feedA); !w.PublishedAt.Equal(t1) {
		t.Errorf("watermark = %v, want %v", w.PublishedAt, t1)
	}
}

func TestRepeatedTitleIsSkipped(t *testing.T) {
	h := newHarness(t, Config{}, model.Watermark{SourceURL: feedA, PublishedAt: t1, Title: "Same story"})
	h.registry.feeds = []model.FeedSource{{URL: feedA}}
	h.fetcher.set(feedA, entry{"Same story", t2})

	h.start(t)
	h.cycle()

	if len(h.classifier.titles) != 0 {
		t.Errorf("classified %v", h.classifier.titles)
	}
	if got := h.publisher.titles(); len(got) != 0 {
		t.Errorf("published %v", got)
	}
	if w, _ := h.stored(t, feedA); !w.PublishedAt.Equal(t2) {
		t.Errorf("watermark = %v, want %v", w.PublishedAt, t2)
	}
}

func TestRetryExhaustionIsolatesSource(t *testing.T) {
	h := newHarness(t, Config{RetryAttempts: 3},
		model.Watermark{SourceURL: feedA, PublishedAt: t0},
		model.Watermark{SourceURL: feedB, PublishedAt: t0},
	)
	h.registry.feeds = []model.FeedSource{{URL: feedA}, {URL: feedB}}
	h.fetcher.errs[feedA] = errors.Join(model.ErrFetch, errors.New("connection refused"))
	h.fetcher.set(feedB, entry{"b1", t1})

	h.start(t)
	ctx := context.Background()
	h.monitor.reconcile(ctx, h.monitor.log)
	results := h.monitor.dispatch(ctx, h.monitor.log)

	if diff := cmp.Diff(3, len(h.fetcher.callsFor(feedA))); diff != "" {
		t.Errorf("fetch attempts for failing source mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"b1"}, h.publisher.titles()); diff != "" {
		t.Errorf("published mismatch (-want +got):\n%s", diff)
	}

	byURL := make(map[string]result)
	for _, r := range results {
		byURL[r.url] = r
	}
	if got := byURL[feedA]; got.outcome != outcomeFailed || !errors.Is(got.err, model.ErrFetch) {
		t.Errorf("failing source result = %+v", got)
	}
	if got := byURL[feedB]; got.outcome != outcomePublished || got.err != nil {
		t.Errorf("healthy source result = %+v", got)
	}
	if w, _ := h.stored(t, feedA); !w.PublishedAt.Equal(t0) {
		t.Errorf("failing source watermark moved to %v", w.PublishedAt)
	}
}

func TestStorageErrorBlocksClassification(t *testing.T) {
	h := newHarness(t, Config{RetryAttempts: 3}, model.Watermark{SourceURL: feedA, PublishedAt: t0})
	h.registry.feeds = []model.FeedSource{{URL: feedA}}
	h.fetcher.set(feedA, entry{"a1", t1})

	h.start(t)
	h.store.failUpserts = true
	h.cycle()

	if len(h.classifier.titles) != 0 {
		t.Errorf("classified %v without a stored watermark", h.classifier.titles)
	}
	if diff := cmp.Diff(3, h.store.upserts); diff != "" {
		t.Errorf("upsert attempts mismatch (-want +got):\n%s", diff)
	}

	// Once the store recovers the same entry is processed normally.
	h.store.failUpserts = false
	h.cycle()
	if diff := cmp.Diff([]string{"a1"}, h.publisher.titles()); diff != "" {
		t.Errorf("published mismatch (-want +got):\n%s", diff)
	}
}

func TestReconcileAddAndRemove(t *testing.T) {
	h := newHarness(t, Config{}, model.Watermark{SourceURL: feedA, PublishedAt: t0, Title: "a0"})
	h.registry.feeds = []model.FeedSource{{URL: feedA}}
	h.fetcher.set(feedA, entry{"a1", t1})
	h.fetcher.set(feedB, entry{"b2", t2}, entry{"b1", t1})

	h.start(t)
	h.cycle()

	// Added between cycles: polled in the very next cycle with no watermark.
	h.registry.feeds = append(h.registry.feeds, model.FeedSource{URL: feedB})
	h.cycle()

	callsB := h.fetcher.callsFor(feedB)
	if len(callsB) == 0 {
		t.Fatal("new source was not polled")
	}
	if callsB[0].since != nil {
		t.Errorf("first fetch of new source since = %v, want nil", callsB[0].since)
	}
	if diff := cmp.Diff([]string{"a1", "b2"}, h.publisher.titles()); diff != "" {
		t.Errorf("published mismatch (-want +got):\n%s", diff)
	}

	// Removed: no further fetches, stored watermark untouched.
	before, _ := h.stored(t, feedA)
	fetchesA := len(h.fetcher.callsFor(feedA))
	h.registry.feeds = []model.FeedSource{{URL: feedB}}
	h.fetcher.set(feedA, entry{"a5", t4})
	h.cycle()

	if diff := cmp.Diff(fetchesA, len(h.fetcher.callsFor(feedA))); diff != "" {
		t.Errorf("removed source fetched again (-want +got):\n%s", diff)
	}
	after, ok := h.stored(t, feedA)
	if !ok {
		t.Fatal("watermark of removed source was deleted")
	}
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("watermark of removed source changed (-want +got):\n%s", diff)
	}
	if _, tracked := h.monitor.marks[feedA]; tracked {
		t.Error("removed source still tracked in memory")
	}
}

func TestReaddedSourceResumesFromStore(t *testing.T) {
	h := newHarness(t, Config{}, model.Watermark{SourceURL: feedA, PublishedAt: t0, Title: "a0"})
	h.registry.feeds = []model.FeedSource{{URL: feedA}}
	h.fetcher.set(feedA, entry{"a1", t1})

	h.start(t)
	h.cycle()

	h.registry.feeds = nil
	h.cycle()

	h.registry.feeds = []model.FeedSource{{URL: feedA}}
	h.cycle()

	if diff := cmp.Diff([]string{"a1"}, h.publisher.titles()); diff != "" {
		t.Errorf("published mismatch (-want +got):\n%s", diff)
	}
	calls := h.fetcher.callsFor(feedA)
	last := calls[len(calls)-1]
	if last.since == nil || !last.since.Equal(t1) {
		t.Errorf("re-added source fetched since %v, want %v", last.since, t1)
	}
}

func TestNewSourceBaseline(t *testing.T) {
	h := newHarness(t, Config{BaselineNewFeeds: true}, model.Watermark{SourceURL: feedA, PublishedAt: t0})
	h.registry.feeds = []model.FeedSource{{URL: feedA}}

	h.start(t)
	h.cycle()

	h.registry.feeds = append(h.registry.feeds, model.FeedSource{URL: feedB})
	h.fetcher.set(feedB, entry{"b1", t1}, entry{"b2", t2})
	h.cycle()

	if got := h.publisher.titles(); len(got) != 0 {
		t.Errorf("published %v", got)
	}
	if w, _ := h.stored(t, feedB); !w.PublishedAt.Equal(t2) {
		t.Errorf("baseline = %v, want %v", w.PublishedAt, t2)
	}

	h.fetcher.set(feedB, entry{"b3", t3}, entry{"b1", t1}, entry{"b2", t2})
	h.cycle()
	if diff := cmp.Diff([]string{"b3"}, h.publisher.titles()); diff != "" {
		t.Errorf("published mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistryErrorKeepsWorkingSet(t *testing.T) {
	h := newHarness(t, Config{}, model.Watermark{SourceURL: feedA, PublishedAt: t0})
	h.registry.feeds = []model.FeedSource{{URL: feedA}}
	h.fetcher.set(feedA, entry{"a1", t1})

	h.start(t)
	h.cycle()

	h.registry.err = errors.New("registry file is locked")
	h.fetcher.set(feedA, entry{"a2", t2})
	h.cycle()

	if diff := cmp.Diff([]string{"a1", "a2"}, h.publisher.titles()); diff != "" {
		t.Errorf("published mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistryErrorDuringBootstrap(t *testing.T) {
	h := newHarness(t, Config{})
	h.registry.err = errors.New("not yet")
	h.fetcher.set(feedA, entry{"a1", t1})

	h.start(t)
	h.cycle()

	h.registry.err = nil
	h.registry.feeds = []model.FeedSource{{URL: feedA}}
	h.cycle()

	if got := h.publisher.titles(); len(got) != 0 {
		t.Errorf("published %v, first successful reconcile must only baseline", got)
	}
}

func TestDeferredAdditionWhenStoreUnavailable(t *testing.T) {
	h := newHarness(t, Config{}, model.Watermark{SourceURL: feedA, PublishedAt: t0})
	h.registry.feeds = []model.FeedSource{{URL: feedA}}
	h.start(t)
	h.cycle()

	h.registry.feeds = append(h.registry.feeds, model.FeedSource{URL: feedB})
	h.fetcher.set(feedB, entry{"b1", t1})
	h.store.failLoads = 1
	h.cycle()
	if n := len(h.fetcher.callsFor(feedB)); n != 0 {
		t.Fatalf("new source polled %d times while its watermark was unknown", n)
	}

	h.cycle()
	if diff := cmp.Diff([]string{"b1"}, h.publisher.titles()); diff != "" {
		t.Errorf("published mismatch (-want +got):\n%s", diff)
	}
}

func TestRunRetriesLoadAndStopsOnCancel(t *testing.T) {
	h := newHarness(t, Config{PollInterval: 5 * time.Millisecond}, model.Watermark{SourceURL: feedA, PublishedAt: t0})
	h.registry.feeds = []model.FeedSource{{URL: feedA}}
	h.fetcher.set(feedA, entry{"a1", t1})
	h.store.failLoads = 2

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.monitor.Run(ctx)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for len(h.publisher.titles()) == 0 {
		select {
		case <-deadline:
			cancel()
			t.Fatal("monitor did not publish in time")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
