package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"news_bot/internal/model"
)

type outcome string

const (
	outcomePublished  outcome = "published"
	outcomeIrrelevant outcome = "irrelevant"
	outcomeDuplicate  outcome = "duplicate"
	outcomeEmpty      outcome = "empty"
	outcomeBaseline   outcome = "baseline"
	outcomeFailed     outcome = "failed"
)

// result is what a pipeline reports back to the monitor.
type result struct {
	url       string
	mark      *model.Watermark
	baselined bool
	outcome   outcome
	err       error
}

// pipeline is one source's run within a cycle.
type pipeline struct {
	m   *Monitor
	log *slog.Logger
	src model.FeedSource
	// mark advances as soon as a watermark is stored, so a retry within the
	// same cycle never hands the same entry downstream twice.
	mark    *model.Watermark
	outcome outcome
}

// runSource runs the pipeline for src with the configured retry budget.
// Exhausting it is logged and reported, never propagated.
func (m *Monitor) runSource(ctx context.Context, log *slog.Logger, src model.FeedSource, last *model.Watermark, baseline bool) result {
	p := &pipeline{m: m, log: log, src: src, mark: last}

	attempt := 0
	op := func() error {
		attempt++
		m.attempts.Add(ctx, 1)
		if baseline {
			return p.baseline(ctx)
		}
		return p.run(ctx)
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(m.cfg.RetryBackoff), uint64(m.cfg.RetryAttempts-1)),
		ctx,
	)
	err := backoff.RetryNotify(op, b, func(err error, next time.Duration) {
		log.Warn("pipeline attempt failed", "attempt", attempt, "retry_in", next, "error", err)
	})
	if err != nil {
		log.Error("pipeline failed, skipping source this cycle", "attempts", attempt, "error", err)
		p.outcome = outcomeFailed
	}
	m.countRun(ctx, p.outcome)

	r := result{url: src.URL, outcome: p.outcome, err: err, baselined: baseline && err == nil}
	if p.mark != last {
		r.mark = p.mark
	}
	return r
}

// run takes the next unseen entry through classify, summarize and publish.
// The watermark is stored before classification: a later failure loses the
// entry instead of retrying it forever.
func (p *pipeline) run(ctx context.Context) error {
	var since *time.Time
	var lastTitle string
	if p.mark != nil {
		since = &p.mark.PublishedAt
		lastTitle = p.mark.Title
	}

	c, err := p.m.deps.Fetcher.FetchLatest(ctx, p.src, since)
	if err != nil {
		return err
	}
	if c == nil {
		p.outcome = outcomeEmpty
		p.log.Debug("no new entries")
		return nil
	}

	w := model.Watermark{SourceURL: p.src.URL, PublishedAt: c.PublishedAt, Title: c.Title}
	if err := p.m.deps.Store.UpsertWatermark(ctx, w); err != nil {
		return err
	}
	p.mark = &w

	log := p.log.With("title", c.Title, "published_at", c.PublishedAt)

	if lastTitle != "" && c.Title == lastTitle {
		p.outcome = outcomeDuplicate
		log.Info("skip entry with repeated title")
		return nil
	}

	relevant, err := p.m.deps.Classifier.IsRelevant(ctx, c.Title, c.Content)
	if err != nil {
		return err
	}
	if !relevant {
		p.outcome = outcomeIrrelevant
		log.Info("entry not relevant")
		return nil
	}

	summary, err := p.m.deps.Summarizer.Summarize(ctx, c.Title, c.Content)
	if err != nil {
		return err
	}

	post := model.Post{Title: c.Title, Link: c.Link, ImageURL: c.ImageURL, Summary: summary}
	if err := p.m.deps.Publisher.Publish(ctx, post); err != nil {
		return err
	}
	p.outcome = outcomePublished
	log.Info("published", "link", c.Link)
	return nil
}

// baseline records the newest entry as already seen without publishing.
func (p *pipeline) baseline(ctx context.Context) error {
	w, err := p.m.deps.Fetcher.Newest(ctx, p.src)
	if err != nil {
		return err
	}
	p.outcome = outcomeBaseline
	if w == nil {
		p.log.Info("baseline: feed has no entries")
		return nil
	}
	if err := p.m.deps.Store.UpsertWatermark(ctx, *w); err != nil {
		return err
	}
	p.mark = w
	p.log.Info("baseline recorded", "published_at", w.PublishedAt, "title", w.Title)
	return nil
}
