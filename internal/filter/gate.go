package filter

import (
	"context"
	"log/slog"

	"news_bot/internal/model"
)

// Classifier decides whether an article is in scope for publication.
type Classifier interface {
	IsRelevant(ctx context.Context, title, content string) (bool, error)
}

// Gate rejects candidates that fail the keyword filters and asks the next
// classifier about the rest. Rejected candidates never reach the classifier.
type Gate struct {
	filters []model.Filter
	next    Classifier
	log     *slog.Logger
}

// NewGate creates a Gate in front of next.
func NewGate(filters []model.Filter, next Classifier, log *slog.Logger) *Gate {
	return &Gate{filters: filters, next: next, log: log}
}

// IsRelevant implements Classifier.
func (g *Gate) IsRelevant(ctx context.Context, title, content string) (bool, error) {
	if !Match(model.Candidate{Title: title, Content: content}, g.filters) {
		g.log.Debug("rejected by keyword filter", "title", title)
		return false, nil
	}
	return g.next.IsRelevant(ctx, title, content)
}
