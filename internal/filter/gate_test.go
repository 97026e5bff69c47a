package filter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"

	"news_bot/internal/model"
)

type stubClassifier struct {
	answer bool
	err    error
	calls  int
}

func (s *stubClassifier) IsRelevant(_ context.Context, _, _ string) (bool, error) {
	s.calls++
	return s.answer, s.err
}

func TestParseRules(t *testing.T) {
	tests := []struct {
		name    string
		include []string
		exclude []string
		want    []model.Filter
		wantErr bool
	}{
		{
			name: "none",
		},
		{
			name:    "plain and regex",
			include: []string{"llm", " re:gpt-\\d+ "},
			exclude: []string{"re:(sponsored|advert)"},
			want: []model.Filter{
				{Kind: model.FilterInclude, Scope: model.ScopeAll, Value: "llm"},
				{Kind: model.FilterIncludeRe, Scope: model.ScopeAll, Value: `gpt-\d+`},
				{Kind: model.FilterExcludeRe, Scope: model.ScopeAll, Value: "(sponsored|advert)"},
			},
		},
		{
			name:    "scoped",
			include: []string{"title:re:^ai "},
			exclude: []string{"content:webinar"},
			want: []model.Filter{
				{Kind: model.FilterIncludeRe, Scope: model.ScopeTitle, Value: "^ai"},
				{Kind: model.FilterExclude, Scope: model.ScopeContent, Value: "webinar"},
			},
		},
		{
			name:    "invalid regex",
			exclude: []string{"re:[broken"},
			wantErr: true,
		},
		{
			name:    "empty value",
			include: []string{"title:"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRules(tt.include, tt.exclude)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseRules() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestGate(t *testing.T) {
	filters := []model.Filter{
		{Kind: model.FilterExclude, Scope: model.ScopeAll, Value: "sponsored"},
	}
	errLLM := errors.New("llm down")

	tests := []struct {
		name      string
		title     string
		next      *stubClassifier
		want      bool
		wantErr   error
		wantCalls int
	}{
		{
			name:      "filtered out without asking the classifier",
			title:     "Sponsored: buy our GPU",
			next:      &stubClassifier{answer: true},
			want:      false,
			wantCalls: 0,
		},
		{
			name:      "classifier says yes",
			title:     "New diffusion model",
			next:      &stubClassifier{answer: true},
			want:      true,
			wantCalls: 1,
		},
		{
			name:      "classifier says no",
			title:     "Football results",
			next:      &stubClassifier{answer: false},
			want:      false,
			wantCalls: 1,
		},
		{
			name:      "classifier error propagates",
			title:     "New diffusion model",
			next:      &stubClassifier{err: errLLM},
			wantErr:   errLLM,
			wantCalls: 1,
		},
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGate(filters, tt.next, log)
			got, err := g.IsRelevant(context.Background(), tt.title, "")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error: got %v, want %v", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("IsRelevant() mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantCalls, tt.next.calls); diff != "" {
				t.Errorf("classifier calls mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
