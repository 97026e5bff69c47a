// Package filter implements the keyword matching engine that runs in front of
// the relevance classifier.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"news_bot/internal/model"
)

// Match checks whether a candidate passes the given set of filters.
// If no filters are provided, the candidate always passes.
// Include filters use OR logic (at least one must match).
// Exclude filters use AND logic (none must match).
func Match(c model.Candidate, filters []model.Filter) bool {
	if len(filters) == 0 {
		return true
	}

	hasIncludes := false
	anyIncludeMatched := false

	for _, f := range filters {
		switch f.Kind {
		case model.FilterInclude, model.FilterIncludeRe:
			hasIncludes = true
			if matchesFilter(c, f) {
				anyIncludeMatched = true
			}
		case model.FilterExclude, model.FilterExcludeRe:
			if matchesFilter(c, f) {
				return false
			}
		}
	}

	if hasIncludes && !anyIncludeMatched {
		return false
	}
	return true
}

func matchesFilter(c model.Candidate, f model.Filter) bool {
	text := textForScope(c, f.Scope)
	switch f.Kind {
	case model.FilterInclude, model.FilterExclude:
		return strings.Contains(text, strings.ToLower(f.Value))
	case model.FilterIncludeRe, model.FilterExcludeRe:
		re, err := regexp.Compile("(?i)" + f.Value)
		if err != nil {
			return false
		}
		return re.MatchString(text)
	}
	return false
}

func textForScope(c model.Candidate, scope model.FilterScope) string {
	switch scope {
	case model.ScopeTitle:
		return strings.ToLower(c.Title)
	case model.ScopeContent:
		return strings.ToLower(c.Content)
	default:
		return strings.ToLower(c.Title + " " + c.Content)
	}
}

// ValidateRegex checks whether a pattern is a valid regular expression.
func ValidateRegex(pattern string) error {
	_, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return fmt.Errorf("invalid regex: %w", err)
	}
	return nil
}

// ParseRules turns configured include/exclude rules into filters.
//
// A rule is "[title:|content:][re:]value". The scope prefix limits matching
// to the title or the content (default both), and "re:" marks a regular
// expression instead of a plain substring.
func ParseRules(include, exclude []string) ([]model.Filter, error) {
	var filters []model.Filter
	for _, r := range include {
		f, err := parseRule(r, model.FilterInclude, model.FilterIncludeRe)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	for _, r := range exclude {
		f, err := parseRule(r, model.FilterExclude, model.FilterExcludeRe)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return filters, nil
}

func parseRule(rule string, plain, re model.FilterKind) (model.Filter, error) {
	f := model.Filter{Kind: plain, Scope: model.ScopeAll}
	v := strings.TrimSpace(rule)

	switch {
	case strings.HasPrefix(v, "title:"):
		f.Scope, v = model.ScopeTitle, strings.TrimPrefix(v, "title:")
	case strings.HasPrefix(v, "content:"):
		f.Scope, v = model.ScopeContent, strings.TrimPrefix(v, "content:")
	}
	if strings.HasPrefix(v, "re:") {
		f.Kind, v = re, strings.TrimPrefix(v, "re:")
		if err := ValidateRegex(v); err != nil {
			return model.Filter{}, fmt.Errorf("rule %q: %w", rule, err)
		}
	}
	if v == "" {
		return model.Filter{}, fmt.Errorf("rule %q: empty value", rule)
	}
	f.Value = v
	return f, nil
}
