// Package audit gathers audit-event evidence about instance launches.
package audit

import (
	"context"
	"strings"

	"github.com/yairfalse/lambdactl/pkg/instance"
)

// Matcher decides whether an audit event records an instance launch.
type Matcher interface {
	Match(ctx context.Context, ev instance.AuditEvent) bool
}

// KeywordMatcher matches events whose action contains any keyword,
// case-insensitively. An event with an empty action never matches.
type KeywordMatcher struct {
	keywords []string
}

// NewKeywordMatcher builds a matcher from keywords; blanks are ignored.
func NewKeywordMatcher(keywords []string) KeywordMatcher {
	m := KeywordMatcher{}
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			m.keywords = append(m.keywords, k)
		}
	}
	return m
}

// Match implements Matcher.
func (m KeywordMatcher) Match(_ context.Context, ev instance.AuditEvent) bool {
	action := strings.ToLower(ev.Action)
	if action == "" {
		return false
	}
	for _, k := range m.keywords {
		if strings.Contains(action, k) {
			return true
		}
	}
	return false
}

// AnyMatcher matches when any of its matchers does.
type AnyMatcher []Matcher

// Match implements Matcher.
func (m AnyMatcher) Match(ctx context.Context, ev instance.AuditEvent) bool {
	for _, matcher := range m {
		if matcher.Match(ctx, ev) {
			return true
		}
	}
	return false
}
