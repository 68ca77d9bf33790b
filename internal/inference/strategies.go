package inference

import (
	"context"
	"fmt"
	"strings"

	"github.com/yairfalse/lambdactl/internal/audit"
	"github.com/yairfalse/lambdactl/pkg/instance"
)

// Strategy names.
const (
	StrategyTag   = "tag"
	StrategyAudit = "audit"
)

const (
	startedAtHyphen     = "started-at"
	startedAtUnderscore = "started_at"
)

// TagStrategy reads the start time from an instance tag.
type TagStrategy struct {
	keys []string
}

// NewTagStrategy looks up key, and for either spelling of "started-at"
// the other spelling as a fallback.
func NewTagStrategy(key string) *TagStrategy {
	keys := []string{key}
	switch key {
	case startedAtHyphen:
		keys = append(keys, startedAtUnderscore)
	case startedAtUnderscore:
		keys = append(keys, startedAtHyphen)
	}
	return &TagStrategy{keys: keys}
}

// Name implements Strategy.
func (s *TagStrategy) Name() string { return StrategyTag }

// Attempt implements Strategy. The first non-blank tag value is used; an
// unparseable value declines with a warning.
func (s *TagStrategy) Attempt(_ context.Context, inst instance.Instance) Outcome {
	for _, key := range s.keys {
		value, ok := inst.Tag(key)
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}

		started, err := instance.ParseTime(value)
		if err != nil {
			return Outcome{
				Status: Declined,
				Warning: &Warning{
					InstanceID: inst.ID,
					Strategy:   StrategyTag,
					Kind:       WarningTagUnparseable,
					Message:    fmt.Sprintf("tag %q: %v", key, err),
				},
			}
		}
		return Outcome{
			Status:   Found,
			Estimate: Estimate{InstanceID: inst.ID, StartedAt: started, Source: SourceTag},
		}
	}
	return Outcome{Status: Declined}
}

// AuditStrategy takes the earliest matching launch event from the shared
// audit evidence.
type AuditStrategy struct {
	source  audit.Source
	matcher audit.Matcher
}

// NewAuditStrategy creates an audit strategy. A nil matcher matches
// nothing.
func NewAuditStrategy(source audit.Source, matcher audit.Matcher) *AuditStrategy {
	if matcher == nil {
		matcher = audit.AnyMatcher{}
	}
	return &AuditStrategy{source: source, matcher: matcher}
}

// Name implements Strategy.
func (s *AuditStrategy) Name() string { return StrategyAudit }

// Attempt implements Strategy.
func (s *AuditStrategy) Attempt(ctx context.Context, inst instance.Instance) Outcome {
	snap, err := s.source.Snapshot(ctx)
	if err != nil {
		return Outcome{
			Status: Errored,
			Err:    err,
			Warning: &Warning{
				InstanceID: inst.ID,
				Strategy:   StrategyAudit,
				Kind:       WarningAuditUnavailable,
				Message:    err.Error(),
			},
		}
	}

	ev, ok := snap.Earliest(ctx, inst.ID, s.matcher)
	if !ok {
		return Outcome{Status: Declined}
	}
	return Outcome{
		Status:   Found,
		Estimate: Estimate{InstanceID: inst.ID, StartedAt: ev.Time, Source: SourceAudit},
	}
}

// Options selects the strategy chain.
type Options struct {
	TagKey string
	// Audit enables the audit fallback when non-nil.
	Audit   audit.Source
	Matcher audit.Matcher
}

// NewDefaultEngine builds the tag strategy followed, when an audit source
// is given, by the audit strategy.
func NewDefaultEngine(opts Options) *Engine {
	strategies := []Strategy{NewTagStrategy(opts.TagKey)}
	if opts.Audit != nil {
		strategies = append(strategies, NewAuditStrategy(opts.Audit, opts.Matcher))
	}
	return NewEngine(strategies...)
}
