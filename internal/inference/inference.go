// Package inference works out when an instance started.
//
// An Engine walks an ordered list of strategies; the first one that finds
// a start time wins. Strategies never fail the caller: declines and
// errors become warnings on the Inference.
package inference

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/lambdactl/internal/telemetry"
	"github.com/yairfalse/lambdactl/pkg/instance"
)

// Source names the evidence behind an estimate.
type Source string

const (
	SourceTag   Source = "tag"
	SourceAudit Source = "audit-heuristic"
)

// Estimate is an inferred start time.
type Estimate struct {
	InstanceID string
	StartedAt  time.Time
	Source     Source
}

// Status is the three-way result of one strategy attempt.
type Status int

const (
	Declined Status = iota // No evidence; try the next strategy
	Found                  // Estimate is set
	Errored                // Evidence could not be read
)

func (s Status) String() string {
	switch s {
	case Found:
		return "found"
	case Errored:
		return "errored"
	default:
		return "declined"
	}
}

// WarningKind classifies a warning.
type WarningKind string

const (
	WarningTagUnparseable   WarningKind = "tag_unparseable"
	WarningAuditUnavailable WarningKind = "audit_unavailable"
)

// Warning is a non-fatal problem met while inferring one instance.
type Warning struct {
	InstanceID string
	Strategy   string
	Kind       WarningKind
	Message    string
}

// Outcome is what a strategy returns.
type Outcome struct {
	Status   Status
	Estimate Estimate
	Warning  *Warning
	Err      error
}

// Strategy is one way of inferring a start time.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, inst instance.Instance) Outcome
}

// Inference is the engine's answer for one instance. Estimate is nil when
// no strategy found a start time.
type Inference struct {
	Estimate *Estimate
	Warnings []Warning
	Degraded bool
}

// Engine runs strategies in order.
type Engine struct {
	strategies []Strategy
	logger     *telemetry.Logger
	tracer     trace.Tracer
}

// NewEngine creates an engine. Order matters: earlier strategies win.
func NewEngine(strategies ...Strategy) *Engine {
	return &Engine{
		strategies: strategies,
		logger:     telemetry.NewLogger("inference"),
		tracer:     otel.Tracer("inference"),
	}
}

// Strategies returns the strategy names in evaluation order.
func (e *Engine) Strategies() []string {
	names := make([]string, 0, len(e.strategies))
	for _, s := range e.strategies {
		names = append(names, s.Name())
	}
	return names
}

// Infer returns the first estimate any strategy finds. It is safe for
// concurrent use when the strategies are.
func (e *Engine) Infer(ctx context.Context, inst instance.Instance) Inference {
	ctx, span := e.tracer.Start(ctx, "inference.infer",
		trace.WithAttributes(attribute.String("instance.id", inst.ID)))
	defer span.End()

	var result Inference
	for _, s := range e.strategies {
		out := s.Attempt(ctx, inst)
		span.AddEvent("strategy", trace.WithAttributes(
			attribute.String("strategy.name", s.Name()),
			attribute.String("strategy.status", out.Status.String()),
		))

		if out.Warning != nil {
			result.Warnings = append(result.Warnings, *out.Warning)
		}

		switch out.Status {
		case Found:
			est := out.Estimate
			result.Estimate = &est
			span.SetAttributes(attribute.String("inference.source", string(est.Source)))
			return result
		case Errored:
			result.Degraded = true
			e.logger.WithContext(ctx).Warn().
				Err(out.Err).
				Str("instance_id", inst.ID).
				Str("strategy", s.Name()).
				Msg("strategy failed")
		}
	}

	span.SetAttributes(attribute.String("inference.source", "none"))
	return result
}
