// Package classifier decides which running instances have been up longer
// than a threshold.
package classifier

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/yairfalse/lambdactl/internal/filter"
	"github.com/yairfalse/lambdactl/internal/inference"
	"github.com/yairfalse/lambdactl/internal/telemetry"
	"github.com/yairfalse/lambdactl/pkg/instance"
)

// Classification of one running instance.
type Classification string

const (
	LongRunning Classification = "long_running"
	OK          Classification = "ok"
	Unknown     Classification = "unknown"
)

// DefaultWorkers bounds concurrent inferences.
const DefaultWorkers = 4

// Finding is the verdict for one running instance. StartedAt and Age are
// nil when the start time is unknown.
type Finding struct {
	Instance       instance.Instance
	StartedAt      *time.Time
	Age            *time.Duration
	Source         inference.Source
	Classification Classification
	Degraded       bool
}

// Summary counts findings by outcome.
type Summary struct {
	Running     int
	LongRunning int
	OK          int
	Unknown     int
	Degraded    int
}

// Result is the outcome of one classification run.
type Result struct {
	Now            time.Time
	Threshold      time.Duration
	Findings       []Finding // Input order
	Summary        Summary
	HasLongRunning bool
	Degraded       bool
	Warnings       []inference.Warning
}

// Inferrer infers a start time for an instance.
type Inferrer interface {
	Infer(ctx context.Context, inst instance.Instance) inference.Inference
}

// Options configure a Classifier.
type Options struct {
	Threshold time.Duration
	Workers   int              // < 1 means DefaultWorkers
	Filter    *filter.Filter   // nil admits every instance
	Clock     func() time.Time // nil means time.Now
}

// Classifier classifies instances.
type Classifier struct {
	engine Inferrer
	opts   Options
	logger *telemetry.Logger
	tracer trace.Tracer
}

// New creates a classifier. Threshold is not validated here: with a
// threshold <= 0 every instance with a known start is long-running.
func New(engine Inferrer, opts Options) *Classifier {
	if opts.Workers < 1 {
		opts.Workers = DefaultWorkers
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Classifier{
		engine: engine,
		opts:   opts,
		logger: telemetry.NewLogger("classifier"),
		tracer: otel.Tracer("classifier"),
	}
}

// Classify infers and classifies every running instance. The evaluation
// time is read once, so every age in the result shares one reference.
func (c *Classifier) Classify(ctx context.Context, instances []instance.Instance) Result {
	ctx, span := c.tracer.Start(ctx, "classifier.classify",
		trace.WithAttributes(
			attribute.Int("instances.total", len(instances)),
			attribute.Int("workers", c.opts.Workers),
		))
	defer span.End()

	now := c.opts.Clock().UTC()
	running := c.opts.Filter.Apply(instances)

	inferences := make([]inference.Inference, len(running))
	var g errgroup.Group
	g.SetLimit(c.opts.Workers)
	for i, inst := range running {
		g.Go(func() error {
			inferences[i] = c.engine.Infer(ctx, inst)
			return nil
		})
	}
	_ = g.Wait()

	result := Result{
		Now:       now,
		Threshold: c.opts.Threshold,
		Findings:  make([]Finding, 0, len(running)),
	}
	for i, inst := range running {
		f := classify(inst, inferences[i], now, c.opts.Threshold)
		result.Findings = append(result.Findings, f)
		result.Warnings = append(result.Warnings, inferences[i].Warnings...)
		result.Summary.add(f)
	}
	result.HasLongRunning = result.Summary.LongRunning > 0
	result.Degraded = result.Summary.Degraded > 0

	span.SetAttributes(
		attribute.Int("instances.running", result.Summary.Running),
		attribute.Int("instances.long_running", result.Summary.LongRunning),
		attribute.Int("instances.unknown", result.Summary.Unknown),
		attribute.Bool("degraded", result.Degraded),
	)
	c.logger.WithContext(ctx).Info().
		Int("running", result.Summary.Running).
		Int("long_running", result.Summary.LongRunning).
		Int("unknown", result.Summary.Unknown).
		Bool("degraded", result.Degraded).
		Msg("classification complete")

	return result
}

func classify(inst instance.Instance, inf inference.Inference, now time.Time, threshold time.Duration) Finding {
	f := Finding{
		Instance:       inst,
		Classification: Unknown,
		Degraded:       inf.Degraded,
	}
	if inf.Estimate == nil {
		return f
	}

	started := inf.Estimate.StartedAt.UTC()
	age := now.Sub(started)
	f.StartedAt = &started
	f.Age = &age
	f.Source = inf.Estimate.Source

	// Inclusive: an instance exactly at the threshold is long-running.
	// Clock skew can make age negative; that is simply not long-running.
	if age >= threshold {
		f.Classification = LongRunning
	} else {
		f.Classification = OK
	}
	return f
}

func (s *Summary) add(f Finding) {
	s.Running++
	switch f.Classification {
	case LongRunning:
		s.LongRunning++
	case OK:
		s.OK++
	case Unknown:
		s.Unknown++
	}
	if f.Degraded {
		s.Degraded++
	}
}
