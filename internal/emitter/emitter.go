// Package emitter publishes long-running check results as metrics.
package emitter

import (
	"context"
	"errors"
	"time"

	"github.com/yairfalse/lambdactl/internal/classifier"
	"github.com/yairfalse/lambdactl/internal/report"
)

// Run is one completed long-running check.
type Run struct {
	Result   classifier.Result
	Level    report.Level
	Duration time.Duration
}

// Emitter outputs check results to a backend.
type Emitter interface {
	// Emit publishes one run.
	Emit(ctx context.Context, run Run) error

	// Close cleans up resources.
	Close() error
}

// MultiEmitter fans out to multiple emitters.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter creates an emitter that sends to multiple backends.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	return &MultiEmitter{emitters: emitters}
}

// Emit sends to every emitter and joins their errors.
func (m *MultiEmitter) Emit(ctx context.Context, run Run) error {
	var errs []error
	for _, e := range m.emitters {
		if err := e.Emit(ctx, run); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all emitters and joins their errors.
func (m *MultiEmitter) Close() error {
	var errs []error
	for _, e := range m.emitters {
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
