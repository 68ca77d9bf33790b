package daemon

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds daemon operational metrics
type Metrics struct {
	cycles        metric.Int64Counter
	cycleDuration metric.Float64Histogram
}

// NewMetrics creates daemon metrics on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return newMetrics(otel.Meter("lambdactl/daemon"))
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	cycles, err := meter.Int64Counter(
		"lambdactl.daemon.cycles",
		metric.WithDescription("Number of watch check cycles"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return nil, err
	}

	cycleDuration, err := meter.Float64Histogram(
		"lambdactl.daemon.cycle.duration",
		metric.WithDescription("Duration of watch check cycles"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		cycles:        cycles,
		cycleDuration: cycleDuration,
	}, nil
}

// RecordCheck records one check cycle with its status.
func (m *Metrics) RecordCheck(ctx context.Context, status string, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.cycles.Add(ctx, 1, attrs)
	m.cycleDuration.Record(ctx, elapsed.Seconds(), attrs)
}
