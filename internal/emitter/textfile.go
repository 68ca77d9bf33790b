package emitter

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// TextfileEmitter writes check metrics to a file in the Prometheus text
// format, for node_exporter's textfile collector. The file is replaced
// atomically on every Emit.
type TextfileEmitter struct {
	path     string
	registry *prometheus.Registry
	provider *sdkmetric.MeterProvider
	metrics  *MetricsEmitter
}

// NewTextfileEmitter creates a textfile emitter writing to path.
func NewTextfileEmitter(path string) (*TextfileEmitter, error) {
	registry := prometheus.NewRegistry()

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	metrics, err := NewMetricsEmitter(provider.Meter("lambdactl"))
	if err != nil {
		_ = provider.Shutdown(context.Background())
		return nil, err
	}

	return &TextfileEmitter{
		path:     path,
		registry: registry,
		provider: provider,
		metrics:  metrics,
	}, nil
}

// Emit records the run and rewrites the textfile.
func (t *TextfileEmitter) Emit(ctx context.Context, run Run) error {
	if err := t.metrics.Emit(ctx, run); err != nil {
		return err
	}
	if err := prometheus.WriteToTextfile(t.path, t.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Close shuts down the private meter provider.
func (t *TextfileEmitter) Close() error {
	if err := t.metrics.Close(); err != nil {
		return err
	}
	return t.provider.Shutdown(context.Background())
}
