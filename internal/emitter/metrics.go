package emitter

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/yairfalse/lambdactl/internal/classifier"
)

// MetricsEmitter records check results on an OTEL meter.
type MetricsEmitter struct {
	meter metric.Meter

	instanceAge   metric.Float64ObservableGauge
	instances     metric.Int64ObservableGauge
	degraded      metric.Int64ObservableGauge
	lastCheck     metric.Float64ObservableGauge
	checkDuration metric.Float64Histogram
	checksTotal   metric.Int64Counter
	registration  metric.Registration

	mu   sync.RWMutex
	last *Run
}

// NewMetricsEmitter creates a metrics emitter on meter.
func NewMetricsEmitter(meter metric.Meter) (*MetricsEmitter, error) {
	e := &MetricsEmitter{meter: meter}
	if err := e.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	return e, nil
}

func (e *MetricsEmitter) initMetrics() error {
	var err error

	e.instanceAge, err = e.meter.Float64ObservableGauge(
		"lambdactl_instance_age_seconds",
		metric.WithDescription("Age of each running instance with a known start time, labeled by id and name; only instances from the latest check are reported"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create instance_age gauge: %w", err)
	}

	e.instances, err = e.meter.Int64ObservableGauge(
		"lambdactl_instances",
		metric.WithDescription("Running instances by classification"),
	)
	if err != nil {
		return fmt.Errorf("create instances gauge: %w", err)
	}

	e.degraded, err = e.meter.Int64ObservableGauge(
		"lambdactl_degraded_instances",
		metric.WithDescription("Instances whose start time could not be checked against audit history"),
	)
	if err != nil {
		return fmt.Errorf("create degraded gauge: %w", err)
	}

	e.lastCheck, err = e.meter.Float64ObservableGauge(
		"lambdactl_last_check_timestamp_seconds",
		metric.WithDescription("Unix time of the last completed check"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create last_check gauge: %w", err)
	}

	e.checkDuration, err = e.meter.Float64Histogram(
		"lambdactl_check_duration_seconds",
		metric.WithDescription("Time taken by a long-running check"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create check_duration histogram: %w", err)
	}

	e.checksTotal, err = e.meter.Int64Counter(
		"lambdactl_checks",
		metric.WithDescription("Completed long-running checks by level"),
	)
	if err != nil {
		return fmt.Errorf("create checks counter: %w", err)
	}

	e.registration, err = e.meter.RegisterCallback(e.observe, e.instanceAge, e.instances, e.degraded, e.lastCheck)
	if err != nil {
		return fmt.Errorf("register callback: %w", err)
	}

	return nil
}

// Emit records the run.
func (e *MetricsEmitter) Emit(ctx context.Context, run Run) error {
	e.checkDuration.Record(ctx, run.Duration.Seconds())
	e.checksTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("level", string(run.Level))))

	e.mu.Lock()
	e.last = &run
	e.mu.Unlock()
	return nil
}

// observe reports the gauges for the last emitted run. Per-instance series
// for instances missing from that run are not observed again.
func (e *MetricsEmitter) observe(_ context.Context, o metric.Observer) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.last == nil {
		return nil
	}
	res := e.last.Result

	for _, f := range res.Findings {
		if f.Age == nil {
			continue
		}
		o.ObserveFloat64(e.instanceAge, f.Age.Seconds(), metric.WithAttributes(
			attribute.String("id", f.Instance.ID),
			attribute.String("name", f.Instance.Name),
			attribute.String("classification", string(f.Classification)),
			attribute.String("source", string(f.Source)),
		))
	}

	counts := map[classifier.Classification]int{
		classifier.LongRunning: res.Summary.LongRunning,
		classifier.OK:          res.Summary.OK,
		classifier.Unknown:     res.Summary.Unknown,
	}
	for c, n := range counts {
		o.ObserveInt64(e.instances, int64(n), metric.WithAttributes(attribute.String("classification", string(c))))
	}

	o.ObserveInt64(e.degraded, int64(res.Summary.Degraded))
	o.ObserveFloat64(e.lastCheck, float64(res.Now.UnixNano())/1e9)
	return nil
}

// Close unregisters the gauge callback.
func (e *MetricsEmitter) Close() error {
	if e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
