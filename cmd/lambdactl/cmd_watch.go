package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/yairfalse/lambdactl/internal/config"
	"github.com/yairfalse/lambdactl/internal/daemon"
	"github.com/yairfalse/lambdactl/internal/report"
)

func newWatchCmd(a *app) *cobra.Command {
	f := &longRunningFlags{}
	var (
		interval time.Duration
		listen   string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Repeat the long-running check on an interval",
		Long: `Repeat the long-running check on an interval until interrupted.

Each check prints one JSON report line. Metrics for the latest check are
served on /metrics, with /healthz and /readyz for probes. A failed check
is reported and retried on the next tick.`,
		Example: `  lambdactl instances watch                          # Every 15m, serve on :9090
  lambdactl instances watch --interval 5m --hours 8   # Tighter loop and threshold
  lambdactl instances watch --listen ""               # No HTTP server`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := a.setup(cmd, func(cfg *config.Config) {
				f.apply(cmd, cfg)
				if cmd.Flags().Changed("interval") {
					cfg.Watch.Interval = interval
				}
				if cmd.Flags().Changed("listen") {
					cfg.Watch.Listen = listen
				}
			})
			if err != nil {
				return a.failLongRunning(err)
			}
			return a.runWatch(cmd.Context())
		},
	}

	f.register(cmd)
	cmd.Flags().DurationVar(&interval, "interval", config.DefaultWatchInterval, "Time between checks")
	cmd.Flags().StringVar(&listen, "listen", config.DefaultListenAddr, `Metrics and health listen address ("" disables)`)
	cmd.SetFlagErrorFunc(a.failOnFlagError)
	return cmd
}

func (a *app) runWatch(ctx context.Context) error {
	// Interrupts are the normal way to stop watching.
	a.signalIsExit = true

	client, err := a.client()
	if err != nil {
		return err
	}
	matcher, err := a.auditMatcher(ctx)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return fmt.Errorf("create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	a.closers = append(a.closers, provider.Shutdown)
	emit := a.newEmitter(provider.Meter("lambdactl"))

	d, err := daemon.New(daemon.Config{
		Interval: a.cfg.Watch.Interval,
		Addr:     a.cfg.Watch.Listen,
		Metrics:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}, func(ctx context.Context) error {
		rep, err := a.checkLongRunning(ctx, client, matcher, emit)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			rep = report.Failure(err, a.clock(), a.cfg.LongRunning.Threshold)
		}
		if werr := writeJSONLine(a.stdout, rep); werr != nil && err == nil {
			err = werr
		}
		return err
	})
	if err != nil {
		return err
	}

	a.logger.Info().
		Dur("interval", a.cfg.Watch.Interval).
		Str("listen", a.cfg.Watch.Listen).
		Msg("watch starting")
	return d.Start(ctx)
}
