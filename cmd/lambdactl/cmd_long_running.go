package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/metric"

	"github.com/yairfalse/lambdactl/internal/audit"
	"github.com/yairfalse/lambdactl/internal/classifier"
	"github.com/yairfalse/lambdactl/internal/config"
	"github.com/yairfalse/lambdactl/internal/emitter"
	"github.com/yairfalse/lambdactl/internal/filter"
	"github.com/yairfalse/lambdactl/internal/inference"
	"github.com/yairfalse/lambdactl/internal/journal"
	"github.com/yairfalse/lambdactl/internal/lambda"
	"github.com/yairfalse/lambdactl/internal/report"
)

type longRunningFlags struct {
	hours            float64
	tagKey           string
	fallback         bool
	auditWindowHours float64
	auditResource    string
	auditMaxPages    int
	auditKeywords    []string
	auditPolicy      string
	includeUnknown   bool
	failOnFindings   bool
	workers          int
	metricsTextfile  string
}

func newLongRunningCmd(a *app) *cobra.Command {
	f := &longRunningFlags{}

	cmd := &cobra.Command{
		Use:   "long-running",
		Short: "Find instances running longer than a threshold",
		Long: `Find running instances whose age meets or exceeds the threshold.

The start time of each instance comes from its started-at tag. With
--fallback-audit-events, instances without a usable tag are matched
against launch events in the account's audit history.

Always prints a JSON report. Exit codes: 0 ok, 1 long-running instances
found with --fail-on-findings, 2 error.`,
		Example: `  lambdactl instances long-running                              # 24h threshold
  lambdactl instances long-running --hours 8 --fail-on-findings  # Alert after 8h
  lambdactl instances long-running --fallback-audit-events       # Use audit history for untagged instances`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runLongRunning(cmd, f)
		},
	}

	f.register(cmd)
	cmd.Flags().Bool("json", true, "Output JSON (always on)")
	cmd.SetFlagErrorFunc(a.failOnFlagError)
	return cmd
}

func (f *longRunningFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.Float64Var(&f.hours, "hours", config.DefaultThreshold.Hours(), "Threshold age in hours")
	fl.StringVar(&f.tagKey, "tag-key", config.DefaultTagKey, "Tag holding the instance start time")
	fl.BoolVar(&f.fallback, "fallback-audit-events", false, "Infer start times from audit events when the tag is missing")
	fl.Float64Var(&f.auditWindowHours, "audit-window-hours", config.DefaultAuditWindow.Hours(), "How far back to read audit events")
	fl.StringVar(&f.auditResource, "audit-resource-type", config.DefaultResourceType, "Audit event resource type filter")
	fl.IntVar(&f.auditMaxPages, "audit-max-pages", config.DefaultMaxPages, "Maximum audit event pages to read")
	fl.StringArrayVar(&f.auditKeywords, "audit-action-keyword", nil, "Extra audit action keyword that marks a launch (repeatable)")
	fl.StringVar(&f.auditPolicy, "audit-policy", "", "Rego policy file deciding which audit events mark a launch")
	fl.BoolVar(&f.includeUnknown, "include-unknown", false, "List instances with unknown start time in the report")
	fl.BoolVar(&f.failOnFindings, "fail-on-findings", false, "Exit 1 when long-running instances are found")
	fl.IntVar(&f.workers, "workers", config.DefaultWorkers, "Parallel start-time inferences")
	fl.StringVar(&f.metricsTextfile, "metrics-textfile", "", "Write Prometheus metrics to this textfile")
}

// apply overlays the flags the user set on the loaded configuration.
func (f *longRunningFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed

	if changed("hours") {
		cfg.LongRunning.Threshold = hoursToDuration(f.hours)
	}
	if changed("tag-key") {
		cfg.LongRunning.TagKey = f.tagKey
	}
	if changed("fallback-audit-events") {
		cfg.Audit.FallbackAuditEvents = f.fallback
	}
	if changed("audit-window-hours") {
		cfg.Audit.Window = hoursToDuration(f.auditWindowHours)
	}
	if changed("audit-resource-type") {
		cfg.Audit.ResourceType = f.auditResource
	}
	if changed("audit-max-pages") {
		cfg.Audit.MaxPages = f.auditMaxPages
	}
	if len(f.auditKeywords) > 0 {
		cfg.Audit.MatchPatterns = append(cfg.Audit.MatchPatterns, f.auditKeywords...)
	}
	if changed("audit-policy") {
		cfg.Audit.PolicyFile = f.auditPolicy
	}
	if changed("include-unknown") {
		cfg.LongRunning.IncludeUnknown = f.includeUnknown
	}
	if changed("fail-on-findings") {
		cfg.LongRunning.FailOnFindings = f.failOnFindings
	}
	if changed("workers") {
		cfg.LongRunning.Workers = f.workers
	}
	if changed("metrics-textfile") {
		cfg.Metrics.Textfile = f.metricsTextfile
	}
}

func hoursToDuration(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

func (a *app) runLongRunning(cmd *cobra.Command, f *longRunningFlags) error {
	err := a.setup(cmd, func(cfg *config.Config) { f.apply(cmd, cfg) })
	if err != nil {
		return a.failLongRunning(err)
	}
	ctx := cmd.Context()

	client, err := a.client()
	if err != nil {
		return a.failLongRunning(err)
	}
	matcher, err := a.auditMatcher(ctx)
	if err != nil {
		return a.failLongRunning(err)
	}

	rep, err := a.checkLongRunning(ctx, client, matcher, a.newEmitter(a.telemetry.Meter()))
	if err != nil {
		return a.failLongRunning(err)
	}

	if err := writeJSON(a.stdout, rep); err != nil {
		return &exitErr{code: exitError, err: err}
	}
	if rep.Level == report.LevelFindings {
		return &exitErr{code: exitFindings}
	}
	return nil
}

// checkLongRunning runs one complete check. Audit history is fetched at
// most once per call. An error means no report could be built.
func (a *app) checkLongRunning(ctx context.Context, client lambda.API, matcher audit.Matcher, emit emitter.Emitter) (report.Report, error) {
	cfg := a.cfg
	start := a.clock()

	instances, err := client.ListInstances(ctx)
	if err != nil {
		return report.Report{}, fmt.Errorf("list instances: %w", err)
	}

	opts := inference.Options{TagKey: cfg.LongRunning.TagKey}
	if cfg.Audit.FallbackAuditEvents {
		fetcher := audit.NewFetcher(client, audit.FetchOptions{
			Window:       cfg.Audit.Window,
			ResourceType: cfg.Audit.ResourceType,
			MaxPages:     cfg.Audit.MaxPages,
		}, a.clock)
		opts.Audit = audit.NewOnceSource(fetcher.Fetch)
		opts.Matcher = matcher
	}

	cls := classifier.New(inference.NewDefaultEngine(opts), classifier.Options{
		Threshold: cfg.LongRunning.Threshold,
		Workers:   cfg.LongRunning.Workers,
		Filter:    filter.New(cfg.LongRunning.RunningStatuses, nil, nil),
		Clock:     a.clock,
	})
	result := cls.Classify(ctx, instances)
	if err := ctx.Err(); err != nil {
		return report.Report{}, err
	}

	rep := report.Build(result, report.Options{
		FailOnFindings: cfg.LongRunning.FailOnFindings,
		IncludeUnknown: cfg.LongRunning.IncludeUnknown,
	})

	run := emitter.Run{Result: result, Level: rep.Level, Duration: a.clock().Sub(start)}
	if err := emit.Emit(ctx, run); err != nil {
		a.logger.Warn().Err(err).Msg("emit metrics failed")
	}
	a.record(journal.KindLongRunning, longRunningIDs(result), rep.Summary, nil)

	a.logger.Info().
		Int("running", rep.Summary.Running).
		Int("long_running", rep.Summary.LongRunning).
		Int("unknown", rep.Summary.Unknown).
		Bool("degraded", rep.Degraded).
		Str("level", string(rep.Level)).
		Msg("long-running check complete")
	return rep, nil
}

// failLongRunning prints the error envelope on stdout; the message goes
// to stderr on exit.
func (a *app) failLongRunning(err error) error {
	threshold := config.DefaultThreshold
	if a.cfg != nil {
		threshold = a.cfg.LongRunning.Threshold
	}
	if werr := writeJSON(a.stdout, report.Failure(err, a.clock(), threshold)); werr != nil {
		err = fmt.Errorf("%w (%v)", err, werr)
	}
	return &exitErr{code: exitError, err: err}
}

// failOnFlagError reports a flag that did not parse as an invalid
// configuration in the JSON envelope.
func (a *app) failOnFlagError(_ *cobra.Command, err error) error {
	return a.failLongRunning(fmt.Errorf("%w: %w", config.ErrInvalid, err))
}

// auditMatcher builds the launch-event matcher, or nil when the audit
// fallback is off.
func (a *app) auditMatcher(ctx context.Context) (audit.Matcher, error) {
	if !a.cfg.Audit.FallbackAuditEvents {
		return nil, nil
	}
	matchers := audit.AnyMatcher{audit.NewKeywordMatcher(a.cfg.Audit.MatchPatterns)}
	if a.cfg.Audit.PolicyFile != "" {
		rm, err := audit.LoadRegoMatcher(ctx, a.cfg.Audit.PolicyFile)
		if err != nil {
			return nil, fmt.Errorf("%w: audit policy: %w", config.ErrInvalid, err)
		}
		matchers = append(matchers, rm)
	}
	return matchers, nil
}

// newEmitter publishes run metrics on meter and, when configured, to the
// textfile. Emitters that cannot be built are logged and skipped.
func (a *app) newEmitter(meter metric.Meter) emitter.Emitter {
	var emitters []emitter.Emitter

	me, err := emitter.NewMetricsEmitter(meter)
	if err != nil {
		a.logger.Warn().Err(err).Msg("metrics emitter unavailable")
	} else {
		emitters = append(emitters, me)
	}

	if path := a.cfg.Metrics.Textfile; path != "" {
		te, err := emitter.NewTextfileEmitter(path)
		if err != nil {
			a.logger.Warn().Err(err).Str("path", path).Msg("textfile emitter unavailable")
		} else {
			emitters = append(emitters, te)
		}
	}

	multi := emitter.NewMultiEmitter(emitters...)
	// Closed after the telemetry provider has flushed the gauges.
	closeEmitters := func(context.Context) error { return multi.Close() }
	a.closers = append([]func(context.Context) error{closeEmitters}, a.closers...)
	return multi
}

func longRunningIDs(r classifier.Result) []string {
	var ids []string
	for _, f := range r.Findings {
		if f.Classification == classifier.LongRunning {
			ids = append(ids, f.Instance.ID)
		}
	}
	return ids
}
