package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/spf13/cobra"

	"github.com/yairfalse/lambdactl/internal/config"
	"github.com/yairfalse/lambdactl/internal/journal"
	"github.com/yairfalse/lambdactl/internal/lambda"
	"github.com/yairfalse/lambdactl/internal/report"
	"github.com/yairfalse/lambdactl/internal/telemetry"
)

// Exit codes.
const (
	exitOK       = 0
	exitFindings = 1
	exitError    = 2
)

// exitErr carries a non-zero exit code out of a command. A nil err
// means the command already reported everything it had to say.
type exitErr struct {
	code int
	err  error
}

func (e *exitErr) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitErr) Unwrap() error { return e.err }

type globalFlags struct {
	apiKey     string
	configPath string
	dotenv     string
	noDotenv   bool
	baseURL    string
	logLevel   string
	debug      bool
}

// app holds the state shared by every command of one invocation.
type app struct {
	stdout io.Writer
	stderr io.Writer

	lookup    func(string) (string, bool)
	newClient func(cfg lambda.Config) (lambda.API, error)
	clock     func() time.Time

	flags     globalFlags
	cfg       *config.Config
	logger    *telemetry.Logger
	telemetry *telemetry.Provider
	journal   *journal.Journal
	closers   []func(context.Context) error

	// signalIsExit makes SIGINT/SIGTERM a clean exit.
	signalIsExit bool
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout:    stdout,
		stderr:    stderr,
		lookup:    os.LookupEnv,
		newClient: newLambdaClient,
		clock:     time.Now,
	}
}

func newLambdaClient(cfg lambda.Config) (lambda.API, error) {
	return lambda.New(cfg)
}

// execute runs one CLI invocation and returns its exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	return newApp(stdout, stderr).run(ctx, args)
}

func (a *app) run(ctx context.Context, args []string) int {
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g run.Group
	g.Add(func() error {
		return root.ExecuteContext(ctx)
	}, func(error) {
		cancel()
	})
	// The handler must only stop on a signal or when the command ends.
	g.Add(run.SignalHandler(context.WithoutCancel(ctx), os.Interrupt, syscall.SIGTERM))

	err := g.Run()
	a.close()
	return a.exitCode(err)
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil && a.logger != nil {
			a.logger.Warn().Err(err).Msg("shutdown failed")
		}
	}
	a.closers = nil
}

func (a *app) exitCode(err error) int {
	if err == nil {
		return exitOK
	}

	if errors.Is(err, run.ErrSignal) {
		if a.signalIsExit {
			return exitOK
		}
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return exitError
	}

	var ee *exitErr
	if errors.As(err, &ee) {
		if ee.err != nil {
			a.printError(ee.err)
		}
		return ee.code
	}

	a.printError(err)
	return exitError
}

// printError writes provider errors as a JSON object and everything else
// as a plain message.
func (a *app) printError(err error) {
	var apiErr *lambda.APIError
	if errors.As(err, &apiErr) {
		enc := json.NewEncoder(a.stderr)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(map[string]any{"error": report.ErrorFrom(err)}); encErr == nil {
			return
		}
	}
	fmt.Fprintf(a.stderr, "Error: %v\n", err)
}

// setup loads configuration, lets the command override it, validates the
// result and starts logging and telemetry.
func (a *app) setup(cmd *cobra.Command, override func(*config.Config)) error {
	if !a.flags.noDotenv {
		if err := config.LoadDotenv(a.flags.dotenv, a.flags.dotenv != ""); err != nil {
			return fmt.Errorf("%w: %w", config.ErrInvalid, err)
		}
	}

	cfg := config.Default()
	if path, _ := config.ResolvePath(a.flags.configPath, a.lookup); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			a.cfg = cfg
			return fmt.Errorf("%w: %s: %w", config.ErrInvalid, path, err)
		}
		cfg = loaded
	}
	cfg.ApplyEnv(a.lookup)
	a.applyGlobalFlags(cfg)
	if override != nil {
		override(cfg)
	}
	a.cfg = cfg

	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := telemetry.SetupLogging(a.stderr, cfg.Log); err != nil {
		return fmt.Errorf("%w: %w", config.ErrInvalid, err)
	}
	a.logger = telemetry.NewLogger("cli")

	provider, err := telemetry.NewProvider(cmd.Context(), cfg.OTEL, version)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	a.telemetry = provider
	a.closers = append(a.closers, provider.Shutdown)

	ctx, span := provider.StartSpan(cmd.Context(), cmd.CommandPath())
	cmd.SetContext(ctx)
	a.closers = append(a.closers, func(context.Context) error {
		span.End()
		return nil
	})

	a.logger.Debug().
		Str("command", cmd.CommandPath()).
		Str("base_url", cfg.API.BaseURL).
		Msg("configuration loaded")
	return nil
}

func (a *app) applyGlobalFlags(cfg *config.Config) {
	if a.flags.apiKey != "" {
		cfg.API.Key = a.flags.apiKey
	}
	if a.flags.baseURL != "" {
		cfg.API.BaseURL = a.flags.baseURL
	}
	if a.flags.logLevel != "" {
		cfg.Log.Level = a.flags.logLevel
	}
	if a.flags.debug {
		cfg.Log.Level = "debug"
	}
}

func (a *app) client() (lambda.API, error) {
	return a.newClient(lambda.Config{
		APIKey:    a.cfg.API.Key,
		BaseURL:   a.cfg.API.BaseURL,
		Timeout:   a.cfg.API.Timeout,
		RateLimit: a.cfg.API.RateLimit,
		UserAgent: "lambdactl/" + version,
	})
}

// openJournal returns the operation journal, or nil when it is disabled.
func (a *app) openJournal() (*journal.Journal, error) {
	if a.journal != nil || a.cfg.Journal.Path == "" {
		return a.journal, nil
	}
	j, err := journal.Open(a.cfg.Journal.Path, journal.WithClock(a.clock))
	if err != nil {
		return nil, err
	}
	a.journal = j
	a.closers = append(a.closers, func(context.Context) error { return j.Close() })
	return j, nil
}

// record appends an operation to the journal. Journal failures never fail
// the operation they describe.
func (a *app) record(kind journal.Kind, ids []string, data any, opErr error) {
	j, err := a.openJournal()
	if err != nil {
		a.logger.Warn().Err(err).Str("kind", string(kind)).Msg("journal unavailable")
		return
	}
	if j == nil {
		return
	}

	if opErr != nil {
		_, err = j.AppendError(kind, ids, data, opErr)
	} else {
		_, err = j.Append(kind, ids, data)
	}
	if err != nil {
		a.logger.Warn().Err(err).Str("kind", string(kind)).Msg("journal append failed")
	}
}
