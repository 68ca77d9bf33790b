// Package daemon runs the long-running check on an interval and serves
// its metrics and health endpoints.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yairfalse/lambdactl/internal/telemetry"
)

// CheckFunc runs one check cycle.
type CheckFunc func(ctx context.Context) error

// Config holds daemon configuration
type Config struct {
	Interval time.Duration
	Addr     string       // Listen address; empty disables the HTTP server
	Metrics  http.Handler // Served on /metrics when non-nil
}

// Daemon runs checks on an interval.
type Daemon struct {
	interval time.Duration
	addr     string
	check    CheckFunc
	handler  http.Handler
	metrics  *Metrics
	logger   *telemetry.Logger

	startTime time.Time
	checks    atomic.Int64
	failures  atomic.Int64
	ready     atomic.Bool

	mu       sync.Mutex
	listener net.Addr
}

// New creates a daemon.
func New(cfg Config, check CheckFunc) (*Daemon, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", cfg.Interval)
	}
	if check == nil {
		return nil, errors.New("check is required")
	}

	metrics, err := NewMetrics()
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		interval:  cfg.Interval,
		addr:      cfg.Addr,
		check:     check,
		metrics:   metrics,
		logger:    telemetry.NewLogger("daemon"),
		startTime: time.Now(),
	}
	d.handler = d.routes(cfg.Metrics)
	return d, nil
}

func (d *Daemon) routes(metrics http.Handler) http.Handler {
	mux := http.NewServeMux()
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	mux.HandleFunc("/healthz", d.handleHealthz)
	mux.HandleFunc("/readyz", d.handleReadyz)
	return mux
}

// Handler returns the HTTP handler with metrics and health routes.
func (d *Daemon) Handler() http.Handler {
	return d.handler
}

// Start runs a check immediately and then on every tick until ctx is
// done. Check failures are logged and counted; they never stop the loop.
func (d *Daemon) Start(ctx context.Context) error {
	var srv *http.Server
	serveErr := make(chan error, 1)
	if d.addr != "" {
		ln, err := net.Listen("tcp", d.addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", d.addr, err)
		}
		d.mu.Lock()
		d.listener = ln.Addr()
		d.mu.Unlock()

		srv = &http.Server{Handler: d.handler, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
		d.logger.Info().Str("addr", ln.Addr().String()).Msg("serving metrics and health")
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.runCheck(ctx)
	var err error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err = <-serveErr:
			err = fmt.Errorf("metrics server: %w", err)
			break loop
		case <-ticker.C:
			d.runCheck(ctx)
		}
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := srv.Shutdown(shutdownCtx); serr != nil && err == nil {
			err = fmt.Errorf("shutdown metrics server: %w", serr)
		}
	}
	return err
}

func (d *Daemon) runCheck(ctx context.Context) {
	start := time.Now()
	err := d.check(ctx)
	elapsed := time.Since(start)

	d.checks.Add(1)
	status := "ok"
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		status = "error"
		d.failures.Add(1)
		d.logger.WithContext(ctx).Error().Err(err).Msg("check failed")
	} else {
		d.ready.Store(true)
	}

	d.metrics.RecordCheck(ctx, status, elapsed)
}

// Addr returns the address the HTTP server listens on, or nil before
// Start or when the server is disabled.
func (d *Daemon) Addr() net.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listener
}

// Health returns daemon health status
func (d *Daemon) Health() HealthStatus {
	return HealthStatus{
		Status:   "healthy",
		Uptime:   int64(time.Since(d.startTime).Seconds()),
		Checks:   d.checks.Load(),
		Failures: d.failures.Load(),
		Ready:    d.ready.Load(),
	}
}

// HealthStatus represents daemon health
type HealthStatus struct {
	Status   string `json:"status"`
	Uptime   int64  `json:"uptime_seconds"`
	Checks   int64  `json:"checks"`
	Failures int64  `json:"failures"`
	Ready    bool   `json:"ready"` // At least one check succeeded
}

func (d *Daemon) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(d.Health())
}

func (d *Daemon) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if !d.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no successful check yet"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
