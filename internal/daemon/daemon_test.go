package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Interval: 0}, func(context.Context) error { return nil })
	assert.Error(t, err)

	_, err = New(Config{Interval: time.Minute}, nil)
	assert.Error(t, err)
}

// Test daemon stops gracefully
func TestDaemon_GracefulShutdown(t *testing.T) {
	d, err := New(Config{Interval: time.Second, Addr: "127.0.0.1:0"}, func(context.Context) error { return nil })
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Start(ctx)
	}()

	require.Eventually(t, func() bool { return d.Health().Checks >= 1 }, time.Second, 10*time.Millisecond)

	// Cancel context (simulate SIGTERM)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Daemon did not shutdown within timeout")
	}
}

// Test check loop runs at interval
func TestDaemon_CheckLoop(t *testing.T) {
	var calls atomic.Int64
	d, err := New(Config{Interval: 20 * time.Millisecond}, func(context.Context) error {
		if calls.Add(1) == 2 {
			return errors.New("list instances: HTTP 502")
		}
		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = d.Start(ctx)
	}()

	require.Eventually(t, func() bool { return d.Health().Checks >= 3 }, 2*time.Second, 10*time.Millisecond)

	health := d.Health()
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, int64(1), health.Failures, "a failed check does not stop the loop")
	assert.True(t, health.Ready)
}

func TestDaemon_HealthEndpoints(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("lambdactl_instances 1\n"))
	})
	fail := errors.New("unauthorized")
	var checkErr atomic.Pointer[error]
	checkErr.Store(&fail)

	d, err := New(Config{Interval: 20 * time.Millisecond, Addr: "127.0.0.1:0", Metrics: metrics}, func(context.Context) error {
		return *checkErr.Load()
	})
	require.NoError(t, err)

	srv := httptest.NewServer(d.Handler())
	defer srv.Close()

	tests := []struct {
		path string
		code int
		body string
	}{
		{"/readyz", http.StatusServiceUnavailable, "no successful check yet"},
		{"/metrics", http.StatusOK, "lambdactl_instances 1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			code, body := get(t, srv.URL+tt.path)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.body, body)
		})
	}

	health := getHealth(t, srv.URL+"/healthz")
	assert.Equal(t, "healthy", health.Status)
	assert.Zero(t, health.Checks)
	assert.False(t, health.Ready)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = d.Start(ctx)
	}()

	var ok error
	checkErr.Store(&ok)
	require.Eventually(t, func() bool { return d.Health().Ready }, 2*time.Second, 10*time.Millisecond)

	code, body := get(t, srv.URL+"/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)

	require.Eventually(t, func() bool { return d.Addr() != nil }, time.Second, 10*time.Millisecond)
	health = getHealth(t, fmt.Sprintf("http://%s/healthz", d.Addr()))
	assert.True(t, health.Ready)
	assert.GreaterOrEqual(t, health.Checks, int64(1))
}

func TestDaemon_ListenError(t *testing.T) {
	d, err := New(Config{Interval: time.Minute, Addr: "256.0.0.1:bad"}, func(context.Context) error { return nil })
	require.NoError(t, err)

	err = d.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen")
	assert.Zero(t, d.Health().Checks)
}

func getHealth(t *testing.T, url string) HealthStatus {
	t.Helper()
	code, body := get(t, url)
	require.Equal(t, http.StatusOK, code)
	var health HealthStatus
	require.NoError(t, json.Unmarshal([]byte(body), &health))
	return health
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}
