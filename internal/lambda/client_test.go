package lambda

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{APIKey: "secret_test", BaseURL: srv.URL + "/api/v1/"})
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestNew_MissingAPIKey(t *testing.T) {
	_, err := New(Config{APIKey: "  "})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestClient_ListInstances(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/instances", r.URL.Path)
		assert.Equal(t, "Bearer secret_test", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))

		writeJSON(w, http.StatusOK, `{"data": [
			{"id": "i-1", "status": "active", "tags": [{"key": "started-at", "value": "2025-01-01T00:00:00Z"}]},
			"garbage",
			{"id": "i-2", "status": "terminated"}
		]}`)
	})

	instances, err := c.ListInstances(context.Background())
	require.NoError(t, err)
	require.Len(t, instances, 2)
	assert.Equal(t, "i-1", instances[0].ID)
	assert.Equal(t, "2025-01-01T00:00:00Z", instances[0].Tags["started-at"])
	assert.Equal(t, "i-2", instances[1].ID)
}

func TestClient_ListInstances_NonListData(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"data": {"unexpected": true}}`)
	})

	instances, err := c.ListInstances(context.Background())
	require.NoError(t, err)
	assert.Empty(t, instances)
}

func TestClient_APIError(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantCode   string
		wantMsg    string
		suggestion *string
	}{
		{
			name:       "provider error envelope",
			status:     http.StatusUnauthorized,
			body:       `{"error": {"code": "global/invalid-api-key", "message": "API key was invalid", "suggestion": "Create a new key"}}`,
			wantCode:   "global/invalid-api-key",
			wantMsg:    "API key was invalid",
			suggestion: ptr("Create a new key"),
		},
		{
			name:     "envelope without suggestion",
			status:   http.StatusNotFound,
			body:     `{"error": {"code": "global/object-does-not-exist", "message": "Not found"}}`,
			wantCode: "global/object-does-not-exist",
			wantMsg:  "Not found",
		},
		{
			name:     "non-string code",
			status:   http.StatusBadRequest,
			body:     `{"error": {"code": 42, "message": "bad"}}`,
			wantCode: "42",
			wantMsg:  "bad",
		},
		{
			name:     "no envelope",
			status:   http.StatusBadGateway,
			body:     `<html>bad gateway</html>`,
			wantCode: CodeUnknown,
			wantMsg:  "HTTP 502",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			})

			_, err := c.ListInstances(context.Background())
			require.Error(t, err)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.HTTPStatus)
			assert.Equal(t, tt.wantCode, apiErr.Code)
			assert.Equal(t, tt.wantMsg, apiErr.Message)
			assert.Equal(t, tt.suggestion, apiErr.Suggestion)
		})
	}
}

func TestAPIError_Error(t *testing.T) {
	err := &APIError{HTTPStatus: 403, Code: "global/forbidden", Message: "nope"}
	assert.Equal(t, "lambda api error (http_status=403, code=global/forbidden): nope", err.Error())
}

func TestClient_ListImages(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/images", r.URL.Path)
		writeJSON(w, http.StatusOK, `{"data": [{"id": "img-1", "family": "lambda-stack"}, 7, null]}`)
	})

	images, err := c.ListImages(context.Background())
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.JSONEq(t, `{"id": "img-1", "family": "lambda-stack"}`, string(images[0]))
}

func TestClient_ListAuditEvents(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/audit-events", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "2025-01-01T00:00:00Z", q.Get("start"))
		assert.Equal(t, "2025-01-02T00:00:00Z", q.Get("end"))
		assert.Equal(t, "instance", q.Get("resource_type"))
		assert.Equal(t, "tok-1", q.Get("page_token"))

		writeJSON(w, http.StatusOK, `{"data": {
			"events": [
				{"event_time": "2025-01-01T01:00:00Z", "action": "instance.launch", "resource_lrns": ["lrn:instance:i-1"]},
				"junk"
			],
			"page_token": "tok-2"
		}}`)
	})

	page, err := c.ListAuditEvents(context.Background(), AuditQuery{
		Start:        start,
		End:          end,
		ResourceType: "instance",
		PageToken:    "tok-1",
	})
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Equal(t, "instance.launch", page.Events[0].Action)
	assert.Equal(t, "tok-2", page.NextPageToken)
}

func TestClient_ListAuditEvents_LastPage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.False(t, r.URL.Query().Has("page_token"))
		assert.False(t, r.URL.Query().Has("resource_type"))
		writeJSON(w, http.StatusOK, `{"data": {"events": [], "page_token": null}}`)
	})

	page, err := c.ListAuditEvents(context.Background(), AuditQuery{})
	require.NoError(t, err)
	assert.Empty(t, page.Events)
	assert.Empty(t, page.NextPageToken)
}

func TestClient_Terminate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/instance-operations/terminate", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []any{"i-1"}, body["instance_ids"])

		writeJSON(w, http.StatusOK, `{"data": {"terminated_instances": [{"id": "i-1"}]}}`)
	})

	out, err := c.Terminate(context.Background(), "i-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"terminated_instances": [{"id": "i-1"}]}`, string(out))
}

func TestClient_Launch_NoEnvelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/instance-operations/launch", r.URL.Path)
		writeJSON(w, http.StatusOK, `{"instance_ids": ["i-9"]}`)
	})

	out, err := c.Launch(context.Background(), map[string]any{"region_name": "us-east-1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"instance_ids": ["i-9"]}`, string(out))
}

func TestClient_NonJSONSuccess(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "ok")
	})

	out, err := c.Terminate(context.Background(), "i-1")
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestClient_ContextCanceled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"data": []}`)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ListInstances(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClient_RateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusOK, `{"data": []}`)
	}))
	t.Cleanup(srv.Close)

	c, err := New(Config{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)
	c.limiter = newRateLimiter(50*time.Millisecond, time.Hour)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.ListInstances(context.Background())
		require.NoError(t, err)
	}

	assert.Equal(t, int32(3), calls.Load())
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestClient_LaunchRateLimitHonorsContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"data": {}}`)
	})
	c.limiter = newRateLimiter(time.Millisecond, time.Hour)

	_, err := c.Launch(context.Background(), map[string]any{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = c.Launch(ctx, map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit launch")
}

func ptr(s string) *string { return &s }
