package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/lambdactl/internal/classifier"
	"github.com/yairfalse/lambdactl/internal/config"
	"github.com/yairfalse/lambdactl/internal/inference"
	"github.com/yairfalse/lambdactl/internal/lambda"
	"github.com/yairfalse/lambdactl/pkg/instance"
)

var now = time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC)

func classify(t *testing.T, instances ...instance.Instance) classifier.Result {
	t.Helper()
	engine := inference.NewDefaultEngine(inference.Options{TagKey: "started-at"})
	c := classifier.New(engine, classifier.Options{
		Threshold: 24 * time.Hour,
		Workers:   2,
		Clock:     func() time.Time { return now },
	})
	return c.Classify(context.Background(), instances)
}

func TestBuild_LongRunningEnvelope(t *testing.T) {
	res := classify(t, instance.Instance{
		ID:     "i-1",
		Name:   "trainer",
		Status: "active",
		IP:     "10.0.0.1",
		Tags:   map[string]string{"started-at": "2025-01-01T00:00:00Z"},
	})

	rep := Build(res, Options{FailOnFindings: true})
	out, err := json.Marshal(rep)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"ok": true,
		"level": "findings",
		"now": "2025-01-03T00:00:00Z",
		"threshold_hours": 24,
		"threshold_seconds": 86400,
		"long_running": [{
			"id": "i-1", "name": "trainer", "status": "active", "ip": "10.0.0.1",
			"started_at": "2025-01-01T00:00:00Z", "age_seconds": 172800, "age_hours": 48,
			"source": "tag", "classification": "long_running", "degraded": false
		}],
		"unknown_start_time": [],
		"findings": [{
			"id": "i-1", "name": "trainer", "status": "active", "ip": "10.0.0.1",
			"started_at": "2025-01-01T00:00:00Z", "age_seconds": 172800, "age_hours": 48,
			"source": "tag", "classification": "long_running", "degraded": false
		}],
		"summary": {"running": 1, "long_running": 1, "ok": 0, "unknown": 0, "degraded": 0},
		"degraded": false,
		"warnings": [],
		"error": null
	}`, string(out))
}

func TestBuild_UnknownEntryHasNulls(t *testing.T) {
	rep := Build(classify(t, instance.Instance{ID: "i-1", Status: "booting"}), Options{IncludeUnknown: true})

	require.Len(t, rep.UnknownStartTime, 1)
	out, err := json.Marshal(rep.UnknownStartTime[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": "i-1", "name": null, "status": "booting", "ip": null,
		"started_at": null, "age_seconds": null, "age_hours": null,
		"source": null, "classification": "unknown", "degraded": false
	}`, string(out))
}

func TestBuild_UnknownListOnlyWhenRequested(t *testing.T) {
	res := classify(t, instance.Instance{ID: "i-1", Status: "active"})

	assert.Empty(t, Build(res, Options{}).UnknownStartTime)
	assert.Len(t, Build(res, Options{}).Findings, 1)
	assert.Len(t, Build(res, Options{IncludeUnknown: true}).UnknownStartTime, 1)
}

func TestBuild_AgeHoursRounded(t *testing.T) {
	started := now.Add(-(25*time.Hour + 20*time.Minute + 31*time.Second))
	rep := Build(classify(t, instance.Instance{
		ID:     "i-1",
		Status: "active",
		Tags:   map[string]string{"started-at": started.Format(time.RFC3339)},
	}), Options{})

	require.Len(t, rep.Findings, 1)
	assert.Equal(t, 25.34, *rep.Findings[0].AgeHours)
	assert.Equal(t, int64(91231), *rep.Findings[0].AgeSeconds)
}

func TestBuild_Warnings(t *testing.T) {
	rep := Build(classify(t, instance.Instance{
		ID:     "i-1",
		Status: "active",
		Tags:   map[string]string{"started-at": "yesterday-ish"},
	}), Options{})

	require.Len(t, rep.Warnings, 1)
	assert.Equal(t, "i-1", rep.Warnings[0].InstanceID)
	assert.Equal(t, "tag", rep.Warnings[0].Strategy)
	assert.Equal(t, "tag_unparseable", rep.Warnings[0].Kind)
	assert.NotEmpty(t, rep.Warnings[0].Message)
}

func TestOutcome(t *testing.T) {
	longRunning := classify(t, instance.Instance{ID: "i-1", Status: "active", Tags: map[string]string{"started-at": "2024-01-01T00:00:00Z"}})
	unknownOnly := classify(t, instance.Instance{ID: "i-1", Status: "active"})
	empty := classify(t)

	tests := []struct {
		name   string
		result classifier.Result
		strict bool
		want   Level
	}{
		{name: "long running, strict", result: longRunning, strict: true, want: LevelFindings},
		{name: "long running, lenient", result: longRunning, strict: false, want: LevelOK},
		{name: "unknown never alerts", result: unknownOnly, strict: true, want: LevelOK},
		{name: "empty set", result: empty, strict: true, want: LevelOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Outcome(tt.result, tt.strict))
		})
	}
}

func TestBuild_EmptySet(t *testing.T) {
	rep := Build(classify(t), Options{FailOnFindings: true})

	assert.True(t, rep.OK)
	assert.Equal(t, LevelOK, rep.Level)
	assert.NotNil(t, rep.Findings)
	assert.Empty(t, rep.Findings)
	assert.Equal(t, Summary{}, rep.Summary)
}

func TestBuild_DegradedCarriesThrough(t *testing.T) {
	res := classifier.Result{
		Now:       now,
		Threshold: 24 * time.Hour,
		Findings: []classifier.Finding{{
			Instance:       instance.Instance{ID: "i-1", Status: "active"},
			Classification: classifier.Unknown,
			Degraded:       true,
		}},
		Summary:  classifier.Summary{Running: 1, Unknown: 1, Degraded: 1},
		Degraded: true,
		Warnings: []inference.Warning{{InstanceID: "i-1", Strategy: "audit", Kind: inference.WarningAuditUnavailable, Message: "HTTP 503"}},
	}

	rep := Build(res, Options{FailOnFindings: true})

	assert.True(t, rep.OK)
	assert.Equal(t, LevelOK, rep.Level)
	assert.True(t, rep.Degraded)
	assert.True(t, rep.Findings[0].Degraded)
	assert.Equal(t, 1, rep.Summary.Degraded)
	assert.Equal(t, "audit_unavailable", rep.Warnings[0].Kind)
}

func TestFailure_APIError(t *testing.T) {
	suggestion := "Check your API key"
	err := fmt.Errorf("list instances: %w", &lambda.APIError{
		HTTPStatus: 401,
		Code:       "global/invalid-api-key",
		Message:    "API key was invalid",
		Suggestion: &suggestion,
	})

	rep := Failure(err, now, 24*time.Hour)
	out, mErr := json.Marshal(rep)
	require.NoError(t, mErr)

	assert.JSONEq(t, `{
		"ok": false,
		"level": "error",
		"now": "2025-01-03T00:00:00Z",
		"threshold_hours": 24,
		"threshold_seconds": 86400,
		"long_running": [],
		"unknown_start_time": [],
		"findings": [],
		"summary": {"running": 0, "long_running": 0, "ok": 0, "unknown": 0, "degraded": 0},
		"degraded": false,
		"warnings": [],
		"error": {
			"http_status": 401,
			"code": "global/invalid-api-key",
			"message": "API key was invalid",
			"suggestion": "Check your API key"
		}
	}`, string(out))
}

func TestErrorFrom(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{name: "missing key", err: lambda.ErrMissingAPIKey, wantCode: CodeMissingAPIKey},
		{name: "invalid config", err: fmt.Errorf("%w: long_running.threshold: must be greater than 0", config.ErrInvalid), wantCode: CodeInvalidConfig},
		{name: "invalid launch", err: fmt.Errorf("%w: missing region", lambda.ErrInvalidLaunch), wantCode: CodeInvalidLaunch},
		{name: "canceled", err: fmt.Errorf("list instances: %w", context.Canceled), wantCode: CodeCanceled},
		{name: "timeout", err: context.DeadlineExceeded, wantCode: CodeTimeout},
		{name: "other", err: errors.New("disk on fire"), wantCode: CodeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := ErrorFrom(tt.err)
			assert.Equal(t, tt.wantCode, body.Code)
			assert.Equal(t, tt.err.Error(), body.Message)
			assert.Nil(t, body.HTTPStatus)
			assert.Nil(t, body.Suggestion)
		})
	}
}
