// Package report renders classification results as the JSON envelope
// consumed by automation.
package report

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/yairfalse/lambdactl/internal/classifier"
	"github.com/yairfalse/lambdactl/internal/config"
	"github.com/yairfalse/lambdactl/internal/inference"
	"github.com/yairfalse/lambdactl/internal/lambda"
	"github.com/yairfalse/lambdactl/pkg/instance"
)

// Level is the overall outcome of a run.
type Level string

const (
	LevelOK       Level = "ok"
	LevelFindings Level = "findings"
	LevelError    Level = "error"
)

// Error codes for failures that did not come from the provider.
const (
	CodeMissingAPIKey = "missing_api_key"
	CodeInvalidConfig = "invalid_config"
	CodeInvalidLaunch = "invalid_launch"
	CodeCanceled      = "canceled"
	CodeTimeout       = "timeout"
	CodeError         = "error"
)

// Options control envelope contents.
type Options struct {
	FailOnFindings bool
	IncludeUnknown bool
}

// Report is the JSON envelope. Field names are a stable contract.
type Report struct {
	OK               bool       `json:"ok"`
	Level            Level      `json:"level"`
	Now              string     `json:"now"`
	ThresholdHours   float64    `json:"threshold_hours"`
	ThresholdSeconds int64      `json:"threshold_seconds"`
	LongRunning      []Entry    `json:"long_running"`
	UnknownStartTime []Entry    `json:"unknown_start_time"`
	Findings         []Entry    `json:"findings"`
	Summary          Summary    `json:"summary"`
	Degraded         bool       `json:"degraded"`
	Warnings         []Warning  `json:"warnings"`
	Error            *ErrorBody `json:"error"`
}

// Entry describes one running instance.
type Entry struct {
	ID             string   `json:"id"`
	Name           *string  `json:"name"`
	Status         string   `json:"status"`
	IP             *string  `json:"ip"`
	StartedAt      *string  `json:"started_at"`
	AgeSeconds     *int64   `json:"age_seconds"`
	AgeHours       *float64 `json:"age_hours"`
	Source         *string  `json:"source"`
	Classification string   `json:"classification"`
	Degraded       bool     `json:"degraded"`
}

// Summary counts findings.
type Summary struct {
	Running     int `json:"running"`
	LongRunning int `json:"long_running"`
	OK          int `json:"ok"`
	Unknown     int `json:"unknown"`
	Degraded    int `json:"degraded"`
}

// Warning is a non-fatal problem with one instance.
type Warning struct {
	InstanceID string `json:"instance_id"`
	Strategy   string `json:"strategy"`
	Kind       string `json:"kind"`
	Message    string `json:"message"`
}

// ErrorBody describes why a run could not complete.
type ErrorBody struct {
	HTTPStatus *int    `json:"http_status"`
	Code       string  `json:"code"`
	Message    string  `json:"message"`
	Suggestion *string `json:"suggestion"`
}

// Outcome maps a result to a level. Unknown instances never raise the
// level; long-running ones do only in strict mode.
func Outcome(r classifier.Result, failOnFindings bool) Level {
	if r.HasLongRunning && failOnFindings {
		return LevelFindings
	}
	return LevelOK
}

// Build renders a completed run.
func Build(r classifier.Result, opts Options) Report {
	rep := envelope(r.Now, r.Threshold)
	rep.OK = true
	rep.Level = Outcome(r, opts.FailOnFindings)
	rep.Degraded = r.Degraded
	rep.Summary = Summary{
		Running:     r.Summary.Running,
		LongRunning: r.Summary.LongRunning,
		OK:          r.Summary.OK,
		Unknown:     r.Summary.Unknown,
		Degraded:    r.Summary.Degraded,
	}

	for _, f := range r.Findings {
		e := entry(f)
		rep.Findings = append(rep.Findings, e)
		switch f.Classification {
		case classifier.LongRunning:
			rep.LongRunning = append(rep.LongRunning, e)
		case classifier.Unknown:
			if opts.IncludeUnknown {
				rep.UnknownStartTime = append(rep.UnknownStartTime, e)
			}
		}
	}
	for _, w := range r.Warnings {
		rep.Warnings = append(rep.Warnings, warning(w))
	}
	return rep
}

// Failure renders a run that could not complete.
func Failure(err error, now time.Time, threshold time.Duration) Report {
	rep := envelope(now, threshold)
	rep.Level = LevelError
	rep.Error = ErrorFrom(err)
	return rep
}

// ErrorFrom describes err for machine consumption.
func ErrorFrom(err error) *ErrorBody {
	var apiErr *lambda.APIError
	if errors.As(err, &apiErr) {
		status := apiErr.HTTPStatus
		return &ErrorBody{
			HTTPStatus: &status,
			Code:       apiErr.Code,
			Message:    apiErr.Message,
			Suggestion: apiErr.Suggestion,
		}
	}

	body := &ErrorBody{Code: CodeError, Message: err.Error()}
	switch {
	case errors.Is(err, lambda.ErrMissingAPIKey):
		body.Code = CodeMissingAPIKey
	case errors.Is(err, config.ErrInvalid):
		body.Code = CodeInvalidConfig
	case errors.Is(err, lambda.ErrInvalidLaunch):
		body.Code = CodeInvalidLaunch
	case errors.Is(err, context.Canceled):
		body.Code = CodeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		body.Code = CodeTimeout
	}
	return body
}

func envelope(now time.Time, threshold time.Duration) Report {
	return Report{
		Now:              instance.FormatTime(now),
		ThresholdHours:   threshold.Hours(),
		ThresholdSeconds: int64(threshold / time.Second),
		LongRunning:      []Entry{},
		UnknownStartTime: []Entry{},
		Findings:         []Entry{},
		Warnings:         []Warning{},
	}
}

func entry(f classifier.Finding) Entry {
	e := Entry{
		ID:             f.Instance.ID,
		Name:           optional(f.Instance.Name),
		Status:         f.Instance.Status,
		IP:             optional(f.Instance.IP),
		Classification: string(f.Classification),
		Degraded:       f.Degraded,
	}
	if f.StartedAt != nil {
		started := instance.FormatTime(*f.StartedAt)
		e.StartedAt = &started
	}
	if f.Age != nil {
		secs := int64(*f.Age / time.Second)
		hours := math.Round(f.Age.Hours()*100) / 100
		e.AgeSeconds = &secs
		e.AgeHours = &hours
	}
	if f.Source != "" {
		e.Source = optional(string(f.Source))
	}
	return e
}

func warning(w inference.Warning) Warning {
	return Warning{
		InstanceID: w.InstanceID,
		Strategy:   w.Strategy,
		Kind:       string(w.Kind),
		Message:    w.Message,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
