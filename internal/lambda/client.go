package lambda

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/lambdactl/internal/telemetry"
	"github.com/yairfalse/lambdactl/pkg/instance"
)

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://cloud.lambda.ai/api/v1"

const (
	instancesPath   = "/instances"
	imagesPath      = "/images"
	auditEventsPath = "/audit-events"
	launchPath      = "/instance-operations/launch"
	terminatePath   = "/instance-operations/terminate"
)

// Config configures a Client.
type Config struct {
	APIKey     string
	BaseURL    string        // Defaults to DefaultBaseURL
	Timeout    time.Duration // Defaults to 30s; ignored with HTTPClient
	RateLimit  bool
	HTTPClient *http.Client
	UserAgent  string
}

// Client talks to the Lambda Cloud API.
type Client struct {
	baseURL   string
	apiKey    string
	userAgent string
	http      *http.Client
	limiter   *rateLimiter
	logger    *telemetry.Logger
	tracer    trace.Tracer

	requests metric.Int64Counter
	latency  metric.Float64Histogram
}

var _ API = (*Client)(nil)

// New creates a client. It fails with ErrMissingAPIKey when no key is set.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	c := &Client{
		baseURL:   baseURL,
		apiKey:    cfg.APIKey,
		userAgent: cfg.UserAgent,
		http:      httpClient,
		logger:    telemetry.NewLogger("lambda"),
		tracer:    otel.Tracer("lambdactl/lambda"),
	}
	if cfg.RateLimit {
		c.limiter = newRateLimiter(MinRequestInterval, MinLaunchInterval)
	}
	if err := c.initMetrics(otel.Meter("lambdactl/lambda")); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) initMetrics(meter metric.Meter) error {
	var err error

	c.requests, err = meter.Int64Counter(
		"lambdactl_api_requests",
		metric.WithDescription("Requests sent to the Lambda Cloud API"),
	)
	if err != nil {
		return fmt.Errorf("create api_requests: %w", err)
	}

	c.latency, err = meter.Float64Histogram(
		"lambdactl_api_request_duration_seconds",
		metric.WithDescription("Latency of Lambda Cloud API requests"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create api_request_duration: %w", err)
	}
	return nil
}

// do sends one request and returns the "data" member of the response
// envelope, or the whole body when there is no envelope. Non-JSON
// success bodies yield nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	ctx, span := c.tracer.Start(ctx, "lambda.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("lambda.path", path),
		),
	)
	defer span.End()

	if c.limiter != nil {
		if err := c.limiter.wait(ctx, path); err != nil {
			return nil, err
		}
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		c.record(ctx, path, "transport_error", elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport error")
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.record(ctx, path, strconv.Itoa(resp.StatusCode), elapsed)
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	c.logger.WithContext(ctx).Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", elapsed).
		Msg("api request")

	if resp.StatusCode >= 400 {
		apiErr := newAPIError(resp.StatusCode, raw)
		span.SetStatus(codes.Error, apiErr.Code)
		return nil, apiErr
	}

	if !isJSON(resp.Header.Get("Content-Type")) || !json.Valid(raw) {
		return nil, nil
	}
	if isObject(raw) {
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(raw, &envelope); err == nil {
			if data, ok := envelope["data"]; ok {
				return data, nil
			}
		}
	}
	return raw, nil
}

func (c *Client) record(ctx context.Context, path, status string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("path", path),
		attribute.String("status", status),
	)
	c.requests.Add(ctx, 1, attrs)
	c.latency.Record(ctx, elapsed.Seconds(), attrs)
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// ListInstances returns every instance visible to the key.
func (c *Client) ListInstances(ctx context.Context) ([]instance.Instance, error) {
	data, err := c.do(ctx, http.MethodGet, instancesPath, nil, nil)
	if err != nil {
		return nil, err
	}

	items := objects(data)
	instances := make([]instance.Instance, 0, len(items))
	for _, item := range items {
		var inst instance.Instance
		if err := json.Unmarshal(item, &inst); err != nil {
			c.logger.Warn().Err(err).Msg("skipping undecodable instance")
			continue
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// ListImages returns the available machine images as provider objects.
func (c *Client) ListImages(ctx context.Context) ([]json.RawMessage, error) {
	data, err := c.do(ctx, http.MethodGet, imagesPath, nil, nil)
	if err != nil {
		return nil, err
	}
	return objects(data), nil
}

// ListAuditEvents returns one page of audit events.
func (c *Client) ListAuditEvents(ctx context.Context, q AuditQuery) (AuditPage, error) {
	params := url.Values{}
	if !q.Start.IsZero() {
		params.Set("start", instance.FormatTime(q.Start))
	}
	if !q.End.IsZero() {
		params.Set("end", instance.FormatTime(q.End))
	}
	if q.ResourceType != "" {
		params.Set("resource_type", q.ResourceType)
	}
	if q.PageToken != "" {
		params.Set("page_token", q.PageToken)
	}

	data, err := c.do(ctx, http.MethodGet, auditEventsPath, params, nil)
	if err != nil {
		return AuditPage{}, err
	}
	if !isObject(data) {
		return AuditPage{}, nil
	}

	var body struct {
		Events    json.RawMessage `json:"events"`
		PageToken json.RawMessage `json:"page_token"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return AuditPage{}, fmt.Errorf("decode audit events: %w", err)
	}

	page := AuditPage{}
	for _, item := range objects(body.Events) {
		var ev instance.AuditEvent
		if err := json.Unmarshal(item, &ev); err != nil {
			c.logger.Warn().Err(err).Msg("skipping undecodable audit event")
			continue
		}
		page.Events = append(page.Events, ev)
	}
	if token, ok := scalar(body.PageToken); ok {
		page.NextPageToken = token
	}
	return page, nil
}

// Launch submits a launch request. The payload is sent as given; use
// PrepareLaunch to validate and tag it first.
func (c *Client) Launch(ctx context.Context, payload map[string]any) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, launchPath, nil, payload)
}

// Terminate terminates a single instance.
func (c *Client) Terminate(ctx context.Context, instanceID string) (json.RawMessage, error) {
	body := map[string]any{"instance_ids": []string{instanceID}}
	return c.do(ctx, http.MethodPost, terminatePath, nil, body)
}

// objects returns the object elements of a JSON array. Anything else
// yields no elements.
func objects(raw json.RawMessage) []json.RawMessage {
	if !isArray(raw) {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		if isObject(item) {
			out = append(out, item)
		}
	}
	return out
}
