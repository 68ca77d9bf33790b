package audit

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/lambdactl/internal/lambda"
	"github.com/yairfalse/lambdactl/internal/telemetry"
	"github.com/yairfalse/lambdactl/pkg/instance"
)

// FetchOptions bound an audit history fetch.
type FetchOptions struct {
	Window       time.Duration // How far back to look
	ResourceType string        // Provider resource type filter; empty for all
	MaxPages     int           // Upper bound on pages requested
}

// Fetcher pages through the provider's audit history.
type Fetcher struct {
	api    lambda.AuditAPI
	opts   FetchOptions
	now    func() time.Time
	logger *telemetry.Logger
	tracer trace.Tracer
}

// NewFetcher creates a fetcher. now supplies the window end; nil means
// time.Now.
func NewFetcher(api lambda.AuditAPI, opts FetchOptions, now func() time.Time) *Fetcher {
	if now == nil {
		now = time.Now
	}
	if opts.MaxPages < 1 {
		opts.MaxPages = 1
	}
	return &Fetcher{
		api:    api,
		opts:   opts,
		now:    now,
		logger: telemetry.NewLogger("audit-fetcher"),
		tracer: otel.Tracer("audit-fetcher"),
	}
}

// Fetch reads up to MaxPages pages of events inside the window. Any page
// failure fails the fetch: an incomplete history could hide the real
// earliest launch.
func (f *Fetcher) Fetch(ctx context.Context) (*Snapshot, error) {
	ctx, span := f.tracer.Start(ctx, "audit.fetch",
		trace.WithAttributes(
			attribute.String("audit.resource_type", f.opts.ResourceType),
			attribute.Int("audit.max_pages", f.opts.MaxPages),
		))
	defer span.End()

	end := f.now().UTC()
	query := lambda.AuditQuery{
		Start:        end.Add(-f.opts.Window),
		End:          end,
		ResourceType: f.opts.ResourceType,
	}

	var (
		events    []instance.AuditEvent
		pages     int
		truncated bool
	)
	for {
		if pages == f.opts.MaxPages {
			truncated = true
			break
		}
		page, err := f.api.ListAuditEvents(ctx, query)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "audit page failed")
			return nil, fmt.Errorf("list audit events (page %d): %w", pages+1, err)
		}
		pages++
		events = append(events, page.Events...)

		if page.NextPageToken == "" {
			break
		}
		query.PageToken = page.NextPageToken
	}

	if truncated {
		f.logger.WithContext(ctx).Warn().
			Int("max_pages", f.opts.MaxPages).
			Msg("audit history truncated at page limit")
	}

	snap := NewSnapshot(events)
	span.SetAttributes(
		attribute.Int("audit.pages", pages),
		attribute.Int("audit.events", snap.Len()),
	)
	f.logger.WithContext(ctx).Debug().
		Int("pages", pages).
		Int("events", snap.Len()).
		Int("dropped", snap.Dropped()).
		Msg("audit history fetched")

	return snap, nil
}
