// Package lambda is a client for the Lambda Cloud REST API.
package lambda

import (
	"context"
	"encoding/json"
	"time"

	"github.com/yairfalse/lambdactl/pkg/instance"
)

// InstanceAPI defines the instance read operations.
type InstanceAPI interface {
	ListInstances(ctx context.Context) ([]instance.Instance, error)
}

// ImageAPI defines the image read operations.
type ImageAPI interface {
	ListImages(ctx context.Context) ([]json.RawMessage, error)
}

// AuditAPI defines the audit-event read operations.
type AuditAPI interface {
	ListAuditEvents(ctx context.Context, q AuditQuery) (AuditPage, error)
}

// OperationsAPI defines the instance lifecycle operations.
type OperationsAPI interface {
	Launch(ctx context.Context, payload map[string]any) (json.RawMessage, error)
	Terminate(ctx context.Context, instanceID string) (json.RawMessage, error)
}

// API is every provider operation lambdactl uses.
type API interface {
	InstanceAPI
	ImageAPI
	AuditAPI
	OperationsAPI
}

// AuditQuery selects one page of audit events.
type AuditQuery struct {
	Start        time.Time
	End          time.Time
	ResourceType string // Omitted when empty
	PageToken    string // Omitted when empty
}

// AuditPage is one page of audit events. NextPageToken is empty on the
// last page.
type AuditPage struct {
	Events        []instance.AuditEvent
	NextPageToken string
}
