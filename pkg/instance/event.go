package instance

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// AuditEvent is one entry of the provider's audit history.
// Delivery order is not chronological.
type AuditEvent struct {
	ID           string          `json:"id,omitempty"`
	Time         time.Time       `json:"event_time"` // Zero when missing or unparseable
	Action       string          `json:"action"`
	ResourceType string          `json:"resource_type,omitempty"`
	ResourceLRNs []string        `json:"resource_lrns,omitempty"`
	Details      map[string]any  `json:"additional_details,omitempty"`
	Raw          json.RawMessage `json:"-"`
}

type wireEvent struct {
	ID           json.RawMessage   `json:"id"`
	EventTime    json.RawMessage   `json:"event_time"`
	Action       json.RawMessage   `json:"action"`
	ResourceType json.RawMessage   `json:"resource_type"`
	ResourceLRNs []json.RawMessage `json:"resource_lrns"`
	Details      json.RawMessage   `json:"additional_details"`
}

// UnmarshalJSON decodes a provider audit event leniently: fields of the
// wrong type are dropped rather than failing the whole page.
func (e *AuditEvent) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode audit event: %w", err)
	}

	ev := AuditEvent{
		ID:           scalarString(w.ID),
		Action:       scalarString(w.Action),
		ResourceType: scalarString(w.ResourceType),
		Raw:          append(json.RawMessage(nil), data...),
	}

	var ts string
	if err := json.Unmarshal(w.EventTime, &ts); err == nil {
		if t, err := ParseTime(ts); err == nil {
			ev.Time = t
		}
	}

	for _, lrn := range w.ResourceLRNs {
		var s string
		if err := json.Unmarshal(lrn, &s); err == nil {
			ev.ResourceLRNs = append(ev.ResourceLRNs, s)
		}
	}

	if IsObject(w.Details) {
		_ = json.Unmarshal(w.Details, &ev.Details)
	}

	*e = ev
	return nil
}

// References reports whether the event mentions the instance id in one of
// its resource LRNs or in a string value of its additional details.
func (e AuditEvent) References(instanceID string) bool {
	if instanceID == "" {
		return false
	}
	for _, lrn := range e.ResourceLRNs {
		if strings.Contains(lrn, instanceID) {
			return true
		}
	}
	for _, v := range e.Details {
		if s, ok := v.(string); ok && strings.Contains(s, instanceID) {
			return true
		}
	}
	return false
}
