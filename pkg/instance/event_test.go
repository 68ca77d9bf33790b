package instance

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditEvent_UnmarshalJSON(t *testing.T) {
	raw := `{
		"id": "evt-1",
		"event_time": "2025-01-01T00:00:00Z",
		"action": "instance.launch",
		"resource_type": "instance",
		"resource_lrns": ["lrn:lambda:instance:abc123", 42],
		"additional_details": {"instance_id": "abc123"}
	}`

	var ev AuditEvent
	require.NoError(t, json.Unmarshal([]byte(raw), &ev))

	assert.Equal(t, "evt-1", ev.ID)
	assert.True(t, ev.Time.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "instance.launch", ev.Action)
	assert.Equal(t, "instance", ev.ResourceType)
	assert.Equal(t, []string{"lrn:lambda:instance:abc123"}, ev.ResourceLRNs)
	assert.Equal(t, "abc123", ev.Details["instance_id"])
}

func TestAuditEvent_UnmarshalJSON_BadTime(t *testing.T) {
	var ev AuditEvent
	require.NoError(t, json.Unmarshal([]byte(`{"action":"launch","event_time":"yesterday"}`), &ev))

	assert.True(t, ev.Time.IsZero())
	assert.Equal(t, "launch", ev.Action)
}

func TestAuditEvent_References(t *testing.T) {
	tests := []struct {
		name  string
		event AuditEvent
		id    string
		want  bool
	}{
		{
			name:  "lrn contains id",
			event: AuditEvent{ResourceLRNs: []string{"lrn:lambda:instance:abc123"}},
			id:    "abc123",
			want:  true,
		},
		{
			name:  "details string contains id",
			event: AuditEvent{Details: map[string]any{"target": "instance abc123"}},
			id:    "abc123",
			want:  true,
		},
		{
			name:  "non-string details ignored",
			event: AuditEvent{Details: map[string]any{"ids": []any{"abc123"}}},
			id:    "abc123",
			want:  false,
		},
		{
			name:  "different instance",
			event: AuditEvent{ResourceLRNs: []string{"lrn:lambda:instance:zzz"}},
			id:    "abc123",
			want:  false,
		},
		{
			name:  "empty id never matches",
			event: AuditEvent{ResourceLRNs: []string{"lrn:lambda:instance:abc123"}},
			id:    "",
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.event.References(tt.id))
		})
	}
}
