package audit

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/lambdactl/pkg/instance"
)

const launchPolicy = `package lambdactl.audit

launch if {
	input.action == "instance.launch"
	input.resource_type == "instance"
}

launch if {
	startswith(input.action, "instance.restart")
	input.additional_details.initiator == "user"
}
`

func TestRegoMatcher(t *testing.T) {
	m, err := NewRegoMatcher(context.Background(), "launch.rego", launchPolicy)
	require.NoError(t, err)

	tests := []struct {
		name  string
		event instance.AuditEvent
		want  bool
	}{
		{
			name:  "launch on instance",
			event: instance.AuditEvent{Time: t0, Action: "instance.launch", ResourceType: "instance"},
			want:  true,
		},
		{
			name:  "launch on other resource",
			event: instance.AuditEvent{Time: t0, Action: "instance.launch", ResourceType: "filesystem"},
			want:  false,
		},
		{
			name: "user restart",
			event: instance.AuditEvent{
				Time:    t0,
				Action:  "instance.restart",
				Details: map[string]any{"initiator": "user"},
			},
			want: true,
		},
		{
			name:  "system restart",
			event: instance.AuditEvent{Time: t0, Action: "instance.restart"},
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Match(context.Background(), tt.event))
		})
	}
}

func TestRegoMatcher_InSnapshot(t *testing.T) {
	m, err := NewRegoMatcher(context.Background(), "launch.rego", launchPolicy)
	require.NoError(t, err)

	early := launchEvent("i-1", t0, "instance.launch")
	early.ResourceType = "instance"
	snap := NewSnapshot([]instance.AuditEvent{
		launchEvent("i-1", t0.Add(-1), "instance.start"),
		early,
	})

	ev, ok := snap.Earliest(context.Background(), "i-1", m)
	require.True(t, ok)
	assert.True(t, ev.Time.Equal(t0))
}

func TestNewRegoMatcher_CompileError(t *testing.T) {
	_, err := NewRegoMatcher(context.Background(), "bad.rego", "package lambdactl.audit\n\nlaunch if {")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile policy bad.rego")
}

func TestLoadRegoMatcher(t *testing.T) {
	path := filepath.Join(t.TempDir(), "launch.rego")
	require.NoError(t, os.WriteFile(path, []byte(launchPolicy), 0644))

	m, err := LoadRegoMatcher(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, m.Match(context.Background(), instance.AuditEvent{Action: "instance.launch", ResourceType: "instance"}))

	_, err = LoadRegoMatcher(context.Background(), filepath.Join(t.TempDir(), "missing.rego"))
	assert.Error(t, err)
}
