package lambda

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var launchNow = time.Date(2025, 3, 4, 5, 6, 7, 890000000, time.UTC)

func TestPrepareLaunch_AddsStartedAtTag(t *testing.T) {
	raw := []byte(`{
		"region_name": "us-east-1",
		"instance_type_name": "gpu_1x_a10",
		"ssh_key_names": ["laptop"],
		"quantity": 1
	}`)

	payload, err := PrepareLaunch(raw, StartedAtTag, launchNow)
	require.NoError(t, err)

	tags, ok := payload["tags"].([]any)
	require.True(t, ok)
	require.Len(t, tags, 1)
	assert.Equal(t, map[string]any{"key": "started-at", "value": "2025-03-04T05:06:07Z"}, tags[0])
}

func TestPrepareLaunch_TrailingWhitespace(t *testing.T) {
	raw := []byte("{\"region_name\": \"r\", \"instance_type_name\": \"t\", \"ssh_key_names\": [\"k\"]}\n\n")

	_, err := PrepareLaunch(raw, StartedAtTag, launchNow)
	require.NoError(t, err)
}

func TestPrepareLaunch_KeepsExistingTag(t *testing.T) {
	tests := []struct {
		name   string
		tagKey string
		tags   string
	}{
		{name: "hyphen spelling", tagKey: StartedAtTag, tags: `[{"key": "started-at", "value": "2024-01-01T00:00:00Z"}]`},
		{name: "legacy underscore", tagKey: StartedAtTag, tags: `[{"key": "started_at", "value": "2024-01-01T00:00:00Z"}]`},
		{name: "custom key", tagKey: "launched", tags: `[{"key": "launched", "value": "2024-01-01T00:00:00Z"}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := []byte(`{"region_name": "us-east-1", "instance_type_name": "gpu_1x_a10", "ssh_key_names": ["k"], "tags": ` + tt.tags + `}`)

			payload, err := PrepareLaunch(raw, tt.tagKey, launchNow)
			require.NoError(t, err)
			assert.Len(t, payload["tags"], 1)
		})
	}
}

func TestPrepareLaunch_AppendsToOtherTags(t *testing.T) {
	raw := []byte(`{"region_name": "r", "instance_type_name": "t", "ssh_key_names": ["k"], "tags": [{"key": "team", "value": "ml"}]}`)

	payload, err := PrepareLaunch(raw, "launched", launchNow)
	require.NoError(t, err)

	tags := payload["tags"].([]any)
	require.Len(t, tags, 2)
	assert.Equal(t, "launched", tags[1].(map[string]any)["key"])
}

func TestPrepareLaunch_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "not json", raw: `{region`},
		{name: "array", raw: `[{"region_name": "r"}]`},
		{name: "missing region", raw: `{"instance_type_name": "t", "ssh_key_names": ["k"]}`},
		{name: "missing ssh keys", raw: `{"region_name": "r", "instance_type_name": "t"}`},
		{name: "empty ssh keys", raw: `{"region_name": "r", "instance_type_name": "t", "ssh_key_names": []}`},
		{name: "bad quantity", raw: `{"region_name": "r", "instance_type_name": "t", "ssh_key_names": ["k"], "quantity": 0}`},
		{name: "trailing garbage", raw: `{"region_name": "r", "instance_type_name": "t", "ssh_key_names": ["k"]} trailing-garbage`},
		{name: "second value", raw: `{"region_name": "r", "instance_type_name": "t", "ssh_key_names": ["k"]} {}`},
		{name: "stray brace", raw: `{"region_name": "r", "instance_type_name": "t", "ssh_key_names": ["k"]}}`},
		{name: "malformed tag", raw: `{"region_name": "r", "instance_type_name": "t", "ssh_key_names": ["k"], "tags": [{"key": "a"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := PrepareLaunch([]byte(tt.raw), StartedAtTag, launchNow)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidLaunch)
		})
	}
}

func TestEnsureStartedAtTag_NonListTagsUntouched(t *testing.T) {
	payload := map[string]any{"tags": "oops"}
	EnsureStartedAtTag(payload, StartedAtTag, launchNow)
	assert.Equal(t, "oops", payload["tags"])
}
