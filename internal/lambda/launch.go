package lambda

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// StartedAtTag is the tag key written on launch.
const StartedAtTag = "started-at"

// LegacyStartedAtTag is the underscore spelling older launches used.
const LegacyStartedAtTag = "started_at"

// ErrInvalidLaunch is wrapped by every launch payload rejection.
var ErrInvalidLaunch = errors.New("invalid launch payload")

//go:embed launch_schema.json
var launchSchemaJSON []byte

const launchSchemaURL = "https://lambdactl.local/schemas/launch.json"

var launchSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(launchSchemaURL, bytes.NewReader(launchSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add launch schema: %w", err)
	}
	schema, err := compiler.Compile(launchSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile launch schema: %w", err)
	}
	return schema, nil
})

// PrepareLaunch decodes and validates a launch request file, then makes
// sure it carries a start-time tag so later long-running checks can use
// it. tagKey is the configured start tag; now is stamped in UTC.
func PrepareLaunch(raw []byte, tagKey string, now time.Time) (map[string]any, error) {
	var decoded any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLaunch, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: unexpected data after launch payload", ErrInvalidLaunch)
	}

	payload, ok := decoded.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: launch payload must be a JSON object", ErrInvalidLaunch)
	}

	schema, err := launchSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLaunch, err)
	}

	EnsureStartedAtTag(payload, tagKey, now)
	return payload, nil
}

// EnsureStartedAtTag appends a start-time tag unless the payload already
// has one under tagKey or either spelling of "started-at". Payloads whose
// tags member is not a list are left alone.
func EnsureStartedAtTag(payload map[string]any, tagKey string, now time.Time) {
	if tagKey == "" {
		tagKey = StartedAtTag
	}

	var tags []any
	switch v := payload["tags"].(type) {
	case nil:
	case []any:
		tags = v
	default:
		return
	}

	for _, entry := range tags {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		switch m["key"] {
		case tagKey, StartedAtTag, LegacyStartedAtTag:
			return
		}
	}

	payload["tags"] = append(tags, map[string]any{
		"key":   tagKey,
		"value": now.UTC().Truncate(time.Second).Format("2006-01-02T15:04:05Z"),
	})
}
