// Package instance defines the provider-neutral model lambdactl works with:
// compute instances and the audit events recorded against them.
package instance

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Instance is a read-only snapshot of one provider instance.
type Instance struct {
	ID     string            `json:"id"`             // Unique identifier
	Name   string            `json:"name,omitempty"` // Human-readable name
	Status string            `json:"status"`         // Provider status (e.g., "active")
	IP     string            `json:"ip,omitempty"`   // Public IP, if assigned
	Tags   map[string]string `json:"tags,omitempty"` // Case-sensitive tag keys
	Raw    json.RawMessage   `json:"-"`              // Original provider object
}

// Tag is the provider's wire form of a single tag.
type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Tag returns the value stored under key.
func (i Instance) Tag(key string) (string, bool) {
	v, ok := i.Tags[key]
	return v, ok
}

type wireInstance struct {
	ID     json.RawMessage `json:"id"`
	Name   *string         `json:"name"`
	Status *string         `json:"status"`
	IP     *string         `json:"ip"`
	Tags   json.RawMessage `json:"tags"`
}

// UnmarshalJSON decodes a provider instance object, keeping the raw bytes
// so the instance can be echoed back unchanged.
func (i *Instance) UnmarshalJSON(data []byte) error {
	var w wireInstance
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode instance: %w", err)
	}

	*i = Instance{
		ID:     scalarString(w.ID),
		Name:   deref(w.Name),
		Status: deref(w.Status),
		IP:     deref(w.IP),
		Tags:   decodeTags(w.Tags),
		Raw:    append(json.RawMessage(nil), data...),
	}
	return nil
}

// MarshalJSON echoes the provider object when one was decoded.
func (i Instance) MarshalJSON() ([]byte, error) {
	if len(i.Raw) > 0 {
		return i.Raw, nil
	}
	type plain Instance
	return json.Marshal(plain(i))
}

// decodeTags accepts the provider's [{"key":..,"value":..}] list and, for
// robustness, a plain JSON object. Entries with a null value are skipped.
func decodeTags(raw json.RawMessage) map[string]string {
	tags := make(map[string]string)
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return tags
	}

	switch raw[0] {
	case '[':
		var entries []json.RawMessage
		if err := json.Unmarshal(raw, &entries); err != nil {
			return tags
		}
		for _, e := range entries {
			var entry struct {
				Key   *string         `json:"key"`
				Value json.RawMessage `json:"value"`
			}
			if err := json.Unmarshal(e, &entry); err != nil || entry.Key == nil {
				continue
			}
			if v, ok := tagValue(entry.Value); ok {
				tags[*entry.Key] = v
			}
		}
	case '{':
		var m map[string]json.RawMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return tags
		}
		for k, rv := range m {
			if v, ok := tagValue(rv); ok {
				tags[k] = v
			}
		}
	}
	return tags
}

func tagValue(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	return scalarString(raw), true
}

// scalarString renders a JSON scalar as text; strings are unquoted.
func scalarString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// IsObject reports whether raw holds a JSON object.
func IsObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}
