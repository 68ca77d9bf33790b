// Package filter selects the instances a command works on.
package filter

import (
	"fmt"
	"strings"

	"github.com/yairfalse/lambdactl/pkg/instance"
)

// Filter selects instances by status and tags.
type Filter struct {
	statuses    map[string]bool
	includeTags map[string]string
	excludeTags map[string]string
}

// New creates a Filter. Statuses compare case-insensitively; an empty
// status list admits every status.
func New(statuses []string, includeTags, excludeTags map[string]string) *Filter {
	statusMap := make(map[string]bool)
	for _, s := range statuses {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			statusMap[s] = true
		}
	}

	return &Filter{
		statuses:    statusMap,
		includeTags: includeTags,
		excludeTags: excludeTags,
	}
}

// ShouldIncludeStatus returns true if the status passes the status filter.
func (f *Filter) ShouldIncludeStatus(status string) bool {
	if len(f.statuses) == 0 {
		return true
	}
	return f.statuses[strings.ToLower(strings.TrimSpace(status))]
}

// ShouldInclude returns true if the instance passes status and tag filters.
func (f *Filter) ShouldInclude(inst instance.Instance) bool {
	if !f.ShouldIncludeStatus(inst.Status) {
		return false
	}

	// ALL include tags must match
	for k, v := range f.includeTags {
		if got, ok := inst.Tags[k]; !ok || got != v {
			return false
		}
	}

	// ANY exclude tag match excludes
	for k, v := range f.excludeTags {
		if got, ok := inst.Tags[k]; ok && got == v {
			return false
		}
	}

	return true
}

// Apply returns the instances that pass the filter, in input order.
func (f *Filter) Apply(instances []instance.Instance) []instance.Instance {
	if f == nil || f.IsEmpty() {
		return instances
	}

	filtered := make([]instance.Instance, 0, len(instances))
	for _, inst := range instances {
		if f.ShouldInclude(inst) {
			filtered = append(filtered, inst)
		}
	}
	return filtered
}

// IsEmpty returns true if no filters are configured.
func (f *Filter) IsEmpty() bool {
	return len(f.statuses) == 0 && len(f.includeTags) == 0 && len(f.excludeTags) == 0
}

// ParseTags parses "key=value" pairs. The value may be empty; the key
// may not.
func ParseTags(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	tags := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid tag filter %q: want key=value", p)
		}
		tags[k] = v
	}
	return tags, nil
}
