package audit

import (
	"context"

	"github.com/google/btree"

	"github.com/yairfalse/lambdactl/pkg/instance"
)

type indexed struct {
	event instance.AuditEvent
	seq   int
}

// Snapshot is the audit history fetched for one invocation, ordered by
// event time and then by arrival. It is read-only after construction and
// safe for concurrent use.
type Snapshot struct {
	index   *btree.BTreeG[indexed]
	dropped int
}

// NewSnapshot indexes events. Events without a usable time are dropped.
func NewSnapshot(events []instance.AuditEvent) *Snapshot {
	s := &Snapshot{
		index: btree.NewG[indexed](32, func(a, b indexed) bool {
			if !a.event.Time.Equal(b.event.Time) {
				return a.event.Time.Before(b.event.Time)
			}
			return a.seq < b.seq
		}),
	}
	for i, ev := range events {
		if ev.Time.IsZero() {
			s.dropped++
			continue
		}
		s.index.ReplaceOrInsert(indexed{event: ev, seq: i})
	}
	return s
}

// Len returns the number of indexed events.
func (s *Snapshot) Len() int {
	return s.index.Len()
}

// Dropped returns the number of events skipped for lack of a time.
func (s *Snapshot) Dropped() int {
	return s.dropped
}

// Earliest returns the oldest event that references the instance and
// satisfies the matcher.
func (s *Snapshot) Earliest(ctx context.Context, instanceID string, m Matcher) (instance.AuditEvent, bool) {
	var (
		found instance.AuditEvent
		ok    bool
	)
	s.index.Ascend(func(item indexed) bool {
		if !item.event.References(instanceID) || !m.Match(ctx, item.event) {
			return true
		}
		found, ok = item.event, true
		return false
	})
	return found, ok
}
