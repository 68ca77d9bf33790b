package audit

import (
	"context"
	"sync"
)

// Source hands out the audit evidence shared by one invocation.
type Source interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// FetchFunc produces a snapshot; Fetcher.Fetch is one.
type FetchFunc func(ctx context.Context) (*Snapshot, error)

// OnceSource fetches lazily on first use and then returns the same
// snapshot, or the same error, to every caller.
type OnceSource struct {
	fetch FetchFunc
	once  sync.Once
	snap  *Snapshot
	err   error
}

// NewOnceSource wraps fetch.
func NewOnceSource(fetch FetchFunc) *OnceSource {
	return &OnceSource{fetch: fetch}
}

// Snapshot implements Source. The context of the first caller drives the
// fetch.
func (s *OnceSource) Snapshot(ctx context.Context) (*Snapshot, error) {
	s.once.Do(func() {
		s.snap, s.err = s.fetch(ctx)
	})
	return s.snap, s.err
}
