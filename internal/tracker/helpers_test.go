package tracker

import (
	"context"
	"sync"
	"time"
)

// recordingSink is an in-memory Aggregator that records every credit. Like a
// database write, it fails on a cancelled context.
type recordingSink struct {
	mu      sync.Mutex
	site    map[string]int64
	media   map[string]int64
	credits int
	err     error
}

func newRecordingSink() *recordingSink {
	return &recordingSink{site: map[string]int64{}, media: map[string]int64{}}
}

func (s *recordingSink) AddSiteTime(ctx context.Context, domain string, seconds int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.err != nil {
		return s.err
	}
	s.site[domain] += seconds
	s.credits++
	return nil
}

func (s *recordingSink) AddMediaTime(ctx context.Context, domain string, seconds int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.err != nil {
		return s.err
	}
	s.media[domain] += seconds
	s.credits++
	return nil
}

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func at(seconds int) time.Time {
	return t0.Add(time.Duration(seconds) * time.Second)
}
