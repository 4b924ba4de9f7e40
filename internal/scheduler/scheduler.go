// Package scheduler runs the daily reset of the tracking aggregates at local
// midnight.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/runnerr0/sitetracker/internal/logging"
	"github.com/runnerr0/sitetracker/internal/storage"
	"github.com/runnerr0/sitetracker/internal/tracker"
)

// JobName identifies the reset job.
const JobName = "midnightReset"

// AlarmKey is the store key holding the next fire time in RFC 3339.
const AlarmKey = "alarm:" + JobName

// State is the scheduler's position in its two-state cycle.
type State int

const (
	// Idle: Start has not run yet.
	Idle State = iota
	// Armed: an alarm is set for the next local midnight.
	Armed
	// Fired: a reset is in progress.
	Fired
)

func (s State) String() string {
	switch s {
	case Armed:
		return "armed"
	case Fired:
		return "fired"
	default:
		return "idle"
	}
}

// Store resets the aggregates and persists the alarm.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Reset(ctx context.Context) error
}

// Mirror is the backup copy zeroed alongside the store.
type Mirror interface {
	Reset(ctx context.Context) error
}

// Rebaser runs the store reset while holding off flushes, then restarts
// open timing sessions at the current instant.
type Rebaser interface {
	Rebase(ctx context.Context, reset func(context.Context) error) error
}

// Scheduler fires Reset once per day at local midnight.
type Scheduler struct {
	store  Store
	mirror Mirror
	engine Rebaser
	clock  tracker.Clock
	loc    *time.Location
	log    logging.Logger

	mu    sync.Mutex
	state State
	next  time.Time
	wake  chan struct{}
}

// New returns an idle Scheduler. mirror and engine may be nil.
func New(store Store, mirror Mirror, engine Rebaser, clock tracker.Clock, loc *time.Location, log logging.Logger) *Scheduler {
	if clock == nil {
		clock = tracker.SystemClock{}
	}
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Scheduler{
		store:  store,
		mirror: mirror,
		engine: engine,
		clock:  clock,
		loc:    loc,
		log:    log.With("component", "scheduler"),
		wake:   make(chan struct{}, 1),
	}
}

// NextMidnight returns the first local midnight strictly after now. Calendar
// arithmetic keeps it correct across DST transitions; where midnight does not
// exist the result is the first instant of that day.
func NextMidnight(now time.Time, loc *time.Location) time.Time {
	y, m, d := now.In(loc).Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}

// Start re-arms from the persisted alarm. A missing or unreadable alarm arms
// the next midnight; an alarm that passed while the process was down fires
// immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	raw, err := s.store.Get(ctx, AlarmKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return s.Arm(ctx)
	case err != nil:
		return fmt.Errorf("read alarm: %w", err)
	}

	when, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		s.log.Warn("discarding unreadable alarm", "value", raw)
		return s.Arm(ctx)
	}
	if !when.After(s.clock.Now()) {
		s.log.Info("reset missed while stopped, firing now", "due", when.Format(time.RFC3339))
		return s.Fire(ctx)
	}

	s.mu.Lock()
	s.state = Armed
	s.next = when
	s.mu.Unlock()
	s.poke()
	s.log.Debug("alarm restored", "next", when.Format(time.RFC3339))
	return nil
}

// Arm schedules the next local midnight. Calling it while already armed for
// that instant changes nothing.
func (s *Scheduler) Arm(ctx context.Context) error {
	next := NextMidnight(s.clock.Now(), s.loc)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Armed && s.next.Equal(next) {
		return nil
	}
	if err := s.store.Set(ctx, AlarmKey, next.Format(time.RFC3339)); err != nil {
		return fmt.Errorf("persist alarm: %w", err)
	}
	s.state = Armed
	s.next = next
	s.poke()
	s.log.Info("reset armed", "next", next.Format(time.RFC3339))
	return nil
}

// Fire zeroes the aggregates and the backup, rebases the open sessions and
// arms the following midnight. Firing twice leaves the same empty state as
// firing once.
func (s *Scheduler) Fire(ctx context.Context) error {
	s.mu.Lock()
	s.state = Fired
	s.mu.Unlock()

	var errs []error
	var err error
	if s.engine != nil {
		err = s.engine.Rebase(ctx, s.store.Reset)
	} else {
		err = s.store.Reset(ctx)
	}
	if err != nil {
		errs = append(errs, fmt.Errorf("reset store: %w", err))
	}
	if s.mirror != nil {
		if err := s.mirror.Reset(ctx); err != nil {
			errs = append(errs, fmt.Errorf("reset backup: %w", err))
		}
	}
	if err := s.Arm(ctx); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		s.log.Error("daily reset incomplete", "error", err.Error())
		return err
	}
	s.log.Info("daily reset done")
	return nil
}

// State reports the current state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Next reports the armed fire time; zero before Start.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Run waits for each armed instant and fires it, until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		next := s.Next()
		wait := time.Duration(0)
		if !next.IsZero() {
			wait = max(next.Sub(s.clock.Now()), 0)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
			continue
		case <-timer.C:
		}

		if next.IsZero() {
			if err := s.Arm(ctx); err != nil {
				s.log.Error("arm failed", "error", err.Error())
				s.sleep(ctx, time.Minute)
			}
			continue
		}
		// Timers run on the monotonic clock; re-check the wall clock so a
		// clock set backwards does not fire early.
		if s.clock.Now().Before(next) {
			continue
		}
		if err := s.Fire(ctx); err != nil && ctx.Err() == nil {
			s.sleep(ctx, time.Minute)
		}
	}
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
