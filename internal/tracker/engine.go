package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/runnerr0/sitetracker/internal/logging"
)

// Options configures an Engine.
type Options struct {
	MediaStopCap         time.Duration
	HeartbeatCap         time.Duration
	StopMediaOnTabSwitch bool
	StopFromLastUpdate   bool
	IgnoreDomains        []string
}

// DefaultOptions mirrors the defaults in config.DefaultConfig.
func DefaultOptions() Options {
	return Options{
		MediaStopCap:         time.Hour,
		HeartbeatCap:         5 * time.Minute,
		StopMediaOnTabSwitch: true,
	}
}

// Snapshot is a point-in-time view of the engine's in-memory state.
type Snapshot struct {
	Active *ActiveSession     `json:"active"`
	Media  map[int]MediaState `json:"media"`
	Tabs   int                `json:"tabs"`
}

// Engine owns both timers and the tab mirror. Every entry point holds one
// mutex for its whole duration, including the storage write, so handlers
// run to completion one at a time and a sweep can never interleave with a
// heartbeat for the same tab.
//
// Entry points ignore cancellation of the caller's context: by the time a
// flush is issued the in-memory session has already moved on, so the write
// must complete.
type Engine struct {
	mu     sync.Mutex
	clock  Clock
	tabs   *TabRegistry
	active *ActiveTimer
	media  *MediaTimer
	opts   Options
	log    logging.Logger
}

// NewEngine wires the timers to sink.
func NewEngine(sink Aggregator, clock Clock, opts Options, log logging.Logger) *Engine {
	if clock == nil {
		clock = SystemClock{}
	}
	if log == nil {
		log = logging.NewNop()
	}
	tabs := NewTabRegistry()
	return &Engine{
		clock:  clock,
		tabs:   tabs,
		active: NewActiveTimer(sink, tabs, opts.IgnoreDomains, log.With("component", "active")),
		media: NewMediaTimer(sink, MediaOptions{
			StopCapSeconds:      wholeSeconds(opts.MediaStopCap),
			HeartbeatCapSeconds: wholeSeconds(opts.HeartbeatCap),
			StopFromLastUpdate:  opts.StopFromLastUpdate,
		}, log.With("component", "media")),
		opts: opts,
		log:  log,
	}
}

// TabActivated handles the browser switching the active tab of a window.
func (e *Engine) TabActivated(ctx context.Context, tab TabInfo) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ctx = context.WithoutCancel(ctx)

	tab.Active = true
	e.tabs.Upsert(tab)
	return e.foreground(ctx, e.clock.Now(), tab.ID)
}

// TabUpdated records a tab's new URL or state. A URL change on the active
// tab counts as a foreground change.
func (e *Engine) TabUpdated(ctx context.Context, tab TabInfo, urlChanged bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ctx = context.WithoutCancel(ctx)

	if prev, err := e.tabs.Get(tab.ID); err == nil && tab.URL == "" {
		tab.URL = prev.URL
	}
	e.tabs.Upsert(tab)
	if tab.Active && urlChanged {
		return e.foreground(ctx, e.clock.Now(), tab.ID)
	}
	return nil
}

// TabRemoved stops the tab's media, closes its foreground session if it
// had one, and forgets it.
func (e *Engine) TabRemoved(ctx context.Context, tabID int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ctx = context.WithoutCancel(ctx)

	now := e.clock.Now()
	err := e.media.OnTabClosed(ctx, now, tabID)
	err = errors.Join(err, e.active.OnTabClosed(ctx, now, tabID))
	e.tabs.Remove(tabID)
	return err
}

// WindowFocusChanged handles focus moving to windowID, or away from every
// window when windowID is WindowNone. Focusing a window whose active tab is
// unknown closes the open session.
func (e *Engine) WindowFocusChanged(ctx context.Context, windowID int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ctx = context.WithoutCancel(ctx)

	now := e.clock.Now()
	if windowID == WindowNone {
		err := e.active.OnAllWindowsUnfocused(ctx, now)
		return errors.Join(err, e.media.OnAllWindowsUnfocused(ctx, now))
	}

	prev := e.active.Session()
	err := e.active.OnRefocus(ctx, now, windowID)
	return errors.Join(err, e.stopLeftMedia(ctx, now, prev))
}

// MediaSignal applies a sensing signal sent from tabID.
func (e *Engine) MediaSignal(ctx context.Context, tabID int, sig Signal) (Transition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ctx = context.WithoutCancel(ctx)

	return e.media.OnSignal(ctx, e.clock.Now(), tabID, sig)
}

// Sweep credits in-progress playback on every playing tab.
func (e *Engine) Sweep(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ctx = context.WithoutCancel(ctx)

	return e.media.Sweep(ctx, e.clock.Now())
}

// Rebase runs reset with the engine locked, then restarts every open session
// at the current time. No flush can land between the two, so time from before
// the reset is never credited after it. reset may be nil.
func (e *Engine) Rebase(ctx context.Context, reset func(context.Context) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var err error
	if reset != nil {
		err = reset(context.WithoutCancel(ctx))
	}
	now := e.clock.Now()
	e.active.Rebase(now)
	e.media.Rebase(now)
	return err
}

// Snapshot returns the current in-memory state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	return Snapshot{
		Active: e.active.Session(),
		Media:  e.media.Snapshot(),
		Tabs:   e.tabs.Len(),
	}
}

// RunSweeper calls Sweep every interval until ctx is cancelled.
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Sweep(ctx); err != nil {
				e.log.Warn("media sweep", "error", err.Error())
			}
		}
	}
}

// foreground moves the active session to tabID.
func (e *Engine) foreground(ctx context.Context, now time.Time, tabID int) error {
	prev := e.active.Session()
	err := e.active.OnForegroundChange(ctx, now, tabID)
	return errors.Join(err, e.stopLeftMedia(ctx, now, prev))
}

// stopLeftMedia stops the media of the previously foreground tab when it was
// playing on the domain being left.
func (e *Engine) stopLeftMedia(ctx context.Context, now time.Time, prev *ActiveSession) error {
	if prev == nil || !e.opts.StopMediaOnTabSwitch {
		return nil
	}
	return e.media.StopIfPlayingOn(ctx, now, prev.TabID, prev.Domain)
}
