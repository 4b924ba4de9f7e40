package tracker

import (
	"context"
	"sort"
	"time"

	"github.com/runnerr0/sitetracker/internal/logging"
)

// Signal is the normalized media state a page reports for its tab.
type Signal struct {
	Domain    string `json:"domain"`
	IsPlaying bool   `json:"isPlaying"`
	PlayTime  int64  `json:"playTime"`
	URL       string `json:"url"`
	VideoID   string `json:"videoId"`
}

// Transition names how the media timer handled a signal.
type Transition int

const (
	TransitionNoop Transition = iota
	TransitionStart
	TransitionStop
	TransitionHeartbeat
)

func (t Transition) String() string {
	switch t {
	case TransitionStart:
		return "start"
	case TransitionStop:
		return "stop"
	case TransitionHeartbeat:
		return "heartbeat"
	default:
		return "noop"
	}
}

// MediaState is the playback state of one tab. When Playing is false every
// other field is zero.
type MediaState struct {
	Playing    bool      `json:"isPlaying"`
	Domain     string    `json:"domain,omitempty"`
	Start      time.Time `json:"start"`
	LastUpdate time.Time `json:"lastUpdate"`
	MediaID    string    `json:"mediaId,omitempty"`
}

// MediaTimer keeps one playback state machine per tab.
type MediaTimer struct {
	sink         Aggregator
	log          logging.Logger
	stopCap      int64
	heartbeatCap int64
	fromLast     bool

	tabs map[int]*MediaState
}

// MediaOptions bounds the deltas the media timer will credit.
type MediaOptions struct {
	StopCapSeconds      int64
	HeartbeatCapSeconds int64
	// StopFromLastUpdate makes a stop credit only the time since the last
	// heartbeat instead of the time since playback started.
	StopFromLastUpdate bool
}

// NewMediaTimer returns a timer with no tab state.
func NewMediaTimer(sink Aggregator, opts MediaOptions, log logging.Logger) *MediaTimer {
	if log == nil {
		log = logging.NewNop()
	}
	return &MediaTimer{
		sink:         sink,
		log:          log,
		stopCap:      opts.StopCapSeconds,
		heartbeatCap: opts.HeartbeatCapSeconds,
		fromLast:     opts.StopFromLastUpdate,
		tabs:         make(map[int]*MediaState),
	}
}

func (m *MediaTimer) state(tabID int) *MediaState {
	st, ok := m.tabs[tabID]
	if !ok {
		st = &MediaState{}
		m.tabs[tabID] = st
	}
	return st
}

// OnSignal applies one media signal from tabID.
func (m *MediaTimer) OnSignal(ctx context.Context, now time.Time, tabID int, sig Signal) (Transition, error) {
	st := m.state(tabID)

	switch {
	case sig.IsPlaying && !st.Playing:
		*st = MediaState{Playing: true, Domain: sig.Domain, Start: now, LastUpdate: now, MediaID: sig.VideoID}
		m.log.Debug("media started", "tabId", tabID, "domain", sig.Domain, "mediaId", sig.VideoID)
		return TransitionStart, nil

	case !sig.IsPlaying && st.Playing && st.Domain == sig.Domain:
		return TransitionStop, m.stop(ctx, now, tabID, st)

	case sig.IsPlaying && st.Playing && st.Domain == sig.Domain:
		return TransitionHeartbeat, m.advance(ctx, now, tabID, st)
	}

	return TransitionNoop, nil
}

// OnTabClosed stops any playback on tabID and forgets the tab.
func (m *MediaTimer) OnTabClosed(ctx context.Context, now time.Time, tabID int) error {
	var err error
	if st, ok := m.tabs[tabID]; ok && st.Playing {
		err = m.stop(ctx, now, tabID, st)
	}
	delete(m.tabs, tabID)
	return err
}

// StopIfPlayingOn stops playback on tabID only if it is crediting domain.
func (m *MediaTimer) StopIfPlayingOn(ctx context.Context, now time.Time, tabID int, domain string) error {
	st, ok := m.tabs[tabID]
	if !ok || !st.Playing || st.Domain != domain {
		return nil
	}
	return m.stop(ctx, now, tabID, st)
}

// OnAllWindowsUnfocused stops playback on every tab.
func (m *MediaTimer) OnAllWindowsUnfocused(ctx context.Context, now time.Time) error {
	var firstErr error
	for _, id := range m.tabIDs() {
		st := m.tabs[id]
		if !st.Playing {
			continue
		}
		if err := m.stop(ctx, now, id, st); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Sweep credits progress for every playing tab as if a heartbeat arrived.
func (m *MediaTimer) Sweep(ctx context.Context, now time.Time) error {
	var firstErr error
	for _, id := range m.tabIDs() {
		st := m.tabs[id]
		if !st.Playing || st.LastUpdate.IsZero() {
			continue
		}
		if err := m.advance(ctx, now, id, st); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Rebase restarts every playing session at now without flushing.
func (m *MediaTimer) Rebase(now time.Time) {
	for _, st := range m.tabs {
		if st.Playing {
			st.Start = now
			st.LastUpdate = now
		}
	}
}

// Snapshot returns a copy of every tab's state.
func (m *MediaTimer) Snapshot() map[int]MediaState {
	out := make(map[int]MediaState, len(m.tabs))
	for id, st := range m.tabs {
		out[id] = *st
	}
	return out
}

func (m *MediaTimer) tabIDs() []int {
	ids := make([]int, 0, len(m.tabs))
	for id := range m.tabs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// stop credits the session if its length is plausible, then clears the state
// whether or not anything was credited.
func (m *MediaTimer) stop(ctx context.Context, now time.Time, tabID int, st *MediaState) error {
	from := st.Start
	if m.fromLast {
		from = st.LastUpdate
	}
	elapsed := wholeSeconds(now.Sub(from))
	domain := st.Domain
	*st = MediaState{}

	if elapsed <= 0 || elapsed >= m.stopCap {
		m.log.Debug("discarded media delta", "tabId", tabID, "domain", domain, "seconds", elapsed, "reason", "stop out of range")
		return nil
	}
	return m.credit(ctx, tabID, domain, elapsed)
}

// advance credits the time since the last update if plausible and moves the
// reference forward. An implausible delta leaves the reference untouched.
func (m *MediaTimer) advance(ctx context.Context, now time.Time, tabID int, st *MediaState) error {
	delta := wholeSeconds(now.Sub(st.LastUpdate))
	if delta <= 0 || delta >= m.heartbeatCap {
		m.log.Debug("discarded media delta", "tabId", tabID, "domain", st.Domain, "seconds", delta, "reason", "heartbeat out of range")
		return nil
	}
	if err := m.credit(ctx, tabID, st.Domain, delta); err != nil {
		return err
	}
	st.LastUpdate = now
	return nil
}

func (m *MediaTimer) credit(ctx context.Context, tabID int, domain string, seconds int64) error {
	if err := m.sink.AddMediaTime(ctx, domain, seconds); err != nil {
		m.log.Error("flush media time", "tabId", tabID, "domain", domain, "seconds", seconds, "error", err.Error())
		return err
	}
	m.log.Debug("flushed", "kind", "media", "tabId", tabID, "domain", domain, "seconds", seconds)
	return nil
}
