// Package browser feeds the engine from a running browser's DevTools
// endpoint, for setups without the extension.
package browser

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/runnerr0/sitetracker/internal/logging"
	"github.com/runnerr0/sitetracker/internal/sensing"
	"github.com/runnerr0/sitetracker/internal/tracker"
)

// WindowID is the window every DevTools page is reported in. The /json
// target list carries no window information.
const WindowID = 1

// Sink receives the browser events the watcher derives.
type Sink interface {
	TabActivated(ctx context.Context, tab tracker.TabInfo) error
	TabUpdated(ctx context.Context, tab tracker.TabInfo, urlChanged bool) error
	TabRemoved(ctx context.Context, tabID int) error
	WindowFocusChanged(ctx context.Context, windowID int) error
	MediaSignal(ctx context.Context, tabID int, sig tracker.Signal) (tracker.Transition, error)
}

// ElementChange is one media element event derived from two probes.
type ElementChange struct {
	ID    string
	Event sensing.ElementEvent
}

// DiffMedia derives the element events that turn prev into cur. Elements
// missing from cur are not reported; the caller handles removal.
func DiffMedia(prev map[string]MediaElement, cur []MediaElement) []ElementChange {
	var out []ElementChange
	for _, el := range cur {
		old, seen := prev[el.ID]
		wasRunning := seen && !old.Paused && !old.Ended
		running := !el.Paused && !el.Ended

		switch {
		case el.Ended && !(seen && old.Ended):
			out = append(out, ElementChange{el.ID, sensing.EventEnded})
		case running && !wasRunning:
			out = append(out, ElementChange{el.ID, sensing.EventPlay})
		case !running && wasRunning:
			out = append(out, ElementChange{el.ID, sensing.EventPause})
		case running && el.CurrentTime != old.CurrentTime:
			out = append(out, ElementChange{el.ID, sensing.EventTimeUpdate})
		}
	}
	return out
}

type page struct {
	tabID    int
	url      string
	visible  bool
	media    map[string]MediaElement
	producer *sensing.Producer
}

// Watcher polls the browser and translates what changed into engine events.
// It is not safe for concurrent use; Run drives it from one goroutine.
type Watcher struct {
	lister Lister
	prober Prober
	sink   Sink
	clock  tracker.Clock
	opts   sensing.Options
	log    logging.Logger

	ctx     context.Context
	ids     map[string]int
	nextID  int
	pages   map[int]*page
	focused int
}

// NewWatcher returns a Watcher with no known pages.
func NewWatcher(lister Lister, prober Prober, sink Sink, clock tracker.Clock, opts sensing.Options, log logging.Logger) *Watcher {
	if clock == nil {
		clock = tracker.SystemClock{}
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Watcher{
		lister:  lister,
		prober:  prober,
		sink:    sink,
		clock:   clock,
		opts:    opts,
		log:     log.With("component", "browser"),
		ctx:     context.Background(),
		ids:     make(map[string]int),
		nextID:  1,
		pages:   make(map[int]*page),
		focused: tracker.WindowNone,
	}
}

// Run polls every interval until ctx is cancelled, then releases every
// DevTools connection.
func (w *Watcher) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := w.Poll(ctx); err != nil && ctx.Err() == nil {
			w.log.Warn("browser poll failed", "error", err.Error())
		}
		select {
		case <-ctx.Done():
			return w.prober.Close()
		case <-ticker.C:
		}
	}
}

// Poll runs one list-probe-diff round.
func (w *Watcher) Poll(ctx context.Context) error {
	w.ctx = ctx
	targets, err := w.lister.Pages(ctx)
	if err != nil {
		return err
	}

	var errs []error
	seen := make(map[int]bool, len(targets))
	focused := tracker.WindowNone

	for _, t := range targets {
		p, err := w.track(ctx, t)
		if err != nil {
			errs = append(errs, err)
		}
		seen[p.tabID] = true

		st, err := w.prober.Probe(ctx, t)
		if err != nil {
			w.log.Debug("probe failed", "tabId", p.tabID, "error", err.Error())
			continue
		}
		if st.Focused && focused == tracker.WindowNone {
			focused = p.tabID
		}
		w.applyMedia(p, st)
	}

	for _, id := range w.knownTabs() {
		if !seen[id] {
			errs = append(errs, w.remove(ctx, id))
		}
	}

	if focused != w.focused {
		errs = append(errs, w.focus(ctx, focused))
	}

	for _, id := range w.knownTabs() {
		w.pages[id].producer.Tick()
	}
	return errors.Join(errs...)
}

// track returns the page for t, registering it or reporting a navigation.
func (w *Watcher) track(ctx context.Context, t Target) (*page, error) {
	id, ok := w.ids[t.ID]
	if !ok {
		id = w.nextID
		w.nextID++
		w.ids[t.ID] = id
	}

	p, ok := w.pages[id]
	if !ok {
		p = &page{
			tabID:   id,
			url:     t.URL,
			visible: true,
			media:   make(map[string]MediaElement),
		}
		p.producer = sensing.NewProducer(t.URL, w.emitter(id), w.clock, w.opts)
		w.pages[id] = p
		return p, w.sink.TabUpdated(ctx, w.tabInfo(p), false)
	}

	if p.url == t.URL {
		return p, nil
	}
	w.logPlayback(p, "navigated")
	p.url = t.URL
	p.media = make(map[string]MediaElement)
	p.producer.Navigate(t.URL)
	return p, w.sink.TabUpdated(ctx, w.tabInfo(p), true)
}

func (w *Watcher) applyMedia(p *page, st PageState) {
	if st.Visible != p.visible {
		p.visible = st.Visible
		p.producer.SetVisible(st.Visible)
	}

	for _, ch := range DiffMedia(p.media, st.Media) {
		p.producer.HandleElement(ch.ID, ch.Event)
	}

	current := make(map[string]MediaElement, len(st.Media))
	for _, el := range st.Media {
		current[el.ID] = el
	}
	for id, old := range p.media {
		if _, ok := current[id]; ok {
			continue
		}
		if tracked, playing := p.producer.Tracked(); playing && tracked == id {
			w.log.Debug("tracked media element removed", "tabId", p.tabID, "elementId", id)
		}
		if !old.Paused && !old.Ended {
			p.producer.HandleElement(id, sensing.EventPause)
		}
		p.producer.Forget(id)
	}
	p.media = current
}

// logPlayback records the playback a page accumulated before it went away.
func (w *Watcher) logPlayback(p *page, reason string) {
	if secs := p.producer.PlaySeconds(); secs > 0 {
		w.log.Debug("page playback", "tabId", p.tabID, "url", p.url, "playSeconds", secs, "reason", reason)
	}
}

func (w *Watcher) remove(ctx context.Context, tabID int) error {
	for targetID, id := range w.ids {
		if id == tabID {
			delete(w.ids, targetID)
			w.prober.Release(targetID)
			break
		}
	}
	if p, ok := w.pages[tabID]; ok {
		w.logPlayback(p, "closed")
	}
	delete(w.pages, tabID)
	if w.focused == tabID {
		w.focused = tracker.WindowNone
	}
	return w.sink.TabRemoved(ctx, tabID)
}

func (w *Watcher) focus(ctx context.Context, tabID int) error {
	w.focused = tabID
	if tabID == tracker.WindowNone {
		return w.sink.WindowFocusChanged(ctx, tracker.WindowNone)
	}
	info := w.tabInfo(w.pages[tabID])
	info.Active = true
	return w.sink.TabActivated(ctx, info)
}

func (w *Watcher) tabInfo(p *page) tracker.TabInfo {
	return tracker.TabInfo{ID: p.tabID, WindowID: WindowID, URL: p.url, Active: w.focused == p.tabID}
}

func (w *Watcher) emitter(tabID int) sensing.Emitter {
	return sensing.EmitterFunc(func(sig tracker.Signal) {
		tr, err := w.sink.MediaSignal(w.ctx, tabID, sig)
		if err != nil {
			w.log.Warn("media signal not attributed", "tabId", tabID, "error", err.Error())
			return
		}
		w.log.Debug("media signal", "tabId", tabID, "domain", sig.Domain, "transition", tr.String())
	})
}

func (w *Watcher) knownTabs() []int {
	ids := make([]int, 0, len(w.pages))
	for id := range w.pages {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// TabID returns the tab id assigned to a DevTools target.
func (w *Watcher) TabID(targetID string) (int, bool) {
	id, ok := w.ids[targetID]
	return id, ok
}
