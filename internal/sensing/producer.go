// Package sensing turns raw media element and page visibility events into the
// normalized signals consumed by the media timer.
package sensing

import (
	"sync"
	"time"

	"github.com/runnerr0/sitetracker/internal/tracker"
)

// ElementEvent is a media element lifecycle event.
type ElementEvent int

const (
	EventPlay ElementEvent = iota
	EventPause
	EventEnded
	EventTimeUpdate
	EventSeeked
	EventWaiting
	EventCanPlay
	EventRateChange
)

var eventNames = map[ElementEvent]string{
	EventPlay:       "play",
	EventPause:      "pause",
	EventEnded:      "ended",
	EventTimeUpdate: "timeupdate",
	EventSeeked:     "seeked",
	EventWaiting:    "waiting",
	EventCanPlay:    "canplay",
	EventRateChange: "ratechange",
}

func (e ElementEvent) String() string {
	if n, ok := eventNames[e]; ok {
		return n
	}
	return "unknown"
}

// Emitter delivers signals to the media timer.
type Emitter interface {
	Emit(sig tracker.Signal)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(sig tracker.Signal)

func (f EmitterFunc) Emit(sig tracker.Signal) { f(sig) }

// Options tunes a Producer.
type Options struct {
	Heartbeat          time.Duration // periodic emission while playing
	MaxUpdateGap       time.Duration // larger gaps are not accumulated
	TimeUpdateThrottle time.Duration // minimum spacing of timeupdate accumulation
}

// DefaultOptions matches config.DefaultConfig's sensing section.
func DefaultOptions() Options {
	return Options{
		Heartbeat:          10 * time.Second,
		MaxUpdateGap:       30 * time.Second,
		TimeUpdateThrottle: 2 * time.Second,
	}
}

// Producer observes the media elements of one page. Only one element is
// tracked at a time: the first to start playing keeps the page's signal
// stream until it pauses or ends (FirstToPlayWins).
type Producer struct {
	mu    sync.Mutex
	opts  Options
	emit  Emitter
	clock tracker.Clock

	url    string
	domain string

	playing    bool
	tracked    string
	lastUpdate time.Time
	total      time.Duration
	lastSent   time.Time

	order      []string             // elements in discovery order
	elements   map[string]bool      // element -> currently unpaused
	lastTimeUp map[string]time.Time // per-element timeupdate throttle
}

// NewProducer returns a Producer for the page at pageURL.
func NewProducer(pageURL string, emit Emitter, clock tracker.Clock, opts Options) *Producer {
	if clock == nil {
		clock = tracker.SystemClock{}
	}
	p := &Producer{opts: opts, emit: emit, clock: clock}
	p.reset(pageURL)
	return p
}

// HandleElement applies one element event.
func (p *Producer) HandleElement(elementID string, ev ElementEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	if _, seen := p.elements[elementID]; !seen {
		p.order = append(p.order, elementID)
		p.elements[elementID] = false
	}

	switch ev {
	case EventPlay:
		p.elements[elementID] = true
		if !p.playing {
			p.begin(now, elementID)
			p.send(now)
		}

	case EventPause, EventEnded:
		p.elements[elementID] = false
		if p.playing && p.tracked == elementID {
			p.accumulate(now)
			p.playing = false
			p.tracked = ""
			p.send(now)
		}

	case EventTimeUpdate:
		if p.playing && p.tracked == elementID && now.Sub(p.lastTimeUp[elementID]) > p.opts.TimeUpdateThrottle {
			p.accumulate(now)
			p.lastTimeUp[elementID] = now
		}

	case EventSeeked, EventCanPlay, EventRateChange:
		if p.playing && p.tracked == elementID {
			p.lastUpdate = now
		}

	case EventWaiting:
		// Buffering keeps the element tracked.
	}
}

// SetVisible reports a page visibility change. Hiding the page stops the
// stream; showing it again starts a fresh one if any element is unpaused.
func (p *Producer) SetVisible(visible bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	if !visible {
		if p.playing {
			p.accumulate(now)
			p.playing = false
			p.tracked = ""
			p.send(now)
		}
		return
	}

	for _, id := range p.order {
		if p.elements[id] {
			p.begin(now, id)
			p.send(now)
			return
		}
	}
}

// Tick emits a progress signal when something is playing and the heartbeat
// interval has passed since the last emission.
func (p *Producer) Tick() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	if !p.playing || now.Sub(p.lastSent) < p.opts.Heartbeat {
		return
	}
	p.accumulate(now)
	p.send(now)
}

// Navigate drops all state and rebinds the producer to a new page URL, as
// happens on single-page-app navigation. No signal is emitted.
func (p *Producer) Navigate(pageURL string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset(pageURL)
}

// Forget removes an element that left the page.
func (p *Producer) Forget(elementID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.elements, elementID)
	delete(p.lastTimeUp, elementID)
	for i, id := range p.order {
		if id == elementID {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// PlaySeconds returns the whole seconds of playback accumulated so far.
func (p *Producer) PlaySeconds() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int64(p.total / time.Second)
}

// Tracked returns the element currently owning the signal stream.
func (p *Producer) Tracked() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tracked, p.playing
}

func (p *Producer) reset(pageURL string) {
	domain, _ := tracker.ExtractDomain(pageURL)
	p.url = pageURL
	p.domain = domain
	p.playing = false
	p.tracked = ""
	p.lastUpdate = p.clock.Now()
	p.total = 0
	p.lastSent = time.Time{}
	p.order = nil
	p.elements = make(map[string]bool)
	p.lastTimeUp = make(map[string]time.Time)
}

func (p *Producer) begin(now time.Time, elementID string) {
	p.playing = true
	p.tracked = elementID
	p.lastUpdate = now
}

// accumulate adds the time since the last update to the play total when the
// gap is plausible. A larger gap only moves the reference point.
func (p *Producer) accumulate(now time.Time) {
	if !p.playing {
		return
	}
	gap := now.Sub(p.lastUpdate)
	switch {
	case gap > 0 && gap < p.opts.MaxUpdateGap:
		p.total += gap
		p.lastUpdate = now
	case gap >= p.opts.MaxUpdateGap:
		p.lastUpdate = now
	}
}

func (p *Producer) send(now time.Time) {
	p.lastSent = now
	if p.domain == "" || p.emit == nil {
		return
	}
	p.emit.Emit(tracker.Signal{
		Domain:    p.domain,
		IsPlaying: p.playing,
		PlayTime:  int64(p.total / time.Second),
		URL:       p.url,
		VideoID:   p.tracked,
	})
}
