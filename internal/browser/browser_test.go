package browser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/runnerr0/sitetracker/internal/logging"
	"github.com/runnerr0/sitetracker/internal/sensing"
	"github.com/runnerr0/sitetracker/internal/storage"
	"github.com/runnerr0/sitetracker/internal/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	targets []Target
	err     error
}

func (l *fakeLister) Pages(context.Context) ([]Target, error) { return l.targets, l.err }

type fakeProber struct {
	states   map[string]PageState
	released []string
	closed   bool
}

func (p *fakeProber) Probe(_ context.Context, t Target) (PageState, error) {
	st, ok := p.states[t.ID]
	if !ok {
		return PageState{}, errors.New("no such page")
	}
	return st, nil
}

func (p *fakeProber) Release(id string) { p.released = append(p.released, id) }
func (p *fakeProber) Close() error      { p.closed = true; return nil }

type recorder struct{ calls []string }

func (r *recorder) TabActivated(_ context.Context, tab tracker.TabInfo) error {
	r.calls = append(r.calls, fmt.Sprintf("activated %d %s", tab.ID, tab.URL))
	return nil
}

func (r *recorder) TabUpdated(_ context.Context, tab tracker.TabInfo, urlChanged bool) error {
	r.calls = append(r.calls, fmt.Sprintf("updated %d %s %t", tab.ID, tab.URL, urlChanged))
	return nil
}

func (r *recorder) TabRemoved(_ context.Context, tabID int) error {
	r.calls = append(r.calls, fmt.Sprintf("removed %d", tabID))
	return nil
}

func (r *recorder) WindowFocusChanged(_ context.Context, windowID int) error {
	r.calls = append(r.calls, fmt.Sprintf("focus %d", windowID))
	return nil
}

func (r *recorder) MediaSignal(_ context.Context, tabID int, sig tracker.Signal) (tracker.Transition, error) {
	r.calls = append(r.calls, fmt.Sprintf("media %d %s %t", tabID, sig.Domain, sig.IsPlaying))
	return tracker.TransitionNoop, nil
}

func (r *recorder) take() []string {
	out := r.calls
	r.calls = nil
	return out
}

func TestParsePageState(t *testing.T) {
	st, err := ParsePageState(`{"focused":true,"visible":false,"media":[
		{"id":"m1","paused":false,"ended":false,"currentTime":12.5},
		{"paused":true},
		{"id":"m2","paused":true,"ended":true,"currentTime":60}
	]}`)
	require.NoError(t, err)
	assert.True(t, st.Focused)
	assert.False(t, st.Visible)
	assert.Equal(t, []MediaElement{
		{ID: "m1", CurrentTime: 12.5},
		{ID: "m2", Paused: true, Ended: true, CurrentTime: 60},
	}, st.Media)

	_, err = ParsePageState(`{"focused":`)
	assert.Error(t, err)
}

func TestDiffMedia(t *testing.T) {
	playing := MediaElement{ID: "m", CurrentTime: 5}
	paused := MediaElement{ID: "m", Paused: true, CurrentTime: 5}
	ended := MediaElement{ID: "m", Paused: true, Ended: true, CurrentTime: 9}

	tests := []struct {
		name string
		prev map[string]MediaElement
		cur  MediaElement
		want []ElementChange
	}{
		{"new playing element", nil, playing, []ElementChange{{"m", sensing.EventPlay}}},
		{"new paused element", nil, paused, nil},
		{"resumed", map[string]MediaElement{"m": paused}, playing, []ElementChange{{"m", sensing.EventPlay}}},
		{"paused", map[string]MediaElement{"m": playing}, paused, []ElementChange{{"m", sensing.EventPause}}},
		{"ended", map[string]MediaElement{"m": playing}, ended, []ElementChange{{"m", sensing.EventEnded}}},
		{"still ended", map[string]MediaElement{"m": ended}, ended, nil},
		{"progress", map[string]MediaElement{"m": playing}, MediaElement{ID: "m", CurrentTime: 7}, []ElementChange{{"m", sensing.EventTimeUpdate}}},
		{"stalled", map[string]MediaElement{"m": playing}, playing, nil},
		{"replay after end", map[string]MediaElement{"m": ended}, playing, []ElementChange{{"m", sensing.EventPlay}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DiffMedia(tt.prev, []MediaElement{tt.cur}))
		})
	}
}

func TestWatcher_Lifecycle(t *testing.T) {
	ctx := context.Background()
	clock := tracker.NewManualClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	lister := &fakeLister{}
	prober := &fakeProber{states: map[string]PageState{}}
	sink := &recorder{}
	w := NewWatcher(lister, prober, sink, clock, sensing.DefaultOptions(), nil)

	// A focused page starts playing.
	lister.targets = []Target{{ID: "A", URL: "https://a.com/watch"}}
	prober.states["A"] = PageState{Focused: true, Visible: true, Media: []MediaElement{{ID: "v1"}}}
	require.NoError(t, w.Poll(ctx))
	assert.Equal(t, []string{
		"updated 1 https://a.com/watch false",
		"media 1 a.com true",
		"activated 1 https://a.com/watch",
	}, sink.take())
	id, ok := w.TabID("A")
	require.True(t, ok)
	assert.Equal(t, 1, id)

	// A second page takes focus while the first pauses.
	clock.Advance(5 * time.Second)
	lister.targets = append(lister.targets, Target{ID: "B", URL: "https://b.com/"})
	prober.states["A"] = PageState{Visible: true, Media: []MediaElement{{ID: "v1", Paused: true}}}
	prober.states["B"] = PageState{Focused: true, Visible: true}
	require.NoError(t, w.Poll(ctx))
	assert.Equal(t, []string{
		"media 1 a.com false",
		"updated 2 https://b.com/ false",
		"activated 2 https://b.com/",
	}, sink.take())

	// The first page closes.
	lister.targets = lister.targets[1:]
	require.NoError(t, w.Poll(ctx))
	assert.Equal(t, []string{"removed 1"}, sink.take())
	assert.Equal(t, []string{"A"}, prober.released)

	// The focused page navigates.
	lister.targets = []Target{{ID: "B", URL: "https://c.com/"}}
	require.NoError(t, w.Poll(ctx))
	assert.Equal(t, []string{"updated 2 https://c.com/ true"}, sink.take())

	// Focus leaves the browser.
	prober.states["B"] = PageState{Visible: true}
	require.NoError(t, w.Poll(ctx))
	assert.Equal(t, []string{"focus -1"}, sink.take())
}

func TestWatcher_RemovedElementStopsPlayback(t *testing.T) {
	ctx := context.Background()
	clock := tracker.NewManualClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	lister := &fakeLister{targets: []Target{{ID: "A", URL: "https://a.com/"}}}
	prober := &fakeProber{states: map[string]PageState{
		"A": {Visible: true, Media: []MediaElement{{ID: "v1"}}},
	}}
	sink := &recorder{}
	w := NewWatcher(lister, prober, sink, clock, sensing.DefaultOptions(), nil)

	require.NoError(t, w.Poll(ctx))
	sink.take()

	prober.states["A"] = PageState{Visible: true}
	require.NoError(t, w.Poll(ctx))
	assert.Equal(t, []string{"media 1 a.com false"}, sink.take())
}

func TestWatcher_LogsPlaybackOfClosedPage(t *testing.T) {
	ctx := context.Background()
	clock := tracker.NewManualClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	lister := &fakeLister{targets: []Target{{ID: "A", URL: "https://a.com/"}}}
	prober := &fakeProber{states: map[string]PageState{
		"A": {Visible: true, Media: []MediaElement{{ID: "v1"}}},
	}}
	var buf bytes.Buffer
	w := NewWatcher(lister, prober, &recorder{}, clock, sensing.DefaultOptions(), logging.NewWriter(&buf))

	require.NoError(t, w.Poll(ctx))
	clock.Advance(3 * time.Second)
	prober.states["A"] = PageState{Visible: true, Media: []MediaElement{{ID: "v1", CurrentTime: 3}}}
	require.NoError(t, w.Poll(ctx))

	lister.targets = nil
	require.NoError(t, w.Poll(ctx))

	out := buf.String()
	assert.Contains(t, out, `"message":"page playback"`)
	assert.Contains(t, out, `"playSeconds":3`)
	assert.Contains(t, out, `"reason":"closed"`)
}

func TestWatcher_HiddenPageStopsPlayback(t *testing.T) {
	ctx := context.Background()
	clock := tracker.NewManualClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	lister := &fakeLister{targets: []Target{{ID: "A", URL: "https://a.com/"}}}
	prober := &fakeProber{states: map[string]PageState{
		"A": {Visible: true, Media: []MediaElement{{ID: "v1"}}},
	}}
	sink := &recorder{}
	w := NewWatcher(lister, prober, sink, clock, sensing.DefaultOptions(), nil)
	require.NoError(t, w.Poll(ctx))
	sink.take()

	prober.states["A"] = PageState{Visible: false, Media: []MediaElement{{ID: "v1", CurrentTime: 1}}}
	require.NoError(t, w.Poll(ctx))
	calls := sink.take()
	require.NotEmpty(t, calls)
	assert.Equal(t, "media 1 a.com false", calls[0])
}

func TestWatcher_HeartbeatOnPoll(t *testing.T) {
	ctx := context.Background()
	clock := tracker.NewManualClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	lister := &fakeLister{targets: []Target{{ID: "A", URL: "https://a.com/"}}}
	prober := &fakeProber{states: map[string]PageState{
		"A": {Visible: true, Media: []MediaElement{{ID: "v1"}}},
	}}
	sink := &recorder{}
	w := NewWatcher(lister, prober, sink, clock, sensing.DefaultOptions(), nil)
	require.NoError(t, w.Poll(ctx))
	sink.take()

	clock.Advance(3 * time.Second)
	require.NoError(t, w.Poll(ctx))
	assert.Empty(t, sink.take(), "no heartbeat before the interval")

	clock.Advance(8 * time.Second)
	require.NoError(t, w.Poll(ctx))
	assert.Equal(t, []string{"media 1 a.com true"}, sink.take())
}

func TestWatcher_ListError(t *testing.T) {
	w := NewWatcher(&fakeLister{err: errors.New("connection refused")}, &fakeProber{}, &recorder{}, nil, sensing.DefaultOptions(), nil)
	assert.Error(t, w.Poll(context.Background()))
}

func TestWatcher_RunClosesProber(t *testing.T) {
	prober := &fakeProber{states: map[string]PageState{}}
	w := NewWatcher(&fakeLister{}, prober, &recorder{}, nil, sensing.DefaultOptions(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, w.Run(ctx, time.Hour))
	assert.True(t, prober.closed)
}

func TestWatcher_DrivesEngine(t *testing.T) {
	ctx := context.Background()
	db, err := storage.Open(":memory:", "memory")
	require.NoError(t, err)
	defer db.Close()
	store, err := storage.NewSQLiteStore(db)
	require.NoError(t, err)
	defer store.Close()

	clock := tracker.NewManualClock(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	engine := tracker.NewEngine(store, clock, tracker.DefaultOptions(), nil)
	lister := &fakeLister{targets: []Target{{ID: "A", URL: "https://a.com/watch"}}}
	prober := &fakeProber{states: map[string]PageState{
		"A": {Focused: true, Visible: true, Media: []MediaElement{{ID: "v1"}}},
	}}
	w := NewWatcher(lister, prober, engine, clock, sensing.DefaultOptions(), nil)
	require.NoError(t, w.Poll(ctx))

	clock.Advance(20 * time.Second)
	lister.targets = append(lister.targets, Target{ID: "B", URL: "https://b.com/"})
	prober.states["A"] = PageState{Visible: true, Media: []MediaElement{{ID: "v1", Paused: true}}}
	prober.states["B"] = PageState{Focused: true, Visible: true}
	require.NoError(t, w.Poll(ctx))

	data, err := store.GetTrackingData(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"a.com": 20}, data.SiteTimes)
	assert.Equal(t, map[string]int64{"a.com": 20}, data.MediaTimes)
	assert.Equal(t, "b.com", engine.Snapshot().Active.Domain)
}
