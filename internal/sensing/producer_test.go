package sensing

import (
	"context"
	"testing"
	"time"

	"github.com/runnerr0/sitetracker/internal/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type recorder struct {
	signals []tracker.Signal
}

func (r *recorder) Emit(sig tracker.Signal) { r.signals = append(r.signals, sig) }

func (r *recorder) last() tracker.Signal { return r.signals[len(r.signals)-1] }

func newTestProducer(url string) (*Producer, *recorder, *tracker.ManualClock) {
	rec := &recorder{}
	clock := tracker.NewManualClock(t0)
	return NewProducer(url, rec, clock, DefaultOptions()), rec, clock
}

func TestProducer_PlayPauseEmits(t *testing.T) {
	p, rec, clock := newTestProducer("https://www.youtube.com/watch?v=abc")

	p.HandleElement("video-1", EventPlay)
	require.Len(t, rec.signals, 1)
	assert.Equal(t, tracker.Signal{
		Domain:    "www.youtube.com",
		IsPlaying: true,
		URL:       "https://www.youtube.com/watch?v=abc",
		VideoID:   "video-1",
	}, rec.last())

	clock.Advance(8 * time.Second)
	p.HandleElement("video-1", EventPause)
	require.Len(t, rec.signals, 2)
	assert.False(t, rec.last().IsPlaying)
	assert.Equal(t, int64(8), rec.last().PlayTime)
	assert.Empty(t, rec.last().VideoID)
}

func TestProducer_FirstToPlayWins(t *testing.T) {
	p, rec, clock := newTestProducer("https://v.example/page")

	p.HandleElement("a", EventPlay)
	p.HandleElement("b", EventPlay) // second element: no new stream
	require.Len(t, rec.signals, 1)

	clock.Advance(3 * time.Second)
	p.HandleElement("b", EventPause) // not the tracked element
	require.Len(t, rec.signals, 1)

	id, playing := p.Tracked()
	assert.Equal(t, "a", id)
	assert.True(t, playing)

	p.HandleElement("a", EventEnded)
	require.Len(t, rec.signals, 2)
	assert.False(t, rec.last().IsPlaying)

	// With a stopped, b can take over on its next play.
	p.HandleElement("b", EventPlay)
	require.Len(t, rec.signals, 3)
	assert.Equal(t, "b", rec.last().VideoID)
}

func TestProducer_HeartbeatTick(t *testing.T) {
	p, rec, clock := newTestProducer("https://v.example/")

	p.Tick()
	assert.Empty(t, rec.signals, "nothing playing, nothing sent")

	p.HandleElement("a", EventPlay)
	clock.Advance(5 * time.Second)
	p.Tick()
	require.Len(t, rec.signals, 1, "heartbeat waits for the interval")

	clock.Advance(5 * time.Second)
	p.Tick()
	require.Len(t, rec.signals, 2)
	assert.True(t, rec.last().IsPlaying)
	assert.Equal(t, int64(10), rec.last().PlayTime)
}

func TestProducer_LargeGapNotAccumulated(t *testing.T) {
	p, rec, clock := newTestProducer("https://v.example/")

	p.HandleElement("a", EventPlay)
	clock.Advance(45 * time.Second) // laptop lid closed
	p.Tick()
	assert.Equal(t, int64(0), rec.last().PlayTime)

	clock.Advance(10 * time.Second)
	p.Tick()
	assert.Equal(t, int64(10), rec.last().PlayTime)
}

func TestProducer_TimeUpdateThrottledAndSeekResets(t *testing.T) {
	p, _, clock := newTestProducer("https://v.example/")

	p.HandleElement("a", EventPlay)
	clock.Advance(3 * time.Second)
	p.HandleElement("a", EventTimeUpdate)
	assert.Equal(t, int64(3), p.PlaySeconds())

	clock.Advance(1 * time.Second)
	p.HandleElement("a", EventTimeUpdate) // within throttle window
	assert.Equal(t, int64(3), p.PlaySeconds())

	clock.Advance(1 * time.Second)
	p.HandleElement("a", EventSeeked) // reference moves, nothing credited
	clock.Advance(2 * time.Second)
	p.HandleElement("a", EventTimeUpdate)
	assert.Equal(t, int64(5), p.PlaySeconds())
}

func TestProducer_Visibility(t *testing.T) {
	p, rec, clock := newTestProducer("https://v.example/")

	p.HandleElement("a", EventPlay)
	clock.Advance(4 * time.Second)

	p.SetVisible(false)
	require.Len(t, rec.signals, 2)
	assert.False(t, rec.last().IsPlaying)
	assert.Equal(t, int64(4), rec.last().PlayTime)

	// Hidden again while stopped: nothing to send.
	p.SetVisible(false)
	require.Len(t, rec.signals, 2)

	clock.Advance(60 * time.Second)
	p.SetVisible(true)
	require.Len(t, rec.signals, 3)
	assert.True(t, rec.last().IsPlaying)
	assert.Equal(t, "a", rec.last().VideoID)
}

func TestProducer_VisibleWithNothingPlaying(t *testing.T) {
	p, rec, _ := newTestProducer("https://v.example/")

	p.HandleElement("a", EventPlay)
	p.HandleElement("a", EventPause)
	p.SetVisible(true)

	assert.Len(t, rec.signals, 2)
}

func TestProducer_NoDomainEmitsNothing(t *testing.T) {
	p, rec, _ := newTestProducer("about:blank")

	p.HandleElement("a", EventPlay)
	assert.Empty(t, rec.signals)
	_, playing := p.Tracked()
	assert.True(t, playing)
}

func TestProducer_NavigateResets(t *testing.T) {
	p, rec, clock := newTestProducer("https://v.example/one")

	p.HandleElement("a", EventPlay)
	clock.Advance(5 * time.Second)
	p.Navigate("https://w.example/two")

	_, playing := p.Tracked()
	assert.False(t, playing)
	assert.Equal(t, int64(0), p.PlaySeconds())

	p.HandleElement("b", EventPlay)
	assert.Equal(t, "w.example", rec.last().Domain)
}

func TestProducer_Forget(t *testing.T) {
	p, rec, _ := newTestProducer("https://v.example/")

	p.HandleElement("a", EventPlay)
	p.SetVisible(false)
	p.Forget("a")
	p.SetVisible(true)

	assert.Len(t, rec.signals, 2, "forgotten element cannot resume the stream")
}

func TestElementEventString(t *testing.T) {
	assert.Equal(t, "ratechange", EventRateChange.String())
	assert.Equal(t, "unknown", ElementEvent(99).String())
}

func TestProducer_DrivesEngine(t *testing.T) {
	clock := tracker.NewManualClock(t0)
	sink := &mediaSink{media: map[string]int64{}}
	opts := tracker.DefaultOptions()
	opts.StopFromLastUpdate = true
	engine := tracker.NewEngine(sink, clock, opts, nil)
	ctx := context.Background()

	const tabID = 7
	p := NewProducer("https://v.example/watch", EmitterFunc(func(sig tracker.Signal) {
		_, err := engine.MediaSignal(ctx, tabID, sig)
		require.NoError(t, err)
	}), clock, DefaultOptions())

	p.HandleElement("a", EventPlay)
	clock.Advance(10 * time.Second)
	p.Tick() // heartbeat credits 10
	clock.Advance(6 * time.Second)
	p.HandleElement("a", EventPause) // stop credits the remaining 6

	assert.Equal(t, int64(16), sink.media["v.example"])
}

type mediaSink struct {
	media map[string]int64
}

func (s *mediaSink) AddSiteTime(context.Context, string, int64) error { return nil }

func (s *mediaSink) AddMediaTime(_ context.Context, domain string, seconds int64) error {
	s.media[domain] += seconds
	return nil
}
