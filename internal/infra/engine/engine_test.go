package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gachaboo/miu/internal/app/player"
	"github.com/gachaboo/miu/internal/domain/track"
)

func timedItem(title string, d time.Duration) track.QueueItem {
	return track.QueueItem{
		ContentID:   "spotify:track:" + title,
		Title:       title,
		Artists:     []string{"Tester"},
		Duration:    d,
		RequestedAt: time.Now(),
	}
}

// endRecorder captures end callback invocations.
type endRecorder struct {
	mu    sync.Mutex
	items []track.QueueItem
}

func (r *endRecorder) callback() func(track.QueueItem) {
	return func(item track.QueueItem) {
		r.mu.Lock()
		r.items = append(r.items, item)
		r.mu.Unlock()
	}
}

func (r *endRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

func (r *endRecorder) last() track.QueueItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.items[len(r.items)-1]
}

func TestPlayTimesOutTrack(t *testing.T) {
	e := New(Config{})
	rec := &endRecorder{}
	e.OnTrackEnd(rec.callback())

	item := timedItem("short", 250*time.Millisecond)
	require.NoError(t, e.Play(item))
	assert.Equal(t, player.StatusPlaying, e.Status())

	require.Eventually(t, func() bool {
		return rec.count() == 1
	}, 3*time.Second, 20*time.Millisecond)

	assert.Equal(t, item.ContentID, rec.last().ContentID)
	assert.Equal(t, player.StatusIdle, e.Status())
	assert.EqualValues(t, 0, e.PositionMs())
}

func TestStopCompletesImmediately(t *testing.T) {
	e := New(Config{})
	rec := &endRecorder{}
	e.OnTrackEnd(rec.callback())

	item := timedItem("long", time.Hour)
	require.NoError(t, e.Play(item))

	e.Stop()
	assert.Equal(t, 1, rec.count())
	assert.Equal(t, item.ContentID, rec.last().ContentID)
	assert.Equal(t, player.StatusIdle, e.Status())

	// Stopping again is a no-op.
	e.Stop()
	assert.Equal(t, 1, rec.count())
}

func TestStopWithDetachedCallback(t *testing.T) {
	e := New(Config{})
	rec := &endRecorder{}
	e.OnTrackEnd(rec.callback())
	require.NoError(t, e.Play(timedItem("quiet", time.Hour)))

	e.OnTrackEnd(nil)
	e.Stop()

	assert.Equal(t, 0, rec.count())
	assert.Equal(t, player.StatusIdle, e.Status())
}

func TestReplacingTrackDropsStaleTimer(t *testing.T) {
	e := New(Config{})
	rec := &endRecorder{}
	e.OnTrackEnd(rec.callback())

	require.NoError(t, e.Play(timedItem("first", 150*time.Millisecond)))
	next := timedItem("second", time.Hour)
	require.NoError(t, e.Play(next))

	// Well past the first track's scheduled end.
	time.Sleep(600 * time.Millisecond)
	assert.Equal(t, 0, rec.count())
	assert.Equal(t, player.StatusPlaying, e.Status())

	e.Stop()
	require.Equal(t, 1, rec.count())
	assert.Equal(t, next.ContentID, rec.last().ContentID)
}

func TestPauseFreezesPosition(t *testing.T) {
	e := New(Config{})
	require.NoError(t, e.Play(timedItem("frozen", 5*time.Second)))

	time.Sleep(150 * time.Millisecond)
	require.NoError(t, e.Pause())
	assert.Equal(t, player.StatusPaused, e.Status())

	p1 := e.PositionMs()
	assert.Positive(t, p1)

	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, p1, e.PositionMs())

	require.NoError(t, e.Resume())
	require.Eventually(t, func() bool {
		return e.PositionMs() > p1
	}, 3*time.Second, 20*time.Millisecond)

	e.Stop()
}

func TestPauseCancelsEndTimer(t *testing.T) {
	e := New(Config{})
	rec := &endRecorder{}
	e.OnTrackEnd(rec.callback())

	require.NoError(t, e.Play(timedItem("held", 200*time.Millisecond)))
	require.NoError(t, e.Pause())

	// Well past the track's length: paused tracks never end.
	time.Sleep(600 * time.Millisecond)
	assert.Equal(t, 0, rec.count())

	require.NoError(t, e.Resume())
	require.Eventually(t, func() bool {
		return rec.count() == 1
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, player.StatusIdle, e.Status())
}

func TestPauseResumeGuards(t *testing.T) {
	e := New(Config{})
	require.ErrorIs(t, e.Pause(), ErrNoTrack)
	require.ErrorIs(t, e.Resume(), ErrNoTrack)

	require.NoError(t, e.Play(timedItem("steady", time.Hour)))

	require.NoError(t, e.Pause())
	require.NoError(t, e.Pause())
	assert.Equal(t, player.StatusPaused, e.Status())

	require.NoError(t, e.Resume())
	require.NoError(t, e.Resume())
	assert.Equal(t, player.StatusPlaying, e.Status())

	e.Stop()
}

func TestGapCorrectionHoldsPositionAtZero(t *testing.T) {
	e := New(Config{GapCorrection: 300 * time.Millisecond})
	require.NoError(t, e.Play(timedItem("gapped", 5*time.Second)))

	assert.EqualValues(t, 0, e.PositionMs())
	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 0, e.PositionMs())

	require.Eventually(t, func() bool {
		return e.PositionMs() > 0
	}, 3*time.Second, 20*time.Millisecond)

	e.Stop()
}

func TestPlayRejectsMissingDuration(t *testing.T) {
	e := New(Config{})
	rec := &endRecorder{}
	e.OnTrackEnd(rec.callback())

	err := e.Play(timedItem("broken", 0))
	require.Error(t, err)
	assert.Equal(t, player.StatusIdle, e.Status())
	assert.Equal(t, 0, rec.count())
}

func TestVolumeStored(t *testing.T) {
	e := New(Config{})
	assert.InDelta(t, 1.0, e.Volume(), 0.0001)
	e.SetVolume(0.3)
	assert.InDelta(t, 0.3, e.Volume(), 0.0001)
}
