// Package engine times tracks against the wall clock. The service does
// not move audio itself: connected clients render the current track, and
// the engine decides when it is over so the orchestration loop can
// advance in lockstep with what listeners hear.
package engine

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/gachaboo/miu/internal/app/player"
	"github.com/gachaboo/miu/internal/domain/track"
)

// ErrNoTrack is returned by Pause and Resume when nothing is loaded.
var ErrNoTrack = errors.New("no track loaded")

// tickInterval is how often the end timer compares against the wall
// clock. Ticking instead of a single time.After keeps the timer honest
// across suspend/resume of the host.
const tickInterval = 100 * time.Millisecond

// Config holds engine tuning.
type Config struct {
	// GapCorrection shifts the scheduled start slightly into the future
	// to absorb client-side buffering, so the timed end lines up with
	// the audible end.
	GapCorrection time.Duration
}

// Engine is the wall-clock playback engine. It implements player.Engine.
type Engine struct {
	mu sync.Mutex

	cfg Config

	current       *track.QueueItem
	status        player.Status
	startTime     time.Time
	pausedAt      time.Time
	pausedElapsed time.Duration
	volume        float64

	// playbackID changes on every transition that invalidates pending
	// timers, so a stale timer callback can recognize itself.
	playbackID  uint64
	timerCancel func()

	onEnd   func(item track.QueueItem)
	onError func(item track.QueueItem, err error)
}

var _ player.Engine = (*Engine)(nil)

// New creates an idle engine.
func New(cfg Config) *Engine {
	return &Engine{
		cfg:    cfg,
		status: player.StatusIdle,
		volume: 1.0,
	}
}

// Play starts timing the given track, replacing whatever was active.
// The previous track's timer is cancelled without firing its callback.
func (e *Engine) Play(item track.QueueItem) error {
	if item.Duration <= 0 {
		return errors.Newf("track has no duration: %s", item.Title)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.cancelTimerLocked()
	e.playbackID++

	it := item
	e.current = &it
	e.status = player.StatusPlaying
	e.pausedAt = time.Time{}
	e.pausedElapsed = 0

	// The gap shifts the start into the future; the end timer covers
	// duration plus gap so both line up.
	start := toWallTime(time.Now())
	if e.cfg.GapCorrection > 0 {
		start = start.Add(e.cfg.GapCorrection)
	}
	e.startTime = start
	e.startTimerLocked(item.Duration + e.cfg.GapCorrection)

	zlog.Debug().Msgf("engine: track started: title=%s duration=%v gap=%v",
		item.Title, item.Duration, e.cfg.GapCorrection)
	return nil
}

// Pause freezes the clock for the current track. Pausing a paused track
// is a no-op.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil {
		return ErrNoTrack
	}
	if e.status == player.StatusPaused {
		return nil
	}

	e.cancelTimerLocked()

	now := toWallTime(time.Now())
	// Pausing inside the gap window: fold the unplayed delay into the
	// pause bookkeeping so position stays at zero.
	if now.Before(e.startTime) {
		e.pausedElapsed += e.startTime.Sub(now)
		e.startTime = now
	}
	e.pausedAt = now
	e.status = player.StatusPaused

	zlog.Debug().Msgf("engine: paused: title=%s position=%dms", e.current.Title, e.positionMsLocked(now))
	return nil
}

// Resume restarts the clock where Pause left it. Resuming a playing
// track is a no-op.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil {
		return ErrNoTrack
	}
	if e.status == player.StatusPlaying {
		return nil
	}

	now := toWallTime(time.Now())
	if !e.pausedAt.IsZero() {
		e.pausedElapsed += now.Sub(e.pausedAt)
	}
	e.pausedAt = time.Time{}
	e.status = player.StatusPlaying

	// A track that ran out while frozen ends through the timer path, so
	// the completion callback never fires on the resuming goroutine.
	remaining := e.remainingLocked(now)
	if remaining < 0 {
		remaining = 0
	}
	e.startTimerLocked(remaining)

	zlog.Debug().Msgf("engine: resumed: title=%s remaining=%v", e.current.Title, remaining)
	return nil
}

// Stop ends the current track and fires the end callback as for a
// natural completion. Stopping an idle engine is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.current == nil {
		e.mu.Unlock()
		return
	}
	title := e.current.Title
	item, fn := e.finishLocked()
	e.mu.Unlock()

	zlog.Debug().Msgf("engine: stopped: title=%s", title)
	if fn != nil {
		fn(item)
	}
}

// SetVolume records the output volume. Timing is unaffected; the value
// is carried for clients.
func (e *Engine) SetVolume(v float64) {
	e.mu.Lock()
	e.volume = v
	e.mu.Unlock()
}

// Volume returns the last volume set.
func (e *Engine) Volume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

// Status reports the engine status.
func (e *Engine) Status() player.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// PositionMs reports the elapsed playback time of the current track,
// zero when idle or still inside the gap window.
func (e *Engine) PositionMs() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positionMsLocked(toWallTime(time.Now()))
}

// OnTrackEnd registers the completion callback. Pass nil to detach.
func (e *Engine) OnTrackEnd(fn func(item track.QueueItem)) {
	e.mu.Lock()
	e.onEnd = fn
	e.mu.Unlock()
}

// OnError registers the failure callback. Pass nil to detach. The
// wall-clock engine fails only at Play time, so the callback is held
// for interface symmetry and never fired.
func (e *Engine) OnError(fn func(item track.QueueItem, err error)) {
	e.mu.Lock()
	e.onError = fn
	e.mu.Unlock()
}

func (e *Engine) positionMsLocked(now time.Time) int64 {
	if e.current == nil {
		return 0
	}
	if now.Before(e.startTime) {
		return 0
	}
	elapsed := now.Sub(e.startTime) - e.pausedElapsed
	if e.status == player.StatusPaused && !e.pausedAt.IsZero() {
		elapsed -= now.Sub(e.pausedAt)
	}
	if elapsed < 0 {
		return 0
	}
	if elapsed > e.current.Duration {
		elapsed = e.current.Duration
	}
	return elapsed.Milliseconds()
}

func (e *Engine) remainingLocked(now time.Time) time.Duration {
	if e.current == nil {
		return 0
	}
	if now.Before(e.startTime) {
		return e.current.Duration
	}
	elapsed := now.Sub(e.startTime) - e.pausedElapsed
	return e.current.Duration - elapsed
}

// finishLocked clears the current track and returns it together with
// the end callback. The caller must release the lock before invoking
// the callback, which re-enters the engine to start the next track.
func (e *Engine) finishLocked() (track.QueueItem, func(item track.QueueItem)) {
	e.cancelTimerLocked()
	e.playbackID++

	item := *e.current
	fn := e.onEnd

	e.current = nil
	e.status = player.StatusIdle
	e.pausedAt = time.Time{}
	e.pausedElapsed = 0

	return item, fn
}

func (e *Engine) startTimerLocked(d time.Duration) {
	e.cancelTimerLocked()
	id := e.playbackID
	e.timerCancel = startWallClockTimer(d, func() {
		e.handleTimerFired(id)
	})
}

func (e *Engine) cancelTimerLocked() {
	if e.timerCancel != nil {
		e.timerCancel()
		e.timerCancel = nil
	}
}

func (e *Engine) handleTimerFired(id uint64) {
	e.mu.Lock()
	// A pause that raced the expiry wins: the track stays frozen near
	// its end and Resume completes it.
	if e.playbackID != id || e.current == nil || e.status != player.StatusPlaying {
		e.mu.Unlock()
		return
	}

	now := toWallTime(time.Now())
	zlog.Debug().Msgf("engine: track ended: title=%s duration=%v elapsed=%v",
		e.current.Title, e.current.Duration, now.Sub(e.startTime)-e.pausedElapsed)

	item, fn := e.finishLocked()
	e.mu.Unlock()

	if fn != nil {
		fn(item)
	}
}

// startWallClockTimer triggers callback once duration has elapsed on the
// wall clock and returns a cancel function. A ticker compared against an
// end time stands in for time.After, which runs on the monotonic clock
// and drifts from real time when the host sleeps.
func startWallClockTimer(duration time.Duration, callback func()) func() {
	done := make(chan struct{})
	var once sync.Once
	cancel := func() { once.Do(func() { close(done) }) }

	go func() {
		endTime := toWallTime(time.Now()).Add(duration)
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if toWallTime(time.Now()).After(endTime) {
					callback()
					return
				}
			}
		}
	}()

	return cancel
}

// toWallTime strips the monotonic clock reading so differences are
// computed in wall time.
func toWallTime(t time.Time) time.Time {
	return time.Unix(t.Unix(), int64(t.Nanosecond()))
}
