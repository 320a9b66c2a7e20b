// Package orchestrator coordinates the playback loop: it is the only
// writer of the player state and the track queue, sequencing user
// requests, autoplay refills, and engine callbacks into one flow.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/gachaboo/miu/internal/app/player"
	"github.com/gachaboo/miu/internal/app/queue"
	"github.com/gachaboo/miu/internal/domain/track"
)

// Rejection codes returned in Result.Code. The API layer maps them to
// operator-facing messages.
const (
	CodeTrackNotFound     = "track_not_found"
	CodeQueueLimitReached = "queue_limit_reached"
	CodeRecentlyPlayed    = "recently_played"
	CodeNothingPlaying    = "nothing_playing"
	CodeInvalidPosition   = "invalid_position"
	CodeInvalidVolume     = "invalid_volume"
	CodeInternalError     = "internal_error"
)

// Result is the outcome envelope of a direct command. Commands report
// rejections through Code instead of returning errors; only the queued
// item and position are populated by Play.
type Result struct {
	Success  bool
	Code     string
	Item     *track.QueueItem
	Position int
}

func accepted() Result {
	return Result{Success: true}
}

func rejected(code string) Result {
	return Result{Success: false, Code: code}
}

// Resolver turns a content reference (id, URL, or search text) into a
// playable queue item.
type Resolver interface {
	Resolve(ctx context.Context, contentRef, sourceHint string) (*track.QueueItem, error)
}

// HistoryStore records playback history and play/skip counters.
type HistoryStore interface {
	RecordPlayed(ctx context.Context, item track.QueueItem) error
	RecordSkipped(ctx context.Context, item track.QueueItem) error
	RecordCompleted(ctx context.Context, item track.QueueItem) error
}

// Autoplayer keeps the autoplay sub-queue filled and owns the cooldown
// ledger.
type Autoplayer interface {
	Fill(ctx context.Context)
	PutOnCooldown(ctx context.Context, item track.QueueItem)
}

// Notifier broadcasts queue changes to connected listeners. Player state
// changes are broadcast separately through the state's change hook.
type Notifier interface {
	PublishQueue(items []track.QueueItem)
}

// PresenceSink receives the remote-listener presence signal.
type PresenceSink interface {
	SetRemotePresence(present bool)
}

// Config holds the orchestrator tuning knobs.
type Config struct {
	// MaxConsecutiveFailures caps how many tracks in a row may fail to
	// start before playback gives up and goes idle.
	MaxConsecutiveFailures int
}

// PlayRequest carries one play command.
type PlayRequest struct {
	ContentRef string
	SourceHint string
	Requester  track.Requester
	// Override bypasses the recently-played rejection.
	Override bool
}

// Orchestrator sequences all playback mutations. Engine callbacks,
// presence transitions, and direct commands are serialized behind one
// mutex; background I/O (history writes, buffer fills) runs detached.
type Orchestrator struct {
	cfg      Config
	engine   player.Engine
	state    *player.State
	queue    *queue.Queue
	autoplay Autoplayer
	resolver Resolver
	history  HistoryStore
	notifier Notifier

	mu                  sync.Mutex
	presence            PresenceSink
	manualPause         bool
	autoPaused          bool
	skipRequested       string
	consecutiveFailures int
	closed              bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New wires the orchestrator to its collaborators and registers the
// engine callbacks. notifier may be nil.
func New(cfg Config, engine player.Engine, st *player.State, q *queue.Queue, ap Autoplayer, res Resolver, hist HistoryStore, notif Notifier) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:      cfg,
		engine:   engine,
		state:    st,
		queue:    q,
		autoplay: ap,
		resolver: res,
		history:  hist,
		notifier: notif,
		ctx:      ctx,
		cancel:   cancel,
	}
	engine.OnTrackEnd(o.handleTrackEnd)
	engine.OnError(o.handleEngineError)
	return o
}

// AttachPresence wires the connection supervisor's presence input so the
// remote-listener signal can be forwarded.
func (o *Orchestrator) AttachPresence(sink PresenceSink) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.presence = sink
}

// Close detaches the engine callbacks and stops background work. The
// engine is stopped without advancing to another track.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()

	o.cancel()
	o.engine.OnTrackEnd(nil)
	o.engine.OnError(nil)
	o.engine.Stop()
	zlog.Info().Msg("orchestrator: closed")
}

// Play resolves the requested content, queues it, and starts playback if
// nothing is playing.
func (o *Orchestrator) Play(ctx context.Context, req PlayRequest) Result {
	item, err := o.resolver.Resolve(ctx, req.ContentRef, req.SourceHint)
	if err != nil {
		zlog.Warn().Msgf("orchestrator: resolve failed: content_ref=%s error=%v", req.ContentRef, err)
		return rejected(CodeTrackNotFound)
	}

	item.RequestedBy = req.Requester
	item.RequestedAt = time.Now()
	item.IsAutoplay = false
	item.AutoplaySource = track.SourceNone

	pos, err := o.queue.AddTrack(*item, req.Override)
	if err != nil {
		code := CodeInternalError
		switch {
		case errors.Is(err, queue.ErrQueueLimitReached):
			code = CodeQueueLimitReached
		case errors.Is(err, queue.ErrRecentlyPlayed):
			code = CodeRecentlyPlayed
		}
		zlog.Info().Msgf("orchestrator: request rejected: title=%s requester=%s code=%s", item.Title, req.Requester.DisplayName, code)
		return rejected(code)
	}

	zlog.Info().Msgf("orchestrator: track queued: title=%s requester=%s position=%d", item.Title, req.Requester.DisplayName, pos)
	o.notifyQueue()

	if o.state.Status() == player.StatusIdle {
		go func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			if !o.closed && o.state.Status() == player.StatusIdle {
				o.playNextLocked()
			}
		}()
	}

	return Result{Success: true, Item: item, Position: pos}
}

// Skip ends the current track early. The engine's end callback advances
// to the next track, so the queue transition happens exactly once.
func (o *Orchestrator) Skip(ctx context.Context) Result {
	o.mu.Lock()
	current := o.state.CurrentTrack()
	if current == nil {
		o.mu.Unlock()
		return rejected(CodeNothingPlaying)
	}
	o.skipRequested = current.Key()
	o.mu.Unlock()

	zlog.Info().Msgf("orchestrator: skipping track: title=%s", current.Title)
	o.recordAsync(func(ctx context.Context) error {
		return o.history.RecordSkipped(ctx, *current)
	})
	o.autoplay.PutOnCooldown(ctx, *current)

	o.engine.Stop()
	return accepted()
}

// Pause suspends playback on operator request, suppressing automatic
// presence-driven transitions until Resume.
func (o *Orchestrator) Pause(_ context.Context) Result {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.state.Status() {
	case player.StatusIdle:
		return rejected(CodeNothingPlaying)
	case player.StatusPaused:
		o.manualPause = true
		o.autoPaused = false
		return accepted()
	}

	if err := o.engine.Pause(); err != nil {
		zlog.Error().Msgf("orchestrator: pause failed: error=%v", err)
		return rejected(CodeInternalError)
	}
	o.manualPause = true
	o.autoPaused = false
	o.state.SetPaused()
	zlog.Info().Msg("orchestrator: paused by operator")
	return accepted()
}

// Resume continues paused playback and clears the manual-pause override.
func (o *Orchestrator) Resume(_ context.Context) Result {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.state.Status() {
	case player.StatusIdle:
		return rejected(CodeNothingPlaying)
	case player.StatusPlaying:
		o.manualPause = false
		return accepted()
	}

	if err := o.engine.Resume(); err != nil {
		zlog.Error().Msgf("orchestrator: resume failed: error=%v", err)
		return rejected(CodeInternalError)
	}
	o.manualPause = false
	o.autoPaused = false
	o.state.SetResumed()
	zlog.Info().Msg("orchestrator: resumed by operator")
	return accepted()
}

// SetVolume applies a new output volume.
func (o *Orchestrator) SetVolume(_ context.Context, v float64) Result {
	if v < 0 || v > 1 {
		return rejected(CodeInvalidVolume)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.engine.SetVolume(v)
	o.state.SetVolume(v)
	return accepted()
}

// SetAutoplay toggles autoplay refilling. Enabling it while idle kicks
// off a fill so playback restarts without further input.
func (o *Orchestrator) SetAutoplay(_ context.Context, enabled bool) Result {
	o.mu.Lock()
	o.state.SetAutoplayEnabled(enabled)
	idle := o.state.Status() == player.StatusIdle
	o.mu.Unlock()

	zlog.Info().Msgf("orchestrator: autoplay toggled: enabled=%t", enabled)
	if enabled && idle {
		go o.refillAndContinue()
	}
	return accepted()
}

// SetActivePlaylist records which curated playlist autoplay should draw
// from. An empty id clears the selection.
func (o *Orchestrator) SetActivePlaylist(_ context.Context, id string) Result {
	o.mu.Lock()
	o.state.SetActivePlaylistID(id)
	o.mu.Unlock()
	zlog.Info().Msgf("orchestrator: active playlist changed: playlist_id=%s", id)
	return accepted()
}

// RemoveFromQueue removes the item at the given combined-queue position.
func (o *Orchestrator) RemoveFromQueue(_ context.Context, pos int) Result {
	removed, err := o.queue.RemoveAt(pos)
	if err != nil {
		return rejected(CodeInvalidPosition)
	}
	zlog.Info().Msgf("orchestrator: removed from queue: title=%s position=%d", removed.Title, pos)
	o.notifyQueue()
	return Result{Success: true, Item: removed, Position: pos}
}

// ClearQueue drops every queued item. The current track keeps playing.
func (o *Orchestrator) ClearQueue(_ context.Context) Result {
	removed := o.queue.Clear()
	zlog.Info().Msgf("orchestrator: queue cleared: removed=%d", removed)
	o.notifyQueue()
	return accepted()
}

// SetRemotePresence forwards the remote-listener presence signal to the
// connection supervisor.
func (o *Orchestrator) SetRemotePresence(present bool) {
	o.mu.Lock()
	sink := o.presence
	o.mu.Unlock()
	if sink != nil {
		sink.SetRemotePresence(present)
	}
}

// GetState returns a point-in-time snapshot of the player state.
func (o *Orchestrator) GetState() player.Snapshot {
	return o.state.Snapshot()
}

// GetQueue returns the combined queue in play order.
func (o *Orchestrator) GetQueue() []track.QueueItem {
	return o.queue.Items()
}

// GetCurrentTrack returns the playing track, nil when idle.
func (o *Orchestrator) GetCurrentTrack() *track.QueueItem {
	return o.state.CurrentTrack()
}

// GetPosition returns the playback position within the current track.
func (o *Orchestrator) GetPosition() time.Duration {
	return time.Duration(o.engine.PositionMs()) * time.Millisecond
}

func (o *Orchestrator) notifyQueue() {
	if o.notifier == nil {
		return
	}
	o.notifier.PublishQueue(o.queue.Items())
}

// recordAsync runs a history write in the background. Persistence
// failures are logged, never surfaced to the command path.
func (o *Orchestrator) recordAsync(fn func(ctx context.Context) error) {
	if o.history == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(o.ctx, 10*time.Second)
		defer cancel()
		if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			zlog.Error().Msgf("orchestrator: history write failed: error=%v", err)
		}
	}()
}
