package orchestrator

import (
	"context"

	zlog "github.com/rs/zerolog/log"

	"github.com/gachaboo/miu/internal/app/player"
	"github.com/gachaboo/miu/internal/domain/track"
)

// playNextLocked advances playback to the next queued track. Must be
// called with o.mu held. It loops instead of recursing so a run of
// failing tracks cannot grow the stack, and gives up after the
// consecutive-failure cap.
func (o *Orchestrator) playNextLocked() {
	for {
		next := o.queue.NextTrack()
		if next == nil {
			o.state.SetIdle()
			autoplayOn := o.state.AutoplayEnabled()
			zlog.Info().Msgf("orchestrator: queue empty, going idle: autoplay=%t", autoplayOn)
			go o.notifyQueue()
			if autoplayOn && !o.closed {
				go o.refillAndContinue()
			}
			return
		}

		if next.IsAutoplay {
			o.autoplay.PutOnCooldown(o.ctx, *next)
		}

		o.state.SetPlaying(*next)
		if err := o.engine.Play(*next); err != nil {
			o.consecutiveFailures++
			zlog.Error().Msgf("orchestrator: track failed to start: title=%s error=%v failures=%d", next.Title, err, o.consecutiveFailures)
			item := *next
			o.recordAsync(func(ctx context.Context) error {
				return o.history.RecordSkipped(ctx, item)
			})
			if o.consecutiveFailures >= o.cfg.MaxConsecutiveFailures {
				zlog.Error().Msgf("orchestrator: giving up after consecutive failures: failures=%d", o.consecutiveFailures)
				o.consecutiveFailures = 0
				o.state.SetIdle()
				return
			}
			continue
		}

		zlog.Info().Msgf("orchestrator: now playing: title=%s artist=%s autoplay=%t", next.Title, next.ArtistLine(), next.IsAutoplay)
		item := *next
		o.recordAsync(func(ctx context.Context) error {
			return o.history.RecordPlayed(ctx, item)
		})
		go o.notifyQueue()
		if o.state.AutoplayEnabled() {
			go o.autoplay.Fill(o.ctx)
		}
		return
	}
}

// handleTrackEnd is the engine's completion callback, fired for natural
// ends and for stops issued by Skip.
func (o *Orchestrator) handleTrackEnd(item track.QueueItem) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}

	current := o.state.CurrentTrack()
	if current == nil || current.Key() != item.Key() {
		// Stale callback from a track that was already replaced.
		return
	}

	wasSkipped := o.skipRequested == item.Key()
	o.skipRequested = ""

	if wasSkipped {
		zlog.Debug().Msgf("orchestrator: track skipped: title=%s", item.Title)
	} else {
		zlog.Info().Msgf("orchestrator: track finished: title=%s", item.Title)
		o.consecutiveFailures = 0
		o.recordAsync(func(ctx context.Context) error {
			return o.history.RecordCompleted(ctx, item)
		})
		o.autoplay.PutOnCooldown(o.ctx, item)
	}

	o.playNextLocked()
}

// handleEngineError is the engine's failure callback. The failing track
// is written off and playback advances, bounded by the same
// consecutive-failure cap as start failures.
func (o *Orchestrator) handleEngineError(item track.QueueItem, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}

	current := o.state.CurrentTrack()
	if current == nil || current.Key() != item.Key() {
		return
	}

	o.consecutiveFailures++
	zlog.Error().Msgf("orchestrator: engine error, advancing: title=%s error=%v failures=%d", item.Title, err, o.consecutiveFailures)

	o.recordAsync(func(ctx context.Context) error {
		return o.history.RecordSkipped(ctx, item)
	})
	o.autoplay.PutOnCooldown(o.ctx, item)

	if o.consecutiveFailures >= o.cfg.MaxConsecutiveFailures {
		zlog.Error().Msgf("orchestrator: giving up after consecutive failures: failures=%d", o.consecutiveFailures)
		o.consecutiveFailures = 0
		o.state.SetIdle()
		return
	}

	o.playNextLocked()
}

// refillAndContinue runs a buffer fill and, if playback is still idle
// and the fill produced something, starts it.
func (o *Orchestrator) refillAndContinue() {
	o.autoplay.Fill(o.ctx)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	if o.state.Status() == player.StatusIdle && o.queue.Len() > 0 {
		o.playNextLocked()
	}
}

// AutoPause pauses playback on behalf of the presence logic. Never
// overrides an operator pause.
func (o *Orchestrator) AutoPause() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.manualPause || o.state.Status() != player.StatusPlaying {
		return false
	}
	if err := o.engine.Pause(); err != nil {
		zlog.Warn().Msgf("orchestrator: auto pause failed: error=%v", err)
		return false
	}
	o.autoPaused = true
	o.state.SetPaused()
	return true
}

// AutoResume resumes playback paused by AutoPause. A manual pause stays
// paused until the operator resumes.
func (o *Orchestrator) AutoResume() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.manualPause || !o.autoPaused || o.state.Status() != player.StatusPaused {
		return false
	}
	if err := o.engine.Resume(); err != nil {
		zlog.Warn().Msgf("orchestrator: auto resume failed: error=%v", err)
		return false
	}
	o.autoPaused = false
	o.state.SetResumed()
	return true
}

// Playing reports whether a track is actively playing.
func (o *Orchestrator) Playing() bool {
	return o.state.Status() == player.StatusPlaying
}

// ManuallyPaused reports whether the operator paused playback explicitly.
func (o *Orchestrator) ManuallyPaused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.manualPause
}
