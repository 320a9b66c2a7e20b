package player

import "github.com/gachaboo/miu/internal/domain/track"

// Engine is the playback engine driven by the orchestrator. It owns the
// timing of the current track and reports completion and failure through
// the registered callbacks. Implementations must be safe for concurrent
// use.
type Engine interface {
	// Play starts the given track, replacing whatever was active.
	Play(item track.QueueItem) error
	// Pause suspends the current track. Idempotent.
	Pause() error
	// Resume continues a paused track. Idempotent.
	Resume() error
	// Stop ends the current track. The end callback fires as for a
	// natural completion so the orchestration loop advances.
	Stop()
	// SetVolume applies the output volume in [0,1].
	SetVolume(v float64)
	// Status reports the engine status.
	Status() Status
	// PositionMs reports the playback position of the current track.
	PositionMs() int64

	// OnTrackEnd registers the completion callback. Pass nil to detach.
	OnTrackEnd(fn func(item track.QueueItem))
	// OnError registers the failure callback. Pass nil to detach.
	OnError(fn func(item track.QueueItem, err error))
}
