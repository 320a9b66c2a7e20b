// Package player provides the playback state shared across the service.
package player

import (
	"sync"

	"github.com/gachaboo/miu/internal/domain/track"
)

// Status represents the playback status.
type Status int

const (
	StatusIdle    Status = iota // No track playing
	StatusPlaying               // Track is playing
	StatusPaused                // Track is paused
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable copy of the player state, as emitted to
// change listeners.
type Snapshot struct {
	Status           Status
	CurrentTrack     *track.QueueItem
	Volume           float64
	AutoplayEnabled  bool
	ActivePlaylistID string
}

// State is the single source of truth for playback status, current track,
// volume and the autoplay flag. Only the orchestrator and the connection
// supervisor mutate it. Every mutation emits a snapshot to the notify
// callback.
type State struct {
	mu sync.RWMutex

	status           Status
	current          *track.QueueItem
	volume           float64
	autoplayEnabled  bool
	activePlaylistID string

	notify func(Snapshot)
}

// NewState creates the player state. notify may be nil.
func NewState(volume float64, autoplayEnabled bool, notify func(Snapshot)) *State {
	return &State{
		status:          StatusIdle,
		volume:          volume,
		autoplayEnabled: autoplayEnabled,
		notify:          notify,
	}
}

// Status returns the current playback status.
func (s *State) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// CurrentTrack returns the currently playing track, nil when idle.
func (s *State) CurrentTrack() *track.QueueItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Volume returns the current volume in [0,1].
func (s *State) Volume() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.volume
}

// AutoplayEnabled returns the autoplay flag.
func (s *State) AutoplayEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.autoplayEnabled
}

// ActivePlaylistID returns the active curated playlist id, if any.
func (s *State) ActivePlaylistID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activePlaylistID
}

// SetPlaying marks the given track as current. A non-nil track is required
// to keep current-track and status consistent.
func (s *State) SetPlaying(item track.QueueItem) {
	s.mu.Lock()
	s.status = StatusPlaying
	s.current = &item
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(snap)
}

// SetPaused marks the current track as paused. No-op when idle.
func (s *State) SetPaused() {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return
	}
	s.status = StatusPaused
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(snap)
}

// SetResumed marks the current track as playing again. No-op when idle.
func (s *State) SetResumed() {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return
	}
	s.status = StatusPlaying
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(snap)
}

// SetIdle clears the current track.
func (s *State) SetIdle() {
	s.mu.Lock()
	s.status = StatusIdle
	s.current = nil
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(snap)
}

// SetVolume stores the volume. The caller validates the range.
func (s *State) SetVolume(v float64) {
	s.mu.Lock()
	s.volume = v
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(snap)
}

// SetAutoplayEnabled stores the autoplay flag.
func (s *State) SetAutoplayEnabled(enabled bool) {
	s.mu.Lock()
	s.autoplayEnabled = enabled
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(snap)
}

// SetActivePlaylistID stores the active curated playlist id.
func (s *State) SetActivePlaylistID(id string) {
	s.mu.Lock()
	s.activePlaylistID = id
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.emit(snap)
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *State) snapshotLocked() Snapshot {
	snap := Snapshot{
		Status:           s.status,
		Volume:           s.volume,
		AutoplayEnabled:  s.autoplayEnabled,
		ActivePlaylistID: s.activePlaylistID,
	}
	if s.current != nil {
		cp := *s.current
		snap.CurrentTrack = &cp
	}
	return snap
}

func (s *State) emit(snap Snapshot) {
	if s.notify != nil {
		s.notify(snap)
	}
}
