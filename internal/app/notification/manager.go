// Package notification broadcasts player and queue changes to connected
// listeners over server-sent events, and derives the remote-presence
// signal from the subscriber count.
package notification

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/r3labs/sse/v2"
	zlog "github.com/rs/zerolog/log"

	"github.com/gachaboo/miu/internal/app/player"
	"github.com/gachaboo/miu/internal/domain/track"
)

const streamName = "state"

// Stream event names.
const (
	eventState     = "state"
	eventSyncPlay  = "sync_play"
	eventHeartbeat = "heartbeat"
)

// Config holds the broadcaster settings.
type Config struct {
	// HeartbeatInterval is how often idle streams get a keepalive event.
	HeartbeatInterval time.Duration
}

// Manager owns the event stream. Every player or queue change is pushed
// as a fresh combined `state` event; track starts additionally emit
// `sync_play` so clients can align playback.
type Manager struct {
	cfg      Config
	srv      *sse.Server
	registry *ListenerRegistry

	mu           sync.Mutex
	lastSnapshot player.Snapshot
	lastQueue    []track.QueueItem
	lastTrackKey string
	positionFn   func() int64
	onPresence   func(present bool)
	subs         map[*sse.Subscriber]string

	done      chan struct{}
	closeOnce sync.Once
}

// NewManager creates the broadcaster and its stream.
func NewManager(cfg Config) *Manager {
	srv := sse.New()
	srv.AutoReplay = false
	srv.CreateStream(streamName)

	m := &Manager{
		cfg:      cfg,
		srv:      srv,
		registry: NewListenerRegistry(),
		subs:     make(map[*sse.Subscriber]string),
		done:     make(chan struct{}),
	}
	srv.OnSubscribe = m.handleSubscribe
	srv.OnUnsubscribe = m.handleUnsubscribe
	return m
}

// Registry exposes the listener registry for state snapshots.
func (m *Manager) Registry() *ListenerRegistry {
	return m.registry
}

// OnPresenceChange registers the callback fired when the listener count
// crosses zero in either direction.
func (m *Manager) OnPresenceChange(fn func(present bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onPresence = fn
}

// AttachPosition wires the playback position source included in state
// events.
func (m *Manager) AttachPosition(fn func() int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positionFn = fn
}

// Start launches the heartbeat loop.
func (m *Manager) Start() {
	if m.cfg.HeartbeatInterval <= 0 {
		return
	}
	go m.heartbeatLoop()
}

// Close tears down all streams and stops the heartbeat.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
		m.srv.Close()
	})
}

// Handler serves the live stream. The stream name is fixed server-side
// so clients connect without carrying transport details.
func (m *Manager) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("stream") == "" {
			q.Set("stream", streamName)
			r.URL.RawQuery = q.Encode()
		}
		m.srv.ServeHTTP(w, r)
	})
}

// PublishState pushes a combined state event for a player change, plus a
// sync_play event when the change is a fresh track start.
func (m *Manager) PublishState(snap player.Snapshot) {
	m.mu.Lock()
	m.lastSnapshot = snap
	sp := m.syncPlayLocked(snap)
	ev := m.stateEventLocked()
	m.mu.Unlock()

	m.publish(eventState, ev)
	if sp != nil {
		zlog.Debug().Msgf("notification: sync point: title=%s", sp.Title)
		m.publish(eventSyncPlay, sp)
	}
	m.registry.TouchAll()
}

// PublishQueue pushes a combined state event for a queue change.
func (m *Manager) PublishQueue(items []track.QueueItem) {
	m.mu.Lock()
	m.lastQueue = items
	ev := m.stateEventLocked()
	m.mu.Unlock()

	m.publish(eventState, ev)
	m.registry.TouchAll()
}

// ListenerCount returns the number of connected stream subscribers.
func (m *Manager) ListenerCount() int {
	return m.registry.Count()
}

// syncPlayLocked reports a sync point when the snapshot shows a track
// that was not playing before. Pause/resume of the same track does not
// produce one.
func (m *Manager) syncPlayLocked(snap player.Snapshot) *SyncPlayEvent {
	if snap.CurrentTrack == nil {
		m.lastTrackKey = ""
		return nil
	}
	if snap.Status != player.StatusPlaying {
		return nil
	}
	key := snap.CurrentTrack.Key()
	if key == m.lastTrackKey {
		return nil
	}
	m.lastTrackKey = key
	return &SyncPlayEvent{
		ContentID:  snap.CurrentTrack.ContentID,
		Title:      snap.CurrentTrack.Title,
		StartedAt:  time.Now(),
		PositionMs: 0,
	}
}

func (m *Manager) stateEventLocked() StateEvent {
	var pos int64
	if m.positionFn != nil {
		pos = m.positionFn()
	}
	return NewStateEvent(m.lastSnapshot, m.lastQueue, m.registry.Count(), pos)
}

func (m *Manager) publish(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		zlog.Error().Msgf("notification: marshal failed: event=%s error=%v", event, err)
		return
	}
	m.srv.Publish(streamName, &sse.Event{Event: []byte(event), Data: data})
}

func (m *Manager) heartbeatLoop() {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.publish(eventHeartbeat, HeartbeatEvent{
				At:        time.Now(),
				Listeners: m.registry.Count(),
			})
			m.registry.TouchAll()
		}
	}
}

func (m *Manager) handleSubscribe(_ string, sub *sse.Subscriber) {
	id, count := m.registry.Add()

	m.mu.Lock()
	m.subs[sub] = id
	fn := m.onPresence
	m.mu.Unlock()

	zlog.Info().Msgf("notification: listener joined: id=%s listeners=%d", id, count)
	if count == 1 && fn != nil {
		fn(true)
	}
}

func (m *Manager) handleUnsubscribe(_ string, sub *sse.Subscriber) {
	m.mu.Lock()
	id, ok := m.subs[sub]
	delete(m.subs, sub)
	fn := m.onPresence
	m.mu.Unlock()
	if !ok {
		return
	}

	count := m.registry.Remove(id)
	zlog.Info().Msgf("notification: listener left: id=%s listeners=%d", id, count)
	if count == 0 && fn != nil {
		fn(false)
	}
}
