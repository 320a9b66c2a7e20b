package connection

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/gachaboo/miu/internal/app/player"
)

// Player is the playback surface the supervisor drives. Automatic
// transitions never override an explicit operator pause.
type Player interface {
	// AutoPause pauses playback and reports whether a pause happened.
	AutoPause() bool
	// AutoResume resumes automatically-paused playback and reports
	// whether a resume happened.
	AutoResume() bool
	// Playing reports whether a track is actively playing.
	Playing() bool
	// ManuallyPaused reports whether the operator paused playback
	// explicitly.
	ManuallyPaused() bool
}

// Config holds the supervisor timing knobs.
type Config struct {
	// ChannelID is the home channel the supervisor keeps a connection to.
	ChannelID string
	// ReadyTimeout bounds the wait for the handshake on a fresh dial.
	ReadyTimeout time.Duration
	// RecoveryWindow bounds the wait for an in-place transport recovery
	// after an unexpected disconnect.
	RecoveryWindow time.Duration
	// ReconnectDelay is the fixed delay before a scheduled reconnect.
	ReconnectDelay time.Duration
	// PresenceInterval is the occupancy polling interval.
	PresenceInterval time.Duration
	// PauseDebounce is how long the channel must stay empty before
	// playback is paused.
	PauseDebounce time.Duration
}

// Supervisor keeps one connection to the home channel alive and pauses or
// resumes playback as listeners come and go. Playback should be active
// iff the channel is occupied or a remote listener is present, and the
// operator has not paused explicitly.
type Supervisor struct {
	cfg       Config
	transport Transport
	engine    player.Engine

	mu                 sync.Mutex
	state              State
	conn               Conn
	player             Player
	remotePresent      bool
	channelOccupied    bool
	pauseTimerCancel   func()
	reconnectScheduled bool
	stopped            bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSupervisor creates a supervisor for the configured home channel.
// The engine is subscribed to each connection once it is ready.
func NewSupervisor(cfg Config, transport Transport, engine player.Engine) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		cfg:       cfg,
		transport: transport,
		engine:    engine,
		state:     StateDisconnected,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// AttachPlayer wires the playback surface. Must be called before Start;
// split from the constructor because the player itself is built on top
// of the supervisor's connection.
func (s *Supervisor) AttachPlayer(p Player) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.player = p
}

// Start dials the home channel and begins presence polling. A failed
// initial dial is not fatal: a reconnect is scheduled and the queue
// keeps accepting requests meanwhile.
func (s *Supervisor) Start() error {
	if s.cfg.ChannelID == "" {
		return errors.New("no home channel configured")
	}

	if err := s.connect(s.ctx); err != nil {
		zlog.Warn().Msgf("connection: initial connect failed, will retry: error=%v", err)
		s.scheduleReconnect()
	}

	s.wg.Add(1)
	go s.presenceLoop()
	return nil
}

// Stop tears the connection down and halts all background work. The
// supervisor cannot be restarted afterwards.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.state = StateDestroyed
	s.cancelPauseTimerLocked()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	s.cancel()
	if conn != nil {
		conn.Close()
	}
	s.wg.Wait()
	zlog.Info().Msg("connection: supervisor stopped")
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ready reports whether a live connection exists.
func (s *Supervisor) Ready() bool {
	return s.State() == StateReady
}

// SetRemotePresence records whether any remote listener is tuned in and
// applies pause/resume transitions on change.
func (s *Supervisor) SetRemotePresence(present bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remotePresent == present {
		return
	}
	s.remotePresent = present
	zlog.Debug().Msgf("connection: remote presence changed: present=%t", present)
	s.applyPresenceLocked()
}

// Recheck re-evaluates the presence conditions immediately instead of
// waiting for the next poll tick.
func (s *Supervisor) Recheck() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyPresenceLocked()
}

func (s *Supervisor) connect(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped || s.state == StateConnecting || s.state == StateReady {
		s.mu.Unlock()
		return nil
	}
	s.state = StateConnecting
	s.mu.Unlock()

	zlog.Info().Msgf("connection: dialing channel: channel_id=%s", s.cfg.ChannelID)
	conn, err := s.transport.Dial(ctx, s.cfg.ChannelID)
	if err != nil {
		s.setStateDisconnected()
		return errors.Wrap(err, "dial failed")
	}

	if err := s.waitReady(ctx, conn); err != nil {
		conn.Close()
		s.setStateDisconnected()
		return err
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		conn.Close()
		return nil
	}
	s.conn = conn
	s.state = StateReady
	s.mu.Unlock()

	conn.Subscribe(s.engine)
	zlog.Info().Msgf("connection: ready: channel_id=%s", conn.ChannelID())

	s.wg.Add(1)
	go s.eventLoop(conn)
	return nil
}

func (s *Supervisor) waitReady(ctx context.Context, conn Conn) error {
	timer := time.NewTimer(s.cfg.ReadyTimeout)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-conn.Events():
			if !ok {
				return errors.New("connection closed before ready")
			}
			switch ev.Type {
			case EventReady:
				return nil
			case EventClosed:
				return errors.New("connection closed before ready")
			case EventError:
				zlog.Warn().Msgf("connection: error during handshake: error=%v", ev.Err)
			}
		case <-timer.C:
			return errors.Newf("connection not ready after %s", s.cfg.ReadyTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// eventLoop owns the conn's event stream after the handshake. It returns
// when the conn is dropped or the supervisor stops.
func (s *Supervisor) eventLoop(conn Conn) {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-conn.Events():
			if !ok {
				s.dropConn(conn)
				s.scheduleReconnect()
				return
			}
			switch ev.Type {
			case EventDisconnected:
				if s.awaitRecovery(conn) {
					continue
				}
				s.dropConn(conn)
				s.scheduleReconnect()
				return
			case EventMoved:
				if ev.ChannelID == s.cfg.ChannelID {
					continue
				}
				zlog.Warn().Msgf("connection: moved out of home channel, reconnecting: moved_to=%s", ev.ChannelID)
				s.dropConn(conn)
				s.scheduleReconnect()
				return
			case EventClosed:
				zlog.Warn().Msg("connection: closed by transport")
				s.dropConn(conn)
				s.scheduleReconnect()
				return
			case EventError:
				zlog.Warn().Msgf("connection: transport error: error=%v", ev.Err)
			case EventReady, EventResumed:
				// Transport recovered before we even noticed the drop.
			}
		}
	}
}

// awaitRecovery gives the transport one recovery window to restore a
// dropped connection in place.
func (s *Supervisor) awaitRecovery(conn Conn) bool {
	zlog.Warn().Msgf("connection: lost, waiting for recovery: window=%s", s.cfg.RecoveryWindow)
	timer := time.NewTimer(s.cfg.RecoveryWindow)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-conn.Events():
			if !ok {
				return false
			}
			switch ev.Type {
			case EventReady, EventResumed:
				zlog.Info().Msg("connection: recovered in place")
				return true
			case EventClosed, EventMoved:
				return false
			}
		case <-timer.C:
			return false
		case <-s.ctx.Done():
			return false
		}
	}
}

func (s *Supervisor) dropConn(conn Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	if !s.stopped {
		s.state = StateDestroyed
	}
	s.mu.Unlock()
	conn.Close()
}

// scheduleReconnect arms a single delayed reconnect. A reconnect already
// pending makes this a no-op, so bursts of failure events collapse into
// one attempt.
func (s *Supervisor) scheduleReconnect() {
	s.mu.Lock()
	if s.reconnectScheduled || s.stopped {
		s.mu.Unlock()
		return
	}
	s.reconnectScheduled = true
	s.mu.Unlock()

	zlog.Info().Msgf("connection: reconnect scheduled: delay=%s", s.cfg.ReconnectDelay)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		select {
		case <-time.After(s.cfg.ReconnectDelay):
		case <-s.ctx.Done():
			s.mu.Lock()
			s.reconnectScheduled = false
			s.mu.Unlock()
			return
		}

		s.mu.Lock()
		s.reconnectScheduled = false
		s.mu.Unlock()

		if err := s.connect(s.ctx); err != nil {
			zlog.Warn().Msgf("connection: reconnect failed: error=%v", err)
			s.scheduleReconnect()
		}
	}()
}

func (s *Supervisor) presenceLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PresenceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.pollPresence()
		}
	}
}

// pollPresence is the event-independent fallback: it reads channel
// occupancy off the live conn and applies transitions only on change.
func (s *Supervisor) pollPresence() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	occupied := false
	if conn != nil {
		occupied = conn.Occupied()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if occupied == s.channelOccupied {
		return
	}
	s.channelOccupied = occupied
	zlog.Debug().Msgf("connection: channel occupancy changed: occupied=%t", occupied)
	s.applyPresenceLocked()
}

// applyPresenceLocked runs the presence transition rules. Must be called
// with s.mu held.
func (s *Supervisor) applyPresenceLocked() {
	if s.player == nil {
		return
	}

	if s.player.ManuallyPaused() {
		// Operator control suppresses automatic transitions.
		s.cancelPauseTimerLocked()
		return
	}

	if s.channelOccupied || s.remotePresent {
		s.cancelPauseTimerLocked()
		if s.player.AutoResume() {
			zlog.Info().Msg("connection: listeners present, resumed playback")
		}
		return
	}

	if !s.player.Playing() {
		return
	}
	if s.pauseTimerCancel != nil {
		return
	}
	zlog.Info().Msgf("connection: no listeners, pause scheduled: debounce=%s", s.cfg.PauseDebounce)
	s.pauseTimerCancel = s.startTimer(s.cfg.PauseDebounce, s.debouncedPause)
}

// debouncedPause fires when the debounce window elapses. Conditions are
// re-checked because presence may have returned while the timer ran.
func (s *Supervisor) debouncedPause() {
	s.mu.Lock()
	s.pauseTimerCancel = nil
	empty := !s.channelOccupied && !s.remotePresent
	p := s.player
	s.mu.Unlock()

	if !empty || p == nil || p.ManuallyPaused() {
		return
	}
	if p.AutoPause() {
		zlog.Info().Msg("connection: no listeners, paused playback")
	}
}

func (s *Supervisor) cancelPauseTimerLocked() {
	if s.pauseTimerCancel != nil {
		s.pauseTimerCancel()
		s.pauseTimerCancel = nil
	}
}

func (s *Supervisor) startTimer(d time.Duration, fn func()) func() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-time.After(d):
			fn()
		}
	}()
	return cancel
}

func (s *Supervisor) setStateDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.state = StateDisconnected
	}
}
