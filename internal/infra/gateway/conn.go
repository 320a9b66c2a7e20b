package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"

	"github.com/gachaboo/miu/internal/app/connection"
	"github.com/gachaboo/miu/internal/app/player"
)

// errSessionClosed marks a read loop exit that must not trigger a
// resume: the server ended the session on purpose.
var errSessionClosed = errors.New("gateway session closed")

// Conn is one live channel session. It implements connection.Conn.
type Conn struct {
	cfg      Config
	clientID string

	mu         sync.Mutex
	channelID  string
	sessionID  string
	occupants  int
	engine     player.Engine
	lastStatus string

	// writeMu serializes socket writes and guards the socket swap
	// performed by a resume.
	writeMu sync.Mutex
	ws      *websocket.Conn

	events     chan connection.Event
	done       chan struct{}
	closeOnce  sync.Once
	statusOnce sync.Once

	// recovering is set between a resume dial and the first frame the
	// resumed socket delivers. Only run's goroutine touches it.
	recovering bool
}

var _ connection.Conn = (*Conn)(nil)

func newConn(cfg Config, clientID, channelID string, ws *websocket.Conn) *Conn {
	return &Conn{
		cfg:       cfg,
		clientID:  clientID,
		channelID: channelID,
		ws:        ws,
		events:    make(chan connection.Event, 16),
		done:      make(chan struct{}),
	}
}

// Events delivers lifecycle events. Closed when the session is over.
func (c *Conn) Events() <-chan connection.Event {
	return c.events
}

// ChannelID returns the channel this session currently sits in.
func (c *Conn) ChannelID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channelID
}

// Occupied reports whether the gateway counts any listener in the
// channel, per the latest occupancy frame.
func (c *Conn) Occupied() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.occupants > 0
}

// Subscribe attaches the playback engine. From then on the session
// reports playback status transitions to the gateway.
func (c *Conn) Subscribe(e player.Engine) {
	c.mu.Lock()
	c.engine = e
	c.mu.Unlock()

	c.statusOnce.Do(func() {
		go c.statusLoop()
	})
}

// Close tears the session down. Safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = c.ws.Close()
		c.writeMu.Unlock()
		zlog.Debug().Msgf("gateway: session closed: channel_id=%s", c.ChannelID())
	})
	return nil
}

// run owns the socket's read side for the whole session, across
// resumes. A resumed socket that dies before delivering a single frame
// ends the session instead of looping on a flapping server. The events
// channel closes when it returns.
func (c *Conn) run() {
	defer close(c.events)

	for {
		err := c.readLoop()
		if c.isClosed() || errors.Is(err, errSessionClosed) {
			return
		}
		if c.recovering {
			zlog.Warn().Msg("gateway: resumed socket died before first frame, giving up")
			return
		}

		c.emit(connection.Event{Type: connection.EventDisconnected, Err: err})
		if !c.resume() {
			return
		}
		c.recovering = true
		// The new socket's ready or resumed frame surfaces as the
		// recovery signal.
	}
}

func (c *Conn) readLoop() error {
	ws := c.socket()
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.emit(connection.Event{Type: connection.EventClosed})
				return errSessionClosed
			}
			return err
		}
		c.recovering = false

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.emit(connection.Event{Type: connection.EventError, Err: errors.Wrap(err, "bad frame")})
			continue
		}
		if c.handleFrame(f) {
			return errSessionClosed
		}
	}
}

// handleFrame dispatches one server frame. Returns true when the frame
// ends the session.
func (c *Conn) handleFrame(f frame) bool {
	switch f.Op {
	case opReady:
		var p readyPayload
		c.decode(f.D, &p)
		c.mu.Lock()
		c.sessionID = p.SessionID
		if p.ChannelID != "" {
			c.channelID = p.ChannelID
		}
		c.mu.Unlock()
		zlog.Info().Msgf("gateway: session ready: session_id=%s channel_id=%s", p.SessionID, c.ChannelID())
		c.emit(connection.Event{Type: connection.EventReady})

	case opResumed:
		zlog.Info().Msg("gateway: session resumed")
		c.emit(connection.Event{Type: connection.EventResumed})

	case opOccupancy:
		var p occupancyPayload
		c.decode(f.D, &p)
		c.mu.Lock()
		changed := c.occupants != p.Count
		c.occupants = p.Count
		c.mu.Unlock()
		if changed {
			zlog.Debug().Msgf("gateway: occupancy changed: count=%d", p.Count)
		}

	case opMoved:
		var p movedPayload
		c.decode(f.D, &p)
		c.mu.Lock()
		c.channelID = p.ChannelID
		c.mu.Unlock()
		zlog.Warn().Msgf("gateway: moved: channel_id=%s", p.ChannelID)
		c.emit(connection.Event{Type: connection.EventMoved, ChannelID: p.ChannelID})

	case opClosed:
		var p closedPayload
		c.decode(f.D, &p)
		zlog.Warn().Msgf("gateway: session closed by server: reason=%s", p.Reason)
		c.emit(connection.Event{Type: connection.EventClosed})
		return true

	case opError:
		var p errorPayload
		c.decode(f.D, &p)
		c.emit(connection.Event{Type: connection.EventError, Err: errors.Newf("gateway error: %s", p.Message)})

	default:
		zlog.Debug().Msgf("gateway: ignoring unknown op: op=%s", f.Op)
	}
	return false
}

// resume makes a single attempt to re-establish the session on a fresh
// socket. The stored session id lets the server restore the channel
// binding without a full re-join.
func (c *Conn) resume() bool {
	if c.isClosed() {
		return false
	}
	zlog.Warn().Msgf("gateway: connection lost, attempting resume: channel_id=%s", c.ChannelID())

	ctx, cancel := context.WithTimeout(context.Background(), resumeTimeout)
	defer cancel()

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		zlog.Warn().Msgf("gateway: resume dial failed: error=%v", err)
		return false
	}

	c.swapSocket(ws)
	if err := c.sendIdentify(); err != nil {
		zlog.Warn().Msgf("gateway: resume identify failed: error=%v", err)
		c.writeMu.Lock()
		_ = c.ws.Close()
		c.writeMu.Unlock()
		return false
	}
	return true
}

func (c *Conn) sendIdentify() error {
	c.mu.Lock()
	p := identifyPayload{
		Token:      c.cfg.Token,
		ClientID:   c.clientID,
		ClientName: c.cfg.ClientName,
		ChannelID:  c.channelID,
		SessionID:  c.sessionID,
	}
	c.mu.Unlock()
	return c.writeFrame(opIdentify, p)
}

// statusLoop reports playback status transitions while an engine is
// subscribed. Steady position progress is not reported; clients derive
// it from the transition timestamps.
func (c *Conn) statusLoop() {
	ticker := time.NewTicker(c.cfg.StatusInterval)
	defer ticker.Stop()

	c.reportStatus()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.reportStatus()
		}
	}
}

func (c *Conn) reportStatus() {
	c.mu.Lock()
	e := c.engine
	c.mu.Unlock()
	if e == nil {
		return
	}

	status := e.Status().String()
	pos := e.PositionMs()

	c.mu.Lock()
	changed := status != c.lastStatus
	c.lastStatus = status
	c.mu.Unlock()
	if !changed {
		return
	}

	if err := c.writeFrame(opStatus, statusPayload{Status: status, PositionMs: pos}); err != nil {
		zlog.Debug().Msgf("gateway: status report failed: error=%v", err)
	}
}

func (c *Conn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				// The read side notices the dead socket and handles it.
				zlog.Debug().Msgf("gateway: ping failed: error=%v", err)
			}
		}
	}
}

func (c *Conn) writeFrame(op string, payload any) error {
	f, err := marshalFrame(op, payload)
	if err != nil {
		return errors.Wrap(err, "marshal frame")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(f)
}

func (c *Conn) socket() *websocket.Conn {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws
}

func (c *Conn) swapSocket(ws *websocket.Conn) {
	c.writeMu.Lock()
	old := c.ws
	c.ws = ws
	c.writeMu.Unlock()
	_ = old.Close()
}

func (c *Conn) emit(ev connection.Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Conn) decode(d json.RawMessage, out any) {
	if len(d) == 0 {
		return
	}
	if err := json.Unmarshal(d, out); err != nil {
		zlog.Debug().Msgf("gateway: bad payload: error=%v", err)
	}
}
