package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gachaboo/miu/internal/app/connection"
	"github.com/gachaboo/miu/internal/app/player"
	"github.com/gachaboo/miu/internal/domain/track"
)

var upgrader = websocket.Upgrader{}

// newGatewayServer runs a scripted gateway endpoint and returns its ws URL.
// The handler is invoked per accepted socket with a 1-based attempt count.
func newGatewayServer(t *testing.T, handler func(ws *websocket.Conn, attempt int)) string {
	t.Helper()
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		handler(ws, int(attempts.Add(1)))
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func expectIdentify(ws *websocket.Conn) (identifyPayload, bool) {
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	var f frame
	if err := ws.ReadJSON(&f); err != nil || f.Op != opIdentify {
		return identifyPayload{}, false
	}
	var p identifyPayload
	if err := json.Unmarshal(f.D, &p); err != nil {
		return identifyPayload{}, false
	}
	return p, true
}

func sendServerFrame(ws *websocket.Conn, op string, payload any) error {
	f, err := marshalFrame(op, payload)
	if err != nil {
		return err
	}
	return ws.WriteJSON(f)
}

// holdOpen keeps the handler alive until the client goes away, replying
// to pings along the way.
func holdOpen(ws *websocket.Conn) {
	_ = ws.SetReadDeadline(time.Time{})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func waitEvent(t *testing.T, conn connection.Conn, want connection.EventType) connection.Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-conn.Events():
			require.True(t, ok, "event stream ended while waiting for %s", want)
			if ev.Type == want {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event within deadline", want)
		}
	}
}

func expectStreamEnd(t *testing.T, conn connection.Conn) {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-conn.Events():
			if !ok {
				return
			}
			t.Logf("draining event before stream end: %s", ev.Type)
		case <-timeout:
			t.Fatal("event stream did not end")
		}
	}
}

func TestDialIdentifiesAndBecomesReady(t *testing.T) {
	got := make(chan identifyPayload, 1)
	url := newGatewayServer(t, func(ws *websocket.Conn, attempt int) {
		p, ok := expectIdentify(ws)
		if !ok {
			return
		}
		got <- p
		_ = sendServerFrame(ws, opReady, readyPayload{SessionID: "sess-1"})
		holdOpen(ws)
	})

	tr := New(Config{URL: url, Token: "sekrit", ClientName: "miu-test"})
	conn, err := tr.Dial(context.Background(), "home")
	require.NoError(t, err)
	defer conn.Close()

	waitEvent(t, conn, connection.EventReady)

	p := <-got
	assert.Equal(t, "sekrit", p.Token)
	assert.Equal(t, "home", p.ChannelID)
	assert.Equal(t, "miu-test", p.ClientName)
	assert.NotEmpty(t, p.ClientID)
	assert.Empty(t, p.SessionID)
	assert.Equal(t, "home", conn.ChannelID())
}

func TestDialFailsWhenServerGone(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	tr := New(Config{URL: url, Token: "t"})
	_, err := tr.Dial(context.Background(), "home")
	require.Error(t, err)
}

func TestOccupancyTracksListeners(t *testing.T) {
	counts := make(chan int)
	url := newGatewayServer(t, func(ws *websocket.Conn, attempt int) {
		if _, ok := expectIdentify(ws); !ok {
			return
		}
		_ = sendServerFrame(ws, opReady, readyPayload{SessionID: "s"})
		go holdOpen(ws)
		for n := range counts {
			if err := sendServerFrame(ws, opOccupancy, occupancyPayload{Count: n}); err != nil {
				return
			}
		}
	})
	defer close(counts)

	tr := New(Config{URL: url, Token: "t"})
	conn, err := tr.Dial(context.Background(), "home")
	require.NoError(t, err)
	defer conn.Close()

	waitEvent(t, conn, connection.EventReady)
	assert.False(t, conn.Occupied())

	counts <- 2
	require.Eventually(t, conn.Occupied, 3*time.Second, 10*time.Millisecond)

	counts <- 0
	require.Eventually(t, func() bool {
		return !conn.Occupied()
	}, 3*time.Second, 10*time.Millisecond)
}

func TestMovedEventCarriesChannel(t *testing.T) {
	url := newGatewayServer(t, func(ws *websocket.Conn, attempt int) {
		if _, ok := expectIdentify(ws); !ok {
			return
		}
		_ = sendServerFrame(ws, opReady, readyPayload{SessionID: "s"})
		_ = sendServerFrame(ws, opMoved, movedPayload{ChannelID: "other"})
		holdOpen(ws)
	})

	tr := New(Config{URL: url, Token: "t"})
	conn, err := tr.Dial(context.Background(), "home")
	require.NoError(t, err)
	defer conn.Close()

	waitEvent(t, conn, connection.EventReady)
	ev := waitEvent(t, conn, connection.EventMoved)
	assert.Equal(t, "other", ev.ChannelID)
	assert.Equal(t, "other", conn.ChannelID())
}

func TestServerClosedFrameEndsSession(t *testing.T) {
	url := newGatewayServer(t, func(ws *websocket.Conn, attempt int) {
		if _, ok := expectIdentify(ws); !ok {
			return
		}
		_ = sendServerFrame(ws, opReady, readyPayload{SessionID: "s"})
		_ = sendServerFrame(ws, opClosed, closedPayload{Reason: "shutting down"})
		holdOpen(ws)
	})

	tr := New(Config{URL: url, Token: "t"})
	conn, err := tr.Dial(context.Background(), "home")
	require.NoError(t, err)
	defer conn.Close()

	waitEvent(t, conn, connection.EventReady)
	waitEvent(t, conn, connection.EventClosed)
	expectStreamEnd(t, conn)
}

func TestAbruptDropResumesSession(t *testing.T) {
	identifies := make(chan identifyPayload, 2)
	url := newGatewayServer(t, func(ws *websocket.Conn, attempt int) {
		p, ok := expectIdentify(ws)
		if !ok {
			return
		}
		identifies <- p
		switch attempt {
		case 1:
			_ = sendServerFrame(ws, opReady, readyPayload{SessionID: "sess-9"})
			time.Sleep(50 * time.Millisecond)
			// No close handshake: the client sees an abnormal drop.
			_ = ws.Close()
		default:
			_ = sendServerFrame(ws, opResumed, nil)
			holdOpen(ws)
		}
	})

	tr := New(Config{URL: url, Token: "t"})
	conn, err := tr.Dial(context.Background(), "home")
	require.NoError(t, err)
	defer conn.Close()

	waitEvent(t, conn, connection.EventReady)
	waitEvent(t, conn, connection.EventDisconnected)
	waitEvent(t, conn, connection.EventResumed)

	first := <-identifies
	second := <-identifies
	assert.Empty(t, first.SessionID)
	assert.Equal(t, "sess-9", second.SessionID)
}

func TestFlappingResumeGivesUp(t *testing.T) {
	url := newGatewayServer(t, func(ws *websocket.Conn, attempt int) {
		if _, ok := expectIdentify(ws); !ok {
			return
		}
		if attempt == 1 {
			_ = sendServerFrame(ws, opReady, readyPayload{SessionID: "s"})
			time.Sleep(50 * time.Millisecond)
		}
		// Every socket dies without a handshake from here on.
		_ = ws.Close()
	})

	tr := New(Config{URL: url, Token: "t"})
	conn, err := tr.Dial(context.Background(), "home")
	require.NoError(t, err)
	defer conn.Close()

	waitEvent(t, conn, connection.EventReady)
	waitEvent(t, conn, connection.EventDisconnected)
	expectStreamEnd(t, conn)
}

func TestClientCloseIsClean(t *testing.T) {
	url := newGatewayServer(t, func(ws *websocket.Conn, attempt int) {
		if _, ok := expectIdentify(ws); !ok {
			return
		}
		_ = sendServerFrame(ws, opReady, readyPayload{SessionID: "s"})
		holdOpen(ws)
	})

	tr := New(Config{URL: url, Token: "t"})
	conn, err := tr.Dial(context.Background(), "home")
	require.NoError(t, err)

	waitEvent(t, conn, connection.EventReady)
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())

	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-conn.Events():
			if !ok {
				return
			}
			t.Fatalf("unexpected event after close: %s", ev.Type)
		case <-timeout:
			t.Fatal("event stream did not end after close")
		}
	}
}

func TestSubscribeReportsStatusTransitions(t *testing.T) {
	frames := make(chan frame, 8)
	url := newGatewayServer(t, func(ws *websocket.Conn, attempt int) {
		if _, ok := expectIdentify(ws); !ok {
			return
		}
		_ = sendServerFrame(ws, opReady, readyPayload{SessionID: "s"})
		for {
			_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
			var f frame
			if err := ws.ReadJSON(&f); err != nil {
				return
			}
			frames <- f
		}
	})

	tr := New(Config{URL: url, Token: "t", StatusInterval: 30 * time.Millisecond})
	conn, err := tr.Dial(context.Background(), "home")
	require.NoError(t, err)
	defer conn.Close()

	waitEvent(t, conn, connection.EventReady)

	eng := &stubEngine{status: player.StatusPlaying, position: 1500}
	conn.Subscribe(eng)

	p := waitStatusFrame(t, frames)
	assert.Equal(t, "playing", p.Status)
	assert.EqualValues(t, 1500, p.PositionMs)

	eng.set(player.StatusPaused, 2000)
	p = waitStatusFrame(t, frames)
	assert.Equal(t, "paused", p.Status)
	assert.EqualValues(t, 2000, p.PositionMs)
}

func waitStatusFrame(t *testing.T, frames <-chan frame) statusPayload {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case f := <-frames:
			if f.Op != opStatus {
				continue
			}
			var p statusPayload
			require.NoError(t, json.Unmarshal(f.D, &p))
			return p
		case <-timeout:
			t.Fatal("no status frame within deadline")
		}
	}
}

type stubEngine struct {
	mu       sync.Mutex
	status   player.Status
	position int64
}

func (s *stubEngine) set(st player.Status, pos int64) {
	s.mu.Lock()
	s.status = st
	s.position = pos
	s.mu.Unlock()
}

func (s *stubEngine) Play(track.QueueItem) error { return nil }
func (s *stubEngine) Pause() error { return nil }
func (s *stubEngine) Resume() error { return nil }
func (s *stubEngine) Stop() {}
func (s *stubEngine) SetVolume(float64) {}

func (s *stubEngine) Status() player.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *stubEngine) PositionMs() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

func (s *stubEngine) OnTrackEnd(func(track.QueueItem)) {}
func (s *stubEngine) OnError(func(track.QueueItem, error)) {}
