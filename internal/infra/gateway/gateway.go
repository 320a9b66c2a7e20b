// Package gateway is the websocket client for the media gateway. It
// keeps one socket per channel session, translates gateway frames into
// connection lifecycle events and reports playback status upstream.
package gateway

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"

	"github.com/gachaboo/miu/internal/app/connection"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second
	// pongWait is how long a socket may stay silent before it is
	// considered dead. Pings go out at pingPeriod to keep it under.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	// resumeTimeout bounds the single in-place resume dial after an
	// abnormal drop. It stays inside the supervisor's recovery window.
	resumeTimeout = 4 * time.Second

	defaultStatusInterval = 5 * time.Second
)

// Config holds the gateway endpoint settings.
type Config struct {
	// URL is the websocket endpoint, ws:// or wss://.
	URL string
	// Token authenticates the identify frame.
	Token string
	// ClientName is reported to the gateway for operator visibility.
	ClientName string
	// StatusInterval is how often playback status is checked for
	// reporting once an engine is subscribed.
	StatusInterval time.Duration
}

// Transport dials gateway channel sessions. It implements
// connection.Transport.
type Transport struct {
	cfg      Config
	clientID string
}

var _ connection.Transport = (*Transport)(nil)

// New creates a transport for the given endpoint.
func New(cfg Config) *Transport {
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = defaultStatusInterval
	}
	if cfg.ClientName == "" {
		cfg.ClientName = "miu"
	}
	return &Transport{
		cfg:      cfg,
		clientID: uuid.NewString(),
	}
}

// Dial opens a socket, identifies for the given channel and returns the
// live connection. The ready frame arrives asynchronously on the
// connection's event stream; the caller owns the ready timeout.
func (t *Transport) Dial(ctx context.Context, channelID string) (connection.Conn, error) {
	if t.cfg.URL == "" {
		return nil, errors.New("gateway url not configured")
	}

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, t.cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "gateway dial failed: status=%d", resp.StatusCode)
		}
		return nil, errors.Wrap(err, "gateway dial failed")
	}

	c := newConn(t.cfg, t.clientID, channelID, ws)
	if err := c.sendIdentify(); err != nil {
		ws.Close()
		return nil, errors.Wrap(err, "gateway identify failed")
	}

	zlog.Info().Msgf("gateway: socket open: channel_id=%s", channelID)
	go c.run()
	go c.pingLoop()
	return c, nil
}
