// Package connection owns the streaming-transport lifecycle and the
// presence-driven pause/resume logic around it.
package connection

import (
	"context"

	"github.com/gachaboo/miu/internal/app/player"
)

// EventType classifies transport lifecycle events.
type EventType int

const (
	// EventReady signals the connection finished its handshake.
	EventReady EventType = iota
	// EventResumed signals the transport recovered a dropped connection
	// on its own.
	EventResumed
	// EventDisconnected signals an unexpected connection loss that the
	// transport may still recover from.
	EventDisconnected
	// EventMoved signals the connection was forced into another channel.
	EventMoved
	// EventClosed signals the connection is gone for good.
	EventClosed
	// EventError carries a non-fatal transport error.
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventReady:
		return "ready"
	case EventResumed:
		return "resumed"
	case EventDisconnected:
		return "disconnected"
	case EventMoved:
		return "moved"
	case EventClosed:
		return "closed"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a transport lifecycle notification.
type Event struct {
	Type EventType
	// ChannelID is set on EventMoved to the channel the connection
	// landed in.
	ChannelID string
	Err       error
}

// Conn is a live connection to one channel.
type Conn interface {
	// Events delivers lifecycle events. The channel is closed when the
	// connection is torn down.
	Events() <-chan Event
	// ChannelID returns the channel this connection is bound to.
	ChannelID() string
	// Occupied reports whether any listener currently occupies the channel.
	Occupied() bool
	// Subscribe attaches the playback engine to the connection.
	Subscribe(e player.Engine)
	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// Transport dials channel connections.
type Transport interface {
	Dial(ctx context.Context, channelID string) (Conn, error)
}
