package gateway

import "encoding/json"

// Frames are JSON text messages of the shape {op, d}. The client sends
// identify once per socket (session_id set when resuming) and status
// reports while subscribed; the server answers with ready or resumed and
// pushes occupancy, moved, closed and error as the session evolves.
const (
	opIdentify  = "identify"
	opReady     = "ready"
	opResumed   = "resumed"
	opOccupancy = "occupancy"
	opMoved     = "moved"
	opClosed    = "closed"
	opError     = "error"
	opStatus    = "status"
)

type frame struct {
	Op string          `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
}

type identifyPayload struct {
	Token      string `json:"token"`
	ClientID   string `json:"client_id"`
	ClientName string `json:"client_name,omitempty"`
	ChannelID  string `json:"channel_id"`
	SessionID  string `json:"session_id,omitempty"`
}

type readyPayload struct {
	SessionID string `json:"session_id"`
	ChannelID string `json:"channel_id,omitempty"`
}

type occupancyPayload struct {
	Count int `json:"count"`
}

type movedPayload struct {
	ChannelID string `json:"channel_id"`
}

type closedPayload struct {
	Reason string `json:"reason,omitempty"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type statusPayload struct {
	Status     string `json:"status"`
	PositionMs int64  `json:"position_ms"`
}

func marshalFrame(op string, payload any) (frame, error) {
	d, err := json.Marshal(payload)
	if err != nil {
		return frame{}, err
	}
	return frame{Op: op, D: d}, nil
}
