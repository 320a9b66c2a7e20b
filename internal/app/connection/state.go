package connection

// State is the lifecycle state of the supervised transport connection.
type State int

const (
	// StateDisconnected means no connection exists yet or the last dial failed.
	StateDisconnected State = iota
	// StateConnecting means a dial is in flight.
	StateConnecting
	// StateReady means the connection is live and the engine is subscribed.
	StateReady
	// StateDestroyed means the last connection was torn down.
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}
