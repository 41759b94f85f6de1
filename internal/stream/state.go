package stream

// State is the connection lifecycle state.
type State int

// States. Closed is terminal for a run; Connect or Reconnect starts a new one.
const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Active reports whether the state holds or is acquiring a connection.
func (s State) Active() bool {
	return s == StateConnecting || s == StateConnected || s == StateReconnecting
}
