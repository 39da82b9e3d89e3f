package fingerprint

// State is the lifecycle state of a DeviceSession.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateCapturing
	StateShuttingDown
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateCapturing:
		return "capturing"
	case StateShuttingDown:
		return "shutting_down"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// MarshalText lets the state travel as its name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
