package live

// State is the lifecycle phase of a session.
type State int

const (
	StateIdle State = iota
	StateRequestingMic
	StateConnecting
	StateSetupSent
	StateActive
	StateInterrupted
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequestingMic:
		return "requesting_mic"
	case StateConnecting:
		return "connecting"
	case StateSetupSent:
		return "setup_sent"
	case StateActive:
		return "active"
	case StateInterrupted:
		return "interrupted"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
