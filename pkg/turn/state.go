package turn

type State int

const (
	StateHandshaking State = iota
	StateIdle
	StatePlayingGreeting
	StateListening
	StateProcessing
	StatePlayingResponse
	StateClosed
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "HANDSHAKING"
	case StateIdle:
		return "IDLE"
	case StatePlayingGreeting:
		return "PLAYING_GREETING"
	case StateListening:
		return "LISTENING"
	case StateProcessing:
		return "PROCESSING"
	case StatePlayingResponse:
		return "PLAYING_RESPONSE"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Playing reports whether outbound audio owns the line. Inbound audio is not
// captured in these states.
func (s State) Playing() bool {
	return s == StatePlayingGreeting || s == StatePlayingResponse
}
