package handshake

// State is the progress of one attempt.
type State int32

const (
	StateInit State = iota
	StateHelloSent
	StateHelloReceived
	StateKeyDerived
	StateAuthenticated
	StateEstablished
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateHelloSent:
		return "HELLO_SENT"
	case StateHelloReceived:
		return "HELLO_RECEIVED"
	case StateKeyDerived:
		return "KEY_DERIVED"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateEstablished:
		return "ESTABLISHED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool { return s == StateEstablished || s == StateFailed }
