package orchestration

import (
	"fmt"
	"slices"
)

type SessionState int32

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateConnected
	StateStreaming
	StateInterrupted
	StateClosing
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateStreaming:
		return "streaming"
	case StateInterrupted:
		return "interrupted"
	case StateClosing:
		return "closing"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// ParseSessionState maps the String form back to a state.
func ParseSessionState(s string) (SessionState, bool) {
	for state := StateDisconnected; state <= StateFailed; state++ {
		if state.String() == s {
			return state, true
		}
	}
	return 0, false
}

// Active reports whether a conversation is running.
func (s SessionState) Active() bool {
	return s == StateStreaming || s == StateInterrupted
}

var validTransitions = map[SessionState][]SessionState{
	StateDisconnected: {StateConnecting},
	StateConnecting:   {StateConnected, StateFailed, StateClosing},
	StateConnected:    {StateStreaming, StateClosing, StateFailed},
	StateStreaming:    {StateInterrupted, StateConnected, StateFailed},
	StateInterrupted:  {StateStreaming, StateConnected, StateFailed},
	StateClosing:      {StateDisconnected, StateFailed},
	StateFailed:       {StateConnecting, StateClosing},
}

func canTransition(from, to SessionState) bool {
	return slices.Contains(validTransitions[from], to)
}

// InvalidTransitionError is returned for a command that is not allowed in
// the current state.
type InvalidTransitionError struct {
	From SessionState
	To   SessionState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid session transition %s -> %s", e.From, e.To)
}
