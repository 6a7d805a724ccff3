package events

const (
	// KindSessionStateChanged identifies a session state transition.
	KindSessionStateChanged Kind = "session_state.changed"
	// KindSessionError identifies an error reported by the server or the
	// client that did not end the session.
	KindSessionError Kind = "session_state.error"
	// KindConnectionStatus identifies transport reconnect progress.
	KindConnectionStatus Kind = "session_state.connection_status"
)

// SessionStateChanged carries a transition. Reason is set for transitions
// caused by a failure.
type SessionStateChanged struct {
	Base
	From   string
	To     string
	Reason string
}

// NewSessionStateChanged creates a session state change event.
func NewSessionStateChanged(from, to, reason string) SessionStateChanged {
	return SessionStateChanged{Base: NewBase(KindSessionStateChanged), From: from, To: to, Reason: reason}
}

// SessionError carries a non-fatal error.
type SessionError struct {
	Base
	Code    string
	Message string
}

// NewSessionError creates a session error event.
func NewSessionError(code, message string) SessionError {
	return SessionError{Base: NewBase(KindSessionError), Code: code, Message: message}
}

// ConnectionStatus reports reconnect attempts and their outcome.
type ConnectionStatus struct {
	Base
	Status  string
	Attempt int
	Err     error
}

// NewConnectionStatus creates a connection status event.
func NewConnectionStatus(status string, attempt int, err error) ConnectionStatus {
	return ConnectionStatus{Base: NewBase(KindConnectionStatus), Status: status, Attempt: attempt, Err: err}
}
