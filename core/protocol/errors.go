package protocol

import (
	"errors"
	"fmt"
)

var ErrNotWireMessage = errors.New("message is not sent as a websocket frame")

// ProtocolError reports an inbound frame that could not be decoded.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Server error codes with special handling.
const (
	CodeResponseCancelNotActive = "response_cancel_not_active"
	CodeInvalidAPIKey           = "invalid_api_key"
	CodeProtocolError           = "protocol_error"
)

// IsAuthError reports whether a server error event rejects the credential.
func IsAuthError(e ErrorEvent) bool {
	switch e.Code {
	case CodeInvalidAPIKey, "invalid_authentication", "unauthorized":
		return true
	}
	return false
}
