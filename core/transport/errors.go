package transport

import "errors"

var (
	ErrConnectFailed  = errors.New("connect failed")
	ErrAuthRejected   = errors.New("authentication rejected")
	ErrConnectionLost = errors.New("connection lost")

	ErrQueueFull    = errors.New("outbound queue full")
	ErrNotConnected = errors.New("not connected")
	ErrClosed       = errors.New("channel closed")
)
