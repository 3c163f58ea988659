package gateway

import "errors"

// Connection-related errors
var (
	ErrConnClosed       = errors.New("gateway connection closed")
	ErrHandshakeFailed  = errors.New("gateway handshake failed")
	ErrUnexpectedOpcode = errors.New("unexpected gateway opcode")
)

// Queue-related errors
var (
	ErrNilSession  = errors.New("session cannot be nil")
	ErrQueueClosed = errors.New("reconnect queue is closed")
)
