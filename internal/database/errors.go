package database

import "errors"

// Store-level error types
var (
	ErrSessionNotFound = errors.New("shard session not found")
	ErrManagerClosed   = errors.New("database manager is closed")
	ErrWriteTimeout    = errors.New("database write operation timed out")
)
