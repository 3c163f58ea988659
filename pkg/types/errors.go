package types

import "errors"

// Validation error types shared across components so callers can match on
// sentinel values instead of parsing messages.
var (
	ErrInvalidShardID    = errors.New("shard ID must be in range [0, shard_total)")
	ErrInvalidShardTotal = errors.New("shard total must be at least 1")
	ErrInvalidStatus     = errors.New("invalid shard status")
	ErrInvalidReason     = errors.New("invalid revive reason")
	ErrEmptySessionID    = errors.New("session ID cannot be empty")
	ErrNegativeSequence  = errors.New("sequence cannot be negative")
)
