package shard

import "errors"

// Shard lifecycle error types
var (
	ErrUnknownShard      = errors.New("no shard with that ID")
	ErrShardReconnecting = errors.New("shard is already reconnecting")
	ErrShardShutdown     = errors.New("shard has been shut down")
)
