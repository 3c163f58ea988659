package types

// Validate ensures the shard identity is internally consistent.
// Validation at type level keeps every component that handles shard IDs
// from re-implementing the range check.
func (si ShardInfo) Validate() error {
	if si.ShardTotal < 1 {
		return ErrInvalidShardTotal
	}
	if si.ShardID < 0 || si.ShardID >= si.ShardTotal {
		return ErrInvalidShardID
	}
	return nil
}

// Validate ensures resume state is usable before it is persisted.
func (s *SessionState) Validate() error {
	if s.SessionID == "" {
		return ErrEmptySessionID
	}
	if s.Sequence < 0 {
		return ErrNegativeSequence
	}
	return nil
}

// IsValidStatus checks a status string against the known set.
func IsValidStatus(status string) bool {
	switch status {
	case StatusIdle, StatusConnecting, StatusConnected,
		StatusReconnecting, StatusDisconnected, StatusShutdown:
		return true
	default:
		return false
	}
}

// IsValidReviveReason checks a revive reason against the known set.
func IsValidReviveReason(reason string) bool {
	switch reason {
	case ReviveReasonWatchdog, ReviveReasonOperator:
		return true
	default:
		return false
	}
}
