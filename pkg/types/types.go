package types

import (
	"fmt"
	"time"
)

// Shard status constants defined as strings so they serialize cleanly
// over the status API and into the revive log.
const (
	StatusIdle         = "idle"
	StatusConnecting   = "connecting"
	StatusConnected    = "connected"
	StatusReconnecting = "reconnecting"
	StatusDisconnected = "disconnected"
	StatusShutdown     = "shutdown"
)

// Revive reason constants shared by the watchdog and the ops API.
const (
	ReviveReasonWatchdog = "watchdog"
	ReviveReasonOperator = "operator"
)

// ShardInfo identifies one shard within the fleet.
type ShardInfo struct {
	ShardID    int `json:"shard_id"`
	ShardTotal int `json:"shard_total"`
}

// ShardString renders the shard identity in the fixed-width form used in logs,
// e.g. "[02 / 16]".
func (si ShardInfo) ShardString() string {
	return fmt.Sprintf("[%02d / %02d]", si.ShardID, si.ShardTotal)
}

func (si ShardInfo) String() string {
	return si.ShardString()
}

// SessionState is the resume state of one shard's gateway session.
// Persisted so a restarted process can resume instead of re-identifying.
type SessionState struct {
	ShardID   int       `json:"shard_id" db:"shard_id"`
	SessionID string    `json:"session_id" db:"session_id"`
	Sequence  int64     `json:"sequence" db:"sequence"`
	ResumeURL string    `json:"resume_url" db:"resume_url"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Revive is one entry of the revive audit log.
type Revive struct {
	ID        string    `json:"id" db:"id"`
	ShardID   int       `json:"shard_id" db:"shard_id"`
	Reason    string    `json:"reason" db:"reason"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ShardSnapshot is a point-in-time view of one shard for the status API.
type ShardSnapshot struct {
	ShardInfo  ShardInfo `json:"shard_info"`
	Status     string    `json:"status"`
	SessionID  string    `json:"session_id,omitempty"`
	LastEvent  time.Time `json:"last_event"`
	EventCount int64     `json:"event_count"`
	Revives    int       `json:"revives"`
}
