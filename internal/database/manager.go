package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"shardgate/pkg/types"
)

// schema holds the two tables this process needs: resume state per shard and
// the revive audit log.
const schema = `
CREATE TABLE IF NOT EXISTS shard_sessions (
	shard_id   INTEGER PRIMARY KEY,
	session_id TEXT NOT NULL,
	sequence   INTEGER NOT NULL DEFAULT 0,
	resume_url TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS revives (
	id         TEXT PRIMARY KEY,
	shard_id   INTEGER NOT NULL,
	reason     TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_revives_shard ON revives(shard_id, created_at);
`

// Manager is the sqlite-backed store for shard resume state and the revive
// log. All writes funnel through a single goroutine; sqlite handles
// concurrent reads fine but serializing writes avoids lock contention.
type Manager struct {
	db           *sql.DB
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

// writeOperation represents a queued database write.
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens (and if necessary initializes) the database at path.
func NewManager(path string, timeout time.Duration) (*Manager, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(timeout)
	db.SetConnMaxIdleTime(timeout / 3)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	m := &Manager{
		db:           db,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	m.wg.Add(1)
	go m.writeLoop()

	return m, nil
}

// writeLoop processes all write operations in a single goroutine, retrying
// each failed write exactly once.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil {
				log.Printf("Database write failed, retrying once: %v", err)
				err = op.operation(m.db)
				if err != nil {
					log.Printf("Database write failed after retry: %v", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			log.Println("Database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion.
func (m *Manager) executeWrite(operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return ErrWriteTimeout
	case <-m.shutdown:
		return ErrManagerClosed
	}
}

// SaveSession upserts one shard's resume state.
func (m *Manager) SaveSession(ctx context.Context, state *types.SessionState) error {
	if err := state.Validate(); err != nil {
		return err
	}
	return m.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT INTO shard_sessions (shard_id, session_id, sequence, resume_url, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(shard_id) DO UPDATE SET
				session_id = excluded.session_id,
				sequence   = excluded.sequence,
				resume_url = excluded.resume_url,
				updated_at = excluded.updated_at
		`
		_, err := db.ExecContext(ctx, query,
			state.ShardID,
			state.SessionID,
			state.Sequence,
			state.ResumeURL,
			state.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert shard session: %w", err)
		}
		return nil
	})
}

// GetSession retrieves one shard's resume state.
func (m *Manager) GetSession(ctx context.Context, shardID int) (*types.SessionState, error) {
	query := `
		SELECT shard_id, session_id, sequence, resume_url, updated_at
		FROM shard_sessions
		WHERE shard_id = ?
	`
	row := m.db.QueryRowContext(ctx, query, shardID)

	var state types.SessionState
	err := row.Scan(
		&state.ShardID,
		&state.SessionID,
		&state.Sequence,
		&state.ResumeURL,
		&state.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query shard session: %w", err)
	}
	return &state, nil
}

// DeleteSession discards one shard's resume state, typically before a forced
// fresh identify.
func (m *Manager) DeleteSession(ctx context.Context, shardID int) error {
	return m.executeWrite(func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx, `DELETE FROM shard_sessions WHERE shard_id = ?`, shardID); err != nil {
			return fmt.Errorf("failed to delete shard session: %w", err)
		}
		return nil
	})
}

// ListSessions returns all stored resume states ordered by shard ID.
func (m *Manager) ListSessions(ctx context.Context) ([]*types.SessionState, error) {
	query := `
		SELECT shard_id, session_id, sequence, resume_url, updated_at
		FROM shard_sessions
		ORDER BY shard_id ASC
	`
	rows, err := m.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query shard sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var states []*types.SessionState
	for rows.Next() {
		var state types.SessionState
		err := rows.Scan(
			&state.ShardID,
			&state.SessionID,
			&state.Sequence,
			&state.ResumeURL,
			&state.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan shard session row: %w", err)
		}
		states = append(states, &state)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating shard session rows: %w", err)
	}
	return states, nil
}

// RecordRevive appends one entry to the revive audit log.
func (m *Manager) RecordRevive(ctx context.Context, shardID int, reason string) error {
	if !types.IsValidReviveReason(reason) {
		return types.ErrInvalidReason
	}
	return m.executeWrite(func(db *sql.DB) error {
		query := `INSERT INTO revives (id, shard_id, reason, created_at) VALUES (?, ?, ?, ?)`
		_, err := db.ExecContext(ctx, query, uuid.NewString(), shardID, reason, time.Now())
		if err != nil {
			return fmt.Errorf("failed to insert revive record: %w", err)
		}
		return nil
	})
}

// ListRevives returns the most recent revive records, newest first.
func (m *Manager) ListRevives(ctx context.Context, limit int) ([]*types.Revive, error) {
	query := `
		SELECT id, shard_id, reason, created_at
		FROM revives
		ORDER BY created_at DESC
		LIMIT ?
	`
	rows, err := m.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query revives: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var revives []*types.Revive
	for rows.Next() {
		var r types.Revive
		if err := rows.Scan(&r.ID, &r.ShardID, &r.Reason, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan revive row: %w", err)
		}
		revives = append(revives, &r)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating revive rows: %w", err)
	}
	return revives, nil
}

// HealthCheck validates database connectivity.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := m.db.QueryContext(ctx, "SELECT COUNT(*) FROM shard_sessions LIMIT 1"); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Close shuts down the database manager.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
