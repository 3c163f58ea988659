package shard

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"shardgate/internal/database"
	"shardgate/internal/gateway"
	"shardgate/pkg/types"
)

// Admitter gates every session establishment. Reconnects driven by the queue
// worker are the exception: the worker's run already holds the token.
type Admitter interface {
	RequestAdmission(ctx context.Context, requester string) error
}

// Store persists resume state between connections.
type Store interface {
	SaveSession(ctx context.Context, state *types.SessionState) error
	GetSession(ctx context.Context, shardID int) (*types.SessionState, error)
	DeleteSession(ctx context.Context, shardID int) error
}

// Config carries the connection settings shared by all shards.
type Config struct {
	GatewayURL       string
	Token            string
	HandshakeTimeout time.Duration
}

// Shard is one numbered slice of the gateway session space. It owns at most
// one connection at a time and goes through the admission controller for
// every login except queue-driven reconnects.
type Shard struct {
	info  types.ShardInfo
	cfg   Config
	admit Admitter
	queue *gateway.ReconnectQueue
	store Store

	mu         sync.RWMutex
	conn       *gateway.Conn
	status     string
	statusAt   time.Time
	baseEvents int64 // events received on previous connections
	revives    int
}

// New creates an idle shard. Start performs the first login.
func New(info types.ShardInfo, cfg Config, admit Admitter, queue *gateway.ReconnectQueue, store Store) *Shard {
	return &Shard{
		info:     info,
		cfg:      cfg,
		admit:    admit,
		queue:    queue,
		store:    store,
		status:   types.StatusIdle,
		statusAt: time.Now(),
	}
}

// Info returns the shard's identity.
func (s *Shard) Info() types.ShardInfo {
	return s.info
}

// ShardID implements gateway.Session.
func (s *Shard) ShardID() int {
	return s.info.ShardID
}

// Start performs the initial admission-gated login, resuming a persisted
// session when one exists.
func (s *Shard) Start(ctx context.Context) error {
	if err := s.admit.RequestAdmission(ctx, s.info.ShardString()); err != nil {
		return err
	}
	if err := s.connect(ctx, s.loadResume(ctx)); err != nil {
		return err
	}
	s.persistSession(ctx)
	return nil
}

// Reconnect re-establishes the session after a drop. It runs on the queue's
// worker goroutine under an active reconnect run, so no admission request
// happens here; the run's token already covers this login.
func (s *Shard) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.status == types.StatusShutdown {
		s.mu.Unlock()
		return ErrShardShutdown
	}
	old := s.detachLocked()
	s.mu.Unlock()

	resume := s.closeAndSnapshot(old)
	if resume == nil {
		resume = s.loadResume(ctx)
	}

	if err := s.connect(ctx, resume); err != nil {
		// The queue requeues us; stay in reconnecting until it retries.
		s.setStatus(types.StatusReconnecting)
		return err
	}
	s.persistSession(ctx)
	return nil
}

// Revive tears the session down and performs a fresh admission-gated
// identify, discarding any resume state. force revives even a shard that is
// mid-reconnect.
func (s *Shard) Revive(ctx context.Context, force bool) error {
	s.mu.Lock()
	if s.status == types.StatusShutdown {
		s.mu.Unlock()
		return ErrShardShutdown
	}
	if !force && s.status == types.StatusReconnecting {
		s.mu.Unlock()
		return ErrShardReconnecting
	}
	old := s.detachLocked()
	s.revives++
	s.mu.Unlock()

	log.Printf("Reviving shard %s (force=%t)", s.info, force)
	if old != nil {
		_ = old.Close()
	}
	if s.store != nil {
		if err := s.store.DeleteSession(ctx, s.info.ShardID); err != nil &&
			!errors.Is(err, database.ErrSessionNotFound) {
			log.Printf("Failed to discard session of shard %s: %v", s.info, err)
		}
	}

	if err := s.admit.RequestAdmission(ctx, "revive "+s.info.ShardString()); err != nil {
		s.setStatus(types.StatusDisconnected)
		return err
	}
	if err := s.connect(ctx, nil); err != nil {
		return err
	}
	s.persistSession(ctx)
	return nil
}

// connect dials the gateway and installs the new connection.
func (s *Shard) connect(ctx context.Context, resume *types.SessionState) error {
	s.setStatus(types.StatusConnecting)

	conn, err := gateway.Dial(ctx, gateway.ConnConfig{
		URL:              s.cfg.GatewayURL,
		Token:            s.cfg.Token,
		Info:             s.info,
		HandshakeTimeout: s.cfg.HandshakeTimeout,
		Resume:           resume,
		OnDisconnect:     s.handleDisconnect,
	})
	if err != nil {
		s.setStatus(types.StatusDisconnected)
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.status = types.StatusConnected
	s.statusAt = time.Now()
	s.mu.Unlock()
	return nil
}

// handleDisconnect is invoked by the connection when it drops. The shard
// saves what it can and hands itself to the reconnect queue.
func (s *Shard) handleDisconnect(err error) {
	s.mu.RLock()
	shutdown := s.status == types.StatusShutdown
	s.mu.RUnlock()
	if shutdown {
		return
	}

	s.persistSession(context.Background())
	s.setStatus(types.StatusReconnecting)
	if qerr := s.queue.Append(s); qerr != nil {
		log.Printf("Failed to queue shard %s for reconnect: %v", s.info, qerr)
		s.setStatus(types.StatusDisconnected)
	}
}

// detachLocked removes the current connection without closing it. Callers
// hold s.mu and close the returned connection themselves.
func (s *Shard) detachLocked() *gateway.Conn {
	old := s.conn
	s.conn = nil
	if old != nil {
		s.baseEvents += old.EventCount()
	}
	return old
}

// closeAndSnapshot closes a detached connection and returns its resume state.
func (s *Shard) closeAndSnapshot(old *gateway.Conn) *types.SessionState {
	if old == nil {
		return nil
	}
	state := old.Session()
	_ = old.Close()
	return state
}

func (s *Shard) loadResume(ctx context.Context) *types.SessionState {
	if s.store == nil {
		return nil
	}
	state, err := s.store.GetSession(ctx, s.info.ShardID)
	if err != nil {
		if !errors.Is(err, database.ErrSessionNotFound) {
			log.Printf("Failed to load session of shard %s: %v", s.info, err)
		}
		return nil
	}
	return state
}

func (s *Shard) persistSession(ctx context.Context) {
	if s.store == nil {
		return
	}
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return
	}
	state := conn.Session()
	if state == nil {
		return
	}
	if err := s.store.SaveSession(ctx, state); err != nil {
		log.Printf("Failed to persist session of shard %s: %v", s.info, err)
	}
}

// Status returns the shard's lifecycle status.
func (s *Shard) Status() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// LastEvent returns when the shard last heard from the gateway, or the last
// status change while no connection is up.
func (s *Shard) LastEvent() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.conn != nil {
		return s.conn.LastEvent()
	}
	return s.statusAt
}

// EventCount returns how many gateway frames this shard has received across
// all of its connections.
func (s *Shard) EventCount() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := s.baseEvents
	if s.conn != nil {
		n += s.conn.EventCount()
	}
	return n
}

// Revives returns how many times this shard has been revived.
func (s *Shard) Revives() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revives
}

// Snapshot captures the shard's state for the ops API.
func (s *Shard) Snapshot() types.ShardSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := types.ShardSnapshot{
		ShardInfo:  s.info,
		Status:     s.status,
		EventCount: s.baseEvents,
		Revives:    s.revives,
		LastEvent:  s.statusAt,
	}
	if s.conn != nil {
		snap.EventCount += s.conn.EventCount()
		snap.LastEvent = s.conn.LastEvent()
		if state := s.conn.Session(); state != nil {
			snap.SessionID = state.SessionID
		}
	}
	return snap
}

// Stop persists the session and closes the connection. A stopped shard
// rejects further reconnects and revives.
func (s *Shard) Stop() {
	s.persistSession(context.Background())

	s.mu.Lock()
	old := s.detachLocked()
	s.status = types.StatusShutdown
	s.statusAt = time.Now()
	s.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
}

func (s *Shard) setStatus(status string) {
	s.mu.Lock()
	s.status = status
	s.statusAt = time.Now()
	s.mu.Unlock()
}
