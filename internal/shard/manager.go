package shard

import (
	"context"
	"log"
	"sync"

	"shardgate/internal/gateway"
	"shardgate/pkg/types"
)

// Manager owns the shard fleet. Shards are constructed and logged in
// sequentially; the admission controller paces the logins.
type Manager struct {
	cfg   Config
	total int
	admit Admitter
	queue *gateway.ReconnectQueue
	store Store

	mu     sync.RWMutex
	shards []*Shard
}

// NewManager creates a manager for a fleet of total shards.
func NewManager(cfg Config, total int, admit Admitter, queue *gateway.ReconnectQueue, store Store) *Manager {
	return &Manager{
		cfg:   cfg,
		total: total,
		admit: admit,
		queue: queue,
		store: store,
	}
}

// Start constructs and starts every shard in order. A shard that fails to
// log in is kept: the watchdog or an operator can revive it later.
func (m *Manager) Start(ctx context.Context) error {
	for id := 0; id < m.total; id++ {
		sh := New(types.ShardInfo{ShardID: id, ShardTotal: m.total}, m.cfg, m.admit, m.queue, m.store)
		m.mu.Lock()
		m.shards = append(m.shards, sh)
		m.mu.Unlock()

		if err := sh.Start(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("Failed to start shard %s: %v", sh.Info(), err)
		}
	}
	log.Printf("Started %d shards", m.total)
	return nil
}

// Shards returns the current fleet.
func (m *Manager) Shards() []*Shard {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Shard, len(m.shards))
	copy(out, m.shards)
	return out
}

// Shard looks a shard up by ID.
func (m *Manager) Shard(id int) (*Shard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id < 0 || id >= len(m.shards) {
		return nil, ErrUnknownShard
	}
	return m.shards[id], nil
}

// Snapshots captures the state of the whole fleet.
func (m *Manager) Snapshots() []types.ShardSnapshot {
	shards := m.Shards()
	out := make([]types.ShardSnapshot, len(shards))
	for i, sh := range shards {
		out[i] = sh.Snapshot()
	}
	return out
}

// Revive revives a single shard by ID.
func (m *Manager) Revive(ctx context.Context, id int, force bool) error {
	sh, err := m.Shard(id)
	if err != nil {
		return err
	}
	return sh.Revive(ctx, force)
}

// Stop shuts every shard down, persisting resume state.
func (m *Manager) Stop() {
	for _, sh := range m.Shards() {
		sh.Stop()
	}
	log.Printf("All shards stopped")
}
