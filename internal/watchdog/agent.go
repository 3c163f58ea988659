package watchdog

import (
	"context"
	"log"
	"sync"
	"time"

	"shardgate/pkg/types"
)

// Target is one supervised shard.
type Target interface {
	Info() types.ShardInfo
	Status() string
	LastEvent() time.Time
	EventCount() int64
	Revive(ctx context.Context, force bool) error
}

// Recorder persists revive decisions for the audit log.
type Recorder interface {
	RecordRevive(ctx context.Context, shardID int, reason string) error
}

// Config tunes the watchdog.
type Config struct {
	// Interval between inspections.
	Interval time.Duration

	// AcceptableSilence is how long a shard may go without any gateway
	// frame before it is considered dead.
	AcceptableSilence time.Duration

	// MinEvents is the lifetime event count a shard must have reached
	// before the watchdog trusts its silence reading. Freshly started
	// shards are quiet for legitimate reasons.
	MinEvents int64
}

// Agent periodically inspects the shard fleet and revives shards that have
// gone silent. Revives go through the admission controller like any other
// login, so a dead fleet comes back paced, not all at once.
type Agent struct {
	cfg      Config
	targets  func() []Target
	recorder Recorder

	mu       sync.Mutex
	running  bool
	shutdown chan struct{}
	stopped  chan struct{}
}

// NewAgent creates a watchdog over the fleet returned by targets. targets is
// called on every inspection so late-constructed shards are picked up.
func NewAgent(cfg Config, targets func() []Target, recorder Recorder) *Agent {
	return &Agent{
		cfg:      cfg,
		targets:  targets,
		recorder: recorder,
	}
}

// Start launches the inspection loop.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return ErrAgentAlreadyRunning
	}
	a.running = true
	a.shutdown = make(chan struct{})
	a.stopped = make(chan struct{})

	go a.run(ctx, a.shutdown, a.stopped)
	log.Printf("Watchdog started, interval %v, acceptable silence %v",
		a.cfg.Interval, a.cfg.AcceptableSilence)
	return nil
}

// Stop shuts the inspection loop down and waits for it to exit.
func (a *Agent) Stop() error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return ErrAgentNotRunning
	}
	a.running = false
	shutdown, stopped := a.shutdown, a.stopped
	a.mu.Unlock()

	close(shutdown)
	<-stopped
	log.Printf("Watchdog stopped")
	return nil
}

func (a *Agent) run(ctx context.Context, shutdown, stopped chan struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.inspect(ctx)
		case <-shutdown:
			return
		case <-ctx.Done():
			return
		}
	}
}

// inspect walks the fleet once and revives anything that has been silent
// for too long. Revives run synchronously: the admission delay between them
// is exactly the pacing we want.
func (a *Agent) inspect(ctx context.Context) {
	for _, t := range a.targets() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		a.inspectOne(ctx, t)
	}
}

func (a *Agent) inspectOne(ctx context.Context, t Target) {
	switch t.Status() {
	case types.StatusConnecting, types.StatusReconnecting:
		// Already on its way back, leave it alone.
		return
	case types.StatusIdle, types.StatusShutdown:
		return
	}

	silence := time.Since(t.LastEvent())
	if silence <= a.cfg.AcceptableSilence {
		return
	}
	if t.EventCount() < a.cfg.MinEvents {
		log.Printf("Shard %s has been silent for %v but only received %d events, not reviving yet",
			t.Info(), silence.Round(time.Second), t.EventCount())
		return
	}

	log.Printf("Shard %s has been silent for %v, reviving", t.Info(), silence.Round(time.Second))
	if a.recorder != nil {
		if err := a.recorder.RecordRevive(ctx, t.Info().ShardID, types.ReviveReasonWatchdog); err != nil {
			log.Printf("Failed to record revive of shard %s: %v", t.Info(), err)
		}
	}
	if err := t.Revive(ctx, false); err != nil {
		log.Printf("Failed to revive shard %s: %v", t.Info(), err)
	}
}
