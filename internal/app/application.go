package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"shardgate/internal/admission"
	"shardgate/internal/api"
	"shardgate/internal/config"
	"shardgate/internal/database"
	"shardgate/internal/gateway"
	"shardgate/internal/shard"
	"shardgate/internal/watchdog"
)

// Application wires every component together. Initialization order follows
// the dependency chain: database, reconnect queue, admission controller,
// shard manager, watchdog, API.
type Application struct {
	config        *config.Config
	dbManager     *database.Manager
	queue         *gateway.ReconnectQueue
	controller    *admission.Controller
	shardManager  *shard.Manager
	watchdogAgent *watchdog.Agent
	apiServer     *api.Server
	httpServer    *http.Server
}

// NewApplication builds the component graph from a validated configuration.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dbManager, err := database.NewManager(cfg.Database.Path, cfg.Database.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	queue := gateway.NewReconnectQueue(cfg.Gateway.ReconnectSpacing)
	controller := admission.NewController(queue, cfg.Gateway.ConnectDelay)
	// The hook closes the loop: queued sessions trigger reconnect runs.
	queue.SetHook(controller.ReconnectRequested)

	shardManager := shard.NewManager(shard.Config{
		GatewayURL:       cfg.Gateway.URL,
		Token:            cfg.Gateway.Token,
		HandshakeTimeout: cfg.Gateway.HandshakeTimeout,
	}, cfg.Gateway.ShardCount, controller, queue, dbManager)

	watchdogAgent := watchdog.NewAgent(watchdog.Config{
		Interval:          cfg.Watchdog.Interval,
		AcceptableSilence: cfg.Watchdog.SilenceFor(cfg.Gateway.ShardCount),
		MinEvents:         cfg.Watchdog.MinEvents,
	}, func() []watchdog.Target {
		shards := shardManager.Shards()
		targets := make([]watchdog.Target, len(shards))
		for i, sh := range shards {
			targets[i] = sh
		}
		return targets
	}, dbManager)

	apiServer := api.NewServer(shardManager, controller, dbManager)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:        cfg,
		dbManager:     dbManager,
		queue:         queue,
		controller:    controller,
		shardManager:  shardManager,
		watchdogAgent: watchdogAgent,
		apiServer:     apiServer,
		httpServer:    httpServer,
	}, nil
}

// Start brings the system up: HTTP surface and watchdog first, then the
// shard fleet logs in on a background goroutine. The fleet takes
// shard_count * connect_delay to come up, so startup does not wait for it.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting shardgate on %s, %d shards", app.httpServer.Addr, app.config.Gateway.ShardCount)

	if err := app.watchdogAgent.Start(ctx); err != nil {
		return fmt.Errorf("failed to start watchdog: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		_ = app.watchdogAgent.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		// Server is up, start the fleet.
	case <-ctx.Done():
		_ = app.watchdogAgent.Stop()
		return ctx.Err()
	}

	go func() {
		if err := app.shardManager.Start(ctx); err != nil {
			log.Printf("Shard fleet startup aborted: %v", err)
		}
	}()

	log.Printf("shardgate started")
	return nil
}

// Stop shuts everything down in reverse dependency order: HTTP, watchdog,
// admission, queue, fleet, database.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down shardgate")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	if err := app.watchdogAgent.Stop(); err != nil && err != watchdog.ErrAgentNotRunning {
		log.Printf("Watchdog shutdown error: %v", err)
	}

	app.queue.Close()
	if err := app.controller.Close(); err != nil {
		log.Printf("Admission controller shutdown error: %v", err)
	}

	app.shardManager.Stop()

	if err := app.dbManager.Close(); err != nil {
		log.Printf("Database shutdown error: %v", err)
	}

	log.Printf("shardgate shutdown complete")
	return nil
}

// GetAddr returns the HTTP server address.
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}
