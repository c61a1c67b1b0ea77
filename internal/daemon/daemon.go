package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/harun/nexus/internal/config"
	"github.com/harun/nexus/internal/logger"
	"github.com/harun/nexus/internal/observability"
	"github.com/harun/nexus/internal/tracing"
	"github.com/harun/nexus/pkg/agent"
	"github.com/harun/nexus/pkg/commandqueue"
	"github.com/harun/nexus/pkg/eventhub"
	"github.com/harun/nexus/pkg/gateway"
	"github.com/harun/nexus/pkg/planner"
	"github.com/harun/nexus/pkg/session"
	"github.com/harun/nexus/pkg/toolexecutor"
)

// Version is reported to the tracer and by the CLI. Set at build time.
var Version = "dev"

// dedupTTL is how long an idempotency key maps to its session.
const dedupTTL = 10 * time.Minute

// Daemon represents the Nexus agent service
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	// Core modules
	registry *toolexecutor.Registry
	store    *session.Store
	hub      *eventhub.Hub
	queue    *commandqueue.CommandQueue
	dedup    *commandqueue.DedupCache
	planner  planner.Planner
	engine   *agent.Engine

	// Services
	gatewayServer *gateway.Server
	archiver      session.Archiver
	cleanup       *session.Cleanup

	// Internal
	eventLoop *EventLoop
	lifecycle *LifecycleManager

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	observability.EnsureRegistered()
	d := &Daemon{
		config: cfg,
		logger: log,
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(cfg.Tracing.ServiceName, Version, cfg.Tracing.SampleRatio); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracingEnabled = true
			log.Info().Msg("Tracing initialized successfully")
		}
	}

	// Initialize core modules in dependency order
	if err := d.initializeCoreModules(); err != nil {
		d.abort()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	// Initialize services
	if err := d.initializeServices(); err != nil {
		d.abort()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	d.eventLoop = NewEventLoop(d)
	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

// abort releases what a failed New already acquired.
func (d *Daemon) abort() {
	d.cancel()
	if d.dedup != nil {
		d.dedup.Stop()
	}
	if d.queue != nil {
		_ = d.queue.Close()
	}
	if d.archiver != nil {
		_ = d.archiver.Close()
	}
	if d.tracingEnabled {
		_ = tracing.ShutdownOpenTelemetry(context.Background())
		d.tracingEnabled = false
	}
}

// initializeCoreModules builds the tool registry, the session store, the
// event hub, the admission queue and the planner.
func (d *Daemon) initializeCoreModules() error {
	auditPath := d.config.AuditFile
	if auditPath == "" {
		auditPath = filepath.Join(d.config.DataDir, "audit.log")
	}
	if err := observability.InitAuditLogger(auditPath); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to initialize audit logger, audit records are discarded")
	} else {
		d.logger.Info().Str("path", auditPath).Msg("Audit logger initialized")
	}

	registry, err := buildRegistry(d.config.Tools, d.logger.Component("tools"))
	if err != nil {
		return err
	}
	d.registry = registry
	d.logger.Info().Strs("tools", registry.Names()).Str("provider", d.config.Tools.Provider).Msg("Tool registry sealed")

	d.store = session.NewStore(session.WithLogger(d.logger.Component("sessions")))
	d.hub = eventhub.New(d.config.Engine.EventBuffer, d.logger.Component("eventhub"))
	d.logger.Info().Int("buffer", d.config.Engine.EventBuffer).Msg("Session store and event hub initialized")

	d.queue = commandqueue.New(d.config.Engine.MaxConcurrentSessions, d.logger.Component("queue"))
	d.bindQueueHooks()
	d.dedup = commandqueue.NewDedupCache(d.ctx, dedupTTL)
	d.logger.Info().Int("capacity", d.queue.Capacity()).Msg("Command queue initialized")

	p, err := buildPlanner(d.config.Planner, registry.List(), d.logger.Component("planner"))
	if err != nil {
		return err
	}
	d.planner = p
	d.logger.Info().Str("planner", p.Name()).Msg("Planner initialized")

	archiver, err := buildArchiver(d.config.Sessions.Archive)
	if err != nil {
		return err
	}
	d.archiver = archiver
	if archiver != nil {
		d.logger.Info().Str("backend", archiver.Name()).Msg("Session archiver initialized")
	}

	return nil
}

// initializeServices builds the engine, the retention janitor and the gateway.
func (d *Daemon) initializeServices() error {
	engineCfg := d.config.Engine
	engine, err := agent.NewEngine(agent.Config{
		Store:          d.store,
		Registry:       d.registry,
		Dispatcher:     toolexecutor.NewDispatcher(d.logger.Component("dispatcher")),
		Planner:        d.planner,
		Hub:            d.hub,
		Queue:          d.queue,
		Dedup:          d.dedup,
		Archiver:       d.archiver,
		Logger:         d.logger.GetZerolog(),
		MaxSteps:       engineCfg.MaxSteps,
		RetryBudget:    engineCfg.RetryBudget,
		SessionTimeout: engineCfg.SessionTimeout,
		StepTimeout:    engineCfg.StepTimeout,
		Backoff: agent.BackoffConfig{
			Initial:    engineCfg.Backoff.Initial,
			Max:        engineCfg.Backoff.Max,
			Multiplier: engineCfg.Backoff.Multiplier,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create agent engine: %w", err)
	}
	d.engine = engine

	opts := []session.CleanupOption{
		session.WithCleanupLogger(d.logger.Component("cleanup")),
		session.OnEvict(d.hub.Remove),
	}
	if d.archiver != nil {
		opts = append(opts, session.WithArchiver(d.archiver))
	}
	d.cleanup = session.NewCleanup(d.store, d.config.Sessions.Retention, d.config.Sessions.CleanupSchedule, opts...)

	server, err := gateway.NewServer(gateway.Config{
		Host:              d.config.Server.Host,
		Port:              d.config.Server.Port,
		ReadTimeout:       d.config.Server.ReadTimeout,
		Engine:            engine,
		RequestsPerSecond: d.config.Server.RateLimit.RequestsPerSecond,
		Burst:             d.config.Server.RateLimit.Burst,
		Logger:            d.logger.GetZerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway server: %w", err)
	}
	d.gatewayServer = server
	return nil
}

// Start starts the daemon service
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Str("version", Version).Msg("Starting Nexus daemon")

	if err := d.lifecycle.Start(); err != nil {
		d.markStopped()
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if err := d.cleanup.Start(); err != nil {
		logger.Warn().Err(err).Msg("Failed to start session cleanup")
	} else {
		logger.Info().Msg("Session cleanup started")
	}

	if err := d.gatewayServer.Start(); err != nil {
		_ = d.cleanup.Stop()
		_ = d.lifecycle.Stop()
		d.markStopped()
		return fmt.Errorf("failed to start gateway server: %w", err)
	}
	logger.Info().Str("addr", d.gatewayServer.Addr()).Msg("Gateway server started")

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.eventLoop.Run(d.ctx)
	}()

	logger.Info().Msg("Daemon started successfully")
	return nil
}

func (d *Daemon) markStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// Stop drains running sessions and stops every service.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	logger := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	logger.Info().Msg("Stopping Nexus daemon")

	timeout := d.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Sessions first, so open streams end with a terminal event.
	if err := d.engine.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Failed to drain running sessions")
	}
	d.eventLoop.HandleShutdown(shutdownCtx)

	if err := d.gatewayServer.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Failed to stop gateway server")
	}

	if d.cleanup.IsRunning() {
		if err := d.cleanup.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop session cleanup")
		}
	}

	d.dedup.Stop()
	if err := d.queue.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close command queue")
	}
	logger.Info().Msg("Command queue stopped")

	if d.archiver != nil {
		if err := d.archiver.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close session archiver")
		}
	}

	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("All goroutines stopped")
	case <-time.After(5 * time.Second):
		logger.Warn().Msg("Timeout waiting for goroutines to stop")
	}

	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	if d.tracingEnabled {
		if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		d.tracingEnabled = false
	}

	if err := observability.GetAuditLogger().Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close audit logger")
	}

	logger.Info().Msg("Daemon stopped successfully")
	return nil
}

// Status represents daemon status
type Status struct {
	Running        bool
	Uptime         time.Duration
	StartTime      time.Time
	ActiveSessions int
	Addr           string
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running:        d.running,
		ActiveSessions: d.engine.Running(),
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
		status.Addr = d.gatewayServer.Addr()
	}

	return status
}

// Wait blocks until SIGINT or SIGTERM, then stops the daemon.
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetLogger returns the daemon logger
func (d *Daemon) GetLogger() *logger.Logger {
	return d.logger
}

// GetEngine returns the agent engine
func (d *Daemon) GetEngine() *agent.Engine {
	return d.engine
}

// GetQueue returns the admission queue
func (d *Daemon) GetQueue() *commandqueue.CommandQueue {
	return d.queue
}

// GetStore returns the session store
func (d *Daemon) GetStore() *session.Store {
	return d.store
}

// GetGatewayServer returns the gateway server
func (d *Daemon) GetGatewayServer() *gateway.Server {
	return d.gatewayServer
}

// GetCleanup returns the retention janitor
func (d *Daemon) GetCleanup() *session.Cleanup {
	return d.cleanup
}
