package agent

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/stone-age-io/shaper/internal/config"
	"github.com/stone-age-io/shaper/internal/metrics"
	natsclient "github.com/stone-age-io/shaper/internal/nats"
	"github.com/stone-age-io/shaper/internal/scheduler"
	"github.com/stone-age-io/shaper/internal/tasks"
	"go.uber.org/zap"
)

// Agent represents the device agent
type Agent struct {
	config    *config.Config
	logger    *zap.Logger
	nats      *natsclient.Client
	scheduler *scheduler.Scheduler
	handlers  *natsclient.CommandHandlers
	executor  *tasks.Executor
	version   string
	ctx       context.Context
	cancel    context.CancelFunc
}

// New loads configuration and wires the agent. The NATS connection and
// command subscriptions are live when New returns; scheduled tasks start
// with Start or Run.
func New(configPath string, version string) (*Agent, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("Starting shaper-agent",
		zap.String("version", version),
		zap.String("device_id", cfg.DeviceID),
		zap.String("service", cfg.Service.Name),
		zap.String("manager", cfg.Service.Manager),
		zap.String("status_probe", cfg.Service.StatusProbe))

	a, err := newAgent(cfg, logger, version)
	if err != nil {
		logger.Error("Failed to start agent", zap.Error(err))
		_ = logger.Sync()
		return nil, err
	}
	return a, nil
}

func newAgent(cfg *config.Config, logger *zap.Logger, version string) (*Agent, error) {
	manager, err := tasks.NewManager(cfg.Service.Manager, cfg.Service.InitDir, tasks.ExecRunner)
	if err != nil {
		return nil, err
	}
	probe, err := tasks.NewProbe(&cfg.Service, manager, tasks.ExecRunner)
	if err != nil {
		return nil, err
	}

	reg := metrics.New()
	executor := tasks.NewExecutor(logger, &cfg.Service, manager, probe, reg)

	ctx, cancel := context.WithCancel(context.Background())

	natsClient, err := natsclient.NewClient(&cfg.NATS, "shaper-agent", logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	if cfg.Tasks.Heartbeat.Enabled || cfg.Tasks.ServiceCheck.Enabled {
		if err := natsClient.EnableJetStream(); err != nil {
			cancel()
			natsClient.Close()
			return nil, err
		}
	}

	handlers := natsclient.NewCommandHandlers(ctx, logger, cfg.SubjectPrefix, cfg.DeviceID, executor, reg)
	if err := handlers.SubscribeAll(natsClient); err != nil {
		cancel()
		natsClient.Close()
		return nil, fmt.Errorf("failed to subscribe to commands: %w", err)
	}

	sched, err := scheduler.New(logger, natsClient, executor, cfg, version, ctx)
	if err != nil {
		cancel()
		natsClient.Close()
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &Agent{
		config:    cfg,
		logger:    logger,
		nats:      natsClient,
		scheduler: sched,
		handlers:  handlers,
		executor:  executor,
		version:   version,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start begins scheduled tasks without blocking
func (a *Agent) Start() {
	a.scheduler.Start()

	a.logger.Info("Agent running",
		zap.String("device_id", a.config.DeviceID),
		zap.String("version", a.version))
}

// Run starts the agent and blocks until a shutdown signal
func (a *Agent) Run() error {
	a.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
		a.logger.Info("Received shutdown signal")
	case <-a.ctx.Done():
		a.logger.Info("Context cancelled")
	}

	return a.Shutdown()
}

// Shutdown gracefully shuts down the agent
func (a *Agent) Shutdown() error {
	a.logger.Info("Shutting down agent gracefully")

	// Ends in-flight init system calls made for requests
	a.cancel()

	if err := a.scheduler.Shutdown(); err != nil {
		a.logger.Error("Error shutting down scheduler", zap.Error(err))
	}

	if err := a.nats.Drain(a.config.NATS.DrainTimeout); err != nil {
		a.logger.Error("Error draining NATS", zap.Error(err))
	}

	a.logger.Info("Agent shutdown complete")
	_ = a.logger.Sync()
	return nil
}
