package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/stone-age-io/shaper/internal/config"
	"github.com/stone-age-io/shaper/internal/nats"
	"github.com/stone-age-io/shaper/internal/tasks"
	"go.uber.org/zap"
)

// Publisher sends telemetry. *nats.Client implements it.
type Publisher interface {
	PublishTelemetry(subject string, data []byte) error
}

// Scheduler runs the periodic telemetry tasks
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *zap.Logger
	publisher Publisher
	executor  *tasks.Executor
	config    *config.Config
	version   string
	ctx       context.Context
}

// New creates a scheduler with one job per enabled task. Jobs run once
// immediately after Start and then on their interval.
func New(logger *zap.Logger, publisher Publisher, executor *tasks.Executor, cfg *config.Config, version string, ctx context.Context, opts ...gocron.SchedulerOption) (*Scheduler, error) {
	opts = append([]gocron.SchedulerOption{gocron.WithLogger(newLogAdapter(logger))}, opts...)
	gs, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	s := &Scheduler{
		scheduler: gs,
		logger:    logger,
		publisher: publisher,
		executor:  executor,
		config:    cfg,
		version:   version,
		ctx:       ctx,
	}

	if cfg.Tasks.Heartbeat.Enabled {
		if err := s.addJob("heartbeat", cfg.Tasks.Heartbeat.Interval, s.publishHeartbeat); err != nil {
			_ = gs.Shutdown()
			return nil, err
		}
	}
	if cfg.Tasks.ServiceCheck.Enabled {
		if err := s.addJob("service_check", cfg.Tasks.ServiceCheck.Interval, s.publishServiceStatus); err != nil {
			_ = gs.Shutdown()
			return nil, err
		}
	}

	return s, nil
}

func (s *Scheduler) addJob(name string, interval time.Duration, fn func()) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(fn),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}

	s.logger.Info("Scheduled task",
		zap.String("task", name),
		zap.Duration("interval", interval))
	return nil
}

// Start begins running scheduled jobs
func (s *Scheduler) Start() {
	s.scheduler.Start()
}

// Shutdown stops the scheduler and waits for running jobs
func (s *Scheduler) Shutdown() error {
	return s.scheduler.Shutdown()
}

// publish marshals v and sends it on the telemetry subject for kind
func (s *Scheduler) publish(kind string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s telemetry: %w", kind, err)
	}

	subject := nats.TelemetrySubject(s.config.SubjectPrefix, s.config.DeviceID, kind)
	return s.publisher.PublishTelemetry(subject, data)
}

func (s *Scheduler) publishHeartbeat() {
	hb := s.executor.CreateHeartbeat(s.config.DeviceID, s.version)

	err := s.publish(nats.TelemetryHeartbeat, hb)
	if err != nil {
		s.logger.Warn("Failed to publish heartbeat", zap.Error(err))
	}
	s.executor.RecordHeartbeat(err)
}

func (s *Scheduler) publishServiceStatus() {
	msg := nats.ServiceTelemetry{
		DeviceID:  s.config.DeviceID,
		Services:  s.executor.GetServiceStatuses(s.ctx),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	err := s.publish(nats.TelemetryService, msg)
	if err != nil {
		s.logger.Warn("Failed to publish service status", zap.Error(err))
	}
	s.executor.RecordServiceCheck(err)
}
