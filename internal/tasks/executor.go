package tasks

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/stone-age-io/shaper/internal/config"
	"github.com/stone-age-io/shaper/internal/metrics"
	"github.com/stone-age-io/shaper/internal/service"
	"github.com/stone-age-io/shaper/internal/utils"
	"go.uber.org/zap"
)

// Executor handles all task execution for both scheduled tasks and commands
type Executor struct {
	logger          *zap.Logger
	manager         Manager
	probe           Probe
	serviceName     string
	allowedServices []string
	commandTimeout  time.Duration
	stats           *ExecutorStats
	taskStats       *TaskStats
	metrics         *metrics.Registry
}

// ExecutorStats tracks executor statistics for self-monitoring
type ExecutorStats struct {
	mu                sync.RWMutex
	startTime         time.Time
	commandsProcessed int64
	commandsErrored   int64
	lastError         string
	lastErrorTime     time.Time
}

// TaskStats tracks scheduled task execution for monitoring
type TaskStats struct {
	mu sync.RWMutex

	lastHeartbeat    time.Time
	lastServiceCheck time.Time

	heartbeatCount     int64
	serviceCheckCount  int64
	serviceCheckErrors int64
}

// AgentMetrics represents agent self-monitoring metrics
type AgentMetrics struct {
	MemoryUsageMB     float64 `json:"memory_usage_mb"`
	Goroutines        int     `json:"goroutines"`
	UptimeSeconds     int64   `json:"uptime_seconds"`
	CommandsProcessed int64   `json:"commands_processed"`
	CommandsErrored   int64   `json:"commands_errored"`
	LastError         string  `json:"last_error,omitempty"`
	LastErrorTime     string  `json:"last_error_time,omitempty"`
}

// TaskHealthMetrics represents scheduled task health
type TaskHealthMetrics struct {
	LastHeartbeat    string `json:"last_heartbeat,omitempty"`
	LastServiceCheck string `json:"last_service_check,omitempty"`

	HeartbeatCount     int64 `json:"heartbeat_count"`
	ServiceCheckCount  int64 `json:"service_check_count"`
	ServiceCheckErrors int64 `json:"service_check_errors"`
}

// Heartbeat is the periodic liveness message
type Heartbeat struct {
	DeviceID  string `json:"device_id"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
}

// NewExecutor creates a new task executor for the configured service
func NewExecutor(logger *zap.Logger, cfg *config.ServiceConfig, manager Manager, probe Probe, reg *metrics.Registry) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}

	allowed := cfg.AllowedServices
	if len(allowed) == 0 && cfg.Name != "" {
		allowed = []string{cfg.Name}
	}

	return &Executor{
		logger:          logger,
		manager:         manager,
		probe:           probe,
		serviceName:     cfg.Name,
		allowedServices: allowed,
		commandTimeout:  cfg.CommandTimeout,
		stats:           &ExecutorStats{startTime: time.Now()},
		taskStats:       &TaskStats{},
		metrics:         reg,
	}
}

// ServiceName returns the primary managed service
func (e *Executor) ServiceName() string {
	return e.serviceName
}

// commandContext bounds one init system call by the command timeout
func (e *Executor) commandContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.commandTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.commandTimeout)
}

// ControlService requests a lifecycle action for a whitelisted service.
// It returns once the init system accepted the request; callers poll
// ServiceActive to learn when the service settled.
func (e *Executor) ControlService(ctx context.Context, name, action string) (string, error) {
	if !isServiceAllowed(name, e.allowedServices) {
		return "", fmt.Errorf("service not in allowed list: %s", name)
	}

	act, err := service.ParseAction(action)
	if err != nil {
		return "", err
	}

	e.logger.Info("Controlling service",
		zap.String("service", name),
		zap.String("action", string(act)),
		zap.String("manager", e.manager.Name()))

	ctx, cancel := e.commandContext(ctx)
	defer cancel()

	err = e.manager.Control(ctx, name, act)
	e.metrics.ObserveServiceAction(name, string(act), err)
	if err != nil {
		e.logger.Error("Service action failed",
			zap.String("service", name),
			zap.String("action", string(act)),
			zap.Error(err))
		return "", err
	}

	return fmt.Sprintf("Service %s %s requested", name, act), nil
}

// ServiceActive runs the configured status probe against a whitelisted service
func (e *Executor) ServiceActive(ctx context.Context, name string) (bool, error) {
	if !isServiceAllowed(name, e.allowedServices) {
		return false, fmt.Errorf("service not in allowed list: %s", name)
	}

	ctx, cancel := e.commandContext(ctx)
	defer cancel()

	active, err := e.probe.Active(ctx, name)
	e.metrics.ObserveProbe(e.probe.Name(), err)
	if err != nil {
		return false, fmt.Errorf("%s probe failed: %w", e.probe.Name(), err)
	}

	e.metrics.SetServiceActive(name, active)
	return active, nil
}

// GetServiceStatuses retrieves init system status for every allowed service.
// Services whose status cannot be read are reported with ServiceStatusError.
func (e *Executor) GetServiceStatuses(ctx context.Context) []ServiceStatus {
	statuses := make([]ServiceStatus, 0, len(e.allowedServices))

	for _, name := range e.allowedServices {
		cmdCtx, cancel := e.commandContext(ctx)
		status, err := e.manager.Status(cmdCtx, name)
		cancel()

		if err != nil {
			e.logger.Warn("Failed to get service status",
				zap.String("service", name),
				zap.Error(err))
			statuses = append(statuses, ServiceStatus{Name: name, Status: ServiceStatusError})
			continue
		}
		e.metrics.SetServiceActive(name, status.Active)
		statuses = append(statuses, *status)
	}

	return statuses
}

// CreateHeartbeat builds a heartbeat message stamped in UTC
func (e *Executor) CreateHeartbeat(deviceID, version string) *Heartbeat {
	return &Heartbeat{
		DeviceID:  deviceID,
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   version,
		Service:   e.serviceName,
	}
}

// GetAgentMetrics returns current agent performance metrics
func (e *Executor) GetAgentMetrics() *AgentMetrics {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	e.stats.mu.RLock()
	defer e.stats.mu.RUnlock()

	m := &AgentMetrics{
		// mem.Sys is the full process footprint, not just the heap
		MemoryUsageMB:     utils.Round(float64(mem.Sys) / 1024 / 1024),
		Goroutines:        runtime.NumGoroutine(),
		UptimeSeconds:     int64(time.Since(e.stats.startTime).Seconds()),
		CommandsProcessed: e.stats.commandsProcessed,
		CommandsErrored:   e.stats.commandsErrored,
	}

	if !e.stats.lastErrorTime.IsZero() {
		m.LastError = e.stats.lastError
		m.LastErrorTime = e.stats.lastErrorTime.Format(time.RFC3339)
	}

	return m
}

// GetTaskMetrics returns scheduled task execution metrics
func (e *Executor) GetTaskMetrics() *TaskHealthMetrics {
	e.taskStats.mu.RLock()
	defer e.taskStats.mu.RUnlock()

	m := &TaskHealthMetrics{
		HeartbeatCount:     e.taskStats.heartbeatCount,
		ServiceCheckCount:  e.taskStats.serviceCheckCount,
		ServiceCheckErrors: e.taskStats.serviceCheckErrors,
	}

	if !e.taskStats.lastHeartbeat.IsZero() {
		m.LastHeartbeat = e.taskStats.lastHeartbeat.Format(time.RFC3339)
	}
	if !e.taskStats.lastServiceCheck.IsZero() {
		m.LastServiceCheck = e.taskStats.lastServiceCheck.Format(time.RFC3339)
	}

	return m
}

// RecordHeartbeat records a heartbeat execution
func (e *Executor) RecordHeartbeat(err error) {
	e.metrics.ObserveTelemetry("heartbeat", err)

	e.taskStats.mu.Lock()
	defer e.taskStats.mu.Unlock()
	e.taskStats.lastHeartbeat = time.Now()
	e.taskStats.heartbeatCount++
}

// RecordServiceCheck records a service check execution
func (e *Executor) RecordServiceCheck(err error) {
	e.metrics.ObserveTelemetry("service", err)

	e.taskStats.mu.Lock()
	defer e.taskStats.mu.Unlock()
	e.taskStats.lastServiceCheck = time.Now()
	e.taskStats.serviceCheckCount++
	if err != nil {
		e.taskStats.serviceCheckErrors++
	}
}

// RecordCommandSuccess increments success counter
func (e *Executor) RecordCommandSuccess(command string) {
	e.metrics.ObserveCommand(command, nil)

	e.stats.mu.Lock()
	defer e.stats.mu.Unlock()
	e.stats.commandsProcessed++
}

// RecordCommandError increments error counter and stores last error
func (e *Executor) RecordCommandError(command string, err error) {
	e.metrics.ObserveCommand(command, err)

	e.stats.mu.Lock()
	defer e.stats.mu.Unlock()

	e.stats.commandsErrored++
	e.stats.commandsProcessed++ // Still counts as processed
	e.stats.lastError = err.Error()
	e.stats.lastErrorTime = time.Now()
}
