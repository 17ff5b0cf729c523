package nats

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"

	"github.com/nats-io/nats.go"
	"github.com/stone-age-io/shaper/internal/metrics"
	"github.com/stone-age-io/shaper/internal/tasks"
	"go.uber.org/zap"
)

// CommandHandlers manages all command subscriptions and handlers
type CommandHandlers struct {
	ctx           context.Context
	logger        *zap.Logger
	deviceID      string
	subjectPrefix string
	taskExecutor  *tasks.Executor
	metrics       *metrics.Registry
	client        *Client
}

// NewCommandHandlers creates a new command handler manager. ctx bounds every
// init system call made on behalf of a request and ends on agent shutdown.
func NewCommandHandlers(ctx context.Context, logger *zap.Logger, prefix, deviceID string, executor *tasks.Executor, reg *metrics.Registry) *CommandHandlers {
	return &CommandHandlers{
		ctx:           ctx,
		logger:        logger,
		deviceID:      deviceID,
		subjectPrefix: prefix,
		taskExecutor:  executor,
		metrics:       reg,
	}
}

// handleWithRecovery wraps a command handler with panic recovery so one
// failing handler cannot crash the agent
func (h *CommandHandlers) handleWithRecovery(name string, handler nats.MsgHandler) nats.MsgHandler {
	return func(msg *nats.Msg) {
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("Panic recovered in command handler",
					zap.String("handler", name),
					zap.String("subject", msg.Subject),
					zap.Any("panic", r),
					zap.String("stack", string(debug.Stack())))

				h.taskExecutor.RecordCommandError(name, fmt.Errorf("handler panicked: %v", r))
				h.respondError(msg, fmt.Sprintf("Internal error: handler panicked: %v", r))
			}
		}()

		handler(msg)
	}
}

// SubscribeAll subscribes to all command subjects for this device
func (h *CommandHandlers) SubscribeAll(client *Client) error {
	h.client = client

	handlers := []struct {
		command string
		handler nats.MsgHandler
	}{
		{CommandPing, h.handlePing},
		{CommandService, h.handleServiceControl},
		{CommandStatus, h.handleStatus},
		{CommandHealth, h.handleHealth},
		{CommandMetrics, h.handleMetrics},
	}

	for _, c := range handlers {
		subject := CommandSubject(h.subjectPrefix, h.deviceID, c.command)
		if _, err := client.Subscribe(subject, h.handleWithRecovery(c.command, c.handler)); err != nil {
			return err
		}
	}

	return client.Flush()
}

// respond marshals v and sends it as the reply
func (h *CommandHandlers) respond(msg *nats.Msg, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("Failed to marshal response", zap.Error(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		h.logger.Warn("Failed to send response",
			zap.String("subject", msg.Subject),
			zap.Error(err))
	}
}

// respondError sends a generic error response
func (h *CommandHandlers) respondError(msg *nats.Msg, errorMsg string) {
	h.respond(msg, ErrorResponse{
		Status:    "error",
		Error:     errorMsg,
		Timestamp: timestamp(),
	})
}

// handlePing responds to ping commands
func (h *CommandHandlers) handlePing(msg *nats.Msg) {
	h.logger.Debug("Received ping command")

	h.taskExecutor.RecordCommandSuccess(CommandPing)
	h.respond(msg, PingResponse{
		Status:    "pong",
		DeviceID:  h.deviceID,
		Timestamp: timestamp(),
	})
}

// handleServiceControl processes start/stop/restart/reload requests. The
// reply is sent once the init system accepted the action; callers poll
// cmd.status for the outcome.
func (h *CommandHandlers) handleServiceControl(msg *nats.Msg) {
	var req ServiceControlRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		h.logger.Error("Failed to parse service control request", zap.Error(err))
		h.taskExecutor.RecordCommandError(CommandService, err)
		h.respondError(msg, "Invalid request format")
		return
	}

	h.logger.Info("Processing service control",
		zap.String("action", req.Action),
		zap.String("service", req.ServiceName),
		zap.String("request_id", req.RequestID))

	result, err := h.taskExecutor.ControlService(h.ctx, req.ServiceName, req.Action)
	if err != nil {
		h.taskExecutor.RecordCommandError(CommandService, err)
		h.respond(msg, ServiceControlResponse{
			Status:      "error",
			ServiceName: req.ServiceName,
			Action:      req.Action,
			Error:       err.Error(),
			RequestID:   req.RequestID,
			Timestamp:   timestamp(),
		})
		return
	}

	h.taskExecutor.RecordCommandSuccess(CommandService)
	h.respond(msg, ServiceControlResponse{
		Status:      "success",
		ServiceName: req.ServiceName,
		Action:      req.Action,
		Result:      result,
		RequestID:   req.RequestID,
		Timestamp:   timestamp(),
	})
}

// handleStatus answers whether the service is active. An empty body asks
// about the primary managed service.
func (h *CommandHandlers) handleStatus(msg *nats.Msg) {
	var req StatusRequest
	if len(bytes.TrimSpace(msg.Data)) > 0 {
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			h.logger.Error("Failed to parse status request", zap.Error(err))
			h.taskExecutor.RecordCommandError(CommandStatus, err)
			h.respondError(msg, "Invalid request format")
			return
		}
	}
	if req.ServiceName == "" {
		req.ServiceName = h.taskExecutor.ServiceName()
	}

	active, err := h.taskExecutor.ServiceActive(h.ctx, req.ServiceName)
	if err != nil {
		h.logger.Warn("Status probe failed",
			zap.String("service", req.ServiceName),
			zap.Error(err))
		h.taskExecutor.RecordCommandError(CommandStatus, err)
		h.respond(msg, StatusResponse{
			Status:      "error",
			ServiceName: req.ServiceName,
			Error:       err.Error(),
			RequestID:   req.RequestID,
			Timestamp:   timestamp(),
		})
		return
	}

	h.taskExecutor.RecordCommandSuccess(CommandStatus)
	h.respond(msg, StatusResponse{
		Status:      "success",
		ServiceName: req.ServiceName,
		Active:      active,
		RequestID:   req.RequestID,
		Timestamp:   timestamp(),
	})
}

// handleHealth returns agent health and performance metrics
func (h *CommandHandlers) handleHealth(msg *nats.Msg) {
	h.logger.Debug("Received health check command")

	resp := HealthResponse{
		Status:       "healthy",
		AgentMetrics: h.taskExecutor.GetAgentMetrics(),
		TaskMetrics:  h.taskExecutor.GetTaskMetrics(),
		Timestamp:    timestamp(),
	}

	if h.client != nil {
		stats := h.client.Stats()
		resp.Connection = &ConnectionStats{
			Connected:  h.client.IsConnected(),
			Reconnects: stats.Reconnects,
			InMsgs:     stats.InMsgs,
			OutMsgs:    stats.OutMsgs,
		}
	}

	h.taskExecutor.RecordCommandSuccess(CommandHealth)
	h.respond(msg, resp)
}

// handleMetrics replies with the agent metrics in Prometheus text format
func (h *CommandHandlers) handleMetrics(msg *nats.Msg) {
	var buf bytes.Buffer
	if err := h.metrics.WriteText(&buf); err != nil {
		h.logger.Error("Failed to render metrics", zap.Error(err))
		h.taskExecutor.RecordCommandError(CommandMetrics, err)
		h.respondError(msg, err.Error())
		return
	}

	h.taskExecutor.RecordCommandSuccess(CommandMetrics)
	if err := msg.Respond(buf.Bytes()); err != nil {
		h.logger.Warn("Failed to send metrics", zap.Error(err))
	}
}
