package nats

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stone-age-io/shaper/internal/tasks"
)

// Command names, the last token of <prefix>.<device>.cmd.<command>
const (
	CommandPing    = "ping"
	CommandService = "service"
	CommandStatus  = "status"
	CommandHealth  = "health"
	CommandMetrics = "metrics"
)

// Telemetry kinds, the last token of <prefix>.<device>.telemetry.<kind>
const (
	TelemetryHeartbeat = "heartbeat"
	TelemetryService   = "service"
)

// CommandSubject returns the request/reply subject for a device command
func CommandSubject(prefix, deviceID, command string) string {
	return fmt.Sprintf("%s.%s.cmd.%s", prefix, deviceID, command)
}

// TelemetrySubject returns the JetStream subject for device telemetry
func TelemetrySubject(prefix, deviceID, kind string) string {
	return fmt.Sprintf("%s.%s.telemetry.%s", prefix, deviceID, kind)
}

// NewRequestID returns a correlation id for one request
func NewRequestID() string {
	return uuid.NewString()
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// Request and response structures

type PingResponse struct {
	Status    string `json:"status"`
	DeviceID  string `json:"device_id,omitempty"`
	Timestamp string `json:"timestamp"`
}

type ServiceControlRequest struct {
	Action      string `json:"action"`
	ServiceName string `json:"service_name"`
	RequestID   string `json:"request_id,omitempty"`
}

type ServiceControlResponse struct {
	Status      string `json:"status"`
	ServiceName string `json:"service_name,omitempty"`
	Action      string `json:"action,omitempty"`
	Result      string `json:"result,omitempty"`
	Error       string `json:"error,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
	Timestamp   string `json:"timestamp"`
}

type StatusRequest struct {
	ServiceName string `json:"service_name,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
}

// StatusResponse carries the probe answer. Clients must accept any truthy
// encoding of "active" (true, 1, "1").
type StatusResponse struct {
	Status      string `json:"status"`
	ServiceName string `json:"service_name,omitempty"`
	Active      bool   `json:"active"`
	Probe       string `json:"probe,omitempty"`
	Error       string `json:"error,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
	Timestamp   string `json:"timestamp"`
}

type ConnectionStats struct {
	Connected  bool   `json:"connected"`
	Reconnects uint64 `json:"reconnects"`
	InMsgs     uint64 `json:"in_msgs"`
	OutMsgs    uint64 `json:"out_msgs"`
}

type HealthResponse struct {
	Status       string                   `json:"status"`
	AgentMetrics *tasks.AgentMetrics      `json:"agent_metrics"`
	TaskMetrics  *tasks.TaskHealthMetrics `json:"task_metrics"`
	Connection   *ConnectionStats         `json:"connection,omitempty"`
	Timestamp    string                   `json:"timestamp"`
}

type ErrorResponse struct {
	Status    string `json:"status"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

// ServiceTelemetry is published periodically with the init system view of
// every allowed service
type ServiceTelemetry struct {
	DeviceID  string                `json:"device_id"`
	Services  []tasks.ServiceStatus `json:"services"`
	Timestamp string                `json:"timestamp"`
}
