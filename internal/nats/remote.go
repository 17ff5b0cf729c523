package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stone-age-io/shaper/internal/service"
	"github.com/tidwall/gjson"
)

// Requester performs one request/reply round trip. *Client implements it.
type Requester interface {
	Request(ctx context.Context, subject string, data []byte) ([]byte, error)
}

// RemoteService talks to one device agent over request/reply. It implements
// service.Remote for the orchestrator; every failure is a
// *service.TransportError.
type RemoteService struct {
	requester   Requester
	prefix      string
	deviceID    string
	serviceName string
}

var _ service.Remote = (*RemoteService)(nil)

// NewRemoteService creates a remote for serviceName on the given device
func NewRemoteService(requester Requester, prefix, deviceID, serviceName string) *RemoteService {
	return &RemoteService{
		requester:   requester,
		prefix:      prefix,
		deviceID:    deviceID,
		serviceName: serviceName,
	}
}

// call sends req on the command subject and returns the raw reply
func (r *RemoteService) call(ctx context.Context, op, command string, req interface{}) ([]byte, error) {
	var data []byte
	if req != nil {
		var err error
		if data, err = json.Marshal(req); err != nil {
			return nil, &service.TransportError{Op: op, Err: fmt.Errorf("failed to encode request: %w", err)}
		}
	}

	reply, err := r.requester.Request(ctx, CommandSubject(r.prefix, r.deviceID, command), data)
	if err != nil {
		return nil, &service.TransportError{Op: op, Err: err}
	}
	return reply, nil
}

// checkReply turns an error reply into a transport error
func checkReply(op string, reply []byte) error {
	if !gjson.ValidBytes(reply) {
		return &service.TransportError{Op: op, Err: fmt.Errorf("malformed reply: %q", truncate(reply, 64))}
	}

	result := gjson.GetManyBytes(reply, "status", "error")
	if result[0].String() == "error" {
		msg := result[1].String()
		if msg == "" {
			msg = "unknown error"
		}
		return &service.TransportError{Op: op, Err: fmt.Errorf("agent error: %s", msg)}
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// FetchStatus asks the agent whether the service is active
func (r *RemoteService) FetchStatus(ctx context.Context) (bool, error) {
	const op = "get status"

	reply, err := r.call(ctx, op, CommandStatus, StatusRequest{
		ServiceName: r.serviceName,
		RequestID:   NewRequestID(),
	})
	if err != nil {
		return false, err
	}
	if err := checkReply(op, reply); err != nil {
		return false, err
	}

	return service.ParseActive(reply), nil
}

// InvokeAction requests a lifecycle action. It returns once the agent
// accepted the request.
func (r *RemoteService) InvokeAction(ctx context.Context, serviceName string, action service.Action) error {
	const op = "set init action"

	reply, err := r.call(ctx, op, CommandService, ServiceControlRequest{
		Action:      string(action),
		ServiceName: serviceName,
		RequestID:   NewRequestID(),
	})
	if err != nil {
		return err
	}
	return checkReply(op, reply)
}

// Ping checks that the agent answers
func (r *RemoteService) Ping(ctx context.Context) (*PingResponse, error) {
	const op = "ping"

	reply, err := r.call(ctx, op, CommandPing, nil)
	if err != nil {
		return nil, err
	}

	var resp PingResponse
	if err := json.Unmarshal(reply, &resp); err != nil {
		return nil, &service.TransportError{Op: op, Err: fmt.Errorf("malformed reply: %w", err)}
	}
	return &resp, nil
}

// Health fetches agent self-monitoring data
func (r *RemoteService) Health(ctx context.Context) (*HealthResponse, error) {
	const op = "health"

	reply, err := r.call(ctx, op, CommandHealth, nil)
	if err != nil {
		return nil, err
	}
	if err := checkReply(op, reply); err != nil {
		return nil, err
	}

	var resp HealthResponse
	if err := json.Unmarshal(reply, &resp); err != nil {
		return nil, &service.TransportError{Op: op, Err: fmt.Errorf("malformed reply: %w", err)}
	}
	return &resp, nil
}

// Metrics fetches the agent metrics in Prometheus text format
func (r *RemoteService) Metrics(ctx context.Context) ([]byte, error) {
	const op = "metrics"

	reply, err := r.call(ctx, op, CommandMetrics, nil)
	if err != nil {
		return nil, err
	}

	// Error replies are JSON; the exposition format never starts with '{'
	if gjson.ValidBytes(reply) && gjson.GetBytes(reply, "status").String() == "error" {
		return nil, checkReply(op, reply)
	}
	return reply, nil
}
