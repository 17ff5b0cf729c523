package nats

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stone-age-io/shaper/internal/config"
	"github.com/stone-age-io/shaper/internal/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSubjects(t *testing.T) {
	assert.Equal(t, "agents.router-01.cmd.service", CommandSubject("agents", "router-01", CommandService))
	assert.Equal(t, "home.lan.router-01.telemetry.heartbeat", TelemetrySubject("home.lan", "router-01", TelemetryHeartbeat))
	assert.NotEqual(t, NewRequestID(), NewRequestID())
}

func TestNewClientRejectsUnknownAuth(t *testing.T) {
	cfg := &config.NATSConfig{
		URLs: []string{"nats://127.0.0.1:1"},
		Auth: config.AuthConfig{Type: "kerberos"},
	}
	_, err := NewClient(cfg, "test", zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid auth type")
}

func TestPublishTelemetryRequiresJetStream(t *testing.T) {
	ns := runServer(t)
	c := connect(t, ns, "shaper-agent")

	assert.ErrorIs(t, c.PublishTelemetry("agents.router-01.telemetry.heartbeat", []byte("{}")), ErrJetStreamDisabled)
	assert.ErrorIs(t, c.PublishTelemetrySync(context.Background(), "agents.router-01.telemetry.heartbeat", []byte("{}")), ErrJetStreamDisabled)
}

func TestPublishTelemetrySync(t *testing.T) {
	ns := runServer(t)
	c := connect(t, ns, "shaper-agent")
	require.NoError(t, c.EnableJetStream())

	_, err := c.js.AddStream(&nats.StreamConfig{
		Name:     "TELEMETRY",
		Subjects: []string{"agents.*.telemetry.>"},
	})
	require.NoError(t, err)

	subject := TelemetrySubject(testPrefix, testDevice, TelemetryHeartbeat)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.PublishTelemetrySync(ctx, subject, []byte(`{"status":"alive"}`)))
	require.NoError(t, c.PublishTelemetry(subject, []byte(`{"status":"alive"}`)))

	require.Eventually(t, func() bool {
		info, err := c.js.StreamInfo("TELEMETRY")
		return err == nil && info.State.Msgs == 2
	}, 2*time.Second, 20*time.Millisecond)
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	ns := runServer(t)
	agentConn := connect(t, ns, "shaper-agent")

	cfg := &config.ServiceConfig{Name: "mac-shaper", CommandTimeout: 5 * time.Second}
	executor := tasks.NewExecutor(zap.NewNop(), cfg, &deviceManager{}, nil, nil)
	h := NewCommandHandlers(context.Background(), zap.NewNop(), testPrefix, testDevice, executor, nil)

	_, err := agentConn.Subscribe("agents.router-01.cmd.boom", h.handleWithRecovery("boom", func(msg *nats.Msg) {
		panic("nil map")
	}))
	require.NoError(t, err)
	require.NoError(t, agentConn.Flush())

	reply, err := connect(t, ns, "shaperctl").Request(context.Background(), "agents.router-01.cmd.boom", nil)
	require.NoError(t, err)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(reply, &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Contains(t, resp.Error, "handler panicked: nil map")
	assert.EqualValues(t, 1, executor.GetAgentMetrics().CommandsErrored)
}

func TestStatusRequestWithEmptyBody(t *testing.T) {
	ns := runServer(t)
	startAgent(t, ns, &deviceManager{active: true})

	reply, err := connect(t, ns, "shaperctl").Request(context.Background(), CommandSubject(testPrefix, testDevice, CommandStatus), nil)
	require.NoError(t, err)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(reply, &resp))
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, "mac-shaper", resp.ServiceName)
	assert.True(t, resp.Active)
}

func TestDrainClosesConnection(t *testing.T) {
	ns := runServer(t)
	c := connect(t, ns, "shaper-agent")

	require.NoError(t, c.Drain(2*time.Second))
	assert.False(t, c.IsConnected())
	// Draining twice is harmless
	require.NoError(t, c.Drain(time.Second))
}
