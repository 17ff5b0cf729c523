package nats

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stone-age-io/shaper/internal/metrics"
	"github.com/stone-age-io/shaper/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPingRoundTrip(t *testing.T) {
	ns := runServer(t)
	startAgent(t, ns, &deviceManager{})
	remote := NewRemoteService(connect(t, ns, "shaperctl"), testPrefix, testDevice, "mac-shaper")

	resp, err := remote.Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pong", resp.Status)
	assert.Equal(t, testDevice, resp.DeviceID)
}

func TestInvokeActionThenStatus(t *testing.T) {
	ns := runServer(t)
	a := startAgent(t, ns, &deviceManager{})
	remote := NewRemoteService(connect(t, ns, "shaperctl"), testPrefix, testDevice, "mac-shaper")
	ctx := context.Background()

	active, err := remote.FetchStatus(ctx)
	require.NoError(t, err)
	assert.False(t, active)

	require.NoError(t, remote.InvokeAction(ctx, "mac-shaper", service.ActionStart))

	active, err = remote.FetchStatus(ctx)
	require.NoError(t, err)
	assert.True(t, active)
	assert.Equal(t, []service.Action{service.ActionStart}, a.manager.actions)
}

func TestInvokeActionAgentRejection(t *testing.T) {
	ns := runServer(t)
	startAgent(t, ns, &deviceManager{})
	remote := NewRemoteService(connect(t, ns, "shaperctl"), testPrefix, testDevice, "mac-shaper")

	err := remote.InvokeAction(context.Background(), "dropbear", service.ActionStop)
	require.Error(t, err)

	var te *service.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "set init action", te.Op)
	assert.Contains(t, err.Error(), "not in allowed list")
}

func TestInvokeActionManagerFailure(t *testing.T) {
	ns := runServer(t)
	startAgent(t, ns, &deviceManager{controlErr: errors.New("exit code 1: tc: RTNETLINK answers: File exists")})
	remote := NewRemoteService(connect(t, ns, "shaperctl"), testPrefix, testDevice, "mac-shaper")

	err := remote.InvokeAction(context.Background(), "mac-shaper", service.ActionRestart)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RTNETLINK")
}

func TestRequestWithoutAgent(t *testing.T) {
	ns := runServer(t)
	remote := NewRemoteService(connect(t, ns, "shaperctl"), testPrefix, testDevice, "mac-shaper")

	_, err := remote.FetchStatus(context.Background())
	require.Error(t, err)

	var te *service.TransportError
	require.True(t, errors.As(err, &te))
	assert.ErrorIs(t, err, nats.ErrNoResponders)
}

func TestFetchStatusNormalizesActive(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  bool
	}{
		{name: "bool true", reply: `{"status":"success","active":true}`, want: true},
		{name: "number one", reply: `{"status":"success","active":1}`, want: true},
		{name: "string one", reply: `{"status":"success","active":"1"}`, want: true},
		{name: "bool false", reply: `{"status":"success","active":false}`},
		{name: "string true", reply: `{"status":"success","active":"true"}`},
		{name: "number two", reply: `{"status":"success","active":2}`},
		{name: "missing", reply: `{"status":"success"}`},
	}

	ns := runServer(t)
	responder := connect(t, ns, "responder")
	client := connect(t, ns, "shaperctl")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			device := "dev-" + strings.ReplaceAll(tt.name, " ", "-")
			sub, err := responder.Subscribe(CommandSubject(testPrefix, device, CommandStatus), func(msg *nats.Msg) {
				_ = msg.Respond([]byte(tt.reply))
			})
			require.NoError(t, err)
			defer sub.Unsubscribe()
			require.NoError(t, responder.Flush())

			active, err := NewRemoteService(client, testPrefix, device, "mac-shaper").FetchStatus(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, active)
		})
	}
}

func TestFetchStatusMalformedReply(t *testing.T) {
	ns := runServer(t)
	responder := connect(t, ns, "responder")
	_, err := responder.Subscribe(CommandSubject(testPrefix, testDevice, CommandStatus), func(msg *nats.Msg) {
		_ = msg.Respond([]byte("not json"))
	})
	require.NoError(t, err)
	require.NoError(t, responder.Flush())

	remote := NewRemoteService(connect(t, ns, "shaperctl"), testPrefix, testDevice, "mac-shaper")
	_, err = remote.FetchStatus(context.Background())

	var te *service.TransportError
	require.True(t, errors.As(err, &te))
	assert.Contains(t, err.Error(), "malformed reply")
}

func TestHealthAndMetrics(t *testing.T) {
	ns := runServer(t)
	startAgent(t, ns, &deviceManager{})
	remote := NewRemoteService(connect(t, ns, "shaperctl"), testPrefix, testDevice, "mac-shaper")
	ctx := context.Background()

	_, err := remote.FetchStatus(ctx)
	require.NoError(t, err)

	health, err := remote.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	require.NotNil(t, health.AgentMetrics)
	assert.EqualValues(t, 1, health.AgentMetrics.CommandsProcessed)
	require.NotNil(t, health.Connection)
	assert.True(t, health.Connection.Connected)

	text, err := remote.Metrics(ctx)
	require.NoError(t, err)

	families, err := metrics.Parse(strings.NewReader(string(text)))
	require.NoError(t, err)
	probes := families["shaper_agent_status_probes_total"]
	require.NotNil(t, probes)
	assert.Equal(t, float64(1), metrics.Value(probes.GetMetric()[0]))
}

func TestOrchestratorOverNATS(t *testing.T) {
	ns := runServer(t)
	a := startAgent(t, ns, &deviceManager{settleIn: 3})
	remote := NewRemoteService(connect(t, ns, "shaperctl"), testPrefix, testDevice, "mac-shaper")

	reporter := &recordingReporter{}
	o, err := service.NewOrchestrator(remote, reporter, zap.NewNop(),
		service.WithDeadline(2*time.Second),
		service.WithInterval(20*time.Millisecond))
	require.NoError(t, err)

	result := o.Execute(context.Background(), "mac-shaper", service.ActionStart)
	require.NoError(t, result.Err)
	assert.True(t, result.OK())
	assert.Equal(t, 3, result.Probes)
	assert.Equal(t, []string{"applying", "inactive", "inactive", "active", "active"}, reporter.snapshot())

	a.manager.mu.Lock()
	a.manager.settleIn = 0
	a.manager.mu.Unlock()

	result = o.Execute(context.Background(), "mac-shaper", service.ActionStop)
	assert.True(t, result.OK())
	assert.Equal(t, 1, result.Probes)
}

func TestOrchestratorTimesOutOverNATS(t *testing.T) {
	ns := runServer(t)
	startAgent(t, ns, &deviceManager{settleIn: 1000})
	remote := NewRemoteService(connect(t, ns, "shaperctl"), testPrefix, testDevice, "mac-shaper")

	reporter := &recordingReporter{}
	o, err := service.NewOrchestrator(remote, reporter, zap.NewNop(),
		service.WithDeadline(100*time.Millisecond),
		service.WithInterval(20*time.Millisecond))
	require.NoError(t, err)

	result := o.Execute(context.Background(), "mac-shaper", service.ActionStart)
	assert.Equal(t, service.OutcomeTimedOut, result.Outcome)
	assert.ErrorIs(t, result.Err, service.ErrTimeout)

	events := reporter.snapshot()
	assert.Equal(t, "error:timeout waiting for mac-shaper", events[len(events)-1])
}
