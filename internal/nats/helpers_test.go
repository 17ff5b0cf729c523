package nats

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/stone-age-io/shaper/internal/config"
	"github.com/stone-age-io/shaper/internal/metrics"
	"github.com/stone-age-io/shaper/internal/service"
	"github.com/stone-age-io/shaper/internal/tasks"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testPrefix = "agents"
	testDevice = "router-01"
)

// runServer starts an embedded NATS server with JetStream on a random port
func runServer(t *testing.T) *server.Server {
	t.Helper()

	opts := &server.Options{
		Host:      "127.0.0.1",
		Port:      -1, // Random port
		JetStream: true,
		StoreDir:  t.TempDir(),
	}
	ns, err := server.NewServer(opts)
	require.NoError(t, err)

	go ns.Start()
	if !ns.ReadyForConnections(4 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(ns.Shutdown)

	return ns
}

func connect(t *testing.T, ns *server.Server, name string) *Client {
	t.Helper()

	cfg := &config.NATSConfig{
		URLs:           []string{ns.ClientURL()},
		Auth:           config.AuthConfig{Type: "none"},
		MaxReconnects:  1,
		ReconnectWait:  100 * time.Millisecond,
		RequestTimeout: 2 * time.Second,
	}
	c, err := NewClient(cfg, name, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(c.Close)

	return c
}

// deviceManager simulates an init system whose service settles after
// a number of status queries
type deviceManager struct {
	mu         sync.Mutex
	active     bool
	settleIn   int
	pending    *bool
	controlErr error
	actions    []service.Action
}

func (m *deviceManager) Name() string { return "fake" }

func (m *deviceManager) Control(ctx context.Context, name string, action service.Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.actions = append(m.actions, action)
	if m.controlErr != nil {
		return m.controlErr
	}

	target := service.ExpectedOutcome(action)
	if m.settleIn == 0 {
		m.active = target
		return nil
	}
	m.pending = &target
	return nil
}

func (m *deviceManager) Status(ctx context.Context, name string) (*tasks.ServiceStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending != nil {
		m.settleIn--
		if m.settleIn <= 0 {
			m.active = *m.pending
			m.pending = nil
		}
	}

	status := tasks.ServiceStatusStopped
	if m.active {
		status = tasks.ServiceStatusRunning
	}
	return &tasks.ServiceStatus{Name: name, Status: status, Active: m.active}, nil
}

// agent wires command handlers for the fake device onto a connection
type agent struct {
	client  *Client
	manager *deviceManager
	metrics *metrics.Registry
}

func startAgent(t *testing.T, ns *server.Server, manager *deviceManager) *agent {
	t.Helper()

	cfg := &config.ServiceConfig{
		Name:           "mac-shaper",
		StatusProbe:    "manager",
		CommandTimeout: 5 * time.Second,
	}
	probe, err := tasks.NewProbe(cfg, manager, nil)
	require.NoError(t, err)

	reg := metrics.New()
	executor := tasks.NewExecutor(zap.NewNop(), cfg, manager, probe, reg)
	client := connect(t, ns, "shaper-agent")

	handlers := NewCommandHandlers(context.Background(), zap.NewNop(), testPrefix, testDevice, executor, reg)
	require.NoError(t, handlers.SubscribeAll(client))

	return &agent{client: client, manager: manager, metrics: reg}
}

// recordingReporter keeps reporter calls in order
type recordingReporter struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingReporter) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingReporter) ReportApplying() { r.add("applying") }

func (r *recordingReporter) ReportState(active bool) {
	if active {
		r.add("active")
	} else {
		r.add("inactive")
	}
}

func (r *recordingReporter) ReportError(message string) { r.add("error:" + message) }

func (r *recordingReporter) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}
