package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/stone-age-io/shaper/internal/config"
	"github.com/stone-age-io/shaper/internal/console"
	"github.com/stone-age-io/shaper/internal/metrics"
	natsclient "github.com/stone-age-io/shaper/internal/nats"
	"github.com/stone-age-io/shaper/internal/service"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var version = "dev"

var (
	configPath string
	format     string
	verbose    bool
)

func main() {
	root := &cobra.Command{
		Use:           "shaperctl",
		Short:         "Control the mac-shaper service on a remote device",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "optional client config file")
	pf.String("device", "", "target device id")
	pf.String("prefix", "agents", "subject prefix")
	pf.String("service", "mac-shaper", "managed service name")
	pf.StringSlice("nats", []string{"nats://localhost:4222"}, "NATS server URLs")
	pf.Duration("deadline", 4000*time.Millisecond, "how long to wait for the service to settle")
	pf.Duration("interval", 300*time.Millisecond, "delay between status probes")
	pf.Duration("timeout", 2*time.Second, "per-request timeout")
	pf.StringVar(&format, "format", "text", "output format: text, json, yaml")
	pf.BoolVarP(&verbose, "verbose", "v", false, "log RPC traffic to stderr")

	root.AddCommand(
		actionCmd(service.ActionStart, "Start the service and wait until it is active"),
		actionCmd(service.ActionStop, "Stop the service and wait until it is inactive"),
		actionCmd(service.ActionRestart, "Restart the service and wait until it is active"),
		actionCmd(service.ActionReload, "Reload the service and wait until it is active"),
		statusCmd(),
		pingCmd(),
		healthCmd(),
		metricsCmd(),
	)

	err := root.Execute()
	var ee *exitError
	if err != nil && !(errors.As(err, &ee) && ee.reported) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(exitCode(err))
}

// session holds what every remote command needs
type session struct {
	cfg    *config.ClientConfig
	logger *zap.Logger
	client *natsclient.Client
	remote *natsclient.RemoteService
}

func connect(cmd *cobra.Command) (*session, error) {
	if _, err := newPrinter(cmd.OutOrStdout(), format); err != nil {
		return nil, err
	}

	cfg, err := config.LoadClient(configPath, cmd.Flags())
	if err != nil {
		return nil, err
	}

	logger := newLogger(verbose)
	client, err := natsclient.NewClient(&cfg.NATS, "shaperctl", logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}

	return &session{
		cfg:    cfg,
		logger: logger,
		client: client,
		remote: natsclient.NewRemoteService(client, cfg.SubjectPrefix, cfg.DeviceID, cfg.Service),
	}, nil
}

func (s *session) close() {
	s.client.Close()
	_ = s.logger.Sync()
}

// newLogger writes human-readable logs to stderr so stdout stays parseable
func newLogger(verbose bool) *zap.Logger {
	level := zapcore.WarnLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.Lock(os.Stderr),
		level,
	)
	return zap.New(core)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func actionCmd(action service.Action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(action) + " [service]",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				if err := cmd.Flags().Set("service", args[0]); err != nil {
					return err
				}
			}

			s, err := connect(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			p, _ := newPrinter(cmd.OutOrStdout(), format)

			// Status lines only belong in text output
			var reporter service.Reporter = service.NewLogReporter(s.logger, s.cfg.Service)
			if p.text() {
				reporter = service.Reporters(
					console.NewReporter(cmd.OutOrStdout(), cmd.ErrOrStderr()),
					reporter,
				)
			}

			orch, err := service.NewOrchestrator(s.remote, reporter, s.logger,
				service.WithDeadline(s.cfg.Poll.Deadline),
				service.WithInterval(s.cfg.Poll.Interval))
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			result := orch.Execute(ctx, s.cfg.Service, action)
			if err := p.result(result); err != nil {
				return err
			}
			return resultError(result, p.text())
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the service is active",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := connect(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			ctx, cancel := signalContext()
			defer cancel()

			p, _ := newPrinter(cmd.OutOrStdout(), format)
			active, err := s.remote.FetchStatus(ctx)
			if err != nil {
				if p.text() {
					console.NewReporter(cmd.OutOrStdout(), cmd.ErrOrStderr()).ReportError(err.Error())
				}
				return &exitError{code: exitTransport, err: err, reported: p.text()}
			}

			if p.text() {
				console.NewReporter(cmd.OutOrStdout(), cmd.ErrOrStderr()).ReportState(active)
				return nil
			}
			return p.encode(statusView{
				Device:  s.cfg.DeviceID,
				Service: s.cfg.Service,
				Active:  active,
				State:   service.StateFromActive(active).String(),
			})
		},
	}
}

func pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the device agent answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := connect(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			ctx, cancel := signalContext()
			defer cancel()

			start := time.Now()
			resp, err := s.remote.Ping(ctx)
			if err != nil {
				return &exitError{code: exitTransport, err: err}
			}

			p, _ := newPrinter(cmd.OutOrStdout(), format)
			return p.ping(resp, time.Since(start))
		},
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show agent health and task statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := connect(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			ctx, cancel := signalContext()
			defer cancel()

			resp, err := s.remote.Health(ctx)
			if err != nil {
				return &exitError{code: exitTransport, err: err}
			}

			p, _ := newPrinter(cmd.OutOrStdout(), format)
			return p.health(resp)
		},
	}
}

func metricsCmd() *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show the agent Prometheus metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := connect(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			ctx, cancel := signalContext()
			defer cancel()

			data, err := s.remote.Metrics(ctx)
			if err != nil {
				return &exitError{code: exitTransport, err: err}
			}

			p, _ := newPrinter(cmd.OutOrStdout(), format)
			if raw && p.text() {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}

			samples, err := metricSamples(data)
			if err != nil {
				return fmt.Errorf("failed to parse metrics: %w", err)
			}
			return p.metrics(samples)
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print the exposition text unchanged")
	return cmd
}

// metricSamples flattens the exposition text into one sample per series
func metricSamples(data []byte) ([]metricSample, error) {
	families, err := metrics.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	var samples []metricSample
	for _, name := range metrics.Names(families) {
		for _, m := range families[name].GetMetric() {
			sample := metricSample{Name: name, Value: metrics.Value(m)}
			for _, lp := range m.GetLabel() {
				if sample.Labels == nil {
					sample.Labels = make(map[string]string)
				}
				sample.Labels[lp.GetName()] = lp.GetValue()
			}
			samples = append(samples, sample)
		}
	}
	return samples, nil
}

const (
	exitOK        = 0
	exitTransport = 1
	exitTimeout   = 2
)

// exitError carries a process exit code through cobra. reported is set
// when the terminal reporter already showed the failure.
type exitError struct {
	code     int
	err      error
	reported bool
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// resultError maps an orchestration outcome onto an exit code
func resultError(r service.Result, reported bool) error {
	switch r.Outcome {
	case service.OutcomeSucceeded:
		return nil
	case service.OutcomeTimedOut:
		return &exitError{code: exitTimeout, err: r.Err, reported: reported}
	default:
		return &exitError{code: exitTransport, err: r.Err, reported: reported}
	}
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitTransport
}
