package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/qmuntal/stateless"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Phase is a state of one orchestration run
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseApplying       Phase = "applying"
	PhaseSucceeded      Phase = "succeeded"
	PhaseTimedOut       Phase = "timed_out"
	PhaseTransportError Phase = "transport_error"
)

const (
	triggerExecute = "execute"
	triggerMatched = "matched"
	triggerTimeout = "timeout"
	triggerFailure = "failure"
	triggerReset   = "reset"
)

// Orchestrator drives one lifecycle action end-to-end: it reports Applying,
// requests the action, polls until the expected state is observed and
// yields exactly one Result.
//
// Runs against the same service name are serialized in arrival order;
// runs against different services proceed in parallel.
type Orchestrator struct {
	sink     ActionSink
	reporter Reporter
	poller   *Poller
	logger   *zap.Logger

	mu    sync.Mutex
	locks map[string]*serviceLock
}

// serviceLock queues runs for one service. The entry is removed once no
// run holds or waits on it.
type serviceLock struct {
	sem  *semaphore.Weighted
	refs int
}

// NewOrchestrator creates an orchestrator. Poller options configure the
// deadline, interval and clock of every poll run; the reporter given here
// always receives the poll updates.
func NewOrchestrator(remote Remote, reporter Reporter, logger *zap.Logger, opts ...PollerOption) (*Orchestrator, error) {
	if remote == nil {
		return nil, fmt.Errorf("orchestrator requires a remote")
	}
	if reporter == nil {
		reporter = NopReporter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	poller, err := NewPoller(remote, append(opts, WithReporter(reporter))...)
	if err != nil {
		return nil, fmt.Errorf("invalid poll settings: %w", err)
	}

	return &Orchestrator{
		sink:     remote,
		reporter: reporter,
		poller:   poller,
		logger:   logger,
		locks:    make(map[string]*serviceLock),
	}, nil
}

// Execute applies action to serviceName and waits for the outcome.
// There is no way to abort a run once started other than ctx ending,
// which is reported as a transport error.
func (o *Orchestrator) Execute(ctx context.Context, serviceName string, action Action) Result {
	lock := o.lockFor(serviceName)
	defer o.unlockFor(serviceName, lock)

	if err := lock.sem.Acquire(ctx, 1); err != nil {
		// Queued behind another run and the caller gave up; the run never
		// started, but the observer still gets a terminal update.
		te := &TransportError{Op: "wait for previous action", Err: err}
		o.reporter.ReportError(te.Error())
		return Result{Service: serviceName, Action: action, Outcome: OutcomeTransportError, Err: te}
	}
	defer lock.sem.Release(1)

	return o.run(ctx, serviceName, action)
}

func (o *Orchestrator) run(ctx context.Context, serviceName string, action Action) Result {
	logger := o.logger.With(
		zap.String("service", serviceName),
		zap.String("action", string(action)))

	sm := o.machine(serviceName, logger)
	start := o.poller.clock.Now()
	result := Result{Service: serviceName, Action: action}

	finish := func(trigger string, outcome Outcome, arg any) Result {
		result.Outcome = outcome
		result.Elapsed = o.poller.clock.Since(start)
		if err := sm.Fire(trigger, arg); err != nil {
			logger.Error("Invalid orchestration transition", zap.String("trigger", trigger), zap.Error(err))
		}
		if err := sm.Fire(triggerReset); err != nil {
			logger.Error("Invalid orchestration transition", zap.String("trigger", triggerReset), zap.Error(err))
		}
		return result
	}

	if err := sm.Fire(triggerExecute); err != nil {
		logger.Error("Invalid orchestration transition", zap.String("trigger", triggerExecute), zap.Error(err))
	}

	if err := o.sink.InvokeAction(ctx, serviceName, action); err != nil {
		result.Err = asTransportError("invoke action", err)
		logger.Error("Service action failed", zap.Error(result.Err))
		return finish(triggerFailure, OutcomeTransportError, result.Err)
	}

	expected := ExpectedOutcome(action)
	probes, err := o.poller.Poll(ctx, expected)
	result.Probes = probes

	switch {
	case err == nil:
		logger.Info("Service reached expected state",
			zap.Bool("active", expected),
			zap.Int("probes", probes))
		return finish(triggerMatched, OutcomeSucceeded, expected)

	case errors.Is(err, ErrTimeout):
		result.Err = err
		logger.Warn("Timed out waiting for service state",
			zap.Bool("expected_active", expected),
			zap.Int("probes", probes),
			zap.Duration("deadline", o.poller.deadline))
		return finish(triggerTimeout, OutcomeTimedOut, serviceName)

	default:
		result.Err = asTransportError("poll status", err)
		logger.Error("Status poll failed", zap.Error(result.Err), zap.Int("probes", probes))
		return finish(triggerFailure, OutcomeTransportError, result.Err)
	}
}

// machine builds the per-run state machine. Entry actions are the only
// place the reporter is told about terminal states.
func (o *Orchestrator) machine(serviceName string, logger *zap.Logger) *stateless.StateMachine {
	sm := stateless.NewStateMachine(PhaseIdle)

	sm.Configure(PhaseIdle).
		Permit(triggerExecute, PhaseApplying)

	sm.Configure(PhaseApplying).
		OnEntry(func(_ context.Context, _ ...any) error {
			o.reporter.ReportApplying()
			return nil
		}).
		Permit(triggerMatched, PhaseSucceeded).
		Permit(triggerTimeout, PhaseTimedOut).
		Permit(triggerFailure, PhaseTransportError)

	sm.Configure(PhaseSucceeded).
		OnEntry(func(_ context.Context, args ...any) error {
			if len(args) > 0 {
				if active, ok := args[0].(bool); ok {
					o.reporter.ReportState(active)
				}
			}
			return nil
		}).
		Permit(triggerReset, PhaseIdle)

	sm.Configure(PhaseTimedOut).
		OnEntry(func(_ context.Context, _ ...any) error {
			o.reporter.ReportError(fmt.Sprintf("timeout waiting for %s", serviceName))
			return nil
		}).
		Permit(triggerReset, PhaseIdle)

	sm.Configure(PhaseTransportError).
		OnEntry(func(_ context.Context, args ...any) error {
			message := "transport error"
			if len(args) > 0 {
				if err, ok := args[0].(error); ok && err != nil {
					message = err.Error()
				}
			}
			o.reporter.ReportError(message)
			return nil
		}).
		Permit(triggerReset, PhaseIdle)

	sm.OnTransitioned(func(_ context.Context, t stateless.Transition) {
		logger.Debug("Orchestration transition",
			zap.Any("from", t.Source),
			zap.Any("to", t.Destination),
			zap.Any("trigger", t.Trigger))
	})

	return sm
}

func (o *Orchestrator) lockFor(serviceName string) *serviceLock {
	o.mu.Lock()
	defer o.mu.Unlock()

	lock, ok := o.locks[serviceName]
	if !ok {
		lock = &serviceLock{sem: semaphore.NewWeighted(1)}
		o.locks[serviceName] = lock
	}
	lock.refs++
	return lock
}

func (o *Orchestrator) unlockFor(serviceName string, lock *serviceLock) {
	o.mu.Lock()
	defer o.mu.Unlock()

	lock.refs--
	if lock.refs == 0 {
		delete(o.locks, serviceName)
	}
}
