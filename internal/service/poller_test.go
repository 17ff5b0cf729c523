package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pollRun struct {
	probes   int
	elapsed  time.Duration
	err      error
	reporter *recordingReporter
}

// pollWithFakeClock runs one poll against a fake clock that is advanced by
// the poll interval whenever the poller waits.
func pollWithFakeClock(t *testing.T, remote *scriptedRemote, expected bool, opts ...PollerOption) pollRun {
	t.Helper()

	clock := clockwork.NewFakeClock()
	reporter := &recordingReporter{}
	poller, err := NewPoller(remote, append([]PollerOption{WithClock(clock), WithReporter(reporter)}, opts...)...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go autoAdvance(ctx, clock, poller.Interval())

	start := clock.Now()
	probes, pollErr := poller.Poll(ctx, expected)
	return pollRun{probes: probes, elapsed: clock.Since(start), err: pollErr, reporter: reporter}
}

func TestNewPollerDefaults(t *testing.T) {
	p, err := NewPoller(&scriptedRemote{})
	require.NoError(t, err)

	assert.Equal(t, 4000*time.Millisecond, p.Deadline())
	assert.Equal(t, 300*time.Millisecond, p.Interval())
}

func TestNewPollerRejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name    string
		opts    []PollerOption
		errText string
	}{
		{name: "zero interval", opts: []PollerOption{WithInterval(0)}, errText: "interval must be positive"},
		{name: "negative interval", opts: []PollerOption{WithInterval(-time.Millisecond)}, errText: "interval must be positive"},
		{name: "negative deadline", opts: []PollerOption{WithDeadline(-time.Second)}, errText: "deadline must not be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPoller(&scriptedRemote{}, tt.opts...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errText)
		})
	}

	_, err := NewPoller(nil)
	assert.Error(t, err)
}

func TestPollFirstProbeIsImmediate(t *testing.T) {
	clock := clockwork.NewFakeClock()
	start := clock.Now()

	var attempts []PollAttempt
	remote := &scriptedRemote{statuses: []bool{true}}
	poller, err := NewPoller(remote,
		WithClock(clock),
		WithAttemptHook(func(a PollAttempt) { attempts = append(attempts, a) }))
	require.NoError(t, err)

	// The clock is never advanced, so any pre-delay would block forever.
	probes, err := poller.Poll(context.Background(), true)
	require.NoError(t, err)

	assert.Equal(t, 1, probes)
	require.Len(t, attempts, 1)
	assert.Equal(t, start, attempts[0].At)
	require.NotNil(t, attempts[0].Observed)
	assert.True(t, *attempts[0].Observed)
}

func TestPollSucceedsAfterServiceSettles(t *testing.T) {
	remote := &scriptedRemote{statuses: []bool{false, false, false, true}}

	run := pollWithFakeClock(t, remote, true)
	require.NoError(t, run.err)

	assert.Equal(t, 4, run.probes)
	assert.GreaterOrEqual(t, run.elapsed, 900*time.Millisecond)
	assert.Less(t, run.elapsed, 4300*time.Millisecond)
	assert.Equal(t, []string{"state:false", "state:false", "state:false", "state:true"}, run.reporter.snapshot())
}

func TestPollTimesOut(t *testing.T) {
	remote := &scriptedRemote{statuses: []bool{false}}

	run := pollWithFakeClock(t, remote, true, WithDeadline(1000*time.Millisecond))
	require.ErrorIs(t, run.err, ErrTimeout)

	// Probes at t=0,300,600,900; the check after waking at t=1200 fails.
	assert.Equal(t, 4, run.probes)
	assert.Equal(t, 4, remote.probeCount())
	assert.Equal(t, 1200*time.Millisecond, run.elapsed)
}

func TestPollZeroDeadlineProbesOnce(t *testing.T) {
	remote := &scriptedRemote{statuses: []bool{false}}

	run := pollWithFakeClock(t, remote, true, WithDeadline(0))
	require.ErrorIs(t, run.err, ErrTimeout)

	assert.Equal(t, 1, run.probes)
	assert.Equal(t, []string{"state:false"}, run.reporter.snapshot())
}

func TestPollZeroDeadlineMatchingSucceeds(t *testing.T) {
	remote := &scriptedRemote{statuses: []bool{true}}

	run := pollWithFakeClock(t, remote, true, WithDeadline(0))
	require.NoError(t, run.err)
	assert.Equal(t, 1, run.probes)
}

func TestPollTransportErrorIsNotRetried(t *testing.T) {
	remote := &scriptedRemote{statuses: []bool{false, true}, failProbe: 2}

	run := pollWithFakeClock(t, remote, true)
	require.Error(t, run.err)

	var te *TransportError
	require.True(t, errors.As(run.err, &te))
	assert.ErrorIs(t, run.err, errUnreachable)
	assert.Equal(t, 2, run.probes)
	assert.Equal(t, 2, remote.probeCount())
	// Failed probes produce no state update; the caller reports the error.
	assert.Equal(t, []string{"state:false"}, run.reporter.snapshot())
}

func TestPollStopsWhenContextEnds(t *testing.T) {
	clock := clockwork.NewFakeClock()
	poller, err := NewPoller(&scriptedRemote{statuses: []bool{false}}, WithClock(clock))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := poller.Poll(ctx, true)
		done <- err
	}()

	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	cancel()

	select {
	case err := <-done:
		var te *TransportError
		require.True(t, errors.As(err, &te))
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Poll did not return after context cancellation")
	}
}

func TestPollTerminationBound(t *testing.T) {
	deadline := 60 * time.Millisecond
	interval := 25 * time.Millisecond
	poller, err := NewPoller(&scriptedRemote{statuses: []bool{false}},
		WithDeadline(deadline), WithInterval(interval))
	require.NoError(t, err)

	start := time.Now()
	_, err = poller.Poll(context.Background(), true)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrTimeout)
	assert.Greater(t, elapsed, deadline)
	// Scheduler jitter allowance on top of deadline+interval.
	assert.Less(t, elapsed, deadline+interval+50*time.Millisecond)
}
