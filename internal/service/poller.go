package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	// DefaultDeadline bounds how long a poll run waits for the expected state
	DefaultDeadline = 4000 * time.Millisecond

	// DefaultInterval is the delay between consecutive probes
	DefaultInterval = 300 * time.Millisecond
)

// Poller probes a StatusSource until it reports an expected state or a
// deadline elapses. A Poller keeps no state between runs and may be shared.
type Poller struct {
	source    StatusSource
	reporter  Reporter
	deadline  time.Duration
	interval  time.Duration
	clock     clockwork.Clock
	onAttempt func(PollAttempt)
}

// PollerOption configures a Poller
type PollerOption func(*Poller)

// WithDeadline sets the poll deadline. Zero means a single best-effort probe.
func WithDeadline(d time.Duration) PollerOption {
	return func(p *Poller) { p.deadline = d }
}

// WithInterval sets the delay between probes
func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) { p.interval = d }
}

// WithClock replaces the wall clock, mainly for tests
func WithClock(c clockwork.Clock) PollerOption {
	return func(p *Poller) { p.clock = c }
}

// WithReporter sets the reporter that receives every observed state
func WithReporter(r Reporter) PollerOption {
	return func(p *Poller) { p.reporter = r }
}

// WithAttemptHook registers a callback invoked after every probe
func WithAttemptHook(fn func(PollAttempt)) PollerOption {
	return func(p *Poller) { p.onAttempt = fn }
}

// NewPoller creates a poller with the default 4s deadline and 300ms interval
func NewPoller(source StatusSource, opts ...PollerOption) (*Poller, error) {
	p := &Poller{
		source:   source,
		reporter: NopReporter{},
		deadline: DefaultDeadline,
		interval: DefaultInterval,
		clock:    clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.source == nil {
		return nil, fmt.Errorf("poller requires a status source")
	}
	if p.interval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %v", p.interval)
	}
	if p.deadline < 0 {
		return nil, fmt.Errorf("poll deadline must not be negative, got %v", p.deadline)
	}
	if p.reporter == nil {
		p.reporter = NopReporter{}
	}

	return p, nil
}

// Deadline returns the configured deadline
func (p *Poller) Deadline() time.Duration {
	return p.deadline
}

// Interval returns the configured probe interval
func (p *Poller) Interval() time.Duration {
	return p.interval
}

// Poll probes until the observed state equals expected. It returns the number
// of probes issued and nil, ErrTimeout, or a *TransportError. Probe failures
// are never retried. The first probe is issued immediately and probes never
// overlap; Poll returns within deadline+interval plus the duration of the
// last probe.
func (p *Poller) Poll(ctx context.Context, expected bool) (int, error) {
	start := p.clock.Now()
	probes := 0

	for {
		active, err := p.source.FetchStatus(ctx)
		probes++

		if err != nil {
			p.attempt(PollAttempt{At: p.clock.Now()})
			return probes, asTransportError("fetch status", err)
		}

		observed := active
		p.attempt(PollAttempt{Observed: &observed, At: p.clock.Now()})
		p.reporter.ReportState(active)

		if active == expected {
			return probes, nil
		}
		if p.clock.Since(start) > p.deadline {
			return probes, ErrTimeout
		}

		select {
		case <-ctx.Done():
			return probes, &TransportError{Op: "poll", Err: ctx.Err()}
		case <-p.clock.After(p.interval):
		}

		// The deadline can pass while waiting; don't issue a probe that
		// starts after it.
		if p.clock.Since(start) > p.deadline {
			return probes, ErrTimeout
		}
	}
}

func (p *Poller) attempt(a PollAttempt) {
	if p.onAttempt != nil {
		p.onAttempt(a)
	}
}
