package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var errUnreachable = errors.New("rpc unreachable")

// scriptedRemote answers probes from a script; the last entry repeats.
type scriptedRemote struct {
	mu        sync.Mutex
	statuses  []bool
	failProbe int // 1-based probe number that fails, 0 for none
	invokeErr error
	probes    int
	invoked   []Action
}

func (r *scriptedRemote) FetchStatus(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.probes++
	if r.failProbe != 0 && r.probes == r.failProbe {
		return false, errUnreachable
	}
	if len(r.statuses) == 0 {
		return false, nil
	}
	i := r.probes - 1
	if i >= len(r.statuses) {
		i = len(r.statuses) - 1
	}
	return r.statuses[i], nil
}

func (r *scriptedRemote) InvokeAction(ctx context.Context, serviceName string, action Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.invokeErr != nil {
		return r.invokeErr
	}
	r.invoked = append(r.invoked, action)
	return nil
}

func (r *scriptedRemote) probeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.probes
}

// recordingReporter keeps every update as a short string
type recordingReporter struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingReporter) ReportApplying() { r.add("applying") }

func (r *recordingReporter) ReportState(active bool) { r.add(fmt.Sprintf("state:%t", active)) }

func (r *recordingReporter) ReportError(message string) { r.add("error:" + message) }

func (r *recordingReporter) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingReporter) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recordingReporter) last() string {
	events := r.snapshot()
	if len(events) == 0 {
		return ""
	}
	return events[len(events)-1]
}

type advancer interface {
	BlockUntilContext(ctx context.Context, n int) error
	Advance(d time.Duration)
}

// autoAdvance moves the fake clock forward by step every time something
// waits on it, until ctx is done.
func autoAdvance(ctx context.Context, clock advancer, step time.Duration) {
	for {
		if err := clock.BlockUntilContext(ctx, 1); err != nil {
			return
		}
		clock.Advance(step)
	}
}
