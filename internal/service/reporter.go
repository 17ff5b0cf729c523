package service

import (
	"context"

	"go.uber.org/zap"
)

// StatusSource returns whether the service is currently active.
// Implementations must be safe to call repeatedly and concurrently.
type StatusSource interface {
	FetchStatus(ctx context.Context) (bool, error)
}

// ActionSink requests a lifecycle action. It returns once the request was
// accepted for execution, not when the action completed.
type ActionSink interface {
	InvokeAction(ctx context.Context, serviceName string, action Action) error
}

// Remote is a service endpoint that can both be controlled and observed
type Remote interface {
	StatusSource
	ActionSink
}

// Reporter surfaces orchestration progress to an observer
type Reporter interface {
	ReportApplying()
	ReportState(active bool)
	ReportError(message string)
}

// NopReporter discards every update
type NopReporter struct{}

func (NopReporter) ReportApplying()    {}
func (NopReporter) ReportState(bool)   {}
func (NopReporter) ReportError(string) {}

type multiReporter []Reporter

// Reporters fans every update out to all non-nil reporters in order
func Reporters(reporters ...Reporter) Reporter {
	var out multiReporter
	for _, r := range reporters {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

func (m multiReporter) ReportApplying() {
	for _, r := range m {
		r.ReportApplying()
	}
}

func (m multiReporter) ReportState(active bool) {
	for _, r := range m {
		r.ReportState(active)
	}
}

func (m multiReporter) ReportError(message string) {
	for _, r := range m {
		r.ReportError(message)
	}
}

// LogReporter mirrors reporter updates into a structured log
type LogReporter struct {
	logger  *zap.Logger
	service string
}

// NewLogReporter creates a reporter that logs updates for the named service
func NewLogReporter(logger *zap.Logger, serviceName string) *LogReporter {
	return &LogReporter{logger: logger, service: serviceName}
}

func (l *LogReporter) ReportApplying() {
	l.logger.Info("Service status",
		zap.String("service", l.service),
		zap.Stringer("state", StateApplying))
}

func (l *LogReporter) ReportState(active bool) {
	l.logger.Debug("Service status",
		zap.String("service", l.service),
		zap.Stringer("state", StateFromActive(active)))
}

func (l *LogReporter) ReportError(message string) {
	l.logger.Warn("Service status",
		zap.String("service", l.service),
		zap.Stringer("state", StateError),
		zap.String("error", message))
}
