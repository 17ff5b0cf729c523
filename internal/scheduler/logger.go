package scheduler

import (
	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// logAdapter routes gocron's key/value logging into zap
type logAdapter struct {
	sugar *zap.SugaredLogger
}

var _ gocron.Logger = (*logAdapter)(nil)

func newLogAdapter(logger *zap.Logger) *logAdapter {
	return &logAdapter{sugar: logger.Named("scheduler").Sugar()}
}

func (l *logAdapter) Debug(msg string, args ...any) { l.sugar.Debugw(msg, args...) }
func (l *logAdapter) Info(msg string, args ...any)  { l.sugar.Infow(msg, args...) }
func (l *logAdapter) Warn(msg string, args ...any)  { l.sugar.Warnw(msg, args...) }
func (l *logAdapter) Error(msg string, args ...any) { l.sugar.Errorw(msg, args...) }
