// Package sinks provides progress.Sink implementations for logs and
// Prometheus metrics.
package sinks

import (
	"go.uber.org/zap"

	"github.com/ballardtrucks/roundup/internal/progress"
)

// LogSink emits structured logs for each progress event. Useful during
// development and for CLI runs where no metrics endpoint exists.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Observe logs the event with structured fields.
func (s *LogSink) Observe(evt progress.Event) {
	fields := []zap.Field{
		zap.String("run_id", evt.RunID.String()),
		zap.String("stage", string(evt.Stage)),
	}
	if evt.SourceKey != "" {
		fields = append(fields, zap.String("source", evt.SourceKey))
	}
	if evt.Attempt > 0 {
		fields = append(fields, zap.Int("attempt", evt.Attempt))
	}
	if evt.Stage == progress.StageSourceDone || evt.Stage == progress.StageRunDone {
		fields = append(fields, zap.Int("events", evt.Events))
	}
	if evt.Cause != "" {
		fields = append(fields, zap.String("cause", evt.Cause))
	}
	if evt.Dur > 0 {
		fields = append(fields, zap.Duration("dur", evt.Dur))
	}
	s.logger.Info("scrape progress", fields...)
}
