package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/tbprogress/internal/scalar"
)

// LogSink emits one structured log line per record. It is useful during
// development when no durable store is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each record in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []scalar.Record) error {
	for _, rec := range batch {
		s.logger.Info("scalar",
			zap.Stringer("run", rec.Run),
			zap.String("name", rec.Name),
			zap.Float32("value", rec.Value),
			zap.Uint64("step", rec.Step),
			zap.Time("wall_time", rec.WallTime),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
