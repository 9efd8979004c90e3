package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/forumharvest/internal/progress"
)

// LogSink writes one structured log line per event.
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

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
		}
		switch evt.Stage {
		case progress.StageRunStart:
			fields = append(fields, zap.Int("total_pages", evt.Total))
		case progress.StagePageDone:
			fields = append(fields,
				zap.Int("page", evt.Page),
				zap.String("url", evt.URL),
				zap.String("status_class", string(evt.StatusClass)),
				zap.Bool("present", evt.Present),
				zap.Int("extracted", evt.Extracted),
				zap.Int("stored", evt.Stored),
				zap.Int("store_failures", evt.Failures),
				zap.Int("skipped", evt.Skipped),
				zap.Int("done", evt.Done),
				zap.Int("total", evt.Total),
				zap.Duration("dur", evt.Dur),
			)
		case progress.StageRunDone:
			fields = append(fields,
				zap.Duration("dur", evt.Dur),
				zap.Bool("canceled", evt.Canceled),
			)
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
