package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/topic-digest/internal/progress"
)

// LogSink writes one structured log line per event.
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

// Consume logs each event with the fields relevant to its stage.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID),
			zap.String("stage", string(evt.Stage)),
			zap.Time("ts", evt.TS),
		}
		switch evt.Stage {
		case progress.StageRunStart:
			fields = append(fields, zap.String("topic", evt.Topic))
		case progress.StageFeedDone:
			fields = append(fields, zap.Int("candidates", evt.Count), zap.Duration("duration", evt.Dur))
		case progress.StageItemDone:
			fields = append(fields,
				zap.Int("index", evt.Index),
				zap.String("url", evt.URL),
				zap.String("extract_status", evt.ExtractStatus),
				zap.Bool("accepted", evt.Accepted),
				zap.String("failure", evt.Failure),
				zap.Duration("duration", evt.Dur),
			)
		case progress.StageRunDone:
			fields = append(fields,
				zap.String("result", evt.Result),
				zap.Int("accepted", evt.Count),
				zap.String("failure", evt.Failure),
				zap.Duration("duration", evt.Dur),
			)
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
