package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/layered-crawler/internal/progress"
)

// LogSink writes one structured log line per event. Run and layer
// milestones log at Info, per-identifier events at Debug.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("progress")}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		level := zapcore.InfoLevel
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.Time("ts", evt.TS),
		}
		switch evt.Stage {
		case progress.StageFetchDone, progress.StageExtractDone:
			level = zapcore.DebugLevel
			fields = append(fields, zap.String("site", evt.Site), zap.String("url", evt.URL))
		case progress.StageLayerStart, progress.StageLayerDone:
			fields = append(fields, zap.Int("layer", evt.Layer))
		case progress.StageRunError:
			level = zapcore.WarnLevel
		}
		fields = append(fields, zap.Int("count", evt.Count), zap.Duration("dur", evt.Dur))
		if evt.Failed {
			fields = append(fields, zap.Bool("failed", true))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if ce := s.logger.Check(level, "progress event"); ce != nil {
			ce.Write(fields...)
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
