package sinks

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/license-resolver/internal/progress"
)

// LogSink emits structured progress logs. Pass boundaries are always logged;
// record events are sampled to at most one line per interval.
type LogSink struct {
	logger *zap.Logger
	sample *rate.Sometimes
}

// NewLogSink wires a Zap logger to the sink interface. A non-positive interval
// logs every record.
func NewLogSink(logger *zap.Logger, interval time.Duration) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	sample := &rate.Sometimes{Interval: interval}
	if interval <= 0 {
		sample = &rate.Sometimes{Every: 1}
	}
	return &LogSink{logger: logger, sample: sample}
}

// Consume logs the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID),
			zap.String("stage", string(evt.Stage)),
			zap.Int("total", evt.Counters.Total),
			zap.Int("processed", evt.Counters.Processed),
			zap.Int("mapped", evt.Counters.Mapped),
			zap.Int("unresolved", evt.Counters.Unresolved),
		}
		switch evt.Stage {
		case progress.StagePassStart:
			s.logger.Info("pass started", fields...)
		case progress.StagePassDone:
			s.logger.Info("pass finished", append(fields, zap.Duration("elapsed", evt.Elapsed))...)
		case progress.StageRecordDone:
			s.sample.Do(func() {
				s.logger.Info("pass progress", append(fields,
					zap.String("url_id", evt.URLID),
					zap.String("host", evt.Host),
					zap.String("result", string(evt.Result)),
					zap.String("label", evt.Label),
				)...)
			})
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
