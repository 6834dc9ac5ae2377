package events

import (
	"context"
	"log/slog"
)

// LogListener writes delivered events to the structured log. It stands in for
// a real-time delivery channel when none is configured, keeping the outbox
// drained and observable.
type LogListener struct {
	logger *slog.Logger
}

// NewLogListener creates a LogListener.
func NewLogListener(logger *slog.Logger) *LogListener {
	return &LogListener{logger: logger}
}

func (l *LogListener) Notify(_ context.Context, entry *Entry) error {
	l.logger.Info("domain event",
		"event_id", entry.ID,
		"event_type", entry.Type,
		"aggregate_type", entry.AggregateType,
		"aggregate_id", entry.AggregateID,
	)
	return nil
}
