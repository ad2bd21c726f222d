package events

import (
	"context"

	infralogger "github.com/jonesrussell/north-cloud/listings/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/listings/infrastructure/sse"
)

// LogSink writes every event to the service log.
type LogSink struct {
	log infralogger.Logger
}

// NewLogSink creates a logging sink.
func NewLogSink(log infralogger.Logger) *LogSink {
	return &LogSink{log: log}
}

// Emit implements Sink.
func (s *LogSink) Emit(_ context.Context, event RunEvent) {
	fields := []infralogger.Field{
		infralogger.String("event_type", string(event.EventType)),
		infralogger.RunID(event.RunID),
		infralogger.Platform(event.Platform),
		infralogger.String("status", string(event.Status)),
		infralogger.Int("pages_total", event.Stats.PagesTotal),
		infralogger.Int("pages_done", event.Stats.PagesDone),
		infralogger.Int("listings_found", event.Stats.ListingsFound),
		infralogger.Int("listings_scraped", event.Stats.ListingsScraped),
	}
	if event.EventType == RunFailed {
		s.log.Warn("Run event", append(fields, infralogger.String("reason", event.Error))...)
		return
	}
	s.log.Info("Run event", fields...)
}

// SSESink publishes events to an SSE broker, topic-scoped by run id.
type SSESink struct {
	publisher sse.Publisher
	log       infralogger.Logger
}

// NewSSESink creates a sink that streams events to SSE subscribers.
func NewSSESink(publisher sse.Publisher, log infralogger.Logger) *SSESink {
	return &SSESink{publisher: publisher, log: log}
}

// Emit implements Sink. A full broker buffer drops the event.
func (s *SSESink) Emit(ctx context.Context, event RunEvent) {
	err := s.publisher.Publish(ctx, sse.Event{
		Type:  string(event.EventType),
		Data:  event,
		Topic: event.RunID,
		ID:    event.EventID.String(),
	})
	if err != nil {
		s.log.Debug("Dropped run event",
			infralogger.String("event_type", string(event.EventType)),
			infralogger.RunID(event.RunID),
			infralogger.Error(err),
		)
	}
}
