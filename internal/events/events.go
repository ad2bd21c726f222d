// Package events carries run progress notifications to monitoring and UI consumers.
// Delivery is fire-and-forget: a sink never fails the caller.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/north-cloud/listings/internal/domain"
)

// EventType represents the type of run event.
type EventType string

const (
	// RunStarted indicates a run was created and its first discovery page scheduled.
	RunStarted EventType = "run.started"
	// RunPhaseChanged indicates a run moved from discovery to scraping.
	RunPhaseChanged EventType = "run.phase_changed"
	// RunStatsUpdated indicates the run's progress counters changed.
	RunStatsUpdated EventType = "run.stats_updated"
	// RunCompleted indicates a run finished.
	RunCompleted EventType = "run.completed"
	// RunFailed indicates a run failed on an orchestration error.
	RunFailed EventType = "run.failed"
	// RunStopped indicates a run was cancelled by an operator.
	RunStopped EventType = "run.stopped"
)

// RunEvent is the envelope for all run events.
type RunEvent struct {
	EventID   uuid.UUID        `json:"event_id"`
	EventType EventType        `json:"event_type"`
	RunID     string           `json:"run_id"`
	QueryID   string           `json:"query_id"`
	Platform  string           `json:"platform"`
	Phase     domain.RunPhase  `json:"phase"`
	Status    domain.RunStatus `json:"status"`
	Stats     domain.RunStats  `json:"stats"`
	Error     string           `json:"error,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// NewRunEvent snapshots a run into an event.
func NewRunEvent(eventType EventType, run *domain.ScrapeRun) RunEvent {
	ev := RunEvent{
		EventID:   uuid.New(),
		EventType: eventType,
		RunID:     run.ID,
		QueryID:   run.QueryID,
		Platform:  run.Platform,
		Phase:     run.Phase,
		Status:    run.Status,
		Stats:     run.RunStats,
		Timestamp: time.Now().UTC(),
	}
	if run.ErrorMessage != nil {
		ev.Error = *run.ErrorMessage
	}
	return ev
}

// Sink receives run events.
type Sink interface {
	Emit(ctx context.Context, event RunEvent)
}

// Multi fans an event out to several sinks in order.
type Multi []Sink

// Emit implements Sink.
func (m Multi) Emit(ctx context.Context, event RunEvent) {
	for _, s := range m {
		s.Emit(ctx, event)
	}
}

// Nop discards events.
type Nop struct{}

// Emit implements Sink.
func (Nop) Emit(context.Context, RunEvent) {}
