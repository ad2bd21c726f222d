// Package orchestrator owns the ScrapeRun state machine: it starts runs, schedules discovery
// and scrape jobs, aggregates progress and drives the phase transitions from the
// stats-based completion predicates.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	infralogger "github.com/jonesrussell/north-cloud/listings/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/listings/internal/database"
	"github.com/jonesrussell/north-cloud/listings/internal/domain"
	"github.com/jonesrussell/north-cloud/listings/internal/events"
	"github.com/jonesrussell/north-cloud/listings/internal/platform"
	"github.com/jonesrussell/north-cloud/listings/internal/queue"
)

// ErrQueryDisabled is returned when starting a run for a disabled saved query.
var ErrQueryDisabled = errors.New("search query disabled")

// QueryStore reads saved queries.
type QueryStore interface {
	GetByID(ctx context.Context, id string) (*domain.SearchQuery, error)
	TouchLastRun(ctx context.Context, id string, at time.Time) error
}

// RunStore persists runs. Transition and FinishJob are compare-and-set and fail with
// database.ErrStaleStatus when the run or job already left the expected status.
type RunStore interface {
	Create(ctx context.Context, run *domain.ScrapeRun) error
	GetByID(ctx context.Context, id string) (*domain.ScrapeRun, error)
	Transition(ctx context.Context, p database.TransitionParams) (*domain.ScrapeRun, error)
	FinishJob(ctx context.Context, f database.JobFinish) (*domain.ScrapeRun, error)
	RecountStats(ctx context.Context, id string) (*domain.ScrapeRun, error)
	SetListingsFound(ctx context.Context, id string, n int) (*domain.ScrapeRun, error)
}

// JobStore persists scrape jobs. Create is idempotent per (run, page) and per
// (run, discovered listing).
type JobStore interface {
	Create(ctx context.Context, job *domain.ScrapeJob) (bool, error)
}

// CandidateStore reads and claims discovered listings.
type CandidateStore interface {
	ListPendingByPlatform(ctx context.Context, platform string) ([]*domain.DiscoveredListing, error)
	ClaimPending(ctx context.Context, ids []string) ([]string, error)
	ResetQueuedByIDs(ctx context.Context, ids []string) (int64, error)
}

// Enqueuer hands tasks to the stage queues.
type Enqueuer interface {
	Enqueue(ctx context.Context, task queue.Task) (string, error)
}

// Platforms resolves platform definitions.
type Platforms interface {
	Get(name string) (*platform.Definition, error)
}

// Deps are the orchestrator's collaborators.
type Deps struct {
	Queries    QueryStore
	Runs       RunStore
	Jobs       JobStore
	Candidates CandidateStore
	Queue      Enqueuer
	Platforms  Platforms
	Events     events.Sink
}

// Orchestrator drives runs through Discovering, Scraping and a terminal status.
type Orchestrator struct {
	queries    QueryStore
	runs       RunStore
	jobs       JobStore
	candidates CandidateStore
	queue      Enqueuer
	platforms  Platforms
	events     events.Sink
	log        infralogger.Logger
	now        func() time.Time
}

// New creates an orchestrator.
func New(deps Deps, log infralogger.Logger) *Orchestrator {
	sink := deps.Events
	if sink == nil {
		sink = events.Nop{}
	}
	return &Orchestrator{
		queries:    deps.Queries,
		runs:       deps.Runs,
		jobs:       deps.Jobs,
		candidates: deps.Candidates,
		queue:      deps.Queue,
		platforms:  deps.Platforms,
		events:     sink,
		log:        log,
		now:        time.Now,
	}
}

// CheckDiscoveryComplete reports whether every known results page has finished.
func CheckDiscoveryComplete(run *domain.ScrapeRun) bool {
	return run.PagesTotal > 0 && run.PagesDone >= run.PagesTotal
}

// CheckScrapingComplete reports whether every scheduled listing has finished.
func CheckScrapingComplete(run *domain.ScrapeRun) bool {
	return run.ListingsFound > 0 && run.ListingsScraped >= run.ListingsFound
}

// StartRun creates a run for a saved query in the Discovering status, schedules the page-1
// discovery job and stamps the query's last-run time.
func (o *Orchestrator) StartRun(ctx context.Context, queryID string) (*domain.ScrapeRun, error) {
	q, err := o.queries.GetByID(ctx, queryID)
	if err != nil {
		return nil, err
	}
	if !q.Enabled {
		return nil, fmt.Errorf("start run for query %s: %w", q.ID, ErrQueryDisabled)
	}
	if _, err = o.platforms.Get(q.Platform); err != nil {
		return nil, fmt.Errorf("start run for query %s: %w", q.ID, err)
	}

	now := o.now().UTC()
	run := &domain.ScrapeRun{
		ID:        uuid.NewString(),
		QueryID:   q.ID,
		Platform:  q.Platform,
		SearchURL: q.SearchURL,
		Phase:     domain.RunPhaseDiscover,
		Status:    domain.RunStatusDiscovering,
		StartedAt: now,
	}
	if err = o.runs.Create(ctx, run); err != nil {
		return nil, err
	}

	job := &domain.ScrapeJob{
		ID:          uuid.NewString(),
		RunID:       run.ID,
		JobType:     domain.JobTypeDiscovery,
		Status:      domain.JobStatusPending,
		Platform:    run.Platform,
		TargetURL:   run.SearchURL,
		CurrentPage: 1,
	}
	if _, err = o.jobs.Create(ctx, job); err != nil {
		return nil, o.failOnBookkeeping(ctx, run, fmt.Errorf("create page 1 job: %w", err))
	}
	if _, err = o.queue.Enqueue(ctx, queue.NewJobTask(queue.StageDiscovery, run.ID, job.ID)); err != nil {
		return nil, o.failOnBookkeeping(ctx, run, fmt.Errorf("enqueue page 1 job: %w", err))
	}

	if err = o.queries.TouchLastRun(ctx, q.ID, now); err != nil {
		o.log.Warn("Failed to stamp query last run", infralogger.String("query_id", q.ID), infralogger.Error(err))
	}

	o.log.Info("Run started",
		infralogger.RunID(run.ID),
		infralogger.Platform(run.Platform),
		infralogger.String("search_url", run.SearchURL),
	)
	o.events.Emit(ctx, events.NewRunEvent(events.RunStarted, run))
	return run, nil
}

// UpdateStats merges a finished job's progress delta into its run, writing the job's terminal
// status in the same transaction, and emits a stats-updated event. A job that is no longer
// running was already counted; the run is reloaded so the caller still re-evaluates it.
func (o *Orchestrator) UpdateStats(ctx context.Context, f database.JobFinish) (*domain.ScrapeRun, error) {
	run, err := o.runs.FinishJob(ctx, f)
	if errors.Is(err, database.ErrStaleStatus) {
		o.log.Debug("Job already finished", infralogger.RunID(f.RunID), infralogger.JobID(f.JobID))
		return o.runs.GetByID(ctx, f.RunID)
	}
	if err != nil {
		return nil, err
	}
	o.events.Emit(ctx, events.NewRunEvent(events.RunStatsUpdated, run))
	return run, nil
}

// MarkCompleted moves the run to Completed. A run that already left its status is left
// alone and reports no error; only the caller that wins the transition emits the event.
func (o *Orchestrator) MarkCompleted(ctx context.Context, run *domain.ScrapeRun) error {
	done, err := o.transition(ctx, run, domain.RunStatusCompleted, nil)
	if err != nil || done == nil {
		return err
	}
	o.log.Info("Run completed",
		infralogger.RunID(done.ID),
		infralogger.Int("pages_done", done.PagesDone),
		infralogger.Int("pages_failed", done.PagesFailed),
		infralogger.Int("listings_scraped", done.ListingsScraped),
		infralogger.Int("listings_failed", done.ListingsFailed),
	)
	o.events.Emit(ctx, events.NewRunEvent(events.RunCompleted, done))
	return nil
}

// MarkFailed moves the run to Failed with a reason.
func (o *Orchestrator) MarkFailed(ctx context.Context, run *domain.ScrapeRun, reason string) error {
	failed, err := o.transition(ctx, run, domain.RunStatusFailed, &reason)
	if err != nil || failed == nil {
		return err
	}
	o.log.Warn("Run failed", infralogger.RunID(failed.ID), infralogger.String("reason", reason))
	o.events.Emit(ctx, events.NewRunEvent(events.RunFailed, failed))
	return nil
}

// Stop moves a run to Stopped. It reports whether this call stopped the run.
func (o *Orchestrator) Stop(ctx context.Context, run *domain.ScrapeRun, reason string) (bool, error) {
	stopped, err := o.transition(ctx, run, domain.RunStatusStopped, &reason)
	if err != nil || stopped == nil {
		return false, err
	}
	o.log.Info("Run stopped", infralogger.RunID(stopped.ID), infralogger.String("reason", reason))
	o.events.Emit(ctx, events.NewRunEvent(events.RunStopped, stopped))
	return true, nil
}

// transition applies a compare-and-set status change. It returns a nil run without error
// when another caller moved the run first.
func (o *Orchestrator) transition(
	ctx context.Context, run *domain.ScrapeRun, to domain.RunStatus, reason *string,
) (*domain.ScrapeRun, error) {
	updated, err := o.runs.Transition(ctx, database.TransitionParams{
		ID:           run.ID,
		From:         run.Status,
		To:           to,
		Phase:        domain.PhaseFor(to, run.Phase),
		ErrorMessage: reason,
	})
	if errors.Is(err, database.ErrStaleStatus) {
		o.log.Debug("Run transition lost",
			infralogger.RunID(run.ID),
			infralogger.String("from", string(run.Status)),
			infralogger.String("to", string(to)),
		)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if consistencyErr := updated.ValidateConsistency(); consistencyErr != nil {
		return nil, consistencyErr
	}
	return updated, nil
}

// failOnBookkeeping marks the run failed after an orchestration error and returns the error.
func (o *Orchestrator) failOnBookkeeping(ctx context.Context, run *domain.ScrapeRun, cause error) error {
	if err := o.MarkFailed(ctx, run, cause.Error()); err != nil {
		o.log.Error("Failed to mark run failed",
			infralogger.RunID(run.ID),
			infralogger.Error(err),
			infralogger.String("cause", cause.Error()),
		)
	}
	return cause
}
