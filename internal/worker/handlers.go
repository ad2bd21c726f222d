package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	infralogger "github.com/jonesrussell/north-cloud/listings/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/listings/internal/database"
	"github.com/jonesrussell/north-cloud/listings/internal/domain"
	"github.com/jonesrussell/north-cloud/listings/internal/extraction"
	"github.com/jonesrussell/north-cloud/listings/internal/failure"
	"github.com/jonesrussell/north-cloud/listings/internal/orchestrator"
	"github.com/jonesrussell/north-cloud/listings/internal/queue"
	"github.com/jonesrussell/north-cloud/listings/internal/source"
)

const tracerName = "github.com/jonesrussell/north-cloud/listings/internal/worker"

// Task outcomes reported to the Observer.
const (
	OutcomeCompleted = "completed"
	OutcomeRetry     = "retry"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// RunReader loads runs.
type RunReader interface {
	GetByID(ctx context.Context, id string) (*domain.ScrapeRun, error)
}

// JobStore claims and requeues scrape jobs. Terminal statuses are written by Progress
// together with the run's stats.
type JobStore interface {
	Start(ctx context.Context, id string) (*domain.ScrapeJob, error)
	Requeue(ctx context.Context, id, reason string) error
}

// CandidateStore records discovered listings and scrape attempts on them.
type CandidateStore interface {
	InsertIfAbsent(ctx context.Context, c *domain.DiscoveredListing) (bool, error)
	GetByID(ctx context.Context, id string) (*domain.DiscoveredListing, error)
	RecordAttempt(ctx context.Context, id string, status domain.CandidateStatus, lastErr error) error
}

// ListingStore persists extracted listings.
type ListingStore interface {
	Save(ctx context.Context, l *domain.Listing) (*database.SaveResult, error)
}

// Source is the source-fetch collaborator.
type Source interface {
	DiscoverPage(ctx context.Context, platformName, searchURL string, page int) (*source.DiscoveredPage, error)
	FetchListing(ctx context.Context, platformName, listingURL string) (*source.Page, error)
}

// Extractor turns a fetched listing page into a normalized record.
type Extractor interface {
	Extract(ctx context.Context, platformName, pageURL string, body []byte) (*extraction.Result, error)
}

// Progress is the orchestrator side of job completion.
type Progress interface {
	SchedulePages(ctx context.Context, parent *domain.ScrapeJob, totalPages int) (int, error)
	PageFinished(ctx context.Context, out orchestrator.PageOutcome) error
	ListingFinished(ctx context.Context, out orchestrator.ListingOutcome) error
}

// Retrier schedules a delayed retry of a task.
type Retrier interface {
	EnqueueAfter(ctx context.Context, task queue.Task, delay time.Duration) error
}

// Unifier runs the unification engine for a group or re-analyzes a property.
type Unifier interface {
	Unify(ctx context.Context, groupID string) error
	Reanalyze(ctx context.Context, propertyID string) error
}

// Observer receives one call per handled task.
type Observer interface {
	ObserveTask(stage, outcome string, kind failure.Kind, elapsed time.Duration)
}

// Deps are the collaborators of the stage handlers.
type Deps struct {
	Runs       RunReader
	Jobs       JobStore
	Candidates CandidateStore
	Listings   ListingStore
	Source     Source
	Extractor  Extractor
	Progress   Progress
	Retries    Retrier
	Unifier    Unifier
	Observer   Observer
}

// Handlers executes stage tasks. Handle is the pool's TaskHandler.
type Handlers struct {
	runs       RunReader
	jobs       JobStore
	candidates CandidateStore
	listings   ListingStore
	source     Source
	extractor  Extractor
	progress   Progress
	retries    Retrier
	unifier    Unifier
	observer   Observer
	tracer     trace.Tracer
	log        infralogger.Logger
	now        func() time.Time
}

// NewHandlers creates the stage handlers.
func NewHandlers(deps Deps, log infralogger.Logger) *Handlers {
	return &Handlers{
		runs:       deps.Runs,
		jobs:       deps.Jobs,
		candidates: deps.Candidates,
		listings:   deps.Listings,
		source:     deps.Source,
		extractor:  deps.Extractor,
		progress:   deps.Progress,
		retries:    deps.Retries,
		unifier:    deps.Unifier,
		observer:   deps.Observer,
		tracer:     otel.Tracer(tracerName),
		log:        log,
		now:        time.Now,
	}
}

// Handle dispatches a task to its stage handler.
func (h *Handlers) Handle(ctx context.Context, task queue.Task) error {
	switch task.Stage {
	case queue.StageDiscovery:
		return h.HandleDiscovery(ctx, task)
	case queue.StageScrape:
		return h.HandleScrape(ctx, task)
	case queue.StageUnify:
		return h.HandleUnify(ctx, task)
	default:
		h.log.Error("Dropping task for unknown stage",
			infralogger.String("stage", string(task.Stage)),
			infralogger.String("task_id", task.ID),
		)
		return nil
	}
}

// HandleUnify runs unification for a group, or re-analysis for a property. The engine
// records every failure on the group itself. A lease held elsewhere, or released by an
// operator mid-flight, means the task no longer owns the group and it is dropped.
func (h *Handlers) HandleUnify(ctx context.Context, task queue.Task) error {
	start := h.now()

	var err error
	if task.Reanalysis {
		err = h.unifier.Reanalyze(ctx, task.PropertyID)
	} else {
		err = h.unifier.Unify(ctx, task.GroupID)
	}

	switch {
	case errors.Is(err, database.ErrLeaseNotAcquired), errors.Is(err, database.ErrLeaseLost):
		h.log.Debug("Group not leased by this task, skipping", infralogger.String("task", task.Key()), infralogger.Error(err))
		h.observe(queue.StageUnify, OutcomeSkipped, "", start)
		return nil
	case errors.Is(err, database.ErrNotFound):
		h.log.Warn("Dropping unify task for missing entity", infralogger.String("task", task.Key()), infralogger.Error(err))
		h.observe(queue.StageUnify, OutcomeSkipped, "", start)
		return nil
	case err != nil:
		h.observe(queue.StageUnify, OutcomeFailed, failure.Classify(err), start)
		return fmt.Errorf("unify %s: %w", task.Key(), err)
	default:
		h.observe(queue.StageUnify, OutcomeCompleted, "", start)
		return nil
	}
}

// startJob loads the task's run and claims its job. It returns a nil job without error when
// the task is stale: the run is gone or finished, or another delivery already claimed the job.
func (h *Handlers) startJob(ctx context.Context, task queue.Task) (*domain.ScrapeRun, *domain.ScrapeJob, error) {
	run, err := h.runs.GetByID(ctx, task.RunID)
	if errors.Is(err, database.ErrNotFound) {
		h.log.Warn("Dropping task for unknown run", infralogger.RunID(task.RunID), infralogger.JobID(task.JobID))
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	if run.Status.IsTerminal() {
		h.log.Debug("Skipping task for finished run",
			infralogger.RunID(run.ID),
			infralogger.JobID(task.JobID),
			infralogger.String("status", string(run.Status)),
		)
		return nil, nil, nil
	}

	job, err := h.jobs.Start(ctx, task.JobID)
	if errors.Is(err, database.ErrStaleStatus) {
		h.log.Debug("Job already claimed, skipping", infralogger.RunID(run.ID), infralogger.JobID(task.JobID))
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return run, job, nil
}

// retryOrFail applies the retry policy to a failed job: it is either returned to pending
// with a delayed retry task, or left running for the caller to report as failed. It reports
// whether the failure is terminal.
func (h *Handlers) retryOrFail(
	ctx context.Context, stage queue.Stage, job *domain.ScrapeJob, cause error,
) (bool, failure.Kind, error) {
	kind, policy, retry := failure.Decide(cause, job.Attempts)
	reason := failureReason(kind, cause)

	if retry {
		if err := h.jobs.Requeue(ctx, job.ID, reason); err != nil {
			return false, kind, err
		}
		delay := policy.Backoff(job.Attempts)
		if err := h.retries.EnqueueAfter(ctx, queue.NewJobTask(stage, job.RunID, job.ID), delay); err != nil {
			return false, kind, fmt.Errorf("schedule retry: %w", err)
		}
		h.log.Warn("Job failed, retry scheduled",
			infralogger.RunID(job.RunID),
			infralogger.JobID(job.ID),
			infralogger.String("kind", string(kind)),
			infralogger.Int("attempts", job.Attempts),
			infralogger.Duration("delay", delay),
			infralogger.Error(cause),
		)
		return false, kind, nil
	}

	h.log.Warn("Job failed",
		infralogger.RunID(job.RunID),
		infralogger.JobID(job.ID),
		infralogger.String("kind", string(kind)),
		infralogger.Int("attempts", job.Attempts),
		infralogger.Error(cause),
	)
	return true, kind, nil
}

func (h *Handlers) observe(stage queue.Stage, outcome string, kind failure.Kind, start time.Time) {
	if h.observer == nil {
		return
	}
	h.observer.ObserveTask(string(stage), outcome, kind, h.now().Sub(start))
}

func failureReason(kind failure.Kind, cause error) string {
	return fmt.Sprintf("%s: %v", kind, cause)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
