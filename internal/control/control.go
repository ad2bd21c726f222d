// Package control halts and resumes pipeline stages and reports queue depth. Cancelling never
// interrupts work already running on a worker; it clears queued work and returns the affected
// entities to a status from which the stage can be resumed.
package control

import (
	"context"
	"fmt"

	infralogger "github.com/jonesrussell/north-cloud/listings/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/listings/internal/database"
	"github.com/jonesrussell/north-cloud/listings/internal/domain"
	"github.com/jonesrussell/north-cloud/listings/internal/queue"
)

const (
	defaultResumeBatch = 1000
	cancelReason       = "cancelled by operator"
)

// Queue is the stage queue surface used by the controller.
type Queue interface {
	Enqueue(ctx context.Context, task queue.Task) (string, error)
	Purge(ctx context.Context, stage queue.Stage, group string) (int64, error)
	Depth(ctx context.Context, stage queue.Stage, group string) (queue.Depth, error)
	Pause(ctx context.Context, stage queue.Stage) error
	Resume(ctx context.Context, stage queue.Stage) error
	IsPaused(ctx context.Context, stage queue.Stage) (bool, error)
}

// RunStore reads runs.
type RunStore interface {
	GetByID(ctx context.Context, id string) (*domain.ScrapeRun, error)
	List(ctx context.Context, params database.ListParams) ([]*domain.ScrapeRun, error)
	CountByStatus(ctx context.Context) (map[domain.RunStatus]int, error)
}

// RunStopper moves a run to Stopped and reports whether this call did it.
type RunStopper interface {
	Stop(ctx context.Context, run *domain.ScrapeRun, reason string) (bool, error)
}

// JobStore reads and fails scrape jobs.
type JobStore interface {
	ListByRun(ctx context.Context, runID string, jobType domain.JobType) ([]*domain.ScrapeJob, error)
	ListPending(ctx context.Context, jobType domain.JobType, limit int) ([]*domain.ScrapeJob, error)
	FailPendingForRun(ctx context.Context, runID, reason string) (int64, error)
	CountPending(ctx context.Context) (map[domain.JobType]int, error)
}

// CandidateStore resets queued discovered listings.
type CandidateStore interface {
	ResetQueued(ctx context.Context, batchID string) (int64, error)
	ResetQueuedByIDs(ctx context.Context, ids []string) (int64, error)
	CountByStatus(ctx context.Context) (map[domain.CandidateStatus]int, error)
}

// GroupStore resets and lists listing groups.
type GroupStore interface {
	ResetProcessing(ctx context.Context) (int64, error)
	ListPendingAI(ctx context.Context, limit int) ([]*domain.ListingGroup, error)
	CountByStatus(ctx context.Context) (map[domain.GroupStatus]int, error)
}

// Config configures the controller.
type Config struct {
	// ConsumerGroup is the worker consumer group recreated after a purge.
	ConsumerGroup string
	// ResumeBatch caps how many pending entities one resume re-enqueues.
	ResumeBatch int
}

// Deps are the controller's collaborators.
type Deps struct {
	Queue      Queue
	Runs       RunStore
	Stopper    RunStopper
	Jobs       JobStore
	Candidates CandidateStore
	Groups     GroupStore
}

// Controller implements the administrative control surface.
type Controller struct {
	queue      Queue
	runs       RunStore
	stopper    RunStopper
	jobs       JobStore
	candidates CandidateStore
	groups     GroupStore
	cfg        Config
	log        infralogger.Logger
}

// New creates a controller.
func New(deps Deps, cfg Config, log infralogger.Logger) *Controller {
	if cfg.ResumeBatch <= 0 {
		cfg.ResumeBatch = defaultResumeBatch
	}
	return &Controller{
		queue:      deps.Queue,
		runs:       deps.Runs,
		stopper:    deps.Stopper,
		jobs:       deps.Jobs,
		candidates: deps.Candidates,
		groups:     deps.Groups,
		cfg:        cfg,
		log:        log,
	}
}

// StageReport summarizes a stage cancellation.
type StageReport struct {
	Stage           queue.Stage  `json:"stage"`
	TasksPurged     int64        `json:"tasks_purged"`
	Runs            []*RunReport `json:"runs,omitempty"`
	CandidatesReset int64        `json:"candidates_reset"`
	GroupsReset     int64        `json:"groups_reset"`
}

// RunReport summarizes a run cancellation.
type RunReport struct {
	RunID           string `json:"run_id"`
	Stopped         bool   `json:"stopped"`
	JobsFailed      int64  `json:"jobs_failed"`
	CandidatesReset int64  `json:"candidates_reset"`
}

// ResumeReport summarizes a stage resume.
type ResumeReport struct {
	Stage    queue.Stage `json:"stage"`
	Enqueued int         `json:"enqueued"`
}

// CancelStage pauses a stage, purges its queue and resets what the purge orphaned: runs in the
// stage's status are stopped, queued candidates return to pending for the scrape stage, and
// leased groups return to pending_ai for the unify stage.
func (c *Controller) CancelStage(ctx context.Context, stage queue.Stage) (*StageReport, error) {
	if !stage.IsValid() {
		return nil, fmt.Errorf("unknown stage %q", stage)
	}

	if err := c.queue.Pause(ctx, stage); err != nil {
		return nil, err
	}

	report := &StageReport{Stage: stage}

	purged, err := c.queue.Purge(ctx, stage, c.cfg.ConsumerGroup)
	if err != nil {
		return nil, err
	}
	report.TasksPurged = purged

	switch stage {
	case queue.StageDiscovery:
		report.Runs, err = c.stopRunsIn(ctx, domain.RunStatusDiscovering)
	case queue.StageScrape:
		report.Runs, err = c.stopRunsIn(ctx, domain.RunStatusScraping)
		if err == nil {
			report.CandidatesReset, err = c.candidates.ResetQueued(ctx, "")
		}
	case queue.StageUnify:
		report.GroupsReset, err = c.groups.ResetProcessing(ctx)
	}
	if err != nil {
		return report, fmt.Errorf("cancel %s stage: %w", stage, err)
	}

	c.log.Info("Stage cancelled",
		infralogger.String("stage", string(stage)),
		infralogger.Int64("tasks_purged", report.TasksPurged),
		infralogger.Int("runs_stopped", countStopped(report.Runs)),
		infralogger.Int64("candidates_reset", report.CandidatesReset),
		infralogger.Int64("groups_reset", report.GroupsReset),
	)
	return report, nil
}

// CancelRun stops one run, fails its pending jobs and returns the candidates those jobs had
// claimed to pending. Cancelling a finished run only clears leftovers.
func (c *Controller) CancelRun(ctx context.Context, runID string) (*RunReport, error) {
	run, err := c.runs.GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}

	report, err := c.stopRun(ctx, run)
	if err != nil {
		return report, err
	}

	c.log.Info("Run cancelled",
		infralogger.RunID(run.ID),
		infralogger.Bool("stopped", report.Stopped),
		infralogger.Int64("jobs_failed", report.JobsFailed),
		infralogger.Int64("candidates_reset", report.CandidatesReset),
	)
	return report, nil
}

// ResumeStage clears a stage's pause flag and re-enqueues its pending work. Duplicate tasks are
// harmless: workers only act on jobs and groups still in their pending status.
func (c *Controller) ResumeStage(ctx context.Context, stage queue.Stage) (*ResumeReport, error) {
	if !stage.IsValid() {
		return nil, fmt.Errorf("unknown stage %q", stage)
	}

	if err := c.queue.Resume(ctx, stage); err != nil {
		return nil, err
	}

	var tasks []queue.Task
	switch stage {
	case queue.StageDiscovery, queue.StageScrape:
		jobType := domain.JobTypeDiscovery
		if stage == queue.StageScrape {
			jobType = domain.JobTypeListing
		}
		jobs, err := c.jobs.ListPending(ctx, jobType, c.cfg.ResumeBatch)
		if err != nil {
			return nil, err
		}
		for _, j := range jobs {
			tasks = append(tasks, queue.NewJobTask(stage, j.RunID, j.ID))
		}
	case queue.StageUnify:
		groups, err := c.groups.ListPendingAI(ctx, c.cfg.ResumeBatch)
		if err != nil {
			return nil, err
		}
		for _, g := range groups {
			tasks = append(tasks, queue.NewUnifyTask(g.ID))
		}
	}

	report := &ResumeReport{Stage: stage}
	for _, task := range tasks {
		if _, err := c.queue.Enqueue(ctx, task); err != nil {
			return report, err
		}
		report.Enqueued++
	}

	c.log.Info("Stage resumed",
		infralogger.String("stage", string(stage)),
		infralogger.Int("enqueued", report.Enqueued),
	)
	return report, nil
}

func (c *Controller) stopRunsIn(ctx context.Context, status domain.RunStatus) ([]*RunReport, error) {
	runs, err := c.runs.List(ctx, database.ListParams{
		Statuses: []domain.RunStatus{status},
		Limit:    c.cfg.ResumeBatch,
	})
	if err != nil {
		return nil, err
	}

	reports := make([]*RunReport, 0, len(runs))
	for _, run := range runs {
		report, stopErr := c.stopRun(ctx, run)
		if stopErr != nil {
			return reports, stopErr
		}
		reports = append(reports, report)
	}
	return reports, nil
}

func (c *Controller) stopRun(ctx context.Context, run *domain.ScrapeRun) (*RunReport, error) {
	report := &RunReport{RunID: run.ID}

	stopped, err := c.stopper.Stop(ctx, run, cancelReason)
	if err != nil {
		return report, fmt.Errorf("stop run %s: %w", run.ID, err)
	}
	report.Stopped = stopped

	// Collect the claimed candidates before their jobs stop being pending.
	jobs, err := c.jobs.ListByRun(ctx, run.ID, domain.JobTypeListing)
	if err != nil {
		return report, err
	}
	claimed := make([]string, 0, len(jobs))
	for _, j := range jobs {
		if j.Status == domain.JobStatusPending && j.DiscoveredListingID != nil {
			claimed = append(claimed, *j.DiscoveredListingID)
		}
	}

	if report.JobsFailed, err = c.jobs.FailPendingForRun(ctx, run.ID, cancelReason); err != nil {
		return report, err
	}
	if report.CandidatesReset, err = c.candidates.ResetQueuedByIDs(ctx, claimed); err != nil {
		return report, err
	}
	return report, nil
}

func countStopped(runs []*RunReport) int {
	n := 0
	for _, r := range runs {
		if r.Stopped {
			n++
		}
	}
	return n
}
