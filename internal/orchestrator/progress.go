package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	infralogger "github.com/jonesrussell/north-cloud/listings/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/listings/internal/database"
	"github.com/jonesrussell/north-cloud/listings/internal/domain"
	"github.com/jonesrussell/north-cloud/listings/internal/events"
	"github.com/jonesrussell/north-cloud/listings/internal/queue"
)

// PageOutcome reports a discovery page job that reached a terminal status.
type PageOutcome struct {
	Job    *domain.ScrapeJob
	Result domain.JobResult
	// TotalPages is the page count reported by page 1.
	TotalPages int
	// NewListings counts candidates this page inserted.
	NewListings int
	Failed      bool
	Reason      string
}

// ListingOutcome reports a listing scrape job that reached a terminal status.
type ListingOutcome struct {
	Job    *domain.ScrapeJob
	Result domain.JobResult
	Failed bool
	Reason string
}

// stalledReason is recorded on runs the recovery sweep cannot advance.
const stalledReason = "run stalled with no pending work"

// SchedulePages creates and enqueues one child discovery job per page 2..totalPages of the
// parent's run. Pages that already have a job are skipped, so re-running page 1 never
// duplicates children. It returns the number of jobs created.
func (o *Orchestrator) SchedulePages(ctx context.Context, parent *domain.ScrapeJob, totalPages int) (int, error) {
	if parent.CurrentPage != 1 || totalPages <= 1 {
		return 0, nil
	}
	run, err := o.runs.GetByID(ctx, parent.RunID)
	if err != nil {
		return 0, err
	}
	def, err := o.platforms.Get(run.Platform)
	if err != nil {
		return 0, err
	}

	scheduled := 0
	for page := 2; page <= totalPages; page++ {
		pageURL, urlErr := def.PageURL(run.SearchURL, page)
		if urlErr != nil {
			return scheduled, fmt.Errorf("build url for page %d: %w", page, urlErr)
		}
		parentID := parent.ID
		job := &domain.ScrapeJob{
			ID:          uuid.NewString(),
			RunID:       run.ID,
			ParentID:    &parentID,
			JobType:     domain.JobTypeDiscovery,
			Status:      domain.JobStatusPending,
			Platform:    run.Platform,
			TargetURL:   pageURL,
			CurrentPage: page,
		}
		created, createErr := o.jobs.Create(ctx, job)
		if createErr != nil {
			return scheduled, fmt.Errorf("create job for page %d: %w", page, createErr)
		}
		if !created {
			continue
		}
		if _, enqErr := o.queue.Enqueue(ctx, queue.NewJobTask(queue.StageDiscovery, run.ID, job.ID)); enqErr != nil {
			return scheduled, fmt.Errorf("enqueue page %d: %w", page, enqErr)
		}
		scheduled++
	}

	o.log.Info("Scheduled discovery pages",
		infralogger.RunID(run.ID),
		infralogger.JobID(parent.ID),
		infralogger.Int("total_pages", totalPages),
		infralogger.Int("scheduled", scheduled),
	)
	return scheduled, nil
}

// PageFinished moves the page job to its terminal status, records its stats and advances the
// run when discovery is complete. A terminal failure of page 1 fails the run. Until the job
// is finished the run is untouched, so a failed call leaves the job running for recovery.
func (o *Orchestrator) PageFinished(ctx context.Context, out PageOutcome) error {
	delta := domain.StatsDelta{PagesDone: 1}
	if out.Failed {
		delta.PagesFailed = 1
	} else {
		delta.ListingsFound = out.NewListings
		if out.Job.CurrentPage == 1 {
			total := max(out.TotalPages, 1)
			delta.PagesTotal = &total
		}
	}

	run, err := o.UpdateStats(ctx, database.JobFinish{
		RunID:  out.Job.RunID,
		JobID:  out.Job.ID,
		Failed: out.Failed,
		Reason: out.Reason,
		Result: out.Result,
		Delta:  delta,
	})
	if err != nil {
		return err
	}

	if out.Failed && out.Job.CurrentPage == 1 {
		if run.Status.IsTerminal() {
			return nil
		}
		return o.MarkFailed(ctx, run, "discovery page 1 failed: "+out.Reason)
	}
	return o.advance(ctx, run)
}

// ListingFinished moves the listing job to its terminal status, records its stats and
// completes the run when every scheduled listing is done.
func (o *Orchestrator) ListingFinished(ctx context.Context, out ListingOutcome) error {
	delta := domain.StatsDelta{ListingsScraped: 1}
	if out.Failed {
		delta.ListingsFailed = 1
	}
	run, err := o.UpdateStats(ctx, database.JobFinish{
		RunID:  out.Job.RunID,
		JobID:  out.Job.ID,
		Failed: out.Failed,
		Reason: out.Reason,
		Result: out.Result,
		Delta:  delta,
	})
	if err != nil {
		return err
	}
	return o.advance(ctx, run)
}

// Reconcile rebuilds an active run's counters from its jobs and re-evaluates it. It is meant
// for runs with no pending or running job left; a run the recount cannot advance is failed.
func (o *Orchestrator) Reconcile(ctx context.Context, run *domain.ScrapeRun) error {
	recounted, err := o.runs.RecountStats(ctx, run.ID)
	if err != nil {
		return err
	}
	if recounted.Status.IsTerminal() {
		return nil
	}
	if err = o.advance(ctx, recounted); err != nil {
		return err
	}
	after, err := o.runs.GetByID(ctx, run.ID)
	if err != nil {
		return err
	}
	if after.Status != recounted.Status {
		o.log.Info("Reconciled stalled run",
			infralogger.RunID(after.ID),
			infralogger.String("from", string(recounted.Status)),
			infralogger.String("to", string(after.Status)),
		)
		return nil
	}
	return o.MarkFailed(ctx, after, stalledReason)
}

// advance re-evaluates the completion predicates for the run's current status.
func (o *Orchestrator) advance(ctx context.Context, run *domain.ScrapeRun) error {
	switch {
	case run.Status == domain.RunStatusDiscovering && CheckDiscoveryComplete(run):
		return o.TransitionToScraping(ctx, run)
	case run.Status == domain.RunStatusScraping && CheckScrapingComplete(run):
		return o.MarkCompleted(ctx, run)
	default:
		return nil
	}
}

// TransitionToScraping moves a run whose discovery is complete into Scraping and schedules
// one scrape job per pending candidate of the run's platform. A run with nothing to scrape
// completes directly.
func (o *Orchestrator) TransitionToScraping(ctx context.Context, run *domain.ScrapeRun) error {
	if !CheckDiscoveryComplete(run) {
		return fmt.Errorf("%w: run %s discovery incomplete (%d/%d pages)",
			domain.ErrInvalidTransition, run.ID, run.PagesDone, run.PagesTotal)
	}

	pending, err := o.candidates.ListPendingByPlatform(ctx, run.Platform)
	if err != nil {
		return o.failOnBookkeeping(ctx, run, fmt.Errorf("list pending candidates: %w", err))
	}
	if len(pending) == 0 {
		return o.MarkCompleted(ctx, run)
	}

	scraping, err := o.transition(ctx, run, domain.RunStatusScraping, nil)
	if err != nil || scraping == nil {
		return err
	}

	byID := make(map[string]*domain.DiscoveredListing, len(pending))
	ids := make([]string, 0, len(pending))
	for _, c := range pending {
		byID[c.ID] = c
		ids = append(ids, c.ID)
	}
	claimed, err := o.candidates.ClaimPending(ctx, ids)
	if err != nil {
		return o.failOnBookkeeping(ctx, scraping, fmt.Errorf("claim candidates: %w", err))
	}

	jobs := make([]*domain.ScrapeJob, 0, len(claimed))
	var unscheduled []string
	for i, id := range claimed {
		candidateID := id
		job := &domain.ScrapeJob{
			ID:                  uuid.NewString(),
			RunID:               scraping.ID,
			JobType:             domain.JobTypeListing,
			Status:              domain.JobStatusPending,
			Platform:            scraping.Platform,
			TargetURL:           byID[id].URL,
			DiscoveredListingID: &candidateID,
		}
		created, createErr := o.jobs.Create(ctx, job)
		if createErr != nil {
			o.resetCandidates(ctx, append(unscheduled, claimed[i:]...))
			return o.failOnBookkeeping(ctx, scraping, fmt.Errorf("create scrape job: %w", createErr))
		}
		if !created {
			unscheduled = append(unscheduled, id)
			continue
		}
		jobs = append(jobs, job)
	}
	o.resetCandidates(ctx, unscheduled)

	updated, err := o.runs.SetListingsFound(ctx, scraping.ID, len(jobs))
	if err != nil {
		return o.failOnBookkeeping(ctx, scraping, err)
	}
	o.log.Info("Run entered scraping",
		infralogger.RunID(updated.ID),
		infralogger.Int("pages_done", updated.PagesDone),
		infralogger.Int("scrape_jobs", len(jobs)),
	)
	o.events.Emit(ctx, events.NewRunEvent(events.RunPhaseChanged, updated))

	for _, job := range jobs {
		if _, enqErr := o.queue.Enqueue(ctx, queue.NewJobTask(queue.StageScrape, updated.ID, job.ID)); enqErr != nil {
			o.log.Error("Failed to enqueue scrape job, left pending for resume",
				infralogger.RunID(updated.ID),
				infralogger.JobID(job.ID),
				infralogger.Error(enqErr),
			)
		}
	}

	if len(jobs) == 0 {
		return o.MarkCompleted(ctx, updated)
	}
	return nil
}

func (o *Orchestrator) resetCandidates(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	if _, err := o.candidates.ResetQueuedByIDs(ctx, ids); err != nil {
		o.log.Warn("Failed to reset unscheduled candidates", infralogger.Int("count", len(ids)), infralogger.Error(err))
	}
}
