package worker

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	infralogger "github.com/jonesrussell/north-cloud/listings/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/listings/internal/domain"
	"github.com/jonesrussell/north-cloud/listings/internal/orchestrator"
	"github.com/jonesrussell/north-cloud/listings/internal/queue"
	"github.com/jonesrussell/north-cloud/listings/internal/source"
)

// HandleDiscovery reads one results page: it records new candidates, schedules the remaining
// pages when this is page 1, and reports the page to the orchestrator.
func (h *Handlers) HandleDiscovery(ctx context.Context, task queue.Task) error {
	run, job, err := h.startJob(ctx, task)
	if err != nil || job == nil {
		return err
	}
	start := h.now()

	ctx, span := h.tracer.Start(ctx, "worker.discovery", trace.WithAttributes(
		attribute.String("run_id", run.ID),
		attribute.String("job_id", job.ID),
		attribute.String("platform", job.Platform),
		attribute.Int("page", job.CurrentPage),
	))
	defer span.End()

	result, page, err := h.discover(ctx, run, job)

	// Outcomes are recorded even when the task context has expired.
	bk := context.WithoutCancel(ctx)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "discovery failed")
		terminal, kind, recErr := h.retryOrFail(bk, queue.StageDiscovery, job, err)
		if recErr != nil {
			return recErr
		}
		if !terminal {
			h.observe(queue.StageDiscovery, OutcomeRetry, kind, start)
			return nil
		}
		h.observe(queue.StageDiscovery, OutcomeFailed, kind, start)
		return h.progress.PageFinished(bk, orchestrator.PageOutcome{
			Job:    job,
			Failed: true,
			Reason: failureReason(kind, err),
		})
	}

	h.observe(queue.StageDiscovery, OutcomeCompleted, "", start)

	h.log.Info("Discovery page completed",
		infralogger.RunID(run.ID),
		infralogger.JobID(job.ID),
		infralogger.Platform(job.Platform),
		infralogger.Int("page", job.CurrentPage),
		infralogger.Int("listings_found", result.ListingsFound),
		infralogger.Int("listings_new", result.ListingsNew),
		infralogger.Int("child_jobs", result.ChildJobs),
	)

	return h.progress.PageFinished(bk, orchestrator.PageOutcome{
		Job:         job,
		Result:      result,
		TotalPages:  page.TotalPages,
		NewListings: result.ListingsNew,
	})
}

func (h *Handlers) discover(
	ctx context.Context, run *domain.ScrapeRun, job *domain.ScrapeJob,
) (domain.JobResult, *source.DiscoveredPage, error) {
	page, err := h.source.DiscoverPage(ctx, job.Platform, run.SearchURL, job.CurrentPage)
	if err != nil {
		return domain.JobResult{}, nil, err
	}

	result := domain.JobResult{
		TotalResults:  page.TotalResults,
		TotalPages:    page.TotalPages,
		ListingsFound: len(page.Listings),
	}

	for _, c := range page.Listings {
		candidate := &domain.DiscoveredListing{
			Platform:   job.Platform,
			URL:        c.URL,
			ExternalID: optionalString(c.ExternalID),
			BatchID:    &run.ID,
		}
		created, insertErr := h.candidates.InsertIfAbsent(ctx, candidate)
		if insertErr != nil {
			return result, page, fmt.Errorf("failed to record candidate %s: %w", c.URL, insertErr)
		}
		if created {
			result.ListingsNew++
		}
	}

	if job.CurrentPage == 1 {
		scheduled, scheduleErr := h.progress.SchedulePages(ctx, job, page.TotalPages)
		if scheduleErr != nil {
			return result, page, fmt.Errorf("failed to schedule pages: %w", scheduleErr)
		}
		result.ChildJobs = scheduled
	}

	return result, page, nil
}
