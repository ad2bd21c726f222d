package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	infralogger "github.com/jonesrussell/north-cloud/listings/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/listings/internal/database"
	"github.com/jonesrussell/north-cloud/listings/internal/domain"
	"github.com/jonesrussell/north-cloud/listings/internal/failure"
	"github.com/jonesrussell/north-cloud/listings/internal/orchestrator"
	"github.com/jonesrussell/north-cloud/listings/internal/queue"
)

var (
	// ErrNoExternalID is returned when neither the page nor the candidate yields an id.
	ErrNoExternalID = errors.New("listing has no external id")

	// ErrNoCandidate is returned for a scrape job that does not reference a candidate.
	ErrNoCandidate = errors.New("scrape job has no discovered listing")
)

// HandleScrape fetches and extracts one listing page and saves the listing. The candidate's
// attempt counter moves whatever the outcome.
func (h *Handlers) HandleScrape(ctx context.Context, task queue.Task) error {
	run, job, err := h.startJob(ctx, task)
	if err != nil || job == nil {
		return err
	}
	start := h.now()
	bk := context.WithoutCancel(ctx)

	if job.DiscoveredListingID == nil {
		h.observe(queue.StageScrape, OutcomeFailed, failure.KindInternal, start)
		return h.progress.ListingFinished(bk, orchestrator.ListingOutcome{
			Job:    job,
			Failed: true,
			Reason: failureReason(failure.KindInternal, ErrNoCandidate),
		})
	}
	candidate, err := h.candidates.GetByID(ctx, *job.DiscoveredListingID)
	if err != nil {
		return err
	}

	ctx, span := h.tracer.Start(ctx, "worker.scrape", trace.WithAttributes(
		attribute.String("run_id", run.ID),
		attribute.String("job_id", job.ID),
		attribute.String("platform", job.Platform),
		attribute.String("url", job.TargetURL),
	))
	defer span.End()

	listing, saved, err := h.scrape(ctx, job, candidate)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scrape failed")
		terminal, kind, recErr := h.retryOrFail(bk, queue.StageScrape, job, err)
		if recErr != nil {
			return recErr
		}
		status := domain.CandidateStatusQueued
		outcome := OutcomeRetry
		if terminal {
			status = domain.CandidateStatusFailed
			outcome = OutcomeFailed
		}
		h.recordAttempt(bk, candidate, status, err)
		h.observe(queue.StageScrape, outcome, kind, start)
		if !terminal {
			return nil
		}
		return h.progress.ListingFinished(bk, orchestrator.ListingOutcome{
			Job:    job,
			Failed: true,
			Reason: failureReason(kind, err),
		})
	}

	h.recordAttempt(bk, candidate, domain.CandidateStatusScraped, nil)
	h.observe(queue.StageScrape, OutcomeCompleted, "", start)

	h.log.Info("Listing scraped",
		infralogger.RunID(run.ID),
		infralogger.JobID(job.ID),
		infralogger.Platform(job.Platform),
		infralogger.String("listing_id", saved.ID),
		infralogger.String("external_id", listing.ExternalID),
		infralogger.Bool("created", saved.Created),
		infralogger.Float64("completeness", listing.DataQuality.Completeness),
		infralogger.Int("conflicts", len(listing.DataQuality.Conflicts)),
	)

	return h.progress.ListingFinished(bk, orchestrator.ListingOutcome{
		Job: job,
		Result: domain.JobResult{
			ListingID:    saved.ID,
			Created:      saved.Created,
			Completeness: listing.DataQuality.Completeness,
		},
	})
}

func (h *Handlers) scrape(
	ctx context.Context, job *domain.ScrapeJob, candidate *domain.DiscoveredListing,
) (*domain.Listing, *database.SaveResult, error) {
	page, err := h.source.FetchListing(ctx, job.Platform, job.TargetURL)
	if err != nil {
		return nil, nil, err
	}
	pageURL := page.FinalURL
	if pageURL == "" {
		pageURL = job.TargetURL
	}

	res, err := h.extractor.Extract(ctx, job.Platform, pageURL, page.Body)
	if err != nil {
		return nil, nil, err
	}

	rec := res.Record
	if rec.ExternalID == "" && candidate.ExternalID != nil {
		rec.ExternalID = *candidate.ExternalID
	}
	if rec.ExternalID == "" {
		return nil, nil, failure.Wrap(failure.KindInvalidData, fmt.Errorf("%w: %s", ErrNoExternalID, job.TargetURL))
	}

	listing := &domain.Listing{
		ID:                  uuid.NewString(),
		DiscoveredListingID: &candidate.ID,
		DataQuality:         res.Quality,
		DedupStatus:         domain.DedupStatusPending,
		ScrapedAt:           h.now().UTC(),
		ListingRecord:       rec,
	}

	saved, err := h.listings.Save(ctx, listing)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to save listing: %w", err)
	}
	if saved.PropertyID != nil {
		h.log.Info("Re-scraped listing flagged its property for re-analysis",
			infralogger.String("listing_id", saved.ID),
			infralogger.String("property_id", *saved.PropertyID),
		)
	}
	return listing, saved, nil
}

// recordAttempt stamps the candidate. A candidate reset by an operator in the meantime is
// no longer queued and keeps its new status.
func (h *Handlers) recordAttempt(
	ctx context.Context, candidate *domain.DiscoveredListing, status domain.CandidateStatus, cause error,
) {
	if err := h.candidates.RecordAttempt(ctx, candidate.ID, status, cause); err != nil {
		h.log.Warn("Failed to record scrape attempt",
			infralogger.String("candidate_id", candidate.ID),
			infralogger.String("status", string(status)),
			infralogger.Error(err),
		)
	}
}
