package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	infralogger "github.com/jonesrussell/north-cloud/listings/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/listings/internal/database"
	"github.com/jonesrussell/north-cloud/listings/internal/domain"
	"github.com/jonesrussell/north-cloud/listings/internal/failure"
	"github.com/jonesrussell/north-cloud/listings/internal/queue"
)

// DispatchPendingGroups enqueues pending_ai groups onto the unify stream. A group that already
// failed an attempt waits out the rate-limit backoff for its attempt count first.
func (s *Scheduler) DispatchPendingGroups(ctx context.Context) (int, error) {
	if s.paused(ctx, queue.StageUnify) {
		return 0, nil
	}

	groups, err := s.deps.Groups.ListPendingAI(ctx, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	now := s.now()
	backoff := failure.PolicyFor(failure.KindRateLimited)
	dispatched := 0
	for _, g := range groups {
		if g.AIAttempts > 0 && now.Before(g.UpdatedAt.Add(backoff.Backoff(g.AIAttempts))) {
			continue
		}
		ok, enqueueErr := s.deps.Queue.EnqueueOnce(ctx, queue.NewUnifyTask(g.ID), s.cfg.DispatchTTL)
		if enqueueErr != nil {
			return dispatched, enqueueErr
		}
		if ok {
			dispatched++
		}
	}

	if dispatched > 0 {
		s.log.Info("Dispatched pending groups", infralogger.Int("groups", dispatched))
	}
	return dispatched, nil
}

// DispatchReanalysis enqueues re-analysis for properties flagged needs_reanalysis.
func (s *Scheduler) DispatchReanalysis(ctx context.Context) (int, error) {
	if s.paused(ctx, queue.StageUnify) {
		return 0, nil
	}

	props, err := s.deps.Properties.ListNeedingReanalysis(ctx, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	dispatched := 0
	for _, p := range props {
		ok, enqueueErr := s.deps.Queue.EnqueueOnce(ctx, queue.NewReanalysisTask(p.ID), s.cfg.DispatchTTL)
		if enqueueErr != nil {
			return dispatched, enqueueErr
		}
		if ok {
			dispatched++
		}
	}

	if dispatched > 0 {
		s.log.Info("Dispatched property re-analysis", infralogger.Int("properties", dispatched))
	}
	return dispatched, nil
}

// RecoverStale returns expired group leases to pending_ai, re-enqueues jobs that stayed
// running past the job timeout and reconciles active runs left without work.
func (s *Scheduler) RecoverStale(ctx context.Context) error {
	now := s.now()
	var errs []error

	groupIDs, err := s.deps.Groups.ResetStaleLeases(ctx, now.Add(-s.cfg.LeaseTTL))
	if err != nil {
		errs = append(errs, err)
	} else if len(groupIDs) > 0 {
		s.log.Warn("Recovered expired unification leases", infralogger.Strings("group_ids", groupIDs))
	}

	if err = s.reconcileStalled(ctx, now); err != nil {
		errs = append(errs, err)
	}

	jobs, err := s.deps.Jobs.ResetStale(ctx, now.Add(-s.cfg.JobTimeout))
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	for _, j := range jobs {
		stage := queue.StageDiscovery
		if j.JobType == domain.JobTypeListing {
			stage = queue.StageScrape
		}
		if s.paused(ctx, stage) {
			continue
		}
		if _, enqueueErr := s.deps.Queue.Enqueue(ctx, queue.NewJobTask(stage, j.RunID, j.ID)); enqueueErr != nil {
			errs = append(errs, enqueueErr)
			continue
		}
		s.log.Warn("Recovered stale job",
			infralogger.JobID(j.ID),
			infralogger.RunID(j.RunID),
			infralogger.String("job_type", string(j.JobType)),
		)
	}
	return errors.Join(errs...)
}

// reconcileStalled hands active runs that have had no pending or running job for the stall
// timeout to the reconciler.
func (s *Scheduler) reconcileStalled(ctx context.Context, now time.Time) error {
	if s.deps.Reconciler == nil {
		return nil
	}
	runs, err := s.deps.Runs.ListStalled(ctx, now.Add(-s.cfg.StallTimeout), s.cfg.BatchSize)
	if err != nil {
		return err
	}

	var errs []error
	for _, run := range runs {
		s.log.Warn("Reconciling stalled run",
			infralogger.RunID(run.ID),
			infralogger.String("status", string(run.Status)),
			infralogger.Int("pages_done", run.PagesDone),
			infralogger.Int("listings_scraped", run.ListingsScraped),
		)
		if recErr := s.deps.Reconciler.Reconcile(ctx, run); recErr != nil {
			errs = append(errs, fmt.Errorf("reconcile run %s: %w", run.ID, recErr))
		}
	}
	return errors.Join(errs...)
}

// ReloadQueries syncs cron entries with the saved queries that carry a schedule.
func (s *Scheduler) ReloadQueries(ctx context.Context) error {
	queries, err := s.deps.Queries.ListScheduled(ctx)
	if err != nil {
		return err
	}

	s.queriesMu.Lock()
	defer s.queriesMu.Unlock()

	wanted := make(map[string]string, len(queries))
	for _, q := range queries {
		if q.Schedule != nil && q.Enabled {
			wanted[q.ID] = *q.Schedule
		}
	}

	for id, sq := range s.queries {
		if spec, ok := wanted[id]; !ok || spec != sq.spec {
			s.cron.Remove(sq.entry)
			delete(s.queries, id)
		}
	}

	var errs []error
	for id, spec := range wanted {
		if _, ok := s.queries[id]; ok {
			continue
		}
		entry, addErr := s.cron.AddFunc(spec, s.sweep("query_run", s.queryRun(id)))
		if addErr != nil {
			errs = append(errs, fmt.Errorf("query %s: %w", id, addErr))
			continue
		}
		s.queries[id] = scheduledQuery{entry: entry, spec: spec}
		s.log.Info("Query scheduled",
			infralogger.String("query_id", id),
			infralogger.String("schedule", spec),
			infralogger.String("next_run", s.cron.Entry(entry).Next.String()),
		)
	}
	return errors.Join(errs...)
}

// ScheduledQueries returns the ids of queries with a cron entry and their next run.
func (s *Scheduler) ScheduledQueries() map[string]cron.Entry {
	s.queriesMu.Lock()
	defer s.queriesMu.Unlock()

	out := make(map[string]cron.Entry, len(s.queries))
	for id, sq := range s.queries {
		out[id] = s.cron.Entry(sq.entry)
	}
	return out
}

// queryRun starts a run for the query unless discovery is paused or a run is still active.
func (s *Scheduler) queryRun(queryID string) func(context.Context) error {
	return func(ctx context.Context) error {
		if s.paused(ctx, queue.StageDiscovery) {
			s.log.Info("Discovery paused, skipping scheduled run", infralogger.String("query_id", queryID))
			return nil
		}

		active, err := s.deps.Runs.List(ctx, database.ListParams{
			QueryID:  queryID,
			Statuses: []domain.RunStatus{domain.RunStatusDiscovering, domain.RunStatusScraping},
			Limit:    1,
		})
		if err != nil {
			return err
		}
		if len(active) > 0 {
			s.log.Info("Previous run still active, skipping scheduled run",
				infralogger.String("query_id", queryID),
				infralogger.RunID(active[0].ID),
			)
			return nil
		}

		run, err := s.deps.Starter.StartRun(ctx, queryID)
		if err != nil {
			return fmt.Errorf("scheduled run for query %s: %w", queryID, err)
		}
		s.log.Info("Scheduled run started", infralogger.String("query_id", queryID), infralogger.RunID(run.ID))
		return nil
	}
}
