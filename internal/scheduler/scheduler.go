// Package scheduler runs the periodic sweeps of the pipeline on cron schedules: saved-query runs,
// dispatch of groups waiting for unification, re-analysis of changed properties and recovery of
// work abandoned by crashed workers.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	infralogger "github.com/jonesrussell/north-cloud/listings/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/listings/internal/database"
	"github.com/jonesrussell/north-cloud/listings/internal/domain"
	"github.com/jonesrussell/north-cloud/listings/internal/queue"
)

// QueryStore lists saved queries that carry a schedule.
type QueryStore interface {
	ListScheduled(ctx context.Context) ([]*domain.SearchQuery, error)
}

// RunStore lists runs of a query and active runs left without work.
type RunStore interface {
	List(ctx context.Context, params database.ListParams) ([]*domain.ScrapeRun, error)
	ListStalled(ctx context.Context, cutoff time.Time, limit int) ([]*domain.ScrapeRun, error)
}

// Reconciler re-evaluates a run from its jobs.
type Reconciler interface {
	Reconcile(ctx context.Context, run *domain.ScrapeRun) error
}

// RunStarter starts a run for a saved query.
type RunStarter interface {
	StartRun(ctx context.Context, queryID string) (*domain.ScrapeRun, error)
}

// GroupStore lists and recovers listing groups.
type GroupStore interface {
	ListPendingAI(ctx context.Context, limit int) ([]*domain.ListingGroup, error)
	ResetStaleLeases(ctx context.Context, cutoff time.Time) ([]string, error)
}

// PropertyStore lists properties flagged for re-analysis.
type PropertyStore interface {
	ListNeedingReanalysis(ctx context.Context, limit int) ([]*domain.Property, error)
}

// JobStore recovers scrape jobs stuck in running.
type JobStore interface {
	ResetStale(ctx context.Context, cutoff time.Time) ([]*domain.ScrapeJob, error)
}

// Queue is the dispatch surface.
type Queue interface {
	Enqueue(ctx context.Context, task queue.Task) (string, error)
	EnqueueOnce(ctx context.Context, task queue.Task, ttl time.Duration) (bool, error)
	IsPaused(ctx context.Context, stage queue.Stage) (bool, error)
}

// Deps are the scheduler's collaborators.
type Deps struct {
	Queries    QueryStore
	Runs       RunStore
	Starter    RunStarter
	Groups     GroupStore
	Properties PropertyStore
	Jobs       JobStore
	Queue      Queue
	Reconciler Reconciler
}

// parser accepts the standard five fields and @every/@hourly descriptors.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSpec reports whether spec is a schedule the scheduler accepts.
func ValidateSpec(spec string) error {
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// Scheduler owns one cron instance for sweeps and saved-query schedules.
type Scheduler struct {
	deps Deps
	cfg  Config
	log  infralogger.Logger
	cron *cron.Cron
	now  func() time.Time

	queriesMu sync.Mutex
	queries   map[string]scheduledQuery

	ctx    context.Context
	cancel context.CancelFunc
}

type scheduledQuery struct {
	entry cron.EntryID
	spec  string
}

// New creates a scheduler.
func New(deps Deps, cfg Config, log infralogger.Logger) (*Scheduler, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	loc := time.UTC
	if cfg.Timezone != "" {
		var err error
		if loc, err = time.LoadLocation(cfg.Timezone); err != nil {
			return nil, fmt.Errorf("scheduler timezone: %w", err)
		}
	}

	return &Scheduler{
		deps: deps,
		cfg:  cfg,
		log:  log,
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
		),
		now:     time.Now,
		queries: make(map[string]scheduledQuery),
	}, nil
}

// Start registers the sweeps, loads saved-query schedules and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	sweeps := []struct {
		name string
		spec string
		fn   func(context.Context) error
	}{
		{"dispatch_groups", s.cfg.DispatchSpec, func(ctx context.Context) error { _, err := s.DispatchPendingGroups(ctx); return err }},
		{"reanalysis", s.cfg.ReanalysisSpec, func(ctx context.Context) error { _, err := s.DispatchReanalysis(ctx); return err }},
		{"recover_stale", s.cfg.RecoverySpec, s.RecoverStale},
		{"reload_queries", s.cfg.ReloadSpec, s.ReloadQueries},
	}
	for _, sw := range sweeps {
		if _, err := s.cron.AddFunc(sw.spec, s.sweep(sw.name, sw.fn)); err != nil {
			return fmt.Errorf("schedule %s sweep: %w", sw.name, err)
		}
	}

	s.cron.Start()

	if err := s.ReloadQueries(s.ctx); err != nil {
		s.log.Error("Failed to load query schedules", infralogger.Error(err))
	}

	s.log.Info("Scheduler started",
		infralogger.String("dispatch", s.cfg.DispatchSpec),
		infralogger.String("reanalysis", s.cfg.ReanalysisSpec),
		infralogger.String("recovery", s.cfg.RecoverySpec),
	)
	return nil
}

// Stop stops the cron loop and waits for running sweeps.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.cron.Stop().Done()
	s.log.Info("Scheduler stopped")
}

func (s *Scheduler) sweep(name string, fn func(context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.SweepTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			s.log.Error("Sweep failed", infralogger.String("sweep", name), infralogger.Error(err))
		}
	}
}

func (s *Scheduler) paused(ctx context.Context, stage queue.Stage) bool {
	paused, err := s.deps.Queue.IsPaused(ctx, stage)
	if err != nil {
		s.log.Warn("Failed to read stage pause flag", infralogger.String("stage", string(stage)), infralogger.Error(err))
		return true
	}
	return paused
}
