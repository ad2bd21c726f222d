package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	infragin "github.com/jonesrussell/north-cloud/listings/infrastructure/gin"
	infralogger "github.com/jonesrussell/north-cloud/listings/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/listings/infrastructure/monitoring"
	"github.com/jonesrussell/north-cloud/listings/infrastructure/profiling"
	"github.com/jonesrussell/north-cloud/listings/internal/api"
	"github.com/jonesrussell/north-cloud/listings/internal/extraction"
	"github.com/jonesrussell/north-cloud/listings/internal/queue"
	"github.com/jonesrussell/north-cloud/listings/internal/scheduler"
	"github.com/jonesrussell/north-cloud/listings/internal/source"
	"github.com/jonesrussell/north-cloud/listings/internal/worker"
)

// ServeOptions selects the long-running components of a serve process.
type ServeOptions struct {
	API       bool
	Workers   bool
	Scheduler bool
}

// Serve runs the selected components until ctx is cancelled.
func Serve(ctx context.Context, app *App, opts ServeOptions) error {
	cfg := app.Config
	log := app.Log

	profiler, err := profiling.Start(cfg.App.Name, cfg.App.Version, cfg.Profiling, log)
	if err != nil {
		log.Warn("Failed to start profiler", infralogger.Error(err))
	}
	defer func() {
		if stopErr := profiler.Stop(); stopErr != nil {
			log.Warn("Failed to stop profiler", infralogger.Error(stopErr))
		}
	}()

	if depthErr := app.Telemetry.RegisterDepth(app.Control.QueueDepth); depthErr != nil {
		log.Warn("Failed to register queue depth metrics", infralogger.Error(depthErr))
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Platforms.Watch {
		g.Go(func() error {
			if watchErr := app.Platforms.Watch(gctx); watchErr != nil {
				log.Warn("Platform file watch stopped", infralogger.Error(watchErr))
			}
			return nil
		})
	}

	var pool *worker.Pool
	if opts.Workers {
		runner, p, setupErr := newRunner(app)
		if setupErr != nil {
			return setupErr
		}
		pool = p
		monitor := worker.NewHealthMonitor(pool, cfg.Worker.HealthCheckInterval, log)
		monitor.Start(gctx)
		defer monitor.Stop()

		g.Go(func() error { return runner.Run(gctx) })
	}

	if opts.Scheduler {
		sched, schedErr := scheduler.New(scheduler.Deps{
			Queries:    app.Repos.Queries,
			Runs:       app.Repos.Runs,
			Starter:    app.Orchestrator,
			Groups:     app.Repos.Groups,
			Properties: app.Repos.Properties,
			Jobs:       app.Repos.Jobs,
			Queue:      app.Queue,
			Reconciler: app.Orchestrator,
		}, cfg.Scheduler, log)
		if schedErr != nil {
			return fmt.Errorf("create scheduler: %w", schedErr)
		}
		if startErr := sched.Start(gctx); startErr != nil {
			return fmt.Errorf("start scheduler: %w", startErr)
		}
		g.Go(func() error {
			<-gctx.Done()
			sched.Stop()
			return nil
		})
	}

	if opts.API {
		if startErr := app.Broker.Start(gctx); startErr != nil {
			return fmt.Errorf("start event broker: %w", startErr)
		}
		defer func() { _ = app.Broker.Stop() }()

		memory := monitoring.NewMemoryMonitor(0, 0, monitoring.DefaultWarmup, log)
		g.Go(func() error {
			memory.Run(gctx)
			return nil
		})

		server := newHTTPServer(app, pool, memory)
		g.Go(func() error { return server.Run(gctx) })
	}

	log.Info("Listings service started",
		infralogger.Bool("api", opts.API),
		infralogger.Bool("workers", opts.Workers),
		infralogger.Bool("scheduler", opts.Scheduler),
	)

	if waitErr := g.Wait(); waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		return waitErr
	}
	log.Info("Listings service stopped")
	return nil
}

// newRunner builds the stage consumer, the handlers and the pool. The unify stage is skipped
// when this process cannot run unification.
func newRunner(app *App) (*worker.Runner, *worker.Pool, error) {
	cfg := app.Config
	log := app.Log

	stages, err := cfg.Stages()
	if err != nil {
		return nil, nil, err
	}

	deps := worker.Deps{
		Runs:       app.Repos.Runs,
		Jobs:       app.Repos.Jobs,
		Candidates: app.Repos.Candidates,
		Listings:   app.Repos.Listings,
		Source:     source.NewClient(cfg.Source, app.Platforms, log, source.WithObserver(app.Telemetry)),
		Extractor:  extraction.NewEngine(app.Platforms, log),
		Progress:   app.Orchestrator,
		Retries:    app.Queue,
		Observer:   app.Telemetry,
	}
	if app.Unifier != nil {
		deps.Unifier = app.Unifier
	} else if i := slices.Index(stages, queue.StageUnify); i >= 0 {
		log.Warn("Unify stage disabled: reasoning API key is not set")
		stages = slices.Delete(stages, i, i+1)
	}
	if len(stages) == 0 {
		return nil, nil, errors.New("no worker stages left to consume")
	}

	consumer, err := queue.NewConsumer(app.Streams, queue.ConsumerConfig{
		Stages:        stages,
		ConsumerGroup: cfg.Worker.ConsumerGroup,
		ConsumerID:    consumerID(),
		BlockTimeout:  cfg.Queue.BlockTimeout,
		BatchSize:     cfg.Queue.BatchSize,
		ClaimMinIdle:  cfg.Queue.ClaimMinIdle,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create consumer: %w", err)
	}

	pool, err := worker.NewPool(cfg.Worker, worker.NewHandlers(deps, log).Handle, log)
	if err != nil {
		return nil, nil, fmt.Errorf("create worker pool: %w", err)
	}
	return worker.NewRunner(consumer, pool, app.Queue, log), pool, nil
}

func newHTTPServer(app *App, pool *worker.Pool, memory *monitoring.MemoryMonitor) *infragin.Server {
	cfg := app.Config

	deps := api.Deps{
		Queries:           app.Repos.Queries,
		Runs:              app.Repos.Runs,
		Jobs:              app.Repos.Jobs,
		Groups:            app.Repos.Groups,
		Properties:        app.Repos.Properties,
		Starter:           app.Orchestrator,
		Queue:             app.Queue,
		Platforms:         app.Platforms,
		Control:           app.Control,
		Broker:            app.Broker,
		Metrics:           app.Telemetry.Handler(),
		MetricsMiddleware: app.Telemetry.GinMiddleware(),
		Health:            healthChecks(app, pool, memory),
	}
	if app.Unifier != nil {
		deps.Unifier = app.Unifier
	}
	if app.Indexer != nil {
		deps.Searcher = app.Indexer
	}

	handler := api.New(deps, app.Log)
	return infragin.NewServer(cfg.Gin(), app.Log, func(router *gin.Engine) {
		handler.Register(router, api.Config{
			JWTSecret:      cfg.Auth.JWTSecret,
			ServiceName:    cfg.App.Name,
			ServiceVersion: cfg.App.Version,
		})
	})
}

func healthChecks(app *App, pool *worker.Pool, memory *monitoring.MemoryMonitor) map[string]infragin.HealthChecker {
	checks := map[string]infragin.HealthChecker{
		"postgres": infragin.PingChecker(true, app.DB.PingContext),
		"redis":    infragin.PingChecker(true, app.Streams.Ping),
	}
	if memory != nil {
		checks["memory"] = memory.HealthCheck
	}
	if app.ES != nil {
		checks["elasticsearch"] = infragin.PingChecker(false, func(ctx context.Context) error {
			res, err := app.ES.Ping(app.ES.Ping.WithContext(ctx))
			if err != nil {
				return err
			}
			defer res.Body.Close()
			if res.IsError() {
				return fmt.Errorf("elasticsearch ping: %s", res.Status())
			}
			return nil
		})
	}
	if pool != nil {
		checks["workers"] = func(context.Context) infragin.CheckResult {
			if pool.IsRunning() {
				return infragin.CheckResult{Status: infragin.HealthStatusHealthy, Message: "OK"}
			}
			return infragin.CheckResult{Status: infragin.HealthStatusDegraded, Message: pool.State().String()}
		}
	}
	return checks
}

func consumerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "listings"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
