// Package bootstrap wires the listings service: configuration, logging, storage, the stage
// queues and the pipeline components every command shares.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	es "github.com/elastic/go-elasticsearch/v8"
	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/north-cloud/listings/infrastructure/elasticsearch"
	infralogger "github.com/jonesrussell/north-cloud/listings/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/listings/infrastructure/sse"
	"github.com/jonesrussell/north-cloud/listings/internal/config"
	"github.com/jonesrussell/north-cloud/listings/internal/control"
	"github.com/jonesrussell/north-cloud/listings/internal/database"
	"github.com/jonesrussell/north-cloud/listings/internal/events"
	"github.com/jonesrussell/north-cloud/listings/internal/geocode"
	"github.com/jonesrussell/north-cloud/listings/internal/orchestrator"
	"github.com/jonesrussell/north-cloud/listings/internal/platform"
	"github.com/jonesrussell/north-cloud/listings/internal/queue"
	"github.com/jonesrussell/north-cloud/listings/internal/reasoning"
	"github.com/jonesrussell/north-cloud/listings/internal/search"
	"github.com/jonesrussell/north-cloud/listings/internal/telemetry"
	"github.com/jonesrussell/north-cloud/listings/internal/unification"
)

// Repositories groups the PostgreSQL repositories.
type Repositories struct {
	Queries     *database.QueryRepository
	Runs        *database.RunRepository
	Jobs        *database.JobRepository
	Candidates  *database.CandidateRepository
	Listings    *database.ListingRepository
	Groups      *database.GroupRepository
	Properties  *database.PropertyRepository
	Unification *database.UnificationRepository
}

// App holds the shared components. Unifier is nil when no reasoning API key is configured;
// Indexer and ES are nil when Elasticsearch is disabled or unreachable.
type App struct {
	Config       *config.Config
	Log          infralogger.Logger
	DB           *sqlx.DB
	Streams      *queue.StreamsClient
	Queue        *queue.Producer
	Platforms    *platform.Registry
	Telemetry    *telemetry.Provider
	Repos        Repositories
	Broker       sse.Broker
	Orchestrator *orchestrator.Orchestrator
	Unifier      *unification.Engine
	ES           *es.Client
	Indexer      *search.Indexer
	Control      *control.Controller
}

// ErrUnifierUnavailable is returned by RequireUnifier when unification cannot run.
var ErrUnifierUnavailable = errors.New("unification requires reasoning.api_key")

// New connects to PostgreSQL, Redis and optionally Elasticsearch and builds the components.
func New(ctx context.Context, cfg *config.Config, log infralogger.Logger) (*App, error) {
	app := &App{Config: cfg, Log: log}

	// Phase 1: storage
	db, err := database.NewPostgresConnection(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	app.DB = db
	app.Repos = Repositories{
		Queries:     database.NewQueryRepository(db),
		Runs:        database.NewRunRepository(db),
		Jobs:        database.NewJobRepository(db),
		Candidates:  database.NewCandidateRepository(db),
		Listings:    database.NewListingRepository(db),
		Groups:      database.NewGroupRepository(db),
		Properties:  database.NewPropertyRepository(db),
		Unification: database.NewUnificationRepository(db),
	}

	// Phase 2: stage queues
	streams, err := queue.NewStreamsClient(cfg.Redis)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	app.Streams = streams
	app.Queue = queue.NewProducer(streams, queue.ProducerConfig{MaxStreamLen: cfg.Queue.MaxStreamLen})

	// Phase 3: platforms and telemetry
	registry, err := platform.LoadRegistry(cfg.Platforms.File, log)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("load platforms: %w", err)
	}
	app.Platforms = registry
	app.Telemetry = telemetry.NewProvider()

	// Phase 4: run lifecycle
	app.Broker = sse.NewBroker(log, sse.WithConfig(cfg.Server.SSE))
	app.Orchestrator = orchestrator.New(orchestrator.Deps{
		Queries:    app.Repos.Queries,
		Runs:       app.Repos.Runs,
		Jobs:       app.Repos.Jobs,
		Candidates: app.Repos.Candidates,
		Queue:      app.Queue,
		Platforms:  registry,
		Events:     events.Multi{events.NewLogSink(log), events.NewSSESink(app.Broker, log)},
	}, log)

	// Phase 5: read model
	if cfg.Elasticsearch.Enabled {
		app.setupSearch(ctx)
	}

	// Phase 6: unification
	if setupErr := app.setupUnifier(); setupErr != nil {
		app.Close()
		return nil, setupErr
	}

	app.Control = control.New(control.Deps{
		Queue:      app.Queue,
		Runs:       app.Repos.Runs,
		Stopper:    app.Orchestrator,
		Jobs:       app.Repos.Jobs,
		Candidates: app.Repos.Candidates,
		Groups:     app.Repos.Groups,
	}, control.Config{
		ConsumerGroup: cfg.Worker.ConsumerGroup,
		ResumeBatch:   cfg.Queue.ResumeBatch,
	}, log)

	return app, nil
}

// setupSearch connects the property read model. Failures leave search disabled.
func (a *App) setupSearch(ctx context.Context) {
	client, err := elasticsearch.NewClient(ctx, a.Config.Elasticsearch.Client, a.Log)
	if err != nil {
		a.Log.Warn("Elasticsearch unavailable, property search disabled", infralogger.Error(err))
		return
	}
	indexer := search.New(client, a.Config.Elasticsearch.Index, a.Log)
	if ensureErr := indexer.EnsureIndex(ctx); ensureErr != nil {
		a.Log.Warn("Failed to ensure property index, property search disabled", infralogger.Error(ensureErr))
		return
	}
	a.ES = client
	a.Indexer = indexer
}

func (a *App) setupUnifier() error {
	reasoner, err := reasoning.New(a.Config.Reasoning, a.Log)
	if errors.Is(err, reasoning.ErrNotConfigured) {
		a.Log.Warn("Reasoning API key not set, unification disabled")
		return nil
	}
	if err != nil {
		return fmt.Errorf("create reasoning client: %w", err)
	}

	deps := unification.Deps{
		Groups:     a.Repos.Groups,
		Listings:   a.Repos.Listings,
		Properties: a.Repos.Properties,
		Committer:  a.Repos.Unification,
		Reasoner:   reasoner,
		Observer:   a.Telemetry,
	}
	if a.Config.Unification.Geocode && a.Config.Geocoding.Enabled {
		deps.Geocoder = geocode.New(a.Config.Geocoding, a.Log)
	}
	if a.Config.Unification.IndexProperties && a.Indexer != nil {
		deps.Indexer = a.Indexer
	}

	a.Unifier = unification.New(deps, a.Log)
	return nil
}

// RequireUnifier reports whether unification can run in this process.
func (a *App) RequireUnifier() error {
	if a.Unifier == nil {
		return ErrUnifierUnavailable
	}
	return nil
}

// Close releases connections. It is safe on a partially built App.
func (a *App) Close() {
	if a.Streams != nil {
		if err := a.Streams.Close(); err != nil {
			a.Log.Error("Failed to close redis", infralogger.Error(err))
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Log.Error("Failed to close database", infralogger.Error(err))
		}
	}
}
