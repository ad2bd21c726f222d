// Package api implements the HTTP API of the listings service: saved queries and runs, the
// unification triggers, the property search, the run event stream and the administrative
// control surface.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	infragin "github.com/jonesrussell/north-cloud/listings/infrastructure/gin"
	infrajwt "github.com/jonesrussell/north-cloud/listings/infrastructure/jwt"
	infralogger "github.com/jonesrussell/north-cloud/listings/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/listings/infrastructure/sse"
	"github.com/jonesrussell/north-cloud/listings/internal/control"
	"github.com/jonesrussell/north-cloud/listings/internal/database"
	"github.com/jonesrussell/north-cloud/listings/internal/domain"
	"github.com/jonesrussell/north-cloud/listings/internal/platform"
	"github.com/jonesrussell/north-cloud/listings/internal/queue"
	"github.com/jonesrussell/north-cloud/listings/internal/search"
)

// QueryStore persists saved search queries.
type QueryStore interface {
	Create(ctx context.Context, q *domain.SearchQuery) error
	GetByID(ctx context.Context, id string) (*domain.SearchQuery, error)
	List(ctx context.Context, limit, offset int) ([]*domain.SearchQuery, error)
}

// RunStore reads scrape runs.
type RunStore interface {
	GetByID(ctx context.Context, id string) (*domain.ScrapeRun, error)
	List(ctx context.Context, params database.ListParams) ([]*domain.ScrapeRun, error)
}

// JobStore reads a run's jobs.
type JobStore interface {
	ListByRun(ctx context.Context, runID string, jobType domain.JobType) ([]*domain.ScrapeJob, error)
}

// GroupStore reads listing groups.
type GroupStore interface {
	GetByID(ctx context.Context, id string) (*domain.ListingGroup, error)
}

// PropertyStore reads properties and their conflicts.
type PropertyStore interface {
	GetByID(ctx context.Context, id string) (*domain.Property, error)
	ListConflicts(ctx context.Context, propertyID string) ([]*domain.PropertyConflict, error)
}

// RunStarter starts runs for saved queries.
type RunStarter interface {
	StartRun(ctx context.Context, queryID string) (*domain.ScrapeRun, error)
}

// Unifier runs unification synchronously.
type Unifier interface {
	Unify(ctx context.Context, groupID string) error
	Reanalyze(ctx context.Context, propertyID string) error
}

// Enqueuer puts tasks on a stage stream.
type Enqueuer interface {
	Enqueue(ctx context.Context, task queue.Task) (string, error)
}

// Platforms resolves platform definitions.
type Platforms interface {
	Get(name string) (*platform.Definition, error)
	Names() []string
}

// Searcher queries the property read model.
type Searcher interface {
	Search(ctx context.Context, q search.Query) (*search.Results, error)
}

// Controller is the administrative control surface.
type Controller interface {
	QueueDepth(ctx context.Context) (*control.DepthReport, error)
	CancelStage(ctx context.Context, stage queue.Stage) (*control.StageReport, error)
	CancelRun(ctx context.Context, runID string) (*control.RunReport, error)
	ResumeStage(ctx context.Context, stage queue.Stage) (*control.ResumeReport, error)
}

// Deps are the handlers' collaborators. Unifier, Searcher, Broker, Metrics and Health are optional.
type Deps struct {
	Queries    QueryStore
	Runs       RunStore
	Jobs       JobStore
	Groups     GroupStore
	Properties PropertyStore
	Starter    RunStarter
	Unifier    Unifier
	Queue      Enqueuer
	Platforms  Platforms
	Searcher   Searcher
	Control    Controller
	Broker     sse.Broker

	// Metrics serves /metrics; MetricsMiddleware records request metrics.
	Metrics           http.Handler
	MetricsMiddleware gin.HandlerFunc
	Health            map[string]infragin.HealthChecker
}

// Config configures route registration.
type Config struct {
	// JWTSecret guards the control routes. Empty leaves them open, which only suits local use.
	JWTSecret      string
	ServiceName    string
	ServiceVersion string
}

// Handler serves every route.
type Handler struct {
	deps Deps
	log  infralogger.Logger
}

// New creates the handler set.
func New(deps Deps, log infralogger.Logger) *Handler {
	return &Handler{deps: deps, log: log}
}

// Register mounts the routes on router.
func (h *Handler) Register(router *gin.Engine, cfg Config) {
	if h.deps.MetricsMiddleware != nil {
		router.Use(h.deps.MetricsMiddleware)
	}

	infragin.RegisterHealthRoutes(router, infragin.HealthOptions{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
		Checks:         h.deps.Health,
	})
	if h.deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(h.deps.Metrics))
	}

	v1 := router.Group("/api/v1")

	v1.GET("/platforms", h.ListPlatforms)

	v1.POST("/queries", h.CreateQuery)
	v1.GET("/queries", h.ListQueries)
	v1.GET("/queries/:id", h.GetQuery)
	v1.POST("/queries/:id/runs", h.StartRun)

	v1.GET("/runs", h.ListRuns)
	v1.GET("/runs/:id", h.GetRun)
	v1.GET("/runs/:id/jobs", h.ListRunJobs)

	if h.deps.Broker != nil {
		v1.GET("/events", sse.Handler(h.deps.Broker, h.log, eventOptions))
	}

	v1.GET("/groups/:id", h.GetGroup)
	v1.POST("/groups/:id/unify", h.UnifyGroup)
	v1.GET("/properties/search", h.SearchProperties)
	v1.GET("/properties/:id", h.GetProperty)
	v1.POST("/properties/:id/reanalyze", h.ReanalyzeProperty)

	ctl := v1.Group("/control")
	if cfg.JWTSecret != "" {
		ctl.Use(infrajwt.Middleware(cfg.JWTSecret))
	} else {
		h.log.Warn("Control routes are not protected: auth.jwt_secret is empty")
	}
	ctl.GET("/depth", h.QueueDepth)
	ctl.POST("/stages/:stage/cancel", h.CancelStage)
	ctl.POST("/stages/:stage/resume", h.ResumeStage)
	ctl.POST("/runs/:id/cancel", h.CancelRun)
}

// eventOptions narrows the stream to one run when run_id is given.
func eventOptions(c *gin.Context) []sse.ClientOption {
	if runID := c.Query("run_id"); runID != "" {
		return []sse.ClientOption{sse.WithTopic(runID)}
	}
	return nil
}
