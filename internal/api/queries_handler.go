package api

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	infralogger "github.com/jonesrussell/north-cloud/listings/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/listings/internal/database"
	"github.com/jonesrussell/north-cloud/listings/internal/domain"
	"github.com/jonesrussell/north-cloud/listings/internal/scheduler"
)

// CreateQueryRequest is the body of POST /api/v1/queries.
type CreateQueryRequest struct {
	Name      string  `json:"name"       binding:"required"`
	Platform  string  `json:"platform"   binding:"required"`
	SearchURL string  `json:"search_url" binding:"required,url"`
	Schedule  *string `json:"schedule"`
	Enabled   *bool   `json:"enabled"`
}

// ListPlatforms handles GET /api/v1/platforms
func (h *Handler) ListPlatforms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"platforms": h.deps.Platforms.Names()})
}

// CreateQuery handles POST /api/v1/queries
func (h *Handler) CreateQuery(c *gin.Context) {
	var req CreateQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request: "+err.Error())
		return
	}

	def, err := h.deps.Platforms.Get(req.Platform)
	if err != nil {
		respondFailure(c, "query", err)
		return
	}
	if !sameHost(req.SearchURL, def.BaseURL) {
		respondBadRequest(c, "search_url does not belong to platform "+req.Platform)
		return
	}

	if req.Schedule != nil {
		spec := strings.TrimSpace(*req.Schedule)
		if spec == "" {
			req.Schedule = nil
		} else if err = scheduler.ValidateSpec(spec); err != nil {
			respondBadRequest(c, err.Error())
			return
		} else {
			req.Schedule = &spec
		}
	}

	q := &domain.SearchQuery{
		Name:      strings.TrimSpace(req.Name),
		Platform:  req.Platform,
		SearchURL: req.SearchURL,
		Schedule:  req.Schedule,
		Enabled:   req.Enabled == nil || *req.Enabled,
	}
	if err = h.deps.Queries.Create(c.Request.Context(), q); err != nil {
		respondFailure(c, "query", err)
		return
	}

	infralogger.FromContext(c.Request.Context()).Info("Search query created",
		infralogger.String("query_id", q.ID),
		infralogger.Platform(q.Platform),
	)
	c.JSON(http.StatusCreated, q)
}

// ListQueries handles GET /api/v1/queries
func (h *Handler) ListQueries(c *gin.Context) {
	limit, offset := parseLimitOffset(c)

	queries, err := h.deps.Queries.List(c.Request.Context(), limit, offset)
	if err != nil {
		respondFailure(c, "queries", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"queries": queries, "limit": limit, "offset": offset})
}

// GetQuery handles GET /api/v1/queries/:id
func (h *Handler) GetQuery(c *gin.Context) {
	q, err := h.deps.Queries.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondFailure(c, "query", err)
		return
	}
	c.JSON(http.StatusOK, q)
}

// StartRun handles POST /api/v1/queries/:id/runs
func (h *Handler) StartRun(c *gin.Context) {
	run, err := h.deps.Starter.StartRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondFailure(c, "query", err)
		return
	}
	c.JSON(http.StatusCreated, run)
}

// ListRuns handles GET /api/v1/runs
func (h *Handler) ListRuns(c *gin.Context) {
	limit, offset := parseLimitOffset(c)
	params := database.ListParams{
		QueryID: c.Query("query_id"),
		Limit:   limit,
		Offset:  offset,
	}
	if status := c.Query("status"); status != "" {
		for _, s := range strings.Split(status, ",") {
			params.Statuses = append(params.Statuses, domain.RunStatus(strings.TrimSpace(s)))
		}
	}

	runs, err := h.deps.Runs.List(c.Request.Context(), params)
	if err != nil {
		respondFailure(c, "runs", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "limit": limit, "offset": offset})
}

// GetRun handles GET /api/v1/runs/:id
func (h *Handler) GetRun(c *gin.Context) {
	run, err := h.deps.Runs.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondFailure(c, "run", err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// ListRunJobs handles GET /api/v1/runs/:id/jobs
func (h *Handler) ListRunJobs(c *gin.Context) {
	jobType := domain.JobType(c.Query("type"))
	switch jobType {
	case "", domain.JobTypeDiscovery, domain.JobTypeListing:
	default:
		respondBadRequest(c, "type must be discovery or listing")
		return
	}

	ctx := c.Request.Context()
	runID := c.Param("id")
	if _, err := h.deps.Runs.GetByID(ctx, runID); err != nil {
		respondFailure(c, "run", err)
		return
	}

	jobs, err := h.deps.Jobs.ListByRun(ctx, runID, jobType)
	if err != nil {
		respondFailure(c, "jobs", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": runID, "jobs": jobs, "total": len(jobs)})
}

// sameHost reports whether rawURL is on base's host. An empty base accepts any host.
func sameHost(rawURL, base string) bool {
	if base == "" {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	b, err := url.Parse(base)
	if err != nil {
		return false
	}
	return strings.EqualFold(strings.TrimPrefix(u.Hostname(), "www."), strings.TrimPrefix(b.Hostname(), "www."))
}
