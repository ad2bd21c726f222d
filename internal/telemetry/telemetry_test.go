package telemetry_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/listings/internal/control"
	"github.com/jonesrussell/north-cloud/listings/internal/domain"
	"github.com/jonesrussell/north-cloud/listings/internal/failure"
	"github.com/jonesrussell/north-cloud/listings/internal/queue"
	"github.com/jonesrussell/north-cloud/listings/internal/source"
	"github.com/jonesrussell/north-cloud/listings/internal/telemetry"
	"github.com/jonesrussell/north-cloud/listings/internal/unification"
	"github.com/jonesrussell/north-cloud/listings/internal/worker"
)

var (
	_ source.Observer      = (*telemetry.Provider)(nil)
	_ worker.Observer      = (*telemetry.Provider)(nil)
	_ unification.Observer = (*telemetry.Provider)(nil)
)

func TestProvider_Observers(t *testing.T) {
	p := telemetry.NewProvider()

	p.ObserveFetch("inmuebles24", "discover", "", 300*time.Millisecond)
	p.ObserveFetch("inmuebles24", "discover", failure.KindRateLimited, time.Second)
	p.ObserveTask("scrape", "completed", "", 2*time.Second)
	p.ObserveUnification(domain.UnificationModeMerge, unification.OutcomeRequeued, 5*time.Second)
	p.ObserveIndexFailure()

	m := p.Metrics
	assert.InDelta(t, 1, testutil.ToFloat64(m.FetchTotal.WithLabelValues("inmuebles24", "discover", "rate_limited")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.TasksTotal.WithLabelValues("scrape", "completed", "")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.UnificationsTotal.WithLabelValues("merge", "requeued")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.IndexFailures), 0)
}

func TestProvider_DepthCollector(t *testing.T) {
	p := telemetry.NewProvider()

	var fail bool
	require.NoError(t, p.RegisterDepth(func(context.Context) (*control.DepthReport, error) {
		if fail {
			return nil, errors.New("redis down")
		}
		return &control.DepthReport{
			Stages: []control.StageDepth{
				{Depth: queue.Depth{Stage: queue.StageUnify, Length: 12, Pending: 3}, Paused: true},
			},
			Groups: map[domain.GroupStatus]int{domain.GroupStatusPendingAI: 7},
		}, nil
	}))

	expected := `
# HELP listings_queue_length Tasks in the stage stream
# TYPE listings_queue_length gauge
listings_queue_length{stage="unify"} 12
# HELP listings_stage_paused 1 when the stage is paused
# TYPE listings_stage_paused gauge
listings_stage_paused{stage="unify"} 1
# HELP listings_listing_groups Listing groups by status
# TYPE listings_listing_groups gauge
listings_listing_groups{status="pending_ai"} 7
`
	require.NoError(t, testutil.GatherAndCompare(p.Registry(), strings.NewReader(expected),
		"listings_queue_length", "listings_stage_paused", "listings_listing_groups"))

	fail = true
	require.NoError(t, testutil.GatherAndCompare(p.Registry(), strings.NewReader(`
# HELP listings_depth_up 1 when queue depth could be read
# TYPE listings_depth_up gauge
listings_depth_up 0
`), "listings_depth_up"))
}

func TestProvider_GinMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	p := telemetry.NewProvider()

	router := gin.New()
	router.Use(p.GinMiddleware())
	router.GET("/api/v1/runs/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	router.GET("/metrics", gin.WrapH(p.Handler()))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/runs/abc", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.InDelta(t, 1, testutil.ToFloat64(p.Metrics.HTTPRequests.WithLabelValues("GET", "/api/v1/runs/:id", "404")), 0)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "listings_http_requests_total")
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
