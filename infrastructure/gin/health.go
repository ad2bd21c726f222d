package gin

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthStatus represents the status of a health check.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

const healthCheckTimeout = 3 * time.Second

// HealthResponse is the health endpoint body.
type HealthResponse struct {
	Status  HealthStatus           `json:"status"`
	Service string                 `json:"service"`
	Version string                 `json:"version"`
	Uptime  string                 `json:"uptime,omitempty"`
	Checks  map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of one named check.
type CheckResult struct {
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
	Latency string       `json:"latency,omitempty"`
}

// HealthChecker performs one check.
type HealthChecker func(ctx context.Context) CheckResult

// HealthOptions configures the health endpoint.
type HealthOptions struct {
	ServiceName    string
	ServiceVersion string
	// StartTime is used for uptime; zero means the first registration.
	StartTime time.Time
	Checks    map[string]HealthChecker
}

var healthState = struct {
	sync.Once
	startTime time.Time
}{}

// RegisterHealthRoutes adds GET and HEAD /health. The GET response aggregates the checks: any
// unhealthy check turns the service unhealthy and answers 503.
func RegisterHealthRoutes(router gin.IRoutes, opts HealthOptions) {
	if opts.StartTime.IsZero() {
		healthState.Do(func() { healthState.startTime = time.Now() })
		opts.StartTime = healthState.startTime
	}

	router.GET("/health", healthHandler(opts))
	router.HEAD("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
}

func healthHandler(opts HealthOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		response := HealthResponse{
			Status:  HealthStatusHealthy,
			Service: opts.ServiceName,
			Version: opts.ServiceVersion,
			Uptime:  time.Since(opts.StartTime).Round(time.Second).String(),
		}

		if len(opts.Checks) > 0 {
			ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
			defer cancel()

			response.Checks = make(map[string]CheckResult, len(opts.Checks))
			for name, check := range opts.Checks {
				result := check(ctx)
				response.Checks[name] = result
				response.Status = worst(response.Status, result.Status)
			}
		}

		statusCode := http.StatusOK
		if response.Status == HealthStatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, response)
	}
}

func worst(a, b HealthStatus) HealthStatus {
	rank := map[HealthStatus]int{HealthStatusHealthy: 0, HealthStatusDegraded: 1, HealthStatusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// PingChecker wraps a connectivity check. A failing critical dependency is unhealthy; any
// other failure only degrades the service.
func PingChecker(critical bool, ping func(ctx context.Context) error) HealthChecker {
	return func(ctx context.Context) CheckResult {
		start := time.Now()
		err := ping(ctx)
		latency := time.Since(start).String()

		if err != nil {
			status := HealthStatusDegraded
			if critical {
				status = HealthStatusUnhealthy
			}
			return CheckResult{Status: status, Message: err.Error(), Latency: latency}
		}
		return CheckResult{Status: HealthStatusHealthy, Message: "OK", Latency: latency}
	}
}
