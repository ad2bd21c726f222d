package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	infralogger "github.com/jonesrussell/north-cloud/listings/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/listings/internal/database"
	"github.com/jonesrussell/north-cloud/listings/internal/domain"
	"github.com/jonesrussell/north-cloud/listings/internal/orchestrator"
	"github.com/jonesrussell/north-cloud/listings/internal/platform"
	"github.com/jonesrussell/north-cloud/listings/internal/search"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// parseLimitOffset parses limit and offset query params with defaults.
func parseLimitOffset(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultLimit)))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// respondError sends a JSON error response.
func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

// respondNotFound sends a 404 with resource not found message.
func respondNotFound(c *gin.Context, resource string) {
	respondError(c, http.StatusNotFound, resource+" not found")
}

// respondBadRequest sends a 400 with message.
func respondBadRequest(c *gin.Context, message string) {
	respondError(c, http.StatusBadRequest, message)
}

// respondFailure maps a collaborator error to a status. Unmapped errors are logged with the
// request logger and answered with a generic 500.
func respondFailure(c *gin.Context, resource string, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		respondNotFound(c, resource)
	case errors.Is(err, platform.ErrUnknownPlatform), errors.Is(err, search.ErrInvalidQuery):
		respondBadRequest(c, err.Error())
	case errors.Is(err, orchestrator.ErrQueryDisabled),
		errors.Is(err, database.ErrLeaseNotAcquired),
		errors.Is(err, database.ErrStaleStatus),
		errors.Is(err, domain.ErrInvalidTransition):
		respondError(c, http.StatusConflict, err.Error())
	case errors.Is(err, search.ErrNotConfigured):
		respondError(c, http.StatusServiceUnavailable, "property search is not configured")
	default:
		infralogger.FromContext(c.Request.Context()).Error("Request failed",
			infralogger.String("resource", resource),
			infralogger.Error(err),
		)
		_ = c.Error(err)
		respondError(c, http.StatusInternalServerError, "failed to process "+resource)
	}
}
