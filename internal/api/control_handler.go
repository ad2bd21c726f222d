package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	infrajwt "github.com/jonesrussell/north-cloud/listings/infrastructure/jwt"
	infralogger "github.com/jonesrussell/north-cloud/listings/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/listings/internal/queue"
)

// QueueDepth handles GET /api/v1/control/depth
func (h *Handler) QueueDepth(c *gin.Context) {
	report, err := h.deps.Control.QueueDepth(c.Request.Context())
	if err != nil {
		respondFailure(c, "queue depth", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// CancelStage handles POST /api/v1/control/stages/:stage/cancel
func (h *Handler) CancelStage(c *gin.Context) {
	stage, ok := stageParam(c)
	if !ok {
		return
	}

	report, err := h.deps.Control.CancelStage(c.Request.Context(), stage)
	if err != nil {
		respondFailure(c, "stage", err)
		return
	}
	h.audit(c, "Stage cancelled", infralogger.String("stage", string(stage)))
	c.JSON(http.StatusOK, report)
}

// ResumeStage handles POST /api/v1/control/stages/:stage/resume
func (h *Handler) ResumeStage(c *gin.Context) {
	stage, ok := stageParam(c)
	if !ok {
		return
	}

	report, err := h.deps.Control.ResumeStage(c.Request.Context(), stage)
	if err != nil {
		respondFailure(c, "stage", err)
		return
	}
	h.audit(c, "Stage resumed", infralogger.String("stage", string(stage)))
	c.JSON(http.StatusOK, report)
}

// CancelRun handles POST /api/v1/control/runs/:id/cancel
func (h *Handler) CancelRun(c *gin.Context) {
	report, err := h.deps.Control.CancelRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondFailure(c, "run", err)
		return
	}
	h.audit(c, "Run cancel requested", infralogger.RunID(report.RunID))
	c.JSON(http.StatusOK, report)
}

func stageParam(c *gin.Context) (queue.Stage, bool) {
	stage, err := queue.ParseStage(c.Param("stage"))
	if err != nil {
		respondBadRequest(c, err.Error())
		return "", false
	}
	return stage, true
}

// audit logs an operator action with the token subject when the route is guarded.
func (h *Handler) audit(c *gin.Context, msg string, fields ...infralogger.Field) {
	if claims, ok := infrajwt.GetClaims(c); ok {
		fields = append(fields, infralogger.String("operator", claims.Subject))
	}
	infralogger.FromContext(c.Request.Context()).Info(msg, fields...)
}
