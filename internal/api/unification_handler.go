package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	infralogger "github.com/jonesrussell/north-cloud/listings/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/listings/internal/domain"
	"github.com/jonesrussell/north-cloud/listings/internal/queue"
	"github.com/jonesrussell/north-cloud/listings/internal/search"
)

// GetGroup handles GET /api/v1/groups/:id
func (h *Handler) GetGroup(c *gin.Context) {
	group, err := h.deps.Groups.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondFailure(c, "group", err)
		return
	}
	c.JSON(http.StatusOK, group)
}

// UnifyGroup handles POST /api/v1/groups/:id/unify. By default the group is queued for the unify
// stage; ?sync=true runs unification in the request.
func (h *Handler) UnifyGroup(c *gin.Context) {
	ctx := c.Request.Context()
	groupID := c.Param("id")

	group, err := h.deps.Groups.GetByID(ctx, groupID)
	if err != nil {
		respondFailure(c, "group", err)
		return
	}
	if group.Status != domain.GroupStatusPendingAI {
		respondError(c, http.StatusConflict, "group is "+string(group.Status)+", not pending_ai")
		return
	}

	if sync, _ := strconv.ParseBool(c.Query("sync")); sync {
		if h.deps.Unifier == nil {
			respondError(c, http.StatusServiceUnavailable, "unification is not configured")
			return
		}
		if err = h.deps.Unifier.Unify(ctx, groupID); err != nil {
			respondFailure(c, "group", err)
			return
		}
		h.respondGroup(c, groupID)
		return
	}

	h.enqueue(c, queue.NewUnifyTask(groupID))
}

// ReanalyzeProperty handles POST /api/v1/properties/:id/reanalyze. An operator request re-enters
// the property whether or not it is flagged for re-analysis.
func (h *Handler) ReanalyzeProperty(c *gin.Context) {
	ctx := c.Request.Context()
	propertyID := c.Param("id")

	if _, err := h.deps.Properties.GetByID(ctx, propertyID); err != nil {
		respondFailure(c, "property", err)
		return
	}

	if sync, _ := strconv.ParseBool(c.Query("sync")); sync {
		if h.deps.Unifier == nil {
			respondError(c, http.StatusServiceUnavailable, "unification is not configured")
			return
		}
		if err := h.deps.Unifier.Reanalyze(ctx, propertyID); err != nil {
			respondFailure(c, "property", err)
			return
		}
		prop, err := h.deps.Properties.GetByID(ctx, propertyID)
		if err != nil {
			respondFailure(c, "property", err)
			return
		}
		c.JSON(http.StatusOK, prop)
		return
	}

	h.enqueue(c, queue.NewReanalysisTask(propertyID))
}

// GetProperty handles GET /api/v1/properties/:id
func (h *Handler) GetProperty(c *gin.Context) {
	ctx := c.Request.Context()
	prop, err := h.deps.Properties.GetByID(ctx, c.Param("id"))
	if err != nil {
		respondFailure(c, "property", err)
		return
	}

	conflicts, err := h.deps.Properties.ListConflicts(ctx, prop.ID)
	if err != nil {
		respondFailure(c, "property conflicts", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"property": prop, "conflicts": conflicts})
}

// SearchProperties handles GET /api/v1/properties/search
func (h *Handler) SearchProperties(c *gin.Context) {
	if h.deps.Searcher == nil {
		respondFailure(c, "property search", search.ErrNotConfigured)
		return
	}

	q := search.Query{
		Text:         c.Query("q"),
		City:         c.Query("city"),
		State:        c.Query("state"),
		PropertyType: c.Query("property_type"),
		Operation:    c.Query("operation"),
	}

	var err error
	if q.MinBedrooms, err = intParam(c, "min_bedrooms"); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	if q.Page, err = intParam(c, "page"); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	if q.Size, err = intParam(c, "size"); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	if q.MaxPrice, err = floatParam(c, "max_price"); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	if q.RadiusKm, err = floatParam(c, "radius_km"); err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	if c.Query("lat") != "" || c.Query("lon") != "" {
		lat, latErr := floatParam(c, "lat")
		lon, lonErr := floatParam(c, "lon")
		if latErr != nil || lonErr != nil || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			respondBadRequest(c, "lat and lon must be valid coordinates")
			return
		}
		q.Near = &search.GeoPoint{Lat: lat, Lon: lon}
	}

	results, err := h.deps.Searcher.Search(c.Request.Context(), q)
	if err != nil {
		respondFailure(c, "property search", err)
		return
	}
	c.JSON(http.StatusOK, results)
}

func (h *Handler) enqueue(c *gin.Context, task queue.Task) {
	messageID, err := h.deps.Queue.Enqueue(c.Request.Context(), task)
	if err != nil {
		respondFailure(c, "task", err)
		return
	}

	infralogger.FromContext(c.Request.Context()).Info("Unification queued",
		infralogger.String("task", task.Key()),
		infralogger.String("message_id", messageID),
	)
	c.JSON(http.StatusAccepted, gin.H{"task_id": task.ID, "message_id": messageID, "target": task.Key()})
}

func (h *Handler) respondGroup(c *gin.Context, groupID string) {
	group, err := h.deps.Groups.GetByID(c.Request.Context(), groupID)
	if err != nil {
		respondFailure(c, "group", err)
		return
	}
	c.JSON(http.StatusOK, group)
}

func intParam(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, &paramError{name: name}
	}
	return v, nil
}

func floatParam(c *gin.Context, name string) (float64, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &paramError{name: name}
	}
	return v, nil
}

type paramError struct {
	name string
}

func (e *paramError) Error() string {
	return "invalid " + e.name + " parameter"
}
