package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/listings/infrastructure/logger"
)

// Handler streams broker events to a gin client until it disconnects.
// optsFn builds per-request subscription options, for example a topic filter from a query parameter.
func Handler(b Broker, log logger.Logger, optsFn func(c *gin.Context) []ClientOption) gin.HandlerFunc {
	return func(c *gin.Context) {
		var opts []ClientOption
		if optsFn != nil {
			opts = optsFn(c)
		}

		events, cleanup := b.Subscribe(c.Request.Context(), opts...)
		defer cleanup()

		select {
		case _, ok := <-events:
			if !ok {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "too many connections"})
				return
			}
		default:
		}

		h := c.Writer.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)

		if err := WriteEvent(c.Writer, Event{Type: "connected", Data: gin.H{"timestamp": time.Now().UTC()}}); err != nil {
			return
		}
		c.Writer.Flush()

		ticker := time.NewTicker(b.HeartbeatInterval())
		defer ticker.Stop()

		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				if err := WriteEvent(c.Writer, event); err != nil {
					log.Debug("SSE write failed", logger.Error(err), logger.String("event_type", event.Type))
					return
				}
				c.Writer.Flush()
			case <-ticker.C:
				if _, err := fmt.Fprintf(c.Writer, ": heartbeat\n\n"); err != nil {
					return
				}
				c.Writer.Flush()
			case <-c.Request.Context().Done():
				return
			}
		}
	}
}

// WriteEvent writes one event in wire format.
func WriteEvent(w io.Writer, event Event) error {
	if event.Type != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
			return fmt.Errorf("write event type: %w", err)
		}
	}
	if event.ID != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", event.ID); err != nil {
			return fmt.Errorf("write event id: %w", err)
		}
	}

	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	if _, err = fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write event data: %w", err)
	}
	return nil
}
