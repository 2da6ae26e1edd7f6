package handlers

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gliksbot/dexter/internal/infrastructure/eventbus"
	"github.com/gliksbot/dexter/pkg/errors"
)

const keepAliveInterval = 15 * time.Second

// EventsHandler streams the live collaboration feed over SSE. Each
// connection gets its own bus subscription; a slow consumer drops its
// oldest events rather than stalling the engine.
type EventsHandler struct {
	bus    *eventbus.Bus
	logger *zap.Logger
}

func NewEventsHandler(bus *eventbus.Bus, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{bus: bus, logger: logger}
}

// Stream handles GET /events. Optional slot and session query params
// filter the feed.
func (h *EventsHandler) Stream(c *gin.Context) {
	ch, cancel, err := h.bus.Subscribe()
	if err != nil {
		if stderrors.Is(err, eventbus.ErrTooManySubscribers) {
			writeError(c, errors.NewBusyError(err.Error()))
		} else {
			writeError(c, err)
		}
		return
	}
	defer cancel()

	slot := c.Query("slot")
	session := c.Query("session")

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"class": "INTERNAL_ERROR", "message": "streaming unsupported"}})
		return
	}

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			if slot != "" && ev.Slot != slot {
				continue
			}
			if session != "" && ev.Session != session {
				continue
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Warn("Failed to marshal event", zap.Error(err))
				continue
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", ev.Event, data)
			flusher.Flush()
		case <-keepAlive.C:
			fmt.Fprint(c.Writer, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}
