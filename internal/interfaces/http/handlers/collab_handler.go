package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gliksbot/dexter/internal/domain/entity"
	"github.com/gliksbot/dexter/internal/domain/service"
	"github.com/gliksbot/dexter/internal/infrastructure/collab"
	"github.com/gliksbot/dexter/pkg/errors"
)

const defaultHeadSize = 50

// CollabHandler exposes the collaboration logs and live session state.
type CollabHandler struct {
	store    collab.Store
	registry *service.Registry
	logger   *zap.Logger
}

func NewCollabHandler(store collab.Store, registry *service.Registry, logger *zap.Logger) *CollabHandler {
	return &CollabHandler{store: store, registry: registry, logger: logger}
}

// Head handles GET /collaboration/head?slot=&n=. Events return newest
// first.
func (h *CollabHandler) Head(c *gin.Context) {
	slot := c.Query("slot")
	if slot == "" {
		writeError(c, errors.NewInvalidInputError("slot query parameter is required"))
		return
	}

	n := defaultHeadSize
	if raw := c.Query("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(c, errors.NewInvalidInputError("n must be a positive integer"))
			return
		}
		n = parsed
	}

	events := h.store.Head(slot, n)
	c.JSON(http.StatusOK, gin.H{"slot": slot, "items": events})
}

type InputRequest struct {
	Message string `json:"message" binding:"required"`
	Session string `json:"session"`
}

// Input handles POST /collaboration/input/:slot. The message is queued
// for the slot's next call and recorded on its log. Without an explicit
// session it targets the newest running one.
func (h *CollabHandler) Input(c *gin.Context) {
	slot := c.Param("slot")

	var req InputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.NewInvalidInputError(err.Error()))
		return
	}

	if req.Session == "" {
		running := h.registry.List(true)
		if len(running) == 0 {
			writeError(c, errors.NewNotFoundError("no running session to receive input"))
			return
		}
		req.Session = running[0].ID
	}

	handle, ok := h.registry.Get(req.Session)
	if !ok {
		writeError(c, errors.NewNotFoundError("session not found: "+req.Session))
		return
	}
	if !handle.AddInput(slot, req.Message) {
		writeError(c, errors.NewInvalidInputError("slot is not participating or the session already finished"))
		return
	}

	event := entity.SlotEvent{
		Ts:      time.Now().Unix(),
		Slot:    slot,
		Session: req.Session,
		Phase:   entity.PhaseMeta,
		Event:   entity.EventUserInput,
		Text:    req.Message,
	}
	if err := h.store.Append(context.WithoutCancel(c.Request.Context()), event); err != nil {
		h.logger.Warn("Failed to record user input event",
			zap.String("slot", slot),
			zap.String("session", req.Session),
			zap.Error(err),
		)
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "session": req.Session})
}

// Status handles GET /collaboration/status?active=. Sessions return
// newest first.
func (h *CollabHandler) Status(c *gin.Context) {
	activeOnly := c.Query("active") == "true"
	c.JSON(http.StatusOK, gin.H{"sessions": h.registry.List(activeOnly)})
}

// Session handles GET /collaboration/sessions/:session. It combines the
// live snapshot, when the session is still registered, with the per-slot
// event logs.
func (h *CollabHandler) Session(c *gin.Context) {
	id := c.Param("session")

	logs := h.store.SessionSnapshot(id)
	handle, live := h.registry.Get(id)
	if !live && len(logs) == 0 {
		writeError(c, errors.NewNotFoundError("session not found: "+id))
		return
	}

	resp := gin.H{"session": id, "logs": logs}
	if live {
		resp["state"] = handle.Snapshot()
	}
	c.JSON(http.StatusOK, resp)
}

// Cancel handles POST /collaboration/sessions/:session/cancel.
func (h *CollabHandler) Cancel(c *gin.Context) {
	if err := h.registry.Cancel(c.Param("session")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
