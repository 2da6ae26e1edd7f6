package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gliksbot/dexter/internal/domain/entity"
	"github.com/gliksbot/dexter/internal/infrastructure/collab"
	"github.com/gliksbot/dexter/internal/infrastructure/config"
	"github.com/gliksbot/dexter/internal/infrastructure/llm"
	"github.com/gliksbot/dexter/pkg/errors"
)

// directSession is the pseudo-session direct chat events are logged
// under. Direct calls bypass the collaboration protocol entirely.
const directSession = "direct"

// LLMHandler routes a single message to one slot without running a
// collaboration session.
type LLMHandler struct {
	client *llm.Client
	holder *config.Holder
	store  collab.Store
	logger *zap.Logger
}

func NewLLMHandler(client *llm.Client, holder *config.Holder, store collab.Store, logger *zap.Logger) *LLMHandler {
	return &LLMHandler{client: client, holder: holder, store: store, logger: logger}
}

type DirectChatRequest struct {
	Slot    string `json:"slot" binding:"required"`
	Message string `json:"message" binding:"required"`
}

// Chat handles POST /llm/chat.
func (h *LLMHandler) Chat(c *gin.Context) {
	var req DirectChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.NewInvalidInputError(err.Error()))
		return
	}

	cfg := h.holder.Current()
	slot, ok := cfg.Slots[req.Slot]
	if !ok {
		writeError(c, errors.NewNotFoundError("slot not found: "+req.Slot))
		return
	}
	if !slot.Enabled {
		writeError(c, errors.NewConfigError("slot is disabled: "+req.Slot))
		return
	}

	result, err := h.client.Call(c.Request.Context(), slot.LLMRequest(slot.Prompt, req.Message))
	if err != nil {
		h.record(req.Slot, entity.EventChatError, err.Error(), nil)
		writeError(c, err)
		return
	}

	h.record(req.Slot, entity.EventChatOK, result.Text, result.Meta)
	c.JSON(http.StatusOK, gin.H{"reply": result.Text, "slot": req.Slot, "meta": result.Meta})
}

func (h *LLMHandler) record(slot, event, text string, meta map[string]string) {
	err := h.store.Append(context.Background(), entity.SlotEvent{
		Ts:      time.Now().Unix(),
		Slot:    slot,
		Session: directSession,
		Phase:   entity.PhaseMeta,
		Event:   event,
		Text:    text,
		Meta:    meta,
	})
	if err != nil {
		h.logger.Warn("Failed to record direct chat event",
			zap.String("slot", slot),
			zap.Error(err),
		)
	}
}
