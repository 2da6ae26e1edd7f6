package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gliksbot/dexter/internal/domain/entity"
	"github.com/gliksbot/dexter/internal/domain/service"
	"github.com/gliksbot/dexter/internal/infrastructure/config"
)

// ChatHandler drives full collaboration sessions. The request blocks
// until dexter speaks or the session fails; live progress is on the
// events stream.
type ChatHandler struct {
	engine    *service.Engine
	holder    *config.Holder
	campaigns *service.CampaignRegistry
	logger    *zap.Logger
}

func NewChatHandler(engine *service.Engine, holder *config.Holder, campaigns *service.CampaignRegistry, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		engine:    engine,
		holder:    holder,
		campaigns: campaigns,
		logger:    logger,
	}
}

type ChatRequest struct {
	Message  string `json:"message" binding:"required"`
	Campaign string `json:"campaign_id"`
}

type ChatResponse struct {
	SessionID            string                 `json:"session_id"`
	Reply                string                 `json:"reply"`
	CollaborationSession string                 `json:"collaboration_session"`
	Winner               string                 `json:"winner,omitempty"`
	Status               string                 `json:"status"`
	Tally                map[string]float64     `json:"tally,omitempty"`
	Executed             *entity.HarvestOutcome `json:"executed,omitempty"`
	DurationMs           float64                `json:"duration_ms"`
}

func (h *ChatHandler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"class": "INVALID_INPUT", "message": err.Error()}})
		return
	}

	if req.Campaign != "" {
		if _, err := h.campaigns.Get(req.Campaign); err != nil {
			writeError(c, err)
			return
		}
	}

	handle, err := h.engine.RunSession(c.Request.Context(), h.holder.Current(), req.Message, req.Campaign)
	if err != nil {
		writeError(c, err)
		return
	}

	if req.Campaign != "" {
		if err := h.campaigns.AttachSession(req.Campaign, handle.ID()); err != nil {
			h.logger.Warn("Failed to attach session to campaign",
				zap.String("campaign", req.Campaign),
				zap.String("session", handle.ID()),
				zap.Error(err),
			)
		}
	}

	answer, err := handle.FinalAnswer()
	if err != nil {
		writeSessionError(c, handle.ID(), err)
		return
	}

	snap := handle.Snapshot()
	c.JSON(http.StatusOK, ChatResponse{
		SessionID:            handle.ID(),
		Reply:                answer,
		CollaborationSession: handle.ID(),
		Winner:               snap.Winner,
		Status:               string(snap.Status),
		Tally:                snap.Tally,
		Executed:             handle.Executed(),
		DurationMs:           float64(time.Since(snap.StartedAt).Milliseconds()),
	})
}
