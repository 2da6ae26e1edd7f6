package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gliksbot/dexter/internal/domain/entity"
	"github.com/gliksbot/dexter/internal/domain/service"
	"github.com/gliksbot/dexter/pkg/errors"
)

// CampaignsHandler manages long-running objectives that group sessions.
type CampaignsHandler struct {
	campaigns *service.CampaignRegistry
	logger    *zap.Logger
}

func NewCampaignsHandler(campaigns *service.CampaignRegistry, logger *zap.Logger) *CampaignsHandler {
	return &CampaignsHandler{campaigns: campaigns, logger: logger}
}

type campaignResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Objective string    `json:"objective"`
	Status    string    `json:"status"`
	Sessions  []string  `json:"sessions"`
	CreatedAt time.Time `json:"created_at"`
}

func toCampaignResponse(cp *entity.Campaign) campaignResponse {
	return campaignResponse{
		ID:        cp.ID(),
		Name:      cp.Name(),
		Objective: cp.Objective(),
		Status:    string(cp.Status()),
		Sessions:  cp.Sessions(),
		CreatedAt: cp.CreatedAt(),
	}
}

type CreateCampaignRequest struct {
	Name      string `json:"name" binding:"required"`
	Objective string `json:"objective" binding:"required"`
}

// Create handles POST /campaigns.
func (h *CampaignsHandler) Create(c *gin.Context) {
	var req CreateCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.NewInvalidInputError(err.Error()))
		return
	}
	cp, err := h.campaigns.Create(req.Name, req.Objective)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toCampaignResponse(cp))
}

// List handles GET /campaigns, newest first.
func (h *CampaignsHandler) List(c *gin.Context) {
	all := h.campaigns.List()
	out := make([]campaignResponse, 0, len(all))
	for _, cp := range all {
		out = append(out, toCampaignResponse(cp))
	}
	c.JSON(http.StatusOK, gin.H{"campaigns": out})
}

// Get handles GET /campaigns/:id.
func (h *CampaignsHandler) Get(c *gin.Context) {
	cp, err := h.campaigns.Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCampaignResponse(cp))
}

// Close handles POST /campaigns/:id/close. Closed campaigns reject new
// sessions but keep their history.
func (h *CampaignsHandler) Close(c *gin.Context) {
	if err := h.campaigns.Close(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
