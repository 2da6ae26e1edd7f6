package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gliksbot/dexter/internal/domain/entity"
	"github.com/gliksbot/dexter/internal/infrastructure/skills"
	"github.com/gliksbot/dexter/pkg/errors"
)

// SkillsHandler exposes the skill lifecycle: draft, sandbox test,
// promote, execute.
type SkillsHandler struct {
	skills *skills.Service
	logger *zap.Logger
}

func NewSkillsHandler(svc *skills.Service, logger *zap.Logger) *SkillsHandler {
	return &SkillsHandler{skills: svc, logger: logger}
}

type skillResponse struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	State      string    `json:"state"`
	LastTestOK bool      `json:"last_test_ok"`
	CreatedAt  time.Time `json:"created_at"`
	Source     string    `json:"source,omitempty"`
}

func toSkillResponse(sk *entity.Skill, withSource bool) skillResponse {
	resp := skillResponse{
		ID:         sk.ID(),
		Name:       sk.Name(),
		State:      string(sk.State()),
		LastTestOK: sk.LastTestOK(),
		CreatedAt:  sk.CreatedAt(),
	}
	if withSource {
		resp.Source = sk.Source()
	}
	return resp
}

// List handles GET /skills?active=.
func (h *SkillsHandler) List(c *gin.Context) {
	activeOnly := c.Query("active") == "true"
	all, err := h.skills.List(c.Request.Context(), activeOnly)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]skillResponse, 0, len(all))
	for _, sk := range all {
		out = append(out, toSkillResponse(sk, false))
	}
	c.JSON(http.StatusOK, gin.H{"skills": out})
}

// Get handles GET /skills/:id, source included.
func (h *SkillsHandler) Get(c *gin.Context) {
	sk, err := h.skills.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSkillResponse(sk, true))
}

type CreateSkillRequest struct {
	Name   string `json:"name" binding:"required"`
	Source string `json:"source" binding:"required"`
}

// Create handles POST /skills, registering a draft.
func (h *SkillsHandler) Create(c *gin.Context) {
	var req CreateSkillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.NewInvalidInputError(err.Error()))
		return
	}
	sk, err := h.skills.CreateDraft(c.Request.Context(), req.Name, req.Source)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toSkillResponse(sk, false))
}

type SkillMessageRequest struct {
	Message string `json:"message"`
}

// Test handles POST /skills/:id/test, running the skill in the sandbox.
func (h *SkillsHandler) Test(c *gin.Context) {
	var req SkillMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		writeError(c, errors.NewInvalidInputError(err.Error()))
		return
	}

	result, err := h.skills.Test(c.Request.Context(), c.Param("id"), req.Message)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Promote handles POST /skills/:id/promote.
func (h *SkillsHandler) Promote(c *gin.Context) {
	sk, err := h.skills.Promote(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSkillResponse(sk, false))
}

// Execute handles POST /skills/:id/execute against an active skill.
func (h *SkillsHandler) Execute(c *gin.Context) {
	var req SkillMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		writeError(c, errors.NewInvalidInputError(err.Error()))
		return
	}

	output, err := h.skills.Execute(c.Request.Context(), c.Param("id"), req.Message)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"output": output})
}
