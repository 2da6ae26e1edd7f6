package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	yaml "gopkg.in/yaml.v3"

	"github.com/gliksbot/dexter/internal/infrastructure/config"
	"github.com/gliksbot/dexter/pkg/errors"
)

const maxConfigBody = 1 << 20

// ConfigHandler reads and replaces the live configuration. Only env var
// names ever cross this surface; key material stays in the environment.
type ConfigHandler struct {
	holder *config.Holder
	path   string
	logger *zap.Logger
}

func NewConfigHandler(holder *config.Holder, path string, logger *zap.Logger) *ConfigHandler {
	return &ConfigHandler{holder: holder, path: path, logger: logger}
}

// Get handles GET /config, returning the active snapshot as YAML.
func (h *ConfigHandler) Get(c *gin.Context) {
	data, err := config.Marshal(h.holder.Current())
	if err != nil {
		writeError(c, errors.NewInternalErrorWithCause("failed to render config", err))
		return
	}
	c.Data(http.StatusOK, "application/x-yaml", data)
}

// Put handles PUT /config. The body is a full YAML document; it is
// validated, swapped in atomically, and written back to disk.
func (h *ConfigHandler) Put(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxConfigBody))
	if err != nil {
		writeError(c, errors.NewInvalidInputError("failed to read request body"))
		return
	}

	cfg, err := config.Parse(body)
	if err != nil {
		writeError(c, errors.NewConfigError(err.Error()))
		return
	}
	if err := h.holder.Swap(cfg); err != nil {
		writeError(c, errors.NewConfigError(err.Error()))
		return
	}
	if err := config.Save(h.path, cfg); err != nil {
		writeError(c, errors.NewInternalErrorWithCause("failed to persist config", err))
		return
	}

	h.logger.Info("Configuration replaced", zap.Int("slots", len(cfg.Slots)))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// SetSlot handles POST /models/:slot/config. The body is one slot's
// YAML config; the rest of the document is untouched.
func (h *ConfigHandler) SetSlot(c *gin.Context) {
	name := c.Param("slot")

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxConfigBody))
	if err != nil {
		writeError(c, errors.NewInvalidInputError("failed to read request body"))
		return
	}

	var slot config.SlotConfig
	if err := yaml.Unmarshal(body, &slot); err != nil {
		writeError(c, errors.NewInvalidInputError("malformed slot config: "+err.Error()))
		return
	}

	next := h.holder.Current().Clone()
	if err := next.SetSlot(name, slot); err != nil {
		writeError(c, errors.NewConfigError(err.Error()))
		return
	}
	if err := h.holder.Swap(next); err != nil {
		writeError(c, errors.NewConfigError(err.Error()))
		return
	}
	if err := config.Save(h.path, next); err != nil {
		writeError(c, errors.NewInternalErrorWithCause("failed to persist config", err))
		return
	}

	h.logger.Info("Slot configuration updated", zap.String("slot", name))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
