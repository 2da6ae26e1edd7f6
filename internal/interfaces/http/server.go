package http

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gliksbot/dexter/internal/domain/service"
	"github.com/gliksbot/dexter/internal/infrastructure/collab"
	"github.com/gliksbot/dexter/internal/infrastructure/config"
	"github.com/gliksbot/dexter/internal/infrastructure/eventbus"
	"github.com/gliksbot/dexter/internal/infrastructure/llm"
	"github.com/gliksbot/dexter/internal/infrastructure/skills"
	"github.com/gliksbot/dexter/internal/interfaces/http/handlers"
	"github.com/gliksbot/dexter/internal/interfaces/websocket"
)

// Deps is everything the HTTP surface needs from the application.
type Deps struct {
	Engine     *service.Engine
	Registry   *service.Registry
	Store      collab.Store
	Bus        *eventbus.Bus
	Holder     *config.Holder
	ConfigPath string
	LLM        *llm.Client
	Skills     *skills.Service
	Campaigns  *service.CampaignRegistry
	Version    string
}

// Server is the HTTP front of the orchestrator.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// NewServer builds the router and binds every endpoint.
func NewServer(cfg config.ServerConfig, deps Deps, logger *zap.Logger) *Server {
	if cfg.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logger))

	chatHandler := handlers.NewChatHandler(deps.Engine, deps.Holder, deps.Campaigns, logger)
	eventsHandler := handlers.NewEventsHandler(deps.Bus, logger)
	collabHandler := handlers.NewCollabHandler(deps.Store, deps.Registry, logger)
	configHandler := handlers.NewConfigHandler(deps.Holder, deps.ConfigPath, logger)
	skillsHandler := handlers.NewSkillsHandler(deps.Skills, logger)
	campaignsHandler := handlers.NewCampaignsHandler(deps.Campaigns, logger)
	llmHandler := handlers.NewLLMHandler(deps.LLM, deps.Holder, deps.Store, logger)
	wsHandler := websocket.NewHandler(deps.Bus, logger)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ok":      true,
			"version": deps.Version,
			"time":    time.Now().Unix(),
		})
	})

	router.POST("/chat", chatHandler.Chat)
	router.GET("/events", eventsHandler.Stream)
	router.GET("/ws/events", wsHandler.Events)

	collabGroup := router.Group("/collaboration")
	{
		collabGroup.GET("/head", collabHandler.Head)
		collabGroup.GET("/status", collabHandler.Status)
		collabGroup.POST("/input/:slot", collabHandler.Input)
		collabGroup.GET("/sessions/:session", collabHandler.Session)
		collabGroup.POST("/sessions/:session/cancel", collabHandler.Cancel)
	}

	router.GET("/config", configHandler.Get)
	router.PUT("/config", configHandler.Put)
	router.POST("/models/:slot/config", configHandler.SetSlot)

	skillsGroup := router.Group("/skills")
	{
		skillsGroup.GET("", skillsHandler.List)
		skillsGroup.POST("", skillsHandler.Create)
		skillsGroup.GET("/:id", skillsHandler.Get)
		skillsGroup.POST("/:id/test", skillsHandler.Test)
		skillsGroup.POST("/:id/promote", skillsHandler.Promote)
		skillsGroup.POST("/:id/execute", skillsHandler.Execute)
	}

	campaignsGroup := router.Group("/campaigns")
	{
		campaignsGroup.GET("", campaignsHandler.List)
		campaignsGroup.POST("", campaignsHandler.Create)
		campaignsGroup.GET("/:id", campaignsHandler.Get)
		campaignsGroup.POST("/:id/close", campaignsHandler.Close)
	}

	router.POST("/llm/chat", llmHandler.Chat)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: router,
		},
		logger: logger,
	}
}

// Start binds the listener and begins serving. Binding happens here so
// a taken port fails startup instead of a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.server.Addr, err)
	}

	s.logger.Info("Starting HTTP server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// ginLogger logs one line per request.
func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
