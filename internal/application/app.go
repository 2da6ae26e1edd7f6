package application

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/gliksbot/dexter/internal/domain/repository"
	"github.com/gliksbot/dexter/internal/domain/service"
	"github.com/gliksbot/dexter/internal/infrastructure/collab"
	"github.com/gliksbot/dexter/internal/infrastructure/config"
	"github.com/gliksbot/dexter/internal/infrastructure/eventbus"
	"github.com/gliksbot/dexter/internal/infrastructure/llm"
	_ "github.com/gliksbot/dexter/internal/infrastructure/llm/anthropic" // register anthropic backend
	_ "github.com/gliksbot/dexter/internal/infrastructure/llm/ollama"    // register ollama backend
	_ "github.com/gliksbot/dexter/internal/infrastructure/llm/openai"    // register openai backend
	"github.com/gliksbot/dexter/internal/infrastructure/persistence"
	"github.com/gliksbot/dexter/internal/infrastructure/sandbox"
	"github.com/gliksbot/dexter/internal/infrastructure/skills"
	httpServer "github.com/gliksbot/dexter/internal/interfaces/http"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// App is the dependency injection container: it owns every long-lived
// component and tears them down in reverse construction order.
type App struct {
	configPath string
	holder     *config.Holder
	logger     *zap.Logger
	db         *gorm.DB

	skillRepo repository.SkillRepository

	bus      *eventbus.Bus
	store    collab.Store
	llm      *llm.Client
	registry *service.Registry
	runtime  *service.SlotRuntime
	engine   *service.Engine

	runner    sandbox.Runner
	skills    *skills.Service
	campaigns *service.CampaignRegistry

	watcher    *config.Watcher
	httpServer *httpServer.Server
}

// NewApp wires the whole application from one validated config snapshot.
func NewApp(cfg *config.Config, configPath string, logger *zap.Logger) (*App, error) {
	app := &App{
		configPath: configPath,
		holder:     config.NewHolder(cfg),
		logger:     logger,
	}

	if err := app.initRepositories(cfg); err != nil {
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}
	if err := app.initInfrastructure(cfg); err != nil {
		return nil, fmt.Errorf("failed to init infrastructure: %w", err)
	}
	if err := app.initDomainServices(cfg); err != nil {
		return nil, fmt.Errorf("failed to init domain services: %w", err)
	}
	if err := app.initInterfaces(cfg); err != nil {
		return nil, fmt.Errorf("failed to init interfaces: %w", err)
	}

	return app, nil
}

func (app *App) initRepositories(cfg *config.Config) error {
	db, err := persistence.NewDBConnection(&cfg.Database)
	if err != nil {
		// Skills degrade to in-memory drafts; collaboration is unaffected.
		app.logger.Warn("Database unavailable, using in-memory skill store", zap.Error(err))
		app.skillRepo = persistence.NewMemorySkillRepository()
		return nil
	}
	app.db = db
	app.skillRepo = persistence.NewGormSkillRepository(db)
	return nil
}

func (app *App) initInfrastructure(cfg *config.Config) error {
	app.bus = eventbus.New(cfg.Limits.BusQueueSize, cfg.Limits.MaxSubscribers, app.logger)

	if cfg.Collab.PersistEnabled {
		store, err := collab.NewJSONLStore(cfg.Collab.Directory, app.bus, cfg.Limits.MaxEventsPerSession, app.logger)
		if err != nil {
			return fmt.Errorf("failed to open collaboration store: %w", err)
		}
		app.store = store
	} else {
		app.store = collab.NewMemoryStore(app.bus, cfg.Limits.MaxEventsPerSession, app.logger)
	}

	app.llm = llm.NewClient(app.logger,
		llm.WithCallTimeout(cfg.Limits.CallDeadline),
		llm.WithMaxInFlight(cfg.Limits.MaxInFlightPerSlot),
	)

	runner, err := sandbox.NewProcessRunner(cfg.Sandbox.Interpreter, cfg.Sandbox.WorkDir, app.logger)
	if err != nil {
		return fmt.Errorf("failed to init sandbox runner: %w", err)
	}
	app.runner = runner

	return nil
}

func (app *App) initDomainServices(cfg *config.Config) error {
	app.registry = service.NewRegistry(cfg.Limits.MaxSessions, app.logger)
	app.runtime = service.NewSlotRuntime(app.llm, app.store, app.logger)

	limits := sandbox.Limits{
		Timeout:   cfg.Sandbox.Timeout,
		MemoryMiB: cfg.Sandbox.MemoryMiB,
		MaxStdout: cfg.Sandbox.MaxStdout,
	}
	app.skills = skills.NewService(app.skillRepo, app.runner, limits, app.logger)
	app.campaigns = service.NewCampaignRegistry(cfg.Limits.MaxCampaigns, app.logger)

	app.engine = service.NewEngine(app.runtime, app.store, app.registry, app.skills, app.logger)
	return nil
}

func (app *App) initInterfaces(cfg *config.Config) error {
	if app.configPath != "" {
		watcher, err := config.NewWatcher(app.configPath, app.holder, app.logger, nil)
		if err != nil {
			app.logger.Warn("Config hot reload disabled", zap.Error(err))
		} else {
			app.watcher = watcher
		}
	}

	app.httpServer = httpServer.NewServer(cfg.Server, httpServer.Deps{
		Engine:     app.engine,
		Registry:   app.registry,
		Store:      app.store,
		Bus:        app.bus,
		Holder:     app.holder,
		ConfigPath: app.configPath,
		LLM:        app.llm,
		Skills:     app.skills,
		Campaigns:  app.campaigns,
		Version:    Version,
	}, app.logger)

	return nil
}

// Start brings the interfaces up.
func (app *App) Start(ctx context.Context) error {
	app.logger.Info("Starting application", zap.String("version", Version))

	if app.watcher != nil {
		app.watcher.Start(ctx)
	}
	if err := app.httpServer.Start(ctx); err != nil {
		return err
	}

	app.logger.Info("Application started")
	return nil
}

// Stop tears the application down: stop accepting requests, cancel any
// live sessions, then release the bus, store, and database.
func (app *App) Stop(ctx context.Context) error {
	app.logger.Info("Stopping application")

	if err := app.httpServer.Stop(ctx); err != nil {
		app.logger.Error("Failed to stop HTTP server", zap.Error(err))
	}

	app.registry.CancelAll()
	// Give canceled sessions a beat to write their final events.
	select {
	case <-ctx.Done():
	case <-time.After(500 * time.Millisecond):
	}

	if app.watcher != nil {
		if err := app.watcher.Close(); err != nil {
			app.logger.Error("Failed to close config watcher", zap.Error(err))
		}
	}

	app.bus.Close()
	if err := app.store.Close(); err != nil {
		app.logger.Error("Failed to close collaboration store", zap.Error(err))
	}

	if app.db != nil {
		sqlDB, err := app.db.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				app.logger.Error("Failed to close database connection", zap.Error(err))
			}
		}
	}

	app.logger.Info("Application stopped")
	return nil
}

// Engine exposes the collaboration engine for embedded use.
func (app *App) Engine() *service.Engine {
	return app.engine
}

// Holder exposes the live config snapshot holder.
func (app *App) Holder() *config.Holder {
	return app.holder
}
