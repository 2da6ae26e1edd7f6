package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/gliksbot/dexter/internal/application"
	"github.com/gliksbot/dexter/internal/infrastructure/config"
	"github.com/gliksbot/dexter/internal/infrastructure/logger"
)

const appName = "dexter"

// Exit codes follow sysexits: 64 usage/config, 69 service (bind), 70 internal.
const (
	exitOK       = 0
	exitConfig   = 64
	exitService  = 69
	exitInternal = 70
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to config file (default: search ~/.dexter, ./config, .)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", appName, application.Version)
		return exitOK
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return exitConfig
	}

	log, err := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: cfg.Log.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return exitConfig
	}
	defer log.Sync()

	log.Info("Starting dexter",
		zap.String("version", application.Version),
		zap.Int("slots", len(cfg.Slots)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := application.NewApp(cfg, *configPath, log)
	if err != nil {
		log.Error("Failed to initialize application", zap.Error(err))
		return exitInternal
	}

	if err := app.Start(ctx); err != nil {
		log.Error("Failed to start application", zap.Error(err))
		return exitService
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		log.Error("Shutdown finished with errors", zap.Error(err))
		return exitInternal
	}
	return exitOK
}
