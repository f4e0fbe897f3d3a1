package app

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/carbonwatch/carbonwatch/internal/log"
	"github.com/carbonwatch/carbonwatch/internal/managers"
	"github.com/carbonwatch/carbonwatch/pkg/config"
	"go.uber.org/zap"
)

// App represents the main application
type App struct {
	cfg         *config.ConfigData
	controllers []string
	logger      *zap.SugaredLogger
}

// New creates a new application instance
func New(cfg *config.ConfigData, logger *zap.SugaredLogger) *App {
	return &App{
		cfg:         cfg,
		controllers: managers.DefaultControllers,
		logger:      logger,
	}
}

// Run starts the application and blocks until shutdown
func (a *App) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Initialize the shared services: upstream client, store, hub, alert sinks, cache and poller
	services, err := managers.NewServices(ctx, &wg, a.cfg, a.logger)
	if err != nil {
		return err
	}

	// Initialize the controller manager
	cm, err := managers.NewControllerManager(ctx, &wg, services, a.controllers, a.logger)
	if err != nil {
		return err
	}
	err = cm.StartControllers()
	if err != nil {
		return err
	}

	log.Infof("Application started successfully; polling %s every %v", services.Upstream.BaseURL(), a.cfg.Polling.Interval)

	// Set up signal handling
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	// Wait for shutdown signal
	select {
	case <-sigs:
		log.Info("shutdown signal received, initiating graceful shutdown...")
	case <-ctx.Done():
		log.Info("context cancelled, shutting down...")
	}

	// Cancel context to signal all goroutines to stop
	cancel()

	// Wait for all workers to terminate
	log.Info("waiting for all workers to terminate...")
	wg.Wait()
	log.Info("shutdown complete")

	return nil
}
