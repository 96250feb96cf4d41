// Package internal wires the request analytics application together.
package internal

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"

	"requestanalytics/internal/config"
	"requestanalytics/internal/database"
	"requestanalytics/internal/jobs"
	"requestanalytics/internal/pkg/errreport"
)

// Version is stamped at build time and reported with captured errors.
var Version = "dev"

// Application wraps cartridge.Application with the request analytics components
type Application struct {
	*cartridge.Application
	DBManager  *database.DBManager // adds MySQL/PostgreSQL and table migration
	Components *Components
	Scheduler  *jobs.Scheduler
}

// NewApp creates a new application instance with default settings
func NewApp() (*Application, error) {
	return NewAppWithConfig(config.GetConfig())
}

// NewAppWithConfig creates a new application with the provided config
func NewAppWithConfig(cfg *config.Config) (*Application, error) {
	logger := cartridge.NewLogger(cfg, nil)

	if err := errreport.Init(cfg.SentryDSN, cfg.Environment, Version); err != nil {
		// Error reporting is optional; a bad DSN must not stop the server.
		logger.Warn("Error reporting disabled", slog.Any("error", err))
	}

	dbManager := database.NewDBManager(cfg, logger)
	if err := dbManager.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	comps, err := NewComponents(cfg, dbManager.GetConnection(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	var scheduled []jobs.Job
	if cfg.PruningEnabled {
		prune := jobs.NewPruneJob(comps.Store, logger, comps.Metrics, cfg.PruningDays, cfg.PruningBatchSize)
		scheduled = append(scheduled, jobs.NewPruneSchedule(prune, cfg.GetPruningInterval()))
	}
	scheduler := jobs.NewScheduler(logger, scheduled...)

	app, err := cartridge.NewApplication(cartridge.ApplicationOptions{
		Config:    cfg,
		Logger:    logger,
		DBManager: dbManager,
		RouteMountFunc: func(srv *cartridge.Server) {
			MountRoutes(srv, comps)
		},
		BackgroundWorkers: []cartridge.BackgroundWorker{comps, scheduler},
	})
	if err != nil {
		comps.Close()
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	return &Application{
		Application: app,
		DBManager:   dbManager,
		Components:  comps,
		Scheduler:   scheduler,
	}, nil
}

// FlushErrors waits for pending error reports before the process exits.
func FlushErrors() {
	errreport.Flush(2 * time.Second)
}
