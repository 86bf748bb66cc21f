package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/services/alerts"
	"github.com/ternarybob/colligo/internal/services/executor"
	"github.com/ternarybob/colligo/internal/services/metrics"
	"github.com/ternarybob/colligo/internal/services/orchestrator"
	"github.com/ternarybob/colligo/internal/services/scheduler"
	"github.com/ternarybob/colligo/internal/storage/sqlite"
)

// App holds all application components. Every service is constructed here and
// passed down explicitly; there are no package-level singletons.
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	DB           *sqlite.SQLiteDB
	Store        interfaces.ExecutionStore
	Metrics      *metrics.Collector
	Notifier     *alerts.Dispatcher
	Supervisor   *executor.Supervisor
	Orchestrator *orchestrator.Service
	Trigger      *scheduler.Trigger
	Maintenance  *scheduler.Maintenance

	ctx       context.Context
	cancelCtx context.CancelFunc
}

// NewApp wires the full service graph from configuration
func NewApp(ctx context.Context, cfg *common.Config, logger arbor.ILogger) (*App, error) {
	appCtx, cancel := context.WithCancel(ctx)

	app := &App{
		Config:    cfg,
		Logger:    logger,
		ctx:       appCtx,
		cancelCtx: cancel,
	}

	db, err := sqlite.NewSQLiteDB(logger, &cfg.Storage.SQLite)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	app.DB = db
	app.Store = sqlite.NewExecutionStorage(db, logger)

	collector, err := metrics.NewCollector(logger, &cfg.Metrics)
	if err != nil {
		db.Close()
		cancel()
		return nil, fmt.Errorf("failed to initialize metrics collector: %w", err)
	}
	app.Metrics = collector

	notifier, err := alerts.NewDispatcher(logger, &cfg.Alerts)
	if err != nil {
		db.Close()
		cancel()
		return nil, fmt.Errorf("failed to initialize alert dispatcher: %w", err)
	}
	app.Notifier = notifier

	app.Supervisor = executor.NewSupervisor(app.Store, app.Metrics, app.Notifier, &cfg.Runner, logger)
	app.Orchestrator = orchestrator.NewService(cfg, app.Store, app.Metrics, app.Notifier, app.Supervisor, logger)

	trigger, err := scheduler.NewTrigger(&cfg.Schedule, app.Orchestrator, logger)
	if err != nil {
		db.Close()
		cancel()
		return nil, fmt.Errorf("failed to initialize clock trigger: %w", err)
	}
	app.Trigger = trigger

	app.Maintenance = scheduler.NewMaintenance(&cfg.Retention, app.Store, logger)

	logger.Info().
		Int("modules", len(cfg.Modules)).
		Int("marks", len(cfg.Schedule.Marks)).
		Str("database", cfg.Storage.SQLite.Path).
		Msg("Application initialization complete")

	return app, nil
}

// Run starts the maintenance scheduler and blocks on the clock trigger loop
// until the context is cancelled.
func (a *App) Run() error {
	if err := a.Maintenance.Start(); err != nil {
		return fmt.Errorf("failed to start maintenance: %w", err)
	}

	a.Trigger.Run(a.ctx)
	return nil
}

// Close tears the application down in reverse construction order
func (a *App) Close() error {
	if a.cancelCtx != nil {
		a.cancelCtx()
	}

	if a.Maintenance != nil {
		a.Maintenance.Stop()
	}

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close database")
		}
	}

	a.Logger.Info().Msg("Application shutdown complete")
	return nil
}
