package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
)

// Maintenance runs the retention cleanup on a cron schedule, off the trigger
// loop so a slow cleanup never delays a firing.
type Maintenance struct {
	config *common.RetentionConfig
	store  interfaces.ExecutionStore
	logger arbor.ILogger
	cron   *cron.Cron
}

// NewMaintenance creates the maintenance scheduler
func NewMaintenance(config *common.RetentionConfig, store interfaces.ExecutionStore, logger arbor.ILogger) *Maintenance {
	return &Maintenance{
		config: config,
		store:  store,
		logger: logger,
		cron:   cron.New(),
	}
}

// Start registers the cleanup job and starts the cron runner
func (m *Maintenance) Start() error {
	schedule := m.config.CleanupSchedule
	if schedule == "" {
		schedule = "30 2 * * *" // daily at 02:30
	}

	if _, err := m.cron.AddFunc(schedule, m.runCleanup); err != nil {
		return fmt.Errorf("failed to register cleanup job: %w", err)
	}

	m.cron.Start()
	m.logger.Info().
		Str("schedule", schedule).
		Int("days_to_keep", m.config.DaysToKeep).
		Msg("Retention maintenance started")
	return nil
}

// Stop halts the cron runner, waiting for a running cleanup to finish
func (m *Maintenance) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
	m.logger.Info().Msg("Retention maintenance stopped")
}

func (m *Maintenance) runCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	deleted, err := m.store.Cleanup(ctx, m.config.DaysToKeep)
	if err != nil {
		m.logger.Error().Err(err).Msg("Retention cleanup failed")
		return
	}

	m.logger.Info().Int64("deleted", deleted).Msg("Retention cleanup finished")
}
