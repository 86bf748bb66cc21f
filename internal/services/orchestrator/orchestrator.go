package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/services/executor"
)

// ModuleRunner runs one module to a terminal outcome. Satisfied by the
// executor supervisor; narrowed here so tests can substitute outcomes.
type ModuleRunner interface {
	Run(ctx context.Context, sessionID string, module common.ModuleConfig) executor.Result
}

// Service drives one full session: opens the records, writes the shared
// synchronization timestamp, runs every module in declared order, aggregates
// the outcome and closes everything out. Modules never run in parallel;
// later modules read data written by earlier ones.
type Service struct {
	config   *common.Config
	store    interfaces.ExecutionStore
	metrics  interfaces.MetricsCollector
	notifier interfaces.Notifier
	runner   ModuleRunner
	logger   arbor.ILogger

	// now is swappable for tests
	now func() time.Time
}

// NewService creates a session orchestrator
func NewService(config *common.Config, store interfaces.ExecutionStore, metrics interfaces.MetricsCollector, notifier interfaces.Notifier, runner ModuleRunner, logger arbor.ILogger) *Service {
	return &Service{
		config:   config,
		store:    store,
		metrics:  metrics,
		notifier: notifier,
		runner:   runner,
		logger:   logger,
		now:      time.Now,
	}
}

// RunSession executes one complete session and returns its outcome. A panic
// anywhere outside the per-module scope marks the session as error and still
// closes the records; RunSession itself never panics.
func (s *Service) RunSession(ctx context.Context) (outcome models.SessionOutcome) {
	startedAt := s.now()
	sessionID := common.NewSessionID(startedAt)

	outcome = models.SessionOutcome{SessionID: sessionID, Status: models.SessionError}

	s.logger.Info().
		Str("session_id", sessionID).
		Int("modules", len(s.config.Modules)).
		Msg("Starting collection session")

	s.metrics.StartSession(sessionID)
	if err := s.store.StartSession(ctx, sessionID, startedAt); err != nil {
		s.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to open session record")
		s.metrics.FinishSession(string(models.SessionError))
		return outcome
	}

	closed := false
	closeSession := func(status models.SessionStatus, notes string) {
		if closed {
			return
		}
		closed = true
		if err := s.store.FinishSession(ctx, sessionID, status, notes); err != nil {
			s.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to close session record")
		}
		s.metrics.FinishSession(string(status))
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("session_id", sessionID).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Critical error during session")
			closeSession(models.SessionError, fmt.Sprintf("critical error: %v", r))
			outcome = models.SessionOutcome{SessionID: sessionID, Status: models.SessionError}
		}
	}()

	// The shared timestamp is the common "as-of" instant every module reads.
	// Without it the modules would disagree on the collection instant, so the
	// session aborts before any module runs.
	if err := s.writeSharedTimestamp(startedAt); err != nil {
		s.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to write shared timestamp, aborting session")
		closeSession(models.SessionError, fmt.Sprintf("failed to write shared timestamp: %v", err))
		return outcome
	}

	var results []executor.Result
	successful, failed := 0, 0

	for _, module := range s.config.Modules {
		result := s.runner.Run(ctx, sessionID, module)
		results = append(results, result)

		if result.Status == models.ModuleSuccess {
			successful++
		} else {
			failed++
			s.logger.Warn().
				Str("session_id", sessionID).
				Str("module", module.Name).
				Msg("Continuing with next module after failure")
		}
	}

	status := models.SessionSuccess
	notes := "all modules completed successfully"
	if failed > 0 {
		status = models.SessionPartialSuccess
		notes = fmt.Sprintf("%d modules failed", failed)
	}

	s.logger.Info().
		Str("session_id", sessionID).
		Str("status", string(status)).
		Int("successful", successful).
		Int("failed", failed).
		Msg("Collection session finished")

	// Digest compiled before the metrics flush clears the session counters.
	digest := s.compileDigest(results, successful, failed)

	closeSession(status, notes)

	s.notifier.SendDigest(digest)

	return models.SessionOutcome{
		SessionID:  sessionID,
		Status:     status,
		Successful: successful,
		Failed:     failed,
	}
}

// writeSharedTimestamp writes the session's "as-of" instant for downstream
// modules. Single writer, written once before any reader starts.
func (s *Service) writeSharedTimestamp(at time.Time) error {
	path := s.config.Sync.TimestampPath
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create timestamp directory: %w", err)
		}
	}

	value := at.Format("2006-01-02 15:04:05")
	if err := os.WriteFile(path, []byte(value), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	s.logger.Info().Str("timestamp", value).Str("path", path).Msg("Shared timestamp written")
	return nil
}

// compileDigest builds the per-module digest from supervisor outcomes and the
// session's download counters. The dispatcher decides whether it goes out.
func (s *Service) compileDigest(results []executor.Result, successful, failed int) interfaces.DigestStats {
	downloads := s.metrics.ModuleDownloadCounts()

	modules := make([]interfaces.DigestModule, 0, len(results))
	for _, result := range results {
		modules = append(modules, interfaces.DigestModule{
			Name:      result.Module,
			Success:   result.Status == models.ModuleSuccess,
			Downloads: downloads[result.Module],
		})
	}

	return interfaces.DigestStats{
		Modules:           modules,
		SuccessfulModules: successful,
		FailedModules:     failed,
	}
}
