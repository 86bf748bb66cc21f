package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// Result is the terminal outcome of one module within a session
type Result struct {
	Module   string
	Status   models.ModuleStatus
	Attempts int
	Error    string
}

// Supervisor runs one module as an external process with a per-attempt
// timeout and a bounded number of retries. Attempt-level errors never escape:
// the module either succeeds or is recorded as failed, and the terminal side
// effects (store, metrics, alert) happen exactly once per module per session.
type Supervisor struct {
	store    interfaces.ExecutionStore
	metrics  interfaces.MetricsCollector
	notifier interfaces.Notifier
	config   *common.RunnerConfig
	logger   arbor.ILogger

	// sleep is swappable for tests
	sleep func(time.Duration)
}

// NewSupervisor creates a module supervisor
func NewSupervisor(store interfaces.ExecutionStore, metrics interfaces.MetricsCollector, notifier interfaces.Notifier, config *common.RunnerConfig, logger arbor.ILogger) *Supervisor {
	return &Supervisor{
		store:    store,
		metrics:  metrics,
		notifier: notifier,
		config:   config,
		logger:   logger,
		sleep:    time.Sleep,
	}
}

// Run executes the module with retries and records the terminal outcome.
// The returned result is terminal; it never surfaces an error to the caller.
func (s *Supervisor) Run(ctx context.Context, sessionID string, module common.ModuleConfig) Result {
	s.metrics.StartModule(module.Name)

	execID, err := s.store.StartModule(ctx, sessionID, module.Name)
	if err != nil {
		// The run proceeds; only this module's durable row is lost.
		s.logger.Warn().Err(err).Str("module", module.Name).Msg("Failed to open module execution record")
		execID = 0
	}

	var lastError, outputLog string

	for attempt := 1; attempt <= s.config.MaxRetries; attempt++ {
		s.logger.Info().
			Str("module", module.Name).
			Int("attempt", attempt).
			Int("max_attempts", s.config.MaxRetries).
			Msg("Executing module")

		output, attemptErr := s.runAttempt(ctx, module)

		if attemptErr == nil {
			s.logger.Info().Str("module", module.Name).Msg("Module completed successfully")

			s.metrics.FinishModule(module.Name, "success")
			s.finishRecord(ctx, execID, models.ModuleSuccess, attempt, "", output)

			// Succeeding after a failed attempt is a recovery worth announcing.
			if attempt > 1 {
				s.notifier.SendRecovery(module.Name)
			}

			return Result{Module: module.Name, Status: models.ModuleSuccess, Attempts: attempt}
		}

		lastError = attemptErr.Error()
		outputLog = output
		s.metrics.RecordError(module.Name, lastError)

		s.logger.Error().
			Str("module", module.Name).
			Int("attempt", attempt).
			Str("error", lastError).
			Msg("Module attempt failed")

		if attempt < s.config.MaxRetries {
			s.logger.Info().
				Str("module", module.Name).
				Str("delay", s.config.RetryDelay.String()).
				Msg("Retrying after delay")
			s.sleep(s.config.RetryDelay)
		}
	}

	s.logger.Error().
		Str("module", module.Name).
		Int("attempts", s.config.MaxRetries).
		Msg("Module failed after all attempts")

	if lastError == "" {
		lastError = "unknown error"
	}

	s.metrics.FinishModule(module.Name, "failed")
	s.finishRecord(ctx, execID, models.ModuleFailed, s.config.MaxRetries, lastError, outputLog)
	s.notifier.SendModuleFailure(module.Name, lastError, s.config.MaxRetries)

	return Result{
		Module:   module.Name,
		Status:   models.ModuleFailed,
		Attempts: s.config.MaxRetries,
		Error:    lastError,
	}
}

// runAttempt starts the process once with the configured timeout and returns
// its captured output and a classified error: timeout, nonzero exit, or
// invocation failure.
func (s *Supervisor) runAttempt(ctx context.Context, module common.ModuleConfig) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, s.config.ModuleTimeout)
	defer cancel()

	cmd := exec.CommandContext(attemptCtx, module.Command, module.Args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if attemptCtx.Err() == context.DeadlineExceeded {
		return s.truncate(stderr.String()), fmt.Errorf("timeout after %s", s.config.ModuleTimeout)
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			detail := strings.TrimSpace(stderr.String())
			if detail == "" {
				detail = "unknown error"
			}
			return s.truncate(stderr.String()),
				fmt.Errorf("exit code %d: %s", exitErr.ExitCode(), s.truncate(detail))
		}
		return "", fmt.Errorf("failed to start module process: %w", err)
	}

	return s.truncate(strings.TrimSpace(stdout.String())), nil
}

// finishRecord closes the module execution row; a zero id means the row was
// never opened and there is nothing to close.
func (s *Supervisor) finishRecord(ctx context.Context, execID int64, status models.ModuleStatus, attempts int, errorMessage, outputLog string) {
	if execID == 0 {
		return
	}
	if err := s.store.FinishModule(ctx, execID, status, attempts, errorMessage, outputLog); err != nil {
		s.logger.Warn().Err(err).Int64("exec_id", execID).Msg("Failed to close module execution record")
	}
}

// truncate bounds captured output to the configured limit
func (s *Supervisor) truncate(output string) string {
	limit := s.config.OutputLimit
	if limit <= 0 || len(output) <= limit {
		return output
	}
	return output[:limit] + "\n... (output truncated)"
}
