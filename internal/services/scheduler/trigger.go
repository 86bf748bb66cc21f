package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
)

// SessionRunner runs one full collection session. Satisfied by the
// orchestrator service.
type SessionRunner interface {
	RunSession(ctx context.Context) models.SessionOutcome
}

// Trigger is the clock-driven control loop. It samples the wall clock at the
// configured poll interval and fires each configured HH:MM mark exactly once
// per calendar day. The fired set is owned here and cleared by an explicit
// reset transition when the clock reaches the reset mark. A mark missed while
// the process was down is skipped for that day, never backfilled.
type Trigger struct {
	config    *common.ScheduleConfig
	runner    SessionRunner
	logger    arbor.ILogger
	resetMark string

	marks map[string]bool
	fired map[string]bool

	// now and sleep are swappable for tests
	now   func() time.Time
	sleep func(time.Duration)
}

// NewTrigger validates the configured marks and returns the trigger
func NewTrigger(config *common.ScheduleConfig, runner SessionRunner, logger arbor.ILogger) (*Trigger, error) {
	marks := make(map[string]bool, len(config.Marks))
	for _, mark := range config.Marks {
		normalized, err := common.ParseMark(mark)
		if err != nil {
			return nil, fmt.Errorf("invalid schedule mark %q: %w", mark, err)
		}
		marks[normalized] = true
	}
	resetMark, err := common.ParseMark(config.ResetMark)
	if err != nil {
		return nil, fmt.Errorf("invalid reset mark %q: %w", config.ResetMark, err)
	}

	return &Trigger{
		config:    config,
		resetMark: resetMark,
		runner:    runner,
		logger:    logger,
		marks:     marks,
		fired:     make(map[string]bool),
		now:       time.Now,
		sleep:     time.Sleep,
	}, nil
}

// Run polls until the context is cancelled. Firing is synchronous: the loop
// blocks on the session before the next poll. A panic in an iteration is
// logged and followed by the configured cooldown; the loop never exits on a
// bad iteration.
func (t *Trigger) Run(ctx context.Context) {
	t.logger.Info().
		Strs("marks", t.config.Marks).
		Str("poll_interval", t.config.PollInterval.String()).
		Msg("Clock trigger started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info().Msg("Clock trigger stopped")
			return
		default:
		}

		t.safeTick(ctx)

		select {
		case <-ctx.Done():
			t.logger.Info().Msg("Clock trigger stopped")
			return
		case <-time.After(t.config.PollInterval):
		}
	}
}

// safeTick runs one poll iteration behind a recover
func (t *Trigger) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Str("cooldown", t.config.Cooldown.String()).
				Msg("Trigger iteration panicked, cooling down")
			t.sleep(t.config.Cooldown)
		}
	}()

	t.Tick(ctx)
}

// Tick evaluates one wall-clock sample: the reset transition first, then the
// fire check at minute resolution.
func (t *Trigger) Tick(ctx context.Context) {
	current := t.now().Format("15:04")

	if current == t.resetMark && len(t.fired) > 0 {
		t.logger.Info().Msg("New day, clearing fired marks")
		t.fired = make(map[string]bool)
	}

	if !t.marks[current] || t.fired[current] {
		return
	}

	t.logger.Info().Str("mark", current).Msg("Scheduled mark reached, starting session")

	// Marked before the run: a session that dies mid-flight must not make
	// the same mark fire twice in one day.
	t.fired[current] = true

	outcome := t.runner.RunSession(ctx)

	t.logger.Info().
		Str("mark", current).
		Str("session_id", outcome.SessionID).
		Str("status", string(outcome.Status)).
		Msg("Scheduled session completed")
}
