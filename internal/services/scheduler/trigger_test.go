package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
)

type fakeSessionRunner struct {
	sessions int
	panics   bool
}

func (f *fakeSessionRunner) RunSession(ctx context.Context) models.SessionOutcome {
	if f.panics {
		panic("orchestrator blew up")
	}
	f.sessions++
	return models.SessionOutcome{SessionID: "s", Status: models.SessionSuccess}
}

func newTestTrigger(t *testing.T, runner SessionRunner, marks ...string) (*Trigger, *time.Time) {
	trigger, err := NewTrigger(&common.ScheduleConfig{
		Marks:        marks,
		PollInterval: 10 * time.Second,
		ResetMark:    "00:00",
		Cooldown:     time.Minute,
	}, runner, arbor.NewLogger())
	require.NoError(t, err)

	clock := time.Date(2026, 3, 16, 9, 0, 0, 0, time.UTC)
	trigger.now = func() time.Time { return clock }
	trigger.sleep = func(time.Duration) {}
	return trigger, &clock
}

func TestTrigger_FiresOncePerMarkPerDay(t *testing.T) {
	runner := &fakeSessionRunner{}
	trigger, clock := newTestTrigger(t, runner, "10:50")
	ctx := context.Background()

	// Before the mark: nothing.
	trigger.Tick(ctx)
	assert.Equal(t, 0, runner.sessions)

	// At the mark: fires.
	*clock = time.Date(2026, 3, 16, 10, 50, 0, 0, time.UTC)
	trigger.Tick(ctx)
	assert.Equal(t, 1, runner.sessions)

	// Polled again inside the same minute: no second fire.
	*clock = clock.Add(10 * time.Second)
	trigger.Tick(ctx)
	*clock = clock.Add(10 * time.Second)
	trigger.Tick(ctx)
	assert.Equal(t, 1, runner.sessions)

	// Later the same day: still once.
	*clock = time.Date(2026, 3, 16, 15, 50, 0, 0, time.UTC)
	trigger.Tick(ctx)
	assert.Equal(t, 1, runner.sessions)
}

func TestTrigger_MultipleMarksFireIndependently(t *testing.T) {
	runner := &fakeSessionRunner{}
	trigger, clock := newTestTrigger(t, runner, "10:50", "11:50", "12:50")
	ctx := context.Background()

	for _, at := range []time.Time{
		time.Date(2026, 3, 16, 10, 50, 0, 0, time.UTC),
		time.Date(2026, 3, 16, 11, 50, 0, 0, time.UTC),
		time.Date(2026, 3, 16, 12, 50, 0, 0, time.UTC),
	} {
		*clock = at
		trigger.Tick(ctx)
	}

	assert.Equal(t, 3, runner.sessions)
}

func TestTrigger_ResetClearsFiredSet(t *testing.T) {
	runner := &fakeSessionRunner{}
	trigger, clock := newTestTrigger(t, runner, "10:50")
	ctx := context.Background()

	*clock = time.Date(2026, 3, 16, 10, 50, 0, 0, time.UTC)
	trigger.Tick(ctx)
	assert.Equal(t, 1, runner.sessions)

	// Midnight crossing resets the fired set.
	*clock = time.Date(2026, 3, 17, 0, 0, 0, 0, time.UTC)
	trigger.Tick(ctx)
	assert.Empty(t, trigger.fired)

	// The same mark fires again the next day.
	*clock = time.Date(2026, 3, 17, 10, 50, 0, 0, time.UTC)
	trigger.Tick(ctx)
	assert.Equal(t, 2, runner.sessions)
}

func TestTrigger_MissedMarkNotBackfilled(t *testing.T) {
	runner := &fakeSessionRunner{}
	trigger, clock := newTestTrigger(t, runner, "10:50", "11:50")
	ctx := context.Background()

	// First observation is already past both marks: nothing fires.
	*clock = time.Date(2026, 3, 16, 14, 0, 0, 0, time.UTC)
	trigger.Tick(ctx)
	assert.Equal(t, 0, runner.sessions)
}

func TestTrigger_PanicCoolsDownAndContinues(t *testing.T) {
	runner := &fakeSessionRunner{panics: true}
	trigger, clock := newTestTrigger(t, runner, "10:50")
	ctx := context.Background()

	var coolDowns []time.Duration
	trigger.sleep = func(d time.Duration) { coolDowns = append(coolDowns, d) }

	*clock = time.Date(2026, 3, 16, 10, 50, 0, 0, time.UTC)
	require.NotPanics(t, func() { trigger.safeTick(ctx) })
	assert.Equal(t, []time.Duration{time.Minute}, coolDowns)

	// The mark was consumed before the panic: no double fire on recovery.
	runner.panics = false
	trigger.Tick(ctx)
	assert.Equal(t, 0, runner.sessions)
}

func TestNewTrigger_RejectsInvalidMarks(t *testing.T) {
	_, err := NewTrigger(&common.ScheduleConfig{
		Marks:     []string{"25:00"},
		ResetMark: "00:00",
	}, &fakeSessionRunner{}, arbor.NewLogger())
	assert.Error(t, err)

	_, err = NewTrigger(&common.ScheduleConfig{
		Marks:     []string{"10:50"},
		ResetMark: "midnight",
	}, &fakeSessionRunner{}, arbor.NewLogger())
	assert.Error(t, err)
}

func TestTrigger_RunStopsOnContextCancel(t *testing.T) {
	runner := &fakeSessionRunner{}
	trigger, _ := newTestTrigger(t, runner, "10:50")
	trigger.config.PollInterval = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		trigger.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("trigger loop did not stop on cancel")
	}
}
