package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

type fakeStore struct {
	interfaces.ExecutionStore
	startErr    error
	nextID      int64
	startCalls  int
	finishCalls []finishCall
}

type finishCall struct {
	execID   int64
	status   models.ModuleStatus
	attempts int
	errMsg   string
	output   string
}

func (f *fakeStore) StartModule(ctx context.Context, sessionID, moduleName string) (int64, error) {
	f.startCalls++
	if f.startErr != nil {
		return 0, f.startErr
	}
	f.nextID++
	return f.nextID, nil
}

func (f *fakeStore) FinishModule(ctx context.Context, execID int64, status models.ModuleStatus, attempts int, errorMessage, outputLog string) error {
	f.finishCalls = append(f.finishCalls, finishCall{execID, status, attempts, errorMessage, outputLog})
	return nil
}

type fakeMetrics struct {
	interfaces.MetricsCollector
	started  []string
	finished map[string]string
	errors   []string
}

func (f *fakeMetrics) StartModule(name string) { f.started = append(f.started, name) }

func (f *fakeMetrics) FinishModule(name, status string) {
	if f.finished == nil {
		f.finished = map[string]string{}
	}
	f.finished[name] = status
}

func (f *fakeMetrics) RecordError(name, message string) { f.errors = append(f.errors, message) }

type fakeNotifier struct {
	failures   []string
	recoveries []string
}

func (f *fakeNotifier) SendModuleFailure(module, errMessage string, attempts int) {
	f.failures = append(f.failures, module)
}

func (f *fakeNotifier) SendRecovery(module string) { f.recoveries = append(f.recoveries, module) }

func (f *fakeNotifier) SendDigest(stats interfaces.DigestStats) {}

func newTestSupervisor(store *fakeStore, metrics *fakeMetrics, notifier *fakeNotifier, config *common.RunnerConfig) *Supervisor {
	s := NewSupervisor(store, metrics, notifier, config, arbor.NewLogger())
	s.sleep = func(time.Duration) {}
	return s
}

func testRunnerConfig() *common.RunnerConfig {
	return &common.RunnerConfig{
		MaxRetries:    3,
		RetryDelay:    time.Minute, // never actually slept in tests
		ModuleTimeout: 30 * time.Second,
		OutputLimit:   16 * 1024,
	}
}

func requireShell(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("tests use sh")
	}
}

func TestSupervisor_SuccessFirstAttempt(t *testing.T) {
	requireShell(t)
	store := &fakeStore{}
	metrics := &fakeMetrics{}
	notifier := &fakeNotifier{}
	s := newTestSupervisor(store, metrics, notifier, testRunnerConfig())

	result := s.Run(context.Background(), "s1", common.ModuleConfig{
		Name:    "asx_shares",
		Command: "sh",
		Args:    []string{"-c", "echo collected 42 rows"},
	})

	assert.Equal(t, models.ModuleSuccess, result.Status)
	assert.Equal(t, 1, result.Attempts)
	assert.Empty(t, result.Error)

	require.Len(t, store.finishCalls, 1)
	assert.Equal(t, models.ModuleSuccess, store.finishCalls[0].status)
	assert.Equal(t, 1, store.finishCalls[0].attempts)
	assert.Equal(t, "collected 42 rows", store.finishCalls[0].output)

	assert.Equal(t, "success", metrics.finished["asx_shares"])
	assert.Empty(t, notifier.failures)
	assert.Empty(t, notifier.recoveries, "first-attempt success is not a recovery")
}

func TestSupervisor_FailureExhaustsRetries(t *testing.T) {
	requireShell(t)
	store := &fakeStore{}
	metrics := &fakeMetrics{}
	notifier := &fakeNotifier{}
	s := newTestSupervisor(store, metrics, notifier, testRunnerConfig())

	result := s.Run(context.Background(), "s1", common.ModuleConfig{
		Name:    "asx_options",
		Command: "sh",
		Args:    []string{"-c", "echo fetch refused >&2; exit 7"},
	})

	assert.Equal(t, models.ModuleFailed, result.Status)
	assert.Equal(t, 3, result.Attempts)
	assert.Contains(t, result.Error, "exit code 7")
	assert.Contains(t, result.Error, "fetch refused")

	// Terminal side effects exactly once.
	require.Len(t, store.finishCalls, 1)
	assert.Equal(t, models.ModuleFailed, store.finishCalls[0].status)
	assert.Equal(t, 3, store.finishCalls[0].attempts)
	assert.Equal(t, "failed", metrics.finished["asx_options"])
	require.Len(t, notifier.failures, 1)
	assert.Equal(t, "asx_options", notifier.failures[0])
	assert.Empty(t, notifier.recoveries)

	// One error recorded per failed attempt.
	assert.Len(t, metrics.errors, 3)
}

func TestSupervisor_RecoveryAfterFailedAttempt(t *testing.T) {
	requireShell(t)
	store := &fakeStore{}
	metrics := &fakeMetrics{}
	notifier := &fakeNotifier{}
	s := newTestSupervisor(store, metrics, notifier, testRunnerConfig())

	// Fails once, then succeeds: a sentinel file flips the behavior.
	sentinel := t.TempDir() + "/ran_once"
	result := s.Run(context.Background(), "s1", common.ModuleConfig{
		Name:    "asx_shares",
		Command: "sh",
		Args:    []string{"-c", fmt.Sprintf("test -f %s || { touch %s; exit 1; }", sentinel, sentinel)},
	})

	assert.Equal(t, models.ModuleSuccess, result.Status)
	assert.Equal(t, 2, result.Attempts)

	require.Len(t, notifier.recoveries, 1)
	assert.Equal(t, "asx_shares", notifier.recoveries[0])
	assert.Empty(t, notifier.failures)

	require.Len(t, store.finishCalls, 1)
	assert.Equal(t, 2, store.finishCalls[0].attempts)
}

func TestSupervisor_TimeoutClassified(t *testing.T) {
	requireShell(t)
	store := &fakeStore{}
	metrics := &fakeMetrics{}
	notifier := &fakeNotifier{}
	config := testRunnerConfig()
	config.MaxRetries = 1
	config.ModuleTimeout = 100 * time.Millisecond
	s := newTestSupervisor(store, metrics, notifier, config)

	result := s.Run(context.Background(), "s1", common.ModuleConfig{
		Name:    "slow_module",
		Command: "sh",
		Args:    []string{"-c", "sleep 5"},
	})

	assert.Equal(t, models.ModuleFailed, result.Status)
	assert.Contains(t, result.Error, "timeout after")
}

func TestSupervisor_SpawnErrorClassified(t *testing.T) {
	store := &fakeStore{}
	metrics := &fakeMetrics{}
	notifier := &fakeNotifier{}
	config := testRunnerConfig()
	config.MaxRetries = 1
	s := newTestSupervisor(store, metrics, notifier, config)

	result := s.Run(context.Background(), "s1", common.ModuleConfig{
		Name:    "ghost_module",
		Command: "/nonexistent/binary",
	})

	assert.Equal(t, models.ModuleFailed, result.Status)
	assert.Contains(t, result.Error, "failed to start module process")
	require.Len(t, notifier.failures, 1)
}

func TestSupervisor_OutputTruncated(t *testing.T) {
	requireShell(t)
	store := &fakeStore{}
	metrics := &fakeMetrics{}
	notifier := &fakeNotifier{}
	config := testRunnerConfig()
	config.OutputLimit = 64
	s := newTestSupervisor(store, metrics, notifier, config)

	result := s.Run(context.Background(), "s1", common.ModuleConfig{
		Name:    "chatty_module",
		Command: "sh",
		Args:    []string{"-c", "yes x | head -n 1000"},
	})

	assert.Equal(t, models.ModuleSuccess, result.Status)
	require.Len(t, store.finishCalls, 1)
	assert.LessOrEqual(t, len(store.finishCalls[0].output), 64+len("\n... (output truncated)"))
	assert.True(t, strings.HasSuffix(store.finishCalls[0].output, "(output truncated)"))
}

func TestSupervisor_StoreFailureDoesNotBlockRun(t *testing.T) {
	requireShell(t)
	store := &fakeStore{startErr: errors.New("database is locked")}
	metrics := &fakeMetrics{}
	notifier := &fakeNotifier{}
	s := newTestSupervisor(store, metrics, notifier, testRunnerConfig())

	result := s.Run(context.Background(), "s1", common.ModuleConfig{
		Name:    "asx_shares",
		Command: "sh",
		Args:    []string{"-c", "true"},
	})

	assert.Equal(t, models.ModuleSuccess, result.Status)
	assert.Empty(t, store.finishCalls, "no row was opened so none is closed")
	assert.Equal(t, "success", metrics.finished["asx_shares"])
}
