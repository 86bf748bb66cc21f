package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
)

// Collector keeps the current session's module counters in memory and appends
// a snapshot of the finished session to a rolling JSON history file. Derived
// rates are never stored; they are computed from the counters on read.
type Collector struct {
	path         string
	historyLimit int
	logger       arbor.ILogger

	mu      sync.Mutex
	session *SessionSnapshot
	modules map[string]*ModuleSnapshot

	// now is swappable for tests
	now func() time.Time
}

// NewCollector creates a metrics collector writing history to config.Path
func NewCollector(logger arbor.ILogger, config *common.MetricsConfig) (*Collector, error) {
	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create metrics directory: %w", err)
	}

	limit := config.HistoryLimit
	if limit <= 0 {
		limit = 100
	}

	return &Collector{
		path:         config.Path,
		historyLimit: limit,
		logger:       logger,
		modules:      make(map[string]*ModuleSnapshot),
		now:          time.Now,
	}, nil
}

var _ interfaces.MetricsCollector = (*Collector)(nil)

// StartSession resets the in-memory state for a new session. A generated
// session id is returned if the caller passes an empty one.
func (c *Collector) StartSession(sessionID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sessionID == "" {
		sessionID = common.NewSessionID(c.now())
	}

	c.session = &SessionSnapshot{
		SessionID:    sessionID,
		StartedAt:    c.now(),
		Modules:      []*ModuleSnapshot{},
		SystemStatus: "running",
	}
	c.modules = make(map[string]*ModuleSnapshot)

	return sessionID
}

// StartModule begins tracking a module within the current session
func (c *Collector) StartModule(moduleName string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return
	}

	snapshot := &ModuleSnapshot{
		ModuleName: moduleName,
		StartedAt:  c.now(),
		Status:     "running",
		Errors:     []string{},
		Warnings:   []string{},
	}
	c.modules[moduleName] = snapshot
	c.session.Modules = append(c.session.Modules, snapshot)
}

// FinishModule marks a tracked module completed with the given status
func (c *Collector) FinishModule(moduleName, status string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot, ok := c.modules[moduleName]
	if !ok {
		return
	}

	finished := c.now()
	snapshot.FinishedAt = &finished
	snapshot.Status = status
	snapshot.DurationSeconds = finished.Sub(snapshot.StartedAt).Seconds()
}

func (c *Collector) RecordDownloadAttempt(moduleName string) {
	c.mutate(moduleName, func(m *ModuleSnapshot) { m.DownloadsAttempted++ })
}

func (c *Collector) RecordDownloadSuccess(moduleName string) {
	c.mutate(moduleName, func(m *ModuleSnapshot) { m.DownloadsSuccessful++ })
}

func (c *Collector) RecordDownloadFailure(moduleName string) {
	c.mutate(moduleName, func(m *ModuleSnapshot) { m.DownloadsFailed++ })
}

func (c *Collector) RecordLoginAttempt(moduleName string) {
	c.mutate(moduleName, func(m *ModuleSnapshot) { m.LoginAttempts++ })
}

func (c *Collector) RecordError(moduleName, message string) {
	c.mutate(moduleName, func(m *ModuleSnapshot) { m.Errors = append(m.Errors, message) })
}

func (c *Collector) RecordWarning(moduleName, message string) {
	c.mutate(moduleName, func(m *ModuleSnapshot) { m.Warnings = append(m.Warnings, message) })
}

// mutate applies fn to a tracked module; unknown modules are ignored
func (c *Collector) mutate(moduleName string, fn func(*ModuleSnapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if snapshot, ok := c.modules[moduleName]; ok {
		fn(snapshot)
	}
}

// FinishSession stamps the session snapshot and appends it to the history
// file, trimming the file to the most recent historyLimit entries. After the
// flush the collector holds no session until StartSession is called again.
func (c *Collector) FinishSession(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return
	}

	c.session.TotalDuration = c.now().Sub(c.session.StartedAt).Seconds()
	c.session.SystemStatus = status

	if err := c.appendHistory(c.session); err != nil {
		c.logger.Warn().Err(err).Str("path", c.path).Msg("Failed to persist session metrics")
	}

	c.session = nil
	c.modules = make(map[string]*ModuleSnapshot)
}

// ModuleDownloadCounts returns successful download counts per module for the
// current session.
func (c *Collector) ModuleDownloadCounts() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	counts := make(map[string]int, len(c.modules))
	for name, snapshot := range c.modules {
		counts[name] = snapshot.DownloadsSuccessful
	}
	return counts
}

// Current returns a copy of the in-flight session snapshot, or nil
func (c *Collector) Current() *SessionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil
	}

	clone := *c.session
	clone.Modules = make([]*ModuleSnapshot, len(c.session.Modules))
	for i, m := range c.session.Modules {
		mc := *m
		clone.Modules[i] = &mc
	}
	return &clone
}

// History returns the persisted session snapshots started within the last
// days, oldest first. A missing or unreadable file yields an empty history.
func (c *Collector) History(days int) []*SessionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	history := c.loadHistory()
	cutoff := c.now().AddDate(0, 0, -days)

	filtered := make([]*SessionSnapshot, 0, len(history))
	for _, session := range history {
		if !session.StartedAt.Before(cutoff) {
			filtered = append(filtered, session)
		}
	}
	return filtered
}

// SummaryReport aggregates rates across the persisted sessions of the last
// days, including a top-5 ranking of modules by failure count.
func (c *Collector) SummaryReport(days int) *SummaryReport {
	historical := c.History(days)

	report := &SummaryReport{
		PeriodDays:  days,
		GeneratedAt: c.now(),
	}
	if len(historical) == 0 {
		return report
	}

	failures := map[string]int{}
	for _, session := range historical {
		report.TotalSessions++
		if session.OverallSuccessRate() == 100 {
			report.SuccessfulSessions++
		}
		report.TotalModulesRun += session.TotalModules()
		report.TotalSuccessfulModules += session.SuccessfulModules()
		report.TotalDownloads += session.TotalDownloads()
		report.SuccessfulDownloads += session.SuccessfulDownloads()

		for _, module := range session.Modules {
			if module.Status == "failed" {
				failures[module.ModuleName]++
			}
		}
	}

	report.SessionSuccessRate = rate(report.SuccessfulSessions, report.TotalSessions)
	report.ModuleSuccessRate = rate(report.TotalSuccessfulModules, report.TotalModulesRun)
	report.DownloadSuccessRate = rate(report.SuccessfulDownloads, report.TotalDownloads)

	for name, count := range failures {
		report.MostFailingModules = append(report.MostFailingModules,
			ModuleFailureCount{Name: name, Failures: count})
	}
	sort.Slice(report.MostFailingModules, func(i, j int) bool {
		a, b := report.MostFailingModules[i], report.MostFailingModules[j]
		if a.Failures != b.Failures {
			return a.Failures > b.Failures
		}
		return a.Name < b.Name
	})
	if len(report.MostFailingModules) > 5 {
		report.MostFailingModules = report.MostFailingModules[:5]
	}

	return report
}

// appendHistory loads the history file, appends the snapshot, trims to the
// limit and writes the file back via a temp-file rename. Single writer only.
func (c *Collector) appendHistory(snapshot *SessionSnapshot) error {
	history := c.loadHistory()
	history = append(history, snapshot)
	if len(history) > c.historyLimit {
		history = history[len(history)-c.historyLimit:]
	}

	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metrics history: %w", err)
	}

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write metrics history: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("failed to replace metrics history: %w", err)
	}

	return nil
}

// loadHistory reads the history file; corruption resets the history rather
// than blocking session finish.
func (c *Collector) loadHistory() []*SessionSnapshot {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil
	}

	var history []*SessionSnapshot
	if err := json.Unmarshal(data, &history); err != nil {
		c.logger.Warn().Err(err).Str("path", c.path).Msg("Metrics history unreadable, starting fresh")
		return nil
	}
	return history
}

func rate(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}
