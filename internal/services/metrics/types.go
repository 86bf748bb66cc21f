package metrics

import "time"

// ModuleSnapshot is the in-memory counter set for one module in the current
// session. Rates are derived from the counters, never stored.
type ModuleSnapshot struct {
	ModuleName          string     `json:"module_name"`
	StartedAt           time.Time  `json:"started_at"`
	FinishedAt          *time.Time `json:"finished_at,omitempty"`
	DurationSeconds     float64    `json:"duration_seconds"`
	Status              string     `json:"status"` // running, success, failed
	DownloadsAttempted  int        `json:"downloads_attempted"`
	DownloadsSuccessful int        `json:"downloads_successful"`
	DownloadsFailed     int        `json:"downloads_failed"`
	LoginAttempts       int        `json:"login_attempts"`
	Errors              []string   `json:"errors"`
	Warnings            []string   `json:"warnings"`
}

// SuccessRate returns the download success percentage for the module
func (m *ModuleSnapshot) SuccessRate() float64 {
	if m.DownloadsAttempted == 0 {
		return 0
	}
	return float64(m.DownloadsSuccessful) / float64(m.DownloadsAttempted) * 100
}

// SessionSnapshot is one session's full metrics view, as persisted to the
// rolling history file.
type SessionSnapshot struct {
	SessionID     string            `json:"session_id"`
	StartedAt     time.Time         `json:"started_at"`
	Modules       []*ModuleSnapshot `json:"modules"`
	TotalDuration float64           `json:"total_duration"`
	SystemStatus  string            `json:"system_status"`
}

func (s *SessionSnapshot) TotalModules() int {
	return len(s.Modules)
}

func (s *SessionSnapshot) SuccessfulModules() int {
	count := 0
	for _, m := range s.Modules {
		if m.Status == "success" {
			count++
		}
	}
	return count
}

func (s *SessionSnapshot) FailedModules() int {
	count := 0
	for _, m := range s.Modules {
		if m.Status == "failed" {
			count++
		}
	}
	return count
}

// OverallSuccessRate returns the percentage of modules that succeeded
func (s *SessionSnapshot) OverallSuccessRate() float64 {
	if len(s.Modules) == 0 {
		return 0
	}
	return float64(s.SuccessfulModules()) / float64(len(s.Modules)) * 100
}

func (s *SessionSnapshot) TotalDownloads() int {
	total := 0
	for _, m := range s.Modules {
		total += m.DownloadsAttempted
	}
	return total
}

func (s *SessionSnapshot) SuccessfulDownloads() int {
	total := 0
	for _, m := range s.Modules {
		total += m.DownloadsSuccessful
	}
	return total
}

// SummaryReport aggregates persisted sessions over a period
type SummaryReport struct {
	PeriodDays             int                  `json:"period_days"`
	TotalSessions          int                  `json:"total_sessions"`
	SuccessfulSessions     int                  `json:"successful_sessions"`
	SessionSuccessRate     float64              `json:"session_success_rate"`
	TotalModulesRun        int                  `json:"total_modules_run"`
	TotalSuccessfulModules int                  `json:"total_successful_modules"`
	ModuleSuccessRate      float64              `json:"module_success_rate"`
	TotalDownloads         int                  `json:"total_downloads"`
	SuccessfulDownloads    int                  `json:"successful_downloads"`
	DownloadSuccessRate    float64              `json:"download_success_rate"`
	MostFailingModules     []ModuleFailureCount `json:"most_failing_modules"`
	GeneratedAt            time.Time            `json:"generated_at"`
}

// ModuleFailureCount pairs a module with its failure count over a period
type ModuleFailureCount struct {
	Name     string `json:"name"`
	Failures int    `json:"failures"`
}
