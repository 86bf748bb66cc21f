package models

import "time"

// ModuleStatus is the state of a single module execution within a session
type ModuleStatus string

const (
	ModuleRunning ModuleStatus = "running"
	ModuleSuccess ModuleStatus = "success"
	ModuleFailed  ModuleStatus = "failed"
)

// ModuleExecution is one attempt-sequence of one module within one session.
// One row per module per session; the supervisor holds the row ID it created
// and finishes that exact row.
type ModuleExecution struct {
	ID                  int64        `json:"id"`
	SessionID           string       `json:"session_id"`
	ModuleName          string       `json:"module_name"`
	StartedAt           time.Time    `json:"started_at"`
	FinishedAt          *time.Time   `json:"finished_at,omitempty"`
	Status              ModuleStatus `json:"status"`
	Attempts            int          `json:"attempts"`
	DownloadsAttempted  int          `json:"downloads_attempted"`
	DownloadsSuccessful int          `json:"downloads_successful"`
	DurationSeconds     *float64     `json:"duration_seconds,omitempty"`
	ErrorMessage        string       `json:"error_message,omitempty"`
	OutputLog           string       `json:"output_log,omitempty"`
}

// DownloadedFile records one artifact reported by a module instrumentation.
// Never mutated after creation.
type DownloadedFile struct {
	ID               string    `json:"id"`
	SessionID        string    `json:"session_id"`
	ModuleName       string    `json:"module_name"`
	FileName         string    `json:"file_name"`
	FilePath         string    `json:"file_path,omitempty"`
	FileSizeBytes    int64     `json:"file_size_bytes"`
	DownloadedAt     time.Time `json:"download_timestamp"`
	ValidationStatus string    `json:"validation_status"`
	RecordCount      int       `json:"record_count"`
}

// PerformanceMetric is an append-only measurement tied to a session
type PerformanceMetric struct {
	SessionID  string    `json:"session_id"`
	MetricName string    `json:"metric_name"`
	Value      float64   `json:"metric_value"`
	Type       string    `json:"metric_type"`
	Timestamp  time.Time `json:"timestamp"`
}
