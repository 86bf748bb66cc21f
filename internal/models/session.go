package models

import "time"

// SessionStatus is the terminal (or running) state of an execution session
type SessionStatus string

const (
	SessionRunning        SessionStatus = "running"
	SessionSuccess        SessionStatus = "success"
	SessionPartialSuccess SessionStatus = "partial_success"
	SessionError          SessionStatus = "error"
)

// Session is one firing of the scheduler: a full pass over the module list
type Session struct {
	ID                string        `json:"session_id"`
	StartedAt         time.Time     `json:"started_at"`
	FinishedAt        *time.Time    `json:"finished_at,omitempty"`
	Status            SessionStatus `json:"status"`
	TotalModules      int           `json:"total_modules"`
	SuccessfulModules int           `json:"successful_modules"`
	FailedModules     int           `json:"failed_modules"`
	DurationSeconds   *float64      `json:"duration_seconds,omitempty"`
	Notes             string        `json:"notes,omitempty"`
}

// SessionOutcome summarizes a completed session for the caller
type SessionOutcome struct {
	SessionID  string
	Status     SessionStatus
	Successful int
	Failed     int
}
