package common

import (
	"time"

	"github.com/google/uuid"
)

// NewSessionID generates a time-derived session identifier.
// Format: 20060102_150405 — sortable and unique at one-session-at-a-time cadence.
func NewSessionID(now time.Time) string {
	return now.Format("20060102_150405")
}

// NewDownloadID generates a unique downloaded-file record ID with the "dl_" prefix
func NewDownloadID() string {
	return "dl_" + uuid.New().String()
}
