package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/colligo/internal/models"
)

// ExecutionStore is the durable record of sessions, module executions,
// downloaded files and performance metrics. All writes are serialized and
// transactional; implementations must be safe for concurrent callers.
type ExecutionStore interface {
	// StartSession opens a session record with status running
	StartSession(ctx context.Context, sessionID string, startedAt time.Time) error

	// FinishSession closes a session: finished_at, status, notes, duration and
	// module counts derived from the module execution rows for the session.
	FinishSession(ctx context.Context, sessionID string, status models.SessionStatus, notes string) error

	// StartModule opens a module execution row and returns its row ID.
	// The caller finishes that exact row, making duplicate-start rows
	// impossible to target by accident.
	StartModule(ctx context.Context, sessionID, moduleName string) (int64, error)

	// FinishModule closes the module execution row identified by execID
	FinishModule(ctx context.Context, execID int64, status models.ModuleStatus, attempts int, errorMessage, outputLog string) error

	// RecordDownload appends a downloaded-file record
	RecordDownload(ctx context.Context, file *models.DownloadedFile) error

	// RecordMetric appends a performance metric
	RecordMetric(ctx context.Context, metric *models.PerformanceMetric) error

	// GetRecentSessions returns up to limit sessions, most recent first
	GetRecentSessions(ctx context.Context, limit int) ([]*models.Session, error)

	// GetSessionModules returns the module executions of a session in start order
	GetSessionModules(ctx context.Context, sessionID string) ([]*models.ModuleExecution, error)

	// GetDailySummary aggregates sessions and module executions for a calendar date ("2006-01-02")
	GetDailySummary(ctx context.Context, date string) (*models.DailySummary, error)

	// Cleanup deletes rows older than daysToKeep in all four tables and
	// returns the total number of rows removed.
	Cleanup(ctx context.Context, daysToKeep int) (int64, error)
}
