package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// ExecutionStorage implements SQLite storage for the execution history:
// sessions, module executions, downloaded files and performance metrics.
// A single mutex serializes write transactions so a concurrent reader
// (e.g. an external viewer process) never observes interleaved partial writes.
type ExecutionStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
	mu     sync.Mutex

	// now is swappable for tests
	now func() time.Time
}

// NewExecutionStorage creates a new execution storage instance
func NewExecutionStorage(db *SQLiteDB, logger arbor.ILogger) *ExecutionStorage {
	return &ExecutionStorage{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

var _ interfaces.ExecutionStore = (*ExecutionStorage)(nil)

// StartSession opens a session record with status running
func (s *ExecutionStorage) StartSession(ctx context.Context, sessionID string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO execution_sessions (session_id, started_at, status, created_at)
		VALUES (?, ?, ?, ?)`,
		sessionID, startedAt.Unix(), models.SessionRunning, s.now().Unix())
	if err != nil {
		return fmt.Errorf("failed to insert session %s: %w", sessionID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session start: %w", err)
	}

	s.logger.Debug().Str("session_id", sessionID).Msg("Session opened")
	return nil
}

// FinishSession closes a session record. Module counts are derived from the
// module execution rows so the stored totals always match the partition of
// rows by terminal status. Duration is omitted (NULL) if the start time is
// missing rather than recorded as zero.
func (s *ExecutionStorage) FinishSession(ctx context.Context, sessionID string, status models.SessionStatus, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var total, successful, failed int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0)
		FROM module_executions
		WHERE session_id = ?`, sessionID).Scan(&total, &successful, &failed)
	if err != nil {
		return fmt.Errorf("failed to derive module counts: %w", err)
	}

	finishedAt := s.now()

	var startedUnix sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT started_at FROM execution_sessions WHERE session_id = ?`, sessionID).Scan(&startedUnix)
	if err == sql.ErrNoRows {
		return fmt.Errorf("session %s not found", sessionID)
	}
	if err != nil {
		return fmt.Errorf("failed to read session start time: %w", err)
	}

	var duration interface{}
	if startedUnix.Valid {
		duration = finishedAt.Sub(time.Unix(startedUnix.Int64, 0)).Seconds()
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE execution_sessions
		SET finished_at = ?, status = ?, total_modules = ?,
		    successful_modules = ?, failed_modules = ?,
		    duration_seconds = ?, notes = ?
		WHERE session_id = ?`,
		finishedAt.Unix(), status, total, successful, failed, duration, notes, sessionID)
	if err != nil {
		return fmt.Errorf("failed to finish session %s: %w", sessionID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session finish: %w", err)
	}

	s.logger.Debug().
		Str("session_id", sessionID).
		Str("status", string(status)).
		Int("total", total).
		Int("successful", successful).
		Int("failed", failed).
		Msg("Session closed")
	return nil
}

// StartModule opens a module execution row and returns its row ID. The caller
// keeps the ID and finishes that exact row.
func (s *ExecutionStorage) StartModule(ctx context.Context, sessionID, moduleName string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO module_executions (session_id, module_name, started_at, status, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		sessionID, moduleName, s.now().Unix(), models.ModuleRunning, s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to insert module execution: %w", err)
	}

	execID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read module execution id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit module start: %w", err)
	}

	return execID, nil
}

// FinishModule closes the module execution row identified by execID
func (s *ExecutionStorage) FinishModule(ctx context.Context, execID int64, status models.ModuleStatus, attempts int, errorMessage, outputLog string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	finishedAt := s.now()

	var startedUnix sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT started_at FROM module_executions WHERE id = ?`, execID).Scan(&startedUnix)
	if err == sql.ErrNoRows {
		return fmt.Errorf("module execution %d not found", execID)
	}
	if err != nil {
		return fmt.Errorf("failed to read module start time: %w", err)
	}

	var duration interface{}
	if startedUnix.Valid {
		duration = finishedAt.Sub(time.Unix(startedUnix.Int64, 0)).Seconds()
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE module_executions
		SET finished_at = ?, status = ?, attempts = ?,
		    duration_seconds = ?, error_message = ?, output_log = ?
		WHERE id = ?`,
		finishedAt.Unix(), status, attempts, duration,
		nullIfEmpty(errorMessage), nullIfEmpty(outputLog), execID)
	if err != nil {
		return fmt.Errorf("failed to finish module execution %d: %w", execID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit module finish: %w", err)
	}

	return nil
}

// RecordDownload appends a downloaded-file record
func (s *ExecutionStorage) RecordDownload(ctx context.Context, file *models.DownloadedFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	validation := file.ValidationStatus
	if validation == "" {
		validation = "pending"
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO downloaded_files
		(id, session_id, module_name, file_name, file_path, file_size_bytes,
		 download_timestamp, validation_status, record_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		file.ID, file.SessionID, file.ModuleName, file.FileName,
		nullIfEmpty(file.FilePath), file.FileSizeBytes,
		file.DownloadedAt.Unix(), validation, file.RecordCount, s.now().Unix())
	if err != nil {
		return fmt.Errorf("failed to record download: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit download record: %w", err)
	}

	return nil
}

// RecordMetric appends a performance metric
func (s *ExecutionStorage) RecordMetric(ctx context.Context, metric *models.PerformanceMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ts := metric.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO performance_metrics (session_id, metric_name, metric_value, metric_type, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		metric.SessionID, metric.MetricName, metric.Value, metric.Type, ts.Unix(), s.now().Unix())
	if err != nil {
		return fmt.Errorf("failed to record metric: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit metric record: %w", err)
	}

	return nil
}

// GetRecentSessions returns up to limit sessions, most recent first
func (s *ExecutionStorage) GetRecentSessions(ctx context.Context, limit int) ([]*models.Session, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.DB().QueryContext(ctx, `
		SELECT session_id, started_at, finished_at, status, total_modules,
		       successful_modules, failed_modules, duration_seconds, notes
		FROM execution_sessions
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]*models.Session, 0, limit)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}

	return sessions, rows.Err()
}

// GetSessionModules returns the module executions of a session in start order
func (s *ExecutionStorage) GetSessionModules(ctx context.Context, sessionID string) ([]*models.ModuleExecution, error) {
	rows, err := s.db.DB().QueryContext(ctx, `
		SELECT id, session_id, module_name, started_at, finished_at, status,
		       attempts, downloads_attempted, downloads_successful,
		       duration_seconds, error_message, output_log
		FROM module_executions
		WHERE session_id = ?
		ORDER BY started_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query session modules: %w", err)
	}
	defer rows.Close()

	executions := []*models.ModuleExecution{}
	for rows.Next() {
		var (
			exec         models.ModuleExecution
			startedUnix  int64
			finishedUnix sql.NullInt64
			duration     sql.NullFloat64
			errMsg       sql.NullString
			outputLog    sql.NullString
		)
		err := rows.Scan(&exec.ID, &exec.SessionID, &exec.ModuleName, &startedUnix,
			&finishedUnix, &exec.Status, &exec.Attempts,
			&exec.DownloadsAttempted, &exec.DownloadsSuccessful,
			&duration, &errMsg, &outputLog)
		if err != nil {
			return nil, fmt.Errorf("failed to scan module execution: %w", err)
		}

		exec.StartedAt = time.Unix(startedUnix, 0)
		if finishedUnix.Valid {
			t := time.Unix(finishedUnix.Int64, 0)
			exec.FinishedAt = &t
		}
		if duration.Valid {
			d := duration.Float64
			exec.DurationSeconds = &d
		}
		exec.ErrorMessage = errMsg.String
		exec.OutputLog = outputLog.String

		executions = append(executions, &exec)
	}

	return executions, rows.Err()
}

// GetDailySummary aggregates one calendar date (UTC) of history
func (s *ExecutionStorage) GetDailySummary(ctx context.Context, date string) (*models.DailySummary, error) {
	if date == "" {
		date = s.now().UTC().Format("2006-01-02")
	}

	summary := &models.DailySummary{Date: date}

	var avgDuration sql.NullFloat64
	var totalModules, successfulModules sql.NullInt64
	err := s.db.DB().QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status IN ('partial_success', 'error') THEN 1 ELSE 0 END), 0),
		       AVG(duration_seconds),
		       SUM(total_modules),
		       SUM(successful_modules)
		FROM execution_sessions
		WHERE DATE(started_at, 'unixepoch') = ?`, date).Scan(
		&summary.Sessions.Total, &summary.Sessions.Successful, &summary.Sessions.Failed,
		&avgDuration, &totalModules, &successfulModules)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate sessions for %s: %w", date, err)
	}
	summary.Sessions.AvgDuration = avgDuration.Float64
	summary.Modules.TotalExecutions = int(totalModules.Int64)
	summary.Modules.SuccessfulExecutions = int(successfulModules.Int64)

	rows, err := s.db.DB().QueryContext(ctx, `
		SELECT module_name,
		       COUNT(*) as executions,
		       SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END) as failures,
		       COALESCE(AVG(duration_seconds), 0) as avg_duration
		FROM module_executions
		WHERE DATE(started_at, 'unixepoch') = ?
		GROUP BY module_name
		ORDER BY failures DESC, avg_duration DESC`, date)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate modules for %s: %w", date, err)
	}
	defer rows.Close()

	for rows.Next() {
		var rank models.ModuleFailureRank
		if err := rows.Scan(&rank.Name, &rank.Executions, &rank.Failures, &rank.AvgDuration); err != nil {
			return nil, fmt.Errorf("failed to scan module ranking: %w", err)
		}
		summary.Modules.ProblematicModules = append(summary.Modules.ProblematicModules, rank)
	}

	return summary, rows.Err()
}

// Cleanup deletes sessions older than daysToKeep together with their module,
// download and metric rows. Child rows are selected by membership in expired
// sessions, not by their own created_at: a session that straddles the cutoff
// (opened before it, rows written after) stays intact until the session itself
// expires, and is then purged whole without tripping the foreign keys.
// Returns the total number of rows deleted, for reporting only.
func (s *ExecutionStorage) Cleanup(ctx context.Context, daysToKeep int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().AddDate(0, 0, -daysToKeep).Truncate(24 * time.Hour).Unix()

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	steps := []struct {
		table string
		query string
	}{
		{"downloaded_files", `DELETE FROM downloaded_files
			WHERE session_id IN (SELECT session_id FROM execution_sessions WHERE created_at < ?)`},
		{"performance_metrics", `DELETE FROM performance_metrics
			WHERE session_id IN (SELECT session_id FROM execution_sessions WHERE created_at < ?)`},
		{"module_executions", `DELETE FROM module_executions
			WHERE session_id IN (SELECT session_id FROM execution_sessions WHERE created_at < ?)`},
		{"execution_sessions", `DELETE FROM execution_sessions WHERE created_at < ?`},
	}

	var deleted int64
	for _, step := range steps {
		result, err := tx.ExecContext(ctx, step.query, cutoff)
		if err != nil {
			return 0, fmt.Errorf("failed to clean %s: %w", step.table, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to count deletions in %s: %w", step.table, err)
		}
		deleted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit cleanup: %w", err)
	}

	if deleted > 0 {
		s.logger.Info().Int64("deleted", deleted).Int("days_kept", daysToKeep).Msg("Retention cleanup completed")
	}
	return deleted, nil
}

// scanSession scans one session row from a sessions query
func scanSession(rows *sql.Rows) (*models.Session, error) {
	var (
		session      models.Session
		startedUnix  int64
		finishedUnix sql.NullInt64
		duration     sql.NullFloat64
		notes        sql.NullString
	)
	err := rows.Scan(&session.ID, &startedUnix, &finishedUnix, &session.Status,
		&session.TotalModules, &session.SuccessfulModules, &session.FailedModules,
		&duration, &notes)
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	session.StartedAt = time.Unix(startedUnix, 0)
	if finishedUnix.Valid {
		t := time.Unix(finishedUnix.Int64, 0)
		session.FinishedAt = &t
	}
	if duration.Valid {
		d := duration.Float64
		session.DurationSeconds = &d
	}
	session.Notes = notes.String

	return &session, nil
}

// nullIfEmpty maps "" to NULL so optional text columns stay NULL when absent
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
