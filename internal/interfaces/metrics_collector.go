package interfaces

// MetricsCollector aggregates the current session's module metrics in memory
// and flushes a snapshot to a rolling JSON history when the session ends.
// Every mutation is a no-op if the referenced session or module has not been
// started; callers never need to guard.
type MetricsCollector interface {
	StartSession(sessionID string) string
	StartModule(moduleName string)
	FinishModule(moduleName, status string)
	FinishSession(status string)

	RecordDownloadAttempt(moduleName string)
	RecordDownloadSuccess(moduleName string)
	RecordDownloadFailure(moduleName string)
	RecordLoginAttempt(moduleName string)
	RecordError(moduleName, message string)
	RecordWarning(moduleName, message string)

	// ModuleDownloadCounts returns the successful download count per module
	// for the current session, for digest compilation. Empty when no session
	// is in flight.
	ModuleDownloadCounts() map[string]int
}
