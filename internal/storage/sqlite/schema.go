package sqlite

const schemaSQL = `
-- Execution sessions: one row per scheduler firing
CREATE TABLE IF NOT EXISTS execution_sessions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT UNIQUE NOT NULL,
	started_at INTEGER NOT NULL,
	finished_at INTEGER,
	status TEXT NOT NULL DEFAULT 'running',
	total_modules INTEGER DEFAULT 0,
	successful_modules INTEGER DEFAULT 0,
	failed_modules INTEGER DEFAULT 0,
	duration_seconds REAL,
	notes TEXT,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_started ON execution_sessions(started_at DESC);

-- Module executions: one row per module per session
CREATE TABLE IF NOT EXISTS module_executions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	module_name TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	finished_at INTEGER,
	status TEXT NOT NULL DEFAULT 'running',
	attempts INTEGER DEFAULT 1,
	downloads_attempted INTEGER DEFAULT 0,
	downloads_successful INTEGER DEFAULT 0,
	duration_seconds REAL,
	error_message TEXT,
	output_log TEXT,
	created_at INTEGER NOT NULL,
	FOREIGN KEY (session_id) REFERENCES execution_sessions (session_id)
);

CREATE INDEX IF NOT EXISTS idx_modules_session ON module_executions(session_id, started_at);
CREATE INDEX IF NOT EXISTS idx_modules_started ON module_executions(started_at);

-- Downloaded files reported by module instrumentation, append-only
CREATE TABLE IF NOT EXISTS downloaded_files (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	module_name TEXT NOT NULL,
	file_name TEXT NOT NULL,
	file_path TEXT,
	file_size_bytes INTEGER,
	download_timestamp INTEGER NOT NULL,
	validation_status TEXT DEFAULT 'pending',
	record_count INTEGER,
	created_at INTEGER NOT NULL,
	FOREIGN KEY (session_id) REFERENCES execution_sessions (session_id)
);

CREATE INDEX IF NOT EXISTS idx_downloads_session ON downloaded_files(session_id);

-- Performance metrics, append-only
CREATE TABLE IF NOT EXISTS performance_metrics (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	metric_name TEXT NOT NULL,
	metric_value REAL NOT NULL,
	metric_type TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	FOREIGN KEY (session_id) REFERENCES execution_sessions (session_id)
);
`
