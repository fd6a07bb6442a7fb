package repository

// Timestamps are unix milliseconds in both dialects so rows compare and
// round-trip identically.

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS threads (
		thread_id TEXT PRIMARY KEY,
		owner TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'idle',
		metadata TEXT,
		current_checkpoint_id TEXT,
		checkpoint_seq INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_threads_owner ON threads(owner, created_at)`,
	`CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL,
		assistant_id TEXT NOT NULL,
		owner TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		input TEXT,
		config TEXT,
		metadata TEXT,
		interrupt TEXT,
		resume TEXT,
		output TEXT,
		error TEXT,
		checkpoint_id TEXT,
		last_checkpoint_id TEXT,
		last_event_seq INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		started_at INTEGER,
		ended_at INTEGER,
		updated_at INTEGER NOT NULL,
		FOREIGN KEY (thread_id) REFERENCES threads(thread_id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_thread ON runs(thread_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status)`,
	`CREATE TABLE IF NOT EXISTS checkpoints (
		checkpoint_id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL,
		parent_id TEXT,
		seq INTEGER NOT NULL,
		run_id TEXT,
		state TEXT NOT NULL,
		writes TEXT,
		metadata TEXT,
		created_at INTEGER NOT NULL,
		UNIQUE (thread_id, seq),
		FOREIGN KEY (thread_id) REFERENCES threads(thread_id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS thread_locks (
		thread_id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		expires_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS run_events (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		event TEXT NOT NULL,
		data TEXT,
		created_at INTEGER NOT NULL,
		UNIQUE (run_id, seq),
		FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_run_events_created ON run_events(created_at)`,
	`CREATE TABLE IF NOT EXISTS stream_events (
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		event TEXT NOT NULL,
		data TEXT,
		ts INTEGER NOT NULL,
		PRIMARY KEY (run_id, seq),
		FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stream_events_ts ON stream_events(ts)`,
	`CREATE TABLE IF NOT EXISTS assistants (
		assistant_id TEXT PRIMARY KEY,
		graph_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT,
		owner TEXT NOT NULL DEFAULT '',
		config TEXT,
		metadata TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_assistants_owner ON assistants(owner, created_at)`,
	`CREATE TABLE IF NOT EXISTS assistant_versions (
		assistant_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		graph_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT,
		config TEXT,
		metadata TEXT,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (assistant_id, version),
		FOREIGN KEY (assistant_id) REFERENCES assistants(assistant_id) ON DELETE CASCADE
	)`,
}

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS threads (
		thread_id TEXT PRIMARY KEY,
		owner TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'idle',
		metadata JSONB,
		current_checkpoint_id TEXT,
		checkpoint_seq BIGINT NOT NULL DEFAULT 0,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_threads_owner ON threads(owner, created_at)`,
	`CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL REFERENCES threads(thread_id) ON DELETE CASCADE,
		assistant_id TEXT NOT NULL,
		owner TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		input JSONB,
		config JSONB,
		metadata JSONB,
		interrupt JSONB,
		resume JSONB,
		output JSONB,
		error JSONB,
		checkpoint_id TEXT,
		last_checkpoint_id TEXT,
		last_event_seq BIGINT NOT NULL DEFAULT 0,
		created_at BIGINT NOT NULL,
		started_at BIGINT,
		ended_at BIGINT,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_thread ON runs(thread_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status)`,
	`CREATE TABLE IF NOT EXISTS checkpoints (
		checkpoint_id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL REFERENCES threads(thread_id) ON DELETE CASCADE,
		parent_id TEXT,
		seq BIGINT NOT NULL,
		run_id TEXT,
		state JSONB NOT NULL,
		writes JSONB,
		metadata JSONB,
		created_at BIGINT NOT NULL,
		UNIQUE (thread_id, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS thread_locks (
		thread_id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		expires_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS run_events (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
		seq BIGINT NOT NULL,
		event TEXT NOT NULL,
		data JSONB,
		created_at BIGINT NOT NULL,
		UNIQUE (run_id, seq)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_run_events_created ON run_events(created_at)`,
	`CREATE TABLE IF NOT EXISTS stream_events (
		run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
		seq BIGINT NOT NULL,
		event TEXT NOT NULL,
		data JSONB,
		ts BIGINT NOT NULL,
		PRIMARY KEY (run_id, seq)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stream_events_ts ON stream_events(ts)`,
	`CREATE TABLE IF NOT EXISTS assistants (
		assistant_id TEXT PRIMARY KEY,
		graph_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT,
		owner TEXT NOT NULL DEFAULT '',
		config JSONB,
		metadata JSONB,
		version INTEGER NOT NULL DEFAULT 1,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_assistants_owner ON assistants(owner, created_at)`,
	`CREATE TABLE IF NOT EXISTS assistant_versions (
		assistant_id TEXT NOT NULL REFERENCES assistants(assistant_id) ON DELETE CASCADE,
		version INTEGER NOT NULL,
		graph_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT,
		config JSONB,
		metadata JSONB,
		created_at BIGINT NOT NULL,
		PRIMARY KEY (assistant_id, version)
	)`,
}
