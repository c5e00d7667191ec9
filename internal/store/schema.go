package store

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP,
    target_version TEXT NOT NULL,
    platform TEXT,
    strategy TEXT,
    outcome TEXT,
    report_path TEXT,
    dry_run BOOLEAN,
    forced BOOLEAN
);

CREATE TABLE IF NOT EXISTS command_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    phase TEXT NOT NULL,
    step TEXT NOT NULL,
    command TEXT NOT NULL,
    status TEXT NOT NULL,
    exit_code INTEGER,
    duration_ms INTEGER,
    timestamp TIMESTAMP NOT NULL,
    FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS snapshots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    phase TEXT NOT NULL,
    archive_path TEXT NOT NULL,
    file_count INTEGER,
    created_at TIMESTAMP NOT NULL,
    UNIQUE (run_id, phase),
    FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_events_run ON command_events(run_id);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON command_events(timestamp);
CREATE INDEX IF NOT EXISTS idx_snapshots_run ON snapshots(run_id);
`
