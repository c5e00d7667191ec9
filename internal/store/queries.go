package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Run operations

// InsertRun inserts a new run record at the start of an engine invocation.
func (s *Store) InsertRun(run *Run) error {
	query := `
		INSERT INTO runs
		(id, started_at, target_version, platform, strategy, outcome, report_path, dry_run, forced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		run.ID,
		run.StartedAt.UTC().Format(time.RFC3339),
		run.TargetVersion,
		run.Platform,
		run.Strategy,
		run.Outcome,
		run.ReportPath,
		run.DryRun,
		run.Forced,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}

	return nil
}

// FinishRun records the final classification of a run.
func (s *Store) FinishRun(runID, strategy, outcome, reportPath string, forced bool) error {
	query := `
		UPDATE runs
		SET finished_at = ?, strategy = ?, outcome = ?, report_path = ?, forced = ?
		WHERE id = ?
	`

	res, err := s.db.Exec(query,
		time.Now().UTC().Format(time.RFC3339),
		strategy,
		outcome,
		reportPath,
		forced,
		runID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", runID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run %s not found", runID)
	}

	return nil
}

// GetRun retrieves a run by id.
func (s *Store) GetRun(runID string) (*Run, error) {
	query := `
		SELECT id, started_at, finished_at, target_version, platform, strategy, outcome, report_path, dry_run, forced
		FROM runs
		WHERE id = ?
	`

	run, err := scanRun(s.db.QueryRow(query, runID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", runID, err)
	}

	return run, nil
}

// LatestRun returns the most recently started run, or an error when no runs exist.
func (s *Store) LatestRun() (*Run, error) {
	query := `
		SELECT id, started_at, finished_at, target_version, platform, strategy, outcome, report_path, dry_run, forced
		FROM runs
		ORDER BY started_at DESC
		LIMIT 1
	`

	run, err := scanRun(s.db.QueryRow(query))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no runs recorded")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}

	return run, nil
}

// ListRuns returns all runs, newest first.
func (s *Store) ListRuns() ([]*Run, error) {
	query := `
		SELECT id, started_at, finished_at, target_version, platform, strategy, outcome, report_path, dry_run, forced
		FROM runs
		ORDER BY started_at DESC
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var startedAt string
	var finishedAt, platform, strategy, outcome, reportPath sql.NullString

	err := row.Scan(
		&run.ID,
		&startedAt,
		&finishedAt,
		&run.TargetVersion,
		&platform,
		&strategy,
		&outcome,
		&reportPath,
		&run.DryRun,
		&run.Forced,
	)
	if err != nil {
		return nil, err
	}

	run.StartedAt, err = time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}
	if finishedAt.Valid && finishedAt.String != "" {
		run.FinishedAt, err = time.Parse(time.RFC3339, finishedAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse finished_at: %w", err)
		}
	}
	run.Platform = platform.String
	run.Strategy = strategy.String
	run.Outcome = outcome.String
	run.ReportPath = reportPath.String

	return &run, nil
}

// Command event operations

// InsertCommandEvent appends a command event to a run's audit trail.
func (s *Store) InsertCommandEvent(ev *CommandEvent) error {
	query := `
		INSERT INTO command_events
		(run_id, phase, step, command, status, exit_code, duration_ms, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		ev.RunID,
		ev.Phase,
		ev.Step,
		ev.Command,
		ev.Status,
		ev.ExitCode,
		ev.DurationMs,
		ev.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert command event for run %s: %w", ev.RunID, err)
	}

	return nil
}

// ListCommandEvents returns all command events for a run in insertion order.
func (s *Store) ListCommandEvents(runID string) ([]*CommandEvent, error) {
	query := `
		SELECT id, run_id, phase, step, command, status, exit_code, duration_ms, timestamp
		FROM command_events
		WHERE run_id = ?
		ORDER BY id ASC
	`

	rows, err := s.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list command events for run %s: %w", runID, err)
	}
	defer rows.Close()

	var events []*CommandEvent
	for rows.Next() {
		var ev CommandEvent
		var ts string
		if err := rows.Scan(
			&ev.ID,
			&ev.RunID,
			&ev.Phase,
			&ev.Step,
			&ev.Command,
			&ev.Status,
			&ev.ExitCode,
			&ev.DurationMs,
			&ts,
		); err != nil {
			return nil, fmt.Errorf("failed to scan command event: %w", err)
		}

		ev.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("failed to parse event timestamp: %w", err)
		}

		events = append(events, &ev)
	}

	return events, rows.Err()
}

// Snapshot operations

// InsertSnapshot records a captured snapshot archive. A rerun with the same
// run id and phase replaces the previous record, matching the deterministic
// archive naming.
func (s *Store) InsertSnapshot(rec *SnapshotRecord) (int64, error) {
	query := `
		INSERT OR REPLACE INTO snapshots
		(run_id, phase, archive_path, file_count, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	res, err := s.db.Exec(query,
		rec.RunID,
		rec.Phase,
		rec.ArchivePath,
		rec.FileCount,
		rec.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert snapshot for run %s: %w", rec.RunID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get snapshot id: %w", err)
	}

	return id, nil
}

// GetSnapshot retrieves the snapshot record for a run phase.
func (s *Store) GetSnapshot(runID, phase string) (*SnapshotRecord, error) {
	query := `
		SELECT id, run_id, phase, archive_path, file_count, created_at
		FROM snapshots
		WHERE run_id = ? AND phase = ?
	`

	var rec SnapshotRecord
	var createdAt string

	err := s.db.QueryRow(query, runID, phase).Scan(
		&rec.ID,
		&rec.RunID,
		&rec.Phase,
		&rec.ArchivePath,
		&rec.FileCount,
		&createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no %s snapshot for run %s", phase, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot for run %s: %w", runID, err)
	}

	rec.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse snapshot created_at: %w", err)
	}

	return &rec, nil
}

// ListSnapshots returns all snapshot records, newest first.
func (s *Store) ListSnapshots() ([]*SnapshotRecord, error) {
	query := `
		SELECT id, run_id, phase, archive_path, file_count, created_at
		FROM snapshots
		ORDER BY created_at DESC, id DESC
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var recs []*SnapshotRecord
	for rows.Next() {
		var rec SnapshotRecord
		var createdAt string
		if err := rows.Scan(
			&rec.ID,
			&rec.RunID,
			&rec.Phase,
			&rec.ArchivePath,
			&rec.FileCount,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}

		rec.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse snapshot created_at: %w", err)
		}

		recs = append(recs, &rec)
	}

	return recs, rows.Err()
}
