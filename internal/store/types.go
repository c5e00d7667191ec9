package store

import "time"

// Run represents a single upgrade engine invocation.
type Run struct {
	ID            string
	StartedAt     time.Time
	FinishedAt    time.Time
	TargetVersion string
	Platform      string
	Strategy      string
	Outcome       string
	ReportPath    string
	DryRun        bool
	Forced        bool
}

// CommandEvent records one step of a run's command plan: the intent,
// how it was resolved (executed, skipped, failed, forced) and its exit.
type CommandEvent struct {
	ID         int64
	RunID      string
	Phase      string
	Step       string
	Command    string
	Status     string
	ExitCode   int
	DurationMs int64
	Timestamp  time.Time
}

// SnapshotRecord represents a captured snapshot archive for a run phase.
type SnapshotRecord struct {
	ID          int64
	RunID       string
	Phase       string // "pre" or "post"
	ArchivePath string
	FileCount   int
	CreatedAt   time.Time
}
