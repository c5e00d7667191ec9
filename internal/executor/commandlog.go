package executor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/blackwell-systems/osslup/internal/store"
)

// Event is the structured shape emitted for every logged command intent and
// result.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Phase     string    `json:"phase"`
	Step      string    `json:"step"`
	Command   string    `json:"command"`
	Status    string    `json:"status"` // intent, executed, skipped, failed
	ExitCode  int       `json:"exit_code"`
	Duration  int64     `json:"duration_ms"`
}

// CommandLog is the append-only command log for one run. The Executor is its
// single writer. Every step is logged before (intent) and after (result)
// invocation, in dry-run and real runs alike.
type CommandLog struct {
	mu    sync.Mutex
	plain *os.File // commands.log, human-readable
	jsonl *os.File // run.jsonl, one Event per line
	st    *store.Store
	runID string
	dir   string
}

// OpenCommandLog opens (creating if needed) the append-only log files for a
// run under dir. st may be nil in tests.
func OpenCommandLog(dir, runID string, st *store.Store) (*CommandLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	plain, err := os.OpenFile(filepath.Join(dir, "commands.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open command log: %w", err)
	}

	jsonl, err := os.OpenFile(filepath.Join(dir, "run.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		plain.Close()
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}

	return &CommandLog{plain: plain, jsonl: jsonl, st: st, runID: runID, dir: dir}, nil
}

// Dir returns the directory holding the run's log files.
func (l *CommandLog) Dir() string { return l.dir }

// Intent logs that a command is about to be considered for invocation.
func (l *CommandLog) Intent(phase, step, command string) {
	l.append(Event{
		Timestamp: time.Now().UTC(),
		Phase:     phase,
		Step:      step,
		Command:   command,
		Status:    "intent",
	})
}

// Result logs how a command resolved, and mirrors it into the audit store.
func (l *CommandLog) Result(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	l.append(ev)

	if l.st != nil {
		_ = l.st.InsertCommandEvent(&store.CommandEvent{
			RunID:      l.runID,
			Phase:      ev.Phase,
			Step:       ev.Step,
			Command:    ev.Command,
			Status:     ev.Status,
			ExitCode:   ev.ExitCode,
			DurationMs: ev.Duration,
			Timestamp:  ev.Timestamp,
		})
	}
}

func (l *CommandLog) append(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := ev.Timestamp.Format(time.RFC3339)
	switch ev.Status {
	case "intent":
		fmt.Fprintf(l.plain, "[%s] INTENT %-16s %s\n", ts, ev.Step, ev.Command)
	default:
		fmt.Fprintf(l.plain, "[%s] RESULT %-16s status=%s exit=%d duration=%dms\n",
			ts, ev.Step, ev.Status, ev.ExitCode, ev.Duration)
	}

	if data, err := json.Marshal(ev); err == nil {
		l.jsonl.Write(append(data, '\n'))
	}
}

// Close flushes and closes the log files.
func (l *CommandLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.plain.Close()
	if jerr := l.jsonl.Close(); err == nil {
		err = jerr
	}
	return err
}
