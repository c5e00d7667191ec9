// Package report renders the write-once run report: a Markdown summary a
// human reads after the run, backed by the append-only command log.
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/blackwell-systems/osslup/internal/executor"
	"github.com/blackwell-systems/osslup/internal/rollback"
	"github.com/blackwell-systems/osslup/internal/verify"
	"github.com/blackwell-systems/osslup/internal/vulnfeed"
)

// Artifacts lists the file paths a run produced.
type Artifacts struct {
	CommandLog   string
	EventLog     string
	PreSnapshot  string
	PostSnapshot string
	Prefix       string // side-install prefix, empty for package-manager runs
}

// RunReport is the complete record of one run. It is produced once at the
// end of the run, on the success and the failure path alike.
type RunReport struct {
	RunID         string
	TargetVersion string
	Platform      string
	Strategy      string
	Outcome       string
	DryRun        bool
	Forced        bool
	StartedAt     time.Time
	FinishedAt    time.Time

	PreviousVersion string // detected before the upgrade, empty if absent

	Advisories  []vulnfeed.Advisory
	FeedSkipped bool

	// OutdatedLinks names application dependencies still linked against an
	// old library build, from the optional --app-path inspection.
	OutdatedLinks []string

	Steps        []executor.StepResult
	Verification *verify.Result
	Rollback     *rollback.Plan
	Artifacts    Artifacts

	AbortReason string // set for aborts before execution
}

// Writer renders reports to the run's log directory.
type Writer struct {
	log zerolog.Logger
}

func NewWriter(log zerolog.Logger) *Writer {
	return &Writer{log: log}
}

// Write renders the report as Markdown into dir and returns the file path.
func (w *Writer) Write(dir string, r *RunReport) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report dir: %w", err)
	}

	path := filepath.Join(dir, "report.md")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create report: %w", err)
	}

	rerr := Render(f, r)
	if cerr := f.Close(); rerr == nil {
		rerr = cerr
	}
	if rerr != nil {
		return "", fmt.Errorf("failed to write report: %w", rerr)
	}

	w.log.Info().Str("path", path).Msg("report written")
	return path, nil
}

// Render writes the Markdown report body.
func Render(out io.Writer, r *RunReport) error {
	var b strings.Builder

	fmt.Fprintf(&b, "# OpenSSL upgrade report — run %s\n\n", r.RunID)
	fmt.Fprintf(&b, "- **Outcome**: %s\n", r.Outcome)
	fmt.Fprintf(&b, "- **Target version**: %s\n", r.TargetVersion)
	if r.PreviousVersion != "" {
		fmt.Fprintf(&b, "- **Previous version**: %s\n", r.PreviousVersion)
	}
	fmt.Fprintf(&b, "- **Platform**: %s\n", r.Platform)
	if r.Strategy != "" {
		fmt.Fprintf(&b, "- **Strategy**: %s\n", r.Strategy)
	}
	fmt.Fprintf(&b, "- **Started**: %s\n", r.StartedAt.Format(time.RFC3339))
	if !r.FinishedAt.IsZero() {
		fmt.Fprintf(&b, "- **Finished**: %s (%s)\n",
			r.FinishedAt.Format(time.RFC3339), r.FinishedAt.Sub(r.StartedAt).Round(time.Second))
	}
	if r.DryRun {
		b.WriteString("- **Dry run**: yes — no command was invoked\n")
	}
	if r.Forced {
		b.WriteString("- **Forced**: yes — destructive steps ran without a pre-snapshot\n")
	}
	b.WriteString("\n")

	if r.AbortReason != "" {
		b.WriteString("## Abort\n\n")
		fmt.Fprintf(&b, "%s\n\n", r.AbortReason)
	}

	renderAdvisories(&b, r)
	if len(r.OutdatedLinks) > 0 {
		b.WriteString("## Linked applications\n\n")
		b.WriteString("These dependencies still reference an older library build:\n\n")
		for _, l := range r.OutdatedLinks {
			fmt.Fprintf(&b, "- `%s`\n", l)
		}
		b.WriteString("\n")
	}
	renderSteps(&b, r)
	renderVerification(&b, r)
	renderRollback(&b, r)
	renderArtifacts(&b, r)

	_, err := io.WriteString(out, b.String())
	return err
}

func renderAdvisories(b *strings.Builder, r *RunReport) {
	b.WriteString("## Vulnerability check\n\n")
	switch {
	case r.FeedSkipped:
		b.WriteString("Skipped: vulnerability feed not configured or unavailable.\n\n")
	case len(r.Advisories) == 0:
		b.WriteString("No known advisories for the target version.\n\n")
	default:
		b.WriteString("| ID | Severity | Summary |\n|---|---|---|\n")
		for _, a := range r.Advisories {
			fmt.Fprintf(b, "| %s | %s | %s |\n", a.ID, a.Severity, a.Summary)
		}
		b.WriteString("\n")
	}
}

func renderSteps(b *strings.Builder, r *RunReport) {
	if len(r.Steps) == 0 {
		return
	}
	b.WriteString("## Executed steps\n\n")
	b.WriteString("| Step | Status | Exit | Duration |\n|---|---|---|---|\n")
	for _, s := range r.Steps {
		status := string(s.Status)
		if s.Forced {
			status += " (forced)"
		}
		fmt.Fprintf(b, "| %s | %s | %d | %s |\n",
			s.Name, status, s.ExitCode, s.Duration.Round(time.Millisecond))
	}
	b.WriteString("\n")
}

func renderVerification(b *strings.Builder, r *RunReport) {
	if r.Verification == nil {
		return
	}
	b.WriteString("## Verification\n\n")
	for _, c := range r.Verification.Checks {
		fmt.Fprintf(b, "- **%s**: %s — %s\n", c.Name, c.Outcome, c.Detail)
	}
	b.WriteString("\n")
}

func renderRollback(b *strings.Builder, r *RunReport) {
	if r.Rollback == nil {
		return
	}
	b.WriteString("## Rollback\n\n")
	switch {
	case r.Rollback.AutoSucceeded:
		b.WriteString("Automatic restore from the pre-upgrade snapshot succeeded.\n\n")
	case r.Rollback.AutoAttempted:
		fmt.Fprintf(b, "Automatic restore was attempted and failed: %v\n\n", r.Rollback.AutoErr)
	default:
		b.WriteString("Automatic restore was not attempted.\n\n")
	}
	b.WriteString(r.Rollback.Instructions)
	b.WriteString("\n")
}

func renderArtifacts(b *strings.Builder, r *RunReport) {
	b.WriteString("## Artifacts\n\n")
	write := func(name, path string) {
		if path != "" {
			fmt.Fprintf(b, "- %s: `%s`\n", name, path)
		}
	}
	write("Command log", r.Artifacts.CommandLog)
	write("Event log", r.Artifacts.EventLog)
	write("Pre-upgrade snapshot", r.Artifacts.PreSnapshot)
	write("Post-upgrade snapshot", r.Artifacts.PostSnapshot)
	write("Install prefix", r.Artifacts.Prefix)
}
