// Package rollback decides whether a failed run is restored automatically
// and produces the manual-restore instructions either way.
package rollback

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/blackwell-systems/osslup/internal/snapshot"
)

// restorer is the slice of snapshot.Manager the advisor needs.
type restorer interface {
	Restore(snap *snapshot.Snapshot) error
}

// Plan is the advisor's decision for one failed run.
type Plan struct {
	AutoAttempted bool
	AutoSucceeded bool
	AutoErr       error // set when an attempted restore failed
	Instructions  string
}

// Advisor owns the rollback decision. It only ever reads snapshots; the
// snapshot manager performs the actual restore.
type Advisor struct {
	log zerolog.Logger
	mgr restorer
}

// New creates an Advisor restoring through mgr.
func New(log zerolog.Logger, mgr restorer) *Advisor {
	return &Advisor{log: log, mgr: mgr}
}

// Advise produces a rollback plan for a hard failure. An automatic restore
// is attempted only while the blast radius is provably confined to files the
// engine itself captured: pre-snapshot exists, post-snapshot does not. Once
// a post-snapshot exists, irreversible external state (package-manager
// databases) may already have changed, so only manual instructions are
// produced regardless of how severe the failure was.
//
// A failed restore is reported on the plan, never returned as an error: the
// reporting phase must always run.
func (a *Advisor) Advise(pre *snapshot.Snapshot, havePost bool) *Plan {
	p := &Plan{Instructions: instructions(pre)}

	if pre == nil {
		a.log.Warn().Msg("no pre-snapshot, rollback must be manual")
		return p
	}
	if havePost {
		a.log.Info().Msg("post-snapshot exists, refusing automatic restore")
		return p
	}

	p.AutoAttempted = true
	a.log.Info().Str("archive", pre.ArchivePath).Msg("attempting automatic restore")

	if err := a.mgr.Restore(pre); err != nil {
		p.AutoErr = err
		a.log.Error().Err(err).Msg("automatic restore failed")
		return p
	}

	p.AutoSucceeded = true
	a.log.Info().Int("files", len(pre.Manifest)).Msg("automatic restore complete")
	return p
}

// ManualOnly produces the manual-restore instructions without considering an
// automatic restore, for failures outside the execution phase (nothing ran,
// so there is nothing to restore automatically).
func (a *Advisor) ManualOnly(pre *snapshot.Snapshot) *Plan {
	return &Plan{Instructions: instructions(pre)}
}

// instructions renders the manual-restore steps a human can follow without
// this tool installed.
func instructions(pre *snapshot.Snapshot) string {
	var b strings.Builder
	if pre == nil {
		b.WriteString("No pre-upgrade snapshot was captured for this run.\n")
		b.WriteString("Restore the previous library from your system backups or reinstall\n")
		b.WriteString("the prior package version through your package manager.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "Pre-upgrade snapshot: %s\n\n", pre.ArchivePath)
	b.WriteString("To restore manually:\n")
	fmt.Fprintf(&b, "  1. Inspect the archive:  tar tzf %s\n", pre.ArchivePath)
	fmt.Fprintf(&b, "  2. Extract over the live files (as root):  tar xzf %s -C /\n", pre.ArchivePath)
	b.WriteString("  3. Re-run any linker cache update (ldconfig on Linux).\n")
	fmt.Fprintf(&b, "\nThe archive holds %d file(s) captured before any mutating command ran.\n", len(pre.Manifest))
	return b.String()
}
