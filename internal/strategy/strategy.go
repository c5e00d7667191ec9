// Package strategy decides how a target version gets installed: through a
// platform package manager pinned to the exact version, or by building from
// source into an isolated, version-namespaced prefix ("side-install").
package strategy

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Kind is the chosen upgrade mechanism.
type Kind string

const (
	KindPackageManager Kind = "package-manager"
	KindSideInstall    Kind = "side-install"
)

// StepKind distinguishes subprocess steps from the engine-native source fetch.
type StepKind string

const (
	StepExec  StepKind = "exec"
	StepFetch StepKind = "fetch"
)

// Step is one command in an upgrade plan.
type Step struct {
	Name        string
	Kind        StepKind
	Argv        []string // exec steps
	Dir         string
	URL         string // fetch steps: source archive URL
	ChecksumURL string // fetch steps: expected SHA-256, empty to skip verification
	Dest        string // fetch steps: download destination
	Required    bool   // a non-zero exit from a required step halts the plan
	Destructive bool   // mutates state outside the run's own work/prefix dirs
}

// CommandLine renders the step for the command log.
func (s Step) CommandLine() string {
	if s.Kind == StepFetch {
		return fmt.Sprintf("fetch %s -> %s", s.URL, s.Dest)
	}
	line := ""
	for i, a := range s.Argv {
		if i > 0 {
			line += " "
		}
		line += a
	}
	return line
}

// Plan is the ordered command sequence for one run. Immutable once produced;
// re-selection requires a new run.
type Plan struct {
	RunID         string
	TargetVersion *semver.Version
	Kind          Kind
	Manager       string // package-manager plans only
	RepoVersion   string // repository's full version string, for pinning
	Prefix        string // install prefix the plan targets
	WorkDir       string // scratch directory for side-install builds
	Steps         []Step
	Destructive   bool // any step touches state outside the isolated prefix
	LinkDefault   bool
}

// VersionString renders a target version the way OpenSSL spells it:
// the triple plus any legacy letter suffix ("1.1.1w").
func VersionString(v *semver.Version) string {
	return fmt.Sprintf("%d.%d.%d%s", v.Major(), v.Minor(), v.Patch(), v.Metadata())
}
