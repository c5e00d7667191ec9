package strategy

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"

	"github.com/blackwell-systems/osslup/internal/pkgmgr"
	"github.com/blackwell-systems/osslup/internal/platform"
)

// resolver is the slice of pkgmgr.Client the selector needs.
type resolver interface {
	Exists(mgr string) bool
	Resolve(ctx context.Context, mgr, pkg string, target *semver.Version) (string, bool)
}

// Options tune plan construction.
type Options struct {
	PrefixRoot  string // base directory for version-namespaced prefixes (default /opt)
	SourceURL   string // base URL for source archives
	WorkDir     string // scratch dir; derived from run id when empty
	LinkDefault bool   // relink the system-default symlink after side-install
}

// BuildToolsError reports the toolchain gaps that make a source build
// impossible on this host.
type BuildToolsError struct {
	Missing []string
}

func (e *BuildToolsError) Error() string {
	return fmt.Sprintf("missing build tools: %s", strings.Join(e.Missing, ", "))
}

// defaultPrefixes are the system-resolved install prefixes a side-install
// must never target.
var defaultPrefixes = map[string]bool{
	"/usr":       true,
	"/usr/local": true,
	"/opt":       true,
}

// Selector decides the upgrade strategy for a run.
type Selector struct {
	log      zerolog.Logger
	pm       resolver
	lookPath func(string) (string, error)
	numCPU   func() int
}

// NewSelector creates a Selector backed by the given package-manager client.
func NewSelector(log zerolog.Logger, pm resolver) *Selector {
	return &Selector{
		log:      log,
		pm:       pm,
		lookPath: exec.LookPath,
		numCPU:   runtime.NumCPU,
	}
}

// Select builds the upgrade plan for the probed platform and target version.
//
// Policy, in order: no package manager -> side-install; no manager offering
// the exact target version -> side-install; otherwise the first manager in
// preference order that offers it. Fuzzy version negotiation is deliberately
// absent — a partial match risks silently installing a different version
// than the one audited.
func (s *Selector) Select(ctx context.Context, runID string, pl platform.Info, target *semver.Version, opts Options) (*Plan, error) {
	for _, mgr := range pl.PackageManagers {
		// The probe ran earlier; re-check the binary is still on PATH before
		// trusting the manager with the install.
		if !s.pm.Exists(mgr) {
			s.log.Debug().Str("manager", mgr).Msg("manager binary no longer on PATH")
			continue
		}
		repoVer, ok := s.pm.Resolve(ctx, mgr, "openssl", target)
		if !ok {
			s.log.Debug().Str("manager", mgr).Str("target", VersionString(target)).
				Msg("manager does not offer exact target version")
			continue
		}

		return s.packageManagerPlan(runID, mgr, repoVer, target), nil
	}

	if len(pl.PackageManagers) > 0 {
		s.log.Info().Str("target", VersionString(target)).
			Msg("no package manager offers the exact target version, falling back to side-install")
	}

	return s.sideInstallPlan(runID, pl, target, opts)
}

func (s *Selector) packageManagerPlan(runID, mgr, repoVer string, target *semver.Version) *Plan {
	plan := &Plan{
		RunID:         runID,
		TargetVersion: target,
		Kind:          KindPackageManager,
		Manager:       mgr,
		RepoVersion:   repoVer,
		Destructive:   true,
	}

	for _, inv := range pkgmgr.InstallCommands(mgr, "openssl", repoVer, target) {
		plan.Steps = append(plan.Steps, Step{
			Name:        inv.Name,
			Kind:        StepExec,
			Argv:        inv.Argv,
			Required:    true,
			Destructive: inv.Destructive,
		})
	}

	return plan
}

func (s *Selector) sideInstallPlan(runID string, pl platform.Info, target *semver.Version, opts Options) (*Plan, error) {
	if err := s.checkBuildTools(pl.Family); err != nil {
		return nil, err
	}

	version := VersionString(target)
	prefixRoot := opts.PrefixRoot
	if prefixRoot == "" {
		prefixRoot = "/opt"
	}
	prefix := filepath.Join(prefixRoot, "openssl-"+version)
	if defaultPrefixes[filepath.Clean(prefix)] {
		return nil, fmt.Errorf("refusing side-install into system prefix %s", prefix)
	}

	workDir := opts.WorkDir
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "osslup-"+runID)
	}
	srcDir := filepath.Join(workDir, "openssl-"+version)

	sourceURL := opts.SourceURL
	if sourceURL == "" {
		sourceURL = "https://www.openssl.org/source"
	}
	tarball := fmt.Sprintf("openssl-%s.tar.gz", version)
	archive := filepath.Join(workDir, tarball)
	mk := s.makeTool(pl.Family)
	buildArgv := []string{mk, "-j", strconv.Itoa(max(1, s.numCPU()))}
	if pl.Family == platform.FamilyWindows {
		// nmake has no -j.
		buildArgv = []string{mk}
	}

	plan := &Plan{
		RunID:         runID,
		TargetVersion: target,
		Kind:          KindSideInstall,
		Prefix:        prefix,
		WorkDir:       workDir,
		LinkDefault:   opts.LinkDefault,
	}

	plan.Steps = append(plan.Steps,
		Step{
			Name:        "fetch-source",
			Kind:        StepFetch,
			URL:         fmt.Sprintf("%s/%s", sourceURL, tarball),
			ChecksumURL: fmt.Sprintf("%s/%s.sha256", sourceURL, tarball),
			Dest:        archive,
			Required:    true,
		},
		Step{
			Name:     "extract",
			Kind:     StepExec,
			Argv:     []string{"tar", "xzf", archive, "-C", workDir},
			Required: true,
		},
		Step{
			Name:     "configure",
			Kind:     StepExec,
			Argv:     configureArgv(pl.Family, prefix),
			Dir:      srcDir,
			Required: true,
		},
		Step{
			Name:     "build",
			Kind:     StepExec,
			Argv:     buildArgv,
			Dir:      srcDir,
			Required: true,
		},
		Step{
			Name: "test",
			Kind: StepExec,
			Argv: []string{mk, "test"},
			Dir:  srcDir,
			// Test failures are recorded but do not halt the install.
			Required: false,
		},
		Step{
			Name:     "install",
			Kind:     StepExec,
			Argv:     []string{mk, "install"},
			Dir:      srcDir,
			Required: true,
		},
	)

	if opts.LinkDefault {
		plan.Destructive = true
		plan.Steps = append(plan.Steps, Step{
			Name:        "link-default",
			Kind:        StepExec,
			Argv:        []string{"ln", "-sfn", prefix, filepath.Join(prefixRoot, "openssl")},
			Required:    true,
			Destructive: true,
		})
		if pl.Family == platform.FamilyLinux {
			conf := fmt.Sprintf("/etc/ld.so.conf.d/openssl-%s.conf", version)
			plan.Steps = append(plan.Steps, Step{
				Name:        "register-ldconfig",
				Kind:        StepExec,
				Argv:        []string{"sh", "-c", fmt.Sprintf("echo %s/lib > %s && ldconfig", prefix, conf)},
				Required:    false,
				Destructive: true,
			})
		}
	}

	return plan, nil
}

// configureArgv picks the OpenSSL configure invocation per family. The
// legacy unices need the explicit Configure driver; elsewhere the config
// auto-detection wrapper works.
func configureArgv(family platform.Family, prefix string) []string {
	switch family {
	case platform.FamilyAIX, platform.FamilyHPUX, platform.FamilySolaris:
		return []string{"./Configure", "--prefix=" + prefix, "shared"}
	case platform.FamilyWindows:
		return []string{"perl", "Configure", "VC-WIN64A", "--prefix=" + prefix}
	default:
		return []string{"./config", "--prefix=" + prefix, "shared"}
	}
}

// checkBuildTools verifies a source build is possible before anything is
// downloaded.
func (s *Selector) checkBuildTools(family platform.Family) error {
	var missing []string

	if family == platform.FamilyWindows {
		if !s.anyTool("perl") {
			missing = append(missing, "perl")
		}
		if !s.anyTool("cl", "gcc") {
			missing = append(missing, "C compiler (cl or gcc)")
		}
		if !s.anyTool("nmake", "make") {
			missing = append(missing, "nmake")
		}
	} else {
		if !s.anyTool("make", "gmake") {
			missing = append(missing, "make")
		}
		if !s.anyTool("perl") {
			missing = append(missing, "perl")
		}
		if !s.anyTool("gcc", "cc", "clang") {
			missing = append(missing, "C compiler")
		}
	}

	if len(missing) > 0 {
		return &BuildToolsError{Missing: missing}
	}
	return nil
}

func (s *Selector) anyTool(names ...string) bool {
	for _, n := range names {
		if _, err := s.lookPath(n); err == nil {
			return true
		}
	}
	return false
}

// makeTool prefers nmake on windows and gmake where it exists (the BSDs and
// legacy unices ship a non-GNU make as "make").
func (s *Selector) makeTool(family platform.Family) string {
	if family == platform.FamilyWindows {
		if _, err := s.lookPath("nmake"); err == nil {
			return "nmake"
		}
		return "make"
	}
	if _, err := s.lookPath("gmake"); err == nil {
		return "gmake"
	}
	return "make"
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
