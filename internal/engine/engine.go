// Package engine orchestrates one upgrade run end to end:
// probe → vulnerability check → locate → pre-snapshot → select → execute →
// post-snapshot → verify → rollback advice → report. The run is strictly
// sequential; reporting and rollback advising always run on the failure path.
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/blackwell-systems/osslup/internal/config"
	"github.com/blackwell-systems/osslup/internal/executor"
	"github.com/blackwell-systems/osslup/internal/locate"
	"github.com/blackwell-systems/osslup/internal/pkgmgr"
	"github.com/blackwell-systems/osslup/internal/platform"
	"github.com/blackwell-systems/osslup/internal/report"
	"github.com/blackwell-systems/osslup/internal/rollback"
	"github.com/blackwell-systems/osslup/internal/snapshot"
	"github.com/blackwell-systems/osslup/internal/store"
	"github.com/blackwell-systems/osslup/internal/strategy"
	"github.com/blackwell-systems/osslup/internal/verify"
	"github.com/blackwell-systems/osslup/internal/vulnfeed"
)

// Exit codes. The vulnerability-policy abort gets its own code so callers
// can distinguish "blocked by policy" from "tried and failed".
const (
	ExitOK                  = 0
	ExitFailure             = 1
	ExitVulnerabilityPolicy = 3
)

// Outcome classifications recorded on the run.
const (
	OutcomeSuccess      = "success"
	OutcomeWithWarnings = "success-with-warnings"
	OutcomeFailure      = "failure"
	OutcomeAborted      = "aborted"
)

const verifyTimeout = 30 * time.Second

// Request is one upgrade invocation.
type Request struct {
	TargetVersion string
	AppPath       string
	DryRun        bool
	Force         bool
	HealthCheck   string
	LinkDefault   bool
}

// RunResult is what the CLI needs from a finished run: the classification,
// and on failure the reason, the last command that ran, and the rollback
// instructions to print.
type RunResult struct {
	RunID      string
	Outcome    string
	ExitCode   int
	ReportPath string

	AbortReason          string
	LastStep             string
	LastOutput           string
	RollbackInstructions string
}

// Engine wires the run phases together. The phase functions are fields so
// tests can substitute any collaborator.
type Engine struct {
	log     zerolog.Logger
	cfg     *config.Config
	st      *store.Store
	reports *report.Writer

	newRunID   func() string
	probe      func() platform.Info
	locateLib  func(ctx context.Context, family platform.Family) (*locate.Library, error)
	inspect    func(ctx context.Context, family platform.Family, appPath string, baseline *semver.Version) []locate.LinkedDependency
	vulnCheck  func(ctx context.Context, target *semver.Version) (*vulnfeed.Assessment, error)
	selectPlan func(ctx context.Context, runID string, pl platform.Info, target *semver.Version, opts strategy.Options) (*strategy.Plan, error)
	execute    func(ctx context.Context, plan *strategy.Plan, opts executor.Options, logDir string) (*executor.Result, error)
	verifyRun  func(ctx context.Context, plan *strategy.Plan, binary, healthCheck string) *verify.Result
	capture    func(runID string, phase snapshot.Phase, paths []string) (*snapshot.Snapshot, error)
	advise       func(pre *snapshot.Snapshot, havePost bool) *rollback.Plan
	manualAdvice func(pre *snapshot.Snapshot) *rollback.Plan
}

// New builds an Engine with the production collaborators.
func New(log zerolog.Logger, cfg *config.Config, st *store.Store) *Engine {
	snaps := snapshot.New(log, cfg.BackupDir, st)
	selector := strategy.NewSelector(log, pkgmgr.New(log))
	feed := vulnfeed.New(log, cfg.FeedURL, cfg.FeedTimeout())
	verifier := verify.New(log, verifyTimeout)
	advisor := rollback.New(log, snaps)

	e := &Engine{
		log:      log,
		cfg:      cfg,
		st:       st,
		reports:  report.NewWriter(log),
		newRunID: func() string { return ulid.Make().String() },
		probe:    platform.NewProber(log).Probe,
		locateLib: func(ctx context.Context, family platform.Family) (*locate.Library, error) {
			return locate.NewLocator(log, family).Locate(ctx)
		},
		inspect: func(ctx context.Context, family platform.Family, appPath string, baseline *semver.Version) []locate.LinkedDependency {
			return locate.NewLocator(log, family).InspectLinkage(ctx, appPath, baseline)
		},
		vulnCheck: func(ctx context.Context, target *semver.Version) (*vulnfeed.Assessment, error) {
			return feed.Check(ctx, "openssl", target)
		},
		selectPlan: selector.Select,
		verifyRun:  verifier.Verify,
		capture:      snaps.Capture,
		advise:       advisor.Advise,
		manualAdvice: advisor.ManualOnly,
	}
	e.execute = func(ctx context.Context, plan *strategy.Plan, opts executor.Options, logDir string) (*executor.Result, error) {
		cmdlog, err := executor.OpenCommandLog(logDir, plan.RunID, st)
		if err != nil {
			return nil, err
		}
		defer cmdlog.Close()

		exec := executor.New(log, cmdlog, cfg.CommandTimeout(), cfg.DownloadTimeout())
		res, _ := exec.Run(ctx, plan, opts)
		return res, nil
	}
	return e
}

var targetPattern = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)([a-z][a-z0-9]*)?$`)

// ParseTarget parses a requested version string, accepting the legacy
// letter-suffix form ("1.1.1w") alongside plain semver.
func ParseTarget(s string) (*semver.Version, error) {
	m := targetPattern.FindStringSubmatch(s)
	if m == nil {
		return nil, fmt.Errorf("invalid target version %q", s)
	}
	core := fmt.Sprintf("%s.%s.%s", m[1], m[2], m[3])
	if m[4] != "" {
		core += "+" + m[4]
	}
	v, err := semver.NewVersion(core)
	if err != nil {
		return nil, fmt.Errorf("invalid target version %q: %w", s, err)
	}
	return v, nil
}

// Run executes one upgrade end to end. The returned error covers only
// malformed requests and audit-store failures; upgrade failures are encoded
// in the result's outcome and exit code, with the report always written.
func (e *Engine) Run(ctx context.Context, req Request) (*RunResult, error) {
	target, err := ParseTarget(req.TargetVersion)
	if err != nil {
		return nil, err
	}

	runID := e.newRunID()
	startedAt := time.Now()
	pl := e.probe()

	e.log.Info().
		Str("run", runID).
		Str("target", strategy.VersionString(target)).
		Str("platform", pl.String()).
		Bool("dry_run", req.DryRun).
		Msg("starting upgrade run")

	if err := e.st.InsertRun(&store.Run{
		ID:            runID,
		StartedAt:     startedAt,
		TargetVersion: strategy.VersionString(target),
		Platform:      pl.String(),
		DryRun:        req.DryRun,
	}); err != nil {
		return nil, err
	}

	rep := &report.RunReport{
		RunID:         runID,
		TargetVersion: strategy.VersionString(target),
		Platform:      pl.String(),
		StartedAt:     startedAt,
		DryRun:        req.DryRun,
	}

	// Vulnerability policy gate: runs before anything touches the system,
	// so an abort here leaves no snapshot and no command log entries.
	assessment, verr := e.vulnCheck(ctx, target)
	if assessment != nil {
		rep.Advisories = assessment.Advisories
		rep.FeedSkipped = assessment.Skipped
	}
	if verr != nil {
		if errors.Is(verr, vulnfeed.ErrPolicyAbort) {
			rep.AbortReason = verr.Error()
			return e.finish(rep, "", OutcomeAborted, ExitVulnerabilityPolicy)
		}
		return nil, verr
	}

	lib, lerr := e.locateLib(ctx, pl.Family)
	if lerr != nil {
		e.log.Warn().Err(lerr).Msg("installation locate degraded")
	}
	if lib != nil {
		rep.PreviousVersion = lib.RawVersion
		if !lib.NeedsUpgrade(target) {
			if atTarget(lib, target) {
				e.log.Info().Str("version", lib.RawVersion).Msg("already at target version, nothing to do")
				return e.finish(rep, "", OutcomeSuccess, ExitOK)
			}
			e.log.Warn().Str("installed", lib.RawVersion).Str("target", strategy.VersionString(target)).
				Msg("installed version is newer than target, proceeding with downgrade")
		}
	}

	if req.AppPath != "" {
		var baseline *semver.Version
		if lib != nil {
			baseline = lib.Version
		}
		for _, dep := range e.inspect(ctx, pl.Family, req.AppPath, baseline) {
			if dep.Outdated {
				rep.OutdatedLinks = append(rep.OutdatedLinks, dep.Path)
				e.log.Warn().Str("dependency", dep.Path).Msg("application links an outdated library build")
			}
		}
	}

	var pre *snapshot.Snapshot
	if !req.DryRun {
		// A fresh install has nothing to archive; the empty snapshot still
		// records the pre-upgrade state and keeps destructive steps unblocked.
		var serr error
		pre, serr = e.capture(runID, snapshot.PhasePre, snapshotPaths(lib))
		if serr != nil {
			// The executor's destructive-step guard covers the gap.
			e.log.Warn().Err(serr).Msg("pre-snapshot capture failed")
		} else {
			rep.Artifacts.PreSnapshot = pre.ArchivePath
		}
	}

	plan, perr := e.selectPlan(ctx, runID, pl, target, strategy.Options{
		PrefixRoot:  e.cfg.PrefixRoot,
		SourceURL:   e.cfg.SourceURL,
		LinkDefault: req.LinkDefault,
	})
	if perr != nil {
		rep.AbortReason = perr.Error()
		return e.finish(rep, "", OutcomeFailure, ExitFailure)
	}
	rep.Strategy = describePlan(plan)
	if plan.Kind == strategy.KindSideInstall {
		rep.Artifacts.Prefix = plan.Prefix
	}

	logDir := filepath.Join(e.cfg.LogDir, runID)
	rep.Artifacts.CommandLog = filepath.Join(logDir, "commands.log")
	rep.Artifacts.EventLog = filepath.Join(logDir, "run.jsonl")

	res, xerr := e.execute(ctx, plan, executor.Options{
		DryRun:          req.DryRun,
		Force:           req.Force,
		HavePreSnapshot: pre != nil,
	}, logDir)
	if xerr != nil {
		rep.AbortReason = xerr.Error()
		// Nothing ran, so nothing needs undoing; still hand the operator the
		// manual restore instructions for the snapshot that was taken.
		rep.Rollback = e.manualAdvice(pre)
		return e.finish(rep, rep.Strategy, OutcomeFailure, ExitFailure)
	}
	rep.Steps = res.Steps
	rep.Forced = res.Forced

	if res.Failed {
		if res.Err != nil {
			rep.AbortReason = res.Err.Error()
		}
		// Failure strictly during execution: no post-snapshot exists, so
		// automatic restore is on the table.
		rep.Rollback = e.advise(pre, false)
		return e.finish(rep, rep.Strategy, OutcomeFailure, ExitFailure)
	}

	if req.DryRun {
		return e.finish(rep, rep.Strategy, OutcomeSuccess, ExitOK)
	}

	if paths := postSnapshotPaths(lib, plan); len(paths) > 0 {
		post, serr := e.capture(runID, snapshot.PhasePost, paths)
		if serr != nil {
			e.log.Warn().Err(serr).Msg("post-snapshot capture failed")
		} else {
			rep.Artifacts.PostSnapshot = post.ArchivePath
		}
	}

	vres := e.verifyRun(ctx, plan, verifyBinary(plan, lib), req.HealthCheck)
	rep.Verification = vres

	switch vres.Outcome {
	case verify.OutcomeFailure:
		// A post-snapshot exists by now, so only manual instructions come
		// back from the advisor.
		rep.Rollback = e.advise(pre, true)
		return e.finish(rep, rep.Strategy, OutcomeFailure, ExitFailure)
	case verify.OutcomeWithWarnings:
		return e.finish(rep, rep.Strategy, OutcomeWithWarnings, ExitOK)
	default:
		return e.finish(rep, rep.Strategy, OutcomeSuccess, ExitOK)
	}
}

// finish writes the report and closes out the run record. Report or store
// write failures are logged, never allowed to mask the run's own outcome.
func (e *Engine) finish(rep *report.RunReport, strategyName, outcome string, exitCode int) (*RunResult, error) {
	rep.Outcome = outcome
	rep.FinishedAt = time.Now()

	reportPath, err := e.reports.Write(filepath.Join(e.cfg.LogDir, rep.RunID), rep)
	if err != nil {
		e.log.Error().Err(err).Msg("failed to write run report")
	}
	if err := e.st.FinishRun(rep.RunID, strategyName, outcome, reportPath, rep.Forced); err != nil {
		e.log.Error().Err(err).Msg("failed to finalize run record")
	}

	res := &RunResult{
		RunID:       rep.RunID,
		Outcome:     outcome,
		ExitCode:    exitCode,
		ReportPath:  reportPath,
		AbortReason: rep.AbortReason,
	}
	if last := (&executor.Result{Steps: rep.Steps}).LastExecuted(); last != nil {
		res.LastStep = last.Name
		res.LastOutput = last.Stderr
		if res.LastOutput == "" {
			res.LastOutput = last.Stdout
		}
	}
	if rep.Rollback != nil {
		res.RollbackInstructions = rep.Rollback.Instructions
	}
	return res, nil
}

// atTarget reports an exact match, build metadata included.
func atTarget(lib *locate.Library, target *semver.Version) bool {
	return lib.Version != nil && lib.Version.Equal(target) &&
		lib.Version.Metadata() == target.Metadata()
}

// snapshotPaths lists the live files a run may touch.
func snapshotPaths(lib *locate.Library) []string {
	if lib == nil {
		return nil
	}
	paths := make([]string, 0, len(lib.BinaryPaths)+len(lib.LibraryPaths))
	paths = append(paths, lib.BinaryPaths...)
	paths = append(paths, lib.LibraryPaths...)
	return paths
}

// postSnapshotPaths adds the side-install binary to the live paths, so the
// post archive records what the run actually produced.
func postSnapshotPaths(lib *locate.Library, plan *strategy.Plan) []string {
	paths := snapshotPaths(lib)
	if plan.Kind == strategy.KindSideInstall {
		paths = append(paths, filepath.Join(plan.Prefix, "bin", "openssl"))
	}
	return paths
}

// verifyBinary picks the binary whose version must now report the target.
func verifyBinary(plan *strategy.Plan, lib *locate.Library) string {
	if plan.Kind == strategy.KindSideInstall {
		return filepath.Join(plan.Prefix, "bin", "openssl")
	}
	if lib != nil && len(lib.BinaryPaths) > 0 {
		return lib.BinaryPaths[0]
	}
	return "openssl"
}

func describePlan(plan *strategy.Plan) string {
	if plan.Kind == strategy.KindPackageManager {
		return fmt.Sprintf("package-manager (%s)", plan.Manager)
	}
	return fmt.Sprintf("side-install (%s)", plan.Prefix)
}
