// Package executor runs an upgrade plan's command sequence: one blocking,
// timeout-bounded command at a time, logged before and after invocation,
// fail-fast on the first required step that exits non-zero.
package executor

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	"github.com/blackwell-systems/osslup/internal/strategy"
)

// StepStatus is how one plan step resolved.
type StepStatus string

const (
	StatusExecuted StepStatus = "executed"
	StatusSkipped  StepStatus = "skipped"
	StatusFailed   StepStatus = "failed"
)

// StepResult captures one step's invocation.
type StepResult struct {
	Name     string
	Command  string
	Status   StepStatus
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	Forced   bool // ran despite a missing pre-snapshot, under --force
}

// Result is the outcome of running a plan.
type Result struct {
	Steps      []StepResult
	Failed     bool
	Cancelled  bool
	FailedStep string
	Forced     bool // any step was forced
	Err        *StepError
}

// LastExecuted returns the most recent step that actually ran, for abort
// diagnostics.
func (r *Result) LastExecuted() *StepResult {
	for i := len(r.Steps) - 1; i >= 0; i-- {
		if r.Steps[i].Status != StatusSkipped {
			return &r.Steps[i]
		}
	}
	return nil
}

// Options control one Run invocation.
type Options struct {
	DryRun          bool
	Force           bool
	HavePreSnapshot bool
}

// Executor runs upgrade plans.
type Executor struct {
	log            zerolog.Logger
	cmdlog         *CommandLog
	commandTimeout time.Duration
	execStep       func(ctx context.Context, step strategy.Step) (stdout, stderr string, exitCode int, err error)
	fetchStep      func(ctx context.Context, step strategy.Step) error
}

// New creates an Executor writing to the given command log.
func New(log zerolog.Logger, cmdlog *CommandLog, commandTimeout, downloadTimeout time.Duration) *Executor {
	e := &Executor{
		log:            log,
		cmdlog:         cmdlog,
		commandTimeout: commandTimeout,
	}
	e.execStep = e.runCommand
	e.fetchStep = newFetcher(downloadTimeout).fetch
	return e
}

// Run executes the plan. The pre-snapshot invariant is enforced here:
// destructive steps are refused when no pre-snapshot exists, unless forced —
// and a forced bypass is still logged and flagged in the result.
//
// Cancellation is cooperative at command boundaries only: an already-started
// command runs to completion, but no further step starts.
func (e *Executor) Run(ctx context.Context, plan *strategy.Plan, opts Options) (*Result, error) {
	res := &Result{}
	phase := "execute"

	if plan.WorkDir != "" && !opts.DryRun {
		if err := os.MkdirAll(plan.WorkDir, 0o755); err != nil {
			res.Failed = true
			res.Err = &StepError{Kind: KindBuild, Step: "workdir", Err: err}
			return res, res.Err
		}
	}

	for _, step := range plan.Steps {
		cmdline := step.CommandLine()
		e.cmdlog.Intent(phase, step.Name, cmdline)

		if err := ctx.Err(); err != nil {
			e.log.Warn().Str("step", step.Name).Msg("cancellation requested, not starting step")
			e.cmdlog.Result(Event{Phase: phase, Step: step.Name, Command: cmdline, Status: string(StatusSkipped)})
			res.Failed = true
			res.Cancelled = true
			res.FailedStep = step.Name
			res.Err = &StepError{Kind: KindCancelled, Step: step.Name, Err: err}
			return res, res.Err
		}

		forced := false
		if step.Destructive && !opts.HavePreSnapshot && !opts.DryRun {
			if !opts.Force {
				e.cmdlog.Result(Event{Phase: phase, Step: step.Name, Command: cmdline, Status: string(StatusFailed)})
				res.Failed = true
				res.FailedStep = step.Name
				res.Err = &StepError{
					Kind: KindGuard,
					Step: step.Name,
					Err:  errors.New("destructive step refused without a pre-snapshot (use --force to bypass)"),
				}
				return res, res.Err
			}
			forced = true
			res.Forced = true
			e.log.Warn().Str("step", step.Name).Msg("pre-snapshot missing, proceeding under --force")
		}

		if opts.DryRun {
			e.cmdlog.Result(Event{Phase: phase, Step: step.Name, Command: cmdline, Status: string(StatusSkipped)})
			res.Steps = append(res.Steps, StepResult{Name: step.Name, Command: cmdline, Status: StatusSkipped})
			continue
		}

		sr := e.invoke(ctx, step, cmdline)
		sr.Forced = forced
		e.cmdlog.Result(Event{
			Phase:    phase,
			Step:     step.Name,
			Command:  cmdline,
			Status:   string(sr.Status),
			ExitCode: sr.ExitCode,
			Duration: sr.Duration.Milliseconds(),
		})
		res.Steps = append(res.Steps, sr)

		if sr.Status == StatusFailed {
			if !step.Required {
				e.log.Warn().Str("step", step.Name).Int("exit", sr.ExitCode).
					Msg("optional step failed, continuing")
				continue
			}
			res.Failed = true
			res.FailedStep = step.Name
			res.Err = &StepError{
				Kind:     stepErrKind(plan.Kind, step),
				Step:     step.Name,
				ExitCode: sr.ExitCode,
				Output:   sr.Stderr,
			}
			// Fail fast: already-completed steps are not undone here; that
			// is the rollback advisor's call, using the pre-snapshot.
			return res, res.Err
		}
	}

	return res, nil
}

// invoke runs one step with the bounded command timeout.
func (e *Executor) invoke(ctx context.Context, step strategy.Step, cmdline string) StepResult {
	start := time.Now()

	cctx := ctx
	if e.commandTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, e.commandTimeout)
		defer cancel()
	}

	sr := StepResult{Name: step.Name, Command: cmdline, Status: StatusExecuted}

	if step.Kind == strategy.StepFetch {
		if err := e.fetchStep(cctx, step); err != nil {
			sr.Status = StatusFailed
			sr.ExitCode = 1
			sr.Stderr = err.Error()
		}
		sr.Duration = time.Since(start)
		return sr
	}

	stdout, stderr, exitCode, err := e.execStep(cctx, step)
	sr.Stdout = stdout
	sr.Stderr = stderr
	sr.ExitCode = exitCode
	sr.Duration = time.Since(start)
	if err != nil || exitCode != 0 {
		sr.Status = StatusFailed
		if sr.ExitCode == 0 {
			sr.ExitCode = 255
		}
		if err != nil && sr.Stderr == "" {
			sr.Stderr = err.Error()
		}
	}

	return sr
}

func (e *Executor) runCommand(ctx context.Context, step strategy.Step) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, step.Argv[0], step.Argv[1:]...)
	cmd.Dir = step.Dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		exitCode = 255
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
	}

	return stdout.String(), stderr.String(), exitCode, err
}

// stepErrKind maps a failed step to the error taxonomy.
func stepErrKind(planKind strategy.Kind, step strategy.Step) ErrKind {
	if step.Kind == strategy.StepFetch {
		return KindDownload
	}
	if planKind == strategy.KindPackageManager {
		return KindPackageManager
	}
	return KindBuild
}
