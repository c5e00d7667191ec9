package executor

import "fmt"

// ErrKind classifies a failed step for the error taxonomy.
type ErrKind string

const (
	KindDownload       ErrKind = "download"
	KindBuild          ErrKind = "build"
	KindPackageManager ErrKind = "package-manager"
	KindGuard          ErrKind = "guard"
	KindCancelled      ErrKind = "cancelled"
)

// StepError is a fatal failure of one plan step. It halts the remaining plan
// but never the reporting or rollback-advisory phases.
type StepError struct {
	Kind     ErrKind
	Step     string
	ExitCode int
	Output   string
	Err      error
}

func (e *StepError) Error() string {
	msg := fmt.Sprintf("%s error in step %q", e.Kind, e.Step)
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit %d)", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StepError) Unwrap() error { return e.Err }
