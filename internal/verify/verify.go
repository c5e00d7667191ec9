// Package verify runs post-upgrade smoke checks: the upgraded binary must
// report the target version exactly, and an optional TLS handshake probes
// that the library actually serves connections.
package verify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"

	"github.com/blackwell-systems/osslup/internal/locate"
	"github.com/blackwell-systems/osslup/internal/strategy"
)

// ErrVersionMismatch marks a post-upgrade version string that does not equal
// the target. It fails the run's classification, not the process.
var ErrVersionMismatch = errors.New("post-upgrade version does not match target")

// Outcome classifies a verified run.
type Outcome string

const (
	OutcomeSuccess      Outcome = "success"
	OutcomeWithWarnings Outcome = "success-with-warnings"
	OutcomeFailure      Outcome = "failure"
	OutcomeSkipped      Outcome = "skipped"
)

// severity orders outcomes for most-severe-wins aggregation. Skipped checks
// carry no weight.
func severity(o Outcome) int {
	switch o {
	case OutcomeFailure:
		return 2
	case OutcomeWithWarnings:
		return 1
	default:
		return 0
	}
}

// Check is one smoke check's result.
type Check struct {
	Name    string
	Outcome Outcome
	Detail  string
}

// Result aggregates the component checks.
type Result struct {
	Outcome Outcome
	Checks  []Check
}

// Verifier runs the checks against an upgraded installation.
type Verifier struct {
	log     zerolog.Logger
	timeout time.Duration
	run     func(ctx context.Context, name string, args ...string) (string, error)
}

// New returns a Verifier with the given per-check timeout.
func New(log zerolog.Logger, timeout time.Duration) *Verifier {
	return &Verifier{log: log, timeout: timeout, run: runCommand}
}

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.String(), err
}

// Verify checks the installation at binaryPath against the plan's target.
// healthCheck is an optional host[:port] for a TLS handshake; empty means
// the handshake check is skipped, not failed. The final outcome is the most
// severe of the component checks.
func (v *Verifier) Verify(ctx context.Context, plan *strategy.Plan, binaryPath, healthCheck string) *Result {
	res := &Result{Outcome: OutcomeSuccess}

	vc := v.checkVersion(ctx, binaryPath, plan.TargetVersion)
	res.Checks = append(res.Checks, vc)

	hc := v.checkHandshake(ctx, binaryPath, healthCheck)
	res.Checks = append(res.Checks, hc)

	for _, c := range res.Checks {
		if severity(c.Outcome) > severity(res.Outcome) {
			res.Outcome = c.Outcome
		}
	}

	v.log.Info().Str("outcome", string(res.Outcome)).Msg("verification complete")
	return res
}

// checkVersion requires the reported version to equal the target exactly,
// build metadata included ("1.1.1w" != "1.1.1v").
func (v *Verifier) checkVersion(ctx context.Context, binaryPath string, target *semver.Version) Check {
	c := Check{Name: "version-match"}

	cctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	out, err := v.run(cctx, binaryPath, "version")
	if err != nil {
		c.Outcome = OutcomeFailure
		c.Detail = fmt.Sprintf("%s version: %v", binaryPath, err)
		return c
	}

	got, ok := locate.ParseVersion(out)
	if !ok {
		c.Outcome = OutcomeFailure
		c.Detail = fmt.Sprintf("unparseable version output %q", strings.TrimSpace(out))
		return c
	}

	if !got.Equal(target) || got.Metadata() != target.Metadata() {
		c.Outcome = OutcomeFailure
		c.Detail = fmt.Sprintf("%v: got %s, want %s",
			ErrVersionMismatch, strategy.VersionString(got), strategy.VersionString(target))
		return c
	}

	c.Outcome = OutcomeSuccess
	c.Detail = fmt.Sprintf("reports %s", strategy.VersionString(got))
	return c
}

// checkHandshake attempts a TLS handshake through the upgraded binary's own
// s_client, so the check exercises the new library rather than the Go
// runtime's TLS stack. Handshake failures may be network-environment issues
// unrelated to the library, so they downgrade to warnings, never failures.
func (v *Verifier) checkHandshake(ctx context.Context, binaryPath, target string) Check {
	c := Check{Name: "tls-handshake"}
	if target == "" {
		c.Outcome = OutcomeSkipped
		c.Detail = "no health-check target supplied"
		return c
	}
	if !strings.Contains(target, ":") {
		target += ":443"
	}

	cctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	out, err := v.run(cctx, binaryPath, "s_client", "-connect", target, "-brief")
	if err != nil {
		v.log.Warn().Str("target", target).Err(err).Msg("handshake check failed")
		c.Outcome = OutcomeWithWarnings
		c.Detail = fmt.Sprintf("handshake with %s failed: %v", target, err)
		return c
	}
	if !handshakeOK(out) {
		c.Outcome = OutcomeWithWarnings
		c.Detail = fmt.Sprintf("no handshake confirmation from %s", target)
		return c
	}

	c.Outcome = OutcomeSuccess
	c.Detail = fmt.Sprintf("handshake with %s succeeded", target)
	return c
}

// handshakeOK looks for s_client's connection-established markers.
func handshakeOK(out string) bool {
	return strings.Contains(out, "CONNECTION ESTABLISHED") ||
		strings.Contains(out, "Verification: OK") ||
		strings.Contains(out, "Verify return code: 0")
}
