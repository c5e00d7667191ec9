package verify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackwell-systems/osslup/internal/strategy"
)

// fakeRunner scripts command output by subcommand ("version", "s_client").
type fakeRunner struct {
	out  map[string]string
	errs map[string]error
}

func (f *fakeRunner) run(_ context.Context, _ string, args ...string) (string, error) {
	return f.out[args[0]], f.errs[args[0]]
}

func newTestVerifier(f *fakeRunner) *Verifier {
	v := New(zerolog.Nop(), 5*time.Second)
	v.run = f.run
	return v
}

func planFor(target string) *strategy.Plan {
	return &strategy.Plan{TargetVersion: semver.MustParse(target)}
}

func TestVerifySuccessNoHealthCheck(t *testing.T) {
	v := newTestVerifier(&fakeRunner{
		out: map[string]string{"version": "OpenSSL 3.2.0 30 Jan 2024 (Library: OpenSSL 3.2.0)"},
	})

	res := v.Verify(context.Background(), planFor("3.2.0"), "/opt/openssl-3.2.0/bin/openssl", "")
	assert.Equal(t, OutcomeSuccess, res.Outcome)

	require.Len(t, res.Checks, 2)
	assert.Equal(t, OutcomeSuccess, res.Checks[0].Outcome)
	assert.Equal(t, OutcomeSkipped, res.Checks[1].Outcome, "no target means skipped, not failed")
}

func TestVerifyVersionMismatchIsFailure(t *testing.T) {
	v := newTestVerifier(&fakeRunner{
		out: map[string]string{"version": "OpenSSL 3.1.4 24 Oct 2023"},
	})

	res := v.Verify(context.Background(), planFor("3.2.0"), "openssl", "")
	assert.Equal(t, OutcomeFailure, res.Outcome)
	assert.Contains(t, res.Checks[0].Detail, "got 3.1.4, want 3.2.0")
}

func TestVerifyLegacyLetterSuffixMustMatch(t *testing.T) {
	target, err := semver.NewVersion("1.1.1+w")
	require.NoError(t, err)
	plan := &strategy.Plan{TargetVersion: target}

	v := newTestVerifier(&fakeRunner{
		out: map[string]string{"version": "OpenSSL 1.1.1v  1 Aug 2023"},
	})
	res := v.Verify(context.Background(), plan, "openssl", "")
	assert.Equal(t, OutcomeFailure, res.Outcome)

	v = newTestVerifier(&fakeRunner{
		out: map[string]string{"version": "OpenSSL 1.1.1w  11 Sep 2023"},
	})
	res = v.Verify(context.Background(), plan, "openssl", "")
	assert.Equal(t, OutcomeSuccess, res.Outcome)
}

func TestVerifyVersionCommandErrorIsFailure(t *testing.T) {
	v := newTestVerifier(&fakeRunner{
		errs: map[string]error{"version": errors.New("no such file or directory")},
	})

	res := v.Verify(context.Background(), planFor("3.2.0"), "/missing/openssl", "")
	assert.Equal(t, OutcomeFailure, res.Outcome)
}

func TestVerifyUnparseableVersionIsFailure(t *testing.T) {
	v := newTestVerifier(&fakeRunner{
		out: map[string]string{"version": "not an openssl banner"},
	})

	res := v.Verify(context.Background(), planFor("3.2.0"), "openssl", "")
	assert.Equal(t, OutcomeFailure, res.Outcome)
}

func TestVerifyHandshakeFailureDowngradesToWarning(t *testing.T) {
	v := newTestVerifier(&fakeRunner{
		out: map[string]string{
			"version": "OpenSSL 3.2.0 30 Jan 2024",
		},
		errs: map[string]error{"s_client": errors.New("connect: connection refused")},
	})

	res := v.Verify(context.Background(), planFor("3.2.0"), "openssl", "internal.example.com:8443")
	assert.Equal(t, OutcomeWithWarnings, res.Outcome, "handshake failure must not fail the run")
	assert.Contains(t, res.Checks[1].Detail, "internal.example.com:8443")
}

func TestVerifyHandshakeSuccess(t *testing.T) {
	v := newTestVerifier(&fakeRunner{
		out: map[string]string{
			"version":  "OpenSSL 3.2.0 30 Jan 2024",
			"s_client": "CONNECTION ESTABLISHED\nProtocol version: TLSv1.3\n",
		},
	})

	res := v.Verify(context.Background(), planFor("3.2.0"), "openssl", "example.com")
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, OutcomeSuccess, res.Checks[1].Outcome)
}

func TestVerifyMostSevereWins(t *testing.T) {
	// Version mismatch + handshake failure: failure outranks the warning.
	v := newTestVerifier(&fakeRunner{
		out:  map[string]string{"version": "OpenSSL 3.1.0 14 Mar 2023"},
		errs: map[string]error{"s_client": errors.New("timeout")},
	})

	res := v.Verify(context.Background(), planFor("3.2.0"), "openssl", "example.com:443")
	assert.Equal(t, OutcomeFailure, res.Outcome)
}

func TestHandshakeDefaultPort(t *testing.T) {
	var gotArgs []string
	v := New(zerolog.Nop(), time.Second)
	v.run = func(_ context.Context, _ string, args ...string) (string, error) {
		if args[0] == "s_client" {
			gotArgs = args
		}
		return "OpenSSL 3.2.0 30 Jan 2024\nVerification: OK", nil
	}

	v.Verify(context.Background(), planFor("3.2.0"), "openssl", "example.com")
	require.NotEmpty(t, gotArgs)
	assert.Contains(t, gotArgs, "example.com:443")
}
