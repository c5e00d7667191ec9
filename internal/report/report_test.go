package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackwell-systems/osslup/internal/executor"
	"github.com/blackwell-systems/osslup/internal/rollback"
	"github.com/blackwell-systems/osslup/internal/verify"
	"github.com/blackwell-systems/osslup/internal/vulnfeed"
)

func sampleReport() *RunReport {
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return &RunReport{
		RunID:           "01HX5ZABC",
		TargetVersion:   "3.2.0",
		PreviousVersion: "3.0.8",
		Platform:        "linux/ubuntu (amd64)",
		Strategy:        "package-manager (apt)",
		Outcome:         "success",
		StartedAt:       started,
		FinishedAt:      started.Add(90 * time.Second),
		Steps: []executor.StepResult{
			{Name: "refresh-index", Status: executor.StatusExecuted, Duration: 2 * time.Second},
			{Name: "install", Status: executor.StatusExecuted, Duration: 40 * time.Second},
		},
		Verification: &verify.Result{
			Outcome: verify.OutcomeSuccess,
			Checks: []verify.Check{
				{Name: "version-match", Outcome: verify.OutcomeSuccess, Detail: "reports 3.2.0"},
				{Name: "tls-handshake", Outcome: verify.OutcomeSkipped, Detail: "no health-check target supplied"},
			},
		},
		Artifacts: Artifacts{
			CommandLog: "/var/log/osslup/01HX5ZABC/commands.log",
			EventLog:   "/var/log/osslup/01HX5ZABC/run.jsonl",
		},
	}
}

func render(t *testing.T, r *RunReport) string {
	t.Helper()
	var sb strings.Builder
	require.NoError(t, Render(&sb, r))
	return sb.String()
}

func TestRenderSuccess(t *testing.T) {
	out := render(t, sampleReport())

	assert.Contains(t, out, "run 01HX5ZABC")
	assert.Contains(t, out, "**Outcome**: success")
	assert.Contains(t, out, "**Previous version**: 3.0.8")
	assert.Contains(t, out, "| install | executed | 0 |")
	assert.Contains(t, out, "version-match**: success")
	assert.Contains(t, out, "commands.log")
	assert.NotContains(t, out, "Rollback", "no rollback section on clean success")
}

func TestRenderFailureWithRollback(t *testing.T) {
	r := sampleReport()
	r.Outcome = "failure"
	r.Steps = append(r.Steps, executor.StepResult{
		Name: "build", Status: executor.StatusFailed, ExitCode: 2, Duration: 5 * time.Minute,
	})
	r.Rollback = &rollback.Plan{
		AutoAttempted: true,
		AutoSucceeded: true,
		Instructions:  "Pre-upgrade snapshot: /var/backups/run-pre.tar.gz\n",
	}

	out := render(t, r)
	assert.Contains(t, out, "| build | failed | 2 |")
	assert.Contains(t, out, "Automatic restore from the pre-upgrade snapshot succeeded")
	assert.Contains(t, out, "run-pre.tar.gz")
}

func TestRenderVulnerabilityAbort(t *testing.T) {
	r := &RunReport{
		RunID:         "01HX5ZDEF",
		TargetVersion: "3.0.0",
		Platform:      "linux/debian (amd64)",
		Outcome:       "aborted",
		StartedAt:     time.Now(),
		AbortReason:   "target version has blocking vulnerabilities: CVE-2024-0001",
		Advisories: []vulnfeed.Advisory{
			{ID: "CVE-2024-0001", Severity: vulnfeed.SeverityCritical, Summary: "RCE"},
		},
	}

	out := render(t, r)
	assert.Contains(t, out, "## Abort")
	assert.Contains(t, out, "CVE-2024-0001")
	assert.Contains(t, out, "| CVE-2024-0001 | critical | RCE |")
	assert.NotContains(t, out, "## Executed steps")
}

func TestRenderDryRunAndForced(t *testing.T) {
	r := sampleReport()
	r.DryRun = true
	r.Forced = true
	r.Steps[0].Forced = true

	out := render(t, r)
	assert.Contains(t, out, "no command was invoked")
	assert.Contains(t, out, "without a pre-snapshot")
	assert.Contains(t, out, "(forced)")
}

func TestRenderFeedSkipped(t *testing.T) {
	r := sampleReport()
	r.FeedSkipped = true

	out := render(t, r)
	assert.Contains(t, out, "Skipped: vulnerability feed not configured or unavailable")
}

func TestWriterWritesFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs", "run")
	w := NewWriter(zerolog.Nop())

	path, err := w.Write(dir, sampleReport())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "report.md"), path)

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(body), "# OpenSSL upgrade report"))
}
