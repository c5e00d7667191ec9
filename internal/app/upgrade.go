package app

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/osslup/internal/engine"
)

var (
	upgradeFlagTarget      string
	upgradeFlagAppPath     string
	upgradeFlagDryRun      bool
	upgradeFlagForce       bool
	upgradeFlagBackupDir   string
	upgradeFlagLogDir      string
	upgradeFlagHealthCheck string
	upgradeFlagLinkDefault bool
	upgradeFlagPrefixRoot  string
)

var upgradeCmd = &cobra.Command{
	Use:   "upgrade",
	Short: "Upgrade the system OpenSSL to a target version",
	Long: `Runs one complete upgrade: platform detection, vulnerability check,
pre-upgrade snapshot, strategy selection, execution, verification, and a
written report.

The package-manager path is taken only when a detected manager offers the
target version exactly; otherwise the target is built from source into a
version-namespaced prefix (it never replaces the system installation unless
--link-default is given).`,
	Example: `  osslup upgrade --target-version 3.2.0
  osslup upgrade --target-version 3.2.0 --dry-run
  osslup upgrade --target-version 1.1.1w --prefix-root /opt/crypto
  osslup upgrade --target-version 3.2.0 --app-path /usr/sbin/nginx`,
	RunE: runUpgrade,
}

func init() {
	upgradeCmd.Flags().StringVar(&upgradeFlagTarget, "target-version", "", "version to upgrade to (required)")
	upgradeCmd.Flags().StringVar(&upgradeFlagAppPath, "app-path", "", "application binary to inspect for library linkage")
	upgradeCmd.Flags().BoolVar(&upgradeFlagDryRun, "dry-run", false, "log planned commands without invoking any")
	upgradeCmd.Flags().BoolVar(&upgradeFlagForce, "force", false, "run destructive steps even without a pre-snapshot")
	upgradeCmd.Flags().StringVar(&upgradeFlagBackupDir, "backup-dir", "", "snapshot archive directory")
	upgradeCmd.Flags().StringVar(&upgradeFlagLogDir, "log-dir", "", "command log and report directory")
	upgradeCmd.Flags().StringVar(&upgradeFlagHealthCheck, "health-check", "", "host[:port] for a post-upgrade TLS handshake")
	upgradeCmd.Flags().BoolVar(&upgradeFlagLinkDefault, "link-default", false, "point the system default at the side-install")
	upgradeCmd.Flags().StringVar(&upgradeFlagPrefixRoot, "prefix-root", "", "base directory for side-install prefixes")
	_ = upgradeCmd.MarkFlagRequired("target-version")

	RootCmd.AddCommand(upgradeCmd)
}

func runUpgrade(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if upgradeFlagBackupDir != "" {
		cfg.BackupDir = upgradeFlagBackupDir
	}
	if upgradeFlagLogDir != "" {
		cfg.LogDir = upgradeFlagLogDir
	}
	if upgradeFlagPrefixRoot != "" {
		cfg.PrefixRoot = upgradeFlagPrefixRoot
	}
	if upgradeFlagHealthCheck != "" {
		cfg.HealthCheck = upgradeFlagHealthCheck
	}

	log, closer, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	// SIGINT/SIGTERM request cooperative cancellation: the in-flight command
	// finishes, the next one never starts.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng := engine.New(log, cfg, st)
	res, err := eng.Run(ctx, engine.Request{
		TargetVersion: upgradeFlagTarget,
		AppPath:       upgradeFlagAppPath,
		DryRun:        upgradeFlagDryRun,
		Force:         upgradeFlagForce,
		HealthCheck:   cfg.HealthCheck,
		LinkDefault:   upgradeFlagLinkDefault,
	})
	if err != nil {
		return err
	}

	printRunResult(res)
	if res.ExitCode != engine.ExitOK {
		return &exitError{code: res.ExitCode}
	}
	return nil
}

func printRunResult(res *engine.RunResult) {
	fmt.Printf("Run %s finished: %s\n", res.RunID, res.Outcome)
	if res.ReportPath != "" {
		fmt.Printf("Report: %s\n", res.ReportPath)
	}
	if res.ExitCode == engine.ExitOK {
		return
	}

	if res.AbortReason != "" {
		fmt.Printf("\nReason: %s\n", res.AbortReason)
	}
	if res.LastStep != "" {
		fmt.Printf("Last executed step: %s\n", res.LastStep)
		if out := strings.TrimSpace(res.LastOutput); out != "" {
			fmt.Printf("Output:\n%s\n", out)
		}
	}
	if res.RollbackInstructions != "" {
		fmt.Printf("\n%s", res.RollbackInstructions)
	}
}
