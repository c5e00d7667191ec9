package app

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/osslup/internal/platform"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the host before upgrading",
	Long: `Runs diagnostic checks against this host.

Checks:
  • Platform family and detected package managers
  • Source-build toolchain (make, perl, a C compiler)
  • Audit store accessibility
  • Snapshot and log directories`,
	RunE: runDoctor,
}

func init() {
	RootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, closer, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	fmt.Println("Running osslup diagnostics...")
	fmt.Println()

	issues := 0

	// Check 1: platform detection
	pl := platform.NewProber(log).Probe()
	if pl.Family == platform.FamilyUnknown {
		fmt.Println("✗ Platform not recognized; only side-install will be offered")
		issues++
	} else {
		fmt.Printf("✓ Platform: %s\n", pl.String())
	}
	if len(pl.PackageManagers) == 0 {
		fmt.Println("  No package manager detected; upgrades will build from source")
	} else {
		fmt.Printf("✓ Package managers: %s\n", strings.Join(pl.PackageManagers, ", "))
	}

	// Check 2: build toolchain
	for _, tool := range []string{"make", "perl"} {
		if _, err := exec.LookPath(tool); err != nil {
			fmt.Printf("✗ %s not found; source builds will fail the preflight\n", tool)
			issues++
		} else {
			fmt.Printf("✓ %s available\n", tool)
		}
	}
	if !anyToolAvailable("gcc", "cc", "clang", "cl") {
		fmt.Println("✗ No C compiler found (gcc, cc, clang, cl)")
		issues++
	} else {
		fmt.Println("✓ C compiler available")
	}

	// Check 3: audit store
	st, err := openStore(cfg)
	if err != nil {
		fmt.Println("✗ Audit store:", err)
		issues++
	} else {
		fmt.Printf("✓ Audit store: %s\n", cfg.StatePath)
		st.Close()
	}

	// Check 4: working directories
	for _, dir := range []string{cfg.BackupDir, cfg.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Printf("✗ Cannot create %s: %v\n", dir, err)
			issues++
		} else {
			fmt.Printf("✓ Directory writable: %s\n", dir)
		}
	}

	fmt.Println()
	if issues > 0 {
		return &exitError{code: 1, msg: fmt.Sprintf("%d issue(s) found", issues)}
	}
	fmt.Println("All checks passed.")
	return nil
}

func anyToolAvailable(names ...string) bool {
	for _, n := range names {
		if _, err := exec.LookPath(n); err == nil {
			return true
		}
	}
	return false
}
