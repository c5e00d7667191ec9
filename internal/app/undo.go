package app

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/osslup/internal/snapshot"
)

var undoFlagYes bool

var undoCmd = &cobra.Command{
	Use:   "undo [run-id | latest]",
	Short: "Restore the files captured before a run",
	Long: `Restores the live files from a run's pre-upgrade snapshot.

The restore is all-or-nothing: every archived file is extracted and verified
against the snapshot manifest before any live file is replaced.

Note that restoring files does not undo package-manager database changes; if
the run upgraded through a package manager, downgrade the package as well.`,
	Example: `  osslup undo latest
  osslup undo 01HX5ZV9K7Q3R8T2 --yes`,
	Args: cobra.ExactArgs(1),
	RunE: runUndo,
}

func init() {
	undoCmd.Flags().BoolVar(&undoFlagYes, "yes", false, "skip confirmation prompt")

	RootCmd.AddCommand(undoCmd)
}

func runUndo(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
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

	runID := args[0]
	if strings.EqualFold(runID, "latest") {
		run, lerr := st.LatestRun()
		if lerr != nil {
			return fmt.Errorf("failed to find latest run: %w", lerr)
		}
		runID = run.ID
	}

	mgr := snapshot.New(log, cfg.BackupDir, st)
	snap, err := mgr.Load(runID, snapshot.PhasePre)
	if err != nil {
		return fmt.Errorf("failed to load pre-upgrade snapshot for run %s: %w", runID, err)
	}

	fmt.Printf("Restoring %d file(s) from %s\n", len(snap.Manifest), snap.ArchivePath)
	if !undoFlagYes && !confirm("Proceed with restore?") {
		fmt.Println("Aborted.")
		return nil
	}

	if err := mgr.Restore(snap); err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}

	fmt.Println("Restore complete.")
	return nil
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	sc := bufio.NewScanner(os.Stdin)
	if !sc.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(sc.Text()))
	return answer == "y" || answer == "yes"
}
