package app

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "List captured snapshot archives",
	Long: `Lists the snapshot archives captured by past runs, newest first.

Pre-phase archives hold the files as they were before any mutating command;
post-phase archives record what the run left behind.`,
	RunE: runSnapshots,
}

func init() {
	RootCmd.AddCommand(snapshotsCmd)
}

func runSnapshots(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	snaps, err := st.ListSnapshots()
	if err != nil {
		return fmt.Errorf("failed to list snapshots: %w", err)
	}
	if len(snaps) == 0 {
		fmt.Println("No snapshots recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tPHASE\tFILES\tCREATED\tARCHIVE")
	for _, s := range snaps {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			s.RunID, s.Phase, s.FileCount, s.CreatedAt.Format("2006-01-02 15:04"), s.ArchivePath)
	}
	return w.Flush()
}
