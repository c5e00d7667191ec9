package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report [run-id | latest]",
	Short: "Print the report of a past run",
	Args:  cobra.ExactArgs(1),
	RunE:  runReport,
}

func init() {
	RootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	runID := args[0]
	var reportPath string
	if strings.EqualFold(runID, "latest") {
		run, lerr := st.LatestRun()
		if lerr != nil {
			return fmt.Errorf("failed to find latest run: %w", lerr)
		}
		reportPath = run.ReportPath
		runID = run.ID
	} else {
		run, gerr := st.GetRun(runID)
		if gerr != nil {
			return gerr
		}
		reportPath = run.ReportPath
	}

	if reportPath == "" {
		return fmt.Errorf("run %s has no report recorded", runID)
	}
	body, err := os.ReadFile(reportPath)
	if err != nil {
		return fmt.Errorf("failed to read report: %w", err)
	}

	fmt.Print(string(body))
	return nil
}
