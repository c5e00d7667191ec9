package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/osslup/internal/config"
)

var configInitFlagForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the osslup configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file with the built-in defaults",
	RunE:  runConfigInit,
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitFlagForce, "force", false, "overwrite an existing config file")

	configCmd.AddCommand(configInitCmd)
	RootCmd.AddCommand(configCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if path == "" {
		path = config.DefaultPath()
	}

	if _, err := os.Stat(path); err == nil && !configInitFlagForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	if err := config.Default().Save(path); err != nil {
		return err
	}

	fmt.Printf("Wrote %s\n", path)
	return nil
}
