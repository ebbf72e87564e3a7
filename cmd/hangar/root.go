package main

import (
	"github.com/spf13/cobra"
)

const outputJSON = "json"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "hangar",
	Short: "Manage local installations of an AI-workflow runtime",
	Long: `Hangar manages multiple installations of an AI-workflow runtime:
install, launch, monitor, upgrade, snapshot, restore and delete them,
concurrently and safely across installations.

  hangar install --source portable --name "Build A" --path ~/builds/a
  hangar launch "Build A"
  hangar snapshot create "Build A" --label "before experiment"`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(
		versionCmd,
		listCmd,
		sourcesCmd,
		installCmd,
		launchCmd,
		stopCmd,
		deleteCmd,
		removeCmd,
		copyCmd,
		updateCmd,
		snapshotCmd,
		logsCmd,
		doctorCmd,
		completionCmd,
	)
}
