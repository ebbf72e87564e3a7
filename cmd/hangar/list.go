package main

import (
	"github.com/spf13/cobra"

	"github.com/hangar-sh/hangar/internal/printer"
)

var listCfg struct {
	wide   bool
	output string
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls", "get"},
	Short:   "List installations",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer a.Close()

		sessions := map[string]int{}
		for _, sess := range a.scheduler.Sessions() {
			sessions[sess.InstallationID] = sess.Port
		}

		var rows []printer.InstallationRow
		for _, rec := range a.registry.List() {
			port, running := sessions[rec.ID]
			rows = append(rows, printer.InstallationRow{
				Record:          rec,
				Running:         running,
				Port:            port,
				UpdateAvailable: a.scheduler.UpdateAvailable(rec),
			})
		}
		return printer.PrintInstallations(cmd.OutOrStdout(), rows, listCfg.wide, listCfg.output == outputJSON)
	},
}

func init() {
	listCmd.Flags().BoolVarP(&listCfg.wide, "wide", "w", false, "Show source, last launch and install path")
	listCmd.Flags().StringVarP(&listCfg.output, "output", "o", "text", "Output format (text, json)")
}
