package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hangar-sh/hangar/internal/ui"
)

var updateCfg struct {
	check bool
}

var updateCmd = &cobra.Command{
	Use:   "update <installation>",
	Short: "Update an installation's payload to the newest release",
	Long: `Install the newest release of the payload next to the installation,
migrate extensions, models, inputs and outputs, and switch the record
over. The old directory is removed only after the new one installed
cleanly. With --check only report whether an update exists.`,
	Args: cobra.ExactArgs(1),
	RunE: runUpdate,
}

func init() {
	updateCmd.Flags().BoolVar(&updateCfg.check, "check", false, "Only check for an available update")
}

func runUpdate(cmd *cobra.Command, args []string) error {
	if noColor {
		color.NoColor = true
	}
	a, err := newApp(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.findInstallation(args[0])
	if err != nil {
		return err
	}

	style := ui.NewStyle()
	if updateCfg.check {
		available, err := a.scheduler.CheckForUpdate(cmd.Context(), rec)
		if err != nil {
			cmd.Printf("%s release check failed, using cached metadata: %v\n", style.WarnMark, err)
		}
		if available {
			cmd.Printf("%s An update is available for %q (installed: %s)\n",
				style.WarnMark, rec.Name, rec.Version)
		} else {
			cmd.Printf("%s %q is up to date\n", style.SuccessMark, rec.Name)
		}
		return nil
	}

	if err := a.scheduler.ReleaseUpdate(cmd.Context(), rec.ID); err != nil {
		return err
	}
	cmd.Printf("%s Updated %q\n", style.SuccessMark, rec.Name)
	return nil
}
