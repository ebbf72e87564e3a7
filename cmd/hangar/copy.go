package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hangar-sh/hangar/internal/ui"
)

var copyCfg struct {
	update bool
}

var copyCmd = &cobra.Command{
	Use:   "copy <installation>",
	Short: "Duplicate an installation next to the original",
	Long: `Duplicate an installation into a sibling directory and register the
copy. With --update the copy's payload is updated afterwards, leaving
the original untouched.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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

		run := a.scheduler.Copy
		if copyCfg.update {
			run = a.scheduler.CopyUpdate
		}
		copied, err := run(cmd.Context(), rec.ID)
		if err != nil {
			return err
		}
		cmd.Printf("%s Copied %q to %s\n", ui.NewStyle().SuccessMark, rec.Name, copied.InstallPath)
		return nil
	},
}

func init() {
	copyCmd.Flags().BoolVar(&copyCfg.update, "update", false, "Update the copy's payload after copying")
}
