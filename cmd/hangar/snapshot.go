package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hangar-sh/hangar/internal/printer"
	"github.com/hangar-sh/hangar/internal/snapshot"
	"github.com/hangar-sh/hangar/internal/ui"
)

var snapshotCfg struct {
	label  string
	output string
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage installation snapshots",
}

var snapshotListCmd = &cobra.Command{
	Use:   "list <installation>",
	Short: "List snapshots, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.findInstallation(args[0])
		if err != nil {
			return err
		}
		entries, err := a.scheduler.ListSnapshots(rec.ID)
		if err != nil {
			return err
		}
		return printer.PrintSnapshots(cmd.OutOrStdout(), entries, snapshotCfg.output == outputJSON)
	},
}

var snapshotCreateCmd = &cobra.Command{
	Use:   "create <installation>",
	Short: "Capture a snapshot of the current state",
	Args:  cobra.ExactArgs(1),
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
		name, err := a.scheduler.CaptureSnapshot(cmd.Context(), rec.ID, snapshot.TriggerManual, snapshotCfg.label)
		if err != nil {
			return err
		}
		cmd.Printf("%s Saved snapshot %s\n", ui.NewStyle().SuccessMark, name)
		return nil
	},
}

var snapshotRestoreCmd = &cobra.Command{
	Use:   "restore <installation> <snapshot>",
	Short: "Restore an installation to a snapshot",
	Args:  cobra.ExactArgs(2),
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
		result, err := a.scheduler.RestoreSnapshot(cmd.Context(), rec.ID, args[1])
		if err != nil {
			return err
		}

		style := ui.NewStyle()
		if ext := result.Extensions; ext != nil {
			cmd.Printf("  extensions: %d installed, %d switched, %d moved, %d removed, %d failed\n",
				len(ext.Installed), len(ext.Switched), len(ext.Moved), len(ext.Removed), len(ext.Failed))
		}
		if pkg := result.Packages; pkg != nil {
			cmd.Printf("  packages: %d installed, %d changed, %d removed, %d protected skipped\n",
				len(pkg.Installed), len(pkg.Changed), len(pkg.Removed), len(pkg.ProtectedSkipped))
		}
		cmd.Printf("%s Restored %q to %s\n", style.SuccessMark, rec.Name, args[1])
		return nil
	},
}

var snapshotDeleteCmd = &cobra.Command{
	Use:   "delete <installation> <snapshot>",
	Short: "Delete one snapshot",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.findInstallation(args[0])
		if err != nil {
			return err
		}
		if err := a.scheduler.DeleteSnapshot(rec.ID, args[1]); err != nil {
			return err
		}
		cmd.Printf("%s Deleted snapshot %s\n", ui.NewStyle().SuccessMark, args[1])
		return nil
	},
}

func init() {
	snapshotCreateCmd.Flags().StringVarP(&snapshotCfg.label, "label", "l", "", "Label for the snapshot")
	snapshotListCmd.Flags().StringVarP(&snapshotCfg.output, "output", "o", "text", "Output format (text, json)")

	snapshotCmd.AddCommand(
		snapshotListCmd,
		snapshotCreateCmd,
		snapshotRestoreCmd,
		snapshotDeleteCmd,
	)
}
