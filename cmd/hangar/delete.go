package main

import (
	"bufio"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hangar-sh/hangar/internal/ui"
)

var deleteCfg struct {
	yes bool
}

var deleteCmd = &cobra.Command{
	Use:   "delete <installation>",
	Short: "Delete an installation's files and registry entry",
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

		if !deleteCfg.yes {
			cmd.Printf("Delete %q and all files under %s? [y/N] ", rec.Name, rec.InstallPath)
			reader := bufio.NewReader(os.Stdin)
			answer, _ := reader.ReadString('\n')
			answer = strings.TrimSpace(strings.ToLower(answer))
			if answer != "y" && answer != "yes" {
				cmd.Println("Canceled.")
				return nil
			}
		}

		if err := a.scheduler.Delete(cmd.Context(), rec.ID); err != nil {
			return err
		}
		cmd.Printf("%s Deleted %q\n", ui.NewStyle().SuccessMark, rec.Name)
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:     "remove <installation>",
	Aliases: []string{"untrack"},
	Short:   "Remove an installation from the registry, keeping its files",
	Args:    cobra.ExactArgs(1),
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
		if err := a.scheduler.Untrack(rec.ID); err != nil {
			return err
		}
		cmd.Printf("%s Removed %q from the registry; files kept at %s\n",
			ui.NewStyle().SuccessMark, rec.Name, rec.InstallPath)
		return nil
	},
}

func init() {
	deleteCmd.Flags().BoolVarP(&deleteCfg.yes, "yes", "y", false, "Skip confirmation prompt")
}
