package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hangar-sh/hangar/internal/proc"
	"github.com/hangar-sh/hangar/internal/ui"
)

var stopCmd = &cobra.Command{
	Use:   "stop <installation>",
	Short: "Stop a running installation",
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

		// Sessions started by another process are found through their
		// port locks.
		locks, err := proc.ActivePortLocks(a.paths.PortLockDir())
		if err != nil {
			return err
		}
		for port, lock := range locks {
			if lock.InstallationName != rec.Name {
				continue
			}
			if _, err := proc.KillByPort(port); err != nil {
				return err
			}
			if err := proc.RemovePortLock(a.paths.PortLockDir(), port); err != nil {
				return err
			}
			cmd.Printf("%s Stopped %q (port %d)\n", ui.NewStyle().SuccessMark, rec.Name, port)
			return nil
		}
		return fmt.Errorf("%q is not running", rec.Name)
	},
}
