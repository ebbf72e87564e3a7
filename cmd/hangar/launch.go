package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hangar-sh/hangar/internal/scheduler"
	"github.com/hangar-sh/hangar/internal/snapshot"
	"github.com/hangar-sh/hangar/internal/ui"
)

var launchCfg struct {
	detach     bool
	noSnapshot bool
}

var launchCmd = &cobra.Command{
	Use:   "launch <installation>",
	Short: "Launch an installation and supervise it",
	Long: `Launch an installation, wait until it serves, and keep supervising it
in the foreground. Interrupting the command stops the payload. With
--detach the command returns as soon as the payload is up and leaves
it running.`,
	Args: cobra.ExactArgs(1),
	RunE: runLaunch,
}

func init() {
	launchCmd.Flags().BoolVarP(&launchCfg.detach, "detach", "d", false, "Return once the payload is up")
	launchCmd.Flags().BoolVar(&launchCfg.noSnapshot, "no-snapshot", false, "Skip the boot snapshot")
}

func runLaunch(cmd *cobra.Command, args []string) error {
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

	if !launchCfg.noSnapshot {
		if _, err := a.scheduler.CaptureSnapshot(cmd.Context(), rec.ID, snapshot.TriggerBoot, ""); err != nil {
			cmd.Printf("%s boot snapshot failed: %v\n", ui.NewStyle().WarnMark, err)
		}
	}

	events, cancel := a.scheduler.Subscribe()
	defer cancel()

	result, err := a.scheduler.Launch(cmd.Context(), rec.ID)
	if err != nil {
		return err
	}

	style := ui.NewStyle()
	if !result.OK {
		return reportPortConflict(cmd, style, result)
	}
	cmd.Printf("%s %s is running at %s (pid %d)\n", style.SuccessMark, rec.Name, style.Path.Sprint(result.URL), result.PID)

	if launchCfg.detach {
		return nil
	}

	// The launch command is the one long-lived process, so the periodic
	// duties live here: release polling and the ETag warm-up.
	go a.scheduler.WarmupMetadata(cmd.Context(), scheduler.MetadataWarmupURLs())
	a.scheduler.StartUpdatePolling(cmd.Context(), 10*time.Second, time.Hour)

	for {
		select {
		case <-cmd.Context().Done():
			return a.scheduler.Stop(rec.ID)
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if e.Kind != scheduler.EventSessionExited || e.InstallationID != rec.ID {
				continue
			}
			if e.Crashed {
				return fmt.Errorf("%s exited unexpectedly", rec.Name)
			}
			cmd.Printf("%s %s exited\n", style.SuccessMark, rec.Name)
			return nil
		}
	}
}

func reportPortConflict(cmd *cobra.Command, style *ui.Style, result *scheduler.LaunchResult) error {
	pc := result.PortConflict
	if pc == nil {
		return fmt.Errorf("launch refused: %s", result.Message)
	}
	cmd.Printf("%s %s\n", style.WarnMark, result.Message)
	if pc.IsComfy {
		cmd.Println("  The occupant looks like another installation of the payload.")
	}
	if len(pc.PIDs) > 0 {
		cmd.Printf("  Listening PIDs: %v\n", pc.PIDs)
	}
	if pc.NextPort > 0 {
		cmd.Printf("  Next free port: %d (set the port-conflict policy to \"auto\" to use it)\n", pc.NextPort)
	}
	return fmt.Errorf("port %d is in use", pc.Port)
}
