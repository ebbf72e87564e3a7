package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hangar-sh/hangar/internal/launcherpath"
	"github.com/hangar-sh/hangar/internal/logstream"
	"github.com/hangar-sh/hangar/internal/ui"
)

var logsListSessions bool

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show operation logs from the last session",
	Long: `Show the failure logs flushed by the most recent session.

Without arguments, prints every flushed log of the latest session.

Examples:
  hangar logs           # show logs from the latest session
  hangar logs --list    # list all sessions`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

func init() {
	logsCmd.Flags().BoolVar(&logsListSessions, "list", false, "List all log sessions")
}

func runLogs(cmd *cobra.Command, _ []string) error {
	if noColor {
		color.NoColor = true
	}

	paths, err := launcherpath.New()
	if err != nil {
		return err
	}
	logsDir := paths.LogDir()

	if logsListSessions {
		return listSessions(cmd, logsDir)
	}
	return showLatestSession(cmd, logsDir)
}

func listSessions(cmd *cobra.Command, logsDir string) error {
	style := ui.NewStyle()

	sessions, err := logstream.ListSessions(logsDir)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		cmd.Println("No log sessions found.")
		return nil
	}

	style.Header.Fprintln(cmd.OutOrStdout(), "Log Sessions:")
	for _, s := range sessions {
		logs, err := logstream.ReadSession(s.Dir)
		if err != nil {
			continue
		}
		cmd.Printf("  %s  (%d logs)\n", s.ID, len(logs))
	}
	return nil
}

func showLatestSession(cmd *cobra.Command, logsDir string) error {
	style := ui.NewStyle()

	sessions, err := logstream.ListSessions(logsDir)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		cmd.Println("No log sessions found.")
		return nil
	}

	latest := sessions[0]
	logs, err := logstream.ReadSession(latest.Dir)
	if err != nil {
		return err
	}
	if len(logs) == 0 {
		cmd.Printf("No failure logs in session %s.\n", latest.ID)
		return nil
	}

	style.Header.Fprintf(cmd.OutOrStdout(), "Session: %s\n", latest.ID)
	for _, l := range logs {
		cmd.Println()
		cmd.Printf("  %s %s\n", style.FailMark, l.FileName)
		cmd.Print(l.Content)
	}
	return nil
}
