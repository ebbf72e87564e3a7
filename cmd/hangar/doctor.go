package main

import (
	"os/exec"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hangar-sh/hangar/internal/diskspace"
	"github.com/hangar-sh/hangar/internal/hardware"
	"github.com/hangar-sh/hangar/internal/launcherpath"
	"github.com/hangar-sh/hangar/internal/ui"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the environment for problems",
	Long: `Probe the GPU, the uv executable and the disk space of the default
install location, and report anything that would keep installations
from working.`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	if noColor {
		color.NoColor = true
	}
	style := ui.NewStyle()
	w := cmd.OutOrStdout()

	style.Header.Fprintln(w, "Hardware")
	info, err := hardware.Probe()
	if err != nil {
		cmd.Printf("  %s GPU probe failed: %v\n", style.WarnMark, err)
	} else if gpu := info.Primary(); gpu != nil {
		cmd.Printf("  %s %s (%s", style.SuccessMark, gpu.Name, gpu.Vendor)
		if gpu.DriverVersion != "" {
			cmd.Printf(", driver %s", gpu.DriverVersion)
		}
		cmd.Println(")")
		if ok, reason := hardware.Supported(info); !ok {
			cmd.Printf("  %s %s\n", style.WarnMark, reason)
		}
	} else {
		cmd.Printf("  %s no GPU detected, payloads will run on CPU\n", style.WarnMark)
	}

	style.Header.Fprintln(w, "Tools")
	if path, err := exec.LookPath("uv"); err != nil {
		cmd.Printf("  %s uv not found: environments cannot be managed\n", style.FailMark)
	} else {
		cmd.Printf("  %s uv at %s\n", style.SuccessMark, path)
	}

	style.Header.Fprintln(w, "Disk")
	paths, err := launcherpath.New()
	if err != nil {
		return err
	}
	space, err := diskspace.GetDiskSpace(paths.DefaultInstallDir())
	if err != nil {
		cmd.Printf("  %s %v\n", style.WarnMark, err)
		return nil
	}
	cmd.Printf("  %s %s: %.1f GiB free of %.1f GiB\n", style.SuccessMark,
		paths.DefaultInstallDir(),
		float64(space.FreeBytes)/(1<<30), float64(space.TotalBytes)/(1<<30))
	return nil
}
