package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hangar-sh/hangar/internal/diskspace"
	"github.com/hangar-sh/hangar/internal/source"
	"github.com/hangar-sh/hangar/internal/ui"
)

var installCfg struct {
	source      string
	name        string
	path        string
	downloadURL string
	url         string
	force       bool
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Create and install a new installation",
	Long: `Create a new installation and run its install pipeline.

  hangar install --source portable --name "Build A" --path ~/builds/a --download-url <archive-url>
  hangar install --source git --name "Dev checkout" --path ~/src/payload
  hangar install --source remote --name "Studio box" --url http://10.0.0.5:8188`,
	Args: cobra.NoArgs,
	RunE: runInstall,
}

func init() {
	installCmd.Flags().StringVarP(&installCfg.source, "source", "s", "portable", "Source plugin (portable, standalone, git, remote, cloud)")
	installCmd.Flags().StringVarP(&installCfg.name, "name", "n", "", "Display name")
	installCmd.Flags().StringVarP(&installCfg.path, "path", "p", "", "Install directory")
	installCmd.Flags().StringVar(&installCfg.downloadURL, "download-url", "", "Archive URL for the portable source")
	installCmd.Flags().StringVar(&installCfg.url, "url", "", "Endpoint URL for the remote source")
	installCmd.Flags().BoolVar(&installCfg.force, "force", false, "Skip install path validation")
}

func runInstall(cmd *cobra.Command, _ []string) error {
	if noColor {
		color.NoColor = true
	}
	a, err := newApp(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.Close()

	if installCfg.path != "" && !installCfg.force {
		var existing []string
		for _, rec := range a.registry.List() {
			if rec.InstallPath != "" {
				existing = append(existing, rec.InstallPath)
			}
		}
		issues := diskspace.ValidateInstallPath(installCfg.path, diskspace.Rules{
			LauncherDirs:    []string{a.paths.ConfigDir(), a.paths.DataDir(), a.paths.CacheDir()},
			UpdaterCacheDir: a.paths.UpdaterCacheDir(),
			InstallPaths:    existing,
		})
		if len(issues) > 0 {
			for _, issue := range issues {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s %s\n", ui.NewStyle().WarnMark, issue)
			}
			return fmt.Errorf("install path %q rejected, use --force to override", installCfg.path)
		}
	}

	selections := map[string]string{
		"name":        installCfg.name,
		"installPath": installCfg.path,
		"downloadUrl": installCfg.downloadURL,
		"url":         installCfg.url,
	}
	if err := checkRequiredFields(a, installCfg.source, selections); err != nil {
		return err
	}
	rec, err := a.scheduler.AddInstallation(installCfg.source, selections)
	if err != nil {
		return err
	}
	a.progress.SetName(rec.ID, rec.Name)
	cmd.Printf("Created %q (%s)\n", rec.Name, rec.ID)

	if err := a.scheduler.Install(cmd.Context(), rec.ID); err != nil {
		return err
	}

	style := ui.NewStyle()
	cmd.Printf("%s Installed %q\n", style.SuccessMark, rec.Name)
	return nil
}

// checkRequiredFields reports the source's missing required fields by
// label, counting plugin defaults as filled.
func checkRequiredFields(a *app, sourceID string, selections map[string]string) error {
	plugin, err := a.catalog.Get(sourceID)
	if err != nil {
		return err
	}
	defaults := source.Defaults(plugin)
	var missing []string
	for _, f := range plugin.Fields() {
		if !f.Required || selections[f.ID] != "" || defaults[f.ID] != "" {
			continue
		}
		missing = append(missing, f.Label)
	}
	if len(missing) > 0 {
		return fmt.Errorf("source %q needs: %s", sourceID, strings.Join(missing, ", "))
	}
	return nil
}
