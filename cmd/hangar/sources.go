package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hangar-sh/hangar/internal/source"
	"github.com/hangar-sh/hangar/internal/ui"
)

var sourcesCfg struct {
	options string
}

var sourcesCmd = &cobra.Command{
	Use:   "sources [source]",
	Short: "List the installation sources and their fields",
	Long: `List the available installation sources. With a source argument, show
its field schema; with --options, list the selectable values of one
field.

Examples:
  hangar sources
  hangar sources portable
  hangar sources portable --options version`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSources,
}

func init() {
	sourcesCmd.Flags().StringVar(&sourcesCfg.options, "options", "", "List the options of the given field")
}

func runSources(cmd *cobra.Command, args []string) error {
	if noColor {
		color.NoColor = true
	}
	a, err := newApp(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.Close()

	if len(args) == 0 {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SOURCE\tLABEL\tCATEGORY")
		for _, p := range a.catalog.List() {
			fmt.Fprintf(w, "%s\t%s\t%s\n", p.ID(), p.Label(), p.Category())
		}
		return w.Flush()
	}

	plugin, err := a.catalog.Get(args[0])
	if err != nil {
		return err
	}

	if sourcesCfg.options != "" {
		opts, err := plugin.FieldOptions(cmd.Context(), sourcesCfg.options, map[string]string{})
		if err != nil {
			return err
		}
		if len(opts) == 0 {
			cmd.Printf("No options for field %q.\n", sourcesCfg.options)
			return nil
		}
		for _, o := range opts {
			cmd.Printf("%s\t%s\n", o.Value, o.Label)
		}
		return nil
	}

	style := ui.NewStyle()
	style.Header.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", plugin.Label(), plugin.ID())
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FIELD\tLABEL\tTYPE\tREQUIRED")
	for _, f := range plugin.Fields() {
		required := ""
		if f.Required {
			required = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", f.ID, f.Label, f.Type, required)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if defaults := source.Defaults(plugin); len(defaults) > 0 {
		cmd.Println()
		for k, v := range defaults {
			cmd.Printf("  default %s = %s\n", k, v)
		}
	}
	return nil
}
