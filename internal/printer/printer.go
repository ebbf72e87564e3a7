// Package printer renders installations and snapshots as tables or JSON
// for the get/list commands.
package printer

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/hangar-sh/hangar/internal/registry"
	"github.com/hangar-sh/hangar/internal/snapshot"
)

// Common column header constants.
const (
	colName    = "NAME"
	colStatus  = "STATUS"
	colVersion = "VERSION"
)

// InstallationRow pairs a record with the live state the registry does
// not know about.
type InstallationRow struct {
	Record          *registry.Record
	Running         bool
	Port            int
	UpdateAvailable bool
}

// PrintInstallations renders installation rows as a table or JSON.
func PrintInstallations(w io.Writer, rows []InstallationRow, wide, jsonOut bool) error {
	if jsonOut {
		return printJSON(w, rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(w, "No installations found.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(installationHeaders(wide), "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(installationRow(row, wide), "\t"))
	}
	return tw.Flush()
}

func installationHeaders(wide bool) []string {
	h := []string{colName, colStatus, colVersion, "PORT", "UPDATE"}
	if wide {
		h = append(h, "SOURCE", "LAST_LAUNCHED", "PATH")
	}
	return h
}

func installationRow(row InstallationRow, wide bool) []string {
	rec := row.Record

	status := string(rec.Status)
	if row.Running {
		status = "running"
	}

	port := "-"
	if row.Running && row.Port > 0 {
		port = fmt.Sprintf("%d", row.Port)
	}

	update := "-"
	if row.UpdateAvailable {
		update = "available"
	}

	name := rec.Name
	if rec.Primary {
		name += " *"
	}
	if rec.Pinned {
		name += " (pinned)"
	}

	cols := []string{name, status, orDash(rec.Version), port, update}
	if wide {
		cols = append(cols, rec.SourceID, formatTime(rec.LastLaunchedAt), orDash(rec.InstallPath))
	}
	return cols
}

// PrintSnapshots renders snapshot entries as a table or JSON.
func PrintSnapshots(w io.Writer, entries []snapshot.Entry, jsonOut bool) error {
	if jsonOut {
		return printJSON(w, entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "No snapshots found.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join([]string{colName, "TRIGGER", "LABEL", "CREATED", "EXTENSIONS", "PACKAGES"}, "\t"))
	for _, e := range entries {
		fmt.Fprintln(tw, strings.Join([]string{
			e.Name,
			string(e.Snapshot.Trigger),
			orDash(e.Snapshot.Label),
			formatTime(&e.Snapshot.CreatedAt),
			fmt.Sprintf("%d", len(e.Snapshot.Extensions)),
			fmt.Sprintf("%d", len(e.Snapshot.Packages)),
		}, "\t"))
	}
	return tw.Flush()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
