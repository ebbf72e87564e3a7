package ui

import (
	"github.com/fatih/color"

	"github.com/hangar-sh/hangar/internal/progress"
)

// Style holds common output styling for CLI commands.
type Style struct {
	SuccessMark string
	FailMark    string
	WarnMark    string
	RunningMark string
	Header      *color.Color
	Path        *color.Color
	Success     *color.Color
	Muted       *color.Color
}

// NewStyle creates a new Style with standard colors.
func NewStyle() *Style {
	return &Style{
		SuccessMark: color.New(color.FgGreen).Sprint("✓"),
		FailMark:    color.New(color.FgRed).Sprint("✗"),
		WarnMark:    color.New(color.FgYellow).Sprint("⚠"),
		RunningMark: color.New(color.FgCyan).Sprint("▶"),
		Header:      color.New(color.FgCyan, color.Bold),
		Path:        color.New(color.FgCyan),
		Success:     color.New(color.FgGreen, color.Bold),
		Muted:       color.New(color.Faint),
	}
}

// PhaseLabel returns the display label for a progress phase.
func PhaseLabel(phase progress.Phase) string {
	switch phase {
	case progress.PhaseDownload:
		return "downloading"
	case progress.PhaseExtract:
		return "extracting"
	case progress.PhaseDelete:
		return "deleting"
	case progress.PhaseRestore:
		return "restoring"
	case progress.PhaseLaunch:
		return "launching"
	default:
		return string(phase)
	}
}
