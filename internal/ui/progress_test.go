package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"github.com/hangar-sh/hangar/internal/progress"
)

func TestProgressManager_PlainMode(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	pm := NewProgressManager(&buf)
	pm.SetName("inst-1", "Build A")

	// Intermediate ticks produce one start line, not one per tick.
	pm.Publish(progress.Event{InstallationID: "inst-1", Phase: progress.PhaseDownload, Percent: 10})
	pm.Publish(progress.Event{InstallationID: "inst-1", Phase: progress.PhaseDownload, Percent: 50})
	pm.Publish(progress.Event{InstallationID: "inst-1", Phase: progress.PhaseDownload, Percent: 100})
	pm.Publish(progress.Event{InstallationID: "inst-1", Phase: progress.PhaseExtract, Percent: 100})

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "▶ downloading Build A"))
	assert.Contains(t, out, "✓ downloading Build A done")
	assert.Contains(t, out, "✓ extracting Build A done")
}

func TestProgressManager_UnknownInstallationFallsBackToID(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	pm := NewProgressManager(&buf)
	pm.Publish(progress.Event{InstallationID: "inst-2", Phase: progress.PhaseDelete, Percent: 0})
	assert.Contains(t, buf.String(), "deleting inst-2")
}

func TestPhaseLabel(t *testing.T) {
	assert.Equal(t, "downloading", PhaseLabel(progress.PhaseDownload))
	assert.Equal(t, "restoring", PhaseLabel(progress.PhaseRestore))
	assert.Equal(t, "custom", PhaseLabel(progress.Phase("custom")))
}
