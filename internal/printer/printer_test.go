package printer

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hangar-sh/hangar/internal/registry"
	"github.com/hangar-sh/hangar/internal/snapshot"
)

func TestPrintInstallations_Table(t *testing.T) {
	launched := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := []InstallationRow{
		{
			Record: &registry.Record{
				Name: "Build A", Status: registry.StatusInstalled,
				Version: "v0.3.30", SourceID: "comfyui", Primary: true,
				LastLaunchedAt: &launched,
			},
			Running: true, Port: 8188,
		},
		{
			Record: &registry.Record{
				Name: "Build B", Status: registry.StatusFailed, SourceID: "comfyui",
			},
			UpdateAvailable: true,
		},
	}

	var buf bytes.Buffer
	require.NoError(t, PrintInstallations(&buf, rows, false, false))

	out := buf.String()
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "Build A *")
	assert.Contains(t, out, "running")
	assert.Contains(t, out, "8188")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "available")
	// Wide-only columns are absent.
	assert.NotContains(t, out, "PATH")
}

func TestPrintInstallations_Wide(t *testing.T) {
	rows := []InstallationRow{
		{Record: &registry.Record{
			Name: "Build A", Status: registry.StatusInstalled,
			SourceID: "comfyui", InstallPath: "/opt/builds/a",
		}},
	}

	var buf bytes.Buffer
	require.NoError(t, PrintInstallations(&buf, rows, true, false))
	assert.Contains(t, buf.String(), "/opt/builds/a")
	assert.Contains(t, buf.String(), "comfyui")
}

func TestPrintInstallations_JSON(t *testing.T) {
	rows := []InstallationRow{
		{Record: &registry.Record{Name: "Build A", Status: registry.StatusInstalled}},
	}

	var buf bytes.Buffer
	require.NoError(t, PrintInstallations(&buf, rows, false, true))

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 1)
}

func TestPrintInstallations_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintInstallations(&buf, nil, false, false))
	assert.Contains(t, buf.String(), "No installations found.")
}

func TestPrintSnapshots_Table(t *testing.T) {
	entries := []snapshot.Entry{
		{
			Name: "20260301_120000_000-boot-abc123.json",
			Snapshot: &snapshot.Snapshot{
				Trigger:   snapshot.TriggerBoot,
				CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
				Extensions: []snapshot.Extension{
					{Type: snapshot.ExtensionRegistry, DirName: "comfyui-manager"},
				},
			},
		},
		{
			Name: "20260302_090000_000-manual-def456.json",
			Snapshot: &snapshot.Snapshot{
				Trigger:   snapshot.TriggerManual,
				Label:     "before experiment",
				CreatedAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
			},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, PrintSnapshots(&buf, entries, false))

	out := buf.String()
	assert.Contains(t, out, "boot")
	assert.Contains(t, out, "before experiment")
	assert.Contains(t, out, "20260301_120000_000-boot-abc123.json")
}
