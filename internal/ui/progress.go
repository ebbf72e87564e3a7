// Package ui renders operation progress and summaries for the CLI.
package ui

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/hangar-sh/hangar/internal/progress"
)

// ProgressManager renders progress events as bars on a TTY and as plain
// phase lines everywhere else. It satisfies progress.Sink.
type ProgressManager struct {
	mu    sync.Mutex
	w     io.Writer
	isTTY bool
	style *Style

	progress *mpb.Progress
	bars     map[string]*mpb.Bar
	// started tracks phases announced in plain mode so each phase
	// prints one line, not one per tick.
	started map[string]bool
	// names maps installation ids to display names.
	names map[string]string
}

// NewProgressManager creates a progress manager writing to w.
func NewProgressManager(w io.Writer) *ProgressManager {
	isTTY := false
	if f, ok := w.(*os.File); ok {
		isTTY = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}

	pm := &ProgressManager{
		w:       w,
		isTTY:   isTTY,
		style:   NewStyle(),
		bars:    make(map[string]*mpb.Bar),
		started: make(map[string]bool),
		names:   make(map[string]string),
	}
	if isTTY {
		pm.progress = mpb.New(mpb.WithOutput(w), mpb.WithWidth(40))
	}
	return pm
}

// SetName registers a display name for an installation id.
func (pm *ProgressManager) SetName(installationID, name string) {
	pm.mu.Lock()
	pm.names[installationID] = name
	pm.mu.Unlock()
}

// Wait blocks until all bars have rendered their final state.
func (pm *ProgressManager) Wait() {
	if pm.progress != nil {
		pm.progress.Wait()
	}
}

func barKey(installationID string, phase progress.Phase) string {
	return installationID + "/" + string(phase)
}

// Publish implements progress.Sink.
func (pm *ProgressManager) Publish(e progress.Event) {
	key := barKey(e.InstallationID, e.Phase)
	if pm.isTTY {
		pm.publishBar(e, key)
		return
	}
	pm.publishPlain(e, key)
}

func (pm *ProgressManager) publishBar(e progress.Event, key string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	bar, ok := pm.bars[key]
	if !ok {
		if e.Percent >= 100 {
			// Terminal tick for a phase that never showed a bar.
			return
		}
		bar = pm.progress.AddBar(100,
			mpb.BarFillerClearOnComplete(),
			mpb.PrependDecorators(
				decor.Name(fmt.Sprintf("  %s %s ", PhaseLabel(e.Phase), pm.displayName(e.InstallationID)),
					decor.WC{W: 30, C: decor.DindentRight}),
			),
			mpb.AppendDecorators(
				decor.Percentage(decor.WC{W: 5}),
				decor.OnComplete(decor.Name(""), " done"),
			),
		)
		pm.bars[key] = bar
	}

	switch {
	case e.Percent < 0:
		// Unknown total; leave the bar where it is.
	case e.Percent >= 100:
		bar.SetCurrent(100)
		delete(pm.bars, key)
	default:
		bar.SetCurrent(int64(e.Percent))
	}
}

func (pm *ProgressManager) publishPlain(e progress.Event, key string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if !pm.started[key] {
		pm.started[key] = true
		fmt.Fprintf(pm.w, "  %s %s %s\n",
			pm.style.RunningMark, PhaseLabel(e.Phase), pm.displayName(e.InstallationID))
	}
	if e.Percent >= 100 {
		delete(pm.started, key)
		fmt.Fprintf(pm.w, "  %s %s %s done\n",
			pm.style.SuccessMark, PhaseLabel(e.Phase), pm.displayName(e.InstallationID))
	}
}

// displayName must be called with pm.mu held.
func (pm *ProgressManager) displayName(installationID string) string {
	if name, ok := pm.names[installationID]; ok {
		return pm.style.Path.Sprint(name)
	}
	return pm.style.Path.Sprint(installationID)
}
