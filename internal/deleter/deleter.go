// Package deleter removes directory trees in two phases: a counting pass
// with periodic yields, then bottom-up batched removal with progress.
package deleter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	hangarErrors "github.com/hangar-sh/hangar/internal/errors"
)

const (
	// batchSize is the number of entries removed between progress reports
	// and cancellation checks.
	batchSize = 64

	// yieldEvery is the number of enumerated entries between scheduler yields.
	yieldEvery = 512
)

// Progress reports deletion progress per batch.
type Progress struct {
	Percent      float64
	RemovedCount int
	TotalCount   int
	ElapsedSecs  float64
	EtaSecs      float64 // -1 when unknown
}

// ProgressCallback is invoked after every removed batch.
type ProgressCallback func(p Progress)

// Count enumerates all entries under root, yielding periodically so long
// enumerations do not monopolize the scheduler.
func Count(ctx context.Context, root string) (int, error) {
	count := 0
	err := filepath.WalkDir(root, func(path string, _ os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		count++
		if count%yieldEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			// Yield without sleeping meaningfully.
			time.Sleep(0)
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return 0, hangarErrors.Cancelled("delete")
		}
		return 0, fmt.Errorf("failed to enumerate %s: %w", root, err)
	}
	return count, nil
}

// Delete removes root recursively. Entries are removed bottom-up in
// batches; progress is reported per batch and cancellation is honored at
// batch boundaries. A failed enumeration or removal propagates to the
// caller, which decides cleanup.
func Delete(ctx context.Context, root string, onProgress ProgressCallback) error {
	total, err := Count(ctx, root)
	if err != nil {
		return err
	}

	var entries []string
	err = filepath.WalkDir(root, func(path string, _ os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		entries = append(entries, path)
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return hangarErrors.Cancelled("delete")
		}
		return fmt.Errorf("failed to enumerate %s: %w", root, err)
	}

	// Deepest paths first so directories empty out before their own removal.
	sort.Slice(entries, func(i, j int) bool {
		return len(entries[i]) > len(entries[j])
	})

	started := time.Now()
	removed := 0
	for i, path := range entries {
		if i%batchSize == 0 {
			if err := ctx.Err(); err != nil {
				report(onProgress, removed, total, started)
				return hangarErrors.Cancelled("delete")
			}
		}

		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
		removed++

		if removed%batchSize == 0 {
			report(onProgress, removed, total, started)
		}
	}

	report(onProgress, removed, total, started)
	slog.Debug("directory removed", "root", root, "entries", removed)
	return nil
}

func report(onProgress ProgressCallback, removed, total int, started time.Time) {
	if onProgress == nil {
		return
	}
	elapsed := time.Since(started).Seconds()
	p := Progress{
		RemovedCount: removed,
		TotalCount:   total,
		ElapsedSecs:  elapsed,
		EtaSecs:      -1,
	}
	if total > 0 {
		p.Percent = float64(removed) / float64(total) * 100
		if removed > 0 && elapsed > 0 {
			rate := float64(removed) / elapsed
			p.EtaSecs = float64(total-removed) / rate
		}
	}
	onProgress(p)
}
