package extract

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"

	hangarErrors "github.com/hangar-sh/hangar/internal/errors"
)

// ProgressCallback reports extraction progress. percent is in [0, 100].
type ProgressCallback func(percent float64)

// Extractor drives a Codec, parsing progress from its textual output and
// unwrapping nested single-entry archives.
type Extractor struct {
	codec Codec
}

// New creates an Extractor over the given codec.
func New(codec Codec) *Extractor {
	return &Extractor{codec: codec}
}

var percentRe = regexp.MustCompile(`(\d{1,3})%`)

// Extract unpacks archivePath into destDir. On success the final 100% tick
// is always emitted regardless of codec output. If after extraction the
// destination holds exactly one non-hidden entry which is itself an archive
// (a .tar inside a .7z wrapper), it is extracted a second time in place and
// removed; on POSIX the inner pass uses native tar to preserve symlinks.
func (e *Extractor) Extract(ctx context.Context, archivePath, destDir string, onProgress ProgressCallback) error {
	onOutput := func(line string) {
		if onProgress == nil {
			return
		}
		if m := percentRe.FindStringSubmatch(line); m != nil {
			if pct, err := strconv.Atoi(m[1]); err == nil && pct >= 0 && pct <= 100 {
				onProgress(float64(pct))
			}
		}
	}

	if err := e.codec.Extract(ctx, archivePath, destDir, onOutput); err != nil {
		if ctx.Err() != nil {
			return hangarErrors.Cancelled("extraction")
		}
		var soft *SoftError
		if stderrors.As(err, &soft) {
			slog.Warn("codec reported tolerable errors", "archive", archivePath, "lines", len(soft.Lines))
		} else {
			return &hangarErrors.Error{
				Category: hangarErrors.CategoryInstall,
				Code:     hangarErrors.CodeExtractionFailed,
				Message:  fmt.Sprintf("failed to extract %s", filepath.Base(archivePath)),
				Cause:    err,
			}
		}
	}

	if err := e.unwrapNested(ctx, destDir); err != nil {
		return err
	}

	if onProgress != nil {
		onProgress(100)
	}
	return nil
}

// unwrapNested extracts a lone inner archive in place and removes it.
func (e *Extractor) unwrapNested(ctx context.Context, destDir string) error {
	inner, ok, err := soleArchiveEntry(destDir)
	if err != nil || !ok {
		return err
	}

	slog.Debug("extracting nested archive", "archive", inner)

	if runtime.GOOS != "windows" && strings.HasSuffix(strings.ToLower(inner), ".tar") {
		// Native tar preserves symlinks in embedded interpreter trees.
		cmd := exec.CommandContext(ctx, "tar", "-xf", inner, "-C", destDir)
		if out, err := cmd.CombinedOutput(); err != nil {
			if ctx.Err() != nil {
				return hangarErrors.Cancelled("extraction")
			}
			return &hangarErrors.Error{
				Category: hangarErrors.CategoryInstall,
				Code:     hangarErrors.CodeTarExtractionFailed,
				Message:  "failed to extract inner tar archive",
				Details:  map[string]any{"output": strings.TrimSpace(string(out))},
				Cause:    err,
			}
		}
	} else {
		if err := e.codec.Extract(ctx, inner, destDir, nil); err != nil {
			if ctx.Err() != nil {
				return hangarErrors.Cancelled("extraction")
			}
			var soft *SoftError
			if !stderrors.As(err, &soft) {
				return &hangarErrors.Error{
					Category: hangarErrors.CategoryInstall,
					Code:     hangarErrors.CodeExtractionFailed,
					Message:  "failed to extract inner archive",
					Cause:    err,
				}
			}
		}
	}

	return os.Remove(inner)
}

// soleArchiveEntry returns the single non-hidden entry of dir when that
// entry is itself an archive.
func soleArchiveEntry(dir string) (string, bool, error) {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return "", false, fmt.Errorf("failed to list destination: %w", err)
	}

	var visible []string
	for _, de := range dirents {
		if strings.HasPrefix(de.Name(), ".") {
			continue
		}
		visible = append(visible, de.Name())
	}
	if len(visible) != 1 {
		return "", false, nil
	}

	name := strings.ToLower(visible[0])
	for _, suffix := range []string{".tar", ".tar.gz", ".tgz", ".tar.xz", ".txz", ".zip"} {
		if strings.HasSuffix(name, suffix) {
			return filepath.Join(dir, visible[0]), true, nil
		}
	}
	return "", false, nil
}
