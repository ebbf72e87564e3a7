// Package installer composes the download cache, downloader and
// extractor into the install pipeline.
package installer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hangar-sh/hangar/internal/cache"
	"github.com/hangar-sh/hangar/internal/download"
	"github.com/hangar-sh/hangar/internal/extract"
)

// Phase identifies which stage a progress tick belongs to.
type Phase string

const (
	PhaseDownload Phase = "download"
	PhaseExtract  Phase = "extract"
)

// ProgressCallback receives pipeline progress per phase.
type ProgressCallback func(phase Phase, percent float64)

// Pipeline wires the cache, downloader and extractor together.
type Pipeline struct {
	cache      *cache.Cache
	downloader download.Downloader
	extractor  *extract.Extractor
}

// New creates a Pipeline.
func New(c *cache.Cache, d download.Downloader, e *extract.Extractor) *Pipeline {
	return &Pipeline{cache: c, downloader: d, extractor: e}
}

// File is one remote archive to fetch.
type File struct {
	URL      string
	CacheKey string
}

// DownloadAndExtract fetches url (or reuses the cached copy) and
// extracts it into dest. Partial downloads are removed by the
// downloader on failure; a failed extraction keeps the cached archive
// so a retry skips the download.
func (p *Pipeline) DownloadAndExtract(ctx context.Context, url, dest, cacheKey string, onProgress ProgressCallback) error {
	archive, err := p.fetch(ctx, File{URL: url, CacheKey: cacheKey}, onProgress)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dest, 0755); err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}
	return p.extractor.Extract(ctx, archive, dest, func(pct float64) {
		if onProgress != nil {
			onProgress(PhaseExtract, pct)
		}
	})
}

// DownloadAndExtractMulti fetches all files then extracts them into dest
// in order. Split archives are downloaded part by part; only the .001
// part is handed to the extractor, which concatenates implicitly.
func (p *Pipeline) DownloadAndExtractMulti(ctx context.Context, files []File, dest string, onProgress ProgressCallback) error {
	var archives []string
	for _, f := range files {
		archive, err := p.fetch(ctx, f, onProgress)
		if err != nil {
			return err
		}
		archives = append(archives, archive)
	}

	if err := os.MkdirAll(dest, 0755); err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}

	for _, archive := range archives {
		if extract.IsSplitPart(archive) && !isFirstPart(archive) {
			continue
		}
		if err := p.extractor.Extract(ctx, archive, dest, func(pct float64) {
			if onProgress != nil {
				onProgress(PhaseExtract, pct)
			}
		}); err != nil {
			return err
		}
	}
	return nil
}

// fetch returns the local archive path for f, downloading unless cached.
func (p *Pipeline) fetch(ctx context.Context, f File, onProgress ProgressCallback) (string, error) {
	key := f.CacheKey
	if key == "" {
		key = filepath.Base(f.URL)
	}
	archive := p.cache.Path(key)

	if p.cache.IsCached(key) {
		slog.Debug("using cached archive", "key", key)
		_ = p.cache.Touch(key)
		if onProgress != nil {
			onProgress(PhaseDownload, 100)
		}
		return archive, nil
	}

	_, err := p.downloader.Download(ctx, f.URL, archive, func(dp download.Progress) {
		if onProgress != nil {
			onProgress(PhaseDownload, dp.Percent)
		}
	}, nil)
	if err != nil {
		return "", err
	}
	_ = p.cache.Touch(key)
	return archive, nil
}

func isFirstPart(path string) bool {
	return filepath.Ext(path) == ".001"
}
