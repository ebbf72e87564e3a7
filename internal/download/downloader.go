// Package download streams HTTP bodies to disk with progress reporting.
package download

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	hangarErrors "github.com/hangar-sh/hangar/internal/errors"
)

// DefaultMaxRedirects caps HTTP 3xx following.
const DefaultMaxRedirects = 5

// progressFloor is the minimum interval between progress callbacks.
const progressFloor = 100 * time.Millisecond

// Progress reports download state at each chunk.
type Progress struct {
	Percent          float64 // -1 when total size is unknown
	ReceivedBytes    int64
	TotalBytes       int64 // -1 when unknown
	SpeedBytesPerSec float64
	ElapsedSecs      float64
	EtaSecs          float64 // -1 when unknown
}

// ProgressCallback is called during download to report progress.
type ProgressCallback func(p Progress)

// Options configures a single download.
type Options struct {
	// MaxRedirects caps 3xx following; 0 means DefaultMaxRedirects.
	MaxRedirects int
}

// Downloader downloads files over HTTP.
type Downloader interface {
	// Download streams url to destPath, creating the parent directory.
	// On cancellation the partial file is removed.
	Download(ctx context.Context, url, destPath string, callback ProgressCallback, opts *Options) (string, error)
}

type httpDownloader struct {
	client *http.Client
}

// NewDownloader creates a Downloader with the default HTTP client.
func NewDownloader() Downloader {
	return NewDownloaderWithClient(nil)
}

// NewDownloaderWithClient creates a Downloader with the given HTTP client.
func NewDownloaderWithClient(client *http.Client) Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpDownloader{client: client}
}

// Download streams url to destPath with optional progress callback.
func (d *httpDownloader) Download(ctx context.Context, url, destPath string, callback ProgressCallback, opts *Options) (string, error) {
	maxRedirects := DefaultMaxRedirects
	if opts != nil && opts.MaxRedirects > 0 {
		maxRedirects = opts.MaxRedirects
	}

	slog.Debug("downloading file", "url", url, "dest", destPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	client := d.redirectCappedClient(maxRedirects)
	resp, err := client.Do(req)
	if err != nil {
		if redirectsExceeded(err) {
			return "", hangarErrors.NewRedirectsError(url, maxRedirects)
		}
		if ctx.Err() != nil {
			return "", hangarErrors.Cancelled("download")
		}
		return "", hangarErrors.NewTransportError(url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", hangarErrors.NewHTTPStatusError(url, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	tmpPath := destPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	cleanup := true
	defer func() {
		if cleanup {
			f.Close()
			os.Remove(tmpPath)
		}
	}()

	var reader io.Reader = resp.Body
	if callback != nil {
		reader = newProgressReader(resp.Body, resp.ContentLength, callback)
	}

	if _, err := io.Copy(f, reader); err != nil {
		if ctx.Err() != nil {
			return "", hangarErrors.Cancelled("download")
		}
		return "", hangarErrors.NewTransportError(url, err)
	}

	if callback != nil {
		if pr, ok := reader.(*progressReader); ok {
			pr.emitFinal()
		}
	}

	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close file: %w", err)
	}
	cleanup = false

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to rename file: %w", err)
	}

	slog.Debug("download completed", "path", destPath)
	return destPath, nil
}

// redirectCappedClient clones the client with a CheckRedirect enforcing the cap.
func (d *httpDownloader) redirectCappedClient(maxRedirects int) *http.Client {
	client := *d.client
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return errTooManyRedirects
		}
		return nil
	}
	return &client
}

var errTooManyRedirects = stderrors.New("too many redirects")

func redirectsExceeded(err error) bool {
	return stderrors.Is(err, errTooManyRedirects)
}

// progressReader wraps a body and reports throttled progress.
type progressReader struct {
	reader   io.Reader
	total    int64
	callback ProgressCallback

	mu       sync.Mutex
	received int64
	started  time.Time
	lastEmit time.Time
}

func newProgressReader(r io.Reader, total int64, callback ProgressCallback) *progressReader {
	return &progressReader{
		reader:   r,
		total:    total,
		callback: callback,
		started:  time.Now(),
	}
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	if n > 0 {
		r.mu.Lock()
		r.received += int64(n)
		now := time.Now()
		if now.Sub(r.lastEmit) >= progressFloor {
			r.lastEmit = now
			progress := r.snapshotLocked(now)
			r.mu.Unlock()
			r.callback(progress)
			return n, err
		}
		r.mu.Unlock()
	}
	return n, err
}

// emitFinal forces a last callback so consumers always see 100%.
func (r *progressReader) emitFinal() {
	r.mu.Lock()
	progress := r.snapshotLocked(time.Now())
	r.mu.Unlock()
	if progress.TotalBytes > 0 {
		progress.Percent = 100
		progress.EtaSecs = 0
	}
	r.callback(progress)
}

// snapshotLocked builds a Progress from current counters.
// Must be called with r.mu held.
func (r *progressReader) snapshotLocked(now time.Time) Progress {
	elapsed := now.Sub(r.started).Seconds()

	p := Progress{
		Percent:       -1,
		ReceivedBytes: r.received,
		TotalBytes:    r.total,
		ElapsedSecs:   elapsed,
		EtaSecs:       -1,
	}
	if elapsed > 0 {
		p.SpeedBytesPerSec = float64(r.received) / elapsed
	}
	if r.total > 0 {
		p.Percent = float64(r.received) / float64(r.total) * 100
		if p.SpeedBytesPerSec > 0 {
			p.EtaSecs = float64(r.total-r.received) / p.SpeedBytesPerSec
		}
	}
	return p
}
