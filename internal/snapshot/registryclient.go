package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"

	hangarErrors "github.com/hangar-sh/hangar/internal/errors"
	"github.com/hangar-sh/hangar/internal/download"
	"github.com/hangar-sh/hangar/internal/extract"
)

// DefaultRegistryURL is the extension registry API endpoint.
const DefaultRegistryURL = "https://api.comfy.org"

// RegistryClient installs registry extensions: metadata lookup,
// archive download and extraction.
type RegistryClient struct {
	// BaseURL defaults to DefaultRegistryURL.
	BaseURL string
	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
	// Downloader defaults to the plain HTTP downloader.
	Downloader download.Downloader
}

func (c *RegistryClient) baseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return DefaultRegistryURL
}

func (c *RegistryClient) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *RegistryClient) downloader() download.Downloader {
	if c.Downloader != nil {
		return c.Downloader
	}
	return download.NewDownloader()
}

type nodeVersion struct {
	DownloadURL string `json:"downloadUrl"`
}

// resolveDownloadURL asks the registry where the archive for one
// extension version lives. Extensions captured with an explicit URL
// skip the lookup.
func (c *RegistryClient) resolveDownloadURL(ctx context.Context, ext Extension) (string, error) {
	if ext.URL != "" {
		return ext.URL, nil
	}

	url := fmt.Sprintf("%s/nodes/%s/versions/%s", c.baseURL(), ext.DirName, ext.Version)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", hangarErrors.NewTransportError(url, err)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", hangarErrors.Cancelled("registry lookup")
		}
		return "", hangarErrors.NewTransportError(url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", hangarErrors.NewHTTPStatusError(url, resp.StatusCode)
	}

	var nv nodeVersion
	if err := json.NewDecoder(resp.Body).Decode(&nv); err != nil {
		return "", fmt.Errorf("failed to decode registry response for %s: %w", ext.DirName, err)
	}
	if nv.DownloadURL == "" {
		return "", fmt.Errorf("registry has no download URL for %s@%s", ext.DirName, ext.Version)
	}
	return nv.DownloadURL, nil
}

// Install downloads and extracts the extension archive into destDir and
// returns the relative paths of the extracted files.
func (c *RegistryClient) Install(ctx context.Context, ext Extension, destDir string) ([]string, error) {
	url, err := c.resolveDownloadURL(ctx, ext)
	if err != nil {
		return nil, err
	}

	tmp, err := os.MkdirTemp("", "hangar-ext-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmp)

	archive := filepath.Join(tmp, path.Base(url))
	if _, err := c.downloader().Download(ctx, url, archive, nil, nil); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, err
	}
	extractor := extract.New(extract.NewBuiltinCodec())
	if err := extractor.Extract(ctx, archive, destDir, nil); err != nil {
		return nil, err
	}
	return listFiles(destDir)
}

// listFiles walks a directory and returns every file path relative to
// it, slash-separated.
func listFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
