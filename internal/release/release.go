package release

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	hangarErrors "github.com/hangar-sh/hangar/internal/errors"
)

// Track selects which release stream to follow.
type Track string

const (
	// TrackStable follows the latest non-prerelease.
	TrackStable Track = "stable"
	// TrackLatest follows the most recent release including prereleases.
	TrackLatest Track = "latest"
)

// Repo identifies an upstream repository.
type Repo struct {
	Host  string // "github.com" when empty
	Owner string
	Name  string
}

func (r Repo) host() string {
	if r.Host == "" {
		return hostGitHub
	}
	return r.Host
}

// apiBase maps the repository host to its REST API base URL. GitHub
// Enterprise hosts serve the same API under /api/v3.
func (r Repo) apiBase() string {
	if r.host() == hostGitHub {
		return "https://" + hostGitHubAPI
	}
	return "https://" + r.host() + "/api/v3"
}

func (r Repo) validate() error {
	if r.Owner == "" || r.Name == "" {
		return fmt.Errorf("owner and repo must not be empty")
	}
	if strings.Contains(r.Owner, "/") || strings.Contains(r.Name, "/") {
		return fmt.Errorf("invalid owner %q or repo %q: must not contain '/'", r.Owner, r.Name)
	}
	return nil
}

// Release is the subset of upstream release metadata the launcher shows.
type Release struct {
	TagName     string    `json:"tagName"`
	Name        string    `json:"name"`
	Notes       string    `json:"notes"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"publishedAt"`
	Prerelease  bool      `json:"prerelease"`
}

type releaseResponse struct {
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	Body        string    `json:"body"`
	HTMLURL     string    `json:"html_url"`
	PublishedAt time.Time `json:"published_at"`
	Prerelease  bool      `json:"prerelease"`
	Draft       bool      `json:"draft"`
}

// FetchResult carries a fetched release together with the response ETag
// for conditional revalidation.
type FetchResult struct {
	Release     Release
	ETag        string
	NotModified bool
}

// Fetch retrieves the newest release of repo on the given track. When
// etag is non-empty it is sent as If-None-Match; a 304 response returns
// NotModified with no release.
func Fetch(ctx context.Context, client *http.Client, repo Repo, track Track, etag string) (*FetchResult, error) {
	if err := repo.validate(); err != nil {
		return nil, err
	}

	var url string
	if track == TrackLatest {
		// The list endpoint includes prereleases, newest first.
		url = fmt.Sprintf("%s/repos/%s/%s/releases?per_page=10", repo.apiBase(), repo.Owner, repo.Name)
	} else {
		url = fmt.Sprintf("%s/repos/%s/%s/releases/latest", repo.apiBase(), repo.Owner, repo.Name)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, hangarErrors.Cancelled("release fetch")
		}
		return nil, hangarErrors.NewTransportError(url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return &FetchResult{NotModified: true, ETag: etag}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, hangarErrors.NewHTTPStatusError(url, resp.StatusCode)
	}

	var picked *releaseResponse
	if track == TrackLatest {
		var releases []releaseResponse
		if err := json.NewDecoder(resp.Body).Decode(&releases); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		for i := range releases {
			if !releases[i].Draft {
				picked = &releases[i]
				break
			}
		}
	} else {
		var r releaseResponse
		if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		picked = &r
	}

	if picked == nil || picked.TagName == "" {
		return nil, fmt.Errorf("no usable release for %s/%s on track %s", repo.Owner, repo.Name, track)
	}

	return &FetchResult{
		Release: Release{
			TagName:     picked.TagName,
			Name:        picked.Name,
			Notes:       picked.Body,
			URL:         picked.HTMLURL,
			PublishedAt: picked.PublishedAt,
			Prerelease:  picked.Prerelease,
		},
		ETag: resp.Header.Get("ETag"),
	}, nil
}
