// Package release fetches upstream release metadata and caches it on
// disk so repeated UI polls do not burn API rate limits.
//
// Requests to GitHub hosts carry a Bearer token when GITHUB_TOKEN or
// GH_TOKEN is set, raising the API rate limit and allowing private
// repositories.
package release

import (
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	defaultTimeout = 30 * time.Second

	envGitHubToken = "GITHUB_TOKEN"
	envGHToken     = "GH_TOKEN"

	hostGitHub              = "github.com"
	hostGitHubAPI           = "api.github.com"
	suffixGitHub            = ".github.com"
	suffixGitHubusercontent = ".githubusercontent.com"
)

// TokenFromEnv reads GITHUB_TOKEN or GH_TOKEN, in that order.
func TokenFromEnv() string {
	if t := os.Getenv(envGitHubToken); t != "" {
		return t
	}
	return os.Getenv(envGHToken)
}

// NewHTTPClient creates an http.Client that adds an Authorization header
// to requests for GitHub hosts. An empty token yields a plain client.
func NewHTTPClient(token string) *http.Client {
	return &http.Client{
		Timeout: defaultTimeout,
		Transport: &tokenTransport{
			token: token,
			base:  http.DefaultTransport,
		},
	}
}

type tokenTransport struct {
	token string
	base  http.RoundTripper
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.token != "" && isGitHubHost(req.URL.Host) {
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	return t.base.RoundTrip(req)
}

func isGitHubHost(host string) bool {
	host = strings.ToLower(host)
	if host == hostGitHub || host == hostGitHubAPI {
		return true
	}
	return strings.HasSuffix(host, suffixGitHub) || strings.HasSuffix(host, suffixGitHubusercontent)
}
