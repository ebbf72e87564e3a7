package release

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenTransport_GitHubHosts(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{"github.com", true},
		{"api.github.com", true},
		{"uploads.github.com", true},
		{"objects.githubusercontent.com", true},
		{"example.com", false},
		{"notgithub.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			assert.Equal(t, tt.want, isGitHubHost(tt.host))
		})
	}
}

// repoServer returns a test server answering both release endpoints,
// plus a client whose requests are rewritten to it.
func repoServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *http.Client, Repo) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	u := srv.Listener.Addr().String()
	client := &http.Client{
		Transport: rewriteTransport{target: u},
	}
	return srv, client, Repo{Owner: "comfyanonymous", Name: "ComfyUI"}
}

// rewriteTransport redirects all requests to the test server.
type rewriteTransport struct {
	target string
}

func (rt rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = "http"
	req.URL.Host = rt.target
	return http.DefaultTransport.RoundTrip(req)
}

func TestFetch_StableTrack(t *testing.T) {
	_, client, repo := repoServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/repos/comfyanonymous/ComfyUI/releases/latest", r.URL.Path)
		w.Header().Set("ETag", `"abc"`)
		json.NewEncoder(w).Encode(map[string]any{
			"tag_name":     "v0.3.10",
			"name":         "v0.3.10",
			"body":         "notes",
			"html_url":     "https://github.com/comfyanonymous/ComfyUI/releases/v0.3.10",
			"published_at": "2026-08-01T00:00:00Z",
		})
	})

	res, err := Fetch(context.Background(), client, repo, TrackStable, "")
	require.NoError(t, err)
	assert.Equal(t, "v0.3.10", res.Release.TagName)
	assert.Equal(t, "notes", res.Release.Notes)
	assert.Equal(t, `"abc"`, res.ETag)
	assert.False(t, res.NotModified)
}

func TestFetch_LatestTrackSkipsDrafts(t *testing.T) {
	_, client, repo := repoServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/repos/comfyanonymous/ComfyUI/releases", r.URL.Path)
		json.NewEncoder(w).Encode([]map[string]any{
			{"tag_name": "v0.4.0-draft", "draft": true},
			{"tag_name": "v0.4.0-rc1", "prerelease": true},
			{"tag_name": "v0.3.10"},
		})
	})

	res, err := Fetch(context.Background(), client, repo, TrackLatest, "")
	require.NoError(t, err)
	assert.Equal(t, "v0.4.0-rc1", res.Release.TagName)
	assert.True(t, res.Release.Prerelease)
}

func TestFetch_NotModified(t *testing.T) {
	_, client, repo := repoServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, `"abc"`, r.Header.Get("If-None-Match"))
		w.WriteHeader(http.StatusNotModified)
	})

	res, err := Fetch(context.Background(), client, repo, TrackStable, `"abc"`)
	require.NoError(t, err)
	assert.True(t, res.NotModified)
	assert.Equal(t, `"abc"`, res.ETag)
}

func TestFetch_InvalidRepo(t *testing.T) {
	_, err := Fetch(context.Background(), http.DefaultClient, Repo{Owner: "a/b", Name: "c"}, TrackStable, "")
	assert.Error(t, err)
	_, err = Fetch(context.Background(), http.DefaultClient, Repo{}, TrackStable, "")
	assert.Error(t, err)
}

func TestCache_SingleFlight(t *testing.T) {
	var calls atomic.Int32
	_, client, repo := repoServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		json.NewEncoder(w).Encode(map[string]any{"tag_name": "v1.0.0"})
	})

	c := NewCache(filepath.Join(t.TempDir(), "release-cache.json"), client)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := c.GetOrFetch(context.Background(), repo, TrackStable, false)
			assert.NoError(t, err)
			assert.Equal(t, "v1.0.0", r.TagName)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "concurrent callers share one request")
}

func TestCache_FreshServedWithoutFetch(t *testing.T) {
	var calls atomic.Int32
	_, client, repo := repoServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"tag_name": "v1.0.0"})
	})

	c := NewCache(filepath.Join(t.TempDir(), "release-cache.json"), client)

	_, err := c.GetOrFetch(context.Background(), repo, TrackStable, false)
	require.NoError(t, err)
	_, err = c.GetOrFetch(context.Background(), repo, TrackStable, false)
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
}

func TestCache_ForceThrottled(t *testing.T) {
	var calls atomic.Int32
	_, client, repo := repoServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"tag_name": "v1.0.0"})
	})

	c := NewCache(filepath.Join(t.TempDir(), "release-cache.json"), client)

	_, err := c.GetOrFetch(context.Background(), repo, TrackStable, true)
	require.NoError(t, err)
	// Immediate force refresh is absorbed by the throttle window.
	_, err = c.GetOrFetch(context.Background(), repo, TrackStable, true)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	// Past the throttle window the force goes through.
	c.now = func() time.Time { return time.Now().Add(forceThrottle + time.Second) }
	_, err = c.GetOrFetch(context.Background(), repo, TrackStable, true)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCache_PersistsAcrossInstances(t *testing.T) {
	_, client, repo := repoServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"tag_name": "v1.2.3"})
	})

	path := filepath.Join(t.TempDir(), "release-cache.json")
	c1 := NewCache(path, client)
	_, err := c1.GetOrFetch(context.Background(), repo, TrackStable, false)
	require.NoError(t, err)

	c2 := NewCache(path, client)
	cached := c2.Cached(repo, TrackStable)
	require.NotNil(t, cached)
	assert.Equal(t, "v1.2.3", cached.TagName)
}

func TestCache_ServesStaleOnFetchFailure(t *testing.T) {
	var fail atomic.Bool
	_, client, repo := repoServer(t, func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"tag_name": "v1.0.0"})
	})

	c := NewCache(filepath.Join(t.TempDir(), "release-cache.json"), client)
	_, err := c.GetOrFetch(context.Background(), repo, TrackStable, false)
	require.NoError(t, err)

	fail.Store(true)
	c.now = func() time.Time { return time.Now().Add(time.Minute) }

	r, err := c.GetOrFetch(context.Background(), repo, TrackStable, true)
	require.NoError(t, err)
	assert.Equal(t, "v1.0.0", r.TagName)
}

func TestCache_CachedServedRegardlessOfAge(t *testing.T) {
	var calls atomic.Int32
	_, client, repo := repoServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"tag_name": "v1.0.0"})
	})

	c := NewCache(filepath.Join(t.TempDir(), "release-cache.json"), client)
	_, err := c.GetOrFetch(context.Background(), repo, TrackStable, false)
	require.NoError(t, err)

	// Only force goes back upstream, no matter how old the entry is.
	c.now = func() time.Time { return time.Now().Add(24 * time.Hour) }
	_, err = c.GetOrFetch(context.Background(), repo, TrackStable, false)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	_, err = c.GetOrFetch(context.Background(), repo, TrackStable, true)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestIsUpdateAvailable(t *testing.T) {
	latest := &Release{TagName: "v0.3.10"}
	tests := []struct {
		name      string
		installed Installed
		latest    *Release
		track     Track
		want      bool
	}{
		{"no release", Installed{Tag: "v0.3.9"}, nil, TrackStable, false},
		{"same tag", Installed{Tag: "v0.3.10", Track: TrackStable}, latest, TrackStable, false},
		{"older installed", Installed{Tag: "v0.3.9", Track: TrackStable}, latest, TrackStable, true},
		{"newer installed", Installed{Tag: "v0.4.0", Track: TrackStable}, latest, TrackStable, false},
		{"track switch", Installed{Tag: "v0.3.10", Track: TrackStable}, latest, TrackLatest, true},
		{"no installed tag", Installed{}, latest, TrackStable, true},
		{"unparseable tags differ", Installed{Tag: "nightly-0812", Track: TrackStable}, &Release{TagName: "nightly-0824"}, TrackStable, true},
		{"unparseable tags equal", Installed{Tag: "nightly-0824", Track: TrackStable}, &Release{TagName: "nightly-0824"}, TrackStable, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsUpdateAvailable(tt.installed, tt.latest, tt.track))
		})
	}
}

func TestDescribeVersion(t *testing.T) {
	assert.Equal(t, "v0.3.10", DescribeVersion("v0.3.10", 0))
	assert.Equal(t, "v0.3.10 + 5 commits", DescribeVersion("v0.3.10", 5))
}
