package installer

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hangar-sh/hangar/internal/cache"
	"github.com/hangar-sh/hangar/internal/download"
	"github.com/hangar-sh/hangar/internal/extract"
)

func tarGzBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name, Mode: 0644, Size: int64(len(content)), Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())
	return buf.Bytes()
}

func newPipeline(t *testing.T) (*Pipeline, *cache.Cache) {
	t.Helper()
	c, err := cache.New(t.TempDir(), 10)
	require.NoError(t, err)
	return New(c, download.NewDownloader(), extract.New(extract.NewBuiltinCodec())), c
}

func TestDownloadAndExtract(t *testing.T) {
	payload := tarGzBytes(t, map[string]string{"app/main.py": "print('hi')"})

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	p, _ := newPipeline(t)
	dest := filepath.Join(t.TempDir(), "install")

	var phases []Phase
	err := p.DownloadAndExtract(context.Background(), srv.URL+"/payload.tar.gz", dest, "payload.tar.gz",
		func(phase Phase, _ float64) { phases = append(phases, phase) })
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dest, "app", "main.py"))
	assert.Contains(t, phases, PhaseDownload)
	assert.Contains(t, phases, PhaseExtract)

	// Second run hits the cache, not the server.
	dest2 := filepath.Join(t.TempDir(), "install2")
	require.NoError(t, p.DownloadAndExtract(context.Background(), srv.URL+"/payload.tar.gz", dest2, "payload.tar.gz", nil))
	assert.FileExists(t, filepath.Join(dest2, "app", "main.py"))
	assert.Equal(t, int32(1), hits.Load())
}

func TestDownloadAndExtract_DownloadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p, c := newPipeline(t)
	err := p.DownloadAndExtract(context.Background(), srv.URL+"/gone.tar.gz", t.TempDir(), "gone.tar.gz", nil)
	require.Error(t, err)
	assert.False(t, c.IsCached("gone.tar.gz"), "failed download leaves no cache entry")
}

func TestDownloadAndExtractMulti_SplitArchive(t *testing.T) {
	whole := tarGzBytes(t, map[string]string{"big.bin": "0123456789abcdef"})
	half := len(whole) / 2

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/payload.tar.gz.001":
			_, _ = w.Write(whole[:half])
		case "/payload.tar.gz.002":
			_, _ = w.Write(whole[half:])
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	p, _ := newPipeline(t)
	dest := filepath.Join(t.TempDir(), "install")

	files := []File{
		{URL: srv.URL + "/payload.tar.gz.001", CacheKey: "payload.tar.gz.001"},
		{URL: srv.URL + "/payload.tar.gz.002", CacheKey: "payload.tar.gz.002"},
	}
	require.NoError(t, p.DownloadAndExtractMulti(context.Background(), files, dest, nil))

	data, err := os.ReadFile(filepath.Join(dest, "big.bin"))
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef", string(data))
}

func TestDownloadAndExtractMulti_MixedArchives(t *testing.T) {
	a := tarGzBytes(t, map[string]string{"a.txt": "a"})

	var zbuf bytes.Buffer
	zw := zip.NewWriter(&zbuf)
	w, err := zw.Create("b.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("b"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/a.tar.gz":
			_, _ = w.Write(a)
		case "/b.zip":
			_, _ = w.Write(zbuf.Bytes())
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	p, _ := newPipeline(t)
	dest := filepath.Join(t.TempDir(), "install")
	files := []File{
		{URL: srv.URL + "/a.tar.gz", CacheKey: "a.tar.gz"},
		{URL: srv.URL + "/b.zip", CacheKey: "b.zip"},
	}
	require.NoError(t, p.DownloadAndExtractMulti(context.Background(), files, dest, nil))

	assert.FileExists(t, filepath.Join(dest, "a.txt"))
	assert.FileExists(t, filepath.Join(dest, "b.txt"))
}
