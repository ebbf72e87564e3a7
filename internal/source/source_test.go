package source

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hangarErrors "github.com/hangar-sh/hangar/internal/errors"
	"github.com/hangar-sh/hangar/internal/registry"
	"github.com/hangar-sh/hangar/internal/release"
)

func TestCatalog(t *testing.T) {
	c := NewCatalog(&PortablePlugin{}, &StandalonePlugin{}, &GitPlugin{}, &RemotePlugin{}, &CloudPlugin{})

	p, err := c.Get("portable")
	require.NoError(t, err)
	assert.Equal(t, "portable", p.ID())

	_, err = c.Get("floppy")
	require.Error(t, err)
	assert.ErrorIs(t, err, hangarErrors.ErrUnknownSource)

	ids := make([]string, 0)
	for _, p := range c.List() {
		ids = append(ids, p.ID())
	}
	assert.Equal(t, []string{"portable", "standalone", "git", "remote", "cloud"}, ids)
}

func TestInstallDispatch_NoCapability(t *testing.T) {
	err := Install(context.Background(), &RemotePlugin{}, &registry.Record{}, &InstallTools{})
	require.Error(t, err)
	assert.ErrorIs(t, err, hangarErrors.ErrNoLaunchSupport)

	// PostInstall without the capability is a no-op.
	assert.NoError(t, PostInstall(context.Background(), &RemotePlugin{}, &registry.Record{}, &InstallTools{}))
}

func TestPortable_BuildInstallation(t *testing.T) {
	p := &PortablePlugin{}

	rec, err := p.BuildInstallation(map[string]string{
		"name":        "Build A",
		"downloadUrl": "https://example.com/comfy.tar.gz",
		"installPath": "/opt/comfy-a",
		"version":     "v0.3.10",
	})
	require.NoError(t, err)
	assert.Equal(t, "portable", rec.SourceID)
	assert.Equal(t, registry.StatusNew, rec.Status)
	assert.Equal(t, "v0.3.10", rec.Version)

	_, err = p.BuildInstallation(map[string]string{"installPath": "/x"})
	assert.ErrorIs(t, err, hangarErrors.ErrInvalidConfig)
	_, err = p.BuildInstallation(map[string]string{"downloadUrl": "https://x"})
	assert.ErrorIs(t, err, hangarErrors.ErrInvalidConfig)
}

func TestSplitPartURLs(t *testing.T) {
	assert.Equal(t, []string{"https://a/x.tar.gz"}, splitPartURLs("https://a/x.tar.gz"))
	assert.Equal(t,
		[]string{"https://a/x.7z.001", "https://a/x.7z.002"},
		splitPartURLs("https://a/x.7z.001\nhttps://a/x.7z.002"))
}

func TestCacheKeyFor(t *testing.T) {
	assert.Equal(t, "x.tar.gz", cacheKeyFor("https://a.example/dl/x.tar.gz?token=abc"))
}

// makePortableTree lays out an extracted portable build.
func makePortableTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	python := filepath.Join(dir, "python_embeded", "python")
	if runtime.GOOS == "windows" {
		python = filepath.Join(dir, "python_embeded", "python.exe")
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(python), 0755))
	require.NoError(t, os.WriteFile(python, []byte("#!/bin/sh\n"), 0755))
	main := filepath.Join(dir, "ComfyUI", "main.py")
	require.NoError(t, os.MkdirAll(filepath.Dir(main), 0755))
	require.NoError(t, os.WriteFile(main, []byte("pass"), 0644))
	return dir
}

func TestPortable_LaunchCommand(t *testing.T) {
	dir := makePortableTree(t)
	p := &PortablePlugin{}

	rec := &registry.Record{InstallPath: dir, LaunchArgs: "--cpu --disable-auto-launch"}
	cmd, err := p.LaunchCommand(rec)
	require.NoError(t, err)

	assert.Contains(t, cmd.Cmd, "python_embeded")
	assert.Equal(t, dir, cmd.Cwd)
	assert.Equal(t, DefaultPort, cmd.Port)
	assert.Contains(t, cmd.Args, "-s")
	assert.Contains(t, cmd.Args, "--cpu")
	assert.Contains(t, cmd.Args, "--disable-auto-launch")
}

func TestPortable_LaunchCommand_NoInterpreter(t *testing.T) {
	p := &PortablePlugin{}
	_, err := p.LaunchCommand(&registry.Record{InstallPath: t.TempDir()})
	require.Error(t, err)
	assert.ErrorIs(t, err, hangarErrors.ErrNoEnvFound)
}

func TestPortable_ProbeInstallation(t *testing.T) {
	p := &PortablePlugin{}
	assert.True(t, p.ProbeInstallation(makePortableTree(t)))
	assert.False(t, p.ProbeInstallation(t.TempDir()))
}

func TestPortable_UnknownAction(t *testing.T) {
	p := &PortablePlugin{}
	err := p.HandleAction(context.Background(), "defragment", &registry.Record{}, nil, &ActionTools{})
	assert.ErrorIs(t, err, hangarErrors.ErrNoLaunchSupport)
}

func TestRemote_BuildAndLaunch(t *testing.T) {
	p := &RemotePlugin{}

	rec, err := p.BuildInstallation(map[string]string{"name": "Studio box", "url": "http://10.0.0.5:8188"})
	require.NoError(t, err)
	assert.Empty(t, rec.InstallPath)
	assert.Equal(t, registry.StatusInstalled, rec.Status)

	cmd, err := p.LaunchCommand(rec)
	require.NoError(t, err)
	assert.True(t, cmd.Remote)
	assert.Equal(t, "http://10.0.0.5:8188", cmd.URL)
	assert.Equal(t, 8188, cmd.Port)

	_, err = p.BuildInstallation(map[string]string{"url": "not a url"})
	assert.ErrorIs(t, err, hangarErrors.ErrInvalidConfig)
}

func TestRemotePort(t *testing.T) {
	assert.Equal(t, 8188, remotePort("http://host:8188"))
	assert.Equal(t, 443, remotePort("https://cloud.comfy.org"))
	assert.Equal(t, 80, remotePort("http://host"))
}

func TestCloud_Defaults(t *testing.T) {
	p := &CloudPlugin{}

	rec, err := p.BuildInstallation(map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, "Cloud", rec.Name)
	assert.Equal(t, DefaultCloudEndpoint, rec.RemoteURL)

	cmd, err := p.LaunchCommand(rec)
	require.NoError(t, err)
	assert.True(t, cmd.Remote)
	assert.Equal(t, DefaultCloudEndpoint, cmd.URL)
}

func TestStandalone_BuildInstallation(t *testing.T) {
	p := &StandalonePlugin{}

	rec, err := p.BuildInstallation(map[string]string{
		"name":        "Dev checkout",
		"installPath": "/opt/comfy-src",
		"branch":      "master",
	})
	require.NoError(t, err)
	assert.Equal(t, "standalone", rec.SourceID)
	assert.Equal(t, "master", rec.Branch)

	_, err = p.BuildInstallation(map[string]string{})
	assert.ErrorIs(t, err, hangarErrors.ErrInvalidConfig)
}

func TestStandalone_SwitchEnv_MissingEnv(t *testing.T) {
	p := &StandalonePlugin{}
	rec := &registry.Record{InstallPath: t.TempDir()}

	err := p.HandleAction(context.Background(), "switch-env", rec,
		map[string]any{"env": "cuda12"}, &ActionTools{})
	assert.ErrorIs(t, err, hangarErrors.ErrNoEnvFound)

	err = p.HandleAction(context.Background(), "switch-env", rec, map[string]any{}, &ActionTools{})
	assert.ErrorIs(t, err, hangarErrors.ErrInvalidConfig)
}

func TestGit_BuildInstallation_RequiresRepo(t *testing.T) {
	p := &GitPlugin{}
	_, err := p.BuildInstallation(map[string]string{"installPath": t.TempDir()})
	assert.ErrorIs(t, err, hangarErrors.ErrInvalidConfig)
}

func TestPluginFields(t *testing.T) {
	required := func(p Plugin) []string {
		var ids []string
		for _, f := range p.Fields() {
			if f.Required {
				ids = append(ids, f.ID)
			}
		}
		return ids
	}

	assert.Equal(t, []string{"installPath", "downloadUrl"}, required(&PortablePlugin{}))
	assert.Equal(t, []string{"installPath"}, required(&StandalonePlugin{}))
	assert.Equal(t, []string{"installPath"}, required(&GitPlugin{}))
	assert.Equal(t, []string{"url"}, required(&RemotePlugin{}))
	assert.Empty(t, required(&CloudPlugin{}))
}

func TestPortable_FieldOptions_Versions(t *testing.T) {
	repo := release.Repo{Owner: "comfyanonymous", Name: "ComfyUI"}
	doc := map[string]any{
		"schemaVersion": 1,
		"entries": map[string]any{
			release.Key(repo, release.TrackStable): map[string]any{
				"release":   release.Release{TagName: "v0.3.30"},
				"fetchedAt": time.Now().UTC(),
			},
			release.Key(repo, release.TrackLatest): map[string]any{
				"release":   release.Release{TagName: "v0.3.31", Prerelease: true},
				"fetchedAt": time.Now().UTC(),
			},
		},
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "releases.json")
	require.NoError(t, os.WriteFile(path, data, 0644))

	p := &PortablePlugin{Releases: release.NewCache(path, http.DefaultClient)}

	opts, err := p.FieldOptions(context.Background(), "version", nil)
	require.NoError(t, err)
	require.Len(t, opts, 2)
	assert.Equal(t, "v0.3.30", opts[0].Value)
	assert.Equal(t, "v0.3.31", opts[1].Value)
	assert.Equal(t, "v0.3.31 (prerelease)", opts[1].Label)

	// Unknown fields have no dynamic options.
	opts, err = p.FieldOptions(context.Background(), "downloadUrl", nil)
	require.NoError(t, err)
	assert.Empty(t, opts)

	// Without a release cache the field degrades to free entry.
	opts, err = (&PortablePlugin{}).FieldOptions(context.Background(), "version", nil)
	require.NoError(t, err)
	assert.Empty(t, opts)
}

func TestStandalone_FieldOptions(t *testing.T) {
	p := &StandalonePlugin{}

	opts, err := p.FieldOptions(context.Background(), "updateTrack", nil)
	require.NoError(t, err)
	require.Len(t, opts, 2)
	assert.Equal(t, "stable", opts[0].Value)
	assert.Equal(t, "latest", opts[1].Value)

	installPath := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(installPath, "envs", "cuda12"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(installPath, "envs", "cpu"), 0755))

	opts, err = p.FieldOptions(context.Background(), "env", map[string]string{"installPath": installPath})
	require.NoError(t, err)
	require.Len(t, opts, 2)
	assert.Equal(t, "cpu", opts[0].Value)
	assert.Equal(t, "cuda12", opts[1].Value)

	// No install path chosen yet.
	opts, err = p.FieldOptions(context.Background(), "env", nil)
	require.NoError(t, err)
	assert.Empty(t, opts)
}

func TestDefaults(t *testing.T) {
	assert.Equal(t, map[string]string{"name": "Cloud"}, Defaults(&CloudPlugin{}))
	assert.Equal(t, DefaultPayloadRepo, Defaults(&StandalonePlugin{})["repoUrl"])
	assert.Nil(t, Defaults(&GitPlugin{}))
}
