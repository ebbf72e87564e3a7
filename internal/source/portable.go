package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/hangar-sh/hangar/internal/errors"
	"github.com/hangar-sh/hangar/internal/installer"
	"github.com/hangar-sh/hangar/internal/progress"
	"github.com/hangar-sh/hangar/internal/registry"
	"github.com/hangar-sh/hangar/internal/release"
)

// PortablePlugin installs prebuilt archives carrying an embedded Python
// interpreter, and launches the payload against it.
type PortablePlugin struct {
	// Releases backs the version field options; nil disables them.
	Releases *release.Cache
}

func (p *PortablePlugin) ID() string         { return "portable" }
func (p *PortablePlugin) Label() string      { return "Portable build" }
func (p *PortablePlugin) Category() Category { return CategoryLocal }

func (p *PortablePlugin) Fields() []Field {
	return []Field{
		{ID: "name", Label: "Name", Type: FieldText},
		{ID: "installPath", Label: "Install directory", Type: FieldPath, Required: true},
		{ID: "downloadUrl", Label: "Archive URL", Type: FieldText, Required: true},
		{ID: "version", Label: "Version", Type: FieldSelect},
	}
}

// FieldOptions offers the cached release tags for the version field.
func (p *PortablePlugin) FieldOptions(ctx context.Context, fieldID string, selections map[string]string) ([]Option, error) {
	if fieldID != "version" || p.Releases == nil {
		return nil, nil
	}
	repo := release.Repo{Owner: "comfyanonymous", Name: "ComfyUI"}
	var opts []Option
	seen := map[string]bool{}
	for _, track := range []release.Track{release.TrackStable, release.TrackLatest} {
		r := p.Releases.Cached(repo, track)
		if r == nil || seen[r.TagName] {
			continue
		}
		seen[r.TagName] = true
		label := r.TagName
		if r.Prerelease {
			label += " (prerelease)"
		}
		opts = append(opts, Option{Value: r.TagName, Label: label})
	}
	return opts, nil
}

func (p *PortablePlugin) BuildInstallation(selections map[string]string) (*registry.Record, error) {
	url := selections["downloadUrl"]
	if url == "" {
		return nil, errors.InvalidConfig("downloadUrl", "")
	}
	installPath := selections["installPath"]
	if installPath == "" {
		return nil, errors.InvalidConfig("installPath", "")
	}
	return &registry.Record{
		Name:        selections["name"],
		SourceID:    p.ID(),
		InstallPath: installPath,
		Status:      registry.StatusNew,
		DownloadURL: url,
		Version:     selections["version"],
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// Install fetches the archive (split parts included) and extracts it
// into the install path.
func (p *PortablePlugin) Install(ctx context.Context, rec *registry.Record, tools *InstallTools) error {
	onProgress := func(phase installer.Phase, pct float64) {
		if tools.SendProgress != nil {
			tools.SendProgress(progress.Phase(phase), pct)
		}
	}

	urls := splitPartURLs(rec.DownloadURL)
	if len(urls) == 1 {
		return tools.Pipeline.DownloadAndExtract(ctx, urls[0], rec.InstallPath, cacheKeyFor(urls[0]), onProgress)
	}

	files := make([]installer.File, 0, len(urls))
	for _, u := range urls {
		files = append(files, installer.File{URL: u, CacheKey: cacheKeyFor(u)})
	}
	return tools.Pipeline.DownloadAndExtractMulti(ctx, files, rec.InstallPath, onProgress)
}

// splitPartURLs expands a URL list separated by whitespace or newlines.
// Multi-part archives are published as explicit .001/.002 URLs.
func splitPartURLs(raw string) []string {
	var urls []string
	for _, u := range strings.Fields(raw) {
		if u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		urls = []string{raw}
	}
	return urls
}

func cacheKeyFor(url string) string {
	return filepath.Base(strings.Split(url, "?")[0])
}

const updaterScript = "update/update.py"

// PostInstall re-runs the bundled updater script so a freshly extracted
// build finishes its own setup. The script may replace itself and
// request a second pass; the original is kept aside and restored when
// both passes fail, since the script has already mutated files by then.
func (p *PortablePlugin) PostInstall(ctx context.Context, rec *registry.Record, tools *InstallTools) error {
	script := filepath.Join(rec.InstallPath, filepath.FromSlash(updaterScript))
	if _, err := os.Stat(script); err != nil {
		return nil // nothing to run for this build
	}

	backup := script + ".orig"
	if err := copyFile(script, backup); err != nil {
		return fmt.Errorf("failed to stage updater backup: %w", err)
	}
	defer os.Remove(backup)

	firstErr := p.runUpdater(ctx, rec, script, tools)
	if firstErr == nil {
		return nil
	}

	// The first pass may have swapped in a new update.py; run it once.
	secondErr := p.runUpdater(ctx, rec, script, tools)
	if secondErr == nil {
		return nil
	}

	if err := copyFile(backup, script); err != nil {
		return fmt.Errorf("updater failed and rollback failed: %w (original error: %v)", err, firstErr)
	}
	return fmt.Errorf("updater failed: %w", secondErr)
}

func (p *PortablePlugin) runUpdater(ctx context.Context, rec *registry.Record, script string, tools *InstallTools) error {
	python, err := p.embeddedPython(rec.InstallPath)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, python, script)
	cmd.Dir = rec.InstallPath

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw
	if err := cmd.Start(); err != nil {
		pw.Close()
		return fmt.Errorf("failed to start updater: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		pw.Close()
		waitErr <- err
	}()

	scanner := bufio.NewScanner(pr)
	for scanner.Scan() {
		if tools.SendOutput != nil {
			tools.SendOutput(scanner.Text())
		}
	}
	if err := <-waitErr; err != nil {
		if ctx.Err() != nil {
			return errors.Cancelled("updater")
		}
		return fmt.Errorf("updater exited with error: %w", err)
	}
	return nil
}

// embeddedPython locates the interpreter shipped inside the build.
func (p *PortablePlugin) embeddedPython(installPath string) (string, error) {
	candidates := []string{
		filepath.Join(installPath, "python_embeded", "python.exe"),
		filepath.Join(installPath, "python_embeded", "python"),
		filepath.Join(installPath, "python", "bin", "python"),
	}
	if runtime.GOOS == "windows" {
		candidates = append(candidates, filepath.Join(installPath, "python", "python.exe"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", errors.NoEnvFound(installPath)
}

func (p *PortablePlugin) entryPoint(installPath string) string {
	nested := filepath.Join(installPath, "ComfyUI", "main.py")
	if _, err := os.Stat(nested); err == nil {
		return nested
	}
	return filepath.Join(installPath, "main.py")
}

func (p *PortablePlugin) LaunchCommand(rec *registry.Record) (*LaunchCommand, error) {
	python, err := p.embeddedPython(rec.InstallPath)
	if err != nil {
		return nil, err
	}
	args := []string{"-s", p.entryPoint(rec.InstallPath)}
	args = append(args, strings.Fields(rec.LaunchArgs)...)
	return &LaunchCommand{
		Cmd:  python,
		Args: args,
		Cwd:  rec.InstallPath,
		Port: DefaultPort,
	}, nil
}

func (p *PortablePlugin) DetailSections(rec *registry.Record) []DetailSection {
	return []DetailSection{{
		Title: "Portable build",
		Rows: [][2]string{
			{"Version", rec.Version},
			{"Download URL", rec.DownloadURL},
			{"Install path", rec.InstallPath},
		},
	}}
}

func (p *PortablePlugin) ListActions(rec *registry.Record) []string {
	return []string{"launch", "update", "copy", "copy-update", "release-update", "open-folder", "delete", "remove"}
}

func (p *PortablePlugin) HandleAction(ctx context.Context, actionID string, rec *registry.Record, actionData map[string]any, tools *ActionTools) error {
	switch actionID {
	case "update":
		it := &InstallTools{SendProgress: tools.SendProgress, SendOutput: tools.SendOutput}
		return p.PostInstall(ctx, rec, it)
	default:
		return errors.NoLaunchSupport(p.ID(), actionID)
	}
}

// ProbeInstallation recognizes an extracted portable build.
func (p *PortablePlugin) ProbeInstallation(dir string) bool {
	if _, err := p.embeddedPython(dir); err != nil {
		return false
	}
	_, err := os.Stat(p.entryPoint(dir))
	return err == nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, info.Mode().Perm())
}
