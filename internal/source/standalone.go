package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hangar-sh/hangar/internal/errors"
	"github.com/hangar-sh/hangar/internal/gitrepo"
	"github.com/hangar-sh/hangar/internal/registry"
	"github.com/hangar-sh/hangar/internal/uvenv"
)

// DefaultPayloadRepo is the upstream the standalone variant checks out.
const DefaultPayloadRepo = "https://github.com/comfyanonymous/ComfyUI.git"

// StandalonePlugin checks out the payload source and manages its Python
// environments with uv.
type StandalonePlugin struct {
	// UVRunner overrides the uv executor (tests).
	UVRunner uvenv.Runner
}

func (p *StandalonePlugin) ID() string         { return "standalone" }
func (p *StandalonePlugin) Label() string      { return "Source checkout" }
func (p *StandalonePlugin) Category() Category { return CategoryLocal }

func (p *StandalonePlugin) Fields() []Field {
	return []Field{
		{ID: "name", Label: "Name", Type: FieldText},
		{ID: "installPath", Label: "Install directory", Type: FieldPath, Required: true},
		{ID: "repoUrl", Label: "Repository URL", Type: FieldText},
		{ID: "branch", Label: "Branch", Type: FieldText},
		{ID: "version", Label: "Version", Type: FieldText},
		{ID: "updateTrack", Label: "Update track", Type: FieldSelect},
	}
}

// FieldOptions lists update tracks and, once an install path is chosen,
// the named environments under it.
func (p *StandalonePlugin) FieldOptions(ctx context.Context, fieldID string, selections map[string]string) ([]Option, error) {
	switch fieldID {
	case "updateTrack":
		return []Option{
			{Value: string(registry.TrackStable), Label: "Stable releases"},
			{Value: string(registry.TrackLatest), Label: "Latest including prereleases"},
		}, nil
	case "env":
		installPath := selections["installPath"]
		if installPath == "" {
			return nil, nil
		}
		dirents, err := os.ReadDir(filepath.Join(installPath, "envs"))
		if err != nil {
			return nil, nil
		}
		var opts []Option
		for _, de := range dirents {
			if de.IsDir() {
				opts = append(opts, Option{Value: de.Name(), Label: de.Name()})
			}
		}
		return opts, nil
	}
	return nil, nil
}

func (p *StandalonePlugin) Defaults() map[string]string {
	return map[string]string{"repoUrl": DefaultPayloadRepo}
}

func (p *StandalonePlugin) BuildInstallation(selections map[string]string) (*registry.Record, error) {
	installPath := selections["installPath"]
	if installPath == "" {
		return nil, errors.InvalidConfig("installPath", "")
	}
	rec := &registry.Record{
		Name:        selections["name"],
		SourceID:    p.ID(),
		InstallPath: installPath,
		Status:      registry.StatusNew,
		Branch:      selections["branch"],
		Version:     selections["version"],
		CreatedAt:   time.Now().UTC(),
	}
	if url := selections["repoUrl"]; url != "" {
		rec.RemoteURL = url
	}
	return rec, nil
}

func (p *StandalonePlugin) repoURL(rec *registry.Record) string {
	if rec.RemoteURL != "" {
		return rec.RemoteURL
	}
	return DefaultPayloadRepo
}

// Install clones the payload repository, pinned to the recorded version
// when one is set.
func (p *StandalonePlugin) Install(ctx context.Context, rec *registry.Record, tools *InstallTools) error {
	opts := &gitrepo.CloneOptions{Branch: rec.Branch}
	if err := gitrepo.Clone(ctx, p.repoURL(rec), rec.InstallPath, opts); err != nil {
		return err
	}
	if rec.Version != "" {
		if err := gitrepo.Checkout(rec.InstallPath, rec.Version); err != nil {
			return err
		}
	}
	if tools.SendOutput != nil {
		tools.SendOutput("checkout complete: " + p.repoURL(rec))
	}
	return nil
}

// env resolves the active package environment for the record.
func (p *StandalonePlugin) env(rec *registry.Record) (*uvenv.Manager, error) {
	root := rec.InstallPath
	if rec.ActiveEnv != "" {
		root = filepath.Join(rec.InstallPath, "envs", rec.ActiveEnv)
	}
	env, err := uvenv.FindEnv(root)
	if err != nil {
		return nil, err
	}
	return uvenv.NewManager(env, p.UVRunner), nil
}

func (p *StandalonePlugin) LaunchCommand(rec *registry.Record) (*LaunchCommand, error) {
	mgr, err := p.env(rec)
	if err != nil {
		return nil, err
	}
	args := []string{filepath.Join(rec.InstallPath, "main.py")}
	args = append(args, strings.Fields(rec.LaunchArgs)...)
	return &LaunchCommand{
		Cmd:  mgr.Env().Python,
		Args: args,
		Cwd:  rec.InstallPath,
		Port: DefaultPort,
	}, nil
}

func (p *StandalonePlugin) DetailSections(rec *registry.Record) []DetailSection {
	rows := [][2]string{
		{"Repository", p.repoURL(rec)},
		{"Branch", rec.Branch},
		{"Version", rec.Version},
		{"Install path", rec.InstallPath},
	}
	if rec.ActiveEnv != "" {
		rows = append(rows, [2]string{"Active environment", rec.ActiveEnv})
	}
	return []DetailSection{{Title: "Source checkout", Rows: rows}}
}

func (p *StandalonePlugin) ListActions(rec *registry.Record) []string {
	return []string{"launch", "update-comfyui", "switch-env", "copy", "copy-update", "open-folder", "delete", "remove"}
}

func (p *StandalonePlugin) HandleAction(ctx context.Context, actionID string, rec *registry.Record, actionData map[string]any, tools *ActionTools) error {
	switch actionID {
	case "update-comfyui":
		return p.updatePayload(ctx, rec, tools)
	case "switch-env":
		name, _ := actionData["env"].(string)
		return p.switchEnv(rec, name, tools)
	default:
		return errors.NoLaunchSupport(p.ID(), actionID)
	}
}

// updatePayload pulls the source tree and reinstalls its requirements
// into the active environment.
func (p *StandalonePlugin) updatePayload(ctx context.Context, rec *registry.Record, tools *ActionTools) error {
	if err := gitrepo.Pull(ctx, rec.InstallPath); err != nil {
		return err
	}
	if tools.SendOutput != nil {
		tools.SendOutput("source tree updated")
	}

	mgr, err := p.env(rec)
	if err != nil {
		return err
	}
	reqs := filepath.Join(rec.InstallPath, "requirements.txt")
	if _, err := os.Stat(reqs); err == nil {
		if err := mgr.Install(ctx, []string{"-r", reqs}); err != nil {
			return err
		}
	}

	head, err := gitrepo.Head(rec.InstallPath)
	if err != nil {
		return err
	}
	return tools.Update(func(r *registry.Record) {
		r.Commit = head.Commit
	})
}

// switchEnv activates another named environment under envs/.
func (p *StandalonePlugin) switchEnv(rec *registry.Record, name string, tools *ActionTools) error {
	if name == "" {
		return errors.InvalidConfig("env", "")
	}
	if _, err := uvenv.FindEnv(filepath.Join(rec.InstallPath, "envs", name)); err != nil {
		return err
	}
	return tools.Update(func(r *registry.Record) {
		r.ActiveEnv = name
	})
}

// ProbeInstallation recognizes a source checkout with an environment.
func (p *StandalonePlugin) ProbeInstallation(dir string) bool {
	if !gitrepo.Exists(dir) {
		return false
	}
	_, err := os.Stat(filepath.Join(dir, "main.py"))
	return err == nil
}

// StatusTag surfaces the checked-out commit.
func (p *StandalonePlugin) StatusTag(rec *registry.Record) string {
	if rec.Commit == "" {
		return ""
	}
	short := rec.Commit
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("@%s", short)
}
