package source

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"

	"github.com/hangar-sh/hangar/internal/errors"
	"github.com/hangar-sh/hangar/internal/gitrepo"
	"github.com/hangar-sh/hangar/internal/registry"
	"github.com/hangar-sh/hangar/internal/uvenv"
)

// GitPlugin adopts an existing source-controlled working copy. It never
// installs anything; the user manages the tree.
type GitPlugin struct {
	UVRunner uvenv.Runner
}

func (p *GitPlugin) ID() string         { return "git" }
func (p *GitPlugin) Label() string      { return "Existing checkout" }
func (p *GitPlugin) Category() Category { return CategoryLocal }

func (p *GitPlugin) Fields() []Field {
	return []Field{
		{ID: "name", Label: "Name", Type: FieldText},
		{ID: "installPath", Label: "Working copy", Type: FieldPath, Required: true},
	}
}

func (p *GitPlugin) FieldOptions(ctx context.Context, fieldID string, selections map[string]string) ([]Option, error) {
	return nil, nil
}

func (p *GitPlugin) BuildInstallation(selections map[string]string) (*registry.Record, error) {
	installPath := selections["installPath"]
	if installPath == "" {
		return nil, errors.InvalidConfig("installPath", "")
	}
	if !gitrepo.Exists(installPath) {
		return nil, errors.InvalidConfig("installPath", installPath)
	}
	rec := &registry.Record{
		Name:        selections["name"],
		SourceID:    p.ID(),
		InstallPath: installPath,
		Status:      registry.StatusInstalled,
		CreatedAt:   time.Now().UTC(),
	}
	if head, err := gitrepo.Head(installPath); err == nil {
		rec.Commit = head.Commit
		rec.Branch = head.Branch
	}
	return rec, nil
}

func (p *GitPlugin) LaunchCommand(rec *registry.Record) (*LaunchCommand, error) {
	env, err := uvenv.FindEnv(rec.InstallPath)
	if err != nil {
		return nil, err
	}
	args := []string{filepath.Join(rec.InstallPath, "main.py")}
	args = append(args, strings.Fields(rec.LaunchArgs)...)
	return &LaunchCommand{
		Cmd:  env.Python,
		Args: args,
		Cwd:  rec.InstallPath,
		Port: DefaultPort,
	}, nil
}

func (p *GitPlugin) DetailSections(rec *registry.Record) []DetailSection {
	rows := [][2]string{
		{"Working copy", rec.InstallPath},
		{"Branch", rec.Branch},
		{"Commit", rec.Commit},
	}
	return []DetailSection{{Title: "Existing checkout", Rows: rows}}
}

func (p *GitPlugin) ListActions(rec *registry.Record) []string {
	return []string{"launch", "pull", "open-folder", "remove"}
}

func (p *GitPlugin) HandleAction(ctx context.Context, actionID string, rec *registry.Record, actionData map[string]any, tools *ActionTools) error {
	switch actionID {
	case "pull":
		if err := gitrepo.Pull(ctx, rec.InstallPath); err != nil {
			return err
		}
		head, err := gitrepo.Head(rec.InstallPath)
		if err != nil {
			return err
		}
		return tools.Update(func(r *registry.Record) {
			r.Commit = head.Commit
			r.Branch = head.Branch
		})
	default:
		return errors.NoLaunchSupport(p.ID(), actionID)
	}
}

func (p *GitPlugin) ProbeInstallation(dir string) bool {
	if !gitrepo.Exists(dir) {
		return false
	}
	_, err := os.Stat(filepath.Join(dir, "main.py"))
	return err == nil
}

// StatusTag marks a dirty working tree.
func (p *GitPlugin) StatusTag(rec *registry.Record) string {
	repo, err := git.PlainOpen(rec.InstallPath)
	if err != nil {
		return ""
	}
	w, err := repo.Worktree()
	if err != nil {
		return ""
	}
	status, err := w.Status()
	if err != nil {
		return ""
	}
	if !status.IsClean() {
		return "modified"
	}
	return ""
}
