package snapshot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	hangarErrors "github.com/hangar-sh/hangar/internal/errors"
	"github.com/hangar-sh/hangar/internal/uvenv"
)

// EnvManager is the slice of uvenv.Manager a package restore needs.
type EnvManager interface {
	Freeze(ctx context.Context) ([]uvenv.Package, error)
	Install(ctx context.Context, specs []string) error
	InstallNoDeps(ctx context.Context, spec string) error
	Uninstall(ctx context.Context, names []string) error
	UninstallOne(ctx context.Context, name string) error
	DistInfoDir(name string) (string, error)
	SitePackages() (string, error)
	Env() *uvenv.Env
}

// PackageResult summarizes a package restore.
type PackageResult struct {
	Installed        []string `json:"installed"`
	Removed          []string `json:"removed"`
	Changed          []string `json:"changed"`
	ProtectedSkipped []string `json:"protectedSkipped"`
	Failed           []string `json:"failed"`
	Errors           []string `json:"errors"`
}

// packagePlan is the computed delta between the live environment and the
// snapshot target.
type packagePlan struct {
	install   []uvenv.Package // missing locally
	change    []uvenv.Package // present at a different version
	remove    []string        // present locally, absent from target
	protected []string
}

func planPackages(current, target []uvenv.Package) packagePlan {
	var plan packagePlan

	cur := make(map[string]uvenv.Package, len(current))
	for _, p := range current {
		cur[uvenv.NormalizeName(p.Name)] = p
	}
	want := make(map[string]bool, len(target))

	for _, p := range target {
		key := uvenv.NormalizeName(p.Name)
		want[key] = true
		if IsProtected(p.Name) {
			plan.protected = append(plan.protected, p.Name)
			continue
		}
		existing, ok := cur[key]
		switch {
		case !ok:
			plan.install = append(plan.install, p)
		case existing.Version != p.Version:
			plan.change = append(plan.change, p)
		}
	}
	for _, p := range current {
		if want[uvenv.NormalizeName(p.Name)] {
			continue
		}
		if IsProtected(p.Name) {
			plan.protected = append(plan.protected, p.Name)
			continue
		}
		plan.remove = append(plan.remove, p.Name)
	}
	return plan
}

const backupDirName = "hangar-restore-backup"

// packageBackup stages the files of every package the restore will touch
// so a failed run can be reverted.
type packageBackup struct {
	site    string
	staging string
	// tops are the backed-up top-level site-packages entries.
	tops []string
}

// backupPackages copies the dist-info RECORD top-level entries of each
// named package into a staging directory inside the environment root.
// Any failure aborts the restore before the environment is modified.
func backupPackages(mgr EnvManager, names []string) (*packageBackup, error) {
	site, err := mgr.SitePackages()
	if err != nil {
		return nil, backupFailed(err)
	}
	staging := filepath.Join(mgr.Env().Root, backupDirName)
	if err := os.RemoveAll(staging); err != nil {
		return nil, backupFailed(err)
	}
	if err := os.MkdirAll(staging, 0755); err != nil {
		return nil, backupFailed(err)
	}

	b := &packageBackup{site: site, staging: staging}
	seen := map[string]bool{}
	for _, name := range names {
		distInfo, err := mgr.DistInfoDir(name)
		if err != nil {
			return nil, backupFailed(err)
		}
		tops, err := uvenv.RecordTopLevel(distInfo)
		if err != nil {
			return nil, backupFailed(err)
		}
		for _, top := range tops {
			if seen[top] {
				continue
			}
			seen[top] = true
			if err := copyEntry(filepath.Join(site, top), filepath.Join(staging, top)); err != nil {
				return nil, backupFailed(err)
			}
			b.tops = append(b.tops, top)
		}
	}
	return b, nil
}

func backupFailed(cause error) error {
	return &hangarErrors.Error{
		Category: hangarErrors.CategorySnapshot,
		Code:     hangarErrors.CodeBackupFailed,
		Message:  fmt.Sprintf("package backup failed: %v", cause),
		Hint:     "The environment was not modified.",
	}
}

// revert puts the staged entries back over site-packages.
func (b *packageBackup) revert() error {
	for _, top := range b.tops {
		dst := filepath.Join(b.site, top)
		if err := os.RemoveAll(dst); err != nil {
			return err
		}
		if err := copyEntry(filepath.Join(b.staging, top), dst); err != nil {
			return err
		}
	}
	return nil
}

func (b *packageBackup) discard() {
	_ = os.RemoveAll(b.staging)
}

// RestorePackages brings the environment's package set to the snapshot
// target. On any execution failure the environment is reverted from the
// pre-restore backup and newly added packages are uninstalled.
func RestorePackages(ctx context.Context, mgr EnvManager, target []uvenv.Package) (*PackageResult, error) {
	current, err := mgr.Freeze(ctx)
	if err != nil {
		return nil, err
	}

	plan := planPackages(current, target)
	result := &PackageResult{ProtectedSkipped: plan.protected}
	if len(plan.install) == 0 && len(plan.change) == 0 && len(plan.remove) == 0 {
		return result, nil
	}

	touched := append(append([]string(nil), plan.remove...), packageNames(plan.change)...)
	backup, err := backupPackages(mgr, touched)
	if err != nil {
		return nil, err
	}

	failed := false

	installs := append(append([]uvenv.Package(nil), plan.install...), plan.change...)
	if err := mgr.Install(ctx, packageSpecs(installs)); err != nil {
		slog.Warn("bulk install failed, falling back to per-package installs", "error", err)
		for _, p := range installs {
			if err := mgr.InstallNoDeps(ctx, p.Spec()); err != nil {
				failed = true
				result.Failed = append(result.Failed, p.Name)
				result.Errors = append(result.Errors, err.Error())
			}
		}
	}

	if err := mgr.Uninstall(ctx, plan.remove); err != nil {
		slog.Warn("batch uninstall failed, falling back to per-package uninstalls", "error", err)
		for _, name := range plan.remove {
			if err := mgr.UninstallOne(ctx, name); err != nil {
				failed = true
				result.Failed = append(result.Failed, name)
				result.Errors = append(result.Errors, err.Error())
			}
		}
	}

	if failed {
		if err := backup.revert(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("revert failed: %v", err))
		}
		for _, p := range plan.install {
			if err := mgr.UninstallOne(ctx, p.Name); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("failed to remove %s during revert: %v", p.Name, err))
			}
		}
		backup.discard()
		return result, &hangarErrors.Error{
			Category: hangarErrors.CategorySnapshot,
			Code:     hangarErrors.CodeRestoreReverted,
			Message:  "package restore failed and was reverted",
			Details:  map[string]any{"failed": result.Failed},
		}
	}

	backup.discard()
	result.Installed = packageNames(plan.install)
	result.Changed = packageNames(plan.change)
	result.Removed = plan.remove
	return result, nil
}

func packageNames(pkgs []uvenv.Package) []string {
	names := make([]string, len(pkgs))
	for i, p := range pkgs {
		names[i] = p.Name
	}
	return names
}

func packageSpecs(pkgs []uvenv.Package) []string {
	specs := make([]string, len(pkgs))
	for i, p := range pkgs {
		specs[i] = p.Spec()
	}
	return specs
}

// copyEntry copies a file or directory tree.
func copyEntry(src, dst string) error {
	fi, err := os.Stat(src)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		if err := os.MkdirAll(dst, fi.Mode().Perm()); err != nil {
			return err
		}
		return copyFS(dst, src)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
