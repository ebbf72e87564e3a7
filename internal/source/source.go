// Package source defines the plugin variants that know how to install,
// launch and update the different installation kinds.
package source

import (
	"context"

	"github.com/hangar-sh/hangar/internal/errors"
	"github.com/hangar-sh/hangar/internal/installer"
	"github.com/hangar-sh/hangar/internal/progress"
	"github.com/hangar-sh/hangar/internal/registry"
)

// DefaultPort is the payload's default listen port.
const DefaultPort = 8188

// Category tells the scheduler whether an installation occupies local
// disk.
type Category string

const (
	CategoryLocal  Category = "local"
	CategoryRemote Category = "remote"
)

// LaunchCommand is what a plugin returns for a launch request. Remote
// variants set Remote and URL instead of a command.
type LaunchCommand struct {
	Cmd  string
	Args []string
	Cwd  string
	Env  map[string]string
	Port int

	Remote bool
	URL    string
}

// InstallTools is the capability bag handed to Install. Plugins may not
// write outside the record's install path or the cache directory.
type InstallTools struct {
	Pipeline     *installer.Pipeline
	SendProgress func(phase progress.Phase, percent float64)
	SendOutput   func(line string)
}

// ActionTools is the capability bag handed to HandleAction. Update is
// the only permitted mutation path into the registry from a plugin.
type ActionTools struct {
	Update       func(mutate func(*registry.Record)) error
	SendProgress func(phase progress.Phase, percent float64)
	SendOutput   func(line string)
}

// DetailSection is a titled group of rows shown on the detail view.
type DetailSection struct {
	Title string
	Rows  [][2]string
}

// FieldType says how a field is entered.
type FieldType string

const (
	FieldText   FieldType = "text"
	FieldPath   FieldType = "path"
	FieldSelect FieldType = "select"
)

// Field describes one input of a variant's installation form.
type Field struct {
	ID       string
	Label    string
	Type     FieldType
	Required bool
}

// Option is one selectable value for a select field.
type Option struct {
	Value string
	Label string
}

// Plugin is the capability surface common to all variants.
type Plugin interface {
	ID() string
	Label() string
	Category() Category

	// Fields describes the installation form of the variant.
	Fields() []Field

	// FieldOptions lists the selectable values for a field. Selections
	// made so far may narrow the result; fields without dynamic options
	// yield nil.
	FieldOptions(ctx context.Context, fieldID string, selections map[string]string) ([]Option, error)

	// BuildInstallation turns field selections into a new record. The
	// returned record has no id; the registry assigns one.
	BuildInstallation(selections map[string]string) (*registry.Record, error)

	// LaunchCommand describes how to start the installation.
	LaunchCommand(rec *registry.Record) (*LaunchCommand, error)

	// DetailSections renders variant-specific detail rows.
	DetailSections(rec *registry.Record) []DetailSection

	// ListActions names the actions offered for the record.
	ListActions(rec *registry.Record) []string

	// HandleAction runs a plugin-level action.
	HandleAction(ctx context.Context, actionID string, rec *registry.Record, actionData map[string]any, tools *ActionTools) error
}

// Installer is implemented by variants that materialize files on disk.
type Installer interface {
	Install(ctx context.Context, rec *registry.Record, tools *InstallTools) error
}

// PostInstaller runs after a successful install.
type PostInstaller interface {
	PostInstall(ctx context.Context, rec *registry.Record, tools *InstallTools) error
}

// Prober recognizes pre-existing directories for adoption.
type Prober interface {
	ProbeInstallation(dir string) bool
}

// StatusTagger contributes an extra status tag to list views.
type StatusTagger interface {
	StatusTag(rec *registry.Record) string
}

// Defaulter pre-fills field selections.
type Defaulter interface {
	Defaults() map[string]string
}

// Defaults dispatches to the plugin's Defaults capability; absent
// capability yields nothing.
func Defaults(p Plugin) map[string]string {
	d, ok := p.(Defaulter)
	if !ok {
		return nil
	}
	return d.Defaults()
}

// Install dispatches to the plugin's Install capability, failing with
// NoLaunchSupport when the variant has none.
func Install(ctx context.Context, p Plugin, rec *registry.Record, tools *InstallTools) error {
	inst, ok := p.(Installer)
	if !ok {
		return errors.NoLaunchSupport(p.ID(), "install")
	}
	return inst.Install(ctx, rec, tools)
}

// PostInstall dispatches to the plugin's PostInstall capability; absent
// capability is a no-op.
func PostInstall(ctx context.Context, p Plugin, rec *registry.Record, tools *InstallTools) error {
	post, ok := p.(PostInstaller)
	if !ok {
		return nil
	}
	return post.PostInstall(ctx, rec, tools)
}

// Catalog is the closed set of registered plugins.
type Catalog struct {
	plugins map[string]Plugin
	order   []string
}

// NewCatalog registers the plugins in display order.
func NewCatalog(plugins ...Plugin) *Catalog {
	c := &Catalog{plugins: make(map[string]Plugin, len(plugins))}
	for _, p := range plugins {
		c.plugins[p.ID()] = p
		c.order = append(c.order, p.ID())
	}
	return c
}

// Get resolves a plugin id.
func (c *Catalog) Get(id string) (Plugin, error) {
	p, ok := c.plugins[id]
	if !ok {
		return nil, errors.UnknownSource(id)
	}
	return p, nil
}

// List returns all plugins in registration order.
func (c *Catalog) List() []Plugin {
	out := make([]Plugin, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.plugins[id])
	}
	return out
}
