package source

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/hangar-sh/hangar/internal/errors"
	"github.com/hangar-sh/hangar/internal/registry"
)

// RemotePlugin connects to a payload the user already runs elsewhere.
// Nothing is installed locally.
type RemotePlugin struct{}

func (p *RemotePlugin) ID() string         { return "remote" }
func (p *RemotePlugin) Label() string      { return "Remote instance" }
func (p *RemotePlugin) Category() Category { return CategoryRemote }

func (p *RemotePlugin) Fields() []Field {
	return []Field{
		{ID: "name", Label: "Name", Type: FieldText},
		{ID: "url", Label: "Endpoint URL", Type: FieldText, Required: true},
	}
}

func (p *RemotePlugin) FieldOptions(ctx context.Context, fieldID string, selections map[string]string) ([]Option, error) {
	return nil, nil
}

func (p *RemotePlugin) BuildInstallation(selections map[string]string) (*registry.Record, error) {
	raw := selections["url"]
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.InvalidConfig("url", raw)
	}
	return &registry.Record{
		Name:      selections["name"],
		SourceID:  p.ID(),
		Status:    registry.StatusInstalled,
		RemoteURL: raw,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (p *RemotePlugin) LaunchCommand(rec *registry.Record) (*LaunchCommand, error) {
	if rec.RemoteURL == "" {
		return nil, errors.InvalidConfig("remoteUrl", "")
	}
	return &LaunchCommand{
		Remote: true,
		URL:    rec.RemoteURL,
		Port:   remotePort(rec.RemoteURL),
	}, nil
}

func remotePort(raw string) int {
	u, err := url.Parse(raw)
	if err != nil {
		return 0
	}
	if port := u.Port(); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			return n
		}
	}
	switch u.Scheme {
	case "https":
		return 443
	case "http":
		return 80
	}
	return 0
}

func (p *RemotePlugin) DetailSections(rec *registry.Record) []DetailSection {
	return []DetailSection{{
		Title: "Remote instance",
		Rows:  [][2]string{{"URL", rec.RemoteURL}},
	}}
}

func (p *RemotePlugin) ListActions(rec *registry.Record) []string {
	return []string{"launch", "remove"}
}

func (p *RemotePlugin) HandleAction(ctx context.Context, actionID string, rec *registry.Record, actionData map[string]any, tools *ActionTools) error {
	return errors.NoLaunchSupport(p.ID(), actionID)
}

// CloudPlugin is a remote variant with a fixed hosted endpoint.
type CloudPlugin struct {
	// Endpoint overrides the hosted URL (tests).
	Endpoint string
}

// DefaultCloudEndpoint is the hosted payload URL.
const DefaultCloudEndpoint = "https://cloud.comfy.org"

func (p *CloudPlugin) ID() string         { return "cloud" }
func (p *CloudPlugin) Label() string      { return "Cloud" }
func (p *CloudPlugin) Category() Category { return CategoryRemote }

func (p *CloudPlugin) Fields() []Field {
	return []Field{{ID: "name", Label: "Name", Type: FieldText}}
}

func (p *CloudPlugin) FieldOptions(ctx context.Context, fieldID string, selections map[string]string) ([]Option, error) {
	return nil, nil
}

func (p *CloudPlugin) Defaults() map[string]string {
	return map[string]string{"name": "Cloud"}
}

func (p *CloudPlugin) endpoint() string {
	if p.Endpoint != "" {
		return p.Endpoint
	}
	return DefaultCloudEndpoint
}

func (p *CloudPlugin) BuildInstallation(selections map[string]string) (*registry.Record, error) {
	name := selections["name"]
	if name == "" {
		name = "Cloud"
	}
	return &registry.Record{
		Name:      name,
		SourceID:  p.ID(),
		Status:    registry.StatusInstalled,
		RemoteURL: p.endpoint(),
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (p *CloudPlugin) LaunchCommand(rec *registry.Record) (*LaunchCommand, error) {
	return &LaunchCommand{
		Remote: true,
		URL:    p.endpoint(),
		Port:   remotePort(p.endpoint()),
	}, nil
}

func (p *CloudPlugin) DetailSections(rec *registry.Record) []DetailSection {
	return []DetailSection{{
		Title: "Cloud",
		Rows:  [][2]string{{"Endpoint", p.endpoint()}},
	}}
}

func (p *CloudPlugin) ListActions(rec *registry.Record) []string {
	return []string{"launch", "remove"}
}

func (p *CloudPlugin) HandleAction(ctx context.Context, actionID string, rec *registry.Record, actionData map[string]any, tools *ActionTools) error {
	return errors.NoLaunchSupport(p.ID(), actionID)
}
