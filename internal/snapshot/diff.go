package snapshot

import (
	"sort"

	"github.com/samber/lo"

	"github.com/hangar-sh/hangar/internal/uvenv"
)

// PayloadChange records a payload delta between two snapshots.
type PayloadChange struct {
	From Payload `json:"from"`
	To   Payload `json:"to"`
}

// ExtensionChange is one extension present in both snapshots with a
// differing version, commit, URL or enabled state.
type ExtensionChange struct {
	From Extension `json:"from"`
	To   Extension `json:"to"`
}

// PackageChange is one package whose pinned version differs.
type PackageChange struct {
	Name string `json:"name"`
	From string `json:"from"`
	To   string `json:"to"`
}

// Diff describes what separates two snapshots.
type Diff struct {
	Payload *PayloadChange `json:"payload,omitempty"`

	ExtensionsAdded   []Extension       `json:"extensionsAdded,omitempty"`
	ExtensionsRemoved []Extension       `json:"extensionsRemoved,omitempty"`
	ExtensionsChanged []ExtensionChange `json:"extensionsChanged,omitempty"`

	PackagesAdded   []uvenv.Package `json:"packagesAdded,omitempty"`
	PackagesRemoved []uvenv.Package `json:"packagesRemoved,omitempty"`
	PackagesChanged []PackageChange `json:"packagesChanged,omitempty"`
}

// Empty reports whether the two snapshots describe the same state.
func (d *Diff) Empty() bool {
	return d.Payload == nil &&
		len(d.ExtensionsAdded) == 0 && len(d.ExtensionsRemoved) == 0 && len(d.ExtensionsChanged) == 0 &&
		len(d.PackagesAdded) == 0 && len(d.PackagesRemoved) == 0 && len(d.PackagesChanged) == 0
}

// Compare diffs from against to: the result reads as "what changes when
// moving from `from` to `to`".
func Compare(from, to *Snapshot) *Diff {
	d := &Diff{}

	if from.Payload != to.Payload {
		d.Payload = &PayloadChange{From: from.Payload, To: to.Payload}
	}

	fromExts := lo.KeyBy(from.Extensions, Extension.Key)
	toExts := lo.KeyBy(to.Extensions, Extension.Key)

	for key, ext := range toExts {
		prev, ok := fromExts[key]
		switch {
		case !ok:
			d.ExtensionsAdded = append(d.ExtensionsAdded, ext)
		case prev != ext:
			d.ExtensionsChanged = append(d.ExtensionsChanged, ExtensionChange{From: prev, To: ext})
		}
	}
	for key, ext := range fromExts {
		if _, ok := toExts[key]; !ok {
			d.ExtensionsRemoved = append(d.ExtensionsRemoved, ext)
		}
	}

	fromPkgs := lo.KeyBy(from.Packages, func(p uvenv.Package) string { return uvenv.NormalizeName(p.Name) })
	toPkgs := lo.KeyBy(to.Packages, func(p uvenv.Package) string { return uvenv.NormalizeName(p.Name) })

	for name, pkg := range toPkgs {
		prev, ok := fromPkgs[name]
		switch {
		case !ok:
			d.PackagesAdded = append(d.PackagesAdded, pkg)
		case prev.Version != pkg.Version:
			d.PackagesChanged = append(d.PackagesChanged, PackageChange{Name: pkg.Name, From: prev.Version, To: pkg.Version})
		}
	}
	for name, pkg := range fromPkgs {
		if _, ok := toPkgs[name]; !ok {
			d.PackagesRemoved = append(d.PackagesRemoved, pkg)
		}
	}

	d.sortStable()
	return d
}

// sortStable orders every slice so diff output does not depend on map
// iteration.
func (d *Diff) sortStable() {
	sort.Slice(d.ExtensionsAdded, func(i, j int) bool { return d.ExtensionsAdded[i].Key() < d.ExtensionsAdded[j].Key() })
	sort.Slice(d.ExtensionsRemoved, func(i, j int) bool { return d.ExtensionsRemoved[i].Key() < d.ExtensionsRemoved[j].Key() })
	sort.Slice(d.ExtensionsChanged, func(i, j int) bool { return d.ExtensionsChanged[i].To.Key() < d.ExtensionsChanged[j].To.Key() })
	sort.Slice(d.PackagesAdded, func(i, j int) bool { return d.PackagesAdded[i].Name < d.PackagesAdded[j].Name })
	sort.Slice(d.PackagesRemoved, func(i, j int) bool { return d.PackagesRemoved[i].Name < d.PackagesRemoved[j].Name })
	sort.Slice(d.PackagesChanged, func(i, j int) bool { return d.PackagesChanged[i].Name < d.PackagesChanged[j].Name })
}
