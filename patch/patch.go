package patch

import (
	"io/fs"
	"maps"
	"slices"

	"github.com/wippyai/romkit/errors"
	"github.com/wippyai/romkit/layout"
)

// Descriptor is a named, ordered set of edits together with the
// references that must follow relocated bytes.
type Descriptor struct {
	Name       string
	Target     string
	Edits      []layout.Edit
	Branches   []layout.BranchSite
	References []layout.PointerSite
	// Truncate is the image length an IPS source cuts to, or -1.
	Truncate int
}

// FromLayout builds a descriptor for a named layout patch. IPS sources are
// read from fsys.
func FromLayout(name string, p layout.Patch, fsys fs.FS) (*Descriptor, error) {
	d := &Descriptor{
		Name:       name,
		Target:     p.Target,
		Edits:      slices.Clone(p.Edits),
		Branches:   p.Branches,
		References: p.References,
		Truncate:   -1,
	}
	if p.IPS == "" {
		return d, nil
	}
	if fsys == nil {
		return nil, errors.New(errors.PhasePatch, errors.KindNotFound).Path(name).
			Detail("patch needs %s but no patch directory is configured", p.IPS).Build()
	}
	data, err := fs.ReadFile(fsys, p.IPS)
	if err != nil {
		return nil, errors.New(errors.PhasePatch, errors.KindNotFound).Path(name).Cause(err).
			Detail("read %s", p.IPS).Build()
	}
	ips, err := ParseIPS(data)
	if err != nil {
		return nil, err
	}
	d.Edits = append(d.Edits, ips.Edits()...)
	d.Truncate = ips.Truncate
	return d, nil
}

// Library resolves descriptors by name for one build.
type Library struct {
	build *layout.Build
	fsys  fs.FS
	cache map[string]*Descriptor
}

// NewLibrary creates a library over the build's patches. fsys holds IPS
// files and may be nil when the build has none.
func NewLibrary(build *layout.Build, fsys fs.FS) *Library {
	return &Library{build: build, fsys: fsys, cache: make(map[string]*Descriptor)}
}

// Lookup returns the named descriptor.
func (l *Library) Lookup(name string) (*Descriptor, error) {
	if d, ok := l.cache[name]; ok {
		return d, nil
	}
	p, err := l.build.Patch(name)
	if err != nil {
		return nil, err
	}
	d, err := FromLayout(name, p, l.fsys)
	if err != nil {
		return nil, err
	}
	l.cache[name] = d
	return d, nil
}

// Names returns the build's patch names in sorted order.
func (l *Library) Names() []string {
	return slices.Sorted(maps.Keys(l.build.Patches))
}
