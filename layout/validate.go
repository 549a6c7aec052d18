package layout

import (
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"github.com/wippyai/romkit/errors"
)

// RequiredFields lists, per record table, the field names every build must
// declare. Record types bind to these names.
var RequiredFields = map[string][]string{
	"species": {
		"hp", "attack", "defense", "speed", "spAttack", "spDefense",
		"type1", "type2", "catchRate", "baseExp", "commonItem", "rareItem",
		"genderRatio", "growthCurve", "ability1", "ability2",
	},
	"moves": {
		"effect", "category", "power", "type", "accuracy", "pp",
		"effectChance", "target", "priority", "contact",
	},
	"items":             {"price"},
	"machines":          {"move"},
	"evolutions.slots":  {"method", "param", "target"},
	"encounters":        {"rate"},
	"encounters.slots":  {"level", "species"},
	"trainers":          {"flags", "class", "count"},
	"trainers.member":   {"difficulty", "ability", "level", "species", "forme"},
	"learnsets":         {"move", "level"},
	"shops.progressive": {"item", "badges"},
}

// Validate checks every build for semantic consistency and returns all
// problems combined.
func (c *Catalog) Validate() error {
	var errs error
	seen := make(map[string]bool)
	for i := range c.Builds {
		b := &c.Builds[i]
		if seen[b.Name] {
			errs = multierr.Append(errs, issue([]string{b.Name}, "duplicate build name"))
		}
		seen[b.Name] = true
		errs = multierr.Append(errs, b.validate())
	}
	if errs != nil {
		return errors.Wrap(errors.PhaseLayout, errors.KindInvalidData, errs,
			fmt.Sprintf("%d layout problem(s)", len(multierr.Errors(errs))))
	}
	return nil
}

func issue(path []string, format string, args ...any) error {
	return errors.InvalidData(errors.PhaseLayout, path, fmt.Sprintf(format, args...))
}

type checker struct {
	b    *Build
	errs error
}

func (c *checker) add(path []string, format string, args ...any) {
	c.errs = multierr.Append(c.errs, issue(append([]string{c.b.Name}, path...), format, args...))
}

func (c *checker) archive(path []string, name string) {
	if _, ok := c.b.Archives[name]; !ok {
		c.add(path, "unknown archive %q", name)
	}
}

func (b *Build) validate() error {
	c := &checker{b: b}

	if a := b.Executable.Alignment; a&(a-1) != 0 {
		c.add([]string{"executable", "alignment"}, "%d is not a power of two", a)
	}
	for _, p := range b.Executable.Pointers {
		c.relativity([]string{"executable", "pointers", p.Name}, p.Relativity)
	}
	if _, err := b.Checksums.OverlayIDs(); err != nil {
		c.add([]string{"checksums", "overlays"}, "%v", err)
	}
	for name := range b.Checksums.Files {
		c.archive([]string{"checksums", "files"}, name)
	}

	r := &b.Records
	c.table("species", r.Species)
	c.table("moves", r.Moves)
	c.table("items", r.Items)
	c.table("evolutions", r.Evolutions)
	c.table("encounters", r.Encounters)
	c.table("machines", r.Machines)
	if t := r.Evolutions; t != nil && t.Slots == nil {
		c.add([]string{"evolutions"}, "slots are required")
	}
	if t := r.Encounters; t != nil && t.Slots == nil {
		c.add([]string{"encounters"}, "slots are required")
	}
	if t := r.Trainers; t != nil {
		c.archive([]string{"trainers"}, t.Archive)
		c.archive([]string{"trainers", "teams"}, t.Teams)
		c.fields([]string{"trainers"}, t.Fields, 0)
		c.fields([]string{"trainers", "member"}, t.Member, t.MemberSize)
		c.required("trainers", t.Fields)
		c.required("trainers.member", t.Member)
	}
	if t := r.Learnsets; t != nil {
		c.archive([]string{"learnsets"}, t.Archive)
		c.fields([]string{"learnsets"}, t.Fields, t.EntrySize)
		c.required("learnsets", t.Fields)
		if t.EntrySize < 1 || t.EntrySize > 4 {
			c.add([]string{"learnsets", "entrySize"}, "must be 1 to 4 bytes, got %d", t.EntrySize)
		}
	}
	if t := r.Compatibility; t != nil {
		c.archive([]string{"compatibility"}, t.Archive)
		if t.Count <= 0 || t.Offset < 0 {
			c.add([]string{"compatibility"}, "need a positive count and a non-negative offset")
		}
	}
	if t := r.EggMoves; t != nil {
		c.archive([]string{"eggMoves"}, t.Archive)
		if t.Marker == 0 || t.Terminator <= t.Marker || t.Terminator > 0xFFFF {
			c.add([]string{"eggMoves"}, "marker %#x and terminator %#x must satisfy 0 < marker < terminator <= 0xffff",
				t.Marker, t.Terminator)
		}
	}
	if s := r.Shops; s != nil {
		if p := s.Progressive; p != nil {
			c.relativity([]string{"shops", "progressive"}, p.Relativity)
			c.fields([]string{"shops", "progressive"}, p.Fields, p.Stride)
			c.required("shops.progressive", p.Fields)
		}
		if sp := s.Special; sp != nil {
			c.relativity([]string{"shops", "special"}, sp.Relativity)
			if len(sp.Names) > 0 && len(sp.Names) != sp.Count {
				c.add([]string{"shops", "special", "names"}, "%d names for %d shops", len(sp.Names), sp.Count)
			}
			if sp.EntrySize != 2 && sp.EntrySize != 4 {
				c.add([]string{"shops", "special", "entrySize"}, "must be 2 or 4, got %d", sp.EntrySize)
			}
		}
	}

	for name, p := range b.Patches {
		path := []string{"patches", name}
		if (p.IPS == "") == (len(p.Edits) == 0) {
			c.add(path, "exactly one of edits or ips is required")
		}
		if p.Target != TargetARM9 && !strings.HasPrefix(p.Target, "overlay") {
			c.add(path, "unknown target %q", p.Target)
		}
		for i, e := range p.Edits {
			if len(e.Post) == 0 {
				c.add(append(path, fmt.Sprint(i)), "empty post-image")
			}
		}
		for _, ref := range p.References {
			c.relativity(append(path, ref.Name), ref.Relativity)
		}
	}

	for name, entries := range b.Entries {
		for _, e := range entries {
			c.archive([]string{"entries", name}, e.Archive)
		}
	}
	return c.errs
}

func (c *checker) table(kind string, t *Table) {
	if t == nil {
		return
	}
	path := []string{kind}
	switch {
	case t.InExecutable():
		if t.Count <= 0 || t.Stride <= 0 {
			c.add(path, "executable tables need count and stride")
		}
	default:
		c.archive(path, t.Archive)
		if t.Packed && t.Stride <= 0 {
			c.add(path, "packed tables need a stride")
		}
	}
	limit := 0
	if t.Packed || t.InExecutable() {
		limit = t.Stride
	}
	c.fields(path, t.Fields, limit)
	c.required(kind, t.Fields)
	if s := t.Slots; s != nil {
		sp := append(path, "slots")
		c.fields(sp, s.Fields, s.Stride)
		c.required(kind+".slots", s.Fields)
		if s.Count <= 0 {
			c.add(sp, "count must be positive")
		}
	}
}

// fields checks each field; limit, when positive, is the record size every
// field must fit into.
func (c *checker) fields(path []string, fields []Field, limit int) {
	names := make(map[string]bool, len(fields))
	for _, f := range fields {
		fp := append(append([]string{}, path...), f.Name)
		if names[f.Name] {
			c.add(fp, "duplicate field")
		}
		names[f.Name] = true

		switch f.Kind {
		case KindString:
			if f.Length <= 0 {
				c.add(fp, "string fields need a length")
			}
		case KindPointer:
			c.relativity(fp, f.Relativity)
		case KindEnum:
			if len(f.Values) == 0 {
				c.add(fp, "enum fields need values")
			} else if f.Width < 32 && len(f.Values) > 1<<f.Width {
				c.add(fp, "%d values do not fit in %d bits", len(f.Values), f.Width)
			}
		}
		if f.Kind != KindPointer && f.Relativity != "" {
			c.add(fp, "relativity is only valid on pointer fields")
		}
		if f.Kind != KindString && (f.Width <= 0 || f.Width > 32) {
			c.add(fp, "width %d out of range 1..32", f.Width)
		}
		if f.Kind != KindString && f.Bytes() > 8 {
			c.add(fp, "bit %d + width %d spans more than 8 bytes", f.Bit, f.Width)
		}
		if limit > 0 && f.Offset+f.Bytes() > limit {
			c.add(fp, "ends at byte %d past record size %d", f.Offset+f.Bytes(), limit)
		}
	}
}

func (c *checker) required(kind string, fields []Field) {
	have := make(map[string]bool, len(fields))
	for _, f := range fields {
		have[f.Name] = true
	}
	for _, name := range RequiredFields[kind] {
		if !have[name] {
			c.add(strings.Split(kind, "."), "missing required field %q", name)
		}
	}
}

func (c *checker) relativity(path []string, r Relativity) {
	switch r {
	case Absolute, ImageBase, SelfRelative:
	case "":
		c.add(path, "pointer relativity must be declared")
	default:
		c.add(path, "unknown relativity %q", r)
	}
}
