package record

import (
	"slices"

	"github.com/wippyai/romkit/errors"
	"github.com/wippyai/romkit/layout"
)

// Evolution is one evolution edge. Method 0 marks an empty slot.
type Evolution struct {
	From   int
	Method int `rom:"method"`
	Param  int `rom:"param"`
	Into   int `rom:"target"`
}

// EvolutionSet is the view of one species' outgoing evolutions.
type EvolutionSet struct {
	Evolutions []Evolution
	Species    int
}

// EvolutionTable owns every evolution edge of a build. Adjacency is kept
// as edge indices per species; edges never point at each other.
type EvolutionTable struct {
	edges []Evolution
	from  [][]int
	into  [][]int
	slots int
}

// NewEvolutionTable creates an empty table for species ids
// 0..species-1 with slots evolution slots each.
func NewEvolutionTable(species, slots int) *EvolutionTable {
	et := &EvolutionTable{slots: slots}
	et.from = make([][]int, species)
	et.into = make([][]int, species)
	return et
}

// DecodeEvolutions reads one file per species.
func (c *Codec) DecodeEvolutions(t *layout.Table, files [][]byte) (*EvolutionTable, error) {
	if t.Slots == nil {
		return nil, errors.InvalidInput(errors.PhaseDecode, "evolution table has no slots")
	}
	et := NewEvolutionTable(len(files), t.Slots.Count)
	desc := slotDescriptor(t.Slots)
	for species, file := range files {
		for i := 0; i < t.Slots.Count; i++ {
			if desc.Offset(i)+t.Slots.Stride > len(file) {
				break
			}
			var e Evolution
			if err := c.DecodeRecord(desc, file, i, &e); err != nil {
				return nil, err
			}
			if e.Method == 0 {
				continue
			}
			e.From = species
			et.add(e)
		}
	}
	return et, nil
}

// EncodeEvolutions writes every species' edges back into its file and
// clears the unused slots.
func (c *Codec) EncodeEvolutions(t *layout.Table, et *EvolutionTable, files [][]byte) ([]Warning, error) {
	if t.Slots == nil {
		return nil, errors.InvalidInput(errors.PhaseEncode, "evolution table has no slots")
	}
	if len(files) != et.Len() {
		return nil, errors.New(errors.PhaseEncode, errors.KindInvalidInput).
			Detail("%d evolution files for %d species", len(files), et.Len()).Build()
	}
	desc := slotDescriptor(t.Slots)
	var warnings []Warning
	for species, file := range files {
		edges := et.From(species)
		for i := 0; i < t.Slots.Count; i++ {
			e := Evolution{}
			if i < len(edges) {
				e = edges[i]
			}
			w, err := c.EncodeRecord(desc, &e, file, i)
			warnings = append(warnings, w...)
			if err != nil {
				return warnings, err
			}
		}
	}
	return warnings, nil
}

func slotDescriptor(s *layout.Slots) Descriptor {
	return Descriptor{Fields: s.Fields, Base: s.Base, Stride: s.Stride}
}

func (et *EvolutionTable) add(e Evolution) {
	idx := len(et.edges)
	et.edges = append(et.edges, e)
	et.from[e.From] = append(et.from[e.From], idx)
	if e.Into >= 0 && e.Into < len(et.into) {
		et.into[e.Into] = append(et.into[e.Into], idx)
	}
}

// Len returns the number of species.
func (et *EvolutionTable) Len() int {
	return len(et.from)
}

// Edges returns every edge in species order.
func (et *EvolutionTable) Edges() []Evolution {
	out := make([]Evolution, 0, len(et.edges))
	for species := range et.from {
		out = append(out, et.From(species)...)
	}
	return out
}

// From returns the evolutions of species.
func (et *EvolutionTable) From(species int) []Evolution {
	if species < 0 || species >= len(et.from) {
		return nil
	}
	return et.collect(et.from[species])
}

// Into returns the evolutions that produce species.
func (et *EvolutionTable) Into(species int) []Evolution {
	if species < 0 || species >= len(et.into) {
		return nil
	}
	return et.collect(et.into[species])
}

// Set returns the evolution set of species.
func (et *EvolutionTable) Set(species int) EvolutionSet {
	return EvolutionSet{Species: species, Evolutions: et.From(species)}
}

func (et *EvolutionTable) collect(idx []int) []Evolution {
	out := make([]Evolution, len(idx))
	for i, j := range idx {
		out[i] = et.edges[j]
	}
	return out
}

// Replace sets the evolutions of set.Species. From is taken from the set;
// empty-method edges are rejected.
func (et *EvolutionTable) Replace(set EvolutionSet) error {
	species := set.Species
	if species < 0 || species >= len(et.from) {
		return errors.OutOfBounds(errors.PhaseEncode, []string{"evolutions"}, species, len(et.from))
	}
	if len(set.Evolutions) > et.slots {
		return errors.New(errors.PhaseEncode, errors.KindInvalidInput).Path("evolutions").
			Value(len(set.Evolutions)).Detail("species %d has %d slots", species, et.slots).Build()
	}
	for _, e := range set.Evolutions {
		if e.Method == 0 {
			return errors.New(errors.PhaseEncode, errors.KindInvalidInput).Path("evolutions").
				Detail("evolution of species %d into %d has no method", species, e.Into).Build()
		}
	}

	edges := slices.DeleteFunc(et.Edges(), func(e Evolution) bool { return e.From == species })
	for _, e := range set.Evolutions {
		e.From = species
		edges = append(edges, e)
	}
	et.rebuild(edges)
	return nil
}

func (et *EvolutionTable) rebuild(edges []Evolution) {
	slices.SortStableFunc(edges, func(a, b Evolution) int { return a.From - b.From })
	et.edges = et.edges[:0]
	for i := range et.from {
		et.from[i] = et.from[i][:0]
		et.into[i] = et.into[i][:0]
	}
	for _, e := range edges {
		et.add(e)
	}
}
