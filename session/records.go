package session

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/wippyai/romkit/errors"
	"github.com/wippyai/romkit/layout"
	"github.com/wippyai/romkit/record"
)

// Kind names a record kind.
type Kind string

const (
	Species    Kind = "species"
	Moves      Kind = "moves"
	Items      Kind = "items"
	Evolutions Kind = "evolutions"
	Encounters Kind = "encounters"
	Trainers   Kind = "trainers"
	Learnsets  Kind = "learnsets"
	Shops      Kind = "shops"
	// Machines holds the move of each TM and HM.
	Machines Kind = "machines"
	// Compatibility holds the machine bits of each species.
	Compatibility Kind = "compatibility"
	// EggMoves holds the egg moves of each species, indexed by species.
	EggMoves Kind = "eggMoves"
)

// Kinds lists every record kind.
var Kinds = []Kind{
	Species, Moves, Items, Evolutions, Encounters, Trainers, Learnsets, Shops,
	Machines, Compatibility, EggMoves,
}

func (s *Session) table(kind Kind) *layout.Table {
	r := &s.build.Records
	switch kind {
	case Species:
		return r.Species
	case Moves:
		return r.Moves
	case Items:
		return r.Items
	case Evolutions:
		return r.Evolutions
	case Encounters:
		return r.Encounters
	case Machines:
		return r.Machines
	}
	return nil
}

func unsupported(kind Kind) error {
	return errors.Unsupported(errors.PhaseLayout, fmt.Sprintf("%s records on this build", kind))
}

// Count returns the number of records of kind.
func (s *Session) Count(kind Kind) (int, error) {
	if err := s.gate.Require(errors.PhaseDecode, "count "+string(kind)); err != nil {
		return 0, err
	}
	switch kind {
	case Trainers:
		if t := s.build.Records.Trainers; t != nil {
			return s.archiveLen(t.Archive)
		}
	case Learnsets:
		if t := s.build.Records.Learnsets; t != nil {
			return s.archiveLen(t.Archive)
		}
	case Shops:
		if t := s.build.Records.Shops; t != nil {
			return record.ShopCount(t), nil
		}
	case Compatibility:
		if t := s.build.Records.Compatibility; t != nil {
			return s.archiveLen(t.Archive)
		}
	case EggMoves:
		if s.build.Records.EggMoves != nil && s.build.Records.Species != nil {
			return s.tableLen(s.build.Records.Species)
		}
	default:
		if t := s.table(kind); t != nil {
			return s.tableLen(t)
		}
	}
	return 0, unsupported(kind)
}

func (s *Session) archiveLen(name string) (int, error) {
	a, err := s.archive(name)
	if err != nil {
		return 0, err
	}
	return a.arc.Len(), nil
}

func (s *Session) tableLen(t *layout.Table) (int, error) {
	switch {
	case t.InExecutable():
		return t.Count, nil
	case t.Packed:
		if t.Count > 0 {
			return t.Count, nil
		}
		a, err := s.archive(t.Archive)
		if err != nil {
			return 0, err
		}
		file, err := a.arc.File(t.File)
		if err != nil {
			return 0, err
		}
		return max(0, (len(file)-t.Base)/t.Stride), nil
	default:
		return s.archiveLen(t.Archive)
	}
}

// window holds the bytes of record index of t. Archive records are
// edited in a private copy that commit stores back. Executable records
// are edited in place so pointer sites keep their image offsets; only
// the record's own bytes are saved, and rollback restores them.
type window struct {
	data     []byte
	slot     int
	commit   func()
	rollback func()
}

func (s *Session) window(kind Kind, t *layout.Table, index int) (*window, error) {
	n, err := s.tableLen(t)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= n {
		return nil, errors.OutOfBounds(errors.PhaseDecode, []string{string(kind)}, index, n)
	}
	if t.InExecutable() {
		off := s.descriptor(t).Offset(index)
		if off < 0 || off+t.Stride > len(s.arm9.Data) {
			return nil, errors.New(errors.PhaseLayout, errors.KindOutOfBounds).Path(string(kind)).
				Offset(off).Detail("record %d lies outside the %d-byte executable", index, len(s.arm9.Data)).Build()
		}
		saved := bytes.Clone(s.arm9.Data[off : off+t.Stride])
		return &window{
			data:     s.arm9.Data,
			slot:     index,
			commit:   func() {},
			rollback: func() { copy(s.arm9.Data[off:], saved) },
		}, nil
	}
	a, err := s.archive(t.Archive)
	if err != nil {
		return nil, err
	}
	file, slot := index, 0
	if t.Packed {
		file, slot = t.File, index
	}
	data, err := a.arc.File(file)
	if err != nil {
		return nil, err
	}
	w := &window{data: bytes.Clone(data), slot: slot, rollback: func() {}}
	w.commit = func() { a.arc.Files[file] = w.data }
	return w, nil
}

func (s *Session) descriptor(t *layout.Table) record.Descriptor {
	return record.Descriptor{Fields: t.Fields, Base: t.Base, Stride: t.Stride}
}

// Record decodes record index of kind. The result is a pointer to the
// kind's record type: *record.Species, *record.Move, *record.Item,
// *record.EvolutionSet, *record.EncounterArea, *record.Trainer,
// *record.Learnset, *record.Shop, *record.MachineMove,
// *record.Compatibility or *record.EggMoves.
func (s *Session) Record(kind Kind, index int) (any, error) {
	if err := s.gate.Require(errors.PhaseDecode, "read "+string(kind)); err != nil {
		return nil, err
	}
	switch kind {
	case Species, Moves, Items, Machines:
		t := s.table(kind)
		if t == nil {
			return nil, unsupported(kind)
		}
		w, err := s.window(kind, t, index)
		if err != nil {
			return nil, err
		}
		var rec any
		switch kind {
		case Species:
			rec = &record.Species{}
		case Moves:
			rec = &record.Move{}
		case Machines:
			rec = &record.MachineMove{}
		default:
			rec = &record.Item{}
		}
		if err := s.codec.DecodeRecord(s.descriptor(t), w.data, w.slot, rec); err != nil {
			return nil, err
		}
		return rec, nil

	case Encounters:
		t := s.table(kind)
		if t == nil {
			return nil, unsupported(kind)
		}
		w, err := s.window(kind, t, index)
		if err != nil {
			return nil, err
		}
		return s.codec.DecodeEncounterArea(t, w.data, w.slot)

	case Evolutions:
		et, err := s.evolutions()
		if err != nil {
			return nil, err
		}
		if index < 0 || index >= et.Len() {
			return nil, errors.OutOfBounds(errors.PhaseDecode, []string{string(kind)}, index, et.Len())
		}
		set := et.Set(index)
		return &set, nil

	case Trainers:
		header, team, err := s.trainerFiles(index)
		if err != nil {
			return nil, err
		}
		return s.codec.DecodeTrainer(s.build.Records.Trainers, header, team)

	case Learnsets:
		t := s.build.Records.Learnsets
		if t == nil {
			return nil, unsupported(kind)
		}
		a, err := s.archive(t.Archive)
		if err != nil {
			return nil, err
		}
		file, err := a.arc.File(index)
		if err != nil {
			return nil, err
		}
		return s.codec.DecodeLearnset(t, file)

	case Shops:
		shops, err := s.shops()
		if err != nil {
			return nil, err
		}
		if index < 0 || index >= len(shops) {
			return nil, errors.OutOfBounds(errors.PhaseDecode, []string{string(kind)}, index, len(shops))
		}
		return &shops[index], nil

	case Compatibility:
		t := s.build.Records.Compatibility
		if t == nil {
			return nil, unsupported(kind)
		}
		a, err := s.archive(t.Archive)
		if err != nil {
			return nil, err
		}
		file, err := a.arc.File(index)
		if err != nil {
			return nil, err
		}
		return s.codec.DecodeCompatibility(t, file)

	case EggMoves:
		groups, err := s.eggMoves(kind, index)
		if err != nil {
			return nil, err
		}
		rec := &record.EggMoves{Species: index}
		if i := slices.IndexFunc(groups, func(g record.EggMoves) bool { return g.Species == index }); i >= 0 {
			rec.Moves = groups[i].Moves
		}
		return rec, nil
	}
	return nil, unsupported(kind)
}

// SetRecord encodes rec as record index of kind. rec is the kind's record
// type or a pointer to it. Nothing changes when an error is returned;
// clamped values are reported as warnings.
func (s *Session) SetRecord(kind Kind, index int, rec any) ([]record.Warning, error) {
	if err := s.gate.Require(errors.PhaseEncode, "write "+string(kind)); err != nil {
		return nil, err
	}
	switch kind {
	case Species, Moves, Items, Machines:
		t := s.table(kind)
		if t == nil {
			return nil, unsupported(kind)
		}
		if !matches(kind, rec) {
			return nil, errors.InvalidInput(errors.PhaseEncode, fmt.Sprintf("%T is not a %s record", rec, kind))
		}
		w, err := s.window(kind, t, index)
		if err != nil {
			return nil, err
		}
		warnings, err := s.codec.EncodeRecord(s.descriptor(t), rec, w.data, w.slot)
		if err != nil {
			w.rollback()
			return warnings, err
		}
		w.commit()
		return warnings, nil

	case Encounters:
		t := s.table(kind)
		if t == nil {
			return nil, unsupported(kind)
		}
		area, err := as[record.EncounterArea](kind, rec)
		if err != nil {
			return nil, err
		}
		w, err := s.window(kind, t, index)
		if err != nil {
			return nil, err
		}
		warnings, err := s.codec.EncodeEncounterArea(t, area, w.data, w.slot)
		if err != nil {
			w.rollback()
			return warnings, err
		}
		w.commit()
		return warnings, nil

	case Evolutions:
		return s.setEvolutions(index, rec)

	case Trainers:
		tr, err := as[record.Trainer](kind, rec)
		if err != nil {
			return nil, err
		}
		header, team, err := s.trainerFiles(index)
		if err != nil {
			return nil, err
		}
		t := s.build.Records.Trainers
		header = bytes.Clone(header)
		newTeam, warnings, err := s.codec.EncodeTrainer(t, tr, header, team)
		if err != nil {
			return warnings, err
		}
		s.archives[t.Archive].arc.Files[index] = header
		s.archives[t.Teams].arc.Files[index] = newTeam
		return warnings, nil

	case Learnsets:
		t := s.build.Records.Learnsets
		if t == nil {
			return nil, unsupported(kind)
		}
		ls, err := as[record.Learnset](kind, rec)
		if err != nil {
			return nil, err
		}
		a, err := s.archive(t.Archive)
		if err != nil {
			return nil, err
		}
		if index < 0 || index >= a.arc.Len() {
			return nil, errors.OutOfBounds(errors.PhaseEncode, []string{string(kind)}, index, a.arc.Len())
		}
		file, warnings, err := s.codec.EncodeLearnset(t, ls)
		if err != nil {
			return warnings, err
		}
		return warnings, a.arc.SetFile(index, file)

	case Shops:
		shop, err := as[record.Shop](kind, rec)
		if err != nil {
			return nil, err
		}
		shops, err := s.shops()
		if err != nil {
			return nil, err
		}
		if index < 0 || index >= len(shops) {
			return nil, errors.OutOfBounds(errors.PhaseEncode, []string{string(kind)}, index, len(shops))
		}
		shops[index] = *shop
		return s.codec.EncodeShops(s.build.Records.Shops, s.arm9, shops)

	case Compatibility:
		return nil, s.setCompatibility(index, rec)

	case EggMoves:
		return nil, s.setEggMoves(index, rec)
	}
	return nil, unsupported(kind)
}

// matches reports whether rec is the record type of kind.
func matches(kind Kind, rec any) bool {
	switch rec.(type) {
	case record.Species, *record.Species:
		return kind == Species
	case record.Move, *record.Move:
		return kind == Moves
	case record.Item, *record.Item:
		return kind == Items
	case record.MachineMove, *record.MachineMove:
		return kind == Machines
	}
	return false
}

// as accepts a T or a non-nil *T.
func as[T any](kind Kind, rec any) (*T, error) {
	switch v := rec.(type) {
	case T:
		return &v, nil
	case *T:
		if v != nil {
			return v, nil
		}
	}
	var zero T
	return nil, errors.InvalidInput(errors.PhaseEncode, fmt.Sprintf("%T is not a %T record for %s", rec, zero, kind))
}

func (s *Session) trainerFiles(index int) (header, team []byte, err error) {
	t := s.build.Records.Trainers
	if t == nil {
		return nil, nil, unsupported(Trainers)
	}
	headers, err := s.archive(t.Archive)
	if err != nil {
		return nil, nil, err
	}
	teams, err := s.archive(t.Teams)
	if err != nil {
		return nil, nil, err
	}
	if header, err = headers.arc.File(index); err != nil {
		return nil, nil, err
	}
	if team, err = teams.arc.File(index); err != nil {
		return nil, nil, err
	}
	return header, team, nil
}

// evolutions decodes the evolution table on first use. The table stays
// the owner of every edge until the session is discarded.
func (s *Session) evolutions() (*record.EvolutionTable, error) {
	if s.evo != nil {
		return s.evo, nil
	}
	t := s.build.Records.Evolutions
	if t == nil {
		return nil, unsupported(Evolutions)
	}
	a, err := s.archive(t.Archive)
	if err != nil {
		return nil, err
	}
	et, err := s.codec.DecodeEvolutions(t, a.arc.Files)
	if err != nil {
		return nil, err
	}
	s.evo = et
	return et, nil
}

func (s *Session) setEvolutions(index int, rec any) ([]record.Warning, error) {
	set, err := as[record.EvolutionSet](Evolutions, rec)
	if err != nil {
		return nil, err
	}
	et, err := s.evolutions()
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= et.Len() {
		return nil, errors.OutOfBounds(errors.PhaseEncode, []string{string(Evolutions)}, index, et.Len())
	}
	t := s.build.Records.Evolutions
	a := s.archives[t.Archive]

	next := *set
	next.Species = index
	next.Evolutions = slices.Clone(set.Evolutions)
	prev := et.Set(index)
	if err := et.Replace(next); err != nil {
		return nil, err
	}
	files := make([][]byte, a.arc.Len())
	for i, f := range a.arc.Files {
		files[i] = bytes.Clone(f)
	}
	warnings, err := s.codec.EncodeEvolutions(t, et, files)
	if err != nil {
		_ = et.Replace(prev)
		return warnings, err
	}
	a.arc.Files = files
	return warnings, nil
}

func (s *Session) shops() ([]record.Shop, error) {
	t := s.build.Records.Shops
	if t == nil {
		return nil, unsupported(Shops)
	}
	return s.codec.DecodeShops(t, s.arm9)
}

func (s *Session) setCompatibility(index int, rec any) error {
	t := s.build.Records.Compatibility
	if t == nil {
		return unsupported(Compatibility)
	}
	cp, err := as[record.Compatibility](Compatibility, rec)
	if err != nil {
		return err
	}
	a, err := s.archive(t.Archive)
	if err != nil {
		return err
	}
	file, err := a.arc.File(index)
	if err != nil {
		return err
	}
	file = bytes.Clone(file)
	if err := s.codec.EncodeCompatibility(t, cp, file); err != nil {
		return err
	}
	return a.arc.SetFile(index, file)
}

// eggMoves decodes the egg move groups after checking index against the
// species count.
func (s *Session) eggMoves(kind Kind, index int) ([]record.EggMoves, error) {
	t := s.build.Records.EggMoves
	if t == nil {
		return nil, unsupported(kind)
	}
	n, err := s.Count(kind)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= n {
		return nil, errors.OutOfBounds(errors.PhaseDecode, []string{string(kind)}, index, n)
	}
	a, err := s.archive(t.Archive)
	if err != nil {
		return nil, err
	}
	file, err := a.arc.File(t.File)
	if err != nil {
		return nil, err
	}
	return s.codec.DecodeEggMoves(t, file)
}

// setEggMoves replaces the group of species index. New groups are placed
// before the first group of a higher species; an empty list removes the
// group.
func (s *Session) setEggMoves(index int, rec any) error {
	em, err := as[record.EggMoves](EggMoves, rec)
	if err != nil {
		return err
	}
	groups, err := s.eggMoves(EggMoves, index)
	if err != nil {
		return err
	}
	next := record.EggMoves{Species: index, Moves: slices.Clone(em.Moves)}
	if i := slices.IndexFunc(groups, func(g record.EggMoves) bool { return g.Species == index }); i >= 0 {
		groups[i] = next
	} else {
		at := slices.IndexFunc(groups, func(g record.EggMoves) bool { return g.Species > index })
		if at < 0 {
			at = len(groups)
		}
		groups = slices.Insert(groups, at, next)
	}
	t := s.build.Records.EggMoves
	file, err := s.codec.EncodeEggMoves(t, groups)
	if err != nil {
		return err
	}
	return s.archives[t.Archive].arc.SetFile(t.File, file)
}
