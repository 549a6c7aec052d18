package patch

import (
	"bytes"
	stderrors "errors"
	"maps"
	"slices"

	"go.uber.org/zap"

	"github.com/wippyai/romkit/arena"
	"github.com/wippyai/romkit/errors"
	"github.com/wippyai/romkit/layout"
	"github.com/wippyai/romkit/record"
)

// Applier applies descriptors to one executable image. It tracks where
// relocated edits went, so it must not be shared between images.
type Applier struct {
	codec    *record.Codec
	pointers []layout.PointerSite
	branches []layout.BranchSite
	moves    map[int]moved

	// Grow is called when an allocation of n bytes fails. It may extend
	// the image; the allocation is retried when it returns nil.
	Grow func(img *arena.Image, n int) error
}

// Relocation records an edit that was moved out of place.
type Relocation struct {
	From   int
	To     int
	Length int
}

// moved remembers the bytes left at the new location, including
// retargeted branches, so a repeated application recognises them.
type moved struct {
	post []byte
	Relocation
}

// Result summarises one Apply call.
type Result struct {
	Name        string
	Relocations []Relocation
	Applied     int
	Skipped     int
}

// NewApplier creates an applier. pointers and branches are the known
// reference sites of the image; they are rewritten whenever bytes they
// refer to move.
func NewApplier(codec *record.Codec, pointers []layout.PointerSite, branches []layout.BranchSite) *Applier {
	return &Applier{
		codec:    codec,
		pointers: slices.Clone(pointers),
		branches: slices.Clone(branches),
		moves:    make(map[int]moved),
	}
}

// Relocations returns every relocation performed so far.
func (a *Applier) Relocations() []Relocation {
	out := make([]Relocation, 0, len(a.moves))
	for _, m := range a.moves {
		out = append(out, m.Relocation)
	}
	slices.SortFunc(out, func(x, y Relocation) int { return x.From - y.From })
	return out
}

// Apply applies d to img. Every edit is checked before anything is
// written: edits already at their post-image are skipped, and an edit
// matching neither image fails the whole call with an
// *errors.MismatchError. Once writing starts any failure restores img;
// failures other than running out of space are reported as FatalPatch.
func (a *Applier) Apply(img *arena.Image, d *Descriptor) (*Result, error) {
	if d.Truncate >= 0 && d.Truncate < img.Len() {
		return nil, errors.Unsupported(errors.PhasePatch, "truncating an executable image")
	}
	pending, err := a.unapplied(img, d)
	if err != nil {
		return nil, err
	}
	res := &Result{Name: d.Name, Skipped: len(d.Edits) - len(pending)}
	if len(pending) == 0 {
		Logger().Debug("patch already applied", zap.String("patch", d.Name))
		return res, nil
	}

	snap := img.Snapshot()
	moves := maps.Clone(a.moves)
	pointers := slices.Clone(a.pointers)
	branches := slices.Clone(a.branches)
	for _, e := range pending {
		if err := a.apply(img, d, e, res); err != nil {
			img.Restore(snap)
			a.moves, a.pointers, a.branches = moves, pointers, branches
			Logger().Warn("patch rolled back", zap.String("patch", d.Name), zap.Error(err))
			return nil, fatal(d.Name, e.Offset, err)
		}
		res.Applied++
	}
	// later relocations may have retargeted bytes inside earlier moved blocks
	for k, m := range a.moves {
		m.post = bytes.Clone(window(img.Data, m.To, len(m.post)))
		a.moves[k] = m
	}

	Logger().Info("patch applied",
		zap.String("patch", d.Name),
		zap.Int("applied", res.Applied),
		zap.Int("skipped", res.Skipped),
		zap.Int("relocated", len(res.Relocations)))
	return res, nil
}

func (a *Applier) unapplied(img *arena.Image, d *Descriptor) ([]layout.Edit, error) {
	var pending []layout.Edit
	for _, e := range d.Edits {
		if m, ok := a.moves[e.Offset]; ok {
			if at(img.Data, m.To, m.post) {
				continue
			}
			return nil, &errors.MismatchError{
				Patch:    d.Name,
				Offset:   e.Offset,
				Expected: e.Pre,
				Post:     m.post,
				Actual:   window(img.Data, m.To, len(m.post)),
			}
		}
		if at(img.Data, e.Offset, e.Post) {
			continue
		}
		switch {
		case len(e.Pre) == 0 && e.Offset >= 0 && e.Offset+len(e.Post) <= img.Len():
			pending = append(pending, e)
			continue
		case len(e.Pre) > 0 && at(img.Data, e.Offset, e.Pre):
			pending = append(pending, e)
			continue
		}
		want := e.Pre
		if len(want) == 0 {
			want = e.Post
		}
		return nil, &errors.MismatchError{
			Patch:    d.Name,
			Offset:   e.Offset,
			Expected: e.Pre,
			Post:     e.Post,
			Actual:   window(img.Data, e.Offset, len(want)),
		}
	}
	return pending, nil
}

func (a *Applier) apply(img *arena.Image, d *Descriptor, e layout.Edit, res *Result) error {
	n := len(e.Pre)
	if n == 0 {
		n = len(e.Post)
	}
	grow := len(e.Post) - n

	switch {
	case grow == 0:
		return img.Write(e.Offset, e.Post)
	case grow < 0:
		if err := img.Write(e.Offset, e.Post); err != nil {
			return err
		}
		return img.Arena.Release(e.Offset+len(e.Post), -grow)
	case img.Arena.FreeAt(e.Offset+n) >= grow:
		if err := img.Arena.Reserve(e.Offset+n, grow); err != nil {
			return err
		}
		return img.Write(e.Offset, e.Post)
	}

	to, err := a.allocate(img, len(e.Post))
	if err != nil {
		return err
	}
	if err := img.Write(to, e.Post); err != nil {
		return err
	}
	if err := img.Arena.Release(e.Offset, n); err != nil {
		return err
	}
	r := Relocation{From: e.Offset, To: to, Length: n}
	if err := a.repoint(img, d, r); err != nil {
		return err
	}
	a.moves[e.Offset] = moved{Relocation: r, post: bytes.Clone(img.Data[to : to+len(e.Post)])}
	res.Relocations = append(res.Relocations, r)
	Logger().Debug("edit relocated",
		zap.String("patch", d.Name),
		zap.Int("from", r.From),
		zap.Int("to", r.To),
		zap.Int("length", len(e.Post)))
	return nil
}

func (a *Applier) allocate(img *arena.Image, n int) (int, error) {
	off, err := img.Arena.FindAndUnfree(n)
	var oos *errors.OutOfSpaceError
	if err == nil || a.Grow == nil || !stderrors.As(err, &oos) {
		return off, err
	}
	if gerr := a.Grow(img, n); gerr != nil {
		return 0, err
	}
	return img.Arena.FindAndUnfree(n)
}

// repoint rewrites every known reference into the relocated range.
func (a *Applier) repoint(img *arena.Image, d *Descriptor, r Relocation) error {
	move := func(x int) int {
		if x >= r.From && x < r.From+r.Length {
			return r.To + x - r.From
		}
		return x
	}

	for i := range a.pointers {
		site, err := a.repointSite(img, a.pointers[i], move)
		if err != nil {
			return err
		}
		a.pointers[i].Offset = site
	}
	for _, p := range d.References {
		if _, err := a.repointSite(img, p, move); err != nil {
			return err
		}
	}

	for i, b := range a.branches {
		site, err := a.repointBranch(img, b, move)
		if err != nil {
			var e *errors.Error
			if stderrors.As(err, &e) && e.Kind == errors.KindInvalidData {
				// not a branch any more; an earlier patch replaced it
				Logger().Debug("skipping branch site", zap.String("site", b.Name), zap.Error(err))
				continue
			}
			return err
		}
		a.branches[i].Offset = site
	}
	for _, b := range d.Branches {
		if _, err := a.repointBranch(img, b, move); err != nil {
			return err
		}
	}
	return nil
}

func (a *Applier) repointSite(img *arena.Image, p layout.PointerSite, move func(int) int) (int, error) {
	f := layout.Field{Name: p.Name, Kind: layout.KindPointer, Relativity: p.Relativity, Width: 32}
	site := move(p.Offset)
	target, err := a.codec.ReadInt(f, img.Data, site)
	if err != nil {
		return 0, err
	}
	if p.Relativity == layout.SelfRelative {
		// stored relative to where the word was written
		target += int64(p.Offset - site)
	}
	moved := int64(move(int(target)))
	if moved == target && site == p.Offset {
		return site, nil
	}
	if _, err := a.codec.WriteInt(f, img.Data, site, moved); err != nil {
		return 0, err
	}
	Logger().Debug("pointer rewritten",
		zap.String("site", p.Name),
		zap.Int("offset", site),
		zap.Int64("target", moved))
	return site, nil
}

func (a *Applier) repointBranch(img *arena.Image, b layout.BranchSite, move func(int) int) (int, error) {
	site := move(b.Offset)
	insn := window(img.Data, site, BranchSize(b.Kind))
	target, err := Target(b.Kind, insn, b.Offset)
	if err != nil {
		return 0, err
	}
	moved := move(target)
	if moved == target && site == b.Offset {
		return site, nil
	}
	if err := Retarget(b.Kind, insn, site, moved); err != nil {
		return 0, err
	}
	Logger().Debug("branch retargeted",
		zap.String("site", b.Name),
		zap.Int("offset", site),
		zap.Int("target", moved))
	return site, nil
}

func fatal(name string, offset int, err error) error {
	var oos *errors.OutOfSpaceError
	if stderrors.As(err, &oos) || stderrors.Is(err, errors.ErrFatalPatch) {
		return err
	}
	return errors.New(errors.PhasePatch, errors.KindFatalPatch).Path(name).Offset(offset).
		Cause(err).Detail("edit could not be applied").Build()
}

func at(data []byte, off int, want []byte) bool {
	return off >= 0 && off+len(want) <= len(data) && bytes.Equal(data[off:off+len(want)], want)
}

func window(data []byte, off, n int) []byte {
	if off < 0 || off >= len(data) {
		return nil
	}
	return data[off:min(off+n, len(data))]
}
