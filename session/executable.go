package session

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/wippyai/romkit/arena"
	"github.com/wippyai/romkit/errors"
	"github.com/wippyai/romkit/internal/binary"
	"github.com/wippyai/romkit/layout"
	"github.com/wippyai/romkit/patch"
	"github.com/wippyai/romkit/record"
)

// Executable returns the main executable image. Callers that write to it
// directly bypass the reference bookkeeping of the patch applier.
func (s *Session) Executable() (*arena.Image, error) {
	if err := s.gate.Require(errors.PhaseDecode, "executable"); err != nil {
		return nil, err
	}
	return s.arm9, nil
}

// Allocate reserves n bytes of executable free space.
func (s *Session) Allocate(n int) (int, error) {
	if err := s.gate.Require(errors.PhaseAllocate, "allocate"); err != nil {
		return 0, err
	}
	return s.arm9.Arena.Allocate(n)
}

// FindAndUnfree finds n free executable bytes and marks them used.
func (s *Session) FindAndUnfree(n int) (int, error) {
	if err := s.gate.Require(errors.PhaseAllocate, "allocate"); err != nil {
		return 0, err
	}
	return s.arm9.Arena.FindAndUnfree(n)
}

// Free returns an allocation made by Allocate or FindAndUnfree.
func (s *Session) Free(offset, n int) error {
	if err := s.gate.Require(errors.PhaseAllocate, "free"); err != nil {
		return err
	}
	return s.arm9.Arena.Free(offset, n)
}

// Extend grows the executable by n bytes of free space and returns the
// offset of the new region. The total growth of one session is bounded
// by the build's extension limit.
func (s *Session) Extend(n int) (int, error) {
	if err := s.gate.Require(errors.PhaseAllocate, "extend"); err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.InvalidInput(errors.PhaseAllocate, fmt.Sprintf("extension of %d bytes", n))
	}
	limit := s.build.Executable.ExtendLimit
	if s.extended+n > limit {
		return 0, errors.New(errors.PhaseAllocate, errors.KindOutOfSpace).Value(n).
			Detail("extension of %d bytes exceeds the remaining limit of %d", n, limit-s.extended).Build()
	}
	s.extended += n
	return s.arm9.Extend(n), nil
}

// grow is the applier's out-of-space hook: it extends the executable by at
// least the configured step, or by exactly what is missing when the step
// no longer fits the limit.
func (s *Session) grow(img *arena.Image, n int) error {
	need := binary.AlignUp(n, img.Arena.Alignment())
	if s.opts.step > need && s.extended+s.opts.step <= s.build.Executable.ExtendLimit {
		need = s.opts.step
	}
	_, err := s.Extend(need)
	return err
}

// Patches returns the names of the patches the build declares.
func (s *Session) Patches() []string {
	return s.library.Names()
}

// ApplyNamedPatch applies the patch name declares for this build. Applying
// a patch twice is a no-op. A fatal patch failure leaves the image as it
// was but marks the session so Save refuses until the image is reloaded.
func (s *Session) ApplyNamedPatch(name string) (*patch.Result, error) {
	if err := s.gate.Require(errors.PhasePatch, "patch "+name); err != nil {
		return nil, err
	}
	d, err := s.library.Lookup(name)
	if err != nil {
		return nil, err
	}
	img, err := s.image(d.Target)
	if err != nil {
		return nil, err
	}
	a := s.applier(d.Target)

	res, err := a.Apply(img, d)
	if err != nil {
		if stderrors.Is(err, errors.ErrFatalPatch) {
			s.fatal = err
			Logger().Error("fatal patch failure",
				zap.String("patch", name),
				zap.String("target", d.Target),
				zap.Error(err))
		}
		return nil, err
	}
	return res, nil
}

func (s *Session) image(target string) (*arena.Image, error) {
	if target == layout.TargetARM9 {
		return s.arm9, nil
	}
	id, err := strconv.Atoi(strings.TrimPrefix(target, "overlay"))
	if err != nil {
		return nil, errors.InvalidInput(errors.PhasePatch, fmt.Sprintf("patch target %q", target))
	}
	if ov, ok := s.overlays[id]; ok {
		return ov.img, nil
	}
	data, err := s.cart.Overlay(id)
	if err != nil {
		return nil, err
	}
	img, err := arena.NewImage(target, bytes.Clone(data), nil, arena.WithAlignment(s.alignment()))
	if err != nil {
		return nil, err
	}
	s.overlays[id] = &overlayImage{img: img, digest: xxhash.Sum64(data)}
	return img, nil
}

// applier returns the applier of target. The executable's applier knows
// the build's pointer and branch sites and may extend the image; overlay
// appliers only fix up the references their descriptors name.
func (s *Session) applier(target string) *patch.Applier {
	if a, ok := s.appliers[target]; ok {
		return a
	}
	var a *patch.Applier
	if target == layout.TargetARM9 {
		exe := s.build.Executable
		a = patch.NewApplier(s.codec, exe.Pointers, exe.Branches)
		a.Grow = s.grow
	} else {
		a = patch.NewApplier(s.codec, nil, nil)
	}
	s.appliers[target] = a
	return a
}

func entryField(name string, e layout.Entry) layout.Field {
	return layout.Field{Name: name, Kind: layout.KindUint, Offset: e.Offset, Width: e.Width * 8}
}

func (s *Session) entries(name string) ([]layout.Entry, error) {
	entries, ok := s.build.Entries[name]
	if !ok {
		return nil, errors.NotFound(errors.PhaseLayout, "entry", name)
	}
	return entries, nil
}

// ReadEntry returns the value at every location of the named entry.
func (s *Session) ReadEntry(name string) ([]int, error) {
	if err := s.gate.Require(errors.PhaseDecode, "read entry "+name); err != nil {
		return nil, err
	}
	entries, err := s.entries(name)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(entries))
	for i, e := range entries {
		a, err := s.archive(e.Archive)
		if err != nil {
			return nil, err
		}
		file, err := a.arc.File(e.File)
		if err != nil {
			return nil, err
		}
		v, err := s.codec.ReadInt(entryField(name, e), file, 0)
		if err != nil {
			return nil, err
		}
		out[i] = int(v)
	}
	return out, nil
}

// WriteEntry stores v at every location of the named entry. Values that
// do not fit are clamped and reported.
func (s *Session) WriteEntry(name string, v int) ([]record.Warning, error) {
	if err := s.gate.Require(errors.PhaseEncode, "write entry "+name); err != nil {
		return nil, err
	}
	entries, err := s.entries(name)
	if err != nil {
		return nil, err
	}

	type pending struct {
		a    *archive
		file int
		data []byte
	}
	var (
		writes   []pending
		warnings []record.Warning
	)
	for _, e := range entries {
		a, err := s.archive(e.Archive)
		if err != nil {
			return nil, err
		}
		file, err := a.arc.File(e.File)
		if err != nil {
			return nil, err
		}
		data := bytes.Clone(file)
		for _, p := range writes {
			if p.a == a && p.file == e.File {
				data = p.data
			}
		}
		w, err := s.codec.WriteInt(entryField(name, e), data, 0, int64(v))
		if err != nil {
			return nil, err
		}
		if w != nil {
			warnings = append(warnings, *w)
		}
		writes = append(writes, pending{a: a, file: e.File, data: data})
	}
	for _, p := range writes {
		p.a.arc.Files[p.file] = p.data
	}
	return warnings, nil
}
