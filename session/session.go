package session

import (
	"bytes"
	stderrors "errors"
	"maps"
	"slices"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/wippyai/romkit/arena"
	"github.com/wippyai/romkit/errors"
	"github.com/wippyai/romkit/integrity"
	"github.com/wippyai/romkit/layout"
	"github.com/wippyai/romkit/narc"
	"github.com/wippyai/romkit/nds"
	"github.com/wippyai/romkit/patch"
	"github.com/wippyai/romkit/record"
)

// Session is one loaded image: the cartridge, its decoded archives, the
// executable with its free-space arena and the integrity gate guarding
// them. A Session is not safe for concurrent use.
type Session struct {
	build     *layout.Build
	cart      *nds.Cartridge
	gate      *integrity.Gate
	codec     *record.Codec
	library   *patch.Library
	arm9      *arena.Image
	archives  map[string]*archive
	overlays  map[int]*overlayImage
	appliers  map[string]*patch.Applier
	evo       *record.EvolutionTable
	fatal     error
	verifyErr error
	opts      options
	arm9Sum   uint64
	extended  int
}

type archive struct {
	arc     *narc.Archive
	path    string
	digests []uint64
}

type overlayImage struct {
	img    *arena.Image
	digest uint64
}

func digestFiles(a *narc.Archive) []uint64 {
	out := make([]uint64, a.Len())
	for i, f := range a.Files {
		out[i] = xxhash.Sum64(f)
	}
	return out
}

func (a *archive) dirty() bool {
	if len(a.digests) != a.arc.Len() {
		return true
	}
	for i, f := range a.arc.Files {
		if xxhash.Sum64(f) != a.digests[i] {
			return true
		}
	}
	return false
}

// Load decodes and verifies an image. The build is identified by game
// code and version; format and integrity failures abort the load.
func Load(data []byte, catalog *layout.Catalog, opts ...Option) (*Session, error) {
	s, err := open(data, catalog, opts)
	if err != nil {
		return nil, err
	}
	if s.verifyErr != nil {
		return nil, s.verifyErr
	}
	return s, nil
}

// Open decodes an image like Load but keeps the session when verification
// fails. Such a session only answers diagnostic queries; every structural
// access returns a not-verified error.
func Open(data []byte, catalog *layout.Catalog, opts ...Option) (*Session, error) {
	return open(data, catalog, opts)
}

func open(data []byte, catalog *layout.Catalog, opts []Option) (*Session, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cart, err := nds.Decode(data)
	if err != nil {
		return nil, err
	}
	build, err := catalog.Identify(cart.GameCode(), cart.Version())
	if err != nil {
		return nil, err
	}

	s := &Session{
		build:    build,
		cart:     cart,
		gate:     integrity.NewGate(build.Name),
		codec:    record.NewCodec(build.Executable.RAMBase, o.text),
		library:  patch.NewLibrary(build, o.patches),
		archives: make(map[string]*archive, len(build.Archives)),
		overlays: make(map[int]*overlayImage),
		appliers: make(map[string]*patch.Applier),
		opts:     o,
	}
	s.verifyErr = s.verify()
	if s.verifyErr != nil && !stderrors.Is(s.verifyErr, errors.ErrIntegrity) {
		return nil, s.verifyErr
	}

	for _, name := range slices.Sorted(maps.Keys(build.Archives)) {
		path := build.Archives[name]
		blob, err := cart.ReadFile(path)
		if err != nil {
			return nil, err
		}
		arc, err := narc.Decode(blob)
		if err != nil {
			return nil, errors.New(errors.PhaseLoad, errors.KindFormat).
				Path(name).Cause(err).Detail("archive %s", path).Build()
		}
		s.archives[name] = &archive{arc: arc, path: path, digests: digestFiles(arc)}
	}

	free := make([]arena.Region, len(build.Executable.FreeSpace))
	for i, sp := range build.Executable.FreeSpace {
		free[i] = arena.Region{Offset: sp.Offset, Length: sp.Length}
	}
	s.arm9, err = arena.NewImage(layout.TargetARM9, bytes.Clone(cart.ARM9), free, arena.WithAlignment(s.alignment()))
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidData, err, "executable free space")
	}
	s.arm9Sum = xxhash.Sum64(s.arm9.Data)

	Logger().Info("session loaded",
		zap.String("build", build.Name),
		zap.String("game", cart.GameCode()),
		zap.Bool("verified", s.gate.Verified()),
		zap.Int("archives", len(s.archives)),
		zap.Int("free", s.arm9.Arena.FreeBytes()))
	return s, nil
}

func (s *Session) verify() error {
	want := integrity.Expected{
		Executable: s.build.Checksums.ARM9,
		Files:      s.build.Checksums.Files,
	}
	var err error
	if want.Overlays, err = s.build.Checksums.OverlayIDs(); err != nil {
		return errors.Wrap(errors.PhaseVerify, errors.KindInvalidData, err, "checksum table")
	}

	src := integrity.Sources{
		Executable: s.cart.ARM9,
		Overlays:   make(map[int][]byte, len(want.Overlays)),
		Files:      make(map[string][]byte, len(want.Files)),
	}
	for id := range want.Overlays {
		if data, err := s.cart.Overlay(id); err == nil {
			src.Overlays[id] = data
		}
	}
	for name := range want.Files {
		path, err := s.build.Archive(name)
		if err != nil {
			continue
		}
		if data, err := s.cart.ReadFile(path); err == nil {
			src.Files[name] = data
		}
	}
	_, err = s.gate.Verify(src, want)
	return err
}

func (s *Session) alignment() int {
	if s.opts.alignment > 0 {
		return s.opts.alignment
	}
	return s.build.Executable.Alignment
}

// Build returns the identified build.
func (s *Session) Build() *layout.Build {
	return s.build
}

// Verified reports whether the image passed the integrity check.
func (s *Session) Verified() bool {
	return s.gate.Verified()
}

// Mismatches lists the components that failed the integrity check.
func (s *Session) Mismatches() []*integrity.Mismatch {
	return integrity.Mismatches(s.gate.Require(errors.PhaseVerify, "diagnostics"))
}

func (s *Session) archive(name string) (*archive, error) {
	a, ok := s.archives[name]
	if !ok {
		return nil, errors.NotFound(errors.PhaseLoad, "archive", name)
	}
	return a, nil
}

// Save re-encodes every changed archive, the executable and patched
// overlays and rebuilds the cartridge. A session that saw a fatal patch
// refuses to save.
func (s *Session) Save() ([]byte, error) {
	if err := s.gate.Require(errors.PhaseSave, "save"); err != nil {
		return nil, err
	}
	if s.fatal != nil {
		return nil, errors.New(errors.PhaseSave, errors.KindFatalPatch).Cause(s.fatal).
			Detail("a patch failed fatally; reload the image").Build()
	}

	var written []string
	for _, name := range slices.Sorted(maps.Keys(s.archives)) {
		a := s.archives[name]
		if !a.dirty() {
			continue
		}
		blob, err := a.arc.Encode()
		if err != nil {
			return nil, err
		}
		if err := s.cart.WriteFile(a.path, blob); err != nil {
			return nil, err
		}
		written = append(written, name)
	}
	if sum := xxhash.Sum64(s.arm9.Data); sum != s.arm9Sum {
		s.cart.ARM9 = bytes.Clone(s.arm9.Data)
		written = append(written, layout.TargetARM9)
	}
	for _, id := range slices.Sorted(maps.Keys(s.overlays)) {
		ov := s.overlays[id]
		if xxhash.Sum64(ov.img.Data) == ov.digest {
			continue
		}
		if err := s.cart.SetOverlay(id, bytes.Clone(ov.img.Data)); err != nil {
			return nil, err
		}
		written = append(written, ov.img.Name)
	}

	out, err := s.cart.Encode()
	if err != nil {
		return nil, err
	}

	for _, name := range written {
		if a, ok := s.archives[name]; ok {
			a.digests = digestFiles(a.arc)
		}
	}
	s.arm9Sum = xxhash.Sum64(s.arm9.Data)
	for _, ov := range s.overlays {
		ov.digest = xxhash.Sum64(ov.img.Data)
	}
	Logger().Info("session saved",
		zap.String("build", s.build.Name),
		zap.Strings("written", written),
		zap.Int("size", len(out)))
	return out, nil
}
