// Package integrity verifies that a loaded image is a known, unmodified
// build before any structural access is allowed.
package integrity

import (
	"fmt"
	"hash/crc32"
	"maps"
	"slices"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/romkit/errors"
)

// Digest returns the CRC32 (IEEE) checksum of data.
func Digest(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// Sources holds the regions to be digested.
type Sources struct {
	Overlays   map[int][]byte
	Files      map[string][]byte
	Executable []byte
}

// Expected is the per-build table of known-good checksums. Only the
// overlays and files listed here are checked.
type Expected struct {
	Overlays   map[int]uint32
	Files      map[string]uint32
	Executable uint32
}

// Mismatch names one component whose digest differs from the table.
type Mismatch struct {
	Component string
	Expected  uint32
	Actual    uint32
	Missing   bool
}

func (m *Mismatch) Error() string {
	if m.Missing {
		return fmt.Sprintf("%s: missing, expected crc32 %08x", m.Component, m.Expected)
	}
	return fmt.Sprintf("%s: crc32 %08x, expected %08x", m.Component, m.Actual, m.Expected)
}

// Gate caches one verification result for one loaded image.
type Gate struct {
	err   error
	build string
	ran   bool
	ok    bool
}

// NewGate creates a gate for the named build.
func NewGate(build string) *Gate {
	return &Gate{build: build}
}

// Verify digests every source named by want and compares it. The result is
// cached: later calls return the first outcome without re-digesting. On
// mismatch it returns false and an integrity error whose cause combines
// one *Mismatch per differing component.
func (g *Gate) Verify(src Sources, want Expected) (bool, error) {
	if g.ran {
		return g.ok, g.err
	}
	g.ran = true

	var errs error
	check := func(name string, data []byte, present bool, expected uint32) {
		if !present {
			errs = multierr.Append(errs, &Mismatch{Component: name, Expected: expected, Missing: true})
			return
		}
		if got := Digest(data); got != expected {
			errs = multierr.Append(errs, &Mismatch{Component: name, Expected: expected, Actual: got})
		}
	}

	check("arm9", src.Executable, src.Executable != nil, want.Executable)
	for _, id := range slices.Sorted(maps.Keys(want.Overlays)) {
		data, ok := src.Overlays[id]
		check(fmt.Sprintf("overlay%d", id), data, ok, want.Overlays[id])
	}
	for _, name := range slices.Sorted(maps.Keys(want.Files)) {
		data, ok := src.Files[name]
		check(name, data, ok, want.Files[name])
	}

	if errs != nil {
		g.err = errors.Integrity(g.build, errs)
		Logger().Warn("integrity check failed",
			zap.String("build", g.build),
			zap.Int("mismatches", len(multierr.Errors(errs))),
			zap.Error(errs))
		return false, g.err
	}
	g.ok = true
	Logger().Debug("integrity verified",
		zap.String("build", g.build),
		zap.Int("overlays", len(want.Overlays)),
		zap.Int("files", len(want.Files)))
	return true, nil
}

// Verified reports whether the cached verification passed.
func (g *Gate) Verified() bool {
	return g.ran && g.ok
}

// Require returns nil if verification passed, otherwise a not-verified
// error for op that wraps the integrity failure if there was one.
func (g *Gate) Require(phase errors.Phase, op string) error {
	if g.Verified() {
		return nil
	}
	err := errors.NotVerified(phase, op)
	err.Cause = g.err
	return err
}

// Mismatches returns the per-component diagnostics of a failed verify.
func Mismatches(err error) []*Mismatch {
	for {
		e, ok := err.(*errors.Error)
		if !ok {
			break
		}
		err = e.Cause
	}
	var out []*Mismatch
	for _, m := range multierr.Errors(err) {
		if mm, ok := m.(*Mismatch); ok {
			out = append(out, mm)
		}
	}
	return out
}
