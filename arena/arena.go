package arena

import (
	"fmt"
	"maps"
	"slices"
	"sort"

	"go.uber.org/zap"

	"github.com/wippyai/romkit/errors"
	"github.com/wippyai/romkit/internal/binary"
)

// DefaultAlignment is the allocation granularity used when none is given.
const DefaultAlignment = 4

// Region is a contiguous byte range.
type Region struct {
	Offset int
	Length int
}

// End returns the first offset past the region.
func (r Region) End() int {
	return r.Offset + r.Length
}

func (r Region) String() string {
	return fmt.Sprintf("[%#x, %#x)", r.Offset, r.End())
}

// Arena is a first-fit allocator over a byte range. It holds no lock; one
// arena belongs to exactly one image.
type Arena struct {
	free     []Region    // sorted by offset, never adjacent or overlapping
	live     map[int]int // allocation offset -> reserved length
	capacity int
	align    int
}

// Option configures an Arena.
type Option func(*Arena)

// WithAlignment sets the allocation granularity. It must be a power of two.
func WithAlignment(n int) Option {
	return func(a *Arena) {
		if n > 0 && n&(n-1) == 0 {
			a.align = n
		}
	}
}

// New creates an arena whose whole capacity is free.
func New(capacity int, opts ...Option) *Arena {
	a := newArena(capacity, opts)
	if capacity > 0 {
		a.free = []Region{{Offset: 0, Length: capacity}}
	}
	return a
}

// NewUsed creates an arena whose whole capacity is used by pre-existing
// data. Free space is donated afterwards with Release.
func NewUsed(capacity int, opts ...Option) *Arena {
	return newArena(capacity, opts)
}

func newArena(capacity int, opts []Option) *Arena {
	a := &Arena{
		capacity: capacity,
		align:    DefaultAlignment,
		live:     make(map[int]int),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Capacity returns the total number of bytes tracked.
func (a *Arena) Capacity() int {
	return a.capacity
}

// Alignment returns the allocation granularity.
func (a *Arena) Alignment() int {
	return a.align
}

// FreeBytes returns the number of free bytes.
func (a *Arena) FreeBytes() int {
	n := 0
	for _, r := range a.free {
		n += r.Length
	}
	return n
}

// UsedBytes returns the number of used bytes, counting both live
// allocations and pre-existing data.
func (a *Arena) UsedBytes() int {
	return a.capacity - a.FreeBytes()
}

// Regions returns a copy of the free list in offset order.
func (a *Arena) Regions() []Region {
	return slices.Clone(a.free)
}

// Allocations returns the live allocations in offset order.
func (a *Arena) Allocations() []Region {
	out := make([]Region, 0, len(a.live))
	for _, off := range slices.Sorted(maps.Keys(a.live)) {
		out = append(out, Region{Offset: off, Length: a.live[off]})
	}
	return out
}

// Clone returns an independent copy of the arena.
func (a *Arena) Clone() *Arena {
	return &Arena{
		free:     slices.Clone(a.free),
		live:     maps.Clone(a.live),
		capacity: a.capacity,
		align:    a.align,
	}
}

// Allocate reserves n bytes, rounded up to the alignment, in the first free
// region that fits and returns the offset. When nothing fits it returns an
// *errors.OutOfSpaceError describing the free list.
func (a *Arena) Allocate(n int) (int, error) {
	if n <= 0 {
		return 0, errors.InvalidInput(errors.PhaseAllocate, fmt.Sprintf("allocation of %d bytes", n))
	}
	size := binary.AlignUp(n, a.align)

	for i, r := range a.free {
		start := binary.AlignUp(r.Offset, a.align)
		if start+size > r.End() {
			continue
		}
		a.carve(i, start, size)
		a.live[start] = size
		Logger().Debug("allocated",
			zap.Int("offset", start),
			zap.Int("requested", n),
			zap.Int("size", size))
		return start, nil
	}

	err := &errors.OutOfSpaceError{
		Requested: n,
		Aligned:   size,
		Capacity:  a.capacity,
	}
	for _, r := range a.free {
		err.Free = append(err.Free, errors.Span{Offset: r.Offset, Length: r.Length})
	}
	Logger().Debug("allocation failed", zap.Int("requested", n), zap.Int("free", a.FreeBytes()))
	return 0, err
}

// FindAndUnfree finds n free bytes and marks them used in one step.
func (a *Arena) FindAndUnfree(n int) (int, error) {
	return a.Allocate(n)
}

// Free returns a live allocation to the free list. offset must be a value
// returned by Allocate, FindAndUnfree or Reserve, and n its requested or
// rounded length.
func (a *Arena) Free(offset, n int) error {
	size, ok := a.live[offset]
	if !ok {
		return errors.New(errors.PhaseAllocate, errors.KindInvalidInput).
			Offset(offset).Detail("no live allocation at %#x", offset).Build()
	}
	if n != size && binary.AlignUp(n, a.align) != size {
		return errors.New(errors.PhaseAllocate, errors.KindInvalidInput).
			Offset(offset).Detail("free of %d bytes does not match %d-byte allocation", n, size).Build()
	}
	delete(a.live, offset)
	a.insert(Region{Offset: offset, Length: size})
	return nil
}

// Release donates used bytes back to the free list. It is the path for
// original data that has been relocated. A range exactly matching a live
// allocation frees it; ranges overlapping free space or cutting through a
// live allocation are rejected.
func (a *Arena) Release(offset, n int) error {
	if n <= 0 {
		return nil
	}
	if offset < 0 || offset+n > a.capacity {
		return errors.OutOfBounds(errors.PhaseAllocate, []string{"release"}, offset+n, a.capacity)
	}
	if size, ok := a.live[offset]; ok && (size == n || binary.AlignUp(n, a.align) == size) {
		return a.Free(offset, n)
	}
	rel := Region{Offset: offset, Length: n}
	for _, r := range a.free {
		if overlaps(r, rel) {
			return errors.New(errors.PhaseAllocate, errors.KindInvalidInput).
				Offset(offset).Detail("release %v overlaps free region %v", rel, r).Build()
		}
	}
	for off, size := range a.live {
		if overlaps(Region{Offset: off, Length: size}, rel) {
			return errors.New(errors.PhaseAllocate, errors.KindInvalidInput).
				Offset(offset).Detail("release %v cuts allocation at %#x", rel, off).Build()
		}
	}
	a.insert(rel)
	Logger().Debug("released", zap.Stringer("region", rel))
	return nil
}

// Reserve marks the exact free range [offset, offset+n) as a live
// allocation. It is used to grow data in place into trailing free space.
func (a *Arena) Reserve(offset, n int) error {
	if n <= 0 {
		return errors.InvalidInput(errors.PhaseAllocate, fmt.Sprintf("reserve of %d bytes", n))
	}
	for i, r := range a.free {
		if offset >= r.Offset && offset+n <= r.End() {
			a.carve(i, offset, n)
			a.live[offset] = n
			return nil
		}
	}
	return errors.New(errors.PhaseAllocate, errors.KindOutOfSpace).
		Offset(offset).Detail("range [%#x, %#x) is not free", offset, offset+n).Build()
}

// FreeAt returns the number of contiguous free bytes starting at offset.
func (a *Arena) FreeAt(offset int) int {
	for _, r := range a.free {
		if offset >= r.Offset && offset < r.End() {
			return r.End() - offset
		}
	}
	return 0
}

// Extend appends n bytes of capacity as free space and returns the offset
// of the new region.
func (a *Arena) Extend(n int) int {
	off := a.capacity
	if n <= 0 {
		return off
	}
	a.capacity += n
	a.insert(Region{Offset: off, Length: n})
	Logger().Debug("extended", zap.Int("offset", off), zap.Int("bytes", n))
	return off
}

// carve removes [start, start+size) from free region i, keeping the
// leading and trailing remainders.
func (a *Arena) carve(i, start, size int) {
	r := a.free[i]
	var rest []Region
	if start > r.Offset {
		rest = append(rest, Region{Offset: r.Offset, Length: start - r.Offset})
	}
	if end := start + size; end < r.End() {
		rest = append(rest, Region{Offset: end, Length: r.End() - end})
	}
	a.free = slices.Replace(a.free, i, i+1, rest...)
}

// insert adds r to the free list, coalescing with adjacent neighbours.
func (a *Arena) insert(r Region) {
	i := sort.Search(len(a.free), func(i int) bool { return a.free[i].Offset >= r.Offset })
	a.free = slices.Insert(a.free, i, r)
	if i+1 < len(a.free) && a.free[i].End() == a.free[i+1].Offset {
		a.free[i].Length += a.free[i+1].Length
		a.free = slices.Delete(a.free, i+1, i+2)
	}
	if i > 0 && a.free[i-1].End() == a.free[i].Offset {
		a.free[i-1].Length += a.free[i].Length
		a.free = slices.Delete(a.free, i, i+1)
	}
}

func overlaps(a, b Region) bool {
	return a.Offset < b.End() && b.Offset < a.End()
}
