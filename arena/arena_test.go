package arena

import (
	stderrors "errors"
	"math/rand/v2"
	"testing"

	"github.com/wippyai/romkit/errors"
)

func TestAllocateFreeReuse(t *testing.T) {
	a := New(100)

	off, err := a.Allocate(10)
	if err != nil {
		t.Fatalf("Allocate(10): %v", err)
	}
	if off != 0 {
		t.Fatalf("Allocate(10): got offset %d, want 0", off)
	}
	if a.UsedBytes() != 12 {
		t.Errorf("UsedBytes: got %d, want 12 (rounded)", a.UsedBytes())
	}

	if err := a.Free(0, 10); err != nil {
		t.Fatalf("Free(0, 10): %v", err)
	}

	off, err = a.Allocate(20)
	if err != nil {
		t.Fatalf("Allocate(20): %v", err)
	}
	if off != 0 {
		t.Errorf("Allocate(20): got offset %d, want 0", off)
	}
	if a.Capacity() != 100 {
		t.Errorf("Capacity: got %d, want 100", a.Capacity())
	}
}

func TestAllocateFirstFit(t *testing.T) {
	a := New(64)
	first, _ := a.Allocate(8)
	second, _ := a.Allocate(8)
	third, _ := a.Allocate(8)
	if first != 0 || second != 8 || third != 16 {
		t.Fatalf("offsets: got %d %d %d, want 0 8 16", first, second, third)
	}

	if err := a.Free(second, 8); err != nil {
		t.Fatalf("Free: %v", err)
	}
	got, _ := a.Allocate(4)
	if got != 8 {
		t.Errorf("first fit: got %d, want 8", got)
	}
	got, _ = a.Allocate(8)
	if got != 24 {
		t.Errorf("hole too small, expected 24, got %d", got)
	}
}

func TestAllocateAlignsUnalignedRegion(t *testing.T) {
	a := NewUsed(32)
	if err := a.Release(3, 13); err != nil {
		t.Fatalf("Release: %v", err)
	}
	off, err := a.Allocate(8)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if off != 4 {
		t.Errorf("got offset %d, want 4", off)
	}
	regions := a.Regions()
	want := []Region{{Offset: 3, Length: 1}, {Offset: 12, Length: 4}}
	if len(regions) != len(want) {
		t.Fatalf("Regions: got %v, want %v", regions, want)
	}
	for i := range want {
		if regions[i] != want[i] {
			t.Errorf("region %d: got %v, want %v", i, regions[i], want[i])
		}
	}
}

func TestWithAlignment(t *testing.T) {
	a := New(64, WithAlignment(16))
	if a.Alignment() != 16 {
		t.Fatalf("Alignment: got %d", a.Alignment())
	}
	a.Allocate(1)
	off, _ := a.Allocate(1)
	if off != 16 {
		t.Errorf("got %d, want 16", off)
	}

	b := New(64, WithAlignment(3))
	if b.Alignment() != DefaultAlignment {
		t.Errorf("non power of two should be ignored, got %d", b.Alignment())
	}
}

func TestOutOfSpace(t *testing.T) {
	a := New(16)
	if _, err := a.Allocate(12); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	_, err := a.Allocate(8)
	if err == nil {
		t.Fatal("expected out of space")
	}
	if !stderrors.Is(err, errors.ErrOutOfSpace) {
		t.Errorf("expected ErrOutOfSpace, got %v", err)
	}
	var oos *errors.OutOfSpaceError
	if !stderrors.As(err, &oos) {
		t.Fatalf("expected *OutOfSpaceError, got %T", err)
	}
	if oos.Requested != 8 || oos.Capacity != 16 {
		t.Errorf("context: got %+v", oos)
	}
	if len(oos.Free) != 1 || oos.Free[0].Offset != 12 || oos.Free[0].Length != 4 {
		t.Errorf("free regions: got %v", oos.Free)
	}

	off := a.Extend(16)
	if off != 16 || a.Capacity() != 32 {
		t.Fatalf("Extend: got offset %d capacity %d", off, a.Capacity())
	}
	got, err := a.Allocate(8)
	if err != nil {
		t.Fatalf("Allocate after Extend: %v", err)
	}
	if got != 12 {
		t.Errorf("extension should coalesce with trailing free space: got %d, want 12", got)
	}
}

func TestFreeRejectsUnknown(t *testing.T) {
	a := New(64)
	off, _ := a.Allocate(8)

	tests := []struct {
		name   string
		offset int
		n      int
	}{
		{"never allocated", 32, 8},
		{"wrong length", off, 16},
		{"interior offset", off + 4, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := a.Free(tt.offset, tt.n); err == nil {
				t.Error("expected error")
			}
		})
	}

	if err := a.Free(off, 8); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if err := a.Free(off, 8); err == nil {
		t.Error("double free should fail")
	}
}

func TestRelease(t *testing.T) {
	a := NewUsed(64)
	if a.FreeBytes() != 0 {
		t.Fatalf("NewUsed should start full, free=%d", a.FreeBytes())
	}
	if err := a.Release(16, 16); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := a.Release(20, 4); err == nil {
		t.Error("release overlapping free space should fail")
	}

	off, _ := a.Allocate(8)
	if err := a.Release(off, 4); err == nil {
		t.Error("release cutting an allocation should fail")
	}
	if err := a.Release(off, 8); err != nil {
		t.Errorf("release of a whole allocation should free it: %v", err)
	}
	if err := a.Release(60, 8); err == nil {
		t.Error("release past capacity should fail")
	}
	if err := a.Release(32, 4); err != nil {
		t.Fatalf("Release adjacent: %v", err)
	}
	if r := a.Regions(); len(r) != 1 || r[0] != (Region{Offset: 16, Length: 20}) {
		t.Errorf("adjacent releases should coalesce, got %v", r)
	}
}

func TestReserve(t *testing.T) {
	a := NewUsed(64)
	_ = a.Release(20, 12)

	if got := a.FreeAt(20); got != 12 {
		t.Errorf("FreeAt(20): got %d, want 12", got)
	}
	if got := a.FreeAt(10); got != 0 {
		t.Errorf("FreeAt(10): got %d, want 0", got)
	}
	if err := a.Reserve(20, 2); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := a.Reserve(20, 2); err == nil {
		t.Error("reserving used bytes should fail")
	}
	if err := a.Reserve(30, 4); err == nil {
		t.Error("reserving past the free region should fail")
	}
	if got := a.FreeAt(22); got != 10 {
		t.Errorf("FreeAt(22): got %d, want 10", got)
	}
	if err := a.Free(20, 2); err != nil {
		t.Errorf("reserved range should be freeable: %v", err)
	}
}

func TestClone(t *testing.T) {
	a := New(32)
	off, _ := a.Allocate(8)
	c := a.Clone()
	if err := c.Free(off, 8); err != nil {
		t.Fatalf("Free on clone: %v", err)
	}
	if a.UsedBytes() != 8 {
		t.Errorf("original changed: used=%d", a.UsedBytes())
	}
	if len(a.Allocations()) != 1 {
		t.Errorf("original allocations: %v", a.Allocations())
	}
}

func TestConservation(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	a := New(1024)
	var live []Region

	for step := range 2000 {
		switch rng.IntN(3) {
		case 0, 1:
			n := 1 + rng.IntN(64)
			off, err := a.Allocate(n)
			if err != nil {
				if !stderrors.Is(err, errors.ErrOutOfSpace) {
					t.Fatalf("step %d: unexpected error %v", step, err)
				}
				break
			}
			live = append(live, Region{Offset: off, Length: n})
		case 2:
			if len(live) == 0 {
				break
			}
			i := rng.IntN(len(live))
			if err := a.Free(live[i].Offset, live[i].Length); err != nil {
				t.Fatalf("step %d: Free(%v): %v", step, live[i], err)
			}
			live = append(live[:i], live[i+1:]...)
		}

		if a.FreeBytes()+a.UsedBytes() != a.Capacity() {
			t.Fatalf("step %d: free %d + used %d != capacity %d", step, a.FreeBytes(), a.UsedBytes(), a.Capacity())
		}
		used := 0
		allocs := a.Allocations()
		for i, r := range allocs {
			used += r.Length
			if i > 0 && allocs[i-1].End() > r.Offset {
				t.Fatalf("step %d: allocations %v and %v overlap", step, allocs[i-1], r)
			}
		}
		if used != a.UsedBytes() {
			t.Fatalf("step %d: allocations cover %d bytes, arena reports %d used", step, used, a.UsedBytes())
		}
		regions := a.Regions()
		for i := 1; i < len(regions); i++ {
			if regions[i-1].End() >= regions[i].Offset {
				t.Fatalf("step %d: free regions %v and %v not coalesced", step, regions[i-1], regions[i])
			}
		}
	}
}

func TestAllocateInvalid(t *testing.T) {
	a := New(16)
	if _, err := a.Allocate(0); err == nil {
		t.Error("Allocate(0) should fail")
	}
	if err := a.Reserve(0, 0); err == nil {
		t.Error("Reserve(0, 0) should fail")
	}
}
