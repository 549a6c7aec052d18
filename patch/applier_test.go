package patch

import (
	"bytes"
	stderrors "errors"
	"slices"
	"testing"
	"testing/fstest"

	"github.com/wippyai/romkit/arena"
	"github.com/wippyai/romkit/errors"
	"github.com/wippyai/romkit/internal/binary"
	"github.com/wippyai/romkit/layout"
	"github.com/wippyai/romkit/record"
)

const ramBase = 0x02000000

func newImage(t *testing.T, size int, free ...arena.Region) *arena.Image {
	t.Helper()
	img, err := arena.NewImage("arm9", make([]byte, size), free)
	if err != nil {
		t.Fatalf("NewImage: %v", err)
	}
	return img
}

func newApplier(pointers []layout.PointerSite, branches []layout.BranchSite) *Applier {
	return NewApplier(record.NewCodec(ramBase, nil), pointers, branches)
}

func TestApplyInPlaceIsIdempotent(t *testing.T) {
	img := newImage(t, 64)
	copy(img.Data[0x10:], []byte{0x01, 0x28, 0x04, 0xD0})
	d := &Descriptor{Name: "fastText", Truncate: -1, Edits: []layout.Edit{
		{Offset: 0x10, Pre: []byte{0x01, 0x28, 0x04, 0xD0}, Post: []byte{0x00, 0x20, 0x00, 0x20}},
	}}
	a := newApplier(nil, nil)

	res, err := a.Apply(img, d)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Applied != 1 || res.Skipped != 0 {
		t.Errorf("first apply = %+v", res)
	}
	after := slices.Clone(img.Data)

	res, err = a.Apply(img, d)
	if err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	if res.Applied != 0 || res.Skipped != 1 {
		t.Errorf("second apply = %+v", res)
	}
	if !bytes.Equal(img.Data, after) {
		t.Error("second application changed the image")
	}
}

func TestApplyMismatch(t *testing.T) {
	img := newImage(t, 64)
	copy(img.Data[0x20:], []byte{0xAA, 0xBB})
	d := &Descriptor{Name: "p", Truncate: -1, Edits: []layout.Edit{
		{Offset: 0x00, Pre: []byte{0x00, 0x00}, Post: []byte{0x11, 0x11}},
		{Offset: 0x20, Pre: []byte{0x01, 0x02}, Post: []byte{0x03, 0x04}},
	}}
	_, err := newApplier(nil, nil).Apply(img, d)

	var mm *errors.MismatchError
	if !stderrors.As(err, &mm) {
		t.Fatalf("got %v, want mismatch", err)
	}
	if mm.Offset != 0x20 || !bytes.Equal(mm.Actual, []byte{0xAA, 0xBB}) {
		t.Errorf("mismatch = %+v", mm)
	}
	if img.Data[0] != 0 {
		t.Error("mismatch must be detected before any edit is written")
	}
	if stderrors.Is(err, errors.ErrFatalPatch) {
		t.Error("mismatch is recoverable, not fatal")
	}
}

func TestApplyShrinkReleasesTail(t *testing.T) {
	img := newImage(t, 64)
	copy(img.Data[0x10:], []byte{1, 2, 3, 4, 5, 6, 7, 8})
	d := &Descriptor{Name: "p", Truncate: -1, Edits: []layout.Edit{
		{Offset: 0x10, Pre: []byte{1, 2, 3, 4, 5, 6, 7, 8}, Post: []byte{9, 9, 9, 9}},
	}}
	if _, err := newApplier(nil, nil).Apply(img, d); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if r := img.Arena.Regions(); len(r) != 1 || r[0] != (arena.Region{Offset: 0x14, Length: 4}) {
		t.Errorf("free regions = %v", r)
	}
}

func TestApplyGrowsIntoTrailingSpace(t *testing.T) {
	img := newImage(t, 64, arena.Region{Offset: 0x14, Length: 8})
	copy(img.Data[0x10:], []byte{1, 2, 3, 4})
	d := &Descriptor{Name: "p", Truncate: -1, Edits: []layout.Edit{
		{Offset: 0x10, Pre: []byte{1, 2, 3, 4}, Post: []byte{5, 6, 7, 8, 9, 10}},
	}}
	res, err := newApplier(nil, nil).Apply(img, d)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(res.Relocations) != 0 {
		t.Errorf("unexpected relocation %v", res.Relocations)
	}
	if !bytes.Equal(img.Data[0x10:0x16], []byte{5, 6, 7, 8, 9, 10}) {
		t.Errorf("data = % x", img.Data[0x10:0x18])
	}
	if img.Arena.FreeBytes() != 6 {
		t.Errorf("FreeBytes = %d, want 6", img.Arena.FreeBytes())
	}
}

// A 4-byte edit at 100 grows to 6 bytes with no free space after it: the
// post-image moves to free space and every reference to 100 follows.
func TestApplyRelocatesAndRepoints(t *testing.T) {
	img := newImage(t, 256, arena.Region{Offset: 200, Length: 56})
	copy(img.Data[100:], []byte{1, 2, 3, 4})
	binary.PutU32(img.Data, 0, 100)
	binary.PutU32(img.Data, 4, ramBase+100)
	binary.PutU32(img.Data, 8, 92)
	binary.PutU32(img.Data, 12, 40)
	copy(img.Data[16:], []byte{0x00, 0xF0, 0x28, 0xF8}) // bl 100

	pointers := []layout.PointerSite{
		{Name: "table", Relativity: layout.Absolute, Offset: 0},
		{Name: "ram", Relativity: layout.ImageBase, Offset: 4},
		{Name: "other", Relativity: layout.Absolute, Offset: 12},
	}
	branches := []layout.BranchSite{{Name: "call", Kind: layout.ThumbBL, Offset: 16}}
	d := &Descriptor{
		Name:     "grow",
		Truncate: -1,
		Edits: []layout.Edit{
			{Offset: 100, Pre: []byte{1, 2, 3, 4}, Post: []byte{0xFF, 0xF7, 0xE4, 0xFF, 0x00, 0x00}},
		},
		References: []layout.PointerSite{{Name: "rel", Relativity: layout.SelfRelative, Offset: 8}},
		Branches:   []layout.BranchSite{{Name: "inner", Kind: layout.ThumbBL, Offset: 100}},
	}
	a := newApplier(pointers, branches)

	res, err := a.Apply(img, d)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(res.Relocations) != 1 || res.Relocations[0] != (Relocation{From: 100, To: 200, Length: 4}) {
		t.Fatalf("relocations = %v", res.Relocations)
	}

	checks := []struct {
		name string
		off  int
		want uint32
	}{
		{"absolute", 0, 200},
		{"image-base", 4, ramBase + 200},
		{"self-relative", 8, 192},
		{"unrelated", 12, 40},
	}
	for _, c := range checks {
		if got := binary.U32(img.Data, c.off); got != c.want {
			t.Errorf("%s pointer = %d, want %d", c.name, got, c.want)
		}
	}
	if got, err := Target(layout.ThumbBL, img.Data[16:], 16); err != nil || got != 200 {
		t.Errorf("outer branch target = %d, %v; want 200", got, err)
	}
	if got, err := Target(layout.ThumbBL, img.Data[200:], 200); err != nil || got != 48 {
		t.Errorf("moved branch target = %d, %v; want 48", got, err)
	}
	if img.Arena.FreeAt(100) != 4 {
		t.Errorf("old bytes not released: FreeAt(100) = %d", img.Arena.FreeAt(100))
	}

	after := slices.Clone(img.Data)
	res, err = a.Apply(img, d)
	if err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	if res.Applied != 0 || !bytes.Equal(img.Data, after) {
		t.Errorf("second apply changed the image: %+v", res)
	}
	if got := a.Relocations(); len(got) != 1 {
		t.Errorf("Relocations = %v", got)
	}
}

// The first edit relocates a call to the second edit's offset; relocating
// the second edit then retargets that call inside the first moved block.
func TestApplyChainedRelocationsAreIdempotent(t *testing.T) {
	img := newImage(t, 256, arena.Region{Offset: 200, Length: 56})
	copy(img.Data[100:], []byte{1, 2, 3, 4})
	copy(img.Data[120:], []byte{5, 6, 7, 8})

	branches := []layout.BranchSite{{Name: "call", Kind: layout.ThumbBL, Offset: 100}}
	d := &Descriptor{Name: "chain", Truncate: -1, Edits: []layout.Edit{
		{Offset: 100, Pre: []byte{1, 2, 3, 4}, Post: []byte{0x00, 0xF0, 0x08, 0xF8, 0x00, 0x00}}, // bl 120
		{Offset: 120, Pre: []byte{5, 6, 7, 8}, Post: []byte{9, 9, 9, 9, 9, 9}},
	}}
	a := newApplier(nil, branches)

	res, err := a.Apply(img, d)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(res.Relocations) != 2 {
		t.Fatalf("relocations = %v", res.Relocations)
	}
	call, second := res.Relocations[0].To, res.Relocations[1].To
	if got, err := Target(layout.ThumbBL, img.Data[call:], call); err != nil || got != second {
		t.Errorf("moved call target = %d, %v; want %d", got, err, second)
	}

	after := slices.Clone(img.Data)
	res, err = a.Apply(img, d)
	if err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	if res.Applied != 0 || res.Skipped != 2 {
		t.Errorf("second apply = %+v", res)
	}
	if !bytes.Equal(img.Data, after) {
		t.Error("second application changed the image")
	}
}

func TestApplyBranchOverflowIsFatal(t *testing.T) {
	img := newImage(t, 0x1100, arena.Region{Offset: 0x1000, Length: 0x100})
	copy(img.Data[0:], []byte{0x30, 0xE0}) // b 100
	copy(img.Data[100:], []byte{1, 2, 3, 4})
	before := slices.Clone(img.Data)
	free := img.Arena.Regions()

	a := newApplier(nil, []layout.BranchSite{{Name: "short", Kind: layout.ThumbBranch, Offset: 0}})
	d := &Descriptor{Name: "grow", Truncate: -1, Edits: []layout.Edit{
		{Offset: 100, Pre: []byte{1, 2, 3, 4}, Post: []byte{5, 6, 7, 8, 9, 10}},
	}}
	_, err := a.Apply(img, d)
	if !stderrors.Is(err, errors.ErrFatalPatch) {
		t.Fatalf("got %v, want fatal patch", err)
	}
	if !bytes.Equal(img.Data, before) {
		t.Error("image not restored after fatal patch")
	}
	if !slices.Equal(img.Arena.Regions(), free) {
		t.Errorf("arena not restored: %v", img.Arena.Regions())
	}
	if len(a.Relocations()) != 0 {
		t.Error("relocation recorded for a rolled back patch")
	}
}

func TestApplyOutOfSpace(t *testing.T) {
	img := newImage(t, 128)
	copy(img.Data[100:], []byte{1, 2, 3, 4})
	d := &Descriptor{Name: "grow", Truncate: -1, Edits: []layout.Edit{
		{Offset: 100, Pre: []byte{1, 2, 3, 4}, Post: []byte{5, 6, 7, 8, 9, 10}},
	}}

	a := newApplier(nil, nil)
	_, err := a.Apply(img, d)
	var oos *errors.OutOfSpaceError
	if !stderrors.As(err, &oos) {
		t.Fatalf("got %v, want out of space", err)
	}
	if stderrors.Is(err, errors.ErrFatalPatch) {
		t.Error("out of space is recoverable")
	}

	a.Grow = func(img *arena.Image, n int) error {
		img.Extend(binary.AlignUp(n, 4))
		return nil
	}
	res, err := a.Apply(img, d)
	if err != nil {
		t.Fatalf("Apply with Grow: %v", err)
	}
	if res.Relocations[0].To != 128 || img.Len() != 136 {
		t.Errorf("relocated to %d, image length %d", res.Relocations[0].To, img.Len())
	}
}

func TestApplyRejectsTruncation(t *testing.T) {
	img := newImage(t, 16)
	d := &Descriptor{Name: "cut", Truncate: 8}
	if _, err := newApplier(nil, nil).Apply(img, d); err == nil {
		t.Error("truncating the executable should fail")
	}
}

func TestLibrary(t *testing.T) {
	ips := ipsBytes([]byte{0x00, 0x00, 0x04, 0x00, 0x02, 0xAB, 0xCD}, []byte("EOF"))
	build := &layout.Build{Patches: map[string]layout.Patch{
		"inline": {Target: layout.TargetARM9, Edits: []layout.Edit{{Offset: 1, Post: []byte{2}}}},
		"ips":    {Target: layout.TargetARM9, IPS: "dex.ips"},
		"gone":   {Target: layout.TargetARM9, IPS: "missing.ips"},
	}}
	lib := NewLibrary(build, fstest.MapFS{"dex.ips": {Data: ips}})

	if got := lib.Names(); !slices.Equal(got, []string{"gone", "inline", "ips"}) {
		t.Errorf("Names = %v", got)
	}
	d, err := lib.Lookup("ips")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(d.Edits) != 1 || d.Edits[0].Offset != 4 || d.Target != layout.TargetARM9 {
		t.Errorf("descriptor = %+v", d)
	}
	again, _ := lib.Lookup("ips")
	if again != d {
		t.Error("Lookup should cache descriptors")
	}
	if d, err := lib.Lookup("inline"); err != nil || d.Truncate != -1 {
		t.Errorf("inline = %+v, %v", d, err)
	}
	if _, err := lib.Lookup("gone"); !stderrors.Is(err, errors.ErrNotFound) {
		t.Errorf("missing ips: got %v", err)
	}
	if _, err := lib.Lookup("nope"); !stderrors.Is(err, errors.ErrNotFound) {
		t.Errorf("unknown patch: got %v", err)
	}
	if _, err := NewLibrary(build, nil).Lookup("ips"); err == nil {
		t.Error("ips patch without a patch directory should fail")
	}
}
