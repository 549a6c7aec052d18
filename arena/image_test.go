package arena

import (
	"bytes"
	"testing"
)

func TestImage(t *testing.T) {
	data := bytes.Repeat([]byte{0xAA}, 32)
	img, err := NewImage("arm9", data, []Region{{Offset: 8, Length: 8}, {Offset: 24, Length: 8}})
	if err != nil {
		t.Fatalf("NewImage: %v", err)
	}
	if img.Arena.FreeBytes() != 16 {
		t.Errorf("FreeBytes = %d, want 16", img.Arena.FreeBytes())
	}

	if err := img.Write(30, []byte{1, 2, 3}); err == nil {
		t.Error("write past the end should fail")
	}
	if _, err := img.Slice(-1, 2); err == nil {
		t.Error("negative slice should fail")
	}

	img.Fill = 0xFF
	off := img.Extend(8)
	if off != 32 || img.Len() != 40 || img.Arena.Capacity() != 40 {
		t.Fatalf("Extend: off=%d len=%d cap=%d", off, img.Len(), img.Arena.Capacity())
	}
	if img.Data[39] != 0xFF {
		t.Errorf("extension fill = %#x, want 0xff", img.Data[39])
	}
	if r := img.Arena.Regions(); r[len(r)-1] != (Region{Offset: 24, Length: 16}) {
		t.Errorf("extension should merge with trailing free space, got %v", r)
	}
}

func TestImageOverlappingFreeSpans(t *testing.T) {
	_, err := NewImage("arm9", make([]byte, 16), []Region{{Offset: 0, Length: 8}, {Offset: 4, Length: 8}})
	if err == nil {
		t.Error("overlapping free spans should fail")
	}
}

func TestImageSnapshotRestore(t *testing.T) {
	img, err := NewImage("arm9", make([]byte, 16), []Region{{Offset: 0, Length: 16}})
	if err != nil {
		t.Fatalf("NewImage: %v", err)
	}
	snap := img.Snapshot()

	off, err := img.Arena.Allocate(4)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := img.Write(off, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	img.Extend(16)

	img.Restore(snap)
	if img.Len() != 16 || !bytes.Equal(img.Data, make([]byte, 16)) {
		t.Errorf("data not restored: %x", img.Data)
	}
	if img.Arena.FreeBytes() != 16 || len(img.Arena.Allocations()) != 0 {
		t.Errorf("arena not restored: free=%d live=%v", img.Arena.FreeBytes(), img.Arena.Allocations())
	}

	// the snapshot survives a restore
	img.Data[0] = 9
	img.Restore(snap)
	if img.Data[0] != 0 {
		t.Error("second restore should reset data again")
	}
}
