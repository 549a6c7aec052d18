package wasmcodec

import (
	"bytes"
	"context"
	"testing"
)

// identityModule is a hand-assembled plugin whose decode and encode return
// their input unchanged. alloc bumps a pointer starting at 1024.
var identityModule = []byte{
	0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00,
	// type: (i32) -> i32, (i32 i32) -> i64
	0x01, 0x0C, 0x02, 0x60, 0x01, 0x7F, 0x01, 0x7F, 0x60, 0x02, 0x7F, 0x7F, 0x01, 0x7E,
	// function
	0x03, 0x04, 0x03, 0x00, 0x01, 0x01,
	// memory: 1 page
	0x05, 0x03, 0x01, 0x00, 0x01,
	// global: mut i32 = 1024
	0x06, 0x07, 0x01, 0x7F, 0x01, 0x41, 0x80, 0x08, 0x0B,
	// export
	0x07, 0x24, 0x04,
	0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00,
	0x05, 'a', 'l', 'l', 'o', 'c', 0x00, 0x00,
	0x06, 'd', 'e', 'c', 'o', 'd', 'e', 0x00, 0x01,
	0x06, 'e', 'n', 'c', 'o', 'd', 'e', 0x00, 0x02,
	// code
	0x0A, 0x27, 0x03,
	0x0B, 0x00, 0x23, 0x00, 0x23, 0x00, 0x20, 0x00, 0x6A, 0x24, 0x00, 0x0B,
	0x0C, 0x00, 0x20, 0x00, 0xAD, 0x42, 0x20, 0x86, 0x20, 0x01, 0xAD, 0x84, 0x0B,
	0x0C, 0x00, 0x20, 0x00, 0xAD, 0x42, 0x20, 0x86, 0x20, 0x01, 0xAD, 0x84, 0x0B,
}

func TestIdentityPlugin(t *testing.T) {
	ctx := context.Background()
	c, err := New(ctx, identityModule, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close(ctx)

	s, err := c.Decode([]byte("GIRATINA"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if s != "GIRATINA" {
		t.Errorf("Decode: got %q", s)
	}

	b, err := c.Encode("DIALGA", 10)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := []byte{'D', 'I', 'A', 'L', 'G', 'A', 0, 0, 0, 0}
	if !bytes.Equal(b, want) {
		t.Errorf("Encode: got % x, want % x", b, want)
	}

	if _, err := c.Encode("PALKIA", 7); err == nil {
		t.Error("expected overflow without room for the terminator")
	}

	// Repeated calls keep working as the guest bump allocator advances.
	for i := 0; i < 100; i++ {
		if _, err := c.Decode([]byte("ARCEUS")); err != nil {
			t.Fatalf("Decode %d: %v", i, err)
		}
	}
}

func TestMissingExports(t *testing.T) {
	empty := []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}
	if _, err := New(context.Background(), empty, nil); err == nil {
		t.Error("module without exports should be rejected")
	}
}

func TestInvalidModule(t *testing.T) {
	if _, err := New(context.Background(), []byte("not wasm"), nil); err == nil {
		t.Error("invalid module should be rejected")
	}
}
