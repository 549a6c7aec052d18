package integrity

import (
	stderrors "errors"
	"strings"
	"testing"

	"github.com/wippyai/romkit/errors"
)

func fixture() (Sources, Expected) {
	src := Sources{
		Executable: []byte("main executable image"),
		Overlays:   map[int][]byte{0: []byte("overlay zero"), 5: []byte("overlay five")},
		Files:      map[string][]byte{"/poketool/personal/personal.narc": []byte("personal")},
	}
	want := Expected{
		Executable: Digest(src.Executable),
		Overlays:   map[int]uint32{0: Digest(src.Overlays[0]), 5: Digest(src.Overlays[5])},
		Files:      map[string]uint32{"/poketool/personal/personal.narc": Digest(src.Files["/poketool/personal/personal.narc"])},
	}
	return src, want
}

func TestDigest(t *testing.T) {
	// Standard CRC32 check value.
	if got := Digest([]byte("123456789")); got != 0xCBF43926 {
		t.Errorf("Digest: got %08x, want cbf43926", got)
	}
}

func TestVerifyPass(t *testing.T) {
	src, want := fixture()
	g := NewGate("CPUE")
	if err := g.Require(errors.PhaseDecode, "decode"); !stderrors.Is(err, errors.ErrNotVerified) {
		t.Errorf("Require before verify: got %v", err)
	}
	ok, err := g.Verify(src, want)
	if err != nil || !ok {
		t.Fatalf("Verify: ok=%v err=%v", ok, err)
	}
	if err := g.Require(errors.PhaseDecode, "decode"); err != nil {
		t.Errorf("Require after verify: %v", err)
	}
}

func TestVerifySingleByteFlip(t *testing.T) {
	src, want := fixture()
	src.Executable[3] ^= 0x01

	g := NewGate("CPUE")
	ok, err := g.Verify(src, want)
	if ok {
		t.Fatal("Verify should fail after a byte flip")
	}
	if !stderrors.Is(err, errors.ErrIntegrity) {
		t.Fatalf("expected integrity error, got %v", err)
	}
	if !strings.Contains(err.Error(), "arm9") {
		t.Errorf("diagnostic should name arm9: %v", err)
	}

	for _, op := range []string{"record decode", "patch apply", "allocate"} {
		err := g.Require(errors.PhasePatch, op)
		if !stderrors.Is(err, errors.ErrNotVerified) {
			t.Errorf("%s: expected not verified, got %v", op, err)
		}
		if !stderrors.Is(err, errors.ErrIntegrity) {
			t.Errorf("%s: refusal should wrap the integrity failure", op)
		}
	}
}

func TestVerifyNamesEveryComponent(t *testing.T) {
	src, want := fixture()
	src.Overlays[5] = []byte("patched")
	delete(src.Files, "/poketool/personal/personal.narc")

	_, err := NewGate("CPUE").Verify(src, want)
	got := Mismatches(err)
	if len(got) != 2 {
		t.Fatalf("Mismatches: got %d, want 2 (%v)", len(got), err)
	}
	if got[0].Component != "overlay5" || got[0].Missing {
		t.Errorf("first mismatch: %+v", got[0])
	}
	if got[1].Component != "/poketool/personal/personal.narc" || !got[1].Missing {
		t.Errorf("second mismatch: %+v", got[1])
	}
}

func TestVerifyIsCached(t *testing.T) {
	src, want := fixture()
	g := NewGate("CPUE")
	if ok, _ := g.Verify(src, want); !ok {
		t.Fatal("first Verify should pass")
	}
	src.Executable[0] ^= 0xFF
	if ok, err := g.Verify(src, want); !ok || err != nil {
		t.Errorf("cached result should be returned: ok=%v err=%v", ok, err)
	}
}

func TestUnlistedOverlaysIgnored(t *testing.T) {
	src, want := fixture()
	src.Overlays[9] = []byte("not in table")
	if ok, err := NewGate("CPUE").Verify(src, want); !ok {
		t.Errorf("unlisted overlay should not be checked: %v", err)
	}
}
