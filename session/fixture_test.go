package session

import (
	"os"
	"testing"
	"testing/fstest"

	"github.com/wippyai/romkit/integrity"
	"github.com/wippyai/romkit/internal/binary"
	"github.com/wippyai/romkit/layout"
	"github.com/wippyai/romkit/narc"
	"github.com/wippyai/romkit/nds"
	"github.com/wippyai/romkit/patch"
)

const ramBase = 0x02000000

// fixture executable offsets
const (
	machinesAt = 0x20
	fastTextAt = 0x40
	callSite   = 0x80
	hookAt     = 0x90
	shopSize   = 0xFC
	shopPtr    = 0x100
	specialPtr = 0x104
	shopItems  = 0x120
	specials   = 0x130
	freeAt     = 0x180
	arm9Len    = 0x200
)

func testARM9() []byte {
	b := make([]byte, arm9Len)
	copy(b[machinesAt:], []byte{0x08, 0x01, 0x0F, 0x00, 0x46, 0x00, 0x39, 0x00})
	copy(b[fastTextAt:], []byte{0x01, 0x28, 0x04, 0xD0})
	copy(b[callSite:], []byte{0x00, 0xF0, 0x06, 0xF8}) // bl 0x90
	copy(b[hookAt:], []byte{0xAA, 0xAA, 0xAA, 0xAA})
	copy(b[0xA0:], []byte{0xBB, 0xBB, 0xBB, 0xBB})

	b[shopSize] = 2
	binary.PutU32(b, shopPtr, ramBase+shopItems)
	binary.PutU32(b, specialPtr, ramBase+specials)
	copy(b[shopItems:], []byte{0x01, 0x00, 0x00, 0x00, 0x02, 0x00, 0x01, 0x00})
	binary.PutU32(b, specials, ramBase+0x140)
	binary.PutU32(b, specials+4, ramBase+0x148)
	copy(b[0x140:], []byte{0x10, 0x00, 0x11, 0x00, 0xFF, 0xFF})
	copy(b[0x148:], []byte{0x20, 0x00, 0xFF, 0xFF})
	for i := freeAt; i < arm9Len; i++ {
		b[i] = 0xFF
	}
	return b
}

func species(hp byte) []byte {
	b := make([]byte, 0x2C)
	for i := range 6 {
		b[i] = hp + byte(i)
	}
	b[19] = 3 // medium-slow
	return b
}

func testArchives() map[string]*narc.Archive {
	evo := make([]byte, 42)
	copy(evo, []byte{0x04, 0x00, 0x10, 0x00, 0x01, 0x00}) // level 16 into species 1
	enc := make([]byte, 100)
	binary.PutU32(enc, 0, 30)
	for i := range 12 {
		binary.PutU32(enc, 4+i*8, uint32(2+i))
		binary.PutU32(enc, 8+i*8, 1)
	}
	header := make([]byte, 20)
	header[1], header[3] = 5, 1
	team := []byte{0x00, 0x00, 0x0A, 0x00, 0x19, 0x00, 0x00, 0x00}
	script := []byte{0x00, 0x00, 0xE7, 0x01, 0x00, 0x00, 0x00, 0x00} // 487

	return map[string]*narc.Archive{
		"personal":   narc.New(species(45), species(60), species(80)),
		"moves":      narc.New(make([]byte, 16), []byte{0x21, 0x00, 0x01, 0x28, 0x0A, 0x64, 0x23, 0x0A, 0, 0, 0xFF, 0x01, 0, 0, 0, 0}),
		"items":      narc.New([]byte{0, 0, 0, 0}, []byte{0xC8, 0x00, 0, 0}),
		"evolutions": narc.New(evo, make([]byte, 42), make([]byte, 42)),
		"learnsets": narc.New(
			[]byte{0x21, 0x02, 0x2C, 0x15, 0xFF, 0xFF, 0x00, 0x00},
			[]byte{0xFF, 0xFF, 0x00, 0x00},
			[]byte{0xFF, 0xFF, 0x00, 0x00}),
		"trainers":   narc.New(header, make([]byte, 20)),
		"teams":      narc.New(team, []byte{}),
		"encounters": narc.New(enc),
		"scripts":    narc.New([]byte{}, script),
		"eggMoves":   narc.New([]byte{0x22, 0x4E, 0x21, 0x00, 0x1A, 0x00, 0xFF, 0xFF}), // species 2: 33, 26
	}
}

var archivePaths = map[string]string{
	"personal":   "/poketool/personal/pl_personal.narc",
	"moves":      "/poketool/waza/pl_waza_tbl.narc",
	"items":      "/itemtool/itemdata/pl_item_data.narc",
	"evolutions": "/poketool/personal/evo.narc",
	"learnsets":  "/poketool/personal/wotbl.narc",
	"trainers":   "/poketool/trainer/trdata.narc",
	"teams":      "/poketool/trainer/trpoke.narc",
	"encounters": "/fielddata/encountdata/pl_enc_data.narc",
	"scripts":    "/fielddata/script/scr_seq.narc",
	"eggMoves":   "/poketool/personal/kowaza.narc",
}

func encodeArchive(t *testing.T, a *narc.Archive) []byte {
	t.Helper()
	blob, err := a.Encode()
	if err != nil {
		t.Fatalf("Encode %d files: %v", a.Len(), err)
	}
	return blob
}

// testROM builds a small cartridge carrying every archive the test build
// names, an executable with shops and a branch site, and one overlay.
func testROM(t *testing.T) []byte {
	t.Helper()
	files := make(map[string][]byte)
	for name, a := range testArchives() {
		files[archivePaths[name]] = encodeArchive(t, a)
	}
	files["/data/readme.txt"] = []byte("romkit fixture")
	c, err := nds.Assemble(nds.Parts{
		Title:     "POKEMON PL",
		GameCode:  "CPUE",
		MakerCode: "01",
		ARM9:      testARM9(),
		ARM7:      make([]byte, 0x40),
		Overlays:  [][]byte{make([]byte, 0x40)},
		Files:     files,
	})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	rom, err := c.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return rom
}

// catalogFor loads the test catalog, points it at the fixture executable
// and records the checksums of rom.
func catalogFor(t *testing.T, rom []byte) *layout.Catalog {
	t.Helper()
	cat, err := layout.LoadFile(os.DirFS("../layout/testdata"), "catalog.json")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	b := &cat.Builds[0]
	b.Executable.FreeSpace = []layout.Span{{Offset: freeAt, Length: arm9Len - freeAt}}
	b.Executable.Pointers = []layout.PointerSite{
		{Name: "progressiveShop", Offset: shopPtr, Relativity: layout.ImageBase},
		{Name: "specialShops", Offset: specialPtr, Relativity: layout.ImageBase},
	}
	b.Executable.Branches = []layout.BranchSite{{Name: "textSpeedCall", Offset: callSite, Kind: layout.ThumbBL}}
	b.Executable.ExtendLimit = 0x100
	b.Records.Shops.Progressive.Pointer = shopPtr
	b.Records.Shops.Progressive.Size = shopSize
	b.Records.Shops.Special.Pointer = specialPtr
	b.Records.Machines.Base = machinesAt
	b.Records.Machines.Count = 4
	b.Entries = map[string][]layout.Entry{
		"giratina": {{Archive: "scripts", File: 1, Offset: 2, Width: 2}},
	}

	post := make([]byte, 0x200)
	b.Patches = map[string]layout.Patch{
		"fastText": {Target: layout.TargetARM9, Edits: []layout.Edit{
			{Offset: fastTextAt, Pre: []byte{0x01, 0x28, 0x04, 0xD0}, Post: []byte{0x00, 0x20, 0x00, 0x20}},
		}},
		"nationalDex": {Target: layout.TargetARM9, IPS: "pt_national_dex.ips"},
		"textHook": {Target: layout.TargetARM9, Edits: []layout.Edit{
			{Offset: hookAt, Pre: []byte{0xAA, 0xAA, 0xAA, 0xAA}, Post: []byte{1, 2, 3, 4, 5, 6, 7, 8}},
		}},
		"bigHook": {Target: layout.TargetARM9, Edits: []layout.Edit{
			{Offset: 0xA0, Pre: []byte{0xBB, 0xBB, 0xBB, 0xBB}, Post: post},
		}},
		"loopHook": {
			Target: layout.TargetARM9,
			Edits: []layout.Edit{
				{Offset: 0x10, Pre: []byte{0, 0, 0, 0}, Post: []byte{0xF6, 0xD1, 0, 0, 0, 0, 0, 0}},
			},
			Branches: []layout.BranchSite{{Name: "loop", Offset: 0x10, Kind: layout.ThumbCondition}},
		},
		"overlayTweak": {Target: "overlay0", Edits: []layout.Edit{
			{Offset: 4, Pre: []byte{0, 0}, Post: []byte{0x70, 0x47}},
		}},
	}

	c, err := nds.Decode(rom)
	if err != nil {
		t.Fatalf("nds.Decode: %v", err)
	}
	ov, err := c.Overlay(0)
	if err != nil {
		t.Fatalf("Overlay: %v", err)
	}
	personal, err := c.ReadFile(archivePaths["personal"])
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	b.Checksums = layout.Checksums{
		ARM9:     integrity.Digest(c.ARM9),
		Overlays: map[string]uint32{"0": integrity.Digest(ov)},
		Files:    map[string]uint32{"personal": integrity.Digest(personal)},
	}
	return cat
}

func patchFS(t *testing.T) fstest.MapFS {
	t.Helper()
	ips := &patch.IPS{
		Records:  []patch.IPSRecord{{Offset: 0x60, Data: []byte{0xDE, 0xAD}}},
		Truncate: -1,
	}
	data, err := ips.Encode()
	if err != nil {
		t.Fatalf("IPS.Encode: %v", err)
	}
	return fstest.MapFS{"pt_national_dex.ips": {Data: data}}
}

func load(t *testing.T, rom []byte) *Session {
	t.Helper()
	s, err := Load(rom, catalogFor(t, rom), WithPatchFS(patchFS(t)))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return s
}

// save saves s and loads the result again with checksums taken from it.
func save(t *testing.T, s *Session) *Session {
	t.Helper()
	rom, err := s.Save()
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	return load(t, rom)
}
