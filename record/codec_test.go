package record

import (
	"bytes"
	stderrors "errors"
	"math"
	"os"
	"slices"
	"testing"

	"github.com/wippyai/romkit/errors"
	"github.com/wippyai/romkit/layout"
)

func testBuild(t *testing.T) *layout.Build {
	t.Helper()
	data, err := os.ReadFile("../layout/testdata/catalog.json")
	if err != nil {
		t.Fatalf("read catalog: %v", err)
	}
	cat, err := layout.Load(data)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return &cat.Builds[0]
}

func testCodec() *Codec {
	return NewCodec(0x02000000, nil)
}

func TestWriteIntClamps(t *testing.T) {
	tests := []struct {
		name   string
		field  layout.Field
		value  int64
		stored int64
		warn   bool
	}{
		{"u8 high", layout.Field{Name: "hp", Kind: layout.KindUint, Width: 8}, 300, 255, true},
		{"u8 negative", layout.Field{Name: "hp", Kind: layout.KindUint, Width: 8}, -5, 0, true},
		{"u8 fits", layout.Field{Name: "hp", Kind: layout.KindUint, Width: 8}, 200, 200, false},
		{"s8 high", layout.Field{Name: "priority", Kind: layout.KindInt, Width: 8}, 200, 127, true},
		{"s8 low", layout.Field{Name: "priority", Kind: layout.KindInt, Width: 8}, -200, -128, true},
		{"s8 negative fits", layout.Field{Name: "priority", Kind: layout.KindInt, Width: 8}, -3, -3, false},
		{"flag", layout.Field{Name: "contact", Kind: layout.KindFlag, Width: 1}, 2, 1, true},
		{"enum", layout.Field{Name: "category", Kind: layout.KindEnum, Width: 8, Values: []string{"a", "b", "c"}}, 7, 2, true},
		{"u10", layout.Field{Name: "species", Kind: layout.KindUint, Width: 10}, 2000, 1023, true},
	}

	c := testCodec()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			window := make([]byte, 4)
			w, err := c.WriteInt(tt.field, window, 0, tt.value)
			if err != nil {
				t.Fatalf("WriteInt: %v", err)
			}
			if (w != nil) != tt.warn {
				t.Fatalf("warning = %v, want %v", w, tt.warn)
			}
			if w != nil && (w.Value != tt.value || w.Stored != tt.stored) {
				t.Errorf("warning = %+v", *w)
			}
			got, err := c.ReadInt(tt.field, window, 0)
			if err != nil {
				t.Fatalf("ReadInt: %v", err)
			}
			if got != tt.stored {
				t.Errorf("stored %d, want %d", got, tt.stored)
			}
		})
	}
}

func TestEncodeRecordClampsStat(t *testing.T) {
	b := testBuild(t)
	desc := Descriptor{Fields: b.Records.Species.Fields}
	window := make([]byte, 44)

	sp := Species{HP: 300, Attack: 90, GrowthCurve: "slow"}
	warnings, err := testCodec().EncodeRecord(desc, &sp, window, 0)
	if err != nil {
		t.Fatalf("EncodeRecord: %v", err)
	}
	if window[0] != 255 {
		t.Errorf("hp byte = %d, want 255 (not a wrapped 44)", window[0])
	}
	if len(warnings) != 1 || warnings[0].Field != "hp" || warnings[0].Stored != 255 {
		t.Errorf("warnings = %v", warnings)
	}
	if window[19] != 5 {
		t.Errorf("growth curve byte = %d, want 5", window[19])
	}

	var back Species
	if err := testCodec().DecodeRecord(desc, window, 0, &back); err != nil {
		t.Fatalf("DecodeRecord: %v", err)
	}
	if back.HP != 255 || back.Attack != 90 || back.GrowthCurve != "slow" {
		t.Errorf("decoded %+v", back)
	}
}

func TestBitFieldsKeepNeighbours(t *testing.T) {
	b := testBuild(t)
	desc := Descriptor{Fields: b.Records.Trainers.Member}
	window := []byte{0xAB, 0x0F, 0x00, 0x00, 0x00, 0x00}

	p := TrainerPokemon{Difficulty: 0xAB, Ability: 5, Level: 50, Species: 0x1FF, Forme: 0x3F}
	if _, err := testCodec().EncodeRecord(desc, &p, window, 0); err != nil {
		t.Fatalf("EncodeRecord: %v", err)
	}
	want := []byte{0xAB, 0x5F, 50, 0x00, 0xFF, 0xFD}
	if !bytes.Equal(window, want) {
		t.Errorf("window = % x, want % x", window, want)
	}

	var back TrainerPokemon
	if err := testCodec().DecodeRecord(desc, window, 0, &back); err != nil {
		t.Fatalf("DecodeRecord: %v", err)
	}
	if back != p {
		t.Errorf("decoded %+v, want %+v", back, p)
	}
}

func TestPointerRelativity(t *testing.T) {
	tests := []struct {
		rel    layout.Relativity
		target int64
		raw    []byte
	}{
		{layout.Absolute, 0x40, []byte{0x40, 0x00, 0x00, 0x00}},
		{layout.ImageBase, 0x40, []byte{0x40, 0x00, 0x00, 0x02}},
		{layout.SelfRelative, 0x04, []byte{0xFC, 0xFF, 0xFF, 0xFF}},
		{layout.SelfRelative, 0x10, []byte{0x08, 0x00, 0x00, 0x00}},
	}

	c := testCodec()
	for _, tt := range tests {
		t.Run(string(tt.rel), func(t *testing.T) {
			f := layout.Field{Name: "ptr", Kind: layout.KindPointer, Relativity: tt.rel, Offset: 8, Width: 32}
			window := make([]byte, 16)
			if _, err := c.WriteInt(f, window, 0, tt.target); err != nil {
				t.Fatalf("WriteInt: %v", err)
			}
			if !bytes.Equal(window[8:12], tt.raw) {
				t.Errorf("stored % x, want % x", window[8:12], tt.raw)
			}
			got, err := c.ReadInt(f, window, 0)
			if err != nil {
				t.Fatalf("ReadInt: %v", err)
			}
			if got != tt.target {
				t.Errorf("resolved %#x, want %#x", got, tt.target)
			}
		})
	}
}

func TestPointerNeverClamps(t *testing.T) {
	c := testCodec()
	f := layout.Field{Name: "ptr", Kind: layout.KindPointer, Relativity: layout.Absolute, Width: 16}
	window := make([]byte, 2)
	w, err := c.WriteInt(f, window, 0, 0x12345)
	if w != nil {
		t.Errorf("pointer produced a clamp warning: %+v", *w)
	}
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindOverflow {
		t.Fatalf("expected overflow error, got %v", err)
	}
	if !bytes.Equal(window, []byte{0, 0}) {
		t.Errorf("window modified on overflow: % x", window)
	}

	below := layout.Field{Name: "ptr", Kind: layout.KindPointer, Relativity: layout.ImageBase, Width: 32}
	if _, err := c.ReadInt(below, []byte{0x10, 0, 0, 0x01}, 0); err == nil {
		t.Error("image-base pointer below the base should fail")
	}
}

func TestEnumBinding(t *testing.T) {
	b := testBuild(t)
	desc := Descriptor{Fields: b.Records.Moves.Fields}
	c := testCodec()

	window := make([]byte, 16)
	mv := Move{Effect: 3, Category: "special", Power: 90, Accuracy: 100, PP: 15, Priority: -1, Contact: true}
	if _, err := c.EncodeRecord(desc, &mv, window, 0); err != nil {
		t.Fatalf("EncodeRecord: %v", err)
	}
	if window[2] != 1 || window[10] != 0xFF || window[11] != 1 {
		t.Errorf("window = % x", window)
	}
	var back Move
	if err := c.DecodeRecord(desc, window, 0, &back); err != nil {
		t.Fatalf("DecodeRecord: %v", err)
	}
	if back != mv {
		t.Errorf("decoded %+v, want %+v", back, mv)
	}

	mv.Category = "bogus"
	if _, err := c.EncodeRecord(desc, &mv, window, 0); err == nil {
		t.Error("unknown enum name should fail")
	}

	window[2] = 9
	if err := c.DecodeRecord(desc, window, 0, &back); err == nil {
		t.Error("enum value without a name should fail to decode into a string")
	}
}

func TestStringField(t *testing.T) {
	c := testCodec()
	f := layout.Field{Name: "name", Kind: layout.KindString, Offset: 2, Length: 8}
	window := bytes.Repeat([]byte{0xEE}, 12)

	if err := c.WriteString(f, window, 0, "Hi"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	want := []byte{0xEE, 0xEE, 'H', 0, 'i', 0, 0, 0, 0, 0, 0xEE, 0xEE}
	if !bytes.Equal(window, want) {
		t.Errorf("window = % x, want % x", window, want)
	}
	got, err := c.ReadString(f, window, 0)
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	if got != "Hi" {
		t.Errorf("ReadString = %q", got)
	}
	if err := c.WriteString(f, window, 0, "Hello"); err == nil {
		t.Error("string longer than the field should fail")
	}
}

func TestRecordStride(t *testing.T) {
	desc := Descriptor{
		Fields: []layout.Field{{Name: "price", Kind: layout.KindUint, Width: 16}},
		Base:   4,
		Stride: 2,
	}
	window := make([]byte, 10)
	c := testCodec()
	for i, price := range []int{100, 200, 300} {
		if _, err := c.EncodeRecord(desc, Item{Price: price}, window, i); err != nil {
			t.Fatalf("EncodeRecord %d: %v", i, err)
		}
	}
	want := []byte{0, 0, 0, 0, 100, 0, 200, 0, 0x2C, 0x01}
	if !bytes.Equal(window, want) {
		t.Errorf("window = % x, want % x", window, want)
	}
	if _, err := c.EncodeRecord(desc, Item{Price: 1}, window, 3); err == nil {
		t.Error("record past the window should fail")
	}
}

func TestDecodeRecordDestination(t *testing.T) {
	c := testCodec()
	var it Item
	if err := c.DecodeRecord(Descriptor{}, nil, 0, it); err == nil {
		t.Error("non-pointer destination should fail")
	}
	bad := struct {
		Price []int `rom:"price"`
	}{}
	desc := Descriptor{Fields: []layout.Field{{Name: "price", Kind: layout.KindUint, Width: 16}}}
	if err := c.DecodeRecord(desc, make([]byte, 2), 0, &bad); err == nil {
		t.Error("unsupported Go kind should fail")
	}
}

func TestEncodeRecordLargeUnsigned(t *testing.T) {
	src := struct {
		Price uint64 `rom:"price"`
	}{Price: 1<<63 + 5}
	desc := Descriptor{Fields: []layout.Field{{Name: "price", Kind: layout.KindUint, Width: 16}}}
	window := make([]byte, 2)

	warnings, err := testCodec().EncodeRecord(desc, &src, window, 0)
	if err != nil {
		t.Fatalf("EncodeRecord: %v", err)
	}
	if !bytes.Equal(window, []byte{0xFF, 0xFF}) {
		t.Errorf("price bytes = % x, want ff ff", window)
	}
	if len(warnings) != 1 || warnings[0].Value != math.MaxInt64 || warnings[0].Stored != 0xFFFF {
		t.Errorf("warnings = %v", warnings)
	}
}

func TestRequiredFieldsBound(t *testing.T) {
	bound := map[string]any{
		"species":           Species{},
		"moves":             Move{},
		"items":             Item{},
		"machines":          MachineMove{},
		"evolutions.slots":  Evolution{},
		"encounters":        EncounterArea{},
		"encounters.slots":  EncounterSlot{},
		"trainers":          trainerHeader{},
		"trainers.member":   TrainerPokemon{},
		"learnsets":         LearnsetMove{},
		"shops.progressive": ShopItem{},
	}
	for table, names := range layout.RequiredFields {
		v, ok := bound[table]
		if !ok {
			t.Errorf("no record type for %s", table)
			continue
		}
		tags := Tags(v)
		for _, name := range names {
			if !slices.Contains(tags, name) {
				t.Errorf("%s: field %q has no struct binding", table, name)
			}
		}
	}
}
