package layout

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wippyai/romkit/errors"
)

// Kind is the encoding of one record field.
type Kind string

const (
	KindUint    Kind = "uint"
	KindInt     Kind = "int"
	KindFlag    Kind = "flag"
	KindEnum    Kind = "enum"
	KindPointer Kind = "pointer"
	KindString  Kind = "string"
)

// Relativity says what a stored pointer value is relative to.
type Relativity string

const (
	// Absolute values are offsets from the start of the image.
	Absolute Relativity = "absolute"
	// ImageBase values are load addresses; the image offset is value - RAMBase.
	ImageBase Relativity = "image-base"
	// SelfRelative values are signed displacements from the pointer's own offset.
	SelfRelative Relativity = "self-relative"
)

// BranchKind is the instruction encoding at a branch site.
type BranchKind string

const (
	ARMBranch      BranchKind = "arm-b"
	ARMBranchLink  BranchKind = "arm-bl"
	ThumbBL        BranchKind = "thumb-bl"
	ThumbBLX       BranchKind = "thumb-blx"
	ThumbBranch    BranchKind = "thumb-b"
	ThumbCondition BranchKind = "thumb-bcond"
)

// TargetARM9 names the main executable as a patch target.
const TargetARM9 = "arm9"

// Catalog is the set of supported builds.
type Catalog struct {
	Builds []Build `json:"builds"`
}

// Build describes one ROM build.
type Build struct {
	Archives   map[string]string  `json:"archives"`
	Patches    map[string]Patch   `json:"patches,omitempty"`
	Entries    map[string][]Entry `json:"entries,omitempty"`
	Name       string             `json:"name"`
	GameCode   string             `json:"gameCode"`
	Family     string             `json:"family"`
	Checksums  Checksums          `json:"checksums"`
	Records    Records            `json:"records"`
	Executable Executable         `json:"executable"`
	Version    int                `json:"version"`
}

// Executable describes the main executable image.
type Executable struct {
	FreeSpace   []Span        `json:"freeSpace,omitempty"`
	Pointers    []PointerSite `json:"pointers,omitempty"`
	Branches    []BranchSite  `json:"branches,omitempty"`
	RAMBase     uint32        `json:"ramBase"`
	Alignment   int           `json:"alignment,omitempty"`
	ExtendLimit int           `json:"extendLimit,omitempty"`
}

// Span is a byte range.
type Span struct {
	Offset int `json:"offset"`
	Length int `json:"length"`
}

// PointerSite is a 32-bit word in the executable that holds a reference.
type PointerSite struct {
	Name       string     `json:"name"`
	Relativity Relativity `json:"relativity"`
	Offset     int        `json:"offset"`
}

// BranchSite is a relative branch instruction in the executable.
type BranchSite struct {
	Name   string     `json:"name"`
	Kind   BranchKind `json:"kind"`
	Offset int        `json:"offset"`
}

// Checksums is the expected CRC32 of each verified component. Overlay
// keys are decimal overlay ids; file keys are logical archive names.
type Checksums struct {
	Overlays map[string]uint32 `json:"overlays,omitempty"`
	Files    map[string]uint32 `json:"files,omitempty"`
	ARM9     uint32            `json:"arm9"`
}

// OverlayIDs returns the overlay checksums keyed by numeric id.
func (c Checksums) OverlayIDs() (map[int]uint32, error) {
	out := make(map[int]uint32, len(c.Overlays))
	for k, v := range c.Overlays {
		id, err := strconv.Atoi(k)
		if err != nil || id < 0 {
			return nil, fmt.Errorf("overlay checksum key %q is not an overlay id", k)
		}
		out[id] = v
	}
	return out, nil
}

// Records locates every record kind the build supports. Nil tables are
// unsupported for the build.
type Records struct {
	Species    *Table         `json:"species,omitempty"`
	Moves      *Table         `json:"moves,omitempty"`
	Items      *Table         `json:"items,omitempty"`
	Evolutions *Table         `json:"evolutions,omitempty"`
	Encounters *Table         `json:"encounters,omitempty"`
	Trainers   *TrainerTable  `json:"trainers,omitempty"`
	Learnsets  *LearnsetTable `json:"learnsets,omitempty"`
	Shops      *ShopTable     `json:"shops,omitempty"`
	// Machines is the TM/HM move table, one record per machine.
	Machines      *Table              `json:"machines,omitempty"`
	Compatibility *CompatibilityTable `json:"compatibility,omitempty"`
	EggMoves      *EggMoveTable       `json:"eggMoves,omitempty"`
}

// Table locates fixed-size records.
//
// With an archive and Packed unset, record i is archive file i and its
// fields start at Base. With Packed set, every record lives in archive
// file File at Base + i*Stride. Without an archive the records live in the
// executable at Base + i*Stride and Count is required.
type Table struct {
	Slots   *Slots  `json:"slots,omitempty"`
	Archive string  `json:"archive,omitempty"`
	Fields  []Field `json:"fields"`
	File    int     `json:"file,omitempty"`
	Base    int     `json:"base,omitempty"`
	Stride  int     `json:"stride,omitempty"`
	Count   int     `json:"count,omitempty"`
	Packed  bool    `json:"packed,omitempty"`
}

// InExecutable reports whether the table addresses the executable.
func (t *Table) InExecutable() bool {
	return t.Archive == ""
}

// Slots describes a fixed array of sub-records inside each record.
type Slots struct {
	Fields []Field `json:"fields"`
	Base   int     `json:"base"`
	Count  int     `json:"count"`
	Stride int     `json:"stride"`
}

// TrainerTable locates trainers: one fixed record per file in Archive and
// one variable-length team per file in Teams.
type TrainerTable struct {
	Archive string  `json:"archive"`
	Teams   string  `json:"teams"`
	Fields  []Field `json:"fields"`
	Member  []Field `json:"member"`
	// MemberSize is the size of the fixed member prefix.
	MemberSize int `json:"memberSize"`
	// MemberPadding trails every member on builds that pad team entries.
	MemberPadding int `json:"memberPadding,omitempty"`
}

// LearnsetTable locates terminator-ended move lists, one per file.
type LearnsetTable struct {
	Archive    string  `json:"archive"`
	Fields     []Field `json:"fields"`
	EntrySize  int     `json:"entrySize"`
	Terminator uint32  `json:"terminator"`
	Align      int     `json:"align,omitempty"`
}

// CompatibilityTable locates the machine compatibility bits of each
// species: Count bits, least significant first, from byte Offset of every
// file in Archive.
type CompatibilityTable struct {
	Archive string `json:"archive"`
	Offset  int    `json:"offset"`
	Count   int    `json:"count"`
}

// EggMoveTable locates the egg move list: one file of 16-bit values in
// which Marker+species opens a species group, every other value below
// Terminator is a move, and Terminator ends the list.
type EggMoveTable struct {
	Archive    string `json:"archive"`
	File       int    `json:"file,omitempty"`
	Marker     uint32 `json:"marker"`
	Terminator uint32 `json:"terminator"`
	Align      int    `json:"align,omitempty"`
}

// ShopTable locates the progressive shop and the special shops in the
// executable.
type ShopTable struct {
	Progressive *ProgressiveShop `json:"progressive,omitempty"`
	Special     *SpecialShops    `json:"special,omitempty"`
}

// ProgressiveShop is a pointer to a fixed-stride entry list whose length
// is stored in a separate size byte.
type ProgressiveShop struct {
	Relativity Relativity `json:"relativity"`
	Fields     []Field    `json:"fields"`
	Pointer    int        `json:"pointer"`
	Size       int        `json:"size"`
	Stride     int        `json:"stride"`
}

// SpecialShops is a pointer to a table of Count pointers, each to a
// terminator-ended list of item ids.
type SpecialShops struct {
	Relativity Relativity `json:"relativity"`
	Names      []string   `json:"names,omitempty"`
	Pointer    int        `json:"pointer"`
	Count      int        `json:"count"`
	Terminator uint32     `json:"terminator"`
	EntrySize  int        `json:"entrySize"`
}

// Field describes one bit-packed field of a record. Offset is the byte
// offset inside the record, Bit the bit offset from that byte and Width
// the width in bits. String fields use Length bytes instead.
type Field struct {
	Name       string     `json:"name"`
	Kind       Kind       `json:"kind"`
	Relativity Relativity `json:"relativity,omitempty"`
	Values     []string   `json:"values,omitempty"`
	Offset     int        `json:"offset"`
	Bit        int        `json:"bit,omitempty"`
	Width      int        `json:"width,omitempty"`
	Length     int        `json:"length,omitempty"`
}

// Bytes returns the number of bytes the field touches.
func (f Field) Bytes() int {
	if f.Kind == KindString {
		return f.Length
	}
	return (f.Bit + f.Width + 7) / 8
}

// Patch is a named code or data modification.
type Patch struct {
	Target     string        `json:"target"`
	IPS        string        `json:"ips,omitempty"`
	Edits      []Edit        `json:"edits,omitempty"`
	Branches   []BranchSite  `json:"branches,omitempty"`
	References []PointerSite `json:"references,omitempty"`
}

// Edit is one byte-level change. Pre may be empty when the current bytes
// are not checked.
type Edit struct {
	Pre    []byte `json:"pre,omitempty"`
	Post   []byte `json:"post"`
	Offset int    `json:"offset"`
}

// Entry addresses a single value inside an archive file.
type Entry struct {
	Archive string `json:"archive"`
	File    int    `json:"file"`
	Offset  int    `json:"offset"`
	Width   int    `json:"width"`
}

// Build returns the build with the given name.
func (c *Catalog) Build(name string) (*Build, error) {
	for i := range c.Builds {
		if c.Builds[i].Name == name {
			return &c.Builds[i], nil
		}
	}
	return nil, errors.NotFound(errors.PhaseLayout, "build", name)
}

// Identify returns the build matching a cartridge game code and version.
func (c *Catalog) Identify(gameCode string, version int) (*Build, error) {
	for i := range c.Builds {
		b := &c.Builds[i]
		if strings.EqualFold(b.GameCode, gameCode) && b.Version == version {
			return b, nil
		}
	}
	return nil, errors.New(errors.PhaseLayout, errors.KindUnsupported).
		Detail("no build for game code %q version %d", gameCode, version).Build()
}

// Archive returns the ROM path of a logical archive.
func (b *Build) Archive(name string) (string, error) {
	p, ok := b.Archives[name]
	if !ok {
		return "", errors.NotFound(errors.PhaseLayout, "archive", name)
	}
	return p, nil
}

// Patch returns a named patch.
func (b *Build) Patch(name string) (Patch, error) {
	p, ok := b.Patches[name]
	if !ok {
		return Patch{}, errors.NotFound(errors.PhasePatch, "patch", name)
	}
	return p, nil
}
