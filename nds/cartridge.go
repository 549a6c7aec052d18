package nds

import (
	"bytes"
	"fmt"
	"maps"
	"path"
	"slices"

	"go.uber.org/zap"

	"github.com/wippyai/romkit/errors"
	"github.com/wippyai/romkit/internal/binary"
	"github.com/wippyai/romkit/textcodec"
)

const (
	overlayEntry   = 32
	fatEntry       = 8
	compressedFlag = 1 << 24
	sizeMask       = 1<<24 - 1
)

// Overlay is one entry of an overlay table.
type Overlay struct {
	ID              uint32
	RAMAddress      uint32
	RAMSize         uint32
	BSSSize         uint32
	StaticInitStart uint32
	StaticInitEnd   uint32
	FileID          uint32
	Flags           uint32
}

// Compressed reports whether the overlay file is stored compressed.
func (o Overlay) Compressed() bool {
	return o.Flags&compressedFlag != 0
}

// Cartridge is a decoded cartridge image. File count and ids are fixed;
// file contents, the executables and overlays may be replaced and are laid
// out afresh by Encode.
type Cartridge struct {
	paths     map[string]int
	area      []byte
	footer    []byte
	fnt       []byte
	files     [][]byte
	ARM9      []byte
	ARM7      []byte
	Banner    []byte
	Overlays9 []Overlay
	Overlays7 []Overlay
	Header    Header
}

// Decode parses a cartridge image. Contents are copied out of data.
func Decode(data []byte) (*Cartridge, error) {
	h, err := parseHeader(data)
	if err != nil {
		return nil, err
	}
	c := &Cartridge{Header: h}

	if h.ARM9.Offset < HeaderSize {
		return nil, errors.FormatAt(errors.PhaseLoad, "nds", offARM9,
			fmt.Sprintf("arm9 at %#x overlaps the header", h.ARM9.Offset))
	}
	sect := func(name string, off, size uint32) ([]byte, error) {
		end := uint64(off) + uint64(size)
		if end > uint64(len(data)) {
			return nil, errors.New(errors.PhaseLoad, errors.KindFormat).Path("nds", name).Offset(int(off)).
				Detail("section of %d bytes exceeds %d-byte image", size, len(data)).Build()
		}
		return bytes.Clone(data[off:end]), nil
	}

	if c.ARM9, err = sect("arm9", h.ARM9.Offset, h.ARM9.Size); err != nil {
		return nil, err
	}
	c.area = bytes.Clone(data[:h.ARM9.Offset])
	if end := int(h.ARM9.Offset + h.ARM9.Size); end+footerLen <= len(data) && binary.U32(data, end) == nitroCode {
		c.footer = bytes.Clone(data[end : end+footerLen])
	}
	if c.ARM7, err = sect("arm7", h.ARM7.Offset, h.ARM7.Size); err != nil {
		return nil, err
	}
	if c.Overlays9, err = c.overlayTable(data, "ovt9", h.Overlay9); err != nil {
		return nil, err
	}
	if c.Overlays7, err = c.overlayTable(data, "ovt7", h.Overlay7); err != nil {
		return nil, err
	}

	fat, err := sect("fat", h.FAT.Offset, h.FAT.Size)
	if err != nil {
		return nil, err
	}
	if len(fat)%fatEntry != 0 {
		return nil, errors.FormatAt(errors.PhaseLoad, "fat", int(h.FAT.Offset),
			fmt.Sprintf("table size %d is not a multiple of %d", len(fat), fatEntry))
	}
	c.files = make([][]byte, len(fat)/fatEntry)
	for i := range c.files {
		start, end := binary.U32(fat, i*fatEntry), binary.U32(fat, i*fatEntry+4)
		if start > end || int(end) > len(data) {
			return nil, errors.New(errors.PhaseLoad, errors.KindFormat).Path("fat").
				Offset(int(h.FAT.Offset)+i*fatEntry).Value(i).
				Detail("file %d extent [%#x, %#x) exceeds %d-byte image", i, start, end, len(data)).Build()
		}
		c.files[i] = bytes.Clone(data[start:end])
	}

	if c.fnt, err = sect("fnt", h.FNT.Offset, h.FNT.Size); err != nil {
		return nil, err
	}
	if c.paths, err = parseFNT(c.fnt, len(c.files)); err != nil {
		return nil, err
	}

	for _, table := range [][]Overlay{c.Overlays9, c.Overlays7} {
		for _, o := range table {
			if int(o.FileID) >= len(c.files) {
				return nil, errors.New(errors.PhaseLoad, errors.KindFormat).Path("nds", "overlay").
					Value(o.ID).Detail("file id %d past %d-entry FAT", o.FileID, len(c.files)).Build()
			}
		}
	}

	if h.Banner != 0 {
		size := uint32(bannerSize(data, h.Banner))
		if c.Banner, err = sect("banner", h.Banner, size); err != nil {
			return nil, err
		}
	}

	Logger().Debug("decoded cartridge",
		zap.String("game", h.GameCode),
		zap.Int("version", int(h.Version)),
		zap.Int("files", len(c.files)),
		zap.Int("overlays", len(c.Overlays9)))
	return c, nil
}

func (c *Cartridge) overlayTable(data []byte, name string, s Span) ([]Overlay, error) {
	if s.Size == 0 {
		return nil, nil
	}
	if s.Size%overlayEntry != 0 || s.End() > len(data) {
		return nil, errors.New(errors.PhaseLoad, errors.KindFormat).Path("nds", name).Offset(int(s.Offset)).
			Detail("overlay table of %d bytes", s.Size).Build()
	}
	out := make([]Overlay, s.Size/overlayEntry)
	for i := range out {
		b := data[int(s.Offset)+i*overlayEntry:]
		out[i] = Overlay{
			ID:              binary.U32(b, 0),
			RAMAddress:      binary.U32(b, 4),
			RAMSize:         binary.U32(b, 8),
			BSSSize:         binary.U32(b, 12),
			StaticInitStart: binary.U32(b, 16),
			StaticInitEnd:   binary.U32(b, 20),
			FileID:          binary.U32(b, 24),
			Flags:           binary.U32(b, 28),
		}
	}
	return out, nil
}

func putOverlays(w *binary.Writer, table []Overlay) {
	for _, o := range table {
		for _, v := range []uint32{o.ID, o.RAMAddress, o.RAMSize, o.BSSSize,
			o.StaticInitStart, o.StaticInitEnd, o.FileID, o.Flags} {
			w.WriteU32(v)
		}
	}
}

// bannerSize returns the banner length for the banner version at off.
func bannerSize(data []byte, off uint32) int {
	if int(off)+2 > len(data) {
		return 0x840
	}
	switch binary.U16(data, int(off)) {
	case 2:
		return 0x940
	case 3:
		return 0xA40
	case 0x103:
		return 0x23C0
	default:
		return 0x840
	}
}

// GameCode returns the four-character game code.
func (c *Cartridge) GameCode() string {
	return c.Header.GameCode
}

// Version returns the ROM version byte.
func (c *Cartridge) Version() int {
	return int(c.Header.Version)
}

// Files returns the number of FAT entries.
func (c *Cartridge) Files() int {
	return len(c.files)
}

// File returns file id.
func (c *Cartridge) File(id int) ([]byte, error) {
	if id < 0 || id >= len(c.files) {
		return nil, errors.OutOfBounds(errors.PhaseLoad, []string{"fat"}, id, len(c.files))
	}
	return c.files[id], nil
}

// SetFile replaces file id.
func (c *Cartridge) SetFile(id int, data []byte) error {
	if id < 0 || id >= len(c.files) {
		return errors.OutOfBounds(errors.PhaseSave, []string{"fat"}, id, len(c.files))
	}
	c.files[id] = data
	return nil
}

// Lookup returns the file id of an absolute path.
func (c *Cartridge) Lookup(p string) (int, error) {
	id, ok := c.paths[path.Clean("/"+p)]
	if !ok {
		return 0, errors.NotFound(errors.PhaseLoad, "file", p)
	}
	return id, nil
}

// Paths returns every named file in sorted order.
func (c *Cartridge) Paths() []string {
	return slices.Sorted(maps.Keys(c.paths))
}

// ReadFile returns the contents of the file at path p.
func (c *Cartridge) ReadFile(p string) ([]byte, error) {
	id, err := c.Lookup(p)
	if err != nil {
		return nil, err
	}
	return c.files[id], nil
}

// WriteFile replaces the contents of the file at path p.
func (c *Cartridge) WriteFile(p string, data []byte) error {
	id, err := c.Lookup(p)
	if err != nil {
		return err
	}
	c.files[id] = data
	return nil
}

func (c *Cartridge) overlay(id int) (*Overlay, error) {
	for i := range c.Overlays9 {
		if int(c.Overlays9[i].ID) == id {
			return &c.Overlays9[i], nil
		}
	}
	return nil, errors.NotFound(errors.PhaseLoad, "overlay", fmt.Sprint(id))
}

// OverlayIDs returns the ids of the ARM9 overlays in table order.
func (c *Cartridge) OverlayIDs() []int {
	ids := make([]int, len(c.Overlays9))
	for i, o := range c.Overlays9 {
		ids[i] = int(o.ID)
	}
	return ids
}

// Overlay returns the contents of ARM9 overlay id. Compressed overlays are
// not supported.
func (c *Cartridge) Overlay(id int) ([]byte, error) {
	o, err := c.overlay(id)
	if err != nil {
		return nil, err
	}
	if o.Compressed() {
		return nil, errors.Unsupported(errors.PhaseLoad, fmt.Sprintf("compressed overlay %d", id))
	}
	return c.files[o.FileID], nil
}

// SetOverlay replaces ARM9 overlay id and updates its loaded size.
func (c *Cartridge) SetOverlay(id int, data []byte) error {
	o, err := c.overlay(id)
	if err != nil {
		return err
	}
	if o.Compressed() {
		return errors.Unsupported(errors.PhaseSave, fmt.Sprintf("compressed overlay %d", id))
	}
	o.RAMSize = uint32(len(data))
	c.files[o.FileID] = data
	return nil
}

// Encode lays the cartridge out afresh: header area, ARM9 and its footer,
// overlay tables, ARM7, FNT, FAT, banner and then every file in id order,
// each section aligned to SectionAlign with Fill bytes. The header fields
// and checksum are rewritten to match.
func (c *Cartridge) Encode() ([]byte, error) {
	h := c.Header
	w := binary.NewWriter()
	w.WriteBytes(c.area)
	w.Pad(SectionAlign, Fill)

	place := func(parts ...[]byte) Span {
		s := Span{Offset: uint32(w.Len())}
		for _, p := range parts {
			w.WriteBytes(p)
		}
		s.Size = uint32(w.Len()) - s.Offset
		w.Pad(SectionAlign, Fill)
		return s
	}
	table := func(t []Overlay) Span {
		if len(t) == 0 {
			return Span{}
		}
		tw := binary.NewWriter()
		putOverlays(tw, t)
		return place(tw.Bytes())
	}

	arm9 := place(c.ARM9, c.footer)
	h.ARM9.Offset, h.ARM9.Size = arm9.Offset, uint32(len(c.ARM9))
	h.Overlay9 = table(c.Overlays9)
	arm7 := place(c.ARM7)
	h.ARM7.Offset, h.ARM7.Size = arm7.Offset, arm7.Size
	h.Overlay7 = table(c.Overlays7)
	h.FNT = place(c.fnt)

	// FAT and banner positions are fixed before the files they describe.
	h.FAT = Span{Offset: uint32(w.Len()), Size: uint32(len(c.files) * fatEntry)}
	pos := binary.AlignUp(h.FAT.End(), SectionAlign)
	h.Banner = 0
	if len(c.Banner) > 0 {
		h.Banner = uint32(pos)
		pos = binary.AlignUp(pos+len(c.Banner), SectionAlign)
	}
	fat := binary.NewWriter()
	used := pos
	for _, f := range c.files {
		fat.WriteU32(uint32(pos))
		fat.WriteU32(uint32(pos + len(f)))
		used = pos + len(f)
		pos = binary.AlignUp(used, SectionAlign)
	}
	if uint64(used) > 1<<32-1 {
		return nil, errors.Overflow(errors.PhaseSave, []string{"nds"}, used, "32-bit cartridge offsets")
	}
	place(fat.Bytes())
	if len(c.Banner) > 0 {
		place(c.Banner)
	}
	for _, f := range c.files {
		place(f)
	}

	out := w.Bytes()[:used]
	h.UsedSize = uint32(used)
	if chip := capacityFor(used); chip > h.Capacity {
		h.Capacity = chip
	}
	h.put(out)
	c.Header = h

	Logger().Debug("encoded cartridge",
		zap.String("game", h.GameCode),
		zap.Int("size", used),
		zap.Int("files", len(c.files)))
	return out, nil
}

// Parts are the contents of a cartridge built from scratch.
type Parts struct {
	Files     map[string][]byte
	Title     string
	GameCode  string
	MakerCode string
	ARM9      []byte
	ARM7      []byte
	// Overlays are ARM9 overlays; overlay i gets id i and file id i.
	Overlays [][]byte
	ARM9RAM  uint32
	Version  byte
}

// Assemble builds a cartridge from parts. Named files are numbered after
// the overlays in directory order.
func Assemble(p Parts) (*Cartridge, error) {
	area := make([]byte, DefaultHeaderArea)
	ascii := textcodec.ASCII{}
	for _, f := range []struct {
		s    string
		off  int
		size int
	}{{p.Title, offTitle, 12}, {p.GameCode, offGameCode, 4}, {p.MakerCode, offMaker, 2}} {
		raw, err := ascii.Encode(f.s, f.size+1)
		if err != nil {
			return nil, err
		}
		copy(area[f.off:f.off+f.size], raw)
	}
	area[offVersion] = p.Version

	ram := p.ARM9RAM
	if ram == 0 {
		ram = 0x02000000
	}

	files := make(map[string][]byte, len(p.Files))
	for name, data := range p.Files {
		files[path.Clean("/"+name)] = data
	}
	names := slices.Sorted(maps.Keys(files))
	fnt, ids, err := buildFNT(names, len(p.Overlays))
	if err != nil {
		return nil, err
	}

	c := &Cartridge{
		area:  area,
		fnt:   fnt,
		paths: ids,
		ARM9:  p.ARM9,
		ARM7:  p.ARM7,
		files: make([][]byte, len(p.Overlays)+len(names)),
	}
	next := ram + uint32(binary.AlignUp(len(p.ARM9), 32))
	for i, data := range p.Overlays {
		c.Overlays9 = append(c.Overlays9, Overlay{
			ID:         uint32(i),
			RAMAddress: next,
			RAMSize:    uint32(len(data)),
			FileID:     uint32(i),
		})
		c.files[i] = data
	}
	for name, id := range ids {
		c.files[id] = files[name]
	}

	h, _ := parseHeader(area)
	h.ARM9 = Binary{Entry: ram, RAMAddress: ram}
	h.ARM7 = Binary{Entry: 0x02380000, RAMAddress: 0x02380000}
	h.AreaSize = DefaultHeaderArea
	c.Header = h
	return c, nil
}
