package nds

import (
	"strings"

	"github.com/wippyai/romkit/errors"
	"github.com/wippyai/romkit/internal/binary"
	"github.com/wippyai/romkit/textcodec"
)

const (
	// HeaderSize is the size of the header fields the cartridge format
	// defines; the header area up to the ARM9 binary is kept verbatim.
	HeaderSize = 0x200
	// DefaultHeaderArea is where the ARM9 binary starts on retail builds.
	DefaultHeaderArea = 0x4000
	// SectionAlign is the alignment of every section and file.
	SectionAlign = 0x200
	// Fill pads between sections.
	Fill = 0xFF

	crcEnd    = 0x15E
	minChip   = 17 // 128 KiB
	footerLen = 12
	// nitroCode marks the optional footer after the ARM9 binary.
	nitroCode = 0xDEC00621
)

// header field offsets
const (
	offTitle     = 0x000
	offGameCode  = 0x00C
	offMaker     = 0x010
	offUnit      = 0x012
	offCapacity  = 0x014
	offVersion   = 0x01E
	offARM9      = 0x020
	offARM7      = 0x030
	offFNT       = 0x040
	offFAT       = 0x048
	offOVT9      = 0x050
	offOVT7      = 0x058
	offBanner    = 0x068
	offUsedSize  = 0x080
	offAreaSize  = 0x084
	offHeaderCRC = 0x15E
)

// Binary is an executable section of the cartridge.
type Binary struct {
	Offset     uint32
	Entry      uint32
	RAMAddress uint32
	Size       uint32
}

// Span is a table section of the cartridge.
type Span struct {
	Offset uint32
	Size   uint32
}

// End returns the offset after the span.
func (s Span) End() int {
	return int(s.Offset) + int(s.Size)
}

// Header holds the cartridge header fields romkit reads or rewrites.
type Header struct {
	Title     string
	GameCode  string
	MakerCode string
	ARM9      Binary
	ARM7      Binary
	FNT       Span
	FAT       Span
	Overlay9  Span
	Overlay7  Span
	Banner    uint32
	UsedSize  uint32
	AreaSize  uint32
	CRC       uint16
	UnitCode  byte
	Capacity  byte
	Version   byte
}

func parseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, errors.FormatAt(errors.PhaseLoad, "nds", len(b),
			"image shorter than the cartridge header")
	}
	ascii := textcodec.ASCII{}
	title, _ := ascii.Decode(b[offTitle : offTitle+12])
	code, _ := ascii.Decode(b[offGameCode : offGameCode+4])
	maker, _ := ascii.Decode(b[offMaker : offMaker+2])

	h := Header{
		Title:     strings.TrimRight(title, " "),
		GameCode:  code,
		MakerCode: maker,
		UnitCode:  b[offUnit],
		Capacity:  b[offCapacity],
		Version:   b[offVersion],
		ARM9:      getBinary(b, offARM9),
		ARM7:      getBinary(b, offARM7),
		FNT:       getSpan(b, offFNT),
		FAT:       getSpan(b, offFAT),
		Overlay9:  getSpan(b, offOVT9),
		Overlay7:  getSpan(b, offOVT7),
		Banner:    binary.U32(b, offBanner),
		UsedSize:  binary.U32(b, offUsedSize),
		AreaSize:  binary.U32(b, offAreaSize),
		CRC:       binary.U16(b, offHeaderCRC),
	}
	return h, nil
}

// put writes the fields back into a header area and recomputes the CRC.
// Identification fields are not rewritten.
func (h *Header) put(b []byte) {
	b[offCapacity] = h.Capacity
	putBinary(b, offARM9, h.ARM9)
	putBinary(b, offARM7, h.ARM7)
	putSpan(b, offFNT, h.FNT)
	putSpan(b, offFAT, h.FAT)
	putSpan(b, offOVT9, h.Overlay9)
	putSpan(b, offOVT7, h.Overlay7)
	binary.PutU32(b, offBanner, h.Banner)
	binary.PutU32(b, offUsedSize, h.UsedSize)
	binary.PutU32(b, offAreaSize, h.AreaSize)
	h.CRC = CRC16(b[:crcEnd])
	binary.PutU16(b, offHeaderCRC, h.CRC)
}

func getBinary(b []byte, off int) Binary {
	return Binary{
		Offset:     binary.U32(b, off),
		Entry:      binary.U32(b, off+4),
		RAMAddress: binary.U32(b, off+8),
		Size:       binary.U32(b, off+12),
	}
}

func putBinary(b []byte, off int, v Binary) {
	binary.PutU32(b, off, v.Offset)
	binary.PutU32(b, off+4, v.Entry)
	binary.PutU32(b, off+8, v.RAMAddress)
	binary.PutU32(b, off+12, v.Size)
}

func getSpan(b []byte, off int) Span {
	return Span{Offset: binary.U32(b, off), Size: binary.U32(b, off+4)}
}

func putSpan(b []byte, off int, s Span) {
	binary.PutU32(b, off, s.Offset)
	binary.PutU32(b, off+4, s.Size)
}

// CRC16 is the header checksum: CRC-16/MODBUS (reflected polynomial
// 0xA001, initial value 0xFFFF).
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc = crc>>8 ^ crc16Table[byte(crc)^b]
	}
	return crc
}

var crc16Table = func() (t [256]uint16) {
	for i := range t {
		c := uint16(i)
		for range 8 {
			if c&1 != 0 {
				c = c>>1 ^ 0xA001
			} else {
				c >>= 1
			}
		}
		t[i] = c
	}
	return t
}()

// capacityFor returns the chip capacity byte for an image of n bytes:
// the smallest c with 128 KiB << c >= n.
func capacityFor(n int) byte {
	c := byte(0)
	for 1<<(minChip+int(c)) < n {
		c++
	}
	return c
}
