package narc

import (
	"math"

	"github.com/wippyai/romkit/errors"
	"github.com/wippyai/romkit/internal/binary"
)

// Encode serializes the archive. Offsets are recomputed from the current
// file lengths; each file is padded to Alignment with Fill. The file
// count is a 16-bit field and the total size a 32-bit one; archives that
// exceed either fail with KindOverflow.
func (a *Archive) Encode() ([]byte, error) {
	if len(a.Files) > math.MaxUint16 {
		return nil, errors.Overflow(errors.PhaseEncode, []string{"narc", magicFAT}, len(a.Files), "the 16-bit file count")
	}
	names := a.Names
	if names == nil {
		names = defaultNames
	}

	image := 0
	for _, f := range a.Files {
		image += binary.AlignUp(len(f), Alignment)
	}
	fatSize := sectionHead + 4 + 8*len(a.Files)
	fntSize := sectionHead + len(names)
	imgSize := sectionHead + image
	total := headerSize + fatSize + fntSize + imgSize
	if uint64(total) > math.MaxUint32 {
		return nil, errors.Overflow(errors.PhaseEncode, []string{"narc"}, total, "the 32-bit archive size")
	}

	w := binary.NewWriter()
	w.WriteString(magicHeader)
	w.WriteU16(bom)
	w.WriteU16(version)
	w.WriteU32(uint32(total))
	w.WriteU16(headerSize)
	w.WriteU16(sectionCount)

	w.WriteString(magicFAT)
	w.WriteU32(uint32(fatSize))
	w.WriteU16(uint16(len(a.Files)))
	w.WriteU16(0)
	off := 0
	for _, f := range a.Files {
		w.WriteU32(uint32(off))
		w.WriteU32(uint32(off + len(f)))
		off += binary.AlignUp(len(f), Alignment)
	}

	w.WriteString(magicFNT)
	w.WriteU32(uint32(fntSize))
	w.WriteBytes(names)

	w.WriteString(magicImage)
	w.WriteU32(uint32(imgSize))
	base := w.Len()
	for _, f := range a.Files {
		w.WriteBytes(f)
		for (w.Len()-base)%Alignment != 0 {
			w.Byte(Fill)
		}
	}
	return w.Bytes(), nil
}
