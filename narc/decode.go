package narc

import (
	"bytes"
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/romkit/errors"
	"github.com/wippyai/romkit/internal/binary"
)

// Decode parses a NARC blob. File contents are copied out of blob.
func Decode(blob []byte) (*Archive, error) {
	r := binary.NewReader(blob)

	if err := decodeHeader(r); err != nil {
		return nil, err
	}

	fat, err := section(r, magicFAT)
	if err != nil {
		return nil, err
	}
	names, err := section(r, magicFNT)
	if err != nil {
		return nil, err
	}
	img, err := section(r, magicImage)
	if err != nil {
		return nil, err
	}

	extents, err := decodeFAT(fat, len(img))
	if err != nil {
		return nil, err
	}

	a := &Archive{
		Files: make([][]byte, len(extents)),
		Names: bytes.Clone(names),
	}
	for i, e := range extents {
		a.Files[i] = bytes.Clone(img[e[0]:e[1]])
	}

	Logger().Debug("decoded archive",
		zap.Int("files", len(a.Files)),
		zap.Int("size", len(blob)))
	return a, nil
}

func decodeHeader(r *binary.Reader) error {
	if r.Len() < headerSize {
		return errors.Format(errors.PhaseDecode, "narc", fmt.Sprintf("blob of %d bytes is shorter than header", r.Len()))
	}
	if err := r.ReadMagic(magicHeader); err != nil {
		return errors.New(errors.PhaseDecode, errors.KindFormat).
			Path("narc").Offset(0).Cause(err).Detail("not a NARC archive").Build()
	}
	mark, _ := r.ReadU16()
	if mark != bom {
		return errors.FormatAt(errors.PhaseDecode, "narc", 4, fmt.Sprintf("byte order mark %#04x", mark))
	}
	_, _ = r.ReadU16() // version
	size, _ := r.ReadU32()
	if total := r.Position() + r.Len(); int(size) > total {
		return errors.FormatAt(errors.PhaseDecode, "narc", 8,
			fmt.Sprintf("declared size %d exceeds blob of %d bytes", size, total))
	}
	hsize, _ := r.ReadU16()
	if hsize != headerSize {
		return errors.FormatAt(errors.PhaseDecode, "narc", 12, fmt.Sprintf("header size %#x", hsize))
	}
	count, _ := r.ReadU16()
	if count != sectionCount {
		return errors.FormatAt(errors.PhaseDecode, "narc", 14, fmt.Sprintf("%d sections, want %d", count, sectionCount))
	}
	return nil
}

// section reads the next section, which must carry the given magic, and
// returns its payload.
func section(r *binary.Reader, magic string) ([]byte, error) {
	start := r.Position()
	if r.Len() < sectionHead {
		return nil, errors.FormatAt(errors.PhaseDecode, "narc", start, "missing section "+magic)
	}
	if err := r.ReadMagic(magic); err != nil {
		return nil, errors.New(errors.PhaseDecode, errors.KindFormat).
			Path("narc", magic).Offset(start).Cause(err).Detail("section missing or out of order").Build()
	}
	size, _ := r.ReadU32()
	if size < sectionHead || int(size)-sectionHead > r.Len() {
		return nil, errors.New(errors.PhaseDecode, errors.KindFormat).
			Path("narc", magic).Offset(start+4).
			Detail("section size %d exceeds remaining %d bytes", size, r.Len()+sectionHead).Build()
	}
	return r.ReadBytes(int(size) - sectionHead)
}

func decodeFAT(fat []byte, imageLen int) ([][2]int, error) {
	r := binary.NewReader(fat)
	count, err := r.ReadU16()
	if err != nil {
		return nil, errors.New(errors.PhaseDecode, errors.KindFormat).
			Path("narc", magicFAT).Cause(r.WrapError(magicFAT, err)).Detail("truncated file count").Build()
	}
	if count == 0 {
		return nil, errors.Format(errors.PhaseDecode, "narc", "declared file count is zero")
	}
	_, _ = r.ReadU16() // reserved
	if r.Len() < int(count)*8 {
		return nil, errors.New(errors.PhaseDecode, errors.KindFormat).
			Path("narc", magicFAT).
			Detail("%d entries need %d bytes, table has %d", count, int(count)*8, r.Len()).Build()
	}

	extents := make([][2]int, count)
	for i := range extents {
		start, _ := r.ReadU32()
		end, _ := r.ReadU32()
		if start > end || int(end) > imageLen {
			return nil, errors.New(errors.PhaseDecode, errors.KindFormat).
				Path("narc", magicFAT).Offset(sectionHead+r.Position()-8).Value(i).
				Detail("file %d extent [%#x, %#x) exceeds %d-byte image", i, start, end, imageLen).Build()
		}
		extents[i] = [2]int{int(start), int(end)}
	}
	return extents, nil
}
