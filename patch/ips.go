package patch

import (
	"bytes"

	"github.com/wippyai/romkit/errors"
	"github.com/wippyai/romkit/internal/binary"
	"github.com/wippyai/romkit/layout"
)

const (
	ipsHeader = "PATCH"
	ipsFooter = "EOF"
	// ipsEOF is the footer read as a record offset.
	ipsEOF = 0x454F46
	// ipsMaxOffset is the largest offset a 3-byte field holds.
	ipsMaxOffset = 1<<24 - 1
)

// IPS is a decoded IPS patch.
type IPS struct {
	Records []IPSRecord
	// Truncate is the length the target is cut to, or -1.
	Truncate int
}

// IPSRecord is one run of bytes to write. RLE records are expanded.
type IPSRecord struct {
	Data   []byte
	Offset int
	// RLE marks records stored run-length encoded.
	RLE bool
}

// ParseIPS decodes an IPS patch: the "PATCH" header, records of a 3-byte
// big-endian offset and 2-byte size (size 0 introduces an RLE record of a
// 2-byte count and a fill byte), the "EOF" footer and an optional 3-byte
// truncation length.
func ParseIPS(data []byte) (*IPS, error) {
	r := binary.NewReader(data)
	if err := r.ReadMagic(ipsHeader); err != nil {
		return nil, errors.FormatAt(errors.PhasePatch, "ips", 0, "missing PATCH header")
	}

	p := &IPS{Truncate: -1}
	for {
		at := r.Position()
		off, err := readBE(r, 3)
		if err != nil {
			return nil, errors.FormatAt(errors.PhasePatch, "ips", at, "patch ends without EOF")
		}
		if off == ipsEOF {
			break
		}
		size, err := readBE(r, 2)
		if err != nil {
			return nil, errors.FormatAt(errors.PhasePatch, "ips", at, "truncated record header")
		}

		rec := IPSRecord{Offset: off}
		if size == 0 {
			count, err := readBE(r, 2)
			if err != nil {
				return nil, errors.FormatAt(errors.PhasePatch, "ips", at, "truncated RLE record")
			}
			fill, err := r.ReadByte()
			if err != nil {
				return nil, errors.FormatAt(errors.PhasePatch, "ips", at, "truncated RLE record")
			}
			if count == 0 {
				return nil, errors.FormatAt(errors.PhasePatch, "ips", at, "empty RLE record")
			}
			rec.Data = bytes.Repeat([]byte{fill}, count)
			rec.RLE = true
		} else {
			b, err := r.ReadBytes(size)
			if err != nil {
				return nil, errors.FormatAt(errors.PhasePatch, "ips", at, "record data past end of patch")
			}
			rec.Data = bytes.Clone(b)
		}
		p.Records = append(p.Records, rec)
	}

	switch r.Len() {
	case 0:
	case 3:
		p.Truncate, _ = readBE(r, 3)
	default:
		return nil, errors.FormatAt(errors.PhasePatch, "ips", r.Position(), "trailing bytes after EOF")
	}
	return p, nil
}

func readBE(r *binary.Reader, n int) (int, error) {
	b, err := r.ReadBytes(n)
	if err != nil {
		return 0, err
	}
	v := 0
	for _, c := range b {
		v = v<<8 | int(c)
	}
	return v, nil
}

// Encode writes p in IPS form. RLE records are written run-length encoded.
func (p *IPS) Encode() ([]byte, error) {
	w := binary.NewWriter()
	w.WriteString(ipsHeader)
	for _, rec := range p.Records {
		if rec.Offset < 0 || rec.Offset > ipsMaxOffset || rec.Offset == ipsEOF {
			return nil, errors.Overflow(errors.PhasePatch, []string{"ips"}, rec.Offset, "3-byte IPS offset")
		}
		if len(rec.Data) == 0 || len(rec.Data) > 0xFFFF {
			return nil, errors.Overflow(errors.PhasePatch, []string{"ips"}, len(rec.Data), "2-byte IPS size")
		}
		putBE(w, rec.Offset, 3)
		if rec.RLE && uniform(rec.Data) {
			putBE(w, 0, 2)
			putBE(w, len(rec.Data), 2)
			w.Byte(rec.Data[0])
			continue
		}
		putBE(w, len(rec.Data), 2)
		w.WriteBytes(rec.Data)
	}
	w.WriteString(ipsFooter)
	if p.Truncate >= 0 {
		putBE(w, p.Truncate, 3)
	}
	return w.Bytes(), nil
}

func uniform(b []byte) bool {
	for _, c := range b[1:] {
		if c != b[0] {
			return false
		}
	}
	return true
}

func putBE(w *binary.Writer, v, n int) {
	for i := n - 1; i >= 0; i-- {
		w.Byte(byte(v >> (8 * i)))
	}
}

// Edits converts the records to unchecked edits.
func (p *IPS) Edits() []layout.Edit {
	out := make([]layout.Edit, len(p.Records))
	for i, rec := range p.Records {
		out[i] = layout.Edit{Offset: rec.Offset, Post: rec.Data}
	}
	return out
}

// ApplyTo writes p over target, growing it when a record ends past its
// end and cutting it at Truncate. It returns the patched buffer.
func (p *IPS) ApplyTo(target []byte) []byte {
	out := target
	for _, rec := range p.Records {
		if end := rec.Offset + len(rec.Data); end > len(out) {
			out = append(out, make([]byte, end-len(out))...)
		}
		copy(out[rec.Offset:], rec.Data)
	}
	if p.Truncate >= 0 && p.Truncate < len(out) {
		out = out[:p.Truncate]
	}
	return out
}
