package patch

import (
	"bytes"
	stderrors "errors"
	"testing"

	"github.com/wippyai/romkit/errors"
)

func ipsBytes(parts ...[]byte) []byte {
	return bytes.Join(append([][]byte{[]byte("PATCH")}, parts...), nil)
}

func TestParseIPS(t *testing.T) {
	data := ipsBytes(
		[]byte{0x00, 0x01, 0x00, 0x00, 0x03, 0xAA, 0xBB, 0xCC},
		[]byte{0x00, 0x00, 0x10, 0x00, 0x00, 0x00, 0x04, 0x7F},
		[]byte("EOF"),
	)
	p, err := ParseIPS(data)
	if err != nil {
		t.Fatalf("ParseIPS: %v", err)
	}
	if len(p.Records) != 2 || p.Truncate != -1 {
		t.Fatalf("records = %d, truncate = %d", len(p.Records), p.Truncate)
	}
	if p.Records[0].Offset != 0x100 || !bytes.Equal(p.Records[0].Data, []byte{0xAA, 0xBB, 0xCC}) {
		t.Errorf("record 0 = %+v", p.Records[0])
	}
	if r := p.Records[1]; r.Offset != 0x10 || !r.RLE || !bytes.Equal(r.Data, []byte{0x7F, 0x7F, 0x7F, 0x7F}) {
		t.Errorf("record 1 = %+v", r)
	}

	out, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Errorf("Encode = % x, want % x", out, data)
	}

	edits := p.Edits()
	if len(edits) != 2 || edits[1].Offset != 0x10 || len(edits[1].Pre) != 0 {
		t.Errorf("edits = %+v", edits)
	}
}

func TestParseIPSTruncation(t *testing.T) {
	data := ipsBytes([]byte{0x00, 0x00, 0x02, 0x00, 0x01, 0x09}, []byte("EOF"), []byte{0x00, 0x00, 0x04})
	p, err := ParseIPS(data)
	if err != nil {
		t.Fatalf("ParseIPS: %v", err)
	}
	if p.Truncate != 4 {
		t.Errorf("Truncate = %d, want 4", p.Truncate)
	}
	got := p.ApplyTo([]byte{1, 2, 3, 4, 5, 6})
	if !bytes.Equal(got, []byte{1, 2, 9, 4}) {
		t.Errorf("ApplyTo = % x", got)
	}

	grown := (&IPS{Truncate: -1, Records: []IPSRecord{{Offset: 3, Data: []byte{7, 7}}}}).ApplyTo([]byte{1})
	if !bytes.Equal(grown, []byte{1, 0, 0, 7, 7}) {
		t.Errorf("ApplyTo past end = % x", grown)
	}
}

func TestParseIPSErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"no header", []byte("PATCX")},
		{"no EOF", ipsBytes([]byte{0x00, 0x00, 0x01, 0x00, 0x01, 0xFF})},
		{"short record header", ipsBytes([]byte{0x00, 0x00, 0x01, 0x00})},
		{"short data", ipsBytes([]byte{0x00, 0x00, 0x01, 0x00, 0x04, 0xFF})},
		{"short RLE", ipsBytes([]byte{0x00, 0x00, 0x01, 0x00, 0x00, 0x00})},
		{"empty RLE", ipsBytes([]byte{0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x01}, []byte("EOF"))},
		{"trailing bytes", ipsBytes([]byte("EOF"), []byte{0x01})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseIPS(tt.data)
			if !stderrors.Is(err, errors.ErrFormat) {
				t.Errorf("got %v, want format error", err)
			}
		})
	}
}

func TestEncodeIPSRejectsEOFOffset(t *testing.T) {
	p := &IPS{Truncate: -1, Records: []IPSRecord{{Offset: 0x454F46, Data: []byte{1}}}}
	if _, err := p.Encode(); err == nil {
		t.Error("offset equal to the EOF marker should fail")
	}
}
