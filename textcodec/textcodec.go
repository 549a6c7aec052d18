// Package textcodec converts fixed-width string fields between ROM bytes
// and Go strings.
package textcodec

import (
	"bytes"
	"fmt"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"

	"github.com/wippyai/romkit/errors"
)

// Codec encodes and decodes the bytes of one string field.
type Codec interface {
	// Decode converts field bytes to a string, stopping at the terminator.
	Decode(b []byte) (string, error)
	// Encode converts s to exactly size bytes, terminated and padded.
	Encode(s string, size int) ([]byte, error)
}

// UTF16 is the default codec: little-endian UTF-16 terminated by 0x0000
// or 0xFFFF and padded with zero.
type UTF16 struct {
	enc encoding.Encoding
}

// NewUTF16 creates a UTF-16LE codec.
func NewUTF16() *UTF16 {
	return &UTF16{enc: unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)}
}

func (u *UTF16) Decode(b []byte) (string, error) {
	n := len(b) &^ 1
	for i := 0; i+1 < len(b); i += 2 {
		if (b[i] == 0 && b[i+1] == 0) || (b[i] == 0xFF && b[i+1] == 0xFF) {
			n = i
			break
		}
	}
	out, err := u.enc.NewDecoder().Bytes(b[:n])
	if err != nil {
		return "", errors.Wrap(errors.PhaseDecode, errors.KindInvalidData, err, "utf-16 string")
	}
	return string(out), nil
}

func (u *UTF16) Encode(s string, size int) ([]byte, error) {
	raw, err := u.enc.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, errors.Wrap(errors.PhaseEncode, errors.KindInvalidData, err, "utf-16 string")
	}
	return Pad(raw, size, 2)
}

// Pad terminates raw with term zero bytes and pads it to size. It fails
// when raw plus the terminator does not fit.
func Pad(raw []byte, size, term int) ([]byte, error) {
	if len(raw)+term > size {
		return nil, errors.Overflow(errors.PhaseEncode, []string{"string"}, len(raw),
			fmt.Sprintf("%d-byte field", size))
	}
	out := make([]byte, size)
	copy(out, raw)
	return out, nil
}

// ASCII is a single-byte codec for fields holding plain text, such as
// the cartridge title.
type ASCII struct{}

func (ASCII) Decode(b []byte) (string, error) {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b), nil
}

func (ASCII) Encode(s string, size int) ([]byte, error) {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return nil, errors.InvalidInput(errors.PhaseEncode, fmt.Sprintf("non-ASCII byte %#x in %q", s[i], s))
		}
	}
	return Pad([]byte(s), size, 1)
}
