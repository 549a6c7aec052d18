package record

import (
	"fmt"
	"math"

	"github.com/wippyai/romkit/errors"
	"github.com/wippyai/romkit/layout"
)

// Warning reports a value that was clamped to fit its field.
type Warning struct {
	Field  string
	Value  int64
	Stored int64
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %d clamped to %d", w.Field, w.Value, w.Stored)
}

// readBits returns the raw bits of f from window at base.
func readBits(f layout.Field, window []byte, base int) (uint64, error) {
	off := base + f.Offset
	n := f.Bytes()
	if off < 0 || off+n > len(window) {
		return 0, errors.OutOfBounds(errors.PhaseDecode, []string{f.Name}, off+n, len(window))
	}
	var v uint64
	for i := n - 1; i >= 0; i-- {
		v = v<<8 | uint64(window[off+i])
	}
	return (v >> f.Bit) & mask(f.Width), nil
}

// writeBits stores the low Width bits of v into window, keeping the
// neighbouring bits of the touched bytes.
func writeBits(f layout.Field, window []byte, base int, v uint64) error {
	off := base + f.Offset
	n := f.Bytes()
	if off < 0 || off+n > len(window) {
		return errors.OutOfBounds(errors.PhaseEncode, []string{f.Name}, off+n, len(window))
	}
	var cur uint64
	for i := n - 1; i >= 0; i-- {
		cur = cur<<8 | uint64(window[off+i])
	}
	m := mask(f.Width) << f.Bit
	cur = cur&^m | (v<<f.Bit)&m
	for i := 0; i < n; i++ {
		window[off+i] = byte(cur >> (8 * i))
	}
	return nil
}

func mask(width int) uint64 {
	if width >= 64 {
		return math.MaxUint64
	}
	return 1<<width - 1
}

// bounds returns the representable range of a numeric field.
func bounds(f layout.Field) (lo, hi int64) {
	switch f.Kind {
	case layout.KindInt:
		return -(1 << (f.Width - 1)), 1<<(f.Width-1) - 1
	case layout.KindFlag:
		return 0, 1
	case layout.KindEnum:
		hi = int64(len(f.Values)) - 1
		if m := int64(mask(f.Width)); hi > m {
			hi = m
		}
		return 0, hi
	default:
		return 0, int64(mask(f.Width))
	}
}

func signExtend(v uint64, width int) int64 {
	shift := 64 - width
	return int64(v<<shift) >> shift
}

// pointerSpan returns the signedness and stored range of a pointer field.
func pointerSpan(f layout.Field) (signed bool, lo, hi int64) {
	if f.Relativity == layout.SelfRelative {
		return true, -(1 << (f.Width - 1)), 1<<(f.Width-1) - 1
	}
	return false, 0, int64(mask(f.Width))
}

// resolvePointer converts a stored pointer value to an image offset. site
// is the image offset of the pointer itself.
func (c *Codec) resolvePointer(f layout.Field, stored uint64, site int) (int64, error) {
	switch f.Relativity {
	case layout.Absolute:
		return int64(stored), nil
	case layout.ImageBase:
		if stored < uint64(c.RAMBase) {
			return 0, errors.New(errors.PhaseDecode, errors.KindInvalidData).Path(f.Name).
				Value(stored).Detail("pointer %#x is below image base %#x", stored, c.RAMBase).Build()
		}
		return int64(stored - uint64(c.RAMBase)), nil
	case layout.SelfRelative:
		return int64(site) + signExtend(stored, f.Width), nil
	}
	return 0, errors.New(errors.PhaseDecode, errors.KindInvalidData).Path(f.Name).
		Detail("pointer relativity %q is not declared", f.Relativity).Build()
}

// storePointer converts an image offset to the stored form. It never
// clamps.
func (c *Codec) storePointer(f layout.Field, target int64, site int) (uint64, error) {
	var v int64
	switch f.Relativity {
	case layout.Absolute:
		v = target
	case layout.ImageBase:
		v = target + int64(c.RAMBase)
	case layout.SelfRelative:
		v = target - int64(site)
	default:
		return 0, errors.New(errors.PhaseEncode, errors.KindInvalidData).Path(f.Name).
			Detail("pointer relativity %q is not declared", f.Relativity).Build()
	}
	_, lo, hi := pointerSpan(f)
	if v < lo || v > hi {
		return 0, errors.Overflow(errors.PhaseEncode, []string{f.Name}, v,
			fmt.Sprintf("%d-bit %s pointer", f.Width, f.Relativity))
	}
	return uint64(v) & mask(f.Width), nil
}

// ReadInt reads a numeric or pointer field. Signed fields are sign
// extended; pointers are resolved to image offsets using window as the
// image and base+Offset as the pointer's own offset.
func (c *Codec) ReadInt(f layout.Field, window []byte, base int) (int64, error) {
	raw, err := readBits(f, window, base)
	if err != nil {
		return 0, err
	}
	switch f.Kind {
	case layout.KindInt:
		return signExtend(raw, f.Width), nil
	case layout.KindPointer:
		return c.resolvePointer(f, raw, base+f.Offset)
	case layout.KindString:
		return 0, errors.InvalidInput(errors.PhaseDecode, f.Name+" is a string field")
	}
	return int64(raw), nil
}

// WriteInt stores v into a numeric or pointer field. Numeric values
// outside the field's domain are clamped and reported; the returned
// warning is nil when v fit.
func (c *Codec) WriteInt(f layout.Field, window []byte, base int, v int64) (*Warning, error) {
	switch f.Kind {
	case layout.KindString:
		return nil, errors.InvalidInput(errors.PhaseEncode, f.Name+" is a string field")
	case layout.KindPointer:
		stored, err := c.storePointer(f, v, base+f.Offset)
		if err != nil {
			return nil, err
		}
		return nil, writeBits(f, window, base, stored)
	}

	var warn *Warning
	lo, hi := bounds(f)
	if v < lo || v > hi {
		stored := min(max(v, lo), hi)
		warn = &Warning{Field: f.Name, Value: v, Stored: stored}
		v = stored
	}
	if err := writeBits(f, window, base, uint64(v)&mask(f.Width)); err != nil {
		return nil, err
	}
	return warn, nil
}

// ReadString decodes a string field with the codec's text codec.
func (c *Codec) ReadString(f layout.Field, window []byte, base int) (string, error) {
	off := base + f.Offset
	if off < 0 || off+f.Length > len(window) {
		return "", errors.OutOfBounds(errors.PhaseDecode, []string{f.Name}, off+f.Length, len(window))
	}
	return c.Text.Decode(window[off : off+f.Length])
}

// WriteString encodes s into a string field.
func (c *Codec) WriteString(f layout.Field, window []byte, base int, s string) error {
	off := base + f.Offset
	if off < 0 || off+f.Length > len(window) {
		return errors.OutOfBounds(errors.PhaseEncode, []string{f.Name}, off+f.Length, len(window))
	}
	b, err := c.Text.Encode(s, f.Length)
	if err != nil {
		return err
	}
	copy(window[off:], b)
	return nil
}
