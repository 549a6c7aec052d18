package record

import (
	"github.com/wippyai/romkit/errors"
	"github.com/wippyai/romkit/internal/binary"
)

// Cursor walks a list of fixed-size entries ended by a terminator value.
type Cursor struct {
	buf  []byte
	err  error
	pos  int
	size int
	term uint64
	done bool
}

// NewCursor creates a cursor over buf for entries of size bytes. The
// terminator is compared against the entry read as a little-endian value.
func NewCursor(buf []byte, size int, term uint32) *Cursor {
	return &Cursor{buf: buf, size: size, term: uint64(term)}
}

// Next returns the next entry. It returns false at the terminator or when
// the buffer ends; Err reports which.
func (c *Cursor) Next() ([]byte, bool) {
	if c.done {
		return nil, false
	}
	if c.pos+c.size > len(c.buf) {
		c.done = true
		c.err = errors.New(errors.PhaseDecode, errors.KindFormat).Offset(c.pos).
			Detail("list ends without terminator").Build()
		return nil, false
	}
	entry := c.buf[c.pos : c.pos+c.size]
	if c.value(entry) == c.term {
		c.done = true
		return nil, false
	}
	c.pos += c.size
	return entry, true
}

func (c *Cursor) value(entry []byte) uint64 {
	var v uint64
	for i := len(entry) - 1; i >= 0; i-- {
		v = v<<8 | uint64(entry[i])
	}
	return v
}

func (c *Cursor) atTerminator() bool {
	return c.pos+c.size <= len(c.buf) && c.value(c.buf[c.pos:c.pos+c.size]) == c.term
}

// Position returns the offset of the next unread entry.
func (c *Cursor) Position() int {
	return c.pos
}

// Err returns the error that stopped the cursor, if any.
func (c *Cursor) Err() error {
	return c.err
}

// Collect reads the remaining entries.
func (c *Cursor) Collect() ([][]byte, error) {
	var out [][]byte
	for {
		e, ok := c.Next()
		if !ok {
			return out, c.Err()
		}
		out = append(out, e)
	}
}

// ListSize returns the encoded size of n entries plus the terminator,
// rounded up to align.
func ListSize(n, size, align int) int {
	return binary.AlignUp((n+1)*size, align)
}

// putTerminator writes term as a size-byte little-endian value.
func putTerminator(b []byte, size int, term uint32) {
	for i := 0; i < size; i++ {
		b[i] = byte(uint64(term) >> (8 * i))
	}
}
