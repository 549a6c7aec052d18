package narc

import (
	"bytes"

	"github.com/wippyai/romkit/errors"
)

const (
	magicHeader = "NARC"
	magicFAT    = "BTAF"
	magicFNT    = "BTNF"
	magicImage  = "GMIF"

	bom          = 0xFFFE
	version      = 0x0100
	headerSize   = 0x10
	sectionCount = 3
	sectionHead  = 8

	// Alignment is the boundary every file is padded to inside GMIF.
	Alignment = 4
	// Fill is the padding byte written between files.
	Fill = 0xFF
)

// defaultNames is a name table with a single root directory and no names.
var defaultNames = []byte{0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00}

// Archive is an ordered sequence of opaque files plus the archive's
// file-name table. File count and order are fixed for a load/save cycle;
// inserting or removing files is the caller's job.
type Archive struct {
	Files [][]byte
	// Names is the raw BTNF payload. Nil encodes a minimal unnamed table.
	Names []byte
}

// New creates an archive holding the given files.
func New(files ...[]byte) *Archive {
	return &Archive{Files: files}
}

// Len returns the number of files.
func (a *Archive) Len() int {
	return len(a.Files)
}

// File returns file i.
func (a *Archive) File(i int) ([]byte, error) {
	if i < 0 || i >= len(a.Files) {
		return nil, errors.OutOfBounds(errors.PhaseDecode, []string{"narc"}, i, len(a.Files))
	}
	return a.Files[i], nil
}

// SetFile replaces file i. The archive keeps data; callers must not
// modify it afterwards.
func (a *Archive) SetFile(i int, data []byte) error {
	if i < 0 || i >= len(a.Files) {
		return errors.OutOfBounds(errors.PhaseEncode, []string{"narc"}, i, len(a.Files))
	}
	a.Files[i] = data
	return nil
}

// Clone returns a deep copy.
func (a *Archive) Clone() *Archive {
	c := &Archive{Files: make([][]byte, len(a.Files))}
	for i, f := range a.Files {
		c.Files[i] = bytes.Clone(f)
	}
	if a.Names != nil {
		c.Names = bytes.Clone(a.Names)
	}
	return c
}

// Equal reports whether both archives hold the same files in the same order.
// Name tables are not compared.
func (a *Archive) Equal(b *Archive) bool {
	if len(a.Files) != len(b.Files) {
		return false
	}
	for i := range a.Files {
		if !bytes.Equal(a.Files[i], b.Files[i]) {
			return false
		}
	}
	return true
}
