package patch

import (
	"fmt"

	"github.com/wippyai/romkit/errors"
	"github.com/wippyai/romkit/internal/binary"
	"github.com/wippyai/romkit/layout"
)

// Branch displacement limits, in bytes from the pipeline PC.
const (
	armBranchRange   = 32 << 20
	thumbBLRange     = 4 << 20
	thumbBranchRange = 2 << 10
	thumbCondRange   = 256
)

// BranchSize returns the instruction size of kind in bytes.
func BranchSize(kind layout.BranchKind) int {
	switch kind {
	case layout.ThumbBranch, layout.ThumbCondition:
		return 2
	}
	return 4
}

// Target decodes the branch instruction insn located at site and returns
// its destination.
func Target(kind layout.BranchKind, insn []byte, site int) (int, error) {
	if len(insn) < BranchSize(kind) {
		return 0, branchError(kind, site, "instruction truncated")
	}
	switch kind {
	case layout.ARMBranch, layout.ARMBranchLink:
		w := binary.U32(insn, 0)
		if w>>25&7 != 5 || w>>28 == 0xF {
			return 0, branchError(kind, site, fmt.Sprintf("%08x is not an ARM B/BL", w))
		}
		if link := w>>24&1 == 1; link != (kind == layout.ARMBranchLink) {
			return 0, branchError(kind, site, fmt.Sprintf("%08x has the wrong link bit", w))
		}
		return site + 8 + int(signExtend(w&0xFFFFFF, 24))<<2, nil

	case layout.ThumbBL, layout.ThumbBLX:
		hi, lo := binary.U16(insn, 0), binary.U16(insn, 2)
		second := uint16(0xF800)
		if kind == layout.ThumbBLX {
			second = 0xE800
		}
		if hi&0xF800 != 0xF000 || lo&0xF800 != second {
			return 0, branchError(kind, site, fmt.Sprintf("%04x %04x is not a Thumb %s pair", hi, lo, kind))
		}
		off := int(signExtend(uint32(hi&0x7FF)<<12|uint32(lo&0x7FF)<<1, 23))
		if kind == layout.ThumbBLX {
			return binary.AlignUp(site+4, 4) + off, nil
		}
		return site + 4 + off, nil

	case layout.ThumbBranch:
		h := binary.U16(insn, 0)
		if h&0xF800 != 0xE000 {
			return 0, branchError(kind, site, fmt.Sprintf("%04x is not a Thumb B", h))
		}
		return site + 4 + int(signExtend(uint32(h&0x7FF)<<1, 12)), nil

	case layout.ThumbCondition:
		h := binary.U16(insn, 0)
		if h&0xF000 != 0xD000 || h>>8&0xF >= 0xE {
			return 0, branchError(kind, site, fmt.Sprintf("%04x is not a Thumb conditional B", h))
		}
		return site + 4 + int(signExtend(uint32(h&0xFF)<<1, 9)), nil
	}
	return 0, branchError(kind, site, "unknown branch kind")
}

// Retarget rewrites insn, located at site, to branch to target. The
// condition and link bits are kept. A displacement out of range for the
// encoding returns an Overflow error and leaves insn unchanged.
func Retarget(kind layout.BranchKind, insn []byte, site, target int) error {
	if _, err := Target(kind, insn, site); err != nil {
		return err
	}
	switch kind {
	case layout.ARMBranch, layout.ARMBranchLink:
		d := target - (site + 8)
		if err := checkDisplacement(kind, site, d, armBranchRange, 4); err != nil {
			return err
		}
		w := binary.U32(insn, 0)
		binary.PutU32(insn, 0, w&0xFF000000|uint32(d>>2)&0xFFFFFF)

	case layout.ThumbBL, layout.ThumbBLX:
		pc := site + 4
		align := 2
		if kind == layout.ThumbBLX {
			pc = binary.AlignUp(pc, 4)
			align = 4
		}
		d := target - pc
		if err := checkDisplacement(kind, site, d, thumbBLRange, align); err != nil {
			return err
		}
		hi, lo := binary.U16(insn, 0), binary.U16(insn, 2)
		binary.PutU16(insn, 0, hi&0xF800|uint16(d>>12)&0x7FF)
		binary.PutU16(insn, 2, lo&0xF800|uint16(d>>1)&0x7FF)

	case layout.ThumbBranch:
		d := target - (site + 4)
		if err := checkDisplacement(kind, site, d, thumbBranchRange, 2); err != nil {
			return err
		}
		h := binary.U16(insn, 0)
		binary.PutU16(insn, 0, h&0xF800|uint16(d>>1)&0x7FF)

	case layout.ThumbCondition:
		d := target - (site + 4)
		if err := checkDisplacement(kind, site, d, thumbCondRange, 2); err != nil {
			return err
		}
		h := binary.U16(insn, 0)
		binary.PutU16(insn, 0, h&0xFF00|uint16(d>>1)&0xFF)
	}
	return nil
}

func checkDisplacement(kind layout.BranchKind, site, d, limit, align int) error {
	if d < -limit || d >= limit {
		return errors.New(errors.PhasePatch, errors.KindOverflow).Path(string(kind)).Offset(site).
			Value(d).Detail("displacement %d outside ±%d", d, limit).Build()
	}
	if d%align != 0 {
		return branchError(kind, site, fmt.Sprintf("displacement %d is not %d-byte aligned", d, align))
	}
	return nil
}

func branchError(kind layout.BranchKind, site int, detail string) error {
	return errors.New(errors.PhasePatch, errors.KindInvalidData).Path(string(kind)).Offset(site).
		Detail("%s", detail).Build()
}

func signExtend(v uint32, width int) int32 {
	shift := 32 - width
	return int32(v<<shift) >> shift
}
