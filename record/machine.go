package record

import (
	"github.com/wippyai/romkit/errors"
	"github.com/wippyai/romkit/layout"
)

// Compatibility lists the machines one species can learn. Machines[i] is
// the bit of machine i; TMs come first, then HMs.
type Compatibility struct {
	Machines []bool
}

func compatibilityField(t *layout.CompatibilityTable, i int) layout.Field {
	return layout.Field{Name: "compatibility", Kind: layout.KindFlag, Offset: t.Offset + i/8, Bit: i % 8, Width: 1}
}

// DecodeCompatibility reads the compatibility bits of one species file.
func (c *Codec) DecodeCompatibility(t *layout.CompatibilityTable, file []byte) (*Compatibility, error) {
	cp := &Compatibility{Machines: make([]bool, t.Count)}
	for i := range cp.Machines {
		v, err := c.ReadInt(compatibilityField(t, i), file, 0)
		if err != nil {
			return nil, err
		}
		cp.Machines[i] = v != 0
	}
	return cp, nil
}

// EncodeCompatibility writes cp into file. Bits past Count and the rest
// of the file are left alone.
func (c *Codec) EncodeCompatibility(t *layout.CompatibilityTable, cp *Compatibility, file []byte) error {
	if len(cp.Machines) != t.Count {
		return errors.New(errors.PhaseEncode, errors.KindInvalidInput).Path("compatibility").
			Value(len(cp.Machines)).Detail("%d machine bits, layout fixes %d", len(cp.Machines), t.Count).Build()
	}
	for i, ok := range cp.Machines {
		var v int64
		if ok {
			v = 1
		}
		if _, err := c.WriteInt(compatibilityField(t, i), file, 0, v); err != nil {
			return err
		}
	}
	return nil
}
