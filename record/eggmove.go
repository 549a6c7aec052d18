package record

import (
	"github.com/wippyai/romkit/errors"
	"github.com/wippyai/romkit/layout"
)

// EggMoves is the egg move group of one species.
type EggMoves struct {
	Species int
	Moves   []int
}

var eggEntry = layout.Field{Name: "eggMove", Kind: layout.KindUint, Width: 16}

// DecodeEggMoves reads every species group of the egg move file in file
// order. Groups without moves are dropped.
func (c *Codec) DecodeEggMoves(t *layout.EggMoveTable, file []byte) ([]EggMoves, error) {
	cur := NewCursor(file, 2, t.Terminator)
	var groups []EggMoves
	for {
		entry, ok := cur.Next()
		if !ok {
			break
		}
		v, err := c.ReadInt(eggEntry, entry, 0)
		if err != nil {
			return nil, err
		}
		switch {
		case v > int64(t.Marker):
			groups = append(groups, EggMoves{Species: int(v - int64(t.Marker))})
		case len(groups) == 0:
			return nil, errors.New(errors.PhaseDecode, errors.KindInvalidData).Path("eggMoves").
				Offset(cur.Position() - 2).Value(v).Detail("move before the first species marker").Build()
		default:
			g := &groups[len(groups)-1]
			g.Moves = append(g.Moves, int(v))
		}
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	out := groups[:0]
	for _, g := range groups {
		if len(g.Moves) > 0 {
			out = append(out, g)
		}
	}
	return out, nil
}

// EncodeEggMoves returns the new egg move file for groups: every group's
// marker and moves, the terminator, then zero padding to the table
// alignment. Moves above the marker would read back as species and are
// rejected rather than clamped.
func (c *Codec) EncodeEggMoves(t *layout.EggMoveTable, groups []EggMoves) ([]byte, error) {
	n := 0
	seen := make(map[int]bool, len(groups))
	for _, g := range groups {
		if len(g.Moves) == 0 {
			continue
		}
		if g.Species <= 0 || uint32(g.Species) >= t.Terminator-t.Marker {
			return nil, errors.New(errors.PhaseEncode, errors.KindInvalidInput).Path("eggMoves").
				Value(g.Species).Detail("species %d has no marker below the terminator", g.Species).Build()
		}
		if seen[g.Species] {
			return nil, errors.New(errors.PhaseEncode, errors.KindInvalidInput).Path("eggMoves").
				Value(g.Species).Detail("species %d appears twice", g.Species).Build()
		}
		seen[g.Species] = true
		for _, m := range g.Moves {
			if m < 0 || m > int(t.Marker) {
				return nil, errors.New(errors.PhaseEncode, errors.KindInvalidInput).Path("eggMoves").
					Value(m).Detail("move %d of species %d is outside 0..%d", m, g.Species, t.Marker).Build()
			}
		}
		n += 1 + len(g.Moves)
	}

	out := make([]byte, ListSize(n, 2, t.Align))
	i := 0
	put := func(v int) error {
		_, err := c.WriteInt(eggEntry, out, 2*i, int64(v))
		i++
		return err
	}
	for _, g := range groups {
		if len(g.Moves) == 0 {
			continue
		}
		if err := put(int(t.Marker) + g.Species); err != nil {
			return nil, err
		}
		for _, m := range g.Moves {
			if err := put(m); err != nil {
				return nil, err
			}
		}
	}
	putTerminator(out[i*2:], 2, t.Terminator)
	return out, nil
}
