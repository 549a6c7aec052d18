package record

import (
	"github.com/wippyai/romkit/errors"
	"github.com/wippyai/romkit/layout"
)

// Team flags stored in the trainer header.
const (
	TeamCustomMoves = 0x01
	TeamHeldItems   = 0x02
)

// MoveSlots is the number of moves a team member with custom moves has.
const MoveSlots = 4

// Trainer is a trainer header together with its team.
type Trainer struct {
	Pokemon     []TrainerPokemon
	Class       int
	BattleStyle int
	HeldItems   bool
	CustomMoves bool
}

// TrainerPokemon is one team member. HeldItem is used when the trainer
// has held items; Moves when it has custom moves.
type TrainerPokemon struct {
	Difficulty int `rom:"difficulty"`
	Ability    int `rom:"ability"`
	Level      int `rom:"level"`
	Species    int `rom:"species"`
	Forme      int `rom:"forme"`
	HeldItem   int
	Moves      [MoveSlots]int
}

// IVs returns the individual values the difficulty byte stands for.
func (p *TrainerPokemon) IVs() int {
	return p.Difficulty * 31 / 255
}

// SetIVs stores ivs as a difficulty byte. The extra 1 makes IVs return
// ivs again after integer division.
func (p *TrainerPokemon) SetIVs(ivs int) {
	p.Difficulty = min(255, 1+max(ivs, 0)*255/31)
}

// heldItemField and moveField describe the optional member suffix; its
// presence depends on the header flags, so it is not part of the layout.
func heldItemField() layout.Field {
	return layout.Field{Name: "heldItem", Kind: layout.KindUint, Width: 16}
}

func moveField(slot int) layout.Field {
	return layout.Field{Name: "moves", Kind: layout.KindUint, Offset: 2 * slot, Width: 16}
}

type trainerHeader struct {
	Flags       int `rom:"flags"`
	Class       int `rom:"class"`
	Count       int `rom:"count"`
	BattleStyle int `rom:"battleStyle"`
}

// MemberStride returns the size of one team member for the given flags.
func MemberStride(t *layout.TrainerTable, flags int) int {
	n := t.MemberSize + t.MemberPadding
	if flags&TeamHeldItems != 0 {
		n += 2
	}
	if flags&TeamCustomMoves != 0 {
		n += 2 * MoveSlots
	}
	return n
}

// DecodeTrainer reads a trainer from its header file and team file.
func (c *Codec) DecodeTrainer(t *layout.TrainerTable, header, team []byte) (*Trainer, error) {
	var h trainerHeader
	if err := c.DecodeRecord(Descriptor{Fields: t.Fields}, header, 0, &h); err != nil {
		return nil, err
	}
	tr := &Trainer{
		Class:       h.Class,
		BattleStyle: h.BattleStyle,
		HeldItems:   h.Flags&TeamHeldItems != 0,
		CustomMoves: h.Flags&TeamCustomMoves != 0,
		Pokemon:     make([]TrainerPokemon, h.Count),
	}
	stride := MemberStride(t, h.Flags)
	if need := h.Count * stride; need > len(team) {
		return nil, errors.New(errors.PhaseDecode, errors.KindFormat).Path("team").
			Detail("%d members of %d bytes need %d bytes, file has %d", h.Count, stride, need, len(team)).Build()
	}

	member := Descriptor{Fields: t.Member, Stride: stride}
	for i := range tr.Pokemon {
		p := &tr.Pokemon[i]
		if err := c.DecodeRecord(member, team, i, p); err != nil {
			return nil, err
		}
		off := member.Offset(i) + t.MemberSize
		if tr.HeldItems {
			v, err := c.ReadInt(heldItemField(), team, off)
			if err != nil {
				return nil, err
			}
			p.HeldItem = int(v)
			off += 2
		}
		if tr.CustomMoves {
			for m := range p.Moves {
				v, err := c.ReadInt(moveField(m), team, off)
				if err != nil {
					return nil, err
				}
				p.Moves[m] = int(v)
			}
		}
	}
	return tr, nil
}

// EncodeTrainer writes the trainer header into header in place and
// returns the new team file. Bits of the flags byte other than the team
// flags are kept. old is the current team file; when the member stride is
// unchanged its bytes seed the new file so padding survives.
func (c *Codec) EncodeTrainer(t *layout.TrainerTable, tr *Trainer, header, old []byte) ([]byte, []Warning, error) {
	var h trainerHeader
	if err := c.DecodeRecord(Descriptor{Fields: t.Fields}, header, 0, &h); err != nil {
		return nil, nil, err
	}
	oldStride := MemberStride(t, h.Flags)

	if countField, ok := (Descriptor{Fields: t.Fields}).Field("count"); ok {
		if _, hi := bounds(countField); int64(len(tr.Pokemon)) > hi {
			return nil, nil, errors.Overflow(errors.PhaseEncode, []string{"trainer", "count"},
				len(tr.Pokemon), "team size field")
		}
	}

	h.Flags &^= TeamHeldItems | TeamCustomMoves
	if tr.HeldItems {
		h.Flags |= TeamHeldItems
	}
	if tr.CustomMoves {
		h.Flags |= TeamCustomMoves
	}
	h.Class = tr.Class
	h.BattleStyle = tr.BattleStyle
	h.Count = len(tr.Pokemon)

	warnings, err := c.EncodeRecord(Descriptor{Fields: t.Fields}, &h, header, 0)
	if err != nil {
		return nil, warnings, err
	}

	stride := MemberStride(t, h.Flags)
	team := make([]byte, len(tr.Pokemon)*stride)
	if stride == oldStride {
		copy(team, old)
	}
	member := Descriptor{Fields: t.Member, Stride: stride}
	for i := range tr.Pokemon {
		p := &tr.Pokemon[i]
		w, err := c.EncodeRecord(member, p, team, i)
		warnings = append(warnings, w...)
		if err != nil {
			return nil, warnings, err
		}
		off := member.Offset(i) + t.MemberSize
		if tr.HeldItems {
			w, err := c.WriteInt(heldItemField(), team, off, int64(p.HeldItem))
			if err != nil {
				return nil, warnings, err
			}
			if w != nil {
				warnings = append(warnings, *w)
			}
			off += 2
		}
		if tr.CustomMoves {
			for m, mv := range p.Moves {
				w, err := c.WriteInt(moveField(m), team, off, int64(mv))
				if err != nil {
					return nil, warnings, err
				}
				if w != nil {
					warnings = append(warnings, *w)
				}
			}
		}
	}
	return team, warnings, nil
}
