package record

import (
	"github.com/wippyai/romkit/errors"
	"github.com/wippyai/romkit/layout"
)

// Learnset is the level-up move list of one species.
type Learnset struct {
	Moves []LearnsetMove
}

// LearnsetMove is one level-up move.
type LearnsetMove struct {
	Move  int `rom:"move"`
	Level int `rom:"level"`
}

// DecodeLearnset reads a terminator-ended learnset file.
func (c *Codec) DecodeLearnset(t *layout.LearnsetTable, file []byte) (*Learnset, error) {
	cur := NewCursor(file, t.EntrySize, t.Terminator)
	desc := Descriptor{Fields: t.Fields}
	ls := &Learnset{}
	for {
		entry, ok := cur.Next()
		if !ok {
			break
		}
		var m LearnsetMove
		if err := c.DecodeRecord(desc, entry, 0, &m); err != nil {
			return nil, err
		}
		ls.Moves = append(ls.Moves, m)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return ls, nil
}

// EncodeLearnset returns the new file for ls: entries, terminator, then
// zero padding up to the table alignment.
func (c *Codec) EncodeLearnset(t *layout.LearnsetTable, ls *Learnset) ([]byte, []Warning, error) {
	out := make([]byte, ListSize(len(ls.Moves), t.EntrySize, t.Align))
	desc := Descriptor{Fields: t.Fields, Stride: t.EntrySize}
	var warnings []Warning
	for i := range ls.Moves {
		w, err := c.EncodeRecord(desc, &ls.Moves[i], out, i)
		warnings = append(warnings, w...)
		if err != nil {
			return nil, warnings, err
		}
		if NewCursor(out[i*t.EntrySize:], t.EntrySize, t.Terminator).atTerminator() {
			return nil, warnings, errors.New(errors.PhaseEncode, errors.KindInvalidInput).Path("learnset").
				Value(ls.Moves[i]).Detail("entry %d encodes as the list terminator", i).Build()
		}
	}
	putTerminator(out[len(ls.Moves)*t.EntrySize:], t.EntrySize, t.Terminator)
	return out, warnings, nil
}
