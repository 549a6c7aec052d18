package record

import (
	"github.com/wippyai/romkit/errors"
	"github.com/wippyai/romkit/layout"
)

// EncounterArea is one area's encounter rate and slots.
type EncounterArea struct {
	Slots []EncounterSlot
	Rate  int `rom:"rate"`
}

// EncounterSlot is one wild encounter.
type EncounterSlot struct {
	Level   int `rom:"level"`
	Species int `rom:"species"`
}

// DecodeEncounterArea reads record index of window.
func (c *Codec) DecodeEncounterArea(t *layout.Table, window []byte, index int) (*EncounterArea, error) {
	if t.Slots == nil {
		return nil, errors.InvalidInput(errors.PhaseDecode, "encounter table has no slots")
	}
	area := &EncounterArea{Slots: make([]EncounterSlot, t.Slots.Count)}
	desc := Descriptor{Fields: t.Fields, Base: t.Base, Stride: t.Stride}
	if err := c.DecodeRecord(desc, window, index, area); err != nil {
		return nil, err
	}
	slots := slotDescriptor(t.Slots)
	slots.Base += desc.Offset(index)
	for i := range area.Slots {
		if err := c.DecodeRecord(slots, window, i, &area.Slots[i]); err != nil {
			return nil, err
		}
	}
	return area, nil
}

// EncodeEncounterArea writes area into record index of window. The slot
// count is fixed by the layout.
func (c *Codec) EncodeEncounterArea(t *layout.Table, area *EncounterArea, window []byte, index int) ([]Warning, error) {
	if t.Slots == nil {
		return nil, errors.InvalidInput(errors.PhaseEncode, "encounter table has no slots")
	}
	if len(area.Slots) != t.Slots.Count {
		return nil, errors.New(errors.PhaseEncode, errors.KindInvalidInput).Path("encounters").
			Value(len(area.Slots)).Detail("area has %d slots, layout fixes %d", len(area.Slots), t.Slots.Count).Build()
	}
	desc := Descriptor{Fields: t.Fields, Base: t.Base, Stride: t.Stride}
	warnings, err := c.EncodeRecord(desc, area, window, index)
	if err != nil {
		return warnings, err
	}
	slots := slotDescriptor(t.Slots)
	slots.Base += desc.Offset(index)
	for i := range area.Slots {
		w, err := c.EncodeRecord(slots, &area.Slots[i], window, i)
		warnings = append(warnings, w...)
		if err != nil {
			return warnings, err
		}
	}
	return warnings, nil
}
