package record

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/romkit/arena"
	"github.com/wippyai/romkit/errors"
	"github.com/wippyai/romkit/layout"
)

// Shop is one shop's stock. Badges is only stored for the progressive
// shop.
type Shop struct {
	Name        string
	Items       []ShopItem
	Progressive bool
}

// ShopItem is one stocked item.
type ShopItem struct {
	Item   int `rom:"item"`
	Badges int `rom:"badges"`
}

const pointerWidth = 32

func pointerField(name string, rel layout.Relativity) layout.Field {
	return layout.Field{Name: name, Kind: layout.KindPointer, Relativity: rel, Width: pointerWidth}
}

func sizeField() layout.Field {
	return layout.Field{Name: "progressiveShop.size", Kind: layout.KindUint, Width: 8}
}

func itemField(size int) layout.Field {
	return layout.Field{Name: "item", Kind: layout.KindUint, Width: 8 * size}
}

// ShopCount returns the number of shops the table describes.
func ShopCount(t *layout.ShopTable) int {
	n := 0
	if t.Progressive != nil {
		n++
	}
	if t.Special != nil {
		n += t.Special.Count
	}
	return n
}

// DecodeShops reads the progressive shop, if any, followed by the special
// shops.
func (c *Codec) DecodeShops(t *layout.ShopTable, img *arena.Image) ([]Shop, error) {
	var shops []Shop
	if p := t.Progressive; p != nil {
		off, n, err := c.progressiveExtent(p, img)
		if err != nil {
			return nil, err
		}
		shop := Shop{Name: "progressive", Progressive: true, Items: make([]ShopItem, n)}
		desc := Descriptor{Fields: p.Fields, Base: off, Stride: p.Stride}
		for i := range shop.Items {
			if err := c.DecodeRecord(desc, img.Data, i, &shop.Items[i]); err != nil {
				return nil, err
			}
		}
		shops = append(shops, shop)
	}
	if s := t.Special; s != nil {
		table, err := c.ReadInt(pointerField("specialShops", s.Relativity), img.Data, s.Pointer)
		if err != nil {
			return nil, err
		}
		for i := 0; i < s.Count; i++ {
			items, _, err := c.specialList(s, img, int(table), i)
			if err != nil {
				return nil, err
			}
			shops = append(shops, Shop{Name: specialName(s, i), Items: items})
		}
	}
	return shops, nil
}

// EncodeShops writes shops back in DecodeShops order. Lists whose length
// changes are released and reallocated through the image's arena and
// their pointers rewritten. The image is left unchanged on error.
func (c *Codec) EncodeShops(t *layout.ShopTable, img *arena.Image, shops []Shop) ([]Warning, error) {
	if len(shops) != ShopCount(t) {
		return nil, errors.New(errors.PhaseEncode, errors.KindInvalidInput).Path("shops").
			Detail("%d shops given, build has %d", len(shops), ShopCount(t)).Build()
	}
	snap := img.Snapshot()
	warnings, err := c.encodeShops(t, img, shops)
	if err != nil {
		img.Restore(snap)
		return nil, err
	}
	return warnings, nil
}

func (c *Codec) encodeShops(t *layout.ShopTable, img *arena.Image, shops []Shop) ([]Warning, error) {
	var warnings []Warning
	if p := t.Progressive; p != nil {
		w, err := c.encodeProgressive(p, img, shops[0].Items)
		warnings = append(warnings, w...)
		if err != nil {
			return warnings, err
		}
		shops = shops[1:]
	}
	if s := t.Special; s != nil {
		w, err := c.encodeSpecial(s, img, shops)
		warnings = append(warnings, w...)
		if err != nil {
			return warnings, err
		}
	}
	return warnings, nil
}

func (c *Codec) progressiveExtent(p *layout.ProgressiveShop, img *arena.Image) (off, n int, err error) {
	target, err := c.ReadInt(pointerField("progressiveShop", p.Relativity), img.Data, p.Pointer)
	if err != nil {
		return 0, 0, err
	}
	size, err := c.ReadInt(sizeField(), img.Data, p.Size)
	if err != nil {
		return 0, 0, err
	}
	if end := int(target) + int(size)*p.Stride; target < 0 || end > img.Len() {
		return 0, 0, errors.OutOfBounds(errors.PhaseDecode, []string{"progressiveShop"}, end, img.Len())
	}
	return int(target), int(size), nil
}

func (c *Codec) encodeProgressive(p *layout.ProgressiveShop, img *arena.Image, items []ShopItem) ([]Warning, error) {
	off, n, err := c.progressiveExtent(p, img)
	if err != nil {
		return nil, err
	}
	if _, hi := bounds(sizeField()); int64(len(items)) > hi {
		return nil, errors.Overflow(errors.PhaseEncode, []string{"progressiveShop", "size"}, len(items), "size byte")
	}

	if len(items) != n {
		if err := img.Arena.Release(off, n*p.Stride); err != nil {
			return nil, err
		}
		if len(items) > 0 {
			if off, err = img.Arena.FindAndUnfree(len(items) * p.Stride); err != nil {
				return nil, err
			}
		}
		if _, err := c.WriteInt(pointerField("progressiveShop", p.Relativity), img.Data, p.Pointer, int64(off)); err != nil {
			return nil, err
		}
		if _, err := c.WriteInt(sizeField(), img.Data, p.Size, int64(len(items))); err != nil {
			return nil, err
		}
		Logger().Debug("progressive shop relocated",
			zap.Int("offset", off),
			zap.Int("entries", len(items)),
			zap.Int("previous", n))
	}

	desc := Descriptor{Fields: p.Fields, Base: off, Stride: p.Stride}
	var warnings []Warning
	for i := range items {
		w, err := c.EncodeRecord(desc, &items[i], img.Data, i)
		warnings = append(warnings, w...)
		if err != nil {
			return warnings, err
		}
	}
	return warnings, nil
}

// specialList reads list i of the special shop pointer table and returns
// its items and offset.
func (c *Codec) specialList(s *layout.SpecialShops, img *arena.Image, table, i int) ([]ShopItem, int, error) {
	site := table + i*pointerWidth/8
	off, err := c.ReadInt(pointerField(specialName(s, i), s.Relativity), img.Data, site)
	if err != nil {
		return nil, 0, err
	}
	if off < 0 || int(off) >= img.Len() {
		return nil, 0, errors.OutOfBounds(errors.PhaseDecode, []string{specialName(s, i)}, int(off), img.Len())
	}
	cur := NewCursor(img.Data[off:], s.EntrySize, s.Terminator)
	var items []ShopItem
	for {
		entry, ok := cur.Next()
		if !ok {
			break
		}
		v, err := c.ReadInt(itemField(s.EntrySize), entry, 0)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, ShopItem{Item: int(v)})
	}
	if err := cur.Err(); err != nil {
		return nil, 0, err
	}
	return items, int(off), nil
}

func (c *Codec) encodeSpecial(s *layout.SpecialShops, img *arena.Image, shops []Shop) ([]Warning, error) {
	tableOff, err := c.ReadInt(pointerField("specialShops", s.Relativity), img.Data, s.Pointer)
	if err != nil {
		return nil, err
	}
	table := int(tableOff)

	offsets := make([]int, s.Count)
	moved := make([]bool, s.Count)
	for i := range s.Count {
		items, off, err := c.specialList(s, img, table, i)
		if err != nil {
			return nil, err
		}
		offsets[i] = off
		if len(items) == len(shops[i].Items) {
			continue
		}
		if err := img.Arena.Release(off, (len(items)+1)*s.EntrySize); err != nil {
			return nil, err
		}
		moved[i] = true
	}

	var warnings []Warning
	for i, shop := range shops {
		size := (len(shop.Items) + 1) * s.EntrySize
		if moved[i] {
			off, err := img.Arena.FindAndUnfree(size)
			if err != nil {
				return warnings, err
			}
			offsets[i] = off
			site := table + i*pointerWidth/8
			if _, err := c.WriteInt(pointerField(shop.Name, s.Relativity), img.Data, site, int64(off)); err != nil {
				return warnings, err
			}
			Logger().Debug("special shop relocated",
				zap.String("shop", specialName(s, i)),
				zap.Int("offset", off),
				zap.Int("entries", len(shop.Items)))
		}
		for j, it := range shop.Items {
			w, err := c.WriteInt(itemField(s.EntrySize), img.Data, offsets[i]+j*s.EntrySize, int64(it.Item))
			if err != nil {
				return warnings, err
			}
			stored := int64(it.Item)
			if w != nil {
				warnings = append(warnings, *w)
				stored = w.Stored
			}
			if stored == int64(s.Terminator) {
				return warnings, errors.New(errors.PhaseEncode, errors.KindInvalidInput).Path(shop.Name).
					Value(it.Item).Detail("item %d is stored as the list terminator", j).Build()
			}
		}
		putTerminator(img.Data[offsets[i]+len(shop.Items)*s.EntrySize:], s.EntrySize, s.Terminator)
	}
	return warnings, nil
}

func specialName(s *layout.SpecialShops, i int) string {
	if i < len(s.Names) {
		return s.Names[i]
	}
	return fmt.Sprintf("special shop %d", i)
}
