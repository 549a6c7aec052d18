package layout

import (
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/google/jsonschema-go/jsonschema"
	"go.uber.org/zap"

	"github.com/wippyai/romkit/errors"
)

//go:embed schema.json
var schemaJSON []byte

var resolvedSchema = sync.OnceValues(func() (*jsonschema.Resolved, error) {
	var s jsonschema.Schema
	if err := json.Unmarshal(schemaJSON, &s); err != nil {
		return nil, err
	}
	return s.Resolve(nil)
})

// Schema returns the embedded catalog JSON Schema.
func Schema() []byte {
	return schemaJSON
}

// LoadFile reads and loads a catalog from fsys.
func LoadFile(fsys fs.FS, name string) (*Catalog, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLayout, errors.KindNotFound, err, "reading catalog "+name)
	}
	return Load(data)
}

// Load parses, validates and decodes a catalog document.
func Load(data []byte) (*Catalog, error) {
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, errors.Wrap(errors.PhaseLayout, errors.KindFormat, err, "catalog is not valid JSON")
	}

	rs, err := resolvedSchema()
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLayout, errors.KindInvalidData, err, "embedded schema")
	}
	if err := rs.Validate(instance); err != nil {
		return nil, errors.Wrap(errors.PhaseLayout, errors.KindInvalidData, err, "catalog does not match schema")
	}

	var cat Catalog
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:  numberHook,
		ErrorUnused: true,
		TagName:     "json",
		Result:      &cat,
	})
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLayout, errors.KindInvalidData, err, "decoder")
	}
	if err := dec.Decode(instance); err != nil {
		return nil, errors.Wrap(errors.PhaseLayout, errors.KindInvalidData, err, "decoding catalog")
	}

	cat.normalize()
	if err := cat.Validate(); err != nil {
		return nil, err
	}

	Logger().Info("layout catalog loaded", zap.Int("builds", len(cat.Builds)))
	return &cat, nil
}

var bytesType = reflect.TypeOf([]byte(nil))

// numberHook turns "0x"-prefixed strings into integers and hex strings
// into byte slices.
func numberHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String {
		return data, nil
	}
	s := reflect.ValueOf(data).String()

	switch to.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.ParseInt(s, 0, to.Bits())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.ParseUint(s, 0, to.Bits())
	}
	if to == bytesType {
		b, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
		if err != nil {
			return nil, fmt.Errorf("byte string %q: %w", s, err)
		}
		return b, nil
	}
	return data, nil
}

func (c *Catalog) normalize() {
	for i := range c.Builds {
		b := &c.Builds[i]
		if b.Executable.Alignment == 0 {
			b.Executable.Alignment = 4
		}
		r := &b.Records
		for _, t := range []*Table{r.Species, r.Moves, r.Items, r.Evolutions, r.Encounters, r.Machines} {
			if t != nil {
				normalizeFields(t.Fields)
				if t.Slots != nil {
					normalizeFields(t.Slots.Fields)
				}
			}
		}
		if r.Trainers != nil {
			normalizeFields(r.Trainers.Fields)
			normalizeFields(r.Trainers.Member)
		}
		if r.Learnsets != nil {
			normalizeFields(r.Learnsets.Fields)
			if r.Learnsets.Align == 0 {
				r.Learnsets.Align = 1
			}
		}
		if r.EggMoves != nil && r.EggMoves.Align == 0 {
			r.EggMoves.Align = 1
		}
		if r.Shops != nil && r.Shops.Progressive != nil {
			normalizeFields(r.Shops.Progressive.Fields)
		}
	}
}

func normalizeFields(fields []Field) {
	for i := range fields {
		f := &fields[i]
		switch {
		case f.Kind == KindFlag && f.Width == 0:
			f.Width = 1
		case f.Kind == KindPointer && f.Width == 0:
			f.Width = 32
		}
	}
}
