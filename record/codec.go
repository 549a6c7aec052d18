package record

import (
	"math"
	"reflect"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/romkit/errors"
	"github.com/wippyai/romkit/layout"
	"github.com/wippyai/romkit/textcodec"
)

// Codec reads and writes layout-described fields.
type Codec struct {
	Text    textcodec.Codec
	RAMBase uint32
}

// NewCodec creates a codec for an executable loaded at ramBase. A nil
// text codec selects UTF-16LE.
func NewCodec(ramBase uint32, text textcodec.Codec) *Codec {
	if text == nil {
		text = textcodec.NewUTF16()
	}
	return &Codec{RAMBase: ramBase, Text: text}
}

// Descriptor places a list of fields: record i starts at Base + i*Stride.
type Descriptor struct {
	Fields []layout.Field
	Base   int
	Stride int
}

// Offset returns the start of record index.
func (d Descriptor) Offset(index int) int {
	return d.Base + index*d.Stride
}

// Field returns the named field.
func (d Descriptor) Field(name string) (layout.Field, bool) {
	i := slices.IndexFunc(d.Fields, func(f layout.Field) bool { return f.Name == name })
	if i < 0 {
		return layout.Field{}, false
	}
	return d.Fields[i], true
}

// DecodeRecord reads record index of window into the struct dst points to.
// Struct fields bind to descriptor fields by their `rom` tag; descriptor
// fields without a bound struct field are skipped.
func (c *Codec) DecodeRecord(desc Descriptor, window []byte, index int, dst any) error {
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Struct {
		return errors.InvalidInput(errors.PhaseDecode, "destination must be a pointer to a struct")
	}
	v = v.Elem()
	bind := bindingsFor(v.Type())
	base := desc.Offset(index)

	for _, f := range desc.Fields {
		idx, ok := bind[f.Name]
		if !ok {
			continue
		}
		if err := c.decodeField(f, window, base, v.FieldByIndex(idx)); err != nil {
			return err
		}
	}
	return nil
}

// EncodeRecord writes the struct src points to into record index of
// window. It returns a warning for every clamped value.
func (c *Codec) EncodeRecord(desc Descriptor, src any, window []byte, index int) ([]Warning, error) {
	v := reflect.Indirect(reflect.ValueOf(src))
	if v.Kind() != reflect.Struct {
		return nil, errors.InvalidInput(errors.PhaseEncode, "source must be a struct")
	}
	bind := bindingsFor(v.Type())
	base := desc.Offset(index)

	var warnings []Warning
	for _, f := range desc.Fields {
		idx, ok := bind[f.Name]
		if !ok {
			continue
		}
		w, err := c.encodeField(f, window, base, v.FieldByIndex(idx))
		if err != nil {
			return warnings, err
		}
		if w != nil {
			Logger().Warn("value clamped",
				zap.String("field", w.Field),
				zap.Int64("value", w.Value),
				zap.Int64("stored", w.Stored),
				zap.Int("index", index))
			warnings = append(warnings, *w)
		}
	}
	return warnings, nil
}

func (c *Codec) decodeField(f layout.Field, window []byte, base int, fv reflect.Value) error {
	if f.Kind == layout.KindString {
		s, err := c.ReadString(f, window, base)
		if err != nil {
			return err
		}
		if fv.Kind() != reflect.String {
			return bindError(errors.PhaseDecode, f, fv)
		}
		fv.SetString(s)
		return nil
	}

	n, err := c.ReadInt(f, window, base)
	if err != nil {
		return err
	}
	switch fv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		fv.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		fv.SetUint(uint64(n))
	case reflect.Bool:
		fv.SetBool(n != 0)
	case reflect.String:
		if f.Kind != layout.KindEnum {
			return bindError(errors.PhaseDecode, f, fv)
		}
		if n >= int64(len(f.Values)) {
			return errors.New(errors.PhaseDecode, errors.KindInvalidData).Path(f.Name).Value(n).
				Detail("enum value %d has no name (%d values)", n, len(f.Values)).Build()
		}
		fv.SetString(f.Values[n])
	default:
		return bindError(errors.PhaseDecode, f, fv)
	}
	return nil
}

func (c *Codec) encodeField(f layout.Field, window []byte, base int, fv reflect.Value) (*Warning, error) {
	if f.Kind == layout.KindString {
		if fv.Kind() != reflect.String {
			return nil, bindError(errors.PhaseEncode, f, fv)
		}
		return nil, c.WriteString(f, window, base, fv.String())
	}

	var n int64
	switch fv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n = fv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n = int64(min(fv.Uint(), math.MaxInt64))
	case reflect.Bool:
		if fv.Bool() {
			n = 1
		}
	case reflect.String:
		if f.Kind != layout.KindEnum {
			return nil, bindError(errors.PhaseEncode, f, fv)
		}
		i := slices.Index(f.Values, fv.String())
		if i < 0 {
			return nil, errors.New(errors.PhaseEncode, errors.KindInvalidInput).Path(f.Name).
				Value(fv.String()).Detail("unknown enum value %q", fv.String()).Build()
		}
		n = int64(i)
	default:
		return nil, bindError(errors.PhaseEncode, f, fv)
	}
	return c.WriteInt(f, window, base, n)
}

func bindError(phase errors.Phase, f layout.Field, fv reflect.Value) error {
	return errors.New(phase, errors.KindInvalidInput).Path(f.Name).
		Detail("%s field cannot bind to Go %s", f.Kind, fv.Type()).Build()
}

var bindingCache sync.Map // reflect.Type -> map[string][]int

// bindingsFor maps `rom` tag names to struct field indexes.
func bindingsFor(t reflect.Type) map[string][]int {
	if cached, ok := bindingCache.Load(t); ok {
		return cached.(map[string][]int)
	}
	bind := make(map[string][]int)
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		if name := sf.Tag.Get("rom"); name != "" && name != "-" {
			bind[name] = sf.Index
		}
	}
	bindingCache.Store(t, bind)
	return bind
}

// Tags returns the `rom` tag names of a struct type, in field order.
func Tags(v any) []string {
	t := reflect.Indirect(reflect.ValueOf(v)).Type()
	var out []string
	for i := 0; i < t.NumField(); i++ {
		if name := t.Field(i).Tag.Get("rom"); name != "" && name != "-" {
			out = append(out, name)
		}
	}
	return out
}
