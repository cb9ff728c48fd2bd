// Package pdata implements the schema-driven binary codec for the fixed-layout
// per-player progression record. The wire format is not self-describing: the
// byte stream carries no type tags, and every field's size and position comes
// solely from the schema in this package's player_data.pdef. Decode must consume the
// entire input exactly; anything else is an error.
package pdata

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"unicode/utf8"

	"github.com/Alainx277/northstar-master-server/internal/pdef"
)

// ErrUnsupportedType is returned when a schema field has no encodable type.
// The pdef parser already restricts schema text to the supported grammar, so
// this only fires for a hand-built, buggy *pdef.Pdef.
var ErrUnsupportedType = errors.New("pdata: unsupported field type")

// ErrInvalidEnum is returned when an enum byte is out of range for its
// variant list.
var ErrInvalidEnum = errors.New("pdata: enum value out of range")

// ErrEOF is returned when the input ends before the schema is fully decoded.
var ErrEOF = errors.New("pdata: unexpected end of input")

// ErrInvalidString is returned when the live (non-padding) prefix of a fixed
// string is not valid UTF-8.
var ErrInvalidString = errors.New("pdata: invalid utf-8 in fixed string")

// TrailingBytesError is returned when the input has N bytes left over after
// every schema field has been decoded.
type TrailingBytesError struct{ N int }

func (e *TrailingBytesError) Error() string {
	return fmt.Sprintf("pdata: %d trailing byte(s) after decoding", e.N)
}

// EnumValue is a decoded enum: both its variant name and its wire index.
type EnumValue struct {
	Variant string
	Index   int
}

// Field is a named value inside a Struct or at the document root. Order is
// preserved (it is also the wire order).
type Field struct {
	Name  string
	Value Value
}

// Struct is an ordered set of named field values.
type Struct struct {
	Fields []Field
}

// Get returns the value of the named direct field, if present.
func (s *Struct) Get(name string) (Value, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Value is a decoded field of any schema type. Exactly one member is set,
// mirroring pdef.TypeInfo.
type Value struct {
	Int    *int32
	Byte   *uint8
	Bool   *bool
	Float  *float32
	Str    *string
	Enum   *EnumValue
	Array  []Value
	Struct *Struct
}

// GetPath walks a path of nested struct field names starting from a
// decoded root Struct and returns the raw Go value at the leaf (int32, uint8,
// bool, float32, string, or EnumValue). Array elements cannot be addressed.
func (s *Struct) GetPath(path ...string) (any, bool) {
	if len(path) == 0 {
		return nil, false
	}
	v, ok := s.Get(path[0])
	if !ok {
		return nil, false
	}
	return v.getPath(path[1:])
}

func (v Value) getPath(path []string) (any, bool) {
	if len(path) == 0 {
		switch {
		case v.Int != nil:
			return *v.Int, true
		case v.Byte != nil:
			return *v.Byte, true
		case v.Bool != nil:
			return *v.Bool, true
		case v.Float != nil:
			return *v.Float, true
		case v.Str != nil:
			return *v.Str, true
		case v.Enum != nil:
			return *v.Enum, true
		case v.Struct != nil:
			return v.Struct, true
		case v.Array != nil:
			return v.Array, true
		default:
			return nil, false
		}
	}
	if v.Struct != nil {
		return v.Struct.GetPath(path...)
	}
	return nil, false
}

// Pdata is a decoded player data record.
type Pdata struct {
	Root *Struct
}

// Get returns the raw value at a dotted field path, e.g. Get("xp") or
// Get("activePilotLoadout", "setup").
func (d *Pdata) Get(path ...string) (any, bool) {
	if d == nil || d.Root == nil {
		return nil, false
	}
	return d.Root.GetPath(path...)
}

type decoder struct {
	schema *pdef.Pdef
	buf    []byte
	pos    int
}

func (d *decoder) take(n int) ([]byte, error) {
	if d.pos+n > len(d.buf) {
		return nil, ErrEOF
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *decoder) decodeValue(t pdef.TypeInfo) (Value, error) {
	switch {
	case t.Int != nil:
		b, err := d.take(4)
		if err != nil {
			return Value{}, err
		}
		n := int32(binary.LittleEndian.Uint32(b))
		return Value{Int: &n}, nil
	case t.Byte != nil:
		b, err := d.take(1)
		if err != nil {
			return Value{}, err
		}
		n := b[0]
		return Value{Byte: &n}, nil
	case t.Bool != nil:
		b, err := d.take(1)
		if err != nil {
			return Value{}, err
		}
		v := b[0] != 0
		return Value{Bool: &v}, nil
	case t.Float != nil:
		b, err := d.take(4)
		if err != nil {
			return Value{}, err
		}
		f := math.Float32frombits(binary.LittleEndian.Uint32(b))
		return Value{Float: &f}, nil
	case t.String != nil:
		b, err := d.take(t.String.Length)
		if err != nil {
			return Value{}, err
		}
		live := b
		if i := bytes.IndexByte(b, 0); i >= 0 {
			live = b[:i]
		}
		if !utf8.Valid(live) {
			return Value{}, ErrInvalidString
		}
		s := string(live)
		return Value{Str: &s}, nil
	case t.Enum != nil:
		variants, ok := d.schema.Enum[t.Enum.Name]
		if !ok {
			return Value{}, ErrUnsupportedType
		}
		b, err := d.take(1)
		if err != nil {
			return Value{}, err
		}
		idx := int(b[0])
		if idx >= len(variants) {
			return Value{}, ErrInvalidEnum
		}
		return Value{Enum: &EnumValue{Variant: variants[idx], Index: idx}}, nil
	case t.Array != nil:
		out := make([]Value, t.Array.Length)
		for i := range out {
			v, err := d.decodeValue(t.Array.Type)
			if err != nil {
				return Value{}, err
			}
			out[i] = v
		}
		return Value{Array: out}, nil
	case t.MappedArray != nil:
		variants, ok := d.schema.Enum[t.MappedArray.Enum]
		if !ok {
			return Value{}, ErrUnsupportedType
		}
		out := make([]Value, len(variants))
		for i := range out {
			v, err := d.decodeValue(t.MappedArray.Type)
			if err != nil {
				return Value{}, err
			}
			out[i] = v
		}
		return Value{Array: out}, nil
	case t.Struct != nil:
		fields, ok := d.schema.Struct[t.Struct.Name]
		if !ok {
			return Value{}, ErrUnsupportedType
		}
		s, err := d.decodeStruct(fields)
		if err != nil {
			return Value{}, err
		}
		return Value{Struct: s}, nil
	default:
		return Value{}, ErrUnsupportedType
	}
}

func (d *decoder) decodeStruct(fields []pdef.Field) (*Struct, error) {
	out := &Struct{Fields: make([]Field, len(fields))}
	for i, f := range fields {
		v, err := d.decodeValue(f.Type)
		if err != nil {
			return nil, err
		}
		out.Fields[i] = Field{Name: f.Name, Value: v}
	}
	return out, nil
}

// Decode decodes buf against schema. It returns ErrEOF if buf ends early, and
// *TrailingBytesError if bytes remain after every root field is decoded.
func Decode(schema *pdef.Pdef, buf []byte) (*Pdata, error) {
	d := &decoder{schema: schema, buf: buf}
	root, err := d.decodeStruct(schema.Root)
	if err != nil {
		return nil, err
	}
	if d.pos != len(buf) {
		return nil, &TrailingBytesError{N: len(buf) - d.pos}
	}
	return &Pdata{Root: root}, nil
}

type encoder struct {
	schema *pdef.Pdef
	buf    []byte
}

func (e *encoder) encodeValue(t pdef.TypeInfo, v Value) error {
	switch {
	case t.Int != nil:
		if v.Int == nil {
			return ErrUnsupportedType
		}
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(*v.Int))
		e.buf = append(e.buf, b[:]...)
	case t.Byte != nil:
		if v.Byte == nil {
			return ErrUnsupportedType
		}
		e.buf = append(e.buf, *v.Byte)
	case t.Bool != nil:
		if v.Bool == nil {
			return ErrUnsupportedType
		}
		if *v.Bool {
			e.buf = append(e.buf, 1)
		} else {
			e.buf = append(e.buf, 0)
		}
	case t.Float != nil:
		if v.Float == nil {
			return ErrUnsupportedType
		}
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(*v.Float))
		e.buf = append(e.buf, b[:]...)
	case t.String != nil:
		if v.Str == nil {
			return ErrUnsupportedType
		}
		out := make([]byte, t.String.Length)
		copy(out, *v.Str)
		e.buf = append(e.buf, out...)
	case t.Enum != nil:
		if v.Enum == nil {
			return ErrUnsupportedType
		}
		e.buf = append(e.buf, byte(v.Enum.Index))
	case t.Array != nil:
		if len(v.Array) != t.Array.Length {
			return fmt.Errorf("%w: array length mismatch", ErrUnsupportedType)
		}
		for _, ev := range v.Array {
			if err := e.encodeValue(t.Array.Type, ev); err != nil {
				return err
			}
		}
	case t.MappedArray != nil:
		variants := e.schema.Enum[t.MappedArray.Enum]
		if len(v.Array) != len(variants) {
			return fmt.Errorf("%w: mapped array length mismatch", ErrUnsupportedType)
		}
		for _, ev := range v.Array {
			if err := e.encodeValue(t.MappedArray.Type, ev); err != nil {
				return err
			}
		}
	case t.Struct != nil:
		if v.Struct == nil {
			return ErrUnsupportedType
		}
		fields := e.schema.Struct[t.Struct.Name]
		if err := e.encodeStruct(fields, v.Struct); err != nil {
			return err
		}
	default:
		return ErrUnsupportedType
	}
	return nil
}

func (e *encoder) encodeStruct(fields []pdef.Field, s *Struct) error {
	if len(s.Fields) != len(fields) {
		return fmt.Errorf("%w: struct field count mismatch", ErrUnsupportedType)
	}
	for i, f := range fields {
		if s.Fields[i].Name != f.Name {
			return fmt.Errorf("%w: struct field order mismatch at %q", ErrUnsupportedType, f.Name)
		}
		if err := e.encodeValue(f.Type, s.Fields[i].Value); err != nil {
			return err
		}
	}
	return nil
}

// Encode is the inverse of Decode. It is not used in the request path (the
// service only ever decodes client-submitted blobs); it exists for the
// round-trip test property.
func Encode(schema *pdef.Pdef, d *Pdata) ([]byte, error) {
	e := &encoder{schema: schema}
	if err := e.encodeStruct(schema.Root, d.Root); err != nil {
		return nil, err
	}
	return e.buf, nil
}

var (
	schemaOnce sync.Once
	schema     *pdef.Pdef
	schemaErr  error
)

// Schema returns the process-wide, memoized player data schema, parsed once
// on first use.
func Schema() (*pdef.Pdef, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = pdef.ParsePdef(bytes.NewReader(schemaPdefSource))
	})
	return schema, schemaErr
}
