package pdata

import (
	"bytes"
	"encoding/json"
)

// MarshalJSON renders v generically: structs become JSON objects keyed by
// field name, arrays become JSON arrays, enums render as their variant name,
// and scalars render as their natural JSON type.
func (v Value) MarshalJSON() ([]byte, error) {
	switch {
	case v.Int != nil:
		return json.Marshal(*v.Int)
	case v.Byte != nil:
		return json.Marshal(*v.Byte)
	case v.Bool != nil:
		return json.Marshal(*v.Bool)
	case v.Float != nil:
		return json.Marshal(*v.Float)
	case v.Str != nil:
		return json.Marshal(*v.Str)
	case v.Enum != nil:
		return json.Marshal(v.Enum.Variant)
	case v.Array != nil:
		return json.Marshal(v.Array)
	case v.Struct != nil:
		return json.Marshal(v.Struct)
	default:
		return []byte("null"), nil
	}
}

// MarshalJSON renders s as a JSON object, preserving field order.
func (s *Struct) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range s.Fields {
		if i != 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		val, err := f.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalJSON renders the full decoded record as a JSON object.
func (d *Pdata) MarshalJSON() ([]byte, error) {
	return d.MarshalJSONFilter(nil)
}

// MarshalJSONFilter renders only the root fields for which filter returns
// true (or every field, if filter is nil). This backs the distinct
// /player/pdata, /player/stats, and /player/loadout views, which all decode
// the same stored blob but project different subsets of it.
func (d *Pdata) MarshalJSONFilter(filter func(path ...string) bool) ([]byte, error) {
	if d == nil || d.Root == nil {
		return []byte("{}"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	for _, f := range d.Root.Fields {
		if filter != nil && !filter(f.Name) {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		name, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		val, err := f.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
