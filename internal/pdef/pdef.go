// Package pdef parses the declarative schema used to describe the fixed-layout
// binary player data record (see internal/pdata). It generalizes the schema
// language used by Titanfall 2 player data tooling: an ordered list of named
// root fields, plus enum and struct definitions, each field being a primitive,
// a fixed-size array, a fixed-size string, an enum reference, or a struct
// reference. Definitions must not be recursive.
package pdef

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// Pdef describes the shape of a binary record.
type Pdef struct {
	Root   []Field
	Enum   map[string][]string
	Struct map[string][]Field
}

// Field is a single named entry, either at the root or inside a struct.
type Field struct {
	Name string
	Type TypeInfo
}

// TypeInfo describes a field's type. Exactly one member is set.
type TypeInfo struct {
	Int         *TypeInfoPrimitive
	Byte        *TypeInfoPrimitive
	Bool        *TypeInfoPrimitive
	Float       *TypeInfoPrimitive
	String      *TypeInfoString
	Array       *TypeInfoArray
	MappedArray *TypeInfoMappedArray
	Enum        *TypeInfoEnum
	Struct      *TypeInfoStruct
}

// TypeInfoPrimitive marks an unconfigurable scalar type.
type TypeInfoPrimitive struct{}

// TypeInfoString is a fixed-length, null-padded UTF-8 string.
type TypeInfoString struct{ Length int }

// TypeInfoArray is a fixed-length array of a fixed length given as a literal.
type TypeInfoArray struct {
	Type   TypeInfo
	Length int
}

// TypeInfoMappedArray is a fixed-length array whose length is the number of
// variants of a named enum.
type TypeInfoMappedArray struct {
	Type TypeInfo
	Enum string
}

// TypeInfoEnum refers to a defined enum by name.
type TypeInfoEnum struct{ Name string }

// TypeInfoStruct refers to a defined struct by name.
type TypeInfoStruct struct{ Name string }

// TypeSize returns the exact encoded size of t in bytes. It panics if t
// references an undefined enum or struct; ParsePdef never produces such a
// Pdef, so this only indicates a hand-built Pdef value with a bug.
func (p Pdef) TypeSize(t TypeInfo) int {
	switch {
	case t.Int != nil:
		return 4 // i32le
	case t.Byte != nil:
		return 1 // u8
	case t.Bool != nil:
		return 1 // byte, nonzero = true
	case t.Float != nil:
		return 4 // f32le
	case t.String != nil:
		return t.String.Length
	case t.Array != nil:
		return t.Array.Length * p.TypeSize(t.Array.Type)
	case t.MappedArray != nil:
		v, ok := p.Enum[t.MappedArray.Enum]
		if !ok {
			panic("pdef: undefined enum " + t.MappedArray.Enum)
		}
		return len(v) * p.TypeSize(t.MappedArray.Type)
	case t.Enum != nil:
		return 1 // variant index
	case t.Struct != nil:
		fs, ok := p.Struct[t.Struct.Name]
		if !ok {
			panic("pdef: undefined struct " + t.Struct.Name)
		}
		var n int
		for _, f := range fs {
			n += p.TypeSize(f.Type)
		}
		return n
	default:
		panic("pdef: field with no type set")
	}
}

// Size returns the total encoded size of the root field list.
func (p Pdef) Size() int {
	var n int
	for _, f := range p.Root {
		n += p.TypeSize(f.Type)
	}
	return n
}

// ParsePdef parses a schema in the text format:
//
//	int xp
//	byte gen
//	string{32} lastPlaylist
//	enum<Faction> factionChoice
//	PilotLoadout activePilotLoadout
//	WeaponStat weaponStats[100]
//	int pilotExecutionKills[13]
//
//	$ENUM_START Faction
//	MercenarySyndicate
//	IMCMilitia
//	$ENUM_END
//
//	$STRUCT_START PilotLoadout
//	int primaryWeaponIndex
//	bool setup
//	$STRUCT_END
//
// Every field line is "<type> <name>" where <type> is one of the primitive
// keywords (int, byte, bool, float), "string{N}", an enum name (bare or
// written "enum<Name>"), or a struct name; <name> may be followed by "[N]"
// (fixed array) or "[EnumName]" (enum-length array). An enum may be named
// anywhere in the file, wherever it is defined. A struct may be named by a
// root field anywhere in the file, but by a field inside another struct only
// once it has been defined above. Comments start with "//" and run to the end of the
// line. Unsupported constructs (16/64-bit ints, floats wider than 32 bits,
// variable-length strings, optional fields, maps, recursive types) simply have
// no spelling in this grammar, so they are rejected at parse time rather than
// at decode time.
func ParsePdef(r io.Reader) (*Pdef, error) {
	type state int
	const (
		stateRoot state = iota
		stateEnum
		stateStruct
	)
	var (
		p = Pdef{
			Root:   []Field{},
			Enum:   map[string][]string{},
			Struct: map[string][]Field{},
		}
		curLine  int
		curState state
		curName  string
	)
	const ident = "[a-zA-Z][a-zA-Z0-9_]*"
	var (
		identRe = regexp.MustCompile(`^(` + ident + `)$`)
		typeRe  = regexp.MustCompile(`^(` + ident + `)(?:\{([0-9]+)\})?$`)
		nameRe  = regexp.MustCompile(`^(` + ident + `)(?:\[(?:([0-9]+)|(` + ident + `))\])?$`)
	)

	src, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	declared := map[string]string{} // block name -> "$ENUM_START" or "$STRUCT_START", for forward references
	for _, l := range strings.Split(string(src), "\n") {
		if f := strings.Fields(l); len(f) >= 2 && (f[0] == "$ENUM_START" || f[0] == "$STRUCT_START") {
			declared[f[1]] = f[0]
		}
	}

	sc := bufio.NewScanner(strings.NewReader(string(src)))
	for sc.Scan() {
		curLine++

		line := strings.Fields(sc.Text())
		for i, tok := range line {
			if strings.HasPrefix(tok, "//") {
				line = line[:i]
				break
			}
		}
		if len(line) == 0 {
			continue
		}

		tok, rest := line[0], line[1:]
		switch tok {
		case "$ENUM_START":
			if curState != stateRoot {
				return nil, fmt.Errorf("line %d: cannot start enum inside %q", curLine, curName)
			}
			if len(rest) != 1 {
				return nil, fmt.Errorf("line %d: expected exactly one enum name", curLine)
			}
			curName = rest[0]
			if !identRe.MatchString(curName) {
				return nil, fmt.Errorf("line %d: invalid enum name %q", curLine, curName)
			}
			if _, exists := p.Struct[curName]; exists {
				return nil, fmt.Errorf("line %d: %q already defined as a struct", curLine, curName)
			}
			if _, exists := p.Enum[curName]; exists {
				return nil, fmt.Errorf("line %d: %q already defined as an enum", curLine, curName)
			}
			p.Enum[curName] = []string{}
			curState = stateEnum
		case "$ENUM_END":
			if curState != stateEnum {
				return nil, fmt.Errorf("line %d: not inside an enum", curLine)
			}
			if len(p.Enum[curName]) == 0 {
				return nil, fmt.Errorf("line %d: enum %q has no variants", curLine, curName)
			}
			curState, curName = stateRoot, ""
		case "$STRUCT_START":
			if curState != stateRoot {
				return nil, fmt.Errorf("line %d: cannot start struct inside %q", curLine, curName)
			}
			if len(rest) != 1 {
				return nil, fmt.Errorf("line %d: expected exactly one struct name", curLine)
			}
			curName = rest[0]
			if !identRe.MatchString(curName) {
				return nil, fmt.Errorf("line %d: invalid struct name %q", curLine, curName)
			}
			if _, exists := p.Struct[curName]; exists {
				return nil, fmt.Errorf("line %d: %q already defined as a struct", curLine, curName)
			}
			if _, exists := p.Enum[curName]; exists {
				return nil, fmt.Errorf("line %d: %q already defined as an enum", curLine, curName)
			}
			p.Struct[curName] = []Field{}
			curState = stateStruct
		case "$STRUCT_END":
			if curState != stateStruct {
				return nil, fmt.Errorf("line %d: not inside a struct", curLine)
			}
			curState, curName = stateRoot, ""
		default:
			if strings.HasPrefix(tok, "$") {
				return nil, fmt.Errorf("line %d: unknown directive %q", curLine, tok)
			}
			switch curState {
			case stateEnum:
				if len(rest) != 0 {
					return nil, fmt.Errorf("line %d: unexpected token after enum variant %q", curLine, tok)
				}
				p.Enum[curName] = append(p.Enum[curName], tok)
			case stateRoot, stateStruct:
				if len(rest) != 1 {
					return nil, fmt.Errorf("line %d: expected \"<type> <name>\"", curLine)
				}
				if n := strings.TrimSuffix(strings.TrimPrefix(tok, "enum<"), ">"); len(n) == len(tok)-len("enum<>") && declared[n] == "$ENUM_START" {
					tok = n
				}
				m1 := typeRe.FindStringSubmatch(tok)
				if m1 == nil {
					return nil, fmt.Errorf("line %d: invalid type %q", curLine, tok)
				}
				m2 := nameRe.FindStringSubmatch(rest[0])
				if m2 == nil {
					return nil, fmt.Errorf("line %d: invalid field name %q", curLine, rest[0])
				}

				var ti TypeInfo
				switch typeName := m1[1]; typeName {
				case "int":
					ti.Int = &TypeInfoPrimitive{}
				case "byte":
					ti.Byte = &TypeInfoPrimitive{}
				case "bool":
					ti.Bool = &TypeInfoPrimitive{}
				case "float":
					ti.Float = &TypeInfoPrimitive{}
				case "string":
					if m1[2] == "" {
						return nil, fmt.Errorf("line %d: string type requires a length, e.g. string{32}", curLine)
					}
					n, _ := strconv.Atoi(m1[2])
					if n < 1 {
						return nil, fmt.Errorf("line %d: invalid string length %d", curLine, n)
					}
					ti.String = &TypeInfoString{Length: n}
				default:
					if typeName == curName {
						return nil, fmt.Errorf("line %d: recursive type %q is not supported", curLine, typeName)
					}
					if declared[typeName] == "$ENUM_START" {
						ti.Enum = &TypeInfoEnum{Name: typeName}
					} else if _, ok := p.Struct[typeName]; ok || (curState == stateRoot && declared[typeName] == "$STRUCT_START") {
						ti.Struct = &TypeInfoStruct{Name: typeName}
					} else {
						return nil, fmt.Errorf("line %d: unknown type %q", curLine, typeName)
					}
				}

				var field Field
				switch {
				case m2[2] != "":
					n, _ := strconv.Atoi(m2[2])
					if n < 1 {
						return nil, fmt.Errorf("line %d: invalid array length %d", curLine, n)
					}
					field = Field{Name: m2[1], Type: TypeInfo{Array: &TypeInfoArray{Type: ti, Length: n}}}
				case m2[3] != "":
					if declared[m2[3]] != "$ENUM_START" {
						return nil, fmt.Errorf("line %d: unknown enum %q", curLine, m2[3])
					}
					field = Field{Name: m2[1], Type: TypeInfo{MappedArray: &TypeInfoMappedArray{Type: ti, Enum: m2[3]}}}
				default:
					field = Field{Name: m2[1], Type: ti}
				}

				if curState == stateStruct {
					p.Struct[curName] = append(p.Struct[curName], field)
				} else {
					p.Root = append(p.Root, field)
				}
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if curState != stateRoot {
		return nil, fmt.Errorf("unterminated %q block", curName)
	}
	return &p, nil
}
