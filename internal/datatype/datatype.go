// Package datatype encodes and decodes the element types a variable can hold.
//
// Elements are packed contiguously in little-endian order: element i of a
// value array occupies bytes [i*width, (i+1)*width).
package datatype

import (
	"encoding/binary"
	"fmt"
	"iter"
	"math"
	"strconv"
	"strings"

	"github.com/containerd/errdefs"
)

// Type tags a segment with what it stores.
type Type int

const (
	// FreeSpace marks a hole in a process's virtual address space.
	FreeSpace Type = iota
	// Opaque marks TEXT, GLOBALS and STACK.
	Opaque
	Char
	Short
	Int
	Long
	Float
	Double
)

var typeNames = map[Type]string{
	FreeSpace: "<FREE_SPACE>",
	Opaque:    "<OPAQUE>",
	Char:      "char",
	Short:     "short",
	Int:       "int",
	Long:      "long",
	Float:     "float",
	Double:    "double",
}

func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return "Type(" + strconv.Itoa(int(t)) + ")"
}

// Width returns the size in bytes of one element. Non-element types have width 1.
func (t Type) Width() int {
	switch t {
	case Short:
		return 2
	case Int, Float:
		return 4
	case Long, Double:
		return 8
	default:
		return 1
	}
}

// IsElement reports whether t can be the type of a user variable.
func (t Type) IsElement() bool {
	return t >= Char && t <= Double
}

// Parse returns the element type named s.
func Parse(s string) (Type, error) {
	for t, n := range typeNames {
		if t.IsElement() && n == strings.ToLower(s) {
			return t, nil
		}
	}
	return FreeSpace, fmt.Errorf("unknown data type %q: %w", s, errdefs.ErrInvalidArgument)
}

// Encode parses values as elements of t and packs them into a byte slice.
// Nothing is returned unless every value parses.
func Encode(t Type, values []string) ([]byte, error) {
	if !t.IsElement() {
		return nil, fmt.Errorf("type %s holds no values: %w", t, errdefs.ErrInvalidArgument)
	}
	w := t.Width()
	buf := make([]byte, len(values)*w)
	for i, s := range values {
		if err := put(t, buf[i*w:(i+1)*w], s); err != nil {
			return nil, fmt.Errorf("value %d %q is not a valid %s: %w", i, s, t, errdefs.ErrInvalidArgument)
		}
	}
	return buf, nil
}

func put(t Type, b []byte, s string) error {
	switch t {
	case Char:
		c, err := parseChar(s)
		if err != nil {
			return err
		}
		b[0] = c
	case Short:
		v, err := strconv.ParseInt(s, 10, 16)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint16(b, uint16(v))
	case Int:
		v, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(b, uint32(v))
	case Long:
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint64(b, uint64(v))
	case Float:
		v, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
	case Double:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	}
	return nil
}

// parseChar accepts a single byte character, optionally single quoted.
func parseChar(s string) (byte, error) {
	if len(s) == 3 && s[0] == '\'' && s[2] == '\'' {
		s = s[1:2]
	}
	if len(s) != 1 {
		return 0, fmt.Errorf("expected a single character, got %d bytes", len(s))
	}
	return s[0], nil
}

// Decode returns the elements packed in b as a lazy sequence. Trailing bytes
// that do not fill an element are ignored. The sequence can be ranged over
// more than once.
func Decode(t Type, b []byte) iter.Seq[Value] {
	w := t.Width()
	return func(yield func(Value) bool) {
		if !t.IsElement() {
			return
		}
		for off := 0; off+w <= len(b); off += w {
			if !yield(decodeOne(t, b[off:off+w])) {
				return
			}
		}
	}
}

func decodeOne(t Type, b []byte) Value {
	switch t {
	case Char:
		return Value{Type: t, bits: uint64(b[0])}
	case Short:
		return Value{Type: t, bits: uint64(int64(int16(binary.LittleEndian.Uint16(b))))}
	case Int:
		return Value{Type: t, bits: uint64(int64(int32(binary.LittleEndian.Uint32(b))))}
	case Float:
		return Value{Type: t, bits: uint64(binary.LittleEndian.Uint32(b))}
	default:
		return Value{Type: t, bits: binary.LittleEndian.Uint64(b)}
	}
}
