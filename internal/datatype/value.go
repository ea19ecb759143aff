package datatype

import (
	"math"
	"strconv"
)

// Value is one decoded element.
type Value struct {
	Type Type
	bits uint64
}

// Int returns the value of an integral element. Float elements are truncated.
func (v Value) Int() int64 {
	switch v.Type {
	case Float, Double:
		return int64(v.Float())
	default:
		return int64(v.bits)
	}
}

// Float returns the value of a floating point element. Integral elements are converted.
func (v Value) Float() float64 {
	switch v.Type {
	case Float:
		return float64(math.Float32frombits(uint32(v.bits)))
	case Double:
		return math.Float64frombits(v.bits)
	default:
		return float64(v.Int())
	}
}

func (v Value) String() string {
	switch v.Type {
	case Char:
		return string(rune(byte(v.bits)))
	case Float:
		return strconv.FormatFloat(v.Float(), 'g', -1, 32)
	case Double:
		return strconv.FormatFloat(v.Float(), 'g', -1, 64)
	default:
		return strconv.FormatInt(v.Int(), 10)
	}
}

// Of builds a Value of type t from a Go number, converting it to t first.
// Values that do not fit t are truncated the way a store of t would.
func Of(t Type, x interface{}) Value {
	var (
		i int64
		f float64
	)
	switch n := x.(type) {
	case byte:
		i, f = int64(n), float64(n)
	case int:
		i, f = int64(n), float64(n)
	case int64:
		i, f = n, float64(n)
	case float32:
		i, f = int64(n), float64(n)
	case float64:
		i, f = int64(n), n
	}
	switch t {
	case Float:
		return Value{Type: t, bits: uint64(math.Float32bits(float32(f)))}
	case Double:
		return Value{Type: t, bits: math.Float64bits(f)}
	case Char:
		return Value{Type: t, bits: uint64(uint8(i))}
	case Short:
		return Value{Type: t, bits: uint64(int64(int16(i)))}
	case Int:
		return Value{Type: t, bits: uint64(int64(int32(i)))}
	default:
		return Value{Type: t, bits: uint64(i)}
	}
}
