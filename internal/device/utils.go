package device

import (
	"fmt"
	"math"
	"strings"

	"github.com/x448/float16"
)

// DType identifies the element type of an array.
type DType int

const (
	Bool DType = iota
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float16
	Float32
	Float64
	Complex64
	Complex128
)

// Kind is the NumPy-style one-letter category of a dtype.
type Kind byte

const (
	KindBool     Kind = 'b'
	KindSigned   Kind = 'i'
	KindUnsigned Kind = 'u'
	KindFloat    Kind = 'f'
	KindComplex  Kind = 'c'
)

var dtypeNames = map[DType]string{
	Bool:       "bool",
	Int8:       "int8",
	Int16:      "int16",
	Int32:      "int32",
	Int64:      "int64",
	Uint8:      "uint8",
	Uint16:     "uint16",
	Uint32:     "uint32",
	Uint64:     "uint64",
	Float16:    "float16",
	Float32:    "float32",
	Float64:    "float64",
	Complex64:  "complex64",
	Complex128: "complex128",
}

func (d DType) String() string {
	if name, ok := dtypeNames[d]; ok {
		return name
	}
	return fmt.Sprintf("dtype(%d)", int(d))
}

// ParseDType accepts dtype names ("float32") and the common aliases "f4", "f8", "i4", "i8", "c16".
func ParseDType(s string) (DType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "f2":
		return Float16, nil
	case "f4", "single":
		return Float32, nil
	case "f8", "double", "float":
		return Float64, nil
	case "i4":
		return Int32, nil
	case "i8", "int", "long":
		return Int64, nil
	case "c8":
		return Complex64, nil
	case "c16", "complex":
		return Complex128, nil
	}
	for d, name := range dtypeNames {
		if name == s {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown dtype %q", s)
}

// Kind returns the category of the dtype.
func (d DType) Kind() Kind {
	switch d {
	case Bool:
		return KindBool
	case Int8, Int16, Int32, Int64:
		return KindSigned
	case Uint8, Uint16, Uint32, Uint64:
		return KindUnsigned
	case Float16, Float32, Float64:
		return KindFloat
	default:
		return KindComplex
	}
}

// Size returns the byte size of one element.
func (d DType) Size() int {
	switch d {
	case Bool, Int8, Uint8:
		return 1
	case Int16, Uint16, Float16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64, Complex64:
		return 8
	case Complex128:
		return 16
	default:
		panic("unknown data type")
	}
}

// IsInteger reports whether d is a signed or unsigned integer type.
func (d DType) IsInteger() bool {
	k := d.Kind()
	return k == KindSigned || k == KindUnsigned
}

// IsComplex reports whether d holds complex values.
func (d DType) IsComplex() bool {
	return d.Kind() == KindComplex
}

// IntBits returns the bit width of an integer dtype and 0 otherwise.
func (d DType) IntBits() int {
	if !d.IsInteger() {
		return 0
	}
	return d.Size() * 8
}

// Round coerces v to the precision of d. Float16 goes through IEEE binary16,
// integer dtypes truncate toward zero. NaN and Inf are preserved for float dtypes.
func (d DType) Round(v float64) float64 {
	switch d {
	case Float64, Complex128:
		return v
	case Float32, Complex64:
		return float64(float32(v))
	case Float16:
		return float64(float16.Fromfloat32(float32(v)).Float32())
	case Bool:
		if v != 0 {
			return 1
		}
		return 0
	default:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return v
		}
		return math.Trunc(v)
	}
}

// RoundSlice applies Round to every element in place.
func (d DType) RoundSlice(data []float64) {
	if d == Float64 {
		return
	}
	for i, v := range data {
		data[i] = d.Round(v)
	}
}

// Float16Bits returns the IEEE binary16 encoding of v.
func Float16Bits(v float32) uint16 {
	return float16.Fromfloat32(v).Bits()
}
