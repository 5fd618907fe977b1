package random

import (
	"fmt"
	"math"

	"github.com/23skdu/longbow-ndgate/internal/device"
	"github.com/23skdu/longbow-ndgate/internal/shape"
)

// Value is a distribution parameter: a scalar or an array. The zero Value is
// None, an explicitly absent argument.
type Value struct {
	shape shape.Shape
	data  []float64
	dtype device.DType
}

// None is an explicitly absent parameter.
var None = Value{}

// Scalar creates a 0-d float64 parameter.
func Scalar(v float64) Value {
	return Value{shape: shape.Shape{}, data: []float64{v}, dtype: device.Float64}
}

// Int creates a 0-d int64 parameter.
func Int(v int64) Value {
	return Value{shape: shape.Shape{}, data: []float64{float64(v)}, dtype: device.Int64}
}

// Full creates a parameter of shape s filled with v.
func Full(s shape.Shape, v float64, dtype device.DType) Value {
	data := make([]float64, s.NumElements())
	for i := range data {
		data[i] = v
	}
	return Value{shape: s.Clone(), data: data, dtype: dtype}
}

// NewValue creates a parameter from row-major data.
func NewValue(s shape.Shape, data []float64, dtype device.DType) (Value, error) {
	if len(data) != s.NumElements() {
		return Value{}, fmt.Errorf("value: %d elements do not fill shape %v", len(data), s)
	}
	d := make([]float64, len(data))
	copy(d, data)
	return Value{shape: s.Clone(), data: d, dtype: dtype}, nil
}

// FromArray copies a real array into a parameter.
func FromArray(a device.Array) (Value, error) {
	if a.DType().IsComplex() {
		return Value{}, fmt.Errorf("value: complex dtype %s is not a valid parameter", a.DType())
	}
	return NewValue(a.Shape(), a.Float64s(), a.DType())
}

func (v Value) IsNone() bool { return v.data == nil }
func (v Value) Shape() shape.Shape { return v.shape }
func (v Value) DType() device.DType { return v.dtype }
func (v Value) Len() int { return len(v.data) }
func (v Value) IsScalar() bool { return v.shape.Ndim() == 0 && len(v.data) == 1 }

// Data returns a copy of the elements.
func (v Value) Data() []float64 {
	out := make([]float64, len(v.data))
	copy(out, v.data)
	return out
}

// Float returns the element of a scalar value.
func (v Value) Float() float64 {
	return v.data[0]
}

// Array converts the value into a host array.
func (v Value) Array() *device.HostArray {
	return device.NewHost(v.shape, v.dtype, v.data)
}

// expand materializes v broadcast to s. s must be a valid broadcast target.
func (v Value) expand(s shape.Shape) []float64 {
	n := s.NumElements()
	if v.shape.Equal(s) {
		return v.Data()
	}
	out := make([]float64, n)
	if len(v.data) == 1 {
		for i := range out {
			out[i] = v.data[0]
		}
		return out
	}

	// Align v's dims to the right of s; size-1 dims repeat.
	srcStrides := v.shape.Strides()
	offset := len(s) - len(v.shape)
	idx := make([]int, len(s))
	for flat := 0; flat < n; flat++ {
		rem := flat
		for d := len(s) - 1; d >= 0; d-- {
			idx[d] = rem % s[d]
			rem /= s[d]
		}
		src := 0
		for d := range v.shape {
			if v.shape[d] != 1 {
				src += idx[d+offset] * srcStrides[d]
			}
		}
		out[flat] = v.data[src]
	}
	return out
}

func (v Value) coerce(dtype device.DType) Value {
	data := v.Data()
	dtype.RoundSlice(data)
	return Value{shape: v.shape.Clone(), data: data, dtype: dtype}
}

// truncate rounds every element toward zero, as an integer cast does.
func (v Value) truncate() Value {
	data := v.Data()
	for i, x := range data {
		data[i] = math.Trunc(x)
	}
	return Value{shape: v.shape.Clone(), data: data, dtype: v.dtype}
}
