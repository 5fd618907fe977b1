// Package shape implements NumPy-style shape arithmetic: element counts,
// axis normalization and broadcasting.
package shape

import (
	"errors"
	"fmt"
)

// ErrAxisOutOfRange is returned when an axis does not name a dimension.
var ErrAxisOutOfRange = errors.New("axis out of range")

// Shape represents the dimensions of an array. A nil or empty Shape is a scalar.
type Shape []int

// Of builds a Shape from its dimensions.
func Of(dims ...int) Shape {
	return Shape(dims).Clone()
}

// NumElements returns the total number of elements.
func (s Shape) NumElements() int {
	n := 1
	for _, dim := range s {
		n *= dim
	}
	return n
}

// Ndim returns the number of dimensions.
func (s Shape) Ndim() int {
	return len(s)
}

// Equal checks if two shapes are equal.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape. Cloning nil yields an empty, non-nil shape.
func (s Shape) Clone() Shape {
	clone := make(Shape, len(s))
	copy(clone, s)
	return clone
}

// Strides calculates row-major strides in elements.
func (s Shape) Strides() []int {
	strides := make([]int, len(s))
	if len(s) == 0 {
		return strides
	}
	strides[len(s)-1] = 1
	for i := len(s) - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * s[i+1]
	}
	return strides
}

func (s Shape) String() string {
	if len(s) == 1 {
		return fmt.Sprintf("(%d,)", s[0])
	}
	out := "("
	for i, d := range s {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprint(d)
	}
	return out + ")"
}

// NormalizeAxis resolves a possibly negative axis against ndim.
func NormalizeAxis(axis, ndim int) (int, error) {
	if axis < -ndim || axis >= ndim {
		return 0, fmt.Errorf("%w: axis %d for array of dimension %d", ErrAxisOutOfRange, axis, ndim)
	}
	if axis < 0 {
		axis += ndim
	}
	return axis, nil
}

// BroadcastError describes two shapes that cannot be reconciled.
type BroadcastError struct {
	A, B Shape
	Dim  int
}

func (e *BroadcastError) Error() string {
	return fmt.Sprintf("shape mismatch: objects cannot be broadcast to a single shape: %v vs %v (dimension %d)", e.A, e.B, e.Dim)
}

// BroadcastPair implements NumPy broadcasting of two shapes.
//
// Shapes are compared right to left. Dimensions are compatible when they are
// equal or one of them is 1; missing dimensions count as 1.
//
//	(3, 1) + (3, 5) -> (3, 5)
//	(2,)   + (4, 3, 2) -> (4, 3, 2)
//	(3, 4) + (3, 5) -> error
func BroadcastPair(a, b Shape) (Shape, error) {
	n := max(len(a), len(b))
	result := make(Shape, n)

	for i := 0; i < n; i++ {
		aDim, bDim := 1, 1
		if idx := len(a) - 1 - i; idx >= 0 {
			aDim = a[idx]
		}
		if idx := len(b) - 1 - i; idx >= 0 {
			bDim = b[idx]
		}

		switch {
		case aDim == bDim:
			result[n-1-i] = aDim
		case aDim == 1:
			result[n-1-i] = bDim
		case bDim == 1:
			result[n-1-i] = aDim
		default:
			return nil, &BroadcastError{A: a.Clone(), B: b.Clone(), Dim: n - 1 - i}
		}
	}
	return result, nil
}

// Broadcast folds BroadcastPair over all shapes. With no shapes it returns a scalar.
func Broadcast(shapes ...Shape) (Shape, error) {
	result := Shape{}
	for _, s := range shapes {
		var err error
		result, err = BroadcastPair(result, s)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// BroadcastTo reports whether src can be stretched to exactly dst.
// Unlike Broadcast, dst is fixed: src may not grow it.
func BroadcastTo(src, dst Shape) error {
	if len(src) > len(dst) {
		return &BroadcastError{A: src.Clone(), B: dst.Clone(), Dim: 0}
	}
	for i := 1; i <= len(src); i++ {
		s, d := src[len(src)-i], dst[len(dst)-i]
		if s != d && s != 1 {
			return &BroadcastError{A: src.Clone(), B: dst.Clone(), Dim: len(dst) - i}
		}
	}
	return nil
}
