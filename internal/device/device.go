package device

import (
	"github.com/23skdu/longbow-ndgate/internal/shape"
)

// Array is an n-dimensional array resident somewhere: host memory or memory
// owned by an accelerator.
//
// Real dtypes are stored as float64 and exposed through Float64s; complex
// dtypes are stored as complex128 and exposed through Complex128s. The other
// accessor returns nil.
type Array interface {
	Shape() shape.Shape
	DType() DType
	// Size returns the number of elements.
	Size() int
	Float64s() []float64
	Complex128s() []complex128
}

// MemoryKind describes where the bytes behind an accelerator-backed array live.
type MemoryKind int

const (
	// MemoryDevice is memory only the device can address.
	MemoryDevice MemoryKind = iota
	// MemoryShared is unified memory addressable from host and device.
	MemoryShared
)

func (k MemoryKind) String() string {
	if k == MemoryShared {
		return "shared"
	}
	return "device"
}

// Memory describes an accelerator allocation.
type Memory struct {
	Device string
	Kind   MemoryKind
	Bytes  int
}

// AcceleratorBacked is the capability an array exposes when its data is
// resident in accelerator-managed memory. Routing code checks for this
// interface instead of inspecting concrete types.
type AcceleratorBacked interface {
	Array
	Memory() Memory
}

// Residency returns the accelerator memory behind a, if any.
func Residency(a Array) (Memory, bool) {
	if a == nil {
		return Memory{}, false
	}
	ab, ok := a.(AcceleratorBacked)
	if !ok {
		return Memory{}, false
	}
	return ab.Memory(), true
}

// Aspects lists optional device capabilities.
type Aspects struct {
	// Float64 is true when the device executes double precision natively.
	Float64 bool
}

// Backend creates arrays and manages their memory.
type Backend interface {
	Name() string
	Aspects() Aspects
	NewArray(s shape.Shape, dtype DType, data []float64) Array
	NewComplexArray(s shape.Shape, dtype DType, data []complex128) Array

	// Synchronize blocks until all queued operations are complete.
	Synchronize()
}

// ToHost copies a into a new host array regardless of where it lives.
func ToHost(a Array) *HostArray {
	out := &HostArray{shape: a.Shape().Clone(), dtype: a.DType()}
	if c := a.Complex128s(); c != nil {
		out.cplx = make([]complex128, len(c))
		copy(out.cplx, c)
		return out
	}
	r := a.Float64s()
	out.real = make([]float64, len(r))
	copy(out.real, r)
	return out
}
