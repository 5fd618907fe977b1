package device

import (
	"fmt"
	"sync"

	"github.com/23skdu/longbow-ndgate/internal/shape"
)

// ensure interface compliance
var _ Backend = (*CPUBackend)(nil)
var _ Array = (*HostArray)(nil)

// HostArray is a plain host-memory array. It never satisfies AcceleratorBacked.
type HostArray struct {
	shape shape.Shape
	dtype DType
	real  []float64
	cplx  []complex128
}

// NewHost creates a real-valued host array. data is copied; nil means zeros.
func NewHost(s shape.Shape, dtype DType, data []float64) *HostArray {
	if dtype.IsComplex() {
		var c []complex128
		if data != nil {
			c = make([]complex128, len(data))
			for i, v := range data {
				c[i] = complex(v, 0)
			}
		}
		return NewHostComplex(s, dtype, c)
	}
	size := s.NumElements()
	a := &HostArray{shape: s.Clone(), dtype: dtype, real: make([]float64, size)}
	if data != nil {
		if len(data) != size {
			panic(fmt.Sprintf("NewHost: data length %d does not match shape %v", len(data), s))
		}
		copy(a.real, data)
	}
	return a
}

// NewHostComplex creates a complex host array. data is copied; nil means zeros.
func NewHostComplex(s shape.Shape, dtype DType, data []complex128) *HostArray {
	size := s.NumElements()
	a := &HostArray{shape: s.Clone(), dtype: dtype, cplx: make([]complex128, size)}
	if data != nil {
		if len(data) != size {
			panic(fmt.Sprintf("NewHostComplex: data length %d does not match shape %v", len(data), s))
		}
		copy(a.cplx, data)
	}
	return a
}

// Scalar creates a 0-d host array holding v.
func Scalar(v float64) *HostArray {
	return NewHost(shape.Shape{}, Float64, []float64{v})
}

func (a *HostArray) Shape() shape.Shape { return a.shape }
func (a *HostArray) DType() DType { return a.dtype }
func (a *HostArray) Size() int { return a.shape.NumElements() }

func (a *HostArray) Float64s() []float64 {
	if a.dtype.IsComplex() {
		return nil
	}
	return a.real
}

func (a *HostArray) Complex128s() []complex128 {
	if !a.dtype.IsComplex() {
		return nil
	}
	return a.cplx
}

// CPUBackend allocates host arrays. Scratch buffers are pooled.
type CPUBackend struct {
	pool sync.Pool
}

func NewCPUBackend() *CPUBackend {
	return &CPUBackend{
		pool: sync.Pool{
			New: func() interface{} {
				return &HostArray{}
			},
		},
	}
}

func (b *CPUBackend) Name() string {
	return "CPU"
}

// Aspects reports host capabilities; the host always has double precision.
func (b *CPUBackend) Aspects() Aspects {
	return Aspects{Float64: true}
}

func (b *CPUBackend) NewArray(s shape.Shape, dtype DType, data []float64) Array {
	return NewHost(s, dtype, data)
}

func (b *CPUBackend) NewComplexArray(s shape.Shape, dtype DType, data []complex128) Array {
	return NewHostComplex(s, dtype, data)
}

// GetArray gets a zeroed real float64 array from the pool or creates a new one.
func (b *CPUBackend) GetArray(s shape.Shape) *HostArray {
	v := b.pool.Get()
	ha, ok := v.(*HostArray)
	if !ok || ha == nil {
		ha = &HostArray{}
	}

	ha.shape = s.Clone()
	ha.dtype = Float64
	ha.cplx = nil
	size := s.NumElements()
	if cap(ha.real) < size {
		ha.real = make([]float64, size)
	} else {
		ha.real = ha.real[:size]
		for i := range ha.real {
			ha.real[i] = 0
		}
	}
	return ha
}

// PutArray returns an array obtained from GetArray to the pool.
func (b *CPUBackend) PutArray(a *HostArray) {
	if a == nil {
		return
	}
	a.shape = nil
	// Data is zeroed when retrieved by GetArray
	b.pool.Put(a)
}

func (b *CPUBackend) Synchronize() {
	// CPU is always synchronous
}
