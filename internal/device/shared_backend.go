package device

import (
	"fmt"
	"sync/atomic"

	"github.com/23skdu/longbow-ndgate/internal/shape"
)

var _ Backend = (*SharedBackend)(nil)
var _ AcceleratorBacked = (*SharedArray)(nil)

// SharedArray is an array placed in unified shared memory. The device and the
// host address the same bytes, so wrapping a host buffer is zero-copy.
type SharedArray struct {
	*HostArray
	backend *SharedBackend
}

// Memory implements AcceleratorBacked.
func (a *SharedArray) Memory() Memory {
	return Memory{
		Device: a.backend.name,
		Kind:   MemoryShared,
		Bytes:  a.Size() * a.dtype.Size(),
	}
}

// Release returns the array's bytes to the backend accounting.
func (a *SharedArray) Release() {
	a.backend.release(a.Memory().Bytes)
}

// SharedBackend allocates arrays in shared memory on a named device.
type SharedBackend struct {
	name      string
	aspects   Aspects
	allocated atomic.Int64
}

// NewSharedBackend creates a backend for the named device.
func NewSharedBackend(name string, aspects Aspects) *SharedBackend {
	return &SharedBackend{name: name, aspects: aspects}
}

func (b *SharedBackend) Name() string {
	return b.name
}

func (b *SharedBackend) Aspects() Aspects {
	return b.aspects
}

// AllocatedBytes returns the bytes currently held by live arrays.
func (b *SharedBackend) AllocatedBytes() int64 {
	return b.allocated.Load()
}

func (b *SharedBackend) NewArray(s shape.Shape, dtype DType, data []float64) Array {
	return b.adopt(NewHost(s, dtype, data))
}

func (b *SharedBackend) NewComplexArray(s shape.Shape, dtype DType, data []complex128) Array {
	return b.adopt(NewHostComplex(s, dtype, data))
}

// Upload copies a into shared memory. Arrays already on this backend are returned as is.
func (b *SharedBackend) Upload(a Array) *SharedArray {
	if sa, ok := a.(*SharedArray); ok && sa.backend == b {
		return sa
	}
	return b.adopt(ToHost(a))
}

// Wrap exposes data to the device without copying. Writes through either the
// returned array or data are visible to both.
func (b *SharedBackend) Wrap(data []float64, s shape.Shape, dtype DType) (*SharedArray, error) {
	if dtype.IsComplex() {
		return nil, fmt.Errorf("wrap: complex dtype %s needs WrapComplex", dtype)
	}
	if len(data) != s.NumElements() {
		return nil, fmt.Errorf("wrap: buffer holds %d elements, shape %v needs %d", len(data), s, s.NumElements())
	}
	sharedWraps.WithLabelValues(b.name).Inc()
	return b.adopt(&HostArray{shape: s.Clone(), dtype: dtype, real: data}), nil
}

// WrapComplex is Wrap for complex buffers.
func (b *SharedBackend) WrapComplex(data []complex128, s shape.Shape, dtype DType) (*SharedArray, error) {
	if !dtype.IsComplex() {
		return nil, fmt.Errorf("wrap: real dtype %s needs Wrap", dtype)
	}
	if len(data) != s.NumElements() {
		return nil, fmt.Errorf("wrap: buffer holds %d elements, shape %v needs %d", len(data), s, s.NumElements())
	}
	sharedWraps.WithLabelValues(b.name).Inc()
	return b.adopt(&HostArray{shape: s.Clone(), dtype: dtype, cplx: data}), nil
}

func (b *SharedBackend) adopt(h *HostArray) *SharedArray {
	sa := &SharedArray{HostArray: h, backend: b}
	n := int64(sa.Memory().Bytes)
	b.allocated.Add(n)
	sharedAllocations.WithLabelValues(b.name).Inc()
	sharedBytes.WithLabelValues(b.name).Add(float64(n))
	return sa
}

func (b *SharedBackend) release(n int) {
	b.allocated.Add(-int64(n))
	sharedBytes.WithLabelValues(b.name).Sub(float64(n))
}

func (b *SharedBackend) Synchronize() {
	// Shared memory is coherent once a kernel returns
}
