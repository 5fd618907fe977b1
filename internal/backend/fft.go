package backend

import (
	"context"
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/cmplxs"
	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/23skdu/longbow-ndgate/internal/cache"
	"github.com/23skdu/longbow-ndgate/internal/device"
	"github.com/23skdu/longbow-ndgate/internal/shape"
)

// planCache keeps one pool of gonum FFT plans per transform length. A plan
// carries scratch space and is used by one goroutine at a time.
type planCache struct {
	pools cache.Cache[int, *sync.Pool]
}

func newPlanCache(limit int) *planCache {
	return &planCache{pools: cache.NewMapCache[int, *sync.Pool](limit)}
}

func (c *planCache) get(n int) (*fourier.CmplxFFT, *sync.Pool) {
	pool := c.pools.GetOrCreate(n, func() *sync.Pool {
		return &sync.Pool{New: func() any { return fourier.NewCmplxFFT(n) }}
	})
	return pool.Get().(*fourier.CmplxFFT), pool
}

// complexData returns the elements of a as complex128, copying real input.
func complexData(a device.Array) []complex128 {
	if c := a.Complex128s(); c != nil {
		out := make([]complex128, len(c))
		copy(out, c)
		return out
	}
	r := a.Float64s()
	out := make([]complex128, len(r))
	for i, v := range r {
		out[i] = complex(v, 0)
	}
	return out
}

// transformAxis runs a length-n transform along axis of data with shape s.
// The axis is zero padded or truncated to n. It returns the new data and shape.
func (c *planCache) transformAxis(ctx context.Context, data []complex128, s shape.Shape, axis, n int, inverse bool, norm Norm) ([]complex128, shape.Shape, error) {
	outShape := s.Clone()
	outShape[axis] = n

	inner := 1
	for _, d := range s[axis+1:] {
		inner *= d
	}
	outer := 1
	for _, d := range s[:axis] {
		outer *= d
	}
	m := s[axis]
	out := make([]complex128, outer*n*inner)

	plan, pool := c.get(n)
	defer pool.Put(plan)

	seq := make([]complex128, n)
	res := make([]complex128, n)
	for o := 0; o < outer; o++ {
		if o%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
		}
		for in := 0; in < inner; in++ {
			for k := range seq {
				seq[k] = 0
			}
			for k := 0; k < min(m, n); k++ {
				seq[k] = data[(o*m+k)*inner+in]
			}
			if inverse {
				plan.Sequence(res, seq)
			} else {
				plan.Coefficients(res, seq)
			}
			for k := 0; k < n; k++ {
				out[(o*n+k)*inner+in] = res[k]
			}
		}
	}

	scaleComplex(out, normFactor(n, inverse, norm))
	return out, outShape, nil
}

// normFactor is the scale applied after an unnormalized transform.
func normFactor(n int, inverse bool, norm Norm) float64 {
	switch norm {
	case NormOrtho:
		return 1 / math.Sqrt(float64(n))
	case NormForward:
		if inverse {
			return 1
		}
		return 1 / float64(n)
	default:
		if inverse {
			return 1 / float64(n)
		}
		return 1
	}
}

func scaleComplex(data []complex128, f float64) {
	if f == 1 {
		return
	}
	cmplxs.Scale(complex(f, 0), data)
}

// roundComplex narrows values to complex64 precision in place.
func roundComplex(data []complex128) {
	for i, v := range data {
		data[i] = complex128(complex64(v))
	}
}

// Spectrum returns the magnitude of every element of a.
func Spectrum(a device.Array) []float64 {
	if c := a.Complex128s(); c != nil {
		out := make([]float64, len(c))
		for i, v := range c {
			out[i] = cmplx.Abs(v)
		}
		return out
	}
	out := make([]float64, a.Size())
	for i, v := range a.Float64s() {
		out[i] = math.Abs(v)
	}
	return out
}
