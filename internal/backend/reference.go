package backend

import (
	"context"
	"fmt"

	"github.com/23skdu/longbow-ndgate/internal/device"
	"github.com/23skdu/longbow-ndgate/internal/dispatch"
	"github.com/23skdu/longbow-ndgate/internal/random"
	"github.com/23skdu/longbow-ndgate/internal/shape"
)

// ensure interface compliance
var _ Reference = (*HostReference)(nil)

// HostReference implements every operation on host memory. It accepts the
// caller's original arguments and raises the same errors the host array
// library does for degenerate input.
type HostReference struct {
	plans   *planCache
	sampler *Sampler
}

func NewHostReference(seed uint64) *HostReference {
	return &HostReference{
		plans:   newPlanCache(64),
		sampler: NewSampler(seed),
	}
}

func (h *HostReference) Execute(ctx context.Context, sig dispatch.Signature) (device.Array, error) {
	op := sig.Op()
	if IsWindow(op) {
		m, _ := sig.IntParam(dispatch.ParamM)
		w, err := Window(op, m)
		if err != nil {
			return nil, err
		}
		return device.NewHost(shape.Of(len(w)), device.Float64, w), nil
	}

	x := sig.Primary()
	if x == nil {
		return nil, fmt.Errorf("%s: missing input array", op)
	}
	normName, _ := sig.StringParam(dispatch.ParamNorm)
	norm, err := ParseNorm(normName)
	if err != nil {
		return nil, err
	}

	switch op {
	case dispatch.OpFFT, dispatch.OpIFFT:
		n, hasN := sig.IntParam(dispatch.ParamN)
		axis, hasAxis := sig.IntParam(dispatch.ParamAxis)
		if !hasAxis {
			axis = -1
		}
		var lengths []int
		if hasN {
			lengths = []int{n}
		}
		return h.fftn(ctx, x, lengths, []int{axis}, op == dispatch.OpIFFT, norm)

	case dispatch.OpFFT2, dispatch.OpFFTN:
		s, hasS := sig.IntsParam(dispatch.ParamS)
		axes, hasAxes := sig.IntsParam(dispatch.ParamAxes)
		if !hasAxes {
			axes = defaultAxes(op, x.Shape().Ndim(), s, hasS)
		}
		return h.fftn(ctx, x, s, axes, false, norm)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedOp, op)
}

func (h *HostReference) Sample(ctx context.Context, v *random.Validated) (device.Array, error) {
	data, err := h.sampler.Draw(ctx, v)
	if err != nil {
		return nil, err
	}
	return device.NewHost(v.OutputShape(), v.DType, data), nil
}

// defaultAxes is (-2, -1) for fft2 and the last len(s) axes, or all axes,
// for fftn.
func defaultAxes(op string, ndim int, s []int, hasS bool) []int {
	count := ndim
	if op == dispatch.OpFFT2 {
		count = 2
	} else if hasS {
		count = len(s)
	}
	axes := make([]int, count)
	for i := range axes {
		axes[i] = i - count
	}
	return axes
}

// fftn applies one-dimensional transforms along each axis in turn. lengths
// is either empty (keep each axis length) or one entry per axis.
func (h *HostReference) fftn(ctx context.Context, x device.Array, lengths, axes []int, inverse bool, norm Norm) (device.Array, error) {
	if lengths != nil && len(lengths) != len(axes) {
		return nil, fmt.Errorf("shape and axes have different lengths: %d vs %d", len(lengths), len(axes))
	}
	s := x.Shape()
	if s.Ndim() == 0 {
		return nil, fmt.Errorf("%w: transform of a 0-d array", shape.ErrAxisOutOfRange)
	}

	data := complexData(x)
	cur := s.Clone()
	// numpy transforms the last listed axis first
	for i := len(axes) - 1; i >= 0; i-- {
		ax, err := shape.NormalizeAxis(axes[i], cur.Ndim())
		if err != nil {
			return nil, err
		}
		n := cur[ax]
		if lengths != nil {
			n = lengths[i]
		}
		if n < 1 {
			return nil, &DataPointsError{N: n}
		}
		data, cur, err = h.plans.transformAxis(ctx, data, cur, ax, n, inverse, norm)
		if err != nil {
			return nil, err
		}
	}
	return device.NewHostComplex(cur, device.Complex128, data), nil
}
