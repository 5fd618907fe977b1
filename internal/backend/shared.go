package backend

import (
	"context"
	"fmt"

	"github.com/23skdu/longbow-ndgate/internal/device"
	"github.com/23skdu/longbow-ndgate/internal/dispatch"
	"github.com/23skdu/longbow-ndgate/internal/random"
)

// ensure interface compliance
var _ Accelerated = (*SharedExecutor)(nil)

// SharedExecutor runs accelerated calls against a shared-memory device.
// Results are allocated on the device, so they stay accelerator backed and
// can feed the next call without a copy. On a device without double
// precision results are computed at single precision.
type SharedExecutor struct {
	device  *device.SharedBackend
	plans   *planCache
	sampler *Sampler
}

func NewSharedExecutor(dev *device.SharedBackend, seed uint64) *SharedExecutor {
	return &SharedExecutor{
		device:  dev,
		plans:   newPlanCache(64),
		sampler: NewSampler(seed),
	}
}

func (e *SharedExecutor) Name() string {
	return e.device.Name()
}

func (e *SharedExecutor) Aspects() device.Aspects {
	return e.device.Aspects()
}

func (e *SharedExecutor) Device() *device.SharedBackend {
	return e.device
}

func (e *SharedExecutor) Execute(ctx context.Context, args dispatch.Args) (device.Array, error) {
	if _, ok := device.Residency(args.Input); !ok {
		return nil, fmt.Errorf("%s: input is not resident on %s", args.Op, e.device.Name())
	}

	var (
		inverse bool
		axis    = args.Axis
		n       = args.Length
	)
	switch args.Op {
	case dispatch.OpFFT:
	case dispatch.OpIFFT:
		inverse = true
	case dispatch.OpFFT2, dispatch.OpFFTN:
		// only flat 1-D input reaches here
		axis, n = 0, args.Input.Size()
	default:
		return nil, fmt.Errorf("%w: %q on %s", ErrUnsupportedOp, args.Op, e.device.Name())
	}

	data, outShape, err := e.plans.transformAxis(ctx, complexData(args.Input), args.Input.Shape(), axis, n, inverse, NormBackward)
	if err != nil {
		return nil, err
	}

	dtype := device.Complex128
	if !e.device.Aspects().Float64 {
		roundComplex(data)
		dtype = device.Complex64
	}
	out, err := e.device.WrapComplex(data, outShape, dtype)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *SharedExecutor) Sample(ctx context.Context, v *random.Validated) (device.Array, error) {
	data, err := e.sampler.Draw(ctx, v)
	if err != nil {
		return nil, err
	}
	out, err := e.device.Wrap(data, v.OutputShape(), v.DType)
	if err != nil {
		return nil, err
	}
	return out, nil
}
