package dispatch

import (
	"github.com/23skdu/longbow-ndgate/internal/device"
	"github.com/23skdu/longbow-ndgate/internal/shape"
)

// Operation names.
const (
	OpFFT  = "fft"
	OpIFFT = "ifft"
	OpFFT2 = "fft2"
	OpFFTN = "fftn"

	OpBartlett = "bartlett"
	OpBlackman = "blackman"
	OpHamming  = "hamming"
	OpHanning  = "hanning"
)

// Flag names for options the accelerated path does not implement.
const (
	FlagNorm  = "norm"
	FlagAxes  = "axes"
	FlagShape = "s"
	FlagDType = "dtype"
)

// Parameter names used by the transform and window operations.
const (
	ParamN    = "n"
	ParamAxis = "axis"
	ParamNorm = "norm"
	ParamS    = "s"
	ParamAxes = "axes"
	ParamM    = "m"
)

// Rule describes when an operation may run on the accelerated path.
type Rule struct {
	// HostOnly operations always fall back.
	HostOnly bool
	// NeedsPrimary requires the primary array to be accelerator backed.
	// Otherwise Config.AcceleratorAvailable decides.
	NeedsPrimary bool
	// DTypes accepted for the primary array; empty accepts all.
	DTypes []device.DType
	// Unsupported lists flags that force a fallback when set.
	Unsupported []string
	// Normalize checks size constraints and resolves defaults.
	Normalize func(Signature) (Args, bool)
}

func (r Rule) supportsDType(d device.DType) bool {
	if len(r.DTypes) == 0 {
		return true
	}
	for _, ok := range r.DTypes {
		if ok == d {
			return true
		}
	}
	return false
}

var (
	fftDTypes  = []device.DType{device.Int32, device.Int64, device.Float32, device.Float64, device.Complex128}
	fftNDTypes = []device.DType{device.Int32, device.Int64, device.Float32, device.Float64}
)

// DefaultRules returns the transform and window rules.
// Sampling rules are added per distribution with SamplingRule.
func DefaultRules() map[string]Rule {
	oneDim := Rule{
		NeedsPrimary: true,
		DTypes:       fftDTypes,
		Unsupported:  []string{FlagNorm},
		Normalize:    normalizeFFT,
	}
	multiDim := Rule{
		NeedsPrimary: true,
		DTypes:       fftNDTypes,
		Unsupported:  []string{FlagNorm, FlagAxes, FlagShape},
		Normalize:    normalizeFlatFFT,
	}
	host := Rule{HostOnly: true}

	return map[string]Rule{
		OpFFT:      oneDim,
		OpIFFT:     oneDim,
		OpFFT2:     multiDim,
		OpFFTN:     multiDim,
		OpBartlett: host,
		OpBlackman: host,
		OpHamming:  host,
		OpHanning:  host,
	}
}

// SamplingRule is the rule shared by all random distributions: no explicit
// result dtype, scalar parameters only, and at least one output element.
func SamplingRule() Rule {
	return Rule{
		Unsupported: []string{FlagDType},
		Normalize:   normalizeSampling,
	}
}

// normalizeFFT resolves axis (default last) and n (default shape[axis]).
func normalizeFFT(sig Signature) (Args, bool) {
	x := sig.Primary()
	if x.Size() < 1 || x.Shape().Ndim() == 0 {
		return Args{}, false
	}

	axis := -1
	if v, ok := sig.IntParam(ParamAxis); ok {
		axis = v
	}
	ax, err := shape.NormalizeAxis(axis, x.Shape().Ndim())
	if err != nil {
		return Args{}, false
	}

	n := x.Shape()[ax]
	if v, ok := sig.IntParam(ParamN); ok {
		n = v
	}
	if n < 1 {
		return Args{}, false
	}
	return Args{Input: x, Axis: ax, Length: n}, true
}

// normalizeFlatFFT serves the multi-dimensional transforms for 1-D input,
// where they reduce to a single transform over all elements.
func normalizeFlatFFT(sig Signature) (Args, bool) {
	x := sig.Primary()
	if x.Size() < 1 || x.Shape().Ndim() != 1 {
		return Args{}, false
	}
	return Args{Input: x, Axis: 0, Length: x.Size()}, true
}

func normalizeSampling(sig Signature) (Args, bool) {
	for _, name := range sig.ParamNames() {
		v, ok := sig.Param(name)
		if !ok {
			continue
		}
		if !isScalar(v) {
			return Args{}, false
		}
	}

	size, ok := sig.Size()
	if !ok {
		size = shape.Shape{}
	}
	if size.NumElements() < 1 {
		return Args{}, false
	}
	return Args{Size: size, Params: sig.Params()}, true
}

func isScalar(v any) bool {
	switch v.(type) {
	case float64, float32, int, int32, int64:
		return true
	}
	return false
}
