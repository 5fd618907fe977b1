package backend

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-ndgate/internal/device"
	"github.com/23skdu/longbow-ndgate/internal/dispatch"
	"github.com/23skdu/longbow-ndgate/internal/random"
	"github.com/23skdu/longbow-ndgate/internal/shape"
)

func assertComplexNear(t *testing.T, want, got []complex128) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.InDelta(t, real(want[i]), real(got[i]), 1e-9, "real part of element %d", i)
		assert.InDelta(t, imag(want[i]), imag(got[i]), 1e-9, "imag part of element %d", i)
	}
}

func TestHostReference_FFT(t *testing.T) {
	ref := NewHostReference(1)
	ctx := context.Background()
	x := device.NewHost(shape.Of(4), device.Float64, []float64{1, 2, 3, 4})

	tests := []struct {
		name string
		sig  dispatch.Signature
		want []complex128
	}{
		{
			"forward",
			dispatch.NewSignature(dispatch.OpFFT, x),
			[]complex128{10, -2 + 2i, -2, -2 - 2i},
		},
		{
			"zero padded",
			dispatch.NewSignature(dispatch.OpFFT, device.NewHost(shape.Of(2), device.Float64, []float64{1, 2}), dispatch.WithParam(dispatch.ParamN, 4)),
			[]complex128{3, 1 - 2i, -1, 1 + 2i},
		},
		{
			"truncated",
			dispatch.NewSignature(dispatch.OpFFT, x, dispatch.WithParam(dispatch.ParamN, 2)),
			[]complex128{3, -1},
		},
		{
			"ortho",
			dispatch.NewSignature(dispatch.OpFFT, x, dispatch.WithParam(dispatch.ParamNorm, "ortho")),
			[]complex128{5, -1 + 1i, -1, -1 - 1i},
		},
		{
			"forward norm",
			dispatch.NewSignature(dispatch.OpFFT, x, dispatch.WithParam(dispatch.ParamNorm, "forward")),
			[]complex128{2.5, -0.5 + 0.5i, -0.5, -0.5 - 0.5i},
		},
		{
			"inverse",
			dispatch.NewSignature(dispatch.OpIFFT, device.NewHostComplex(shape.Of(4), device.Complex128, []complex128{10, -2 + 2i, -2, -2 - 2i})),
			[]complex128{1, 2, 3, 4},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ref.Execute(ctx, tt.sig)
			require.NoError(t, err)
			assert.Equal(t, device.Complex128, got.DType())
			assertComplexNear(t, tt.want, got.Complex128s())
		})
	}
}

func TestHostReference_FFTAxis(t *testing.T) {
	ref := NewHostReference(1)
	x := device.NewHost(shape.Of(2, 2), device.Float64, []float64{1, 2, 3, 4})

	got, err := ref.Execute(context.Background(), dispatch.NewSignature(dispatch.OpFFT, x, dispatch.WithParam(dispatch.ParamAxis, 0)))
	require.NoError(t, err)
	assert.Equal(t, shape.Of(2, 2), got.Shape())
	assertComplexNear(t, []complex128{4, 6, -2, -2}, got.Complex128s())

	got, err = ref.Execute(context.Background(), dispatch.NewSignature(dispatch.OpFFT2, x))
	require.NoError(t, err)
	assertComplexNear(t, []complex128{10, -2, -4, 0}, got.Complex128s())

	got, err = ref.Execute(context.Background(), dispatch.NewSignature(dispatch.OpFFTN, x, dispatch.WithParam(dispatch.ParamAxes, []int{1})))
	require.NoError(t, err)
	assertComplexNear(t, []complex128{3, -1, 7, -1}, got.Complex128s())
}

func TestHostReference_Errors(t *testing.T) {
	ref := NewHostReference(1)
	ctx := context.Background()
	x := device.NewHost(shape.Of(4), device.Float64, nil)

	_, err := ref.Execute(ctx, dispatch.NewSignature(dispatch.OpFFT, device.NewHost(shape.Of(0), device.Float64, nil)))
	var dpe *DataPointsError
	require.True(t, errors.As(err, &dpe))
	assert.Equal(t, "Invalid number of FFT data points (0) specified.", err.Error())

	_, err = ref.Execute(ctx, dispatch.NewSignature(dispatch.OpFFT, x, dispatch.WithParam(dispatch.ParamN, -1)))
	require.True(t, errors.As(err, &dpe))
	assert.Equal(t, -1, dpe.N)

	_, err = ref.Execute(ctx, dispatch.NewSignature(dispatch.OpFFT, x, dispatch.WithParam(dispatch.ParamAxis, 2)))
	assert.ErrorIs(t, err, shape.ErrAxisOutOfRange)

	_, err = ref.Execute(ctx, dispatch.NewSignature(dispatch.OpFFT, x, dispatch.WithParam(dispatch.ParamNorm, "half")))
	assert.ErrorIs(t, err, ErrInvalidNorm)

	_, err = ref.Execute(ctx, dispatch.NewSignature("matmul", x))
	assert.ErrorIs(t, err, ErrUnsupportedOp)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = ref.Execute(cancelled, dispatch.NewSignature(dispatch.OpFFT, x))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWindow(t *testing.T) {
	tests := []struct {
		name string
		m    int
		want []float64
	}{
		{dispatch.OpHamming, 5, []float64{0.08, 0.54, 1, 0.54, 0.08}},
		{dispatch.OpHanning, 5, []float64{0, 0.5, 1, 0.5, 0}},
		{dispatch.OpBartlett, 5, []float64{0, 0.5, 1, 0.5, 0}},
		{dispatch.OpBlackman, 5, []float64{0, 0.34, 1, 0.34, 0}},
		{dispatch.OpHamming, 1, []float64{1}},
		{dispatch.OpBlackman, 0, []float64{}},
		{dispatch.OpBartlett, -1, []float64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Window(tt.name, tt.m)
			require.NoError(t, err)
			require.Len(t, got, len(tt.want))
			for i := range tt.want {
				assert.InDelta(t, tt.want[i], got[i], 1e-12)
			}
		})
	}

	got, err := Window(dispatch.OpHanning, 1024)
	require.NoError(t, err)
	assert.Len(t, got, 1024)
	assert.InDelta(t, got[100], got[923], 1e-12, "symmetric")

	_, err = Window("kaiser", 4)
	assert.ErrorIs(t, err, ErrUnsupportedOp)
}

func validate(t *testing.T, req random.Request) *random.Validated {
	t.Helper()
	v, err := random.NewValidator(random.DefaultPlatform()).Validate(req)
	require.NoError(t, err)
	return v
}

func TestSampler_Moments(t *testing.T) {
	s := NewSampler(42)
	ctx := context.Background()
	size := shape.Of(20000)

	tests := []struct {
		dist   string
		params map[string]random.Value
		mean   float64
		tol    float64
	}{
		{"normal", map[string]random.Value{"loc": random.Scalar(3), "scale": random.Scalar(2)}, 3, 0.1},
		{"exponential", map[string]random.Value{"scale": random.Scalar(2)}, 2, 0.1},
		{"uniform", map[string]random.Value{"low": random.Scalar(-1), "high": random.Scalar(3)}, 1, 0.05},
		{"poisson", map[string]random.Value{"lam": random.Scalar(4)}, 4, 0.1},
		{"binomial", map[string]random.Value{"n": random.Int(10), "p": random.Scalar(0.3)}, 3, 0.1},
		{"gamma", map[string]random.Value{"shape": random.Scalar(2), "scale": random.Scalar(3)}, 6, 0.2},
		{"geometric", map[string]random.Value{"p": random.Scalar(0.25)}, 4, 0.15},
		{"wald", map[string]random.Value{"mean": random.Scalar(2), "scale": random.Scalar(5)}, 2, 0.1},
		{"hypergeometric", map[string]random.Value{"ngood": random.Int(6), "nbad": random.Int(4), "nsample": random.Int(5)}, 3, 0.1},
		{"hypergeometric", map[string]random.Value{"ngood": random.Int(60), "nbad": random.Int(40), "nsample": random.Int(30)}, 18, 0.15},
		{"logistic", map[string]random.Value{"loc": random.Scalar(2), "scale": random.Scalar(1)}, 2, 0.1},
		{"negative_binomial", map[string]random.Value{"n": random.Scalar(5), "p": random.Scalar(0.5)}, 5, 0.2},
		{"rayleigh", map[string]random.Value{"scale": random.Scalar(1)}, math.Sqrt(math.Pi / 2), 0.05},
		{"triangular", map[string]random.Value{"left": random.Scalar(0), "mode": random.Scalar(1), "right": random.Scalar(2)}, 1, 0.05},
		{"noncentral_chisquare", map[string]random.Value{"df": random.Scalar(3), "nonc": random.Scalar(2)}, 5, 0.2},
		{"vonmises", map[string]random.Value{"mu": random.Scalar(0.5), "kappa": random.Scalar(4)}, 0.5, 0.05},
	}

	for _, tt := range tests {
		t.Run(tt.dist, func(t *testing.T) {
			v := validate(t, random.Request{Distribution: tt.dist, Params: tt.params, Size: size})
			out, err := s.Draw(ctx, v)
			require.NoError(t, err)
			require.Len(t, out, 20000)

			sum := 0.0
			for _, x := range out {
				sum += x
			}
			assert.InDelta(t, tt.mean, sum/float64(len(out)), tt.tol)
		})
	}
}

func TestSampler_Support(t *testing.T) {
	s := NewSampler(7)
	ctx := context.Background()

	t.Run("integer distributions are integral", func(t *testing.T) {
		for _, dist := range []string{"zipf", "logseries", "geometric"} {
			params := map[string]random.Value{"a": random.Scalar(2)}
			if dist != "zipf" {
				params = map[string]random.Value{"p": random.Scalar(0.5)}
			}
			v := validate(t, random.Request{Distribution: dist, Params: params, Size: shape.Of(500)})
			out, err := s.Draw(ctx, v)
			require.NoError(t, err)
			for _, x := range out {
				assert.Equal(t, math.Trunc(x), x)
				assert.GreaterOrEqual(t, x, 1.0)
			}
		}
	})

	t.Run("degenerate scale", func(t *testing.T) {
		v := validate(t, random.Request{Distribution: "rayleigh", Params: map[string]random.Value{"scale": random.Scalar(0)}, Size: shape.Of(10)})
		out, err := s.Draw(ctx, v)
		require.NoError(t, err)
		assert.Equal(t, make([]float64, 10), out)
	})

	t.Run("randint range", func(t *testing.T) {
		v := validate(t, random.Request{Distribution: "randint", Params: map[string]random.Value{"low": random.Int(3)}, Size: shape.Of(200)})
		out, err := s.Draw(ctx, v)
		require.NoError(t, err)
		for _, x := range out {
			assert.Contains(t, []float64{0, 1, 2}, x)
		}
	})

	t.Run("broadcast parameters", func(t *testing.T) {
		loc, err := random.NewValue(shape.Of(3), []float64{-100, 0, 100}, device.Float64)
		require.NoError(t, err)
		v := validate(t, random.Request{Distribution: "normal", Params: map[string]random.Value{"loc": loc, "scale": random.Scalar(0)}, Size: shape.Of(2, 3)})
		out, err := s.Draw(ctx, v)
		require.NoError(t, err)
		assert.Equal(t, []float64{-100, 0, 100, -100, 0, 100}, out)
	})

	t.Run("float32 result", func(t *testing.T) {
		dt := device.Float32
		v := validate(t, random.Request{Distribution: "standard_normal", Size: shape.Of(50), DType: &dt})
		out, err := s.Draw(ctx, v)
		require.NoError(t, err)
		for _, x := range out {
			assert.Equal(t, float64(float32(x)), x)
		}
	})
}

func TestSampler_IntegerParameters(t *testing.T) {
	s := NewSampler(11)
	ctx := context.Background()

	tests := []struct {
		name     string
		dist     string
		params   map[string]random.Value
		min, max float64
	}{
		{"randint fractional bounds", "randint", map[string]random.Value{"low": random.Scalar(0.5), "high": random.Scalar(3.7)}, 0, 2},
		{"hypergeometric fractional counts", "hypergeometric", map[string]random.Value{"ngood": random.Scalar(2.9), "nbad": random.Scalar(3.2), "nsample": random.Scalar(4)}, 1, 2},
		{"binomial fractional n", "binomial", map[string]random.Value{"n": random.Scalar(2.5), "p": random.Scalar(0.5)}, 0, 2},
		{"hypergeometric whole population", "hypergeometric", map[string]random.Value{"ngood": random.Int(5), "nbad": random.Int(5), "nsample": random.Int(10)}, 5, 5},
		{"hypergeometric large sample", "hypergeometric", map[string]random.Value{"ngood": random.Int(30), "nbad": random.Int(70), "nsample": random.Int(95)}, 25, 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := validate(t, random.Request{Distribution: tt.dist, Params: tt.params, Size: shape.Of(500)})
			out, err := s.Draw(ctx, v)
			require.NoError(t, err)
			require.Len(t, out, 500)
			for _, x := range out {
				assert.Equal(t, math.Trunc(x), x)
				assert.GreaterOrEqual(t, x, tt.min)
				assert.LessOrEqual(t, x, tt.max)
			}
		})
	}

	t.Run("huge hypergeometric population", func(t *testing.T) {
		v := validate(t, random.Request{
			Distribution: "hypergeometric",
			Params:       map[string]random.Value{"ngood": random.Scalar(1e12), "nbad": random.Scalar(1e12), "nsample": random.Scalar(1e12)},
			Size:         shape.Of(100),
		})
		out, err := s.Draw(ctx, v)
		require.NoError(t, err)

		sum := 0.0
		for _, x := range out {
			sum += x
		}
		assert.InDelta(t, 5e11, sum/float64(len(out)), 5e6)
	})

	t.Run("zero dimensional multivariate normal", func(t *testing.T) {
		mean, err := random.NewValue(shape.Of(0), nil, device.Float64)
		require.NoError(t, err)
		cov, err := random.NewValue(shape.Of(0, 0), nil, device.Float64)
		require.NoError(t, err)
		v := validate(t, random.Request{Distribution: "multivariate_normal", Params: map[string]random.Value{"mean": mean, "cov": cov}, Size: shape.Of(3)})
		assert.Equal(t, shape.Of(3, 0), v.OutputShape())

		out, err := s.Draw(ctx, v)
		require.NoError(t, err)
		assert.Empty(t, out)
	})
}

func TestSampler_Multivariate(t *testing.T) {
	s := NewSampler(3)
	ctx := context.Background()

	t.Run("dirichlet rows sum to one", func(t *testing.T) {
		alpha, err := random.NewValue(shape.Of(3), []float64{1, 2, 3}, device.Float64)
		require.NoError(t, err)
		v := validate(t, random.Request{Distribution: "dirichlet", Params: map[string]random.Value{"alpha": alpha}, Size: shape.Of(4)})
		out, err := s.Draw(ctx, v)
		require.NoError(t, err)
		require.Len(t, out, 12)
		for row := 0; row < 4; row++ {
			assert.InDelta(t, 1.0, out[row*3]+out[row*3+1]+out[row*3+2], 1e-9)
		}
	})

	t.Run("multivariate normal", func(t *testing.T) {
		mean, err := random.NewValue(shape.Of(2), []float64{5, -5}, device.Float64)
		require.NoError(t, err)
		cov, err := random.NewValue(shape.Of(2, 2), []float64{1, 0, 0, 0}, device.Float64)
		require.NoError(t, err)
		v := validate(t, random.Request{Distribution: "multivariate_normal", Params: map[string]random.Value{"mean": mean, "cov": cov}, Size: shape.Of(100)})
		out, err := s.Draw(ctx, v)
		require.NoError(t, err)
		require.Len(t, out, 200)
		for row := 0; row < 100; row++ {
			assert.InDelta(t, -5.0, out[row*2+1], 1e-9, "zero variance component")
		}
	})
}

func TestSampler_Deterministic(t *testing.T) {
	v := validate(t, random.Request{Distribution: "standard_normal", Size: shape.Of(8)})
	a, err := NewSampler(11).Draw(context.Background(), v)
	require.NoError(t, err)
	b, err := NewSampler(11).Draw(context.Background(), v)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSharedExecutor(t *testing.T) {
	ctx := context.Background()

	t.Run("results stay on device", func(t *testing.T) {
		dev := device.NewSharedBackend("test:shared:0", device.Aspects{Float64: true})
		exec := NewSharedExecutor(dev, 1)
		x := dev.NewArray(shape.Of(4), device.Float64, []float64{1, 2, 3, 4})

		out, err := exec.Execute(ctx, dispatch.Args{Op: dispatch.OpFFT, Input: x, Axis: 0, Length: 4})
		require.NoError(t, err)
		mem, ok := device.Residency(out)
		require.True(t, ok)
		assert.Equal(t, "test:shared:0", mem.Device)
		assertComplexNear(t, []complex128{10, -2 + 2i, -2, -2 - 2i}, out.Complex128s())

		back, err := exec.Execute(ctx, dispatch.Args{Op: dispatch.OpIFFT, Input: out, Axis: 0, Length: 4})
		require.NoError(t, err)
		assertComplexNear(t, []complex128{1, 2, 3, 4}, back.Complex128s())
	})

	t.Run("single precision device", func(t *testing.T) {
		dev := device.NewSharedBackend("test:shared:1", device.Aspects{Float64: false})
		exec := NewSharedExecutor(dev, 1)
		x := dev.NewArray(shape.Of(3), device.Float32, []float64{0.1, 0.2, 0.3})

		out, err := exec.Execute(ctx, dispatch.Args{Op: dispatch.OpFFTN, Input: x, Axis: 0, Length: 3})
		require.NoError(t, err)
		assert.Equal(t, device.Complex64, out.DType())
		for _, c := range out.Complex128s() {
			assert.Equal(t, complex128(complex64(c)), c)
		}
	})

	t.Run("host input rejected", func(t *testing.T) {
		exec := NewSharedExecutor(device.NewSharedBackend("test:shared:2", device.Aspects{Float64: true}), 1)
		_, err := exec.Execute(ctx, dispatch.Args{Op: dispatch.OpFFT, Input: device.NewHost(shape.Of(2), device.Float64, nil), Length: 2})
		assert.Error(t, err)
	})

	t.Run("sampling", func(t *testing.T) {
		exec := NewSharedExecutor(device.NewSharedBackend("test:shared:3", device.Aspects{Float64: true}), 1)
		v := validate(t, random.Request{Distribution: "poisson", Params: map[string]random.Value{"lam": random.Scalar(2)}, Size: shape.Of(3, 2)})
		out, err := exec.Sample(ctx, v)
		require.NoError(t, err)
		assert.Equal(t, shape.Of(3, 2), out.Shape())
		assert.Equal(t, device.Int64, out.DType())
		_, ok := device.Residency(out)
		assert.True(t, ok)
	})
}

func TestSpectrum(t *testing.T) {
	a := device.NewHostComplex(shape.Of(2), device.Complex128, []complex128{3 + 4i, -1})
	assert.Equal(t, []float64{5, 1}, Spectrum(a))
	assert.Equal(t, []float64{2, 0}, Spectrum(device.NewHost(shape.Of(2), device.Float64, []float64{-2, 0})))
}
