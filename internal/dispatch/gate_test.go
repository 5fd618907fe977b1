package dispatch

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-ndgate/internal/device"
	"github.com/23skdu/longbow-ndgate/internal/shape"
)

func testGate(cfg Config) *Gate {
	rules := DefaultRules()
	rules["exponential"] = SamplingRule()
	return NewGate(cfg, rules)
}

func sharedArray(t *testing.T, s shape.Shape, dtype device.DType) device.Array {
	t.Helper()
	b := device.NewSharedBackend("test:gpu", device.Aspects{Float64: true})
	return b.NewArray(s, dtype, nil)
}

func TestRoute_HostArrayFallsBack(t *testing.T) {
	g := testGate(DefaultConfig())
	x := device.NewHost(shape.Of(8), device.Float64, nil)
	sig := NewSignature(OpFFT, x, WithParam("n", 4), WithParam("axis", 0))

	d, args := g.Route(sig)
	assert.Equal(t, Fallback, d)
	assert.Same(t, x, args.Input)
	assert.Equal(t, map[string]any{"n": 4, "axis": 0}, args.Params)
	assert.Equal(t, sig, args.Original)
}

func TestRoute_FFTNormalization(t *testing.T) {
	g := testGate(DefaultConfig())

	tests := []struct {
		name       string
		shape      shape.Shape
		opts       []Option
		wantAxis   int
		wantLength int
	}{
		{"defaults", shape.Of(3, 8), nil, 1, 8},
		{"nil n and axis", shape.Of(3, 8), []Option{WithParam("n", nil), WithParam("axis", nil)}, 1, 8},
		{"explicit axis", shape.Of(3, 8), []Option{WithParam("axis", 0)}, 0, 3},
		{"negative axis", shape.Of(3, 8), []Option{WithParam("axis", -2)}, 0, 3},
		{"explicit n", shape.Of(8), []Option{WithParam("n", 16)}, 0, 16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := sharedArray(t, tt.shape, device.Float64)
			d, args := g.Route(NewSignature(OpFFT, x, tt.opts...))
			require.Equal(t, Accelerated, d)
			assert.Equal(t, tt.wantAxis, args.Axis)
			assert.Equal(t, tt.wantLength, args.Length)
			assert.Equal(t, OpFFT, args.Op)
			assert.Same(t, x, args.Input)
		})
	}
}

func TestRoute_FFTDeclines(t *testing.T) {
	g := testGate(DefaultConfig())

	tests := []struct {
		name  string
		x     device.Array
		opts  []Option
	}{
		{"norm set", sharedArray(t, shape.Of(8), device.Float64), []Option{WithFlag(FlagNorm, true)}},
		{"empty input", sharedArray(t, shape.Of(0), device.Float64), nil},
		{"zero length", sharedArray(t, shape.Of(8), device.Float64), []Option{WithParam("n", 0)}},
		{"negative length", sharedArray(t, shape.Of(8), device.Float64), []Option{WithParam("n", -3)}},
		{"axis out of range", sharedArray(t, shape.Of(8), device.Float64), []Option{WithParam("axis", 1)}},
		{"scalar input", sharedArray(t, shape.Shape{}, device.Float64), nil},
		{"unsupported dtype", sharedArray(t, shape.Of(8), device.Complex64), nil},
		{"bool dtype", sharedArray(t, shape.Of(8), device.Bool), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := NewSignature(OpFFT, tt.x, tt.opts...)
			d, args := g.Route(sig)
			assert.Equal(t, Fallback, d)
			assert.Equal(t, sig, args.Original)
			assert.Same(t, tt.x, args.Input)
		})
	}
}

func TestRoute_FlagAlwaysWins(t *testing.T) {
	g := testGate(DefaultConfig())
	x := sharedArray(t, shape.Of(16), device.Float32)

	d, _ := g.Route(NewSignature(OpFFT, x))
	require.Equal(t, Accelerated, d)

	// A flag passed as unset does not count
	d, _ = g.Route(NewSignature(OpFFT, x, WithFlag(FlagNorm, false)))
	assert.Equal(t, Accelerated, d)

	d, _ = g.Route(NewSignature(OpFFT, x, WithFlag(FlagNorm, true)))
	assert.Equal(t, Fallback, d)
}

func TestRoute_MultiDim(t *testing.T) {
	x1 := sharedArray(t, shape.Of(6), device.Float64)
	x2 := sharedArray(t, shape.Of(2, 3), device.Float64)

	t.Run("disabled by default", func(t *testing.T) {
		g := testGate(DefaultConfig())
		d, _ := g.Route(NewSignature(OpFFT2, x1))
		assert.Equal(t, Fallback, d)
		d, _ = g.Route(NewSignature(OpFFTN, x1))
		assert.Equal(t, Fallback, d)
	})

	t.Run("enabled", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.DisabledOps = nil
		g := testGate(cfg)

		d, args := g.Route(NewSignature(OpFFTN, x1))
		require.Equal(t, Accelerated, d)
		assert.Equal(t, 6, args.Length)
		assert.Equal(t, 0, args.Axis)

		d, _ = g.Route(NewSignature(OpFFTN, x2))
		assert.Equal(t, Fallback, d, "only 1-D input is served")

		d, _ = g.Route(NewSignature(OpFFT2, x1, WithFlag(FlagAxes, true)))
		assert.Equal(t, Fallback, d)

		d, _ = g.Route(NewSignature(OpFFT2, sharedArray(t, shape.Of(6), device.Complex128)))
		assert.Equal(t, Fallback, d)
	})
}

func TestRoute_ForceReference(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ForceReference = true
	g := testGate(cfg)

	d, _ := g.Route(NewSignature(OpFFT, sharedArray(t, shape.Of(8), device.Float64)))
	assert.Equal(t, Fallback, d)
	d, _ = g.Route(NewSignature("exponential", nil, WithParam("scale", 1.0)))
	assert.Equal(t, Fallback, d)
}

func TestRoute_UnknownAndHostOnly(t *testing.T) {
	g := testGate(DefaultConfig())
	x := sharedArray(t, shape.Of(8), device.Float64)

	d, _ := g.Route(NewSignature("matmul", x))
	assert.Equal(t, Fallback, d)
	d, _ = g.Route(NewSignature(OpHamming, nil, WithParam("m", 8)))
	assert.Equal(t, Fallback, d)
}

func TestRoute_Sampling(t *testing.T) {
	g := testGate(DefaultConfig())

	t.Run("scalar params", func(t *testing.T) {
		d, args := g.Route(NewSignature("exponential", nil, WithParam("scale", 2.0), WithSize(shape.Of(4, 3))))
		require.Equal(t, Accelerated, d)
		assert.Equal(t, shape.Of(4, 3), args.Size)
		assert.Equal(t, 2.0, args.Params["scale"])
	})

	t.Run("no size", func(t *testing.T) {
		d, args := g.Route(NewSignature("exponential", nil, WithParam("scale", 2.0)))
		require.Equal(t, Accelerated, d)
		assert.Equal(t, 0, args.Size.Ndim())
	})

	t.Run("array param", func(t *testing.T) {
		scale := device.NewHost(shape.Of(3), device.Float64, []float64{1, 2, 3})
		d, _ := g.Route(NewSignature("exponential", nil, WithParam("scale", scale)))
		assert.Equal(t, Fallback, d)
	})

	t.Run("explicit dtype", func(t *testing.T) {
		d, _ := g.Route(NewSignature("exponential", nil, WithParam("scale", 1.0), WithFlag(FlagDType, true)))
		assert.Equal(t, Fallback, d)
	})

	t.Run("empty size", func(t *testing.T) {
		d, _ := g.Route(NewSignature("exponential", nil, WithParam("scale", 1.0), WithSize(shape.Of(0, 3))))
		assert.Equal(t, Fallback, d)
	})

	t.Run("no accelerator", func(t *testing.T) {
		d, _ := g.WithoutAccelerator().Route(NewSignature("exponential", nil, WithParam("scale", 1.0)))
		assert.Equal(t, Fallback, d)
	})
}

func TestRoute_IdempotentAndConcurrent(t *testing.T) {
	g := testGate(DefaultConfig())
	sig := NewSignature(OpFFT, sharedArray(t, shape.Of(4, 8), device.Int64), WithParam("axis", 0))

	d0, a0 := g.Route(sig)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, a := g.Route(sig)
			assert.Equal(t, d0, d)
			assert.Equal(t, a0.Axis, a.Axis)
			assert.Equal(t, a0.Length, a.Length)
		}()
	}
	wg.Wait()
}

func TestSignature_Immutable(t *testing.T) {
	sz := shape.Of(2, 2)
	sig := NewSignature("exponential", nil, WithSize(sz), WithParam("scale", 1.0), WithFlag(FlagDType, true))
	sz[0] = 9

	got, ok := sig.Size()
	require.True(t, ok)
	assert.Equal(t, shape.Of(2, 2), got)

	got[1] = 7
	again, _ := sig.Size()
	assert.Equal(t, shape.Of(2, 2), again)

	params := sig.Params()
	params["scale"] = 5.0
	v, _ := sig.Param("scale")
	assert.Equal(t, 1.0, v)

	assert.Equal(t, []string{FlagDType}, sig.Flags())
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("NDGATE_ORIGIN", "true")
	t.Setenv("NDGATE_ALLOW_FALLBACK", "0")
	t.Setenv("NDGATE_ENABLE_OPS", "fft2")
	t.Setenv("NDGATE_DISABLE_OPS", "FFT")

	cfg := ConfigFromEnv()
	assert.True(t, cfg.ForceReference)
	assert.False(t, cfg.AllowFallback)
	assert.False(t, cfg.DisabledOps[OpFFT2])
	assert.True(t, cfg.DisabledOps[OpFFTN])
	assert.True(t, cfg.DisabledOps[OpFFT])
}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "accelerated", Accelerated.String())
	assert.Equal(t, "fallback", Fallback.String())
}
