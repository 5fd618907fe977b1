// Package engine is the public entry point for transforms, windows and
// random sampling. Every call is validated where needed, routed by the
// dispatch gate and executed on the accelerated or the reference backend.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/23skdu/longbow-ndgate/internal/backend"
	"github.com/23skdu/longbow-ndgate/internal/device"
	"github.com/23skdu/longbow-ndgate/internal/dispatch"
	"github.com/23skdu/longbow-ndgate/internal/random"
)

var tracer = otel.Tracer("ndgate-engine")

const (
	pathAccelerated = "accelerated"
	pathReference   = "reference"
)

// Options configures an Engine.
type Options struct {
	Config dispatch.Config
	// Platform is what sampling results are negotiated against. The zero
	// value uses the accelerator's aspects, or the host when there is none.
	Platform *random.Platform
	// Accelerated may be nil; every call then takes the reference path.
	Accelerated backend.Accelerated
	Reference   backend.Reference
	// BreakerThreshold consecutive accelerator failures open the breaker
	// for BreakerCooldown. Zero disables the breaker.
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// Engine routes calls between the accelerated and reference backends.
// It is safe for concurrent use.
type Engine struct {
	cfg       dispatch.Config
	gate      *dispatch.Gate
	validator *random.Validator
	accel     backend.Accelerated
	ref       backend.Reference
	breaker   *Breaker
}

// New builds an engine. A sampling rule is registered for every known
// distribution.
func New(opts Options) *Engine {
	cfg := opts.Config.Clone()
	if opts.Accelerated == nil {
		cfg.AcceleratorAvailable = false
	}

	rules := dispatch.DefaultRules()
	for _, name := range random.Names() {
		rules[name] = dispatch.SamplingRule()
	}

	platform := random.DefaultPlatform()
	if opts.Platform != nil {
		platform = *opts.Platform
	} else if a, ok := opts.Accelerated.(interface{ Aspects() device.Aspects }); ok {
		platform.HasFloat64 = a.Aspects().Float64
	}

	ref := opts.Reference
	if ref == nil {
		ref = backend.NewHostReference(uint64(time.Now().UnixNano()))
	}

	return &Engine{
		cfg:       cfg,
		gate:      dispatch.NewGate(cfg, rules),
		validator: random.NewValidator(platform),
		accel:     opts.Accelerated,
		ref:       ref,
		breaker:   NewBreaker(opts.BreakerThreshold, opts.BreakerCooldown),
	}
}

// Config returns the configuration the gate was built with.
func (e *Engine) Config() dispatch.Config {
	return e.cfg.Clone()
}

// Breaker exposes the accelerator circuit breaker.
func (e *Engine) Breaker() *Breaker {
	return e.breaker
}

// Validator exposes the sampling validator.
func (e *Engine) Validator() *random.Validator {
	return e.validator
}

// FFT computes the one-dimensional discrete Fourier transform of x along
// axis (default last) with length n (default the axis length).
func (e *Engine) FFT(ctx context.Context, x device.Array, n, axis *int, norm string) (device.Array, error) {
	return e.transform(ctx, e.fftSignature(dispatch.OpFFT, x, n, axis, norm))
}

// IFFT is the inverse of FFT.
func (e *Engine) IFFT(ctx context.Context, x device.Array, n, axis *int, norm string) (device.Array, error) {
	return e.transform(ctx, e.fftSignature(dispatch.OpIFFT, x, n, axis, norm))
}

// FFT2 computes the two-dimensional transform over axes (default the last two).
func (e *Engine) FFT2(ctx context.Context, x device.Array, s, axes []int, norm string) (device.Array, error) {
	return e.transform(ctx, multiSignature(dispatch.OpFFT2, x, s, axes, norm))
}

// FFTN computes the n-dimensional transform over axes (default all).
func (e *Engine) FFTN(ctx context.Context, x device.Array, s, axes []int, norm string) (device.Array, error) {
	return e.transform(ctx, multiSignature(dispatch.OpFFTN, x, s, axes, norm))
}

// Window returns the named window function of length m.
func (e *Engine) Window(ctx context.Context, name string, m int) (device.Array, error) {
	op := CanonicalName(name)
	if !backend.IsWindow(op) {
		return nil, fmt.Errorf("%w: window %q", backend.ErrUnsupportedOp, name)
	}
	return e.transform(ctx, dispatch.NewSignature(op, nil, dispatch.WithParam(dispatch.ParamM, m)))
}

func (e *Engine) fftSignature(op string, x device.Array, n, axis *int, norm string) dispatch.Signature {
	return dispatch.NewSignature(op, x,
		dispatch.WithParam(dispatch.ParamN, optional(n)),
		dispatch.WithParam(dispatch.ParamAxis, optional(axis)),
		dispatch.WithParam(dispatch.ParamNorm, norm),
		dispatch.WithFlag(dispatch.FlagNorm, norm != ""),
	)
}

func multiSignature(op string, x device.Array, s, axes []int, norm string) dispatch.Signature {
	axesSet := axes != nil
	if op == dispatch.OpFFT2 && len(axes) == 2 && axes[0] == -2 && axes[1] == -1 {
		axesSet = false
	}
	return dispatch.NewSignature(op, x,
		dispatch.WithParam(dispatch.ParamS, s),
		dispatch.WithParam(dispatch.ParamAxes, axes),
		dispatch.WithParam(dispatch.ParamNorm, norm),
		dispatch.WithFlag(dispatch.FlagNorm, norm != ""),
		dispatch.WithFlag(dispatch.FlagAxes, axesSet),
		dispatch.WithFlag(dispatch.FlagShape, s != nil),
	)
}

func optional(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func (e *Engine) transform(ctx context.Context, sig dispatch.Signature) (device.Array, error) {
	return e.run(ctx, sig,
		func(ctx context.Context, args dispatch.Args) (device.Array, error) {
			return e.accel.Execute(ctx, args)
		},
		func(ctx context.Context) (device.Array, error) {
			return e.ref.Execute(ctx, sig)
		},
	)
}

// Sample validates req and draws from the distribution. Validation errors
// are returned before either backend runs.
func (e *Engine) Sample(ctx context.Context, req random.Request) (device.Array, error) {
	req.Distribution = CanonicalName(req.Distribution)
	v, err := e.validator.Validate(req)
	if err != nil {
		validationErrors.WithLabelValues(req.Distribution).Inc()
		return nil, err
	}

	opts := []dispatch.Option{
		dispatch.WithFlag(dispatch.FlagDType, req.DType != nil),
		dispatch.WithSize(v.OutputShape()),
	}
	for name := range req.Params {
		opts = append(opts, dispatch.WithParam(name, gateValue(req.Params[name])))
	}
	sig := dispatch.NewSignature(v.Distribution, nil, opts...)

	return e.run(ctx, sig,
		func(ctx context.Context, _ dispatch.Args) (device.Array, error) {
			return e.accel.Sample(ctx, v)
		},
		func(ctx context.Context) (device.Array, error) {
			return e.ref.Sample(ctx, v)
		},
	)
}

// gateValue presents a parameter to the gate: scalars as numbers, arrays
// as values the gate does not treat as scalar.
func gateValue(v random.Value) any {
	if v.IsScalar() {
		return v.Float()
	}
	return v
}

type accelFunc func(context.Context, dispatch.Args) (device.Array, error)
type refFunc func(context.Context) (device.Array, error)

func (e *Engine) run(ctx context.Context, sig dispatch.Signature, accel accelFunc, ref refFunc) (device.Array, error) {
	op := sig.Op()
	ctx, span := tracer.Start(ctx, op, trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	decision, args := e.route(sig)
	path := pathReference
	if decision == dispatch.Accelerated {
		path = pathAccelerated
	}
	span.SetAttributes(
		attribute.String("op", op),
		attribute.String("path", path),
	)
	log.Debug().Str("op", op).Str("path", path).Msg("Dispatch decision")

	if decision == dispatch.Fallback && !e.cfg.AllowFallback {
		err := fmt.Errorf("%s: %w", op, dispatch.ErrFallbackNotAllowed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	dispatchTotal.WithLabelValues(op, path).Inc()

	start := time.Now()
	var (
		out device.Array
		err error
	)
	if decision == dispatch.Accelerated {
		out, err = accel(ctx, args)
		switch {
		case err == nil:
			e.breaker.Success()
		case isCancellation(err):
			e.breaker.Abandon()
		default:
			e.breaker.Failure()
		}
	} else {
		out, err = ref(ctx)
	}
	executeDuration.WithLabelValues(op, path).Observe(time.Since(start).Seconds())

	if err != nil {
		backendErrors.WithLabelValues(op, path).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Debug().Err(err).Str("op", op).Str("path", path).Msg("Backend error")
		return nil, err
	}
	return out, nil
}

// route applies the gate unless the breaker has taken the accelerator out
// of service, in which case every call falls back.
func (e *Engine) route(sig dispatch.Signature) (dispatch.Decision, dispatch.Args) {
	if e.accel == nil {
		return dispatch.Fallback, dispatch.Args{Op: sig.Op(), Input: sig.Primary(), Params: sig.Params(), Original: sig}
	}
	decision, args := e.gate.Route(sig)
	if decision == dispatch.Accelerated && !e.breaker.Allow() {
		log.Debug().Str("op", sig.Op()).Msg("Accelerator breaker open, falling back")
		return dispatch.Fallback, dispatch.Args{Op: sig.Op(), Input: sig.Primary(), Params: sig.Params(), Original: sig}
	}
	return decision, args
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
