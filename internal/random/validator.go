// Package random validates sampling requests for the statistical
// distributions exposed by the engine: parameter domains, shape broadcasting
// and result dtype negotiation. Validation happens before either backend runs.
package random

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/23skdu/longbow-ndgate/internal/device"
	"github.com/23skdu/longbow-ndgate/internal/shape"
)

// Request is a sampling call as received from the caller.
type Request struct {
	Distribution string
	// Params maps parameter names to values. A missing key takes the
	// parameter's default; an explicit None is an error.
	Params map[string]Value
	// Size is the requested output shape, nil when absent.
	Size shape.Shape
	// DType is the requested result dtype, nil when absent.
	DType *device.DType
}

// Platform describes the numeric capabilities results are negotiated against.
type Platform struct {
	HasFloat64    bool
	NativeIntBits int
}

// DefaultPlatform is a host with double precision and the Go int width.
func DefaultPlatform() Platform {
	return Platform{HasFloat64: true, NativeIntBits: strconv.IntSize}
}

// Validated is a request whose parameters passed every domain check.
type Validated struct {
	Distribution string
	// Shape is the broadcast batch shape.
	Shape shape.Shape
	// EventShape is the trailing per-sample shape of multivariate
	// distributions, empty otherwise.
	EventShape shape.Shape
	DType      device.DType
	// Params are coerced to the negotiated dtype and keep their own shapes;
	// each broadcasts to Shape.
	Params map[string]Value
}

// OutputShape is Shape followed by EventShape.
func (v *Validated) OutputShape() shape.Shape {
	out := make(shape.Shape, 0, len(v.Shape)+len(v.EventShape))
	out = append(out, v.Shape...)
	return append(out, v.EventShape...)
}

// Param returns the named parameter materialized at the batch shape.
func (v *Validated) Param(name string) []float64 {
	p, ok := v.Params[name]
	if !ok {
		return nil
	}
	if table[v.Distribution].event != nil {
		return p.Data()
	}
	return p.expand(v.Shape)
}

// Scalars returns the parameters as plain numbers when every one is 0-d.
func (v *Validated) Scalars() (map[string]float64, bool) {
	out := make(map[string]float64, len(v.Params))
	for name, p := range v.Params {
		if !p.IsScalar() {
			return nil, false
		}
		out[name] = p.Float()
	}
	return out, true
}

// Request rebuilds a request equivalent to v. Validating it again yields the
// same shape and dtype.
func (v *Validated) Request() Request {
	params := make(map[string]Value, len(v.Params))
	for k, p := range v.Params {
		params[k] = p
	}
	dtype := v.DType
	return Request{
		Distribution: v.Distribution,
		Params:       params,
		Size:         v.Shape.Clone(),
		DType:        &dtype,
	}
}

// Validator checks requests against the distribution table.
type Validator struct {
	platform Platform
}

func NewValidator(p Platform) *Validator {
	if p.NativeIntBits == 0 {
		p.NativeIntBits = strconv.IntSize
	}
	return &Validator{platform: p}
}

func (v *Validator) Platform() Platform {
	return v.platform
}

// Validate resolves defaults, broadcasts parameter shapes, checks every
// parameter domain and negotiates the result dtype. It does no sampling.
func (v *Validator) Validate(req Request) (*Validated, error) {
	dist, ok := table[req.Distribution]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDistribution, req.Distribution)
	}
	name := req.Distribution

	params := req.Params
	if dist.prepare != nil {
		params = dist.prepare(params)
	}

	resolved, err := resolve(name, dist, params)
	if err != nil {
		return nil, err
	}

	// Element-wise domains first so a bad value is reported even when
	// shapes would not broadcast.
	for _, prm := range dist.params {
		val, err := v.checkParam(name, prm, resolved[prm.name])
		if err != nil {
			return nil, err
		}
		resolved[prm.name] = val
	}

	var batch, event shape.Shape
	if dist.event != nil {
		event, err = dist.event(name, resolved)
		if err != nil {
			return nil, err
		}
		batch = shape.Shape{}
		if req.Size != nil {
			batch = req.Size.Clone()
		}
	} else {
		batch, err = broadcast(name, dist, resolved, req.Size)
		if err != nil {
			return nil, err
		}
	}

	for _, jc := range dist.joint {
		if err := checkJoint(name, jc, resolved); err != nil {
			return nil, err
		}
	}

	dtype, err := v.negotiate(name, dist.result, req.DType)
	if err != nil {
		return nil, err
	}

	out := &Validated{
		Distribution: name,
		Shape:        batch,
		EventShape:   event,
		DType:        dtype,
		Params:       make(map[string]Value, len(resolved)),
	}
	if out.EventShape == nil {
		out.EventShape = shape.Shape{}
	}
	for _, prm := range dist.params {
		out.Params[prm.name] = resolved[prm.name].coerce(v.paramDType(prm, dtype))
	}
	return out, nil
}

func resolve(name string, dist distribution, params map[string]Value) (map[string]Value, error) {
	known := make(map[string]bool, len(dist.params))
	for _, prm := range dist.params {
		known[prm.name] = true
	}
	var extra []string
	for k := range params {
		if !known[k] {
			extra = append(extra, k)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		return nil, fmt.Errorf("%w: %s does not take %v", ErrUnexpectedParameter, name, extra)
	}

	out := make(map[string]Value, len(dist.params))
	for _, prm := range dist.params {
		val, present := params[prm.name]
		switch {
		case present && val.IsNone():
			return nil, fmt.Errorf("%w: %s: %s is None", ErrMissingParameter, name, prm.name)
		case present:
			out[prm.name] = val
		case prm.def != nil:
			out[prm.name] = Scalar(*prm.def)
		default:
			return nil, fmt.Errorf("%w: %s: %s", ErrMissingParameter, name, prm.name)
		}
	}
	return out, nil
}

// checkParam checks every element of val against the parameter's domain.
// Native int parameters are truncated first, so the domain and joint checks
// see the integers the sampler will use.
func (v *Validator) checkParam(name string, prm param, val Value) (Value, error) {
	if prm.nativeInt {
		for _, x := range val.data {
			if !fitsInt(x, v.platform.NativeIntBits) {
				return Value{}, &DomainError{
					Distribution: name,
					Param:        prm.name,
					Constraint:   fmt.Sprintf("representable as int%d", v.platform.NativeIntBits),
				}
			}
		}
		val = val.truncate()
	}
	for _, x := range val.data {
		for _, pred := range prm.checks {
			if !pred.test(x) {
				return Value{}, &DomainError{Distribution: name, Param: prm.name, Constraint: pred.text}
			}
		}
	}
	return val, nil
}

func fitsInt(x float64, bits int) bool {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return false
	}
	limit := math.Ldexp(1, bits-1)
	return x >= -limit && x < limit
}

func broadcast(name string, dist distribution, params map[string]Value, size shape.Shape) (shape.Shape, error) {
	if size != nil {
		for _, prm := range dist.params {
			if err := shape.BroadcastTo(params[prm.name].Shape(), size); err != nil {
				return nil, &ShapeBroadcastError{Distribution: name, Param: prm.name, Err: err}
			}
		}
		return size.Clone(), nil
	}

	out := shape.Shape{}
	for _, prm := range dist.params {
		next, err := shape.BroadcastPair(out, params[prm.name].Shape())
		if err != nil {
			return nil, &ShapeBroadcastError{Distribution: name, Param: prm.name, Err: err}
		}
		out = next
	}
	return out, nil
}

func checkJoint(name string, jc jointCheck, params map[string]Value) error {
	shapes := make([]shape.Shape, len(jc.names))
	for i, n := range jc.names {
		shapes[i] = params[n].Shape()
	}
	common, err := shape.Broadcast(shapes...)
	if err != nil {
		return &ShapeBroadcastError{Distribution: name, Param: jc.param, Err: err}
	}

	cols := make([][]float64, len(jc.names))
	for i, n := range jc.names {
		cols[i] = params[n].expand(common)
	}
	row := make([]float64, len(jc.names))
	for e := 0; e < common.NumElements(); e++ {
		for i := range cols {
			row[i] = cols[i][e]
		}
		if !jc.test(row) {
			return &DomainError{Distribution: name, Param: jc.param, Constraint: jc.constraint}
		}
	}
	return nil
}

func (v *Validator) nativeInt() device.DType {
	if v.platform.NativeIntBits == 32 {
		return device.Int32
	}
	return device.Int64
}

func (v *Validator) nativeFloat() device.DType {
	if v.platform.HasFloat64 {
		return device.Float64
	}
	return device.Float32
}

// negotiate picks the result dtype. Float64 requests narrow to Float32 on a
// platform without double precision; a dtype of the wrong kind is an error.
func (v *Validator) negotiate(name string, result kind, requested *device.DType) (device.DType, error) {
	if result == intResult {
		if requested == nil {
			return v.nativeInt(), nil
		}
		if !requested.IsInteger() {
			return 0, dtypeError(name, result, *requested)
		}
		return *requested, nil
	}

	if requested == nil {
		return v.nativeFloat(), nil
	}
	if requested.Kind() != device.KindFloat {
		return 0, dtypeError(name, result, *requested)
	}
	if *requested == device.Float64 && !v.platform.HasFloat64 {
		return device.Float32, nil
	}
	return *requested, nil
}

// paramDType is the dtype a parameter is coerced to. Float results carry
// their parameters at the result width.
func (v *Validator) paramDType(prm param, result device.DType) device.DType {
	switch {
	case prm.nativeInt:
		return v.nativeInt()
	case result.Kind() == device.KindFloat:
		return result
	default:
		return v.nativeFloat()
	}
}
