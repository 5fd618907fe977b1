package dispatch

import (
	"sort"

	"github.com/23skdu/longbow-ndgate/internal/device"
	"github.com/23skdu/longbow-ndgate/internal/shape"
)

// Signature captures one call: the operation, its primary array, named
// parameters and which unsupported options were given non-default values.
// It is immutable once built.
type Signature struct {
	op      string
	primary device.Array
	params  map[string]any
	flags   map[string]bool
	size    shape.Shape
	hasSize bool
}

// Option configures a Signature under construction.
type Option func(*Signature)

// WithParam records a named parameter. A nil value means "not given".
func WithParam(name string, v any) Option {
	if ints, ok := v.([]int); ok && ints != nil {
		v = append([]int(nil), ints...)
	}
	return func(s *Signature) {
		s.params[name] = v
	}
}

// WithFlag records whether an unsupported option was set to a non-default value.
func WithFlag(name string, set bool) Option {
	return func(s *Signature) {
		if set {
			s.flags[name] = true
		}
	}
}

// WithSize records the requested output shape.
func WithSize(sz shape.Shape) Option {
	return func(s *Signature) {
		s.size = sz.Clone()
		s.hasSize = true
	}
}

// NewSignature builds a Signature. primary may be nil for operations without
// an array argument.
func NewSignature(op string, primary device.Array, opts ...Option) Signature {
	s := Signature{
		op:      op,
		primary: primary,
		params:  make(map[string]any),
		flags:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func (s Signature) Op() string { return s.op }
func (s Signature) Primary() device.Array { return s.primary }

// Param returns a parameter; ok is false when absent or nil.
func (s Signature) Param(name string) (any, bool) {
	v, ok := s.params[name]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// IntParam returns an integer parameter given as int, int32 or int64.
func (s Signature) IntParam(name string) (int, bool) {
	v, ok := s.Param(name)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case *int:
		if n == nil {
			return 0, false
		}
		return *n, true
	}
	return 0, false
}

// Params returns a copy of all parameters.
func (s Signature) Params() map[string]any {
	out := make(map[string]any, len(s.params))
	for k, v := range s.params {
		out[k] = v
	}
	return out
}

// ParamNames returns the parameter names in sorted order.
func (s Signature) ParamNames() []string {
	names := make([]string, 0, len(s.params))
	for k := range s.params {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Flag reports whether the named unsupported option was set.
func (s Signature) Flag(name string) bool {
	return s.flags[name]
}

// Flags returns the set flags in sorted order.
func (s Signature) Flags() []string {
	out := make([]string, 0, len(s.flags))
	for k := range s.flags {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Size returns the requested output shape, if one was given.
func (s Signature) Size() (shape.Shape, bool) {
	if !s.hasSize {
		return nil, false
	}
	return s.size.Clone(), true
}

// IntsParam returns an integer list parameter such as axes.
func (s Signature) IntsParam(name string) ([]int, bool) {
	v, ok := s.Param(name)
	if !ok {
		return nil, false
	}
	ints, ok := v.([]int)
	if !ok || ints == nil {
		return nil, false
	}
	out := make([]int, len(ints))
	copy(out, ints)
	return out, true
}

// StringParam returns a string parameter; the empty string counts as absent.
func (s Signature) StringParam(name string) (string, bool) {
	v, ok := s.Param(name)
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	return str, ok && str != ""
}
