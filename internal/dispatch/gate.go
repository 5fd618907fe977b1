// Package dispatch decides, per call, whether an operation runs on the
// accelerated backend or on the reference backend.
package dispatch

import (
	"errors"

	"github.com/23skdu/longbow-ndgate/internal/device"
	"github.com/23skdu/longbow-ndgate/internal/shape"
)

// ErrFallbackNotAllowed is returned by executors when a call is routed to the
// reference backend while Config.AllowFallback is false.
var ErrFallbackNotAllowed = errors.New("operation is not supported on the accelerated path and fallback is disabled")

// Decision is the routing outcome for one call.
type Decision int

const (
	Fallback Decision = iota
	Accelerated
)

func (d Decision) String() string {
	if d == Accelerated {
		return "accelerated"
	}
	return "fallback"
}

// Args are the arguments handed to a backend. On Accelerated they carry
// resolved defaults; on Fallback only Original is meaningful.
type Args struct {
	Op    string
	Input device.Array
	// Axis is the resolved transform axis.
	Axis int
	// Length is the resolved transform length.
	Length int
	// Size is the resolved output shape of a sampling call.
	Size   shape.Shape
	Params map[string]any

	Original Signature
}

// Gate routes calls using a table of per-operation rules.
// It holds no mutable state; Route may be called concurrently.
type Gate struct {
	cfg   Config
	rules map[string]Rule
}

// NewGate creates a gate. rules are copied.
func NewGate(cfg Config, rules map[string]Rule) *Gate {
	r := make(map[string]Rule, len(rules))
	for k, v := range rules {
		r[k] = v
	}
	return &Gate{cfg: cfg.Clone(), rules: r}
}

// Config returns a copy of the gate's configuration.
func (g *Gate) Config() Config {
	return g.cfg.Clone()
}

// WithoutAccelerator returns a gate with the same rules that treats the
// accelerator as absent for operations without a primary array.
func (g *Gate) WithoutAccelerator() *Gate {
	cfg := g.cfg.Clone()
	cfg.AcceleratorAvailable = false
	return &Gate{cfg: cfg, rules: g.rules}
}

// Rule returns the routing rule for op.
func (g *Gate) Rule(op string) (Rule, bool) {
	r, ok := g.rules[op]
	return r, ok
}

// Route evaluates eligibility for the accelerated path. Every ineligible call
// is returned as Fallback with its arguments untouched; degenerate inputs are
// never treated as errors here so that the reference backend raises them.
func (g *Gate) Route(sig Signature) (Decision, Args) {
	fallback := Args{Op: sig.op, Input: sig.primary, Params: sig.Params(), Original: sig}

	rule, ok := g.rules[sig.op]
	if !ok || rule.HostOnly || g.cfg.ForceReference || g.cfg.disabled(sig.op) {
		return Fallback, fallback
	}

	if rule.NeedsPrimary {
		if _, resident := device.Residency(sig.primary); !resident {
			return Fallback, fallback
		}
	} else if !g.cfg.AcceleratorAvailable {
		return Fallback, fallback
	}

	for _, flag := range rule.Unsupported {
		if sig.Flag(flag) {
			return Fallback, fallback
		}
	}

	if rule.NeedsPrimary && !rule.supportsDType(sig.primary.DType()) {
		return Fallback, fallback
	}

	args, ok := rule.Normalize(sig)
	if !ok {
		return Fallback, fallback
	}
	args.Op = sig.op
	args.Original = sig
	return Accelerated, args
}
