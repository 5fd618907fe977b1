package random

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-ndgate/internal/shape"
)

type kind int

const (
	floatResult kind = iota
	intResult
)

func (k kind) String() string {
	if k == intResult {
		return "integer"
	}
	return "floating point"
}

// predicate is a per-element domain constraint.
type predicate struct {
	text string
	test func(float64) bool
}

var (
	positive     = predicate{"> 0", func(v float64) bool { return v > 0 }}
	nonNegative  = predicate{">= 0", func(v float64) bool { return v >= 0 }}
	probability  = predicate{"in [0, 1]", func(v float64) bool { return v >= 0 && v <= 1 }}
	openUnit     = predicate{"in (0, 1)", func(v float64) bool { return v > 0 && v < 1 }}
	halfOpenUnit = predicate{"in (0, 1]", func(v float64) bool { return v > 0 && v <= 1 }}
	aboveOne     = predicate{"> 1", func(v float64) bool { return v > 1 }}
	atLeastOne   = predicate{">= 1", func(v float64) bool { return v >= 1 }}
	finite       = predicate{"finite", func(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }}
)

// param describes one distribution parameter.
type param struct {
	name      string
	def       *float64
	checks    []predicate
	nativeInt bool // must be representable in the platform's native int
}

func p(name string, checks ...predicate) param {
	return param{name: name, checks: checks}
}

func pd(name string, def float64, checks ...predicate) param {
	return param{name: name, def: &def, checks: checks}
}

// jointCheck evaluates a constraint across several broadcast parameters.
// vals holds one element of each named parameter, in the order of names.
type jointCheck struct {
	names      []string
	constraint string
	param      string // reported as the offending parameter
	test       func(vals []float64) bool
}

// eventFunc validates the non-broadcast parameters of a multivariate
// distribution and returns the trailing event shape.
type eventFunc func(dist string, params map[string]Value) (shape.Shape, error)

// distribution is one row of the constraint table.
type distribution struct {
	params []param
	joint  []jointCheck
	result kind
	event  eventFunc
	// prepare rewrites parameters before validation (optional arguments
	// that shift meaning, as in randint(high) == randint(0, high)).
	prepare func(map[string]Value) map[string]Value
}

var table = map[string]distribution{
	"beta": {params: []param{p("a", positive), p("b", positive)}},
	"binomial": {
		params: []param{{name: "n", checks: []predicate{nonNegative}, nativeInt: true}, p("p", probability)},
		result: intResult,
	},
	"chisquare":   {params: []param{p("df", positive)}},
	"dirichlet":   {params: []param{p("alpha", positive)}, event: dirichletEvent},
	"exponential": {params: []param{pd("scale", 1, nonNegative)}},
	"f":           {params: []param{p("dfnum", positive), p("dfden", positive)}},
	"gamma":       {params: []param{p("shape", nonNegative), pd("scale", 1, nonNegative)}},
	"geometric":   {params: []param{p("p", halfOpenUnit)}, result: intResult},
	"gumbel":      {params: []param{pd("loc", 0, finite), pd("scale", 1, nonNegative)}},
	"hypergeometric": {
		params: []param{
			{name: "ngood", checks: []predicate{nonNegative}, nativeInt: true},
			{name: "nbad", checks: []predicate{nonNegative}, nativeInt: true},
			{name: "nsample", checks: []predicate{atLeastOne}, nativeInt: true},
		},
		joint: []jointCheck{{
			names:      []string{"ngood", "nbad", "nsample"},
			param:      "nsample",
			constraint: "<= ngood + nbad",
			test:       func(v []float64) bool { return v[2] <= v[0]+v[1] },
		}},
		result: intResult,
	},
	"laplace":   {params: []param{pd("loc", 0, finite), pd("scale", 1, nonNegative)}},
	"logistic":  {params: []param{pd("loc", 0, finite), pd("scale", 1, nonNegative)}},
	"lognormal": {params: []param{pd("mean", 0, finite), pd("sigma", 1, nonNegative)}},
	"logseries": {params: []param{p("p", openUnit)}, result: intResult},
	"multivariate_normal": {
		params: []param{p("mean", finite), p("cov", finite)},
		event:  multivariateNormalEvent,
	},
	"negative_binomial":    {params: []param{p("n", positive), p("p", halfOpenUnit)}, result: intResult},
	"noncentral_chisquare": {params: []param{p("df", positive), p("nonc", positive)}},
	"noncentral_f":         {params: []param{p("dfnum", positive), p("dfden", positive), p("nonc", positive)}},
	"normal":               {params: []param{pd("loc", 0, finite), pd("scale", 1, nonNegative)}},
	"pareto":               {params: []param{p("a", positive)}},
	"poisson":              {params: []param{pd("lam", 1, nonNegative, finite)}, result: intResult},
	"power":                {params: []param{p("a", positive)}},
	"rayleigh":             {params: []param{pd("scale", 1, nonNegative)}},
	"random_sample":        {},
	"randint": {
		params: []param{
			{name: "low", checks: []predicate{finite}, nativeInt: true},
			{name: "high", checks: []predicate{finite}, nativeInt: true},
		},
		joint: []jointCheck{
			{
				names:      []string{"low", "high"},
				param:      "high",
				constraint: "> low",
				test:       func(v []float64) bool { return v[0] < v[1] },
			},
			{
				names:      []string{"low", "high"},
				param:      "high",
				constraint: "within 2**63 - 1 of low",
				test:       func(v []float64) bool { return v[1]-v[0] < math.Ldexp(1, 63) },
			},
		},
		result:  intResult,
		prepare: prepareRandint,
	},
	"standard_cauchy":      {},
	"standard_exponential": {},
	"standard_gamma":       {params: []param{p("shape", nonNegative)}},
	"standard_normal":      {},
	"standard_t":           {params: []param{p("df", positive)}},
	"triangular": {
		params: []param{p("left", finite), p("mode", finite), p("right", finite)},
		joint: []jointCheck{
			{
				names:      []string{"left", "mode"},
				param:      "mode",
				constraint: ">= left",
				test:       func(v []float64) bool { return v[0] <= v[1] },
			},
			{
				names:      []string{"mode", "right"},
				param:      "mode",
				constraint: "<= right",
				test:       func(v []float64) bool { return v[0] <= v[1] },
			},
			{
				names:      []string{"left", "right"},
				param:      "left",
				constraint: "< right",
				test:       func(v []float64) bool { return v[0] < v[1] },
			},
		},
	},
	"uniform":  {params: []param{pd("low", 0, finite), pd("high", 1, finite)}},
	"vonmises": {params: []param{p("mu", finite), p("kappa", nonNegative)}},
	"wald":     {params: []param{p("mean", positive), p("scale", positive)}},
	"weibull":  {params: []param{p("a", nonNegative)}},
	"zipf":     {params: []param{p("a", aboveOne)}, result: intResult},
}

// Names returns every supported distribution in sorted order.
func Names() []string {
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParamNames returns the parameter names of a distribution in call order.
func ParamNames(dist string) ([]string, bool) {
	d, ok := table[dist]
	if !ok {
		return nil, false
	}
	out := make([]string, len(d.params))
	for i, prm := range d.params {
		out[i] = prm.name
	}
	return out, true
}

// IsInteger reports whether a distribution produces integer samples.
func IsInteger(dist string) bool {
	return table[dist].result == intResult
}

// IsMultivariate reports whether samples carry a trailing event dimension.
func IsMultivariate(dist string) bool {
	return table[dist].event != nil
}

func prepareRandint(params map[string]Value) map[string]Value {
	high, ok := params["high"]
	if ok && !high.IsNone() {
		return params
	}
	out := make(map[string]Value, len(params))
	for k, v := range params {
		out[k] = v
	}
	out["high"] = params["low"]
	out["low"] = Int(0)
	return out
}

func dirichletEvent(dist string, params map[string]Value) (shape.Shape, error) {
	alpha := params["alpha"]
	if alpha.Shape().Ndim() != 1 {
		return nil, &ShapeBroadcastError{Distribution: dist, Param: "alpha", Err: fmt.Errorf("alpha must be 1-dimensional, got shape %v", alpha.Shape())}
	}
	return shape.Of(alpha.Len()), nil
}

func multivariateNormalEvent(dist string, params map[string]Value) (shape.Shape, error) {
	mean, cov := params["mean"], params["cov"]
	if mean.Shape().Ndim() != 1 {
		return nil, &ShapeBroadcastError{Distribution: dist, Param: "mean", Err: fmt.Errorf("mean must be 1 dimensional, got shape %v", mean.Shape())}
	}
	d := mean.Len()
	cs := cov.Shape()
	if cs.Ndim() != 2 || cs[0] != cs[1] {
		return nil, &ShapeBroadcastError{Distribution: dist, Param: "cov", Err: fmt.Errorf("cov must be 2 dimensional and square, got shape %v", cs)}
	}
	if cs[0] != d {
		return nil, &ShapeBroadcastError{Distribution: dist, Param: "cov", Err: fmt.Errorf("mean and cov must have same length, got %d and %d", d, cs[0])}
	}

	// Like numpy's default check_valid="warn", an invalid covariance is
	// reported but not rejected.
	raw := cov.Data()
	if d > 0 && (!symmetric(raw, d) || !positiveSemidefinite(mat.NewSymDense(d, raw))) {
		log.Warn().
			Str("distribution", dist).
			Int("dim", d).
			Msg("covariance is not symmetric positive-semidefinite")
	}
	return shape.Of(d), nil
}

func symmetric(raw []float64, d int) bool {
	for i := 0; i < d; i++ {
		for j := i + 1; j < d; j++ {
			if math.Abs(raw[i*d+j]-raw[j*d+i]) > 1e-8*(1+math.Abs(raw[i*d+j])) {
				return false
			}
		}
	}
	return true
}

func positiveSemidefinite(sym *mat.SymDense) bool {
	var eig mat.EigenSym
	if ok := eig.Factorize(sym, false); !ok {
		return false
	}
	vals := eig.Values(nil)
	scale := 0.0
	for _, v := range vals {
		scale = math.Max(scale, math.Abs(v))
	}
	for _, v := range vals {
		if v < -1e-10*math.Max(scale, 1) {
			return false
		}
	}
	return true
}
