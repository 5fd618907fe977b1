package backend

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/23skdu/longbow-ndgate/internal/random"
)

// drawFunc produces one sample from parameters given in table order.
type drawFunc func(r *rand.Rand, p []float64) float64

var univariate = map[string]drawFunc{
	"beta": func(r *rand.Rand, p []float64) float64 {
		return distuv.Beta{Alpha: p[0], Beta: p[1], Src: r}.Rand()
	},
	"binomial": func(r *rand.Rand, p []float64) float64 {
		n, prob := p[0], p[1]
		switch {
		case n == 0 || prob == 0:
			return 0
		case prob == 1:
			return n
		}
		return distuv.Binomial{N: n, P: prob, Src: r}.Rand()
	},
	"chisquare": func(r *rand.Rand, p []float64) float64 {
		return distuv.ChiSquared{K: p[0], Src: r}.Rand()
	},
	"exponential": func(r *rand.Rand, p []float64) float64 {
		return p[0] * r.ExpFloat64()
	},
	"f": func(r *rand.Rand, p []float64) float64 {
		return distuv.F{D1: p[0], D2: p[1], Src: r}.Rand()
	},
	"gamma": func(r *rand.Rand, p []float64) float64 {
		return p[1] * standardGamma(r, p[0])
	},
	"geometric": func(r *rand.Rand, p []float64) float64 {
		return geometric(r, p[0])
	},
	"gumbel": func(r *rand.Rand, p []float64) float64 {
		if p[1] == 0 {
			return p[0]
		}
		return distuv.GumbelRight{Mu: p[0], Beta: p[1], Src: r}.Rand()
	},
	"hypergeometric": func(r *rand.Rand, p []float64) float64 {
		return hypergeometric(r, p[0], p[1], p[2])
	},
	"laplace": func(r *rand.Rand, p []float64) float64 {
		if p[1] == 0 {
			return p[0]
		}
		return distuv.Laplace{Mu: p[0], Scale: p[1], Src: r}.Rand()
	},
	"logistic": func(r *rand.Rand, p []float64) float64 {
		return distuv.Logistic{Mu: p[0], S: p[1]}.Quantile(openFloat(r))
	},
	"lognormal": func(r *rand.Rand, p []float64) float64 {
		if p[1] == 0 {
			return math.Exp(p[0])
		}
		return distuv.LogNormal{Mu: p[0], Sigma: p[1], Src: r}.Rand()
	},
	"logseries": func(r *rand.Rand, p []float64) float64 {
		return logseries(r, p[0])
	},
	"negative_binomial": func(r *rand.Rand, p []float64) float64 {
		n, prob := p[0], p[1]
		if prob == 1 {
			return 0
		}
		return poisson(r, standardGamma(r, n)*(1-prob)/prob)
	},
	"noncentral_chisquare": func(r *rand.Rand, p []float64) float64 {
		return noncentralChisquare(r, p[0], p[1])
	},
	"noncentral_f": func(r *rand.Rand, p []float64) float64 {
		t := noncentralChisquare(r, p[0], p[2]) * p[1]
		return t / (distuv.ChiSquared{K: p[1], Src: r}.Rand() * p[0])
	},
	"normal": func(r *rand.Rand, p []float64) float64 {
		return p[0] + p[1]*r.NormFloat64()
	},
	"pareto": func(r *rand.Rand, p []float64) float64 {
		return distuv.Pareto{Xm: 1, Alpha: p[0], Src: r}.Rand() - 1
	},
	"poisson": func(r *rand.Rand, p []float64) float64 {
		return poisson(r, p[0])
	},
	"power": func(r *rand.Rand, p []float64) float64 {
		return math.Pow(1-r.Float64(), 1/p[0])
	},
	"rayleigh": func(r *rand.Rand, p []float64) float64 {
		return p[0] * math.Sqrt(2*r.ExpFloat64())
	},
	"random_sample": func(r *rand.Rand, _ []float64) float64 {
		return r.Float64()
	},
	"randint": func(r *rand.Rand, p []float64) float64 {
		low, high := int64(p[0]), int64(p[1])
		return float64(low + r.Int64N(high-low))
	},
	"standard_cauchy": func(r *rand.Rand, _ []float64) float64 {
		return r.NormFloat64() / r.NormFloat64()
	},
	"standard_exponential": func(r *rand.Rand, _ []float64) float64 {
		return r.ExpFloat64()
	},
	"standard_gamma": func(r *rand.Rand, p []float64) float64 {
		return standardGamma(r, p[0])
	},
	"standard_normal": func(r *rand.Rand, _ []float64) float64 {
		return r.NormFloat64()
	},
	"standard_t": func(r *rand.Rand, p []float64) float64 {
		return distuv.StudentsT{Mu: 0, Sigma: 1, Nu: p[0], Src: r}.Rand()
	},
	"triangular": func(r *rand.Rand, p []float64) float64 {
		return distuv.NewTriangle(p[0], p[2], p[1], r).Rand()
	},
	"uniform": func(r *rand.Rand, p []float64) float64 {
		return p[0] + (p[1]-p[0])*r.Float64()
	},
	"vonmises": func(r *rand.Rand, p []float64) float64 {
		return vonmises(r, p[0], p[1])
	},
	"wald": func(r *rand.Rand, p []float64) float64 {
		return wald(r, p[0], p[1])
	},
	"weibull": func(r *rand.Rand, p []float64) float64 {
		if p[0] == 0 {
			return 0
		}
		return distuv.Weibull{K: p[0], Lambda: 1, Src: r}.Rand()
	},
	"zipf": func(r *rand.Rand, p []float64) float64 {
		return zipf(r, p[0])
	},
}

// Sampler draws from validated requests. Each call gets its own generator
// derived from a seeded master, so concurrent calls never share state.
type Sampler struct {
	mu     sync.Mutex
	master *rand.Rand
}

// NewSampler creates a sampler. The same seed yields the same sequence of
// calls.
func NewSampler(seed uint64) *Sampler {
	return &Sampler{master: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *Sampler) stream() *rand.Rand {
	s.mu.Lock()
	defer s.mu.Unlock()
	return rand.New(rand.NewPCG(s.master.Uint64(), s.master.Uint64()))
}

// Draw returns samples for v in row-major order over v.OutputShape(),
// rounded to v.DType.
func (s *Sampler) Draw(ctx context.Context, v *random.Validated) ([]float64, error) {
	r := s.stream()

	var (
		out []float64
		err error
	)
	switch v.Distribution {
	case "dirichlet":
		out, err = drawDirichlet(ctx, r, v)
	case "multivariate_normal":
		out, err = drawMultivariateNormal(ctx, r, v)
	default:
		out, err = drawUnivariate(ctx, r, v)
	}
	if err != nil {
		return nil, err
	}
	v.DType.RoundSlice(out)
	return out, nil
}

func drawUnivariate(ctx context.Context, r *rand.Rand, v *random.Validated) ([]float64, error) {
	draw, ok := univariate[v.Distribution]
	if !ok {
		return nil, fmt.Errorf("%w: sampling %q", ErrUnsupportedOp, v.Distribution)
	}
	names, _ := random.ParamNames(v.Distribution)
	cols := make([][]float64, len(names))
	for i, name := range names {
		cols[i] = v.Param(name)
	}

	n := v.Shape.NumElements()
	out := make([]float64, n)
	p := make([]float64, len(names))
	for e := 0; e < n; e++ {
		if e%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for i := range cols {
			p[i] = cols[i][e]
		}
		out[e] = draw(r, p)
	}
	return out, nil
}

func drawDirichlet(ctx context.Context, r *rand.Rand, v *random.Validated) ([]float64, error) {
	alpha := v.Param("alpha")
	k := len(alpha)
	n := v.Shape.NumElements()
	out := make([]float64, 0, n*k)
	if k == 0 {
		return out, nil
	}
	dist := distmv.NewDirichlet(alpha, r)
	for e := 0; e < n; e++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, dist.Rand(nil)...)
	}
	return out, nil
}

func drawMultivariateNormal(ctx context.Context, r *rand.Rand, v *random.Validated) ([]float64, error) {
	mean := v.Param("mean")
	d := len(mean)
	n := v.Shape.NumElements()
	out := make([]float64, 0, n*d)
	if d == 0 {
		return out, nil
	}
	cov := mat.NewSymDense(d, v.Param("cov"))

	next, err := mvnSampler(mean, cov, r)
	if err != nil {
		return nil, err
	}
	for e := 0; e < n; e++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, next()...)
	}
	return out, nil
}

// mvnSampler uses gonum's Cholesky based normal when cov is positive
// definite and an eigendecomposition otherwise, clipping negative
// eigenvalues to zero.
func mvnSampler(mean []float64, cov *mat.SymDense, r *rand.Rand) (func() []float64, error) {
	if dist, ok := distmv.NewNormal(mean, cov, r); ok {
		return func() []float64 { return dist.Rand(nil) }, nil
	}

	log.Debug().Int("dim", len(mean)).Msg("covariance not positive definite, sampling via eigendecomposition")
	var eig mat.EigenSym
	if !eig.Factorize(cov, true) {
		return nil, fmt.Errorf("multivariate_normal: eigendecomposition of cov failed")
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	vals := eig.Values(nil)
	d := len(mean)
	for j, l := range vals {
		s := math.Sqrt(math.Max(l, 0))
		for i := 0; i < d; i++ {
			vecs.Set(i, j, vecs.At(i, j)*s)
		}
	}

	z := mat.NewVecDense(d, nil)
	return func() []float64 {
		for i := 0; i < d; i++ {
			z.SetVec(i, r.NormFloat64())
		}
		var x mat.VecDense
		x.MulVec(&vecs, z)
		out := make([]float64, d)
		for i := range out {
			out[i] = mean[i] + x.AtVec(i)
		}
		return out
	}, nil
}

func openFloat(r *rand.Rand) float64 {
	for {
		if u := r.Float64(); u > 0 {
			return u
		}
	}
}

func standardGamma(r *rand.Rand, shape float64) float64 {
	if shape == 0 {
		return 0
	}
	return distuv.Gamma{Alpha: shape, Beta: 1, Src: r}.Rand()
}

func poisson(r *rand.Rand, lam float64) float64 {
	if lam == 0 {
		return 0
	}
	return distuv.Poisson{Lambda: lam, Src: r}.Rand()
}

func geometric(r *rand.Rand, p float64) float64 {
	if p == 1 {
		return 1
	}
	return math.Max(1, math.Ceil(math.Log(openFloat(r))/math.Log1p(-p)))
}

// hypergeometric counts good items in nsample draws without replacement.
// Small samples are simulated directly; larger ones use the HRUA
// ratio-of-uniforms method, whose expected cost does not grow with the
// population.
func hypergeometric(r *rand.Rand, good, bad, nsample float64) float64 {
	if nsample > 10 {
		return hypergeometricHRUA(r, good, bad, nsample)
	}
	d1 := bad + good - nsample
	y := math.Min(bad, good)
	k := nsample
	for y > 0 && k > 0 {
		y -= math.Floor(r.Float64() + y/(d1+k))
		k--
	}
	z := math.Min(bad, good) - y
	if good > bad {
		z = nsample - z
	}
	return z
}

const (
	hrua1 = 1.7155277699214135 // 2*sqrt(2/e)
	hrua2 = 0.8989161620588988 // 3 - 2*sqrt(3/e)
)

func hypergeometricHRUA(r *rand.Rand, good, bad, nsample float64) float64 {
	minGB, maxGB := math.Min(good, bad), math.Max(good, bad)
	pop := good + bad
	m := math.Min(nsample, pop-nsample)

	d4 := minGB / pop
	d5 := 1 - d4
	d6 := m*d4 + 0.5
	d7 := math.Sqrt((pop-m)*nsample*d4*d5/(pop-1) + 0.5)
	d8 := hrua1*d7 + hrua2
	d9 := math.Floor((m + 1) * (minGB + 1) / (pop + 2))
	d10 := lgam(d9+1) + lgam(minGB-d9+1) + lgam(m-d9+1) + lgam(maxGB-m+d9+1)
	d11 := math.Min(math.Min(m, minGB)+1, math.Floor(d6+16*d7))

	var z float64
	for {
		x := r.Float64()
		y := r.Float64()
		w := d6 + d8*(y-0.5)/x
		if w < 0 || w >= d11 {
			continue
		}
		z = math.Floor(w)
		t := d10 - (lgam(z+1) + lgam(minGB-z+1) + lgam(m-z+1) + lgam(maxGB-m+z+1))
		if x*(4-x)-3 <= t {
			break
		}
		if x*(x-t) >= 1 {
			continue
		}
		if 2*math.Log(x) <= t {
			break
		}
	}

	if good > bad {
		z = m - z
	}
	if m < nsample {
		z = good - z
	}
	return z
}

func lgam(x float64) float64 {
	v, _ := math.Lgamma(x)
	return v
}

// logseries uses Kemp's second accelerated generator.
func logseries(r *rand.Rand, p float64) float64 {
	lr := math.Log1p(-p)
	for {
		v := r.Float64()
		if v >= p {
			return 1
		}
		q := -math.Expm1(lr * r.Float64())
		if v <= q*q {
			res := math.Floor(1 + math.Log(v)/math.Log(q))
			if res < 1 || math.IsInf(res, 0) || math.IsNaN(res) {
				continue
			}
			return res
		}
		if v >= q {
			return 1
		}
		return 2
	}
}

func noncentralChisquare(r *rand.Rand, df, nonc float64) float64 {
	if nonc == 0 {
		return distuv.ChiSquared{K: df, Src: r}.Rand()
	}
	if df > 1 {
		chi := distuv.ChiSquared{K: df - 1, Src: r}.Rand()
		n := r.NormFloat64() + math.Sqrt(nonc)
		return chi + n*n
	}
	i := poisson(r, nonc/2)
	return distuv.ChiSquared{K: df + 2*i, Src: r}.Rand()
}

// vonmises uses the Best-Fisher rejection sampler.
func vonmises(r *rand.Rand, mu, kappa float64) float64 {
	if kappa < 1e-8 {
		return math.Pi * (2*r.Float64() - 1)
	}

	var s float64
	if kappa < 1e-5 {
		s = 1 / kappa
	} else {
		a := 1 + math.Sqrt(1+4*kappa*kappa)
		rho := (a - math.Sqrt(2*a)) / (2 * kappa)
		s = (1 + rho*rho) / (2 * rho)
	}

	var w float64
	for {
		z := math.Cos(math.Pi * r.Float64())
		w = (1 + s*z) / (s + z)
		y := kappa * (s - w)
		v := openFloat(r)
		if y*(2-y)-v >= 0 || math.Log(y/v)+1-y >= 0 {
			break
		}
	}

	res := math.Acos(w)
	if r.Float64() < 0.5 {
		res = -res
	}
	res += mu
	neg := res < 0
	mod := math.Mod(math.Abs(res)+math.Pi, 2*math.Pi) - math.Pi
	if neg {
		mod = -mod
	}
	return mod
}

func wald(r *rand.Rand, mean, scale float64) float64 {
	mu2l := mean / (2 * scale)
	y := r.NormFloat64()
	y = mean * y * y
	x := mean + mu2l*(y-math.Sqrt(4*scale*y+y*y))
	if r.Float64() <= mean/(mean+x) {
		return x
	}
	return mean * mean / x
}

// zipf uses rejection from a Pareto envelope.
func zipf(r *rand.Rand, a float64) float64 {
	am1 := a - 1
	b := math.Pow(2, am1)
	for {
		u := 1 - r.Float64()
		v := r.Float64()
		x := math.Floor(math.Pow(u, -1/am1))
		if x > math.MaxInt64 || x < 1 {
			continue
		}
		t := math.Pow(1+1/x, am1)
		if v*x*(t-1)/(b-1) <= t/b {
			return x
		}
	}
}
