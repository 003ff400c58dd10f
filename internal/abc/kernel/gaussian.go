// Package kernel provides perturbation kernels for the sequential sampler.
package kernel

import (
	"math"
	"sync"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distmv"

	"github.com/turtacn/abcflow/internal/abc/common"
	"github.com/turtacn/abcflow/pkg/errors"
)

// DefaultAdaptScale is the multiplier applied to the weighted particle
// variance when the kernel adapts (Beaumont et al. 2009).
const DefaultAdaptScale = 2.0

// Gaussian is a zero-mean multivariate normal with diagonal covariance.
// It implements common.Kernel and common.KernelAdapter.
type Gaussian struct {
	mu        sync.Mutex
	src       rand.Source
	variances []float64
	scale     float64
	normal    *distmv.Normal
}

// NewGaussian builds a kernel with the given per-dimension variances.  seed
// is the run seed; perturbations use its kernel stream.
func NewGaussian(variances []float64, seed uint64) (*Gaussian, error) {
	g := &Gaussian{src: rand.NewSource(common.DeriveSeed(seed, common.StreamKernel, 0)), scale: DefaultAdaptScale}
	if err := g.reset(variances); err != nil {
		return nil, err
	}
	return g, nil
}

// WithAdaptScale overrides the variance multiplier used by Adapt.
func (g *Gaussian) WithAdaptScale(scale float64) *Gaussian {
	if scale > 0 {
		g.scale = scale
	}
	return g
}

func (g *Gaussian) reset(variances []float64) error {
	if len(variances) == 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "kernel needs at least one dimension")
	}
	for i, v := range variances {
		if !(v > 0) || math.IsInf(v, 0) {
			return errors.Newf(errors.ErrCodeInvalidConfig, "kernel variance %d must be positive, got %v", i, v)
		}
	}
	sigma := mat.NewSymDense(len(variances), nil)
	for i, v := range variances {
		sigma.SetSym(i, i, v)
	}
	normal, ok := distmv.NewNormal(make([]float64, len(variances)), sigma, g.src)
	if !ok {
		return errors.New(errors.ErrCodeInvalidConfig, "kernel covariance is not positive definite")
	}
	g.variances = append([]float64(nil), variances...)
	g.normal = normal
	return nil
}

// RVS draws n zero-centred perturbations.
func (g *Gaussian) RVS(n int) ([][]float64, error) {
	if n < 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "cannot draw %d perturbations", n)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([][]float64, n)
	for i := range out {
		out[i] = g.normal.Rand(nil)
	}
	return out, nil
}

// PDF evaluates the density of displacement x.
func (g *Gaussian) PDF(x []float64) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(x) != len(g.variances) {
		return 0
	}
	return g.normal.Prob(x)
}

// Variances returns a copy of the current diagonal.
func (g *Gaussian) Variances() []float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]float64(nil), g.variances...)
}

// Clone returns an independent kernel with the current variances and
// scale.  Its source is seeded from this kernel's source.
func (g *Gaussian) Clone() common.Kernel {
	g.mu.Lock()
	seed := g.src.Uint64()
	variances := append([]float64(nil), g.variances...)
	scale := g.scale
	g.mu.Unlock()

	c := &Gaussian{src: rand.NewSource(seed), scale: scale}
	// variances were validated when g was built or adapted.
	_ = c.reset(variances)
	return c
}

// Adapt sets the diagonal to scale × the weighted population variance of
// particles.  Dimensions with zero spread keep their previous variance.
func (g *Gaussian) Adapt(particles [][]float64, weights []float64) error {
	if len(particles) == 0 || len(particles) != len(weights) {
		return errors.Newf(errors.ErrCodeDimensionMismatch,
			"adapt needs one weight per particle (particles=%d weights=%d)", len(particles), len(weights))
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	dim := len(g.variances)
	next := make([]float64, dim)
	col := make([]float64, len(particles))
	for j := 0; j < dim; j++ {
		for i, p := range particles {
			if len(p) != dim {
				return errors.Newf(errors.ErrCodeDimensionMismatch,
					"particle %d has dimension %d, kernel has %d", i, len(p), dim)
			}
			col[i] = p[j]
		}
		v := g.scale * stat.PopVariance(col, weights)
		if !(v > 0) || math.IsInf(v, 0) {
			v = g.variances[j]
		}
		next[j] = v
	}
	return g.reset(next)
}

//Personal.AI order the ending
