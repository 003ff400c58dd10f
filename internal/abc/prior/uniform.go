// Package prior provides parameter priors for the samplers.
package prior

import (
	"math"
	"sync"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/turtacn/abcflow/internal/abc/common"
	"github.com/turtacn/abcflow/pkg/errors"
)

// Uniform is an independent box prior: dimension i is uniform on
// [Lower[i], Upper[i]].
type Uniform struct {
	mu    sync.Mutex
	lower []float64
	upper []float64
	dists []distuv.Uniform
}

// NewUniform builds a box prior.  seed is the run seed; draws use its
// prior stream.
func NewUniform(lower, upper []float64, seed uint64) (*Uniform, error) {
	if len(lower) == 0 || len(lower) != len(upper) {
		return nil, errors.Newf(errors.ErrCodeInvalidConfig,
			"prior bounds must be non-empty and of equal length (lower=%d upper=%d)", len(lower), len(upper))
	}
	src := rand.NewSource(common.DeriveSeed(seed, common.StreamPrior, 0))
	dists := make([]distuv.Uniform, len(lower))
	for i := range lower {
		lo, hi := lower[i], upper[i]
		if math.IsNaN(lo) || math.IsNaN(hi) || math.IsInf(lo, 0) || math.IsInf(hi, 0) {
			return nil, errors.Newf(errors.ErrCodeInvalidConfig, "prior bound %d is not finite", i)
		}
		if lo >= hi {
			return nil, errors.Newf(errors.ErrCodeInvalidConfig,
				"prior lower bound %v must be below upper bound %v in dimension %d", lo, hi, i)
		}
		dists[i] = distuv.Uniform{Min: lo, Max: hi, Src: src}
	}
	return &Uniform{
		lower: append([]float64(nil), lower...),
		upper: append([]float64(nil), upper...),
		dists: dists,
	}, nil
}

// Draw returns n parameter vectors.  Draws are serialised because the
// underlying source is not safe for concurrent use.
func (u *Uniform) Draw(n int) ([][]float64, error) {
	if n < 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "cannot draw %d samples", n)
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([][]float64, n)
	for i := range out {
		v := make([]float64, len(u.dists))
		for j := range u.dists {
			v[j] = u.dists[j].Rand()
		}
		out[i] = v
	}
	return out, nil
}

// PDF returns the product of the per-dimension densities; zero outside the
// box or for a vector of the wrong length.
func (u *Uniform) PDF(x []float64) float64 {
	if len(x) != len(u.dists) {
		return 0
	}
	p := 1.0
	for i, d := range u.dists {
		p *= d.Prob(x[i])
	}
	return p
}

// Dim implements common.Prior.
func (u *Uniform) Dim() int { return len(u.dists) }

// Bounds returns copies of the lower and upper bounds.
func (u *Uniform) Bounds() (lower, upper []float64) {
	return append([]float64(nil), u.lower...), append([]float64(nil), u.upper...)
}

//Personal.AI order the ending
