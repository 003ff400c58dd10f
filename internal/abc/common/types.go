// Package common holds the collaborator contracts shared by every ABC sampler,
// the generic order-preserving batch processor that executes trials, and the
// engine metrics abstraction.
package common

import (
	"context"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/turtacn/abcflow/pkg/errors"
)

// ---------------------------------------------------------------------------
// Data model
// ---------------------------------------------------------------------------

// Trajectory is the raw output of one simulation: one row per observed channel
// (species, sensor, ...), one column per time point.  The engine never looks
// inside a trajectory; it only hands it to a Summarizer.
type Trajectory [][]float64

// Clone returns a deep copy of t.
func (t Trajectory) Clone() Trajectory {
	out := make(Trajectory, len(t))
	for i, row := range t {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

// ---------------------------------------------------------------------------
// Collaborator contracts
// ---------------------------------------------------------------------------

// Prior draws candidate parameter vectors and evaluates their density.
type Prior interface {
	// Draw returns n independent parameter vectors.
	Draw(n int) ([][]float64, error)
	// PDF returns the prior density at x; zero outside the support.
	PDF(x []float64) float64
	// Dim is the parameter dimensionality.
	Dim() int
}

// Simulator maps a parameter vector to a trajectory.  Implementations must be
// a pure function of (params, seed) so trials can run in parallel.
type Simulator interface {
	Simulate(ctx context.Context, params []float64, seed uint64) (Trajectory, error)
}

// Summarizer compresses a trajectory into a fixed-length summary vector.
type Summarizer interface {
	Summarize(t Trajectory) ([]float64, error)
}

// Distance compares a summary with the reference summary and returns one raw
// distance per channel.
type Distance interface {
	Compute(reference, summary []float64) ([]float64, error)
}

// Kernel is the SMC perturbation kernel.  RVS draws zero-centred
// perturbations; PDF evaluates the density of a displacement.
type Kernel interface {
	RVS(n int) ([][]float64, error)
	PDF(x []float64) float64
}

// KernelAdapter is implemented by kernels that retune themselves from the
// previous population before it is used as proposal.
type KernelAdapter interface {
	Adapt(particles [][]float64, weights []float64) error
}

// KernelCloner is implemented by kernels that carry state across
// populations.  The sequential sampler adapts a clone per run, so runs on
// one sampler never see each other's tuning.
type KernelCloner interface {
	Clone() Kernel
}

// ---------------------------------------------------------------------------
// Function adapters
// ---------------------------------------------------------------------------

// SimulatorFunc adapts a plain function to Simulator.
type SimulatorFunc func(ctx context.Context, params []float64, seed uint64) (Trajectory, error)

// Simulate calls f.
func (f SimulatorFunc) Simulate(ctx context.Context, params []float64, seed uint64) (Trajectory, error) {
	return f(ctx, params, seed)
}

// SummarizerFunc adapts a plain function to Summarizer.
type SummarizerFunc func(t Trajectory) ([]float64, error)

// Summarize calls f.
func (f SummarizerFunc) Summarize(t Trajectory) ([]float64, error) { return f(t) }

// DistanceFunc adapts a plain function to Distance.
type DistanceFunc func(reference, summary []float64) ([]float64, error)

// Compute calls f.
func (f DistanceFunc) Compute(reference, summary []float64) ([]float64, error) {
	return f(reference, summary)
}

// ---------------------------------------------------------------------------
// Vector helpers
// ---------------------------------------------------------------------------

// CombineDistance reduces a normalized distance vector to the scalar used by
// the acceptance test: the Euclidean norm when there is more than one
// channel, otherwise the single value itself.
func CombineDistance(normalized []float64) float64 {
	switch len(normalized) {
	case 0:
		return math.NaN()
	case 1:
		return normalized[0]
	default:
		return floats.Norm(normalized, 2)
	}
}

// MeanVector returns the elementwise mean of rows.  All rows must share the
// same length.
func MeanVector(rows [][]float64) ([]float64, error) {
	if len(rows) == 0 {
		return nil, errors.New(errors.ErrCodeDimensionMismatch, "cannot average an empty set of vectors")
	}
	dim := len(rows[0])
	out := make([]float64, dim)
	for i, r := range rows {
		if len(r) != dim {
			return nil, errors.Newf(errors.ErrCodeDimensionMismatch,
				"vector %d has length %d, expected %d", i, len(r), dim)
		}
		floats.Add(out, r)
	}
	floats.Scale(1/float64(len(rows)), out)
	return out, nil
}

// WeightedMeanVector returns Σ w_i·rows_i / Σ w_i.
func WeightedMeanVector(rows [][]float64, weights []float64) ([]float64, error) {
	if len(rows) == 0 || len(rows) != len(weights) {
		return nil, errors.Newf(errors.ErrCodeDimensionMismatch,
			"weighted mean needs one weight per vector (vectors=%d weights=%d)", len(rows), len(weights))
	}
	total := floats.Sum(weights)
	if total <= 0 || math.IsNaN(total) {
		return nil, errors.New(errors.ErrCodeDegenerateWeights, "weights must sum to a positive value")
	}
	dim := len(rows[0])
	out := make([]float64, dim)
	for i, r := range rows {
		if len(r) != dim {
			return nil, errors.Newf(errors.ErrCodeDimensionMismatch,
				"vector %d has length %d, expected %d", i, len(r), dim)
		}
		floats.AddScaled(out, weights[i], r)
	}
	floats.Scale(1/total, out)
	return out, nil
}

// CloneVectors deep-copies a slice of vectors.
func CloneVectors(in [][]float64) [][]float64 {
	out := make([][]float64, len(in))
	for i, v := range in {
		out[i] = append([]float64(nil), v...)
	}
	return out
}

//Personal.AI order the ending
