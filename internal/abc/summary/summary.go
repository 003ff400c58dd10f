// Package summary provides summary statistics that compress a trajectory into
// a fixed-length vector.
package summary

import (
	"math"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/turtacn/abcflow/internal/abc/common"
	"github.com/turtacn/abcflow/pkg/errors"
)

// Identity flattens a trajectory row by row.
type Identity struct{}

// Summarize implements common.Summarizer.
func (Identity) Summarize(t common.Trajectory) ([]float64, error) {
	if len(t) == 0 {
		return nil, errors.New(errors.ErrCodeDimensionMismatch, "empty trajectory")
	}
	var out []float64
	for _, row := range t {
		out = append(out, row...)
	}
	return out, nil
}

// Mean returns the mean of each row.
type Mean struct{}

// Summarize implements common.Summarizer.
func (Mean) Summarize(t common.Trajectory) ([]float64, error) {
	if len(t) == 0 {
		return nil, errors.New(errors.ErrCodeDimensionMismatch, "empty trajectory")
	}
	out := make([]float64, len(t))
	for i, row := range t {
		if len(row) == 0 {
			return nil, errors.Newf(errors.ErrCodeDimensionMismatch, "trajectory row %d is empty", i)
		}
		out[i] = stat.Mean(row, nil)
	}
	return out, nil
}

// Burstiness computes one burstiness coefficient per row from r = σ/μ.
// The classic form (Goh and Barabási) is (r−1)/(r+1); Improved uses the
// finite-size correction of Kim and Ho.
type Burstiness struct {
	Improved bool
}

// Summarize implements common.Summarizer.
func (b Burstiness) Summarize(t common.Trajectory) ([]float64, error) {
	if len(t) == 0 {
		return nil, errors.New(errors.ErrCodeDimensionMismatch, "empty trajectory")
	}
	out := make([]float64, len(t))
	for i, row := range t {
		if len(row) == 0 {
			return nil, errors.Newf(errors.ErrCodeDimensionMismatch, "trajectory row %d is empty", i)
		}
		mean, std := stat.PopMeanStdDev(row, nil)
		r := std / mean
		if !b.Improved {
			out[i] = (r - 1) / (r + 1)
			continue
		}
		n := float64(len(row))
		sp, sm := math.Sqrt(n+1), math.Sqrt(n-1)
		out[i] = (sp*r - sm) / ((sp-2)*r + sm)
	}
	return out, nil
}

// ByName resolves a summarizer from configuration.
func ByName(name string) (common.Summarizer, error) {
	switch strings.ToLower(name) {
	case "", "identity":
		return Identity{}, nil
	case "mean":
		return Mean{}, nil
	case "burstiness":
		return Burstiness{}, nil
	case "burstiness_improved":
		return Burstiness{Improved: true}, nil
	default:
		return nil, errors.Newf(errors.ErrCodeUnknownCollaborator, "unknown summary statistic %q", name)
	}
}

//Personal.AI order the ending
