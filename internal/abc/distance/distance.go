// Package distance compares summary vectors with the reference summary.
package distance

import (
	"math"
	"strings"

	"github.com/turtacn/abcflow/internal/abc/common"
	"github.com/turtacn/abcflow/pkg/errors"
)

// Euclidean returns the per-channel absolute difference.  The samplers
// combine the channels with the Euclidean norm after normalization.
type Euclidean struct{}

// Compute implements common.Distance.
func (Euclidean) Compute(reference, summary []float64) ([]float64, error) {
	if err := checkLengths(reference, summary); err != nil {
		return nil, err
	}
	out := make([]float64, len(reference))
	for i := range reference {
		out[i] = math.Abs(summary[i] - reference[i])
	}
	return out, nil
}

// Absolute returns a single channel: the sum of absolute differences.
type Absolute struct{}

// Compute implements common.Distance.
func (Absolute) Compute(reference, summary []float64) ([]float64, error) {
	if err := checkLengths(reference, summary); err != nil {
		return nil, err
	}
	var d float64
	for i := range reference {
		d += math.Abs(summary[i] - reference[i])
	}
	return []float64{d}, nil
}

func checkLengths(reference, summary []float64) error {
	if len(reference) == 0 || len(reference) != len(summary) {
		return errors.Newf(errors.ErrCodeDimensionMismatch,
			"summary has %d channels, reference has %d", len(summary), len(reference))
	}
	return nil
}

// ByName resolves a distance function from configuration.
func ByName(name string) (common.Distance, error) {
	switch strings.ToLower(name) {
	case "", "euclidean":
		return Euclidean{}, nil
	case "absolute", "manhattan":
		return Absolute{}, nil
	default:
		return nil, errors.Newf(errors.ErrCodeUnknownCollaborator, "unknown distance %q", name)
	}
}

//Personal.AI order the ending
