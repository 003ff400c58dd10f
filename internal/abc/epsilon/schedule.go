// Package epsilon builds the decreasing tolerance sequences used by the
// sequential sampler, one threshold per population.
package epsilon

import (
	"math"
	"strings"

	"github.com/turtacn/abcflow/pkg/errors"
)

// Schedule produces exactly populations strictly decreasing tolerances,
// starting at initial.
type Schedule interface {
	Build(initial float64, populations int) ([]float64, error)
}

// DivideK divides the previous tolerance by K at every step.
type DivideK struct {
	K float64
}

// Halving is the DivideK schedule with K = 2.
func Halving() DivideK { return DivideK{K: 2} }

// Build implements Schedule.
func (s DivideK) Build(initial float64, populations int) ([]float64, error) {
	if err := validate(initial, populations); err != nil {
		return nil, err
	}
	if !(s.K > 1) || math.IsInf(s.K, 0) {
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "divide ratio must be greater than 1, got %v", s.K)
	}
	out := make([]float64, populations)
	out[0] = initial
	for i := 1; i < populations; i++ {
		out[i] = out[i-1] / s.K
		if !(out[i] < out[i-1]) || out[i] <= 0 {
			return nil, errors.Newf(errors.ErrCodeInvalidConfig,
				"tolerance underflow at population %d (initial=%v, k=%v)", i, initial, s.K)
		}
	}
	return out, nil
}

// Explicit is a caller-supplied list of tolerances.
type Explicit []float64

// Build implements Schedule.  initial must match the first element when it
// is non-zero, and populations must match the list length.
func (s Explicit) Build(initial float64, populations int) ([]float64, error) {
	if len(s) == 0 {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "explicit tolerance list is empty")
	}
	if populations != len(s) {
		return nil, errors.Newf(errors.ErrCodePopulationMismatch,
			"%d tolerances supplied for %d populations", len(s), populations)
	}
	if initial != 0 && initial != s[0] {
		return nil, errors.Newf(errors.ErrCodeInvalidConfig,
			"initial tolerance %v does not match first list element %v", initial, s[0])
	}
	if err := CheckDecreasing(s); err != nil {
		return nil, err
	}
	return append([]float64(nil), s...), nil
}

// CheckDecreasing reports whether eps is positive and strictly decreasing.
func CheckDecreasing(eps []float64) error {
	for i, e := range eps {
		if !(e > 0) || math.IsInf(e, 0) {
			return errors.Newf(errors.ErrCodeInvalidConfig, "tolerance %d must be positive and finite, got %v", i, e)
		}
		if i > 0 && !(e < eps[i-1]) {
			return errors.Newf(errors.ErrCodeInvalidConfig,
				"tolerances must be strictly decreasing: eps[%d]=%v >= eps[%d]=%v", i, e, i-1, eps[i-1])
		}
	}
	return nil
}

// ByName resolves a schedule from configuration.  "halving" ignores ratio;
// "divide" uses it.
func ByName(name string, ratio float64) (Schedule, error) {
	switch strings.ToLower(name) {
	case "", "halving":
		return Halving(), nil
	case "divide", "divide_k":
		return DivideK{K: ratio}, nil
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "unknown epsilon schedule %q", name)
	}
}

func validate(initial float64, populations int) error {
	if populations <= 0 {
		return errors.Newf(errors.ErrCodeInvalidConfig, "population count must be positive, got %d", populations)
	}
	if !(initial > 0) || math.IsInf(initial, 0) {
		return errors.Newf(errors.ErrCodeInvalidConfig, "initial tolerance must be positive and finite, got %v", initial)
	}
	return nil
}

//Personal.AI order the ending
