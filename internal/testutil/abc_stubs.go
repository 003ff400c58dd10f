package testutil

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/turtacn/abcflow/internal/abc/common"
)

// SequencePrior hands out a fixed list of parameter vectors in order,
// wrapping around at the end.  It is deterministic and safe for concurrent
// use.
type SequencePrior struct {
	mu     sync.Mutex
	values [][]float64
	next   int
	Lower  float64
	Upper  float64
}

// NewSequencePrior returns a prior cycling through values.  PDF is 1 inside
// [lower, upper] in every dimension.
func NewSequencePrior(lower, upper float64, values ...[]float64) *SequencePrior {
	return &SequencePrior{values: values, Lower: lower, Upper: upper}
}

// Draw implements common.Prior.
func (p *SequencePrior) Draw(n int) ([][]float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]float64, n)
	for i := range out {
		out[i] = append([]float64(nil), p.values[p.next%len(p.values)]...)
		p.next++
	}
	return out, nil
}

// PDF implements common.Prior.
func (p *SequencePrior) PDF(x []float64) float64 {
	for _, v := range x {
		if v < p.Lower || v > p.Upper {
			return 0
		}
	}
	return 1
}

// Dim implements common.Prior.
func (p *SequencePrior) Dim() int {
	if len(p.values) == 0 {
		return 0
	}
	return len(p.values[0])
}

// Draws reports how many vectors have been drawn.
func (p *SequencePrior) Draws() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.next
}

// CountingSimulator returns the parameters as a one-row trajectory and counts
// calls.  Fail, when set, is consulted first.
type CountingSimulator struct {
	calls atomic.Int64
	Fail  func(params []float64) error
}

// Simulate implements common.Simulator.
func (s *CountingSimulator) Simulate(ctx context.Context, params []float64, _ uint64) (common.Trajectory, error) {
	s.calls.Add(1)
	if s.Fail != nil {
		if err := s.Fail(params); err != nil {
			return nil, err
		}
	}
	return common.Trajectory{append([]float64(nil), params...)}, nil
}

// Calls reports the number of Simulate calls.
func (s *CountingSimulator) Calls() int64 { return s.calls.Load() }

// ConstantObserved returns n copies of a one-row trajectory holding values.
func ConstantObserved(n int, values ...float64) []common.Trajectory {
	out := make([]common.Trajectory, n)
	for i := range out {
		out[i] = common.Trajectory{append([]float64(nil), values...)}
	}
	return out
}

//Personal.AI order the ending
