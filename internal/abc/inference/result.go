package inference

import (
	"time"
)

// Sample is one accepted parameter vector.
type Sample struct {
	Parameters []float64 `json:"parameters"`
	// Distance is the raw, unnormalized distance vector of the trial.
	Distance []float64 `json:"distance"`
	// Combined is the scalar compared against epsilon.
	Combined float64 `json:"combined"`
	// Weight is 1 for rejection samples and the normalized importance
	// weight for SMC samples.
	Weight float64 `json:"weight"`
}

// Result is the outcome of a rejection run.
type Result struct {
	Samples       []Sample      `json:"samples"`
	AcceptedCount int           `json:"accepted_count"`
	TrialCount    int           `json:"trial_count"`
	Estimate      []float64     `json:"estimate"`
	Epsilon       float64       `json:"epsilon"`
	Elapsed       time.Duration `json:"elapsed"`
}

// Parameters returns the accepted parameter vectors in acceptance order.
func (r *Result) Parameters() [][]float64 {
	return parametersOf(r.Samples)
}

// Distances returns the raw distances of the accepted samples.
func (r *Result) Distances() [][]float64 {
	out := make([][]float64, len(r.Samples))
	for i, s := range r.Samples {
		out[i] = s.Distance
	}
	return out
}

// AcceptanceRate is AcceptedCount / TrialCount.
func (r *Result) AcceptanceRate() float64 {
	if r.TrialCount == 0 {
		return 0
	}
	return float64(r.AcceptedCount) / float64(r.TrialCount)
}

// Population is one completed SMC generation.
type Population struct {
	Index      int           `json:"index"`
	Epsilon    float64       `json:"epsilon"`
	Samples    []Sample      `json:"samples"`
	Weights    []float64     `json:"weights"`
	TrialCount int           `json:"trial_count"`
	ESS        float64       `json:"ess"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Parameters returns the particles of the population.
func (p *Population) Parameters() [][]float64 {
	return parametersOf(p.Samples)
}

// SMCResult is the outcome of a sequential run.
type SMCResult struct {
	Populations []Population  `json:"populations"`
	Estimate    []float64     `json:"estimate"`
	TrialCount  int           `json:"trial_count"`
	Elapsed     time.Duration `json:"elapsed"`
}

// Final returns the last completed population, or nil.
func (r *SMCResult) Final() *Population {
	if len(r.Populations) == 0 {
		return nil
	}
	return &r.Populations[len(r.Populations)-1]
}

// RoundReport describes one completed round.
type RoundReport struct {
	Sampler       string        `json:"sampler"`
	Population    int           `json:"population"`
	Round         int           `json:"round"`
	Epsilon       float64       `json:"epsilon"`
	BatchSize     int           `json:"batch_size"`
	Accepted      int           `json:"accepted"`
	TotalAccepted int           `json:"total_accepted"`
	TrialCount    int           `json:"trial_count"`
	Duration      time.Duration `json:"duration"`
}

func parametersOf(samples []Sample) [][]float64 {
	out := make([][]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Parameters
	}
	return out
}

//Personal.AI order the ending
