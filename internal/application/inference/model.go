// Package inference is the application service in front of the ABC samplers.
// It turns a configured model and a run request into a sampler invocation
// and fans the outcome out to the run store, the result archive and the
// event stream.
package inference

import (
	"github.com/turtacn/abcflow/internal/abc/common"
	"github.com/turtacn/abcflow/internal/abc/distance"
	"github.com/turtacn/abcflow/internal/abc/epsilon"
	engine "github.com/turtacn/abcflow/internal/abc/inference"
	"github.com/turtacn/abcflow/internal/abc/kernel"
	"github.com/turtacn/abcflow/internal/abc/normalize"
	"github.com/turtacn/abcflow/internal/abc/prior"
	"github.com/turtacn/abcflow/internal/abc/simulator"
	"github.com/turtacn/abcflow/internal/abc/summary"
	"github.com/turtacn/abcflow/internal/config"
	"github.com/turtacn/abcflow/pkg/errors"
)

// Model bundles the collaborators of one run.
type Model struct {
	Data       []common.Trajectory
	Prior      *prior.Uniform
	Simulator  common.Simulator
	Summarizer common.Summarizer
	Distance   common.Distance

	// PopulationPriors is empty unless population_priors is configured.
	PopulationPriors []common.Prior
}

// BuildModel resolves the configured collaborators.  Every observed value
// becomes one dataset: a single-row trajectory holding ObservedPoints copies
// of the value.
func BuildModel(cfg config.ModelConfig, observed []float64, seed uint64) (*Model, error) {
	if len(observed) == 0 {
		observed = cfg.Observed
	}
	if len(observed) == 0 {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "no observed data")
	}
	points := cfg.ObservedPoints
	if points < 1 {
		points = 1
	}

	p, err := prior.NewUniform(cfg.PriorLower, cfg.PriorUpper, seed)
	if err != nil {
		return nil, err
	}
	sim, err := simulator.ByName(cfg.Simulator, points)
	if err != nil {
		return nil, err
	}
	sum, err := summary.ByName(cfg.Summary)
	if err != nil {
		return nil, err
	}
	dist, err := distance.ByName(cfg.Distance)
	if err != nil {
		return nil, err
	}

	data := make([]common.Trajectory, len(observed))
	for i, v := range observed {
		row := make([]float64, points)
		for j := range row {
			row[j] = v
		}
		data[i] = common.Trajectory{row}
	}

	var perPopulation []common.Prior
	for _, b := range cfg.PopulationPriors {
		pp, err := prior.NewUniform(b.Lower, b.Upper, seed)
		if err != nil {
			return nil, err
		}
		perPopulation = append(perPopulation, pp)
	}

	return &Model{Data: data, Prior: p, Simulator: sim, Summarizer: sum, Distance: dist, PopulationPriors: perPopulation}, nil
}

// NewKernel builds the SMC perturbation kernel for the model's prior
// dimension.
func NewKernel(cfg config.InferenceConfig, dim int, seed uint64) (*kernel.Gaussian, error) {
	variance := cfg.KernelVariance
	if variance <= 0 {
		variance = config.DefaultKernelVariance
	}
	vars := make([]float64, dim)
	for i := range vars {
		vars[i] = variance
	}
	k, err := kernel.NewGaussian(vars, seed)
	if err != nil {
		return nil, err
	}
	return k.WithAdaptScale(cfg.KernelScale), nil
}

// Schedule resolves the configured epsilon schedule.
func Schedule(cfg config.InferenceConfig) (epsilon.Schedule, error) {
	return epsilon.ByName(cfg.EpsilonSchedule, cfg.EpsilonRatio)
}

// EngineOptions maps the sampler tunables onto engine options.  eps and seed
// are passed separately because a request may override them.
func EngineOptions(cfg config.InferenceConfig, eps float64, seed uint64) []engine.Option {
	opts := []engine.Option{
		engine.WithEpsilon(eps),
		engine.WithSeed(seed),
		engine.WithMaxTrials(cfg.MaxTrials),
		engine.WithConcurrency(cfg.Concurrency),
		engine.WithRoundRetries(cfg.RoundRetries),
	}
	if cfg.ChunkSize > 0 {
		opts = append(opts, engine.WithChunkSize(cfg.ChunkSize))
	}
	if cfg.EnsembleSize > 0 {
		opts = append(opts, engine.WithEnsembleSize(cfg.EnsembleSize))
	}
	if cfg.Scaling != "" {
		opts = append(opts, engine.WithScaling(normalize.Kind(cfg.Scaling)))
	}
	if cfg.TrialTimeout > 0 {
		opts = append(opts, engine.WithTrialTimeout(cfg.TrialTimeout))
	}
	if cfg.TrialRetries > 0 {
		opts = append(opts, engine.WithTrialRetries(cfg.TrialRetries, cfg.TrialRetryBackoff))
	}
	if cfg.MaxProposalAttempts > 0 {
		opts = append(opts, engine.WithMaxProposalAttempts(cfg.MaxProposalAttempts))
	}
	return opts
}

//Personal.AI order the ending
