// Package inference implements the ABC rejection sampler and the sequential
// Monte Carlo ABC sampler on top of a parallel, order-preserving round
// executor.
package inference

import (
	"context"
	"fmt"

	"golang.org/x/exp/rand"

	"github.com/turtacn/abcflow/internal/abc/common"
	"github.com/turtacn/abcflow/pkg/errors"
)

// Proposal draws candidate parameter vectors.  Every common.Prior is a
// Proposal; SMC populations after the first use a perturbation proposal.
type Proposal interface {
	Draw(n int) ([][]float64, error)
}

// Batch holds the parallel arrays produced by one round.  Index i of every
// slice belongs to Parameters[i].
type Batch struct {
	Parameters [][]float64
	// Trajectories[i] holds the replicate trajectories of Parameters[i].
	Trajectories [][]common.Trajectory
	Summaries    [][]float64
	Distances    [][]float64
}

// Len is the number of parameters in the batch.
func (b *Batch) Len() int { return len(b.Parameters) }

type trial struct {
	param  int
	params []float64
	seed   uint64
}

type trialOutput struct {
	trajectory common.Trajectory
	summary    []float64
}

// Round runs batches of trials against a fixed reference summary.
type Round struct {
	simulator    common.Simulator
	summarizer   common.Summarizer
	distance     common.Distance
	reference    []float64
	ensembleSize int
	seeds        *rand.Rand
	processor    common.BatchProcessor[trial, trialOutput]
}

// NewRound builds a round executor.  The ensemble size, seed, concurrency,
// trial timeout, trial retry, metrics and logger options apply.
func NewRound(sim common.Simulator, summarizer common.Summarizer, distance common.Distance, reference []float64, opts ...Option) *Round {
	return newRound(newConfig(opts), sim, summarizer, distance, reference, 0)
}

func newRound(cfg *config, sim common.Simulator, summarizer common.Summarizer, distance common.Distance, reference []float64, population uint64) *Round {
	ensemble := cfg.ensembleSize
	if ensemble <= 0 {
		ensemble = 1
	}
	return &Round{
		simulator:    sim,
		summarizer:   summarizer,
		distance:     distance,
		reference:    append([]float64(nil), reference...),
		ensembleSize: ensemble,
		seeds:        rand.New(rand.NewSource(common.DeriveSeed(cfg.seed, common.StreamTrials, population))),
		processor: common.NewBatchProcessor[trial, trialOutput](
			common.WithBatchName("trials"),
			common.WithMaxConcurrency(cfg.concurrency),
			common.WithItemTimeout(cfg.trialTimeout),
			common.WithRetryPolicy(cfg.trialRetries, cfg.trialRetryBackoff),
			common.WithBatchMetrics(cfg.metrics),
			common.WithBatchLogger(cfg.logger),
		),
	}
}

// Run draws batchSize parameters from proposal, simulates and summarizes
// every (parameter, replicate) pair in parallel and computes one raw distance
// vector per parameter.  Any collaborator error fails the whole round.
func (r *Round) Run(ctx context.Context, proposal Proposal, batchSize int) (*Batch, error) {
	if batchSize <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "batch size must be positive, got %d", batchSize)
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCancelled, "round cancelled")
	}

	params, err := proposal.Draw(batchSize)
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeProposalExhausted) {
			return nil, err
		}
		return nil, errors.Wrap(err, errors.ErrCodeCollaboratorFailed, "prior draw failed")
	}
	if len(params) != batchSize {
		return nil, errors.Newf(errors.ErrCodeCollaboratorFailed,
			"prior returned %d parameter vectors, expected %d", len(params), batchSize)
	}

	trials := make([]trial, 0, batchSize*r.ensembleSize)
	for i, p := range params {
		for k := 0; k < r.ensembleSize; k++ {
			trials = append(trials, trial{param: i, params: p, seed: r.seeds.Uint64()})
		}
	}

	outs, err := r.processor.ProcessAll(ctx, trials, r.runTrial)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.Wrap(ctxErr, errors.ErrCodeCancelled, "round cancelled")
		}
		return nil, errors.Wrap(err, errors.ErrCodeCollaboratorFailed, "trial failed")
	}

	batch := &Batch{
		Parameters:   params,
		Trajectories: make([][]common.Trajectory, batchSize),
		Summaries:    make([][]float64, batchSize),
		Distances:    make([][]float64, batchSize),
	}
	for i := range params {
		group := outs[i*r.ensembleSize : (i+1)*r.ensembleSize]
		trajectories := make([]common.Trajectory, len(group))
		summaries := make([][]float64, len(group))
		for k, o := range group {
			trajectories[k] = o.trajectory
			summaries[k] = o.summary
		}

		summary := summaries[0]
		if len(summaries) > 1 {
			if summary, err = common.MeanVector(summaries); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeCollaboratorFailed, "replicate summaries disagree")
			}
		}
		dist, err := r.distance.Compute(r.reference, summary)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeCollaboratorFailed, "distance failed")
		}

		batch.Trajectories[i] = trajectories
		batch.Summaries[i] = summary
		batch.Distances[i] = dist
	}
	return batch, nil
}

func (r *Round) runTrial(ctx context.Context, t trial) (trialOutput, error) {
	traj, err := r.simulator.Simulate(ctx, t.params, t.seed)
	if err != nil {
		return trialOutput{}, fmt.Errorf("simulate parameter %d: %w", t.param, err)
	}
	summary, err := r.summarizer.Summarize(traj)
	if err != nil {
		return trialOutput{}, fmt.Errorf("summarize parameter %d: %w", t.param, err)
	}
	return trialOutput{trajectory: traj, summary: summary}, nil
}

//Personal.AI order the ending
