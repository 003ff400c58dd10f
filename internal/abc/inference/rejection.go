package inference

import (
	"context"
	"time"

	"github.com/turtacn/abcflow/internal/abc/common"
	"github.com/turtacn/abcflow/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/abcflow/pkg/errors"
)

// RejectionSampler is the plain ABC rejection sampler.  Every Infer call
// owns a fresh normalizer and accepted list; the reference summary is
// computed on first use and kept for the sampler's lifetime.  Concurrent
// Infer calls on one sampler are safe as long as the collaborators are.
type RejectionSampler struct {
	*engine
}

// NewRejectionSampler creates a sampler over the observed data.
func NewRejectionSampler(
	data []common.Trajectory,
	prior common.Prior,
	sim common.Simulator,
	summarizer common.Summarizer,
	distance common.Distance,
	opts ...Option,
) *RejectionSampler {
	return &RejectionSampler{engine: newEngine("rejection", data, prior, sim, summarizer, distance, opts)}
}

// Epsilon returns the acceptance tolerance.
func (s *RejectionSampler) Epsilon() float64 { return s.cfg.epsilon }

// Infer draws rounds of batchSize trials until numSamples trials have been
// accepted.  Acceptances beyond numSamples in the final round are dropped.
//
// On cancellation (ABC_006) or when the trial cap is hit (ABC_007) the
// returned Result holds the samples accepted so far together with the error.
func (s *RejectionSampler) Infer(ctx context.Context, numSamples, batchSize int) (*Result, error) {
	start := time.Now()
	if numSamples <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "number of samples must be positive, got %d", numSamples)
	}
	if batchSize <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "batch size must be positive, got %d", batchSize)
	}
	if !validEpsilon(s.cfg.epsilon) {
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "epsilon must be positive and finite, got %v", s.cfg.epsilon)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}

	ref, err := s.ref.get(ctx, s.engine)
	if err != nil {
		s.recordRun(ctx, err, 0, 0, time.Since(start))
		return nil, err
	}

	s.logger.Info("rejection sampling started",
		logging.Int("num_samples", numSamples),
		logging.Int("batch_size", batchSize),
		logging.Float64("epsilon", s.cfg.epsilon),
		logging.String("scaling", string(s.cfg.scaling)))

	out, runErr := s.runPopulation(ctx, ref, populationRun{
		index:     0,
		proposal:  s.prior,
		target:    numSamples,
		epsilon:   s.cfg.epsilon,
		batchSize: batchSize,
		budget:    s.trialBudget(0),
	})

	res, err := s.buildResult(out, time.Since(start))
	if runErr == nil {
		runErr = err
	}
	s.recordRun(ctx, runErr, out.trials, len(out.samples), time.Since(start))

	if runErr != nil {
		s.logger.Warn("rejection sampling stopped",
			logging.Int("accepted", len(out.samples)),
			logging.Int("trials", out.trials),
			logging.Err(runErr))
		if partialOnError(runErr) && err == nil {
			return res, runErr
		}
		return nil, runErr
	}

	s.logger.Info("rejection sampling finished",
		logging.Int("accepted", res.AcceptedCount),
		logging.Int("trials", res.TrialCount),
		logging.Float64s("estimate", res.Estimate),
		logging.Duration("elapsed", res.Elapsed))
	return res, nil
}

func (s *RejectionSampler) buildResult(out populationOutcome, elapsed time.Duration) (*Result, error) {
	res := &Result{
		Samples:       out.samples,
		AcceptedCount: len(out.samples),
		TrialCount:    out.trials,
		Epsilon:       s.cfg.epsilon,
		Elapsed:       elapsed,
	}
	if res.Samples == nil {
		res.Samples = []Sample{}
	}
	if err := checkAccepted(res.Samples, res.Epsilon); err != nil {
		return nil, err
	}
	if res.AcceptedCount > 0 {
		est, err := common.MeanVector(res.Parameters())
		if err != nil {
			return nil, err
		}
		res.Estimate = est
	}
	return res, nil
}

//Personal.AI order the ending
