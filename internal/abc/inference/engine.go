package inference

import (
	"context"
	"math"
	"time"

	"github.com/turtacn/abcflow/internal/abc/common"
	"github.com/turtacn/abcflow/internal/abc/normalize"
	"github.com/turtacn/abcflow/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/abcflow/pkg/errors"
)

// engine is the acceptance loop shared by both samplers.
type engine struct {
	name       string
	data       []common.Trajectory
	prior      common.Prior
	simulator  common.Simulator
	summarizer common.Summarizer
	distance   common.Distance
	cfg        *config
	logger     logging.Logger
	ref        referenceHolder
}

func newEngine(name string, data []common.Trajectory, prior common.Prior, sim common.Simulator,
	summarizer common.Summarizer, distance common.Distance, opts []Option) *engine {
	cfg := newConfig(opts)
	return &engine{
		name:       name,
		data:       data,
		prior:      prior,
		simulator:  sim,
		summarizer: summarizer,
		distance:   distance,
		cfg:        cfg,
		logger:     cfg.logger.Named(name),
	}
}

func (e *engine) validate() error {
	switch {
	case e.prior == nil:
		return errors.New(errors.ErrCodeInvalidConfig, "prior is required")
	case e.simulator == nil:
		return errors.New(errors.ErrCodeInvalidConfig, "simulator is required")
	case e.summarizer == nil:
		return errors.New(errors.ErrCodeInvalidConfig, "summarizer is required")
	case e.distance == nil:
		return errors.New(errors.ErrCodeInvalidConfig, "distance is required")
	case len(e.data) == 0:
		return errors.New(errors.ErrCodeInvalidConfig, "observed data is empty")
	case e.cfg.chunkSize <= 0:
		return errors.Newf(errors.ErrCodeInvalidConfig, "chunk size must be positive, got %d", e.cfg.chunkSize)
	case e.cfg.ensembleSize <= 0:
		return errors.Newf(errors.ErrCodeInvalidConfig, "ensemble size must be positive, got %d", e.cfg.ensembleSize)
	case e.cfg.maxTrials < 0:
		return errors.Newf(errors.ErrCodeInvalidConfig, "max trials must not be negative, got %d", e.cfg.maxTrials)
	case e.cfg.roundRetries < 0:
		return errors.Newf(errors.ErrCodeInvalidConfig, "round retries must not be negative, got %d", e.cfg.roundRetries)
	}
	if _, err := normalize.New(e.cfg.scaling); err != nil {
		return err
	}
	return nil
}

func validEpsilon(eps float64) bool {
	return eps > 0 && !math.IsInf(eps, 0)
}

// Reference returns the cached reference summary, computing it on first use.
func (e *engine) Reference(ctx context.Context) ([]float64, error) {
	if err := e.validate(); err != nil {
		return nil, err
	}
	ref, err := e.ref.get(ctx, e)
	if err != nil {
		return nil, err
	}
	return append([]float64(nil), ref...), nil
}

type populationRun struct {
	index     int
	proposal  Proposal
	target    int
	epsilon   float64
	batchSize int
	// budget is the number of trials still allowed; negative means unbounded.
	budget int
}

type populationOutcome struct {
	samples []Sample
	trials  int
}

// runPopulation runs rounds until run.target samples are accepted.  The
// outcome is valid even when an error is returned and holds everything
// accepted before the failure.
func (e *engine) runPopulation(ctx context.Context, reference []float64, run populationRun) (populationOutcome, error) {
	var out populationOutcome
	norm, err := normalize.New(e.cfg.scaling)
	if err != nil {
		return out, err
	}
	round := newRound(e.cfg, e.simulator, e.summarizer, e.distance, reference, uint64(run.index))

	for n := 0; len(out.samples) < run.target; n++ {
		if err := ctx.Err(); err != nil {
			return out, errors.Wrap(err, errors.ErrCodeCancelled, "inference cancelled")
		}
		if run.budget >= 0 && out.trials+run.batchSize > run.budget {
			return out, errors.Newf(errors.ErrCodeTrialCapExceeded,
				"trial cap reached after %d trials with %d of %d samples accepted",
				out.trials, len(out.samples), run.target)
		}

		start := time.Now()
		batch, err := e.runRound(ctx, round, run)
		if err != nil {
			return out, err
		}
		accepted, err := accept(batch, norm, run.epsilon, run.target-len(out.samples))
		if err != nil {
			return out, err
		}
		out.samples = append(out.samples, accepted...)
		out.trials += run.batchSize

		e.reportRound(ctx, RoundReport{
			Sampler:       e.name,
			Population:    run.index,
			Round:         n,
			Epsilon:       run.epsilon,
			BatchSize:     run.batchSize,
			Accepted:      len(accepted),
			TotalAccepted: len(out.samples),
			TrialCount:    out.trials,
			Duration:      time.Since(start),
		})
	}
	return out, nil
}

func (e *engine) runRound(ctx context.Context, round *Round, run populationRun) (*Batch, error) {
	for attempt := 0; ; attempt++ {
		batch, err := round.Run(ctx, run.proposal, run.batchSize)
		if err == nil {
			return batch, nil
		}
		if attempt >= e.cfg.roundRetries || ctx.Err() != nil || !errors.IsCode(err, errors.ErrCodeCollaboratorFailed) {
			return nil, err
		}
		e.logger.Warn("round failed, retrying",
			logging.Int("population", run.index),
			logging.Int("attempt", attempt+1),
			logging.Err(err))
	}
}

// accept normalizes the batch's raw distances in trial order and keeps at
// most need trials whose combined distance is within eps.  Every trial of
// the batch enters the normalizer history.
func accept(batch *Batch, norm normalize.Normalizer, eps float64, need int) ([]Sample, error) {
	if batch.Len() == 0 {
		return nil, nil
	}
	width := len(batch.Distances[0])
	for i, d := range batch.Distances {
		if len(d) == 0 || len(d) != width {
			return nil, errors.Newf(errors.ErrCodeDimensionMismatch,
				"trial %d has %d distance channels, expected %d", i, len(d), width)
		}
	}

	var out []Sample
	for i, raw := range batch.Distances {
		scaled, err := norm.Scale(raw)
		if err != nil {
			return nil, err
		}
		combined := common.CombineDistance(scaled)
		if len(out) < need && combined <= eps {
			out = append(out, Sample{
				Parameters: append([]float64(nil), batch.Parameters[i]...),
				Distance:   append([]float64(nil), raw...),
				Combined:   combined,
				Weight:     1,
			})
		}
	}
	return out, nil
}

// checkAccepted asserts the acceptance postcondition.
func checkAccepted(samples []Sample, eps float64) error {
	for i, s := range samples {
		if !(s.Combined <= eps) {
			return errors.Newf(errors.ErrCodeInternal,
				"accepted sample %d has combined distance %v above epsilon %v", i, s.Combined, eps)
		}
	}
	return nil
}

func (e *engine) reportRound(ctx context.Context, r RoundReport) {
	e.cfg.metrics.RecordRound(ctx, &common.RoundMetricParams{
		Sampler:    r.Sampler,
		Population: r.Population,
		BatchSize:  r.BatchSize,
		Accepted:   r.Accepted,
		Epsilon:    r.Epsilon,
		DurationMs: float64(r.Duration.Microseconds()) / 1000.0,
	})
	e.logger.Debug("round complete",
		logging.Int("population", r.Population),
		logging.Int("round", r.Round),
		logging.Int("accepted", r.Accepted),
		logging.Int("total_accepted", r.TotalAccepted),
		logging.Int("trials", r.TrialCount),
		logging.Duration("duration", r.Duration))
	if r.Accepted > 0 {
		e.logger.Info("accepted samples",
			logging.Int("population", r.Population),
			logging.Int("total_accepted", r.TotalAccepted),
			logging.Int("trials", r.TrialCount))
	}
	if e.cfg.observer != nil {
		e.cfg.observer(r)
	}
}

func (e *engine) trialBudget(used int) int {
	if e.cfg.maxTrials == 0 {
		return -1
	}
	if remaining := e.cfg.maxTrials - used; remaining > 0 {
		return remaining
	}
	return 0
}

func (e *engine) recordRun(ctx context.Context, err error, trials, accepted int, elapsed time.Duration) {
	status := common.RunStatusSucceeded
	switch {
	case err == nil:
	case errors.IsCode(err, errors.ErrCodeCancelled):
		status = common.RunStatusCancelled
	default:
		status = common.RunStatusFailed
	}
	e.cfg.metrics.RecordRun(ctx, &common.RunMetricParams{
		Sampler:    e.name,
		Status:     status,
		Trials:     trials,
		Accepted:   accepted,
		DurationMs: float64(elapsed.Microseconds()) / 1000.0,
	})
}

// partialOnError reports whether a failed run still returns what it
// accepted so far.
func partialOnError(err error) bool {
	return errors.IsCode(err, errors.ErrCodeCancelled) || errors.IsCode(err, errors.ErrCodeTrialCapExceeded)
}

//Personal.AI order the ending
