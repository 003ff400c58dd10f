package inference

import (
	"context"
	"math"
	"time"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/turtacn/abcflow/internal/abc/common"
	"github.com/turtacn/abcflow/internal/abc/epsilon"
	"github.com/turtacn/abcflow/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/abcflow/pkg/errors"
)

// SMCRequest describes a sequential run.  Tolerances come from Epsilons when
// set, otherwise from Schedule (halving when nil) applied to InitialEpsilon
// and Populations.  Per-population targets come from NumAccepted when set,
// otherwise NumAcceptedEach is used for every population.
//
// Priors optionally gives every population its own prior; the sampler's
// prior is used otherwise.  Without Epsilons or Populations the number of
// populations is len(Priors).
type SMCRequest struct {
	Epsilons        []float64
	Schedule        epsilon.Schedule
	InitialEpsilon  float64
	Populations     int
	NumAccepted     []int
	NumAcceptedEach int
	BatchSize       int
	Priors          []common.Prior
}

func (r SMCRequest) resolve() ([]float64, []int, error) {
	if r.BatchSize <= 0 {
		return nil, nil, errors.Newf(errors.ErrCodeInvalidConfig, "batch size must be positive, got %d", r.BatchSize)
	}

	var eps []float64
	if len(r.Epsilons) > 0 {
		if r.Populations != 0 && r.Populations != len(r.Epsilons) {
			return nil, nil, errors.Newf(errors.ErrCodePopulationMismatch,
				"%d tolerances supplied for %d populations", len(r.Epsilons), r.Populations)
		}
		for i, e := range r.Epsilons {
			if !validEpsilon(e) {
				return nil, nil, errors.Newf(errors.ErrCodeInvalidConfig, "tolerance %d must be positive and finite, got %v", i, e)
			}
		}
		eps = append([]float64(nil), r.Epsilons...)
	} else {
		schedule := r.Schedule
		if schedule == nil {
			schedule = epsilon.Halving()
		}
		populations := r.Populations
		if populations == 0 {
			populations = len(r.Priors)
		}
		built, err := schedule.Build(r.InitialEpsilon, populations)
		if err != nil {
			return nil, nil, err
		}
		eps = built
	}

	var targets []int
	if len(r.NumAccepted) > 0 {
		if len(r.NumAccepted) != len(eps) {
			return nil, nil, errors.Newf(errors.ErrCodePopulationMismatch,
				"%d sample targets supplied for %d populations", len(r.NumAccepted), len(eps))
		}
		targets = append([]int(nil), r.NumAccepted...)
	} else {
		targets = make([]int, len(eps))
		for i := range targets {
			targets[i] = r.NumAcceptedEach
		}
	}
	for i, n := range targets {
		if n <= 0 {
			return nil, nil, errors.Newf(errors.ErrCodeInvalidConfig, "population %d sample target must be positive, got %d", i, n)
		}
	}
	return eps, targets, nil
}

// priors returns the prior of each of n populations.
func (r SMCRequest) priors(n int, base common.Prior) ([]common.Prior, error) {
	out := make([]common.Prior, n)
	if len(r.Priors) == 0 {
		for i := range out {
			out[i] = base
		}
		return out, nil
	}
	if len(r.Priors) != n {
		return nil, errors.Newf(errors.ErrCodePopulationMismatch,
			"%d priors supplied for %d populations", len(r.Priors), n)
	}
	for i, p := range r.Priors {
		if p == nil {
			return nil, errors.Newf(errors.ErrCodeInvalidConfig, "prior of population %d is nil", i)
		}
		if p.Dim() != base.Dim() {
			return nil, errors.Newf(errors.ErrCodeDimensionMismatch,
				"prior of population %d has dimension %d, expected %d", i, p.Dim(), base.Dim())
		}
		out[i] = p
	}
	return out, nil
}

// SequentialSampler is the SMC-ABC sampler.  Population 0 samples from the
// prior; later populations resample the previous population by weight and
// perturb with the kernel.  Importance weights are
//
//	w_i ∝ prior(θ_i) / Σ_j w_j · K(θ_i − θ_j)
//
// where the sum runs over the previous population.
type SequentialSampler struct {
	*engine
	kernel common.Kernel
}

// NewSequentialSampler creates an SMC-ABC sampler.
func NewSequentialSampler(
	data []common.Trajectory,
	prior common.Prior,
	kernel common.Kernel,
	sim common.Simulator,
	summarizer common.Summarizer,
	distance common.Distance,
	opts ...Option,
) *SequentialSampler {
	return &SequentialSampler{
		engine: newEngine("smc", data, prior, sim, summarizer, distance, opts),
		kernel: kernel,
	}
}

// Infer runs every population of req in order.  On cancellation or when the
// trial cap is hit the result holds the populations completed so far.
func (s *SequentialSampler) Infer(ctx context.Context, req SMCRequest) (*SMCResult, error) {
	start := time.Now()
	eps, targets, err := req.resolve()
	if err != nil {
		return nil, err
	}
	if s.kernel == nil {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "perturbation kernel is required")
	}
	if s.cfg.maxProposalAttempts <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidConfig,
			"max proposal attempts must be positive, got %d", s.cfg.maxProposalAttempts)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	priors, err := req.priors(len(eps), s.prior)
	if err != nil {
		return nil, err
	}
	if err := epsilon.CheckDecreasing(eps); err != nil {
		s.logger.Warn("tolerances are not strictly decreasing", logging.Err(err))
	}

	ref, err := s.ref.get(ctx, s.engine)
	if err != nil {
		s.recordRun(ctx, err, 0, 0, time.Since(start))
		return nil, err
	}

	s.logger.Info("smc sampling started",
		logging.Int("populations", len(eps)),
		logging.Float64s("epsilons", eps),
		logging.Int("batch_size", req.BatchSize))

	kernel := s.kernel
	if c, ok := kernel.(common.KernelCloner); ok {
		kernel = c.Clone()
	}

	result := &SMCResult{Populations: make([]Population, 0, len(eps))}
	var prev *Population
	for p := range eps {
		pop, trials, err := s.population(ctx, ref, kernel, priors[p], p, eps[p], targets[p], req.BatchSize, prev, result.TrialCount)
		result.TrialCount += trials
		if err != nil {
			result.Elapsed = time.Since(start)
			s.recordRun(ctx, err, result.TrialCount, acceptedIn(result), result.Elapsed)
			s.logger.Warn("smc sampling stopped",
				logging.Int("population", p),
				logging.Int("trials", result.TrialCount),
				logging.Err(err))
			if partialOnError(err) {
				if final := result.Final(); final != nil {
					result.Estimate, _ = common.WeightedMeanVector(final.Parameters(), final.Weights)
				}
				return result, err
			}
			return nil, err
		}
		result.Populations = append(result.Populations, *pop)
		prev = pop

		s.cfg.metrics.RecordPopulation(ctx, &common.PopulationMetricParams{
			Index:      pop.Index,
			Epsilon:    pop.Epsilon,
			Accepted:   len(pop.Samples),
			Trials:     pop.TrialCount,
			ESS:        pop.ESS,
			DurationMs: float64(pop.Elapsed.Microseconds()) / 1000.0,
		})
		s.logger.Info("population complete",
			logging.Int("population", pop.Index),
			logging.Float64("epsilon", pop.Epsilon),
			logging.Int("trials", pop.TrialCount),
			logging.Float64("ess", pop.ESS))
		if s.cfg.populationObserver != nil {
			s.cfg.populationObserver(*pop)
		}
	}

	final := result.Final()
	est, err := common.WeightedMeanVector(final.Parameters(), final.Weights)
	if err != nil {
		s.recordRun(ctx, err, result.TrialCount, acceptedIn(result), time.Since(start))
		return nil, err
	}
	result.Estimate = est
	result.Elapsed = time.Since(start)
	s.recordRun(ctx, nil, result.TrialCount, acceptedIn(result), result.Elapsed)
	s.logger.Info("smc sampling finished",
		logging.Int("trials", result.TrialCount),
		logging.Float64s("estimate", result.Estimate),
		logging.Duration("elapsed", result.Elapsed))
	return result, nil
}

func (s *SequentialSampler) population(ctx context.Context, ref []float64, kernel common.Kernel, prior common.Prior, index int, eps float64, target, batchSize int, prev *Population, used int) (*Population, int, error) {
	start := time.Now()

	var proposal Proposal = prior
	if prev != nil {
		if adapter, ok := kernel.(common.KernelAdapter); ok && s.cfg.adaptKernel {
			if err := adapter.Adapt(prev.Parameters(), prev.Weights); err != nil {
				return nil, 0, errors.Wrap(err, errors.ErrCodeCollaboratorFailed, "kernel adaptation failed")
			}
		}
		proposal = newPerturbation(prev, prior, kernel, s.cfg.maxProposalAttempts, common.DeriveSeed(s.cfg.seed, common.StreamAncestors, uint64(index)))
	}

	out, err := s.runPopulation(ctx, ref, populationRun{
		index:     index,
		proposal:  proposal,
		target:    target,
		epsilon:   eps,
		batchSize: batchSize,
		budget:    s.trialBudget(used),
	})
	if err != nil {
		return nil, out.trials, err
	}
	if err := checkAccepted(out.samples, eps); err != nil {
		return nil, out.trials, err
	}

	weights, err := importanceWeights(prior, kernel, out.samples, prev)
	if err != nil {
		return nil, out.trials, err
	}
	for i := range out.samples {
		out.samples[i].Weight = weights[i]
	}
	return &Population{
		Index:      index,
		Epsilon:    eps,
		Samples:    out.samples,
		Weights:    weights,
		TrialCount: out.trials,
		ESS:        EffectiveSampleSize(weights),
		Elapsed:    time.Since(start),
	}, out.trials, nil
}

func importanceWeights(prior common.Prior, kernel common.Kernel, samples []Sample, prev *Population) ([]float64, error) {
	n := len(samples)
	w := make([]float64, n)
	if prev == nil {
		for i := range w {
			w[i] = 1 / float64(n)
		}
		return w, nil
	}

	for i, smp := range samples {
		diff := make([]float64, len(smp.Parameters))
		var den float64
		for j, anc := range prev.Samples {
			if len(anc.Parameters) != len(diff) {
				return nil, errors.Newf(errors.ErrCodeDimensionMismatch,
					"particle dimension %d differs from previous population %d", len(diff), len(anc.Parameters))
			}
			floats.SubTo(diff, smp.Parameters, anc.Parameters)
			den += prev.Weights[j] * kernel.PDF(diff)
		}
		if den > 0 {
			w[i] = prior.PDF(smp.Parameters) / den
		}
	}

	total := floats.Sum(w)
	if !(total > 0) || math.IsInf(total, 0) {
		return nil, errors.New(errors.ErrCodeDegenerateWeights, "importance weights sum to zero")
	}
	floats.Scale(1/total, w)
	return w, nil
}

// EffectiveSampleSize returns 1 / Σ w² for normalized weights.
func EffectiveSampleSize(weights []float64) float64 {
	if len(weights) == 0 {
		return 0
	}
	sq := floats.Dot(weights, weights)
	if sq == 0 {
		return 0
	}
	return 1 / sq
}

func acceptedIn(r *SMCResult) int {
	if final := r.Final(); final != nil {
		return len(final.Samples)
	}
	return 0
}

// perturbation proposes θ = θ_j + δ with j drawn by weight from the previous
// population and δ drawn from the kernel.  Proposals outside the prior's
// support are redrawn.
type perturbation struct {
	particles   [][]float64
	ancestors   distuv.Categorical
	prior       common.Prior
	kernel      common.Kernel
	maxAttempts int
}

func newPerturbation(prev *Population, prior common.Prior, kernel common.Kernel, maxAttempts int, seed uint64) *perturbation {
	return &perturbation{
		particles:   prev.Parameters(),
		ancestors:   distuv.NewCategorical(prev.Weights, rand.NewSource(seed)),
		prior:       prior,
		kernel:      kernel,
		maxAttempts: maxAttempts,
	}
}

// Draw implements Proposal.
func (p *perturbation) Draw(n int) ([][]float64, error) {
	out := make([][]float64, n)
	for i := range out {
		theta, err := p.drawOne()
		if err != nil {
			return nil, err
		}
		out[i] = theta
	}
	return out, nil
}

func (p *perturbation) drawOne() ([]float64, error) {
	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		ancestor := p.particles[int(p.ancestors.Rand())]
		deltas, err := p.kernel.RVS(1)
		if err != nil {
			return nil, err
		}
		if len(deltas) != 1 || len(deltas[0]) != len(ancestor) {
			return nil, errors.Newf(errors.ErrCodeDimensionMismatch,
				"kernel perturbation does not match parameter dimension %d", len(ancestor))
		}
		theta := make([]float64, len(ancestor))
		floats.AddTo(theta, ancestor, deltas[0])
		if p.prior.PDF(theta) > 0 {
			return theta, nil
		}
	}
	return nil, errors.Newf(errors.ErrCodeProposalExhausted,
		"no proposal inside the prior support after %d attempts", p.maxAttempts)
}

//Personal.AI order the ending
