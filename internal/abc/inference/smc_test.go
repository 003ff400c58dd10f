package inference

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/turtacn/abcflow/internal/abc/common"
	"github.com/turtacn/abcflow/internal/abc/distance"
	"github.com/turtacn/abcflow/internal/abc/epsilon"
	"github.com/turtacn/abcflow/internal/abc/kernel"
	"github.com/turtacn/abcflow/internal/abc/prior"
	"github.com/turtacn/abcflow/internal/abc/simulator"
	"github.com/turtacn/abcflow/internal/abc/summary"
	"github.com/turtacn/abcflow/internal/testutil"
	apperrors "github.com/turtacn/abcflow/pkg/errors"
)

// laplaceKernel perturbs by a constant and evaluates exp(-|x|).
type laplaceKernel struct {
	delta  float64
	adapts int
}

func (k *laplaceKernel) RVS(n int) ([][]float64, error) {
	out := make([][]float64, n)
	for i := range out {
		out[i] = []float64{k.delta}
	}
	return out, nil
}

func (k *laplaceKernel) PDF(x []float64) float64 { return math.Exp(-math.Abs(x[0])) }

func (k *laplaceKernel) Adapt([][]float64, []float64) error {
	k.adapts++
	return nil
}

func TestSMCRequest_Resolve(t *testing.T) {
	tests := []struct {
		name    string
		req     SMCRequest
		eps     []float64
		targets []int
		code    apperrors.ErrorCode
	}{
		{
			name:    "explicit lists",
			req:     SMCRequest{Epsilons: []float64{3, 2, 1}, NumAccepted: []int{5, 6, 7}, BatchSize: 10},
			eps:     []float64{3, 2, 1},
			targets: []int{5, 6, 7},
		},
		{
			name:    "default halving schedule",
			req:     SMCRequest{InitialEpsilon: 8, Populations: 4, NumAcceptedEach: 2, BatchSize: 1},
			eps:     []float64{8, 4, 2, 1},
			targets: []int{2, 2, 2, 2},
		},
		{
			name:    "divide schedule",
			req:     SMCRequest{Schedule: epsilon.DivideK{K: 10}, InitialEpsilon: 1, Populations: 2, NumAcceptedEach: 1, BatchSize: 1},
			eps:     []float64{1, 0.1},
			targets: []int{1, 1},
		},
		{
			name: "target list mismatch",
			req:  SMCRequest{Epsilons: []float64{2, 1}, NumAccepted: []int{5}, BatchSize: 1},
			code: apperrors.ErrCodePopulationMismatch,
		},
		{
			name: "population count mismatch",
			req:  SMCRequest{Epsilons: []float64{2, 1}, Populations: 3, NumAcceptedEach: 1, BatchSize: 1},
			code: apperrors.ErrCodePopulationMismatch,
		},
		{
			name: "non-positive target",
			req:  SMCRequest{Epsilons: []float64{2, 1}, NumAccepted: []int{5, 0}, BatchSize: 1},
			code: apperrors.ErrCodeInvalidConfig,
		},
		{
			name: "missing target",
			req:  SMCRequest{Epsilons: []float64{2}, BatchSize: 1},
			code: apperrors.ErrCodeInvalidConfig,
		},
		{
			name: "negative tolerance",
			req:  SMCRequest{Epsilons: []float64{-1}, NumAcceptedEach: 1, BatchSize: 1},
			code: apperrors.ErrCodeInvalidConfig,
		},
		{
			name: "zero populations",
			req:  SMCRequest{InitialEpsilon: 1, NumAcceptedEach: 1, BatchSize: 1},
			code: apperrors.ErrCodeInvalidConfig,
		},
		{
			name: "zero batch",
			req:  SMCRequest{Epsilons: []float64{1}, NumAcceptedEach: 1},
			code: apperrors.ErrCodeInvalidConfig,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			eps, targets, err := tt.req.resolve()
			if tt.code != "" {
				assert.True(t, apperrors.IsCode(err, tt.code), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.eps, eps)
			assert.Equal(t, tt.targets, targets)
		})
	}
}

func TestSMC_ConfigErrorsBeforeSimulation(t *testing.T) {
	sim := &testutil.CountingSimulator{}
	s := NewSequentialSampler(observedFive(), indexPrior(3), &laplaceKernel{}, sim, summary.Identity{}, distance.Absolute{})
	_, err := s.Infer(context.Background(), SMCRequest{Epsilons: []float64{2, 1}, NumAccepted: []int{1}, BatchSize: 1})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodePopulationMismatch))

	s = NewSequentialSampler(observedFive(), indexPrior(3), nil, sim, summary.Identity{}, distance.Absolute{})
	_, err = s.Infer(context.Background(), SMCRequest{Epsilons: []float64{1}, NumAcceptedEach: 1, BatchSize: 1})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidConfig))

	s = NewSequentialSampler(observedFive(), indexPrior(3), &laplaceKernel{}, sim, summary.Identity{}, distance.Absolute{},
		WithMaxProposalAttempts(0))
	_, err = s.Infer(context.Background(), SMCRequest{Epsilons: []float64{1}, NumAcceptedEach: 1, BatchSize: 1})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidConfig))

	assert.Equal(t, int64(0), sim.Calls())
}

func TestSMC_EndToEnd(t *testing.T) {
	u, err := prior.NewUniform([]float64{0}, []float64{10}, 11)
	require.NoError(t, err)
	k, err := kernel.NewGaussian([]float64{1}, 12)
	require.NoError(t, err)

	var observed []Population
	metrics := common.NewInMemoryEngineMetrics()
	s := NewSequentialSampler(observedFive(), u, k, simulator.Identity{}, summary.Identity{}, distance.Absolute{},
		WithSeed(5), WithMetrics(metrics),
		WithPopulationObserver(func(p Population) { observed = append(observed, p) }))

	res, err := s.Infer(context.Background(), SMCRequest{Epsilons: []float64{2, 1, 0.5}, NumAcceptedEach: 20, BatchSize: 50})
	require.NoError(t, err)
	require.Len(t, res.Populations, 3)

	total := 0
	for p, pop := range res.Populations {
		assert.Equal(t, p, pop.Index)
		require.Len(t, pop.Samples, 20)
		require.Len(t, pop.Weights, 20)
		assert.InDelta(t, 1.0, floats.Sum(pop.Weights), 1e-9)
		assert.Greater(t, pop.ESS, 0.0)
		assert.LessOrEqual(t, pop.ESS, 20.0+1e-9)
		assert.Equal(t, 0, pop.TrialCount%50)
		for i, smp := range pop.Samples {
			assert.LessOrEqual(t, smp.Combined, pop.Epsilon)
			assert.InDelta(t, 5.0, smp.Parameters[0], pop.Epsilon+1e-12)
			assert.Equal(t, pop.Weights[i], smp.Weight)
		}
		total += pop.TrialCount
	}
	assert.Equal(t, total, res.TrialCount)
	assert.InDelta(t, 20.0, res.Populations[0].ESS, 1e-9)

	require.Len(t, res.Estimate, 1)
	assert.InDelta(t, 5.0, res.Estimate[0], 0.5)
	assert.Len(t, observed, 3)
	assert.Len(t, metrics.Populations(), 3)
	assert.Equal(t, common.RunStatusSucceeded, metrics.Runs()[0].Status)
	// Adaptation ran on a per-run copy.
	assert.Equal(t, []float64{1}, k.Variances())
}

// trackingKernel records the variances each run's clone ends with.
type trackingKernel struct {
	*kernel.Gaussian
	clones *[]*kernel.Gaussian
}

func (k trackingKernel) Clone() common.Kernel {
	c := k.Gaussian.Clone().(*kernel.Gaussian)
	*k.clones = append(*k.clones, c)
	return c
}

func TestSMC_RunsDoNotShareKernelState(t *testing.T) {
	u, err := prior.NewUniform([]float64{0}, []float64{10}, 3)
	require.NoError(t, err)
	g, err := kernel.NewGaussian([]float64{1}, 3)
	require.NoError(t, err)
	var clones []*kernel.Gaussian
	s := NewSequentialSampler(observedFive(), u, trackingKernel{Gaussian: g, clones: &clones},
		simulator.Identity{}, summary.Identity{}, distance.Absolute{}, WithSeed(3))

	req := SMCRequest{Epsilons: []float64{3, 1}, NumAcceptedEach: 10, BatchSize: 20}
	for i := 0; i < 2; i++ {
		_, err := s.Infer(context.Background(), req)
		require.NoError(t, err)
	}

	require.Len(t, clones, 2)
	assert.NotSame(t, clones[0], clones[1])
	assert.NotEqual(t, []float64{1}, clones[0].Variances())
	assert.NotEqual(t, []float64{1}, clones[1].Variances())
	assert.Equal(t, []float64{1}, g.Variances())
}

func TestSMC_ImportanceWeights(t *testing.T) {
	k := &laplaceKernel{}
	s := NewSequentialSampler(observedFive(), testutil.NewSequencePrior(-10, 10, []float64{0}), k,
		&testutil.CountingSimulator{}, summary.Identity{}, distance.Absolute{})

	prev := &Population{
		Samples: []Sample{{Parameters: []float64{0}}, {Parameters: []float64{1}}},
		Weights: []float64{0.5, 0.5},
	}
	samples := []Sample{{Parameters: []float64{0.5}}, {Parameters: []float64{0}}}

	w, err := importanceWeights(s.prior, k, samples, prev)
	require.NoError(t, err)

	den0 := math.Exp(-0.5)
	den1 := 0.5 + 0.5*math.Exp(-1)
	raw := []float64{1 / den0, 1 / den1}
	sum := raw[0] + raw[1]
	assert.InDelta(t, raw[0]/sum, w[0], 1e-12)
	assert.InDelta(t, raw[1]/sum, w[1], 1e-12)

	uniform, err := importanceWeights(s.prior, k, samples, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.5}, uniform)
}

func TestSMCRequest_Priors(t *testing.T) {
	base, err := prior.NewUniform([]float64{0}, []float64{10}, 1)
	require.NoError(t, err)
	narrow, err := prior.NewUniform([]float64{4}, []float64{6}, 1)
	require.NoError(t, err)
	wide2d, err := prior.NewUniform([]float64{0, 0}, []float64{1, 1}, 1)
	require.NoError(t, err)

	// Without tolerances or a population count the prior list sets it.
	eps, _, err := SMCRequest{InitialEpsilon: 4, Priors: []common.Prior{base, narrow, narrow}, NumAcceptedEach: 1, BatchSize: 1}.resolve()
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 2, 1}, eps)

	got, err := SMCRequest{}.priors(2, base)
	require.NoError(t, err)
	assert.Equal(t, []common.Prior{base, base}, got)

	_, err = SMCRequest{Priors: []common.Prior{base}}.priors(2, base)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodePopulationMismatch))
	_, err = SMCRequest{Priors: []common.Prior{base, nil}}.priors(2, base)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidConfig))
	_, err = SMCRequest{Priors: []common.Prior{base, wide2d}}.priors(2, base)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeDimensionMismatch))
}

func TestSMC_PerPopulationPriors(t *testing.T) {
	base, err := prior.NewUniform([]float64{0}, []float64{10}, 1)
	require.NoError(t, err)
	narrow, err := prior.NewUniform([]float64{4.5}, []float64{5.5}, 1)
	require.NoError(t, err)
	k, err := kernel.NewGaussian([]float64{1}, 2)
	require.NoError(t, err)

	sim := &testutil.CountingSimulator{}
	s := NewSequentialSampler(observedFive(), base, k, sim, summary.Identity{}, distance.Absolute{}, WithSeed(11))

	_, err = s.Infer(context.Background(), SMCRequest{
		Epsilons: []float64{3, 2}, NumAcceptedEach: 8, BatchSize: 16,
		Priors: []common.Prior{base, base, narrow},
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodePopulationMismatch))
	assert.Zero(t, sim.Calls())

	res, err := s.Infer(context.Background(), SMCRequest{
		Epsilons: []float64{3, 2}, NumAcceptedEach: 8, BatchSize: 16,
		Priors: []common.Prior{base, narrow},
	})
	require.NoError(t, err)
	require.Len(t, res.Populations, 2)
	for _, smp := range res.Populations[1].Samples {
		assert.GreaterOrEqual(t, smp.Parameters[0], 4.5)
		assert.LessOrEqual(t, smp.Parameters[0], 5.5)
	}
	assert.InDelta(t, 1, floats.Sum(res.Populations[1].Weights), 1e-9)
}

func TestSMC_DegenerateWeights(t *testing.T) {
	s := NewSequentialSampler(observedFive(), testutil.NewSequencePrior(100, 200, []float64{150}), &laplaceKernel{},
		&testutil.CountingSimulator{}, summary.Identity{}, distance.Absolute{})
	prev := &Population{Samples: []Sample{{Parameters: []float64{150}}}, Weights: []float64{1}}

	// Outside the prior support every numerator is zero.
	_, err := importanceWeights(s.prior, &laplaceKernel{}, []Sample{{Parameters: []float64{0}}}, prev)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeDegenerateWeights))
}

func TestSMC_KernelAdaptationToggle(t *testing.T) {
	run := func(adapt bool) int {
		k := &laplaceKernel{}
		p := testutil.NewSequencePrior(0, 10, []float64{5})
		s := NewSequentialSampler(observedFive(), p, k, &testutil.CountingSimulator{}, summary.Identity{}, distance.Absolute{},
			WithKernelAdaptation(adapt))
		_, err := s.Infer(context.Background(), SMCRequest{InitialEpsilon: 4, Populations: 3, NumAcceptedEach: 2, BatchSize: 2})
		require.NoError(t, err)
		return k.adapts
	}
	assert.Equal(t, 2, run(true))
	assert.Equal(t, 0, run(false))
}

func TestSMC_ProposalExhausted(t *testing.T) {
	p := testutil.NewSequencePrior(0, 10, []float64{5})
	s := NewSequentialSampler(observedFive(), p, &laplaceKernel{delta: 100}, &testutil.CountingSimulator{},
		summary.Identity{}, distance.Absolute{}, WithMaxProposalAttempts(5))

	res, err := s.Infer(context.Background(), SMCRequest{Epsilons: []float64{1, 0.5}, NumAcceptedEach: 2, BatchSize: 2})
	assert.Nil(t, res)
	assert.Equal(t, apperrors.ErrCodeProposalExhausted, apperrors.GetCode(err))
}

func TestSMC_CancelledKeepsCompletedPopulations(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := testutil.NewSequencePrior(0, 10, []float64{5})
	s := NewSequentialSampler(observedFive(), p, &laplaceKernel{}, &testutil.CountingSimulator{},
		summary.Identity{}, distance.Absolute{},
		WithPopulationObserver(func(pop Population) {
			if pop.Index == 0 {
				cancel()
			}
		}))

	res, err := s.Infer(ctx, SMCRequest{Epsilons: []float64{1, 0.5}, NumAcceptedEach: 2, BatchSize: 2})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeCancelled))
	require.NotNil(t, res)
	require.Len(t, res.Populations, 1)
	assert.Equal(t, []float64{5}, res.Estimate)
}

func TestSMC_TrialCapSpansPopulations(t *testing.T) {
	p := testutil.NewSequencePrior(0, 10, []float64{5}, []float64{9})
	s := NewSequentialSampler(observedFive(), p, &laplaceKernel{}, &testutil.CountingSimulator{},
		summary.Identity{}, distance.Absolute{}, WithMaxTrials(5))

	// Population 0 uses 4 trials, leaving less than one batch for population 1.
	res, err := s.Infer(context.Background(), SMCRequest{Epsilons: []float64{1, 0.5}, NumAcceptedEach: 2, BatchSize: 2})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeTrialCapExceeded))
	require.NotNil(t, res)
	assert.Len(t, res.Populations, 1)
	assert.Equal(t, 4, res.TrialCount)
}

func TestSMC_WarnsOnNonDecreasingTolerances(t *testing.T) {
	logger := testutil.NewMockLogger()
	p := testutil.NewSequencePrior(0, 10, []float64{5})
	s := NewSequentialSampler(observedFive(), p, &laplaceKernel{}, &testutil.CountingSimulator{},
		summary.Identity{}, distance.Absolute{}, WithLogger(logger))

	_, err := s.Infer(context.Background(), SMCRequest{Epsilons: []float64{1, 2}, NumAcceptedEach: 1, BatchSize: 1})
	require.NoError(t, err)
	assert.True(t, logger.HasMessage("warn", "tolerances are not strictly decreasing"))
}

func TestEffectiveSampleSize(t *testing.T) {
	assert.InDelta(t, 4.0, EffectiveSampleSize([]float64{0.25, 0.25, 0.25, 0.25}), 1e-12)
	assert.InDelta(t, 1.0, EffectiveSampleSize([]float64{1, 0}), 1e-12)
	assert.Equal(t, 0.0, EffectiveSampleSize(nil))
}

//Personal.AI order the ending
