package inference

import (
	"time"

	"github.com/turtacn/abcflow/internal/abc/common"
	"github.com/turtacn/abcflow/internal/abc/normalize"
	"github.com/turtacn/abcflow/internal/infrastructure/monitoring/logging"
)

// Defaults applied when an option is not supplied.
const (
	DefaultEpsilon             = 0.1
	DefaultChunkSize           = 10
	DefaultEnsembleSize        = 1
	DefaultMaxProposalAttempts = 1000
)

type config struct {
	epsilon             float64
	chunkSize           int
	ensembleSize        int
	scaling             normalize.Kind
	maxTrials           int
	concurrency         int
	trialTimeout        time.Duration
	trialRetries        int
	trialRetryBackoff   time.Duration
	roundRetries        int
	seed                uint64
	maxProposalAttempts int
	adaptKernel         bool

	metrics            common.EngineMetrics
	logger             logging.Logger
	observer           func(RoundReport)
	populationObserver func(Population)
	referenceCache     ReferenceCache
}

func defaultConfig() *config {
	return &config{
		epsilon:             DefaultEpsilon,
		chunkSize:           DefaultChunkSize,
		ensembleSize:        DefaultEnsembleSize,
		scaling:             normalize.KindNone,
		maxProposalAttempts: DefaultMaxProposalAttempts,
		adaptKernel:         true,
	}
}

func newConfig(opts []Option) *config {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	if cfg.metrics == nil {
		cfg.metrics = common.NewNoopEngineMetrics()
	}
	if cfg.logger == nil {
		cfg.logger = logging.NewNopLogger()
	}
	return cfg
}

// Option configures a sampler or a Round.
type Option func(*config)

// WithEpsilon sets the acceptance tolerance of the rejection sampler.
func WithEpsilon(eps float64) Option {
	return func(c *config) { c.epsilon = eps }
}

// WithChunkSize sets how many observed trajectories are reduced together
// when the reference summary is computed.
func WithChunkSize(n int) Option {
	return func(c *config) { c.chunkSize = n }
}

// WithEnsembleSize simulates every parameter n times and averages the
// replicate summaries.
func WithEnsembleSize(n int) Option {
	return func(c *config) { c.ensembleSize = n }
}

// WithScaling selects the distance normalizer.
func WithScaling(kind normalize.Kind) Option {
	return func(c *config) { c.scaling = kind }
}

// WithMaxTrials bounds the number of trials one Infer call may run.  Zero
// means unbounded.
func WithMaxTrials(n int) Option {
	return func(c *config) { c.maxTrials = n }
}

// WithConcurrency bounds the number of trials simulated at once.
func WithConcurrency(n int) Option {
	return func(c *config) { c.concurrency = n }
}

// WithTrialTimeout bounds a single simulate+summarize call.
func WithTrialTimeout(d time.Duration) Option {
	return func(c *config) { c.trialTimeout = d }
}

// WithTrialRetries calls a failed trial again up to n times, waiting
// backoff before the first retry and doubling it afterwards.  Only
// collaborator errors are retried; a trial that timed out is not.
func WithTrialRetries(n int, backoff time.Duration) Option {
	return func(c *config) {
		c.trialRetries = n
		c.trialRetryBackoff = backoff
	}
}

// WithRoundRetries re-runs a round that failed because of a collaborator
// error up to n times before giving up.
func WithRoundRetries(n int) Option {
	return func(c *config) { c.roundRetries = n }
}

// WithSeed sets the run seed.  The per-trial seeds and the SMC ancestor
// choice use separate streams derived from it.
func WithSeed(seed uint64) Option {
	return func(c *config) { c.seed = seed }
}

// WithMaxProposalAttempts bounds how often an SMC proposal outside the
// prior's support is redrawn.
func WithMaxProposalAttempts(n int) Option {
	return func(c *config) { c.maxProposalAttempts = n }
}

// WithKernelAdaptation toggles kernel retuning between SMC populations.
func WithKernelAdaptation(enabled bool) Option {
	return func(c *config) { c.adaptKernel = enabled }
}

// WithMetrics injects an engine metrics collector.
func WithMetrics(m common.EngineMetrics) Option {
	return func(c *config) { c.metrics = m }
}

// WithLogger injects a logger.
func WithLogger(l logging.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithObserver registers a callback invoked after every completed round.
func WithObserver(fn func(RoundReport)) Option {
	return func(c *config) { c.observer = fn }
}

// WithPopulationObserver registers a callback invoked after every completed
// SMC population.
func WithPopulationObserver(fn func(Population)) Option {
	return func(c *config) { c.populationObserver = fn }
}

// WithReferenceCache shares reference summaries between samplers and
// processes.
func WithReferenceCache(cache ReferenceCache) Option {
	return func(c *config) { c.referenceCache = cache }
}

//Personal.AI order the ending
