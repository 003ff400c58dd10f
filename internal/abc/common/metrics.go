package common

import (
	"context"
	"math"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// ---------------------------------------------------------------------------
// Interfaces
// ---------------------------------------------------------------------------

// EngineMetrics is the telemetry API of the inference engine.  Samplers,
// the batch processor and the reference cache record through it so the
// backend (Prometheus, in-memory, noop) can be swapped freely.
type EngineMetrics interface {
	// RecordRound records one sampling round of a sampler.
	RecordRound(ctx context.Context, params *RoundMetricParams)

	// RecordBatchProcessing records one batch processor invocation.
	RecordBatchProcessing(ctx context.Context, params *BatchMetricParams)

	// RecordPopulation records the completion of an SMC population.
	RecordPopulation(ctx context.Context, params *PopulationMetricParams)

	// RecordRun records the end of an inference run.
	RecordRun(ctx context.Context, params *RunMetricParams)

	// RecordReferenceCache records a reference summary cache hit or miss.
	RecordReferenceCache(ctx context.Context, hit bool)

	// GetCurrentStats returns a point-in-time statistics snapshot.
	GetCurrentStats() *EngineStats
}

// ---------------------------------------------------------------------------
// Parameter structs
// ---------------------------------------------------------------------------

// RoundMetricParams describes one completed sampling round.
type RoundMetricParams struct {
	Sampler    string  `json:"sampler"`
	Population int     `json:"population"`
	BatchSize  int     `json:"batch_size"`
	Accepted   int     `json:"accepted"`
	Epsilon    float64 `json:"epsilon"`
	DurationMs float64 `json:"duration_ms"`
}

// BatchMetricParams carries the data for a batch processing event.
type BatchMetricParams struct {
	BatchName         string  `json:"batch_name"`
	TotalItems        int     `json:"total_items"`
	SuccessItems      int     `json:"success_items"`
	FailedItems       int     `json:"failed_items"`
	TimeoutItems      int     `json:"timeout_items"`
	CancelledItems    int     `json:"cancelled_items"`
	TotalDurationMs   float64 `json:"total_duration_ms"`
	AvgItemDurationMs float64 `json:"avg_item_duration_ms"`
	MaxConcurrency    int     `json:"max_concurrency"`
}

// PopulationMetricParams describes one completed SMC population.
type PopulationMetricParams struct {
	Index      int     `json:"index"`
	Epsilon    float64 `json:"epsilon"`
	Accepted   int     `json:"accepted"`
	Trials     int     `json:"trials"`
	ESS        float64 `json:"ess"`
	DurationMs float64 `json:"duration_ms"`
}

// RunMetricParams describes one finished inference run.
type RunMetricParams struct {
	Sampler    string  `json:"sampler"`
	Status     string  `json:"status"`
	Trials     int     `json:"trials"`
	Accepted   int     `json:"accepted"`
	DurationMs float64 `json:"duration_ms"`
}

// EngineStats is a point-in-time snapshot of engine metrics.
type EngineStats struct {
	Rounds          int64   `json:"rounds"`
	Trials          int64   `json:"trials"`
	Accepted        int64   `json:"accepted"`
	AcceptanceRate  float64 `json:"acceptance_rate"`
	Runs            int64   `json:"runs"`
	FailedRuns      int64   `json:"failed_runs"`
	P50RoundMs      float64 `json:"p50_round_ms"`
	P95RoundMs      float64 `json:"p95_round_ms"`
	CacheHitRate    float64 `json:"cache_hit_rate"`
	LastEpsilon     float64 `json:"last_epsilon"`
	LastPopulation  int     `json:"last_population"`
	LastPopulationE float64 `json:"last_population_ess"`
}

// ---------------------------------------------------------------------------
// Shared counters
// ---------------------------------------------------------------------------

type statCounters struct {
	rounds     atomic.Int64
	trials     atomic.Int64
	accepted   atomic.Int64
	runs       atomic.Int64
	failedRuns atomic.Int64
	cacheHits  atomic.Int64
	cacheMiss  atomic.Int64

	mu        sync.Mutex
	lastEps   float64
	lastPop   int
	lastESS   float64
	roundHist *latencyHistogram
}

func newStatCounters() *statCounters {
	return &statCounters{roundHist: newLatencyHistogram()}
}

func (s *statCounters) round(p *RoundMetricParams) {
	s.rounds.Add(1)
	s.trials.Add(int64(p.BatchSize))
	s.accepted.Add(int64(p.Accepted))
	s.roundHist.Observe(p.DurationMs)
	s.mu.Lock()
	s.lastEps = p.Epsilon
	s.mu.Unlock()
}

func (s *statCounters) population(p *PopulationMetricParams) {
	s.mu.Lock()
	s.lastPop = p.Index
	s.lastESS = p.ESS
	s.mu.Unlock()
}

func (s *statCounters) run(p *RunMetricParams) {
	s.runs.Add(1)
	if p.Status != RunStatusSucceeded {
		s.failedRuns.Add(1)
	}
}

func (s *statCounters) cache(hit bool) {
	if hit {
		s.cacheHits.Add(1)
	} else {
		s.cacheMiss.Add(1)
	}
}

func (s *statCounters) snapshot() *EngineStats {
	trials := s.trials.Load()
	accepted := s.accepted.Load()
	var rate float64
	if trials > 0 {
		rate = float64(accepted) / float64(trials)
	}
	hits, misses := s.cacheHits.Load(), s.cacheMiss.Load()
	var hitRate float64
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return &EngineStats{
		Rounds:          s.rounds.Load(),
		Trials:          trials,
		Accepted:        accepted,
		AcceptanceRate:  rate,
		Runs:            s.runs.Load(),
		FailedRuns:      s.failedRuns.Load(),
		P50RoundMs:      s.roundHist.Percentile(50),
		P95RoundMs:      s.roundHist.Percentile(95),
		CacheHitRate:    hitRate,
		LastEpsilon:     s.lastEps,
		LastPopulation:  s.lastPop,
		LastPopulationE: s.lastESS,
	}
}

// Run status labels.
const (
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

// ---------------------------------------------------------------------------
// Prometheus implementation
// ---------------------------------------------------------------------------

const metricsPrefix = "abcflow_engine_"

var defaultLatencyBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

type prometheusEngineMetrics struct {
	roundDuration   *prometheus.HistogramVec
	trialsTotal     *prometheus.CounterVec
	acceptedTotal   *prometheus.CounterVec
	epsilon         *prometheus.GaugeVec
	batchDuration   *prometheus.HistogramVec
	batchItemsTotal *prometheus.CounterVec
	populationESS   *prometheus.GaugeVec
	runsTotal       *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	cacheTotal      *prometheus.CounterVec

	stats *statCounters
}

// NewPrometheusEngineMetrics creates a Prometheus-backed EngineMetrics and
// registers all collectors with registerer.
func NewPrometheusEngineMetrics(registerer prometheus.Registerer) (EngineMetrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &prometheusEngineMetrics{stats: newStatCounters()}

	m.roundDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    metricsPrefix + "round_duration_milliseconds",
		Help:    "Histogram of sampling round duration in milliseconds.",
		Buckets: defaultLatencyBuckets,
	}, []string{"sampler"})

	m.trialsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricsPrefix + "trials_total",
		Help: "Total number of simulation trials.",
	}, []string{"sampler"})

	m.acceptedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricsPrefix + "accepted_total",
		Help: "Total number of accepted samples.",
	}, []string{"sampler"})

	m.epsilon = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: metricsPrefix + "epsilon",
		Help: "Tolerance used by the most recent round.",
	}, []string{"sampler"})

	m.batchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    metricsPrefix + "batch_processing_duration_milliseconds",
		Help:    "Histogram of batch processing duration in milliseconds.",
		Buckets: defaultLatencyBuckets,
	}, []string{"batch_name"})

	m.batchItemsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricsPrefix + "batch_items_total",
		Help: "Total number of items processed in batches.",
	}, []string{"batch_name", "status"})

	m.populationESS = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: metricsPrefix + "population_ess",
		Help: "Effective sample size of the most recent SMC population.",
	}, []string{"population"})

	m.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricsPrefix + "runs_total",
		Help: "Total number of inference runs by outcome.",
	}, []string{"sampler", "status"})

	m.runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    metricsPrefix + "run_duration_milliseconds",
		Help:    "Histogram of inference run duration in milliseconds.",
		Buckets: prometheus.ExponentialBuckets(10, 4, 10),
	}, []string{"sampler"})

	m.cacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricsPrefix + "reference_cache_total",
		Help: "Reference summary cache lookups by result.",
	}, []string{"result"})

	collectors := []prometheus.Collector{
		m.roundDuration,
		m.trialsTotal,
		m.acceptedTotal,
		m.epsilon,
		m.batchDuration,
		m.batchItemsTotal,
		m.populationESS,
		m.runsTotal,
		m.runDuration,
		m.cacheTotal,
	}
	for _, c := range collectors {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *prometheusEngineMetrics) RecordRound(_ context.Context, p *RoundMetricParams) {
	if p == nil {
		return
	}
	m.roundDuration.WithLabelValues(p.Sampler).Observe(p.DurationMs)
	m.trialsTotal.WithLabelValues(p.Sampler).Add(float64(p.BatchSize))
	m.acceptedTotal.WithLabelValues(p.Sampler).Add(float64(p.Accepted))
	m.epsilon.WithLabelValues(p.Sampler).Set(p.Epsilon)
	m.stats.round(p)
}

func (m *prometheusEngineMetrics) RecordBatchProcessing(_ context.Context, p *BatchMetricParams) {
	if p == nil {
		return
	}
	m.batchDuration.WithLabelValues(p.BatchName).Observe(p.TotalDurationMs)
	m.batchItemsTotal.WithLabelValues(p.BatchName, "success").Add(float64(p.SuccessItems))
	m.batchItemsTotal.WithLabelValues(p.BatchName, "failed").Add(float64(p.FailedItems))
	m.batchItemsTotal.WithLabelValues(p.BatchName, "timeout").Add(float64(p.TimeoutItems))
	m.batchItemsTotal.WithLabelValues(p.BatchName, "cancelled").Add(float64(p.CancelledItems))
}

func (m *prometheusEngineMetrics) RecordPopulation(_ context.Context, p *PopulationMetricParams) {
	if p == nil {
		return
	}
	m.populationESS.WithLabelValues(strconv.Itoa(p.Index)).Set(p.ESS)
	m.stats.population(p)
}

func (m *prometheusEngineMetrics) RecordRun(_ context.Context, p *RunMetricParams) {
	if p == nil {
		return
	}
	m.runsTotal.WithLabelValues(p.Sampler, p.Status).Inc()
	m.runDuration.WithLabelValues(p.Sampler).Observe(p.DurationMs)
	m.stats.run(p)
}

func (m *prometheusEngineMetrics) RecordReferenceCache(_ context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheTotal.WithLabelValues(result).Inc()
	m.stats.cache(hit)
}

func (m *prometheusEngineMetrics) GetCurrentStats() *EngineStats {
	return m.stats.snapshot()
}

// ---------------------------------------------------------------------------
// Noop implementation
// ---------------------------------------------------------------------------

type noopEngineMetrics struct{}

// NewNoopEngineMetrics returns a no-op metrics implementation.
func NewNoopEngineMetrics() EngineMetrics {
	return noopEngineMetrics{}
}

func (noopEngineMetrics) RecordRound(context.Context, *RoundMetricParams)           {}
func (noopEngineMetrics) RecordBatchProcessing(context.Context, *BatchMetricParams) {}
func (noopEngineMetrics) RecordPopulation(context.Context, *PopulationMetricParams) {}
func (noopEngineMetrics) RecordRun(context.Context, *RunMetricParams)               {}
func (noopEngineMetrics) RecordReferenceCache(context.Context, bool)                {}
func (noopEngineMetrics) GetCurrentStats() *EngineStats                             { return &EngineStats{} }

// ---------------------------------------------------------------------------
// In-memory implementation (tests and CLI summaries)
// ---------------------------------------------------------------------------

// InMemoryEngineMetrics keeps every recorded event for later inspection.
type InMemoryEngineMetrics struct {
	mu          sync.Mutex
	rounds      []RoundMetricParams
	batches     []BatchMetricParams
	populations []PopulationMetricParams
	runs        []RunMetricParams
	stats       *statCounters
}

// NewInMemoryEngineMetrics returns an empty in-memory recorder.
func NewInMemoryEngineMetrics() *InMemoryEngineMetrics {
	return &InMemoryEngineMetrics{stats: newStatCounters()}
}

func (m *InMemoryEngineMetrics) RecordRound(_ context.Context, p *RoundMetricParams) {
	if p == nil {
		return
	}
	m.mu.Lock()
	m.rounds = append(m.rounds, *p)
	m.mu.Unlock()
	m.stats.round(p)
}

func (m *InMemoryEngineMetrics) RecordBatchProcessing(_ context.Context, p *BatchMetricParams) {
	if p == nil {
		return
	}
	m.mu.Lock()
	m.batches = append(m.batches, *p)
	m.mu.Unlock()
}

func (m *InMemoryEngineMetrics) RecordPopulation(_ context.Context, p *PopulationMetricParams) {
	if p == nil {
		return
	}
	m.mu.Lock()
	m.populations = append(m.populations, *p)
	m.mu.Unlock()
	m.stats.population(p)
}

func (m *InMemoryEngineMetrics) RecordRun(_ context.Context, p *RunMetricParams) {
	if p == nil {
		return
	}
	m.mu.Lock()
	m.runs = append(m.runs, *p)
	m.mu.Unlock()
	m.stats.run(p)
}

func (m *InMemoryEngineMetrics) RecordReferenceCache(_ context.Context, hit bool) {
	m.stats.cache(hit)
}

func (m *InMemoryEngineMetrics) GetCurrentStats() *EngineStats {
	return m.stats.snapshot()
}

// Rounds returns a copy of the recorded rounds.
func (m *InMemoryEngineMetrics) Rounds() []RoundMetricParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RoundMetricParams(nil), m.rounds...)
}

// Batches returns a copy of the recorded batch events.
func (m *InMemoryEngineMetrics) Batches() []BatchMetricParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]BatchMetricParams(nil), m.batches...)
}

// Populations returns a copy of the recorded populations.
func (m *InMemoryEngineMetrics) Populations() []PopulationMetricParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PopulationMetricParams(nil), m.populations...)
}

// Runs returns a copy of the recorded runs.
func (m *InMemoryEngineMetrics) Runs() []RunMetricParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RunMetricParams(nil), m.runs...)
}

// ---------------------------------------------------------------------------
// latencyHistogram: in-memory percentile tracker
// ---------------------------------------------------------------------------

type latencyHistogram struct {
	mu      sync.Mutex
	samples []float64
	sorted  bool
}

func newLatencyHistogram() *latencyHistogram {
	return &latencyHistogram{samples: make([]float64, 0, 256)}
}

func (h *latencyHistogram) Observe(durationMs float64) {
	h.mu.Lock()
	h.samples = append(h.samples, durationMs)
	h.sorted = false
	h.mu.Unlock()
}

// Percentile returns the value at percentile p (0 to 100) using linear
// interpolation between the two nearest ranks.
func (h *latencyHistogram) Percentile(p float64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.samples)
	if n == 0 {
		return 0
	}
	if !h.sorted {
		sort.Float64s(h.samples)
		h.sorted = true
	}
	if p <= 0 {
		return h.samples[0]
	}
	if p >= 100 {
		return h.samples[n-1]
	}
	rank := (p / 100) * float64(n-1)
	lower := int(math.Floor(rank))
	upper := lower + 1
	if upper >= n {
		return h.samples[n-1]
	}
	frac := rank - float64(lower)
	return h.samples[lower] + frac*(h.samples[upper]-h.samples[lower])
}

// compile-time interface checks
var (
	_ EngineMetrics = (*prometheusEngineMetrics)(nil)
	_ EngineMetrics = noopEngineMetrics{}
	_ EngineMetrics = (*InMemoryEngineMetrics)(nil)
)

//Personal.AI order the ending
