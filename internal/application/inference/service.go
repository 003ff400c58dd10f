package inference

import (
	"context"
	"time"

	"github.com/turtacn/abcflow/internal/abc/common"
	engine "github.com/turtacn/abcflow/internal/abc/inference"
	"github.com/turtacn/abcflow/internal/config"
	"github.com/turtacn/abcflow/internal/domain/run"
	"github.com/turtacn/abcflow/internal/infrastructure/database/redis"
	"github.com/turtacn/abcflow/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/abcflow/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/abcflow/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/abcflow/pkg/errors"
)

// EventSource is the source recorded on every published event.
const EventSource = "abcflow"

// Sink labels used for failure metrics.
const (
	sinkStore   = "postgres"
	sinkArchive = "minio"
	sinkEvents  = "kafka"
)

var (
	ErrStoreDisabled   = errors.New(errors.ErrCodeServiceUnavailable, "run store is not configured")
	ErrArchiveDisabled = errors.New(errors.ErrCodeServiceUnavailable, "run archive is not configured")
)

// Service runs inferences and gives access to their records.
type Service interface {
	// Run dispatches to RunRejection or RunSMC.
	Run(ctx context.Context, method run.Method, req RunRequest) (*run.Run, error)
	RunRejection(ctx context.Context, req RunRequest) (*run.Run, error)
	RunSMC(ctx context.Context, req RunRequest) (*run.Run, error)
	// GetRun reads the run store, or the archive when no store is
	// configured.
	GetRun(ctx context.Context, id string) (*run.Run, error)
	ListRuns(ctx context.Context, opts ...run.ListOption) ([]*run.Run, error)
	// DeleteRun removes the run from the store and from the archive.
	DeleteRun(ctx context.Context, id string) error
	// ArchivedRuns lists the ids of archived runs.
	ArchivedRuns(ctx context.Context, limit int) ([]string, error)
	// DownloadURL returns a time-limited link to the archived run document.
	DownloadURL(ctx context.Context, id string, expiry time.Duration) (string, error)
}

// RunRequest overrides the configured sampler settings for one run.  Zero
// values keep the configuration.
type RunRequest struct {
	RunID       string
	NumSamples  int
	BatchSize   int
	Epsilon     float64
	Epsilons    []float64
	Populations int
	Seed        *uint64
	Observed    []float64
}

// Archive stores the full run document.
type Archive interface {
	Save(ctx context.Context, runID string, doc interface{}) (string, error)
	Load(ctx context.Context, runID string, dest interface{}) error
	Exists(ctx context.Context, runID string) (bool, error)
	Delete(ctx context.Context, runID string) error
	List(ctx context.Context, limit int) ([]string, error)
	PresignedURL(ctx context.Context, runID string, expiry time.Duration) (string, error)
}

// Locker hands out per-run leases.
type Locker interface {
	ForRun(runID string, ttl time.Duration) redis.RunLease
}

// Topics names the event topics; an empty topic disables that event.
type Topics struct {
	Population string
	Completion string
}

// Dependencies are the optional collaborators of the service.  A nil field
// skips the corresponding step.
type Dependencies struct {
	Runs          run.Repository
	Archive       Archive
	Publisher     kafka.Publisher
	Topics        Topics
	Locks         Locker
	LockTTL       time.Duration
	References    engine.ReferenceCache
	EngineMetrics common.EngineMetrics
	Metrics       *prometheus.ServiceMetrics
	Logger        logging.Logger
}

type serviceImpl struct {
	cfg  config.InferenceConfig
	deps Dependencies
	log  logging.Logger
}

// NewService creates the inference service over cfg.
func NewService(cfg config.InferenceConfig, deps Dependencies) Service {
	log := deps.Logger
	if log == nil {
		log = logging.NewNopLogger()
	}
	if deps.LockTTL <= 0 {
		deps.LockTTL = 10 * time.Minute
	}
	return &serviceImpl{cfg: cfg, deps: deps, log: log.Named("inference")}
}

func (s *serviceImpl) Run(ctx context.Context, method run.Method, req RunRequest) (*run.Run, error) {
	switch method {
	case run.MethodRejection:
		return s.RunRejection(ctx, req)
	case run.MethodSMC:
		return s.RunSMC(ctx, req)
	default:
		return nil, errors.Newf(errors.ErrCodeValidation, "unknown inference method %q", method)
	}
}

func (s *serviceImpl) RunRejection(ctx context.Context, req RunRequest) (*run.Run, error) {
	return s.execute(ctx, run.MethodRejection, req)
}

func (s *serviceImpl) RunSMC(ctx context.Context, req RunRequest) (*run.Run, error) {
	return s.execute(ctx, run.MethodSMC, req)
}

func (s *serviceImpl) GetRun(ctx context.Context, id string) (*run.Run, error) {
	if s.deps.Runs == nil && s.deps.Archive == nil {
		return nil, ErrStoreDisabled
	}
	if id == "" {
		return nil, errors.New(errors.ErrCodeBadRequest, "run id is required")
	}
	if s.deps.Runs != nil {
		return s.deps.Runs.Get(ctx, id)
	}
	r := &run.Run{}
	if err := s.deps.Archive.Load(ctx, id, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *serviceImpl) ListRuns(ctx context.Context, opts ...run.ListOption) ([]*run.Run, error) {
	if s.deps.Runs == nil {
		return nil, ErrStoreDisabled
	}
	return s.deps.Runs.List(ctx, opts...)
}

func (s *serviceImpl) DeleteRun(ctx context.Context, id string) error {
	if s.deps.Runs == nil && s.deps.Archive == nil {
		return ErrStoreDisabled
	}
	if id == "" {
		return errors.New(errors.ErrCodeBadRequest, "run id is required")
	}
	if s.deps.Runs != nil {
		if err := s.deps.Runs.Delete(ctx, id); err != nil {
			return err
		}
	}
	if s.deps.Archive != nil {
		ok, err := s.deps.Archive.Exists(ctx, id)
		if err != nil {
			return err
		}
		if ok {
			return s.deps.Archive.Delete(ctx, id)
		}
		if s.deps.Runs == nil {
			return errors.Newf(errors.ErrCodeRunNotFound, "run %s is not archived", id)
		}
	}
	return nil
}

func (s *serviceImpl) ArchivedRuns(ctx context.Context, limit int) ([]string, error) {
	if s.deps.Archive == nil {
		return nil, ErrArchiveDisabled
	}
	return s.deps.Archive.List(ctx, limit)
}

func (s *serviceImpl) DownloadURL(ctx context.Context, id string, expiry time.Duration) (string, error) {
	if s.deps.Archive == nil {
		return "", ErrArchiveDisabled
	}
	if expiry <= 0 {
		return "", errors.Newf(errors.ErrCodeBadRequest, "link expiry must be positive, got %v", expiry)
	}
	// Presigning does not look at the bucket; a link to a missing object
	// would only fail when followed.
	ok, err := s.deps.Archive.Exists(ctx, id)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.Newf(errors.ErrCodeRunNotFound, "run %s is not archived", id)
	}
	return s.deps.Archive.PresignedURL(ctx, id, expiry)
}

// newRun builds the initial record with the request merged over the
// configuration.
func (s *serviceImpl) newRun(method run.Method, req RunRequest) (*run.Run, error) {
	r, err := run.New(req.RunID, method)
	if err != nil {
		return nil, err
	}
	r.Epsilon = s.cfg.Epsilon
	if req.Epsilon != 0 {
		r.Epsilon = req.Epsilon
	}
	r.NumSamples = s.cfg.NumSamples
	if req.NumSamples != 0 {
		r.NumSamples = req.NumSamples
	}
	r.BatchSize = s.cfg.BatchSize
	if req.BatchSize != 0 {
		r.BatchSize = req.BatchSize
	}
	r.Seed = s.cfg.Seed
	if req.Seed != nil {
		r.Seed = *req.Seed
	}
	r.Observed = append([]float64(nil), s.cfg.Model.Observed...)
	if len(req.Observed) > 0 {
		r.Observed = append([]float64(nil), req.Observed...)
	}
	// An explicit SMC schedule starts at its first tolerance.
	if eps := s.epsilons(req); method == run.MethodSMC && len(eps) > 0 {
		r.Epsilon = eps[0]
	}
	return r, nil
}

func (s *serviceImpl) epsilons(req RunRequest) []float64 {
	if len(req.Epsilons) > 0 {
		return req.Epsilons
	}
	return s.cfg.Epsilons
}

func (s *serviceImpl) execute(ctx context.Context, method run.Method, req RunRequest) (*run.Run, error) {
	r, err := s.newRun(method, req)
	if err != nil {
		return nil, err
	}
	log := s.log.With(logging.String("run_id", r.ID), logging.String("method", string(method)))

	model, err := BuildModel(s.cfg.Model, r.Observed, r.Seed)
	if err != nil {
		return nil, err
	}

	if s.deps.Locks != nil {
		lease := s.deps.Locks.ForRun(r.ID, s.deps.LockTTL)
		ok, err := lease.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.Newf(errors.ErrCodeLockNotAcquired, "run %s is already executing", r.ID)
		}
		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				log.Warn("failed to release run lease", logging.Err(err))
			}
		}()
	}

	// Sinks must see the outcome of cancelled runs too.
	sinkCtx := context.WithoutCancel(ctx)

	stored := false
	if s.deps.Runs != nil {
		if err := s.deps.Runs.Create(sinkCtx, r); err != nil {
			if errors.IsCode(err, errors.ErrCodeConflict) {
				return nil, err
			}
			s.sinkFailed(log, sinkStore, err)
		} else {
			stored = true
		}
	}

	done := s.deps.Metrics.RunStarted(string(method))
	start := time.Now()
	log.Info("run started",
		logging.Int("num_samples", r.NumSamples),
		logging.Int("batch_size", r.BatchSize),
		logging.Float64("epsilon", r.Epsilon),
		logging.Uint64("seed", r.Seed))

	var partial bool
	switch method {
	case run.MethodSMC:
		partial, err = s.sequential(ctx, r, model, req)
	default:
		partial, err = s.rejection(ctx, r, model)
	}
	r.Elapsed = time.Since(start)
	r.Complete(err, partial)
	runErr := err

	if s.deps.Archive != nil && r.Status != run.StatusFailed {
		key, err := s.deps.Archive.Save(sinkCtx, r.ID, r)
		if err != nil {
			s.sinkFailed(log, sinkArchive, err)
		} else {
			r.ArchiveKey = key
		}
	}
	if stored {
		if err := s.deps.Runs.Finish(sinkCtx, r); err != nil {
			s.sinkFailed(log, sinkStore, err)
		}
	}
	s.publish(sinkCtx, log, s.deps.Topics.Completion, kafka.EventInferenceCompleted, r.ID, completedPayload(r))
	done(string(r.Status))

	if runErr != nil {
		log.Warn("run stopped",
			logging.String("status", string(r.Status)),
			logging.Int("accepted", r.Accepted),
			logging.Int("trials", r.TrialCount),
			logging.Err(runErr))
		return r, runErr
	}
	log.Info("run finished",
		logging.Int("accepted", r.Accepted),
		logging.Int("trials", r.TrialCount),
		logging.Float64s("estimate", r.Estimate),
		logging.Duration("elapsed", r.Elapsed))
	return r, nil
}

func (s *serviceImpl) options(r *run.Run, extra ...engine.Option) []engine.Option {
	opts := EngineOptions(s.cfg, r.Epsilon, r.Seed)
	opts = append(opts, engine.WithLogger(s.log.With(logging.String("run_id", r.ID))))
	if s.deps.EngineMetrics != nil {
		opts = append(opts, engine.WithMetrics(s.deps.EngineMetrics))
	}
	if s.deps.References != nil {
		opts = append(opts, engine.WithReferenceCache(s.deps.References))
	}
	return append(opts, extra...)
}

func (s *serviceImpl) rejection(ctx context.Context, r *run.Run, m *Model) (bool, error) {
	sampler := engine.NewRejectionSampler(m.Data, m.Prior, m.Simulator, m.Summarizer, m.Distance, s.options(r)...)
	res, err := sampler.Infer(ctx, r.NumSamples, r.BatchSize)
	if res == nil {
		return false, err
	}
	r.Accepted = res.AcceptedCount
	r.TrialCount = res.TrialCount
	r.Estimate = res.Estimate
	r.Samples = toSamples(0, res.Samples)
	return err != nil, err
}

func (s *serviceImpl) sequential(ctx context.Context, r *run.Run, m *Model, req RunRequest) (bool, error) {
	k, err := NewKernel(s.cfg, m.Prior.Dim(), r.Seed)
	if err != nil {
		return false, err
	}
	schedule, err := Schedule(s.cfg)
	if err != nil {
		return false, err
	}

	epsilons := s.epsilons(req)
	populations := req.Populations
	if populations == 0 && len(epsilons) == 0 && len(m.PopulationPriors) == 0 {
		populations = s.cfg.Populations
	}

	observer := engine.WithPopulationObserver(func(p engine.Population) {
		s.publish(context.WithoutCancel(ctx), s.log, s.deps.Topics.Population, kafka.EventPopulationCompleted, r.ID,
			kafka.PopulationCompletedPayload{
				RunID:      r.ID,
				Index:      p.Index,
				Epsilon:    p.Epsilon,
				Accepted:   len(p.Samples),
				TrialCount: p.TrialCount,
				ESS:        p.ESS,
				Estimate:   populationEstimate(p),
			})
	})

	sampler := engine.NewSequentialSampler(m.Data, m.Prior, k, m.Simulator, m.Summarizer, m.Distance, s.options(r, observer)...)
	res, err := sampler.Infer(ctx, engine.SMCRequest{
		Epsilons:        epsilons,
		Schedule:        schedule,
		InitialEpsilon:  r.Epsilon,
		Populations:     populations,
		NumAcceptedEach: r.NumSamples,
		BatchSize:       r.BatchSize,
		Priors:          m.PopulationPriors,
	})
	if res == nil {
		return false, err
	}
	r.TrialCount = res.TrialCount
	r.Estimate = res.Estimate
	r.Populations = make([]run.PopulationSummary, 0, len(res.Populations))
	r.Samples = nil
	for _, p := range res.Populations {
		r.Populations = append(r.Populations, run.PopulationSummary{
			Index:      p.Index,
			Epsilon:    p.Epsilon,
			Accepted:   len(p.Samples),
			TrialCount: p.TrialCount,
			ESS:        p.ESS,
			Estimate:   populationEstimate(p),
		})
		r.Samples = append(r.Samples, toSamples(p.Index, p.Samples)...)
	}
	if final := res.Final(); final != nil {
		r.Accepted = len(final.Samples)
	}
	return err != nil, err
}

func (s *serviceImpl) publish(ctx context.Context, log logging.Logger, topic, eventType, key string, payload interface{}) {
	if s.deps.Publisher == nil || topic == "" {
		return
	}
	env, err := kafka.NewEventEnvelope(eventType, EventSource, payload)
	if err != nil {
		s.sinkFailed(log, sinkEvents, err)
		return
	}
	msg, err := env.ToMessage(topic, key)
	if err != nil {
		s.sinkFailed(log, sinkEvents, err)
		return
	}
	if err := s.deps.Publisher.Publish(ctx, msg); err != nil {
		s.sinkFailed(log, sinkEvents, err)
	}
}

// sinkFailed records a failed side effect.  Sinks never fail the run.
func (s *serviceImpl) sinkFailed(log logging.Logger, sink string, err error) {
	log.Error("result sink failed", logging.String("sink", sink), logging.Err(err))
	s.deps.Metrics.RecordSinkFailure(sink)
}

func toSamples(population int, in []engine.Sample) []run.Sample {
	out := make([]run.Sample, len(in))
	for i, smp := range in {
		out[i] = run.Sample{
			Population: population,
			Parameters: append([]float64(nil), smp.Parameters...),
			Distance:   smp.Combined,
			Weight:     smp.Weight,
		}
	}
	return out
}

func populationEstimate(p engine.Population) []float64 {
	if len(p.Samples) == 0 {
		return nil
	}
	est, err := common.WeightedMeanVector(p.Parameters(), p.Weights)
	if err != nil {
		return nil
	}
	return est
}

func completedPayload(r *run.Run) kafka.InferenceCompletedPayload {
	return kafka.InferenceCompletedPayload{
		RunID:      r.ID,
		Method:     string(r.Method),
		Status:     string(r.Status),
		Accepted:   r.Accepted,
		TrialCount: r.TrialCount,
		Estimate:   r.Estimate,
		ErrorCode:  r.ErrorCode,
		Error:      r.Error,
		ElapsedMS:  r.Elapsed.Milliseconds(),
		ArchiveKey: r.ArchiveKey,
	}
}

//Personal.AI order the ending
