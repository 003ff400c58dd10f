package config

import "time"

// ─────────────────────────────────────────────────────────────────────────────
// Default value constants
// ─────────────────────────────────────────────────────────────────────────────

const (
	DefaultEpsilon             = 1.0
	DefaultNumSamples          = 100
	DefaultBatchSize           = 50
	DefaultChunkSize           = 10
	DefaultEnsembleSize        = 1
	DefaultScaling             = "zscore"
	DefaultPopulations         = 3
	DefaultEpsilonSchedule     = "halving"
	DefaultEpsilonRatio        = 2.0
	DefaultKernelScale         = 2.0
	DefaultKernelVariance      = 1.0
	DefaultMaxProposalAttempts = 1000

	DefaultSimulator      = "identity"
	DefaultSummary        = "identity"
	DefaultDistance       = "absolute"
	DefaultObservedPoints = 1

	DefaultMetricsAddr      = ":9090"
	DefaultMetricsNamespace = "abcflow"
	DefaultMetricsPath      = "/metrics"

	DefaultPostgresHost     = "localhost"
	DefaultPostgresPort     = 5432
	DefaultPostgresDBName   = "abcflow"
	DefaultPostgresMaxConns = 10

	DefaultRedisAddr      = "localhost:6379"
	DefaultRedisKeyPrefix = "abcflow:"

	DefaultKafkaBroker          = "localhost:9092"
	DefaultKafkaGroupID         = "abcflow-worker"
	DefaultKafkaRequestTopic    = "abc.inference.requested"
	DefaultKafkaPopulationTopic = "abc.population.completed"
	DefaultKafkaCompletionTopic = "abc.inference.completed"

	DefaultMinIOEndpoint = "localhost:9000"
	DefaultMinIOBucket   = "abcflow-runs"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultWorkerConcurrency = 2
	DefaultWorkerHealthAddr  = ":8081"
)

// Default prior box and observation used when no model is configured: the
// uniform [0, 10] prior against a single observation at 5.
var (
	DefaultPriorLower = []float64{0}
	DefaultPriorUpper = []float64{10}
	DefaultObserved   = []float64{5}
)

// ApplyDefaults fills every zero-value field in cfg with the default.  Fields
// that have already been set by the caller (non-zero values) are left
// unchanged so that explicit configuration always wins.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	// ── Inference ─────────────────────────────────────────────────────────────
	in := &cfg.Inference
	if in.Epsilon == 0 {
		in.Epsilon = DefaultEpsilon
	}
	if in.NumSamples == 0 {
		in.NumSamples = DefaultNumSamples
	}
	if in.BatchSize == 0 {
		in.BatchSize = DefaultBatchSize
	}
	if in.ChunkSize == 0 {
		in.ChunkSize = DefaultChunkSize
	}
	if in.EnsembleSize == 0 {
		in.EnsembleSize = DefaultEnsembleSize
	}
	if in.Scaling == "" {
		in.Scaling = DefaultScaling
	}
	// MaxTrials, Concurrency, RoundRetries, TrialRetries and Seed keep 0 as
	// a meaningful value (unbounded, one per CPU, no retries, seed zero).
	if in.Populations == 0 {
		in.Populations = DefaultPopulations
	}
	if in.EpsilonSchedule == "" {
		in.EpsilonSchedule = DefaultEpsilonSchedule
	}
	if in.EpsilonRatio == 0 {
		in.EpsilonRatio = DefaultEpsilonRatio
	}
	if in.KernelScale == 0 {
		in.KernelScale = DefaultKernelScale
	}
	if in.KernelVariance == 0 {
		in.KernelVariance = DefaultKernelVariance
	}
	if in.MaxProposalAttempts == 0 {
		in.MaxProposalAttempts = DefaultMaxProposalAttempts
	}

	m := &in.Model
	if len(m.PriorLower) == 0 && len(m.PriorUpper) == 0 {
		m.PriorLower = append([]float64(nil), DefaultPriorLower...)
		m.PriorUpper = append([]float64(nil), DefaultPriorUpper...)
	}
	if m.Simulator == "" {
		m.Simulator = DefaultSimulator
	}
	if m.Summary == "" {
		m.Summary = DefaultSummary
	}
	if m.Distance == "" {
		m.Distance = DefaultDistance
	}
	if m.ObservedPoints == 0 {
		m.ObservedPoints = DefaultObservedPoints
	}
	if len(m.Observed) == 0 {
		m.Observed = append([]float64(nil), DefaultObserved...)
	}

	// ── Log ───────────────────────────────────────────────────────────────────
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}

	// ── Metrics ───────────────────────────────────────────────────────────────
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = DefaultMetricsAddr
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}

	// ── Postgres ──────────────────────────────────────────────────────────────
	if cfg.Postgres.Host == "" {
		cfg.Postgres.Host = DefaultPostgresHost
	}
	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = DefaultPostgresPort
	}
	if cfg.Postgres.DBName == "" {
		cfg.Postgres.DBName = DefaultPostgresDBName
	}
	if cfg.Postgres.MaxConns == 0 {
		cfg.Postgres.MaxConns = DefaultPostgresMaxConns
	}
	if cfg.Postgres.MaxIdleConns == 0 {
		cfg.Postgres.MaxIdleConns = cfg.Postgres.MaxConns / 2
	}
	if cfg.Postgres.ConnMaxLifetime == 0 {
		cfg.Postgres.ConnMaxLifetime = 30 * time.Minute
	}
	if cfg.Postgres.SSLMode == "" {
		cfg.Postgres.SSLMode = "disable"
	}

	// ── Redis ─────────────────────────────────────────────────────────────────
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	// DB is an int; 0 is a valid explicit value so we cannot distinguish "not
	// set" from "set to 0".  We leave it as-is (0 is also the default).
	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 10
	}
	if cfg.Redis.DialTimeout == 0 {
		cfg.Redis.DialTimeout = 5 * time.Second
	}
	if cfg.Redis.ReadTimeout == 0 {
		cfg.Redis.ReadTimeout = 3 * time.Second
	}
	if cfg.Redis.WriteTimeout == 0 {
		cfg.Redis.WriteTimeout = 3 * time.Second
	}
	if cfg.Redis.DefaultTTL == 0 {
		cfg.Redis.DefaultTTL = 24 * time.Hour
	}
	if cfg.Redis.LockTTL == 0 {
		cfg.Redis.LockTTL = 10 * time.Minute
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}

	// ── Kafka ─────────────────────────────────────────────────────────────────
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{DefaultKafkaBroker}
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = DefaultKafkaGroupID
	}
	if cfg.Kafka.AutoOffsetReset == "" {
		cfg.Kafka.AutoOffsetReset = "earliest"
	}
	if cfg.Kafka.TimeoutMS == 0 {
		cfg.Kafka.TimeoutMS = 10000
	}
	if cfg.Kafka.MaxRetries == 0 {
		cfg.Kafka.MaxRetries = 3
	}
	if cfg.Kafka.BatchSize == 0 {
		cfg.Kafka.BatchSize = 100
	}
	if cfg.Kafka.RequestTopic == "" {
		cfg.Kafka.RequestTopic = DefaultKafkaRequestTopic
	}
	if cfg.Kafka.PopulationTopic == "" {
		cfg.Kafka.PopulationTopic = DefaultKafkaPopulationTopic
	}
	if cfg.Kafka.CompletionTopic == "" {
		cfg.Kafka.CompletionTopic = DefaultKafkaCompletionTopic
	}

	// ── MinIO ─────────────────────────────────────────────────────────────────
	if cfg.MinIO.Endpoint == "" {
		cfg.MinIO.Endpoint = DefaultMinIOEndpoint
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = DefaultMinIOBucket
	}

	// ── Worker ────────────────────────────────────────────────────────────────
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = DefaultWorkerConcurrency
	}
	if cfg.Worker.MaxRetries == 0 {
		cfg.Worker.MaxRetries = 3
	}
	if cfg.Worker.RetryBackoffMS == 0 {
		cfg.Worker.RetryBackoffMS = 500
	}
	if cfg.Worker.HealthAddr == "" {
		cfg.Worker.HealthAddr = DefaultWorkerHealthAddr
	}
	if cfg.Worker.ShutdownTimeout == 0 {
		cfg.Worker.ShutdownTimeout = 15 * time.Second
	}
}

//Personal.AI order the ending
