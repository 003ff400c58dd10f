// Package config defines all configuration structures for abcflow.  No I/O or
// parsing logic lives here, only plain data types and validation.
package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/turtacn/abcflow/internal/infrastructure/monitoring/logging"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sub-configuration structs
// ─────────────────────────────────────────────────────────────────────────────

// ModelConfig describes the built-in toy model the CLI and worker run: a
// uniform box prior, a named simulator, summary statistic and distance, and
// the observed data.
type ModelConfig struct {
	PriorLower []float64 `mapstructure:"prior_lower"`
	PriorUpper []float64 `mapstructure:"prior_upper"`
	Simulator  string    `mapstructure:"simulator"` // "identity" | "gaussian"
	Summary    string    `mapstructure:"summary"`   // "identity" | "mean" | "burstiness" | "burstiness_improved"
	Distance   string    `mapstructure:"distance"`  // "euclidean" | "absolute"

	// ObservedPoints is the number of points per simulated trajectory for
	// simulators that produce series.
	ObservedPoints int `mapstructure:"observed_points"`

	// Observed holds the observed data, one value per dataset.  Each value
	// becomes a one-row trajectory repeated ObservedPoints times.
	Observed []float64 `mapstructure:"observed"`

	// PopulationPriors gives each SMC population its own uniform prior.
	// Empty means every population uses prior_lower/prior_upper.
	PopulationPriors []PriorBounds `mapstructure:"population_priors"`
}

// PriorBounds is a uniform box prior.
type PriorBounds struct {
	Lower []float64 `mapstructure:"lower"`
	Upper []float64 `mapstructure:"upper"`
}

// InferenceConfig holds the sampler tunables.
type InferenceConfig struct {
	Epsilon      float64       `mapstructure:"epsilon"`
	NumSamples   int           `mapstructure:"num_samples"`
	BatchSize    int           `mapstructure:"batch_size"`
	ChunkSize    int           `mapstructure:"chunk_size"`
	EnsembleSize int           `mapstructure:"ensemble_size"`
	Scaling      string        `mapstructure:"scaling"` // "max" | "zscore" | "none"
	MaxTrials    int           `mapstructure:"max_trials"`
	Concurrency  int           `mapstructure:"concurrency"`
	RoundRetries int           `mapstructure:"round_retries"`
	TrialTimeout time.Duration `mapstructure:"trial_timeout"`
	Seed         uint64        `mapstructure:"seed"`

	// TrialRetries re-invokes a failed simulate+summarize call before the
	// round gives up; TrialRetryBackoff is the first delay.
	TrialRetries      int           `mapstructure:"trial_retries"`
	TrialRetryBackoff time.Duration `mapstructure:"trial_retry_backoff"`

	// SMC only.
	Populations         int       `mapstructure:"populations"`
	EpsilonSchedule     string    `mapstructure:"epsilon_schedule"` // "halving" | "divide"
	EpsilonRatio        float64   `mapstructure:"epsilon_ratio"`
	Epsilons            []float64 `mapstructure:"epsilons"`
	KernelScale         float64   `mapstructure:"kernel_scale"`
	KernelVariance      float64   `mapstructure:"kernel_variance"`
	MaxProposalAttempts int       `mapstructure:"max_proposal_attempts"`

	Model ModelConfig `mapstructure:"model"`
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr"`
	Namespace string `mapstructure:"namespace"`
	Path      string `mapstructure:"path"`
}

// PostgresConfig holds PostgreSQL connection parameters for the run store.
type PostgresConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"db_name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int           `mapstructure:"max_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN renders the lib/pq connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode)
}

// RedisConfig holds Redis connection parameters for the reference cache and
// run locks.
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	DefaultTTL   time.Duration `mapstructure:"default_ttl"`
	LockTTL      time.Duration `mapstructure:"lock_ttl"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

// KafkaConfig holds Apache Kafka producer/consumer parameters.
type KafkaConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	Brokers         []string `mapstructure:"brokers"`
	GroupID         string   `mapstructure:"group_id"`
	AutoOffsetReset string   `mapstructure:"auto_offset_reset"` // "earliest" | "latest"
	TimeoutMS       int      `mapstructure:"timeout_ms"`
	MaxRetries      int      `mapstructure:"max_retries"`
	BatchSize       int      `mapstructure:"batch_size"`
	RequestTopic    string   `mapstructure:"request_topic"`
	PopulationTopic string   `mapstructure:"population_topic"`
	CompletionTopic string   `mapstructure:"completion_topic"`
	// EnsureTopics makes the worker create missing topics at startup.
	EnsureTopics bool `mapstructure:"ensure_topics"`
}

// MinIOConfig holds MinIO / S3-compatible object-storage parameters.
type MinIOConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// WorkerConfig holds the inference worker tunables.
type WorkerConfig struct {
	Concurrency     int           `mapstructure:"concurrency"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryBackoffMS  int           `mapstructure:"retry_backoff_ms"`
	HealthAddr      string        `mapstructure:"health_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Root configuration
// ─────────────────────────────────────────────────────────────────────────────

// Config is the root configuration object.
type Config struct {
	Inference InferenceConfig   `mapstructure:"inference"`
	Log       logging.LogConfig `mapstructure:"log"`
	Metrics   MetricsConfig     `mapstructure:"metrics"`
	Postgres  PostgresConfig    `mapstructure:"postgres"`
	Redis     RedisConfig       `mapstructure:"redis"`
	Kafka     KafkaConfig       `mapstructure:"kafka"`
	MinIO     MinIOConfig       `mapstructure:"minio"`
	Worker    WorkerConfig      `mapstructure:"worker"`
}

// Validate checks that every field holds a usable value.  Sections for
// disabled sinks are not checked.
func (c *Config) Validate() error {
	if err := c.Inference.validate(); err != nil {
		return err
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|console", c.Log.Format)
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("config: metrics.addr is required when metrics are enabled")
	}

	if c.Postgres.Enabled {
		if c.Postgres.Host == "" {
			return fmt.Errorf("config: postgres.host is required")
		}
		if c.Postgres.Port < 1 || c.Postgres.Port > 65535 {
			return fmt.Errorf("config: postgres.port %d is out of range [1, 65535]", c.Postgres.Port)
		}
		if c.Postgres.User == "" {
			return fmt.Errorf("config: postgres.user is required")
		}
		if c.Postgres.DBName == "" {
			return fmt.Errorf("config: postgres.db_name is required")
		}
		if c.Postgres.MaxConns < 1 {
			return fmt.Errorf("config: postgres.max_conns must be ≥ 1, got %d", c.Postgres.MaxConns)
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			return fmt.Errorf("config: redis.addr is required")
		}
		if c.Redis.DB < 0 {
			return fmt.Errorf("config: redis.db must be ≥ 0, got %d", c.Redis.DB)
		}
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("config: kafka.brokers must contain at least one broker address")
		}
		if c.Kafka.GroupID == "" {
			return fmt.Errorf("config: kafka.group_id is required")
		}
		switch c.Kafka.AutoOffsetReset {
		case "earliest", "latest":
		default:
			return fmt.Errorf("config: kafka.auto_offset_reset %q is invalid; expected earliest|latest", c.Kafka.AutoOffsetReset)
		}
	}

	if c.MinIO.Enabled {
		if c.MinIO.Endpoint == "" {
			return fmt.Errorf("config: minio.endpoint is required")
		}
		if c.MinIO.Bucket == "" {
			return fmt.Errorf("config: minio.bucket is required")
		}
	}

	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("config: worker.concurrency must be ≥ 1, got %d", c.Worker.Concurrency)
	}
	if c.Worker.MaxRetries < 0 {
		return fmt.Errorf("config: worker.max_retries must be ≥ 0, got %d", c.Worker.MaxRetries)
	}
	return nil
}

func (in InferenceConfig) validate() error {
	if !(in.Epsilon > 0) || math.IsInf(in.Epsilon, 0) {
		return fmt.Errorf("config: inference.epsilon must be a positive finite number, got %v", in.Epsilon)
	}
	if in.NumSamples < 1 {
		return fmt.Errorf("config: inference.num_samples must be ≥ 1, got %d", in.NumSamples)
	}
	if in.BatchSize < 1 {
		return fmt.Errorf("config: inference.batch_size must be ≥ 1, got %d", in.BatchSize)
	}
	if in.ChunkSize < 1 {
		return fmt.Errorf("config: inference.chunk_size must be ≥ 1, got %d", in.ChunkSize)
	}
	if in.EnsembleSize < 1 {
		return fmt.Errorf("config: inference.ensemble_size must be ≥ 1, got %d", in.EnsembleSize)
	}
	switch in.Scaling {
	case "max", "zscore", "none":
	default:
		return fmt.Errorf("config: inference.scaling %q is invalid; expected max|zscore|none", in.Scaling)
	}
	if in.MaxTrials < 0 {
		return fmt.Errorf("config: inference.max_trials must be ≥ 0, got %d", in.MaxTrials)
	}
	if in.Concurrency < 0 {
		return fmt.Errorf("config: inference.concurrency must be ≥ 0, got %d", in.Concurrency)
	}
	if in.RoundRetries < 0 {
		return fmt.Errorf("config: inference.round_retries must be ≥ 0, got %d", in.RoundRetries)
	}
	if in.TrialRetries < 0 {
		return fmt.Errorf("config: inference.trial_retries must be ≥ 0, got %d", in.TrialRetries)
	}
	if in.TrialRetryBackoff < 0 {
		return fmt.Errorf("config: inference.trial_retry_backoff must be ≥ 0, got %v", in.TrialRetryBackoff)
	}
	if in.Populations < 1 {
		return fmt.Errorf("config: inference.populations must be ≥ 1, got %d", in.Populations)
	}
	switch in.EpsilonSchedule {
	case "halving", "divide":
	default:
		return fmt.Errorf("config: inference.epsilon_schedule %q is invalid; expected halving|divide", in.EpsilonSchedule)
	}
	if in.EpsilonSchedule == "divide" && !(in.EpsilonRatio > 1) {
		return fmt.Errorf("config: inference.epsilon_ratio must be > 1, got %v", in.EpsilonRatio)
	}
	for i, e := range in.Epsilons {
		if !(e > 0) {
			return fmt.Errorf("config: inference.epsilons[%d] must be positive, got %v", i, e)
		}
	}
	if !(in.KernelScale > 0) {
		return fmt.Errorf("config: inference.kernel_scale must be positive, got %v", in.KernelScale)
	}
	if !(in.KernelVariance > 0) {
		return fmt.Errorf("config: inference.kernel_variance must be positive, got %v", in.KernelVariance)
	}
	if in.MaxProposalAttempts < 1 {
		return fmt.Errorf("config: inference.max_proposal_attempts must be ≥ 1, got %d", in.MaxProposalAttempts)
	}
	return in.Model.validate()
}

func (m ModelConfig) validate() error {
	if len(m.PriorLower) == 0 {
		return fmt.Errorf("config: inference.model.prior_lower is required")
	}
	if len(m.PriorLower) != len(m.PriorUpper) {
		return fmt.Errorf("config: inference.model.prior_lower has %d entries but prior_upper has %d",
			len(m.PriorLower), len(m.PriorUpper))
	}
	for i := range m.PriorLower {
		if !(m.PriorLower[i] < m.PriorUpper[i]) {
			return fmt.Errorf("config: inference.model.prior_lower[%d]=%v must be below prior_upper[%d]=%v",
				i, m.PriorLower[i], i, m.PriorUpper[i])
		}
	}
	for p, b := range m.PopulationPriors {
		if len(b.Lower) != len(m.PriorLower) || len(b.Upper) != len(m.PriorLower) {
			return fmt.Errorf("config: inference.model.population_priors[%d] must have %d lower and upper bounds",
				p, len(m.PriorLower))
		}
		for i := range b.Lower {
			if !(b.Lower[i] < b.Upper[i]) {
				return fmt.Errorf("config: inference.model.population_priors[%d].lower[%d]=%v must be below upper[%d]=%v",
					p, i, b.Lower[i], i, b.Upper[i])
			}
		}
	}
	if m.Simulator == "" {
		return fmt.Errorf("config: inference.model.simulator is required")
	}
	if m.Summary == "" {
		return fmt.Errorf("config: inference.model.summary is required")
	}
	if m.Distance == "" {
		return fmt.Errorf("config: inference.model.distance is required")
	}
	if m.ObservedPoints < 1 {
		return fmt.Errorf("config: inference.model.observed_points must be ≥ 1, got %d", m.ObservedPoints)
	}
	if len(m.Observed) == 0 {
		return fmt.Errorf("config: inference.model.observed must contain at least one value")
	}
	return nil
}

//Personal.AI order the ending
