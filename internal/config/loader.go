package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// envPrefix is the environment variable prefix used by all settings.
const envPrefix = "ABCFLOW"

// Sentinel errors let callers tell a missing file from a broken one.
var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigParseError   = errors.New("config file could not be parsed")
	ErrConfigValidation   = errors.New("config validation failed")
)

// envKeys lists every leaf key that may be overridden from the environment.
// viper only consults the environment for keys it already knows, so each key
// is bound explicitly; this also makes LoadFromEnv work without a file.
var envKeys = []string{
	"inference.epsilon", "inference.num_samples", "inference.batch_size", "inference.chunk_size",
	"inference.ensemble_size", "inference.scaling", "inference.max_trials", "inference.concurrency",
	"inference.round_retries", "inference.trial_timeout", "inference.trial_retries",
	"inference.trial_retry_backoff", "inference.seed", "inference.populations",
	"inference.epsilon_schedule", "inference.epsilon_ratio", "inference.epsilons",
	"inference.kernel_scale", "inference.kernel_variance", "inference.max_proposal_attempts",
	"inference.model.prior_lower", "inference.model.prior_upper", "inference.model.simulator",
	"inference.model.summary", "inference.model.distance", "inference.model.observed_points",
	"inference.model.observed",
	"log.level", "log.format", "log.output_paths", "log.error_output_paths",
	"metrics.enabled", "metrics.addr", "metrics.namespace", "metrics.path",
	"postgres.enabled", "postgres.host", "postgres.port", "postgres.user", "postgres.password",
	"postgres.db_name", "postgres.ssl_mode", "postgres.max_conns", "postgres.max_idle_conns",
	"postgres.conn_max_lifetime", "postgres.conn_max_idle_time", "postgres.auto_migrate",
	"redis.enabled", "redis.addr", "redis.password", "redis.db", "redis.pool_size",
	"redis.dial_timeout", "redis.read_timeout", "redis.write_timeout", "redis.default_ttl",
	"redis.lock_ttl", "redis.key_prefix",
	"kafka.enabled", "kafka.brokers", "kafka.group_id", "kafka.auto_offset_reset", "kafka.timeout_ms",
	"kafka.max_retries", "kafka.batch_size", "kafka.request_topic", "kafka.population_topic",
	"kafka.completion_topic", "kafka.ensure_topics",
	"minio.enabled", "minio.endpoint", "minio.access_key", "minio.secret_key", "minio.bucket",
	"minio.use_ssl",
	"worker.concurrency", "worker.max_retries", "worker.retry_backoff_ms", "worker.health_addr",
	"worker.shutdown_timeout",
}

// newViper builds a pre-configured Viper instance: YAML file type, ABCFLOW_
// env prefix, and a key replacer that maps "." → "_" so that nested keys like
// "inference.model.summary" resolve to "ABCFLOW_INFERENCE_MODEL_SUMMARY".
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}
	return v
}

// Load reads the YAML file at configPath, merges any ABCFLOW_* environment
// variable overrides, applies defaults for unset fields, and validates the
// result.
func Load(configPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(configPath); errors.Is(statErr, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q", ErrConfigFileNotFound, configPath)
		}
		return nil, fmt.Errorf("%w: %q: %v", ErrConfigParseError, configPath, err)
	}

	return unmarshalAndFinalize(v)
}

// LoadFromEnv builds a Config entirely from ABCFLOW_* environment variables,
// with no config file required.
//
// Environment variable naming convention:
//
//	ABCFLOW_<SECTION>_<FIELD>   e.g.  ABCFLOW_INFERENCE_EPSILON, ABCFLOW_REDIS_ADDR
func LoadFromEnv() (*Config, error) {
	return unmarshalAndFinalize(newViper())
}

// LoadOrEnv loads configPath when it is non-empty and falls back to the
// environment otherwise.  The CLI uses it for its --config flag.
func LoadOrEnv(configPath string) (*Config, error) {
	if configPath == "" {
		return LoadFromEnv()
	}
	return Load(configPath)
}

func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: unmarshal: %v", ErrConfigParseError, err)
	}

	ApplyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigValidation, err)
	}
	return cfg, nil
}

// Watch monitors configPath for changes and invokes onChange with the newly
// parsed Config whenever the file is modified on disk.  Only the log level is
// applied at runtime by the worker; the rest is read at startup.
//
// Watch is non-blocking.  If the changed file fails to parse or validate,
// onError receives the error (when non-nil) and onChange is not called.
func Watch(configPath string, onChange func(*Config), onError func(error)) {
	v := newViper()
	v.SetConfigFile(configPath)

	// Initial read; callers should call Load first.
	_ = v.ReadInConfig()

	v.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := unmarshalAndFinalize(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
}

// MustLoad is a convenience wrapper around Load that panics on any error.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}

//Personal.AI order the ending
