// Package bootstrap builds the infrastructure clients enabled in the
// configuration and assembles the inference service on top of them.  It is
// shared by the CLI and the worker.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/turtacn/abcflow/internal/abc/common"
	"github.com/turtacn/abcflow/internal/application/inference"
	"github.com/turtacn/abcflow/internal/config"
	"github.com/turtacn/abcflow/internal/infrastructure/database/postgres"
	"github.com/turtacn/abcflow/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/abcflow/internal/infrastructure/database/redis"
	"github.com/turtacn/abcflow/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/abcflow/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/abcflow/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/abcflow/internal/infrastructure/storage/minio"
)

// Infrastructure holds the clients of one process.  Disabled sections leave
// their field nil.
type Infrastructure struct {
	Postgres *postgres.Connection
	Redis    *redis.Client
	Archive  *minio.ResultArchive
	Producer *kafka.Producer

	Collector      prometheus.MetricsCollector
	ServiceMetrics *prometheus.ServiceMetrics
	EngineMetrics  common.EngineMetrics

	cfg    *config.Config
	logger logging.Logger
}

// Init connects every enabled backend.  On failure the clients opened so far
// are closed.
func Init(ctx context.Context, cfg *config.Config, log logging.Logger) (*Infrastructure, error) {
	if log == nil {
		log = logging.NewNopLogger()
	}
	infra := &Infrastructure{cfg: cfg, logger: log}

	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfigFrom(cfg.Metrics), log)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	infra.Collector = collector
	infra.ServiceMetrics = prometheus.NewServiceMetrics(collector)
	infra.EngineMetrics, err = common.NewPrometheusEngineMetrics(collector.Registerer())
	if err != nil {
		return nil, fmt.Errorf("engine metrics: %w", err)
	}

	if cfg.Postgres.Enabled {
		conn, err := postgres.NewConnection(cfg.Postgres, log)
		if err != nil {
			infra.Close()
			return nil, fmt.Errorf("postgres: %w", err)
		}
		infra.Postgres = conn
		if cfg.Postgres.AutoMigrate {
			if err := postgres.NewMigrator(conn, log).Up(); err != nil {
				infra.Close()
				return nil, fmt.Errorf("postgres migrations: %w", err)
			}
		}
	}

	if cfg.Redis.Enabled {
		client, err := redis.NewClient(cfg.Redis, log)
		if err != nil {
			infra.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		infra.Redis = client
	}

	if cfg.MinIO.Enabled {
		archive, err := minio.NewResultArchive(ctx, cfg.MinIO, log)
		if err != nil {
			infra.Close()
			return nil, fmt.Errorf("minio: %w", err)
		}
		infra.Archive = archive
	}

	if cfg.Kafka.Enabled {
		producer, err := kafka.NewProducer(ProducerConfig(cfg.Kafka), log)
		if err != nil {
			infra.Close()
			return nil, fmt.Errorf("kafka producer: %w", err)
		}
		infra.Producer = producer
	}

	log.Info("infrastructure initialized",
		logging.Bool("postgres", infra.Postgres != nil),
		logging.Bool("redis", infra.Redis != nil),
		logging.Bool("minio", infra.Archive != nil),
		logging.Bool("kafka", infra.Producer != nil))
	return infra, nil
}

// ProducerConfig maps the kafka section onto the producer settings.
func ProducerConfig(cfg config.KafkaConfig) kafka.ProducerConfig {
	return kafka.ProducerConfig{
		Brokers:      cfg.Brokers,
		Acks:         "all",
		MaxRetries:   cfg.MaxRetries,
		BatchSize:    cfg.BatchSize,
		WriteTimeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
	}
}

// ConsumerConfig maps the kafka and worker sections onto the request
// consumer settings.
func ConsumerConfig(cfg *config.Config) kafka.ConsumerConfig {
	return kafka.ConsumerConfig{
		Brokers:         cfg.Kafka.Brokers,
		GroupID:         cfg.Kafka.GroupID,
		Topics:          []string{cfg.Kafka.RequestTopic},
		AutoOffsetReset: cfg.Kafka.AutoOffsetReset,
		RetryConfig: kafka.RetryConfig{
			MaxRetries:      cfg.Worker.MaxRetries,
			RetryBackoff:    time.Duration(cfg.Worker.RetryBackoffMS) * time.Millisecond,
			MaxRetryBackoff: 30 * time.Second,
			DeadLetterTopic: kafka.DeadLetterTopic(cfg.Kafka.RequestTopic),
		},
	}
}

// TopicEnsurer creates missing topics.  *kafka.TopicManager implements it.
type TopicEnsurer interface {
	EnsureTopics(ctx context.Context, topics []kafka.TopicConfig) error
}

// EnsureTopics creates the request, population and completion topics and
// the request dead letter topic when they do not exist yet.
func EnsureTopics(ctx context.Context, cfg config.KafkaConfig, m TopicEnsurer) error {
	topics := kafka.DefaultTopics(cfg.RequestTopic, cfg.PopulationTopic, cfg.CompletionTopic)
	if err := m.EnsureTopics(ctx, topics); err != nil {
		return fmt.Errorf("kafka topics: %w", err)
	}
	return nil
}

// Dependencies wires the enabled clients into the inference service.  Nil
// clients stay nil interfaces so the service skips them.
func (i *Infrastructure) Dependencies() inference.Dependencies {
	deps := inference.Dependencies{
		EngineMetrics: i.EngineMetrics,
		Metrics:       i.ServiceMetrics,
		Logger:        i.logger,
		LockTTL:       i.cfg.Redis.LockTTL,
	}
	if i.Postgres != nil {
		deps.Runs = repositories.NewPostgresRunRepo(i.Postgres, i.logger)
	}
	if i.Archive != nil {
		deps.Archive = i.Archive
	}
	if i.Producer != nil {
		deps.Publisher = i.Producer
		deps.Topics = inference.Topics{
			Population: i.cfg.Kafka.PopulationTopic,
			Completion: i.cfg.Kafka.CompletionTopic,
		}
	}
	if i.Redis != nil {
		prefix := i.cfg.Redis.KeyPrefix
		deps.Locks = redis.NewLockFactory(i.Redis, i.logger, prefix)
		deps.References = redis.NewReferenceCache(i.Redis, i.logger,
			redis.WithPrefix(prefix), redis.WithTTL(i.cfg.Redis.DefaultTTL))
	}
	return deps
}

// Service builds the inference service over the enabled clients.
func (i *Infrastructure) Service() inference.Service {
	return inference.NewService(i.cfg.Inference, i.Dependencies())
}

// Health checks every enabled backend and records the outcome in the health
// gauge.  The map holds one entry per enabled backend; nil means healthy.
func (i *Infrastructure) Health(ctx context.Context) map[string]error {
	out := make(map[string]error)
	if i.Postgres != nil {
		out["postgres"] = i.Postgres.HealthCheck(ctx)
	}
	if i.Redis != nil {
		out["redis"] = i.Redis.Ping(ctx)
	}
	if i.Archive != nil {
		if st := i.Archive.Health(ctx); !st.Healthy {
			out["minio"] = fmt.Errorf("%s", st.Error)
		} else {
			out["minio"] = nil
		}
	}
	for component, err := range out {
		i.ServiceMetrics.SetHealth(component, err == nil)
	}
	return out
}

// MetricsHandler serves the process metrics registry.
func (i *Infrastructure) MetricsHandler() http.Handler {
	return i.Collector.Handler()
}

// Close releases every client; errors are logged.
func (i *Infrastructure) Close() {
	if i.Producer != nil {
		if err := i.Producer.Close(); err != nil {
			i.logger.Warn("kafka producer close failed", logging.Err(err))
		}
	}
	if i.Redis != nil {
		_ = i.Redis.Close()
	}
	if i.Postgres != nil {
		if err := i.Postgres.Close(); err != nil {
			i.logger.Warn("postgres close failed", logging.Err(err))
		}
	}
}

//Personal.AI order the ending
