package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/abcflow/internal/application/inference"
	"github.com/turtacn/abcflow/internal/config"
	"github.com/turtacn/abcflow/internal/domain/run"
	"github.com/turtacn/abcflow/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/abcflow/pkg/errors"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Inference.NumSamples = 5
	cfg.Inference.Scaling = "none"
	cfg.Inference.Seed = 3
	config.ApplyDefaults(cfg)
	return cfg
}

func TestInit_AllDisabled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	infra, err := Init(ctx, testConfig(), nil)
	require.NoError(t, err)
	defer infra.Close()

	assert.Nil(t, infra.Postgres)
	assert.Nil(t, infra.Redis)
	assert.Nil(t, infra.Archive)
	assert.Nil(t, infra.Producer)
	assert.NotNil(t, infra.Collector)
	assert.NotNil(t, infra.ServiceMetrics)
	assert.NotNil(t, infra.EngineMetrics)

	deps := infra.Dependencies()
	assert.Nil(t, deps.Runs)
	assert.Nil(t, deps.Archive)
	assert.Nil(t, deps.Publisher)
	assert.Nil(t, deps.Locks)
	assert.Nil(t, deps.References)
	assert.Empty(t, infra.Health(ctx))

	svc := infra.Service()
	r, err := svc.RunRejection(ctx, inference.RunRequest{})
	require.NoError(t, err)
	assert.Equal(t, run.StatusCompleted, r.Status)
	assert.Len(t, r.Samples, 5)

	_, err = svc.GetRun(ctx, r.ID)
	assert.True(t, errors.IsCode(err, errors.ErrCodeServiceUnavailable))
}

func TestInit_Redis(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mr := miniredis.RunT(t)

	cfg := testConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = mr.Addr()

	infra, err := Init(ctx, cfg, nil)
	require.NoError(t, err)
	defer infra.Close()

	deps := infra.Dependencies()
	assert.NotNil(t, deps.Locks)
	assert.NotNil(t, deps.References)
	assert.Equal(t, cfg.Redis.LockTTL, deps.LockTTL)

	health := infra.Health(ctx)
	require.Contains(t, health, "redis")
	assert.NoError(t, health["redis"])

	r, err := infra.Service().RunRejection(ctx, inference.RunRequest{RunID: "bootstrap-redis"})
	require.NoError(t, err)
	assert.Equal(t, run.StatusCompleted, r.Status)
	assert.False(t, mr.Exists(cfg.Redis.KeyPrefix+"lock:run:bootstrap-redis"))
}

func TestInit_RedisUnreachable(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = "127.0.0.1:1"
	cfg.Redis.DialTimeout = 200 * time.Millisecond

	_, err := Init(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestConsumerConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cc := ConsumerConfig(cfg)
	assert.Equal(t, []string{config.DefaultKafkaRequestTopic}, cc.Topics)
	assert.Equal(t, config.DefaultKafkaGroupID, cc.GroupID)
	assert.Equal(t, cfg.Worker.MaxRetries, cc.RetryConfig.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cc.RetryConfig.RetryBackoff)
	assert.Equal(t, config.DefaultKafkaRequestTopic+".dlq", cc.RetryConfig.DeadLetterTopic)

	pc := ProducerConfig(cfg.Kafka)
	assert.Equal(t, "all", pc.Acks)
	assert.Equal(t, 10*time.Second, pc.WriteTimeout)
}

type recordingConn struct {
	created []kafkago.TopicConfig
	fail    error
}

func (c *recordingConn) CreateTopics(topics ...kafkago.TopicConfig) error {
	if c.fail != nil {
		return c.fail
	}
	c.created = append(c.created, topics...)
	return nil
}

func (c *recordingConn) ReadPartitions(...string) ([]kafkago.Partition, error) { return nil, nil }

func (c *recordingConn) Close() error { return nil }

func TestEnsureTopics(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	conn := &recordingConn{}
	require.NoError(t, EnsureTopics(context.Background(), cfg.Kafka, kafka.NewTopicManagerWithConn(conn, nil)))

	var names []string
	for _, tc := range conn.created {
		names = append(names, tc.Topic)
	}
	assert.Equal(t, []string{
		config.DefaultKafkaRequestTopic,
		config.DefaultKafkaPopulationTopic,
		config.DefaultKafkaCompletionTopic,
		kafka.DeadLetterTopic(config.DefaultKafkaRequestTopic),
	}, names)

	failing := &recordingConn{fail: assert.AnError}
	err := EnsureTopics(context.Background(), cfg.Kafka, kafka.NewTopicManagerWithConn(failing, nil))
	assert.ErrorContains(t, err, "kafka topics")
}

//Personal.AI order the ending
