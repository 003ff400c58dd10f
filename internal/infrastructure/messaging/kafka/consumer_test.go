package kafka

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/abcflow/internal/testutil"
	pkgerrors "github.com/turtacn/abcflow/pkg/errors"
)

// mockKafkaReader serves queued messages, then blocks until cancelled.
type mockKafkaReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []kafka.Message
	closed    bool
}

func (m *mockKafkaReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	m.mu.Lock()
	if len(m.queue) > 0 {
		msg := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		return msg, nil
	}
	m.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (m *mockKafkaReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.committed = append(m.committed, msgs...)
	return nil
}

func (m *mockKafkaReader) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockKafkaReader) Committed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.committed)
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []*ProducerMessage
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, msg *ProducerMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func testConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Brokers: []string{"localhost:9092"},
		GroupID: "abcflow-worker",
		Topics:  []string{TopicInferenceRequested},
		RetryConfig: RetryConfig{
			MaxRetries:      2,
			RetryBackoff:    time.Millisecond,
			DeadLetterTopic: DeadLetterTopic(TopicInferenceRequested),
		},
	}
}

func TestValidateConsumerConfig(t *testing.T) {
	assert.NoError(t, ValidateConsumerConfig(testConsumerConfig()))

	cases := map[string]func(*ConsumerConfig){
		"no brokers":  func(c *ConsumerConfig) { c.Brokers = nil },
		"no group":    func(c *ConsumerConfig) { c.GroupID = "" },
		"no topics":   func(c *ConsumerConfig) { c.Topics = nil },
		"bad offset":  func(c *ConsumerConfig) { c.AutoOffsetReset = "middle" },
		"neg retries": func(c *ConsumerConfig) { c.RetryConfig.MaxRetries = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := testConsumerConfig()
			mutate(&cfg)
			assert.True(t, pkgerrors.IsCode(ValidateConsumerConfig(cfg), pkgerrors.ErrCodeValidation))
		})
	}
}

func TestConsumer_DispatchesAndCommits(t *testing.T) {
	reader := &mockKafkaReader{queue: []kafka.Message{
		{Topic: TopicInferenceRequested, Value: []byte("a"), Headers: []kafka.Header{{Key: "event_type", Value: []byte("x")}}},
		{Topic: "unknown.topic", Value: []byte("b")},
	}}
	c := NewConsumerWithReader(reader, testConsumerConfig(), nil, testutil.NewMockLogger())

	got := make(chan *Message, 1)
	c.Subscribe(TopicInferenceRequested, func(_ context.Context, msg *Message) error {
		got <- msg
		return nil
	})

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, ErrAlreadyRunning, c.Start(context.Background()))

	select {
	case msg := <-got:
		assert.Equal(t, "a", string(msg.Value))
		assert.Equal(t, "x", msg.Headers["event_type"])
	case <-time.After(time.Second):
		t.Fatal("handler not called")
	}

	// Unhandled topics are committed too so the group does not stall.
	assert.Eventually(t, func() bool { return reader.Committed() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Close())
	assert.True(t, reader.closed)
	assert.Equal(t, int64(1), c.Processed())
}

func TestProcessMessage_RetrySucceeds(t *testing.T) {
	c := NewConsumerWithReader(&mockKafkaReader{}, testConsumerConfig(), nil, nil)

	var attempts atomic.Int32
	err := c.processMessage(context.Background(), &Message{}, func(context.Context, *Message) error {
		if attempts.Add(1) < 2 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), attempts.Load())
	assert.Equal(t, int64(1), c.metrics.MessagesRetried.Load())
	assert.Equal(t, int64(1), c.Processed())
}

func TestProcessMessage_ExhaustedGoesToDeadLetter(t *testing.T) {
	dlq := &recordingPublisher{}
	c := NewConsumerWithReader(&mockKafkaReader{}, testConsumerConfig(), dlq, nil)

	var attempts int
	msg := &Message{Topic: TopicInferenceRequested, Key: []byte("run-9"), Value: []byte("payload"),
		Headers: map[string]string{"event_type": "inference.requested"}}
	err := c.processMessage(context.Background(), msg, func(context.Context, *Message) error {
		attempts++
		return pkgerrors.New(pkgerrors.ErrCodeInvalidConfig, "bad epsilon")
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)

	require.Len(t, dlq.msgs, 1)
	dl := dlq.msgs[0]
	assert.Equal(t, "abc.inference.requested.dlq", dl.Topic)
	assert.Equal(t, "run-9", string(dl.Key))
	assert.Equal(t, TopicInferenceRequested, dl.Headers["original_topic"])
	assert.Equal(t, "ABC_001", dl.Headers["error_code"])
	assert.Equal(t, "inference.requested", dl.Headers["event_type"])
	// The consumed message headers are not mutated.
	_, leaked := msg.Headers["original_topic"]
	assert.False(t, leaked)
	assert.Equal(t, int64(1), c.DeadLettered())
}

func TestProcessMessage_DeadLetterFailureIsLogged(t *testing.T) {
	log := testutil.NewMockLogger()
	dlq := &recordingPublisher{err: errors.New("broker down")}
	cfg := testConsumerConfig()
	cfg.RetryConfig.MaxRetries = 0
	c := NewConsumerWithReader(&mockKafkaReader{}, cfg, dlq, log)

	err := c.processMessage(context.Background(), &Message{Topic: "t"}, func(context.Context, *Message) error {
		return errors.New("fail")
	})
	require.NoError(t, err)
	assert.True(t, log.HasMessage("error", "Failed to send to dead letter queue"))
	assert.Zero(t, c.DeadLettered())
}

func TestProcessMessage_CancelledDuringBackoff(t *testing.T) {
	cfg := testConsumerConfig()
	cfg.RetryConfig.RetryBackoff = time.Hour
	c := NewConsumerWithReader(&mockKafkaReader{}, cfg, &recordingPublisher{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	err := c.processMessage(ctx, &Message{}, func(context.Context, *Message) error {
		cancel()
		return errors.New("fail")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDeadLetterTopic(t *testing.T) {
	assert.Equal(t, "abc.inference.requested.dlq", DeadLetterTopic(TopicInferenceRequested))
	assert.Equal(t, "x.dlq", DeadLetterTopic("x.dlq"))
}

//Personal.AI order the ending
