package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/turtacn/abcflow/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/abcflow/pkg/errors"
)

// Topic names.
const (
	TopicInferenceRequested  = "abc.inference.requested"
	TopicPopulationCompleted = "abc.population.completed"
	TopicInferenceCompleted  = "abc.inference.completed"

	deadLetterSuffix = ".dlq"
)

// Event types carried in EventEnvelope.EventType.
const (
	EventInferenceRequested  = "inference.requested"
	EventPopulationCompleted = "population.completed"
	EventInferenceCompleted  = "inference.completed"
)

// DeadLetterTopic returns the DLQ for topic.
func DeadLetterTopic(topic string) string {
	if strings.HasSuffix(topic, deadLetterSuffix) {
		return topic
	}
	return topic + deadLetterSuffix
}

// EventEnvelope standardizes event messages.
type EventEnvelope struct {
	EventID       string            `json:"event_id"`
	EventType     string            `json:"event_type"`
	Source        string            `json:"source"`
	Timestamp     time.Time         `json:"timestamp"`
	SchemaVersion string            `json:"schema_version"`
	Payload       json.RawMessage   `json:"payload"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// InferenceRequestedPayload asks a worker to run one inference.  Zero fields
// fall back to the worker's configured defaults.
type InferenceRequestedPayload struct {
	RunID       string    `json:"run_id"`
	Method      string    `json:"method"` // "rejection" | "smc"
	NumSamples  int       `json:"num_samples,omitempty"`
	BatchSize   int       `json:"batch_size,omitempty"`
	Epsilon     float64   `json:"epsilon,omitempty"`
	Epsilons    []float64 `json:"epsilons,omitempty"`
	Populations int       `json:"populations,omitempty"`
	Seed        *uint64   `json:"seed,omitempty"`
	Observed    []float64 `json:"observed,omitempty"`
}

// PopulationCompletedPayload reports one finished SMC population.
type PopulationCompletedPayload struct {
	RunID      string    `json:"run_id"`
	Index      int       `json:"index"`
	Epsilon    float64   `json:"epsilon"`
	Accepted   int       `json:"accepted"`
	TrialCount int       `json:"trial_count"`
	ESS        float64   `json:"ess"`
	Estimate   []float64 `json:"estimate,omitempty"`
}

// InferenceCompletedPayload reports a finished (or stopped) run.
type InferenceCompletedPayload struct {
	RunID      string    `json:"run_id"`
	Method     string    `json:"method"`
	Status     string    `json:"status"`
	Accepted   int       `json:"accepted"`
	TrialCount int       `json:"trial_count"`
	Estimate   []float64 `json:"estimate,omitempty"`
	ErrorCode  string    `json:"error_code,omitempty"`
	Error      string    `json:"error,omitempty"`
	ElapsedMS  int64     `json:"elapsed_ms"`
	ArchiveKey string    `json:"archive_key,omitempty"`
}

func NewEventEnvelope(eventType, source string, payload interface{}) (*EventEnvelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal payload")
	}
	return &EventEnvelope{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		SchemaVersion: "v1",
		Payload:       data,
	}, nil
}

func (e *EventEnvelope) DecodePayload(target interface{}) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return errors.New(errors.ErrCodeValidation, "event has no payload")
	}
	if err := json.Unmarshal(e.Payload, target); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode payload")
	}
	return nil
}

// ToMessage renders the envelope as a message keyed by key.  Keying by run ID
// keeps all events of one run on one partition.
func (e *EventEnvelope) ToMessage(topic, key string) (*ProducerMessage, error) {
	val, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal envelope")
	}
	return &ProducerMessage{
		Topic: topic,
		Key:   []byte(key),
		Value: val,
		Headers: map[string]string{
			"event_type":     e.EventType,
			"source_service": e.Source,
			"schema_version": e.SchemaVersion,
		},
		Timestamp: e.Timestamp,
	}, nil
}

func MessageToEventEnvelope(msg *Message) (*EventEnvelope, error) {
	if len(msg.Value) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "empty message value")
	}
	var env EventEnvelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to unmarshal envelope")
	}
	return &env, nil
}

// ConnInterface abstracts kafka.Conn for testing.
type ConnInterface interface {
	CreateTopics(topics ...kafka.TopicConfig) error
	ReadPartitions(topics ...string) ([]kafka.Partition, error)
	Close() error
}

// TopicManager creates the topics abcflow uses.
type TopicManager struct {
	conn   ConnInterface
	logger logging.Logger
}

func NewTopicManager(brokers []string, logger logging.Logger) (*TopicManager, error) {
	if len(brokers) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "brokers required")
	}
	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMessageQueueError, "failed to dial kafka")
	}
	return NewTopicManagerWithConn(conn, logger), nil
}

func NewTopicManagerWithConn(conn ConnInterface, logger logging.Logger) *TopicManager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &TopicManager{conn: conn, logger: logger}
}

func (m *TopicManager) CreateTopic(ctx context.Context, cfg TopicConfig) error {
	if cfg.Name == "" {
		return errors.New(errors.ErrCodeValidation, "topic name required")
	}
	if cfg.NumPartitions <= 0 {
		return errors.New(errors.ErrCodeValidation, "partitions must be > 0")
	}
	if cfg.ReplicationFactor <= 0 {
		return errors.New(errors.ErrCodeValidation, "replication factor must be > 0")
	}

	kCfg := kafka.TopicConfig{
		Topic:             cfg.Name,
		NumPartitions:     cfg.NumPartitions,
		ReplicationFactor: cfg.ReplicationFactor,
	}
	if cfg.RetentionMs > 0 {
		kCfg.ConfigEntries = append(kCfg.ConfigEntries,
			kafka.ConfigEntry{ConfigName: "retention.ms", ConfigValue: fmt.Sprintf("%d", cfg.RetentionMs)})
	}
	if cfg.CleanupPolicy != "" {
		kCfg.ConfigEntries = append(kCfg.ConfigEntries,
			kafka.ConfigEntry{ConfigName: "cleanup.policy", ConfigValue: cfg.CleanupPolicy})
	}

	if err := m.conn.CreateTopics(kCfg); err != nil {
		if exists, _ := m.TopicExists(ctx, cfg.Name); exists {
			return nil
		}
		return errors.Wrap(err, errors.ErrCodeMessageQueueError, "failed to create topic "+cfg.Name)
	}
	m.logger.Info("Topic created", logging.String("topic", cfg.Name))
	return nil
}

func (m *TopicManager) TopicExists(_ context.Context, name string) (bool, error) {
	partitions, err := m.conn.ReadPartitions(name)
	if err != nil {
		return false, nil
	}
	return len(partitions) > 0, nil
}

func (m *TopicManager) EnsureTopics(ctx context.Context, topics []TopicConfig) error {
	for _, topic := range topics {
		if err := m.CreateTopic(ctx, topic); err != nil {
			return err
		}
	}
	return nil
}

func (m *TopicManager) Close() error {
	return m.conn.Close()
}

// DefaultTopics returns the request, population and completion topics plus
// the request DLQ, single-replica for development clusters.
func DefaultTopics(request, population, completion string) []TopicConfig {
	const day = 24 * 3600 * 1000
	return []TopicConfig{
		{Name: request, NumPartitions: 6, ReplicationFactor: 1, RetentionMs: 7 * day},
		{Name: population, NumPartitions: 6, ReplicationFactor: 1, RetentionMs: 3 * day},
		{Name: completion, NumPartitions: 6, ReplicationFactor: 1, RetentionMs: 30 * day},
		{Name: DeadLetterTopic(request), NumPartitions: 1, ReplicationFactor: 1, RetentionMs: 30 * day},
	}
}

//Personal.AI order the ending
