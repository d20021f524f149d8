package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const (
	TopicAccountRegistered = "guardian.account.registered"
	TopicAccountLocked     = "guardian.account.locked"
)

// KafkaConfig configures the event publisher.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	Source       string        `yaml:"source"`
}

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Envelope is the JSON value written to each topic.
type Envelope struct {
	EventID     string          `json:"event_id"`
	EventType   string          `json:"event_type"`
	AggregateID string          `json:"aggregate_id"`
	Timestamp   time.Time       `json:"timestamp"`
	Source      string          `json:"source"`
	Data        json.RawMessage `json:"data"`
}

type registeredData struct {
	Email      string `json:"email"`
	Name       string `json:"name,omitempty"`
	SourceAddr string `json:"source_addr,omitempty"`
}

type lockedData struct {
	Email       string     `json:"email"`
	LockCount   int        `json:"lock_count"`
	Permanent   bool       `json:"permanent"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
}

// Kafka publishes lifecycle messages as events keyed by account ID.
type Kafka struct {
	writer MessageWriter
	source string
}

// NewKafka builds a publisher over a kafka-go writer.
func NewKafka(cfg KafkaConfig) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka notifier requires at least one broker")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireAll,
	}
	return NewKafkaWithWriter(w, cfg.Source), nil
}

// NewKafkaWithWriter publishes through w.
func NewKafkaWithWriter(w MessageWriter, source string) *Kafka {
	if source == "" {
		source = "guardian"
	}
	return &Kafka{writer: w, source: source}
}

func (k *Kafka) Notify(ctx context.Context, msg Message) error {
	topic, data, err := kafkaPayload(msg)
	if err != nil {
		return err
	}
	if topic == "" {
		return nil
	}

	at := msg.At
	if at.IsZero() {
		at = time.Now()
	}
	value, err := json.Marshal(Envelope{
		EventID:     uuid.NewString(),
		EventType:   string(msg.Kind),
		AggregateID: msg.AccountID,
		Timestamp:   at.UTC(),
		Source:      k.source,
		Data:        data,
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(msg.AccountID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(msg.Kind)},
			{Key: "source", Value: []byte(k.source)},
		},
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}

func kafkaPayload(msg Message) (string, json.RawMessage, error) {
	var (
		topic string
		v     any
	)
	switch msg.Kind {
	case KindAccountRegistered:
		topic = TopicAccountRegistered
		v = registeredData{Email: msg.Email, Name: msg.Name, SourceAddr: msg.SourceAddr}
	case KindAccountLocked:
		topic = TopicAccountLocked
		v = lockedData{Email: msg.Email, LockCount: msg.LockCount, Permanent: msg.Permanent, LockedUntil: msg.LockedUntil}
	default:
		return "", nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", nil, fmt.Errorf("marshal %s payload: %w", msg.Kind, err)
	}
	return topic, data, nil
}
