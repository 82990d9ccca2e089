// Package deadletter publishes messages that failed processing to a side
// channel so they can be inspected and replayed by hand.
package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"cdc-sink/internal/config"
)

// Stage names the processing step that failed
type Stage string

const (
	StageParse     Stage = "parse"
	StageTransform Stage = "transform"
	StageApply     Stage = "apply"
)

// Entry is the payload written to the dead-letter channel
type Entry struct {
	Topic     string    `json:"topic"`
	Partition int       `json:"partition"`
	Offset    int64     `json:"offset"`
	Key       string    `json:"key,omitempty"`
	Value     string    `json:"value"`
	Table     string    `json:"table,omitempty"`
	Operation string    `json:"operation,omitempty"`
	Stage     Stage     `json:"stage"`
	Error     string    `json:"error"`
	FailedAt  time.Time `json:"failed_at"`

	// Source coordinates of the change, when the envelope carried them
	Binlog      string     `json:"binlog,omitempty"`
	CommittedAt *time.Time `json:"committed_at,omitempty"`
}

// NewEntry describes a failed stream message
func NewEntry(msg kafka.Message, stage Stage, err error) *Entry {
	return &Entry{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       string(msg.Key),
		Value:     string(msg.Value),
		Stage:     stage,
		Error:     err.Error(),
		FailedAt:  time.Now().UTC(),
	}
}

func (e *Entry) marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal dead letter: %w", err)
	}
	return data, nil
}

// Publisher writes dead-letter entries
type Publisher interface {
	Publish(ctx context.Context, entry *Entry) error
	Close() error
}

// Noop drops entries. It is used when no dead-letter channel is configured,
// which keeps the log line as the only record of a failed message.
type Noop struct{}

func (Noop) Publish(_ context.Context, _ *Entry) error { return nil }

func (Noop) Close() error { return nil }

// New creates the publisher selected by cfg.Type
func New(cfg config.DeadLetterConfig, logger *logrus.Logger) (Publisher, error) {
	switch cfg.Type {
	case "", "none":
		return Noop{}, nil
	case "nats":
		return NewNATSPublisher(cfg.NATS, logger)
	case "kafka":
		return NewKafkaPublisher(cfg.Kafka, logger), nil
	case "redis":
		return NewRedisPublisher(cfg.Redis, logger)
	default:
		return nil, fmt.Errorf("unsupported dead letter type: %s", cfg.Type)
	}
}
