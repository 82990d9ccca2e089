package deadletter

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"cdc-sink/internal/config"
)

// KafkaPublisher writes dead letters to a Kafka topic keyed by the original
// message key, so entries for one row stay in one partition.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *logrus.Logger
}

// NewKafkaPublisher creates a writer for the dead-letter topic. Publish sends
// one entry at a time, so the writer flushes each message immediately instead
// of waiting out the default one-second batch window.
func NewKafkaPublisher(cfg config.KafkaDeadLetter, logger *logrus.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.Topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			BatchSize:              1,
			BatchTimeout:           10 * time.Millisecond,
			AllowAutoTopicCreation: true,
			ErrorLogger:            kafka.LoggerFunc(logger.Errorf),
		},
		logger: logger,
	}
}

// Publish writes one dead letter synchronously
func (p *KafkaPublisher) Publish(ctx context.Context, entry *Entry) error {
	data, err := entry.marshal()
	if err != nil {
		return err
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(entry.Key), Value: data}); err != nil {
		return fmt.Errorf("failed to write dead letter to %s: %w", p.writer.Topic, err)
	}

	p.logger.Debugf("Published dead letter for %s[%d]@%d to %s", entry.Topic, entry.Partition, entry.Offset, p.writer.Topic)
	return nil
}

// Close flushes and closes the writer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
