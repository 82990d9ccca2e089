package deadletter

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"cdc-sink/internal/config"
)

// NATSPublisher handles publishing dead letters to a NATS subject
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	logger  *logrus.Logger
}

// NewNATSPublisher connects to NATS
func NewNATSPublisher(cfg config.NATSDeadLetter, logger *logrus.Logger) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name("cdc-sink-deadletter"),
		nats.MaxReconnects(cfg.MaxReconnect),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warnf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infof("NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Warn("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Infof("Connected to NATS at %s, dead letters go to %s", cfg.URL, cfg.Subject)

	return &NATSPublisher{
		conn:    conn,
		subject: cfg.Subject,
		logger:  logger,
	}, nil
}

// Publish publishes a dead letter to NATS
func (p *NATSPublisher) Publish(_ context.Context, entry *Entry) error {
	data, err := entry.marshal()
	if err != nil {
		return err
	}

	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("failed to publish to NATS: %w", err)
	}

	p.logger.Debugf("Published dead letter for %s[%d]@%d to %s", entry.Topic, entry.Partition, entry.Offset, p.subject)
	return nil
}

// Close drains pending publishes and closes the NATS connection
func (p *NATSPublisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}
