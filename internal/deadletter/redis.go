package deadletter

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"cdc-sink/internal/config"
)

// RedisPublisher appends dead letters to a Redis list
type RedisPublisher struct {
	client *redis.Client
	key    string
	maxLen int64
	logger *logrus.Logger
}

// NewRedisPublisher connects to Redis and checks the connection
func NewRedisPublisher(cfg config.RedisDeadLetter, logger *logrus.Logger) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Infof("Connected to Redis at %s, dead letters go to list %s", cfg.Addr, cfg.Key)

	return &RedisPublisher{
		client: client,
		key:    cfg.Key,
		maxLen: cfg.MaxLen,
		logger: logger,
	}, nil
}

// Publish appends one dead letter, trimming the list to the newest maxLen
// entries when a cap is configured.
func (p *RedisPublisher) Publish(ctx context.Context, entry *Entry) error {
	data, err := entry.marshal()
	if err != nil {
		return err
	}

	pipe := p.client.TxPipeline()
	pipe.RPush(ctx, p.key, data)
	if p.maxLen > 0 {
		pipe.LTrim(ctx, p.key, -p.maxLen, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to push dead letter to %s: %w", p.key, err)
	}

	p.logger.Debugf("Published dead letter for %s[%d]@%d to %s", entry.Topic, entry.Partition, entry.Offset, p.key)
	return nil
}

// Close closes the Redis client
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
