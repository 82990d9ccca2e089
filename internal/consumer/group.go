package consumer

import (
	"context"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"cdc-sink/internal/config"
)

// NewReader creates a consumer-group reader for the given topics. Offsets are
// committed explicitly after processing, never on a timer.
func NewReader(cfg config.KafkaConfig, topics []string, logger *logrus.Logger) *kafka.Reader {
	startOffset := kafka.FirstOffset
	if cfg.StartOffset == "latest" {
		startOffset = kafka.LastOffset
	}

	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		GroupTopics:    topics,
		MinBytes:       cfg.MinBytes,
		MaxBytes:       cfg.MaxBytes,
		MaxWait:        cfg.MaxWait,
		StartOffset:    startOffset,
		CommitInterval: 0,
		Logger:         kafka.LoggerFunc(logger.Debugf),
		ErrorLogger:    kafka.LoggerFunc(logger.Errorf),
	})
}

// Group runs several workers in the same consumer group. The group protocol
// spreads partitions across them, so each partition is consumed by one
// sequential loop at a time.
type Group struct {
	workers []*Worker
	readers []Reader
	logger  *logrus.Logger
}

// NewGroup creates n workers, each with a reader from newReader
func NewGroup(n int, newReader func(id int) Reader, handler Handler, observer CommitObserver, cfg config.KafkaConfig, logger *logrus.Logger) *Group {
	g := &Group{logger: logger}
	for id := 0; id < n; id++ {
		r := newReader(id)
		g.readers = append(g.readers, r)
		g.workers = append(g.workers, NewWorker(id, r, handler, observer, cfg.CommitTimeout, logger))
	}
	return g
}

// Run blocks until every worker has stopped, then closes the readers so the
// group membership is released promptly.
func (g *Group) Run(ctx context.Context) {
	g.logger.Infof("Starting %d consumer worker(s)", len(g.workers))

	var wg conc.WaitGroup
	for _, w := range g.workers {
		wg.Go(func() {
			if err := w.Run(ctx); err != nil {
				g.logger.WithField("worker", w.id).WithError(err).Error("Consumer worker exited")
			}
		})
	}
	wg.Wait()

	for i, r := range g.readers {
		if err := r.Close(); err != nil {
			g.logger.WithField("worker", i).WithError(err).Warn("Failed to close reader")
		}
	}
	g.logger.Info("All consumer workers stopped")
}
