// Package consumer runs the stream consumer loop: fetch a message, process
// it, commit its offset, repeat.
package consumer

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"cdc-sink/internal/processor"
)

// Reader is the subset of *kafka.Reader the loop needs
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Handler processes one message and reports its outcome
type Handler interface {
	Process(ctx context.Context, msg kafka.Message) processor.Outcome
}

// CommitObserver is notified after every commit attempt
type CommitObserver interface {
	ObserveCommit(err error)
}

// Worker is one sequential consume loop bound to one reader
type Worker struct {
	id            int
	reader        Reader
	handler       Handler
	observer      CommitObserver
	commitTimeout time.Duration
	backoff       *backoff.ExponentialBackOff
	logger        *logrus.Logger
}

// NewWorker creates a consume loop. observer may be nil.
func NewWorker(id int, reader Reader, handler Handler, observer CommitObserver, commitTimeout time.Duration, logger *logrus.Logger) *Worker {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 30 * time.Second

	return &Worker{
		id:            id,
		reader:        reader,
		handler:       handler,
		observer:      observer,
		commitTimeout: commitTimeout,
		backoff:       bo,
		logger:        logger,
	}
}

// Run consumes until ctx is cancelled or the reader is closed. A message
// that was fetched before cancellation is still processed and committed.
func (w *Worker) Run(ctx context.Context) error {
	log := w.logger.WithField("worker", w.id)
	log.Info("Starting consumer loop")

	for {
		if ctx.Err() != nil {
			log.Info("Consumer loop stopped")
			return nil
		}

		msg, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				log.Info("Consumer loop stopped")
				return nil
			}

			wait := w.backoff.NextBackOff()
			log.WithError(err).Warnf("Failed to fetch message, retrying in %s", wait)
			select {
			case <-ctx.Done():
				log.Info("Consumer loop stopped")
				return nil
			case <-time.After(wait):
			}
			continue
		}
		w.backoff.Reset()

		// The in-flight message is finished even if a stop arrives meanwhile
		work := context.WithoutCancel(ctx)
		w.handle(work, msg)
		w.commit(work, msg)
	}
}

func (w *Worker) handle(ctx context.Context, msg kafka.Message) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.WithFields(logrus.Fields{
				"worker":    w.id,
				"topic":     msg.Topic,
				"partition": msg.Partition,
				"offset":    msg.Offset,
			}).Errorf("Recovered from panic while processing message: %v", r)
		}
	}()

	w.handler.Process(ctx, msg)
}

func (w *Worker) commit(ctx context.Context, msg kafka.Message) {
	if w.commitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.commitTimeout)
		defer cancel()
	}

	err := w.reader.CommitMessages(ctx, msg)
	if w.observer != nil {
		w.observer.ObserveCommit(err)
	}
	if err != nil {
		// Redelivery of this message is tolerated by the upsert/delete semantics
		w.logger.WithFields(logrus.Fields{
			"worker":    w.id,
			"topic":     msg.Topic,
			"partition": msg.Partition,
			"offset":    msg.Offset,
		}).WithError(err).Warn("Failed to commit offset")
	}
}
