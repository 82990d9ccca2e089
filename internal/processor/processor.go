package processor

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"cdc-sink/internal/deadletter"
	"cdc-sink/internal/envelope"
	"cdc-sink/internal/models"
	"cdc-sink/internal/registry"
	"cdc-sink/internal/store"
)

// Outcome is the terminal state of one stream message
type Outcome int

const (
	Applied Outcome = iota
	NotFound
	Skipped
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case NotFound:
		return "not_found"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Recorder receives one observation per processed message
type Recorder interface {
	ObserveMessage(table, operation, outcome string, elapsed time.Duration)
}

// Processor turns stream messages into writes against the target store
type Processor struct {
	store        *store.Store
	registry     *registry.Registry
	transformer  *Transformer
	deadLetter   deadletter.Publisher
	recorder     Recorder
	applyTimeout time.Duration
	logger       *logrus.Logger
}

// Option configures optional processor collaborators
type Option func(*Processor)

// WithTransformer rewrites events between parsing and dispatch
func WithTransformer(t *Transformer) Option {
	return func(p *Processor) { p.transformer = t }
}

// WithDeadLetter publishes failed messages
func WithDeadLetter(pub deadletter.Publisher) Option {
	return func(p *Processor) { p.deadLetter = pub }
}

// WithRecorder records per-message metrics
func WithRecorder(r Recorder) Option {
	return func(p *Processor) { p.recorder = r }
}

// WithApplyTimeout bounds each transaction. Zero means no bound beyond the caller's context.
func WithApplyTimeout(d time.Duration) Option {
	return func(p *Processor) { p.applyTimeout = d }
}

// NewProcessor creates a new message processor
func NewProcessor(st *store.Store, reg *registry.Registry, logger *logrus.Logger, opts ...Option) *Processor {
	p := &Processor{
		store:    st,
		registry: reg,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs one message through parse, transform, dispatch and apply. It
// never returns an error: every failure is logged and reported as Failed so
// the caller can acknowledge the message and move on.
func (p *Processor) Process(ctx context.Context, msg kafka.Message) Outcome {
	start := time.Now()
	table, operation := "", ""

	outcome := p.process(ctx, msg, &table, &operation)

	if p.recorder != nil {
		if table == "" {
			table = "unknown"
		}
		p.recorder.ObserveMessage(table, operation, outcome.String(), time.Since(start))
	}
	return outcome
}

func (p *Processor) process(ctx context.Context, msg kafka.Message, table, operation *string) Outcome {
	fields := logrus.Fields{
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
	}

	event, err := envelope.Parse(msg.Value)
	if errors.Is(err, envelope.ErrTombstone) {
		p.logger.WithFields(fields).Debug("Skipping tombstone message")
		return Skipped
	}
	if err != nil {
		p.logger.WithFields(fields).WithError(err).Error("Failed to parse change event")
		p.publishDeadLetter(ctx, deadletter.NewEntry(msg, deadletter.StageParse, err))
		return Failed
	}

	*table, *operation = event.Table, string(event.Operation)
	fields["table"] = event.Table
	fields["operation"] = event.Operation
	if event.HasPosition() {
		fields["binlog"] = event.Position.String()
	}
	if !event.CommittedAt.IsZero() {
		fields["committed_at"] = event.CommittedAt
	}

	if p.logger.IsLevelEnabled(logrus.DebugLevel) {
		if raw, err := json.Marshal(event); err == nil {
			p.logger.WithFields(fields).Debugf("Received change event: %s", raw)
		}
	}

	transformed, err := p.transformer.Transform(event)
	if errors.Is(err, ErrEventRejected) {
		p.logger.WithFields(fields).Debug("Change event rejected by transformer")
		return Skipped
	}
	if err != nil {
		p.logger.WithFields(fields).WithError(err).Error("Failed to transform change event")
		p.publishDeadLetter(ctx, p.failedEntry(msg, deadletter.StageTransform, event, err))
		return Failed
	}
	if err := envelope.Validate(transformed); err != nil {
		p.logger.WithFields(fields).WithError(err).Error("Transformer produced an invalid change event")
		p.publishDeadLetter(ctx, p.failedEntry(msg, deadletter.StageTransform, event, err))
		return Failed
	}
	event = transformed
	fields["table"] = event.Table
	fields["operation"] = event.Operation

	entry, ok := p.registry.Lookup(event.Table)
	if !ok {
		p.logger.WithFields(fields).Warn("No handler registered for table, skipping")
		return Skipped
	}

	key := rawKey(event.Data())
	result, err := p.apply(ctx, entry, event, &key)
	fields["key"] = key
	if err != nil {
		p.logger.WithFields(fields).WithError(err).Error("Failed to apply change event")
		p.publishDeadLetter(ctx, p.failedEntry(msg, deadletter.StageApply, event, err))
		return Failed
	}

	if result == store.NotFound {
		p.logger.WithFields(fields).Info("Row already absent, nothing to delete")
		return NotFound
	}

	p.logger.WithFields(fields).Info("Applied change event")
	return Applied
}

// apply decodes and writes the event in a single transaction. key is
// replaced by the decoded primary key once decoding succeeds.
func (p *Processor) apply(ctx context.Context, entry registry.Entry, event *models.ChangeEvent, key *interface{}) (store.Result, error) {
	if p.applyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.applyTimeout)
		defer cancel()
	}

	var result store.Result
	err := p.store.WithTx(ctx, func(tx *store.Tx) error {
		rec, err := entry.Decode(event.Data())
		if err != nil {
			return err
		}
		*key = rec.Key()

		p.logger.WithFields(logrus.Fields{
			"table":     event.Table,
			"operation": event.Operation,
		}).Debugf("Decoded record: %+v", rec)

		result, err = entry.Apply(ctx, tx, event.Operation, rec)
		return err
	})
	return result, err
}

func (p *Processor) failedEntry(msg kafka.Message, stage deadletter.Stage, event *models.ChangeEvent, err error) *deadletter.Entry {
	e := deadletter.NewEntry(msg, stage, err)
	e.Table = event.Table
	e.Operation = string(event.Operation)
	if event.HasPosition() {
		e.Binlog = event.Position.String()
	}
	if !event.CommittedAt.IsZero() {
		committedAt := event.CommittedAt
		e.CommittedAt = &committedAt
	}
	return e
}

// publishDeadLetter never fails the message; a broken dead-letter channel
// only costs the copy.
func (p *Processor) publishDeadLetter(ctx context.Context, entry *deadletter.Entry) {
	if p.deadLetter == nil {
		return
	}
	if err := p.deadLetter.Publish(ctx, entry); err != nil {
		p.logger.WithFields(logrus.Fields{
			"topic":     entry.Topic,
			"partition": entry.Partition,
			"offset":    entry.Offset,
		}).WithError(err).Warn("Failed to publish dead letter")
	}
}

// rawKey returns the undecoded primary key for log lines
func rawKey(f models.Fields) interface{} {
	if f == nil {
		return nil
	}
	return f[models.KeyColumn]
}
