// Package envelope decodes raw change-stream message values into change events.
//
// Three envelope shapes are accepted: the Debezium JSON converter output with a
// "schema"/"payload" wrapper, the bare Debezium payload, and a flat
// {"table", "operation", "before", "after"} form used by lightweight producers.
package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-mysql-org/go-mysql/mysql"

	"cdc-sink/internal/models"
)

// ErrMalformedEnvelope is returned when a message cannot be turned into a change event.
// The message is permanently unprocessable; redelivery will not help.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// ErrTombstone is returned for empty or null message values. Debezium emits one
// after every delete so log compaction can drop the key.
var ErrTombstone = errors.New("tombstone message")

var opCodes = map[string]models.Operation{
	"c": models.OperationCreate,
	"u": models.OperationUpdate,
	"d": models.OperationDelete,
}

type source struct {
	DB    string `json:"db"`
	Table string `json:"table"`
	File  string `json:"file"`
	Pos   uint32 `json:"pos"`
	TsMs  int64  `json:"ts_ms"`
}

type payload struct {
	Op        string        `json:"op"`
	Operation string        `json:"operation"`
	Table     string        `json:"table"`
	Source    *source       `json:"source"`
	Before    models.Fields `json:"before"`
	After     models.Fields `json:"after"`
	TsMs      int64         `json:"ts_ms"`
}

// Parse decodes one message value into a change event
func Parse(value []byte) (*models.ChangeEvent, error) {
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, ErrTombstone
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &wrapper); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	body := trimmed
	if raw, ok := wrapper["payload"]; ok {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
			return nil, ErrTombstone
		}
		body = raw
	}

	var p payload
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	event := &models.ChangeEvent{
		Table:  p.Table,
		Before: p.Before,
		After:  p.After,
	}

	if p.Source != nil {
		if p.Source.Table != "" {
			event.Table = p.Source.Table
		}
		event.Database = p.Source.DB
		if p.Source.File != "" {
			event.Position = mysql.Position{Name: p.Source.File, Pos: p.Source.Pos}
		}
		if p.Source.TsMs > 0 {
			event.CommittedAt = time.UnixMilli(p.Source.TsMs).UTC()
		}
	}
	if event.CommittedAt.IsZero() && p.TsMs > 0 {
		event.CommittedAt = time.UnixMilli(p.TsMs).UTC()
	}

	if event.Table == "" {
		return nil, fmt.Errorf("%w: missing table", ErrMalformedEnvelope)
	}

	code := p.Op
	if code == "" {
		code = p.Operation
	}
	if code == "" {
		return nil, fmt.Errorf("%w: missing operation", ErrMalformedEnvelope)
	}
	op, ok := opCodes[code]
	if !ok {
		return nil, fmt.Errorf("%w: unrecognized operation %q", ErrMalformedEnvelope, code)
	}
	event.Operation = op

	if err := checkImage(event); err != nil {
		return nil, err
	}
	return event, nil
}

// Validate checks an event that was built or rewritten after parsing, such as
// the output of a transform script. Short operation codes are normalized to
// their long names in place.
func Validate(event *models.ChangeEvent) error {
	if event == nil {
		return fmt.Errorf("%w: no event", ErrMalformedEnvelope)
	}
	if event.Table == "" {
		return fmt.Errorf("%w: missing table", ErrMalformedEnvelope)
	}

	code := string(event.Operation)
	if code == "" {
		return fmt.Errorf("%w: missing operation", ErrMalformedEnvelope)
	}
	op, ok := opCodes[code]
	if !ok {
		switch models.Operation(code) {
		case models.OperationCreate, models.OperationUpdate, models.OperationDelete:
			op = models.Operation(code)
		default:
			return fmt.Errorf("%w: unrecognized operation %q", ErrMalformedEnvelope, code)
		}
	}
	event.Operation = op

	return checkImage(event)
}

// checkImage requires the row image the operation is applied from
func checkImage(event *models.ChangeEvent) error {
	if event.Data() != nil {
		return nil
	}
	half := "after"
	if event.Operation == models.OperationDelete {
		half = "before"
	}
	return fmt.Errorf("%w: missing %s image for %s", ErrMalformedEnvelope, half, event.Operation)
}
