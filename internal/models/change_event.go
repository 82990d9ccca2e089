package models

import (
	"time"

	"github.com/go-mysql-org/go-mysql/mysql"
)

// Operation is the kind of row mutation carried by a change event
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// Fields is a row image keyed by column name. Numbers are kept as json.Number
// so integer keys and monetary values survive decoding without float rounding.
type Fields map[string]interface{}

// ChangeEvent represents a single row change read from the stream
type ChangeEvent struct {
	Table     string    `json:"table"`
	Operation Operation `json:"operation"`
	Before    Fields    `json:"before,omitempty"` // For UPDATE and DELETE events
	After     Fields    `json:"after,omitempty"`  // For CREATE and UPDATE events

	// Source metadata, populated when the envelope carries it
	Database    string         `json:"database,omitempty"`
	Position    mysql.Position `json:"-"`
	CommittedAt time.Time      `json:"-"`
}

// Data returns the row image that drives the mutation: the after image for
// creates and updates, the before image for deletes.
func (e *ChangeEvent) Data() Fields {
	if e.Operation == OperationDelete {
		return e.Before
	}
	return e.After
}

// HasPosition reports whether the source binlog coordinates are known
func (e *ChangeEvent) HasPosition() bool {
	return e.Position.Name != ""
}
