// Package registry maps source table names to the codec and applier that
// handle their change events.
package registry

import (
	"context"
	"sort"

	"cdc-sink/internal/codec"
	"cdc-sink/internal/models"
	"cdc-sink/internal/store"
)

// ApplyFunc writes a decoded record inside the event's transaction
type ApplyFunc func(ctx context.Context, tx *store.Tx, op models.Operation, rec models.Record) (store.Result, error)

// Entry bundles the codec and applier for one table
type Entry struct {
	Table  string
	Decode codec.DecodeFunc
	Apply  ApplyFunc
}

// Registry is an immutable table lookup. It is safe for concurrent use
// because nothing mutates it after construction.
type Registry struct {
	entries map[string]Entry
}

// New builds a registry from the given entries
func New(entries ...Entry) *Registry {
	m := make(map[string]Entry, len(entries))
	for _, e := range entries {
		m[e.Table] = e
	}
	return &Registry{entries: m}
}

// Default returns the registry for the five replicated tables
func Default() *Registry {
	return New(
		Entry{Table: models.TableUsers, Decode: codec.DecodeUser, Apply: store.Apply},
		Entry{Table: models.TableProducts, Decode: codec.DecodeProduct, Apply: store.Apply},
		Entry{Table: models.TableOrders, Decode: codec.DecodeOrder, Apply: store.Apply},
		Entry{Table: models.TableOrderItems, Decode: codec.DecodeOrderItem, Apply: store.Apply},
		Entry{Table: models.TableProductCategories, Decode: codec.DecodeProductCategory, Apply: store.Apply},
	)
}

// Lookup returns the entry for table. A miss means the pipeline has no
// interest in the table.
func (r *Registry) Lookup(table string) (Entry, bool) {
	e, ok := r.entries[table]
	return e, ok
}

// Tables returns the registered table names in sorted order
func (r *Registry) Tables() []string {
	tables := make([]string, 0, len(r.entries))
	for t := range r.entries {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables
}
