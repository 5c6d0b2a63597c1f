// Package tabular abstracts the sheet-like row storage the ERP core runs on.
// Records are flat string maps; column order is a property of the physical
// schema, not of the records themselves.
package tabular

import (
	"context"
	"errors"
)

var (
	// ErrTimeout indicates the per-table write lock could not be acquired
	// within the configured wait bound. Callers may retry.
	ErrTimeout = errors.New("tabular: lock wait timed out")

	// ErrUnknownTable indicates the table has no schema yet.
	ErrUnknownTable = errors.New("tabular: unknown table")
)

// Record is a single row keyed by column header.
type Record map[string]string

// Clone returns an independent copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Store is the tabular persistence contract. Mutations on a table are
// serialized by the implementation; reads are lock-free and may observe
// slightly stale data.
type Store interface {
	// EnsureSchema registers the table with the given column headers.
	// Idempotent; never drops existing columns or rows.
	EnsureSchema(ctx context.Context, table string, headers []string) error

	// ListRows returns every row of the table in physical order.
	ListRows(ctx context.Context, table string) ([]Record, error)

	// AppendRow adds a row at the end of the table.
	AppendRow(ctx context.Context, table string, rec Record) error

	// UpdateRowByKey patches the first row whose keyField column equals
	// keyValue. Returns false when no row matched.
	UpdateRowByKey(ctx context.Context, table, keyField, keyValue string, patch Record) (bool, error)

	// UpdateRowMatching patches the first row whose columns equal every
	// entry of match. Returns false when no row matched.
	UpdateRowMatching(ctx context.Context, table string, match, patch Record) (bool, error)

	// NextSequence increments and returns the counter for (prefix, table).
	// Counters start at 1 and never repeat.
	NextSequence(ctx context.Context, prefix, table string) (uint64, error)
}
