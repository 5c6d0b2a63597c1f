package tabular

import (
	"context"
	"sync"
	"time"
)

// DefaultLockWait matches the bounded lock wait of the production backend.
const DefaultLockWait = 5 * time.Second

// Memory implements Store in process memory. Each table carries its own
// bounded-wait write lock around read-modify-write sequences; the backing
// model has no row-level transactions, so this is the only write discipline.
type Memory struct {
	mu       sync.RWMutex
	tables   map[string]*memTable
	seqLock  chan struct{}
	seqs     map[string]uint64
	lockWait time.Duration
}

type memTable struct {
	headers []string
	lock    chan struct{}
	rows    []Record
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithLockWait overrides the write lock wait bound.
func WithLockWait(d time.Duration) MemoryOption {
	return func(m *Memory) {
		if d > 0 {
			m.lockWait = d
		}
	}
}

// NewMemory creates an empty in-memory store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		tables:   make(map[string]*memTable),
		seqLock:  make(chan struct{}, 1),
		seqs:     make(map[string]uint64),
		lockWait: DefaultLockWait,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var _ Store = (*Memory)(nil)

func (m *Memory) EnsureSchema(ctx context.Context, table string, headers []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[table]
	if !ok {
		t = &memTable{lock: make(chan struct{}, 1)}
		m.tables[table] = t
	}
	// Existing columns are never dropped; new ones are appended.
	known := make(map[string]struct{}, len(t.headers))
	for _, h := range t.headers {
		known[h] = struct{}{}
	}
	for _, h := range headers {
		if _, ok := known[h]; !ok {
			t.headers = append(t.headers, h)
			known[h] = struct{}{}
		}
	}
	return nil
}

func (m *Memory) table(name string) (*memTable, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[name]
	return t, ok
}

// acquire takes a bounded-wait lock, honouring context cancellation.
func (m *Memory) acquire(ctx context.Context, lock chan struct{}) error {
	timer := time.NewTimer(m.lockWait)
	defer timer.Stop()
	select {
	case lock <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func release(lock chan struct{}) { <-lock }

func (m *Memory) ListRows(ctx context.Context, table string) ([]Record, error) {
	t, ok := m.table(table)
	if !ok {
		return nil, ErrUnknownTable
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, len(t.rows))
	for i, r := range t.rows {
		out[i] = r.Clone()
	}
	return out, nil
}

func (m *Memory) AppendRow(ctx context.Context, table string, rec Record) error {
	t, ok := m.table(table)
	if !ok {
		return ErrUnknownTable
	}
	if err := m.acquire(ctx, t.lock); err != nil {
		return err
	}
	defer release(t.lock)

	m.mu.Lock()
	defer m.mu.Unlock()
	row := make(Record, len(t.headers))
	for _, h := range t.headers {
		row[h] = rec[h]
	}
	t.rows = append(t.rows, row)
	return nil
}

func (m *Memory) UpdateRowByKey(ctx context.Context, table, keyField, keyValue string, patch Record) (bool, error) {
	t, ok := m.table(table)
	if !ok {
		return false, ErrUnknownTable
	}
	if err := m.acquire(ctx, t.lock); err != nil {
		return false, err
	}
	defer release(t.lock)

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range t.rows {
		if row[keyField] != keyValue {
			continue
		}
		for k, v := range patch {
			row[k] = v
		}
		return true, nil
	}
	return false, nil
}

func (m *Memory) UpdateRowMatching(ctx context.Context, table string, match, patch Record) (bool, error) {
	t, ok := m.table(table)
	if !ok {
		return false, ErrUnknownTable
	}
	if err := m.acquire(ctx, t.lock); err != nil {
		return false, err
	}
	defer release(t.lock)

	m.mu.Lock()
	defer m.mu.Unlock()
rows:
	for _, row := range t.rows {
		for k, v := range match {
			if row[k] != v {
				continue rows
			}
		}
		for k, v := range patch {
			row[k] = v
		}
		return true, nil
	}
	return false, nil
}

func (m *Memory) NextSequence(ctx context.Context, prefix, table string) (uint64, error) {
	if err := m.acquire(ctx, m.seqLock); err != nil {
		return 0, err
	}
	defer release(m.seqLock)

	key := prefix + "_" + table
	m.seqs[key]++
	return m.seqs[key], nil
}
