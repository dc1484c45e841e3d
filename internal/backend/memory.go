package backend

import (
	"context"
	"fmt"
	"sync"
)

// Op names a backend operation, used to inject faults into MemoryStore.
type Op string

const (
	OpInsert     Op = "insert"
	OpInsertMany Op = "insert_many"
	OpSelect     Op = "select"
	OpUpdate     Op = "update"
	OpDelete     Op = "delete"
	OpPing       Op = "ping"
)

// MemoryStore keeps tables in maps keyed by each table's key column.
// It is safe for concurrent use and backs local runs and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	keys   map[string]string
	tables map[string]map[string]Row
	faults map[string]error
	calls  map[Op]int
}

var _ Backend = (*MemoryStore)(nil)

// NewMemoryStore creates a store; keys maps table name to its key column.
func NewMemoryStore(keys map[string]string) *MemoryStore {
	return &MemoryStore{
		keys:   keys,
		tables: make(map[string]map[string]Row),
		faults: make(map[string]error),
		calls:  make(map[Op]int),
	}
}

// SetFault makes every op on table fail with err until cleared with a nil err.
func (m *MemoryStore) SetFault(op Op, table string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := string(op) + "/" + table
	if err == nil {
		delete(m.faults, k)
		return
	}
	m.faults[k] = err
}

// Calls reports how many times op was invoked.
func (m *MemoryStore) Calls(op Op) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[op]
}

// Len returns the number of rows in table.
func (m *MemoryStore) Len(table string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tables[table])
}

// enter records the call and returns any injected fault. Caller holds m.mu.
func (m *MemoryStore) enter(op Op, table string) error {
	m.calls[op]++
	if err, ok := m.faults[string(op)+"/"+table]; ok {
		return err
	}
	return nil
}

func (m *MemoryStore) keyOf(table string, r Row) (string, error) {
	col, ok := m.keys[table]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	k := r.String(col)
	if k == "" {
		return "", fmt.Errorf("row for %s missing key %s", table, col)
	}
	return k, nil
}

func (m *MemoryStore) table(name string) map[string]Row {
	t, ok := m.tables[name]
	if !ok {
		t = make(map[string]Row)
		m.tables[name] = t
	}
	return t
}

func (m *MemoryStore) Insert(ctx context.Context, table string, row Row) (Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpInsert, table); err != nil {
		return nil, err
	}
	k, err := m.keyOf(table, row)
	if err != nil {
		return nil, err
	}
	t := m.table(table)
	if _, exists := t[k]; exists {
		return nil, ErrDuplicate
	}
	t[k] = row.Clone()
	return row.Clone(), nil
}

// InsertMany is all-or-nothing: a duplicate anywhere in the batch writes nothing.
func (m *MemoryStore) InsertMany(ctx context.Context, table string, rows []Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpInsertMany, table); err != nil {
		return err
	}
	t := m.table(table)
	keys := make([]string, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for i, r := range rows {
		k, err := m.keyOf(table, r)
		if err != nil {
			return err
		}
		if _, exists := t[k]; exists {
			return ErrDuplicate
		}
		if _, dup := seen[k]; dup {
			return ErrDuplicate
		}
		seen[k] = struct{}{}
		keys[i] = k
	}
	for i, r := range rows {
		t[keys[i]] = r.Clone()
	}
	return nil
}

func (m *MemoryStore) Select(ctx context.Context, table string, q Query) ([]Row, error) {
	m.mu.Lock()
	err := m.enter(OpSelect, table)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Row, 0)
	for _, r := range m.tables[table] {
		if matches(r, q.Filters) {
			out = append(out, r.Clone())
		}
	}
	return applyQuery(out, q), nil
}

func (m *MemoryStore) Update(ctx context.Context, table string, filters map[string]any, changes Row) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpUpdate, table); err != nil {
		return 0, err
	}
	n := 0
	for _, r := range m.tables[table] {
		if !matches(r, filters) {
			continue
		}
		for k, v := range changes {
			r[k] = v
		}
		n++
	}
	return n, nil
}

func (m *MemoryStore) Delete(ctx context.Context, table string, filters map[string]any) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpDelete, table); err != nil {
		return 0, err
	}
	t := m.tables[table]
	n := 0
	for k, r := range t {
		if matches(r, filters) {
			delete(t, k)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enter(OpPing, "")
}
