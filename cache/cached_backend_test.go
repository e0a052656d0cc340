package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowdb/rowdb/condition"
	"github.com/rowdb/rowdb/database"
)

// memCache is a minimal in-process Cache used to test CachedDatabase's
// protocol logic without a real Redis instance.
type memCache struct {
	mu      sync.Mutex
	values  map[string]string
	present map[string]bool
	related map[string]map[string]bool
	locks   map[string]*sync.Mutex
}

func newMemCache() *memCache {
	return &memCache{
		values:  map[string]string{},
		present: map[string]bool{},
		related: map[string]map[string]bool{},
		locks:   map[string]*sync.Mutex{},
	}
}

func (m *memCache) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key], m.present[key], nil
}

func (m *memCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	m.present[key] = true
	return nil
}

func (m *memCache) SetNull(ctx context.Context, key string, ttl time.Duration) error {
	return m.Set(ctx, key, "", ttl)
}

func (m *memCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	delete(m.present, key)
	return nil
}

func (m *memCache) Lock(ctx context.Context, key string) (func() error, error) {
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	m.mu.Unlock()
	l.Lock()
	return func() error {
		l.Unlock()
		return nil
	}, nil
}

func (m *memCache) AddRelatedQueryKey(ctx context.Context, recordKey, queryKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.related[recordKey] == nil {
		m.related[recordKey] = map[string]bool{}
	}
	m.related[recordKey][queryKey] = true
	return nil
}

func (m *memCache) RelatedQueryKeys(ctx context.Context, recordKey string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.related[recordKey] {
		out = append(out, k)
	}
	return out, nil
}

func (m *memCache) RemoveRelatedQueryKey(ctx context.Context, recordKey, queryKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.related[recordKey], queryKey)
	return nil
}

// countingBackend wraps an in-memory Database and counts calls to Rows, so
// tests can assert the cache actually avoided redundant backend hits.
type countingBackend struct {
	database.Database
	rowsCalls int
}

func (b *countingBackend) Rows(ctx context.Context) ([]database.Row, error) {
	b.rowsCalls++
	return b.Database.Rows(ctx)
}

func TestCachedQueryHitsBackendOnceThenCaches(t *testing.T) {
	ctx := context.Background()
	backend := &countingBackend{Database: newInMemoryDB(t)}
	cdb := NewCachedDatabase(backend, newMemCache(), "id")

	conds, err := condition.Parse(`name == "bob"`)
	require.NoError(t, err)

	rows1, err := cdb.Query(ctx, conds)
	require.NoError(t, err)
	require.Len(t, rows1, 1)

	rows2, err := cdb.Query(ctx, conds)
	require.NoError(t, err)
	require.Len(t, rows2, 1)

	assert.Equal(t, 1, backend.rowsCalls, "second identical query should be served from cache")
}

func TestCachedRecordFastPath(t *testing.T) {
	ctx := context.Background()
	backend := &countingBackend{Database: newInMemoryDB(t)}
	cdb := NewCachedDatabase(backend, newMemCache(), "id")

	conds, err := condition.Parse(`id == "1"`)
	require.NoError(t, err)

	rows, err := cdb.Query(ctx, conds)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "alice", rows[0]["name"])

	rows2, err := cdb.Query(ctx, conds)
	require.NoError(t, err)
	require.Len(t, rows2, 1)
	assert.Equal(t, 1, backend.rowsCalls, "second record lookup should be served from the record cache")
}

func TestMutationInvalidatesRelatedQuery(t *testing.T) {
	ctx := context.Background()
	backend := &countingBackend{Database: newInMemoryDB(t)}
	cache := newMemCache()
	cdb := NewCachedDatabase(backend, cache, "id")

	conds, err := condition.Parse(`id == "1"`)
	require.NoError(t, err)

	rows, err := cdb.Query(ctx, conds)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "alice", rows[0]["name"])

	n, err := cdb.Update(ctx, map[string]string{"id": "1"}, "name", "alicia")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows2, err := cdb.Query(ctx, conds)
	require.NoError(t, err)
	require.Len(t, rows2, 1)
	assert.Equal(t, "alicia", rows2[0]["name"], "query result must reflect the update, not stale cache")
}

func TestInsertPopulatesRecordCache(t *testing.T) {
	ctx := context.Background()
	backend := &countingBackend{Database: newInMemoryDB(t)}
	cache := newMemCache()
	cdb := NewCachedDatabase(backend, cache, "id")

	require.NoError(t, cdb.Insert(ctx, []string{"3", "carol"}))

	value, present, err := cache.Get(ctx, RecordKey("3"))
	require.NoError(t, err)
	require.True(t, present, "insert must populate the record cache for the new pk")
	assert.Contains(t, value, "carol")
}

// --- test fixtures ---

type inMemoryDB struct {
	columns []string
	rows    []database.Row
}

func newInMemoryDB(t *testing.T) *inMemoryDB {
	t.Helper()
	return &inMemoryDB{
		columns: []string{"id", "name"},
		rows: []database.Row{
			{"id": "1", "name": "alice"},
			{"id": "2", "name": "bob"},
		},
	}
}

func (d *inMemoryDB) Init(ctx context.Context, columns []string) error { d.columns = columns; return nil }
func (d *inMemoryDB) Columns(ctx context.Context) ([]string, error)    { return d.columns, nil }
func (d *inMemoryDB) Rows(ctx context.Context) ([]database.Row, error) { return d.rows, nil }
func (d *inMemoryDB) Insert(ctx context.Context, values []string) error {
	row := make(database.Row, len(d.columns))
	for i, c := range d.columns {
		row[c] = values[i]
	}
	d.rows = append(d.rows, row)
	return nil
}
func (d *inMemoryDB) Delete(ctx context.Context, conditions map[string]string) (int, error) {
	var kept []database.Row
	n := 0
	for _, row := range d.rows {
		match := true
		for k, v := range conditions {
			if row[k] != v {
				match = false
				break
			}
		}
		if match {
			n++
			continue
		}
		kept = append(kept, row)
	}
	d.rows = kept
	return n, nil
}
func (d *inMemoryDB) Update(ctx context.Context, conditions map[string]string, targetColumn, newValue string) (int, error) {
	n := 0
	for _, row := range d.rows {
		match := true
		for k, v := range conditions {
			if row[k] != v {
				match = false
				break
			}
		}
		if match {
			row[targetColumn] = newValue
			n++
		}
	}
	return n, nil
}
func (d *inMemoryDB) Close() error { return nil }
