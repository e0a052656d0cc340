package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/rowdb/rowdb/condition"
	"github.com/rowdb/rowdb/database"
)

// defaultTTL bounds how long a cached record or query result lives even if
// nothing ever invalidates it, so a missed invalidation can't pin stale data
// forever.
const defaultTTL = 3600 * time.Second

// nullTTL is how long a cached "no such record" result is kept, short
// enough that a record inserted shortly after a miss becomes visible again
// quickly.
const nullTTL = 60 * time.Second

// CachedDatabase decorates a database.Database with the query-result cache,
// record cache, and related-query invalidation described in the cache
// coherence protocol. It implements database.Database itself, so callers
// above the storage layer never need to know caching is involved.
type CachedDatabase struct {
	backend  database.Database
	cache    Cache
	pkColumn string
}

// NewCachedDatabase wraps backend with cache, using pkColumn as the column
// whose value identifies a record for per-record caching and invalidation.
func NewCachedDatabase(backend database.Database, cache Cache, pkColumn string) *CachedDatabase {
	return &CachedDatabase{backend: backend, cache: cache, pkColumn: pkColumn}
}

func (c *CachedDatabase) Init(ctx context.Context, columns []string) error {
	return c.backend.Init(ctx, columns)
}

func (c *CachedDatabase) Columns(ctx context.Context) ([]string, error) {
	return c.backend.Columns(ctx)
}

// Rows answers a full-table query through the cache coherence protocol: a
// cache hit on the query key returns immediately; a miss takes a per-query
// lock, double-checks the cache (another goroutine may have just populated
// it), and otherwise loads from the backend, populating both the per-record
// cache and the query cache before releasing the lock.
func (c *CachedDatabase) Rows(ctx context.Context) ([]database.Row, error) {
	return c.queryWithCache(ctx, nil)
}

// Query answers a conditioned query through the same protocol as Rows,
// keyed on the canonical text of conditions so that equivalent queries
// share a cache entry.
func (c *CachedDatabase) Query(ctx context.Context, conditions []condition.Condition) ([]database.Row, error) {
	return c.queryWithCache(ctx, conditions)
}

func (c *CachedDatabase) queryWithCache(ctx context.Context, conditions []condition.Condition) ([]database.Row, error) {
	if pk, ok := singleEqualityOn(conditions, c.pkColumn); ok {
		if row, found, err := c.tryRecordCache(ctx, pk); err != nil {
			slog.Warn("cache: falling back to backend after record cache failure", "pk", pk, "err", err)
			return c.loadAndFilter(ctx, conditions)
		} else if found {
			if row == nil {
				return nil, nil
			}
			return []database.Row{row}, nil
		}
	}

	queryKey := QueryKey(condition.Format(conditions))

	if rows, ok, err := c.tryQueryCache(ctx, queryKey); err != nil {
		slog.Warn("cache: falling back to backend after query cache failure", "key", queryKey, "err", err)
		return c.loadAndFilter(ctx, conditions)
	} else if ok {
		return rows, nil
	}

	unlock, err := c.cache.Lock(ctx, queryKey)
	if err != nil {
		slog.Warn("cache: falling back to backend after lock failure", "key", queryKey, "err", err)
		return c.loadAndFilter(ctx, conditions)
	}
	defer func() {
		if uerr := unlock(); uerr != nil {
			slog.Warn("cache: failed to release query lock", "key", queryKey, "err", uerr)
		}
	}()

	if rows, ok, err := c.tryQueryCache(ctx, queryKey); err != nil {
		slog.Warn("cache: falling back to backend after query cache failure", "key", queryKey, "err", err)
		return c.loadAndFilter(ctx, conditions)
	} else if ok {
		return rows, nil
	}

	rows, err := c.loadAndFilter(ctx, conditions)
	if err != nil {
		return nil, err
	}

	c.populateCache(ctx, queryKey, rows)
	return rows, nil
}

func (c *CachedDatabase) tryQueryCache(ctx context.Context, queryKey string) ([]database.Row, bool, error) {
	cached, ok, err := c.cache.Get(ctx, queryKey)
	if err != nil {
		return nil, false, &database.TransientCacheError{Op: "query cache get", Err: err}
	}
	if !ok {
		return nil, false, nil
	}
	if cached == "" {
		return nil, true, nil
	}
	var rows []database.Row
	if err := json.Unmarshal([]byte(cached), &rows); err != nil {
		return nil, false, fmt.Errorf("cache: decode cached query result: %w", err)
	}
	return rows, true, nil
}

func (c *CachedDatabase) loadAndFilter(ctx context.Context, conditions []condition.Condition) ([]database.Row, error) {
	all, err := c.backend.Rows(ctx)
	if err != nil {
		return nil, err
	}
	if len(conditions) == 0 {
		return all, nil
	}
	var matched []database.Row
	for _, row := range all {
		ok, err := condition.MatchAll(row, conditions)
		if err != nil {
			return nil, &database.ParseError{Input: condition.Format(conditions), Err: err}
		}
		if ok {
			matched = append(matched, row)
		}
	}
	return matched, nil
}

// populateCache caches the query result and, for each matching row,
// registers the query as dependent on that row's record so a later mutation
// to the record invalidates this query result too.
func (c *CachedDatabase) populateCache(ctx context.Context, queryKey string, rows []database.Row) {
	encoded, err := json.Marshal(rows)
	if err != nil {
		slog.Warn("cache: failed to encode query result, skipping cache population", "key", queryKey, "err", err)
		return
	}
	if err := c.cache.Set(ctx, queryKey, string(encoded), defaultTTL); err != nil {
		slog.Warn("cache: failed to set query result", "key", queryKey, "err", err)
		return
	}
	for _, row := range rows {
		pk, ok := row[c.pkColumn]
		if !ok {
			continue
		}
		recordKey := RecordKey(pk)
		if rowJSON, err := json.Marshal(row); err == nil {
			if err := c.cache.Set(ctx, recordKey, string(rowJSON), defaultTTL); err != nil {
				slog.Warn("cache: failed to cache record", "record", recordKey, "err", err)
			}
		}
		if err := c.cache.AddRelatedQueryKey(ctx, recordKey, queryKey); err != nil {
			slog.Warn("cache: failed to record query dependency", "record", recordKey, "query", queryKey, "err", err)
		}
	}
}

// singleEqualityOn reports whether conditions is exactly one condition of
// the form `<pkColumn> == "<value>"`, the shape the per-record fast path
// can serve directly from the record cache instead of the query cache.
func singleEqualityOn(conditions []condition.Condition, pkColumn string) (string, bool) {
	if len(conditions) != 1 {
		return "", false
	}
	c := conditions[0]
	if c.Column != pkColumn || c.Operator != condition.Eq {
		return "", false
	}
	return c.Value, true
}

// tryRecordCache looks up a single record by primary key through the record
// cache, taking a per-key lock and loading from the backend on a miss. It
// returns found=false only when the cache can't answer the question at all
// (a transient error); a cached "no such record" is found=true, row=nil.
func (c *CachedDatabase) tryRecordCache(ctx context.Context, pk string) (database.Row, bool, error) {
	recordKey := RecordKey(pk)

	if row, ok, err := c.getCachedRecord(ctx, recordKey); err != nil {
		return nil, false, err
	} else if ok {
		return row, true, nil
	}

	unlock, err := c.cache.Lock(ctx, recordKey)
	if err != nil {
		slog.Warn("cache: falling back to backend after record lock failure", "key", recordKey, "err", err)
		return c.loadSingleRecord(ctx, pk, recordKey)
	}
	defer func() {
		if uerr := unlock(); uerr != nil {
			slog.Warn("cache: failed to release record lock", "key", recordKey, "err", uerr)
		}
	}()

	if row, ok, err := c.getCachedRecord(ctx, recordKey); err != nil {
		return nil, false, err
	} else if ok {
		return row, true, nil
	}

	return c.loadSingleRecord(ctx, pk, recordKey)
}

func (c *CachedDatabase) getCachedRecord(ctx context.Context, recordKey string) (database.Row, bool, error) {
	cached, ok, err := c.cache.Get(ctx, recordKey)
	if err != nil {
		return nil, false, &database.TransientCacheError{Op: "record cache get", Err: err}
	}
	if !ok {
		return nil, false, nil
	}
	if cached == "" {
		return nil, true, nil
	}
	var row database.Row
	if err := json.Unmarshal([]byte(cached), &row); err != nil {
		return nil, false, fmt.Errorf("cache: decode cached record: %w", err)
	}
	return row, true, nil
}

func (c *CachedDatabase) loadSingleRecord(ctx context.Context, pk, recordKey string) (database.Row, bool, error) {
	all, err := c.backend.Rows(ctx)
	if err != nil {
		return nil, false, err
	}
	for _, row := range all {
		if row[c.pkColumn] != pk {
			continue
		}
		if rowJSON, err := json.Marshal(row); err == nil {
			if err := c.cache.Set(ctx, recordKey, string(rowJSON), defaultTTL); err != nil {
				slog.Warn("cache: failed to cache record", "record", recordKey, "err", err)
			}
		}
		return row, true, nil
	}
	if err := c.cache.SetNull(ctx, recordKey, nullTTL); err != nil {
		slog.Warn("cache: failed to cache null record", "record", recordKey, "err", err)
	}
	return nil, true, nil
}

func (c *CachedDatabase) Insert(ctx context.Context, values []string) error {
	if err := c.backend.Insert(ctx, values); err != nil {
		return err
	}
	c.cacheInsertedRecord(ctx, values)
	return nil
}

// cacheInsertedRecord invalidates any related query keys for a
// just-inserted row's primary key, then seeds the record cache (and, via
// Set, the bloom filter) for the row. A fresh pk has no related query keys yet, so the
// invalidation is a no-op in practice, but it keeps the mutation-path
// protocol identical across insert/update/delete rather than special-cased.
func (c *CachedDatabase) cacheInsertedRecord(ctx context.Context, values []string) {
	columns, err := c.backend.Columns(ctx)
	if err != nil {
		slog.Warn("cache: failed to load columns to cache inserted record", "err", err)
		return
	}
	row := make(database.Row, len(columns))
	for i, col := range columns {
		if i < len(values) {
			row[col] = values[i]
		}
	}
	pk, ok := row[c.pkColumn]
	if !ok || pk == "" {
		return
	}
	recordKey := RecordKey(pk)
	rowJSON, err := json.Marshal(row)
	if err != nil {
		slog.Warn("cache: failed to encode inserted record", "record", recordKey, "err", err)
		return
	}
	// invalidate also evicts the record entry, so it runs before the new
	// record is cached rather than after.
	c.invalidate(ctx, pk)
	if err := c.cache.Set(ctx, recordKey, string(rowJSON), defaultTTL); err != nil {
		slog.Warn("cache: failed to cache inserted record", "record", recordKey, "err", err)
	}
}

func (c *CachedDatabase) Delete(ctx context.Context, conditions map[string]string) (int, error) {
	n, err := c.backend.Delete(ctx, conditions)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		c.invalidate(ctx, conditions[c.pkColumn])
	}
	return n, nil
}

func (c *CachedDatabase) Update(ctx context.Context, conditions map[string]string, targetColumn, newValue string) (int, error) {
	n, err := c.backend.Update(ctx, conditions, targetColumn, newValue)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		pk := conditions[c.pkColumn]
		c.invalidate(ctx, pk)
		if pk != "" {
			// Re-read the updated row and re-populate its record cache entry.
			if _, _, err := c.loadSingleRecord(ctx, pk, RecordKey(pk)); err != nil {
				slog.Warn("cache: failed to re-cache updated record", "pk", pk, "err", err)
			}
		}
	}
	return n, nil
}

// invalidate evicts a record's cache entry and every query result that was
// built using it, walking the related-query reverse index the query path
// populated.
func (c *CachedDatabase) invalidate(ctx context.Context, pk string) {
	if pk == "" {
		return
	}
	recordKey := RecordKey(pk)
	if err := c.cache.Delete(ctx, recordKey); err != nil {
		slog.Warn("cache: failed to invalidate record", "record", recordKey, "err", err)
	}

	queryKeys, err := c.cache.RelatedQueryKeys(ctx, recordKey)
	if err != nil {
		slog.Warn("cache: failed to list related queries", "record", recordKey, "err", err)
		return
	}
	for _, qk := range queryKeys {
		if err := c.cache.Delete(ctx, qk); err != nil {
			slog.Warn("cache: failed to invalidate related query", "query", qk, "err", err)
			continue
		}
		if err := c.cache.RemoveRelatedQueryKey(ctx, recordKey, qk); err != nil {
			slog.Warn("cache: failed to forget related query", "record", recordKey, "query", qk, "err", err)
		}
	}
}

func (c *CachedDatabase) Close() error {
	return c.backend.Close()
}
