// Package service composes the concurrency substrate, storage backend, and
// query/command language into the single table service the HTTP layer
// drives: submitted mutation commands are queued and applied in batches
// under the write lock, while queries run concurrently under the read lock.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rowdb/rowdb/batch"
	"github.com/rowdb/rowdb/command"
	"github.com/rowdb/rowdb/condition"
	"github.com/rowdb/rowdb/database"
	"github.com/rowdb/rowdb/queue"
	"github.com/rowdb/rowdb/rwlock"
)

// queryableDatabase is implemented by backends (like cache.CachedDatabase)
// that can answer a conditioned query directly, letting Service skip
// fetching every row when the backend has a faster path. Backends that
// don't implement it are still queried correctly: Service fetches all rows
// and filters them itself.
type queryableDatabase interface {
	Query(ctx context.Context, conditions []condition.Condition) ([]database.Row, error)
}

// Service is the table service: one instance owns one table's storage
// backend, write-command queue, and batch consumer.
type Service struct {
	db       database.Database
	lock     *rwlock.FairLock
	queue    queue.Queue
	consumer *batch.Consumer
}

// New wires a Service around db. The caller is responsible for starting the
// returned Service's batch consumer by calling Run in a goroutine.
func New(db database.Database, q queue.Queue, flusher batch.Flusher, batchIntervalSeconds float64, batchSize int) *Service {
	lock := rwlock.New()
	s := &Service{db: db, lock: lock, queue: q}
	s.consumer = batch.NewConsumer(q, lock, s, flusher, time.Duration(batchIntervalSeconds*float64(time.Second)), batchSize)
	return s
}

// Run starts the batch consumer loop. It blocks until ctx is canceled or
// Stop is called, so callers should run it in its own goroutine.
func (s *Service) Run(ctx context.Context) {
	s.consumer.Run(ctx)
}

// Stop signals the batch consumer to exit after its in-flight batch.
func (s *Service) Stop() {
	s.consumer.Stop()
}

// Init declares the table's column structure, replacing any existing
// schema and data.
func (s *Service) Init(ctx context.Context, columns []string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.db.Init(ctx, columns)
}

// Query parses and evaluates a query string under the read lock, returning
// matching rows rendered the same way the original query language does:
// one row per line, comma-separated values in column order.
func (s *Service) Query(ctx context.Context, queryStr string) (string, error) {
	conditions, err := condition.Parse(queryStr)
	if err != nil {
		return "", &database.ParseError{Input: queryStr, Err: err}
	}

	var rows []database.Row
	var columns []string
	err = s.lock.WithRLock(func() error {
		var err error
		columns, err = s.db.Columns(ctx)
		if err != nil {
			return err
		}
		if qdb, ok := s.db.(queryableDatabase); ok {
			rows, err = qdb.Query(ctx, conditions)
			return err
		}
		all, err := s.db.Rows(ctx)
		if err != nil {
			return err
		}
		rows, err = filterRows(all, conditions)
		return err
	})
	if err != nil {
		var backendErr *database.BackendError
		if errors.As(err, &backendErr) {
			slog.Error("service: backend error during query, returning empty result", "err", backendErr)
			return renderRows(nil, columns), nil
		}
		return "", err
	}
	return renderRows(rows, columns), nil
}

func filterRows(all []database.Row, conditions []condition.Condition) ([]database.Row, error) {
	var matched []database.Row
	for _, row := range all {
		ok, err := condition.MatchAll(row, conditions)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, row)
		}
	}
	return matched, nil
}

// renderRows renders rows one per line, comma-separated in column order,
// matching the original query language's plain-text response format.
func renderRows(rows []database.Row, columns []string) string {
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		values := make([]string, len(columns))
		for i, col := range columns {
			values[i] = row[col]
		}
		lines = append(lines, strings.Join(values, ","))
	}
	return strings.Join(lines, "\n")
}

// Submit enqueues a raw, URL-encoded mutation command for the batch
// consumer to apply. It returns as soon as the command is queued; it does
// not wait for the command to be applied.
func (s *Service) Submit(ctx context.Context, raw string) error {
	cmd, err := command.Parse(raw)
	if err != nil {
		return &database.ParseError{Input: raw, Err: err}
	}
	return s.queue.Put(ctx, cmd)
}

// Apply applies a single parsed command to the backend. It implements
// batch.Applier and is only ever called by the batch consumer, which
// already holds the write lock.
func (s *Service) Apply(ctx context.Context, cmd command.Command) error {
	columns, err := s.db.Columns(ctx)
	if err != nil {
		return err
	}

	switch cmd.Kind {
	case command.Insert:
		return s.db.Insert(ctx, cmd.InsertValues)
	case command.Delete:
		conditions, err := command.BindDeleteConditions(columns, cmd.DeleteValues)
		if err != nil {
			return &database.SchemaError{Reason: err.Error()}
		}
		_, err = s.db.Delete(ctx, conditions)
		return err
	case command.Update:
		if !contains(columns, cmd.UpdateTargetColumn) {
			return &database.SchemaError{Reason: fmt.Sprintf("target column %q does not exist", cmd.UpdateTargetColumn)}
		}
		conditions := command.BindUpdateConditions(columns, cmd.UpdateConditionValues)
		_, err := s.db.Update(ctx, conditions, cmd.UpdateTargetColumn, cmd.UpdateNewValue)
		return err
	default:
		return fmt.Errorf("service: unknown command kind %v", cmd.Kind)
	}
}

func contains(items []string, target string) bool {
	for _, i := range items {
		if i == target {
			return true
		}
	}
	return false
}
