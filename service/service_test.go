package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowdb/rowdb/database/file"
	"github.com/rowdb/rowdb/queue"
)

func newTestService(t *testing.T) (*Service, context.Context) {
	t.Helper()
	dir := t.TempDir()
	db, err := file.Open(filepath.Join(dir, "data.csv"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	q := queue.NewLocalQueue()
	s := New(db, q, db, 0.01, 100)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.Run(ctx)
	t.Cleanup(s.Stop)

	require.NoError(t, s.Init(ctx, []string{"id", "name", "city"}))
	return s, ctx
}

func TestServiceInsertAndQuery(t *testing.T) {
	s, ctx := newTestService(t)

	require.NoError(t, s.Submit(ctx, `INSERT "1","alice","nyc"`))
	require.NoError(t, s.Submit(ctx, `INSERT "2","bob","la"`))

	require.Eventually(t, func() bool {
		result, err := s.Query(ctx, `id == "1"`)
		return err == nil && result == "1,alice,nyc"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServiceUpdateAndDelete(t *testing.T) {
	s, ctx := newTestService(t)

	require.NoError(t, s.Submit(ctx, `INSERT "1","alice","nyc"`))
	require.Eventually(t, func() bool {
		result, err := s.Query(ctx, `id == "1"`)
		return err == nil && result != ""
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Submit(ctx, `UPDATE "1" city "sf"`))
	require.Eventually(t, func() bool {
		result, err := s.Query(ctx, `id == "1"`)
		return err == nil && result == "1,alice,sf"
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Submit(ctx, `DELETE "1"`))
	require.Eventually(t, func() bool {
		result, err := s.Query(ctx, `id == "1"`)
		return err == nil && result == ""
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServiceQueryParseError(t *testing.T) {
	s, ctx := newTestService(t)
	_, err := s.Query(ctx, `not a valid query`)
	assert.Error(t, err)
}

func TestServiceSubmitParseError(t *testing.T) {
	s, ctx := newTestService(t)
	err := s.Submit(ctx, `BOGUS "1"`)
	assert.Error(t, err)
}
