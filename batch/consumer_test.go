package batch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowdb/rowdb/command"
	"github.com/rowdb/rowdb/database"
	"github.com/rowdb/rowdb/queue"
	"github.com/rowdb/rowdb/rwlock"
)

type recordingApplier struct {
	mu      sync.Mutex
	applied []command.Command
}

func (a *recordingApplier) Apply(ctx context.Context, cmd command.Command) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.applied = append(a.applied, cmd)
	return nil
}

func (a *recordingApplier) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.applied)
}

type countingFlusher struct {
	mu    sync.Mutex
	calls int
}

func (f *countingFlusher) Flush(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil
}

func (f *countingFlusher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestConsumerAppliesBatchAndFlushes(t *testing.T) {
	q := queue.NewLocalQueue()
	lock := rwlock.New()
	applier := &recordingApplier{}
	flusher := &countingFlusher{}

	c := NewConsumer(q, lock, applier, flusher, 10*time.Millisecond, 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)
	defer c.Stop()

	require.NoError(t, q.Put(ctx, command.Command{Kind: command.Insert, InsertValues: []string{"1"}}))
	require.NoError(t, q.Put(ctx, command.Command{Kind: command.Insert, InsertValues: []string{"2"}}))

	require.Eventually(t, func() bool {
		return applier.count() == 2
	}, time.Second, 5*time.Millisecond)

	assert.GreaterOrEqual(t, flusher.count(), 1)
}

// arityCheckingApplier mimics service.Service.Apply's column-count
// validation: an INSERT whose value count doesn't match the table's column
// count fails with a SchemaError instead of being applied.
type arityCheckingApplier struct {
	mu      sync.Mutex
	columns int
	applied []command.Command
	errors  int
}

func (a *arityCheckingApplier) Apply(ctx context.Context, cmd command.Command) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if cmd.Kind == command.Insert && len(cmd.InsertValues) != a.columns {
		a.errors++
		return &database.SchemaError{Reason: "insert value count does not match table column count"}
	}
	a.applied = append(a.applied, cmd)
	return nil
}

func (a *arityCheckingApplier) snapshot() (applied int, errors int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.applied), a.errors
}

func TestConsumerContinuesBatchAfterSchemaError(t *testing.T) {
	q := queue.NewLocalQueue()
	lock := rwlock.New()
	applier := &arityCheckingApplier{columns: 2}
	flusher := &countingFlusher{}

	c := NewConsumer(q, lock, applier, flusher, 10*time.Millisecond, 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)
	defer c.Stop()

	require.NoError(t, q.Put(ctx, command.Command{Kind: command.Insert, InsertValues: []string{"1", "alice"}}))
	require.NoError(t, q.Put(ctx, command.Command{Kind: command.Insert, InsertValues: []string{"2", "bob", "extra"}}))
	require.NoError(t, q.Put(ctx, command.Command{Kind: command.Insert, InsertValues: []string{"3", "carol"}}))

	require.Eventually(t, func() bool {
		applied, _ := applier.snapshot()
		return applied == 2
	}, time.Second, 5*time.Millisecond)

	applied, errs := applier.snapshot()
	assert.Equal(t, 2, applied, "the two well-formed inserts must still be applied")
	assert.Equal(t, 1, errs, "the mismatched-arity insert must be rejected as a SchemaError, not applied")
}

func TestConsumerStopsOnSentinel(t *testing.T) {
	q := queue.NewLocalQueue()
	lock := rwlock.New()
	applier := &recordingApplier{}
	flusher := &countingFlusher{}

	c := NewConsumer(q, lock, applier, flusher, 5*time.Millisecond, 10)

	ctx := context.Background()
	runDone := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(runDone)
	}()

	require.NoError(t, q.Put(ctx, command.Command{Kind: command.Insert, InsertValues: []string{"1"}}))
	require.NoError(t, q.Close())

	select {
	case <-runDone:
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop after shutdown sentinel")
	}
	assert.Equal(t, 1, applier.count())
}
