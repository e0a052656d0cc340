// Package batch implements the batched write consumer: a background loop
// that periodically drains the write-command queue and applies the batch to
// the storage backend under a single write-lock acquisition, rather than
// taking the write lock once per command.
package batch

import (
	"context"
	"log/slog"
	"time"

	"github.com/rowdb/rowdb/command"
	"github.com/rowdb/rowdb/queue"
	"github.com/rowdb/rowdb/rwlock"
)

// Applier applies a single parsed command to the storage backend. The
// service package supplies this, since applying a command also requires
// binding its positional values to the table's current column structure.
type Applier interface {
	Apply(ctx context.Context, cmd command.Command) error
}

// Flusher persists whatever the Applier wrote. The file backend implements
// this to batch disk writes; a relational backend can be a no-op Flusher
// since each Apply already commits.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Consumer periodically drains q and applies each batch of commands to
// applier under lock's write lock, then flushes once per batch.
type Consumer struct {
	queue     queue.Queue
	lock      *rwlock.FairLock
	applier   Applier
	flusher   Flusher
	interval  time.Duration
	batchSize int

	stop chan struct{}
	done chan struct{}
}

// NewConsumer returns a Consumer that wakes every interval, draining up to
// batchSize commands per wake.
func NewConsumer(q queue.Queue, lock *rwlock.FairLock, applier Applier, flusher Flusher, interval time.Duration, batchSize int) *Consumer {
	return &Consumer{
		queue:     q,
		lock:      lock,
		applier:   applier,
		flusher:   flusher,
		interval:  interval,
		batchSize: batchSize,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Run blocks until ctx is done or Stop is called, waking every interval to
// drain and apply a batch of commands.
func (c *Consumer) Run(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			if stop := c.processBatch(ctx); stop {
				return
			}
		}
	}
}

// Stop signals Run to exit after its current batch, and blocks until it
// does.
func (c *Consumer) Stop() {
	close(c.stop)
	<-c.done
}

// processBatch drains up to batchSize commands and applies them under the
// write lock. It returns true if the queue's shutdown sentinel was reached,
// signaling Run to stop.
func (c *Consumer) processBatch(ctx context.Context) bool {
	// Get may block waiting for a command; Stop cancels that wait.
	getCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.stop:
			cancel()
		case <-getCtx.Done():
		}
	}()
	items, err := c.queue.Get(getCtx, c.batchSize)
	if err != nil {
		if getCtx.Err() == nil {
			slog.Error("batch: failed to drain queue", "err", err)
		}
		return false
	}
	if len(items) == 0 {
		return false
	}

	var cmds []command.Command
	stop := false
	for _, item := range items {
		if queue.Is(item) {
			stop = true
			break
		}
		cmd, ok := item.(command.Command)
		if !ok {
			slog.Warn("batch: dropping item of unexpected type", "item", item)
			continue
		}
		cmds = append(cmds, cmd)
	}
	if len(cmds) == 0 {
		return stop
	}

	c.lock.Lock()
	err = c.applyAll(ctx, cmds)
	if err != nil {
		slog.Error("batch: failed to apply command batch", "err", err, "count", len(cmds))
	}

	if c.flusher != nil {
		if err := c.flusher.Flush(ctx); err != nil {
			slog.Error("batch: failed to flush after batch", "err", err)
		}
	}
	c.lock.Unlock()

	return stop
}

func (c *Consumer) applyAll(ctx context.Context, cmds []command.Command) error {
	var firstErr error
	for _, cmd := range cmds {
		if err := c.applier.Apply(ctx, cmd); err != nil {
			slog.Error("batch: command failed, continuing with remaining batch", "err", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
