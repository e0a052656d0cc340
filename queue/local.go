package queue

import "context"

// LocalQueue is an in-process, unbounded task queue backed by a buffered
// channel. Put never blocks; Get blocks until at least one item is ready.
type LocalQueue struct {
	ch     chan any
	closed chan struct{}
}

// NewLocalQueue returns a ready-to-use LocalQueue.
func NewLocalQueue() *LocalQueue {
	return &LocalQueue{
		ch:     make(chan any, 4096),
		closed: make(chan struct{}),
	}
}

// Put enqueues v. It never blocks: the backing channel is sized generously
// and Put falls back to a goroutine-spawning send if the channel is full,
// matching the "never block a writer" contract of the original queue.
func (q *LocalQueue) Put(ctx context.Context, v any) error {
	select {
	case q.ch <- v:
		return nil
	default:
	}
	go func() { q.ch <- v }()
	return nil
}

// Get blocks until at least one value is available, then drains up to n
// values without blocking further. If the queue has been closed and
// drained, it returns a single Done sentinel.
func (q *LocalQueue) Get(ctx context.Context, n int) ([]any, error) {
	if n <= 0 {
		n = 1
	}
	select {
	case v := <-q.ch:
		out := []any{v}
		for len(out) < n {
			select {
			case v := <-q.ch:
				out = append(out, v)
			default:
				return out, nil
			}
		}
		return out, nil
	case <-q.closed:
		select {
		case v := <-q.ch:
			return []any{v}, nil
		default:
			return []any{Done}, nil
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close signals Get to stop waiting for new values once the channel has
// drained.
func (q *LocalQueue) Close() error {
	close(q.closed)
	return nil
}
