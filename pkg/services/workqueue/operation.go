package workqueue

import (
	"context"
	"sync"
)

// Operation is an awaitable handle on a function submitted to a Queue.
type Operation[T any] struct {
	BaseTask
	fn func(ctx context.Context) (T, error)

	mu     sync.Mutex
	cancel context.CancelFunc
	// cancelled is set when Cancel runs before the function starts.
	cancelled bool
	state     *TaskState

	done   chan struct{}
	result T
	err    error
}

// Submit enqueues fn and returns immediately. storeKey is the schema store fn
// mutates, or empty when fn has no store side effects; operations sharing a
// key run one at a time in submission order.
func Submit[T any](q *Queue, name, storeKey string, fn func(ctx context.Context) (T, error)) *Operation[T] {
	op := &Operation[T]{
		BaseTask: NewBaseTask(name, storeKey),
		fn:       fn,
		done:     make(chan struct{}),
	}
	state := q.enqueue(op)
	op.mu.Lock()
	op.state = state
	op.mu.Unlock()
	return op
}

// Execute implements Task.
func (o *Operation[T]) Execute(ctx context.Context, _ TaskEnqueuer) error {
	o.mu.Lock()
	if o.cancelled {
		o.mu.Unlock()
		return context.Canceled
	}
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.mu.Unlock()
	defer cancel()

	result, err := o.fn(ctx)
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.result = result
	o.mu.Unlock()
	return nil
}

func (o *Operation[T]) finish(_ TaskStatus, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	select {
	case <-o.done:
		return
	default:
	}
	o.err = err
	close(o.done)
}

// Done is closed once the operation reaches a terminal status.
func (o *Operation[T]) Done() <-chan struct{} {
	return o.done
}

// Await blocks until the operation finishes or ctx ends. Ending ctx does not
// cancel the operation; use Cancel for that.
func (o *Operation[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-o.done:
		o.mu.Lock()
		defer o.mu.Unlock()
		return o.result, o.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Cancel stops the operation: a pending operation never runs and a running
// one sees its context cancelled.
func (o *Operation[T]) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancelled = true
	if o.cancel != nil {
		o.cancel()
	}
}

// Status reports the operation's current task status.
func (o *Operation[T]) Status() TaskStatus {
	o.mu.Lock()
	state := o.state
	o.mu.Unlock()
	if state == nil {
		return TaskStatusPending
	}
	return state.GetStatus()
}
