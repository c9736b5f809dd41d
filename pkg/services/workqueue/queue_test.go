package workqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

// testTask is a simple task for testing.
type testTask struct {
	BaseTask
	executeFunc func(ctx context.Context, enqueuer TaskEnqueuer) error
}

func newTestTask(name, storeKey string, fn func(ctx context.Context, enqueuer TaskEnqueuer) error) *testTask {
	return &testTask{
		BaseTask:    NewBaseTask(name, storeKey),
		executeFunc: fn,
	}
}

func (t *testTask) Execute(ctx context.Context, enqueuer TaskEnqueuer) error {
	if t.executeFunc != nil {
		return t.executeFunc(ctx, enqueuer)
	}
	return nil
}

// concurrencyMeter records the peak number of overlapping executions.
type concurrencyMeter struct {
	running int32
	peak    int32
}

func (p *concurrencyMeter) run(d time.Duration) {
	current := atomic.AddInt32(&p.running, 1)
	for {
		peak := atomic.LoadInt32(&p.peak)
		if current <= peak || atomic.CompareAndSwapInt32(&p.peak, peak, current) {
			break
		}
	}
	time.Sleep(d)
	atomic.AddInt32(&p.running, -1)
}

func waitQueue(t *testing.T, q *Queue) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return q.Wait(ctx)
}

func TestQueue_EnqueueAndComplete(t *testing.T) {
	q := New(zap.NewNop())

	executed := false
	q.Enqueue(newTestTask("test-task", "", func(ctx context.Context, enqueuer TaskEnqueuer) error {
		executed = true
		return nil
	}))

	if err := waitQueue(t, q); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !executed {
		t.Error("task was not executed")
	}
	if tasks := q.GetTasks(); len(tasks) != 1 || tasks[0].Status != TaskStatusCompleted {
		t.Errorf("expected 1 completed task, got %+v", tasks)
	}
}

func TestQueue_TaskFailure(t *testing.T) {
	q := New(zap.NewNop())

	expectedErr := errors.New("task failed")
	q.Enqueue(newTestTask("failing-task", "", func(ctx context.Context, enqueuer TaskEnqueuer) error {
		return expectedErr
	}))

	err := waitQueue(t, q)
	if !errors.Is(err, expectedErr) {
		t.Errorf("expected %v, got %v", expectedErr, err)
	}
	if tasks := q.GetTasks(); tasks[0].Status != TaskStatusFailed || tasks[0].Error == "" {
		t.Errorf("expected failed task with error, got %+v", tasks[0])
	}
}

func TestQueue_RetriesTransientErrors(t *testing.T) {
	q := New(zap.NewNop(), WithRetryConfig(RetryConfig{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2,
	}))

	var attempts int32
	q.Enqueue(newTestTask("flaky", "", func(ctx context.Context, enqueuer TaskEnqueuer) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return errors.New("dial tcp: connection refused")
		}
		return nil
	}))

	if err := waitQueue(t, q); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
	if tasks := q.GetTasks(); tasks[0].RetryCount != 2 {
		t.Errorf("expected retry count 2, got %d", tasks[0].RetryCount)
	}
}

func TestQueue_DoesNotRetryPermanentErrors(t *testing.T) {
	q := New(zap.NewNop(), WithRetryConfig(RetryConfig{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffFactor: 2}))

	var attempts int32
	q.Enqueue(newTestTask("invalid", "", func(ctx context.Context, enqueuer TaskEnqueuer) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("invalid plan")
	}))

	if err := waitQueue(t, q); err == nil {
		t.Fatal("expected error")
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("expected 1 attempt, got %d", got)
	}
}

func TestQueue_SameStoreSerialized(t *testing.T) {
	q := New(zap.NewNop())
	meter := &concurrencyMeter{}

	for i := 0; i < 3; i++ {
		q.Enqueue(newTestTask("apply", "store-a", func(ctx context.Context, enqueuer TaskEnqueuer) error {
			meter.run(30 * time.Millisecond)
			return nil
		}))
	}

	if err := waitQueue(t, q); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meter.peak != 1 {
		t.Errorf("expected tasks on one store to run one at a time, peak was %d", meter.peak)
	}
}

func TestQueue_SameStoreRunsInSubmissionOrder(t *testing.T) {
	q := New(zap.NewNop())

	var mu sync.Mutex
	var order []string
	record := func(name string) func(ctx context.Context, enqueuer TaskEnqueuer) error {
		return func(ctx context.Context, enqueuer TaskEnqueuer) error {
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}
	for _, name := range []string{"first", "second", "third"} {
		q.Enqueue(newTestTask(name, "store-a", record(name)))
	}

	if err := waitQueue(t, q); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != "first" || order[1] != "second" || order[2] != "third" {
		t.Errorf("unexpected order %v", order)
	}
}

func TestQueue_DifferentStoresRunInParallel(t *testing.T) {
	q := New(zap.NewNop())
	meter := &concurrencyMeter{}

	for _, key := range []string{"store-a", "store-b", ""} {
		q.Enqueue(newTestTask("work", key, func(ctx context.Context, enqueuer TaskEnqueuer) error {
			meter.run(50 * time.Millisecond)
			return nil
		}))
	}

	if err := waitQueue(t, q); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meter.peak != 3 {
		t.Errorf("expected 3 concurrent tasks, peak was %d", meter.peak)
	}
}

func TestQueue_PureTasksThrottled(t *testing.T) {
	q := New(zap.NewNop(), WithStrategy(NewPerStoreStrategy(2)))
	meter := &concurrencyMeter{}

	for i := 0; i < 5; i++ {
		q.Enqueue(newTestTask("compare", "", func(ctx context.Context, enqueuer TaskEnqueuer) error {
			meter.run(20 * time.Millisecond)
			return nil
		}))
	}

	if err := waitQueue(t, q); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meter.peak > 2 {
		t.Errorf("expected at most 2 concurrent pure tasks, peak was %d", meter.peak)
	}
}

func TestSerializedStrategy_OneAtATime(t *testing.T) {
	q := New(zap.NewNop(), WithStrategy(NewSerializedStrategy()))
	meter := &concurrencyMeter{}

	for _, key := range []string{"store-a", "store-b", ""} {
		q.Enqueue(newTestTask("work", key, func(ctx context.Context, enqueuer TaskEnqueuer) error {
			meter.run(10 * time.Millisecond)
			return nil
		}))
	}

	if err := waitQueue(t, q); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meter.peak != 1 {
		t.Errorf("expected serialized execution, peak was %d", meter.peak)
	}
}

func TestQueue_TaskEnqueuesMoreTasks(t *testing.T) {
	q := New(zap.NewNop())

	var executed int32
	q.Enqueue(newTestTask("parent", "", func(ctx context.Context, enqueuer TaskEnqueuer) error {
		atomic.AddInt32(&executed, 1)
		enqueuer.Enqueue(newTestTask("child", "", func(ctx context.Context, enqueuer TaskEnqueuer) error {
			atomic.AddInt32(&executed, 1)
			return nil
		}))
		return nil
	}))

	if err := waitQueue(t, q); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt32(&executed); got != 2 {
		t.Errorf("expected 2 executions, got %d", got)
	}
}

func TestQueue_CancelRunningAndPending(t *testing.T) {
	q := New(zap.NewNop())

	started := make(chan struct{})
	q.Enqueue(newTestTask("running", "store-a", func(ctx context.Context, enqueuer TaskEnqueuer) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	<-started
	q.Enqueue(newTestTask("pending", "store-a", nil))

	q.Cancel()
	_ = waitQueue(t, q)

	for _, ts := range q.GetTasks() {
		if ts.Status != TaskStatusCancelled {
			t.Errorf("expected %s to be cancelled, got %s", ts.Name, ts.Status)
		}
	}

	q.Enqueue(newTestTask("late", "", nil))
	if q.TaskCount() != 2 {
		t.Errorf("expected enqueue after cancel to be ignored, got %d tasks", q.TaskCount())
	}
}

func TestQueue_WaitContextCancellation(t *testing.T) {
	q := New(zap.NewNop())

	q.Enqueue(newTestTask("slow-task", "", func(ctx context.Context, enqueuer TaskEnqueuer) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := q.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestQueue_Shutdown(t *testing.T) {
	q := New(zap.NewNop())

	started := make(chan struct{})
	q.Enqueue(newTestTask("running", "", func(ctx context.Context, enqueuer TaskEnqueuer) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := q.Shutdown(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !q.IsComplete() {
		t.Error("expected queue to be complete after shutdown")
	}
}

func TestQueue_HistoryLimit(t *testing.T) {
	q := New(zap.NewNop(), WithHistoryLimit(1))

	for _, name := range []string{"first", "second", "third"} {
		q.Enqueue(newTestTask(name, "store-a", nil))
		if err := waitQueue(t, q); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	tasks := q.GetTasks()
	if len(tasks) != 1 {
		t.Fatalf("expected 1 retained task, got %d", len(tasks))
	}
	if tasks[0].Name != "third" {
		t.Errorf("expected newest task to be retained, got %s", tasks[0].Name)
	}
}

func TestQueue_HistoryLimitKeepsRunning(t *testing.T) {
	q := New(zap.NewNop(), WithHistoryLimit(0))

	blocker := make(chan struct{})
	started := make(chan struct{})
	q.Enqueue(newTestTask("blocked", "", func(ctx context.Context, enqueuer TaskEnqueuer) error {
		close(started)
		<-blocker
		return nil
	}))
	<-started
	q.Enqueue(newTestTask("done", "store-b", nil))

	deadline := time.Now().Add(2 * time.Second)
	for q.TaskCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if tasks := q.GetTasks(); len(tasks) != 1 || tasks[0].Name != "blocked" {
		t.Errorf("expected only the running task to remain, got %+v", tasks)
	}

	close(blocker)
	if err := waitQueue(t, q); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestQueue_EmptyQueue(t *testing.T) {
	q := New(zap.NewNop())

	if !q.IsComplete() {
		t.Error("empty queue should be complete")
	}
	if err := waitQueue(t, q); err != nil {
		t.Errorf("expected nil error for empty queue, got %v", err)
	}
}

func TestTaskState_SetStatus(t *testing.T) {
	ts := NewTaskState(newTestTask("test-task", "", nil))

	ts.SetStatus(TaskStatusRunning)
	if ts.StartedAt == nil {
		t.Error("expected StartedAt to be set")
	}
	ts.SetStatus(TaskStatusCompleted)
	if ts.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}
	if !ts.GetStatus().Terminal() {
		t.Error("expected completed to be terminal")
	}
}
