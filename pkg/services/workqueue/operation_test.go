package workqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestSubmit_AwaitResult(t *testing.T) {
	q := New(zap.NewNop())

	op := Submit(q, "compare", "", func(ctx context.Context) (int, error) {
		return 42, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := op.Await(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
	if op.Status() != TaskStatusCompleted {
		t.Errorf("expected completed, got %s", op.Status())
	}
	if op.StoreKey() != "" {
		t.Errorf("expected no store key, got %q", op.StoreKey())
	}
}

func TestSubmit_AwaitError(t *testing.T) {
	q := New(zap.NewNop())
	want := errors.New("schema invalid")

	op := Submit(q, "validate", "", func(ctx context.Context) (string, error) {
		return "", want
	})

	_, err := op.Await(context.Background())
	if !errors.Is(err, want) {
		t.Errorf("expected %v, got %v", want, err)
	}
	if op.Status() != TaskStatusFailed {
		t.Errorf("expected failed, got %s", op.Status())
	}
}

func TestSubmit_AwaitRespectsCallerContext(t *testing.T) {
	q := New(zap.NewNop())
	release := make(chan struct{})
	defer close(release)

	op := Submit(q, "apply", "store-a", func(ctx context.Context) (int, error) {
		<-release
		return 1, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := op.Await(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if op.Status() != TaskStatusRunning {
		t.Errorf("awaiting must not cancel the operation, got %s", op.Status())
	}
}

func TestOperation_CancelRunning(t *testing.T) {
	q := New(zap.NewNop())
	started := make(chan struct{})

	op := Submit(q, "apply", "store-a", func(ctx context.Context) (int, error) {
		close(started)
		<-ctx.Done()
		return 0, ctx.Err()
	})
	<-started
	op.Cancel()

	_, err := op.Await(context.Background())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if op.Status() != TaskStatusCancelled {
		t.Errorf("expected cancelled, got %s", op.Status())
	}
}

func TestOperation_CancelPendingNeverRuns(t *testing.T) {
	q := New(zap.NewNop())
	release := make(chan struct{})

	first := Submit(q, "apply", "store-a", func(ctx context.Context) (int, error) {
		<-release
		return 1, nil
	})
	ran := false
	second := Submit(q, "apply", "store-a", func(ctx context.Context) (int, error) {
		ran = true
		return 2, nil
	})

	second.Cancel()
	close(release)

	if _, err := first.Await(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := second.Await(context.Background()); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if ran {
		t.Error("cancelled operation must not run")
	}
}

func TestSubmit_OnCancelledQueue(t *testing.T) {
	q := New(zap.NewNop())
	q.Cancel()

	op := Submit(q, "build", "", func(ctx context.Context) (int, error) {
		return 1, nil
	})

	select {
	case <-op.Done():
	case <-time.After(time.Second):
		t.Fatal("operation on a cancelled queue should finish immediately")
	}
	if _, err := op.Await(context.Background()); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
