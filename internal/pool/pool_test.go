package pool

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewRejectsInvalidConfig(t *testing.T) {
	if _, err := New[int](Config{NumWorkers: 0}); !errors.Is(err, ErrInvalidWorkerCount) {
		t.Errorf("expected ErrInvalidWorkerCount, got %v", err)
	}
	if _, err := New[int](Config{NumWorkers: 1, TaskChannelSize: -1}); !errors.Is(err, ErrInvalidChannelSize) {
		t.Errorf("expected ErrInvalidChannelSize, got %v", err)
	}
}

func TestRunTaskToCompletion(t *testing.T) {
	p, err := New[int](DefaultConfig(2))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx, "test")

	task := NewTask[int]("t1", func(ctx context.Context) (int, error) { return 42, nil })
	if err := p.AddTask(ctx, task); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	select {
	case res := <-p.Results():
		if !res.IsSuccess() || res.Result != 42 {
			t.Errorf("unexpected result: %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
	}
	p.Stop()
}

func TestNegativeTimeoutRunsWithoutDeadline(t *testing.T) {
	p, err := New[struct{}](Config{NumWorkers: 1, TaskChannelSize: 1, TaskTimeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx, "test")

	started := make(chan struct{})
	task := NewTask[struct{}]("long", func(taskCtx context.Context) (struct{}, error) {
		close(started)
		<-taskCtx.Done()
		return struct{}{}, taskCtx.Err()
	}, WithTimeout[struct{}](-1))
	if err := p.AddTask(ctx, task); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	<-started
	select {
	case <-time.After(200 * time.Millisecond):
	case res := <-p.Results():
		t.Fatalf("task with negative timeout finished early via the pool's default deadline: %+v", res)
	}
	cancel()
	<-p.Results()
	p.Stop()
}

func TestZeroTimeoutAppliesPoolDefault(t *testing.T) {
	p, err := New[struct{}](Config{NumWorkers: 1, TaskChannelSize: 1, TaskTimeout: 30 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx, "test")

	task := NewTask[struct{}]("t", func(taskCtx context.Context) (struct{}, error) {
		<-taskCtx.Done()
		return struct{}{}, taskCtx.Err()
	})
	if err := p.AddTask(ctx, task); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	select {
	case res := <-p.Results():
		if !errors.Is(res.Error, ErrTaskTimeout) {
			t.Errorf("expected ErrTaskTimeout, got %v", res.Error)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected zero-timeout task to be bounded by the pool default")
	}
	p.Stop()
}

func TestAddTaskAfterStopFails(t *testing.T) {
	p, err := New[int](DefaultConfig(1))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	p.Start(ctx, "test")
	p.Stop()

	task := NewTask[int]("t", func(ctx context.Context) (int, error) { return 0, nil })
	if err := p.AddTask(ctx, task); !errors.Is(err, ErrPoolStopped) {
		t.Errorf("expected ErrPoolStopped, got %v", err)
	}
}
