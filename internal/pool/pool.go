// Package pool is the generic task-pool substrate the sitemap ingester's
// bounded fan-out and the worker pool's long-running PageWorker loops both
// run on: a generic Pool[T] / Executor[T] / TaskResult[T] shape, tuned for
// two different shapes of caller, many short tasks (sitemap URL fetches)
// and a handful of long-running ones (PageWorker loops, which set a
// negative Timeout() and rely on the pool's context for cancellation
// rather than a per-task clock).
package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrInvalidWorkerCount = errors.New("pool: invalid worker count")
	ErrInvalidChannelSize = errors.New("pool: invalid channel size")
	ErrPoolStopped        = errors.New("pool: stopped")
	ErrTaskTimeout        = errors.New("pool: task execution timeout")
	ErrAddTaskTimeout     = errors.New("pool: add task timeout")
)

// TaskResult is the outcome of one Executor[T] run.
type TaskResult[T any] struct {
	TaskID    string
	Result    T
	Error     error
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
}

func (tr *TaskResult[T]) IsSuccess() bool { return tr.Error == nil }

// Executor is one unit of pool work. A negative Timeout() means "run under
// the pool's own context only, no per-task deadline", used by the
// long-running PageWorker loop tasks the worker pool submits; zero applies
// the pool's configured TaskTimeout.
type Executor[T any] interface {
	ExecutorID() string
	Execute(ctx context.Context) (T, error)
	OnError(error)
	Timeout() time.Duration
}

type task[T any] struct {
	id           string
	execute      func(ctx context.Context) (T, error)
	errorHandler func(error)
	timeout      time.Duration
}

func (t *task[T]) ExecutorID() string                       { return t.id }
func (t *task[T]) Execute(ctx context.Context) (T, error)   { return t.execute(ctx) }
func (t *task[T]) Timeout() time.Duration                   { return t.timeout }
func (t *task[T]) OnError(err error) {
	if t.errorHandler != nil {
		t.errorHandler(err)
	}
}

// TaskOption configures a task built by NewTask.
type TaskOption[T any] func(*task[T])

func WithID[T any](id string) TaskOption[T] {
	return func(t *task[T]) { t.id = id }
}

func WithErrorHandler[T any](handler func(error)) TaskOption[T] {
	return func(t *task[T]) { t.errorHandler = handler }
}

// WithTimeout sets a per-task timeout. 0 (the default) applies the
// pool's configured TaskTimeout; a negative value opts the task out of
// any deadline, used for the long-running worker loop tasks.
func WithTimeout[T any](d time.Duration) TaskOption[T] {
	return func(t *task[T]) { t.timeout = d }
}

// NewTask builds an Executor[T] from a plain function with the given id
// (WithID can replace it). An empty id stays empty; no ID is generated.
func NewTask[T any](id string, execute func(ctx context.Context) (T, error), opts ...TaskOption[T]) Executor[T] {
	t := &task[T]{id: id, execute: execute}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Config tunes a Pool.
type Config struct {
	NumWorkers      int
	TaskChannelSize int
	ResultChanSize  int
	TaskTimeout     time.Duration // default per-task timeout when a task itself has none
	ShutdownTimeout time.Duration
	Logger          zerolog.Logger
}

func DefaultConfig(numWorkers int) Config {
	return Config{
		NumWorkers:      numWorkers,
		TaskChannelSize: numWorkers * 4,
		ResultChanSize:  numWorkers * 2,
		TaskTimeout:     30 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Pool runs up to Config.NumWorkers Executor[T]s concurrently, fed by
// AddTask and drained via Results.
type Pool[T any] struct {
	config  Config
	tasks   chan Executor[T]
	results chan TaskResult[T]
	quit    chan struct{}
	wg      sync.WaitGroup

	activeWorkers  int64
	tasksQueued    int64
	tasksCompleted int64

	mu      sync.RWMutex
	started bool
	stopped bool
}

func New[T any](config Config) (*Pool[T], error) {
	if config.NumWorkers <= 0 {
		return nil, ErrInvalidWorkerCount
	}
	if config.TaskChannelSize < 0 {
		return nil, ErrInvalidChannelSize
	}
	if config.ResultChanSize <= 0 {
		config.ResultChanSize = config.NumWorkers * 2
	}
	if config.TaskTimeout <= 0 {
		config.TaskTimeout = 30 * time.Second
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 30 * time.Second
	}
	return &Pool[T]{
		config:  config,
		tasks:   make(chan Executor[T], config.TaskChannelSize),
		results: make(chan TaskResult[T], config.ResultChanSize),
		quit:    make(chan struct{}),
	}, nil
}

func (p *Pool[T]) Start(ctx context.Context, poolID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true
	for i := 0; i < p.config.NumWorkers; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx, i, poolID)
	}
	p.config.Logger.Info().Str("poolId", poolID).Int("workers", p.config.NumWorkers).Msg("pool started")
}

func (p *Pool[T]) runWorker(ctx context.Context, workerID int, poolID string) {
	defer p.wg.Done()
	atomic.AddInt64(&p.activeWorkers, 1)
	defer atomic.AddInt64(&p.activeWorkers, -1)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.quit:
			return
		case t, ok := <-p.tasks:
			if !ok {
				return
			}
			p.executeTask(ctx, t, workerID, poolID)
		}
	}
}

func (p *Pool[T]) executeTask(ctx context.Context, t Executor[T], workerID int, poolID string) {
	taskID := t.ExecutorID()
	start := time.Now()

	// A negative Timeout() opts a task out of any deadline (the
	// long-running PageWorker loop tasks); zero or positive uses that
	// value, or the pool default when zero.
	taskCtx := ctx
	if timeout := t.Timeout(); timeout >= 0 {
		if timeout == 0 {
			timeout = p.config.TaskTimeout
		}
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := t.Execute(taskCtx)
	end := time.Now()

	if err != nil && (errors.Is(err, context.DeadlineExceeded) || taskCtx.Err() == context.DeadlineExceeded) {
		err = ErrTaskTimeout
	}
	if err != nil {
		t.OnError(err)
	}

	tr := TaskResult[T]{TaskID: taskID, Result: result, Error: err, StartTime: start, EndTime: end, Duration: end.Sub(start)}
	select {
	case p.results <- tr:
	case <-time.After(time.Second):
		p.config.Logger.Warn().Str("poolId", poolID).Str("taskId", taskID).Msg("result channel full, dropping result")
	case <-p.quit:
	}
	atomic.AddInt64(&p.tasksCompleted, 1)
}

func (p *Pool[T]) AddTask(ctx context.Context, t Executor[T]) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}
	select {
	case p.tasks <- t:
		atomic.AddInt64(&p.tasksQueued, 1)
		return nil
	case <-p.quit:
		return ErrPoolStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool[T]) Results() <-chan TaskResult[T] { return p.results }

func (p *Pool[T]) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	close(p.quit)
	close(p.tasks)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.config.ShutdownTimeout):
		p.config.Logger.Warn().Dur("timeout", p.config.ShutdownTimeout).Msg("pool shutdown timeout exceeded")
	}
	close(p.results)
}

type Stats struct {
	ActiveWorkers  int64
	TasksQueued    int64
	TasksCompleted int64
	TasksInQueue   int64
}

func (p *Pool[T]) Stats() Stats {
	return Stats{
		ActiveWorkers:  atomic.LoadInt64(&p.activeWorkers),
		TasksQueued:    atomic.LoadInt64(&p.tasksQueued),
		TasksCompleted: atomic.LoadInt64(&p.tasksCompleted),
		TasksInQueue:   int64(len(p.tasks)),
	}
}
