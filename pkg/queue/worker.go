package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// WorkerPool drains an engine with a fixed number of concurrent workers.
// Each worker polls Dequeue, executes the registered handler under a timeout,
// and feeds the outcome back into the engine's completion, retry, or
// dead-letter path.
type WorkerPool struct {
	engine            *Engine
	queues            []string
	maxWorkers        int
	pollInterval      time.Duration
	defaultTimeout    time.Duration
	backoffMultiplier float64
	logger            *slog.Logger

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   atomic.Bool
}

// NewWorkerPool creates a pool bound to the given engine.
func NewWorkerPool(engine *Engine, opts ...WorkerOption) (*WorkerPool, error) {
	if engine == nil {
		return nil, ErrEngineNil
	}

	options := &workerOptions{
		maxWorkers:        4,
		pollInterval:      250 * time.Millisecond,
		defaultTimeout:    5 * time.Minute,
		backoffMultiplier: 2.0,
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	return &WorkerPool{
		engine:            engine,
		queues:            options.queues,
		maxWorkers:        options.maxWorkers,
		pollInterval:      options.pollInterval,
		defaultTimeout:    options.defaultTimeout,
		backoffMultiplier: options.backoffMultiplier,
		logger:            options.logger,
	}, nil
}

// Start spawns the worker loops. It fails if the pool is already running.
func (p *WorkerPool) Start(ctx context.Context) error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if p.running.Load() {
		return fmt.Errorf("worker pool already started")
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.running.Store(true)

	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, uuid.New().String())
	}

	p.logger.Info("worker pool started",
		slog.Int("max_workers", p.maxWorkers),
		slog.Duration("poll_interval", p.pollInterval))

	return nil
}

// Stop signals cooperative shutdown and waits for all workers to exit.
// In-flight attempts run to completion or timeout; pending work stays queued.
func (p *WorkerPool) Stop() error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if !p.running.Load() {
		return fmt.Errorf("worker pool not started")
	}

	p.cancel()
	p.logger.Info("worker pool stopping, draining in-flight tasks")
	p.wg.Wait()
	p.running.Store(false)

	p.logger.Info("worker pool stopped")
	return nil
}

// Run returns a function suitable for errgroup: start, block on ctx, stop.
func (p *WorkerPool) Run(ctx context.Context) func() error {
	return func() error {
		if err := p.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return p.Stop()
	}
}

// worker is one execution loop: idle, claim, execute, repeat.
func (p *WorkerPool) worker(ctx context.Context, workerID string) {
	defer p.wg.Done()

	p.engine.workersIdle.Add(1)
	defer p.engine.workersIdle.Add(-1)

	timer := time.NewTimer(p.pollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task := p.claim(ctx)
		if task == nil {
			timer.Reset(p.pollInterval)
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
			continue
		}

		p.engine.workersIdle.Add(-1)
		p.engine.workersActive.Add(1)
		p.process(task, workerID)
		p.engine.workersActive.Add(-1)
		p.engine.workersIdle.Add(1)
	}
}

// claim pulls the next due task from the pool's queues, or from all queues
// when none are configured.
func (p *WorkerPool) claim(ctx context.Context) *Task {
	if len(p.queues) == 0 {
		task, err := p.engine.Dequeue(ctx, "")
		if err != nil {
			return nil
		}
		return task
	}
	for _, q := range p.queues {
		task, err := p.engine.Dequeue(ctx, q)
		if err == nil {
			return task
		}
		if !errors.Is(err, ErrNoTaskReady) {
			p.logger.Error("dequeue failed",
				slog.String("queue", q),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// process executes one attempt and routes its outcome.
func (p *WorkerPool) process(task *Task, workerID string) {
	handler, ok := p.engine.handler(task.Type)
	if !ok {
		// Retrying cannot help a task nobody can execute.
		p.logger.Error("no handler registered for task type",
			slog.String("worker_id", workerID),
			slog.String("task_id", task.ID.String()),
			slog.String("task_type", task.Type))

		started := time.Now()
		p.engine.deadLetter(task, &Result{
			TaskID:      task.ID,
			Queue:       task.Queue,
			Status:      StatusDeadLetter,
			Error:       fmt.Sprintf("%s: %s", ErrHandlerNotFound, task.Type),
			StartedAt:   started,
			CompletedAt: started,
			RetryCount:  task.retryCount(),
			WorkerID:    workerID,
		})
		return
	}

	timeout := task.Timeout
	if timeout <= 0 {
		timeout = p.defaultTimeout
	}

	// The timeout context is detached from the pool lifecycle so graceful
	// shutdown lets in-flight attempts finish.
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	started := time.Now()
	value, err := p.execute(ctx, handler, task)
	finished := time.Now()

	result := &Result{
		TaskID:        task.ID,
		Queue:         task.Queue,
		StartedAt:     started,
		CompletedAt:   finished,
		ExecutionTime: finished.Sub(started),
		RetryCount:    task.retryCount(),
		WorkerID:      workerID,
	}

	if err != nil {
		p.handleFailure(ctx, handler, task, result, err)
		return
	}

	result.Status = StatusCompleted
	result.Value = value
	p.safeOnSuccess(ctx, handler, task, value)
	p.engine.complete(task, result)

	p.logger.Info("task completed",
		slog.String("worker_id", workerID),
		slog.String("task_id", task.ID.String()),
		slog.String("task_type", task.Type),
		slog.String("queue", task.Queue),
		slog.Duration("duration", result.ExecutionTime))
}

// execute runs the handler with panic recovery, bounded by ctx.
func (p *WorkerPool) execute(ctx context.Context, handler Handler, task *Task) (any, error) {
	type attempt struct {
		value any
		err   error
	}

	done := make(chan attempt, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attempt{err: fmt.Errorf("panic in handler: %v", r)}
			}
		}()
		value, err := handler.Handle(ctx, task)
		done <- attempt{value: value, err: err}
	}()

	select {
	case a := <-done:
		return a.value, a.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w after %v", ErrTaskTimeout, task.Timeout)
	}
}

// handleFailure routes a failed attempt into retry or dead-letter.
func (p *WorkerPool) handleFailure(ctx context.Context, handler Handler, task *Task, result *Result, execErr error) {
	attempts := task.retryCount()

	p.logger.Error("task failed",
		slog.String("worker_id", result.WorkerID),
		slog.String("task_id", task.ID.String()),
		slog.String("task_type", task.Type),
		slog.Int("retry_count", attempts),
		slog.Int("max_retries", task.MaxRetries),
		slog.String("error", execErr.Error()))

	retry := p.safeOnFailure(ctx, handler, task, execErr)

	if retry && attempts < task.MaxRetries {
		backoff := p.backoff(task.RetryDelay, attempts)
		retryTask := newRetryTask(task, backoff)

		if _, err := p.engine.Enqueue(ctx, retryTask); err != nil {
			// Admission refused the retry; the task must not vanish.
			p.logger.Error("failed to enqueue retry task",
				slog.String("task_id", task.ID.String()),
				slog.String("error", err.Error()))
			result.Status = StatusDeadLetter
			result.Error = fmt.Sprintf("%s (retry admission failed: %s)", execErr, err)
			p.engine.deadLetter(task, result)
			return
		}

		result.Status = StatusRetrying
		result.Error = execErr.Error()
		p.engine.recordRetry(task, result)

		p.logger.Info("task scheduled for retry",
			slog.String("task_id", task.ID.String()),
			slog.String("retry_task_id", retryTask.ID.String()),
			slog.Duration("backoff", backoff),
			slog.Int("attempt", attempts+1))
		return
	}

	result.Status = StatusDeadLetter
	result.Error = execErr.Error()
	p.engine.deadLetter(task, result)
}

// backoff computes base * multiplier^attempt.
func (p *WorkerPool) backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 30 * time.Second
	}
	return time.Duration(float64(base) * math.Pow(p.backoffMultiplier, float64(attempt)))
}

// safeOnSuccess invokes the success hook; a panicking hook is logged and
// swallowed so it cannot take down a worker.
func (p *WorkerPool) safeOnSuccess(ctx context.Context, handler Handler, task *Task, value any) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("success hook panicked",
				slog.String("task_id", task.ID.String()),
				slog.Any("panic", r))
		}
	}()
	handler.OnSuccess(ctx, task, value)
}

// safeOnFailure invokes the failure hook; a panicking hook is logged and the
// task is treated as non-retryable.
func (p *WorkerPool) safeOnFailure(ctx context.Context, handler Handler, task *Task, err error) (retry bool) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("failure hook panicked",
				slog.String("task_id", task.ID.String()),
				slog.Any("panic", r))
			retry = false
		}
	}()
	return handler.OnFailure(ctx, task, err)
}
