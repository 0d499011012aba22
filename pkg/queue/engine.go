package queue

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Enqueuer is the admission surface of the engine, consumed by the Scheduler
// and by application code that only produces tasks.
type Enqueuer interface {
	Enqueue(ctx context.Context, task *Task) (uuid.UUID, error)
}

// DeadLetter holds a task that exhausted its retries, together with the final
// attempt's result. Entries expire after the engine's dead-letter TTL.
type DeadLetter struct {
	Task      *Task     `json:"task"`
	Result    *Result   `json:"result"`
	ExpiresAt time.Time `json:"expires_at"`
}

// QueueInfo is a snapshot of one named queue.
type QueueInfo struct {
	Name      string `json:"name"`
	Pending   int    `json:"pending"`
	Delayed   int    `json:"delayed"`
	MaxSize   int    `json:"max_size"`
	RateLimit int    `json:"rate_limit"`
}

// Health reports the engine's liveness and headroom.
type Health struct {
	Healthy     bool    `json:"healthy"`
	Running     bool    `json:"running"`
	MemoryUsed  int64   `json:"memory_used"`
	MemoryLimit int64   `json:"memory_limit"`
	Metrics     Metrics `json:"metrics"`
}

// namedQueue is one priority-ordered pending store.
type namedQueue struct {
	heap    taskHeap
	maxSize int
}

// Engine is the authoritative owner of queue state: per-queue pending heaps,
// the delayed heap, the in-flight set, results, the dead-letter store, and
// metrics. All mutation goes through its public operations under one mutex so
// the heap-pop-and-transition sequence in Dequeue stays atomic.
type Engine struct {
	mu       sync.Mutex
	queues   map[string]*namedQueue
	delayed  taskHeap
	index    map[uuid.UUID]*heapItem
	inFlight map[uuid.UUID]*Task
	results  map[uuid.UUID]*Result
	dead     map[uuid.UUID]*DeadLetter
	seq      uint64
	memUsed  int64
	stats    counters
	rr       []string
	rrIdx    int

	hmu      sync.RWMutex
	handlers map[string]Handler

	limiter *rateLimiter

	maxQueueSize    int
	memoryLimit     int64
	resultRetention time.Duration
	deadLetterTTL   time.Duration
	promoteInterval time.Duration
	sweepInterval   time.Duration
	sampleInterval  time.Duration
	logger          *slog.Logger

	workersActive atomic.Int64
	workersIdle   atomic.Int64

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   atomic.Bool
}

// NewEngine creates an engine with the given options applied. The engine is
// usable for enqueue/dequeue immediately; Start launches the background
// movers (delayed-task promoter, dead-letter sweeper, metrics sampler).
func NewEngine(opts ...EngineOption) *Engine {
	options := defaultEngineOptions()
	for _, opt := range opts {
		opt(options)
	}

	e := &Engine{
		queues:          make(map[string]*namedQueue),
		index:           make(map[uuid.UUID]*heapItem),
		inFlight:        make(map[uuid.UUID]*Task),
		results:         make(map[uuid.UUID]*Result),
		dead:            make(map[uuid.UUID]*DeadLetter),
		handlers:        make(map[string]Handler),
		limiter:         newRateLimiter(time.Second),
		maxQueueSize:    options.maxQueueSize,
		memoryLimit:     options.memoryLimit,
		resultRetention: options.resultRetention,
		deadLetterTTL:   options.deadLetterTTL,
		promoteInterval: options.promoteInterval,
		sweepInterval:   options.sweepInterval,
		sampleInterval:  options.sampleInterval,
		logger:          options.logger,
	}

	for queue, limit := range options.rateLimits {
		e.limiter.setLimit(queue, limit)
	}

	return e
}

// RegisterHandler registers the handler for its task type.
func (e *Engine) RegisterHandler(handler Handler) error {
	if handler == nil {
		return ErrHandlerNil
	}

	e.hmu.Lock()
	defer e.hmu.Unlock()

	if _, exists := e.handlers[handler.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrHandlerAlreadyRegistered, handler.Name())
	}
	e.handlers[handler.Name()] = handler
	return nil
}

// RegisterHandlers registers multiple handlers, stopping at the first error.
func (e *Engine) RegisterHandlers(handlers ...Handler) error {
	for _, h := range handlers {
		if err := e.RegisterHandler(h); err != nil {
			return err
		}
	}
	return nil
}

// handler looks up the registered handler for a task type.
func (e *Engine) handler(taskType string) (Handler, bool) {
	e.hmu.RLock()
	defer e.hmu.RUnlock()
	h, ok := e.handlers[taskType]
	return h, ok
}

// SetRateLimit caps admissions for a queue to limit per rolling second.
// A limit of zero or less removes the cap.
func (e *Engine) SetRateLimit(queue string, limit int) {
	e.limiter.setLimit(queue, limit)
}

// Enqueue admits a task. Admission fails synchronously when the named queue
// is at capacity, the engine memory estimate is exhausted, or the queue's
// rate-limit window is full. A task due in the future lands in the delayed
// heap; everything else goes straight into its queue's priority heap.
func (e *Engine) Enqueue(ctx context.Context, task *Task) (uuid.UUID, error) {
	if task == nil {
		return uuid.Nil, ErrTaskNil
	}
	if !task.Priority.Valid() {
		return uuid.Nil, ErrInvalidPriority
	}
	if task.Queue == "" {
		task.Queue = DefaultQueueName
	}

	now := time.Now()
	size := task.estimateSize()

	e.mu.Lock()
	defer e.mu.Unlock()

	q := e.getOrCreateQueue(task.Queue)
	if q.maxSize > 0 && q.heap.live() >= q.maxSize {
		e.stats.rejected++
		e.logger.Warn("enqueue rejected: queue full",
			slog.String("queue", task.Queue),
			slog.String("task_type", task.Type))
		return uuid.Nil, fmt.Errorf("%w: %s", ErrQueueFull, task.Queue)
	}
	if e.memoryLimit > 0 && e.memUsed+size > e.memoryLimit {
		e.stats.rejected++
		e.logger.Warn("enqueue rejected: memory limit",
			slog.String("queue", task.Queue),
			slog.Int64("memory_used", e.memUsed),
			slog.Int64("memory_limit", e.memoryLimit))
		return uuid.Nil, ErrMemoryLimitExceeded
	}
	if !e.limiter.allow(task.Queue, now) {
		e.stats.rejected++
		e.logger.Warn("enqueue rejected: rate limit",
			slog.String("queue", task.Queue),
			slog.String("task_type", task.Type))
		return uuid.Nil, fmt.Errorf("%w: %s", ErrRateLimitExceeded, task.Queue)
	}

	e.seq++
	item := &heapItem{
		task: task,
		due:  task.dueTime(now),
		seq:  e.seq,
	}

	if item.due.After(now) {
		item.delayed = true
		e.delayed.push(item)
		e.stats.delayed++
	} else {
		q.heap.push(item)
		e.stats.pending++
	}
	e.index[task.ID] = item
	e.memUsed += size

	e.logger.Debug("task enqueued",
		slog.String("task_id", task.ID.String()),
		slog.String("task_type", task.Type),
		slog.String("queue", task.Queue),
		slog.Int("priority", int(task.Priority)),
		slog.Time("due", item.due))

	return task.ID, nil
}

// Dequeue claims the next due task. With a queue name it pops from that
// queue; with an empty name it round-robins across all named queues. The
// claimed task moves into the in-flight set before the lock is released, so
// no two workers can claim the same task.
func (e *Engine) Dequeue(ctx context.Context, queueName string) (*Task, error) {
	now := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	var item *heapItem
	if queueName != "" {
		q, ok := e.queues[queueName]
		if !ok {
			return nil, ErrNoTaskReady
		}
		item = q.heap.popReady(now)
	} else {
		for range e.rr {
			name := e.rr[e.rrIdx%len(e.rr)]
			e.rrIdx++
			if it := e.queues[name].heap.popReady(now); it != nil {
				item = it
				break
			}
		}
	}

	if item == nil {
		return nil, ErrNoTaskReady
	}

	task := item.task
	delete(e.index, task.ID)
	e.inFlight[task.ID] = task
	e.stats.pending--
	e.stats.processing++

	return task, nil
}

// Cancel removes a task that has not yet been dequeued, recording a
// cancelled result. It returns false for in-flight, finished, or unknown
// tasks and never alters an already recorded status.
func (e *Engine) Cancel(id uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	item, ok := e.index[id]
	if !ok {
		return false
	}

	item.cancelled = true
	delete(e.index, id)
	if item.delayed {
		e.stats.delayed--
	} else {
		e.stats.pending--
	}
	e.stats.cancelled++
	e.memUsed -= item.task.estimateSize()

	now := time.Now()
	e.results[id] = &Result{
		TaskID:      id,
		Queue:       item.task.Queue,
		Status:      StatusCancelled,
		CompletedAt: now,
		RetryCount:  item.task.retryCount(),
	}

	e.logger.Info("task cancelled",
		slog.String("task_id", id.String()),
		slog.String("queue", item.task.Queue))

	return true
}

// TaskStatus reports the current state of a task: its recorded result, a
// processing marker while in flight, the dead-letter result, or a pending
// marker while it waits in a heap. The second return is false for unknown ids.
func (e *Engine) TaskStatus(id uuid.UUID) (*Result, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if res, ok := e.results[id]; ok {
		cp := *res
		return &cp, true
	}
	if task, ok := e.inFlight[id]; ok {
		return &Result{
			TaskID:     id,
			Queue:      task.Queue,
			Status:     StatusProcessing,
			RetryCount: task.retryCount(),
		}, true
	}
	if dl, ok := e.dead[id]; ok {
		cp := *dl.Result
		return &cp, true
	}
	if item, ok := e.index[id]; ok {
		return &Result{
			TaskID:     id,
			Queue:      item.task.Queue,
			Status:     StatusPending,
			RetryCount: item.task.retryCount(),
		}, true
	}
	return nil, false
}

// Purge atomically empties one named queue's pending heap and returns the
// number of live tasks removed. Delayed and in-flight tasks are untouched.
func (e *Engine) Purge(queueName string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	q, ok := e.queues[queueName]
	if !ok {
		return 0
	}

	removed := 0
	for _, item := range q.heap {
		if item.cancelled {
			continue
		}
		removed++
		delete(e.index, item.task.ID)
		e.memUsed -= item.task.estimateSize()
	}
	q.heap = q.heap[:0]
	e.stats.pending -= int64(removed)

	e.logger.Info("queue purged",
		slog.String("queue", queueName),
		slog.Int("removed", removed))

	return removed
}

// ListQueues returns the known queue names in sorted order.
func (e *Engine) ListQueues() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.rr)
}

// Info returns a snapshot of one named queue.
func (e *Engine) Info(queueName string) QueueInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	info := QueueInfo{
		Name:      queueName,
		MaxSize:   e.maxQueueSize,
		RateLimit: e.limiter.limit(queueName),
	}
	if q, ok := e.queues[queueName]; ok {
		info.Pending = q.heap.live()
		info.MaxSize = q.maxSize
	}
	for _, item := range e.delayed {
		if !item.cancelled && item.task.Queue == queueName {
			info.Delayed++
		}
	}
	return info
}

// DeadLetters returns a snapshot of the dead-letter store.
func (e *Engine) DeadLetters() []DeadLetter {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]DeadLetter, 0, len(e.dead))
	for _, dl := range e.dead {
		out = append(out, *dl)
	}
	return out
}

// Metrics returns a snapshot of engine counters.
func (e *Engine) Metrics() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.metricsLocked()
}

func (e *Engine) metricsLocked() Metrics {
	return Metrics{
		Pending:          e.stats.pending,
		Processing:       e.stats.processing,
		Delayed:          e.stats.delayed,
		Completed:        e.stats.completed,
		Failed:           e.stats.failed,
		Retried:          e.stats.retried,
		Cancelled:        e.stats.cancelled,
		DeadLettered:     e.stats.deadLettered,
		DeadLetterLen:    int64(len(e.dead)),
		Rejected:         e.stats.rejected,
		ThroughputPerSec: e.stats.throughput,
		AvgExecutionTime: e.stats.avgExecution(),
		ErrorRate:        e.stats.errorRate(),
		ActiveWorkers:    e.workersActive.Load(),
		IdleWorkers:      e.workersIdle.Load(),
		MemoryUsed:       e.memUsed,
		MemoryLimit:      e.memoryLimit,
	}
}

// HealthCheck reports engine health: running and under 90% of the configured
// memory limit.
func (e *Engine) HealthCheck() Health {
	e.mu.Lock()
	defer e.mu.Unlock()

	h := Health{
		Running:     e.running.Load(),
		MemoryUsed:  e.memUsed,
		MemoryLimit: e.memoryLimit,
		Metrics:     e.metricsLocked(),
	}
	h.Healthy = h.Running &&
		(e.memoryLimit <= 0 || float64(e.memUsed) < 0.9*float64(e.memoryLimit))
	return h
}

// Start launches the background movers. It fails if the engine is already
// running.
func (e *Engine) Start(ctx context.Context) error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	if e.running.Load() {
		return fmt.Errorf("engine already started")
	}

	ctx, e.cancel = context.WithCancel(ctx)
	e.running.Store(true)

	e.wg.Add(3)
	go e.promoteLoop(ctx)
	go e.sweepLoop(ctx)
	go e.sampleLoop(ctx)

	e.logger.Info("engine started",
		slog.Duration("promote_interval", e.promoteInterval),
		slog.Duration("sweep_interval", e.sweepInterval))

	return nil
}

// Stop signals the background movers and waits for them to exit. Pending
// tasks stay queued; in-flight work is the worker pool's concern.
func (e *Engine) Stop() error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	if !e.running.Load() {
		return ErrEngineStopped
	}

	e.cancel()
	e.wg.Wait()
	e.running.Store(false)

	e.logger.Info("engine stopped")
	return nil
}

// Run returns a function suitable for errgroup: start, block on ctx, stop.
func (e *Engine) Run(ctx context.Context) func() error {
	return func() error {
		if err := e.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return e.Stop()
	}
}

// promoteLoop moves ready delayed tasks into their queue heaps.
func (e *Engine) promoteLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.promoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.promoteDelayed(now)
		}
	}
}

func (e *Engine) promoteDelayed(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for {
		item := e.delayed.popReady(now)
		if item == nil {
			return
		}
		item.delayed = false
		e.getOrCreateQueue(item.task.Queue).heap.push(item)
		e.stats.delayed--
		e.stats.pending++

		e.logger.Debug("delayed task promoted",
			slog.String("task_id", item.task.ID.String()),
			slog.String("queue", item.task.Queue))
	}
}

// sweepLoop evicts expired dead-letter entries and stale results.
func (e *Engine) sweepLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.sweep(now)
		}
	}
}

func (e *Engine) sweep(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, dl := range e.dead {
		if dl.ExpiresAt.Before(now) {
			e.memUsed -= dl.Task.estimateSize()
			delete(e.dead, id)
			e.logger.Debug("dead-letter entry expired",
				slog.String("task_id", id.String()))
		}
	}

	if e.resultRetention > 0 {
		cutoff := now.Add(-e.resultRetention)
		for id, res := range e.results {
			if res.Status.Terminal() && res.CompletedAt.Before(cutoff) {
				delete(e.results, id)
			}
		}
	}
}

// sampleLoop refreshes the throughput gauge.
func (e *Engine) sampleLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			e.mu.Lock()
			e.stats.sample(now)
			e.mu.Unlock()
		}
	}
}

// Completion and failure paths, called by the worker pool.

// complete records a successful attempt and releases the task.
func (e *Engine) complete(task *Task, result *Result) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.inFlight, task.ID)
	e.stats.processing--
	e.stats.completed++
	e.stats.observeExecution(result.ExecutionTime)
	e.results[task.ID] = result
	e.memUsed -= task.estimateSize()
}

// recordRetry records a failed attempt whose follow-up task was admitted.
func (e *Engine) recordRetry(task *Task, result *Result) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.inFlight, task.ID)
	e.stats.processing--
	e.stats.failed++
	e.stats.retried++
	e.stats.observeExecution(result.ExecutionTime)
	e.results[task.ID] = result
	e.memUsed -= task.estimateSize()
}

// deadLetter moves a task with no retries left into the dead-letter store.
func (e *Engine) deadLetter(task *Task, result *Result) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.inFlight[task.ID]; ok {
		delete(e.inFlight, task.ID)
		e.stats.processing--
	}
	e.stats.failed++
	e.stats.deadLettered++
	e.stats.observeExecution(result.ExecutionTime)
	e.dead[task.ID] = &DeadLetter{
		Task:      task,
		Result:    result,
		ExpiresAt: time.Now().Add(e.deadLetterTTL),
	}

	e.logger.Warn("task moved to dead letter store",
		slog.String("task_id", task.ID.String()),
		slog.String("task_type", task.Type),
		slog.String("queue", task.Queue),
		slog.String("error", result.Error))
}

// getOrCreateQueue returns the named queue, creating it and registering its
// name in the round-robin order on first use. Caller holds the engine mutex.
func (e *Engine) getOrCreateQueue(name string) *namedQueue {
	q, ok := e.queues[name]
	if !ok {
		q = &namedQueue{maxSize: e.maxQueueSize}
		e.queues[name] = q
		idx, _ := slices.BinarySearch(e.rr, name)
		e.rr = slices.Insert(e.rr, idx, name)
	}
	return q
}
