// Package queue provides an in-process task queue with priority ordering,
// delayed execution, bounded retries, dead-lettering, and a rule-based
// scheduler for recurring work.
//
// The package is organised around three main components:
//
//   - Engine owns all queue state: per-queue priority heaps, the delayed
//     heap, the in-flight set, results, the dead-letter store, rate limits,
//     and metrics.
//   - WorkerPool is a fixed set of concurrent workers draining the engine
//     and dispatching tasks to registered Handlers.
//   - Scheduler converts cron, interval, and one-shot Rules into tasks fed
//     through the engine's Enqueue entry point.
//
// # Ordering
//
// Within one named queue dequeue order is deterministic: earlier due time
// first; for equal due times higher priority first; for equal due time and
// priority, insertion order (FIFO). Across queues the engine round-robins,
// which is an implementation choice rather than a contract.
//
// # Usage
//
//	engine := queue.NewEngine(queue.WithRateLimit("emails", 100))
//
//	_ = engine.RegisterHandler(queue.NewHandler("send_email",
//	    func(ctx context.Context, task *queue.Task) (any, error) {
//	        return nil, send(ctx, task.Payload)
//	    },
//	))
//
//	pool, _ := queue.NewWorkerPool(engine, queue.WithMaxWorkers(8))
//
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//
//	_ = engine.Start(ctx)
//	_ = pool.Start(ctx)
//	defer pool.Stop()
//	defer engine.Stop()
//
//	id, err := engine.Enqueue(ctx, queue.NewTask("send_email",
//	    queue.WithQueue("emails"),
//	    queue.WithPriority(queue.PriorityHigh),
//	    queue.WithDelay(time.Minute),
//	))
//
// Recurring work goes through the scheduler:
//
//	s, _ := queue.NewScheduler(engine)
//	_, _ = s.Every(15*time.Minute, "refresh_cache")
//	_, _ = s.Cron("0 2 * * *", "cleanup_sessions")
//	_ = s.Start(ctx)
//	defer s.Stop()
//
// # Error Handling
//
// Admission failures (queue full, memory limit, rate limit) are returned
// synchronously from Enqueue and can be checked with errors.Is against the
// package sentinel errors. Handler failures never reach the producer: the
// worker routes them through the retry/dead-letter decision, and the terminal
// state of every task stays observable through TaskStatus.
package queue
