package queue_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/queuekit/pkg/queue"
)

// startPipeline spins up an engine and a pool with fast intervals suitable
// for tests, and tears both down when the test ends.
func startPipeline(t *testing.T, engine *queue.Engine, poolOpts ...queue.WorkerOption) *queue.WorkerPool {
	t.Helper()

	poolOpts = append([]queue.WorkerOption{
		queue.WithMaxWorkers(2),
		queue.WithPollInterval(5 * time.Millisecond),
		queue.WithWorkerLogger(discardLogger()),
	}, poolOpts...)

	pool, err := queue.NewWorkerPool(engine, poolOpts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, engine.Start(ctx))
	require.NoError(t, pool.Start(ctx))

	t.Cleanup(func() {
		cancel()
		_ = pool.Stop()
		_ = engine.Stop()
	})

	return pool
}

func TestWorkerPool_New(t *testing.T) {
	t.Parallel()

	t.Run("nil engine", func(t *testing.T) {
		t.Parallel()

		pool, err := queue.NewWorkerPool(nil)
		assert.ErrorIs(t, err, queue.ErrEngineNil)
		assert.Nil(t, pool)
	})

	t.Run("with options", func(t *testing.T) {
		t.Parallel()

		pool, err := queue.NewWorkerPool(newTestEngine(t),
			queue.WithMaxWorkers(8),
			queue.WithPollInterval(time.Second),
			queue.WithDefaultTimeout(time.Minute),
			queue.WithBackoffMultiplier(1.5),
			queue.WithQueues("a", "b"),
		)
		require.NoError(t, err)
		require.NotNil(t, pool)
	})
}

func TestWorkerPool_Success(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, queue.WithPromoteInterval(5*time.Millisecond))

	var hookCalls atomic.Int64
	require.NoError(t, engine.RegisterHandler(queue.NewHandler("greet",
		func(ctx context.Context, task *queue.Task) (any, error) {
			return "hello " + task.Tags["name"], nil
		},
		queue.WithOnSuccess(func(ctx context.Context, task *queue.Task, result any) {
			hookCalls.Add(1)
		}),
	)))

	startPipeline(t, engine)

	task := queue.NewTask("greet", queue.WithTag("name", "world"))
	_, err := engine.Enqueue(context.Background(), task)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		res, ok := engine.TaskStatus(task.ID)
		return ok && res.Status == queue.StatusCompleted
	}, 3*time.Second, 10*time.Millisecond)

	res, ok := engine.TaskStatus(task.ID)
	require.True(t, ok)
	assert.Equal(t, "hello world", res.Value)
	assert.Empty(t, res.Error)
	assert.NotEmpty(t, res.WorkerID)
	assert.Equal(t, int64(1), hookCalls.Load())

	m := engine.Metrics()
	assert.Equal(t, int64(1), m.Completed)
	assert.Zero(t, m.Processing)
}

func TestWorkerPool_RetryExhaustion(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, queue.WithPromoteInterval(2*time.Millisecond))

	var mu sync.Mutex
	var attempts []time.Time
	require.NoError(t, engine.RegisterHandler(queue.NewHandler("flaky",
		func(ctx context.Context, task *queue.Task) (any, error) {
			mu.Lock()
			attempts = append(attempts, time.Now())
			mu.Unlock()
			return nil, errors.New("boom")
		},
	)))

	startPipeline(t, engine)

	task := queue.NewTask("flaky",
		queue.WithMaxRetries(2),
		queue.WithRetryDelay(20*time.Millisecond),
	)
	_, err := engine.Enqueue(context.Background(), task)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(engine.DeadLetters()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	// A task with max_retries=2 makes exactly 3 attempts.
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, attempts, 3)

	// Exponential backoff: at least base, then at least base*2.
	assert.GreaterOrEqual(t, attempts[1].Sub(attempts[0]), 20*time.Millisecond)
	assert.GreaterOrEqual(t, attempts[2].Sub(attempts[1]), 40*time.Millisecond)

	// The final attempt is dead-lettered with its lineage intact.
	dl := engine.DeadLetters()[0]
	assert.Equal(t, queue.StatusDeadLetter, dl.Result.Status)
	assert.Equal(t, task.ID.String(), dl.Task.Tags[queue.TagOriginalTaskID])
	assert.Equal(t, "2", dl.Task.Tags[queue.TagRetryCount])

	// The first attempt was recorded as retrying.
	res, ok := engine.TaskStatus(task.ID)
	require.True(t, ok)
	assert.Equal(t, queue.StatusRetrying, res.Status)
	assert.Equal(t, "boom", res.Error)

	// Nothing remains pending or delayed anywhere.
	m := engine.Metrics()
	assert.Zero(t, m.Pending)
	assert.Zero(t, m.Delayed)
	assert.Zero(t, m.Processing)
	assert.Equal(t, int64(2), m.Retried)
	assert.Equal(t, int64(1), m.DeadLettered)
}

func TestWorkerPool_NonRetryableFailure(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)

	var attempts atomic.Int64
	require.NoError(t, engine.RegisterHandler(queue.NewHandler("fatal",
		func(ctx context.Context, task *queue.Task) (any, error) {
			attempts.Add(1)
			return nil, errors.New("unrecoverable")
		},
		queue.WithOnFailure(func(ctx context.Context, task *queue.Task, err error) bool {
			return false
		}),
	)))

	startPipeline(t, engine)

	task := queue.NewTask("fatal", queue.WithMaxRetries(5))
	_, err := engine.Enqueue(context.Background(), task)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		res, ok := engine.TaskStatus(task.ID)
		return ok && res.Status == queue.StatusDeadLetter
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, int64(1), attempts.Load())
}

func TestWorkerPool_MissingHandler(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)
	require.NoError(t, engine.RegisterHandler(queue.NewHandler("known",
		func(ctx context.Context, task *queue.Task) (any, error) {
			return nil, nil
		},
	)))

	startPipeline(t, engine)

	task := queue.NewTask("unknown")
	_, err := engine.Enqueue(context.Background(), task)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		res, ok := engine.TaskStatus(task.ID)
		return ok && res.Status == queue.StatusDeadLetter
	}, 3*time.Second, 10*time.Millisecond)

	res, _ := engine.TaskStatus(task.ID)
	assert.Contains(t, res.Error, "no handler registered")
}

func TestWorkerPool_HandlerPanic(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)
	require.NoError(t, engine.RegisterHandler(queue.NewHandler("panicky",
		func(ctx context.Context, task *queue.Task) (any, error) {
			panic("kaboom")
		},
		queue.WithOnFailure(func(ctx context.Context, task *queue.Task, err error) bool {
			return false
		}),
	)))

	startPipeline(t, engine)

	task := queue.NewTask("panicky")
	_, err := engine.Enqueue(context.Background(), task)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		res, ok := engine.TaskStatus(task.ID)
		return ok && res.Status == queue.StatusDeadLetter
	}, 3*time.Second, 10*time.Millisecond)

	res, _ := engine.TaskStatus(task.ID)
	assert.Contains(t, res.Error, "panic in handler")
}

func TestWorkerPool_Timeout(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)
	require.NoError(t, engine.RegisterHandler(queue.NewHandler("slow",
		func(ctx context.Context, task *queue.Task) (any, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return "done", nil
			}
		},
		queue.WithOnFailure(func(ctx context.Context, task *queue.Task, err error) bool {
			return false
		}),
	)))

	startPipeline(t, engine)

	task := queue.NewTask("slow", queue.WithTimeout(30*time.Millisecond))
	_, err := engine.Enqueue(context.Background(), task)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		res, ok := engine.TaskStatus(task.ID)
		return ok && res.Status == queue.StatusDeadLetter
	}, 3*time.Second, 10*time.Millisecond)

	res, _ := engine.TaskStatus(task.ID)
	assert.Contains(t, res.Error, "timed out")
}

func TestWorkerPool_HookPanicIsSwallowed(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)
	require.NoError(t, engine.RegisterHandler(queue.NewHandler("hooked",
		func(ctx context.Context, task *queue.Task) (any, error) {
			return "ok", nil
		},
		queue.WithOnSuccess(func(ctx context.Context, task *queue.Task, result any) {
			panic("hook gone wrong")
		}),
	)))

	startPipeline(t, engine)

	task := queue.NewTask("hooked")
	_, err := engine.Enqueue(context.Background(), task)
	require.NoError(t, err)

	// The attempt still completes despite the panicking hook.
	require.Eventually(t, func() bool {
		res, ok := engine.TaskStatus(task.ID)
		return ok && res.Status == queue.StatusCompleted
	}, 3*time.Second, 10*time.Millisecond)
}

func TestWorkerPool_QueueRestriction(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)

	var handled atomic.Int64
	require.NoError(t, engine.RegisterHandler(queue.NewHandler("work",
		func(ctx context.Context, task *queue.Task) (any, error) {
			handled.Add(1)
			return nil, nil
		},
	)))

	startPipeline(t, engine, queue.WithQueues("served"))

	served := queue.NewTask("work", queue.WithQueue("served"))
	ignored := queue.NewTask("work", queue.WithQueue("ignored"))
	ctx := context.Background()
	_, err := engine.Enqueue(ctx, served)
	require.NoError(t, err)
	_, err = engine.Enqueue(ctx, ignored)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		res, ok := engine.TaskStatus(served.ID)
		return ok && res.Status == queue.StatusCompleted
	}, 3*time.Second, 10*time.Millisecond)

	// The other queue is untouched.
	res, ok := engine.TaskStatus(ignored.ID)
	require.True(t, ok)
	assert.Equal(t, queue.StatusPending, res.Status)
	assert.Equal(t, int64(1), handled.Load())
}

func TestWorkerPool_Lifecycle(t *testing.T) {
	t.Parallel()

	t.Run("double start and double stop", func(t *testing.T) {
		t.Parallel()

		engine := newTestEngine(t)
		pool, err := queue.NewWorkerPool(engine, queue.WithWorkerLogger(discardLogger()))
		require.NoError(t, err)

		require.NoError(t, pool.Start(context.Background()))
		assert.Error(t, pool.Start(context.Background()))

		require.NoError(t, pool.Stop())
		assert.Error(t, pool.Stop())
	})

	t.Run("stop drains in-flight work", func(t *testing.T) {
		t.Parallel()

		engine := newTestEngine(t)

		release := make(chan struct{})
		started := make(chan struct{})
		require.NoError(t, engine.RegisterHandler(queue.NewHandler("blocking",
			func(ctx context.Context, task *queue.Task) (any, error) {
				close(started)
				<-release
				return "finished", nil
			},
		)))

		pool, err := queue.NewWorkerPool(engine,
			queue.WithMaxWorkers(1),
			queue.WithPollInterval(5*time.Millisecond),
			queue.WithWorkerLogger(discardLogger()),
		)
		require.NoError(t, err)
		require.NoError(t, pool.Start(context.Background()))

		task := queue.NewTask("blocking")
		_, err = engine.Enqueue(context.Background(), task)
		require.NoError(t, err)

		<-started

		go func() {
			time.Sleep(50 * time.Millisecond)
			close(release)
		}()

		require.NoError(t, pool.Stop())

		res, ok := engine.TaskStatus(task.ID)
		require.True(t, ok)
		assert.Equal(t, queue.StatusCompleted, res.Status)
	})
}
