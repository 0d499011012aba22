package queue

import (
	"log/slog"
	"time"
)

// WorkerOption is a functional option for configuring a worker pool.
type WorkerOption func(*workerOptions)

type workerOptions struct {
	queues            []string
	maxWorkers        int
	pollInterval      time.Duration
	defaultTimeout    time.Duration
	backoffMultiplier float64
	logger            *slog.Logger
}

// WithQueues restricts the pool to specific named queues. Without it the
// pool round-robins across every queue the engine knows.
func WithQueues(queues ...string) WorkerOption {
	return func(o *workerOptions) {
		o.queues = queues
	}
}

// WithMaxWorkers sets the number of concurrent workers.
func WithMaxWorkers(n int) WorkerOption {
	return func(o *workerOptions) {
		if n > 0 {
			o.maxWorkers = n
		}
	}
}

// WithPollInterval sets how long an idle worker sleeps between claims.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithDefaultTimeout bounds attempts for tasks without their own timeout.
func WithDefaultTimeout(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.defaultTimeout = d
		}
	}
}

// WithBackoffMultiplier sets the exponential retry backoff multiplier.
func WithBackoffMultiplier(m float64) WorkerOption {
	return func(o *workerOptions) {
		if m >= 1 {
			o.backoffMultiplier = m
		}
	}
}

// WithWorkerLogger sets the logger for the pool.
func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(o *workerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithWorkerConfig applies an env-loaded Config to the pool.
func WithWorkerConfig(cfg Config) WorkerOption {
	return func(o *workerOptions) {
		if cfg.MaxWorkers > 0 {
			o.maxWorkers = cfg.MaxWorkers
		}
		if cfg.PollInterval > 0 {
			o.pollInterval = cfg.PollInterval
		}
		if cfg.DefaultTimeout > 0 {
			o.defaultTimeout = cfg.DefaultTimeout
		}
	}
}
