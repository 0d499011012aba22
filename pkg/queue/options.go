package queue

import (
	"log/slog"
	"time"
)

// EngineOption is a functional option for configuring an Engine.
type EngineOption func(*engineOptions)

type engineOptions struct {
	maxQueueSize    int
	memoryLimit     int64
	resultRetention time.Duration
	deadLetterTTL   time.Duration
	promoteInterval time.Duration
	sweepInterval   time.Duration
	sampleInterval  time.Duration
	rateLimits      map[string]int
	logger          *slog.Logger
}

func defaultEngineOptions() *engineOptions {
	return &engineOptions{
		maxQueueSize:    10_000,
		memoryLimit:     256 << 20,
		resultRetention: time.Hour,
		deadLetterTTL:   24 * time.Hour,
		promoteInterval: 100 * time.Millisecond,
		sweepInterval:   time.Minute,
		sampleInterval:  10 * time.Second,
		rateLimits:      make(map[string]int),
		logger:          slog.Default(),
	}
}

// WithMaxQueueSize caps the number of pending tasks per named queue.
// Zero or negative disables the cap.
func WithMaxQueueSize(n int) EngineOption {
	return func(o *engineOptions) {
		o.maxQueueSize = n
	}
}

// WithMemoryLimit caps the engine-wide estimated task memory in bytes.
// Zero or negative disables the cap.
func WithMemoryLimit(bytes int64) EngineOption {
	return func(o *engineOptions) {
		o.memoryLimit = bytes
	}
}

// WithResultRetention bounds how long completed results are kept.
func WithResultRetention(d time.Duration) EngineOption {
	return func(o *engineOptions) {
		if d > 0 {
			o.resultRetention = d
		}
	}
}

// WithDeadLetterTTL bounds how long dead-letter entries are kept.
func WithDeadLetterTTL(d time.Duration) EngineOption {
	return func(o *engineOptions) {
		if d > 0 {
			o.deadLetterTTL = d
		}
	}
}

// WithPromoteInterval sets how often ready delayed tasks are promoted.
func WithPromoteInterval(d time.Duration) EngineOption {
	return func(o *engineOptions) {
		if d > 0 {
			o.promoteInterval = d
		}
	}
}

// WithSweepInterval sets how often expired dead letters and results are evicted.
func WithSweepInterval(d time.Duration) EngineOption {
	return func(o *engineOptions) {
		if d > 0 {
			o.sweepInterval = d
		}
	}
}

// WithSampleInterval sets how often the throughput gauge is refreshed.
func WithSampleInterval(d time.Duration) EngineOption {
	return func(o *engineOptions) {
		if d > 0 {
			o.sampleInterval = d
		}
	}
}

// WithRateLimit caps admissions for a queue to limit per rolling second.
func WithRateLimit(queue string, limit int) EngineOption {
	return func(o *engineOptions) {
		if queue != "" && limit > 0 {
			o.rateLimits[queue] = limit
		}
	}
}

// WithEngineLogger sets the logger for the engine.
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(o *engineOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithConfig applies an env-loaded Config to the engine.
func WithConfig(cfg Config) EngineOption {
	return func(o *engineOptions) {
		if cfg.MaxQueueSize != 0 {
			o.maxQueueSize = cfg.MaxQueueSize
		}
		if cfg.MemoryLimit != 0 {
			o.memoryLimit = cfg.MemoryLimit
		}
		if cfg.ResultRetention > 0 {
			o.resultRetention = cfg.ResultRetention
		}
		if cfg.DeadLetterTTL > 0 {
			o.deadLetterTTL = cfg.DeadLetterTTL
		}
		if cfg.PromoteInterval > 0 {
			o.promoteInterval = cfg.PromoteInterval
		}
		if cfg.SweepInterval > 0 {
			o.sweepInterval = cfg.SweepInterval
		}
	}
}
