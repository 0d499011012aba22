package queue

import "time"

// Config holds the engine and worker pool configuration loadable from the
// environment.
type Config struct {
	MaxWorkers        int           `env:"QUEUE_MAX_WORKERS" envDefault:"4"`
	PollInterval      time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"250ms"`
	DefaultTimeout    time.Duration `env:"QUEUE_DEFAULT_TIMEOUT" envDefault:"5m"`
	MaxQueueSize      int           `env:"QUEUE_MAX_QUEUE_SIZE" envDefault:"10000"`
	MemoryLimit       int64         `env:"QUEUE_MEMORY_LIMIT" envDefault:"268435456"`
	ResultRetention   time.Duration `env:"QUEUE_RESULT_RETENTION" envDefault:"1h"`
	DeadLetterTTL     time.Duration `env:"QUEUE_DEAD_LETTER_TTL" envDefault:"24h"`
	PromoteInterval   time.Duration `env:"QUEUE_PROMOTE_INTERVAL" envDefault:"100ms"`
	SweepInterval     time.Duration `env:"QUEUE_SWEEP_INTERVAL" envDefault:"1m"`
	SchedulerInterval time.Duration `env:"QUEUE_SCHEDULER_INTERVAL" envDefault:"1s"`
}
