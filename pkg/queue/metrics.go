package queue

import "time"

// Metrics is a point-in-time snapshot of engine counters. All counts are
// process-wide; per-queue depth is available through QueueInfo.
type Metrics struct {
	Pending       int64 `json:"pending"`
	Processing    int64 `json:"processing"`
	Delayed       int64 `json:"delayed"`
	Completed     int64 `json:"completed"`
	Failed        int64 `json:"failed"`
	Retried       int64 `json:"retried"`
	Cancelled     int64 `json:"cancelled"`
	DeadLettered  int64 `json:"dead_lettered"`
	DeadLetterLen int64 `json:"dead_letter_len"`
	Rejected      int64 `json:"rejected"`

	// ThroughputPerSec is the completion rate observed by the most recent
	// metrics sample.
	ThroughputPerSec float64 `json:"throughput_per_sec"`

	// AvgExecutionTime is a cumulative moving average across completed and
	// failed attempts.
	AvgExecutionTime time.Duration `json:"avg_execution_time"`

	// ErrorRate is failed attempts over all finished attempts, in [0, 1].
	ErrorRate float64 `json:"error_rate"`

	ActiveWorkers int64 `json:"active_workers"`
	IdleWorkers   int64 `json:"idle_workers"`

	MemoryUsed  int64 `json:"memory_used"`
	MemoryLimit int64 `json:"memory_limit"`
}

// counters holds the mutable engine accounting. Mutated only under the
// engine mutex; the sampler derives throughput from completion deltas.
type counters struct {
	pending      int64
	processing   int64
	delayed      int64
	completed    int64
	failed       int64
	retried      int64
	cancelled    int64
	deadLettered int64
	rejected     int64

	execTotal    time.Duration
	execSamples  int64
	throughput   float64
	lastSampled  time.Time
	lastComplete int64
}

// observeExecution folds one finished attempt into the moving average.
func (c *counters) observeExecution(d time.Duration) {
	c.execTotal += d
	c.execSamples++
}

func (c *counters) avgExecution() time.Duration {
	if c.execSamples == 0 {
		return 0
	}
	return c.execTotal / time.Duration(c.execSamples)
}

func (c *counters) errorRate() float64 {
	finished := c.completed + c.failed
	if finished == 0 {
		return 0
	}
	return float64(c.failed) / float64(finished)
}

// sample recomputes throughput from completions since the previous sample.
func (c *counters) sample(now time.Time) {
	if !c.lastSampled.IsZero() {
		elapsed := now.Sub(c.lastSampled).Seconds()
		if elapsed > 0 {
			c.throughput = float64(c.completed-c.lastComplete) / elapsed
		}
	}
	c.lastSampled = now
	c.lastComplete = c.completed
}
