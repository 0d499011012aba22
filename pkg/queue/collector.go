package queue

import "github.com/prometheus/client_golang/prometheus"

// Collector exposes an engine's metrics snapshot to Prometheus. It is
// registered explicitly by the caller; the package keeps no global registry
// state.
//
//	reg := prometheus.NewRegistry()
//	reg.MustRegister(queue.NewCollector(engine))
type Collector struct {
	engine *Engine

	pending       *prometheus.Desc
	processing    *prometheus.Desc
	delayed       *prometheus.Desc
	completed     *prometheus.Desc
	failed        *prometheus.Desc
	retried       *prometheus.Desc
	cancelled     *prometheus.Desc
	deadLettered  *prometheus.Desc
	deadLetterLen *prometheus.Desc
	rejected      *prometheus.Desc
	throughput    *prometheus.Desc
	avgExecution  *prometheus.Desc
	errorRate     *prometheus.Desc
	activeWorkers *prometheus.Desc
	idleWorkers   *prometheus.Desc
	memoryUsed    *prometheus.Desc
}

// NewCollector creates a Prometheus collector over the engine.
func NewCollector(engine *Engine) *Collector {
	return &Collector{
		engine: engine,
		pending: prometheus.NewDesc("queue_tasks_pending",
			"Tasks waiting in pending heaps.", nil, nil),
		processing: prometheus.NewDesc("queue_tasks_processing",
			"Tasks currently in flight.", nil, nil),
		delayed: prometheus.NewDesc("queue_tasks_delayed",
			"Tasks waiting in the delayed heap.", nil, nil),
		completed: prometheus.NewDesc("queue_tasks_completed_total",
			"Successfully completed attempts.", nil, nil),
		failed: prometheus.NewDesc("queue_tasks_failed_total",
			"Failed attempts.", nil, nil),
		retried: prometheus.NewDesc("queue_tasks_retried_total",
			"Attempts that produced a retry task.", nil, nil),
		cancelled: prometheus.NewDesc("queue_tasks_cancelled_total",
			"Tasks cancelled before dequeue.", nil, nil),
		deadLettered: prometheus.NewDesc("queue_tasks_dead_lettered_total",
			"Tasks moved to the dead-letter store.", nil, nil),
		deadLetterLen: prometheus.NewDesc("queue_dead_letter_size",
			"Current dead-letter store size.", nil, nil),
		rejected: prometheus.NewDesc("queue_tasks_rejected_total",
			"Enqueue calls rejected at admission.", nil, nil),
		throughput: prometheus.NewDesc("queue_throughput_per_second",
			"Completions per second at the last sample.", nil, nil),
		avgExecution: prometheus.NewDesc("queue_avg_execution_seconds",
			"Cumulative average attempt duration.", nil, nil),
		errorRate: prometheus.NewDesc("queue_error_rate",
			"Failed attempts over finished attempts.", nil, nil),
		activeWorkers: prometheus.NewDesc("queue_workers_active",
			"Workers executing a task.", nil, nil),
		idleWorkers: prometheus.NewDesc("queue_workers_idle",
			"Workers waiting for a task.", nil, nil),
		memoryUsed: prometheus.NewDesc("queue_memory_used_bytes",
			"Estimated memory held by queued tasks.", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.pending
	ch <- c.processing
	ch <- c.delayed
	ch <- c.completed
	ch <- c.failed
	ch <- c.retried
	ch <- c.cancelled
	ch <- c.deadLettered
	ch <- c.deadLetterLen
	ch <- c.rejected
	ch <- c.throughput
	ch <- c.avgExecution
	ch <- c.errorRate
	ch <- c.activeWorkers
	ch <- c.idleWorkers
	ch <- c.memoryUsed
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	m := c.engine.Metrics()

	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}
	counter := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v)
	}

	gauge(c.pending, float64(m.Pending))
	gauge(c.processing, float64(m.Processing))
	gauge(c.delayed, float64(m.Delayed))
	counter(c.completed, float64(m.Completed))
	counter(c.failed, float64(m.Failed))
	counter(c.retried, float64(m.Retried))
	counter(c.cancelled, float64(m.Cancelled))
	counter(c.deadLettered, float64(m.DeadLettered))
	gauge(c.deadLetterLen, float64(m.DeadLetterLen))
	counter(c.rejected, float64(m.Rejected))
	gauge(c.throughput, m.ThroughputPerSec)
	gauge(c.avgExecution, m.AvgExecutionTime.Seconds())
	gauge(c.errorRate, m.ErrorRate)
	gauge(c.activeWorkers, float64(m.ActiveWorkers))
	gauge(c.idleWorkers, float64(m.IdleWorkers))
	gauge(c.memoryUsed, float64(m.MemoryUsed))
}
