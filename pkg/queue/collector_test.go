package queue_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/queuekit/pkg/queue"
)

func TestCollector(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t)
	ctx := context.Background()

	for range 3 {
		_, err := engine.Enqueue(ctx, queue.NewTask("work", queue.WithQueue("q")))
		require.NoError(t, err)
	}
	_, err := engine.Dequeue(ctx, "q")
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(queue.NewCollector(engine)))

	families, err := reg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetGauge() != nil:
				values[mf.GetName()] = m.GetGauge().GetValue()
			case m.GetCounter() != nil:
				values[mf.GetName()] = m.GetCounter().GetValue()
			}
		}
	}

	assert.Equal(t, float64(2), values["queue_tasks_pending"])
	assert.Equal(t, float64(1), values["queue_tasks_processing"])
	assert.Contains(t, values, "queue_tasks_completed_total")
	assert.Contains(t, values, "queue_workers_idle")
	assert.Positive(t, values["queue_memory_used_bytes"])
}
