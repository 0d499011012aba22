package logger_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/queuekit/pkg/logger"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("json output with static attrs", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		log := logger.New(
			logger.WithOutput(&buf),
			logger.WithFormat(logger.FormatJSON),
			logger.WithAttr(slog.String("service", "queue-worker")),
		)

		log.Info("task completed", slog.String("task_id", "abc"))

		var record map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
		assert.Equal(t, "task completed", record["msg"])
		assert.Equal(t, "queue-worker", record["service"])
		assert.Equal(t, "abc", record["task_id"])
	})

	t.Run("text output", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		log := logger.New(
			logger.WithOutput(&buf),
			logger.WithFormat(logger.FormatText),
		)

		log.Info("hello")
		assert.Contains(t, buf.String(), "msg=hello")
	})

	t.Run("level filters records", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		log := logger.New(
			logger.WithOutput(&buf),
			logger.WithLevel(slog.LevelWarn),
		)

		log.Info("dropped")
		assert.Empty(t, buf.String())

		log.Warn("kept")
		assert.Contains(t, buf.String(), "kept")
	})

	t.Run("development preset enables debug", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		log := logger.New(
			logger.WithDevelopment("queuekit"),
			logger.WithOutput(&buf),
		)

		log.Debug("verbose")
		out := buf.String()
		assert.Contains(t, out, "verbose")
		assert.Contains(t, out, "env=development")
	})

	t.Run("invalid format panics", func(t *testing.T) {
		t.Parallel()

		assert.Panics(t, func() {
			logger.New(logger.WithFormat("yaml"))
		})
	})
}

func TestAttrs(t *testing.T) {
	t.Parallel()

	t.Run("error attr", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, slog.Attr{}, logger.Error(nil))
		attr := logger.Error(assert.AnError)
		assert.Equal(t, "error", attr.Key)
	})

	t.Run("task attrs", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, "task_id", logger.TaskID("abc").Key)
		assert.Equal(t, slog.Attr{}, logger.TaskID(nil))
		assert.Equal(t, "queue", logger.Queue("emails").Key)
		assert.Equal(t, slog.Attr{}, logger.Queue(""))
		assert.Equal(t, "worker_id", logger.WorkerID("w1").Key)
		assert.Equal(t, "rule_id", logger.RuleID("r1").Key)
	})

	t.Run("errors group skips nils", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, slog.Attr{}, logger.Errors(nil, nil))
		attr := logger.Errors(assert.AnError, nil)
		assert.Equal(t, "errors", attr.Key)
	})
}
