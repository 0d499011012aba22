// Package logger builds configured slog.Logger instances for the queue
// engine and its operators.
//
// The factory applies environment presets and static attributes so every
// component logs in a consistent shape:
//
//	log := logger.New(logger.WithProduction("queue-worker"))
//	logger.SetAsDefault(log)
//
// The attribute helpers keep key names uniform across call sites:
//
//	log.Error("task failed", logger.TaskID(task.ID), logger.Error(err))
package logger
