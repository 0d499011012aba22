package queue

import "errors"

// Common errors
var (
	// ErrEngineNil is returned when a nil engine is provided
	ErrEngineNil = errors.New("engine cannot be nil")

	// ErrTaskNil is returned when attempting to enqueue a nil task
	ErrTaskNil = errors.New("task cannot be nil")

	// ErrEnqueuerNil is returned when a nil enqueuer is provided
	ErrEnqueuerNil = errors.New("enqueuer cannot be nil")

	// ErrInvalidPriority is returned when priority is not a defined level
	ErrInvalidPriority = errors.New("priority is not a valid level")

	// ErrEngineStopped is returned when an operation requires a running engine
	ErrEngineStopped = errors.New("engine is not running")

	// ErrQueueFull is returned when a named queue is at its task-count limit
	ErrQueueFull = errors.New("queue is at capacity")

	// ErrMemoryLimitExceeded is returned when admission would exceed the engine memory limit
	ErrMemoryLimitExceeded = errors.New("engine memory limit exceeded")

	// ErrRateLimitExceeded is returned when a queue's admission window is exhausted
	ErrRateLimitExceeded = errors.New("queue rate limit exceeded")

	// ErrNoTaskReady is returned by Dequeue when no task is due
	ErrNoTaskReady = errors.New("no task ready for processing")

	// ErrHandlerNil is returned when registering a nil handler
	ErrHandlerNil = errors.New("handler cannot be nil")

	// ErrHandlerNotFound is returned when no handler is registered for a task type
	ErrHandlerNotFound = errors.New("no handler registered for task type")

	// ErrHandlerAlreadyRegistered is returned when a task type already has a handler
	ErrHandlerAlreadyRegistered = errors.New("handler already registered for task type")

	// ErrTaskTimeout is returned when a handler exceeds the task's execution timeout
	ErrTaskTimeout = errors.New("task execution timed out")

	// ErrRuleNil is returned when a nil schedule rule is provided
	ErrRuleNil = errors.New("schedule rule cannot be nil")

	// ErrRuleNotFound is returned when a schedule rule id is unknown
	ErrRuleNotFound = errors.New("schedule rule not found")

	// ErrRuleAlreadyExists is returned when adding a rule with a duplicate id
	ErrRuleAlreadyExists = errors.New("schedule rule already exists")

	// ErrInvalidCronExpr is returned when a cron expression fails to parse
	ErrInvalidCronExpr = errors.New("invalid cron expression")

	// ErrNoTrigger is returned when a rule has neither cron, interval, nor run-at trigger
	ErrNoTrigger = errors.New("schedule rule has no trigger")
)
