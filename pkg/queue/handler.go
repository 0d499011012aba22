package queue

import "context"

type (
	// Handler executes tasks of one type and decides how failures are treated.
	Handler interface {
		// Name returns the task type this handler serves.
		Name() string

		// Handle executes the task and returns an opaque result value.
		Handle(ctx context.Context, task *Task) (any, error)

		// OnSuccess is invoked after a successful attempt.
		OnSuccess(ctx context.Context, task *Task, result any)

		// OnFailure is invoked after a failed attempt and reports whether the
		// task should be retried.
		OnFailure(ctx context.Context, task *Task, err error) bool
	}

	// HandlerFunc is the execution function adapted by NewHandler.
	HandlerFunc func(ctx context.Context, task *Task) (any, error)

	// SuccessHook observes successful attempts.
	SuccessHook func(ctx context.Context, task *Task, result any)

	// FailureHook observes failed attempts and decides retry eligibility.
	FailureHook func(ctx context.Context, task *Task, err error) bool
)

// HandlerOption customizes a handler built by NewHandler.
type HandlerOption func(*funcHandler)

// WithOnSuccess attaches a success hook.
func WithOnSuccess(hook SuccessHook) HandlerOption {
	return func(h *funcHandler) {
		if hook != nil {
			h.onSuccess = hook
		}
	}
}

// WithOnFailure attaches a failure hook controlling the retry decision.
func WithOnFailure(hook FailureHook) HandlerOption {
	return func(h *funcHandler) {
		if hook != nil {
			h.onFailure = hook
		}
	}
}

// NewHandler adapts a function into a Handler for the given task type.
// Without a failure hook every failure is considered retryable.
func NewHandler(taskType string, fn HandlerFunc, opts ...HandlerOption) Handler {
	h := &funcHandler{
		name:    taskType,
		handler: fn,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type funcHandler struct {
	name      string
	handler   HandlerFunc
	onSuccess SuccessHook
	onFailure FailureHook
}

func (h *funcHandler) Name() string {
	return h.name
}

func (h *funcHandler) Handle(ctx context.Context, task *Task) (any, error) {
	return h.handler(ctx, task)
}

func (h *funcHandler) OnSuccess(ctx context.Context, task *Task, result any) {
	if h.onSuccess != nil {
		h.onSuccess(ctx, task, result)
	}
}

func (h *funcHandler) OnFailure(ctx context.Context, task *Task, err error) bool {
	if h.onFailure != nil {
		return h.onFailure(ctx, task, err)
	}
	return true
}
