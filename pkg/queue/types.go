package queue

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// DefaultQueueName is the queue used when a task does not name one.
const DefaultQueueName = "default"

// Priority orders tasks that share a due time (higher runs first).
type Priority int

// Priority levels
const (
	PriorityLow      Priority = 1
	PriorityNormal   Priority = 5
	PriorityHigh     Priority = 10
	PriorityCritical Priority = 20
	PriorityDefault  Priority = PriorityNormal
)

// Valid checks if the priority is one of the defined levels.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRetrying   Status = "retrying"
	StatusCancelled  Status = "cancelled"
	StatusDeadLetter Status = "dead_letter"
)

// Terminal reports whether the status is a final state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusDeadLetter:
		return true
	}
	return false
}

// Well-known tag keys used to carry retry lineage and scheduler provenance.
const (
	TagOriginalTaskID = "original_task_id"
	TagRetryCount     = "retry_count"
	TagScheduled      = "scheduled"
	TagRuleID         = "rule_id"
	TagRuleName       = "rule_name"
)

// Task represents one unit of deferred work.
//
// A task is immutable once enqueued; retry attempts produce a new Task with a
// fresh ID that carries lineage in its Tags.
type Task struct {
	ID          uuid.UUID         `json:"id"`
	Queue       string            `json:"queue"`
	Type        string            `json:"type"`
	Payload     map[string]any    `json:"payload,omitempty"`
	Priority    Priority          `json:"priority"`
	Delay       time.Duration     `json:"delay,omitempty"`
	ScheduledAt *time.Time        `json:"scheduled_at,omitempty"`
	MaxRetries  int               `json:"max_retries"`
	RetryDelay  time.Duration     `json:"retry_delay"`
	Timeout     time.Duration     `json:"timeout,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// TaskOption customizes a task built by NewTask.
type TaskOption func(*Task)

// WithQueue routes the task to a named queue.
func WithQueue(queue string) TaskOption {
	return func(t *Task) {
		if queue != "" {
			t.Queue = queue
		}
	}
}

// WithPriority sets the task priority.
func WithPriority(priority Priority) TaskOption {
	return func(t *Task) {
		if priority.Valid() {
			t.Priority = priority
		}
	}
}

// WithPayload sets the opaque payload map.
func WithPayload(payload map[string]any) TaskOption {
	return func(t *Task) {
		t.Payload = payload
	}
}

// WithDelay defers the task's due time relative to admission.
func WithDelay(delay time.Duration) TaskOption {
	return func(t *Task) {
		if delay > 0 {
			t.Delay = delay
		}
	}
}

// WithScheduledAt sets an absolute due time. Takes precedence over WithDelay.
func WithScheduledAt(at time.Time) TaskOption {
	return func(t *Task) {
		t.ScheduledAt = &at
	}
}

// WithMaxRetries sets how many retry attempts follow the first failure.
func WithMaxRetries(n int) TaskOption {
	return func(t *Task) {
		if n >= 0 {
			t.MaxRetries = n
		}
	}
}

// WithRetryDelay sets the base backoff between retry attempts.
func WithRetryDelay(d time.Duration) TaskOption {
	return func(t *Task) {
		if d > 0 {
			t.RetryDelay = d
		}
	}
}

// WithTimeout bounds a single execution attempt.
func WithTimeout(d time.Duration) TaskOption {
	return func(t *Task) {
		if d > 0 {
			t.Timeout = d
		}
	}
}

// WithTag attaches a single tag to the task.
func WithTag(key, value string) TaskOption {
	return func(t *Task) {
		if t.Tags == nil {
			t.Tags = make(map[string]string)
		}
		t.Tags[key] = value
	}
}

// NewTask builds a task of the given type with defaults applied.
func NewTask(taskType string, opts ...TaskOption) *Task {
	t := &Task{
		ID:         uuid.New(),
		Queue:      DefaultQueueName,
		Type:       taskType,
		Priority:   PriorityDefault,
		MaxRetries: 3,
		RetryDelay: 30 * time.Second,
		CreatedAt:  time.Now(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// dueTime resolves the instant the task becomes eligible for dequeue.
// An absolute ScheduledAt wins over a relative Delay; neither means "now".
func (t *Task) dueTime(now time.Time) time.Time {
	if t.ScheduledAt != nil {
		return *t.ScheduledAt
	}
	if t.Delay > 0 {
		return now.Add(t.Delay)
	}
	return now
}

// retryCount reads the attempt counter carried in the task's tags.
func (t *Task) retryCount() int {
	if t.Tags == nil {
		return 0
	}
	n, err := strconv.Atoi(t.Tags[TagRetryCount])
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// originalID resolves the first task of a retry chain.
func (t *Task) originalID() string {
	if t.Tags != nil {
		if id := t.Tags[TagOriginalTaskID]; id != "" {
			return id
		}
	}
	return t.ID.String()
}

// newRetryTask derives the next attempt from a failed task: fresh ID, same
// type/queue/payload, lineage tags, and the computed backoff as its delay.
func newRetryTask(t *Task, backoff time.Duration) *Task {
	tags := make(map[string]string, len(t.Tags)+2)
	for k, v := range t.Tags {
		tags[k] = v
	}
	tags[TagOriginalTaskID] = t.originalID()
	tags[TagRetryCount] = strconv.Itoa(t.retryCount() + 1)

	return &Task{
		ID:         uuid.New(),
		Queue:      t.Queue,
		Type:       t.Type,
		Payload:    t.Payload,
		Priority:   t.Priority,
		Delay:      backoff,
		MaxRetries: t.MaxRetries,
		RetryDelay: t.RetryDelay,
		Timeout:    t.Timeout,
		Tags:       tags,
		CreatedAt:  time.Now(),
	}
}

// estimateSize approximates the task's in-memory footprint for admission
// accounting. Intentionally rough: a fixed overhead plus payload and tag bytes.
func (t *Task) estimateSize() int64 {
	size := int64(256)
	for k, v := range t.Payload {
		size += int64(len(k)) + 16
		switch val := v.(type) {
		case string:
			size += int64(len(val))
		case []byte:
			size += int64(len(val))
		default:
			size += 8
		}
	}
	for k, v := range t.Tags {
		size += int64(len(k) + len(v))
	}
	return size
}

// Result records the outcome of a single execution attempt.
type Result struct {
	TaskID        uuid.UUID     `json:"task_id"`
	Queue         string        `json:"queue"`
	Status        Status        `json:"status"`
	Value         any           `json:"value,omitempty"`
	Error         string        `json:"error,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	CompletedAt   time.Time     `json:"completed_at"`
	ExecutionTime time.Duration `json:"execution_time"`
	RetryCount    int           `json:"retry_count"`
	WorkerID      string        `json:"worker_id,omitempty"`
}
