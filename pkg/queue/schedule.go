package queue

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Rule is a time-based task generator: a cron grid, a fixed interval, or a
// one-shot future time, optionally bounded by a start/end window and a
// maximum run count.
type Rule struct {
	ID         uuid.UUID         `json:"id"`
	Name       string            `json:"name"`
	TaskType   string            `json:"task_type"`
	Queue      string            `json:"queue"`
	Payload    map[string]any    `json:"payload,omitempty"`
	Priority   Priority          `json:"priority"`
	MaxRetries int               `json:"max_retries"`
	Tags       map[string]string `json:"tags,omitempty"`

	CronExpr string        `json:"cron_expr,omitempty"`
	Interval time.Duration `json:"interval,omitempty"`
	RunAt    *time.Time    `json:"run_at,omitempty"`

	StartAt *time.Time `json:"start_at,omitempty"`
	EndAt   *time.Time `json:"end_at,omitempty"`
	MaxRuns int        `json:"max_runs,omitempty"`

	Enabled  bool       `json:"enabled"`
	LastRun  *time.Time `json:"last_run,omitempty"`
	NextRun  *time.Time `json:"next_run,omitempty"`
	RunCount int        `json:"run_count"`

	cronSchedule cron.Schedule
}

// RuleOption customizes a rule built by one of the rule constructors.
type RuleOption func(*Rule)

// WithRuleQueue routes produced tasks to a named queue.
func WithRuleQueue(queue string) RuleOption {
	return func(r *Rule) {
		if queue != "" {
			r.Queue = queue
		}
	}
}

// WithRulePriority sets the priority of produced tasks.
func WithRulePriority(priority Priority) RuleOption {
	return func(r *Rule) {
		if priority.Valid() {
			r.Priority = priority
		}
	}
}

// WithRulePayload sets the payload template copied into every produced task.
func WithRulePayload(payload map[string]any) RuleOption {
	return func(r *Rule) {
		r.Payload = payload
	}
}

// WithRuleMaxRetries sets max retries on produced tasks.
func WithRuleMaxRetries(n int) RuleOption {
	return func(r *Rule) {
		if n >= 0 {
			r.MaxRetries = n
		}
	}
}

// WithRuleTag attaches a tag propagated to every produced task.
func WithRuleTag(key, value string) RuleOption {
	return func(r *Rule) {
		if r.Tags == nil {
			r.Tags = make(map[string]string)
		}
		r.Tags[key] = value
	}
}

// WithStartAt delays the first fire until the given time.
func WithStartAt(at time.Time) RuleOption {
	return func(r *Rule) {
		r.StartAt = &at
	}
}

// WithEndAt stops the rule from firing at or after the given time.
func WithEndAt(at time.Time) RuleOption {
	return func(r *Rule) {
		r.EndAt = &at
	}
}

// WithMaxRuns caps the total number of fires.
func WithMaxRuns(n int) RuleOption {
	return func(r *Rule) {
		if n > 0 {
			r.MaxRuns = n
		}
	}
}

// WithDisabled creates the rule disabled; it will not fire until enabled.
func WithDisabled() RuleOption {
	return func(r *Rule) {
		r.Enabled = false
	}
}

func newRule(name, taskType string, opts ...RuleOption) *Rule {
	r := &Rule{
		ID:         uuid.New(),
		Name:       name,
		TaskType:   taskType,
		Queue:      DefaultQueueName,
		Priority:   PriorityDefault,
		MaxRetries: 3,
		Enabled:    true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewCronRule creates a rule firing on a standard five-field cron grid.
// An invalid expression is a construction-time error, never a runtime one.
func NewCronRule(name, expr, taskType string, opts ...RuleOption) (*Rule, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidCronExpr, expr, err)
	}

	r := newRule(name, taskType, opts...)
	r.CronExpr = expr
	r.cronSchedule = schedule
	r.Reschedule(time.Now())
	return r, nil
}

// NewIntervalRule creates a rule firing every interval, first fire one
// interval after creation.
func NewIntervalRule(name string, interval time.Duration, taskType string, opts ...RuleOption) (*Rule, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("%w: interval must be positive", ErrNoTrigger)
	}

	r := newRule(name, taskType, opts...)
	r.Interval = interval
	r.Reschedule(time.Now())
	return r, nil
}

// NewOnceRule creates a rule firing exactly once at the given time.
func NewOnceRule(name string, at time.Time, taskType string, opts ...RuleOption) (*Rule, error) {
	r := newRule(name, taskType, opts...)
	r.RunAt = &at
	r.MaxRuns = 1
	r.Reschedule(time.Now())
	return r, nil
}

// CalculateNextRun computes the earliest future fire time consistent with the
// rule's enabled flag, window bounds, and run cap. Nil means the rule will
// never fire again.
func (r *Rule) CalculateNextRun(from time.Time) *time.Time {
	if !r.Enabled {
		return nil
	}
	if r.MaxRuns > 0 && r.RunCount >= r.MaxRuns {
		return nil
	}
	if r.EndAt != nil && !from.Before(*r.EndAt) {
		return nil
	}
	if r.StartAt != nil && from.Before(*r.StartAt) {
		from = *r.StartAt
	}

	var candidate time.Time
	switch {
	case r.cronSchedule != nil:
		candidate = r.cronSchedule.Next(from)
	case r.Interval > 0:
		if r.LastRun != nil {
			candidate = r.LastRun.Add(r.Interval)
		} else {
			candidate = from.Add(r.Interval)
		}
	case r.RunAt != nil:
		candidate = *r.RunAt
	default:
		return nil
	}

	if r.EndAt != nil && !candidate.Before(*r.EndAt) {
		return nil
	}
	return &candidate
}

// ShouldRun reports whether the rule is due at now.
func (r *Rule) ShouldRun(now time.Time) bool {
	if !r.Enabled || r.NextRun == nil {
		return false
	}
	if r.StartAt != nil && now.Before(*r.StartAt) {
		return false
	}
	if r.EndAt != nil && !now.Before(*r.EndAt) {
		return false
	}
	if r.MaxRuns > 0 && r.RunCount >= r.MaxRuns {
		return false
	}
	return !now.Before(*r.NextRun)
}

// MarkRun records a fire at now and advances the schedule.
func (r *Rule) MarkRun(now time.Time) {
	r.RunCount++
	fired := now
	r.LastRun = &fired
	r.NextRun = r.CalculateNextRun(now)
}

// Reschedule recomputes NextRun from the given time, used after creation and
// after enable/disable/update transitions.
func (r *Rule) Reschedule(from time.Time) {
	r.NextRun = r.CalculateNextRun(from)
}

// validate checks the rule has exactly the state a scheduler can evaluate.
func (r *Rule) validate() error {
	if r.TaskType == "" {
		return fmt.Errorf("%w: rule %q has no task type", ErrNoTrigger, r.Name)
	}
	if r.cronSchedule == nil && r.CronExpr != "" {
		schedule, err := cron.ParseStandard(r.CronExpr)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidCronExpr, r.CronExpr, err)
		}
		r.cronSchedule = schedule
	}
	if r.cronSchedule == nil && r.Interval <= 0 && r.RunAt == nil {
		return fmt.Errorf("%w: rule %q", ErrNoTrigger, r.Name)
	}
	return nil
}
