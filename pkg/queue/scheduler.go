package queue

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Scheduler evaluates schedule rules on a fixed tick and enqueues a task for
// every due rule. It talks to the engine only through the Enqueuer surface.
type Scheduler struct {
	enqueuer Enqueuer
	rules    map[uuid.UUID]*Rule
	mu       sync.Mutex
	interval time.Duration
	logger   *slog.Logger

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   atomic.Bool
}

// RuleRun pairs a rule with its next fire time, for NextRuns.
type RuleRun struct {
	RuleID uuid.UUID `json:"rule_id"`
	Name   string    `json:"name"`
	At     time.Time `json:"at"`
}

// NewScheduler creates a scheduler feeding the given enqueuer.
func NewScheduler(enqueuer Enqueuer, opts ...SchedulerOption) (*Scheduler, error) {
	if enqueuer == nil {
		return nil, ErrEnqueuerNil
	}

	options := &schedulerOptions{
		tickInterval: time.Second,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Scheduler{
		enqueuer: enqueuer,
		rules:    make(map[uuid.UUID]*Rule),
		interval: options.tickInterval,
		logger:   options.logger,
	}, nil
}

// AddRule registers a rule. The rule's NextRun is computed if unset.
func (s *Scheduler) AddRule(rule *Rule) error {
	if rule == nil {
		return ErrRuleNil
	}
	if err := rule.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[rule.ID]; exists {
		return fmt.Errorf("%w: %s", ErrRuleAlreadyExists, rule.ID)
	}
	if rule.NextRun == nil && rule.Enabled {
		rule.Reschedule(time.Now())
	}
	s.rules[rule.ID] = rule

	s.logger.Info("schedule rule added",
		slog.String("rule_id", rule.ID.String()),
		slog.String("rule_name", rule.Name),
		slog.String("task_type", rule.TaskType))

	return nil
}

// RemoveRule deletes a rule, reporting whether it existed.
func (s *Scheduler) RemoveRule(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[id]; !ok {
		return false
	}
	delete(s.rules, id)

	s.logger.Info("schedule rule removed", slog.String("rule_id", id.String()))
	return true
}

// EnableRule re-enables a rule and recomputes its next fire time.
func (s *Scheduler) EnableRule(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.rules[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	rule.Enabled = true
	rule.Reschedule(time.Now())
	return nil
}

// DisableRule stops a rule from firing until re-enabled.
func (s *Scheduler) DisableRule(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, ok := s.rules[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	rule.Enabled = false
	rule.NextRun = nil
	return nil
}

// UpdateRule replaces a registered rule in place, keyed by its ID.
func (s *Scheduler) UpdateRule(rule *Rule) error {
	if rule == nil {
		return ErrRuleNil
	}
	if err := rule.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[rule.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, rule.ID)
	}
	rule.Reschedule(time.Now())
	s.rules[rule.ID] = rule
	return nil
}

// Rules returns a snapshot of all registered rules.
func (s *Scheduler) Rules() []Rule {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, *r)
	}
	return out
}

// NextRuns returns the upcoming fires across all rules, soonest first,
// capped at limit.
func (s *Scheduler) NextRuns(limit int) []RuleRun {
	s.mu.Lock()
	defer s.mu.Unlock()

	runs := make([]RuleRun, 0, len(s.rules))
	for _, r := range s.rules {
		if r.NextRun == nil {
			continue
		}
		runs = append(runs, RuleRun{RuleID: r.ID, Name: r.Name, At: *r.NextRun})
	}
	slices.SortFunc(runs, func(a, b RuleRun) int {
		return a.At.Compare(b.At)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs
}

// Convenience constructors that build and register in one call.

// Cron registers a cron rule and returns its id.
func (s *Scheduler) Cron(expr, taskType string, opts ...RuleOption) (uuid.UUID, error) {
	rule, err := NewCronRule(taskType, expr, taskType, opts...)
	if err != nil {
		return uuid.Nil, err
	}
	if err := s.AddRule(rule); err != nil {
		return uuid.Nil, err
	}
	return rule.ID, nil
}

// Every registers an interval rule and returns its id.
func (s *Scheduler) Every(interval time.Duration, taskType string, opts ...RuleOption) (uuid.UUID, error) {
	rule, err := NewIntervalRule(taskType, interval, taskType, opts...)
	if err != nil {
		return uuid.Nil, err
	}
	if err := s.AddRule(rule); err != nil {
		return uuid.Nil, err
	}
	return rule.ID, nil
}

// Once registers a one-shot rule and returns its id.
func (s *Scheduler) Once(at time.Time, taskType string, opts ...RuleOption) (uuid.UUID, error) {
	rule, err := NewOnceRule(taskType, at, taskType, opts...)
	if err != nil {
		return uuid.Nil, err
	}
	if err := s.AddRule(rule); err != nil {
		return uuid.Nil, err
	}
	return rule.ID, nil
}

// Start launches the tick loop. It fails if the scheduler is already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.running.Load() {
		return fmt.Errorf("scheduler already started")
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.running.Store(true)

	s.wg.Add(1)
	go s.run(ctx)

	s.logger.Info("scheduler started", slog.Duration("tick_interval", s.interval))
	return nil
}

// Stop halts the tick loop and waits for it to exit.
func (s *Scheduler) Stop() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if !s.running.Load() {
		return fmt.Errorf("scheduler not started")
	}

	s.cancel()
	s.wg.Wait()
	s.running.Store(false)

	s.logger.Info("scheduler stopped")
	return nil
}

// Run returns a function suitable for errgroup: start, block on ctx, stop.
func (s *Scheduler) Run(ctx context.Context) func() error {
	return func() error {
		if err := s.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return s.Stop()
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Tick(ctx, now)
		}
	}
}

// Tick evaluates every rule once against now, enqueueing a task for each due
// rule. A rule whose enqueue fails is left due so the next tick retries it
// instead of silently advancing the schedule.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	due := make([]*Rule, 0)
	for _, r := range s.rules {
		if r.ShouldRun(now) {
			due = append(due, r)
		}
	}
	s.mu.Unlock()

	for _, rule := range due {
		task := s.buildTask(rule, now)

		if _, err := s.enqueuer.Enqueue(ctx, task); err != nil {
			s.logger.Error("failed to enqueue scheduled task",
				slog.String("rule_id", rule.ID.String()),
				slog.String("rule_name", rule.Name),
				slog.String("error", err.Error()))
			continue
		}

		s.mu.Lock()
		rule.MarkRun(now)
		s.mu.Unlock()

		s.logger.Debug("scheduled task enqueued",
			slog.String("rule_id", rule.ID.String()),
			slog.String("rule_name", rule.Name),
			slog.String("task_id", task.ID.String()),
			slog.Int("run_count", rule.RunCount))
	}
}

// buildTask synthesizes a task from the rule's template.
func (s *Scheduler) buildTask(rule *Rule, now time.Time) *Task {
	var payload map[string]any
	if rule.Payload != nil {
		payload = make(map[string]any, len(rule.Payload))
		for k, v := range rule.Payload {
			payload[k] = v
		}
	}

	tags := make(map[string]string, len(rule.Tags)+3)
	for k, v := range rule.Tags {
		tags[k] = v
	}
	tags[TagScheduled] = "true"
	tags[TagRuleID] = rule.ID.String()
	tags[TagRuleName] = rule.Name

	return &Task{
		ID:         uuid.New(),
		Queue:      rule.Queue,
		Type:       rule.TaskType,
		Payload:    payload,
		Priority:   rule.Priority,
		MaxRetries: rule.MaxRetries,
		RetryDelay: 30 * time.Second,
		Tags:       tags,
		CreatedAt:  now,
	}
}
