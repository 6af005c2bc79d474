// Package scheduler implements the cron-driven task runner of spec §4.8: a
// single loop thread wakes at least once a minute, dispatches due tasks to
// a bounded worker pool, and records execution history in a bounded
// in-memory buffer. Scheduler state does not survive a restart (spec §9
// design note): long-lived tasks must be re-registered from config on
// startup.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/kafkaops/agent/pkg/model"
)

// Handler executes one task's work and returns its result payload.
type Handler func(ctx context.Context, task *model.ScheduledTask) (map[string]any, error)

// Config tunes the scheduler's tick cadence, worker pool, and history size.
type Config struct {
	TickInterval    time.Duration
	MaxConcurrency  int64
	MaxHistoryItems int
}

// DefaultConfig wakes once a minute, runs up to 5 tasks concurrently, and
// retains the most recent 500 executions.
func DefaultConfig() Config {
	return Config{TickInterval: time.Minute, MaxConcurrency: 5, MaxHistoryItems: 500}
}

// Notifier lets the scheduler raise an ops alert on a task failure.
type Notifier interface {
	NotifyFailure(ctx context.Context, title, taskID, description string) error
}

// Scheduler owns the task registry, execution loop, and history buffer.
type Scheduler struct {
	cfg      Config
	logger   *slog.Logger
	sem      *semaphore.Weighted
	notifier Notifier

	mu       sync.Mutex
	tasks    map[string]*model.ScheduledTask
	running  map[string]bool // task ids with an execution currently in flight
	handlers map[model.TaskType]Handler

	histMu  sync.Mutex
	history []*model.TaskExecution

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New builds a Scheduler and starts its loop goroutine.
func New(cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 1
	}
	s := &Scheduler{
		cfg:      cfg,
		logger:   logger,
		sem:      semaphore.NewWeighted(cfg.MaxConcurrency),
		tasks:    make(map[string]*model.ScheduledTask),
		running:  make(map[string]bool),
		handlers: make(map[model.TaskType]Handler),
		stopCh:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.loop()
	return s
}

// SetNotifier wires an ops-alert sink; failed executions call it best-effort.
func (s *Scheduler) SetNotifier(n Notifier) {
	s.notifier = n
}

// RegisterHandler binds a task type to its execution function.
func (s *Scheduler) RegisterHandler(taskType model.TaskType, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[taskType] = h
}

// AddTask registers a new task, rejecting a duplicate task_id (spec §4.8).
func (s *Scheduler) AddTask(task *model.ScheduledTask) error {
	expr, err := ParseExpr(task.CronExpression)
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.TaskID]; exists {
		return fmt.Errorf("task %q already exists", task.TaskID)
	}

	next, err := expr.NextRunTime(time.Now())
	if err != nil {
		return err
	}
	task.NextRun = next
	s.tasks[task.TaskID] = task
	return nil
}

// RemoveTask forgets a task.
func (s *Scheduler) RemoveTask(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, taskID)
}

// EnableTask/DisableTask flip a task's Enabled flag.
func (s *Scheduler) EnableTask(taskID string) error  { return s.setEnabled(taskID, true) }
func (s *Scheduler) DisableTask(taskID string) error { return s.setEnabled(taskID, false) }

func (s *Scheduler) setEnabled(taskID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %q not found", taskID)
	}
	task.Enabled = enabled
	return nil
}

// ListTasks returns a snapshot of every registered task.
func (s *Scheduler) ListTasks() []*model.ScheduledTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.ScheduledTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		cp := *t
		out = append(out, &cp)
	}
	return out
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.dispatchDue()
		}
	}
}

// dispatchDue selects tasks whose next_run has passed and dispatches each
// to the worker pool, skipping any task with an execution already in
// flight (spec §5: "no two executions of the same task overlap").
func (s *Scheduler) dispatchDue() {
	now := time.Now()

	s.mu.Lock()
	var due []*model.ScheduledTask
	for _, t := range s.tasks {
		if !t.Enabled || s.running[t.TaskID] {
			continue
		}
		if !t.NextRun.After(now) {
			due = append(due, t)
			s.running[t.TaskID] = true
		}
	}
	s.mu.Unlock()

	for _, task := range due {
		go s.runScheduled(task)
	}
}

func (s *Scheduler) runScheduled(task *model.ScheduledTask) {
	defer func() {
		s.mu.Lock()
		delete(s.running, task.TaskID)
		s.mu.Unlock()
	}()

	ctx := context.Background()
	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.logger.Error("scheduler worker pool acquire failed", "task_id", task.TaskID, "error", err)
		return
	}
	defer s.sem.Release(1)

	s.execute(ctx, task, true)
}

// ExecuteNow runs a task immediately outside the cron cadence, returning
// the execution record for progress inspection (spec §4.8: `execute_*_now`
// shares the same path, with an ad-hoc task id and no next_run update).
func (s *Scheduler) ExecuteNow(ctx context.Context, task *model.ScheduledTask) (*model.TaskExecution, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquiring worker slot: %w", err)
	}
	defer s.sem.Release(1)
	return s.execute(ctx, task, false), nil
}

func (s *Scheduler) execute(ctx context.Context, task *model.ScheduledTask, advanceNextRun bool) *model.TaskExecution {
	s.mu.Lock()
	handler, ok := s.handlers[task.TaskType]
	s.mu.Unlock()

	exec := &model.TaskExecution{
		ExecutionID: uuid.NewString(),
		TaskID:      task.TaskID,
		Status:      model.ExecutionRunning,
		StartedAt:   time.Now(),
	}
	s.recordHistory(exec)

	if !ok {
		exec.Finish(model.ExecutionFailed, fmt.Sprintf("no handler registered for task type %q", task.TaskType), time.Now())
		s.recordOutcome(task, exec, advanceNextRun)
		return exec
	}

	result, err := handler(ctx, task)
	if err != nil {
		exec.Finish(model.ExecutionFailed, err.Error(), time.Now())
		if s.notifier != nil {
			if nerr := s.notifier.NotifyFailure(ctx, "scheduled task failed", task.TaskID, err.Error()); nerr != nil {
				s.logger.Warn("ops notification failed", "task_id", task.TaskID, "error", nerr)
			}
		}
	} else {
		exec.Result = result
		exec.Finish(model.ExecutionCompleted, "", time.Now())
	}
	s.recordOutcome(task, exec, advanceNextRun)
	return exec
}

func (s *Scheduler) recordOutcome(task *model.ScheduledTask, exec *model.TaskExecution, advanceNextRun bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.tasks[task.TaskID]
	if !ok {
		return // ad-hoc (ExecuteNow) task not in the registry
	}
	stored.RunCount++
	stored.LastRun = exec.StartedAt
	if exec.Status == model.ExecutionFailed {
		stored.FailureCount++
	}
	if advanceNextRun {
		expr, err := ParseExpr(stored.CronExpression)
		if err == nil {
			if next, err := expr.NextRunTime(time.Now()); err == nil {
				stored.NextRun = next
			}
		}
	}
}

func (s *Scheduler) recordHistory(exec *model.TaskExecution) {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	s.history = append(s.history, exec)
	if len(s.history) > s.cfg.MaxHistoryItems {
		s.history = s.history[len(s.history)-s.cfg.MaxHistoryItems:]
	}
}

// GetExecution looks up one execution by id.
func (s *Scheduler) GetExecution(executionID string) (*model.TaskExecution, bool) {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].ExecutionID == executionID {
			return s.history[i], true
		}
	}
	return nil, false
}

// ExecutionsForTask returns a task's executions, most-recent-first (spec §4.8).
func (s *Scheduler) ExecutionsForTask(taskID string) []*model.TaskExecution {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	var out []*model.TaskExecution
	for _, e := range s.history {
		if e.TaskID == taskID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Close stops the loop and drains it.
func (s *Scheduler) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	return nil
}
