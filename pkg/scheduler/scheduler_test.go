package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/kafkaops/agent/pkg/model"
)

func testScheduler(t *testing.T) *Scheduler {
	t.Helper()
	cfg := DefaultConfig()
	cfg.TickInterval = 10 * time.Millisecond
	s := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddTaskRejectsDuplicate(t *testing.T) {
	s := testScheduler(t)
	task := &model.ScheduledTask{TaskID: "t1", TaskType: model.TaskHealthCheck, CronExpression: "* * * * *", Enabled: true}
	if err := s.AddTask(task); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if err := s.AddTask(task); err == nil {
		t.Fatal("expected duplicate add to be rejected")
	}
}

func TestAddTaskComputesNextRun(t *testing.T) {
	s := testScheduler(t)
	task := &model.ScheduledTask{TaskID: "t1", TaskType: model.TaskHealthCheck, CronExpression: "* * * * *", Enabled: true}
	if err := s.AddTask(task); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if task.NextRun.IsZero() {
		t.Error("expected AddTask to populate next_run")
	}
}

func TestExecuteNowRunsHandlerAndReturnsRecord(t *testing.T) {
	s := testScheduler(t)
	s.RegisterHandler(model.TaskCustom, func(ctx context.Context, task *model.ScheduledTask) (map[string]any, error) {
		return map[string]any{"ok": true}, nil
	})

	task := &model.ScheduledTask{TaskID: "adhoc-1", TaskType: model.TaskCustom}
	exec, err := s.ExecuteNow(context.Background(), task)
	if err != nil {
		t.Fatalf("ExecuteNow: %v", err)
	}
	if exec.Status != model.ExecutionCompleted {
		t.Errorf("expected completed, got %s", exec.Status)
	}
	if exec.Result["ok"] != true {
		t.Errorf("expected handler result to be recorded, got %v", exec.Result)
	}

	found, ok := s.GetExecution(exec.ExecutionID)
	if !ok || found.ExecutionID != exec.ExecutionID {
		t.Error("expected execution to be retrievable by id")
	}
}

func TestExecuteNowRecordsFailure(t *testing.T) {
	s := testScheduler(t)
	s.RegisterHandler(model.TaskCustom, func(ctx context.Context, task *model.ScheduledTask) (map[string]any, error) {
		return nil, errors.New("boom")
	})

	exec, err := s.ExecuteNow(context.Background(), &model.ScheduledTask{TaskID: "adhoc-2", TaskType: model.TaskCustom})
	if err != nil {
		t.Fatalf("ExecuteNow: %v", err)
	}
	if exec.Status != model.ExecutionFailed || exec.ErrorMessage == "" {
		t.Errorf("expected a recorded failure, got status=%s error=%q", exec.Status, exec.ErrorMessage)
	}
}

func TestExecuteNowMissingHandlerFails(t *testing.T) {
	s := testScheduler(t)
	exec, err := s.ExecuteNow(context.Background(), &model.ScheduledTask{TaskID: "adhoc-3", TaskType: model.TaskType("unregistered")})
	if err != nil {
		t.Fatalf("ExecuteNow: %v", err)
	}
	if exec.Status != model.ExecutionFailed {
		t.Errorf("expected failure for unregistered handler, got %s", exec.Status)
	}
}

func TestDispatchDueUpdatesRunCountAndNextRun(t *testing.T) {
	s := testScheduler(t)
	done := make(chan struct{}, 1)
	s.RegisterHandler(model.TaskHealthCheck, func(ctx context.Context, task *model.ScheduledTask) (map[string]any, error) {
		done <- struct{}{}
		return map[string]any{}, nil
	})

	task := &model.ScheduledTask{TaskID: "t1", TaskType: model.TaskHealthCheck, CronExpression: "* * * * *", Enabled: true}
	_ = s.AddTask(task)

	past := time.Now().Add(-time.Minute)
	s.mu.Lock()
	s.tasks["t1"].NextRun = past
	s.mu.Unlock()

	s.dispatchDue()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected dispatched task to run")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		runCount := s.tasks["t1"].RunCount
		nextRun := s.tasks["t1"].NextRun
		s.mu.Unlock()
		if runCount == 1 {
			if !nextRun.After(past) {
				t.Errorf("expected next_run to advance, got %s", nextRun)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected run_count to be incremented after dispatch")
}

func TestEnableDisableTask(t *testing.T) {
	s := testScheduler(t)
	task := &model.ScheduledTask{TaskID: "t1", TaskType: model.TaskHealthCheck, CronExpression: "* * * * *", Enabled: true}
	_ = s.AddTask(task)

	if err := s.DisableTask("t1"); err != nil {
		t.Fatalf("DisableTask: %v", err)
	}
	tasks := s.ListTasks()
	if tasks[0].Enabled {
		t.Error("expected task to be disabled")
	}

	if err := s.EnableTask("t1"); err != nil {
		t.Fatalf("EnableTask: %v", err)
	}
	if !s.ListTasks()[0].Enabled {
		t.Error("expected task to be re-enabled")
	}
}
