package model

import "time"

// TaskType identifies what a ScheduledTask does when it fires.
type TaskType string

const (
	TaskTopicCleanup    TaskType = "topic-cleanup"
	TaskClusterCleanup  TaskType = "cluster-cleanup"
	TaskHealthCheck     TaskType = "health-check"
	TaskMetadataCleanup TaskType = "metadata-cleanup"
	TaskCustom          TaskType = "custom"
)

// ScheduledTask is a cron-driven unit of recurring work (spec §3).
type ScheduledTask struct {
	TaskID         string         `json:"task_id"`
	TaskType       TaskType       `json:"task_type"`
	CronExpression string         `json:"cron_expression"`
	Enabled        bool           `json:"enabled"`
	TargetCluster  string         `json:"target_cluster,omitempty"`
	Parameters     map[string]any `json:"parameters,omitempty"`
	NextRun        time.Time      `json:"next_run"`
	LastRun        time.Time      `json:"last_run,omitempty"`
	RunCount       int64          `json:"run_count"`
	FailureCount   int64          `json:"failure_count"`
}

// ExecutionStatus is one of a TaskExecution's lifecycle states.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// TaskExecution is one run of a ScheduledTask, held only in scheduler
// memory and bounded by a retention count (spec §3: "Executions live only
// in scheduler memory; history is bounded.").
type TaskExecution struct {
	ExecutionID string          `json:"execution_id"`
	TaskID      string          `json:"task_id"`
	Status      ExecutionStatus `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at,omitempty"`
	Result      map[string]any  `json:"result,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Logs        []string        `json:"logs,omitempty"`
}

// Finish marks the execution completed or failed, stamps CompletedAt, and
// records errMsg as ErrorMessage when it is non-empty. Logs is not touched.
func (e *TaskExecution) Finish(status ExecutionStatus, errMsg string, now time.Time) {
	e.Status = status
	e.CompletedAt = now
	if errMsg != "" {
		e.ErrorMessage = errMsg
	}
}
