// Package types defines the core domain model shared by the continuous
// queue engine and the wave plan executor.
package types

import (
	"context"
	"time"
)

// TaskID uniquely identifies one submitted task instance.
type TaskID string

// TaskType identifies a kind of work from a closed, caller-defined set.
// It is used both to dispatch to an executor and as the unit of dependency
// reference: a dependency on type "collect" is satisfied by any completed
// instance of that type. Callers must therefore treat task types as having
// at most one logically meaningful concurrent instance when dependencies
// matter.
type TaskType string

// TaskPriority is the ordinal scheduling level of a task.
type TaskPriority int

// Priority levels, ordered low to high. The numeric value feeds directly
// into the priority score.
const (
	PriorityLow      TaskPriority = 1
	PriorityNormal   TaskPriority = 2
	PriorityHigh     TaskPriority = 3
	PriorityCritical TaskPriority = 4
)

// String returns the human-readable priority name.
func (p TaskPriority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

// Task status constants.
const (
	StatusPending   TaskStatus = "pending"   // waiting in the priority queue
	StatusBlocked   TaskStatus = "blocked"   // waiting for dependencies
	StatusRunning   TaskStatus = "running"   // currently executing
	StatusRetrying  TaskStatus = "retrying"  // failed, scheduled for another attempt
	StatusCompleted TaskStatus = "completed" // terminal: executed successfully
	StatusFailed    TaskStatus = "failed"    // terminal: retries exhausted
	StatusCancelled TaskStatus = "cancelled" // terminal: removed before execution
	StatusSkipped   TaskStatus = "skipped"   // terminal: a dependency failed (wave executor)
)

// Terminal reports whether the status is a final state.
func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusSkipped:
		return true
	}
	return false
}

// Default policy values applied by Normalize.
const (
	DefaultTimeout    = 5 * time.Minute
	DefaultMaxRetries = 3
)

// TaskRequest is the caller-supplied, immutable description of one unit of
// work. Requests are transient: the engine copies what it needs into a
// QueuedTask and never stores the request beyond submission.
type TaskRequest struct {
	TaskType     TaskType               `json:"task_type" yaml:"task_type"`
	Priority     TaskPriority           `json:"priority" yaml:"priority"`
	Params       map[string]interface{} `json:"params,omitempty" yaml:"params,omitempty"`
	Dependencies []TaskType             `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Timeout      time.Duration          `json:"timeout" yaml:"timeout"`
	MaxRetries   int                    `json:"max_retries" yaml:"max_retries"`
	CreatedAt    time.Time              `json:"created_at" yaml:"created_at"`

	// ExpiresAt is an optional admission deadline. The engine drops the
	// request silently if it has not started by this time. Never populated
	// by the engine itself.
	ExpiresAt *time.Time `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
}

// Normalize fills zero-value fields with defaults. Called once at
// submission so the engines never have to special-case missing policy.
func (r *TaskRequest) Normalize(now time.Time) {
	if r.Priority == 0 {
		r.Priority = PriorityNormal
	}
	if r.Timeout <= 0 {
		r.Timeout = DefaultTimeout
	}
	if r.MaxRetries < 0 {
		r.MaxRetries = DefaultMaxRetries
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.Params == nil {
		r.Params = map[string]interface{}{}
	}
}

// Expired reports whether the optional admission deadline has passed.
func (r *TaskRequest) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}

// QueuedTask wraps a TaskRequest with the scheduling state owned by the
// continuous queue engine. The descriptor is mutable: RetryCount,
// PriorityScore and ScheduledAt change as the task moves through retries.
type QueuedTask struct {
	ID            TaskID      `json:"id"`
	Request       TaskRequest `json:"request"`
	PriorityScore int         `json:"priority_score"`
	RetryCount    int         `json:"retry_count"`
	CreatedAt     time.Time   `json:"created_at"`
	ScheduledAt   time.Time   `json:"scheduled_at"` // earliest admission time, pushed forward on retry
	StartedAt     time.Time   `json:"started_at,omitempty"`
}

// ComputeScore recalculates the priority score as of now and stores it on
// the descriptor. Higher score means scheduled first:
//
//	score = priority*1000 + min(age_minutes, 100) - retry_count*50
//
// Age provides starvation avoidance bounded at 100 minutes' worth of bonus,
// while repeated failures actively lower a task's standing relative to
// fresh work. The score is recomputed on every (re)insert into the pending
// heap, so it is a snapshot, not a live value.
func (t *QueuedTask) ComputeScore(now time.Time) int {
	base := int(t.Request.Priority) * 1000

	ageMinutes := int(now.Sub(t.CreatedAt).Minutes())
	if ageMinutes > 100 {
		ageMinutes = 100
	}
	if ageMinutes < 0 {
		ageMinutes = 0
	}

	t.PriorityScore = base + ageMinutes - t.RetryCount*50
	return t.PriorityScore
}

// TaskResult records the terminal outcome of one task.
type TaskResult struct {
	TaskID        TaskID        `json:"task_id"`
	TaskType      TaskType      `json:"task_type"`
	Status        TaskStatus    `json:"status"`
	Result        interface{}   `json:"result,omitempty"`
	Error         string        `json:"error,omitempty"`
	ExecutionTime time.Duration `json:"execution_time"`
	CompletedAt   time.Time     `json:"completed_at"`
}

// Executor is the caller-supplied boundary function that performs the
// actual work for one request. It dispatches on req.TaskType to downstream
// business logic, returns an opaque result on success and an error on
// failure. It must be safe to call concurrently and must honor ctx, which
// carries the per-task timeout.
type Executor func(ctx context.Context, req TaskRequest) (interface{}, error)
