// Package ids mints the identifiers used throughout the supervisor: task,
// execution, orchestration, and workspace handles. All are UUIDv4, matching
// the id scheme used across the pack's own orchestration examples.
package ids

import "github.com/google/uuid"

// TaskID identifies a task for its entire lifetime, stable across restarts.
type TaskID string

// ExecutionID identifies one attempt at running a task. A task may be
// retried under a new ExecutionID while keeping the same TaskID.
type ExecutionID string

// OrchestrationID identifies one decompose/execute/merge run.
type OrchestrationID string

// WorkspaceID identifies an isolated workspace directory handed to a unit.
type WorkspaceID string

// NewTaskID mints a new TaskID.
func NewTaskID() TaskID { return TaskID(uuid.NewString()) }

// NewExecutionID mints a new ExecutionID.
func NewExecutionID() ExecutionID { return ExecutionID(uuid.NewString()) }

// NewOrchestrationID mints a new OrchestrationID.
func NewOrchestrationID() OrchestrationID { return OrchestrationID(uuid.NewString()) }

// NewWorkspaceID mints a new WorkspaceID.
func NewWorkspaceID() WorkspaceID { return WorkspaceID(uuid.NewString()) }
