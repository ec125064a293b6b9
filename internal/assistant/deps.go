// Package assistant implements the turn orchestrator: it accepts user
// messages, drives provider calls, records proposed tool executions under the
// confirmation policy, and resumes the continuation loop once every sibling
// execution resolves.
package assistant

import (
	"context"

	"github.com/jobdeck/jobdeck/pkg/models"
)

// Enqueuer schedules background work. The job queue implements it; tests
// substitute a synchronous fake.
type Enqueuer interface {
	// EnqueueRunTool schedules execution of one queued tool execution.
	EnqueueRunTool(ctx context.Context, executionID string) error

	// EnqueueResumeFollowup schedules the continuation check for the
	// assistant message that proposed a now-resolved batch of tool calls.
	EnqueueResumeFollowup(ctx context.Context, messageID string) error
}

// Notifier pushes live updates to connected clients. The websocket hub
// implements it; NopNotifier drops everything.
type Notifier interface {
	// ExecutionPending announces an execution waiting for user approval.
	ExecutionPending(ctx context.Context, exec *models.ToolExecution)

	// TurnCompleted announces a terminal turn and its final assistant
	// message. An errored turn carries its fallback message; msg is nil
	// only when even that could not be persisted.
	TurnCompleted(ctx context.Context, turn *models.Turn, msg *models.Message)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) ExecutionPending(context.Context, *models.ToolExecution) {}

func (NopNotifier) TurnCompleted(context.Context, *models.Turn, *models.Message) {}
