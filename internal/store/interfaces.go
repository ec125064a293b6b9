// Package store persists threads, messages, turns, tool executions, and
// usage logs behind narrow interfaces with in-memory and SQLite
// implementations.
package store

import (
	"context"
	"errors"

	"github.com/jobdeck/jobdeck/pkg/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// ThreadStore persists conversation threads.
type ThreadStore interface {
	Create(ctx context.Context, thread *models.Thread) error
	Get(ctx context.Context, id string) (*models.Thread, error)
	Update(ctx context.Context, thread *models.Thread) error
}

// MessageStore persists thread messages. Update exists solely so the
// follow-up loop can rewrite a pending assistant message in place; user and
// tool messages are append-only.
type MessageStore interface {
	Create(ctx context.Context, msg *models.Message) error
	Get(ctx context.Context, id string) (*models.Message, error)
	Update(ctx context.Context, msg *models.Message) error
	ListByThread(ctx context.Context, threadID string) ([]*models.Message, error)
}

// TurnStore persists turns.
type TurnStore interface {
	Create(ctx context.Context, turn *models.Turn) error
	Get(ctx context.Context, id string) (*models.Turn, error)
	GetByAssistantMessage(ctx context.Context, messageID string) (*models.Turn, error)
	Update(ctx context.Context, turn *models.Turn) error
}

// ExecutionStore persists tool executions.
type ExecutionStore interface {
	Create(ctx context.Context, exec *models.ToolExecution) error
	Get(ctx context.Context, id string) (*models.ToolExecution, error)
	Update(ctx context.Context, exec *models.ToolExecution) error

	// FindByFingerprint returns the execution with the given idempotency key
	// scoped to one originating assistant message, or ErrNotFound.
	FindByFingerprint(ctx context.Context, messageID, fingerprint string) (*models.ToolExecution, error)

	// ListByMessage returns all sibling executions of an assistant message.
	ListByMessage(ctx context.Context, messageID string) ([]*models.ToolExecution, error)

	// CountNonTerminal returns how many sibling executions have not reached
	// success or error yet.
	CountNonTerminal(ctx context.Context, messageID string) (int, error)

	// CompareAndSwapStatus transitions the execution's status only if it
	// currently equals from. Returns false when another worker got there
	// first; the execution engine treats that as "not owned by us".
	CompareAndSwapStatus(ctx context.Context, id string, from, to models.ExecutionStatus) (bool, error)

	// ListStalePendingApproval returns executions stuck in pending_approval
	// that were created strictly before the epoch-millisecond cutoff.
	ListStalePendingApproval(ctx context.Context, cutoffMS int64) ([]*models.ToolExecution, error)
}

// UsageStore persists LLM call logs.
type UsageStore interface {
	Create(ctx context.Context, log *models.UsageLog) error
	Get(ctx context.Context, id string) (*models.UsageLog, error)
	ListByTrace(ctx context.Context, traceID string) ([]*models.UsageLog, error)
}

// Set groups the storage dependencies handed to the orchestrator.
type Set struct {
	Threads    ThreadStore
	Messages   MessageStore
	Turns      TurnStore
	Executions ExecutionStore
	Usage      UsageStore

	closer func() error
}

// Close releases any underlying resources.
func (s Set) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// NewMemorySet returns a Set backed entirely by in-memory stores.
func NewMemorySet() Set {
	return Set{
		Threads:    NewMemoryThreadStore(),
		Messages:   NewMemoryMessageStore(),
		Turns:      NewMemoryTurnStore(),
		Executions: NewMemoryExecutionStore(),
		Usage:      NewMemoryUsageStore(),
	}
}
