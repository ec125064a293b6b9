package assistant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jobdeck/jobdeck/internal/tools"
	"github.com/jobdeck/jobdeck/pkg/models"
)

// RunExecution executes one queued tool execution to a terminal status. It
// is safe to call repeatedly for the same id: terminal executions are
// skipped, and the queued to running transition is a compare-and-swap, so a
// redelivered job cannot run a tool twice.
func (o *Orchestrator) RunExecution(ctx context.Context, executionID string) error {
	exec, err := o.stores.Executions.Get(ctx, executionID)
	if err != nil {
		return fmt.Errorf("load execution: %w", err)
	}
	if exec.Status.Terminal() {
		return nil
	}
	if exec.Status == models.ExecutionPendingApproval {
		// Approval has not arrived yet. The approval path re-enqueues.
		return nil
	}

	owned, err := o.stores.Executions.CompareAndSwapStatus(ctx, exec.ID, models.ExecutionQueued, models.ExecutionRunning)
	if err != nil {
		return fmt.Errorf("claim execution: %w", err)
	}
	if !owned {
		return nil
	}
	exec.Status = models.ExecutionRunning

	ctx, span := o.tracer.StartToolExecution(ctx, exec.ToolKey, exec.ID)
	defer span.End()

	start := time.Now()
	result, runErr := o.executeWithTimeout(ctx, exec)
	elapsed := time.Since(start)

	if runErr != nil {
		exec.Status = models.ExecutionError
		exec.ErrorKind = classifyToolError(runErr)
		exec.ErrorText = runErr.Error()
		o.tracer.RecordError(span, runErr)
		o.logger.Warn(ctx, "tool execution failed",
			"tool", exec.ToolKey, "execution_id", exec.ID,
			"error_kind", string(exec.ErrorKind), "error", runErr)
	} else {
		exec.Status = models.ExecutionSuccess
		exec.Result = result
	}
	exec.UpdatedAt = time.Now()

	if err := o.stores.Executions.Update(ctx, exec); err != nil {
		return fmt.Errorf("persist execution result: %w", err)
	}
	if o.metrics != nil {
		status := "success"
		if exec.Status == models.ExecutionError {
			status = "error"
		}
		o.metrics.RecordToolExecution(exec.ToolKey, status, elapsed.Seconds())
	}

	if err := o.appendToolMessage(ctx, exec); err != nil {
		return fmt.Errorf("append tool result message: %w", err)
	}
	return o.maybeResume(ctx, exec.ThreadID, exec.MessageID)
}

// maybeResume schedules the continuation once every sibling execution of the
// proposing message is terminal. The thread lock makes the check and the
// decision atomic, so two siblings finishing together schedule exactly one
// resume.
func (o *Orchestrator) maybeResume(ctx context.Context, threadID, messageID string) error {
	unlock := o.locker.Lock(threadID)
	defer unlock()

	remaining, err := o.stores.Executions.CountNonTerminal(ctx, messageID)
	if err != nil {
		return fmt.Errorf("count sibling executions: %w", err)
	}
	if remaining > 0 {
		return nil
	}

	msg, err := o.stores.Messages.Get(ctx, messageID)
	if err != nil {
		return fmt.Errorf("load proposing message: %w", err)
	}
	if !msg.Meta.PendingToolFollowup {
		return nil
	}
	return o.enqueuer.EnqueueResumeFollowup(ctx, messageID)
}

// executeWithTimeout runs the tool under its per-tool timeout. The result
// channel is buffered and the send is non-blocking so a tool finishing after
// the deadline does not leak its goroutine.
func (o *Orchestrator) executeWithTimeout(ctx context.Context, exec *models.ToolExecution) (string, error) {
	tool, desc, ok := o.registry.Get(exec.ToolKey)
	if !ok {
		return "", fmt.Errorf("tool %s is not available", exec.ToolKey)
	}

	timeout := desc.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result string
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		result, err := tool.Execute(ctx, exec.UserID, exec.Args)
		select {
		case done <- outcome{result, err}:
		default:
			o.logger.Warn(ctx, "discarding tool result that arrived after timeout",
				"tool", exec.ToolKey, "execution_id", exec.ID)
		}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		return "", fmt.Errorf("tool %s timed out after %s: %w", exec.ToolKey, timeout, ctx.Err())
	}
}

// Approve releases a pending execution into the queue. ApproverID is
// recorded for audit. Approving an execution that is not pending is a no-op
// for terminal and already-queued states and an error otherwise.
func (o *Orchestrator) Approve(ctx context.Context, executionID, approverID string) error {
	exec, err := o.stores.Executions.Get(ctx, executionID)
	if err != nil {
		return fmt.Errorf("load execution: %w", err)
	}
	if exec.Status.Terminal() || exec.Status == models.ExecutionQueued || exec.Status == models.ExecutionRunning {
		return nil
	}

	ok, err := o.stores.Executions.CompareAndSwapStatus(ctx, executionID, models.ExecutionPendingApproval, models.ExecutionQueued)
	if err != nil {
		return fmt.Errorf("approve execution: %w", err)
	}
	if !ok {
		return nil
	}

	exec.Status = models.ExecutionQueued
	exec.ApprovedBy = approverID
	exec.ApprovedAt = time.Now()
	exec.UpdatedAt = exec.ApprovedAt
	if err := o.stores.Executions.Update(ctx, exec); err != nil {
		return fmt.Errorf("record approval: %w", err)
	}
	if o.metrics != nil {
		o.metrics.ConfirmationsPending.Dec()
	}

	o.logger.Info(ctx, "tool execution approved",
		"tool", exec.ToolKey, "execution_id", exec.ID, "approved_by", approverID)
	return o.enqueuer.EnqueueRunTool(ctx, exec.ID)
}

// Deny rejects a pending execution. The denial becomes an error tool result
// so the model learns the call was refused rather than waiting forever.
func (o *Orchestrator) Deny(ctx context.Context, executionID, denierID string) error {
	exec, err := o.stores.Executions.Get(ctx, executionID)
	if err != nil {
		return fmt.Errorf("load execution: %w", err)
	}
	if exec.Status.Terminal() {
		return nil
	}

	ok, err := o.stores.Executions.CompareAndSwapStatus(ctx, executionID, models.ExecutionPendingApproval, models.ExecutionError)
	if err != nil {
		return fmt.Errorf("deny execution: %w", err)
	}
	if !ok {
		return nil
	}

	exec.Status = models.ExecutionError
	exec.ErrorKind = models.ErrKindExecution
	exec.ErrorText = "the user declined to run this tool"
	exec.ApprovedBy = denierID
	exec.UpdatedAt = time.Now()
	if err := o.stores.Executions.Update(ctx, exec); err != nil {
		return fmt.Errorf("record denial: %w", err)
	}
	if o.metrics != nil {
		o.metrics.ConfirmationsPending.Dec()
		o.metrics.RecordToolExecution(exec.ToolKey, "error", 0)
	}

	o.logger.Info(ctx, "tool execution denied",
		"tool", exec.ToolKey, "execution_id", exec.ID, "denied_by", denierID)
	if err := o.appendToolMessage(ctx, exec); err != nil {
		return fmt.Errorf("append denial result: %w", err)
	}
	return o.maybeResume(ctx, exec.ThreadID, exec.MessageID)
}

// ExpirePendingApprovals fails every execution that has waited for approval
// longer than ttl. Expired calls get an error tool result so their turns can
// still resume instead of hanging forever. Returns how many were expired.
func (o *Orchestrator) ExpirePendingApprovals(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := time.Now().Add(-ttl).UnixMilli()
	stale, err := o.stores.Executions.ListStalePendingApproval(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale approvals: %w", err)
	}

	expired := 0
	for _, exec := range stale {
		ok, err := o.stores.Executions.CompareAndSwapStatus(ctx, exec.ID, models.ExecutionPendingApproval, models.ExecutionError)
		if err != nil {
			return expired, err
		}
		if !ok {
			continue
		}
		exec.Status = models.ExecutionError
		exec.ErrorKind = models.ErrKindExecution
		exec.ErrorText = "approval request expired without a decision"
		exec.UpdatedAt = time.Now()
		if err := o.stores.Executions.Update(ctx, exec); err != nil {
			return expired, err
		}
		if o.metrics != nil {
			o.metrics.ConfirmationsPending.Dec()
		}
		if err := o.appendToolMessage(ctx, exec); err != nil {
			return expired, err
		}
		if err := o.maybeResume(ctx, exec.ThreadID, exec.MessageID); err != nil {
			return expired, err
		}
		o.logger.Info(ctx, "expired stale approval",
			"tool", exec.ToolKey, "execution_id", exec.ID)
		expired++
	}
	return expired, nil
}

// classifyToolError maps a tool failure to the recorded error kind.
func classifyToolError(err error) models.ExecutionErrorKind {
	switch {
	case errors.Is(err, tools.ErrUnauthorized):
		return models.ErrKindAuthorization
	case errors.Is(err, context.DeadlineExceeded):
		return models.ErrKindTimeout
	default:
		return models.ErrKindExecution
	}
}
