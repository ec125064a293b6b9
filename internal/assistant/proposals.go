package assistant

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jobdeck/jobdeck/internal/store"
	"github.com/jobdeck/jobdeck/pkg/models"
)

// proposalBatch is the outcome of recording one assistant message's tool
// calls: which executions to enqueue, which wait for approval, and whether
// any work remains outstanding at all.
type proposalBatch struct {
	queued  []*models.ToolExecution
	pending []*models.ToolExecution

	// terminal holds executions rejected at proposal time (unknown tool,
	// disabled tool, invalid arguments). Their error results still need a
	// tool message so the provider gets an answer for every call id.
	terminal []*models.ToolExecution
}

func (b *proposalBatch) outstanding() bool {
	return len(b.queued) > 0 || len(b.pending) > 0
}

// recordProposals persists one execution per proposed tool call. The caller
// must hold the thread lock. Duplicate proposals, by provider call id replay
// or by identical (tool, args) within the message, collapse onto the
// existing record instead of creating a second execution.
func (o *Orchestrator) recordProposals(ctx context.Context, msg *models.Message, userID string) (*proposalBatch, error) {
	batch := &proposalBatch{}

	for _, call := range msg.ToolCalls {
		fingerprint := models.ProposalFingerprint(call.ToolKey, call.Args)

		if existing, err := o.stores.Executions.FindByFingerprint(ctx, msg.ID, fingerprint); err == nil {
			o.logger.Debug(ctx, "duplicate tool proposal collapsed",
				"tool", call.ToolKey, "execution_id", existing.ID)
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}

		now := time.Now()
		exec := &models.ToolExecution{
			ID:             uuid.NewString(),
			ThreadID:       msg.ThreadID,
			MessageID:      msg.ID,
			UserID:         userID,
			ToolKey:        call.ToolKey,
			Args:           call.Args,
			TraceID:        msg.Meta.TraceID,
			IdempotencyKey: fingerprint,
			ProviderCallID: call.ProviderCallID,
			CreatedAt:      now,
			UpdatedAt:      now,
		}

		// Every call is recorded as proposed first; classification then
		// transitions it to the status it dispatches under.
		exec.Status = models.ExecutionProposed
		if err := o.stores.Executions.Create(ctx, exec); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				continue
			}
			return nil, err
		}

		o.classifyProposal(exec, batch)
		if err := o.stores.Executions.Update(ctx, exec); err != nil {
			return nil, err
		}
	}
	return batch, nil
}

// classifyProposal decides the dispatch status of a freshly recorded
// proposal and files it into the batch.
func (o *Orchestrator) classifyProposal(exec *models.ToolExecution, batch *proposalBatch) {
	_, desc, ok := o.registry.Get(exec.ToolKey)
	switch {
	case !ok:
		exec.Status = models.ExecutionError
		exec.ErrorKind = models.ErrKindToolNotFound
		exec.ErrorText = "tool " + exec.ToolKey + " is not available"
		batch.terminal = append(batch.terminal, exec)
		return
	case !desc.Enabled:
		exec.Status = models.ExecutionError
		exec.ErrorKind = models.ErrKindToolDisabled
		exec.ErrorText = "tool " + exec.ToolKey + " is disabled"
		batch.terminal = append(batch.terminal, exec)
		return
	}

	if err := o.registry.ValidateArgs(exec.ToolKey, exec.Args); err != nil {
		exec.Status = models.ExecutionError
		exec.ErrorKind = models.ErrKindInvalidArgs
		exec.ErrorText = err.Error()
		batch.terminal = append(batch.terminal, exec)
		return
	}

	if desc.NeedsConfirmation() {
		exec.Status = models.ExecutionPendingApproval
		exec.RequiresConfirmation = true
		batch.pending = append(batch.pending, exec)
		return
	}
	exec.Status = models.ExecutionQueued
	batch.queued = append(batch.queued, exec)
}

// dispatchBatch acts on a recorded batch: terminal rejections get their
// error tool message immediately, queued executions go to the job queue, and
// pending ones are announced so the user sees the approval prompt.
func (o *Orchestrator) dispatchBatch(ctx context.Context, msg *models.Message, batch *proposalBatch) error {
	for _, exec := range batch.terminal {
		if err := o.appendToolMessage(ctx, exec); err != nil {
			return err
		}
		if o.metrics != nil {
			o.metrics.RecordToolExecution(exec.ToolKey, "error", 0)
		}
	}
	for _, exec := range batch.queued {
		if err := o.enqueuer.EnqueueRunTool(ctx, exec.ID); err != nil {
			return err
		}
	}
	for _, exec := range batch.pending {
		if o.metrics != nil {
			o.metrics.ConfirmationsPending.Inc()
		}
		o.notifier.ExecutionPending(ctx, exec)
	}
	return nil
}

// appendToolMessage persists the canonical tool-result message for one
// terminal execution.
func (o *Orchestrator) appendToolMessage(ctx context.Context, exec *models.ToolExecution) error {
	msg := &models.Message{
		ID:          uuid.NewString(),
		ThreadID:    exec.ThreadID,
		Role:        models.RoleTool,
		ToolResults: []models.ToolResult{exec.ToToolResult()},
		Meta:        models.MessageMeta{TraceID: exec.TraceID},
		CreatedAt:   time.Now(),
	}
	return o.stores.Messages.Create(ctx, msg)
}
