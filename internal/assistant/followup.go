package assistant

import (
	"context"
	"fmt"
	"time"

	"github.com/jobdeck/jobdeck/internal/assistant/providers"
	"github.com/jobdeck/jobdeck/internal/observability"
	"github.com/jobdeck/jobdeck/pkg/models"
)

// ResumeFollowup continues a turn whose proposed tool calls have all reached
// a terminal status. It makes one continuation call; if the model proposes
// more tools the cycle repeats through the job queue until the model answers
// in text or the iteration cap is hit.
//
// The method is idempotent: a redelivered job finds the claim already taken,
// or siblings still outstanding, and does nothing.
func (o *Orchestrator) ResumeFollowup(ctx context.Context, messageID string) error {
	msg, turn, err := o.claimFollowup(ctx, messageID)
	if err != nil || turn == nil {
		return err
	}

	ctx = observability.WithTrace(ctx, turn.TraceID, turn.ThreadID, turn.ID)
	ctx, span := o.tracer.Start(ctx, "assistant.followup")
	defer span.End()

	if turn.Iterations >= o.cfg.MaxFollowupIterations {
		o.logger.Warn(ctx, "continuation cap reached, apologizing",
			"iterations", turn.Iterations)
		if o.metrics != nil {
			o.metrics.RecordFollowup("cap_reached")
		}
		return o.resolveTurnInPlace(ctx, turn, msg, fallbackCapReached)
	}

	history, err := o.buildHistory(ctx, turn.ThreadID)
	if err != nil {
		return fmt.Errorf("build history: %w", err)
	}

	req := &providers.Request{
		System:   o.cfg.SystemPrompt,
		History:  history,
		State:    turn.ProviderState,
		Followup: true,
		Tools:    o.turnToolSurface(turn),
	}

	var completion *Completion
	if turn.Provider != "" {
		completion, err = o.chain.CompleteWith(ctx, turn.Provider, req)
	} else {
		completion, err = o.chain.Complete(ctx, req)
	}
	if err != nil {
		o.tracer.RecordError(span, err)
		if perr, ok := providers.GetProviderError(err); ok && perr.Reason.IsRetryable() {
			// Release the claim so the retried job can pick it up again.
			if releaseErr := o.setPendingFlag(ctx, msg, true); releaseErr != nil {
				o.logger.Error(ctx, "failed to release follow-up claim", "error", releaseErr)
			}
			return err
		}
		return o.failTurn(ctx, turn, err)
	}

	turn.Iterations++
	turn.Provider = completion.Provider.Name()
	turn.Model = completion.Model
	turn.UsageLogID = completion.UsageLogID
	if !completion.Result.State.Empty() {
		turn.ProviderState = completion.Result.State
	}
	turn.UpdatedAt = time.Now()
	if err := o.stores.Turns.Update(ctx, turn); err != nil {
		return fmt.Errorf("persist turn: %w", err)
	}

	if completion.Result.HasToolCalls() {
		thread, err := o.stores.Threads.Get(ctx, turn.ThreadID)
		if err != nil {
			return fmt.Errorf("load thread: %w", err)
		}
		o.logger.Info(ctx, "continuation proposed more tool calls",
			"iteration", turn.Iterations, "calls", len(completion.Result.ToolCalls))
		return o.handleModelResult(ctx, turn, thread.UserID, completion.Result)
	}

	if o.metrics != nil {
		o.metrics.RecordFollowup("resolved")
	}
	content := completion.Result.Content
	if content == "" {
		content = fallbackEmptyResponse
	}
	return o.resolveTurnInPlace(ctx, turn, msg, content)
}

// claimFollowup verifies, under the thread lock, that the message is still
// awaiting continuation and every sibling execution is terminal, then claims
// the continuation by clearing the pending flag. Clearing inside the lock
// means two redelivered resume jobs cannot both reach the provider. Returns
// a nil turn when there is nothing to do.
func (o *Orchestrator) claimFollowup(ctx context.Context, messageID string) (*models.Message, *models.Turn, error) {
	msg, err := o.stores.Messages.Get(ctx, messageID)
	if err != nil {
		return nil, nil, fmt.Errorf("load proposing message: %w", err)
	}

	unlock := o.locker.Lock(msg.ThreadID)
	defer unlock()

	// Re-read under the lock; the flag may have been claimed since.
	msg, err = o.stores.Messages.Get(ctx, messageID)
	if err != nil {
		return nil, nil, fmt.Errorf("load proposing message: %w", err)
	}
	if !msg.Meta.PendingToolFollowup {
		return nil, nil, nil
	}

	turn, err := o.stores.Turns.GetByAssistantMessage(ctx, messageID)
	if err != nil {
		return nil, nil, fmt.Errorf("load turn for message %s: %w", messageID, err)
	}
	if turn.Terminal() {
		return nil, nil, nil
	}

	remaining, err := o.stores.Executions.CountNonTerminal(ctx, messageID)
	if err != nil {
		return nil, nil, fmt.Errorf("count sibling executions: %w", err)
	}
	if remaining > 0 {
		return nil, nil, nil
	}

	if err := o.setPendingFlag(ctx, msg, false); err != nil {
		return nil, nil, err
	}
	return msg, turn, nil
}

// setPendingFlag flips the continuation claim on a proposing message.
func (o *Orchestrator) setPendingFlag(ctx context.Context, msg *models.Message, pending bool) error {
	if msg.Meta.PendingToolFollowup == pending {
		return nil
	}
	msg.Meta.PendingToolFollowup = pending
	if err := o.stores.Messages.Update(ctx, msg); err != nil {
		return fmt.Errorf("update pending flag: %w", err)
	}
	return nil
}
