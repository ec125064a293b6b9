package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jobdeck/jobdeck/internal/assistant/providers"
	"github.com/jobdeck/jobdeck/internal/observability"
	"github.com/jobdeck/jobdeck/internal/store"
	"github.com/jobdeck/jobdeck/pkg/models"
)

const (
	// fallbackEmptyResponse substitutes for a model response with no text
	// and no tool calls.
	fallbackEmptyResponse = "I wasn't able to put together a response just now. Could you rephrase or try again?"

	// fallbackCapReached is the apology sent when the continuation loop
	// hits its iteration cap with tool calls still being proposed.
	fallbackCapReached = "I'm sorry, I wasn't able to finish working through that request. I ran several lookups but couldn't reach a final answer. Could you try asking in a smaller step?"

	// fallbackTurnFailed is the text shown when the turn cannot complete at
	// all, for example when every configured provider refused the call. The
	// transcript never ends on a bare user message.
	fallbackTurnFailed = "I'm sorry, something went wrong on my end and I couldn't answer that. Please try again in a moment."
)

// Config tunes the orchestrator.
type Config struct {
	// SystemPrompt is prepended to every provider call.
	SystemPrompt string

	// MaxFollowupIterations bounds continuation calls per turn.
	MaxFollowupIterations int

	// ContextWindowMessages bounds how much transcript is replayed to
	// stateless providers. Zero means the whole thread.
	ContextWindowMessages int
}

// Orchestrator drives assistant turns end to end: user message in, provider
// calls, tool execution fan-out, continuation loop, final assistant message
// out.
type Orchestrator struct {
	stores   store.Set
	locker   *store.ThreadLocker
	registry *Registry
	chain    *ProviderChain
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	enqueuer Enqueuer
	notifier Notifier
	cfg      Config
}

// New creates an orchestrator. Metrics may be nil; notifier and enqueuer
// must not be.
func New(stores store.Set, locker *store.ThreadLocker, registry *Registry, chain *ProviderChain,
	logger *observability.Logger, metrics *observability.Metrics, tracer *observability.Tracer,
	enqueuer Enqueuer, notifier Notifier, cfg Config) *Orchestrator {
	if cfg.MaxFollowupIterations <= 0 {
		cfg.MaxFollowupIterations = 3
	}
	return &Orchestrator{
		stores:   stores,
		locker:   locker,
		registry: registry,
		chain:    chain,
		logger:   logger,
		metrics:  metrics,
		tracer:   tracer,
		enqueuer: enqueuer,
		notifier: notifier,
		cfg:      cfg,
	}
}

// contextPack is what got assembled for the turn's provider calls. It is
// persisted on the turn so continuations advertise the same tool surface the
// turn opened with, and so an operator can see what the model was offered.
type contextPack struct {
	PageContext string   `json:"page_context,omitempty"`
	ToolKeys    []string `json:"tool_keys"`
}

// HandleUserMessage runs one assistant turn for a user utterance. With an
// empty threadID a new thread is opened; pageContext names the UI surface
// the message came from and narrows the advertised tool surface. The
// returned turn is terminal when the model answered directly, and still
// running when tool executions are in flight or awaiting approval.
func (o *Orchestrator) HandleUserMessage(ctx context.Context, threadID, userID, content, pageContext string) (*models.Turn, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("message content is empty")
	}

	thread, err := o.getOrCreateThread(ctx, threadID, userID)
	if err != nil {
		return nil, err
	}

	turnID := uuid.NewString()
	ctx, span := o.tracer.StartTurn(ctx, thread.ID, turnID)
	defer span.End()
	traceID := observability.GetTraceID(ctx)
	if traceID == "" {
		traceID = uuid.NewString()
	}
	ctx = observability.WithTrace(ctx, traceID, thread.ID, turnID)
	ctx = observability.WithUserID(ctx, userID)

	now := time.Now()
	userMsg := &models.Message{
		ID:        uuid.NewString(),
		ThreadID:  thread.ID,
		Role:      models.RoleUser,
		Content:   content,
		Meta:      models.MessageMeta{TraceID: traceID},
		CreatedAt: now,
	}
	if err := o.stores.Messages.Create(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}

	allowed := o.registry.AllowedTools(userID, thread.ID, pageContext)
	pack := contextPack{PageContext: pageContext, ToolKeys: make([]string, 0, len(allowed))}
	for _, d := range allowed {
		pack.ToolKeys = append(pack.ToolKeys, d.Key)
	}
	snapshot, err := json.Marshal(pack)
	if err != nil {
		return nil, fmt.Errorf("snapshot context: %w", err)
	}

	turn := &models.Turn{
		ID:              turnID,
		ThreadID:        thread.ID,
		UserMessageID:   userMsg.ID,
		TraceID:         traceID,
		ContextSnapshot: snapshot,
		Status:          models.TurnRunning,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := o.stores.Turns.Create(ctx, turn); err != nil {
		return nil, fmt.Errorf("persist turn: %w", err)
	}

	o.logger.Info(ctx, "turn started", "user_id", userID, "page_context", pageContext,
		"tools", len(allowed))

	history, err := o.buildHistory(ctx, thread.ID)
	if err != nil {
		return turn, o.failTurn(ctx, turn, fmt.Errorf("build history: %w", err))
	}

	completion, err := o.chain.Complete(ctx, &providers.Request{
		System:   o.cfg.SystemPrompt,
		History:  history,
		Tools:    allowed,
		Followup: false,
	})
	if err != nil {
		o.tracer.RecordError(span, err)
		return turn, o.failTurn(ctx, turn, err)
	}

	turn.Provider = completion.Provider.Name()
	turn.Model = completion.Model
	turn.UsageLogID = completion.UsageLogID
	turn.ProviderState = completion.Result.State

	return turn, o.handleModelResult(ctx, turn, userID, completion.Result)
}

// handleModelResult persists the assistant message for one model response
// and either finalizes the turn or fans out tool executions.
func (o *Orchestrator) handleModelResult(ctx context.Context, turn *models.Turn, userID string, result *providers.Result) error {
	if !result.HasToolCalls() {
		content := result.Content
		if strings.TrimSpace(content) == "" {
			content = fallbackEmptyResponse
		}
		return o.finishTurn(ctx, turn, content)
	}

	asstMsg := &models.Message{
		ID:        uuid.NewString(),
		ThreadID:  turn.ThreadID,
		Role:      models.RoleAssistant,
		Content:   result.Content,
		ToolCalls: result.ToolCalls,
		Meta: models.MessageMeta{
			Provider:            turn.Provider,
			Model:               turn.Model,
			TraceID:             turn.TraceID,
			ResponseID:          result.State.ResponseID,
			PendingToolFollowup: true,
		},
		CreatedAt: time.Now(),
	}

	unlock := o.locker.Lock(turn.ThreadID)
	if err := o.stores.Messages.Create(ctx, asstMsg); err != nil {
		unlock()
		return o.failTurn(ctx, turn, fmt.Errorf("persist assistant message: %w", err))
	}

	turn.AssistantMessageID = asstMsg.ID
	turn.UpdatedAt = time.Now()
	if err := o.stores.Turns.Update(ctx, turn); err != nil {
		unlock()
		return o.failTurn(ctx, turn, fmt.Errorf("persist turn: %w", err))
	}

	batch, err := o.recordProposals(ctx, asstMsg, userID)
	unlock()
	if err != nil {
		return o.failTurn(ctx, turn, fmt.Errorf("record tool proposals: %w", err))
	}

	o.logger.Info(ctx, "tool calls proposed",
		"queued", len(batch.queued), "pending_approval", len(batch.pending),
		"rejected", len(batch.terminal))

	if err := o.dispatchBatch(ctx, asstMsg, batch); err != nil {
		return o.failTurn(ctx, turn, err)
	}

	// Every proposal was rejected up front; there is nothing to wait for,
	// so the continuation runs immediately.
	if !batch.outstanding() {
		return o.maybeResume(ctx, turn.ThreadID, asstMsg.ID)
	}
	return nil
}

// finishTurn records a fresh final assistant message and closes the turn.
// Used when the model answered directly, without proposing tools.
func (o *Orchestrator) finishTurn(ctx context.Context, turn *models.Turn, content string) error {
	final := &models.Message{
		ID:       uuid.NewString(),
		ThreadID: turn.ThreadID,
		Role:     models.RoleAssistant,
		Content:  content,
		Meta: models.MessageMeta{
			Provider:   turn.Provider,
			Model:      turn.Model,
			TraceID:    turn.TraceID,
			ResponseID: turn.ProviderState.ResponseID,
		},
		CreatedAt: time.Now(),
	}
	if err := o.stores.Messages.Create(ctx, final); err != nil {
		return fmt.Errorf("persist final message: %w", err)
	}
	return o.closeTurn(ctx, turn, final)
}

// resolveTurnInPlace writes the final answer onto the assistant message that
// proposed the turn's last tool batch instead of appending a new message.
// The message keeps its tool calls, so stateless replay still sees every
// call answered by the results that follow it.
func (o *Orchestrator) resolveTurnInPlace(ctx context.Context, turn *models.Turn, msg *models.Message, content string) error {
	msg.Content = content
	msg.Meta.Provider = turn.Provider
	msg.Meta.Model = turn.Model
	msg.Meta.ResponseID = turn.ProviderState.ResponseID
	if err := o.stores.Messages.Update(ctx, msg); err != nil {
		return fmt.Errorf("finalize assistant message: %w", err)
	}
	return o.closeTurn(ctx, turn, msg)
}

// closeTurn marks the turn successful and announces its final message.
func (o *Orchestrator) closeTurn(ctx context.Context, turn *models.Turn, final *models.Message) error {
	turn.AssistantMessageID = final.ID
	turn.Status = models.TurnSuccess
	turn.UpdatedAt = time.Now()
	turn.LatencyMS = turn.UpdatedAt.Sub(turn.CreatedAt).Milliseconds()
	if err := o.stores.Turns.Update(ctx, turn); err != nil {
		return fmt.Errorf("persist turn: %w", err)
	}

	if o.metrics != nil {
		o.metrics.RecordTurn("success", float64(turn.LatencyMS)/1000)
	}
	o.logger.Info(ctx, "turn completed", "iterations", turn.Iterations, "latency_ms", turn.LatencyMS)
	o.notifier.TurnCompleted(ctx, turn, final)
	return nil
}

// failTurn closes the turn with an error. The user still gets a fallback
// assistant message so the transcript never ends on their own words. The
// original error is returned so callers can propagate it.
func (o *Orchestrator) failTurn(ctx context.Context, turn *models.Turn, cause error) error {
	fallback := &models.Message{
		ID:        uuid.NewString(),
		ThreadID:  turn.ThreadID,
		Role:      models.RoleAssistant,
		Content:   fallbackTurnFailed,
		Meta:      models.MessageMeta{TraceID: turn.TraceID},
		CreatedAt: time.Now(),
	}
	if err := o.stores.Messages.Create(ctx, fallback); err != nil {
		o.logger.Error(ctx, "failed to persist fallback message", "error", err)
		fallback = nil
	} else {
		turn.AssistantMessageID = fallback.ID
	}

	turn.Status = models.TurnError
	turn.ErrorText = cause.Error()
	turn.UpdatedAt = time.Now()
	turn.LatencyMS = turn.UpdatedAt.Sub(turn.CreatedAt).Milliseconds()
	if err := o.stores.Turns.Update(ctx, turn); err != nil {
		o.logger.Error(ctx, "failed to persist errored turn", "error", err)
	}

	if o.metrics != nil {
		o.metrics.RecordTurn("error", float64(turn.LatencyMS)/1000)
		o.metrics.RecordError("orchestrator", "turn_failed")
	}
	o.logger.Error(ctx, "turn failed", "error", cause)
	o.notifier.TurnCompleted(ctx, turn, fallback)
	return cause
}

// getOrCreateThread loads the thread, verifying ownership, or opens a new
// one when threadID is empty.
func (o *Orchestrator) getOrCreateThread(ctx context.Context, threadID, userID string) (*models.Thread, error) {
	if threadID == "" {
		now := time.Now()
		thread := &models.Thread{
			ID:             uuid.NewString(),
			UserID:         userID,
			Status:         models.ThreadOpen,
			LastActivityAt: now,
			CreatedAt:      now,
		}
		if err := o.stores.Threads.Create(ctx, thread); err != nil {
			return nil, fmt.Errorf("create thread: %w", err)
		}
		return thread, nil
	}

	thread, err := o.stores.Threads.Get(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("load thread: %w", err)
	}
	if thread.UserID != userID {
		return nil, fmt.Errorf("thread %s does not belong to user", threadID)
	}
	if thread.Status == models.ThreadClosed {
		return nil, fmt.Errorf("thread %s is closed", threadID)
	}
	thread.LastActivityAt = time.Now()
	if err := o.stores.Threads.Update(ctx, thread); err != nil {
		return nil, fmt.Errorf("touch thread: %w", err)
	}
	return thread, nil
}

// turnToolSurface rebuilds the tool surface the turn opened with from its
// context snapshot, so a continuation never advertises tools the original
// call withheld. An unreadable snapshot falls back to the full surface.
func (o *Orchestrator) turnToolSurface(turn *models.Turn) []models.ToolDescriptor {
	var pack contextPack
	if len(turn.ContextSnapshot) == 0 || json.Unmarshal(turn.ContextSnapshot, &pack) != nil {
		return o.registry.Descriptors()
	}
	return o.registry.DescriptorsByKey(pack.ToolKeys)
}

// buildHistory returns the transcript to replay, bounded by the context
// window. The window never starts mid-exchange: it is widened backwards
// until it opens on a user message, so tool adjacency survives truncation.
func (o *Orchestrator) buildHistory(ctx context.Context, threadID string) ([]*models.Message, error) {
	all, err := o.stores.Messages.ListByThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	window := o.cfg.ContextWindowMessages
	if window <= 0 || len(all) <= window {
		return all, nil
	}

	start := len(all) - window
	for start > 0 && all[start].Role != models.RoleUser {
		start--
	}
	return all[start:], nil
}
