package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jobdeck/jobdeck/internal/assistant/providers"
	"github.com/jobdeck/jobdeck/internal/observability"
	"github.com/jobdeck/jobdeck/internal/store"
	"github.com/jobdeck/jobdeck/internal/tools"
	"github.com/jobdeck/jobdeck/internal/usage"
	"github.com/jobdeck/jobdeck/pkg/models"
)

// stubProvider plays back a scripted sequence of responses.
type stubProvider struct {
	name     string
	stateful bool
	script   []stubResponse
	calls    []providers.Request
}

type stubResponse struct {
	result *providers.Result
	err    error
}

func (p *stubProvider) Name() string   { return p.name }
func (p *stubProvider) Stateful() bool { return p.stateful }
func (p *stubProvider) Model() string  { return "stub-model" }

func (p *stubProvider) Complete(_ context.Context, req *providers.Request) (*providers.Result, error) {
	p.calls = append(p.calls, *req)
	if len(p.script) == 0 {
		return nil, fmt.Errorf("stub script exhausted after %d calls", len(p.calls))
	}
	next := p.script[0]
	p.script = p.script[1:]
	return next.result, next.err
}

func textResponse(content string) stubResponse {
	return stubResponse{result: &providers.Result{Content: content}}
}

func toolCallResponse(callID, toolKey, args string) stubResponse {
	return stubResponse{result: &providers.Result{
		ToolCalls: []models.ToolCall{{
			ProviderCallID: callID,
			ToolKey:        toolKey,
			Args:           json.RawMessage(args),
		}},
	}}
}

// fakeQueue records scheduled work for the test to drive synchronously.
type fakeQueue struct {
	runTool []string
	resume  []string
}

func (q *fakeQueue) EnqueueRunTool(_ context.Context, id string) error {
	q.runTool = append(q.runTool, id)
	return nil
}

func (q *fakeQueue) EnqueueResumeFollowup(_ context.Context, id string) error {
	q.resume = append(q.resume, id)
	return nil
}

func drain(t *testing.T, o *Orchestrator, q *fakeQueue) {
	t.Helper()
	for i := 0; i < 100; i++ {
		switch {
		case len(q.runTool) > 0:
			id := q.runTool[0]
			q.runTool = q.runTool[1:]
			if err := o.RunExecution(context.Background(), id); err != nil {
				t.Fatalf("run execution %s: %v", id, err)
			}
		case len(q.resume) > 0:
			id := q.resume[0]
			q.resume = q.resume[1:]
			if err := o.ResumeFollowup(context.Background(), id); err != nil {
				t.Fatalf("resume followup %s: %v", id, err)
			}
		default:
			return
		}
	}
	t.Fatal("job queue did not drain")
}

func testBackend() *tools.MemoryBackend {
	b := tools.NewMemoryBackend()
	b.PutProfile(&tools.Profile{UserID: "user-1", Name: "Dana", Headline: "Backend engineer"})
	b.PutApplication(&tools.Application{
		ID: "app-1", UserID: "user-1",
		JobTitle: "Go Engineer", Company: "Acme", Stage: tools.StageApplied,
	})
	return b
}

func newTestOrchestrator(t *testing.T, extra []tools.Tool, provs ...providers.Provider) (*Orchestrator, *fakeQueue, store.Set) {
	t.Helper()
	stores := store.NewMemorySet()
	logger := observability.NewLogger(observability.LogConfig{Output: io.Discard})
	tracer, _ := observability.NewTracer(observability.TraceConfig{})

	registry := NewRegistry(RegistryConfig{})
	if err := registry.RegisterAll(tools.All(testBackend())); err != nil {
		t.Fatalf("register tools: %v", err)
	}
	if err := registry.RegisterAll(extra); err != nil {
		t.Fatalf("register extra tools: %v", err)
	}

	rec := usage.NewRecorder(stores.Usage, logger, nil)
	chain := NewProviderChain(provs, rec, logger, nil)
	queue := &fakeQueue{}

	o := New(stores, store.NewThreadLocker(), registry, chain,
		logger, nil, tracer, queue, NopNotifier{},
		Config{SystemPrompt: "You are the jobdeck assistant.", MaxFollowupIterations: 3})
	return o, queue, stores
}

func TestDirectAnswerTurn(t *testing.T) {
	p := &stubProvider{name: "stub", script: []stubResponse{textResponse("Hello Dana!")}}
	o, _, stores := newTestOrchestrator(t, nil, p)

	turn, err := o.HandleUserMessage(context.Background(), "", "user-1", "hi", "")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if turn.Status != models.TurnSuccess {
		t.Fatalf("turn status = %s, want success", turn.Status)
	}
	final, err := stores.Messages.Get(context.Background(), turn.AssistantMessageID)
	if err != nil {
		t.Fatalf("load final message: %v", err)
	}
	if final.Content != "Hello Dana!" {
		t.Errorf("final content = %q", final.Content)
	}
	if final.Meta.TraceID != turn.TraceID {
		t.Error("final message not correlated to the turn's trace")
	}
}

func TestEmptyResponseGetsFallbackText(t *testing.T) {
	p := &stubProvider{name: "stub", script: []stubResponse{textResponse("")}}
	o, _, stores := newTestOrchestrator(t, nil, p)

	turn, err := o.HandleUserMessage(context.Background(), "", "user-1", "hi", "")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	final, _ := stores.Messages.Get(context.Background(), turn.AssistantMessageID)
	if final.Content != fallbackEmptyResponse {
		t.Errorf("expected fallback text, got %q", final.Content)
	}
	if turn.Status != models.TurnSuccess {
		t.Errorf("turn status = %s, want success", turn.Status)
	}
}

func TestReadOnlyToolRoundTrip(t *testing.T) {
	p := &stubProvider{name: "stub", script: []stubResponse{
		toolCallResponse("call-1", "get_profile_summary", `{}`),
		textResponse("Your profile highlights backend work."),
	}}
	o, queue, stores := newTestOrchestrator(t, nil, p)

	turn, err := o.HandleUserMessage(context.Background(), "", "user-1", "what does my profile say?", "")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if turn.Status != models.TurnRunning {
		t.Fatalf("turn status before drain = %s, want running", turn.Status)
	}
	if len(queue.runTool) != 1 {
		t.Fatalf("expected 1 queued execution, got %d", len(queue.runTool))
	}

	drain(t, o, queue)

	turn, _ = o.stores.Turns.Get(context.Background(), turn.ID)
	if turn.Status != models.TurnSuccess {
		t.Fatalf("turn status = %s (%s), want success", turn.Status, turn.ErrorText)
	}

	// Second provider call is the continuation carrying the tool result.
	if len(p.calls) != 2 {
		t.Fatalf("provider calls = %d, want 2", len(p.calls))
	}
	if !p.calls[1].Followup {
		t.Error("continuation call not marked as follow-up")
	}

	// The final answer lands on the proposing assistant message itself, so
	// the transcript stays user / assistant / tool with no trailing message.
	msgs, _ := stores.Messages.ListByThread(context.Background(), turn.ThreadID)
	var roles []models.Role
	for _, m := range msgs {
		roles = append(roles, m.Role)
	}
	want := []models.Role{models.RoleUser, models.RoleAssistant, models.RoleTool}
	if len(roles) != len(want) {
		t.Fatalf("transcript roles = %v, want %v", roles, want)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Fatalf("transcript roles = %v, want %v", roles, want)
		}
	}
	if turn.AssistantMessageID != msgs[1].ID {
		t.Error("turn not finalized on the proposing assistant message")
	}
	if msgs[1].Content != "Your profile highlights backend work." {
		t.Errorf("final content = %q", msgs[1].Content)
	}
	if len(msgs[1].ToolCalls) != 1 {
		t.Error("tool calls stripped from the finalized message")
	}
	if msgs[1].Meta.PendingToolFollowup {
		t.Error("pending flag not cleared on proposing message")
	}
	if msgs[2].ToolResults[0].ProviderCallID != "call-1" {
		t.Error("tool result not correlated to the provider call id")
	}
}

func TestDestructiveToolWaitsForApproval(t *testing.T) {
	p := &stubProvider{name: "stub", script: []stubResponse{
		toolCallResponse("call-1", "withdraw_application", `{"application_id":"app-1"}`),
		textResponse("Done, the application is withdrawn."),
	}}
	o, queue, stores := newTestOrchestrator(t, nil, p)

	turn, err := o.HandleUserMessage(context.Background(), "", "user-1", "withdraw my acme application", "")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(queue.runTool) != 0 {
		t.Fatal("confirmation-gated execution was queued without approval")
	}

	execs, _ := stores.Executions.ListByMessage(context.Background(), turn.AssistantMessageID)
	if len(execs) != 1 {
		t.Fatalf("executions = %d, want 1", len(execs))
	}
	exec := execs[0]
	if exec.Status != models.ExecutionPendingApproval {
		t.Fatalf("status = %s, want pending_approval", exec.Status)
	}

	// Running before approval must not execute anything.
	if err := o.RunExecution(context.Background(), exec.ID); err != nil {
		t.Fatalf("premature run: %v", err)
	}
	got, _ := stores.Executions.Get(context.Background(), exec.ID)
	if got.Status != models.ExecutionPendingApproval {
		t.Fatalf("premature run changed status to %s", got.Status)
	}

	if err := o.Approve(context.Background(), exec.ID, "user-1"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	drain(t, o, queue)

	got, _ = stores.Executions.Get(context.Background(), exec.ID)
	if got.Status != models.ExecutionSuccess {
		t.Fatalf("status after approval = %s (%s)", got.Status, got.ErrorText)
	}
	if got.ApprovedBy != "user-1" {
		t.Errorf("approved_by = %q", got.ApprovedBy)
	}

	turn, _ = stores.Turns.Get(context.Background(), turn.ID)
	if turn.Status != models.TurnSuccess {
		t.Fatalf("turn status = %s (%s)", turn.Status, turn.ErrorText)
	}
}

func TestDeniedToolBecomesErrorResult(t *testing.T) {
	p := &stubProvider{name: "stub", script: []stubResponse{
		toolCallResponse("call-1", "withdraw_application", `{"application_id":"app-1"}`),
		textResponse("Understood, I left the application alone."),
	}}
	o, queue, stores := newTestOrchestrator(t, nil, p)

	turn, err := o.HandleUserMessage(context.Background(), "", "user-1", "withdraw it", "")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	execs, _ := stores.Executions.ListByMessage(context.Background(), turn.AssistantMessageID)
	if err := o.Deny(context.Background(), execs[0].ID, "user-1"); err != nil {
		t.Fatalf("deny: %v", err)
	}
	drain(t, o, queue)

	msgs, _ := stores.Messages.ListByThread(context.Background(), turn.ThreadID)
	var toolMsg *models.Message
	for _, m := range msgs {
		if m.Role == models.RoleTool {
			toolMsg = m
		}
	}
	if toolMsg == nil {
		t.Fatal("no tool result message for the denial")
	}
	if !toolMsg.ToolResults[0].IsError {
		t.Error("denial result not marked as error")
	}

	turn, _ = stores.Turns.Get(context.Background(), turn.ID)
	if turn.Status != models.TurnSuccess {
		t.Fatalf("turn status = %s, want success", turn.Status)
	}
}

// countingTool counts invocations, to prove redelivery cannot double-run.
type countingTool struct {
	n *atomic.Int32
}

func (c countingTool) Key() string            { return "count_calls" }
func (c countingTool) Description() string    { return "counts invocations" }
func (c countingTool) Risk() models.RiskLevel { return models.RiskReadOnly }
func (c countingTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}
func (c countingTool) Execute(context.Context, string, json.RawMessage) (string, error) {
	c.n.Add(1)
	return "counted", nil
}

func TestRunExecutionIsIdempotent(t *testing.T) {
	var n atomic.Int32
	p := &stubProvider{name: "stub", script: []stubResponse{
		toolCallResponse("call-1", "count_calls", `{}`),
		textResponse("done"),
	}}
	o, queue, stores := newTestOrchestrator(t, []tools.Tool{countingTool{n: &n}}, p)

	turn, err := o.HandleUserMessage(context.Background(), "", "user-1", "count", "")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	execs, _ := stores.Executions.ListByMessage(context.Background(), turn.AssistantMessageID)
	execID := execs[0].ID

	// Simulate redelivery: the same job runs twice.
	if err := o.RunExecution(context.Background(), execID); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := o.RunExecution(context.Background(), execID); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if n.Load() != 1 {
		t.Fatalf("tool executed %d times, want 1", n.Load())
	}
	drain(t, o, queue)
}

func TestDuplicateProposalsCollapse(t *testing.T) {
	p := &stubProvider{name: "stub", script: []stubResponse{
		{result: &providers.Result{ToolCalls: []models.ToolCall{
			{ProviderCallID: "call-1", ToolKey: "get_profile_summary", Args: json.RawMessage(`{}`)},
			{ProviderCallID: "call-2", ToolKey: "get_profile_summary", Args: json.RawMessage(`{}`)},
		}}},
		textResponse("done"),
	}}
	o, queue, stores := newTestOrchestrator(t, nil, p)

	turn, err := o.HandleUserMessage(context.Background(), "", "user-1", "profile please", "")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	execs, _ := stores.Executions.ListByMessage(context.Background(), turn.AssistantMessageID)
	if len(execs) != 1 {
		t.Fatalf("executions = %d, want 1 after dedup", len(execs))
	}
	drain(t, o, queue)
}

func TestFollowupCapProducesApology(t *testing.T) {
	script := []stubResponse{toolCallResponse("call-0", "get_profile_summary", `{}`)}
	for i := 1; i <= 3; i++ {
		script = append(script, toolCallResponse(fmt.Sprintf("call-%d", i), "get_profile_summary", `{}`))
	}
	p := &stubProvider{name: "stub", script: script}
	o, queue, stores := newTestOrchestrator(t, nil, p)

	turn, err := o.HandleUserMessage(context.Background(), "", "user-1", "loop forever", "")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	drain(t, o, queue)

	turn, _ = stores.Turns.Get(context.Background(), turn.ID)
	if turn.Status != models.TurnSuccess {
		t.Fatalf("turn status = %s (%s), want success", turn.Status, turn.ErrorText)
	}
	if turn.Iterations != 3 {
		t.Errorf("iterations = %d, want 3", turn.Iterations)
	}
	final, _ := stores.Messages.Get(context.Background(), turn.AssistantMessageID)
	if final.Content != fallbackCapReached {
		t.Errorf("expected the apology, got %q", final.Content)
	}
}

func TestUnknownToolRejectedAndTurnStillResolves(t *testing.T) {
	p := &stubProvider{name: "stub", script: []stubResponse{
		toolCallResponse("call-1", "rm_dash_rf", `{}`),
		textResponse("That tool is not something I can run."),
	}}
	o, queue, stores := newTestOrchestrator(t, nil, p)

	turn, err := o.HandleUserMessage(context.Background(), "", "user-1", "try something weird", "")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	drain(t, o, queue)

	execs, _ := stores.Executions.ListByMessage(context.Background(), turn.AssistantMessageID)
	if len(execs) != 1 || execs[0].ErrorKind != models.ErrKindToolNotFound {
		t.Fatalf("expected one tool_not_found execution, got %+v", execs)
	}

	turn, _ = stores.Turns.Get(context.Background(), turn.ID)
	if turn.Status != models.TurnSuccess {
		t.Fatalf("turn status = %s (%s), want success", turn.Status, turn.ErrorText)
	}
}

func TestInvalidArgumentsRejectedAtProposal(t *testing.T) {
	p := &stubProvider{name: "stub", script: []stubResponse{
		toolCallResponse("call-1", "list_applications", `{"stage":42}`),
		textResponse("Sorry, I mangled that request."),
	}}
	o, queue, stores := newTestOrchestrator(t, nil, p)

	turn, err := o.HandleUserMessage(context.Background(), "", "user-1", "list them", "")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	drain(t, o, queue)

	execs, _ := stores.Executions.ListByMessage(context.Background(), turn.AssistantMessageID)
	if len(execs) != 1 || execs[0].ErrorKind != models.ErrKindInvalidArgs {
		t.Fatalf("expected one invalid_arguments execution, got %+v", execs)
	}
}

func TestFailoverToSecondProvider(t *testing.T) {
	primary := &stubProvider{name: "primary", script: []stubResponse{
		{err: errors.New("429 too many requests")},
	}}
	secondary := &stubProvider{name: "secondary", script: []stubResponse{textResponse("Hello from the backup.")}}
	o, _, stores := newTestOrchestrator(t, nil, primary, secondary)

	turn, err := o.HandleUserMessage(context.Background(), "", "user-1", "hi", "")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if turn.Provider != "secondary" {
		t.Errorf("turn provider = %q, want secondary", turn.Provider)
	}
	if turn.Status != models.TurnSuccess {
		t.Errorf("turn status = %s", turn.Status)
	}

	// Both attempts show up in the usage ledger.
	logs, _ := stores.Usage.ListByTrace(context.Background(), turn.TraceID)
	if len(logs) != 2 {
		t.Errorf("usage rows = %d, want 2", len(logs))
	}
}

func TestContractViolationDoesNotFailover(t *testing.T) {
	primary := &stubProvider{name: "primary", script: []stubResponse{
		{err: providers.NewContractViolation("primary", "stub-model", providers.ErrMissingContinuation)},
	}}
	secondary := &stubProvider{name: "secondary", script: []stubResponse{textResponse("never reached")}}
	o, _, stores := newTestOrchestrator(t, nil, primary, secondary)

	turn, err := o.HandleUserMessage(context.Background(), "", "user-1", "hi", "")
	if err == nil {
		t.Fatal("expected the turn to fail")
	}
	if len(secondary.calls) != 0 {
		t.Error("contract violation leaked to the fallback provider")
	}
	turn, _ = stores.Turns.Get(context.Background(), turn.ID)
	if turn.Status != models.TurnError {
		t.Errorf("turn status = %s, want error", turn.Status)
	}
	if !strings.Contains(turn.ErrorText, "contract_violation") {
		t.Errorf("error text %q does not name the violation", turn.ErrorText)
	}
}

func TestStaleApprovalExpiresIntoErrorResult(t *testing.T) {
	p := &stubProvider{name: "stub", script: []stubResponse{
		toolCallResponse("call-1", "withdraw_application", `{"application_id":"app-1"}`),
		textResponse("I couldn't make that change; the approval window closed."),
	}}
	o, queue, stores := newTestOrchestrator(t, nil, p)

	turn, err := o.HandleUserMessage(context.Background(), "", "user-1", "withdraw it", "")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	execs, _ := stores.Executions.ListByMessage(context.Background(), turn.AssistantMessageID)
	if len(execs) != 1 || execs[0].Status != models.ExecutionPendingApproval {
		t.Fatalf("expected one pending_approval execution, got %+v", execs)
	}

	// Age the approval request past the TTL.
	exec := execs[0]
	exec.CreatedAt = time.Now().Add(-2 * time.Hour)
	if err := stores.Executions.Update(context.Background(), exec); err != nil {
		t.Fatalf("backdate execution: %v", err)
	}

	expired, err := o.ExpirePendingApprovals(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expired = %d, want 1", expired)
	}

	got, _ := stores.Executions.Get(context.Background(), exec.ID)
	if got.Status != models.ExecutionError {
		t.Fatalf("status = %s, want error", got.Status)
	}
	if !strings.Contains(got.ErrorText, "expired") {
		t.Errorf("error text %q does not mention expiry", got.ErrorText)
	}

	// A fresh request must survive the same sweep.
	if again, _ := o.ExpirePendingApprovals(context.Background(), time.Hour); again != 0 {
		t.Errorf("second sweep expired %d executions, want 0", again)
	}

	drain(t, o, queue)
	turn, _ = stores.Turns.Get(context.Background(), turn.ID)
	if turn.Status != models.TurnSuccess {
		t.Fatalf("turn status = %s (%s), want success after expiry resume", turn.Status, turn.ErrorText)
	}
}

func TestExhaustedProvidersLeaveFallbackMessage(t *testing.T) {
	p := &stubProvider{name: "only", script: []stubResponse{
		{err: errors.New("500 internal server error")},
	}}
	o, _, stores := newTestOrchestrator(t, nil, p)

	turn, err := o.HandleUserMessage(context.Background(), "", "user-1", "hi", "")
	if err == nil {
		t.Fatal("expected the turn to fail")
	}
	turn, _ = stores.Turns.Get(context.Background(), turn.ID)
	if turn.Status != models.TurnError {
		t.Fatalf("turn status = %s, want error", turn.Status)
	}

	// The transcript never ends on the user's message: the errored turn
	// still carries a fallback assistant reply.
	msgs, _ := stores.Messages.ListByThread(context.Background(), turn.ThreadID)
	if len(msgs) != 2 {
		t.Fatalf("transcript length = %d, want user + fallback", len(msgs))
	}
	final := msgs[1]
	if final.Role != models.RoleAssistant || final.Content != fallbackTurnFailed {
		t.Errorf("fallback message = %s %q", final.Role, final.Content)
	}
	if turn.AssistantMessageID != final.ID {
		t.Error("turn does not reference its fallback message")
	}
}

func TestPageContextNarrowsToolSurface(t *testing.T) {
	p := &stubProvider{name: "stub", script: []stubResponse{
		toolCallResponse("call-1", "get_profile_summary", `{}`),
		textResponse("Here is your profile."),
	}}
	stores := store.NewMemorySet()
	logger := observability.NewLogger(observability.LogConfig{Output: io.Discard})
	tracer, _ := observability.NewTracer(observability.TraceConfig{})

	registry := NewRegistry(RegistryConfig{
		PageContexts: map[string][]string{"profile": {"get_profile_summary"}},
	})
	if err := registry.RegisterAll(tools.All(testBackend())); err != nil {
		t.Fatalf("register tools: %v", err)
	}

	rec := usage.NewRecorder(stores.Usage, logger, nil)
	chain := NewProviderChain([]providers.Provider{p}, rec, logger, nil)
	queue := &fakeQueue{}
	o := New(stores, store.NewThreadLocker(), registry, chain,
		logger, nil, tracer, queue, NopNotifier{},
		Config{SystemPrompt: "You are the jobdeck assistant.", MaxFollowupIterations: 3})

	turn, err := o.HandleUserMessage(context.Background(), "", "user-1", "show my profile", "profile")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(p.calls[0].Tools) != 1 || p.calls[0].Tools[0].Key != "get_profile_summary" {
		t.Fatalf("advertised tools = %+v, want only get_profile_summary", p.calls[0].Tools)
	}

	var pack struct {
		PageContext string   `json:"page_context"`
		ToolKeys    []string `json:"tool_keys"`
	}
	if err := json.Unmarshal(turn.ContextSnapshot, &pack); err != nil {
		t.Fatalf("context snapshot not recorded: %v", err)
	}
	if pack.PageContext != "profile" || len(pack.ToolKeys) != 1 {
		t.Errorf("context snapshot = %+v", pack)
	}

	drain(t, o, queue)

	// The continuation offers the same narrowed surface, not the full one.
	if len(p.calls) != 2 {
		t.Fatalf("provider calls = %d, want 2", len(p.calls))
	}
	if len(p.calls[1].Tools) != 1 || p.calls[1].Tools[0].Key != "get_profile_summary" {
		t.Fatalf("continuation tools = %+v, want only get_profile_summary", p.calls[1].Tools)
	}
}

// statusRecordingExecStore records the status each execution is first
// persisted with.
type statusRecordingExecStore struct {
	store.ExecutionStore
	created []models.ExecutionStatus
}

func (s *statusRecordingExecStore) Create(ctx context.Context, exec *models.ToolExecution) error {
	s.created = append(s.created, exec.Status)
	return s.ExecutionStore.Create(ctx, exec)
}

func TestProposalsRecordedAsProposedBeforeDispatch(t *testing.T) {
	p := &stubProvider{name: "stub", script: []stubResponse{
		toolCallResponse("call-1", "withdraw_application", `{"application_id":"app-1"}`),
		textResponse("ok"),
	}}
	o, _, stores := newTestOrchestrator(t, nil, p)
	recording := &statusRecordingExecStore{ExecutionStore: stores.Executions}
	o.stores.Executions = recording

	turn, err := o.HandleUserMessage(context.Background(), "", "user-1", "withdraw it", "")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(recording.created) != 1 || recording.created[0] != models.ExecutionProposed {
		t.Fatalf("initial recorded statuses = %v, want [proposed]", recording.created)
	}
	execs, _ := stores.Executions.ListByMessage(context.Background(), turn.AssistantMessageID)
	if len(execs) != 1 || execs[0].Status != models.ExecutionPendingApproval {
		t.Fatalf("post-classification status = %+v, want pending_approval", execs)
	}
}

func TestForcedConfirmationOverridesReadOnly(t *testing.T) {
	registry := NewRegistry(RegistryConfig{ForceConfirmation: []string{"get_profile_summary"}})
	if err := registry.RegisterAll(tools.All(testBackend())); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, desc, ok := registry.Get("get_profile_summary")
	if !ok {
		t.Fatal("tool missing")
	}
	if !desc.NeedsConfirmation() {
		t.Error("forced confirmation not applied to a read-only tool")
	}
}

func TestAllowedToolsHonorsPageContext(t *testing.T) {
	registry := NewRegistry(RegistryConfig{
		PageContexts: map[string][]string{
			"application_detail": {"list_applications", "add_note_to_application"},
		},
	})
	if err := registry.RegisterAll(tools.All(testBackend())); err != nil {
		t.Fatalf("register: %v", err)
	}

	scoped := registry.AllowedTools("user-1", "t1", "application_detail")
	if len(scoped) != 2 {
		t.Fatalf("scoped surface = %d tools, want 2", len(scoped))
	}
	if scoped[0].Key != "add_note_to_application" || scoped[1].Key != "list_applications" {
		t.Errorf("scoped surface = %q, %q", scoped[0].Key, scoped[1].Key)
	}

	// A context without an overlay entry sees everything enabled.
	open := registry.AllowedTools("user-1", "t1", "dashboard")
	if len(open) != len(registry.Descriptors()) {
		t.Errorf("unscoped surface = %d tools, want %d", len(open), len(registry.Descriptors()))
	}
}

func TestDisabledToolDroppedFromDescriptors(t *testing.T) {
	registry := NewRegistry(RegistryConfig{Disabled: []string{"withdraw_application"}})
	if err := registry.RegisterAll(tools.All(testBackend())); err != nil {
		t.Fatalf("register: %v", err)
	}
	for _, d := range registry.Descriptors() {
		if d.Key == "withdraw_application" {
			t.Error("disabled tool still advertised to providers")
		}
	}
}
