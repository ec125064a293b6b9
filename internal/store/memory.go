package store

import (
	"context"
	"sync"
	"time"

	"github.com/jobdeck/jobdeck/pkg/models"
)

// MemoryThreadStore is a thread-safe in-memory ThreadStore.
type MemoryThreadStore struct {
	mu      sync.RWMutex
	threads map[string]*models.Thread
}

// NewMemoryThreadStore creates an empty in-memory thread store.
func NewMemoryThreadStore() *MemoryThreadStore {
	return &MemoryThreadStore{threads: make(map[string]*models.Thread)}
}

func (s *MemoryThreadStore) Create(ctx context.Context, thread *models.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.threads[thread.ID]; exists {
		return ErrAlreadyExists
	}
	clone := *thread
	s.threads[thread.ID] = &clone
	return nil
}

func (s *MemoryThreadStore) Get(ctx context.Context, id string) (*models.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	thread, ok := s.threads[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *thread
	return &clone, nil
}

func (s *MemoryThreadStore) Update(ctx context.Context, thread *models.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[thread.ID]; !ok {
		return ErrNotFound
	}
	clone := *thread
	s.threads[thread.ID] = &clone
	return nil
}

// MemoryMessageStore is a thread-safe in-memory MessageStore preserving
// insertion order per thread.
type MemoryMessageStore struct {
	mu       sync.RWMutex
	messages map[string]*models.Message
	byThread map[string][]string
}

// NewMemoryMessageStore creates an empty in-memory message store.
func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{
		messages: make(map[string]*models.Message),
		byThread: make(map[string][]string),
	}
}

func (s *MemoryMessageStore) Create(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.messages[msg.ID]; exists {
		return ErrAlreadyExists
	}
	s.messages[msg.ID] = cloneMessage(msg)
	s.byThread[msg.ThreadID] = append(s.byThread[msg.ThreadID], msg.ID)
	return nil
}

func (s *MemoryMessageStore) Get(ctx context.Context, id string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMessage(msg), nil
}

func (s *MemoryMessageStore) Update(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[msg.ID]; !ok {
		return ErrNotFound
	}
	s.messages[msg.ID] = cloneMessage(msg)
	return nil
}

func (s *MemoryMessageStore) ListByThread(ctx context.Context, threadID string) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byThread[threadID]
	result := make([]*models.Message, 0, len(ids))
	for _, id := range ids {
		if msg, ok := s.messages[id]; ok {
			result = append(result, cloneMessage(msg))
		}
	}
	return result, nil
}

func cloneMessage(msg *models.Message) *models.Message {
	clone := *msg
	clone.ToolCalls = append([]models.ToolCall(nil), msg.ToolCalls...)
	clone.ToolResults = append([]models.ToolResult(nil), msg.ToolResults...)
	return &clone
}

// MemoryTurnStore is a thread-safe in-memory TurnStore.
type MemoryTurnStore struct {
	mu    sync.RWMutex
	turns map[string]*models.Turn
}

// NewMemoryTurnStore creates an empty in-memory turn store.
func NewMemoryTurnStore() *MemoryTurnStore {
	return &MemoryTurnStore{turns: make(map[string]*models.Turn)}
}

func (s *MemoryTurnStore) Create(ctx context.Context, turn *models.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.turns[turn.ID]; exists {
		return ErrAlreadyExists
	}
	clone := *turn
	s.turns[turn.ID] = &clone
	return nil
}

func (s *MemoryTurnStore) Get(ctx context.Context, id string) (*models.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	turn, ok := s.turns[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *turn
	return &clone, nil
}

func (s *MemoryTurnStore) GetByAssistantMessage(ctx context.Context, messageID string) (*models.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, turn := range s.turns {
		if turn.AssistantMessageID == messageID {
			clone := *turn
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryTurnStore) Update(ctx context.Context, turn *models.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.turns[turn.ID]; !ok {
		return ErrNotFound
	}
	turn.UpdatedAt = time.Now()
	clone := *turn
	s.turns[turn.ID] = &clone
	return nil
}

// MemoryExecutionStore is a thread-safe in-memory ExecutionStore.
type MemoryExecutionStore struct {
	mu        sync.RWMutex
	execs     map[string]*models.ToolExecution
	byMessage map[string][]string
}

// NewMemoryExecutionStore creates an empty in-memory execution store.
func NewMemoryExecutionStore() *MemoryExecutionStore {
	return &MemoryExecutionStore{
		execs:     make(map[string]*models.ToolExecution),
		byMessage: make(map[string][]string),
	}
}

func (s *MemoryExecutionStore) Create(ctx context.Context, exec *models.ToolExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.execs[exec.ID]; exists {
		return ErrAlreadyExists
	}
	for _, id := range s.byMessage[exec.MessageID] {
		if s.execs[id].IdempotencyKey == exec.IdempotencyKey {
			return ErrAlreadyExists
		}
	}
	clone := *exec
	s.execs[exec.ID] = &clone
	s.byMessage[exec.MessageID] = append(s.byMessage[exec.MessageID], exec.ID)
	return nil
}

func (s *MemoryExecutionStore) Get(ctx context.Context, id string) (*models.ToolExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.execs[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *exec
	return &clone, nil
}

func (s *MemoryExecutionStore) Update(ctx context.Context, exec *models.ToolExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.execs[exec.ID]; !ok {
		return ErrNotFound
	}
	exec.UpdatedAt = time.Now()
	clone := *exec
	s.execs[exec.ID] = &clone
	return nil
}

func (s *MemoryExecutionStore) FindByFingerprint(ctx context.Context, messageID, fingerprint string) (*models.ToolExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.byMessage[messageID] {
		if exec := s.execs[id]; exec.IdempotencyKey == fingerprint {
			clone := *exec
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryExecutionStore) ListByMessage(ctx context.Context, messageID string) ([]*models.ToolExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byMessage[messageID]
	result := make([]*models.ToolExecution, 0, len(ids))
	for _, id := range ids {
		if exec, ok := s.execs[id]; ok {
			clone := *exec
			result = append(result, &clone)
		}
	}
	return result, nil
}

func (s *MemoryExecutionStore) CountNonTerminal(ctx context.Context, messageID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, id := range s.byMessage[messageID] {
		if exec, ok := s.execs[id]; ok && !exec.Status.Terminal() {
			count++
		}
	}
	return count, nil
}

func (s *MemoryExecutionStore) CompareAndSwapStatus(ctx context.Context, id string, from, to models.ExecutionStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.execs[id]
	if !ok {
		return false, ErrNotFound
	}
	if exec.Status != from {
		return false, nil
	}
	exec.Status = to
	exec.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemoryExecutionStore) ListStalePendingApproval(ctx context.Context, cutoffMS int64) ([]*models.ToolExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*models.ToolExecution
	for _, exec := range s.execs {
		if exec.Status == models.ExecutionPendingApproval && exec.CreatedAt.UnixMilli() < cutoffMS {
			clone := *exec
			result = append(result, &clone)
		}
	}
	return result, nil
}

// MemoryUsageStore is a thread-safe in-memory UsageStore.
type MemoryUsageStore struct {
	mu   sync.RWMutex
	logs map[string]*models.UsageLog
	keys []string
}

// NewMemoryUsageStore creates an empty in-memory usage store.
func NewMemoryUsageStore() *MemoryUsageStore {
	return &MemoryUsageStore{logs: make(map[string]*models.UsageLog)}
}

func (s *MemoryUsageStore) Create(ctx context.Context, log *models.UsageLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.logs[log.ID]; exists {
		return ErrAlreadyExists
	}
	clone := *log
	s.logs[log.ID] = &clone
	s.keys = append(s.keys, log.ID)
	return nil
}

func (s *MemoryUsageStore) Get(ctx context.Context, id string) (*models.UsageLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log, ok := s.logs[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *log
	return &clone, nil
}

func (s *MemoryUsageStore) ListByTrace(ctx context.Context, traceID string) ([]*models.UsageLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*models.UsageLog
	for _, id := range s.keys {
		if log := s.logs[id]; log.TraceID == traceID {
			clone := *log
			result = append(result, &clone)
		}
	}
	return result, nil
}
