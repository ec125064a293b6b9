package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jobdeck/jobdeck/pkg/models"
	_ "modernc.org/sqlite"
)

// SQLiteStore bundles every store interface over a single SQLite database.
// The idempotency key carries a unique index scoped to the originating
// message, so proposal dedup is enforced by the schema rather than by a
// JSON-path query.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS threads (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	status TEXT NOT NULL,
	last_activity_at INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	thread_id TEXT NOT NULL REFERENCES threads(id),
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	tool_calls TEXT,
	tool_results TEXT,
	meta TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, created_at);

CREATE TABLE IF NOT EXISTS turns (
	id TEXT PRIMARY KEY,
	thread_id TEXT NOT NULL,
	user_message_id TEXT NOT NULL,
	assistant_message_id TEXT,
	trace_id TEXT NOT NULL,
	provider TEXT,
	model TEXT,
	context_snapshot TEXT,
	usage_log_id TEXT,
	latency_ms INTEGER NOT NULL DEFAULT 0,
	iterations INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	error_text TEXT,
	provider_state TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_assistant_msg ON turns(assistant_message_id);

CREATE TABLE IF NOT EXISTS tool_executions (
	id TEXT PRIMARY KEY,
	thread_id TEXT NOT NULL,
	message_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	tool_key TEXT NOT NULL,
	args TEXT,
	status TEXT NOT NULL,
	trace_id TEXT,
	requires_confirmation INTEGER NOT NULL DEFAULT 0,
	idempotency_key TEXT NOT NULL,
	provider_call_id TEXT,
	result TEXT,
	error_text TEXT,
	error_kind TEXT,
	approved_by TEXT,
	approved_at INTEGER,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	UNIQUE(message_id, idempotency_key)
);
CREATE INDEX IF NOT EXISTS idx_executions_message ON tool_executions(message_id);
CREATE INDEX IF NOT EXISTS idx_executions_status ON tool_executions(status, created_at);

CREATE TABLE IF NOT EXISTS usage_logs (
	id TEXT PRIMARY KEY,
	trace_id TEXT,
	provider TEXT NOT NULL,
	model TEXT,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	latency_ms INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	error_text TEXT,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_trace ON usage_logs(trace_id);
`

// NewSQLiteStore opens (or creates) the database at path and applies the
// schema. Use ":memory:" for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite: path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}
	// modernc.org/sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent workers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to set pragmas: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// NewSQLiteSet returns a Set with every store backed by the given database.
func NewSQLiteSet(path string) (Set, error) {
	s, err := NewSQLiteStore(path)
	if err != nil {
		return Set{}, err
	}
	return s.Set(), nil
}

// Set wraps the database in per-entity stores.
func (s *SQLiteStore) Set() Set {
	return Set{
		Threads:    &sqliteThreads{db: s.db},
		Messages:   &sqliteMessages{db: s.db},
		Turns:      &sqliteTurns{db: s.db},
		Executions: &sqliteExecutions{db: s.db},
		Usage:      &sqliteUsage{db: s.db},
		closer:     s.db.Close,
	}
}

// DB exposes the underlying handle for related stores (job queue).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

type sqliteThreads struct{ db *sql.DB }

func (s *sqliteThreads) Create(ctx context.Context, thread *models.Thread) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO threads (id, user_id, status, last_activity_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		thread.ID, thread.UserID, string(thread.Status),
		thread.LastActivityAt.UnixMilli(), thread.CreatedAt.UnixMilli())
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (s *sqliteThreads) Get(ctx context.Context, id string) (*models.Thread, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, status, last_activity_at, created_at FROM threads WHERE id = ?`, id)
	var t models.Thread
	var lastActivity, created int64
	if err := row.Scan(&t.ID, &t.UserID, &t.Status, &lastActivity, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	t.LastActivityAt = time.UnixMilli(lastActivity)
	t.CreatedAt = time.UnixMilli(created)
	return &t, nil
}

func (s *sqliteThreads) Update(ctx context.Context, thread *models.Thread) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE threads SET user_id = ?, status = ?, last_activity_at = ? WHERE id = ?`,
		thread.UserID, string(thread.Status), thread.LastActivityAt.UnixMilli(), thread.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

type sqliteMessages struct{ db *sql.DB }

func (s *sqliteMessages) Create(ctx context.Context, msg *models.Message) error {
	toolCalls, err := marshalJSON(msg.ToolCalls)
	if err != nil {
		return err
	}
	toolResults, err := marshalJSON(msg.ToolResults)
	if err != nil {
		return err
	}
	meta, err := marshalJSON(msg.Meta)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, thread_id, role, content, tool_calls, tool_results, meta, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ThreadID, string(msg.Role), msg.Content, toolCalls, toolResults, meta,
		msg.CreatedAt.UnixMilli())
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (s *sqliteMessages) Get(ctx context.Context, id string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, thread_id, role, content, tool_calls, tool_results, meta, created_at
		 FROM messages WHERE id = ?`, id)
	return scanMessage(row)
}

func (s *sqliteMessages) Update(ctx context.Context, msg *models.Message) error {
	toolCalls, err := marshalJSON(msg.ToolCalls)
	if err != nil {
		return err
	}
	toolResults, err := marshalJSON(msg.ToolResults)
	if err != nil {
		return err
	}
	meta, err := marshalJSON(msg.Meta)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET content = ?, tool_calls = ?, tool_results = ?, meta = ? WHERE id = ?`,
		msg.Content, toolCalls, toolResults, meta, msg.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqliteMessages) ListByThread(ctx context.Context, threadID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, thread_id, role, content, tool_calls, tool_results, meta, created_at
		 FROM messages WHERE thread_id = ? ORDER BY created_at ASC, rowid ASC`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var msg models.Message
	var toolCalls, toolResults, meta sql.NullString
	var created int64
	if err := row.Scan(&msg.ID, &msg.ThreadID, &msg.Role, &msg.Content, &toolCalls, &toolResults, &meta, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if toolCalls.Valid && toolCalls.String != "" {
		if err := json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls); err != nil {
			return nil, fmt.Errorf("sqlite: corrupt tool_calls for message %s: %w", msg.ID, err)
		}
	}
	if toolResults.Valid && toolResults.String != "" {
		if err := json.Unmarshal([]byte(toolResults.String), &msg.ToolResults); err != nil {
			return nil, fmt.Errorf("sqlite: corrupt tool_results for message %s: %w", msg.ID, err)
		}
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &msg.Meta); err != nil {
			return nil, fmt.Errorf("sqlite: corrupt meta for message %s: %w", msg.ID, err)
		}
	}
	msg.CreatedAt = time.UnixMilli(created)
	return &msg, nil
}

type sqliteTurns struct{ db *sql.DB }

func (s *sqliteTurns) Create(ctx context.Context, turn *models.Turn) error {
	state, err := marshalJSON(turn.ProviderState)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO turns (id, thread_id, user_message_id, assistant_message_id, trace_id, provider, model,
			context_snapshot, usage_log_id, latency_ms, iterations, status, error_text, provider_state, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.ID, turn.ThreadID, turn.UserMessageID, turn.AssistantMessageID, turn.TraceID,
		turn.Provider, turn.Model, string(turn.ContextSnapshot), turn.UsageLogID, turn.LatencyMS,
		turn.Iterations, string(turn.Status), turn.ErrorText, state,
		turn.CreatedAt.UnixMilli(), turn.UpdatedAt.UnixMilli())
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (s *sqliteTurns) Get(ctx context.Context, id string) (*models.Turn, error) {
	return s.getWhere(ctx, "id = ?", id)
}

func (s *sqliteTurns) GetByAssistantMessage(ctx context.Context, messageID string) (*models.Turn, error) {
	return s.getWhere(ctx, "assistant_message_id = ?", messageID)
}

func (s *sqliteTurns) getWhere(ctx context.Context, where string, arg any) (*models.Turn, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, thread_id, user_message_id, assistant_message_id, trace_id, provider, model,
			context_snapshot, usage_log_id, latency_ms, iterations, status, error_text, provider_state, created_at, updated_at
		 FROM turns WHERE `+where, arg)
	var t models.Turn
	var assistantMsg, provider, model, snapshot, usageLog, errText sql.NullString
	var state string
	var created, updated int64
	if err := row.Scan(&t.ID, &t.ThreadID, &t.UserMessageID, &assistantMsg, &t.TraceID, &provider, &model,
		&snapshot, &usageLog, &t.LatencyMS, &t.Iterations, &t.Status, &errText, &state, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	t.AssistantMessageID = assistantMsg.String
	t.Provider = provider.String
	t.Model = model.String
	if snapshot.String != "" {
		t.ContextSnapshot = json.RawMessage(snapshot.String)
	}
	t.UsageLogID = usageLog.String
	t.ErrorText = errText.String
	if state != "" {
		if err := json.Unmarshal([]byte(state), &t.ProviderState); err != nil {
			return nil, fmt.Errorf("sqlite: corrupt provider_state for turn %s: %w", t.ID, err)
		}
	}
	t.CreatedAt = time.UnixMilli(created)
	t.UpdatedAt = time.UnixMilli(updated)
	return &t, nil
}

func (s *sqliteTurns) Update(ctx context.Context, turn *models.Turn) error {
	state, err := marshalJSON(turn.ProviderState)
	if err != nil {
		return err
	}
	turn.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE turns SET assistant_message_id = ?, provider = ?, model = ?, context_snapshot = ?,
			usage_log_id = ?, latency_ms = ?, iterations = ?, status = ?, error_text = ?, provider_state = ?, updated_at = ?
		 WHERE id = ?`,
		turn.AssistantMessageID, turn.Provider, turn.Model, string(turn.ContextSnapshot),
		turn.UsageLogID, turn.LatencyMS, turn.Iterations, string(turn.Status), turn.ErrorText, state,
		turn.UpdatedAt.UnixMilli(), turn.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

type sqliteExecutions struct{ db *sql.DB }

const executionColumns = `id, thread_id, message_id, user_id, tool_key, args, status, trace_id,
	requires_confirmation, idempotency_key, provider_call_id, result, error_text, error_kind,
	approved_by, approved_at, created_at, updated_at`

func (s *sqliteExecutions) Create(ctx context.Context, exec *models.ToolExecution) error {
	var approvedAt any
	if !exec.ApprovedAt.IsZero() {
		approvedAt = exec.ApprovedAt.UnixMilli()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_executions (`+executionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.ThreadID, exec.MessageID, exec.UserID, exec.ToolKey, string(exec.Args),
		string(exec.Status), exec.TraceID, exec.RequiresConfirmation, exec.IdempotencyKey,
		exec.ProviderCallID, exec.Result, exec.ErrorText, string(exec.ErrorKind),
		exec.ApprovedBy, approvedAt, exec.CreatedAt.UnixMilli(), exec.UpdatedAt.UnixMilli())
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (s *sqliteExecutions) Get(ctx context.Context, id string) (*models.ToolExecution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM tool_executions WHERE id = ?`, id)
	return scanExecution(row)
}

func (s *sqliteExecutions) Update(ctx context.Context, exec *models.ToolExecution) error {
	var approvedAt any
	if !exec.ApprovedAt.IsZero() {
		approvedAt = exec.ApprovedAt.UnixMilli()
	}
	exec.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE tool_executions SET status = ?, result = ?, error_text = ?, error_kind = ?,
			provider_call_id = ?, approved_by = ?, approved_at = ?, updated_at = ?
		 WHERE id = ?`,
		string(exec.Status), exec.Result, exec.ErrorText, string(exec.ErrorKind),
		exec.ProviderCallID, exec.ApprovedBy, approvedAt, exec.UpdatedAt.UnixMilli(), exec.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqliteExecutions) FindByFingerprint(ctx context.Context, messageID, fingerprint string) (*models.ToolExecution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM tool_executions WHERE message_id = ? AND idempotency_key = ?`,
		messageID, fingerprint)
	return scanExecution(row)
}

func (s *sqliteExecutions) ListByMessage(ctx context.Context, messageID string) ([]*models.ToolExecution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM tool_executions WHERE message_id = ? ORDER BY created_at ASC`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*models.ToolExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, exec)
	}
	return result, rows.Err()
}

func (s *sqliteExecutions) CountNonTerminal(ctx context.Context, messageID string) (int, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tool_executions WHERE message_id = ? AND status NOT IN ('success', 'error')`,
		messageID)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *sqliteExecutions) CompareAndSwapStatus(ctx context.Context, id string, from, to models.ExecutionStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tool_executions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), time.Now().UnixMilli(), id, string(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		// Distinguish a missing record from a lost race.
		if _, err := s.Get(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *sqliteExecutions) ListStalePendingApproval(ctx context.Context, cutoffMS int64) ([]*models.ToolExecution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM tool_executions WHERE status = 'pending_approval' AND created_at < ?`,
		cutoffMS)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*models.ToolExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, exec)
	}
	return result, rows.Err()
}

func scanExecution(row rowScanner) (*models.ToolExecution, error) {
	var e models.ToolExecution
	var args, traceID, providerCallID, result, errText, errKind, approvedBy sql.NullString
	var approvedAt sql.NullInt64
	var created, updated int64
	if err := row.Scan(&e.ID, &e.ThreadID, &e.MessageID, &e.UserID, &e.ToolKey, &args, &e.Status,
		&traceID, &e.RequiresConfirmation, &e.IdempotencyKey, &providerCallID, &result,
		&errText, &errKind, &approvedBy, &approvedAt, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if args.String != "" {
		e.Args = json.RawMessage(args.String)
	}
	e.TraceID = traceID.String
	e.ProviderCallID = providerCallID.String
	e.Result = result.String
	e.ErrorText = errText.String
	e.ErrorKind = models.ExecutionErrorKind(errKind.String)
	e.ApprovedBy = approvedBy.String
	if approvedAt.Valid {
		e.ApprovedAt = time.UnixMilli(approvedAt.Int64)
	}
	e.CreatedAt = time.UnixMilli(created)
	e.UpdatedAt = time.UnixMilli(updated)
	return &e, nil
}

type sqliteUsage struct{ db *sql.DB }

func (s *sqliteUsage) Create(ctx context.Context, log *models.UsageLog) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_logs (id, trace_id, provider, model, input_tokens, output_tokens, latency_ms, status, error_text, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.TraceID, log.Provider, log.Model, log.InputTokens, log.OutputTokens,
		log.LatencyMS, log.Status, log.ErrorText, log.CreatedAt.UnixMilli())
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (s *sqliteUsage) Get(ctx context.Context, id string) (*models.UsageLog, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, trace_id, provider, model, input_tokens, output_tokens, latency_ms, status, error_text, created_at
		 FROM usage_logs WHERE id = ?`, id)
	return scanUsage(row)
}

func (s *sqliteUsage) ListByTrace(ctx context.Context, traceID string) ([]*models.UsageLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, trace_id, provider, model, input_tokens, output_tokens, latency_ms, status, error_text, created_at
		 FROM usage_logs WHERE trace_id = ? ORDER BY created_at ASC`, traceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*models.UsageLog
	for rows.Next() {
		log, err := scanUsage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, log)
	}
	return result, rows.Err()
}

func scanUsage(row rowScanner) (*models.UsageLog, error) {
	var u models.UsageLog
	var traceID, model, errText sql.NullString
	var created int64
	if err := row.Scan(&u.ID, &traceID, &u.Provider, &model, &u.InputTokens, &u.OutputTokens,
		&u.LatencyMS, &u.Status, &errText, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.TraceID = traceID.String
	u.Model = model.String
	u.ErrorText = errText.String
	u.CreatedAt = time.UnixMilli(created)
	return &u, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint")
}

func marshalJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
