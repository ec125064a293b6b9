package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestLoggerRedactsSecrets(t *testing.T) {
	tests := []struct {
		name    string
		message string
		leaked  string
	}{
		{
			name:    "anthropic key",
			message: "request failed with key sk-ant-" + strings.Repeat("a", 96),
			leaked:  "sk-ant-",
		},
		{
			name:    "openai key",
			message: "auth error for sk-" + strings.Repeat("b", 48),
			leaked:  strings.Repeat("b", 48),
		},
		{
			name:    "password assignment",
			message: `config had password="hunter2secret"`,
			leaked:  "hunter2secret",
		},
		{
			name:    "jwt",
			message: "got token eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiIxIn0.sig",
			leaked:  "eyJhbGciOiJIUzI1NiJ9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(LogConfig{Level: "debug", Format: "json", Output: &buf})
			logger.Info(context.Background(), tt.message)

			out := buf.String()
			if strings.Contains(out, tt.leaked) {
				t.Errorf("secret leaked into log output: %s", out)
			}
			if !strings.Contains(out, "[REDACTED]") {
				t.Errorf("expected redaction marker in output: %s", out)
			}
		})
	}
}

func TestLoggerContextCorrelation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})

	ctx := WithTrace(context.Background(), "trace-1", "thread-1", "turn-1")
	ctx = WithUserID(ctx, "user-1")
	logger.Info(ctx, "turn started")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}
	for key, want := range map[string]string{
		"trace_id":  "trace-1",
		"thread_id": "thread-1",
		"turn_id":   "turn-1",
		"user_id":   "user-1",
	} {
		if record[key] != want {
			t.Errorf("expected %s=%s, got %v", key, want, record[key])
		}
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "json", Output: &buf})

	ctx := context.Background()
	logger.Debug(ctx, "debug line")
	logger.Info(ctx, "info line")
	if buf.Len() != 0 {
		t.Fatalf("expected debug and info suppressed at warn level, got: %s", buf.String())
	}

	logger.Warn(ctx, "warn line")
	if !strings.Contains(buf.String(), "warn line") {
		t.Error("expected warn line to be emitted")
	}
}

func TestRedactMapSensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})

	logger.Info(context.Background(), "tool args",
		"args", map[string]any{"api_key": "short", "query": "golang jobs"})

	out := buf.String()
	if strings.Contains(out, "short") {
		t.Errorf("sensitive map key leaked: %s", out)
	}
	if !strings.Contains(out, "golang jobs") {
		t.Errorf("benign value dropped: %s", out)
	}
}

func TestTraceIDFromContext(t *testing.T) {
	if got := TraceIDFromContext(context.Background()); got != "" {
		t.Errorf("expected empty trace id, got %q", got)
	}
	ctx := WithTrace(context.Background(), "trace-9", "t", "turn")
	if got := TraceIDFromContext(ctx); got != "trace-9" {
		t.Errorf("expected trace-9, got %q", got)
	}
}
