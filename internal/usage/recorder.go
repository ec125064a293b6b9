// Package usage records one log row per LLM provider call for billing and
// correlation. Failed calls get a row too, so an errored turn is never
// invisible in the usage ledger.
package usage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jobdeck/jobdeck/internal/observability"
	"github.com/jobdeck/jobdeck/internal/store"
	"github.com/jobdeck/jobdeck/pkg/models"
)

// Recorder writes usage logs and mirrors them into metrics.
type Recorder struct {
	usage   store.UsageStore
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewRecorder creates a Recorder. Metrics may be nil.
func NewRecorder(usage store.UsageStore, logger *observability.Logger, metrics *observability.Metrics) *Recorder {
	return &Recorder{usage: usage, logger: logger, metrics: metrics}
}

// Sample is the measured outcome of one provider call.
type Sample struct {
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	Latency      time.Duration
	Err          error
}

// Record persists the sample and returns the usage log id. The trace id is
// taken from the context so the row joins against the turn. Storage failures
// are logged and swallowed; losing a usage row must not fail the turn.
func (r *Recorder) Record(ctx context.Context, s Sample) string {
	status := "success"
	errText := ""
	if s.Err != nil {
		status = "error"
		errText = s.Err.Error()
	}

	log := &models.UsageLog{
		ID:           uuid.NewString(),
		TraceID:      observability.TraceIDFromContext(ctx),
		Provider:     s.Provider,
		Model:        s.Model,
		InputTokens:  s.InputTokens,
		OutputTokens: s.OutputTokens,
		LatencyMS:    s.Latency.Milliseconds(),
		Status:       status,
		ErrorText:    errText,
		CreatedAt:    time.Now(),
	}

	if err := r.usage.Create(ctx, log); err != nil {
		r.logger.Error(ctx, "failed to persist usage log",
			"provider", s.Provider, "error", err)
	}
	if r.metrics != nil {
		r.metrics.RecordLLMRequest(s.Provider, s.Model, status, s.Latency.Seconds(), s.InputTokens, s.OutputTokens)
	}
	return log.ID
}

// RecordExhausted writes a synthetic entry when every provider in the chain
// failed and no real call produced tokens. The turn still gets a correlated
// row with the terminal error.
func (r *Recorder) RecordExhausted(ctx context.Context, lastErr error) string {
	return r.Record(ctx, Sample{
		Provider: "none",
		Err:      lastErr,
	})
}
