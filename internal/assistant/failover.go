package assistant

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jobdeck/jobdeck/internal/assistant/providers"
	"github.com/jobdeck/jobdeck/internal/observability"
	"github.com/jobdeck/jobdeck/internal/usage"
)

const (
	// breakerThreshold is how many consecutive failures open a provider's
	// circuit.
	breakerThreshold = 3

	// breakerCooldown is how long an open circuit skips a provider before
	// letting a probe request through.
	breakerCooldown = 30 * time.Second
)

// ProviderChain tries providers in configured order until one succeeds.
//
// A contract violation aborts the chain immediately: the request itself is
// malformed and the same bug would follow us to every provider. Other
// failures consult ShouldFailover. Every attempt, successful or not, gets a
// usage log row.
type ProviderChain struct {
	providers []providers.Provider
	usage     *usage.Recorder
	logger    *observability.Logger
	metrics   *observability.Metrics

	mu       sync.Mutex
	failures map[string]int
	openUntil map[string]time.Time
}

// NewProviderChain builds a chain. Order is the failover order; the first
// entry is the default provider.
func NewProviderChain(chain []providers.Provider, rec *usage.Recorder, logger *observability.Logger, metrics *observability.Metrics) *ProviderChain {
	return &ProviderChain{
		providers: chain,
		usage:     rec,
		logger:    logger,
		metrics:   metrics,
		failures:  make(map[string]int),
		openUntil: make(map[string]time.Time),
	}
}

// Get returns the provider with the given name.
func (c *ProviderChain) Get(name string) (providers.Provider, bool) {
	for _, p := range c.providers {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// Completion is one successful provider call: the normalized result, the
// adapter that produced it, and the usage log row recorded for the call.
type Completion struct {
	Result     *providers.Result
	Provider   providers.Provider
	Model      string
	UsageLogID string
}

// Complete walks the chain and returns the first successful completion.
func (c *ProviderChain) Complete(ctx context.Context, req *providers.Request) (*Completion, error) {
	var lastErr error

	for _, p := range c.providers {
		if c.circuitOpen(p.Name()) {
			c.logger.Warn(ctx, "skipping provider with open circuit", "provider", p.Name())
			continue
		}

		completion, err := c.completeOne(ctx, p, req)
		if err == nil {
			c.recordSuccess(p.Name())
			return completion, nil
		}
		lastErr = err
		c.recordFailure(p.Name())

		if perr, ok := providers.GetProviderError(err); ok && perr.Reason == providers.FailoverContractViolation {
			c.logger.Error(ctx, "provider request violated protocol contract, not failing over",
				"provider", p.Name(), "error", err)
			return nil, err
		}
		if !providers.ShouldFailover(err) {
			return nil, err
		}
		c.logger.Warn(ctx, "provider failed, trying next in chain",
			"provider", p.Name(), "error", err)
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no provider available")
	}
	c.usage.RecordExhausted(ctx, lastErr)
	if c.metrics != nil {
		c.metrics.RecordError("provider", "chain_exhausted")
	}
	return nil, fmt.Errorf("all providers failed: %w", lastErr)
}

// CompleteWith calls one named provider without failover. Continuation calls
// use this: a turn resumed mid-flight is pinned to the provider that started
// it, because no other provider can pick up its state.
func (c *ProviderChain) CompleteWith(ctx context.Context, name string, req *providers.Request) (*Completion, error) {
	p, ok := c.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown provider %s", name)
	}
	completion, err := c.completeOne(ctx, p, req)
	if err != nil {
		c.recordFailure(name)
		return nil, err
	}
	c.recordSuccess(name)
	return completion, nil
}

func (c *ProviderChain) completeOne(ctx context.Context, p providers.Provider, req *providers.Request) (*Completion, error) {
	model := req.Model
	if model == "" {
		model = p.Model()
	}

	start := time.Now()
	result, err := p.Complete(ctx, req)

	sample := usage.Sample{
		Provider: p.Name(),
		Model:    model,
		Latency:  time.Since(start),
		Err:      err,
	}
	if result != nil {
		sample.InputTokens = result.InputTokens
		sample.OutputTokens = result.OutputTokens
	}
	usageID := c.usage.Record(ctx, sample)
	if err != nil {
		return nil, err
	}
	return &Completion{Result: result, Provider: p, Model: model, UsageLogID: usageID}, nil
}

func (c *ProviderChain) circuitOpen(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.openUntil[name]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		// Cooldown elapsed; let a probe through.
		delete(c.openUntil, name)
		return false
	}
	return true
}

func (c *ProviderChain) recordFailure(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[name]++
	if c.failures[name] >= breakerThreshold {
		c.openUntil[name] = time.Now().Add(breakerCooldown)
		c.failures[name] = 0
	}
}

func (c *ProviderChain) recordSuccess(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.failures, name)
	delete(c.openUntil, name)
}
