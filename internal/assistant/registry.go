package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jobdeck/jobdeck/internal/tools"
	"github.com/jobdeck/jobdeck/pkg/models"
)

// Registry manages the tool surface: lookup for execution, descriptors for
// providers, and the policy overlay (disabled tools, forced confirmation,
// timeouts) applied from configuration.
type Registry struct {
	mu          sync.RWMutex
	tools       map[string]tools.Tool
	descriptors map[string]models.ToolDescriptor
	schemas     map[string]*jsonschema.Schema

	defaultTimeout time.Duration
	disabled       map[string]bool
	forceConfirm   map[string]bool
	pageContexts   map[string]map[string]bool
}

// RegistryConfig is the policy overlay applied to registered tools.
type RegistryConfig struct {
	DefaultTimeout    time.Duration
	Disabled          []string
	ForceConfirmation []string

	// PageContexts narrows the tool surface per UI surface: a request
	// arriving from a named page context only advertises the listed tool
	// keys. Contexts without an entry see every enabled tool.
	PageContexts map[string][]string
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	r := &Registry{
		tools:          make(map[string]tools.Tool),
		descriptors:    make(map[string]models.ToolDescriptor),
		schemas:        make(map[string]*jsonschema.Schema),
		defaultTimeout: cfg.DefaultTimeout,
		disabled:       make(map[string]bool),
		forceConfirm:   make(map[string]bool),
		pageContexts:   make(map[string]map[string]bool),
	}
	for _, key := range cfg.Disabled {
		r.disabled[key] = true
	}
	for _, key := range cfg.ForceConfirmation {
		r.forceConfirm[key] = true
	}
	for page, keys := range cfg.PageContexts {
		allowed := make(map[string]bool, len(keys))
		for _, key := range keys {
			allowed[key] = true
		}
		r.pageContexts[page] = allowed
	}
	return r
}

// Register adds a tool, compiling its schema for argument validation.
// A tool replacing an existing key replaces its schema too.
func (r *Registry) Register(tool tools.Tool) error {
	desc := tools.Descriptor(tool)
	desc.Timeout = r.defaultTimeout
	if r.disabled[desc.Key] {
		desc.Enabled = false
	}
	if r.forceConfirm[desc.Key] {
		desc.RequiresConfirmation = true
	}

	compiled, err := jsonschema.CompileString(desc.Key+".schema.json", string(desc.Schema))
	if err != nil {
		return fmt.Errorf("tool %s has an invalid schema: %w", desc.Key, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[desc.Key] = tool
	r.descriptors[desc.Key] = desc
	r.schemas[desc.Key] = compiled
	return nil
}

// RegisterAll registers every tool, stopping at the first failure.
func (r *Registry) RegisterAll(list []tools.Tool) error {
	for _, tool := range list {
		if err := r.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the tool and its effective descriptor.
func (r *Registry) Get(key string) (tools.Tool, models.ToolDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[key]
	if !ok {
		return nil, models.ToolDescriptor{}, false
	}
	return tool, r.descriptors[key], true
}

// Descriptors returns the full enabled tool surface in stable key order.
func (r *Registry) Descriptors() []models.ToolDescriptor {
	return r.AllowedTools("", "", "")
}

// AllowedTools returns the tool surface one provider call may advertise, in
// stable key order: the enabled tools, narrowed by the page-context overlay.
// The user and thread ids are part of the policy contract; the overlay does
// not key on them yet, and the execution engine re-checks enablement and
// risk on every run regardless of what was advertised.
func (r *Registry) AllowedTools(userID, threadID, pageContext string) []models.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	scope, scoped := r.pageContexts[pageContext]
	result := make([]models.ToolDescriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		if !d.Enabled {
			continue
		}
		if scoped && !scope[d.Key] {
			continue
		}
		result = append(result, d)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result
}

// DescriptorsByKey resolves a recorded tool surface back into descriptors,
// silently skipping keys that were disabled since.
func (r *Registry) DescriptorsByKey(keys []string) []models.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]models.ToolDescriptor, 0, len(keys))
	for _, key := range keys {
		if d, ok := r.descriptors[key]; ok && d.Enabled {
			result = append(result, d)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result
}

// ValidateArgs checks the argument object against the tool's schema.
func (r *Registry) ValidateArgs(key string, args json.RawMessage) error {
	r.mu.RLock()
	schema, ok := r.schemas[key]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown tool %s", key)
	}
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("arguments do not match schema: %w", err)
	}
	return nil
}

// Execute runs the tool. Callers are responsible for timeout handling.
func (r *Registry) Execute(ctx context.Context, key, userID string, args json.RawMessage) (string, error) {
	r.mu.RLock()
	tool, ok := r.tools[key]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown tool %s", key)
	}
	return tool.Execute(ctx, userID, args)
}
