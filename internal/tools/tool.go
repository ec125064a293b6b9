// Package tools implements the assistant's job-search tool surface: profile
// and pipeline lookups, job search, and the application mutations that
// require user confirmation before running.
package tools

import (
	"context"
	"encoding/json"

	"github.com/invopop/jsonschema"

	"github.com/jobdeck/jobdeck/pkg/models"
)

// Tool is one executable capability exposed to the model.
//
// Execute receives the acting user's id and must scope every lookup and
// mutation to that user. A tool never trusts ids in args to belong to the
// caller; the backend enforces ownership and returns ErrUnauthorized.
type Tool interface {
	// Key returns the registry key used in LLM function calling.
	Key() string

	// Description tells the model when to use the tool.
	Description() string

	// Risk classifies the tool's blast radius, which drives the
	// confirmation policy.
	Risk() models.RiskLevel

	// Schema returns the JSON Schema for the tool's arguments.
	Schema() json.RawMessage

	// Execute runs the tool and returns its output as text for the model.
	Execute(ctx context.Context, userID string, args json.RawMessage) (string, error)
}

// schemaFor reflects an args struct into an inline JSON Schema object.
func schemaFor(v any) json.RawMessage {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := r.Reflect(v)
	out, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return out
}

// Descriptor converts a Tool into its registry entry. The confirmation flag
// stays false here; risk alone already gates anything above read-only, and
// config can force the flag per tool key on top.
func Descriptor(t Tool) models.ToolDescriptor {
	return models.ToolDescriptor{
		Key:         t.Key(),
		Description: t.Description(),
		Schema:      t.Schema(),
		Enabled:     true,
		Risk:        t.Risk(),
	}
}
