package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jobdeck/jobdeck/pkg/models"
)

// WithdrawTool withdraws one of the user's applications. Classified
// destructive: the employer-facing state change cannot be undone from here.
type WithdrawTool struct {
	backend Backend
}

func NewWithdrawTool(backend Backend) *WithdrawTool {
	return &WithdrawTool{backend: backend}
}

type withdrawArgs struct {
	ApplicationID string `json:"application_id" jsonschema:"description=The application to withdraw"`
}

func (t *WithdrawTool) Key() string { return "withdraw_application" }

func (t *WithdrawTool) Description() string {
	return "Withdraw one of the user's job applications. This cannot be undone."
}

func (t *WithdrawTool) Risk() models.RiskLevel { return models.RiskDestructive }

func (t *WithdrawTool) Schema() json.RawMessage { return schemaFor(&withdrawArgs{}) }

func (t *WithdrawTool) Execute(ctx context.Context, userID string, args json.RawMessage) (string, error) {
	var in withdrawArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	app, err := t.backend.WithdrawApplication(ctx, userID, in.ApplicationID)
	if err != nil {
		return "", err
	}
	return marshalResult(app)
}

// All returns every built-in tool wired to the backend.
func All(backend Backend) []Tool {
	return []Tool{
		NewProfileSummaryTool(backend),
		NewPipelineStatusTool(backend),
		NewListApplicationsTool(backend),
		NewSearchJobsTool(backend),
		NewAddNoteTool(backend),
		NewUpdateStageTool(backend),
		NewWithdrawTool(backend),
	}
}
