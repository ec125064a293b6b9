package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jobdeck/jobdeck/pkg/models"
)

// AddNoteTool appends a note to one of the user's applications.
type AddNoteTool struct {
	backend Backend
}

func NewAddNoteTool(backend Backend) *AddNoteTool {
	return &AddNoteTool{backend: backend}
}

type addNoteArgs struct {
	ApplicationID string `json:"application_id" jsonschema:"description=The application to annotate"`
	Text          string `json:"text" jsonschema:"description=The note text"`
}

func (t *AddNoteTool) Key() string { return "add_note_to_application" }

func (t *AddNoteTool) Description() string {
	return "Add a note to one of the user's job applications."
}

func (t *AddNoteTool) Risk() models.RiskLevel { return models.RiskWrite }

func (t *AddNoteTool) Schema() json.RawMessage { return schemaFor(&addNoteArgs{}) }

func (t *AddNoteTool) Execute(ctx context.Context, userID string, args json.RawMessage) (string, error) {
	var in addNoteArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(in.Text) == "" {
		return "", fmt.Errorf("note text is required")
	}
	app, err := t.backend.AddNote(ctx, userID, in.ApplicationID, in.Text)
	if err != nil {
		return "", err
	}
	return marshalResult(app)
}

// UpdateStageTool moves an application to a new pipeline stage.
type UpdateStageTool struct {
	backend Backend
}

func NewUpdateStageTool(backend Backend) *UpdateStageTool {
	return &UpdateStageTool{backend: backend}
}

type updateStageArgs struct {
	ApplicationID string `json:"application_id" jsonschema:"description=The application to move"`
	Stage         string `json:"stage" jsonschema:"description=The new stage: applied, screening, interviewing, offer, or rejected"`
}

func (t *UpdateStageTool) Key() string { return "update_application_stage" }

func (t *UpdateStageTool) Description() string {
	return "Move one of the user's job applications to a different pipeline stage."
}

func (t *UpdateStageTool) Risk() models.RiskLevel { return models.RiskWrite }

func (t *UpdateStageTool) Schema() json.RawMessage { return schemaFor(&updateStageArgs{}) }

func (t *UpdateStageTool) Execute(ctx context.Context, userID string, args json.RawMessage) (string, error) {
	var in updateStageArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	// Withdrawal has its own tool with a higher risk class; do not allow
	// the milder stage update to reach the same state.
	if Stage(in.Stage) == StageWithdrawn {
		return "", fmt.Errorf("use withdraw_application to withdraw")
	}
	app, err := t.backend.UpdateStage(ctx, userID, in.ApplicationID, Stage(in.Stage))
	if err != nil {
		return "", err
	}
	return marshalResult(app)
}
