package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jobdeck/jobdeck/pkg/models"
)

// ProfileSummaryTool reports the user's job-search profile.
type ProfileSummaryTool struct {
	backend Backend
}

func NewProfileSummaryTool(backend Backend) *ProfileSummaryTool {
	return &ProfileSummaryTool{backend: backend}
}

type profileSummaryArgs struct{}

func (t *ProfileSummaryTool) Key() string { return "get_profile_summary" }

func (t *ProfileSummaryTool) Description() string {
	return "Get the user's job-search profile: name, headline, location, and skills."
}

func (t *ProfileSummaryTool) Risk() models.RiskLevel { return models.RiskReadOnly }

func (t *ProfileSummaryTool) Schema() json.RawMessage { return schemaFor(&profileSummaryArgs{}) }

func (t *ProfileSummaryTool) Execute(ctx context.Context, userID string, args json.RawMessage) (string, error) {
	profile, err := t.backend.GetProfile(ctx, userID)
	if err != nil {
		return "", err
	}
	return marshalResult(profile)
}

// PipelineStatusTool summarizes application counts per stage.
type PipelineStatusTool struct {
	backend Backend
}

func NewPipelineStatusTool(backend Backend) *PipelineStatusTool {
	return &PipelineStatusTool{backend: backend}
}

type pipelineStatusArgs struct{}

func (t *PipelineStatusTool) Key() string { return "get_pipeline_status" }

func (t *PipelineStatusTool) Description() string {
	return "Get a count of the user's job applications per pipeline stage."
}

func (t *PipelineStatusTool) Risk() models.RiskLevel { return models.RiskReadOnly }

func (t *PipelineStatusTool) Schema() json.RawMessage { return schemaFor(&pipelineStatusArgs{}) }

func (t *PipelineStatusTool) Execute(ctx context.Context, userID string, args json.RawMessage) (string, error) {
	apps, err := t.backend.ListApplications(ctx, userID, "")
	if err != nil {
		return "", err
	}
	counts := map[Stage]int{}
	for _, a := range apps {
		counts[a.Stage]++
	}
	return marshalResult(map[string]any{
		"total":     len(apps),
		"by_stage":  counts,
	})
}

// ListApplicationsTool lists the user's applications, optionally filtered
// by stage.
type ListApplicationsTool struct {
	backend Backend
}

func NewListApplicationsTool(backend Backend) *ListApplicationsTool {
	return &ListApplicationsTool{backend: backend}
}

type listApplicationsArgs struct {
	Stage string `json:"stage,omitempty" jsonschema:"description=Optional pipeline stage filter: applied, screening, interviewing, offer, rejected, or withdrawn"`
}

func (t *ListApplicationsTool) Key() string { return "list_applications" }

func (t *ListApplicationsTool) Description() string {
	return "List the user's job applications with company, title, and current stage. Optionally filter by stage."
}

func (t *ListApplicationsTool) Risk() models.RiskLevel { return models.RiskReadOnly }

func (t *ListApplicationsTool) Schema() json.RawMessage { return schemaFor(&listApplicationsArgs{}) }

func (t *ListApplicationsTool) Execute(ctx context.Context, userID string, args json.RawMessage) (string, error) {
	var in listApplicationsArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &in); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
	}
	stage := Stage(in.Stage)
	if in.Stage != "" && !ValidStage(stage) {
		return "", ErrInvalidStage
	}
	apps, err := t.backend.ListApplications(ctx, userID, stage)
	if err != nil {
		return "", err
	}
	return marshalResult(apps)
}

// SearchJobsTool searches the job listing index.
type SearchJobsTool struct {
	backend Backend
}

func NewSearchJobsTool(backend Backend) *SearchJobsTool {
	return &SearchJobsTool{backend: backend}
}

type searchJobsArgs struct {
	Query    string `json:"query" jsonschema:"description=Keywords to match against job title and description"`
	Location string `json:"location,omitempty" jsonschema:"description=Optional location filter"`
	Limit    int    `json:"limit,omitempty" jsonschema:"description=Maximum number of results, default 10"`
}

func (t *SearchJobsTool) Key() string { return "search_jobs" }

func (t *SearchJobsTool) Description() string {
	return "Search job listings by keywords and optional location."
}

func (t *SearchJobsTool) Risk() models.RiskLevel { return models.RiskReadOnly }

func (t *SearchJobsTool) Schema() json.RawMessage { return schemaFor(&searchJobsArgs{}) }

func (t *SearchJobsTool) Execute(ctx context.Context, userID string, args json.RawMessage) (string, error) {
	var in searchJobsArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	listings, err := t.backend.SearchJobs(ctx, in.Query, in.Location, in.Limit)
	if err != nil {
		return "", err
	}
	return marshalResult(map[string]any{
		"count":    len(listings),
		"listings": listings,
	})
}

func marshalResult(v any) (string, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	return string(out), nil
}
