package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/jobdeck/jobdeck/pkg/models"
)

func seededBackend() *MemoryBackend {
	b := NewMemoryBackend()
	b.PutProfile(&Profile{
		UserID:   "user-1",
		Name:     "Dana",
		Headline: "Backend engineer",
		Skills:   []string{"go", "postgres"},
	})
	b.PutApplication(&Application{
		ID: "app-1", UserID: "user-1",
		JobTitle: "Go Engineer", Company: "Acme", Stage: StageApplied,
	})
	b.PutApplication(&Application{
		ID: "app-2", UserID: "user-1",
		JobTitle: "Platform Engineer", Company: "Initech", Stage: StageInterviewing,
	})
	b.PutApplication(&Application{
		ID: "app-other", UserID: "user-2",
		JobTitle: "Designer", Company: "Hooli", Stage: StageApplied,
	})
	b.PutListings(
		&JobListing{ID: "job-1", Title: "Senior Go Engineer", Company: "Acme", Location: "Berlin", Summary: "Go services"},
		&JobListing{ID: "job-2", Title: "Frontend Engineer", Company: "Hooli", Location: "Remote", Summary: "React"},
	)
	return b
}

func TestToolRiskClassification(t *testing.T) {
	backend := seededBackend()
	wantRisk := map[string]models.RiskLevel{
		"get_profile_summary":      models.RiskReadOnly,
		"get_pipeline_status":      models.RiskReadOnly,
		"list_applications":        models.RiskReadOnly,
		"search_jobs":              models.RiskReadOnly,
		"add_note_to_application":  models.RiskWrite,
		"update_application_stage": models.RiskWrite,
		"withdraw_application":     models.RiskDestructive,
	}

	all := All(backend)
	if len(all) != len(wantRisk) {
		t.Fatalf("expected %d tools, got %d", len(wantRisk), len(all))
	}
	for _, tool := range all {
		if got := tool.Risk(); got != wantRisk[tool.Key()] {
			t.Errorf("%s: risk = %s, want %s", tool.Key(), got, wantRisk[tool.Key()])
		}
		desc := Descriptor(tool)
		wantConfirm := wantRisk[tool.Key()] != models.RiskReadOnly
		if desc.NeedsConfirmation() != wantConfirm {
			t.Errorf("%s: NeedsConfirmation = %v, want %v", tool.Key(), desc.NeedsConfirmation(), wantConfirm)
		}
	}
}

func TestListApplicationsScopedToUser(t *testing.T) {
	tool := NewListApplicationsTool(seededBackend())

	out, err := tool.Execute(context.Background(), "user-1", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if strings.Contains(out, "app-other") {
		t.Error("another user's application leaked into the result")
	}
	if !strings.Contains(out, "app-1") || !strings.Contains(out, "app-2") {
		t.Errorf("expected both own applications, got: %s", out)
	}
}

func TestListApplicationsStageFilter(t *testing.T) {
	tool := NewListApplicationsTool(seededBackend())

	out, err := tool.Execute(context.Background(), "user-1", json.RawMessage(`{"stage":"interviewing"}`))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if strings.Contains(out, "app-1") {
		t.Error("stage filter did not exclude applied application")
	}

	if _, err := tool.Execute(context.Background(), "user-1", json.RawMessage(`{"stage":"bogus"}`)); !errors.Is(err, ErrInvalidStage) {
		t.Errorf("expected ErrInvalidStage, got %v", err)
	}
}

func TestWriteToolsRejectForeignApplication(t *testing.T) {
	backend := seededBackend()
	ctx := context.Background()

	tests := []struct {
		name string
		run  func() error
	}{
		{"add note", func() error {
			_, err := NewAddNoteTool(backend).Execute(ctx, "user-1", json.RawMessage(`{"application_id":"app-other","text":"hi"}`))
			return err
		}},
		{"update stage", func() error {
			_, err := NewUpdateStageTool(backend).Execute(ctx, "user-1", json.RawMessage(`{"application_id":"app-other","stage":"screening"}`))
			return err
		}},
		{"withdraw", func() error {
			_, err := NewWithdrawTool(backend).Execute(ctx, "user-1", json.RawMessage(`{"application_id":"app-other"}`))
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); !errors.Is(err, ErrUnauthorized) {
				t.Errorf("expected ErrUnauthorized, got %v", err)
			}
		})
	}
}

func TestUpdateStageRefusesWithdrawal(t *testing.T) {
	tool := NewUpdateStageTool(seededBackend())
	_, err := tool.Execute(context.Background(), "user-1", json.RawMessage(`{"application_id":"app-1","stage":"withdrawn"}`))
	if err == nil {
		t.Fatal("expected stage update to withdrawn to be refused")
	}
}

func TestWithdrawMarksApplication(t *testing.T) {
	backend := seededBackend()
	tool := NewWithdrawTool(backend)

	out, err := tool.Execute(context.Background(), "user-1", json.RawMessage(`{"application_id":"app-1"}`))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, string(StageWithdrawn)) {
		t.Errorf("expected withdrawn stage in output: %s", out)
	}

	app, err := backend.GetApplication(context.Background(), "user-1", "app-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if app.Stage != StageWithdrawn {
		t.Errorf("expected persisted stage withdrawn, got %s", app.Stage)
	}
}

func TestSearchJobsFilters(t *testing.T) {
	tool := NewSearchJobsTool(seededBackend())

	out, err := tool.Execute(context.Background(), "user-1", json.RawMessage(`{"query":"go","location":"berlin"}`))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "job-1") {
		t.Errorf("expected matching listing, got: %s", out)
	}
	if strings.Contains(out, "job-2") {
		t.Errorf("expected non-matching listing excluded, got: %s", out)
	}
}

func TestSchemasAreObjects(t *testing.T) {
	for _, tool := range All(seededBackend()) {
		var schema map[string]any
		if err := json.Unmarshal(tool.Schema(), &schema); err != nil {
			t.Fatalf("%s: schema is not valid JSON: %v", tool.Key(), err)
		}
		if schema["type"] != "object" {
			t.Errorf("%s: schema type = %v, want object", tool.Key(), schema["type"])
		}
	}
}
