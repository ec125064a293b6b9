package tools

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnauthorized is returned when a user references an application or
	// profile they do not own.
	ErrUnauthorized = errors.New("not authorized for this resource")

	// ErrNotFound is returned for missing applications or profiles.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidStage is returned for an unknown pipeline stage.
	ErrInvalidStage = errors.New("invalid pipeline stage")
)

// Stage is an application's position in the hiring pipeline.
type Stage string

const (
	StageApplied      Stage = "applied"
	StageScreening    Stage = "screening"
	StageInterviewing Stage = "interviewing"
	StageOffer        Stage = "offer"
	StageRejected     Stage = "rejected"
	StageWithdrawn    Stage = "withdrawn"
)

// ValidStage reports whether s is a known pipeline stage.
func ValidStage(s Stage) bool {
	switch s {
	case StageApplied, StageScreening, StageInterviewing, StageOffer, StageRejected, StageWithdrawn:
		return true
	}
	return false
}

// Profile is a user's job-search profile.
type Profile struct {
	UserID    string   `json:"user_id"`
	Name      string   `json:"name"`
	Headline  string   `json:"headline"`
	Location  string   `json:"location"`
	Skills    []string `json:"skills"`
	OpenToRemote bool  `json:"open_to_remote"`
}

// Application is one tracked job application.
type Application struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	JobTitle  string    `json:"job_title"`
	Company   string    `json:"company"`
	Stage     Stage     `json:"stage"`
	Notes     []Note    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Note is a timestamped annotation on an application.
type Note struct {
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// JobListing is one searchable job posting.
type JobListing struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Company  string `json:"company"`
	Location string `json:"location"`
	Remote   bool   `json:"remote"`
	Summary  string `json:"summary"`
}

// Backend is the data layer the tools run against. The production
// implementation talks to the main application database; tests use the
// in-memory one.
type Backend interface {
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	ListApplications(ctx context.Context, userID string, stage Stage) ([]*Application, error)
	GetApplication(ctx context.Context, userID, applicationID string) (*Application, error)
	AddNote(ctx context.Context, userID, applicationID, text string) (*Application, error)
	UpdateStage(ctx context.Context, userID, applicationID string, stage Stage) (*Application, error)
	WithdrawApplication(ctx context.Context, userID, applicationID string) (*Application, error)
	SearchJobs(ctx context.Context, query, location string, limit int) ([]*JobListing, error)
}
