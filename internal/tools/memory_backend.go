package tools

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryBackend is a thread-safe in-memory Backend used by tests and local
// development.
type MemoryBackend struct {
	mu           sync.RWMutex
	profiles     map[string]*Profile
	applications map[string]*Application
	listings     []*JobListing
}

// NewMemoryBackend creates an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		profiles:     make(map[string]*Profile),
		applications: make(map[string]*Application),
	}
}

// PutProfile seeds a profile.
func (b *MemoryBackend) PutProfile(p *Profile) {
	b.mu.Lock()
	defer b.mu.Unlock()
	clone := *p
	b.profiles[p.UserID] = &clone
}

// PutApplication seeds an application.
func (b *MemoryBackend) PutApplication(a *Application) {
	b.mu.Lock()
	defer b.mu.Unlock()
	clone := *a
	clone.Notes = append([]Note(nil), a.Notes...)
	b.applications[a.ID] = &clone
}

// PutListings seeds the searchable job index.
func (b *MemoryBackend) PutListings(listings ...*JobListing) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, l := range listings {
		clone := *l
		b.listings = append(b.listings, &clone)
	}
}

func (b *MemoryBackend) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *p
	return &clone, nil
}

func (b *MemoryBackend) ListApplications(ctx context.Context, userID string, stage Stage) ([]*Application, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var result []*Application
	for _, a := range b.applications {
		if a.UserID != userID {
			continue
		}
		if stage != "" && a.Stage != stage {
			continue
		}
		clone := cloneApplication(a)
		result = append(result, clone)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (b *MemoryBackend) GetApplication(ctx context.Context, userID, applicationID string) (*Application, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.getOwned(userID, applicationID)
}

func (b *MemoryBackend) AddNote(ctx context.Context, userID, applicationID, text string) (*Application, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, err := b.getOwnedLocked(userID, applicationID)
	if err != nil {
		return nil, err
	}
	a.Notes = append(a.Notes, Note{Text: text, CreatedAt: time.Now()})
	a.UpdatedAt = time.Now()
	return cloneApplication(a), nil
}

func (b *MemoryBackend) UpdateStage(ctx context.Context, userID, applicationID string, stage Stage) (*Application, error) {
	if !ValidStage(stage) {
		return nil, ErrInvalidStage
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	a, err := b.getOwnedLocked(userID, applicationID)
	if err != nil {
		return nil, err
	}
	a.Stage = stage
	a.UpdatedAt = time.Now()
	return cloneApplication(a), nil
}

func (b *MemoryBackend) WithdrawApplication(ctx context.Context, userID, applicationID string) (*Application, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, err := b.getOwnedLocked(userID, applicationID)
	if err != nil {
		return nil, err
	}
	a.Stage = StageWithdrawn
	a.UpdatedAt = time.Now()
	return cloneApplication(a), nil
}

func (b *MemoryBackend) SearchJobs(ctx context.Context, query, location string, limit int) ([]*JobListing, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if limit <= 0 {
		limit = 10
	}
	query = strings.ToLower(query)
	location = strings.ToLower(location)

	var result []*JobListing
	for _, l := range b.listings {
		if query != "" &&
			!strings.Contains(strings.ToLower(l.Title), query) &&
			!strings.Contains(strings.ToLower(l.Summary), query) &&
			!strings.Contains(strings.ToLower(l.Company), query) {
			continue
		}
		if location != "" && !strings.Contains(strings.ToLower(l.Location), location) {
			continue
		}
		clone := *l
		result = append(result, &clone)
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

// getOwned returns a clone; getOwnedLocked returns the live record for
// mutation under the write lock.
func (b *MemoryBackend) getOwned(userID, applicationID string) (*Application, error) {
	a, err := b.getOwnedLocked(userID, applicationID)
	if err != nil {
		return nil, err
	}
	return cloneApplication(a), nil
}

func (b *MemoryBackend) getOwnedLocked(userID, applicationID string) (*Application, error) {
	a, ok := b.applications[applicationID]
	if !ok {
		return nil, ErrNotFound
	}
	if a.UserID != userID {
		return nil, ErrUnauthorized
	}
	return a, nil
}

func cloneApplication(a *Application) *Application {
	clone := *a
	clone.Notes = append([]Note(nil), a.Notes...)
	return &clone
}
