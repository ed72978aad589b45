// Package property persists property onboarding records.
package property

import (
	"context"
	"sync"
	"time"

	"deedgate/internal/onboarding/models"
	id "deedgate/pkg/domain"
	"deedgate/pkg/platform/sentinel"
)

// InMemory is a mutex-guarded map store. It backs unit tests and single-node
// deployments without a database configured.
type InMemory struct {
	mu      sync.RWMutex
	records map[id.PropertyID]*models.PropertyOnboarding
}

// NewInMemory constructs an empty in-memory property store.
func NewInMemory() *InMemory {
	return &InMemory{records: make(map[id.PropertyID]*models.PropertyOnboarding)}
}

// Create stores a new record. Returns sentinel.ErrAlreadyExists if the ID is
// taken.
func (s *InMemory) Create(_ context.Context, record *models.PropertyOnboarding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[record.ID]; ok {
		return sentinel.ErrAlreadyExists
	}
	clone := *record
	s.records[record.ID] = &clone
	return nil
}

// FindByID retrieves a copy of the record.
func (s *InMemory) FindByID(_ context.Context, propertyID id.PropertyID) (*models.PropertyOnboarding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[propertyID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *record
	return &clone, nil
}

// ListByOwner returns all records submitted by the principal.
func (s *InMemory) ListByOwner(_ context.Context, owner id.Principal) ([]*models.PropertyOnboarding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.PropertyOnboarding
	for _, record := range s.records {
		if record.Owner.Equal(owner) {
			clone := *record
			out = append(out, &clone)
		}
	}
	return out, nil
}

// ListByStatus returns all records currently in the given status.
func (s *InMemory) ListByStatus(_ context.Context, status models.PropertyStatus) ([]*models.PropertyOnboarding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.PropertyOnboarding
	for _, record := range s.records {
		if record.Status == status {
			clone := *record
			out = append(out, &clone)
		}
	}
	return out, nil
}

// Execute runs validate and mutate while holding the store lock, then bumps
// the version. UpdatedAt is forced strictly above its previous value so the
// (UpdatedAt, Version) pair always orders writes.
func (s *InMemory) Execute(_ context.Context, propertyID id.PropertyID,
	validate func(*models.PropertyOnboarding) error,
	mutate func(*models.PropertyOnboarding)) (*models.PropertyOnboarding, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[propertyID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := validate(record); err != nil {
		return nil, err
	}

	prevUpdated := record.UpdatedAt
	mutate(record)
	record.Version++
	if !record.UpdatedAt.After(prevUpdated) {
		record.UpdatedAt = prevUpdated.Add(time.Nanosecond)
	}

	clone := *record
	return &clone, nil
}
