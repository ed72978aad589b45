// Package user persists user onboarding records, one per principal.
package user

import (
	"context"
	"strings"
	"sync"
	"time"

	"deedgate/internal/onboarding/models"
	id "deedgate/pkg/domain"
	"deedgate/pkg/platform/sentinel"
)

// InMemory is a mutex-guarded map store keyed by lowercased principal.
type InMemory struct {
	mu      sync.RWMutex
	records map[string]*models.UserOnboarding
}

// NewInMemory constructs an empty in-memory user store.
func NewInMemory() *InMemory {
	return &InMemory{records: make(map[string]*models.UserOnboarding)}
}

func key(principal id.Principal) string {
	return strings.ToLower(principal.String())
}

// Create stores a new record. Returns sentinel.ErrAlreadyExists if the
// principal already has one, compared case-insensitively.
func (s *InMemory) Create(_ context.Context, record *models.UserOnboarding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(record.Principal)
	if _, ok := s.records[k]; ok {
		return sentinel.ErrAlreadyExists
	}
	clone := *record
	s.records[k] = &clone
	return nil
}

// FindByPrincipal retrieves a copy of the record.
func (s *InMemory) FindByPrincipal(_ context.Context, principal id.Principal) (*models.UserOnboarding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[key(principal)]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *record
	return &clone, nil
}

// Execute runs validate and mutate under the store lock, then bumps the
// version and forces UpdatedAt strictly above its previous value.
func (s *InMemory) Execute(_ context.Context, principal id.Principal,
	validate func(*models.UserOnboarding) error,
	mutate func(*models.UserOnboarding)) (*models.UserOnboarding, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[key(principal)]
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
