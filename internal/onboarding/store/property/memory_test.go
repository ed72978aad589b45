package property

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"deedgate/internal/fingerprint"
	"deedgate/internal/onboarding/models"
	id "deedgate/pkg/domain"
	dErrors "deedgate/pkg/domain-errors"
	"deedgate/pkg/platform/sentinel"
)

type PropertyStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
}

func (s *PropertyStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func TestPropertyStoreSuite(t *testing.T) {
	suite.Run(t, new(PropertyStoreSuite))
}

func (s *PropertyStoreSuite) newRecord(owner id.Principal) *models.PropertyOnboarding {
	deed, err := fingerprint.Fingerprint([]byte("deed"), "deed.pdf", "application/pdf", time.Now())
	s.Require().NoError(err)
	record, err := models.NewPropertyOnboarding(id.NewPropertyID(), owner,
		models.PropertyFields{Name: "Villa", Location: "Accra", Price: big.NewInt(100_000)},
		models.PropertyDocuments{Deed: &deed}, time.Now())
	s.Require().NoError(err)
	return record
}

func (s *PropertyStoreSuite) TestCreationAndLookups() {
	s.Run("creates and finds record by ID", func() {
		record := s.newRecord("0xowner")
		s.Require().NoError(s.store.Create(s.ctx, record))

		found, err := s.store.FindByID(s.ctx, record.ID)
		s.Require().NoError(err)
		s.Equal(record.Fields.Name, found.Fields.Name)
		s.Equal(models.PropertyStatusDocumentsSubmitted, found.Status)
	})

	s.Run("returns ErrNotFound for unknown ID", func() {
		_, err := s.store.FindByID(s.ctx, id.NewPropertyID())
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("rejects duplicate ID", func() {
		record := s.newRecord("0xowner")
		s.Require().NoError(s.store.Create(s.ctx, record))
		s.ErrorIs(s.store.Create(s.ctx, record), sentinel.ErrAlreadyExists)
	})
}

func (s *PropertyStoreSuite) TestOwnerAndStatusQueries() {
	s.Run("lists by owner case-insensitively", func() {
		record := s.newRecord("0xAbC")
		s.Require().NoError(s.store.Create(s.ctx, record))

		found, err := s.store.ListByOwner(s.ctx, "0xabc")
		s.Require().NoError(err)
		s.Len(found, 1)
	})

	s.Run("lists by status", func() {
		other := s.newRecord("0xother")
		s.Require().NoError(s.store.Create(s.ctx, other))

		pending, err := s.store.ListByStatus(s.ctx, models.PropertyStatusDocumentsSubmitted)
		s.Require().NoError(err)
		s.NotEmpty(pending)

		listed, err := s.store.ListByStatus(s.ctx, models.PropertyStatusListed)
		s.Require().NoError(err)
		s.Empty(listed)
	})
}

func (s *PropertyStoreSuite) TestExecute() {
	s.Run("mutation bumps version and keeps UpdatedAt strictly increasing", func() {
		record := s.newRecord("0xowner")
		s.Require().NoError(s.store.Create(s.ctx, record))

		// The stale timestamp simulates a clock that did not advance.
		updated, err := s.store.Execute(s.ctx, record.ID,
			func(*models.PropertyOnboarding) error { return nil },
			func(r *models.PropertyOnboarding) {
				r.ApplyTransition(models.PropertyStatusVerificationInProgress, record.UpdatedAt)
			},
		)
		s.Require().NoError(err)
		s.Equal(models.PropertyStatusVerificationInProgress, updated.Status)
		s.Equal(record.Version+1, updated.Version)
		s.True(updated.UpdatedAt.After(record.UpdatedAt))
	})

	s.Run("validation failure leaves record untouched", func() {
		record := s.newRecord("0xowner")
		s.Require().NoError(s.store.Create(s.ctx, record))

		_, err := s.store.Execute(s.ctx, record.ID,
			func(*models.PropertyOnboarding) error {
				return dErrors.New(dErrors.CodeConflict, "verification already in flight")
			},
			func(r *models.PropertyOnboarding) {
				r.ApplyTransition(models.PropertyStatusListed, time.Now())
			},
		)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))

		found, err := s.store.FindByID(s.ctx, record.ID)
		s.Require().NoError(err)
		s.Equal(models.PropertyStatusDocumentsSubmitted, found.Status)
		s.Equal(record.Version, found.Version)
	})

	s.Run("returns ErrNotFound for unknown record", func() {
		_, err := s.store.Execute(s.ctx, id.NewPropertyID(),
			func(*models.PropertyOnboarding) error { return nil },
			func(*models.PropertyOnboarding) {},
		)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

// TestExecuteSerializesConcurrentClaims drives many goroutines at the same
// record; the status guard must let exactly one claim through.
func (s *PropertyStoreSuite) TestExecuteSerializesConcurrentClaims() {
	record := s.newRecord("0xowner")
	s.Require().NoError(s.store.Create(s.ctx, record))

	const goroutines = 50
	var wg sync.WaitGroup
	results := make(chan error, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Execute(s.ctx, record.ID,
				func(r *models.PropertyOnboarding) error {
					return r.CanTransition(models.PropertyStatusVerificationInProgress)
				},
				func(r *models.PropertyOnboarding) {
					r.ApplyTransition(models.PropertyStatusVerificationInProgress, time.Now())
				},
			)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var won, lost int
	for err := range results {
		if err == nil {
			won++
		} else {
			s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
			lost++
		}
	}
	s.Equal(1, won)
	s.Equal(goroutines-1, lost)
}
