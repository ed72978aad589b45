//go:build integration

package property_test

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"deedgate/internal/fingerprint"
	"deedgate/internal/onboarding/models"
	"deedgate/internal/onboarding/store/property"
	id "deedgate/pkg/domain"
	dErrors "deedgate/pkg/domain-errors"
	"deedgate/pkg/platform/sentinel"
	"deedgate/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *property.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = property.NewPostgres(s.postgres.Pool)
	s.Require().NoError(s.store.EnsureSchema(context.Background()))
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "property_onboardings"))
}

func newTestRecord(t *testing.T, owner id.Principal) *models.PropertyOnboarding {
	t.Helper()
	deed, err := fingerprint.Fingerprint([]byte("deed"), "deed.pdf", "application/pdf", time.Now().UTC())
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	record, err := models.NewPropertyOnboarding(id.NewPropertyID(), owner,
		models.PropertyFields{Name: "Villa", Location: "Accra", Price: big.NewInt(100_000)},
		models.PropertyDocuments{Deed: &deed}, time.Now().UTC())
	if err != nil {
		t.Fatalf("new record: %v", err)
	}
	return record
}

func (s *PostgresStoreSuite) TestRoundTrip() {
	ctx := context.Background()
	record := newTestRecord(s.T(), "0xowner")

	s.Require().NoError(s.store.Create(ctx, record))

	found, err := s.store.FindByID(ctx, record.ID)
	s.Require().NoError(err)
	s.Equal(record.ID, found.ID)
	s.Equal(record.Fields.Name, found.Fields.Name)
	s.Equal(0, record.Fields.Price.Cmp(found.Fields.Price))
	s.Require().NotNil(found.Documents.Deed)
	s.Equal(record.Documents.Deed.ContentHash, found.Documents.Deed.ContentHash)

	s.ErrorIs(s.store.Create(ctx, record), sentinel.ErrAlreadyExists)
}

func (s *PostgresStoreSuite) TestQueries() {
	ctx := context.Background()

	first := newTestRecord(s.T(), "0xowner")
	second := newTestRecord(s.T(), "0xowner")
	other := newTestRecord(s.T(), "0xother")
	for _, r := range []*models.PropertyOnboarding{first, second, other} {
		s.Require().NoError(s.store.Create(ctx, r))
	}

	owned, err := s.store.ListByOwner(ctx, "0xowner")
	s.Require().NoError(err)
	s.Len(owned, 2)

	submitted, err := s.store.ListByStatus(ctx, models.PropertyStatusDocumentsSubmitted)
	s.Require().NoError(err)
	s.Len(submitted, 3)

	listed, err := s.store.ListByStatus(ctx, models.PropertyStatusListed)
	s.Require().NoError(err)
	s.Empty(listed)
}

func (s *PostgresStoreSuite) TestNotFound() {
	ctx := context.Background()

	_, err := s.store.FindByID(ctx, id.NewPropertyID())
	s.ErrorIs(err, sentinel.ErrNotFound)

	_, err = s.store.Execute(ctx, id.NewPropertyID(),
		func(*models.PropertyOnboarding) error { return nil },
		func(*models.PropertyOnboarding) {},
	)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestExecutePersistsMutation() {
	ctx := context.Background()
	record := newTestRecord(s.T(), "0xowner")
	s.Require().NoError(s.store.Create(ctx, record))

	updated, err := s.store.Execute(ctx, record.ID,
		func(*models.PropertyOnboarding) error { return nil },
		func(r *models.PropertyOnboarding) {
			r.ApplyTransition(models.PropertyStatusVerificationInProgress, time.Now().UTC())
		},
	)
	s.Require().NoError(err)
	s.Equal(record.Version+1, updated.Version)

	found, err := s.store.FindByID(ctx, record.ID)
	s.Require().NoError(err)
	s.Equal(models.PropertyStatusVerificationInProgress, found.Status)
	s.Equal(updated.Version, found.Version)
	s.True(found.UpdatedAt.After(record.UpdatedAt))
}

func (s *PostgresStoreSuite) TestExecuteValidationFailureRollsBack() {
	ctx := context.Background()
	record := newTestRecord(s.T(), "0xowner")
	s.Require().NoError(s.store.Create(ctx, record))

	_, err := s.store.Execute(ctx, record.ID,
		func(*models.PropertyOnboarding) error {
			return dErrors.New(dErrors.CodeConflict, "claimed elsewhere")
		},
		func(r *models.PropertyOnboarding) {
			r.ApplyTransition(models.PropertyStatusListed, time.Now().UTC())
		},
	)
	s.Require().Error(err)

	found, err := s.store.FindByID(ctx, record.ID)
	s.Require().NoError(err)
	s.Equal(models.PropertyStatusDocumentsSubmitted, found.Status)
	s.Equal(record.Version, found.Version)
}

// TestConcurrentClaims verifies that the row lock serializes competing
// writers: exactly one transition guard passes.
func (s *PostgresStoreSuite) TestConcurrentClaims() {
	ctx := context.Background()
	record := newTestRecord(s.T(), "0xowner")
	s.Require().NoError(s.store.Create(ctx, record))

	const goroutines = 20
	var wg sync.WaitGroup
	results := make(chan error, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Execute(ctx, record.ID,
				func(r *models.PropertyOnboarding) error {
					return r.CanTransition(models.PropertyStatusVerificationInProgress)
				},
				func(r *models.PropertyOnboarding) {
					r.ApplyTransition(models.PropertyStatusVerificationInProgress, time.Now().UTC())
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
			lost++
		}
	}
	s.Equal(1, won)
	s.Equal(goroutines-1, lost)

	found, err := s.store.FindByID(ctx, record.ID)
	s.Require().NoError(err)
	s.Equal(models.PropertyStatusVerificationInProgress, found.Status)
	s.Equal(record.Version+1, found.Version)
}
