package service

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"deedgate/internal/audit"
	"deedgate/internal/onboarding/models"
	"deedgate/internal/onboarding/store/property"
	"deedgate/internal/oracle"
	id "deedgate/pkg/domain"
	dErrors "deedgate/pkg/domain-errors"
)

// fakeOracle is a hand-rolled test double. The optional gate channel lets a
// test hold a verification open while a competing call races the claim.
type fakeOracle struct {
	mu    sync.Mutex
	calls int
	err   error
	gate  chan struct{}
}

func (f *fakeOracle) verify(_ context.Context) (*oracle.VerificationResult, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gate
	err := f.err
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return &oracle.VerificationResult{
		Success:         true,
		Verdict:         oracle.VerdictVerified,
		VerificationID:  id.NewVerificationID(),
		AttestationHash: "0xattested",
		Checks:          oracle.Checks{DocumentAuthenticity: true, RecordMatch: true, CrossAttested: true},
		VerifiedBy:      oracle.VerifiedByChainOracle,
		CompletedAt:     time.Now(),
	}, nil
}

func (f *fakeOracle) VerifyProperty(ctx context.Context, _ oracle.VerificationRequest) (*oracle.VerificationResult, error) {
	return f.verify(ctx)
}

func (f *fakeOracle) VerifyUser(ctx context.Context, _ oracle.VerificationRequest) (*oracle.VerificationResult, error) {
	return f.verify(ctx)
}

func (f *fakeOracle) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// failingRegistrar simulates an unreachable token registry.
type failingRegistrar struct{}

func (failingRegistrar) Mint(context.Context, id.PropertyID, *big.Int) (string, error) {
	return "", context.DeadlineExceeded
}

type PropertyServiceSuite struct {
	suite.Suite
	store *property.InMemory
	audit *audit.InMemoryStore
	ctx   context.Context
}

func TestPropertyServiceSuite(t *testing.T) {
	suite.Run(t, new(PropertyServiceSuite))
}

func (s *PropertyServiceSuite) SetupTest() {
	s.store = property.NewInMemory()
	s.audit = audit.NewInMemoryStore()
	s.ctx = context.Background()
}

func (s *PropertyServiceSuite) newService(adapter oracle.Adapter, registrar TokenRegistrar) *PropertyService {
	return NewPropertyService(s.store, adapter, registrar, big.NewInt(100),
		WithAuditPublisher(audit.NewPublisher(s.audit)))
}

func validSubmission() PropertySubmission {
	return PropertySubmission{
		Fields: models.PropertyFields{Name: "Villa", Location: "Accra", Price: big.NewInt(100_000)},
		Deed:   &Upload{Name: "deed.pdf", MimeType: "application/pdf", Bytes: []byte("deed bytes")},
		Images: []Upload{{Name: "front.jpg", MimeType: "image/jpeg", Bytes: []byte("img")}},
	}
}

func (s *PropertyServiceSuite) TestCreateOnboarding() {
	svc := s.newService(oracle.NewMockAdapter(), nil)

	s.Run("fingerprints files and starts in DOCUMENTS_SUBMITTED", func() {
		record, err := svc.CreateOnboarding(s.ctx, "0xabc", validSubmission())
		s.Require().NoError(err)
		s.Equal(models.PropertyStatusDocumentsSubmitted, record.Status)
		s.Require().NotNil(record.Documents.Deed)
		s.Len(record.Documents.Deed.ContentHash, 66)
		s.Equal(2, record.Documents.Count())

		events, err := s.audit.ListBySubject(s.ctx, record.ID.String())
		s.Require().NoError(err)
		s.Require().Len(events, 1)
		s.Equal(audit.ActionPropertySubmitted, events[0].Action)
	})

	s.Run("rejects missing fields without creating a record", func() {
		submission := validSubmission()
		submission.Fields.Price = nil

		_, err := svc.CreateOnboarding(s.ctx, "0xabc", submission)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("rejects empty file bytes", func() {
		submission := validSubmission()
		submission.Deed = &Upload{Name: "deed.pdf", MimeType: "application/pdf"}

		_, err := svc.CreateOnboarding(s.ctx, "0xabc", submission)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}

// TestMockModeVerification covers the full happy path against the mock
// attestor: submitted documents reach VERIFICATION_COMPLETE with a successful,
// mock-tagged result.
func (s *PropertyServiceSuite) TestMockModeVerification() {
	svc := s.newService(oracle.NewMockAdapter(), nil)

	record, err := svc.CreateOnboarding(s.ctx, "0xabc", validSubmission())
	s.Require().NoError(err)

	result, err := svc.SubmitForVerification(s.ctx, record.ID)
	s.Require().NoError(err)
	s.True(result.Success)
	s.Equal(oracle.VerdictVerified, result.Verdict)
	s.Equal(oracle.VerifiedByMockAttestor, result.VerifiedBy)

	stored, err := svc.GetOnboarding(s.ctx, record.ID)
	s.Require().NoError(err)
	s.Equal(models.PropertyStatusVerificationComplete, stored.Status)
	s.Require().NotNil(stored.Verification)
	s.Equal(result.VerificationID, stored.Verification.VerificationID)
}

func (s *PropertyServiceSuite) TestSubmitForVerificationGuards() {
	s.Run("unknown record", func() {
		svc := s.newService(oracle.NewMockAdapter(), nil)
		_, err := svc.SubmitForVerification(s.ctx, id.NewPropertyID())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("terminal record refuses resubmission", func() {
		svc := s.newService(oracle.NewMockAdapter(), nil)
		record, err := svc.CreateOnboarding(s.ctx, "0xabc", validSubmission())
		s.Require().NoError(err)
		_, err = svc.SubmitForVerification(s.ctx, record.ID)
		s.Require().NoError(err)

		// VERIFICATION_COMPLETE has no edge back into verification.
		_, err = svc.SubmitForVerification(s.ctx, record.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})
}

// TestOracleUnavailableRollsBack verifies a retryable fault restores the
// pre-call status so the same submit can be retried.
func (s *PropertyServiceSuite) TestOracleUnavailableRollsBack() {
	adapter := &fakeOracle{err: dErrors.New(dErrors.CodeOracleUnavailable, "oracle unreachable")}
	svc := s.newService(adapter, nil)

	record, err := svc.CreateOnboarding(s.ctx, "0xabc", validSubmission())
	s.Require().NoError(err)

	_, err = svc.SubmitForVerification(s.ctx, record.ID)
	s.Require().Error(err)
	s.True(dErrors.IsRetryable(err))

	stored, err := svc.GetOnboarding(s.ctx, record.ID)
	s.Require().NoError(err)
	s.Equal(models.PropertyStatusDocumentsSubmitted, stored.Status)

	// The retry goes through once the oracle recovers.
	adapter.mu.Lock()
	adapter.err = nil
	adapter.mu.Unlock()
	_, err = svc.SubmitForVerification(s.ctx, record.ID)
	s.Require().NoError(err)
}

// TestOracleOutageKeepsPendingRecordPending: a record already awaiting review
// must roll back to VERIFICATION_PENDING, not DOCUMENTS_SUBMITTED, when its
// re-verification dies on a retryable fault. Otherwise it would silently
// vanish from the review queue.
func (s *PropertyServiceSuite) TestOracleOutageKeepsPendingRecordPending() {
	svc := s.newService(&verdictOracle{verdict: oracle.VerdictNeedsReview}, nil)

	record, err := svc.CreateOnboarding(s.ctx, "0xabc", validSubmission())
	s.Require().NoError(err)
	_, err = svc.SubmitForVerification(s.ctx, record.ID)
	s.Require().NoError(err)

	svc = s.newService(&fakeOracle{err: dErrors.New(dErrors.CodeOracleUnavailable, "oracle unreachable")}, nil)
	_, err = svc.SubmitForVerification(s.ctx, record.ID)
	s.Require().Error(err)
	s.True(dErrors.IsRetryable(err))

	stored, err := svc.GetOnboarding(s.ctx, record.ID)
	s.Require().NoError(err)
	s.Equal(models.PropertyStatusVerificationPending, stored.Status)

	pending, err := svc.ListPending(s.ctx)
	s.Require().NoError(err)
	s.Len(pending, 1)
}

// TestConcurrentSubmitsOneWins races two submits on one DOCUMENTS_SUBMITTED
// record: exactly one reaches the oracle, the other fails fast with a
// conflict.
func (s *PropertyServiceSuite) TestConcurrentSubmitsOneWins() {
	gate := make(chan struct{})
	adapter := &fakeOracle{gate: gate}
	svc := s.newService(adapter, nil)

	record, err := svc.CreateOnboarding(s.ctx, "0xabc", validSubmission())
	s.Require().NoError(err)

	firstDone := make(chan error, 1)
	go func() {
		_, err := svc.SubmitForVerification(s.ctx, record.ID)
		firstDone <- err
	}()

	// Wait for the first call to claim the record and block in the oracle.
	s.Require().Eventually(func() bool { return adapter.callCount() == 1 },
		time.Second, 5*time.Millisecond)

	_, err = svc.SubmitForVerification(s.ctx, record.ID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	close(gate)
	s.Require().NoError(<-firstDone)
	s.Equal(1, adapter.callCount())

	stored, err := svc.GetOnboarding(s.ctx, record.ID)
	s.Require().NoError(err)
	s.Equal(models.PropertyStatusVerificationComplete, stored.Status)
}

// TestTokenizeRequiresVerification covers the precondition: tokenizing an
// unverified property is a hard error and leaves the record untouched.
func (s *PropertyServiceSuite) TestTokenizeRequiresVerification() {
	svc := s.newService(oracle.NewMockAdapter(), nil)

	record, err := svc.CreateOnboarding(s.ctx, "0xabc", validSubmission())
	s.Require().NoError(err)

	_, err = svc.Tokenize(s.ctx, record.ID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodePreconditionFailed))

	stored, err := svc.GetOnboarding(s.ctx, record.ID)
	s.Require().NoError(err)
	s.Equal(models.PropertyStatusDocumentsSubmitted, stored.Status)
	s.Nil(stored.Tokenization)
}

func (s *PropertyServiceSuite) TestTokenize() {
	s.Run("mints floor(price/unitPrice) tokens and lists", func() {
		svc := s.newService(oracle.NewMockAdapter(), nil)
		record, err := svc.CreateOnboarding(s.ctx, "0xabc", validSubmission())
		s.Require().NoError(err)
		_, err = svc.SubmitForVerification(s.ctx, record.ID)
		s.Require().NoError(err)

		listed, err := svc.Tokenize(s.ctx, record.ID)
		s.Require().NoError(err)
		s.Equal(models.PropertyStatusListed, listed.Status)
		s.Require().NotNil(listed.Tokenization)
		// 100000 / 100
		s.Zero(listed.Tokenization.TotalTokens.Cmp(big.NewInt(1000)))
		s.NotEmpty(listed.Tokenization.TxRef)

		// LISTED is terminal.
		_, err = svc.Tokenize(s.ctx, record.ID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodePreconditionFailed))
	})

	s.Run("registry failure rolls back to VERIFICATION_COMPLETE", func() {
		svc := s.newService(oracle.NewMockAdapter(), failingRegistrar{})
		record, err := svc.CreateOnboarding(s.ctx, "0xabc", validSubmission())
		s.Require().NoError(err)
		_, err = svc.SubmitForVerification(s.ctx, record.ID)
		s.Require().NoError(err)

		_, err = svc.Tokenize(s.ctx, record.ID)
		s.Require().Error(err)
		s.True(dErrors.IsRetryable(err))

		stored, err := svc.GetOnboarding(s.ctx, record.ID)
		s.Require().NoError(err)
		s.Equal(models.PropertyStatusVerificationComplete, stored.Status)
		s.Nil(stored.Tokenization)
	})
}

func (s *PropertyServiceSuite) TestAdminNotesAndReads() {
	svc := s.newService(oracle.NewMockAdapter(), nil)

	record, err := svc.CreateOnboarding(s.ctx, "0xabc", validSubmission())
	s.Require().NoError(err)

	annotated, err := svc.AppendAdminNote(s.ctx, record.ID, "0xreviewer", "deed looks legitimate")
	s.Require().NoError(err)
	s.Require().Len(annotated.AdminNotes, 1)
	s.Equal(models.PropertyStatusDocumentsSubmitted, annotated.Status)

	owned, err := svc.GetByOwner(s.ctx, "0xABC")
	s.Require().NoError(err)
	s.Len(owned, 1)

	pending, err := svc.ListPending(s.ctx)
	s.Require().NoError(err)
	s.Empty(pending)
}
