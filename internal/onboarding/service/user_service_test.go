package service

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"deedgate/internal/audit"
	"deedgate/internal/entitlement"
	"deedgate/internal/onboarding/models"
	"deedgate/internal/onboarding/store/user"
	"deedgate/internal/oracle"
	id "deedgate/pkg/domain"
	dErrors "deedgate/pkg/domain-errors"
	"deedgate/pkg/requestcontext"
)

type UserServiceSuite struct {
	suite.Suite
	store *user.InMemory
	ctx   context.Context
}

func TestUserServiceSuite(t *testing.T) {
	suite.Run(t, new(UserServiceSuite))
}

func (s *UserServiceSuite) SetupTest() {
	s.store = user.NewInMemory()
	s.ctx = context.Background()
}

func (s *UserServiceSuite) newService(adapter oracle.Adapter) *UserService {
	return NewUserService(s.store, adapter, nil)
}

func validKYC(tier entitlement.Tier) KYCSubmission {
	return KYCSubmission{
		PersonalInfo: models.PersonalInfo{
			FullName:    "Ama Mensah",
			DateOfBirth: "1990-04-12",
			Country:     "Ghana",
		},
		RequestedTier: tier,
		Identity:      &Upload{Name: "passport.jpg", MimeType: "image/jpeg", Bytes: []byte("passport")},
		AddressProof:  &Upload{Name: "utility.pdf", MimeType: "application/pdf", Bytes: []byte("utility bill")},
	}
}

func (s *UserServiceSuite) TestCreateOrGetOnboarding() {
	svc := s.newService(oracle.NewMockAdapter())

	s.Run("creates a fresh UNVERIFIED record with zero entitlements", func() {
		record, err := svc.CreateOrGetOnboarding(s.ctx, "0xInvestor")
		s.Require().NoError(err)
		s.Equal(models.UserStatusUnverified, record.Status)
		s.Equal(entitlement.TierNone, record.Tier)
		s.False(record.Entitlements.AllowsInvestment(big.NewInt(1)))
	})

	s.Run("is idempotent across principal casing", func() {
		first, err := svc.CreateOrGetOnboarding(s.ctx, "0xRepeat")
		s.Require().NoError(err)
		second, err := svc.CreateOrGetOnboarding(s.ctx, "0XREPEAT")
		s.Require().NoError(err)
		s.True(first.Principal.Equal(second.Principal))
		s.Equal(first.CreatedAt, second.CreatedAt)
	})

	s.Run("rejects an empty principal", func() {
		_, err := svc.CreateOrGetOnboarding(s.ctx, "")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

// TestEnhancedTierGrantsFullEntitlements covers the requested-tier escalation
// on a positive verdict: ENHANCED unlocks listing, governance, and removes the
// investment cap.
func (s *UserServiceSuite) TestEnhancedTierGrantsFullEntitlements() {
	svc := s.newService(oracle.NewMockAdapter())

	record, err := svc.SubmitKYC(s.ctx, "0xinvestor", validKYC(entitlement.TierEnhanced))
	s.Require().NoError(err)

	s.Equal(models.UserStatusVerified, record.Status)
	s.Equal(entitlement.TierEnhanced, record.Tier)
	s.True(record.Entitlements.CanList)
	s.True(record.Entitlements.CanGovern)
	s.Nil(record.Entitlements.MaxInvestment)
	s.True(record.Compliance.IsAccreditedInvestor)
	s.True(record.Compliance.AMLPassed)
	s.Require().NotNil(record.Verification)
	s.Equal(oracle.VerifiedByMockAttestor, record.Verification.VerifiedBy)
	s.False(record.Verification.ExpiresAt.IsZero())
}

// TestIncompleteSubmissionNeverReachesOracle: a missing address proof fails
// validation before any oracle work and leaves the record untouched.
func (s *UserServiceSuite) TestIncompleteSubmissionNeverReachesOracle() {
	adapter := &fakeOracle{}
	svc := s.newService(adapter)

	_, err := svc.CreateOrGetOnboarding(s.ctx, "0xinvestor")
	s.Require().NoError(err)

	submission := validKYC(entitlement.TierBasic)
	submission.AddressProof = nil

	_, err = svc.SubmitKYC(s.ctx, "0xinvestor", submission)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	s.Contains(err.Error(), "address proof")
	s.Equal(0, adapter.callCount())

	record, err := svc.GetOnboarding(s.ctx, "0xinvestor")
	s.Require().NoError(err)
	s.Equal(models.UserStatusUnverified, record.Status)
}

func (s *UserServiceSuite) TestSubmitKYCGuards() {
	s.Run("concurrent submission conflicts", func() {
		gate := make(chan struct{})
		adapter := &fakeOracle{gate: gate}
		svc := s.newService(adapter)

		done := make(chan error, 1)
		go func() {
			_, err := svc.SubmitKYC(s.ctx, "0xracer", validKYC(entitlement.TierBasic))
			done <- err
		}()
		s.Require().Eventually(func() bool { return adapter.callCount() == 1 },
			time.Second, 5*time.Millisecond)

		_, err := svc.SubmitKYC(s.ctx, "0xracer", validKYC(entitlement.TierBasic))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))

		close(gate)
		s.Require().NoError(<-done)
		s.Equal(1, adapter.callCount())
	})

	s.Run("oracle unavailability restores the pre-call state", func() {
		adapter := &fakeOracle{err: dErrors.New(dErrors.CodeOracleUnavailable, "oracle unreachable")}
		svc := s.newService(adapter)

		_, err := svc.SubmitKYC(s.ctx, "0xretry", validKYC(entitlement.TierBasic))
		s.Require().Error(err)
		s.True(dErrors.IsRetryable(err))

		// A first submission reverts to the fresh record, documents and all.
		record, err := svc.GetOnboarding(s.ctx, "0xretry")
		s.Require().NoError(err)
		s.Equal(models.UserStatusUnverified, record.Status)
		s.Nil(record.Documents.Identity)

		// The retry goes through once the oracle recovers.
		adapter.mu.Lock()
		adapter.err = nil
		adapter.mu.Unlock()
		_, err = svc.SubmitKYC(s.ctx, "0xretry", validKYC(entitlement.TierBasic))
		s.Require().NoError(err)
	})
}

// TestOracleOutagePreservesPriorVerification: a resubmission that dies on a
// retryable oracle fault must not downgrade an already verified user. Status,
// personal info, and documents all revert to the pre-call values.
func (s *UserServiceSuite) TestOracleOutagePreservesPriorVerification() {
	svc := s.newService(oracle.NewMockAdapter())
	verified, err := svc.SubmitKYC(s.ctx, "0xinvestor", validKYC(entitlement.TierStandard))
	s.Require().NoError(err)
	s.Equal(models.UserStatusVerified, verified.Status)

	down := &fakeOracle{err: dErrors.New(dErrors.CodeOracleUnavailable, "oracle unreachable")}
	svc = s.newService(down)

	resubmission := validKYC(entitlement.TierEnhanced)
	resubmission.PersonalInfo.FullName = "Ama Akosua Mensah"
	_, err = svc.SubmitKYC(s.ctx, "0xinvestor", resubmission)
	s.Require().Error(err)
	s.True(dErrors.IsRetryable(err))

	record, err := svc.GetOnboarding(s.ctx, "0xinvestor")
	s.Require().NoError(err)
	s.Equal(models.UserStatusVerified, record.Status)
	s.Equal(verified.PersonalInfo, record.PersonalInfo)
	s.Equal(verified.Documents, record.Documents)

	ok, err := svc.IsVerified(s.ctx, "0xinvestor")
	s.Require().NoError(err)
	s.True(ok)
}

// TestRejectionDropsTier: a rejected resubmission from a verified user resets
// the tier and entitlements to NONE.
func (s *UserServiceSuite) TestRejectionDropsTier() {
	svc := s.newService(oracle.NewMockAdapter())
	_, err := svc.SubmitKYC(s.ctx, "0xinvestor", validKYC(entitlement.TierStandard))
	s.Require().NoError(err)

	// The structural gates of the live adapter reject garbage hashes; here we
	// simulate the definitive negative verdict directly.
	rejecting := &verdictOracle{verdict: oracle.VerdictRejected}
	svc = s.newService(rejecting)

	record, err := svc.SubmitKYC(s.ctx, "0xinvestor", validKYC(entitlement.TierStandard))
	s.Require().NoError(err)
	s.Equal(models.UserStatusRejected, record.Status)
	s.Equal(entitlement.TierNone, record.Tier)
	s.False(record.Entitlements.CanGovern)
	s.False(record.Compliance.AMLPassed)
}

// TestNeedsReviewLeavesTierUnchanged: no entitlement escalation without a
// positive verdict.
func (s *UserServiceSuite) TestNeedsReviewLeavesTierUnchanged() {
	svc := s.newService(oracle.NewMockAdapter())
	verified, err := svc.SubmitKYC(s.ctx, "0xinvestor", validKYC(entitlement.TierBasic))
	s.Require().NoError(err)
	s.Equal(entitlement.TierBasic, verified.Tier)

	pending := &verdictOracle{verdict: oracle.VerdictNeedsReview}
	svc = s.newService(pending)

	record, err := svc.SubmitKYC(s.ctx, "0xinvestor", validKYC(entitlement.TierEnhanced))
	s.Require().NoError(err)
	s.Equal(models.UserStatusVerificationPending, record.Status)
	s.Equal(entitlement.TierBasic, record.Tier)
	s.False(record.Entitlements.CanList)
}

func (s *UserServiceSuite) TestReadSideGuards() {
	svc := s.newService(oracle.NewMockAdapter())

	s.Run("unknown principal is a reasoned denial, not an error", func() {
		decision, err := svc.CanInvest(s.ctx, "0xghost", big.NewInt(100))
		s.Require().NoError(err)
		s.False(decision.Allowed)
		s.NotEmpty(decision.Reason)
	})

	s.Run("unverified user cannot invest", func() {
		_, err := svc.CreateOrGetOnboarding(s.ctx, "0xnew")
		s.Require().NoError(err)

		decision, err := svc.CanInvest(s.ctx, "0xnew", big.NewInt(100))
		s.Require().NoError(err)
		s.False(decision.Allowed)
	})

	s.Run("verified BASIC user invests under the cap only", func() {
		_, err := svc.SubmitKYC(s.ctx, "0xbasic", validKYC(entitlement.TierBasic))
		s.Require().NoError(err)

		under, err := svc.CanInvest(s.ctx, "0xbasic", big.NewInt(10_000))
		s.Require().NoError(err)
		s.True(under.Allowed)

		over, err := svc.CanInvest(s.ctx, "0xbasic", big.NewInt(10_001))
		s.Require().NoError(err)
		s.False(over.Allowed)
		s.Contains(over.Reason, "cap")

		listing, err := svc.CanListProperty(s.ctx, "0xbasic")
		s.Require().NoError(err)
		s.False(listing.Allowed)
	})

	s.Run("verified ENHANCED user lists and invests without cap", func() {
		_, err := svc.SubmitKYC(s.ctx, "0xwhale", validKYC(entitlement.TierEnhanced))
		s.Require().NoError(err)

		invest, err := svc.CanInvest(s.ctx, "0xwhale", new(big.Int).Lsh(big.NewInt(1), 80))
		s.Require().NoError(err)
		s.True(invest.Allowed)

		listing, err := svc.CanListProperty(s.ctx, "0xwhale")
		s.Require().NoError(err)
		s.True(listing.Allowed)
	})
}

// TestExpiryIsDerivedAtReadTime: a verification past its window reports
// unverified and blocks guards without any write occurring.
func (s *UserServiceSuite) TestExpiryIsDerivedAtReadTime() {
	svc := s.newService(oracle.NewMockAdapter())

	_, err := svc.SubmitKYC(s.ctx, "0xinvestor", validKYC(entitlement.TierEnhanced))
	s.Require().NoError(err)

	future := requestcontext.WithTime(s.ctx, time.Now().Add(verificationValidity+time.Hour))

	verified, err := svc.IsVerified(future, "0xinvestor")
	s.Require().NoError(err)
	s.False(verified)

	decision, err := svc.CanInvest(future, "0xinvestor", big.NewInt(100))
	s.Require().NoError(err)
	s.False(decision.Allowed)
	s.Contains(decision.Reason, "expired")

	// Stored status is untouched; only the derived view changed.
	record, err := svc.GetOnboarding(s.ctx, "0xinvestor")
	s.Require().NoError(err)
	s.Equal(models.UserStatusVerified, record.Status)

	stillVerified, err := svc.IsVerified(s.ctx, "0xinvestor")
	s.Require().NoError(err)
	s.True(stillVerified)
}

// TestAuditTrailCoversSubmissionAndChecks: submission, verdict, and read-side
// entitlement checks all land in the audit trail, in order.
func (s *UserServiceSuite) TestAuditTrailCoversSubmissionAndChecks() {
	trail := audit.NewInMemoryStore()
	svc := NewUserService(s.store, oracle.NewMockAdapter(), nil,
		WithAuditPublisher(audit.NewPublisher(trail)))

	_, err := svc.SubmitKYC(s.ctx, "0xinvestor", validKYC(entitlement.TierBasic))
	s.Require().NoError(err)

	_, err = svc.CanInvest(s.ctx, "0xinvestor", big.NewInt(50))
	s.Require().NoError(err)

	events, err := trail.ListBySubject(s.ctx, "0xinvestor")
	s.Require().NoError(err)
	s.Require().Len(events, 3)
	s.Equal(audit.ActionUserKYCSubmitted, events[0].Action)
	s.Equal(audit.ActionUserVerified, events[1].Action)
	s.Equal(audit.ActionEntitlementChecked, events[2].Action)
	s.Equal("allowed", events[2].Outcome)
}

// verdictOracle returns a fixed verdict for every request.
type verdictOracle struct {
	verdict oracle.Verdict
}

func (o *verdictOracle) result() *oracle.VerificationResult {
	return &oracle.VerificationResult{
		Success:        o.verdict == oracle.VerdictVerified,
		Verdict:        o.verdict,
		VerificationID: id.NewVerificationID(),
		Checks:         oracle.Checks{DocumentAuthenticity: true, RecordMatch: o.verdict != oracle.VerdictNeedsReview},
		VerifiedBy:     oracle.VerifiedByChainOracle,
		CompletedAt:    time.Now(),
	}
}

func (o *verdictOracle) VerifyProperty(context.Context, oracle.VerificationRequest) (*oracle.VerificationResult, error) {
	return o.result(), nil
}

func (o *verdictOracle) VerifyUser(context.Context, oracle.VerificationRequest) (*oracle.VerificationResult, error) {
	return o.result(), nil
}
