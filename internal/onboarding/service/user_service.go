package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"deedgate/internal/audit"
	"deedgate/internal/entitlement"
	"deedgate/internal/fingerprint"
	"deedgate/internal/onboarding/metrics"
	"deedgate/internal/onboarding/models"
	"deedgate/internal/onboarding/ports"
	"deedgate/internal/oracle"
	id "deedgate/pkg/domain"
	dErrors "deedgate/pkg/domain-errors"
	"deedgate/pkg/platform/sentinel"
	"deedgate/pkg/requestcontext"
)

// verificationValidity is the window after which a positive verification
// lapses and the user must resubmit.
const verificationValidity = time.Hour * 24 * 365

// KYCSubmission is the form payload for a user identity verification.
type KYCSubmission struct {
	PersonalInfo  models.PersonalInfo
	RequestedTier entitlement.Tier
	Identity      *Upload
	AddressProof  *Upload
}

// Decision is the structured outcome of a read-side entitlement guard. Reason
// is set whenever Allowed is false so the caller can render an actionable
// message.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// UserService drives a principal's identity verification to a KYC tier.
type UserService struct {
	users    ports.UserStore
	oracle   oracle.Adapter
	screener entitlement.Screener

	logger         *slog.Logger
	auditPublisher ports.AuditPublisher
	metrics        *metrics.Metrics
}

// NewUserService constructs the user workflow. A nil screener defaults to the
// pass-through implementation.
func NewUserService(users ports.UserStore, adapter oracle.Adapter, screener entitlement.Screener, opts ...Option) *UserService {
	cfg := &serviceConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if screener == nil {
		screener = entitlement.PassthroughScreener{}
	}
	return &UserService{
		users:          users,
		oracle:         adapter,
		screener:       screener,
		logger:         cfg.logger,
		auditPublisher: cfg.auditPublisher,
		metrics:        cfg.metrics,
	}
}

// CreateOrGetOnboarding is an idempotent upsert: it returns the existing
// record if present, otherwise creates a fresh UNVERIFIED one with zero
// entitlements.
func (s *UserService) CreateOrGetOnboarding(ctx context.Context, principal id.Principal) (*models.UserOnboarding, error) {
	principal, err := id.ParsePrincipal(principal.String())
	if err != nil {
		return nil, err
	}

	record, err := s.users.FindByPrincipal(ctx, principal)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, wrapStoreErr(err)
	}

	record = models.NewUserOnboarding(principal, requestcontext.Now(ctx))
	if err := s.users.Create(ctx, record); err != nil {
		// Lost a creation race; the existing record wins.
		if errors.Is(err, sentinel.ErrAlreadyExists) {
			existing, findErr := s.users.FindByPrincipal(ctx, principal)
			if findErr != nil {
				return nil, wrapStoreErr(findErr)
			}
			return existing, nil
		}
		return nil, wrapStoreErr(err)
	}
	return record, nil
}

// SubmitKYC validates the submission, fingerprints both documents, calls the
// oracle, and persists the verdict together with the recomputed tier,
// entitlements, and compliance flags. An incomplete submission never reaches
// the oracle and never mutates the record.
func (s *UserService) SubmitKYC(ctx context.Context, principal id.Principal, submission KYCSubmission) (*models.UserOnboarding, error) {
	if err := validateKYCSubmission(submission); err != nil {
		return nil, err
	}
	start := time.Now()
	now := requestcontext.Now(ctx)

	record, err := s.CreateOrGetOnboarding(ctx, principal)
	if err != nil {
		return nil, err
	}
	principal = record.Principal

	docs, err := fingerprintKYC(ctx, submission, now)
	if err != nil {
		return nil, err
	}

	// Snapshot what the claim overwrites: a retryable oracle fault must leave
	// the record in its pre-call state, never downgrade a verified user.
	var prior userSnapshot
	_, err = s.users.Execute(ctx, principal,
		func(u *models.UserOnboarding) error {
			if u.Status == models.UserStatusVerificationInProgress {
				return dErrors.New(dErrors.CodeConflict, "verification already in progress")
			}
			prior = snapshotUser(u)
			return nil
		},
		func(u *models.UserOnboarding) {
			u.PersonalInfo = submission.PersonalInfo
			u.Documents = docs
			if u.Status != models.UserStatusDocumentsSubmitted && u.Status != models.UserStatusVerificationPending {
				u.ApplyTransition(models.UserStatusDocumentsSubmitted, now)
			}
			u.ApplyTransition(models.UserStatusVerificationInProgress, now)
		},
	)
	if err != nil {
		return nil, wrapStoreErr(err)
	}

	ports.LogAudit(ctx, s.logger, s.auditPublisher, audit.Event{
		Actor:       principal,
		SubjectKind: string(oracle.SubjectUser),
		SubjectID:   principal.String(),
		Action:      audit.ActionUserKYCSubmitted,
		Outcome:     string(models.UserStatusVerificationInProgress),
	}, "requested_tier", string(submission.RequestedTier), "documents", len(docs.Hashes()))

	result, err := s.oracle.VerifyUser(ctx, oracle.VerificationRequest{
		SubjectID:      principal.String(),
		SubjectKind:    oracle.SubjectUser,
		OwnerPrincipal: principal,
		DocumentHashes: docs.Hashes(),
		Fields: oracle.RecordFields{
			Name:     submission.PersonalInfo.FullName,
			Location: submission.PersonalInfo.Country,
		},
	})
	if err != nil {
		// Retryable fault: restore the pre-call state before surfacing it.
		s.rollbackUser(ctx, principal, prior)
		return nil, err
	}

	tier := submission.RequestedTier
	var screening entitlement.ScreeningResult
	if result.Verdict == oracle.VerdictVerified {
		result.ExpiresAt = result.CompletedAt.Add(verificationValidity)
		screening, err = s.screener.Screen(ctx, principal)
		if err != nil {
			s.rollbackUser(ctx, principal, prior)
			return nil, dErrors.Wrap(err, dErrors.CodeOracleUnavailable, "compliance screening unavailable")
		}
	}

	updated, err := s.users.Execute(ctx, principal,
		func(u *models.UserOnboarding) error {
			return u.CanTransition(userStatusForVerdict(result.Verdict))
		},
		func(u *models.UserOnboarding) {
			switch result.Verdict {
			case oracle.VerdictVerified:
				u.ApplyVerdict(result, models.UserStatusVerified, tier, screening, now)
			case oracle.VerdictRejected:
				u.ApplyVerdict(result, models.UserStatusRejected, entitlement.TierNone, entitlement.ScreeningResult{}, now)
			default:
				// Pending review: record the result, leave tier and
				// entitlements untouched. No escalation without a positive
				// verdict.
				u.Verification = result
				u.ApplyTransition(models.UserStatusVerificationPending, now)
			}
		},
	)
	if err != nil {
		return nil, wrapStoreErr(err)
	}

	if s.metrics != nil {
		s.metrics.RecordKYCVerdict(string(result.Verdict), start)
	}
	ports.LogAudit(ctx, s.logger, s.auditPublisher, audit.Event{
		Actor:       principal,
		SubjectKind: string(oracle.SubjectUser),
		SubjectID:   principal.String(),
		Action:      audit.ActionUserVerified,
		Outcome:     string(result.Verdict),
	}, "tier", string(updated.Tier), "verified_by", result.VerifiedBy)

	return updated, nil
}

func userStatusForVerdict(verdict oracle.Verdict) models.UserStatus {
	switch verdict {
	case oracle.VerdictVerified:
		return models.UserStatusVerified
	case oracle.VerdictRejected:
		return models.UserStatusRejected
	default:
		return models.UserStatusVerificationPending
	}
}

func validateKYCSubmission(submission KYCSubmission) error {
	var missing []string
	if strings.TrimSpace(submission.PersonalInfo.FullName) == "" {
		missing = append(missing, "full name")
	}
	if strings.TrimSpace(submission.PersonalInfo.DateOfBirth) == "" {
		missing = append(missing, "date of birth")
	}
	if strings.TrimSpace(submission.PersonalInfo.Country) == "" {
		missing = append(missing, "country")
	}
	if submission.Identity == nil {
		missing = append(missing, "identity document")
	}
	if submission.AddressProof == nil {
		missing = append(missing, "address proof document")
	}
	if len(missing) > 0 {
		return dErrors.Newf(dErrors.CodeBadRequest,
			"incomplete submission: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// fingerprintKYC hashes both documents in parallel; each is independent pure
// work.
func fingerprintKYC(ctx context.Context, submission KYCSubmission, now time.Time) (models.UserDocuments, error) {
	var docs models.UserDocuments
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		meta, err := fingerprint.Fingerprint(submission.Identity.Bytes, submission.Identity.Name, submission.Identity.MimeType, now)
		if err != nil {
			return fmt.Errorf("identity document: %w", err)
		}
		docs.Identity = &meta
		return nil
	})
	g.Go(func() error {
		meta, err := fingerprint.Fingerprint(submission.AddressProof.Bytes, submission.AddressProof.Name, submission.AddressProof.MimeType, now)
		if err != nil {
			return fmt.Errorf("address proof document: %w", err)
		}
		docs.AddressProof = &meta
		return nil
	})
	if err := g.Wait(); err != nil {
		return models.UserDocuments{}, dErrors.Wrap(err, dErrors.CodeBadRequest, "document fingerprinting failed")
	}
	return docs, nil
}

// userSnapshot captures the fields SubmitKYC's claim overwrites so a
// retryable downstream fault can restore the record exactly.
type userSnapshot struct {
	status       models.UserStatus
	personalInfo models.PersonalInfo
	documents    models.UserDocuments
}

func snapshotUser(u *models.UserOnboarding) userSnapshot {
	return userSnapshot{
		status:       u.Status,
		personalInfo: u.PersonalInfo,
		documents:    u.Documents,
	}
}

// rollbackUser restores the pre-claim snapshot after a retryable downstream
// fault. The restore reverts the claim rather than walking a domain edge, so
// it writes the snapshot directly; only a record still held in
// VERIFICATION_IN_PROGRESS by this call is touched.
func (s *UserService) rollbackUser(ctx context.Context, principal id.Principal, prior userSnapshot) {
	now := requestcontext.Now(ctx)
	_, err := s.users.Execute(ctx, principal,
		func(u *models.UserOnboarding) error {
			if u.Status != models.UserStatusVerificationInProgress {
				return dErrors.Newf(dErrors.CodeConflict,
					"record moved to %s while verification was in flight", u.Status)
			}
			return nil
		},
		func(u *models.UserOnboarding) {
			u.Status = prior.status
			u.PersonalInfo = prior.personalInfo
			u.Documents = prior.documents
			u.UpdatedAt = now
		},
	)
	if err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "failed to roll back user verification",
			"principal", principal.String(), "error", err)
	}
}

// GetOnboarding retrieves a principal's record.
func (s *UserService) GetOnboarding(ctx context.Context, principal id.Principal) (*models.UserOnboarding, error) {
	principal, err := id.ParsePrincipal(principal.String())
	if err != nil {
		return nil, err
	}
	record, err := s.users.FindByPrincipal(ctx, principal)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return record, nil
}

// IsVerified conjoins stored status with the validity window; an expired
// verification reports false without any write occurring.
func (s *UserService) IsVerified(ctx context.Context, principal id.Principal) (bool, error) {
	record, err := s.GetOnboarding(ctx, principal)
	if errors.Is(err, sentinel.ErrNotFound) || dErrors.HasCode(err, dErrors.CodeNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return record.IsVerified(requestcontext.Now(ctx)), nil
}

// CanInvest is a read-side guard combining verification, compliance, and the
// tier investment cap. Every decision lands in the audit trail.
func (s *UserService) CanInvest(ctx context.Context, principal id.Principal, amount *big.Int) (Decision, error) {
	decision, err := s.decideInvest(ctx, principal, amount)
	if err != nil {
		return Decision{}, err
	}
	s.auditEntitlementCheck(ctx, principal, "invest", decision)
	return decision, nil
}

func (s *UserService) decideInvest(ctx context.Context, principal id.Principal, amount *big.Int) (Decision, error) {
	if amount == nil || amount.Sign() <= 0 {
		return Decision{Reason: "investment amount must be positive"}, nil
	}
	record, err := s.guardRecord(ctx, principal)
	if err != nil {
		return Decision{}, err
	}
	if record == nil {
		return Decision{Reason: "no onboarding record for principal"}, nil
	}
	if reason := verificationBlock(record, requestcontext.Now(ctx)); reason != "" {
		return Decision{Reason: reason}, nil
	}
	if !record.Entitlements.AllowsInvestment(amount) {
		return Decision{Reason: fmt.Sprintf("amount exceeds the %s tier investment cap", record.Tier)}, nil
	}
	return Decision{Allowed: true}, nil
}

// CanListProperty reports whether the principal may list properties for
// tokenization. Listing requires the ENHANCED tier.
func (s *UserService) CanListProperty(ctx context.Context, principal id.Principal) (Decision, error) {
	decision, err := s.decideListProperty(ctx, principal)
	if err != nil {
		return Decision{}, err
	}
	s.auditEntitlementCheck(ctx, principal, "list_property", decision)
	return decision, nil
}

func (s *UserService) decideListProperty(ctx context.Context, principal id.Principal) (Decision, error) {
	record, err := s.guardRecord(ctx, principal)
	if err != nil {
		return Decision{}, err
	}
	if record == nil {
		return Decision{Reason: "no onboarding record for principal"}, nil
	}
	if reason := verificationBlock(record, requestcontext.Now(ctx)); reason != "" {
		return Decision{Reason: reason}, nil
	}
	if !record.Entitlements.CanList {
		return Decision{Reason: fmt.Sprintf("listing requires the %s tier", entitlement.TierEnhanced)}, nil
	}
	return Decision{Allowed: true}, nil
}

func (s *UserService) auditEntitlementCheck(ctx context.Context, principal id.Principal, check string, decision Decision) {
	outcome := "allowed"
	if !decision.Allowed {
		outcome = "denied"
	}
	ports.LogAudit(ctx, s.logger, s.auditPublisher, audit.Event{
		Actor:       principal,
		SubjectKind: string(oracle.SubjectUser),
		SubjectID:   principal.String(),
		Action:      audit.ActionEntitlementChecked,
		Outcome:     outcome,
		Reason:      decision.Reason,
	}, "check", check)
}

func (s *UserService) guardRecord(ctx context.Context, principal id.Principal) (*models.UserOnboarding, error) {
	record, err := s.GetOnboarding(ctx, principal)
	if dErrors.HasCode(err, dErrors.CodeNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

func verificationBlock(record *models.UserOnboarding, now time.Time) string {
	if record.Expired(now) {
		return "identity verification has expired"
	}
	if record.Status != models.UserStatusVerified {
		return "identity is not verified"
	}
	if !record.Compliance.AMLPassed {
		return "AML screening has not passed"
	}
	return ""
}
