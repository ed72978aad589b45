package service

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"deedgate/internal/audit"
	"deedgate/internal/fingerprint"
	"deedgate/internal/onboarding/metrics"
	"deedgate/internal/onboarding/models"
	"deedgate/internal/onboarding/ports"
	"deedgate/internal/oracle"
	id "deedgate/pkg/domain"
	dErrors "deedgate/pkg/domain-errors"
	"deedgate/pkg/requestcontext"
)

// PropertySubmission is the form payload for a new property onboarding.
type PropertySubmission struct {
	Fields         models.PropertyFields
	Deed           *Upload
	Images         []Upload
	SupportingDocs []Upload
}

// PropertyService drives a property submission from documents to listed or
// rejected. All status mutation goes through the store's Execute callbacks.
type PropertyService struct {
	properties     ports.PropertyStore
	oracle         oracle.Adapter
	registrar      TokenRegistrar
	tokenUnitPrice *big.Int

	logger         *slog.Logger
	auditPublisher ports.AuditPublisher
	metrics        *metrics.Metrics
}

// NewPropertyService constructs the property workflow. tokenUnitPrice is the
// platform-wide price per token used for totalTokens derivation.
func NewPropertyService(properties ports.PropertyStore, adapter oracle.Adapter, registrar TokenRegistrar, tokenUnitPrice *big.Int, opts ...Option) *PropertyService {
	cfg := &serviceConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if registrar == nil {
		registrar = LocalRegistrar{}
	}
	return &PropertyService{
		properties:     properties,
		oracle:         adapter,
		registrar:      registrar,
		tokenUnitPrice: tokenUnitPrice,
		logger:         cfg.logger,
		auditPublisher: cfg.auditPublisher,
		metrics:        cfg.metrics,
	}
}

// CreateOnboarding fingerprints the uploads and writes a new record in
// DOCUMENTS_SUBMITTED.
func (s *PropertyService) CreateOnboarding(ctx context.Context, owner id.Principal, submission PropertySubmission) (*models.PropertyOnboarding, error) {
	now := requestcontext.Now(ctx)

	docs, err := fingerprintSubmission(submission, now)
	if err != nil {
		return nil, err
	}

	record, err := models.NewPropertyOnboarding(id.NewPropertyID(), owner, submission.Fields, docs, now)
	if err != nil {
		return nil, err
	}
	if err := s.properties.Create(ctx, record); err != nil {
		return nil, wrapStoreErr(err)
	}

	if s.metrics != nil {
		s.metrics.IncrementPropertyCreated()
	}
	ports.LogAudit(ctx, s.logger, s.auditPublisher, audit.Event{
		Actor:       owner,
		SubjectKind: string(oracle.SubjectProperty),
		SubjectID:   record.ID.String(),
		Action:      audit.ActionPropertySubmitted,
		Outcome:     string(record.Status),
	}, "property_id", record.ID.String(), "documents", record.Documents.Count())

	return record, nil
}

func fingerprintSubmission(submission PropertySubmission, now time.Time) (models.PropertyDocuments, error) {
	var docs models.PropertyDocuments
	if submission.Deed != nil {
		deed, err := fingerprint.Fingerprint(submission.Deed.Bytes, submission.Deed.Name, submission.Deed.MimeType, now)
		if err != nil {
			return docs, err
		}
		docs.Deed = &deed
	}
	for _, upload := range submission.Images {
		meta, err := fingerprint.Fingerprint(upload.Bytes, upload.Name, upload.MimeType, now)
		if err != nil {
			return docs, err
		}
		docs.Images = append(docs.Images, meta)
	}
	for _, upload := range submission.SupportingDocs {
		meta, err := fingerprint.Fingerprint(upload.Bytes, upload.Name, upload.MimeType, now)
		if err != nil {
			return docs, err
		}
		docs.SupportingDocs = append(docs.SupportingDocs, meta)
	}
	return docs, nil
}

// SubmitForVerification claims the record, calls the oracle, and persists the
// verdict. A second concurrent call on the same record fails fast with a
// conflict instead of double-submitting to the oracle. A retryable oracle
// fault rolls the record back to its pre-call status, so a pending record
// stays pending and a fresh one stays submitted.
func (s *PropertyService) SubmitForVerification(ctx context.Context, propertyID id.PropertyID) (*oracle.VerificationResult, error) {
	if propertyID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "property id is required")
	}
	start := time.Now()
	now := requestcontext.Now(ctx)

	var priorStatus models.PropertyStatus
	claimed, err := s.properties.Execute(ctx, propertyID,
		func(p *models.PropertyOnboarding) error {
			if p.Status == models.PropertyStatusVerificationInProgress {
				return dErrors.New(dErrors.CodeConflict, "verification already in progress")
			}
			priorStatus = p.Status
			return p.CanTransition(models.PropertyStatusVerificationInProgress)
		},
		func(p *models.PropertyOnboarding) {
			p.ApplyTransition(models.PropertyStatusVerificationInProgress, now)
		},
	)
	if err != nil {
		return nil, wrapStoreErr(err)
	}

	result, err := s.oracle.VerifyProperty(ctx, oracle.VerificationRequest{
		SubjectID:      claimed.ID.String(),
		SubjectKind:    oracle.SubjectProperty,
		OwnerPrincipal: claimed.Owner,
		DocumentHashes: claimed.Documents.Hashes(),
		Fields: oracle.RecordFields{
			Name:          claimed.Fields.Name,
			Location:      claimed.Fields.Location,
			DeclaredValue: claimed.Fields.Price,
		},
	})
	if err != nil {
		// Retryable fault: restore the pre-call status before surfacing it.
		s.rollback(ctx, propertyID, priorStatus)
		return nil, err
	}

	next := propertyStatusForVerdict(result.Verdict)
	if _, err := s.properties.Execute(ctx, propertyID,
		func(p *models.PropertyOnboarding) error {
			return p.CanTransition(next)
		},
		func(p *models.PropertyOnboarding) {
			p.ApplyVerification(result, next, now)
		},
	); err != nil {
		return nil, wrapStoreErr(err)
	}

	if s.metrics != nil {
		s.metrics.RecordPropertyVerdict(string(result.Verdict), start)
	}
	ports.LogAudit(ctx, s.logger, s.auditPublisher, audit.Event{
		Actor:       claimed.Owner,
		SubjectKind: string(oracle.SubjectProperty),
		SubjectID:   propertyID.String(),
		Action:      audit.ActionPropertyVerified,
		Outcome:     string(result.Verdict),
	}, "property_id", propertyID.String(), "verified_by", result.VerifiedBy)

	return result, nil
}

func propertyStatusForVerdict(verdict oracle.Verdict) models.PropertyStatus {
	switch verdict {
	case oracle.VerdictVerified:
		return models.PropertyStatusVerificationComplete
	case oracle.VerdictRejected:
		return models.PropertyStatusRejected
	default:
		return models.PropertyStatusVerificationPending
	}
}

// Tokenize mints tokens for a verified property and lists it. Requires
// VERIFICATION_COMPLETE; tokenizing an unverified property is a hard error.
// A registry failure rolls the record back to VERIFICATION_COMPLETE so the
// operation is safely retryable.
func (s *PropertyService) Tokenize(ctx context.Context, propertyID id.PropertyID) (*models.PropertyOnboarding, error) {
	if propertyID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "property id is required")
	}
	if s.tokenUnitPrice == nil || s.tokenUnitPrice.Sign() <= 0 {
		return nil, dErrors.New(dErrors.CodeInternal, "token unit price is not configured")
	}
	start := time.Now()
	now := requestcontext.Now(ctx)

	claimed, err := s.properties.Execute(ctx, propertyID,
		func(p *models.PropertyOnboarding) error {
			switch p.Status {
			case models.PropertyStatusVerificationComplete:
				return nil
			case models.PropertyStatusAwaitingTokenization, models.PropertyStatusTokenizationInProgress:
				return dErrors.New(dErrors.CodeConflict, "tokenization already in progress")
			default:
				return dErrors.Newf(dErrors.CodePreconditionFailed,
					"property must complete verification before tokenization, current status %s", p.Status)
			}
		},
		func(p *models.PropertyOnboarding) {
			p.ApplyTransition(models.PropertyStatusAwaitingTokenization, now)
			p.ApplyTransition(models.PropertyStatusTokenizationInProgress, now)
		},
	)
	if err != nil {
		return nil, wrapStoreErr(err)
	}

	totalTokens := new(big.Int).Quo(claimed.Fields.Price, s.tokenUnitPrice)
	if totalTokens.Sign() <= 0 {
		s.rollback(ctx, propertyID, models.PropertyStatusVerificationComplete)
		return nil, dErrors.New(dErrors.CodeBadRequest, "property price is below the token unit price")
	}

	txRef, err := s.registrar.Mint(ctx, propertyID, totalTokens)
	if err != nil {
		s.rollback(ctx, propertyID, models.PropertyStatusVerificationComplete)
		return nil, dErrors.Wrap(err, dErrors.CodeStorage, "token registry mint failed")
	}

	listed, err := s.properties.Execute(ctx, propertyID,
		func(p *models.PropertyOnboarding) error {
			return p.CanTransition(models.PropertyStatusListed)
		},
		func(p *models.PropertyOnboarding) {
			p.Tokenization = &models.Tokenization{
				TotalTokens:    totalTokens,
				TokenUnitPrice: new(big.Int).Set(s.tokenUnitPrice),
				TxRef:          txRef,
				ListedAt:       now,
			}
			p.ApplyTransition(models.PropertyStatusListed, now)
		},
	)
	if err != nil {
		return nil, wrapStoreErr(err)
	}

	if s.metrics != nil {
		s.metrics.IncrementPropertyTokenized(start)
	}
	ports.LogAudit(ctx, s.logger, s.auditPublisher, audit.Event{
		Actor:       listed.Owner,
		SubjectKind: string(oracle.SubjectProperty),
		SubjectID:   propertyID.String(),
		Action:      audit.ActionPropertyTokenized,
		Outcome:     string(listed.Status),
	}, "property_id", propertyID.String(), "total_tokens", totalTokens.String(), "tx_ref", txRef)

	return listed, nil
}

// rollback restores a record after a retryable downstream fault. Rollback
// failure is logged, not surfaced: the caller already holds the primary error.
func (s *PropertyService) rollback(ctx context.Context, propertyID id.PropertyID, target models.PropertyStatus) {
	now := requestcontext.Now(ctx)
	_, err := s.properties.Execute(ctx, propertyID,
		func(p *models.PropertyOnboarding) error {
			return p.CanTransition(target)
		},
		func(p *models.PropertyOnboarding) {
			p.ApplyTransition(target, now)
		},
	)
	if err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "failed to roll back property status",
			"property_id", propertyID.String(), "target", string(target), "error", err)
	}
}

// AppendAdminNote records a reviewer annotation. Legal in any state, including
// terminal ones; never touches status.
func (s *PropertyService) AppendAdminNote(ctx context.Context, propertyID id.PropertyID, author id.Principal, note string) (*models.PropertyOnboarding, error) {
	if propertyID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "property id is required")
	}
	now := requestcontext.Now(ctx)

	var noteErr error
	record, err := s.properties.Execute(ctx, propertyID,
		func(*models.PropertyOnboarding) error { return nil },
		func(p *models.PropertyOnboarding) {
			noteErr = p.AppendAdminNote(author, note, now)
		},
	)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	if noteErr != nil {
		return nil, noteErr
	}

	ports.LogAudit(ctx, s.logger, s.auditPublisher, audit.Event{
		Actor:       author,
		SubjectKind: string(oracle.SubjectProperty),
		SubjectID:   propertyID.String(),
		Action:      audit.ActionPropertyAnnotated,
		Outcome:     string(record.Status),
	}, "property_id", propertyID.String())

	return record, nil
}

// GetOnboarding retrieves one record.
func (s *PropertyService) GetOnboarding(ctx context.Context, propertyID id.PropertyID) (*models.PropertyOnboarding, error) {
	if propertyID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "property id is required")
	}
	record, err := s.properties.FindByID(ctx, propertyID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return record, nil
}

// GetByOwner lists a principal's submissions.
func (s *PropertyService) GetByOwner(ctx context.Context, owner id.Principal) ([]*models.PropertyOnboarding, error) {
	if owner.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "owner principal is required")
	}
	records, err := s.properties.ListByOwner(ctx, owner)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return records, nil
}

// ListPending lists records awaiting human review.
func (s *PropertyService) ListPending(ctx context.Context) ([]*models.PropertyOnboarding, error) {
	records, err := s.properties.ListByStatus(ctx, models.PropertyStatusVerificationPending)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return records, nil
}
