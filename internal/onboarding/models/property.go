package models

import (
	"math/big"
	"time"

	"deedgate/internal/fingerprint"
	"deedgate/internal/oracle"
	id "deedgate/pkg/domain"
	dErrors "deedgate/pkg/domain-errors"
)

// PropertyStatus is the closed set of property onboarding lifecycle states.
type PropertyStatus string

const (
	PropertyStatusDraft                  PropertyStatus = "DRAFT"
	PropertyStatusDocumentsSubmitted     PropertyStatus = "DOCUMENTS_SUBMITTED"
	PropertyStatusVerificationInProgress PropertyStatus = "VERIFICATION_IN_PROGRESS"
	PropertyStatusVerificationComplete   PropertyStatus = "VERIFICATION_COMPLETE"
	PropertyStatusVerificationPending    PropertyStatus = "VERIFICATION_PENDING"
	PropertyStatusRejected               PropertyStatus = "REJECTED"
	PropertyStatusAwaitingTokenization   PropertyStatus = "AWAITING_TOKENIZATION"
	PropertyStatusTokenizationInProgress PropertyStatus = "TOKENIZATION_IN_PROGRESS"
	PropertyStatusListed                 PropertyStatus = "LISTED"
)

// propertyTransitions is the single source of truth for legal status edges.
// Status is mutated exclusively through CanTransitionTo/ApplyTransition, so no
// other writer path exists. The edges back to DOCUMENTS_SUBMITTED and
// VERIFICATION_COMPLETE exist for rollback of retryable failures: a record is
// never left stuck mid-transition.
var propertyTransitions = map[PropertyStatus][]PropertyStatus{
	PropertyStatusDraft:              {PropertyStatusDocumentsSubmitted},
	PropertyStatusDocumentsSubmitted: {PropertyStatusVerificationInProgress},
	PropertyStatusVerificationInProgress: {
		PropertyStatusVerificationComplete,
		PropertyStatusVerificationPending,
		PropertyStatusRejected,
		PropertyStatusDocumentsSubmitted,
	},
	PropertyStatusVerificationPending: {
		PropertyStatusVerificationInProgress,
		PropertyStatusDocumentsSubmitted,
	},
	PropertyStatusVerificationComplete: {PropertyStatusAwaitingTokenization},
	PropertyStatusAwaitingTokenization: {
		PropertyStatusTokenizationInProgress,
		PropertyStatusVerificationComplete,
	},
	PropertyStatusTokenizationInProgress: {
		PropertyStatusListed,
		PropertyStatusVerificationComplete,
	},
	// Terminal states. Admin annotations may still append, status never moves.
	PropertyStatusRejected: {},
	PropertyStatusListed:   {},
}

// CanTransitionTo reports whether the edge from s to next is legal.
func (s PropertyStatus) CanTransitionTo(next PropertyStatus) bool {
	for _, allowed := range propertyTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the status has no outgoing edges.
func (s PropertyStatus) Terminal() bool {
	return len(propertyTransitions[s]) == 0
}

// PropertyFields are the listing facts matched against the land registry.
// Price uses big.Int: token math on financial values must not round.
type PropertyFields struct {
	Name     string   `json:"name"`
	Location string   `json:"location"`
	Price    *big.Int `json:"price"`
}

// PropertyDocuments groups the fingerprinted uploads backing a listing.
type PropertyDocuments struct {
	Images         []fingerprint.DocumentMetadata `json:"images,omitempty"`
	SupportingDocs []fingerprint.DocumentMetadata `json:"supporting_docs,omitempty"`
	Deed           *fingerprint.DocumentMetadata  `json:"deed,omitempty"`
}

// Hashes collects the content hashes of every attached document, deed first.
func (d PropertyDocuments) Hashes() []string {
	var hashes []string
	if d.Deed != nil {
		hashes = append(hashes, d.Deed.ContentHash)
	}
	for _, doc := range d.SupportingDocs {
		hashes = append(hashes, doc.ContentHash)
	}
	for _, img := range d.Images {
		hashes = append(hashes, img.ContentHash)
	}
	return hashes
}

// Count returns the number of attached documents.
func (d PropertyDocuments) Count() int {
	n := len(d.Images) + len(d.SupportingDocs)
	if d.Deed != nil {
		n++
	}
	return n
}

// Tokenization records the minting outcome once a verified property is listed.
type Tokenization struct {
	TotalTokens    *big.Int  `json:"total_tokens"`
	TokenUnitPrice *big.Int  `json:"token_unit_price"`
	TxRef          string    `json:"tx_ref"`
	ListedAt       time.Time `json:"listed_at"`
}

// AdminNote is an append-only reviewer annotation. Notes may append even on
// terminal records; they never touch status.
type AdminNote struct {
	Author id.Principal `json:"author"`
	Note   string       `json:"note"`
	At     time.Time    `json:"at"`
}

// PropertyOnboarding is the persisted record tracking a property submission
// from draft to listed or rejected.
type PropertyOnboarding struct {
	ID           id.PropertyID              `json:"id"`
	Owner        id.Principal               `json:"owner"`
	Status       PropertyStatus             `json:"status"`
	Fields       PropertyFields             `json:"fields"`
	Documents    PropertyDocuments          `json:"documents"`
	Verification *oracle.VerificationResult `json:"verification,omitempty"`
	Tokenization *Tokenization              `json:"tokenization,omitempty"`
	AdminNotes   []AdminNote                `json:"admin_notes,omitempty"`

	// Version supports optimistic concurrency control in stores; UpdatedAt
	// strictly increases on every write.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ValidatePropertyFields enforces the required listing facts before anything
// reaches the oracle.
func ValidatePropertyFields(fields PropertyFields) error {
	if fields.Name == "" {
		return dErrors.New(dErrors.CodeBadRequest, "property name is required")
	}
	if fields.Location == "" {
		return dErrors.New(dErrors.CodeBadRequest, "property location is required")
	}
	if fields.Price == nil || fields.Price.Sign() <= 0 {
		return dErrors.New(dErrors.CodeBadRequest, "property price must be positive")
	}
	return nil
}

// NewPropertyOnboarding builds a record in DOCUMENTS_SUBMITTED. Submissions
// without a title deed never get a record: the deed hash anchors every
// registry check downstream.
func NewPropertyOnboarding(propertyID id.PropertyID, owner id.Principal, fields PropertyFields, docs PropertyDocuments, now time.Time) (*PropertyOnboarding, error) {
	if owner.IsZero() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "owner principal is required")
	}
	if err := ValidatePropertyFields(fields); err != nil {
		return nil, err
	}
	if docs.Deed == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "a title deed document is required")
	}
	return &PropertyOnboarding{
		ID:        propertyID,
		Owner:     owner,
		Status:    PropertyStatusDocumentsSubmitted,
		Fields:    fields,
		Documents: docs,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// CanTransition validates the edge from the current status.
func (p *PropertyOnboarding) CanTransition(next PropertyStatus) error {
	if !p.Status.CanTransitionTo(next) {
		return dErrors.Newf(dErrors.CodeInvalidTransition,
			"property cannot move from %s to %s", p.Status, next)
	}
	return nil
}

// ApplyTransition moves the record along a validated edge. Call CanTransition
// first; Execute callbacks pair the two under the store lock.
func (p *PropertyOnboarding) ApplyTransition(next PropertyStatus, now time.Time) {
	p.Status = next
	p.UpdatedAt = now
}

// ApplyVerification embeds a verification result and moves to the status the
// verdict dictates.
func (p *PropertyOnboarding) ApplyVerification(result *oracle.VerificationResult, next PropertyStatus, now time.Time) {
	p.Verification = result
	p.ApplyTransition(next, now)
}

// AppendAdminNote records a reviewer annotation. Legal in any state,
// including terminal ones.
func (p *PropertyOnboarding) AppendAdminNote(author id.Principal, note string, now time.Time) error {
	if note == "" {
		return dErrors.New(dErrors.CodeBadRequest, "note must not be empty")
	}
	p.AdminNotes = append(p.AdminNotes, AdminNote{Author: author, Note: note, At: now})
	p.UpdatedAt = now
	return nil
}
