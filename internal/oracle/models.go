package oracle

import (
	"math/big"
	"time"

	id "deedgate/pkg/domain"
)

// SubjectKind distinguishes what a verification request is about.
type SubjectKind string

const (
	SubjectProperty SubjectKind = "PROPERTY"
	SubjectUser     SubjectKind = "USER"
)

// Verdict is the oracle's categorical judgment on a verification request.
type Verdict string

const (
	// VerdictVerified: all checks passed and the oracle corroborated the
	// submission.
	VerdictVerified Verdict = "VERIFIED"
	// VerdictRejected: the oracle explicitly rejected the submission. Not
	// retryable without new documents.
	VerdictRejected Verdict = "REJECTED"
	// VerdictNeedsReview: the submission failed a structural or completeness
	// gate and is routed to a human reviewer instead of automatic rejection.
	VerdictNeedsReview Verdict = "NEEDS_REVIEW"
)

// Attestor tags identify which adapter produced a result. A mock result must
// never be silently indistinguishable from a live one in the persisted record.
const (
	VerifiedByChainOracle  = "chain-oracle"
	VerifiedByMockAttestor = "mock-attestor"
)

// RecordFields are the structured fields the oracle matches against registry
// records. DeclaredValue is required for property subjects and absent for
// users.
type RecordFields struct {
	Name          string   `json:"name"`
	Location      string   `json:"location"`
	DeclaredValue *big.Int `json:"declared_value,omitempty"`
}

// VerificationRequest is the parameter object for one verification attempt.
// Constructed fresh per attempt and never persisted independently.
type VerificationRequest struct {
	SubjectID      string       `json:"subject_id"`
	SubjectKind    SubjectKind  `json:"subject_kind"`
	OwnerPrincipal id.Principal `json:"owner_principal"`
	DocumentHashes []string     `json:"document_hashes"`
	Fields         RecordFields `json:"fields"`
}

// Checks records the layered verification gates. CrossAttested is set only
// once document authenticity and record match both pass.
type Checks struct {
	DocumentAuthenticity bool `json:"document_authenticity"`
	RecordMatch          bool `json:"record_match"`
	CrossAttested        bool `json:"cross_attested"`
}

// VerificationResult is produced by an adapter and embedded, immutable, into
// the owning onboarding record.
type VerificationResult struct {
	Success         bool              `json:"success"`
	Verdict         Verdict           `json:"verdict"`
	VerificationID  id.VerificationID `json:"verification_id"`
	AttestationHash string            `json:"attestation_hash,omitempty"`
	Checks          Checks            `json:"checks"`
	VerifiedBy      string            `json:"verified_by"`
	Errors          []string          `json:"errors,omitempty"`
	CompletedAt     time.Time         `json:"completed_at"`
	// ExpiresAt bounds the validity of a positive user verification. Set by
	// the user workflow; zero for property results.
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}
