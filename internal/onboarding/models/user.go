package models

import (
	"time"

	"deedgate/internal/entitlement"
	"deedgate/internal/fingerprint"
	"deedgate/internal/oracle"
	id "deedgate/pkg/domain"
	dErrors "deedgate/pkg/domain-errors"
)

// UserStatus is the closed set of identity verification lifecycle states.
// EXPIRED never appears as a stored status: it is derived at read time from
// the verification validity window.
type UserStatus string

const (
	UserStatusUnverified             UserStatus = "UNVERIFIED"
	UserStatusDocumentsSubmitted     UserStatus = "DOCUMENTS_SUBMITTED"
	UserStatusVerificationInProgress UserStatus = "VERIFICATION_IN_PROGRESS"
	UserStatusVerified               UserStatus = "VERIFIED"
	UserStatusRejected               UserStatus = "REJECTED"
	UserStatusVerificationPending    UserStatus = "VERIFICATION_PENDING"
	UserStatusExpired                UserStatus = "EXPIRED"
)

// userTransitions is the single source of truth for legal status edges.
// Rejected and verified users may resubmit documents; the rollback edge from
// VERIFICATION_IN_PROGRESS keeps retryable oracle failures from wedging a
// record.
var userTransitions = map[UserStatus][]UserStatus{
	UserStatusUnverified:         {UserStatusDocumentsSubmitted},
	UserStatusDocumentsSubmitted: {UserStatusVerificationInProgress},
	UserStatusVerificationInProgress: {
		UserStatusVerified,
		UserStatusRejected,
		UserStatusVerificationPending,
		UserStatusDocumentsSubmitted,
	},
	UserStatusVerificationPending: {
		UserStatusVerificationInProgress,
		UserStatusDocumentsSubmitted,
	},
	UserStatusRejected: {UserStatusDocumentsSubmitted},
	UserStatusVerified: {UserStatusDocumentsSubmitted},
	// Derived only; no stored record ever holds or leaves EXPIRED.
	UserStatusExpired: {},
}

// CanTransitionTo reports whether the edge from s to next is legal.
func (s UserStatus) CanTransitionTo(next UserStatus) bool {
	for _, allowed := range userTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PersonalInfo carries the identity facts matched against registry records.
type PersonalInfo struct {
	FullName           string `json:"full_name"`
	DateOfBirth        string `json:"date_of_birth"`
	Country            string `json:"country"`
	ResidentialAddress string `json:"residential_address,omitempty"`
}

// UserDocuments are the two uploads a KYC submission requires.
type UserDocuments struct {
	Identity     *fingerprint.DocumentMetadata `json:"identity,omitempty"`
	AddressProof *fingerprint.DocumentMetadata `json:"address_proof,omitempty"`
}

// Hashes collects the content hashes of the attached documents.
func (d UserDocuments) Hashes() []string {
	var hashes []string
	if d.Identity != nil {
		hashes = append(hashes, d.Identity.ContentHash)
	}
	if d.AddressProof != nil {
		hashes = append(hashes, d.AddressProof.ContentHash)
	}
	return hashes
}

// UserOnboarding is the persisted record tracking a principal's identity
// verification. One record per principal, keyed case-insensitively.
//
// Invariant: Tier, Entitlements, and Compliance are recomputed together on
// every verdict — never independently — so tier and entitlements cannot
// drift apart.
type UserOnboarding struct {
	Principal    id.Principal               `json:"principal"`
	Status       UserStatus                 `json:"status"`
	Tier         entitlement.Tier           `json:"tier"`
	PersonalInfo PersonalInfo               `json:"personal_info"`
	Documents    UserDocuments              `json:"documents"`
	Verification *oracle.VerificationResult `json:"verification,omitempty"`
	Entitlements entitlement.Entitlements   `json:"entitlements"`
	Compliance   entitlement.Compliance     `json:"compliance"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewUserOnboarding builds a fresh UNVERIFIED record with zero entitlements.
func NewUserOnboarding(principal id.Principal, now time.Time) *UserOnboarding {
	return &UserOnboarding{
		Principal:    principal,
		Status:       UserStatusUnverified,
		Tier:         entitlement.TierNone,
		Entitlements: entitlement.ForTier(entitlement.TierNone),
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// CanTransition validates the edge from the current status.
func (u *UserOnboarding) CanTransition(next UserStatus) error {
	if !u.Status.CanTransitionTo(next) {
		return dErrors.Newf(dErrors.CodeInvalidTransition,
			"user verification cannot move from %s to %s", u.Status, next)
	}
	return nil
}

// ApplyTransition moves the record along a validated edge.
func (u *UserOnboarding) ApplyTransition(next UserStatus, now time.Time) {
	u.Status = next
	u.UpdatedAt = now
}

// ApplyVerdict embeds a verification result, moves status, and recomputes
// tier, entitlements, and compliance as one unit.
func (u *UserOnboarding) ApplyVerdict(result *oracle.VerificationResult, next UserStatus, tier entitlement.Tier, screening entitlement.ScreeningResult, now time.Time) {
	u.Verification = result
	u.Tier = tier
	u.Entitlements = entitlement.ForTier(tier)
	u.Compliance = entitlement.ComplianceForTier(tier, screening)
	u.ApplyTransition(next, now)
}

// Expired reports whether a positive verification has outlived its validity
// window. Computed at read time; nothing is written eagerly.
func (u *UserOnboarding) Expired(now time.Time) bool {
	if u.Status != UserStatusVerified || u.Verification == nil {
		return false
	}
	return !u.Verification.ExpiresAt.IsZero() && now.After(u.Verification.ExpiresAt)
}

// EffectiveStatus is the stored status with expiry derived on top.
func (u *UserOnboarding) EffectiveStatus(now time.Time) UserStatus {
	if u.Expired(now) {
		return UserStatusExpired
	}
	return u.Status
}

// IsVerified conjoins the stored status with the validity window. A VERIFIED
// record past its expiry reports false without any write occurring.
func (u *UserOnboarding) IsVerified(now time.Time) bool {
	return u.Status == UserStatusVerified && !u.Expired(now)
}
