package audit

import (
	"time"

	id "deedgate/pkg/domain"
)

// Action names for onboarding lifecycle events.
const (
	ActionPropertySubmitted  = "property_submitted"
	ActionPropertyVerified   = "property_verification_completed"
	ActionPropertyTokenized  = "property_tokenized"
	ActionPropertyAnnotated  = "property_annotated"
	ActionUserKYCSubmitted   = "user_kyc_submitted"
	ActionUserVerified       = "user_verification_completed"
	ActionEntitlementChecked = "entitlement_checked"
)

// Event is emitted from workflow logic to capture key lifecycle actions. Keep
// it transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp   time.Time    `json:"timestamp"`
	Actor       id.Principal `json:"actor"`
	SubjectKind string       `json:"subject_kind"`
	SubjectID   string       `json:"subject_id"`
	Action      string       `json:"action"`
	Outcome     string       `json:"outcome"`
	Reason      string       `json:"reason,omitempty"`
	RequestID   string       `json:"request_id,omitempty"`
	Device      string       `json:"device,omitempty"`
}
