// Package domain holds the typed identifiers shared across the engine. Typed
// IDs prevent cross-type assignment at compile time: a PropertyID can never be
// passed where a VerificationID is expected.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "deedgate/pkg/domain-errors"
)

// PropertyID identifies a property onboarding record.
type PropertyID uuid.UUID

// VerificationID identifies a single verification attempt. Generated exactly
// once per attempt.
type VerificationID uuid.UUID

// DocumentID identifies a fingerprinted document.
type DocumentID uuid.UUID

func (p PropertyID) String() string     { return uuid.UUID(p).String() }
func (v VerificationID) String() string { return uuid.UUID(v).String() }
func (d DocumentID) String() string     { return uuid.UUID(d).String() }

func (p PropertyID) IsNil() bool     { return uuid.UUID(p) == uuid.Nil }
func (v VerificationID) IsNil() bool { return uuid.UUID(v) == uuid.Nil }
func (d DocumentID) IsNil() bool     { return uuid.UUID(d) == uuid.Nil }

// IDs serialize as canonical UUID strings. Without these the array
// representation would leak into JSON payloads.

func (p PropertyID) MarshalText() ([]byte, error)     { return []byte(p.String()), nil }
func (v VerificationID) MarshalText() ([]byte, error) { return []byte(v.String()), nil }
func (d DocumentID) MarshalText() ([]byte, error)     { return []byte(d.String()), nil }

func (p *PropertyID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return err
	}
	*p = PropertyID(u)
	return nil
}

func (v *VerificationID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return err
	}
	*v = VerificationID(u)
	return nil
}

func (d *DocumentID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return err
	}
	*d = DocumentID(u)
	return nil
}

// NewPropertyID generates a fresh property ID.
func NewPropertyID() PropertyID { return PropertyID(uuid.New()) }

// NewVerificationID generates a fresh verification attempt ID.
func NewVerificationID() VerificationID { return VerificationID(uuid.New()) }

// NewDocumentID generates a fresh document ID.
func NewDocumentID() DocumentID { return DocumentID(uuid.New()) }

// ParsePropertyID parses and validates a property ID from its string form.
// Rejects empty strings, malformed UUIDs, and the nil UUID.
func ParsePropertyID(s string) (PropertyID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return PropertyID{}, err
	}
	return PropertyID(u), nil
}

// ParseVerificationID parses and validates a verification ID from its string form.
func ParseVerificationID(s string) (VerificationID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return VerificationID{}, err
	}
	return VerificationID(u), nil
}

func parseUUID(s string) (uuid.UUID, error) {
	if strings.TrimSpace(s) == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id is required")
	}
	// uuid.Parse accepts several exotic encodings (urn:, braces); constrain to
	// the canonical 36-character form used on the wire.
	if len(s) != 36 {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must be a canonical UUID")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "id must be a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be the nil UUID")
	}
	return u, nil
}

// Principal is the wallet address (or equivalent account identifier) owning an
// onboarding record. Comparison is case-insensitive, so principals are
// normalized to lower case at the boundary.
type Principal string

// ParsePrincipal normalizes and validates a principal. Hex wallet addresses
// differ only in checksum casing, so the canonical form is lower case.
func ParsePrincipal(s string) (Principal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "principal is required")
	}
	if len(s) > 128 {
		return "", dErrors.New(dErrors.CodeInvalidInput, "principal must be 128 characters or less")
	}
	return Principal(strings.ToLower(s)), nil
}

func (p Principal) String() string { return string(p) }

// Equal compares two principals case-insensitively, tolerating values that
// bypassed ParsePrincipal.
func (p Principal) Equal(other Principal) bool {
	return strings.EqualFold(string(p), string(other))
}

func (p Principal) IsZero() bool { return p == "" }
