package oracle

import (
	"context"
	"fmt"
	"time"

	"deedgate/internal/fingerprint"
	id "deedgate/pkg/domain"
)

// MockAdapter deterministically synthesizes positive verdicts. It stands in
// when the oracle is unconfigured so the workflows keep functioning in
// development and tests. CrossAttested stays false and VerifiedBy carries the
// mock tag, so a mock result is never mistaken for live provenance in the
// persisted record.
type MockAdapter struct {
	now func() time.Time
}

// NewMockAdapter constructs the mock attestor. WithClock pins the timestamp
// the pseudo attestation hash derives from.
func NewMockAdapter(opts ...Option) *MockAdapter {
	o := &options{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	return &MockAdapter{now: o.now}
}

func (m *MockAdapter) VerifyProperty(ctx context.Context, req VerificationRequest) (*VerificationResult, error) {
	req.SubjectKind = SubjectProperty
	return m.verify(ctx, req), nil
}

func (m *MockAdapter) VerifyUser(ctx context.Context, req VerificationRequest) (*VerificationResult, error) {
	req.SubjectKind = SubjectUser
	return m.verify(ctx, req), nil
}

func (m *MockAdapter) verify(_ context.Context, req VerificationRequest) *VerificationResult {
	now := m.now()
	attestation := fingerprint.HashBytes(fmt.Appendf(nil, "mock:%s:%d", req.SubjectID, now.Unix()))
	recordVerdict(req.SubjectKind, VerdictVerified)
	return &VerificationResult{
		Success:         true,
		Verdict:         VerdictVerified,
		VerificationID:  id.NewVerificationID(),
		AttestationHash: attestation,
		Checks: Checks{
			DocumentAuthenticity: true,
			RecordMatch:          true,
			// Non-production provenance marker: the mock never claims an
			// external registry corroborated the submission.
			CrossAttested: false,
		},
		VerifiedBy:  VerifiedByMockAttestor,
		CompletedAt: now,
	}
}
