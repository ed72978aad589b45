package entitlement

import (
	"context"

	id "deedgate/pkg/domain"
)

// ScreeningResult is the outcome of AML and sanctions screening.
type ScreeningResult struct {
	SanctionsPassed bool
	AMLPassed       bool
}

// Screener performs AML and sanctions screening for a principal. The real
// screening provider is an external collaborator; the engine only consumes its
// verdict, so implementations can be swapped without touching workflow code.
type Screener interface {
	Screen(ctx context.Context, principal id.Principal) (ScreeningResult, error)
}

// PassthroughScreener approves every principal. It stands in until a real
// screening provider is wired and keeps the screening gate overridable in
// tests.
type PassthroughScreener struct{}

func (PassthroughScreener) Screen(_ context.Context, _ id.Principal) (ScreeningResult, error) {
	return ScreeningResult{SanctionsPassed: true, AMLPassed: true}, nil
}
