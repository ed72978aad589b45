// Package entitlement derives investment and listing rights from a KYC tier.
// Everything here is pure domain logic: no I/O, no side effects, total over
// every tier value including unrecognized ones.
package entitlement

import "math/big"

// Tier is a discrete KYC level gating investment and listing entitlements.
type Tier string

const (
	TierNone     Tier = "NONE"
	TierBasic    Tier = "BASIC"
	TierStandard Tier = "STANDARD"
	TierEnhanced Tier = "ENHANCED"
)

// ParseTier maps a wire value to a known tier. Unknown values map to NONE,
// never to an error: an unrecognized tier must always resolve to the most
// restrictive entitlements.
func ParseTier(s string) Tier {
	switch Tier(s) {
	case TierBasic, TierStandard, TierEnhanced:
		return Tier(s)
	default:
		return TierNone
	}
}

// Unlimited marks a cap without an upper bound.
const Unlimited = -1

// Entitlements are always a pure function of the tier. They are recomputed
// together with the tier on every verdict, never hand-edited, so tier and
// entitlements cannot drift apart.
type Entitlements struct {
	// MaxInvestment caps the total invested amount in base currency units.
	// nil means unlimited.
	MaxInvestment *big.Int `json:"max_investment"`
	// MaxPropertiesOwned caps distinct property holdings. Unlimited (-1)
	// removes the cap.
	MaxPropertiesOwned int  `json:"max_properties_owned"`
	CanList            bool `json:"can_list"`
	CanGovern          bool `json:"can_govern"`
}

// AllowsInvestment reports whether amount fits under the investment cap.
func (e Entitlements) AllowsInvestment(amount *big.Int) bool {
	if amount == nil || amount.Sign() <= 0 {
		return false
	}
	if e.MaxInvestment == nil {
		return true
	}
	return amount.Cmp(e.MaxInvestment) <= 0
}

// Compliance carries the screening flags attached to a verified user.
// Sanctions and AML screening are performed by an external collaborator (see
// Screener); these flags record its outcome.
type Compliance struct {
	IsAccreditedInvestor bool `json:"is_accredited_investor"`
	SanctionsPassed      bool `json:"sanctions_passed"`
	AMLPassed            bool `json:"aml_passed"`
}

// ForTier maps a tier to its entitlements. Total: any unrecognized tier gets
// the NONE row. CanList is granted only at ENHANCED, which also lifts both
// caps.
func ForTier(tier Tier) Entitlements {
	switch tier {
	case TierBasic:
		return Entitlements{
			MaxInvestment:      big.NewInt(10_000),
			MaxPropertiesOwned: 1,
		}
	case TierStandard:
		return Entitlements{
			MaxInvestment:      big.NewInt(100_000),
			MaxPropertiesOwned: 5,
			CanGovern:          true,
		}
	case TierEnhanced:
		return Entitlements{
			MaxInvestment:      nil, // unlimited
			MaxPropertiesOwned: Unlimited,
			CanList:            true,
			CanGovern:          true,
		}
	default:
		return Entitlements{
			MaxInvestment:      big.NewInt(0),
			MaxPropertiesOwned: 0,
		}
	}
}

// ComplianceForTier derives the compliance flags for a tier after a positive
// verification. The screening outcome itself comes from the Screener; this
// only derives tier-dependent flags.
func ComplianceForTier(tier Tier, screening ScreeningResult) Compliance {
	return Compliance{
		IsAccreditedInvestor: tier == TierEnhanced,
		SanctionsPassed:      screening.SanctionsPassed,
		AMLPassed:            screening.AMLPassed,
	}
}
