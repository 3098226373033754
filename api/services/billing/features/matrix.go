// Package features holds the plan tier feature matrix and the read-side
// access evaluator built on top of it.
package features

import "strings"

type PlanTier string

const (
	TierBasic        PlanTier = "basic"
	TierPremium      PlanTier = "premium"
	TierProfessional PlanTier = "professional"
)

// Unlimited is the limit sentinel for "no cap".
const Unlimited = -1

// Entitlements is the denormalized set of limits and flags stored on the user row.
type Entitlements struct {
	MaxContactRequests   int  `json:"max_contact_requests"`
	MaxBookings          int  `json:"max_bookings"`
	MaxEnvironmentImages int  `json:"max_environment_images"`
	AdvancedFilters      bool `json:"advanced_filters"`
	PriorityRanking      bool `json:"priority_ranking"`
	PremiumBadge         bool `json:"premium_badge"`
	ShowAds              bool `json:"show_ads"`
	SearchPriority       int  `json:"search_priority"`
}

var matrix = map[PlanTier]Entitlements{
	TierBasic: {
		MaxContactRequests:   3,
		MaxBookings:          3,
		MaxEnvironmentImages: 0,
		ShowAds:              true,
	},
	TierPremium: {
		MaxContactRequests:   Unlimited,
		MaxBookings:          3,
		MaxEnvironmentImages: 0,
		AdvancedFilters:      true,
		PriorityRanking:      true,
		PremiumBadge:         true,
		SearchPriority:       5,
	},
	TierProfessional: {
		MaxContactRequests:   Unlimited,
		MaxBookings:          Unlimited,
		MaxEnvironmentImages: 6,
		AdvancedFilters:      true,
		PriorityRanking:      true,
		PremiumBadge:         true,
		SearchPriority:       10,
	},
}

// FeaturesFor returns the entitlements granted by tier. Unknown tiers get basic.
func FeaturesFor(tier PlanTier) Entitlements {
	if e, ok := matrix[tier]; ok {
		return e
	}
	return matrix[TierBasic]
}

// ParseTier normalizes a stored or provider-supplied tier string.
func ParseTier(s string) PlanTier {
	switch t := PlanTier(strings.ToLower(strings.TrimSpace(s))); t {
	case TierPremium, TierProfessional:
		return t
	default:
		return TierBasic
	}
}

func (t PlanTier) String() string { return string(t) }
