package app

import (
	"fmt"
	"strings"

	billingdb "github.com/tbeaudouin05/sitterhub-billing/api/services/billing/db"
	"github.com/tbeaudouin05/sitterhub-billing/api/services/billing/features"
)

// PlanPrice is one entry of the price table.
type PlanPrice struct {
	Tier     features.PlanTier
	UserType billingdb.UserType
	Interval billingdb.BillingInterval
}

type priceKey struct {
	amount   int64
	currency string
}

// Amounts are in minor units.
var priceTable = map[priceKey]PlanPrice{
	{490, "eur"}:   {features.TierPremium, billingdb.UserTypeOwner, billingdb.IntervalMonth},
	{1290, "eur"}:  {features.TierProfessional, billingdb.UserTypeCaretaker, billingdb.IntervalMonth},
	{4900, "eur"}:  {features.TierPremium, billingdb.UserTypeOwner, billingdb.IntervalYear},
	{12900, "eur"}: {features.TierProfessional, billingdb.UserTypeCaretaker, billingdb.IntervalYear},
}

// PlanForAmount maps a paid amount to a plan. Unmapped amounts are never guessed.
func PlanForAmount(amount int64, currency string) (PlanPrice, error) {
	p, ok := priceTable[priceKey{amount, strings.ToLower(strings.TrimSpace(currency))}]
	if !ok {
		return PlanPrice{}, fmt.Errorf("%w: %d %s", ErrUnknownPlanAmount, amount, currency)
	}
	return p, nil
}
