package app

import (
	"errors"
	"fmt"

	billingdb "github.com/tbeaudouin05/sitterhub-billing/api/services/billing/db"
	"github.com/tbeaudouin05/sitterhub-billing/api/services/profiles"
)

// Typed errors for the billing app layer. These enable HTTP mapping without
// relying on SDK-specific error types at the transport layer.
var (
	// ErrBadEvent indicates the incoming event payload is invalid or missing required fields.
	ErrBadEvent = errors.New("bad event")
	// ErrDatabase indicates a database-related failure. Safe to retry.
	ErrDatabase = errors.New("database error")
	// ErrGateway indicates a failure from the Stripe gateway / API calls.
	ErrGateway = errors.New("gateway error")
	// ErrAuthentication indicates a missing or invalid provider signature.
	ErrAuthentication = errors.New("authentication failure")
	// ErrPaymentNotCompleted indicates the checkout session is not paid yet.
	ErrPaymentNotCompleted = errors.New("payment not completed")
	// ErrUnknownPlanAmount indicates a paid amount that maps to no plan.
	ErrUnknownPlanAmount = errors.New("unknown plan amount")
	// ErrProfileNotFound indicates the target user row does not exist.
	ErrProfileNotFound = billingdb.ErrProfileNotFound
	// ErrProfileUnavailable indicates the user row never appeared within the retry budget.
	ErrProfileUnavailable = profiles.ErrProfileUnavailable
	// ErrForbidden indicates the caller may not act on the requested resource.
	ErrForbidden = errors.New("forbidden")
	// ErrSubscriptionNotFound indicates a provider subscription with no local row.
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

// storeErr wraps a store failure as ErrDatabase, keeping ErrProfileNotFound distinguishable.
func storeErr(op string, err error) error {
	if errors.Is(err, billingdb.ErrProfileNotFound) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrDatabase, op, err)
}
