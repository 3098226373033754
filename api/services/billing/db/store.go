package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/tbeaudouin05/sitterhub-billing/api/services/billing/features"
)

var (
	// ErrProfileNotFound is returned when the users row for an id does not exist.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrNotFound is returned for missing subscription rows.
	ErrNotFound = errors.New("not found")
)

// Store is the persistence contract of the billing domain.
// Implementations returned by Tx run every call inside the same transaction.
type Store interface {
	Tx(ctx context.Context, fn func(Store) error) error

	// LockUser takes a row lock on the user until the surrounding transaction ends.
	LockUser(ctx context.Context, userID string) error
	UserExists(ctx context.Context, userID string) (bool, error)
	ListUserIDs(ctx context.Context) ([]string, error)

	GetEntitlements(ctx context.Context, userID string) (UserPlan, error)
	// UpsertEntitlements returns the new plan_updated_at, which versions the snapshot.
	UpsertEntitlements(ctx context.Context, userID string, tier features.PlanTier) (time.Time, error)

	// GetActiveSubscription returns nil, nil when the user has no active subscription.
	GetActiveSubscription(ctx context.Context, userID string) (*Subscription, error)
	GetAllSubscriptions(ctx context.Context, userID string) ([]Subscription, error)
	GetSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (Subscription, error)
	GetSubscriptionBySessionRef(ctx context.Context, sessionRef string) (Subscription, error)
	TransitionSubscription(ctx context.Context, subscriptionID string, status Status) error
	CreateSubscriptionIfAbsent(ctx context.Context, sessionRef string, sub NewSubscription) (bool, Subscription, error)

	// RecordBillingEvent appends to the ledger; false means the event id was already recorded.
	RecordBillingEvent(ctx context.Context, evt BillingEvent) (bool, error)
}

// IsUniqueViolation reports whether err is a Postgres unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
