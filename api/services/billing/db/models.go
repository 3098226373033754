package db

import (
	"time"

	"github.com/tbeaudouin05/sitterhub-billing/api/services/billing/features"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusPastDue   Status = "past_due"
	StatusUnpaid    Status = "unpaid"
)

type UserType string

const (
	UserTypeOwner     UserType = "owner"
	UserTypeCaretaker UserType = "caretaker"
)

type BillingInterval string

const (
	IntervalMonth BillingInterval = "month"
	IntervalYear  BillingInterval = "year"
)

// Subscription is one row of the subscriptions table. Rows are never deleted.
type Subscription struct {
	ID                   string            `json:"id"`
	UserID               string            `json:"user_id"`
	UserType             UserType          `json:"user_type"`
	PlanType             features.PlanTier `json:"plan_type"`
	Status               Status            `json:"status"`
	StripeCustomerID     string            `json:"stripe_customer_id"`
	StripeSubscriptionID string            `json:"stripe_subscription_id"`
	StripeSessionID      string            `json:"stripe_session_id"`
	AmountPaid           int64             `json:"amount_paid"`
	Currency             string            `json:"currency"`
	BillingInterval      BillingInterval   `json:"billing_interval"`
	StartedAt            time.Time         `json:"started_at"`
	EndsAt               *time.Time        `json:"ends_at,omitempty"`
	Metadata             map[string]string `json:"metadata,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// NewSubscription carries the fields needed to insert an active subscription.
type NewSubscription struct {
	UserID               string
	UserType             UserType
	PlanType             features.PlanTier
	StripeCustomerID     string
	StripeSubscriptionID string
	AmountPaid           int64
	Currency             string
	BillingInterval      BillingInterval
	// StartedAt is when the checkout session was created at Stripe. Zero means now.
	StartedAt            time.Time
	EndsAt               *time.Time
	Metadata             map[string]string
}

// UserPlan is the entitlement snapshot denormalized on the users row.
type UserPlan struct {
	UserID        string                `json:"user_id"`
	Tier          features.PlanTier     `json:"plan_type"`
	Entitlements  features.Entitlements `json:"entitlements"`
	PlanUpdatedAt *time.Time            `json:"plan_updated_at,omitempty"`
}

// BillingEvent is one provider notification recorded in the billing ledger.
type BillingEvent struct {
	EventID              string
	EventType            string
	UserID               string
	StripeCustomerID     string
	StripeSubscriptionID string
	ProviderStatus       string
	Amount               int64
	Currency             string
	Payload              []byte
}
