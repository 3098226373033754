package app

import (
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	billingdb "github.com/tbeaudouin05/sitterhub-billing/api/services/billing/db"
	"github.com/tbeaudouin05/sitterhub-billing/api/services/billing/features"
)

// Trigger names the entry point that asked for a sync. It never changes the computation.
type Trigger string

const (
	TriggerWebhook  Trigger = "webhook"
	TriggerManual   Trigger = "manual"
	TriggerAdmin    Trigger = "admin"
	TriggerCheckout Trigger = "checkout"
	TriggerBulk     Trigger = "bulk"
	TriggerCLI      Trigger = "cli"
)

// SyncResult is the outcome of one entitlement recomputation.
// Subscription is nil when the user has no active subscription.
type SyncResult struct {
	Success      bool
	Subscription *billingdb.Subscription
	Tier         features.PlanTier
	Err          error
}

type Outcome string

const (
	OutcomeNewlySynced   Outcome = "newly_synced"
	OutcomeAlreadySynced Outcome = "already_synced"
)

// SubscriptionResult reports whether a checkout session created a subscription or matched an existing one.
type SubscriptionResult struct {
	Outcome      Outcome                `json:"outcome"`
	Subscription billingdb.Subscription `json:"subscription"`
	Sync         *SyncResult            `json:"-"`
}

// BulkSyncReport aggregates a sync over every user.
type BulkSyncReport struct {
	Total     int               `json:"total"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Errors    map[string]string `json:"errors"`
}

// CheckoutSession is a minimal representation of a Stripe checkout session.
type CheckoutSession struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	PaymentStatus     string `json:"payment_status"`
	ClientReferenceID string `json:"client_reference_id"`
	Customer          string `json:"customer"`
	Subscription      string `json:"subscription"`
	AmountTotal       int64  `json:"amount_total"`
	Currency          string `json:"currency"`
	Created           int64  `json:"created"`
	CustomerEmail     string `json:"customer_email"`
	CustomerDetails   struct {
		Email string `json:"email"`
	} `json:"customer_details"`
	Metadata map[string]string `json:"metadata"`
}

// Email returns the customer email, preferring the one collected at checkout.
func (s CheckoutSession) Email() string {
	if s.CustomerDetails.Email != "" {
		return s.CustomerDetails.Email
	}
	return s.CustomerEmail
}

// IsPaid reports whether the session completed with a settled payment.
func (s CheckoutSession) IsPaid() bool {
	return s.Status == string(stripe.CheckoutSessionStatusComplete) &&
		s.PaymentStatus == string(stripe.CheckoutSessionPaymentStatusPaid)
}

// CreatedAt returns the Stripe creation time, zero when the payload did not carry one.
func (s CheckoutSession) CreatedAt() time.Time {
	if s.Created == 0 {
		return time.Time{}
	}
	return time.Unix(s.Created, 0).UTC()
}

// sessionFromStripe converts an SDK checkout session returned by the gateway.
func sessionFromStripe(in stripe.CheckoutSession) CheckoutSession {
	out := CheckoutSession{
		ID:                in.ID,
		Status:            string(in.Status),
		PaymentStatus:     string(in.PaymentStatus),
		ClientReferenceID: in.ClientReferenceID,
		AmountTotal:       in.AmountTotal,
		Currency:          string(in.Currency),
		Created:           in.Created,
		CustomerEmail:     in.CustomerEmail,
		Metadata:          in.Metadata,
	}
	if in.Customer != nil {
		out.Customer = in.Customer.ID
	}
	if in.Subscription != nil {
		out.Subscription = in.Subscription.ID
	}
	if in.CustomerDetails != nil {
		out.CustomerDetails.Email = in.CustomerDetails.Email
	}
	return out
}

// ProviderSubscription is a minimal representation of a Stripe subscription event object.
type ProviderSubscription struct {
	ID                string            `json:"id"`
	Customer          string            `json:"customer"`
	Status            string            `json:"status"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	Metadata          map[string]string `json:"metadata"`
}

// Invoice is a minimal representation of a Stripe invoice event object.
type Invoice struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	AmountDue    int64  `json:"amount_due"`
	Currency     string `json:"currency"`
	Status       string `json:"status"`
	Parent       struct {
		SubscriptionDetails struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

// SubscriptionID returns the subscription the invoice belongs to across API versions.
func (i Invoice) SubscriptionID() string {
	if i.Subscription != "" {
		return i.Subscription
	}
	return i.Parent.SubscriptionDetails.Subscription
}
