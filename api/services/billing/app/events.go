package app

import (
	"encoding/json"
	"fmt"

	stripe "github.com/stripe/stripe-go/v82"
)

// Event is the closed set of provider notifications the billing domain understands.
type Event interface {
	EventID() string
	EventType() string
	isEvent()
}

type eventMeta struct {
	ID   string
	Type string
	Raw  []byte
}

func (m eventMeta) EventID() string   { return m.ID }
func (m eventMeta) EventType() string { return m.Type }
func (eventMeta) isEvent()            {}

// CheckoutCompleted is checkout.session.completed or checkout.session.async_payment_succeeded.
type CheckoutCompleted struct {
	eventMeta
	Session CheckoutSession
}

// SubscriptionChanged is customer.subscription.created or customer.subscription.updated.
type SubscriptionChanged struct {
	eventMeta
	Subscription ProviderSubscription
}

// SubscriptionDeleted is customer.subscription.deleted.
type SubscriptionDeleted struct {
	eventMeta
	Subscription ProviderSubscription
}

// PaymentFailed is invoice.payment_failed.
type PaymentFailed struct {
	eventMeta
	Invoice Invoice
}

// UnhandledEvent is any kind not listed above. It is acknowledged and ignored.
type UnhandledEvent struct {
	eventMeta
}

// ParseEvent decodes a verified Stripe event into its variant and validates required fields.
func ParseEvent(event stripe.Event) (Event, error) {
	if event.ID == "" {
		return nil, fmt.Errorf("%w: missing event id", ErrBadEvent)
	}
	if event.Data == nil {
		return nil, fmt.Errorf("%w: missing event data", ErrBadEvent)
	}
	meta := eventMeta{ID: event.ID, Type: string(event.Type), Raw: event.Data.Raw}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		var session CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("%w: error unmarshaling into CheckoutSession: %v", ErrBadEvent, err)
		}
		if session.ID == "" {
			return nil, fmt.Errorf("%w: checkout session id missing", ErrBadEvent)
		}
		if session.ClientReferenceID == "" {
			return nil, fmt.Errorf("%w: client reference ID not found in CheckoutSession", ErrBadEvent)
		}
		return CheckoutCompleted{eventMeta: meta, Session: session}, nil

	case stripe.EventTypeCustomerSubscriptionCreated, stripe.EventTypeCustomerSubscriptionUpdated,
		stripe.EventTypeCustomerSubscriptionDeleted:
		var sub ProviderSubscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("%w: error unmarshaling into Subscription: %v", ErrBadEvent, err)
		}
		if sub.ID == "" {
			return nil, fmt.Errorf("%w: subscription id missing", ErrBadEvent)
		}
		if event.Type == stripe.EventTypeCustomerSubscriptionDeleted {
			return SubscriptionDeleted{eventMeta: meta, Subscription: sub}, nil
		}
		if sub.Status == "" {
			return nil, fmt.Errorf("%w: subscription status missing", ErrBadEvent)
		}
		return SubscriptionChanged{eventMeta: meta, Subscription: sub}, nil

	case stripe.EventTypeInvoicePaymentFailed:
		var inv Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("%w: error unmarshaling into Invoice: %v", ErrBadEvent, err)
		}
		if inv.ID == "" {
			return nil, fmt.Errorf("%w: invoice id missing", ErrBadEvent)
		}
		return PaymentFailed{eventMeta: meta, Invoice: inv}, nil

	default:
		return UnhandledEvent{eventMeta: meta}, nil
	}
}
