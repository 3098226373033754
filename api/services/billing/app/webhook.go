package app

import (
	"context"
	"errors"
	"fmt"

	billingdb "github.com/tbeaudouin05/sitterhub-billing/api/services/billing/db"
)

// HandleEvent applies a verified provider event. Every branch converges to state derived
// from the subscription table, so redelivery and reordering are harmless.
func (s *serviceImpl) HandleEvent(ctx context.Context, event Event) error {
	switch e := event.(type) {
	case CheckoutCompleted:
		return s.handleCheckoutCompleted(ctx, e)
	case SubscriptionChanged:
		return s.handleSubscriptionChanged(ctx, e)
	case SubscriptionDeleted:
		return s.handleSubscriptionDeleted(ctx, e)
	case PaymentFailed:
		return s.handlePaymentFailed(ctx, e)
	case UnhandledEvent:
		s.log.Info("Stripe webhook ignored (unhandled type)", "event_id", e.ID, "type", e.Type)
		return nil
	default:
		return fmt.Errorf("%w: unsupported event %T", ErrBadEvent, event)
	}
}

func (s *serviceImpl) handleCheckoutCompleted(ctx context.Context, e CheckoutCompleted) error {
	res, err := s.CreateOrRecognizeSubscription(ctx, e.Session.ID, e.Session)
	if errors.Is(err, ErrPaymentNotCompleted) {
		// Async payment methods settle later and arrive as async_payment_succeeded.
		s.log.Info("checkout completed without settled payment", "event_id", e.ID, "session_id", e.Session.ID,
			"payment_status", e.Session.PaymentStatus)
		return nil
	}
	if err != nil {
		return err
	}
	s.log.Info("checkout processed", "event_id", e.ID, "session_id", e.Session.ID, "outcome", res.Outcome)
	return nil
}

func (s *serviceImpl) record(ctx context.Context, meta eventMeta, evt billingdb.BillingEvent) error {
	evt.EventID = meta.ID
	evt.EventType = meta.Type
	evt.Payload = meta.Raw
	recorded, err := s.store.RecordBillingEvent(ctx, evt)
	if err != nil {
		return storeErr("record billing event", err)
	}
	if !recorded {
		s.log.Debug("billing event already recorded", "event_id", meta.ID, "type", meta.Type)
	}
	return nil
}

// convergeStatus maps a provider subscription status onto the local row.
// Cancelled rows are final. past_due is the grace period and leaves the row untouched.
func convergeStatus(local billingdb.Status, provider string) (billingdb.Status, bool) {
	if local == billingdb.StatusCancelled {
		return local, false
	}
	var next billingdb.Status
	switch provider {
	case "canceled", "incomplete_expired":
		next = billingdb.StatusCancelled
	case "unpaid":
		next = billingdb.StatusUnpaid
	case "active", "trialing":
		next = billingdb.StatusActive
	default:
		return local, false
	}
	return next, next != local
}

func (s *serviceImpl) handleSubscriptionChanged(ctx context.Context, e SubscriptionChanged) error {
	local, err := s.store.GetSubscriptionByStripeID(ctx, e.Subscription.ID)
	if errors.Is(err, billingdb.ErrNotFound) {
		// customer.subscription.created usually precedes checkout.session.completed.
		// The checkout event creates the row and syncs.
		if err := s.record(ctx, e.eventMeta, billingdb.BillingEvent{
			StripeCustomerID:     e.Subscription.Customer,
			StripeSubscriptionID: e.Subscription.ID,
			ProviderStatus:       e.Subscription.Status,
		}); err != nil {
			return err
		}
		s.log.Info("subscription event for unknown subscription", "event_id", e.ID, "stripe_subscription_id", e.Subscription.ID)
		return nil
	}
	if err != nil {
		return storeErr("get subscription", err)
	}

	if err := s.record(ctx, e.eventMeta, billingdb.BillingEvent{
		UserID:               local.UserID,
		StripeCustomerID:     e.Subscription.Customer,
		StripeSubscriptionID: e.Subscription.ID,
		ProviderStatus:       e.Subscription.Status,
		Amount:               local.AmountPaid,
		Currency:             local.Currency,
	}); err != nil {
		return err
	}

	if next, changed := convergeStatus(local.Status, e.Subscription.Status); changed {
		err := s.store.TransitionSubscription(ctx, local.ID, next)
		switch {
		case billingdb.IsUniqueViolation(err):
			// Another subscription already holds the active slot for this user.
			s.log.Warn("subscription not revived, user has another active subscription",
				"subscription_id", local.ID, "user_id", local.UserID)
		case err != nil:
			return storeErr("transition subscription", err)
		default:
			s.log.Info("subscription status converged", "subscription_id", local.ID, "from", local.Status, "to", next)
		}
	}

	res := s.SyncUser(ctx, local.UserID, TriggerWebhook)
	return res.Err
}

func (s *serviceImpl) handleSubscriptionDeleted(ctx context.Context, e SubscriptionDeleted) error {
	local, err := s.store.GetSubscriptionByStripeID(ctx, e.Subscription.ID)
	if errors.Is(err, billingdb.ErrNotFound) {
		// Retried by Stripe until the checkout event has created the row.
		return fmt.Errorf("%w: stripe subscription %s", ErrSubscriptionNotFound, e.Subscription.ID)
	}
	if err != nil {
		return storeErr("get subscription", err)
	}

	if err := s.record(ctx, e.eventMeta, billingdb.BillingEvent{
		UserID:               local.UserID,
		StripeCustomerID:     e.Subscription.Customer,
		StripeSubscriptionID: e.Subscription.ID,
		ProviderStatus:       e.Subscription.Status,
	}); err != nil {
		return err
	}

	if local.Status != billingdb.StatusCancelled {
		if err := s.store.TransitionSubscription(ctx, local.ID, billingdb.StatusCancelled); err != nil {
			return storeErr("transition subscription", err)
		}
		s.log.Info("subscription cancelled", "subscription_id", local.ID, "user_id", local.UserID)
	}

	res := s.SyncUser(ctx, local.UserID, TriggerWebhook)
	return res.Err
}

// handlePaymentFailed only records the failure; downgrades come from cancellation events.
func (s *serviceImpl) handlePaymentFailed(ctx context.Context, e PaymentFailed) error {
	evt := billingdb.BillingEvent{
		StripeCustomerID:     e.Invoice.Customer,
		StripeSubscriptionID: e.Invoice.SubscriptionID(),
		ProviderStatus:       e.Invoice.Status,
		Amount:               e.Invoice.AmountDue,
		Currency:             e.Invoice.Currency,
	}
	if local, err := s.store.GetSubscriptionByStripeID(ctx, evt.StripeSubscriptionID); err == nil {
		evt.UserID = local.UserID
	} else if !errors.Is(err, billingdb.ErrNotFound) {
		return storeErr("get subscription", err)
	}
	if err := s.record(ctx, e.eventMeta, evt); err != nil {
		return err
	}
	s.log.Warn("invoice payment failed", "event_id", e.ID, "invoice_id", e.Invoice.ID,
		"stripe_subscription_id", evt.StripeSubscriptionID, "user_id", evt.UserID)
	return nil
}
