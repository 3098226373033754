package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tbeaudouin05/sitterhub-billing/api/metrics"
	billingdb "github.com/tbeaudouin05/sitterhub-billing/api/services/billing/db"
)

// CreateOrRecognizeSubscription turns a paid checkout session into an active subscription.
// Repeated calls for the same sessionRef return the existing row with OutcomeAlreadySynced.
func (s *serviceImpl) CreateOrRecognizeSubscription(ctx context.Context, sessionRef string, session CheckoutSession) (SubscriptionResult, error) {
	if strings.TrimSpace(sessionRef) == "" {
		return SubscriptionResult{}, fmt.Errorf("%w: checkout session reference missing", ErrBadEvent)
	}
	if !session.IsPaid() {
		return SubscriptionResult{}, fmt.Errorf("%w: session %s status=%s payment_status=%s",
			ErrPaymentNotCompleted, sessionRef, session.Status, session.PaymentStatus)
	}
	price, err := PlanForAmount(session.AmountTotal, session.Currency)
	if err != nil {
		return SubscriptionResult{}, err
	}
	userID := session.ClientReferenceID
	if userID == "" {
		return SubscriptionResult{}, fmt.Errorf("%w: client reference ID not found in CheckoutSession", ErrBadEvent)
	}

	meta := map[string]string{}
	for k, v := range session.Metadata {
		meta[k] = v
	}
	if email := session.Email(); email != "" {
		meta["customer_email"] = email
	}

	created, sub, err := s.store.CreateSubscriptionIfAbsent(ctx, sessionRef, billingdb.NewSubscription{
		UserID:               userID,
		UserType:             price.UserType,
		PlanType:             price.Tier,
		StripeCustomerID:     session.Customer,
		StripeSubscriptionID: session.Subscription,
		AmountPaid:           session.AmountTotal,
		Currency:             strings.ToLower(session.Currency),
		BillingInterval:      price.Interval,
		StartedAt:            session.CreatedAt(),
		Metadata:             meta,
	})
	if err != nil {
		return SubscriptionResult{}, storeErr("create subscription", err)
	}

	if !created {
		metrics.SubscriptionsCreatedTotal.WithLabelValues(string(sub.PlanType), string(OutcomeAlreadySynced)).Inc()
		s.log.Info("checkout session already recorded", "session_id", sessionRef, "user_id", userID, "subscription_id", sub.ID)
		return SubscriptionResult{Outcome: OutcomeAlreadySynced, Subscription: sub}, nil
	}

	metrics.SubscriptionsCreatedTotal.WithLabelValues(string(sub.PlanType), string(OutcomeNewlySynced)).Inc()
	s.log.Info("subscription created from checkout", "session_id", sessionRef, "user_id", userID,
		"subscription_id", sub.ID, "plan", sub.PlanType, "user_type", sub.UserType, "status", sub.Status)

	// On sync failure the row stays committed; the next sync from any trigger converges.
	res := s.SyncUser(ctx, userID, TriggerCheckout)
	return SubscriptionResult{Outcome: OutcomeNewlySynced, Subscription: sub, Sync: &res}, res.Err
}

// ConfirmCheckoutSession is the polling path: it fetches the session from Stripe and records it
// on behalf of the caller, who must be the user the session was opened for.
func (s *serviceImpl) ConfirmCheckoutSession(ctx context.Context, sessionID, callerUserID string) (SubscriptionResult, error) {
	if s.gw == nil {
		return SubscriptionResult{}, fmt.Errorf("%w: stripe gateway not configured", ErrGateway)
	}
	raw, err := s.gw.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return SubscriptionResult{}, fmt.Errorf("%w: error fetching checkout session: %v", ErrGateway, err)
	}
	session := sessionFromStripe(raw)
	if session.ID == "" {
		session.ID = sessionID
	}
	if session.ClientReferenceID != callerUserID {
		s.log.Warn("checkout session belongs to another user", "session_id", sessionID, "caller", callerUserID)
		return SubscriptionResult{}, fmt.Errorf("%w: checkout session does not belong to caller", ErrForbidden)
	}
	res, err := s.CreateOrRecognizeSubscription(ctx, session.ID, session)
	if err != nil && !errors.Is(err, ErrPaymentNotCompleted) {
		s.log.Error("checkout confirmation failed", "session_id", sessionID, "user_id", callerUserID, "err", err)
	}
	return res, err
}
