package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v82"

	billingdb "github.com/tbeaudouin05/sitterhub-billing/api/services/billing/db"
	"github.com/tbeaudouin05/sitterhub-billing/api/services/billing/features"
)

func mustParse(t *testing.T, evt stripe.Event) Event {
	t.Helper()
	parsed, err := ParseEvent(evt)
	require.NoError(t, err)
	return parsed
}

func subscriptionEvent(t *testing.T, id string, typ stripe.EventType, stripeSubID, status string) Event {
	return mustParse(t, stripeEvent(t, id, typ, ProviderSubscription{ID: stripeSubID, Customer: "cus_1", Status: status}))
}

// seedProfessional creates an active professional subscription with stripe id sub_cs_pro.
func seedProfessional(t *testing.T, svc *serviceImpl) billingdb.Subscription {
	res, err := svc.CreateOrRecognizeSubscription(context.Background(), "cs_pro", paidSession("cs_pro", testUser, 1290))
	require.NoError(t, err)
	require.Equal(t, "sub_cs_pro", res.Subscription.StripeSubscriptionID)
	return res.Subscription
}

func Test_HandleEvent_CheckoutCompleted(t *testing.T) {
	svc, store := newTestService(t, nil, nil)
	ctx := context.Background()
	evt := mustParse(t, stripeEvent(t, "evt_cs", stripe.EventTypeCheckoutSessionCompleted, paidSession("cs_hook", testUser, 490)))

	require.NoError(t, svc.HandleEvent(ctx, evt))
	require.NoError(t, svc.HandleEvent(ctx, evt))

	assert.Len(t, store.Subscriptions(), 1)
	plan, err := store.GetEntitlements(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, features.TierPremium, plan.Tier)
}

func Test_HandleEvent_CheckoutUnpaidAcknowledged(t *testing.T) {
	svc, store := newTestService(t, nil, nil)
	session := paidSession("cs_sepa", testUser, 490)
	session.PaymentStatus = "unpaid"
	evt := mustParse(t, stripeEvent(t, "evt_sepa", stripe.EventTypeCheckoutSessionCompleted, session))

	assert.NoError(t, svc.HandleEvent(context.Background(), evt))
	assert.Empty(t, store.Subscriptions())
}

func Test_HandleEvent_CheckoutUnknownAmountFails(t *testing.T) {
	svc, store := newTestService(t, nil, nil)
	evt := mustParse(t, stripeEvent(t, "evt_odd", stripe.EventTypeCheckoutSessionCompleted, paidSession("cs_odd", testUser, 12345)))

	err := svc.HandleEvent(context.Background(), evt)
	assert.ErrorIs(t, err, ErrUnknownPlanAmount)
	assert.Empty(t, store.Subscriptions())
}

func Test_HandleEvent_DeletedDowngradesToBasic(t *testing.T) {
	svc, store := newTestService(t, nil, nil)
	ctx := context.Background()
	sub := seedProfessional(t, svc)

	evt := subscriptionEvent(t, "evt_del", stripe.EventTypeCustomerSubscriptionDeleted, sub.StripeSubscriptionID, "canceled")
	require.NoError(t, svc.HandleEvent(ctx, evt))

	plan, err := store.GetEntitlements(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, features.FeaturesFor(features.TierBasic), plan.Entitlements)
	assert.Equal(t, features.TierBasic, plan.Tier)

	all := store.Subscriptions()
	require.Len(t, all, 1)
	assert.Equal(t, billingdb.StatusCancelled, all[0].Status)

	// Redelivery converges to the same state.
	require.NoError(t, svc.HandleEvent(ctx, evt))
	assert.Len(t, store.Events(), 1)
}

func Test_HandleEvent_DeletedUnknownSubscription(t *testing.T) {
	svc, _ := newTestService(t, nil, nil)
	evt := subscriptionEvent(t, "evt_del_unknown", stripe.EventTypeCustomerSubscriptionDeleted, "sub_missing", "canceled")
	err := svc.HandleEvent(context.Background(), evt)
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
}

func Test_HandleEvent_SubscriptionUpdatedStatuses(t *testing.T) {
	cases := []struct {
		provider string
		status   billingdb.Status
		tier     features.PlanTier
	}{
		{"active", billingdb.StatusActive, features.TierProfessional},
		{"trialing", billingdb.StatusActive, features.TierProfessional},
		{"past_due", billingdb.StatusActive, features.TierProfessional},
		{"unpaid", billingdb.StatusUnpaid, features.TierBasic},
		{"canceled", billingdb.StatusCancelled, features.TierBasic},
		{"incomplete_expired", billingdb.StatusCancelled, features.TierBasic},
	}
	for _, c := range cases {
		t.Run(c.provider, func(t *testing.T) {
			svc, store := newTestService(t, nil, nil)
			ctx := context.Background()
			sub := seedProfessional(t, svc)

			evt := subscriptionEvent(t, "evt_"+c.provider, stripe.EventTypeCustomerSubscriptionUpdated, sub.StripeSubscriptionID, c.provider)
			require.NoError(t, svc.HandleEvent(ctx, evt))

			all := store.Subscriptions()
			require.Len(t, all, 1)
			assert.Equal(t, c.status, all[0].Status)
			plan, err := store.GetEntitlements(ctx, testUser)
			require.NoError(t, err)
			assert.Equal(t, c.tier, plan.Tier)
			assert.Equal(t, c.provider, store.Events()["evt_"+c.provider].ProviderStatus)
		})
	}
}

func Test_HandleEvent_ActiveRevivesUnpaid(t *testing.T) {
	svc, store := newTestService(t, nil, nil)
	ctx := context.Background()
	sub := seedProfessional(t, svc)

	require.NoError(t, svc.HandleEvent(ctx, subscriptionEvent(t, "evt_1", stripe.EventTypeCustomerSubscriptionUpdated, sub.StripeSubscriptionID, "unpaid")))
	require.NoError(t, svc.HandleEvent(ctx, subscriptionEvent(t, "evt_2", stripe.EventTypeCustomerSubscriptionUpdated, sub.StripeSubscriptionID, "active")))

	plan, err := store.GetEntitlements(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, features.TierProfessional, plan.Tier)
}

func Test_HandleEvent_CancelledNeverRevived(t *testing.T) {
	svc, store := newTestService(t, nil, nil)
	ctx := context.Background()
	sub := seedProfessional(t, svc)

	// Deletion delivered before a stale "active" update.
	require.NoError(t, svc.HandleEvent(ctx, subscriptionEvent(t, "evt_del", stripe.EventTypeCustomerSubscriptionDeleted, sub.StripeSubscriptionID, "canceled")))
	require.NoError(t, svc.HandleEvent(ctx, subscriptionEvent(t, "evt_upd", stripe.EventTypeCustomerSubscriptionUpdated, sub.StripeSubscriptionID, "active")))

	assert.Equal(t, billingdb.StatusCancelled, store.Subscriptions()[0].Status)
	plan, err := store.GetEntitlements(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, features.TierBasic, plan.Tier)
}

func Test_HandleEvent_UpdatedUnknownSubscriptionRecorded(t *testing.T) {
	svc, store := newTestService(t, nil, nil)
	evt := subscriptionEvent(t, "evt_early", stripe.EventTypeCustomerSubscriptionCreated, "sub_not_yet", "active")
	require.NoError(t, svc.HandleEvent(context.Background(), evt))
	assert.Contains(t, store.Events(), "evt_early")
	assert.Empty(t, store.Subscriptions())
}

func Test_HandleEvent_PaymentFailedDoesNotDowngrade(t *testing.T) {
	svc, store := newTestService(t, nil, nil)
	ctx := context.Background()
	sub := seedProfessional(t, svc)

	evt := mustParse(t, stripeEvent(t, "evt_fail", stripe.EventTypeInvoicePaymentFailed, map[string]any{
		"id": "in_1", "customer": "cus_1", "subscription": sub.StripeSubscriptionID, "amount_due": 1290, "currency": "eur",
	}))
	require.NoError(t, svc.HandleEvent(ctx, evt))

	recorded := store.Events()["evt_fail"]
	assert.Equal(t, testUser, recorded.UserID)
	assert.Equal(t, int64(1290), recorded.Amount)

	plan, err := store.GetEntitlements(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, features.TierProfessional, plan.Tier)
	assert.Equal(t, billingdb.StatusActive, store.Subscriptions()[0].Status)
}

func Test_HandleEvent_Unhandled(t *testing.T) {
	svc, store := newTestService(t, nil, nil)
	evt := mustParse(t, stripeEvent(t, "evt_other", "customer.created", map[string]any{"id": "cus_1"}))
	assert.NoError(t, svc.HandleEvent(context.Background(), evt))
	assert.Empty(t, store.Events())
}

func Test_HandleEvent_StoreErrorSurfaces(t *testing.T) {
	svc, store := newTestService(t, nil, nil)
	sub := seedProfessional(t, svc)
	store.FailOn("RecordBillingEvent", errors.New("connection refused"))

	evt := subscriptionEvent(t, "evt_err", stripe.EventTypeCustomerSubscriptionDeleted, sub.StripeSubscriptionID, "canceled")
	err := svc.HandleEvent(context.Background(), evt)
	assert.ErrorIs(t, err, ErrDatabase)
	assert.Equal(t, billingdb.StatusActive, store.Subscriptions()[0].Status)
}
