package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v82"
)

func Test_ParseEvent_CheckoutCompleted(t *testing.T) {
	evt := stripeEvent(t, "evt_1", stripe.EventTypeCheckoutSessionCompleted, map[string]any{
		"id":                  "cs_1",
		"status":              "complete",
		"payment_status":      "paid",
		"client_reference_id": "user_1",
		"customer":            "cus_1",
		"subscription":        "sub_1",
		"amount_total":        490,
		"currency":            "eur",
		"created":             1735689600,
	})
	parsed, err := ParseEvent(evt)
	require.NoError(t, err)
	cc, ok := parsed.(CheckoutCompleted)
	require.True(t, ok)
	assert.Equal(t, "evt_1", cc.EventID())
	assert.Equal(t, "checkout.session.completed", cc.EventType())
	assert.Equal(t, int64(490), cc.Session.AmountTotal)
	assert.True(t, cc.Session.IsPaid())
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), cc.Session.CreatedAt())
}

func Test_ParseEvent_AsyncPaymentSucceeded(t *testing.T) {
	evt := stripeEvent(t, "evt_2", stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded, map[string]any{
		"id": "cs_2", "client_reference_id": "user_1",
	})
	parsed, err := ParseEvent(evt)
	require.NoError(t, err)
	assert.IsType(t, CheckoutCompleted{}, parsed)
}

func Test_ParseEvent_CheckoutMissingReference(t *testing.T) {
	evt := stripeEvent(t, "evt_3", stripe.EventTypeCheckoutSessionCompleted, map[string]any{"id": "cs_3"})
	_, err := ParseEvent(evt)
	assert.ErrorIs(t, err, ErrBadEvent)
}

func Test_ParseEvent_SubscriptionVariants(t *testing.T) {
	sub := map[string]any{"id": "sub_1", "customer": "cus_1", "status": "active"}

	parsed, err := ParseEvent(stripeEvent(t, "evt_c", stripe.EventTypeCustomerSubscriptionCreated, sub))
	require.NoError(t, err)
	assert.IsType(t, SubscriptionChanged{}, parsed)

	parsed, err = ParseEvent(stripeEvent(t, "evt_u", stripe.EventTypeCustomerSubscriptionUpdated, sub))
	require.NoError(t, err)
	assert.IsType(t, SubscriptionChanged{}, parsed)

	parsed, err = ParseEvent(stripeEvent(t, "evt_d", stripe.EventTypeCustomerSubscriptionDeleted, sub))
	require.NoError(t, err)
	assert.IsType(t, SubscriptionDeleted{}, parsed)

	_, err = ParseEvent(stripeEvent(t, "evt_x", stripe.EventTypeCustomerSubscriptionUpdated, map[string]any{"status": "active"}))
	assert.ErrorIs(t, err, ErrBadEvent)
	_, err = ParseEvent(stripeEvent(t, "evt_y", stripe.EventTypeCustomerSubscriptionUpdated, map[string]any{"id": "sub_1"}))
	assert.ErrorIs(t, err, ErrBadEvent)
}

func Test_ParseEvent_PaymentFailed(t *testing.T) {
	parsed, err := ParseEvent(stripeEvent(t, "evt_i", stripe.EventTypeInvoicePaymentFailed, map[string]any{
		"id":         "in_1",
		"amount_due": 490,
		"parent": map[string]any{
			"subscription_details": map[string]any{"subscription": "sub_9"},
		},
	}))
	require.NoError(t, err)
	pf, ok := parsed.(PaymentFailed)
	require.True(t, ok)
	assert.Equal(t, "sub_9", pf.Invoice.SubscriptionID())
}

func Test_ParseEvent_Unhandled(t *testing.T) {
	parsed, err := ParseEvent(stripeEvent(t, "evt_u", "customer.created", map[string]any{"id": "cus_1"}))
	require.NoError(t, err)
	assert.IsType(t, UnhandledEvent{}, parsed)
}

func Test_ParseEvent_Malformed(t *testing.T) {
	_, err := ParseEvent(stripe.Event{ID: "evt_m", Type: stripe.EventTypeCheckoutSessionCompleted,
		Data: &stripe.EventData{Raw: []byte(`{"id": 12}`)}})
	assert.ErrorIs(t, err, ErrBadEvent)

	_, err = ParseEvent(stripe.Event{Type: stripe.EventTypeCheckoutSessionCompleted, Data: &stripe.EventData{Raw: []byte(`{}`)}})
	assert.ErrorIs(t, err, ErrBadEvent)

	_, err = ParseEvent(stripe.Event{ID: "evt_nodata", Type: stripe.EventTypeCheckoutSessionCompleted})
	assert.ErrorIs(t, err, ErrBadEvent)
}
