package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/tbeaudouin05/sitterhub-billing/api/auth"
	"github.com/tbeaudouin05/sitterhub-billing/api/services/billing/app"
	"github.com/tbeaudouin05/sitterhub-billing/api/services/billing/billingtest"
	gw "github.com/tbeaudouin05/sitterhub-billing/api/services/billing/gateway"
)

const (
	testWebhookSecret = "whsec_test_secret"
	testJWTSecret     = "jwt-test-secret"
	testUser          = "user_1"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type waiterFunc func(ctx context.Context, userID string) error

func (f waiterFunc) Wait(ctx context.Context, userID string) error { return f(ctx, userID) }

func newService(t *testing.T, g gw.StripeGateway) (app.Service, *billingtest.MemoryStore) {
	t.Helper()
	store := billingtest.NewMemoryStore()
	store.AddUser(testUser)
	return app.NewService(app.Options{Store: store, Gateway: g, Logger: discardLogger}), store
}

func signedWebhookRequest(t *testing.T, secret string, event map[string]any) *http.Request {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	return req
}

func stripeEvent(id, typ string, object map[string]any) map[string]any {
	return map[string]any{
		"id":          id,
		"object":      "event",
		"type":        typ,
		"api_version": "2025-01-27.acacia",
		"data":        map[string]any{"object": object},
	}
}

func checkoutObject(sessionID, userID string, amount int64) map[string]any {
	return map[string]any{
		"id":                  sessionID,
		"object":              "checkout.session",
		"status":              "complete",
		"payment_status":      "paid",
		"client_reference_id": userID,
		"customer":            "cus_" + userID,
		"subscription":        "sub_" + sessionID,
		"amount_total":        amount,
		"currency":            "eur",
	}
}

func bearer(t *testing.T, userID, role string) string {
	t.Helper()
	token, err := auth.NewVerifier(testJWTSecret).Sign(userID, role, time.Minute)
	require.NoError(t, err)
	return "Bearer " + token
}

